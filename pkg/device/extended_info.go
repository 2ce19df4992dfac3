package device

import (
	"context"
	"encoding/binary"

	"github.com/turag-feldbus/go-host/pkg/ferr"
)

// RetrieveExtendedInfo fetches and caches ExtendedInfo, using whichever
// wire layout DeviceInfo indicated (spec §4.6). It is populated at most
// once: a second call returns the cached value.
func (c *Core) RetrieveExtendedInfo(ctx context.Context) (ExtendedInfo, error) {
	if ext, ok := c.ExtendedInfo(); ok {
		return ext, nil
	}

	info, ok := c.Info()
	if !ok {
		return ExtendedInfo{}, ferr.New(ferr.DeviceNotInitialized)
	}

	var ext ExtendedInfo
	var err error
	if info.ExtendedFormat {
		ext, err = c.retrieveExtendedInfoNew(ctx, info)
	} else {
		ext, err = c.retrieveExtendedInfoLegacy(ctx, info)
	}
	if err != nil {
		return ExtendedInfo{}, err
	}

	c.mu.Lock()
	c.ext = ext
	c.kind = ExtendedKnown
	c.mu.Unlock()

	return ext, nil
}

// retrieveExtendedInfoNew reads the single extended-info block:
// reserved:u8, name_len:u8, version_len:u8, buffer_size:u16, name[],
// version[].
func (c *Core) retrieveExtendedInfoNew(ctx context.Context, info DeviceInfo) (ExtendedInfo, error) {
	total := int(info.ExtendedInfoLength)
	resp, err := c.tr.Transceive(ctx, c.addr, []byte{InfoFamily, opExtendedInfo}, 1+total+1)
	if err != nil {
		return ExtendedInfo{}, err
	}
	p := resp.Payload
	if len(p) < 5 {
		return ExtendedInfo{}, ferr.New(ferr.Unspecified)
	}
	nameLen := int(p[1])
	versionLen := int(p[2])
	bufferSize := binary.LittleEndian.Uint16(p[3:5])

	rest := p[5:]
	if len(rest) < nameLen+versionLen {
		return ExtendedInfo{}, ferr.New(ferr.Unspecified)
	}
	name := string(rest[:nameLen])
	version := string(rest[nameLen : nameLen+versionLen])

	return ExtendedInfo{DeviceName: name, Version: version, BufferSize: bufferSize}, nil
}

// retrieveExtendedInfoLegacy issues two separate string reads, as the
// legacy wire layout carries name/version lengths in DeviceInfo rather
// than a combined block.
func (c *Core) retrieveExtendedInfoLegacy(ctx context.Context, info DeviceInfo) (ExtendedInfo, error) {
	nameResp, err := c.tr.Transceive(ctx, c.addr, []byte{InfoFamily, opNameLegacy}, 1+int(info.NameLength)+1)
	if err != nil {
		return ExtendedInfo{}, err
	}
	versionResp, err := c.tr.Transceive(ctx, c.addr, []byte{InfoFamily, opVersionLegacy}, 1+int(info.VersionLength)+1)
	if err != nil {
		return ExtendedInfo{}, err
	}
	return ExtendedInfo{
		DeviceName: string(nameResp.Payload),
		Version:    string(versionResp.Payload),
		BufferSize: info.BufferSize,
	}, nil
}
