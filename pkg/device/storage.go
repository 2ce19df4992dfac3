package device

import (
	"bytes"
	"context"
	"encoding/binary"

	"github.com/turag-feldbus/go-host/pkg/ferr"
)

// storageRequestOverhead is the frame overhead around a static-storage
// write payload: address(1) + CRC(1) + opcode family+sub-op(2) +
// offset(4).
const storageRequestOverhead = 8

// StorageInfo describes a slave's static-storage geometry (spec §3).
type StorageInfo struct {
	Capacity uint32
	PageSize uint16
}

// StaticStorageInfo fetches and caches the slave's storage capacity and
// page size.
func (c *Core) StaticStorageInfo(ctx context.Context) (StorageInfo, error) {
	c.mu.RLock()
	cached := c.storageInfo
	c.mu.RUnlock()
	if cached != nil {
		return *cached, nil
	}

	resp, err := c.tr.Transceive(ctx, c.addr, []byte{InfoFamily, opStorageCapacity}, 1+6+1)
	if err != nil {
		return StorageInfo{}, err
	}
	info := StorageInfo{
		Capacity: binary.LittleEndian.Uint32(resp.Payload[0:4]),
		PageSize: binary.LittleEndian.Uint16(resp.Payload[4:6]),
	}

	c.mu.Lock()
	c.storageInfo = &info
	c.mu.Unlock()
	return info, nil
}

// ReadStaticStorage issues one raw read at offset for length bytes,
// returning the device's status byte and the data it returned.
func (c *Core) ReadStaticStorage(ctx context.Context, offset uint32, length uint16) (storageStatus, []byte, error) {
	req := make([]byte, 2+4+2)
	req[0], req[1] = InfoFamily, opStorageRead
	binary.LittleEndian.PutUint32(req[2:6], offset)
	binary.LittleEndian.PutUint16(req[6:8], length)

	resp, err := c.tr.Transceive(ctx, c.addr, req, 1+(1+int(length))+1)
	if err != nil {
		return 0, nil, err
	}
	status := storageStatus(resp.Payload[0])
	return status, resp.Payload[1:], nil
}

// WriteStaticStorage issues one raw write at offset with payload,
// returning the device's status byte. Callers that need page-alignment
// and chunking should use WriteStringToStaticStorage or implement their
// own chunking; this is the raw opcode with no alignment checks.
func (c *Core) WriteStaticStorage(ctx context.Context, offset uint32, payload []byte) (storageStatus, error) {
	req := make([]byte, 0, 2+4+len(payload))
	req = append(req, InfoFamily, opStorageWrite)
	offBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(offBuf, offset)
	req = append(req, offBuf...)
	req = append(req, payload...)

	resp, err := c.tr.Transceive(ctx, c.addr, req, 1+1+1)
	if err != nil {
		return 0, err
	}
	return storageStatus(resp.Payload[0]), nil
}

func storageErr(s storageStatus) error {
	if s == storageAddressSize {
		return ferr.New(ferr.DeviceStaticStorageAddressSizeError)
	}
	return ferr.New(ferr.DeviceStaticStorageWriteError)
}

// ReadStringFromStaticStorage reads chunks of up to min(256,
// buffer_size-1) bytes until a NUL terminator is found or the storage
// capacity has been exhausted, then decodes the result as UTF-8
// (spec §4.6).
func (c *Core) ReadStringFromStaticStorage(ctx context.Context) (string, error) {
	storageInfo, err := c.StaticStorageInfo(ctx)
	if err != nil {
		return "", err
	}
	bufSize, err := c.bufferSize(ctx)
	if err != nil {
		return "", err
	}

	maxChunk := 256
	if int(bufSize)-1 < maxChunk {
		maxChunk = int(bufSize) - 1
	}
	if maxChunk <= 0 {
		return "", ferr.New(ferr.DeviceStaticStorageAddressSizeError)
	}
	maxReadSize := int(storageInfo.Capacity)

	var out []byte
	offset := uint32(0)
	for len(out) < maxReadSize {
		remaining := maxReadSize - len(out)
		chunkLen := maxChunk
		if chunkLen > remaining {
			chunkLen = remaining
		}
		status, data, err := c.ReadStaticStorage(ctx, offset, uint16(chunkLen))
		if err != nil {
			return "", err
		}
		if status != storageOK {
			return "", storageErr(status)
		}
		if idx := bytes.IndexByte(data, 0); idx >= 0 {
			out = append(out, data[:idx]...)
			return string(out), nil
		}
		out = append(out, data...)
		offset += uint32(chunkLen)
	}
	return string(out), nil
}

// WriteStringToStaticStorage NUL-terminates value, truncates it to
// capacity-1, and writes it in page_size-aligned, whole-page chunks
// (the final chunk padded with zero bytes out to the page boundary, the
// device erases the remainder of any short write regardless). Returns
// AddressSizeError eagerly, before issuing any write, if the device's
// buffer cannot hold one full page per frame.
func (c *Core) WriteStringToStaticStorage(ctx context.Context, value string) error {
	storageInfo, err := c.StaticStorageInfo(ctx)
	if err != nil {
		return err
	}
	bufSize, err := c.bufferSize(ctx)
	if err != nil {
		return err
	}

	pageSize := int(storageInfo.PageSize)
	if pageSize <= 0 {
		return ferr.New(ferr.DeviceStaticStorageAddressSizeError)
	}
	maxWriteChunk := int(bufSize) - storageRequestOverhead
	if maxWriteChunk < pageSize {
		return ferr.New(ferr.DeviceStaticStorageAddressSizeError)
	}
	maxPagesPerChunk := maxWriteChunk / pageSize

	maxLen := int(storageInfo.Capacity) - 1
	if maxLen < 0 {
		maxLen = 0
	}
	raw := []byte(value)
	if len(raw) > maxLen {
		raw = raw[:maxLen]
	}
	data := append(append([]byte(nil), raw...), 0)

	totalPages := (len(data) + pageSize - 1) / pageSize
	padded := make([]byte, totalPages*pageSize)
	copy(padded, data)

	offset := uint32(0)
	for start := 0; start < len(padded); {
		pagesLeft := (len(padded) - start) / pageSize
		chunkPages := maxPagesPerChunk
		if chunkPages > pagesLeft {
			chunkPages = pagesLeft
		}
		chunkLen := chunkPages * pageSize
		status, err := c.WriteStaticStorage(ctx, offset, padded[start:start+chunkLen])
		if err != nil {
			return err
		}
		if status != storageOK {
			return storageErr(status)
		}
		start += chunkLen
		offset += uint32(chunkLen)
	}
	return nil
}

// bufferSize resolves the slave's largest acceptable frame size from
// whichever cached info is available, fetching ExtendedInfo only if
// necessary.
func (c *Core) bufferSize(ctx context.Context) (uint16, error) {
	if ext, ok := c.ExtendedInfo(); ok {
		return ext.BufferSize, nil
	}
	if info, ok := c.Info(); ok && !info.ExtendedFormat && info.BufferSize > 0 {
		return info.BufferSize, nil
	}
	ext, err := c.RetrieveExtendedInfo(ctx)
	if err != nil {
		return 0, err
	}
	return ext.BufferSize, nil
}
