package device

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/turag-feldbus/go-host/pkg/ferr"
	"github.com/turag-feldbus/go-host/pkg/transport"
)

// Core is the per-slave handle: address, transport, and the
// Uninitialized/BasicKnown/ExtendedKnown state machine. Leaf profiles
// (pkg/profile) wrap a *Core rather than subclassing it, per spec.md's
// "composition with a DeviceCore handle" design note.
type Core struct {
	addr byte
	tr   *transport.Engine

	mu          sync.RWMutex
	kind        StateKind
	info        DeviceInfo
	ext         ExtendedInfo
	storageInfo *StorageInfo
}

// NewCore creates a device handle bound to addr on tr.
func NewCore(addr byte, tr *transport.Engine) *Core {
	return &Core{addr: addr, tr: tr, kind: Uninitialized}
}

// Address returns the slave's current bus address.
func (c *Core) Address() byte { return c.addr }

// SetAddress updates the handle's address in place, e.g. after the slave
// has accepted a new bus address via locator.SetBusAddress.
func (c *Core) SetAddress(addr byte) { c.addr = addr }

// Transport exposes the underlying engine for leaf profiles that need to
// issue their own opcodes.
func (c *Core) Transport() *transport.Engine { return c.tr }

// State reports which part of the sum type is currently populated.
func (c *Core) State() StateKind {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.kind
}

// Info returns the cached DeviceInfo and whether it has been fetched.
func (c *Core) Info() (DeviceInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info, c.kind != Uninitialized
}

// ExtendedInfo returns the cached ExtendedInfo and whether it has been
// fetched.
func (c *Core) ExtendedInfo() (ExtendedInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ext, c.kind == ExtendedKnown
}

// SendPing issues the shortest valid frame as a liveness check.
func (c *Core) SendPing(ctx context.Context) error {
	_, err := c.tr.Transceive(ctx, c.addr, nil, 2)
	return err
}

// FetchInfo retrieves and caches the basic DeviceInfo packet. Info is
// populated once and becomes read-only (spec §3): a second call returns
// the cached value without touching the wire.
func (c *Core) FetchInfo(ctx context.Context) (DeviceInfo, error) {
	if info, ok := c.Info(); ok {
		return info, nil
	}

	resp, err := c.tr.Transceive(ctx, c.addr, []byte{InfoFamily}, 1+11+1)
	if err != nil {
		return DeviceInfo{}, err
	}
	info, err := parseBasicInfo(resp.Payload)
	if err != nil {
		return DeviceInfo{}, err
	}

	if !info.ExtendedFormat {
		// Legacy devices don't carry their UUID in DeviceInfo; fetch it
		// separately, and treat a failure as UUID==0 rather than erroring
		// (spec §8 boundary case).
		if uuidResp, err := c.tr.Transceive(ctx, c.addr, []byte{InfoFamily, opUUIDLegacy}, 1+4+1); err == nil {
			info.UUID = binary.LittleEndian.Uint32(uuidResp.Payload)
		}
	}

	c.mu.Lock()
	c.info = info
	if c.kind == Uninitialized {
		c.kind = BasicKnown
	}
	c.mu.Unlock()

	return info, nil
}

func parseBasicInfo(p []byte) (DeviceInfo, error) {
	if len(p) < 11 {
		return DeviceInfo{}, ferr.New(ferr.Unspecified)
	}
	var info DeviceInfo
	info.ProtocolID = p[0]
	info.TypeID = p[1]

	flags := p[2]
	info.CRCKind = flags & 0x07
	info.StatisticsAvailable = flags&(1<<7) != 0
	info.ExtendedFormat = flags&(1<<3) != 0

	info.UptimeFrequency = binary.LittleEndian.Uint16(p[3:5])

	if info.ExtendedFormat {
		info.ExtendedInfoLength = binary.LittleEndian.Uint16(p[5:7])
		info.UUID = binary.LittleEndian.Uint32(p[7:11])
	} else {
		info.BufferSize = binary.LittleEndian.Uint16(p[5:7])
		// p[7:9] reserved
		info.NameLength = p[9]
		info.VersionLength = p[10]
	}
	return info, nil
}

// RetrieveUptime returns uptime in seconds, derived from the device's
// tick counter and uptime_frequency.
func (c *Core) RetrieveUptime(ctx context.Context) (float64, error) {
	info, ok := c.Info()
	if !ok {
		return 0, ferr.New(ferr.DeviceNotInitialized)
	}
	if info.UptimeFrequency == 0 {
		return 0, ferr.New(ferr.DeviceUptimeNotSupported)
	}

	resp, err := c.tr.Transceive(ctx, c.addr, []byte{InfoFamily, opUptime}, 1+4+1)
	if err != nil {
		return 0, err
	}
	ticks := binary.LittleEndian.Uint32(resp.Payload)
	return float64(ticks) / float64(info.UptimeFrequency), nil
}

// RetrieveStatistics fetches the slave's own packet-statistics counters.
func (c *Core) RetrieveStatistics(ctx context.Context) (PacketStatistics, error) {
	info, ok := c.Info()
	if !ok {
		return PacketStatistics{}, ferr.New(ferr.DeviceNotInitialized)
	}
	if !info.StatisticsAvailable {
		return PacketStatistics{}, ferr.New(ferr.DeviceStatisticsNotSupported)
	}

	resp, err := c.tr.Transceive(ctx, c.addr, []byte{InfoFamily, opStatistics}, 1+16+1)
	if err != nil {
		return PacketStatistics{}, err
	}
	p := resp.Payload
	return PacketStatistics{
		Correct:        binary.LittleEndian.Uint32(p[0:4]),
		BufferOverflow: binary.LittleEndian.Uint32(p[4:8]),
		Lost:           binary.LittleEndian.Uint32(p[8:12]),
		ChecksumError:  binary.LittleEndian.Uint32(p[12:16]),
	}, nil
}
