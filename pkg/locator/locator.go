// Package locator implements the broadcast-only protocol every bus
// shares (spec §4.7): UUID-addressed discovery, address assignment,
// neighbor control, sleep, bus-assertion requests, and address scans.
//
// Grounded on pkg/service/usock_handlers.go's per-opcode dispatch style
// and pkg/redis/client.go's one-clear-method-per-wire-operation shape.
package locator

import (
	"context"
	"encoding/binary"

	"github.com/turag-feldbus/go-host/pkg/ferr"
	"github.com/turag-feldbus/go-host/pkg/frame"
	"github.com/turag-feldbus/go-host/pkg/transport"
)

const (
	subWhoIsThere    byte = 0x00
	subEnableNeigh   byte = 0x01
	subDisableNeigh  byte = 0x02
	subResetAll      byte = 0x03
	subAssertAll     byte = 0x04
	subAssertUnaddr  byte = 0x05
	subSleep         byte = 0x06

	// Tail bytes following uuid within sub-op 0x00.
	tailReadAddress  byte = 0x00
	tailResetAddress byte = 0x01
)

// Locator issues every broadcast (address 0x00) operation on one bus.
type Locator struct {
	tr *transport.Engine
}

// New creates a Locator over tr.
func New(tr *transport.Engine) *Locator {
	return &Locator{tr: tr}
}

// WhoIsThere addresses the unique unaddressed device on the bus; it
// answers with its UUID. Exactly one device must be unaddressed for
// this to be meaningful.
func (l *Locator) WhoIsThere(ctx context.Context) (uuid uint32, err error) {
	resp, err := l.tr.Transceive(ctx, frame.BroadcastAddress, []byte{0x00, subWhoIsThere}, 1+4+1)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(resp.Payload), nil
}

// PingByUUID sends a ping frame addressed to uuid. It only transmits the
// frame and does not wait for an answer, so a nil error means the frame
// was written, not that the device is present.
func (l *Locator) PingByUUID(ctx context.Context, uuid uint32) error {
	req := append([]byte{0x00, subWhoIsThere}, u32le(uuid)...)
	return l.tr.Transmit(ctx, frame.BroadcastAddress, req)
}

// ReadBusAddress asks uuid for its currently assigned bus address.
func (l *Locator) ReadBusAddress(ctx context.Context, uuid uint32) (byte, error) {
	req := append([]byte{0x00, subWhoIsThere}, append(u32le(uuid), tailReadAddress)...)
	resp, err := l.tr.Transceive(ctx, frame.BroadcastAddress, req, 1+1+1)
	if err != nil {
		return 0, err
	}
	return resp.Payload[0], nil
}

// SetBusAddress assigns addr to the device identified by uuid.
func (l *Locator) SetBusAddress(ctx context.Context, uuid uint32, addr byte) error {
	req := append([]byte{0x00, subWhoIsThere}, append(u32le(uuid), tailReadAddress, addr)...)
	resp, err := l.tr.Transceive(ctx, frame.BroadcastAddress, req, 1+1+1)
	if err != nil {
		return err
	}
	if resp.Payload[0] != 1 {
		return ferr.New(ferr.DeviceRejectedBusAddress)
	}
	return nil
}

// ResetAddress resets uuid's assigned address back to none.
func (l *Locator) ResetAddress(ctx context.Context, uuid uint32) error {
	req := append([]byte{0x00, subWhoIsThere}, append(u32le(uuid), tailResetAddress)...)
	return l.tr.Transmit(ctx, frame.BroadcastAddress, req)
}

// EnableBusNeighbours enables neighbor links on every device, bringing
// the next physical device in a chain online.
func (l *Locator) EnableBusNeighbours(ctx context.Context) error {
	return l.tr.Transmit(ctx, frame.BroadcastAddress, []byte{0x00, subEnableNeigh})
}

// DisableBusNeighbours isolates each device from its physical neighbor,
// a precondition for sequential enumeration.
func (l *Locator) DisableBusNeighbours(ctx context.Context) error {
	return l.tr.Transmit(ctx, frame.BroadcastAddress, []byte{0x00, subDisableNeigh})
}

// ResetAllBusAddresses resets every device's assigned address to none.
func (l *Locator) ResetAllBusAddresses(ctx context.Context) error {
	return l.tr.Transmit(ctx, frame.BroadcastAddress, []byte{0x00, subResetAll})
}

// Sleep puts every device on the bus to sleep.
func (l *Locator) Sleep(ctx context.Context) error {
	return l.tr.Transmit(ctx, frame.BroadcastAddress, []byte{0x00, subSleep})
}

// RequestBusAssertion broadcasts a selector (prefix, maskLen) and reports
// whether at least one device matched by asserting the bus. onlyUnaddressed
// selects sub-op 0x05 (restricted to unaddressed devices) instead of 0x04.
// A positive match surfaces as err == nil; ferr.NoAssertionDetected means
// zero devices matched — a positive search signal, not a failure.
func (l *Locator) RequestBusAssertion(ctx context.Context, prefix uint32, maskLen uint8, onlyUnaddressed bool) error {
	if maskLen > 32 {
		return ferr.New(ferr.InvalidArgument)
	}
	sub := subAssertAll
	if onlyUnaddressed {
		sub = subAssertUnaddr
	}
	searchBytes := encodeSearchAddress(prefix, maskLen)
	req := make([]byte, 0, 3+len(searchBytes))
	req = append(req, 0x00, sub, maskLen)
	req = append(req, searchBytes...)

	// A single-attempt broadcast-receive: expect a 0-byte payload on
	// assertion (frame.Encode with nil payload => addr+crc only, length 2)
	// so the engine's single-attempt path treats NoAnswer as
	// NoAssertionDetected rather than an error.
	_, err := l.tr.Transceive(ctx, frame.BroadcastAddress, req, 2)
	return err
}

// encodeSearchAddress serializes prefix in little-endian bytes, using
// the minimum number of bytes that fits its *value* (spec §4.7): 0 bytes
// if zero, 1 if < 2^8, 2 if < 2^16, 3 if < 2^24, else 4. maskLen does not
// affect the length: a prefix < 2^maskLen takes at most ceil(maskLen/8)
// bytes, and exactly that many only when its highest byte is non-zero
// (prefix 0 at any maskLen takes 0 bytes).
func encodeSearchAddress(prefix uint32, maskLen uint8) []byte {
	var n int
	switch {
	case prefix == 0:
		n = 0
	case prefix < 1<<8:
		n = 1
	case prefix < 1<<16:
		n = 2
	case prefix < 1<<24:
		n = 3
	default:
		n = 4
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = byte(prefix >> (8 * i))
	}
	return out
}

func u32le(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// ScanResult is one responding address from a bus scan.
type ScanResult struct {
	Address byte
}

// ScanBusAddresses sequentially pings every address in [first, last]
// (inclusive), returning the addresses that responded. If stopOnMissing
// is true, scanning stops at the first non-responder, preserving bus
// order (spec §4.7, §8 invariant 4). first and last must lie within
// [frame.MinAddress, frame.MaxAddress].
func (l *Locator) ScanBusAddresses(ctx context.Context, first, last byte, stopOnMissing bool) ([]byte, error) {
	if !frame.IsValidUnicastAddress(first) || !frame.IsValidUnicastAddress(last) || first > last {
		return nil, ferr.New(ferr.InvalidArgument)
	}

	var found []byte
	for addr := first; ; addr++ {
		_, pingErr := l.tr.Transceive(ctx, addr, nil, 2)
		if pingErr == nil {
			found = append(found, addr)
		} else if stopOnMissing {
			break
		}
		if addr == last {
			break
		}
	}
	return found, nil
}
