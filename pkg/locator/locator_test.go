package locator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/turag-feldbus/go-host/pkg/bus"
	"github.com/turag-feldbus/go-host/pkg/ferr"
	"github.com/turag-feldbus/go-host/pkg/frame"
	"github.com/turag-feldbus/go-host/pkg/transport"
)

// scriptedPort answers every Transceive/Transmit call by matching the
// request prefix against a table of canned responses, in the same style
// as pkg/device's test mock.
type scriptedPort struct {
	byPrefix  map[string]scriptedResponse
	lastTX    []byte
	transmits [][]byte
}

type scriptedResponse struct {
	addr    byte
	payload []byte
	ok      bool
}

func newScriptedPort() *scriptedPort {
	return &scriptedPort{byPrefix: map[string]scriptedResponse{}}
}

func (p *scriptedPort) on(reqPrefix []byte, addr byte, payload []byte) {
	p.byPrefix[string(reqPrefix)] = scriptedResponse{addr: addr, payload: payload, ok: true}
}

func (p *scriptedPort) refuse(reqPrefix []byte) {
	p.byPrefix[string(reqPrefix)] = scriptedResponse{ok: false}
}

func (p *scriptedPort) ClearInput() bool { return true }

func (p *scriptedPort) Transmit(data []byte) bool {
	p.lastTX = data
	p.transmits = append(p.transmits, data)
	return true
}

func (p *scriptedPort) Receive(int) ([]byte, bool) { return nil, false }

func (p *scriptedPort) Transceive(data []byte, expectedLen int) ([]byte, bool) {
	p.lastTX = data
	if len(data) == 0 {
		return nil, false
	}
	reqPayload := data[1:] // data is addr||payload||crc; match against the payload
	for prefix, resp := range p.byPrefix {
		if len(reqPayload) >= len(prefix) && string(reqPayload[:len(prefix)]) == prefix {
			if !resp.ok {
				return nil, false
			}
			payloadLen := expectedLen - 2
			payload := resp.payload
			if len(payload) > payloadLen {
				payload = payload[:payloadLen]
			} else if len(payload) < payloadLen {
				padded := make([]byte, payloadLen)
				copy(padded, payload)
				payload = padded
			}
			return frame.Encode(resp.addr, payload), true
		}
	}
	return nil, false
}

func (p *scriptedPort) Close() error { return nil }

func newTestLocator(port *scriptedPort) *Locator {
	b := bus.New(bus.Config{Baud: 1000000})
	tr := transport.New(port, b)
	return New(tr)
}

func TestWhoIsThere(t *testing.T) {
	port := newScriptedPort()
	port.on([]byte{0x00, subWhoIsThere}, frame.BroadcastAddress, u32le(0xDEADBEEF))
	l := newTestLocator(port)

	uuid, err := l.WhoIsThere(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 0xDEADBEEF, uuid)
}

func TestPingByUUIDSendsExpectedFrame(t *testing.T) {
	port := newScriptedPort()
	l := newTestLocator(port)

	require.NoError(t, l.PingByUUID(context.Background(), 0x01020304))
	want := append([]byte{0x00, subWhoIsThere}, u32le(0x01020304)...)
	_, payload, err := frame.Decode(port.lastTX)
	require.NoError(t, err)
	require.Equal(t, want, payload)
}

func TestReadBusAddress(t *testing.T) {
	port := newScriptedPort()
	req := append([]byte{0x00, subWhoIsThere}, append(u32le(42), tailReadAddress)...)
	port.on(req, frame.BroadcastAddress, []byte{0x07})
	l := newTestLocator(port)

	addr, err := l.ReadBusAddress(context.Background(), 42)
	require.NoError(t, err)
	require.EqualValues(t, 7, addr)
}

func TestSetBusAddressRejected(t *testing.T) {
	port := newScriptedPort()
	req := append([]byte{0x00, subWhoIsThere}, append(u32le(42), tailReadAddress, 0x09)...)
	port.on(req, frame.BroadcastAddress, []byte{0}) // ack == 0: rejected
	l := newTestLocator(port)

	err := l.SetBusAddress(context.Background(), 42, 0x09)
	kind, ok := ferr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, ferr.DeviceRejectedBusAddress, kind)
}

func TestSetBusAddressAccepted(t *testing.T) {
	port := newScriptedPort()
	req := append([]byte{0x00, subWhoIsThere}, append(u32le(42), tailReadAddress, 0x09)...)
	port.on(req, frame.BroadcastAddress, []byte{1}) // ack == 1: accepted
	l := newTestLocator(port)

	require.NoError(t, l.SetBusAddress(context.Background(), 42, 0x09))
}

func TestRequestBusAssertionRejectsOversizedMask(t *testing.T) {
	port := newScriptedPort()
	l := newTestLocator(port)

	err := l.RequestBusAssertion(context.Background(), 0, 33, false)
	kind, ok := ferr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, ferr.InvalidArgument, kind)
	require.Empty(t, port.transmits, "an invalid mask length must never touch the wire")
	require.Nil(t, port.lastTX, "an invalid mask length must never touch the wire")
}

func TestRequestBusAssertionNoMatchIsPositiveSignal(t *testing.T) {
	port := newScriptedPort() // no script entries -> Transceive returns (nil, false)
	l := newTestLocator(port)

	err := l.RequestBusAssertion(context.Background(), 0, 8, false)
	kind, ok := ferr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, ferr.NoAssertionDetected, kind)
}

func TestEncodeSearchAddressMinimumBytes(t *testing.T) {
	cases := []struct {
		prefix uint32
		n      int
	}{
		{0, 0},
		{1, 1},
		{0xFF, 1},
		{0x100, 2},
		{0xFFFF, 2},
		{0x10000, 3},
		{0xFFFFFF, 3},
		{0x1000000, 4},
		{0xFFFFFFFF, 4},
	}
	for _, c := range cases {
		got := encodeSearchAddress(c.prefix, 32)
		require.Lenf(t, got, c.n, "encodeSearchAddress(%#x)", c.prefix)
		var back uint32
		for i, b := range got {
			back |= uint32(b) << (8 * i)
		}
		require.Equalf(t, c.prefix, back, "round-trip failed for %#x", c.prefix)
	}
}

func TestEncodeSearchAddressMatchesBitLengthForMaximalPrefixes(t *testing.T) {
	// A binary searcher's prefix at level L is always < 2^L; for the
	// largest such prefix, 2^L-1, encodeSearchAddress emits exactly
	// ceil(L/8) bytes.
	for level := uint8(0); level <= 32; level++ {
		var prefix uint32
		if level > 0 {
			prefix = (uint32(1) << level) - 1 // maximum value bounded by level
		}
		want := (int(level) + 7) / 8
		got := len(encodeSearchAddress(prefix, level))
		require.Equalf(t, want, got, "level %d, prefix %#x", level, prefix)
	}
}

func TestScanBusAddressesReturnsSortedSubset(t *testing.T) {
	// addressKeyedPort answers a ping based on destination address, since
	// ping requests carry no payload to key a scriptedPort on. Addresses 5
	// and 7 respond; 6 and 8 do not.
	mock := &addressKeyedPort{responds: map[byte]bool{5: true, 7: true}}
	l := New(transport.New(mock, bus.New(bus.Config{Baud: 1000000})))

	found, err := l.ScanBusAddresses(context.Background(), 5, 8, false)
	require.NoError(t, err)
	require.Equal(t, []byte{5, 7}, found)
}

func TestScanBusAddressesStopsAtFirstMissing(t *testing.T) {
	mock := &addressKeyedPort{responds: map[byte]bool{5: true, 6: true, 8: true}}
	l := New(transport.New(mock, bus.New(bus.Config{Baud: 1000000})))

	found, err := l.ScanBusAddresses(context.Background(), 5, 10, true)
	require.NoError(t, err)
	require.Equal(t, []byte{5, 6}, found)
}

func TestScanBusAddressesRejectsInvalidRange(t *testing.T) {
	mock := &addressKeyedPort{responds: map[byte]bool{}}
	l := New(transport.New(mock, bus.New(bus.Config{Baud: 1000000})))

	_, err := l.ScanBusAddresses(context.Background(), 10, 5, false)
	kind, ok := ferr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, ferr.InvalidArgument, kind)
}

// addressKeyedPort answers a ping Transceive based on the destination
// address encoded in the request's first byte, since ping requests carry
// no payload to key a scriptedPort on.
type addressKeyedPort struct {
	responds map[byte]bool
}

func (p *addressKeyedPort) ClearInput() bool     { return true }
func (p *addressKeyedPort) Transmit([]byte) bool { return true }
func (p *addressKeyedPort) Receive(int) ([]byte, bool) { return nil, false }

func (p *addressKeyedPort) Transceive(data []byte, expectedLen int) ([]byte, bool) {
	if len(data) == 0 {
		return nil, false
	}
	addr := data[0]
	if !p.responds[addr] {
		return nil, false
	}
	return frame.Encode(addr, nil), true
}

func (p *addressKeyedPort) Close() error { return nil }
