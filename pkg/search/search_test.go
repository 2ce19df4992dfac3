package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/turag-feldbus/go-host/pkg/bus"
	"github.com/turag-feldbus/go-host/pkg/frame"
	"github.com/turag-feldbus/go-host/pkg/locator"
	"github.com/turag-feldbus/go-host/pkg/transport"
)

// simulatedBusPort answers a bus-assertion broadcast (the only request
// the binary searcher ever issues) by checking whether any UUID in a
// fixed set matches the requested (prefix, mask_len) selector, the same
// way real slaves would independently decide whether to assert the bus.
type simulatedBusPort struct {
	uuids []uint32

	lastSubOp byte
}

func (p *simulatedBusPort) ClearInput() bool     { return true }
func (p *simulatedBusPort) Transmit([]byte) bool { return true }
func (p *simulatedBusPort) Receive(int) ([]byte, bool) { return nil, false }
func (p *simulatedBusPort) Close() error         { return nil }

func (p *simulatedBusPort) Transceive(data []byte, expectedLen int) ([]byte, bool) {
	// data is addr||payload||crc; payload[0] is always the 0x00 locator
	// family byte, so the real sub_op is data[2] and the mask length
	// follows at data[3]. tail strips all of that plus the trailing crc.
	if len(data) < 4 {
		return nil, false
	}
	p.lastSubOp = data[2]
	maskLen := data[3]
	tail := data[4 : len(data)-1]
	var prefix uint64
	for i, b := range tail {
		prefix |= uint64(b) << (8 * i)
	}
	mask := uint64(1)<<uint(maskLen) - 1
	if maskLen == 0 {
		mask = 0
	}

	for _, uuid := range p.uuids {
		if uint64(uuid)&mask == prefix&mask {
			return frame.Encode(frame.BroadcastAddress, nil), true
		}
	}
	return nil, false
}

func newSearcher(uuids []uint32) *Searcher {
	return newSearcherMode(uuids, false)
}

func newSearcherMode(uuids []uint32, onlyUnaddressed bool) *Searcher {
	port := &simulatedBusPort{uuids: uuids}
	tr := transport.New(port, bus.New(bus.Config{Baud: 1000000}))
	loc := locator.New(tr)
	return New(loc, 0, onlyUnaddressed)
}

func TestFindAllDevicesEmptyBus(t *testing.T) {
	s := newSearcher(nil)
	found, err := s.FindAllDevices(context.Background())
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestFindAllDevicesSingleDevice(t *testing.T) {
	s := newSearcher([]uint32{0x12345678})
	found, err := s.FindAllDevices(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []uint32{0x12345678}, found)
}

func TestFindAllDevicesTwoDevicesDifferInHighBit(t *testing.T) {
	// Scenario D.
	s := newSearcher([]uint32{0x00000001, 0x80000000})
	found, err := s.FindAllDevices(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []uint32{0x00000001, 0x80000000}, found)
}

func TestFindAllDevicesManyDevices(t *testing.T) {
	uuids := []uint32{1, 2, 3, 4, 0xFFFFFFFF, 0x7FFFFFFF, 0x80000001, 100, 101, 12345678}
	s := newSearcher(uuids)
	found, err := s.FindAllDevices(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, uuids, found)
}

func TestFindAllDevicesRestrictedToUnaddressedUsesSubOp5(t *testing.T) {
	port := &simulatedBusPort{uuids: []uint32{0x12345678}}
	tr := transport.New(port, bus.New(bus.Config{Baud: 1000000}))
	loc := locator.New(tr)

	s := New(loc, 0, true)
	found, err := s.FindAllDevices(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []uint32{0x12345678}, found)
	require.Equal(t, byte(0x05), port.lastSubOp, "expected the restricted-to-unaddressed bus-assertion sub_op")
}

func TestFindAllDevicesUnrestrictedUsesSubOp4(t *testing.T) {
	port := &simulatedBusPort{uuids: []uint32{0x12345678}}
	tr := transport.New(port, bus.New(bus.Config{Baud: 1000000}))
	loc := locator.New(tr)

	s := New(loc, 0, false)
	found, err := s.FindAllDevices(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []uint32{0x12345678}, found)
	require.Equal(t, byte(0x04), port.lastSubOp, "expected the unrestricted bus-assertion sub_op")
}

func TestFindNextDeviceInterleaving(t *testing.T) {
	uuids := []uint32{10, 20, 30}
	s := newSearcher(uuids)

	var got []uint32
	for {
		uuid, ok, err := s.FindNextDevice(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, uuid)
	}
	require.ElementsMatch(t, uuids, got)
}
