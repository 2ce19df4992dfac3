package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/turag-feldbus/go-host/pkg/bus"
	"github.com/turag-feldbus/go-host/pkg/ferr"
	"github.com/turag-feldbus/go-host/pkg/frame"
)

// mockPort is a scripted serialport.Port: each call to Transceive
// consumes the next scripted response.
type mockPort struct {
	responses [][]byte // nil entry == no answer, len<expected == missing data
	oks       []bool
	calls     int
	lastTX    []byte
}

func (m *mockPort) ClearInput() bool { return true }

func (m *mockPort) Transmit(data []byte) bool {
	m.lastTX = data
	return true
}

func (m *mockPort) Transceive(data []byte, expectedLen int) ([]byte, bool) {
	m.lastTX = data
	idx := m.calls
	m.calls++
	if idx >= len(m.responses) {
		return nil, false
	}
	resp := m.responses[idx]
	ok := m.oks[idx]
	return resp, ok
}

func (m *mockPort) Receive(expectedLen int) ([]byte, bool) {
	idx := m.calls
	m.calls++
	if idx >= len(m.responses) {
		return nil, false
	}
	return m.responses[idx], m.oks[idx]
}

func (m *mockPort) Close() error { return nil }

func fastBus() *bus.Bus {
	return bus.New(bus.Config{Baud: 1000000})
}

func TestTransceiveSuccess(t *testing.T) {
	f := frame.Encode(0x05, nil)
	port := &mockPort{responses: [][]byte{f}, oks: []bool{true}}
	e := New(port, fastBus())

	resp, err := e.Transceive(context.Background(), 0x05, nil, len(f))
	require.NoError(t, err)
	require.Empty(t, resp.Payload)
	require.EqualValues(t, 1, e.Stats().Successes)
}

func TestTransceiveRetryThenSucceed(t *testing.T) {
	good := frame.Encode(0x05, []byte{0x01})
	bad := append([]byte(nil), good...)
	bad[len(bad)-1] ^= 0xFF // corrupt CRC

	port := &mockPort{
		responses: [][]byte{bad, bad, good},
		oks:       []bool{true, true, true},
	}
	e := New(port, fastBus())

	resp, err := e.Transceive(context.Background(), 0x05, nil, len(good))
	require.NoError(t, err)
	require.Equal(t, []byte{0x01}, resp.Payload)

	stats := e.Stats()
	require.EqualValues(t, 1, stats.Successes)
	require.EqualValues(t, 2, stats.ChecksumErrors)
}

func TestTransceiveExhaustsRetries(t *testing.T) {
	port := &mockPort{
		responses: [][]byte{nil, nil, nil},
		oks:       []bool{false, false, false},
	}
	e := New(port, fastBus())

	_, err := e.Transceive(context.Background(), 0x05, nil, 3)
	require.Error(t, err)
	kind, ok := ferr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, ferr.TransportReceptionNoAnswerError, kind)
	require.EqualValues(t, 3, e.Stats().NoAnswer)
}

func TestBroadcastReceiveSingleAttemptNoAnswerIsPositive(t *testing.T) {
	port := &mockPort{responses: [][]byte{nil}, oks: []bool{false}}
	e := New(port, fastBus())

	_, err := e.Transceive(context.Background(), frame.BroadcastAddress, nil, 4)
	kind, ok := ferr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, ferr.NoAssertionDetected, kind)
	require.Equalf(t, 1, port.calls, "broadcast-receive must use exactly one attempt")
}

func TestMissingDataClassification(t *testing.T) {
	port := &mockPort{
		responses: [][]byte{{0x05}, {0x05}, {0x05}},
		oks:       []bool{false, false, false},
	}
	e := New(port, fastBus())
	_, err := e.Transceive(context.Background(), 0x05, nil, 3)
	kind, _ := ferr.KindOf(err)
	require.Equal(t, ferr.TransportReceptionMissingDataError, kind)
	require.EqualValues(t, 3, e.Stats().MissingData)
}

func TestTransmitOnlyModeReturnsExpectedLenPayload(t *testing.T) {
	port := &mockPort{}
	e := New(port, fastBus())
	e.SetMode(TransmitOnly)

	resp, err := e.Transceive(context.Background(), 0x05, []byte{0xAA}, 4)
	require.NoError(t, err)
	require.Lenf(t, resp.Payload, 4, "TransmitOnly should return expectedLen bytes as the payload")
}

func TestCancellationPropagatesFromBus(t *testing.T) {
	b := bus.New(bus.Config{Baud: 1}) // extremely slow baud => long gap
	port := &mockPort{responses: [][]byte{frame.Encode(0x05, nil)}, oks: []bool{true}}
	e := New(port, b)

	// Prime lastAddr so the next different-address call must wait.
	_, err := e.Transceive(context.Background(), 0x05, nil, 2)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	_, err = e.Transceive(ctx, 0x06, nil, 2)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
