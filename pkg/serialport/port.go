// Package serialport defines the external serial back-end contract (spec
// §4.3) and a concrete implementation over go.bug.st/serial, the
// library the teacher's own go.mod already declares as a direct
// dependency.
package serialport

import "time"

// Port is the collaborator contract every bus back-end must satisfy. It
// is treated as single-threaded; the bus arbiter (pkg/bus) is
// responsible for serializing calls.
type Port interface {
	// ClearInput discards any buffered input bytes.
	ClearInput() bool
	// Transmit writes bytes, blocking until written or timed out.
	Transmit(data []byte) bool
	// Transceive writes data then reads exactly expectedLen bytes within
	// the port's configured timeout. A short read returns the partial
	// data read so far and ok == false.
	Transceive(data []byte, expectedLen int) (resp []byte, ok bool)
	// Receive reads expectedLen bytes without writing first.
	Receive(expectedLen int) (resp []byte, ok bool)
	// Close releases the underlying device.
	Close() error
}

// Config is the programmatic configuration surface for opening a port
// (spec §6).
type Config struct {
	PortName          string
	Baud              int
	TimeoutMillis     int
	DeviceProcessing  time.Duration // not read by OpenUART; bus timing uses bus.Config.DeviceProcessingTime
}
