package serialport

import (
	"io"
	"time"

	"go.bug.st/serial"
)

// UARTPort is the physical back-end: a real RS-485/RS-232 UART opened
// through go.bug.st/serial, 8N1 framing, no flow control — the same
// config shape the teacher sets up for its own serial connection.
type UARTPort struct {
	port    serial.Port
	timeout time.Duration
}

// OpenUART opens cfg.PortName at cfg.Baud and sets a per-operation read
// timeout of cfg.TimeoutMillis.
func OpenUART(cfg Config) (*UARTPort, error) {
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(cfg.PortName, mode)
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.TimeoutMillis) * time.Millisecond
	if err := p.SetReadTimeout(timeout); err != nil {
		p.Close()
		return nil, err
	}
	return &UARTPort{port: p, timeout: timeout}, nil
}

func (u *UARTPort) ClearInput() bool {
	return u.port.ResetInputBuffer() == nil
}

func (u *UARTPort) Transmit(data []byte) bool {
	n, err := u.port.Write(data)
	return err == nil && n == len(data)
}

func (u *UARTPort) Transceive(data []byte, expectedLen int) ([]byte, bool) {
	if !u.Transmit(data) {
		return nil, false
	}
	return u.readExactly(expectedLen)
}

func (u *UARTPort) Receive(expectedLen int) ([]byte, bool) {
	return u.readExactly(expectedLen)
}

// readExactly reads up to expectedLen bytes, returning whatever arrived
// before the port's read timeout elapses. go.bug.st/serial returns
// (0, nil) on a read timeout rather than an error, so a short read is
// detected by byte count, not by err.
func (u *UARTPort) readExactly(expectedLen int) ([]byte, bool) {
	if expectedLen == 0 {
		return nil, true
	}
	buf := make([]byte, expectedLen)
	read := 0
	deadline := time.Now().Add(u.timeout)
	for read < expectedLen {
		n, err := u.port.Read(buf[read:])
		read += n
		if err != nil && err != io.EOF {
			return buf[:read], false
		}
		if n == 0 {
			if time.Now().After(deadline) {
				break
			}
			if err == io.EOF {
				break
			}
		}
	}
	return buf[:read], read == expectedLen
}

func (u *UARTPort) Close() error {
	return u.port.Close()
}
