package profile

import (
	"context"
	"encoding/binary"

	"github.com/turag-feldbus/go-host/pkg/device"
	"github.com/turag-feldbus/go-host/pkg/ferr"
)

// IO-family opcodes, layered over the generic device-info family
// (device.InfoFamily == 0x00).
const (
	ioFamily byte = 0x02

	opReadDigitalInputs byte = 0x01
	opSetDigitalOutputs byte = 0x02
)

// IO is a digital-input/digital-output bank profile, up to 16 lines each
// direction.
type IO struct {
	core *device.Core
}

// NewIO wraps core with the io profile's opcode table.
func NewIO(core *device.Core) *IO {
	return &IO{core: core}
}

// Core returns the underlying device handle.
func (io *IO) Core() *device.Core { return io.core }

// ReadDigitalInputs returns the current input bitmask, bit i == line i.
func (io *IO) ReadDigitalInputs(ctx context.Context) (uint16, error) {
	resp, err := io.core.Transport().Transceive(ctx, io.core.Address(), []byte{ioFamily, opReadDigitalInputs}, 1+2+1)
	if err != nil {
		return 0, err
	}
	if len(resp.Payload) < 2 {
		return 0, ferr.New(ferr.Unspecified)
	}
	return binary.LittleEndian.Uint16(resp.Payload), nil
}

// SetDigitalOutputs writes mask to the output bank; the device
// acknowledges with a single status byte, 1 == applied, 0 == rejected.
func (io *IO) SetDigitalOutputs(ctx context.Context, mask uint16) error {
	req := make([]byte, 4)
	req[0], req[1] = ioFamily, opSetDigitalOutputs
	binary.LittleEndian.PutUint16(req[2:], mask)

	resp, err := io.core.Transport().Transceive(ctx, io.core.Address(), req, 1+1+1)
	if err != nil {
		return err
	}
	if len(resp.Payload) < 1 || resp.Payload[0] != 1 {
		return ferr.New(ferr.ExtensionCommandRejected)
	}
	return nil
}
