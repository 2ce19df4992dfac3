package profile

import (
	"context"
	"encoding/binary"

	"github.com/turag-feldbus/go-host/pkg/device"
	"github.com/turag-feldbus/go-host/pkg/ferr"
)

// Motor-family opcodes, layered over the generic device-info family
// (device.InfoFamily == 0x00).
const (
	motorFamily byte = 0x01

	opSetVelocity byte = 0x01
	opGetVelocity byte = 0x02
	opStop        byte = 0x03
)

// Motor is a closed-loop velocity-controlled actuator profile.
type Motor struct {
	core *device.Core
}

// NewMotor wraps core with the motor profile's opcode table.
func NewMotor(core *device.Core) *Motor {
	return &Motor{core: core}
}

// Core returns the underlying device handle.
func (m *Motor) Core() *device.Core { return m.core }

// SetVelocity commands a target velocity in RPM; fire-and-forget, no
// acknowledgement expected.
func (m *Motor) SetVelocity(ctx context.Context, rpm int16) error {
	req := make([]byte, 4)
	req[0], req[1] = motorFamily, opSetVelocity
	binary.LittleEndian.PutUint16(req[2:], uint16(rpm))
	return m.core.Transport().Transmit(ctx, m.core.Address(), req)
}

// GetVelocity reads the motor's currently measured velocity in RPM.
func (m *Motor) GetVelocity(ctx context.Context) (int16, error) {
	resp, err := m.core.Transport().Transceive(ctx, m.core.Address(), []byte{motorFamily, opGetVelocity}, 1+2+1)
	if err != nil {
		return 0, err
	}
	if len(resp.Payload) < 2 {
		return 0, ferr.New(ferr.Unspecified)
	}
	return int16(binary.LittleEndian.Uint16(resp.Payload)), nil
}

// Stop commands an immediate halt.
func (m *Motor) Stop(ctx context.Context) error {
	return m.core.Transport().Transmit(ctx, m.core.Address(), []byte{motorFamily, opStop})
}
