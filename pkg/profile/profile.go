// Package profile implements the extension profile surface (spec §4.9
// Design Notes): per-device-family opcode tables layered over the
// generic device-info protocol (pkg/device), by composition rather than
// inheritance. Two illustrative leaf profiles, motor and io, prove the
// extension point is real; neither aims to cover a specific device
// family exhaustively.
//
// Grounded on spec.md's own Design Notes ("treat as interface extensions
// over the Device base ... prefer composition with a DeviceCore handle")
// and the teacher's pkg/ble/types.go constants-as-opcode-table style.
package profile

import "github.com/turag-feldbus/go-host/pkg/device"

// Extension is implemented by every leaf profile: it owns its own
// opcode table but answers through the same Core handle's transport.
type Extension interface {
	Core() *device.Core
}
