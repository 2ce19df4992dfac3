// Package frame implements the Feldbus wire framing layer: an address
// byte, a payload, and a trailing CRC-8. See pkg/crc for the checksum.
package frame

import (
	"errors"

	"github.com/turag-feldbus/go-host/pkg/crc"
)

// BroadcastAddress is reserved for broadcasts; it is never assigned to a
// slave in steady state.
const BroadcastAddress = 0x00

// MinAddress and MaxAddress bound the valid unicast scan range.
const (
	MinAddress = 1
	MaxAddress = 127
)

// ErrMalformed is returned by Decode when the frame is shorter than the
// minimum address+CRC length.
var ErrMalformed = errors.New("frame: malformed, length < 2")

// ErrChecksum is returned by Decode when the trailing CRC byte disagrees
// with the recomputed checksum.
var ErrChecksum = errors.New("frame: checksum mismatch")

// Encode builds addr || payload || crc8(addr||payload).
func Encode(addr byte, payload []byte) []byte {
	out := make([]byte, 0, 1+len(payload)+1)
	out = append(out, addr)
	out = append(out, payload...)
	out = append(out, crc.Compute(out))
	return out
}

// Decode validates and strips a received frame, returning the address
// byte and payload.
func Decode(f []byte) (addr byte, payload []byte, err error) {
	if len(f) < 2 {
		return 0, nil, ErrMalformed
	}
	body, trailer := f[:len(f)-1], f[len(f)-1]
	if !crc.Verify(body, trailer) {
		return 0, nil, ErrChecksum
	}
	return body[0], body[1:], nil
}

// IsValidUnicastAddress reports whether addr lies in [MinAddress, MaxAddress].
func IsValidUnicastAddress(addr byte) bool {
	return addr >= MinAddress && addr <= MaxAddress
}
