package crc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeKnownVector(t *testing.T) {
	require.Equal(t, byte(0x3F), Compute([]byte{0x05}))
}

func TestVerifyRoundTrip(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	sum := Compute(data)
	require.True(t, Verify(data, sum), "Verify failed for freshly computed CRC")
}

func TestSingleBitFlipDetected(t *testing.T) {
	data := []byte{0x7F, 0x00, 0xAB, 0x10}
	sum := Compute(data)
	for i := range data {
		for bit := uint(0); bit < 8; bit++ {
			flipped := append([]byte(nil), data...)
			flipped[i] ^= 1 << bit
			require.Falsef(t, Verify(flipped, sum), "single bit flip at byte %d bit %d went undetected", i, bit)
		}
	}
}

func TestEmptyInput(t *testing.T) {
	require.Equal(t, byte(0x00), Compute(nil), "Compute(nil) should be the init value 0x00")
}
