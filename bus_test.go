package thermobus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"
)

func TestBitRate(t *testing.T) {
	tests := []struct {
		clock, speed physic.Frequency
		expected     byte
	}{
		{16 * physic.MegaHertz, 100 * physic.KiloHertz, 72},
		{16 * physic.MegaHertz, 400 * physic.KiloHertz, 12},
		{8 * physic.MegaHertz, 500 * physic.KiloHertz, 0},
	}
	for _, test := range tests {
		t.Run(test.speed.String(), func(t *testing.T) {
			br, err := BitRate(test.clock, test.speed)
			require.NoError(t, err)
			assert.Equal(t, test.expected, br)
		})
	}
}

func TestBitRate_OutOfRange(t *testing.T) {
	_, err := BitRate(16*physic.MegaHertz, 2*physic.MegaHertz)
	assert.ErrorIs(t, err, ErrBitRate)
	_, err = BitRate(16*physic.MegaHertz, 10*physic.KiloHertz)
	assert.ErrorIs(t, err, ErrBitRate)
	_, err = BitRate(0, 100*physic.KiloHertz)
	assert.ErrorIs(t, err, ErrBitRate)
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "SLA+W nack", StatusMTSLANack.String())
	assert.Equal(t, "data received nack", StatusMRDataNack.String())
	assert.Equal(t, "status 0x68", Status(0x68).String())
}
