package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigbag/blisp-flasher/internal/chip"
	"github.com/bigbag/blisp-flasher/internal/isp"
	"github.com/bigbag/blisp-flasher/internal/isp/isptest"
	"github.com/bigbag/blisp-flasher/internal/protocol"
)

func fakeOpener(c *isptest.Chip, usb bool) Opener {
	return func(string, int, bool) (isp.Transport, bool, error) {
		return c, usb, nil
	}
}

func TestDetectOnPort(t *testing.T) {
	p, err := chip.ProfileFor(chip.BL70X)
	require.NoError(t, err)
	c := isptest.New()

	d := New(p, 460800)
	d.Open = fakeOpener(c, true)

	res, err := d.DetectOnPort("/dev/ttyACM0")
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM0", res.Port)
	assert.Equal(t, chip.BL70X, res.Chip)
	assert.Equal(t, "1.0.0.0", res.RomVersion)
	assert.Equal(t, "1011121314151617", res.ChipID)
	assert.False(t, res.InLoader)
	assert.True(t, c.Closed)
	assert.Equal(t, 1, c.ResetTokens)
}

func TestDetectOnPort_NoAnswer(t *testing.T) {
	p, _ := chip.ProfileFor(chip.BL60X)
	c := isptest.New()
	c.HandshakeOKOn = -1

	d := New(p, 115200)
	d.Open = fakeOpener(c, false)

	_, err := d.DetectOnPort("/dev/ttyUSB0")
	assert.ErrorIs(t, err, protocol.ErrNoResponse)
	assert.True(t, c.Closed)
}
