package isp_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigbag/blisp-flasher/internal/chip"
	"github.com/bigbag/blisp-flasher/internal/isp"
	"github.com/bigbag/blisp-flasher/internal/isp/isptest"
	"github.com/bigbag/blisp-flasher/internal/protocol"
)

func newSession(t *testing.T, family chip.Family, c *isptest.Chip, opts ...isp.Option) *isp.Session {
	t.Helper()
	p, err := chip.ProfileFor(family)
	require.NoError(t, err)
	opts = append([]isp.Option{isp.WithSleep(func(time.Duration) {})}, opts...)
	return isp.NewSession(c, p, opts...)
}

func TestReceiveResponse(t *testing.T) {
	tests := []struct {
		name          string
		wire          []byte
		expectPayload bool
		payload       []byte
		kind          protocol.Kind
		code          uint16
	}{
		{"ok", []byte("OK"), false, nil, protocol.KindUnknown, 0},
		{"ok expecting payload", []byte("OK"), true, nil, protocol.KindLinkRead, 0},
		{"ok with payload", protocol.OKResponse([]byte{1, 2, 3}), true, []byte{1, 2, 3}, protocol.KindUnknown, 0},
		{"ok with payload ignored", protocol.OKResponse([]byte{1, 2, 3}), false, nil, protocol.KindUnknown, 0},
		{"ok with empty payload", protocol.OKResponse([]byte{}), true, []byte{}, protocol.KindUnknown, 0},
		{"ok short payload", []byte{'O', 'K', 0x04, 0x00, 0x01}, true, nil, protocol.KindLinkRead, 0},
		{"pending", []byte("PD"), false, nil, protocol.KindPending, 0},
		{"pending expecting payload", []byte("PD"), true, nil, protocol.KindPending, 0},
		{"fail", protocol.FailResponse(0x0204), false, nil, protocol.KindChipRejected, 0x0204},
		{"fail expecting payload", protocol.FailResponse(0x0005), true, nil, protocol.KindChipRejected, 0x0005},
		{"garbage", []byte("XY"), false, nil, protocol.KindNoResponse, 0},
		{"garbage expecting payload", []byte("XY"), true, nil, protocol.KindNoResponse, 0},
		{"silence", nil, false, nil, protocol.KindNoResponse, 0},
		{"single byte", []byte("O"), true, nil, protocol.KindNoResponse, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := isptest.New()
			c.Feed(tc.wire)
			s := newSession(t, chip.BL70X, c)

			payload, err := s.ReceiveResponse(tc.expectPayload)

			if tc.kind == protocol.KindUnknown {
				require.NoError(t, err)
				assert.Equal(t, len(tc.payload), len(payload))
				assert.True(t, bytes.Equal(tc.payload, payload))
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.kind, protocol.KindOf(err), err.Error())
			if tc.kind == protocol.KindChipRejected {
				code, ok := protocol.CodeOf(err)
				assert.True(t, ok)
				assert.Equal(t, tc.code, code)
				assert.Equal(t, tc.code, s.ErrorCode())
			}
		})
	}
}

func TestSendCommand_Frame(t *testing.T) {
	c := isptest.New()
	s := newSession(t, chip.BL70X, c)

	require.NoError(t, s.SendCommand(protocol.CmdLoadBootHeader, []byte{0xAA, 0xBB}, false))
	require.NoError(t, s.SendCommand(protocol.CmdFlashWrite, []byte{0x01, 0x02}, true))

	require.Len(t, c.Writes, 2)
	assert.Equal(t, []byte{0x11, 0x00, 0x02, 0x00, 0xAA, 0xBB}, c.Writes[0])
	assert.Equal(t, []byte{0x31, 0x05, 0x02, 0x00, 0x01, 0x02}, c.Writes[1])
}

func TestSendCommand_LinkWrite(t *testing.T) {
	c := isptest.New()
	c.WriteErr = errors.New("unplugged")
	s := newSession(t, chip.BL70X, c)

	err := s.SendCommand(protocol.CmdReset, nil, true)
	assert.ErrorIs(t, err, protocol.ErrLinkWrite)
}

func TestSendCommand_TooLarge(t *testing.T) {
	s := newSession(t, chip.BL70X, isptest.New())
	err := s.SendCommand(protocol.CmdLoadSegmentData, make([]byte, protocol.BufferSize), false)
	assert.ErrorIs(t, err, protocol.ErrLinkWrite)
}

func TestGetBootInfo(t *testing.T) {
	tests := []struct {
		family chip.Family
		chipID []byte
	}{
		{chip.BL70X, []byte{0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17}},
		{chip.BL808, []byte{0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17}},
		{chip.BL60X, []byte{0xA0, 0xA1, 0xA2, 0xA3, 0x10, 0x11}},
	}

	for _, tc := range tests {
		t.Run(tc.family.String(), func(t *testing.T) {
			c := isptest.New()
			s := newSession(t, tc.family, c)

			info, err := s.GetBootInfo()
			require.NoError(t, err)
			assert.Equal(t, [4]byte{0x01, 0x00, 0x00, 0x00}, info.RomVersion)
			assert.Equal(t, tc.chipID, info.ChipID)
			assert.False(t, info.InLoader())
			assert.Equal(t, "1.0.0.0", info.RomVersionString())
			assert.Equal(t, []byte{protocol.CmdGetBootInfo}, c.Opcodes())
		})
	}
}

func TestGetBootInfo_InLoader(t *testing.T) {
	c := isptest.New()
	info := append([]byte(nil), isptest.DefaultBootInfo...)
	copy(info, []byte{0xFF, 0xFF, 0xFF, 0xFF})
	c.BootInfo = info
	s := newSession(t, chip.BL70X, c)

	got, err := s.GetBootInfo()
	require.NoError(t, err)
	assert.True(t, got.InLoader())
	assert.Equal(t, "1011121314151617", got.ChipIDString())
}

func TestGetBootInfo_Truncated(t *testing.T) {
	c := isptest.New()
	c.BootInfo = make([]byte, 10)
	s := newSession(t, chip.BL70X, c)

	_, err := s.GetBootInfo()
	assert.ErrorIs(t, err, protocol.ErrTruncated)
}

func TestFlashErase_PollsWhilePending(t *testing.T) {
	c := isptest.New()
	c.Script(protocol.CmdFlashErase, []byte("PDPDPDOK"))
	s := newSession(t, chip.BL70X, c)

	reads := c.Reads
	require.NoError(t, s.FlashErase(0x2000, 0x2FFF))

	assert.Len(t, c.CommandsFor(protocol.CmdFlashErase), 1)
	assert.Equal(t, 4, c.Reads-reads)
	assert.Equal(t, protocol.FlashEraseData(0x2000, 0x2FFF), c.Commands[0].Data)
	assert.Empty(t, c.Pending())
}

func TestFlashErase_PendingLimit(t *testing.T) {
	c := isptest.New()
	c.Script(protocol.CmdFlashErase, []byte("PDPDPDOK"))
	s := newSession(t, chip.BL70X, c, isp.WithPendingLimit(2))

	err := s.FlashErase(0, 0xFFF)
	assert.ErrorIs(t, err, protocol.ErrPending)
	assert.Len(t, c.CommandsFor(protocol.CmdFlashErase), 1)
}

func TestFlashErase_PendingLimitBoundary(t *testing.T) {
	tests := []struct {
		name    string
		wire    string
		limit   int
		wantErr bool
	}{
		{"below limit", "PDPDOK", 3, false},
		{"nth pending fails", "PDPDPDOK", 3, true},
		{"unbounded", "PDPDPDPDPDOK", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := isptest.New()
			c.Script(protocol.CmdFlashErase, []byte(tt.wire))
			s := newSession(t, chip.BL70X, c, isp.WithPendingLimit(tt.limit))

			err := s.FlashErase(0, 0xFFF)
			if tt.wantErr {
				assert.ErrorIs(t, err, protocol.ErrPending)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFlashErase_Rejected(t *testing.T) {
	c := isptest.New()
	c.Script(protocol.CmdFlashErase, append([]byte("PD"), protocol.FailResponse(protocol.ErrFlashErase)...))
	s := newSession(t, chip.BL70X, c)

	err := s.FlashErase(0, 0xFFF)
	code, ok := protocol.CodeOf(err)
	require.True(t, ok, "error %v", err)
	assert.Equal(t, uint16(protocol.ErrFlashErase), code)
}

func TestChipErase_PollsWhilePending(t *testing.T) {
	c := isptest.New()
	c.Script(protocol.CmdChipErase, []byte("PDOK"))
	s := newSession(t, chip.BL70X, c)

	require.NoError(t, s.ChipErase())
	assert.Equal(t, []byte{protocol.CmdChipErase}, c.Opcodes())
}

func TestCommands_Checksum(t *testing.T) {
	c := isptest.New()
	s := newSession(t, chip.BL70X, c)

	require.NoError(t, s.FlashWrite(0x2000, []byte{0xDE, 0xAD, 0xBE, 0xEF}))
	require.NoError(t, s.ProgramCheck())
	require.NoError(t, s.Reset())
	require.NoError(t, s.CheckImage())

	frame := c.Writes[0]
	assert.Equal(t, protocol.Checksum(frame[4:]), frame[1])
	assert.Equal(t, []byte{protocol.CmdFlashWrite, protocol.CmdProgramCheck, protocol.CmdReset, protocol.CmdCheckImage}, c.Opcodes())
}

func TestLoadBootHeader_Size(t *testing.T) {
	c := isptest.New()
	s := newSession(t, chip.BL70X, c)

	err := s.LoadBootHeader(make([]byte, 100))
	assert.ErrorIs(t, err, protocol.ErrTruncated)
	assert.Empty(t, c.Writes)

	h := protocol.NewRAMBootHeader(0x22010000)
	b := h.Encode()
	require.NoError(t, s.LoadBootHeader(b[:]))
	assert.Equal(t, b[:], c.Commands[0].Data)
}

func TestLoadSegmentHeader_ConsumesEcho(t *testing.T) {
	c := isptest.New()
	s := newSession(t, chip.BL70X, c)

	require.NoError(t, s.LoadSegmentHeader(protocol.NewSegmentHeader(0x22010000, 5000)))
	assert.Empty(t, c.Pending())
}

func TestRunImage_Errata(t *testing.T) {
	c := isptest.New()
	s := newSession(t, chip.BL70X, c)

	require.NoError(t, s.RunImage())

	writes := c.CommandsFor(protocol.CmdWriteMemory)
	require.Len(t, writes, 3)
	assert.Equal(t, protocol.WriteMemoryData(0x4000F100, 0x4E424845), writes[0].Data)
	assert.Equal(t, protocol.WriteMemoryData(0x4000F104, 0x22010000), writes[1].Data)
	assert.Equal(t, protocol.WriteMemoryData(0x40000018, 0x00000002), writes[2].Data)
	assert.Equal(t, []byte("OK"), c.Pending(), "third acknowledgement is left unread")
}

func TestRunImage_Native(t *testing.T) {
	for _, f := range []chip.Family{chip.BL60X, chip.BL808, chip.BL606P, chip.BL61X} {
		t.Run(f.String(), func(t *testing.T) {
			c := isptest.New()
			s := newSession(t, f, c)

			require.NoError(t, s.RunImage())
			assert.Equal(t, []byte{protocol.CmdRunImage}, c.Opcodes())
		})
	}
}

func TestRunImage_Unsupported(t *testing.T) {
	p, err := chip.ProfileFor(chip.BL61X)
	require.NoError(t, err)
	p.RunImage = chip.RunUnsupported

	c := isptest.New()
	s := isp.NewSession(c, p)

	assert.ErrorIs(t, s.RunImage(), protocol.ErrUnimplemented)
	assert.Empty(t, c.Writes)
}

func TestLoadClockAndFlashParams(t *testing.T) {
	c := isptest.New()
	s := newSession(t, chip.BL808, c)
	bu := s.Profile().BringUp

	require.NoError(t, s.LoadClockParams(bu.IRQEnable, 2000000, bu.ClockParams))
	require.NoError(t, s.LoadFlashParams(bu.FlashPins, bu.FlashConfig))

	require.Len(t, c.Commands, 2)
	assert.Len(t, c.Commands[0].Data, 8+28)
	assert.Len(t, c.Commands[1].Data, 4+protocol.FlashConfigSize)
}

func TestClose(t *testing.T) {
	c := isptest.New()
	s := newSession(t, chip.BL70X, c)

	require.NoError(t, s.Close())
	assert.True(t, c.Closed)
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Reset(), protocol.ErrLinkWrite)
}
