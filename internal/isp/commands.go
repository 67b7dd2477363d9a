package isp

import (
	"errors"
	"fmt"

	"github.com/bigbag/blisp-flasher/internal/chip"
	"github.com/bigbag/blisp-flasher/internal/protocol"
)

// BL70X boot registers used to start a RAM image when the ROM has no
// usable run-image command.
const (
	bl70xBootMagicReg = 0x4000F100
	bl70xBootAddrReg  = 0x4000F104
	bl70xSoftResetReg = 0x40000018
	bl70xBootMagic    = 0x4E424845
	bl70xSoftReset    = 0x00000002
)

// BootInfo is the decoded get-boot-info response.
type BootInfo struct {
	RomVersion [4]byte
	ChipID     []byte
	Raw        []byte
}

// InLoader reports whether the device already runs the eflash_loader,
// which reports an all-0xFF ROM version.
func (b BootInfo) InLoader() bool {
	return b.RomVersion == [4]byte{0xFF, 0xFF, 0xFF, 0xFF}
}

// RomVersionString formats the ROM version as a.b.c.d.
func (b BootInfo) RomVersionString() string {
	return fmt.Sprintf("%d.%d.%d.%d", b.RomVersion[0], b.RomVersion[1], b.RomVersion[2], b.RomVersion[3])
}

// ChipIDString formats the chip identifier as upper-case hex.
func (b BootInfo) ChipIDString() string {
	return fmt.Sprintf("%X", b.ChipID)
}

// ParseBootInfo extracts the ROM version and the family-specific chip ID.
func ParseBootInfo(p chip.Profile, data []byte) (BootInfo, error) {
	end := p.ChipIDOffset + p.ChipIDLen
	if len(data) < 4 || len(data) < end {
		return BootInfo{}, protocol.NewError(protocol.KindTruncated, "get boot info",
			fmt.Errorf("need %d bytes, have %d", max(4, end), len(data)))
	}
	var info BootInfo
	copy(info.RomVersion[:], data[0:4])
	info.ChipID = append([]byte(nil), data[p.ChipIDOffset:end]...)
	info.Raw = append([]byte(nil), data...)
	return info, nil
}

// GetBootInfo queries ROM version and chip identifier.
func (s *Session) GetBootInfo() (BootInfo, error) {
	data, err := s.exchange(protocol.CmdGetBootInfo, nil, false, true)
	if err != nil {
		return BootInfo{}, err
	}
	return ParseBootInfo(s.profile, data)
}

// LoadBootHeader sends a 176-byte boot header.
func (s *Session) LoadBootHeader(header []byte) error {
	if len(header) != protocol.BootHeaderSize {
		return protocol.NewError(protocol.KindTruncated, "load boot header",
			fmt.Errorf("boot header is %d bytes, want %d", len(header), protocol.BootHeaderSize))
	}
	_, err := s.exchange(protocol.CmdLoadBootHeader, header, false, false)
	return err
}

// LoadSegmentHeader announces the next RAM segment. The chip echoes the
// header back; the echo is not checked.
func (s *Session) LoadSegmentHeader(h protocol.SegmentHeader) error {
	b := h.Encode()
	_, err := s.exchange(protocol.CmdLoadSegmentHeader, b[:], false, true)
	return err
}

// LoadSegmentData sends one chunk of the current segment.
func (s *Session) LoadSegmentData(data []byte) error {
	_, err := s.exchange(protocol.CmdLoadSegmentData, data, false, false)
	return err
}

// CheckImage asks the ROM to validate the loaded RAM image.
func (s *Session) CheckImage() error {
	_, err := s.exchange(protocol.CmdCheckImage, nil, false, false)
	return err
}

// WriteMemory stores value at address. Without wait the acknowledgement is
// not read, for writes that reset the chip before it can answer.
func (s *Session) WriteMemory(address, value uint32, wait bool) error {
	data := protocol.WriteMemoryData(address, value)
	if !wait {
		return s.SendCommand(protocol.CmdWriteMemory, data, true)
	}
	_, err := s.exchange(protocol.CmdWriteMemory, data, true, false)
	return err
}

// RunImage starts the loaded RAM image.
func (s *Session) RunImage() error {
	switch s.profile.RunImage {
	case chip.RunNative:
		_, err := s.exchange(protocol.CmdRunImage, nil, false, false)
		return err
	case chip.RunRegisterErrata:
		if err := s.WriteMemory(bl70xBootMagicReg, bl70xBootMagic, true); err != nil {
			return err
		}
		if err := s.WriteMemory(bl70xBootAddrReg, s.profile.TCMAddress, true); err != nil {
			return err
		}
		return s.WriteMemory(bl70xSoftResetReg, bl70xSoftReset, false)
	default:
		return protocol.NewError(protocol.KindUnimplemented, "run image",
			fmt.Errorf("%s cannot run RAM images", s.profile.Family))
	}
}

// FlashErase erases [start, end]; end is inclusive. The chip answers "PD"
// until the erase completes.
func (s *Session) FlashErase(start, end uint32) error {
	return s.pollCommand(protocol.CmdFlashErase, protocol.FlashEraseData(start, end))
}

// ChipErase erases the whole flash.
func (s *Session) ChipErase() error {
	return s.pollCommand(protocol.CmdChipErase, nil)
}

func (s *Session) pollCommand(cmd byte, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.send(cmd, payload, true); err != nil {
		return err
	}

	op := protocol.CommandName(cmd)
	for pending := 0; ; pending++ {
		_, err := s.receive(op, false)
		if err == nil {
			return nil
		}
		if !errors.Is(err, protocol.ErrPending) {
			return err
		}
		if s.pendingLimit > 0 && pending+1 >= s.pendingLimit {
			return protocol.NewError(protocol.KindPending, op,
				fmt.Errorf("still pending after %d polls", pending+1))
		}
	}
}

// FlashWrite programs data at address.
func (s *Session) FlashWrite(address uint32, data []byte) error {
	_, err := s.exchange(protocol.CmdFlashWrite, protocol.FlashWriteData(address, data), true, false)
	return err
}

// ProgramCheck asks the loader to confirm the last programming run.
func (s *Session) ProgramCheck() error {
	_, err := s.exchange(protocol.CmdProgramCheck, nil, true, false)
	return err
}

// Reset reboots the chip.
func (s *Session) Reset() error {
	_, err := s.exchange(protocol.CmdReset, nil, true, false)
	return err
}

// LoadClockParams configures the system clock and link speed.
func (s *Session) LoadClockParams(irqEnable bool, baudRate uint32, clockCfg []byte) error {
	_, err := s.exchange(protocol.CmdLoadClockParams, protocol.ClockParamsData(irqEnable, baudRate, clockCfg), true, false)
	return err
}

// LoadFlashParams configures the flash pins and SPI flash description.
func (s *Session) LoadFlashParams(pins [4]byte, cfg protocol.FlashConfig) error {
	_, err := s.exchange(protocol.CmdLoadFlashParams, protocol.FlashParamsData(pins, cfg), true, false)
	return err
}
