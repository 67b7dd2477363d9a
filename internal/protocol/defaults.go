package protocol

// Flash layout defaults
const (
	BootHeaderAddress = 0x0000
	FirmwareAddress   = 0x2000
)

// Default baud rate
const DefaultBaudRate = 460800

// DefaultSPIFlashConfig returns the generic flash description the ROM
// accepts when booting a RAM image.
func DefaultSPIFlashConfig() SPIFlashConfig {
	return SPIFlashConfig{
		IOMode:               0x11,
		CReadSupport:         0x00,
		ClkDelay:             0x01,
		ClkInvert:            0x01,
		ResetEnCmd:           0x66,
		ResetCmd:             0x99,
		ResetCReadCmd:        0xFF,
		ResetCReadCmdSize:    0x03,
		JEDECIDCmd:           0x9F,
		JEDECIDCmdDmyClk:     0x00,
		QPIJEDECIDCmd:        0x9F,
		QPIJEDECIDCmdDmyClk:  0x00,
		SectorSize:           0x04,
		MID:                  0xC2,
		PageSize:             0x100,
		ChipEraseCmd:         0xC7,
		SectorEraseCmd:       0x20,
		Blk32EraseCmd:        0x52,
		Blk64EraseCmd:        0xD8,
		WriteEnableCmd:       0x06,
		PageProgramCmd:       0x02,
		QPageProgramCmd:      0x32,
		QPPAddrMode:          0x00,
		FastReadCmd:          0x0B,
		FRDmyClk:             0x01,
		QPIFastReadCmd:       0x0B,
		QPIFRDmyClk:          0x01,
		FastReadDoCmd:        0x3B,
		FRDoDmyClk:           0x01,
		FastReadDioCmd:       0xBB,
		FRDioDmyClk:          0x00,
		FastReadQoCmd:        0x6B,
		FRQoDmyClk:           0x01,
		FastReadQioCmd:       0xEB,
		FRQioDmyClk:          0x02,
		QPIFastReadQioCmd:    0xEB,
		QPIFRQioDmyClk:       0x02,
		QPIPageProgramCmd:    0x02,
		WriteVregEnableCmd:   0x50,
		WREnableIndex:        0x00,
		QEIndex:              0x01,
		BusyIndex:            0x00,
		WREnableBit:          0x01,
		QEBit:                0x01,
		BusyBit:              0x00,
		WREnableWriteRegLen:  0x02,
		WREnableReadRegLen:   0x01,
		QEWriteRegLen:        0x01,
		QEReadRegLen:         0x01,
		ReleasePowerDown:     0xAB,
		BusyReadRegLen:       0x01,
		ReadRegCmd:           [4]uint8{0x05, 0x00, 0x00, 0x00},
		WriteRegCmd:          [4]uint8{0x01, 0x00, 0x00, 0x00},
		EnterQPI:             0x38,
		ExitQPI:              0xFF,
		CReadMode:            0xA0,
		CRExit:               0xFF,
		BurstWrapCmd:         0x77,
		BurstWrapCmdDmyClk:   0x03,
		BurstWrapDataMode:    0x02,
		BurstWrapData:        0x40,
		DeBurstWrapCmd:       0x77,
		DeBurstWrapCmdDmyClk: 0x03,
		DeBurstWrapDataMode:  0x02,
		DeBurstWrapData:      0xF0,
		TimeESector:          300,
		TimeE32K:             1200,
		TimeE64K:             1200,
		TimePagePgm:          5,
		TimeCE:               33000,
		PDDelay:              3,
		QEData:               0,
	}
}

// DefaultSysClockConfig returns the clock settings used for RAM images.
func DefaultSysClockConfig() SysClockConfig {
	return SysClockConfig{
		XtalType:     0x01,
		PLLClk:       0x04,
		HCLKDiv:      0x00,
		BCLKDiv:      0x01,
		FlashClkType: 0x03,
		FlashClkDiv:  0x00,
	}
}

// NewRAMBootHeader builds a sealed single-segment header that loads an
// image into RAM at loadAddr.
func NewRAMBootHeader(loadAddr uint32) BootHeader {
	h := BootHeader{
		Magic:    BootHeaderMagic,
		Revision: 0x01,
		Flash: FlashConfig{
			Magic: FlashConfigMagic,
			SPI:   DefaultSPIFlashConfig(),
		},
		Clock: ClockConfig{
			Magic: ClockConfigMagic,
			Clock: DefaultSysClockConfig(),
		},
		Config: BootConfig{
			CacheEnable:     true,
			CacheWayDisable: 0x03,
			CRCIgnore:       true,
			HashIgnore:      true,
		},
		SegmentCount: 1,
		BootEntry:    0,
		FlashOffset:  loadAddr,
	}
	for i := range h.Hash {
		h.Hash[i] = 0xEF
	}
	h.Seal()
	return h
}

// NewFlashBootHeader builds a sealed header for an unsegmented image of
// length bytes stored at flashOffset.
func NewFlashBootHeader(flashOffset, length uint32) BootHeader {
	h := NewRAMBootHeader(flashOffset)
	h.Config.NoSegment = true
	h.SegmentCount = 0
	h.ImageLength = length
	h.Seal()
	return h
}
