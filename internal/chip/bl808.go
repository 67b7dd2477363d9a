package chip

import "github.com/bigbag/blisp-flasher/internal/protocol"

// bl808ClockParams is the vendor PCFG block for BL808-class chips.
var bl808ClockParams = []byte{
	0x50, 0x43, 0x46, 0x47, 0x07, 0x04, 0x00, 0x00, 0x03, 0x01, 0x03, 0x00,
	0x01, 0x02, 0x00, 0x02, 0x01, 0x01, 0x00, 0x01, 0x01, 0x01, 0x01, 0x01,
	0x0a, 0x89, 0x4b, 0x86,
}

var bl808FlashPins = [4]byte{0x04, 0x41, 0x01, 0x00}

func bl808SPIFlashConfig() protocol.SPIFlashConfig {
	cfg := protocol.DefaultSPIFlashConfig()
	cfg.MID = 0xEF
	cfg.ReadRegCmd = [4]uint8{0x05, 0x35, 0x00, 0x00}
	cfg.WriteRegCmd = [4]uint8{0x01, 0x31, 0x00, 0x00}
	cfg.CReadMode = 0x20
	cfg.CRExit = 0xF0
	cfg.TimePagePgm = 50
	cfg.TimeCE = 30000
	cfg.PDDelay = 20
	return cfg
}

func bl808BringUp() *BringUp {
	fc := protocol.FlashConfig{
		Magic: protocol.FlashConfigMagic,
		SPI:   bl808SPIFlashConfig(),
	}
	fc.Seal()
	return &BringUp{
		IRQEnable:   true,
		ClockParams: bl808ClockParams,
		FlashPins:   bl808FlashPins,
		FlashConfig: fc,
	}
}
