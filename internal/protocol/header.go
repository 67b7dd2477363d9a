package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// On-wire layout sizes. The ROM parses these positionally.
const (
	BootHeaderSize     = 176
	SegmentHeaderSize  = 16
	FlashConfigSize    = 92
	ClockConfigSize    = 16
	SPIFlashConfigSize = 84
	SysClockConfigSize = 8

	// bootHeaderCRCOffset is where the trailing header CRC starts.
	bootHeaderCRCOffset = BootHeaderSize - 4
)

var (
	BootHeaderMagic  = [4]byte{'B', 'F', 'N', 'P'}
	FlashConfigMagic = [4]byte{'F', 'C', 'F', 'G'}
	ClockConfigMagic = [4]byte{'P', 'C', 'F', 'G'}
)

// CRC32 is the reflected 0xEDB88320 CRC with 0xFFFFFFFF init and final XOR.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// SPIFlashConfig is the serial flash description the ROM uses to drive
// the external flash.
type SPIFlashConfig struct {
	IOMode               uint8
	CReadSupport         uint8
	ClkDelay             uint8
	ClkInvert            uint8
	ResetEnCmd           uint8
	ResetCmd             uint8
	ResetCReadCmd        uint8
	ResetCReadCmdSize    uint8
	JEDECIDCmd           uint8
	JEDECIDCmdDmyClk     uint8
	QPIJEDECIDCmd        uint8
	QPIJEDECIDCmdDmyClk  uint8
	SectorSize           uint8 // in KiB
	MID                  uint8
	PageSize             uint16
	ChipEraseCmd         uint8
	SectorEraseCmd       uint8
	Blk32EraseCmd        uint8
	Blk64EraseCmd        uint8
	WriteEnableCmd       uint8
	PageProgramCmd       uint8
	QPageProgramCmd      uint8
	QPPAddrMode          uint8
	FastReadCmd          uint8
	FRDmyClk             uint8
	QPIFastReadCmd       uint8
	QPIFRDmyClk          uint8
	FastReadDoCmd        uint8
	FRDoDmyClk           uint8
	FastReadDioCmd       uint8
	FRDioDmyClk          uint8
	FastReadQoCmd        uint8
	FRQoDmyClk           uint8
	FastReadQioCmd       uint8
	FRQioDmyClk          uint8
	QPIFastReadQioCmd    uint8
	QPIFRQioDmyClk       uint8
	QPIPageProgramCmd    uint8
	WriteVregEnableCmd   uint8
	WREnableIndex        uint8
	QEIndex              uint8
	BusyIndex            uint8
	WREnableBit          uint8
	QEBit                uint8
	BusyBit              uint8
	WREnableWriteRegLen  uint8
	WREnableReadRegLen   uint8
	QEWriteRegLen        uint8
	QEReadRegLen         uint8
	ReleasePowerDown     uint8
	BusyReadRegLen       uint8
	ReadRegCmd           [4]uint8
	WriteRegCmd          [4]uint8
	EnterQPI             uint8
	ExitQPI              uint8
	CReadMode            uint8
	CRExit               uint8
	BurstWrapCmd         uint8
	BurstWrapCmdDmyClk   uint8
	BurstWrapDataMode    uint8
	BurstWrapData        uint8
	DeBurstWrapCmd       uint8
	DeBurstWrapCmdDmyClk uint8
	DeBurstWrapDataMode  uint8
	DeBurstWrapData      uint8
	TimeESector          uint16
	TimeE32K             uint16
	TimeE64K             uint16
	TimePagePgm          uint16
	TimeCE               uint16 // ms
	PDDelay              uint8
	QEData               uint8
}

// FlashConfig is the 'FCFG' block embedded in a boot header and sent with
// LOAD_FLASH_PARAMS. CRC32 covers SPI only.
type FlashConfig struct {
	Magic [4]byte
	SPI   SPIFlashConfig
	CRC32 uint32
}

// SysClockConfig selects crystal, PLL and bus dividers.
type SysClockConfig struct {
	XtalType     uint8
	PLLClk       uint8
	HCLKDiv      uint8
	BCLKDiv      uint8
	FlashClkType uint8
	FlashClkDiv  uint8
	Reserved     [2]uint8
}

// ClockConfig is the 'PCFG' block embedded in a boot header. CRC32 covers
// Clock only.
type ClockConfig struct {
	Magic [4]byte
	Clock SysClockConfig
	CRC32 uint32
}

// bootHeaderWire is the exact on-wire boot header.
type bootHeaderWire struct {
	Magic       [4]byte
	Revision    uint32
	Flash       FlashConfig
	Clock       ClockConfig
	BootConfig  uint32
	SegmentInfo uint32
	BootEntry   uint32
	FlashOffset uint32
	Hash        [32]byte
	Reserved1   uint32
	Reserved2   uint32
	CRC32       uint32
}

// SegmentHeader precedes each segment of a RAM image. CRC32 covers the
// first three words.
type SegmentHeader struct {
	DestAddr uint32
	Length   uint32
	Reserved uint32
	CRC32    uint32
}

func init() {
	sizes := []struct {
		name string
		v    any
		want int
	}{
		{"SPIFlashConfig", SPIFlashConfig{}, SPIFlashConfigSize},
		{"FlashConfig", FlashConfig{}, FlashConfigSize},
		{"SysClockConfig", SysClockConfig{}, SysClockConfigSize},
		{"ClockConfig", ClockConfig{}, ClockConfigSize},
		{"BootHeader", bootHeaderWire{}, BootHeaderSize},
		{"SegmentHeader", SegmentHeader{}, SegmentHeaderSize},
	}
	for _, s := range sizes {
		if got := binary.Size(s.v); got != s.want {
			panic(fmt.Sprintf("protocol: %s has wrong size %d, want %d", s.name, got, s.want))
		}
	}
}

func pack(v any, size int) []byte {
	var buf bytes.Buffer
	buf.Grow(size)
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func unpack(op string, data []byte, v any, size int) error {
	if len(data) < size {
		return NewError(KindTruncated, op, fmt.Errorf("need %d bytes, have %d", size, len(data)))
	}
	return binary.Read(bytes.NewReader(data[:size]), binary.LittleEndian, v)
}

// Encode returns the packed 84-byte representation.
func (c SPIFlashConfig) Encode() [SPIFlashConfigSize]byte {
	var out [SPIFlashConfigSize]byte
	copy(out[:], pack(&c, SPIFlashConfigSize))
	return out
}

// ComputeCRC returns the CRC the ROM expects for this block.
func (c FlashConfig) ComputeCRC() uint32 {
	spi := c.SPI.Encode()
	return CRC32(spi[:])
}

// Seal sets CRC32 from the current contents.
func (c *FlashConfig) Seal() {
	c.CRC32 = c.ComputeCRC()
}

// Encode returns the packed 92-byte representation.
func (c FlashConfig) Encode() [FlashConfigSize]byte {
	var out [FlashConfigSize]byte
	copy(out[:], pack(&c, FlashConfigSize))
	return out
}

// DecodeFlashConfig parses a 'FCFG' block.
func DecodeFlashConfig(data []byte) (FlashConfig, error) {
	var c FlashConfig
	err := unpack("decode flash config", data, &c, FlashConfigSize)
	return c, err
}

// Encode returns the packed 8-byte representation.
func (c SysClockConfig) Encode() [SysClockConfigSize]byte {
	var out [SysClockConfigSize]byte
	copy(out[:], pack(&c, SysClockConfigSize))
	return out
}

// ComputeCRC returns the CRC the ROM expects for this block.
func (c ClockConfig) ComputeCRC() uint32 {
	clk := c.Clock.Encode()
	return CRC32(clk[:])
}

// Seal sets CRC32 from the current contents.
func (c *ClockConfig) Seal() {
	c.CRC32 = c.ComputeCRC()
}

// Encode returns the packed 16-byte representation.
func (c ClockConfig) Encode() [ClockConfigSize]byte {
	var out [ClockConfigSize]byte
	copy(out[:], pack(&c, ClockConfigSize))
	return out
}

// DecodeClockConfig parses a 'PCFG' block.
func DecodeClockConfig(data []byte) (ClockConfig, error) {
	var c ClockConfig
	err := unpack("decode clock config", data, &c, ClockConfigSize)
	return c, err
}

// BootConfig is the bit-field word of the boot header, LSB first:
//
//	[1:0] sign  [3:2] encrypt type  [5:4] key sel  [7:6] reserved
//	[8] no segment  [9] cache enable  [10] not load in bootrom
//	[11] aes region lock  [15:12] cache way disable  [16] crc ignore
//	[17] hash ignore  [18] halt ap  [31:19] reserved
type BootConfig struct {
	Sign             uint8
	EncryptType      uint8
	KeySel           uint8
	Reserved6        uint8
	NoSegment        bool
	CacheEnable      bool
	NotLoadInBootROM bool
	AESRegionLock    bool
	CacheWayDisable  uint8
	CRCIgnore        bool
	HashIgnore       bool
	HaltAP           bool
	Reserved19       uint16
}

func bit(b bool, pos uint) uint32 {
	if b {
		return 1 << pos
	}
	return 0
}

// Word packs the flags. Values wider than their field are truncated.
func (c BootConfig) Word() uint32 {
	var w uint32
	w |= uint32(c.Sign&0x3) << 0
	w |= uint32(c.EncryptType&0x3) << 2
	w |= uint32(c.KeySel&0x3) << 4
	w |= uint32(c.Reserved6&0x3) << 6
	w |= bit(c.NoSegment, 8)
	w |= bit(c.CacheEnable, 9)
	w |= bit(c.NotLoadInBootROM, 10)
	w |= bit(c.AESRegionLock, 11)
	w |= uint32(c.CacheWayDisable&0xF) << 12
	w |= bit(c.CRCIgnore, 16)
	w |= bit(c.HashIgnore, 17)
	w |= bit(c.HaltAP, 18)
	w |= uint32(c.Reserved19&0x1FFF) << 19
	return w
}

// ParseBootConfig unpacks the bit-field word.
func ParseBootConfig(w uint32) BootConfig {
	return BootConfig{
		Sign:             uint8(w & 0x3),
		EncryptType:      uint8(w >> 2 & 0x3),
		KeySel:           uint8(w >> 4 & 0x3),
		Reserved6:        uint8(w >> 6 & 0x3),
		NoSegment:        w&(1<<8) != 0,
		CacheEnable:      w&(1<<9) != 0,
		NotLoadInBootROM: w&(1<<10) != 0,
		AESRegionLock:    w&(1<<11) != 0,
		CacheWayDisable:  uint8(w >> 12 & 0xF),
		CRCIgnore:        w&(1<<16) != 0,
		HashIgnore:       w&(1<<17) != 0,
		HaltAP:           w&(1<<18) != 0,
		Reserved19:       uint16(w >> 19 & 0x1FFF),
	}
}

// BootHeader is the 176-byte image header. The segment-info word is
// SegmentCount unless Config.NoSegment is set, in which case it is
// ImageLength; only the active one is encoded and decoded.
type BootHeader struct {
	Magic        [4]byte
	Revision     uint32
	Flash        FlashConfig
	Clock        ClockConfig
	Config       BootConfig
	SegmentCount uint32
	ImageLength  uint32
	BootEntry    uint32
	FlashOffset  uint32
	Hash         [32]byte
	Reserved1    uint32
	Reserved2    uint32
	CRC32        uint32
}

func (h *BootHeader) wire() bootHeaderWire {
	segInfo := h.SegmentCount
	if h.Config.NoSegment {
		segInfo = h.ImageLength
	}
	return bootHeaderWire{
		Magic:       h.Magic,
		Revision:    h.Revision,
		Flash:       h.Flash,
		Clock:       h.Clock,
		BootConfig:  h.Config.Word(),
		SegmentInfo: segInfo,
		BootEntry:   h.BootEntry,
		FlashOffset: h.FlashOffset,
		Hash:        h.Hash,
		Reserved1:   h.Reserved1,
		Reserved2:   h.Reserved2,
		CRC32:       h.CRC32,
	}
}

// Encode returns the 176-byte on-wire header as it stands; call Seal
// first to refresh the CRCs.
func (h *BootHeader) Encode() [BootHeaderSize]byte {
	w := h.wire()
	var out [BootHeaderSize]byte
	copy(out[:], pack(&w, BootHeaderSize))
	return out
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (h *BootHeader) MarshalBinary() ([]byte, error) {
	b := h.Encode()
	return b[:], nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (h *BootHeader) UnmarshalBinary(data []byte) error {
	var w bootHeaderWire
	if err := unpack("decode boot header", data, &w, BootHeaderSize); err != nil {
		return err
	}

	*h = BootHeader{
		Magic:       w.Magic,
		Revision:    w.Revision,
		Flash:       w.Flash,
		Clock:       w.Clock,
		Config:      ParseBootConfig(w.BootConfig),
		BootEntry:   w.BootEntry,
		FlashOffset: w.FlashOffset,
		Hash:        w.Hash,
		Reserved1:   w.Reserved1,
		Reserved2:   w.Reserved2,
		CRC32:       w.CRC32,
	}
	if h.Config.NoSegment {
		h.ImageLength = w.SegmentInfo
	} else {
		h.SegmentCount = w.SegmentInfo
	}
	return nil
}

// DecodeBootHeader parses the first 176 bytes of data.
func DecodeBootHeader(data []byte) (BootHeader, error) {
	var h BootHeader
	err := h.UnmarshalBinary(data)
	return h, err
}

// Seal recomputes the flash-config, clock-config and header CRCs.
func (h *BootHeader) Seal() {
	h.Flash.Seal()
	h.Clock.Seal()
	enc := h.Encode()
	h.CRC32 = CRC32(enc[:bootHeaderCRCOffset])
}

// Verify checks the magic codes and all three CRCs.
func (h *BootHeader) Verify() error {
	if h.Magic != BootHeaderMagic {
		return fmt.Errorf("bad boot header magic %q", h.Magic[:])
	}
	if h.Flash.Magic != FlashConfigMagic {
		return fmt.Errorf("bad flash config magic %q", h.Flash.Magic[:])
	}
	if h.Clock.Magic != ClockConfigMagic {
		return fmt.Errorf("bad clock config magic %q", h.Clock.Magic[:])
	}
	if crc := h.Flash.ComputeCRC(); crc != h.Flash.CRC32 {
		return fmt.Errorf("flash config CRC mismatch: stored 0x%08X, computed 0x%08X", h.Flash.CRC32, crc)
	}
	if crc := h.Clock.ComputeCRC(); crc != h.Clock.CRC32 {
		return fmt.Errorf("clock config CRC mismatch: stored 0x%08X, computed 0x%08X", h.Clock.CRC32, crc)
	}
	enc := h.Encode()
	if crc := CRC32(enc[:bootHeaderCRCOffset]); crc != h.CRC32 {
		return fmt.Errorf("boot header CRC mismatch: stored 0x%08X, computed 0x%08X", h.CRC32, crc)
	}
	return nil
}

// NewSegmentHeader creates a segment header with its CRC filled in.
func NewSegmentHeader(destAddr, length uint32) SegmentHeader {
	h := SegmentHeader{DestAddr: destAddr, Length: length}
	h.CRC32 = h.ComputeCRC()
	return h
}

// ComputeCRC returns the CRC over dest, length and reserved.
func (h SegmentHeader) ComputeCRC() uint32 {
	enc := h.Encode()
	return CRC32(enc[:12])
}

// Encode returns the 16-byte on-wire header.
func (h SegmentHeader) Encode() [SegmentHeaderSize]byte {
	var out [SegmentHeaderSize]byte
	binary.LittleEndian.PutUint32(out[0:4], h.DestAddr)
	binary.LittleEndian.PutUint32(out[4:8], h.Length)
	binary.LittleEndian.PutUint32(out[8:12], h.Reserved)
	binary.LittleEndian.PutUint32(out[12:16], h.CRC32)
	return out
}

// DecodeSegmentHeader parses the first 16 bytes of data.
func DecodeSegmentHeader(data []byte) (SegmentHeader, error) {
	if len(data) < SegmentHeaderSize {
		return SegmentHeader{}, NewError(KindTruncated, "decode segment header",
			fmt.Errorf("need %d bytes, have %d", SegmentHeaderSize, len(data)))
	}
	return SegmentHeader{
		DestAddr: binary.LittleEndian.Uint32(data[0:4]),
		Length:   binary.LittleEndian.Uint32(data[4:8]),
		Reserved: binary.LittleEndian.Uint32(data[8:12]),
		CRC32:    binary.LittleEndian.Uint32(data[12:16]),
	}, nil
}
