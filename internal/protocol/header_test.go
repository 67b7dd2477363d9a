package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestCRC32_CheckValue(t *testing.T) {
	if got := CRC32([]byte("123456789")); got != 0xCBF43926 {
		t.Errorf("CRC32(\"123456789\") = 0x%08X, want 0xCBF43926", got)
	}
	if got := CRC32(nil); got != 0 {
		t.Errorf("CRC32(nil) = 0x%08X, want 0", got)
	}
}

func TestNewRAMBootHeader_Layout(t *testing.T) {
	h := NewRAMBootHeader(0x22010000)
	b := h.Encode()

	if len(b) != BootHeaderSize {
		t.Fatalf("Encode length = %d, want %d", len(b), BootHeaderSize)
	}

	tests := []struct {
		name   string
		offset int
		want   []byte
	}{
		{"magic", 0, []byte("BFNP")},
		{"revision", 4, []byte{0x01, 0x00, 0x00, 0x00}},
		{"flash magic", 8, []byte("FCFG")},
		{"io mode", 12, []byte{0x11}},
		{"clock magic", 100, []byte("PCFG")},
		{"clock cfg", 104, []byte{0x01, 0x04, 0x00, 0x01, 0x03, 0x00, 0x00, 0x00}},
		{"segment count", 120, []byte{0x01, 0x00, 0x00, 0x00}},
		{"entry", 124, []byte{0x00, 0x00, 0x00, 0x00}},
		{"flash offset", 128, []byte{0x00, 0x00, 0x01, 0x22}},
		{"hash", 132, bytes.Repeat([]byte{0xEF}, 32)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := b[tc.offset : tc.offset+len(tc.want)]
			if !bytes.Equal(got, tc.want) {
				t.Errorf("bytes at %d = % X, want % X", tc.offset, got, tc.want)
			}
		})
	}

	if w := binary.LittleEndian.Uint32(b[116:120]); w != 0x00033200 {
		t.Errorf("boot config word = 0x%08X, want 0x00033200", w)
	}
}

func TestBootHeader_SealAndVerify(t *testing.T) {
	h := NewRAMBootHeader(0x22010000)
	b := h.Encode()

	if err := h.Verify(); err != nil {
		t.Fatalf("Verify after Seal: %v", err)
	}

	if crc := binary.LittleEndian.Uint32(b[96:100]); crc != CRC32(b[12:96]) {
		t.Errorf("flash config CRC = 0x%08X, want 0x%08X", crc, CRC32(b[12:96]))
	}
	if crc := binary.LittleEndian.Uint32(b[112:116]); crc != CRC32(b[104:112]) {
		t.Errorf("clock config CRC = 0x%08X, want 0x%08X", crc, CRC32(b[104:112]))
	}
	if crc := binary.LittleEndian.Uint32(b[172:176]); crc != CRC32(b[:172]) {
		t.Errorf("header CRC = 0x%08X, want 0x%08X", crc, CRC32(b[:172]))
	}

	h.FlashOffset++
	if err := h.Verify(); err == nil {
		t.Error("Verify should fail after modifying a sealed header")
	}
	h.Seal()
	if err := h.Verify(); err != nil {
		t.Errorf("Verify after reseal: %v", err)
	}
}

func TestBootHeader_RoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		config BootConfig
	}{
		{"zero", BootConfig{}},
		{"ram default", NewRAMBootHeader(0).Config},
		{"all set", BootConfig{
			Sign: 3, EncryptType: 3, KeySel: 3, Reserved6: 3,
			NoSegment: true, CacheEnable: true, NotLoadInBootROM: true, AESRegionLock: true,
			CacheWayDisable: 0xF, CRCIgnore: true, HashIgnore: true, HaltAP: true,
			Reserved19: 0x1FFF,
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewRAMBootHeader(0x22010000)
			h.Config = tc.config
			if tc.config.NoSegment {
				h.SegmentCount = 0
				h.ImageLength = 0x12345
			}
			h.Reserved1 = 0xA5A5A5A5
			h.Seal()

			data, err := h.MarshalBinary()
			if err != nil {
				t.Fatalf("MarshalBinary: %v", err)
			}
			got, err := DecodeBootHeader(data)
			if err != nil {
				t.Fatalf("DecodeBootHeader: %v", err)
			}
			if got != h {
				t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, h)
			}
		})
	}
}

func TestBootConfig_Word(t *testing.T) {
	all := BootConfig{
		Sign: 3, EncryptType: 3, KeySel: 3, Reserved6: 3,
		NoSegment: true, CacheEnable: true, NotLoadInBootROM: true, AESRegionLock: true,
		CacheWayDisable: 0xF, CRCIgnore: true, HashIgnore: true, HaltAP: true,
		Reserved19: 0x1FFF,
	}
	if w := all.Word(); w != 0xFFFFFFFF {
		t.Errorf("all-set Word = 0x%08X, want 0xFFFFFFFF", w)
	}
	if w := (BootConfig{}).Word(); w != 0 {
		t.Errorf("zero Word = 0x%08X, want 0", w)
	}
	if w := (BootConfig{NoSegment: true}).Word(); w != 0x100 {
		t.Errorf("no_segment Word = 0x%08X, want 0x100", w)
	}
	if w := (BootConfig{Sign: 0xFF}).Word(); w != 0x3 {
		t.Errorf("oversized sign Word = 0x%08X, want 0x3", w)
	}
	if c := ParseBootConfig(0xFFFFFFFF); c != all {
		t.Errorf("ParseBootConfig(all) = %+v, want %+v", c, all)
	}
}

func TestBootHeader_SegmentInfoUnion(t *testing.T) {
	h := NewRAMBootHeader(0)
	h.Config.NoSegment = true
	h.ImageLength = 0x1000
	h.SegmentCount = 7

	b := h.Encode()
	if v := binary.LittleEndian.Uint32(b[120:124]); v != 0x1000 {
		t.Errorf("segment info = 0x%X, want image length 0x1000", v)
	}

	got, err := DecodeBootHeader(b[:])
	if err != nil {
		t.Fatalf("DecodeBootHeader: %v", err)
	}
	if got.ImageLength != 0x1000 || got.SegmentCount != 0 {
		t.Errorf("decoded (len=%d, count=%d), want (4096, 0)", got.ImageLength, got.SegmentCount)
	}
}

func TestDecodeBootHeader_Truncated(t *testing.T) {
	h := NewRAMBootHeader(0)
	b := h.Encode()
	_, err := DecodeBootHeader(b[:BootHeaderSize-1])
	if !errors.Is(err, ErrTruncated) {
		t.Errorf("DecodeBootHeader error = %v, want ErrTruncated", err)
	}
}

func TestSegmentHeader(t *testing.T) {
	h := NewSegmentHeader(0x22010000, 5000)
	b := h.Encode()

	want := []byte{0x00, 0x00, 0x01, 0x22, 0x88, 0x13, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	if !bytes.Equal(b[:12], want) {
		t.Errorf("segment header = % X, want % X", b[:12], want)
	}
	if crc := binary.LittleEndian.Uint32(b[12:16]); crc != CRC32(want) {
		t.Errorf("segment CRC = 0x%08X, want 0x%08X", crc, CRC32(want))
	}

	got, err := DecodeSegmentHeader(b[:])
	if err != nil {
		t.Fatalf("DecodeSegmentHeader: %v", err)
	}
	if got != h {
		t.Errorf("DecodeSegmentHeader = %+v, want %+v", got, h)
	}

	if _, err := DecodeSegmentHeader(b[:15]); !errors.Is(err, ErrTruncated) {
		t.Errorf("short DecodeSegmentHeader error = %v, want ErrTruncated", err)
	}
}

func TestFlashConfig_Decode(t *testing.T) {
	cfg := FlashConfig{Magic: FlashConfigMagic, SPI: DefaultSPIFlashConfig()}
	cfg.Seal()
	enc := cfg.Encode()

	got, err := DecodeFlashConfig(enc[:])
	if err != nil {
		t.Fatalf("DecodeFlashConfig: %v", err)
	}
	if got != cfg {
		t.Error("DecodeFlashConfig round trip mismatch")
	}

	spi := enc[4:88]
	if spi[14] != 0x00 || spi[15] != 0x01 {
		t.Errorf("page size bytes = % X, want 00 01", spi[14:16])
	}
	if tce := binary.LittleEndian.Uint16(spi[80:82]); tce != 33000 {
		t.Errorf("timeCe = %d, want 33000", tce)
	}
}
