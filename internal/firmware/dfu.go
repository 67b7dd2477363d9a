package firmware

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// DfuSe container layout.
const (
	dfuSuffixLen   = 16
	dfusePrefixLen = 11
	targetPrefix   = 274
	elementHdrLen  = 8
)

var (
	dfuseSignature  = []byte("DfuSe")
	targetSignature = []byte("Target")
	suffixSignature = []byte("UFD")
)

// DFUSuffix is the trailing DFU file suffix.
type DFUSuffix struct {
	Device  uint16
	Product uint16
	Vendor  uint16
	DFU     uint16
	Length  uint8
	CRC     uint32
}

// dfuCRC is the suffix CRC: reflected CRC-32 without the final XOR.
func dfuCRC(data []byte) uint32 {
	return ^crc32.ChecksumIEEE(data)
}

func parseSuffix(data []byte) (DFUSuffix, error) {
	if len(data) < dfuSuffixLen {
		return DFUSuffix{}, fmt.Errorf("dfu file too short: %d bytes", len(data))
	}
	s := data[len(data)-dfuSuffixLen:]
	if !bytes.Equal(s[8:11], suffixSignature) {
		return DFUSuffix{}, fmt.Errorf("missing dfu suffix signature")
	}
	suffix := DFUSuffix{
		Device:  binary.LittleEndian.Uint16(s[0:2]),
		Product: binary.LittleEndian.Uint16(s[2:4]),
		Vendor:  binary.LittleEndian.Uint16(s[4:6]),
		DFU:     binary.LittleEndian.Uint16(s[6:8]),
		Length:  s[11],
		CRC:     binary.LittleEndian.Uint32(s[12:16]),
	}
	if int(suffix.Length) < dfuSuffixLen || int(suffix.Length) > len(data) {
		return DFUSuffix{}, fmt.Errorf("bad dfu suffix length %d", suffix.Length)
	}
	if crc := dfuCRC(data[:len(data)-4]); crc != suffix.CRC {
		return DFUSuffix{}, fmt.Errorf("dfu CRC mismatch: file 0x%08X, computed 0x%08X", suffix.CRC, crc)
	}
	return suffix, nil
}

// ParseDFU extracts the first image element of alternate setting 0 from a
// DfuSe file.
func ParseDFU(data []byte) (*Payload, error) {
	suffix, err := parseSuffix(data)
	if err != nil {
		return nil, err
	}
	body := data[:len(data)-int(suffix.Length)]

	if len(body) < dfusePrefixLen || !bytes.Equal(body[:5], dfuseSignature) {
		return nil, fmt.Errorf("not a DfuSe file")
	}
	targets := int(body[10])
	rest := body[dfusePrefixLen:]

	for i := 0; i < targets; i++ {
		if len(rest) < targetPrefix || !bytes.Equal(rest[:6], targetSignature) {
			return nil, fmt.Errorf("dfu target %d: bad prefix", i)
		}
		alt := rest[6]
		size := binary.LittleEndian.Uint32(rest[266:270])
		elements := binary.LittleEndian.Uint32(rest[270:274])
		if uint64(len(rest)) < uint64(targetPrefix)+uint64(size) {
			return nil, fmt.Errorf("dfu target %d: truncated", i)
		}
		images := rest[targetPrefix : targetPrefix+int(size)]

		if alt == 0 && elements > 0 {
			if len(images) < elementHdrLen {
				return nil, fmt.Errorf("dfu target %d: truncated element", i)
			}
			addr := binary.LittleEndian.Uint32(images[0:4])
			n := binary.LittleEndian.Uint32(images[4:8])
			if uint64(len(images)-elementHdrLen) < uint64(n) {
				return nil, fmt.Errorf("dfu target %d: element larger than target", i)
			}
			if n > 0 {
				out := make([]byte, n)
				copy(out, images[elementHdrLen:elementHdrLen+int(n)])
				return &Payload{Address: addr, Data: out, Format: "dfu"}, nil
			}
		}
		rest = rest[targetPrefix+int(size):]
	}

	return nil, fmt.Errorf("dfu file has no image for alternate setting 0")
}
