// Package firmware turns .bin, .hex and .dfu files into a flat payload with
// a target address.
package firmware

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"
)

// Payload is a contiguous image and the address it belongs at.
type Payload struct {
	Address uint32
	Data    []byte
	Format  string
}

// Load reads path and dispatches on its extension. address applies to raw
// .bin files only; other formats carry their own.
func Load(path string, address uint32) (*Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read firmware: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".bin":
		return ParseBin(data, address), nil
	case ".hex", ".ihex":
		return ParseHex(data)
	case ".dfu":
		return ParseDFU(data)
	default:
		return nil, fmt.Errorf("unsupported firmware file type %q", ext)
	}
}

// ParseBin wraps a raw image.
func ParseBin(data []byte, address uint32) *Payload {
	return &Payload{Address: address, Data: data, Format: "bin"}
}

// ParseHex flattens an Intel HEX image. Gaps between segments are filled
// with 0xFF, the erased flash value.
func ParseHex(data []byte) (*Payload, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to parse hex: %w", err)
	}

	segments := mem.GetDataSegments()
	if len(segments) == 0 {
		return nil, fmt.Errorf("hex file has no data")
	}

	start := segments[0].Address
	end := start
	for _, s := range segments {
		start = min(start, s.Address)
		end = max(end, s.Address+uint32(len(s.Data)))
	}

	return &Payload{
		Address: start,
		Data:    mem.ToBinary(start, end-start, 0xFF),
		Format:  "hex",
	}, nil
}
