package protocol

import (
	"encoding/binary"
	"fmt"
)

// Request represents a command frame sent to the ROM or eflash_loader.
type Request struct {
	Command     byte
	Data        []byte
	UseChecksum bool
}

// NewRequest creates a new request.
func NewRequest(cmd byte, data []byte, useChecksum bool) *Request {
	return &Request{
		Command:     cmd,
		Data:        data,
		UseChecksum: useChecksum,
	}
}

// Checksum is the low byte of the sum of both length bytes and every
// payload byte.
func Checksum(data []byte) byte {
	size := uint16(len(data))
	sum := uint32(size&0xFF) + uint32(size>>8)
	for _, b := range data {
		sum += uint32(b)
	}
	return byte(sum)
}

// Size returns the encoded frame length.
func (r *Request) Size() int {
	return HeaderSize + len(r.Data)
}

// EncodeTo serializes the request into buf and returns the frame slice.
// buf must hold at least r.Size() bytes.
func (r *Request) EncodeTo(buf []byte) ([]byte, error) {
	// Frame format:
	// 0: command
	// 1: checksum (0 when disabled)
	// 2-3: payload size (little-endian)
	// 4+: payload
	if len(r.Data) > 0xFFFF {
		return nil, fmt.Errorf("payload too large: %d bytes", len(r.Data))
	}
	if len(buf) < r.Size() {
		return nil, fmt.Errorf("frame buffer too small: %d < %d", len(buf), r.Size())
	}

	frame := buf[:r.Size()]
	frame[0] = r.Command
	frame[1] = 0
	if r.UseChecksum {
		frame[1] = Checksum(r.Data)
	}
	binary.LittleEndian.PutUint16(frame[2:4], uint16(len(r.Data)))
	copy(frame[HeaderSize:], r.Data)

	return frame, nil
}

// Encode serializes the request to a freshly allocated frame.
func (r *Request) Encode() []byte {
	frame, err := r.EncodeTo(make([]byte, r.Size()))
	if err != nil {
		panic(err)
	}
	return frame
}

// DecodeRequest parses a command frame. Used by the simulated chip in tests
// and by frame tracing.
func DecodeRequest(frame []byte) (*Request, error) {
	if len(frame) < HeaderSize {
		return nil, NewError(KindTruncated, "decode request", fmt.Errorf("frame too short: %d bytes", len(frame)))
	}

	size := int(binary.LittleEndian.Uint16(frame[2:4]))
	if len(frame)-HeaderSize < size {
		return nil, NewError(KindTruncated, "decode request",
			fmt.Errorf("data size mismatch: expected %d, have %d", size, len(frame)-HeaderSize))
	}

	return &Request{
		Command:     frame[0],
		Data:        frame[HeaderSize : HeaderSize+size],
		UseChecksum: frame[1] != 0,
	}, nil
}

// Marker is the two-byte status at the start of every response.
type Marker int

const (
	MarkerInvalid Marker = iota
	MarkerOK
	MarkerFail
	MarkerPending
)

// Response markers on the wire
var (
	OK      = [2]byte{'O', 'K'}
	Fail    = [2]byte{'F', 'L'}
	Pending = [2]byte{'P', 'D'}
)

// ParseMarker classifies the first two response bytes.
func ParseMarker(b []byte) Marker {
	if len(b) < 2 {
		return MarkerInvalid
	}
	switch [2]byte{b[0], b[1]} {
	case OK:
		return MarkerOK
	case Fail:
		return MarkerFail
	case Pending:
		return MarkerPending
	default:
		return MarkerInvalid
	}
}

// ContainsOK reports whether "OK" appears anywhere in b.
func ContainsOK(b []byte) bool {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == 'O' && b[i+1] == 'K' {
			return true
		}
	}
	return false
}

// OKResponse builds an "OK" frame, with a length-prefixed payload when
// data is non-nil.
func OKResponse(data []byte) []byte {
	if data == nil {
		return []byte{'O', 'K'}
	}
	resp := make([]byte, 4+len(data))
	resp[0], resp[1] = 'O', 'K'
	binary.LittleEndian.PutUint16(resp[2:4], uint16(len(data)))
	copy(resp[4:], data)
	return resp
}

// FailResponse builds an "FL" frame carrying code.
func FailResponse(code uint16) []byte {
	resp := []byte{'F', 'L', 0, 0}
	binary.LittleEndian.PutUint16(resp[2:4], code)
	return resp
}

// PendingResponse builds a "PD" frame.
func PendingResponse() []byte {
	return []byte{'P', 'D'}
}

// Payload builders

// WriteMemoryData creates the payload for WRITE_MEMORY.
func WriteMemoryData(address, value uint32) []byte {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[0:4], address)
	binary.LittleEndian.PutUint32(data[4:8], value)
	return data
}

// FlashEraseData creates the payload for FLASH_ERASE. end is inclusive.
func FlashEraseData(start, end uint32) []byte {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[0:4], start)
	binary.LittleEndian.PutUint32(data[4:8], end)
	return data
}

// FlashWriteData creates the payload for FLASH_WRITE.
func FlashWriteData(address uint32, chunk []byte) []byte {
	data := make([]byte, 4+len(chunk))
	binary.LittleEndian.PutUint32(data[0:4], address)
	copy(data[4:], chunk)
	return data
}

// ClockParamsData creates the payload for LOAD_CLOCK_PARAMS.
func ClockParamsData(irqEnable bool, baudRate uint32, clockCfg []byte) []byte {
	data := make([]byte, 8+len(clockCfg))
	if irqEnable {
		binary.LittleEndian.PutUint32(data[0:4], 1)
	}
	binary.LittleEndian.PutUint32(data[4:8], baudRate)
	copy(data[8:], clockCfg)
	return data
}

// FlashParamsData creates the payload for LOAD_FLASH_PARAMS.
func FlashParamsData(pins [4]byte, cfg FlashConfig) []byte {
	block := cfg.Encode()
	data := make([]byte, 4+len(block))
	copy(data[0:4], pins[:])
	copy(data[4:], block[:])
	return data
}
