package protocol

// BL mask ROM / eflash_loader commands
const (
	CmdGetBootInfo       byte = 0x10
	CmdLoadBootHeader    byte = 0x11
	CmdLoadSegmentHeader byte = 0x17
	CmdLoadSegmentData   byte = 0x18
	CmdCheckImage        byte = 0x19
	CmdRunImage          byte = 0x1A
	CmdReset             byte = 0x21
	CmdLoadClockParams   byte = 0x22
	CmdFlashErase        byte = 0x30
	CmdFlashWrite        byte = 0x31
	CmdProgramCheck      byte = 0x3A
	CmdLoadFlashParams   byte = 0x3B
	CmdChipErase         byte = 0x3C
	CmdWriteMemory       byte = 0x50
)

// CommandName returns a short name for an opcode, used in errors and logs.
func CommandName(cmd byte) string {
	switch cmd {
	case CmdGetBootInfo:
		return "get boot info"
	case CmdLoadBootHeader:
		return "load boot header"
	case CmdLoadSegmentHeader:
		return "load segment header"
	case CmdLoadSegmentData:
		return "load segment data"
	case CmdCheckImage:
		return "check image"
	case CmdRunImage:
		return "run image"
	case CmdReset:
		return "reset"
	case CmdLoadClockParams:
		return "load clock params"
	case CmdFlashErase:
		return "flash erase"
	case CmdFlashWrite:
		return "flash write"
	case CmdProgramCheck:
		return "program check"
	case CmdLoadFlashParams:
		return "load flash params"
	case CmdChipErase:
		return "chip erase"
	case CmdWriteMemory:
		return "write memory"
	default:
		return "unknown command"
	}
}

// Transfer limits
const (
	// BufferSize is the size of the session scratch buffers.
	BufferSize = 5000
	// HeaderSize is opcode + checksum + 16-bit length.
	HeaderSize = 4
	// SegmentChunkSize caps a single load-segment-data payload.
	SegmentChunkSize = 4092
	// FlashChunkSize caps the data part of a single flash-write payload.
	FlashChunkSize = 2052
	// MaxPayloadSize is the largest payload that fits the scratch buffer.
	MaxPayloadSize = BufferSize - HeaderSize
)

// Error codes reported in "FL" response frames
const (
	ErrFlashInit          = 0x0001
	ErrFlashEraseParam    = 0x0002
	ErrFlashErase         = 0x0003
	ErrFlashWriteParam    = 0x0004
	ErrFlashWriteAddr     = 0x0005
	ErrFlashWrite         = 0x0006
	ErrFlashBootPara      = 0x0007
	ErrCmdID              = 0x0101
	ErrCmdLen             = 0x0102
	ErrCmdCRC             = 0x0103
	ErrCmdSeq             = 0x0104
	ErrBootHeaderLen      = 0x0201
	ErrBootHeaderNotLoad  = 0x0202
	ErrBootHeaderMagic    = 0x0203
	ErrBootHeaderCRC      = 0x0204
	ErrBootHeaderEncrypt  = 0x0205
	ErrBootHeaderSign     = 0x0206
	ErrSegmentCount       = 0x0207
	ErrSegmentHeaderLen   = 0x020F
	ErrSegmentHeaderCRC   = 0x0210
	ErrSegmentHeaderDest  = 0x0211
	ErrSegmentDataLen     = 0x0212
	ErrSegmentDataDecrypt = 0x0213
	ErrSegmentDataTLen    = 0x0214
	ErrSegmentDataCRC     = 0x0215
	ErrImageHash          = 0x0217
	ErrImageSign          = 0x0219
	ErrRateLen            = 0x0301
	ErrRatePara           = 0x0302
	ErrPassword           = 0x0303
	ErrPLL                = 0xFFFC
	ErrInvasion           = 0xFFFD
	ErrPolling            = 0xFFFE
	ErrFail               = 0xFFFF
)

// ErrorMessage returns human-readable error message
func ErrorMessage(code uint16) string {
	switch code {
	case ErrFlashInit:
		return "flash init error"
	case ErrFlashEraseParam:
		return "flash erase param error"
	case ErrFlashErase:
		return "flash erase error"
	case ErrFlashWriteParam:
		return "flash write param error"
	case ErrFlashWriteAddr:
		return "flash write address error"
	case ErrFlashWrite:
		return "flash write error"
	case ErrFlashBootPara:
		return "flash boot param error"
	case ErrCmdID:
		return "command id error"
	case ErrCmdLen:
		return "command length error"
	case ErrCmdCRC:
		return "command checksum error"
	case ErrCmdSeq:
		return "command sequence error"
	case ErrBootHeaderLen:
		return "boot header length error"
	case ErrBootHeaderNotLoad:
		return "boot header not loaded"
	case ErrBootHeaderMagic:
		return "boot header magic error"
	case ErrBootHeaderCRC:
		return "boot header CRC error"
	case ErrBootHeaderEncrypt:
		return "boot header encryption mismatch"
	case ErrBootHeaderSign:
		return "boot header signature mismatch"
	case ErrSegmentCount:
		return "segment count error"
	case ErrSegmentHeaderLen:
		return "segment header length error"
	case ErrSegmentHeaderCRC:
		return "segment header CRC error"
	case ErrSegmentHeaderDest:
		return "segment header destination error"
	case ErrSegmentDataLen:
		return "segment data length error"
	case ErrSegmentDataDecrypt:
		return "segment data decrypt error"
	case ErrSegmentDataTLen:
		return "segment data total length error"
	case ErrSegmentDataCRC:
		return "segment data CRC error"
	case ErrImageHash:
		return "image hash error"
	case ErrImageSign:
		return "image signature error"
	case ErrRateLen:
		return "rate length error"
	case ErrRatePara:
		return "rate param error"
	case ErrPassword:
		return "password error"
	case ErrPLL:
		return "PLL error"
	case ErrInvasion:
		return "invasion error"
	case ErrPolling:
		return "polling"
	case ErrFail:
		return "fail"
	default:
		return "unknown error"
	}
}
