package flasher

// State is a bootstrap stage.
type State int

const (
	Idle State = iota
	LinkOpen
	Handshaking
	BootInfoKnown
	ClockFlashConfigured
	SecondaryLoaderRunning
	Ready
	FlashOperation
	RamRun
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case LinkOpen:
		return "link open"
	case Handshaking:
		return "handshaking"
	case BootInfoKnown:
		return "boot info known"
	case ClockFlashConfigured:
		return "clock/flash configured"
	case SecondaryLoaderRunning:
		return "eflash_loader running"
	case Ready:
		return "ready"
	case FlashOperation:
		return "flash operation"
	case RamRun:
		return "RAM run"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}
