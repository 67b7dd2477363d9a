// Package chip describes the Bouffalo Lab families the flasher can talk to.
package chip

import (
	"fmt"
	"strings"
	"time"

	"github.com/bigbag/blisp-flasher/embedded"
	"github.com/bigbag/blisp-flasher/internal/protocol"
)

// Family identifies a chip family.
type Family int

const (
	BL60X Family = iota + 1
	BL70X
	BL808
	BL606P
	BL61X
)

func (f Family) String() string {
	switch f {
	case BL60X:
		return "bl60x"
	case BL70X:
		return "bl70x"
	case BL808:
		return "bl808"
	case BL606P:
		return "bl606p"
	case BL61X:
		return "bl61x"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// Families lists every supported family in CLI order.
func Families() []Family {
	return []Family{BL60X, BL70X, BL808, BL606P, BL61X}
}

// Parse maps a CLI name such as "bl70x" to its family.
func Parse(name string) (Family, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for _, f := range Families() {
		if f.String() == key {
			return f, nil
		}
	}
	return 0, protocol.NewError(protocol.KindInvalidChipType, "parse chip", fmt.Errorf("%q", name))
}

// LoaderFunc supplies the secondary loader image for a crystal setting.
type LoaderFunc func(xtal string) ([]byte, error)

// Bootstrap tells the orchestrator whether a secondary loader must run
// before flash commands are accepted.
type Bootstrap interface {
	isBootstrap()
}

// Native chips accept flash commands straight from the ROM.
type Native struct{}

// RequiresLoader chips need an eflash_loader streamed into RAM first.
type RequiresLoader struct {
	Supply LoaderFunc
}

func (Native) isBootstrap()         {}
func (RequiresLoader) isBootstrap() {}

// RunImage selects how a loaded RAM image is started.
type RunImage int

const (
	// RunUnsupported is the zero value; a profile left without a run
	// method cannot start RAM images.
	RunUnsupported RunImage = iota
	// RunNative uses the ROM's run-image command.
	RunNative
	// RunRegisterErrata pokes boot registers with write-memory commands.
	RunRegisterErrata
)

// BringUp holds the clock and flash parameters sent right after the
// handshake.
type BringUp struct {
	IRQEnable   bool
	ClockParams []byte
	FlashPins   [4]byte
	FlashConfig protocol.FlashConfig
}

// Profile is the immutable per-family parameter set.
type Profile struct {
	Family              Family
	Tag                 string
	USBDiscovery        bool
	HandshakeMultiplier float64
	DefaultXtal         string
	TCMAddress          uint32
	Bootstrap           Bootstrap
	RunImage            RunImage
	// ResponseTimeout bounds each response read; 0 waits forever.
	ResponseTimeout time.Duration
	ChipIDOffset    int
	ChipIDLen       int
	// SecondHandshake is sent after the preamble once the ROM settles.
	SecondHandshake []byte
	BringUp         *BringUp
}

// NeedsLoader reports whether the family boots through an eflash_loader.
func (p Profile) NeedsLoader() bool {
	_, ok := p.Bootstrap.(RequiresLoader)
	return ok
}

// CanRunImage reports whether a loaded RAM image can be started.
func (p Profile) CanRunImage() bool {
	return p.RunImage == RunNative || p.RunImage == RunRegisterErrata
}

// HandshakeLength returns the preamble size for baud, capped at 600 bytes.
func (p Profile) HandshakeLength(baud int) int {
	n := int(p.HandshakeMultiplier * float64(baud) / 10)
	if n > 600 {
		n = 600
	}
	return n
}

func bundledLoader(tag string) LoaderFunc {
	return func(xtal string) ([]byte, error) {
		return embedded.EflashLoader(tag, xtal)
	}
}

var bl808SecondHandshake = []byte{0x50, 0x00, 0x08, 0x00, 0x38, 0xF0, 0x00, 0x20, 0x00, 0x00, 0x00, 0x18}

var profiles = map[Family]Profile{
	BL60X: {
		Family:              BL60X,
		Tag:                 "bl60x",
		USBDiscovery:        false,
		HandshakeMultiplier: 0.006,
		DefaultXtal:         "40m",
		TCMAddress:          0x22010000,
		Bootstrap:           RequiresLoader{Supply: bundledLoader("bl60x")},
		RunImage:            RunNative,
		ResponseTimeout:     time.Second,
		ChipIDOffset:        12,
		ChipIDLen:           6,
	},
	BL70X: {
		Family:              BL70X,
		Tag:                 "bl70x",
		USBDiscovery:        true,
		HandshakeMultiplier: 0.003,
		DefaultXtal:         "32m",
		TCMAddress:          0x22010000,
		Bootstrap:           RequiresLoader{Supply: bundledLoader("bl70x")},
		RunImage:            RunRegisterErrata,
		ResponseTimeout:     time.Second,
		ChipIDOffset:        16,
		ChipIDLen:           8,
	},
	BL808: {
		Family:              BL808,
		Tag:                 "bl808",
		USBDiscovery:        true,
		HandshakeMultiplier: 0.003,
		DefaultXtal:         "-",
		Bootstrap:           Native{},
		RunImage:            RunNative,
		ChipIDOffset:        16,
		ChipIDLen:           8,
		SecondHandshake:     bl808SecondHandshake,
		BringUp:             bl808BringUp(),
	},
	BL606P: {
		Family:              BL606P,
		Tag:                 "bl606p",
		USBDiscovery:        true,
		HandshakeMultiplier: 0.003,
		DefaultXtal:         "-",
		Bootstrap:           Native{},
		RunImage:            RunNative,
		ChipIDOffset:        16,
		ChipIDLen:           8,
		SecondHandshake:     bl808SecondHandshake,
		BringUp:             bl808BringUp(),
	},
	BL61X: {
		Family:              BL61X,
		Tag:                 "bl61x",
		USBDiscovery:        true,
		HandshakeMultiplier: 0.003,
		DefaultXtal:         "-",
		Bootstrap:           Native{},
		RunImage:            RunNative,
		ResponseTimeout:     time.Second,
		ChipIDOffset:        16,
		ChipIDLen:           8,
	},
}

// ProfileFor returns the profile for f.
func ProfileFor(f Family) (Profile, error) {
	p, ok := profiles[f]
	if !ok {
		return Profile{}, protocol.NewError(protocol.KindInvalidChipType, "chip profile", fmt.Errorf("%v", f))
	}
	p.SecondHandshake = append([]byte(nil), p.SecondHandshake...)
	if p.BringUp != nil {
		b := *p.BringUp
		b.ClockParams = append([]byte(nil), b.ClockParams...)
		p.BringUp = &b
	}
	return p, nil
}

// Lookup parses name and returns its profile.
func Lookup(name string) (Profile, error) {
	f, err := Parse(name)
	if err != nil {
		return Profile{}, err
	}
	return ProfileFor(f)
}
