package flasher

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bigbag/blisp-flasher/internal/chip"
	"github.com/bigbag/blisp-flasher/internal/isp"
	"github.com/bigbag/blisp-flasher/internal/protocol"
)

const probeTimeout = 100 * time.Millisecond

// ProgressCallback is called to report transfer progress in bytes.
type ProgressCallback func(current, total int)

// Flasher drives a session from the first handshake to a ready
// eflash_loader and runs flash and RAM operations on top of it.
type Flasher struct {
	sess    *isp.Session
	profile chip.Profile

	progress ProgressCallback
	loader   chip.LoaderFunc
	xtal     string
	probe    bool

	state   State
	info    isp.BootInfo
	romOnly bool
	log     *logrus.Entry
}

// Option configures a Flasher.
type Option func(*Flasher)

// WithProgress sets the progress callback.
func WithProgress(cb ProgressCallback) Option {
	return func(f *Flasher) {
		f.progress = cb
	}
}

// WithLoader overrides the chip's eflash_loader supplier.
func WithLoader(fn chip.LoaderFunc) Option {
	return func(f *Flasher) {
		f.loader = fn
	}
}

// WithXtal selects the crystal variant of the eflash_loader.
func WithXtal(xtal string) Option {
	return func(f *Flasher) {
		if xtal != "" {
			f.xtal = xtal
		}
	}
}

// WithProbe makes Connect query boot info before handshaking, so a device
// left inside a live session is reused.
func WithProbe(probe bool) Option {
	return func(f *Flasher) {
		f.probe = probe
	}
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) Option {
	return func(f *Flasher) {
		f.log = l.WithField("chip", f.profile.Tag)
	}
}

// New creates a Flasher for an open session.
func New(sess *isp.Session, opts ...Option) *Flasher {
	p := sess.Profile()
	f := &Flasher{
		sess:    sess,
		profile: p,
		xtal:    p.DefaultXtal,
		state:   LinkOpen,
		log:     logrus.StandardLogger().WithField("chip", p.Tag),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetProgressCallback sets the progress callback function.
func (f *Flasher) SetProgressCallback(cb ProgressCallback) {
	f.progress = cb
}

func (f *Flasher) reportProgress(current, total int) {
	if f.progress != nil {
		f.progress(current, total)
	}
}

// State returns the current bootstrap state.
func (f *Flasher) State() State {
	return f.state
}

// BootInfo returns the boot info read during Connect.
func (f *Flasher) BootInfo() isp.BootInfo {
	return f.info
}

func (f *Flasher) setState(s State) {
	f.log.Debugf("state %s -> %s", f.state, s)
	f.state = s
}

// Connect handshakes, reads boot info, applies chip bring-up and starts the
// eflash_loader when the chip needs one.
func (f *Flasher) Connect() error {
	if err := f.connectROM(); err != nil {
		return err
	}
	if err := f.bootstrap(); err != nil {
		return err
	}

	f.setState(Ready)
	return nil
}

// ConnectROM stops after chip bring-up and talks to the mask ROM directly.
// It prepares RunApp without placing an eflash_loader in RAM; flash
// operations on chips that need the loader are refused.
func (f *Flasher) ConnectROM() error {
	if err := f.connectROM(); err != nil {
		return err
	}
	f.romOnly = true
	f.setState(Ready)
	return nil
}

func (f *Flasher) connectROM() error {
	if f.state != LinkOpen {
		return fmt.Errorf("connect in state %s", f.state)
	}

	f.setState(Handshaking)
	info, probed := f.tryProbe()
	if !probed {
		if err := f.sess.Handshake(false); err != nil {
			return fmt.Errorf("failed to handshake: %w", err)
		}
		var err error
		info, err = f.sess.GetBootInfo()
		if err != nil {
			return fmt.Errorf("failed to get boot info: %w", err)
		}
	}
	f.info = info
	f.setState(BootInfoKnown)
	f.log.Debugf("boot rom %s, chip id %s", info.RomVersionString(), info.ChipIDString())

	if bu := f.profile.BringUp; bu != nil {
		if err := f.sess.LoadClockParams(bu.IRQEnable, uint32(f.sess.BaudRate()), bu.ClockParams); err != nil {
			return fmt.Errorf("failed to set clock parameters: %w", err)
		}
		if err := f.sess.LoadFlashParams(bu.FlashPins, bu.FlashConfig); err != nil {
			return fmt.Errorf("failed to set flash parameters: %w", err)
		}
		f.setState(ClockFlashConfigured)
	}
	return nil
}

func (f *Flasher) tryProbe() (isp.BootInfo, bool) {
	if !f.probe {
		return isp.BootInfo{}, false
	}
	prev := f.sess.SetTimeout(probeTimeout)
	defer f.sess.SetTimeout(prev)

	info, err := f.sess.GetBootInfo()
	if err != nil {
		f.log.Debugf("probe: %v", err)
		return isp.BootInfo{}, false
	}
	return info, true
}

func (f *Flasher) bootstrap() error {
	rl, ok := f.profile.Bootstrap.(chip.RequiresLoader)
	if !ok {
		return nil
	}
	if f.info.InLoader() {
		f.log.Debug("device already in eflash_loader")
		return nil
	}

	supply := rl.Supply
	if f.loader != nil {
		supply = f.loader
	}
	if supply == nil {
		return protocol.NewError(protocol.KindUnimplemented, "load eflash_loader",
			fmt.Errorf("no loader for %s", f.profile.Family))
	}
	image, err := supply(f.xtal)
	if err != nil {
		return fmt.Errorf("failed to get eflash_loader: %w", err)
	}

	if err := f.loadRAMApp(bytes.NewReader(image), len(image), f.profile.TCMAddress); err != nil {
		return fmt.Errorf("failed to load eflash_loader: %w", err)
	}
	if err := f.sess.CheckImage(); err != nil {
		return fmt.Errorf("failed to check image: %w", err)
	}
	if err := f.sess.RunImage(); err != nil {
		return fmt.Errorf("failed to run image: %w", err)
	}
	f.setState(SecondaryLoaderRunning)

	if err := f.sess.Handshake(true); err != nil {
		return fmt.Errorf("failed to handshake with eflash_loader: %w", err)
	}
	return nil
}

// loadRAMApp sends a synthesized boot header and one segment holding size
// bytes from r, loaded at addr.
func (f *Flasher) loadRAMApp(r io.Reader, size int, addr uint32) error {
	header := protocol.NewRAMBootHeader(addr)
	hb := header.Encode()
	if err := f.sess.LoadBootHeader(hb[:]); err != nil {
		return err
	}
	if err := f.sess.LoadSegmentHeader(protocol.NewSegmentHeader(addr, uint32(size))); err != nil {
		return err
	}
	return f.loadSegmentData(r, size)
}

func (f *Flasher) loadSegmentData(r io.Reader, size int) error {
	return isp.Stream(size, r, protocol.SegmentChunkSize,
		func(_ int, chunk []byte) error {
			return f.sess.LoadSegmentData(chunk)
		},
		f.reportProgress)
}

func (f *Flasher) requireReady(op string) error {
	if f.state != Ready {
		return fmt.Errorf("%s in state %s", op, f.state)
	}
	return nil
}

// requireFlash is requireReady plus a running eflash_loader where the chip
// needs one for flash commands.
func (f *Flasher) requireFlash(op string) error {
	if err := f.requireReady(op); err != nil {
		return err
	}
	if f.romOnly && f.profile.NeedsLoader() && !f.info.InLoader() {
		return fmt.Errorf("%s needs the eflash_loader on %s", op, f.profile.Family)
	}
	return nil
}

// FlashRegion represents a region to flash.
type FlashRegion struct {
	Address uint32
	Data    []byte
	Name    string
}

// Regions splits a firmware write. A raw image aimed at address 0 gets a
// default boot header at 0 and is moved to the firmware address.
func Regions(data []byte, address uint32) []FlashRegion {
	if address != protocol.BootHeaderAddress || bytes.HasPrefix(data, protocol.BootHeaderMagic[:]) {
		return []FlashRegion{{Address: address, Data: data, Name: "firmware"}}
	}
	header := protocol.NewFlashBootHeader(protocol.FirmwareAddress, uint32(len(data)))
	hb := header.Encode()
	return []FlashRegion{
		{Address: protocol.BootHeaderAddress, Data: hb[:], Name: "boot header"},
		{Address: protocol.FirmwareAddress, Data: data, Name: "firmware"},
	}
}

// FlashImage writes data at address and verifies programming.
func (f *Flasher) FlashImage(data []byte, address uint32) error {
	return f.FlashMultiple(Regions(data, address))
}

// FlashMultiple erases and writes each region in order, then runs one
// program check.
func (f *Flasher) FlashMultiple(regions []FlashRegion) error {
	if err := f.requireFlash("flash"); err != nil {
		return err
	}
	f.setState(FlashOperation)

	for _, region := range regions {
		if err := f.flashRegion(region); err != nil {
			return fmt.Errorf("failed to flash %s at 0x%X: %w", region.Name, region.Address, err)
		}
	}

	if err := f.sess.ProgramCheck(); err != nil {
		return fmt.Errorf("program check failed: %w", err)
	}

	f.setState(Ready)
	return nil
}

func (f *Flasher) flashRegion(region FlashRegion) error {
	if len(region.Data) == 0 {
		return nil
	}
	end := region.Address + uint32(len(region.Data)) - 1
	f.log.Debugf("erase 0x%08X-0x%08X", region.Address, end)
	if err := f.sess.FlashErase(region.Address, end); err != nil {
		return fmt.Errorf("erase failed: %w", err)
	}

	return isp.Stream(len(region.Data), bytes.NewReader(region.Data), protocol.FlashChunkSize,
		func(offset int, chunk []byte) error {
			return f.sess.FlashWrite(region.Address+uint32(offset), chunk)
		},
		f.reportProgress)
}

// Erase erases length bytes starting at address.
func (f *Flasher) Erase(address, length uint32) error {
	if err := f.requireFlash("erase"); err != nil {
		return err
	}
	if length == 0 {
		return fmt.Errorf("erase length is zero")
	}
	f.setState(FlashOperation)
	if err := f.sess.FlashErase(address, address+length-1); err != nil {
		return fmt.Errorf("erase failed: %w", err)
	}
	f.setState(Ready)
	return nil
}

// EraseAll erases the whole flash.
func (f *Flasher) EraseAll() error {
	if err := f.requireFlash("chip erase"); err != nil {
		return err
	}
	f.setState(FlashOperation)
	if err := f.sess.ChipErase(); err != nil {
		return fmt.Errorf("chip erase failed: %w", err)
	}
	f.setState(Ready)
	return nil
}

// RunApp loads data into RAM and starts it. Images that already begin with
// a boot header are sent as is; raw code is wrapped in a single segment
// loaded at address, which must be non-zero.
func (f *Flasher) RunApp(data []byte, address uint32) error {
	if err := f.requireReady("run"); err != nil {
		return err
	}
	if !f.profile.CanRunImage() {
		return protocol.NewError(protocol.KindUnimplemented, "run",
			fmt.Errorf("%s cannot run RAM images", f.profile.Family))
	}
	prebuilt := bytes.HasPrefix(data, protocol.BootHeaderMagic[:])
	if !prebuilt && address == 0 {
		return fmt.Errorf("no RAM load address for %s", f.profile.Family)
	}
	f.setState(RamRun)

	var err error
	if prebuilt {
		err = f.loadRAMImage(data)
	} else {
		err = f.loadRAMApp(bytes.NewReader(data), len(data), address)
	}
	if err != nil {
		return fmt.Errorf("failed to load RAM image: %w", err)
	}
	if err := f.sess.CheckImage(); err != nil {
		return fmt.Errorf("failed to check image: %w", err)
	}
	if err := f.sess.RunImage(); err != nil {
		return fmt.Errorf("failed to run image: %w", err)
	}

	f.setState(Done)
	return nil
}

// loadRAMImage streams a prebuilt image: boot header then, per segment,
// a segment header and its data.
func (f *Flasher) loadRAMImage(image []byte) error {
	header, err := protocol.DecodeBootHeader(image)
	if err != nil {
		return err
	}
	if header.Config.NoSegment {
		return protocol.NewError(protocol.KindUnimplemented, "load RAM image",
			fmt.Errorf("unsegmented images cannot be loaded to RAM"))
	}
	if err := f.sess.LoadBootHeader(image[:protocol.BootHeaderSize]); err != nil {
		return err
	}

	r := bytes.NewReader(image[protocol.BootHeaderSize:])
	for i := uint32(0); i < header.SegmentCount; i++ {
		var raw [protocol.SegmentHeaderSize]byte
		if _, err := io.ReadFull(r, raw[:]); err != nil {
			return protocol.NewError(protocol.KindTruncated, "load RAM image",
				fmt.Errorf("segment %d header: %w", i, err))
		}
		seg, err := protocol.DecodeSegmentHeader(raw[:])
		if err != nil {
			return err
		}
		f.log.Debugf("segment %d: 0x%08X, %d bytes", i, seg.DestAddr, seg.Length)
		if err := f.sess.LoadSegmentHeader(seg); err != nil {
			return err
		}
		if err := f.loadSegmentData(r, int(seg.Length)); err != nil {
			return err
		}
	}
	return nil
}

// Reboot resets the chip and ends the session's useful life.
func (f *Flasher) Reboot() error {
	if err := f.sess.Reset(); err != nil {
		return err
	}
	f.setState(Done)
	return nil
}
