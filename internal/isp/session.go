// Package isp implements the command/response engine spoken by the BL mask
// ROM and the eflash_loader.
package isp

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bigbag/blisp-flasher/internal/chip"
	"github.com/bigbag/blisp-flasher/internal/protocol"
)

// Transport is the byte link to the chip.
type Transport interface {
	Write(p []byte) (int, error)
	// Read fills p, returning early with n < len(p) and a nil error when
	// timeout elapses. A zero timeout blocks until p is full.
	Read(p []byte, timeout time.Duration) (int, error)
	SetResetLines(rts, dtr bool) error
	Flush() error
	Drain() error
	Close() error
}

// Session is one open link to a chip. Every command/response pair runs
// under the session lock, which also guards the scratch buffers.
type Session struct {
	mu sync.Mutex

	port    Transport
	profile chip.Profile

	baudRate     int
	usb          bool
	timeout      time.Duration
	pendingLimit int
	lastCode     uint16

	tx [protocol.BufferSize]byte
	rx [protocol.BufferSize]byte

	log   *logrus.Entry
	sleep func(time.Duration)
}

// Option configures a Session.
type Option func(*Session)

// WithBaudRate sets the link speed used to size the handshake preamble.
func WithBaudRate(baud int) Option {
	return func(s *Session) {
		s.baudRate = baud
	}
}

// WithUSB marks the link as USB-CDC: reset lines are left alone and the
// reset token precedes every handshake preamble.
func WithUSB(usb bool) Option {
	return func(s *Session) {
		s.usb = usb
	}
}

// WithTimeout overrides the chip's response timeout. Zero waits forever.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.timeout = d
	}
}

// WithPendingLimit makes an erase fail on its n-th "PD" frame, so at most
// n-1 pending replies are tolerated. Zero polls forever.
func WithPendingLimit(n int) Option {
	return func(s *Session) {
		s.pendingLimit = n
	}
}

// WithLogger sets the logger used for frame traces.
func WithLogger(l *logrus.Logger) Option {
	return func(s *Session) {
		s.log = l.WithField("chip", s.profile.Tag)
	}
}

// WithSleep replaces time.Sleep for the handshake delays.
func WithSleep(fn func(time.Duration)) Option {
	return func(s *Session) {
		s.sleep = fn
	}
}

// NewSession wraps port for the given chip. The session owns port and
// releases it on Close.
func NewSession(port Transport, profile chip.Profile, opts ...Option) *Session {
	s := &Session{
		port:     port,
		profile:  profile,
		baudRate: protocol.DefaultBaudRate,
		timeout:  profile.ResponseTimeout,
		log:      logrus.StandardLogger().WithField("chip", profile.Tag),
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Profile returns the chip profile the session was opened for.
func (s *Session) Profile() chip.Profile {
	return s.profile
}

// BaudRate returns the configured link speed.
func (s *Session) BaudRate() int {
	return s.baudRate
}

// IsUSB reports whether the link is USB-CDC.
func (s *Session) IsUSB() bool {
	return s.usb
}

// SetTimeout changes the response timeout and returns the previous one.
func (s *Session) SetTimeout(d time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.timeout
	s.timeout = d
	return prev
}

// ErrorCode returns the code from the most recent "FL" frame.
func (s *Session) ErrorCode() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCode
}

// Close releases the transport.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// SendCommand writes one command frame.
func (s *Session) SendCommand(cmd byte, payload []byte, useChecksum bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send(cmd, payload, useChecksum)
}

// ReceiveResponse reads one response frame. With expectPayload the
// length-prefixed payload following "OK" is returned.
func (s *Session) ReceiveResponse(expectPayload bool) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, err := s.receive("receive response", expectPayload)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), payload...), nil
}

func (s *Session) send(cmd byte, payload []byte, useChecksum bool) error {
	op := protocol.CommandName(cmd)
	if s.port == nil {
		return protocol.NewError(protocol.KindLinkWrite, op, fmt.Errorf("session closed"))
	}

	frame, err := protocol.NewRequest(cmd, payload, useChecksum).EncodeTo(s.tx[:])
	if err != nil {
		return protocol.NewError(protocol.KindLinkWrite, op, err)
	}

	if s.log.Logger.IsLevelEnabled(logrus.TraceLevel) {
		s.log.Tracef("-> %s", hex.EncodeToString(frame))
	} else {
		s.log.Debugf("-> %s (%d bytes)", op, len(payload))
	}

	n, err := s.port.Write(frame)
	if err != nil {
		return protocol.NewError(protocol.KindLinkWrite, op, err)
	}
	if n != len(frame) {
		return protocol.NewError(protocol.KindLinkWrite, op, fmt.Errorf("short write: %d of %d bytes", n, len(frame)))
	}
	return nil
}

// readFull reads exactly len(p) bytes under the session timeout.
func (s *Session) readFull(p []byte) (int, error) {
	if s.port == nil {
		return 0, fmt.Errorf("session closed")
	}
	return s.port.Read(p, s.timeout)
}

// receive returns a slice of the rx buffer; callers must copy before
// releasing the lock.
func (s *Session) receive(op string, expectPayload bool) ([]byte, error) {
	n, err := s.readFull(s.rx[:2])
	if err != nil {
		return nil, protocol.NewError(protocol.KindLinkRead, op, err)
	}
	if n < 2 {
		return nil, protocol.NewError(protocol.KindNoResponse, op, nil)
	}

	switch protocol.ParseMarker(s.rx[:2]) {
	case protocol.MarkerOK:
		if !expectPayload {
			s.log.Debugf("<- OK")
			return nil, nil
		}
		size, err := s.readUint16(op)
		if err != nil {
			return nil, err
		}
		if int(size) > len(s.rx) {
			return nil, protocol.NewError(protocol.KindLinkRead, op, fmt.Errorf("payload too large: %d bytes", size))
		}
		n, err := s.readFull(s.rx[:size])
		if err != nil {
			return nil, protocol.NewError(protocol.KindLinkRead, op, err)
		}
		if n < int(size) {
			return nil, protocol.NewError(protocol.KindLinkRead, op, fmt.Errorf("short payload: %d of %d bytes", n, size))
		}
		s.log.Debugf("<- OK (%d bytes)", size)
		return s.rx[:size], nil

	case protocol.MarkerPending:
		s.log.Debugf("<- PD")
		return nil, protocol.NewError(protocol.KindPending, op, nil)

	case protocol.MarkerFail:
		code, err := s.readUint16(op)
		if err != nil {
			return nil, err
		}
		s.lastCode = code
		s.log.Debugf("<- FL 0x%04X", code)
		return nil, protocol.ChipError(op, code)

	default:
		s.log.Debugf("<- unexpected %s", hex.EncodeToString(s.rx[:2]))
		return nil, protocol.NewError(protocol.KindNoResponse, op,
			fmt.Errorf("unexpected marker %q", s.rx[:2]))
	}
}

func (s *Session) readUint16(op string) (uint16, error) {
	var b [2]byte
	n, err := s.readFull(b[:])
	if err != nil {
		return 0, protocol.NewError(protocol.KindLinkRead, op, err)
	}
	if n < 2 {
		return 0, protocol.NewError(protocol.KindLinkRead, op, fmt.Errorf("short read: %d of 2 bytes", n))
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

// exchange sends one command and reads its response under a single lock.
func (s *Session) exchange(cmd byte, payload []byte, useChecksum, expectPayload bool) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.send(cmd, payload, useChecksum); err != nil {
		return nil, err
	}
	resp, err := s.receive(protocol.CommandName(cmd), expectPayload)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), resp...), nil
}
