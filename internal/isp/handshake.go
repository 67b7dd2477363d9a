package isp

import (
	"bytes"
	"fmt"
	"time"

	"github.com/bigbag/blisp-flasher/internal/protocol"
)

const (
	handshakeAttempts = 5
	handshakeWindow   = 20
	handshakeTimeout  = 50 * time.Millisecond
	secondStageDelay  = 300 * time.Millisecond
)

// ResetToken switches a USB-CDC ROM back into ISP mode.
var ResetToken = []byte("BOUFFALOLAB5555RESET\x00\x00")

// resetPulse drives RTS/DTR to reboot a UART-attached chip into the ROM.
func (s *Session) resetPulse() error {
	steps := []struct {
		rts, dtr bool
		hold     time.Duration
	}{
		{true, true, 50 * time.Millisecond},
		{true, false, 100 * time.Millisecond},
		{false, false, 50 * time.Millisecond},
	}
	for _, st := range steps {
		if err := s.port.SetResetLines(st.rts, st.dtr); err != nil {
			return protocol.NewError(protocol.KindLinkWrite, "reset lines", err)
		}
		s.sleep(st.hold)
	}
	return nil
}

func (s *Session) writeAll(op string, p []byte) error {
	n, err := s.port.Write(p)
	if err != nil {
		return protocol.NewError(protocol.KindLinkWrite, op, err)
	}
	if n != len(p) {
		return protocol.NewError(protocol.KindLinkWrite, op, fmt.Errorf("short write: %d of %d bytes", n, len(p)))
	}
	if err := s.port.Drain(); err != nil {
		return protocol.NewError(protocol.KindLinkWrite, op, err)
	}
	return nil
}

// Handshake trains the ROM auto-baud detector with a 'U' preamble until it
// answers "OK". inLoader skips the reset pulse and reset token, for
// re-synchronising with a freshly started eflash_loader.
func (s *Session) Handshake(inLoader bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return protocol.NewError(protocol.KindLinkWrite, "handshake", fmt.Errorf("session closed"))
	}

	if !inLoader && !s.usb {
		if err := s.resetPulse(); err != nil {
			return err
		}
	}

	preamble := bytes.Repeat([]byte{'U'}, s.profile.HandshakeLength(s.baudRate))
	window := make([]byte, handshakeWindow)

	for attempt := 1; attempt <= handshakeAttempts; attempt++ {
		s.log.Debugf("handshake attempt %d/%d (%d bytes)", attempt, handshakeAttempts, len(preamble))

		if err := s.port.Flush(); err != nil {
			return protocol.NewError(protocol.KindLinkRead, "handshake", err)
		}

		if !inLoader && s.usb {
			if err := s.writeAll("handshake", ResetToken); err != nil {
				return err
			}
		}

		if err := s.writeAll("handshake", preamble); err != nil {
			return err
		}

		if len(s.profile.SecondHandshake) > 0 {
			s.sleep(secondStageDelay)
			if err := s.writeAll("handshake", s.profile.SecondHandshake); err != nil {
				return err
			}
		}

		n, err := s.port.Read(window, handshakeTimeout)
		if err != nil {
			return protocol.NewError(protocol.KindLinkRead, "handshake", err)
		}
		if protocol.ContainsOK(window[:n]) {
			s.log.Debugf("handshake ok after %d attempt(s)", attempt)
			return nil
		}
	}

	return protocol.NewError(protocol.KindNoResponse, "handshake",
		fmt.Errorf("no answer after %d attempts", handshakeAttempts))
}
