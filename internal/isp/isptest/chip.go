// Package isptest provides a simulated BL chip for exercising the ISP
// engine without hardware.
package isptest

import (
	"bytes"
	"sync"
	"time"

	"github.com/bigbag/blisp-flasher/internal/isp"
	"github.com/bigbag/blisp-flasher/internal/protocol"
)

// DefaultBootInfo is a 24-byte boot-info payload: ROM version 1.0.0.0 and
// chip ID bytes 0x10..0x17 starting at offset 16.
var DefaultBootInfo = []byte{
	0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xA0, 0xA1, 0xA2, 0xA3,
	0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17,
}

// Chip implements isp.Transport. It answers handshake preambles and
// command frames with scripted responses and records everything it sees.
type Chip struct {
	mu sync.Mutex

	// HandshakeOKOn is the preamble count at which "OK" is first sent.
	// Zero means the first preamble; negative means never.
	HandshakeOKOn int
	// BootInfo is returned for get-boot-info. Nil uses DefaultBootInfo.
	BootInfo []byte
	// IgnoreFrames are written byte strings that get no response.
	IgnoreFrames [][]byte
	// WriteErr fails every write when set.
	WriteErr error

	replies map[byte][][]byte
	rx      []byte

	Writes      [][]byte
	Commands    []*protocol.Request
	Preambles   int
	ResetTokens int
	Reads       int
	Flushes     int
	Drains      int
	ResetLines  [][2]bool
	Closed      bool
}

var _ isp.Transport = (*Chip)(nil)

// New creates a chip that acknowledges everything.
func New() *Chip {
	return &Chip{replies: make(map[byte][][]byte)}
}

// Script queues raw responses for cmd, consumed one per command frame.
// Once the queue drains the default response is used again.
func (c *Chip) Script(cmd byte, replies ...[]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.replies == nil {
		c.replies = make(map[byte][][]byte)
	}
	c.replies[cmd] = append(c.replies[cmd], replies...)
}

// Opcodes returns the opcodes of all received command frames in order.
func (c *Chip) Opcodes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	ops := make([]byte, len(c.Commands))
	for i, r := range c.Commands {
		ops[i] = r.Command
	}
	return ops
}

// CommandsFor returns the received frames with opcode cmd.
func (c *Chip) CommandsFor(cmd byte) []*protocol.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*protocol.Request
	for _, r := range c.Commands {
		if r.Command == cmd {
			out = append(out, r)
		}
	}
	return out
}

func isPreamble(p []byte) bool {
	if len(p) == 0 {
		return false
	}
	for _, b := range p {
		if b != 'U' {
			return false
		}
	}
	return true
}

func (c *Chip) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.WriteErr != nil {
		return 0, c.WriteErr
	}
	c.Writes = append(c.Writes, append([]byte(nil), p...))

	switch {
	case bytes.Equal(p, isp.ResetToken):
		c.ResetTokens++
		return len(p), nil
	case isPreamble(p):
		c.Preambles++
		okOn := c.HandshakeOKOn
		if okOn == 0 {
			okOn = 1
		}
		if okOn > 0 && c.Preambles >= okOn {
			c.rx = append(c.rx, 'O', 'K')
		}
		return len(p), nil
	}

	for _, f := range c.IgnoreFrames {
		if bytes.Equal(p, f) {
			return len(p), nil
		}
	}

	req, err := protocol.DecodeRequest(p)
	if err != nil {
		return len(p), nil
	}
	req.Data = append([]byte(nil), req.Data...)
	c.Commands = append(c.Commands, req)
	c.rx = append(c.rx, c.reply(req)...)
	return len(p), nil
}

func (c *Chip) reply(req *protocol.Request) []byte {
	if q := c.replies[req.Command]; len(q) > 0 {
		c.replies[req.Command] = q[1:]
		return q[0]
	}
	switch req.Command {
	case protocol.CmdGetBootInfo:
		info := c.BootInfo
		if info == nil {
			info = DefaultBootInfo
		}
		return protocol.OKResponse(info)
	case protocol.CmdLoadSegmentHeader:
		return protocol.OKResponse(req.Data)
	default:
		return protocol.OKResponse(nil)
	}
}

// Read returns whatever is buffered, up to len(p). It never blocks.
func (c *Chip) Read(p []byte, _ time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Reads++
	n := copy(p, c.rx)
	c.rx = c.rx[n:]
	return n, nil
}

func (c *Chip) SetResetLines(rts, dtr bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ResetLines = append(c.ResetLines, [2]bool{rts, dtr})
	return nil
}

func (c *Chip) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Flushes++
	c.rx = nil
	return nil
}

func (c *Chip) Drain() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Drains++
	return nil
}

func (c *Chip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	return nil
}

// Pending returns the unread response bytes.
func (c *Chip) Pending() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.rx...)
}

// Feed appends raw bytes to the receive side, for response-level tests.
func (c *Chip) Feed(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rx = append(c.rx, b...)
}
