package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// progress renders transfer progress as a bar on a terminal and as
// coarse percentage lines otherwise.
type progress struct {
	tty     bool
	desc    string
	bar     *progressbar.ProgressBar
	lastPct int
}

func newProgress() *progress {
	return &progress{
		tty:  term.IsTerminal(int(os.Stdout.Fd())),
		desc: "Transferring",
	}
}

// SetDescription labels the next transfer.
func (p *progress) SetDescription(desc string) {
	p.desc = desc
}

// Update is a flasher.ProgressCallback. current == 0 starts a new transfer.
func (p *progress) Update(current, total int) {
	if current == 0 {
		p.Finish()
		p.lastPct = -10
		if p.tty {
			p.bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription(p.desc),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowBytes(true),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionThrottle(100),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}
	}

	if p.bar != nil {
		p.bar.Set(current)
		return
	}
	if total == 0 {
		return
	}
	pct := current * 100 / total
	if pct/10 != p.lastPct/10 || (pct == 100 && p.lastPct != 100) {
		fmt.Printf("%s: %d%% (%d/%d bytes)\n", p.desc, pct, current, total)
		p.lastPct = pct
	}
}

// Finish closes the current bar, if any.
func (p *progress) Finish() {
	if p.bar != nil {
		p.bar.Finish()
		p.bar = nil
	}
}
