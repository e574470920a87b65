package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/cheggaaa/pb/v3"

	"github.com/weightfetch/weightfetch/internal/engine/events"
	"github.com/weightfetch/weightfetch/internal/utils"
)

const barTemplate pb.ProgressBarTemplate = `{{string . "prefix"}}{{counters . }} {{bar . }} {{percent . }} {{speed . }} {{rtime . "ETA %s"}}`

// Progress renders a task's aggregate progress snapshots as a single bar and
// prints a line whenever a validation starts. It is an events.Emitter.
type Progress struct {
	mu     sync.Mutex
	out    io.Writer
	label  string
	static bool
	bar    *pb.ProgressBar
	last   events.DownloadEvent
}

// NewProgress writes to out. A static bar only redraws on updates, which
// keeps non-terminal output readable.
func NewProgress(out io.Writer, label string, static bool) *Progress {
	return &Progress{out: out, label: label, static: static}
}

func (p *Progress) Emit(name string, payload any) {
	p.Handle(events.Wrap(name, payload))
}

// Handle applies one event envelope.
func (p *Progress) Handle(env events.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev := env.Payload.(type) {
	case events.DownloadEvent:
		p.last = ev
		if p.bar == nil {
			p.bar = pb.New64(int64(ev.Total)).SetTemplate(barTemplate)
			p.bar.SetWriter(p.out)
			p.bar.Set(pb.Bytes, true)
			p.bar.Set(pb.Static, p.static)
			p.bar.Set("prefix", p.label+" ")
			p.bar.Start()
		}
		p.bar.SetTotal(int64(ev.Total))
		p.bar.SetCurrent(int64(ev.Transferred))
		if p.static {
			p.bar.Write()
		}
	case events.ValidationStarted:
		p.clearLine()
		fmt.Fprintf(p.out, "%s %s\n", LabelStyle.Render("validating"), ev.ModelID)
	}
}

// Consume drains ch until it is closed.
func (p *Progress) Consume(ch <-chan events.Envelope) {
	for env := range ch {
		p.Handle(env)
	}
}

// Last returns the most recent snapshot seen.
func (p *Progress) Last() events.DownloadEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Finish stops the bar and prints a summary line.
func (p *Progress) Finish(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		p.bar.Finish()
		p.bar = nil
	}
	if ok {
		fmt.Fprintln(p.out, Success("%s downloaded", utils.ConvertBytesToHumanReadable(int64(p.last.Transferred))))
	}
}

func (p *Progress) clearLine() {
	if p.bar != nil && !p.static {
		fmt.Fprint(p.out, "\r")
	}
}
