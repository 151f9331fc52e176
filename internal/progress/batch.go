package progress

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/earthanddusk/hfbackup/internal/events"
)

// BatchBar is a single bar counting finished tasks against queued ones.
type BatchBar struct {
	w      io.Writer
	verb   string
	bar    *progressbar.ProgressBar
	queued int
}

// NewBatchBar creates a batch bar writing to w.
func NewBatchBar(w io.Writer, verb string) *BatchBar {
	return &BatchBar{w: w, verb: verb}
}

func (b *BatchBar) ensure() {
	if b.bar != nil {
		return
	}
	b.bar = progressbar.NewOptions(1,
		progressbar.OptionSetDescription(b.verb),
		progressbar.OptionSetWriter(b.w),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(b.w, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Handle implements Renderer.
func (b *BatchBar) Handle(e events.Event) {
	switch ev := e.(type) {
	case *events.TaskEvent:
		switch ev.Type() {
		case events.EventTaskQueued:
			b.ensure()
			b.queued++
			b.bar.ChangeMax(b.queued)
		case events.EventTaskStarted:
			if b.bar != nil {
				b.bar.Describe(fmt.Sprintf("%s %s", b.verb, truncatePath(ev.Name, 2)))
			}
		case events.EventTaskRemoved:
			// Withdrawn pending tasks never finish, so they leave the total.
			if b.bar != nil && ev.Status == "pending" {
				b.queued--
				b.bar.ChangeMax(b.queued)
			}
		case events.EventTaskFinished:
			if b.bar == nil {
				return
			}
			_ = b.bar.Add(1)
		}
	case *events.ConfigWarningEvent:
		fmt.Fprintf(b.w, "\nwarning: %s: %s\n", ev.Key, ev.Message)
	case *events.SettledEvent:
		if b.bar != nil {
			_ = b.bar.Finish()
			b.bar = nil
		}
		writeLine(b.w, "%s (%s)", ev.Message, ev.Duration.Round(time.Second))
		b.queued = 0
	}
}

// Wait implements Renderer.
func (b *BatchBar) Wait() {
	if b.bar != nil {
		_ = b.bar.Exit()
	}
}

// Max returns the current bar total.
func (b *BatchBar) Max() int {
	if b.bar == nil {
		return 0
	}
	return b.bar.GetMax()
}
