package progress

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/earthanddusk/hfbackup/internal/events"
)

// BoardOptions configures a Board.
type BoardOptions struct {
	Output io.Writer
	// Verb prefixes start lines, e.g. "Uploading".
	Verb string
	// Terminal enables mpb bars. Without it the board prints one line per
	// start and finish.
	Terminal bool
}

// Board shows one bar per running task.
type Board struct {
	opts     BoardOptions
	progress *mpb.Progress

	mu     sync.Mutex
	bars   map[string]*taskBar
	queued int
	index  int
}

type taskBar struct {
	bar    *mpb.Bar
	index  int
	name   string
	status atomic.Value // string
}

// NewBoard creates a board writing to opts.Output.
func NewBoard(opts BoardOptions) *Board {
	if opts.Verb == "" {
		opts.Verb = "Transferring"
	}
	b := &Board{opts: opts, bars: make(map[string]*taskBar)}
	if opts.Terminal {
		b.progress = mpb.New(
			mpb.WithOutput(opts.Output),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(100),
		)
	}
	return b
}

// Writer returns a writer that prints above the bars.
func (b *Board) Writer() io.Writer {
	if b.progress != nil {
		return b.progress
	}
	return b.opts.Output
}

// Handle implements Renderer.
func (b *Board) Handle(e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch ev := e.(type) {
	case *events.TaskEvent:
		b.handleTask(ev)
	case *events.ConfigWarningEvent:
		writeLine(b.Writer(), "warning: %s: %s", ev.Key, ev.Message)
	case *events.SettledEvent:
		writeLine(b.Writer(), "%s (%s)", ev.Message, ev.Duration.Round(time.Second))
		b.queued, b.index = 0, 0
	}
}

func (b *Board) handleTask(ev *events.TaskEvent) {
	switch ev.Type() {
	case events.EventTaskQueued:
		b.queued++

	case events.EventTaskStarted:
		b.index++
		tb := &taskBar{index: b.index, name: truncatePath(ev.Name, 2)}
		tb.status.Store("")
		b.bars[ev.TaskID] = tb
		if b.progress == nil {
			writeLine(b.opts.Output, "%s [%d/%d]: %s", b.opts.Verb, tb.index, b.queued, tb.name)
			return
		}
		total := b.queued
		tb.bar = b.progress.New(100,
			mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
			mpb.PrependDecorators(
				decor.Any(func(decor.Statistics) string {
					return fmt.Sprintf("[%d/%d] %s", tb.index, total, tb.name)
				}, decor.WCSyncSpace),
			),
			mpb.AppendDecorators(
				decor.Percentage(decor.WCSyncSpace),
				decor.Name("  "),
				decor.Any(func(decor.Statistics) string {
					return tb.status.Load().(string)
				}),
			),
			mpb.BarRemoveOnComplete(),
		)

	case events.EventTaskProgress:
		if tb := b.bars[ev.TaskID]; tb != nil && tb.bar != nil {
			tb.bar.SetCurrent(int64(ev.Progress))
		}

	case events.EventTaskStatus, events.EventTaskCancelling:
		if tb := b.bars[ev.TaskID]; tb != nil {
			tb.status.Store(ev.Message)
		}

	case events.EventTaskFinished:
		tb := b.bars[ev.TaskID]
		delete(b.bars, ev.TaskID)
		name := truncatePath(ev.Name, 2)
		if tb != nil && tb.bar != nil {
			if ev.Status == "completed" {
				tb.bar.SetCurrent(100)
				tb.bar.SetTotal(100, true)
			} else {
				tb.bar.Abort(false)
			}
		}
		switch ev.Status {
		case "completed":
			writeLine(b.Writer(), "✓ %s: %s", name, ev.Message)
		case "cancelled":
			writeLine(b.Writer(), "- %s: %s", name, ev.Message)
		default:
			writeLine(b.Writer(), "✗ %s: %s", name, ev.Message)
		}
	}
}

// Wait aborts bars whose task never reported back and waits for mpb to
// finish drawing.
func (b *Board) Wait() {
	b.mu.Lock()
	for id, tb := range b.bars {
		if tb.bar != nil {
			tb.bar.Abort(false)
		}
		delete(b.bars, id)
	}
	b.mu.Unlock()
	if b.progress != nil {
		b.progress.Wait()
	}
}
