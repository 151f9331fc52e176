// Package progress renders transfer queue events in the terminal: one mpb bar
// per running task when stderr is a TTY, a single overall bar, or plain lines.
package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/earthanddusk/hfbackup/internal/events"
)

// Mode selects how progress is shown.
type Mode string

const (
	ModeAuto   Mode = "auto"   // bars on a TTY, lines otherwise
	ModeBars   Mode = "bars"   // one bar per running task
	ModeSimple Mode = "simple" // one overall bar
	ModeLines  Mode = "lines"  // one line per task event, no redraws
	ModeNone   Mode = "none"
)

// ParseMode validates a --progress value.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeBars, ModeSimple, ModeLines, ModeNone:
		return m, nil
	}
	return "", fmt.Errorf("unknown progress mode %q (want auto, bars, simple, lines or none)", s)
}

// Renderer consumes queue events. Handle is called from a single goroutine.
type Renderer interface {
	Handle(e events.Event)
	// Wait flushes output once no more events will arrive.
	Wait()
}

// Run feeds every event from ch to r until ch is closed, then waits for r.
func Run(r Renderer, ch <-chan events.Event) {
	for e := range ch {
		r.Handle(e)
	}
	r.Wait()
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// New picks a renderer for mode. verb is "Uploading" or "Downloading".
func New(mode Mode, out *os.File, verb string) Renderer {
	tty := IsTerminal(out)
	if tty {
		enableANSI(out)
	}
	switch mode {
	case ModeNone:
		return Discard{}
	case ModeSimple:
		return NewBatchBar(out, verb)
	case ModeLines:
		return NewBoard(BoardOptions{Output: out, Verb: verb})
	case ModeBars:
		return NewBoard(BoardOptions{Output: out, Verb: verb, Terminal: true})
	}
	return NewBoard(BoardOptions{Output: out, Verb: verb, Terminal: tty})
}

// Discard ignores every event.
type Discard struct{}

// Handle implements Renderer.
func (Discard) Handle(events.Event) {}

// Wait implements Renderer.
func (Discard) Wait() {}

// truncatePath keeps the last n components of a path.
// Example: truncatePath("/a/b/c/d/file.txt", 3) → "…/c/d/file.txt"
func truncatePath(p string, n int) string {
	parts := strings.Split(filepath.ToSlash(p), "/")
	if len(parts) <= n {
		return p
	}
	return "…/" + strings.Join(parts[len(parts)-n:], "/")
}

func writeLine(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, format+"\n", args...)
}
