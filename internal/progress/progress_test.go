package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/earthanddusk/hfbackup/internal/events"
)

func taskEvent(et events.EventType, id, name, status, msg string) *events.TaskEvent {
	e := events.NewTaskEvent(et, id, "upload", name)
	e.Status = status
	e.Message = msg
	return e
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeAuto, false},
		{"auto", ModeAuto, false},
		{"BARS", ModeBars, false},
		{" simple ", ModeSimple, false},
		{"lines", ModeLines, false},
		{"none", ModeNone, false},
		{"fancy", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncatePath(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"file.txt", 2, "file.txt"},
		{"dir/file.txt", 2, "dir/file.txt"},
		{"/a/b/c/d/file.txt", 3, "…/c/d/file.txt"},
	}
	for _, tt := range tests {
		if got := truncatePath(tt.in, tt.n); got != tt.want {
			t.Errorf("truncatePath(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestBoardLines(t *testing.T) {
	var buf bytes.Buffer
	b := NewBoard(BoardOptions{Output: &buf, Verb: "Uploading"})

	ch := make(chan events.Event, 16)
	ch <- taskEvent(events.EventTaskQueued, "1", "a.bin", "pending", "")
	ch <- taskEvent(events.EventTaskQueued, "2", "b.bin", "pending", "")
	ch <- taskEvent(events.EventTaskStarted, "1", "a.bin", "running", "")
	ch <- taskEvent(events.EventTaskProgress, "1", "a.bin", "running", "")
	ch <- taskEvent(events.EventTaskFinished, "1", "a.bin", "completed", "uploaded a.bin")
	ch <- taskEvent(events.EventTaskStarted, "2", "b.bin", "running", "")
	ch <- taskEvent(events.EventTaskFinished, "2", "b.bin", "failed", "upload of b.bin failed: boom")
	ch <- &events.ConfigWarningEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventConfigWarning, Time: time.Now()},
		Key:       "UploadQueue.max_concurrent_upload_jobs",
		Message:   "must be positive",
	}
	ch <- &events.SettledEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventQueueSettled, Time: time.Now()},
		Message:   "succeeded with 1 failure(s): 1 of 2 task(s) completed",
	}
	close(ch)
	Run(b, ch)

	want := []string{
		"Uploading [1/2]: a.bin",
		"✓ a.bin: uploaded a.bin",
		"Uploading [2/2]: b.bin",
		"✗ b.bin: upload of b.bin failed: boom",
		"warning: UploadQueue.max_concurrent_upload_jobs: must be positive",
		"succeeded with 1 failure(s): 1 of 2 task(s) completed (0s)",
	}
	got := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(got) != len(want) {
		t.Fatalf("Expected %d lines, got %d:\n%s", len(want), len(got), buf.String())
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestBoardCancelledLine(t *testing.T) {
	var buf bytes.Buffer
	b := NewBoard(BoardOptions{Output: &buf})
	b.Handle(taskEvent(events.EventTaskStarted, "1", "a.bin", "running", ""))
	b.Handle(taskEvent(events.EventTaskFinished, "1", "a.bin", "cancelled", "upload of a.bin cancelled"))
	b.Wait()

	if !strings.Contains(buf.String(), "- a.bin: upload of a.bin cancelled") {
		t.Errorf("Unexpected output %q", buf.String())
	}
}

func TestBatchBarTracksQueue(t *testing.T) {
	var buf bytes.Buffer
	b := NewBatchBar(&buf, "Uploading")

	b.Handle(taskEvent(events.EventTaskQueued, "1", "a.bin", "pending", ""))
	b.Handle(taskEvent(events.EventTaskQueued, "2", "b.bin", "pending", ""))
	b.Handle(taskEvent(events.EventTaskQueued, "3", "c.bin", "pending", ""))
	if got := b.Max(); got != 3 {
		t.Errorf("Expected max 3, got %d", got)
	}

	b.Handle(taskEvent(events.EventTaskRemoved, "3", "c.bin", "pending", ""))
	if got := b.Max(); got != 2 {
		t.Errorf("Expected max 2 after withdrawing a pending task, got %d", got)
	}

	// Removing a finished task does not change the total.
	b.Handle(taskEvent(events.EventTaskFinished, "1", "a.bin", "completed", ""))
	b.Handle(taskEvent(events.EventTaskRemoved, "1", "a.bin", "completed", ""))
	if got := b.Max(); got != 2 {
		t.Errorf("Expected max 2, got %d", got)
	}

	b.Handle(&events.SettledEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventQueueSettled, Time: time.Now()},
		Message:   "all 2 task(s) completed",
	})
	if got := b.Max(); got != 0 {
		t.Errorf("Expected bar to reset after settle, got max %d", got)
	}
	if !strings.Contains(buf.String(), "all 2 task(s) completed") {
		t.Errorf("Expected summary line in output, got %q", buf.String())
	}
	b.Wait()
}

func TestDiscard(t *testing.T) {
	ch := make(chan events.Event, 1)
	ch <- taskEvent(events.EventTaskQueued, "1", "a.bin", "pending", "")
	close(ch)
	Run(Discard{}, ch)
}
