package transfer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/earthanddusk/hfbackup/internal/config"
	"github.com/earthanddusk/hfbackup/internal/credentials"
	"github.com/earthanddusk/hfbackup/internal/events"
	"github.com/earthanddusk/hfbackup/internal/remote"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func drain(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestUploadSuccess(t *testing.T) {
	env := newTestEnv(t, 1)
	dir := t.TempDir()

	p := Upload(UploadParams{
		LocalPath:  writeFile(t, dir, "model.bin", "weights"),
		Repo:       remote.Repo{Backend: remote.BackendHub, ID: "acme/widgets", Type: remote.RepoModel},
		RepoFolder: "backups",
	})
	task, err := env.m.Enqueue(p)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if task.ID == "" {
		t.Error("Task ID should not be empty")
	}

	env.wait(t)
	got, err := env.m.Task(task.ID)
	if err != nil {
		t.Fatalf("Task() error = %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("Expected status completed, got %s (%s)", got.Status, got.Message)
	}
	if got.Progress != 100 {
		t.Errorf("Expected progress 100, got %d", got.Progress)
	}
	if got.FinishedAt.IsZero() || got.StartedAt.IsZero() {
		t.Error("StartedAt and FinishedAt should be set")
	}

	paths := env.remote.uploadPaths()
	if len(paths) != 1 || paths[0] != "backups/model.bin" {
		t.Errorf("Expected upload to backups/model.bin, got %v", paths)
	}
	env.remote.mu.Lock()
	tok := env.remote.tokens[0]
	msg := env.remote.uploads[0].CommitMessage
	env.remote.mu.Unlock()
	if tok != "hf_test_token" {
		t.Errorf("Expected token to reach the client, got %q", tok)
	}
	if msg == "" {
		t.Error("Expected a default commit message")
	}
}

func TestUploadMissingCredential(t *testing.T) {
	fake := newFakeRemote()
	m := NewManager(Options{
		Client:      fake,
		Credentials: credentials.Static(""),
		Settings:    newFakeSettings(1),
	})
	defer m.Close()

	task, err := m.Enqueue(uploadParams(t, t.TempDir(), "model.bin"))
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	got, _ := m.Task(task.ID)
	if got.Status != StatusFailed {
		t.Errorf("Expected failed, got %s", got.Status)
	}
	if got.ErrKind != ErrKindCredential {
		t.Errorf("Expected credential error kind, got %q", got.ErrKind)
	}
	if len(fake.uploadPaths()) != 0 {
		t.Error("Upload must not be called without a credential")
	}
}

func TestUploadCredentialCheckedBeforeLocalFile(t *testing.T) {
	fake := newFakeRemote()
	m := NewManager(Options{
		Client:      fake,
		Credentials: credentials.Static(""),
		Settings:    newFakeSettings(1),
	})
	defer m.Close()

	task, err := m.Enqueue(Upload(UploadParams{
		LocalPath: filepath.Join(t.TempDir(), "model.bin"),
		Repo:      remote.Repo{Backend: remote.BackendHub, ID: "acme/widgets", Type: remote.RepoModel},
	}))
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	got, _ := m.Task(task.ID)
	if got.Status != StatusFailed || got.ErrKind != ErrKindCredential {
		t.Errorf("Expected failed with credential kind, got %s %q", got.Status, got.ErrKind)
	}
}

func TestUploadTransportErrorCarriesStatus(t *testing.T) {
	env := newTestEnv(t, 1)
	env.remote.uploadErr["model.bin"] = &remote.HTTPError{StatusCode: 502, Method: "POST", URL: "https://hub.example/api"}

	task, _ := env.m.Enqueue(uploadParams(t, t.TempDir(), "model.bin"))
	env.wait(t)

	got, _ := env.m.Task(task.ID)
	if got.Status != StatusFailed {
		t.Fatalf("Expected failed, got %s", got.Status)
	}
	if got.ErrKind != ErrKindTransport {
		t.Errorf("Expected transport kind, got %q", got.ErrKind)
	}
	var te *TransportError
	if !errors.As(got.Err, &te) || te.StatusCode != 502 {
		t.Errorf("Expected TransportError with status 502, got %v", got.Err)
	}
	if got.Progress != 100 {
		t.Errorf("Failed tasks report progress 100, got %d", got.Progress)
	}
}

func TestBatchRespectsConcurrencyAndFIFO(t *testing.T) {
	env := newTestEnv(t, 2)
	dir := t.TempDir()
	settled := env.bus.Subscribe(events.EventQueueSettled)

	gates := []chan struct{}{env.remote.gate("a.bin"), env.remote.gate("b.bin"), env.remote.gate("c.bin")}
	tasks, err := env.m.EnqueueBatch([]Params{
		uploadParams(t, dir, "a.bin"),
		uploadParams(t, dir, "b.bin"),
		uploadParams(t, dir, "c.bin"),
	})
	if err != nil {
		t.Fatalf("EnqueueBatch() error = %v", err)
	}

	eventually(t, "two uploads running", func() bool { return len(env.remote.uploadPaths()) == 2 })
	if s := env.status(t, tasks[2].ID); s != StatusPending {
		t.Errorf("Expected third task pending, got %s", s)
	}

	visible := env.m.VisibleTasks()
	if len(visible) != 3 || visible[0].ID != tasks[0].ID || visible[1].ID != tasks[1].ID || visible[2].ID != tasks[2].ID {
		t.Errorf("VisibleTasks order wrong: %v", visible)
	}
	if visible[2].Status != StatusPending || visible[2].Progress != 0 {
		t.Errorf("Pending task should show pending/0, got %s/%d", visible[2].Status, visible[2].Progress)
	}

	close(gates[1])
	eventually(t, "third upload to start", func() bool { return len(env.remote.uploadPaths()) == 3 })
	close(gates[0])
	close(gates[2])
	env.wait(t)

	paths := env.remote.uploadPaths()
	if paths[0] != "a.bin" || paths[1] != "b.bin" || paths[2] != "c.bin" {
		t.Errorf("Expected FIFO start order, got %v", paths)
	}
	if max := env.remote.maxConcurrent(); max > 2 {
		t.Errorf("Expected at most 2 concurrent uploads, got %d", max)
	}

	stats := env.m.Stats()
	if stats.Finished != 3 || stats.Completed != 3 || !stats.Settled {
		t.Errorf("Unexpected stats %+v", stats)
	}

	time.Sleep(20 * time.Millisecond)
	evs := drain(settled)
	if len(evs) != 1 {
		t.Fatalf("Expected exactly one settled event, got %d", len(evs))
	}
	se := evs[0].(*events.SettledEvent)
	if se.Submitted != 3 || se.Completed != 3 || se.Outcome != string(OutcomeAllSucceeded) {
		t.Errorf("Unexpected settled event %+v", se)
	}
}

func TestCompletionConservation(t *testing.T) {
	env := newTestEnv(t, 2)
	dir := t.TempDir()
	names := []string{"1.bin", "2.bin", "3.bin", "4.bin", "5.bin"}
	var gates []chan struct{}
	var ps []Params
	for _, n := range names {
		gates = append(gates, env.remote.gate(n))
		ps = append(ps, uploadParams(t, dir, n))
	}
	if _, err := env.m.EnqueueBatch(ps); err != nil {
		t.Fatal(err)
	}

	check := func() {
		s := env.m.Stats()
		if s.Finished+s.Running+s.Cancelling+s.Pending != s.Submitted {
			t.Errorf("conservation broken: %+v", s)
		}
		if s.Running+s.Cancelling > 2 {
			t.Errorf("more than 2 active: %+v", s)
		}
	}

	for i, g := range gates {
		eventually(t, "upload to start", func() bool { return len(env.remote.uploadPaths()) > i })
		check()
		close(g)
		check()
	}
	env.wait(t)
	check()
	if p := env.m.OverallProgress(); p != 100 {
		t.Errorf("Expected overall progress 100, got %d", p)
	}
}

func TestOverallProgress(t *testing.T) {
	env := newTestEnv(t, 4)
	dir := t.TempDir()
	g3, g4 := env.remote.gate("3.bin"), env.remote.gate("4.bin")
	defer close(g3)
	defer close(g4)
	env.m.EnqueueBatch([]Params{
		uploadParams(t, dir, "1.bin"),
		uploadParams(t, dir, "2.bin"),
		uploadParams(t, dir, "3.bin"),
		uploadParams(t, dir, "4.bin"),
	})

	eventually(t, "two tasks to finish", func() bool { return env.m.Stats().Finished == 2 })
	if p := env.m.OverallProgress(); p != 50 {
		t.Errorf("Expected overall progress 50, got %d", p)
	}
}

func TestDispatchIsIdempotentWhenIdle(t *testing.T) {
	env := newTestEnv(t, 1)
	all := env.bus.SubscribeAll()

	before := env.m.Stats()
	for i := 0; i < 3; i++ {
		env.m.call(env.m.dispatch)
	}
	after := env.m.Stats()

	if before != after {
		t.Errorf("dispatch changed state: %+v -> %+v", before, after)
	}
	if evs := drain(all); len(evs) != 0 {
		t.Errorf("Expected no events, got %d", len(evs))
	}
}

func TestDispatchAfterSettleDoesNotRepeatEvent(t *testing.T) {
	env := newTestEnv(t, 1)
	settled := env.bus.Subscribe(events.EventQueueSettled)

	env.m.Enqueue(uploadParams(t, t.TempDir(), "a.bin"))
	env.wait(t)
	env.m.call(env.m.dispatch)
	env.m.call(env.m.dispatch)

	time.Sleep(20 * time.Millisecond)
	if n := len(drain(settled)); n != 1 {
		t.Errorf("Expected one settled event, got %d", n)
	}
}

func TestNewSessionAfterSettle(t *testing.T) {
	env := newTestEnv(t, 1)
	settled := env.bus.Subscribe(events.EventQueueSettled)
	dir := t.TempDir()

	env.m.EnqueueBatch([]Params{uploadParams(t, dir, "a.bin"), uploadParams(t, dir, "b.bin")})
	env.wait(t)
	env.m.Enqueue(uploadParams(t, dir, "c.bin"))
	env.wait(t)

	sum := env.m.Summary()
	if sum.Submitted != 1 || sum.Completed != 1 {
		t.Errorf("Expected a fresh session of 1, got %+v", sum)
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(drain(settled)); n != 2 {
		t.Errorf("Expected two settled events, got %d", n)
	}
}

func TestCancelAllPendingIsSynchronous(t *testing.T) {
	env := newTestEnv(t, 1)
	dir := t.TempDir()
	env.remote.gate("a.bin")

	tasks, _ := env.m.EnqueueBatch([]Params{
		uploadParams(t, dir, "a.bin"),
		uploadParams(t, dir, "b.bin"),
		uploadParams(t, dir, "c.bin"),
	})
	eventually(t, "first upload to start", func() bool { return len(env.remote.uploadPaths()) == 1 })

	rep, err := env.m.CancelAll()
	if err != nil {
		t.Fatal(err)
	}
	if rep.Requested != 1 || rep.Dropped != 2 {
		t.Errorf("Unexpected report %+v", rep)
	}
	for _, task := range tasks[1:] {
		if _, err := env.m.Task(task.ID); !errors.Is(err, ErrTaskNotFound) {
			t.Errorf("Expected pending task %s to be gone, got %v", task.ID, err)
		}
	}
	if s := env.status(t, tasks[0].ID); s != StatusCancelling && s != StatusCancelled {
		t.Errorf("Expected running task to be cancelling, got %s", s)
	}

	got := env.waitStatus(t, tasks[0].ID, StatusCancelled)
	if got.ErrKind != ErrKindCancelled {
		t.Errorf("Expected cancelled kind, got %q", got.ErrKind)
	}
	env.wait(t)

	sum := env.m.Summary()
	if sum.Outcome() != OutcomeCancelled || sum.Cancelled != 3 {
		t.Errorf("Unexpected summary %+v", sum)
	}
	if len(env.remote.uploadPaths()) != 1 {
		t.Error("Pending uploads must never reach the client")
	}
}

func TestCancelOneAndDoubleCancel(t *testing.T) {
	env := newTestEnv(t, 1)
	dir := t.TempDir()
	env.remote.ignoreCtx["a.bin"] = true
	gate := env.remote.gate("a.bin")

	tasks, _ := env.m.EnqueueBatch([]Params{uploadParams(t, dir, "a.bin"), uploadParams(t, dir, "b.bin")})
	eventually(t, "first upload to start", func() bool { return len(env.remote.uploadPaths()) == 1 })

	if err := env.m.Cancel(tasks[1].ID); err != nil {
		t.Errorf("Cancel(pending) error = %v", err)
	}
	if err := env.m.Cancel(tasks[0].ID); err != nil {
		t.Errorf("Cancel(running) error = %v", err)
	}
	var inv *InvalidOperationError
	if err := env.m.Cancel(tasks[0].ID); !errors.As(err, &inv) {
		t.Errorf("Expected InvalidOperationError on double cancel, got %v", err)
	}
	if err := env.m.Cancel("nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}

	// The upload ignores ctx and succeeds, so the commit landed.
	close(gate)
	env.wait(t)
	got, _ := env.m.Task(tasks[0].ID)
	if got.Status != StatusCompleted {
		t.Errorf("Expected completed, got %s", got.Status)
	}
	if !strings.Contains(got.Message, "cancel requested after the commit was sent") {
		t.Errorf("Expected message to note the late cancel, got %q", got.Message)
	}
	if err := env.m.Cancel(tasks[0].ID); !errors.As(err, &inv) {
		t.Errorf("Expected InvalidOperationError for terminal task, got %v", err)
	}
}

func TestCancelRunningUploadThatHonoursContext(t *testing.T) {
	env := newTestEnv(t, 1)
	dir := t.TempDir()
	env.remote.gate("a.bin")

	task, _ := env.m.Enqueue(uploadParams(t, dir, "a.bin"))
	eventually(t, "upload to start", func() bool { return len(env.remote.uploadPaths()) == 1 })

	if err := env.m.Cancel(task.ID); err != nil {
		t.Fatalf("Cancel(running) error = %v", err)
	}
	env.wait(t)

	got, _ := env.m.Task(task.ID)
	if got.Status != StatusCancelled {
		t.Errorf("Expected cancelled, got %s", got.Status)
	}
	if got.ErrKind != ErrKindCancelled {
		t.Errorf("Expected cancelled kind, got %q", got.ErrKind)
	}
}

func TestRemove(t *testing.T) {
	env := newTestEnv(t, 1)
	dir := t.TempDir()
	gate := env.remote.gate("a.bin")

	tasks, _ := env.m.EnqueueBatch([]Params{uploadParams(t, dir, "a.bin"), uploadParams(t, dir, "b.bin")})
	eventually(t, "first upload to start", func() bool { return len(env.remote.uploadPaths()) == 1 })

	var inv *InvalidOperationError
	if err := env.m.Remove(tasks[0].ID); !errors.As(err, &inv) {
		t.Errorf("Expected InvalidOperationError removing a running task, got %v", err)
	}
	if err := env.m.Remove(tasks[1].ID); err != nil {
		t.Errorf("Remove(pending) error = %v", err)
	}
	if err := env.m.Remove(tasks[1].ID); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
	if s := env.m.Stats(); s.Submitted != 1 {
		t.Errorf("Removed pending task should leave the session, submitted = %d", s.Submitted)
	}

	close(gate)
	env.wait(t)
	if err := env.m.Remove(tasks[0].ID); err != nil {
		t.Errorf("Remove(finished) error = %v", err)
	}
	if s := env.m.Stats(); s.Total() != 0 {
		t.Errorf("Expected empty registry, got %+v", s)
	}
}

func TestClearPending(t *testing.T) {
	env := newTestEnv(t, 1)
	dir := t.TempDir()
	gate := env.remote.gate("a.bin")

	tasks, _ := env.m.EnqueueBatch([]Params{
		uploadParams(t, dir, "a.bin"),
		uploadParams(t, dir, "b.bin"),
		uploadParams(t, dir, "c.bin"),
	})
	eventually(t, "first upload to start", func() bool { return len(env.remote.uploadPaths()) == 1 })

	n, err := env.m.ClearPending()
	if err != nil || n != 2 {
		t.Errorf("ClearPending() = %d, %v", n, err)
	}
	if s := env.status(t, tasks[0].ID); s != StatusRunning {
		t.Errorf("Running task must be untouched, got %s", s)
	}

	close(gate)
	env.wait(t)
	if len(env.remote.uploadPaths()) != 1 {
		t.Error("Cleared tasks must not run")
	}
	if sum := env.m.Summary(); sum.Submitted != 1 || sum.Outcome() != OutcomeAllSucceeded {
		t.Errorf("Unexpected summary %+v", sum)
	}
}

func TestProgressIsClampedAndMonotonic(t *testing.T) {
	env := newTestEnv(t, 1)
	gate := env.remote.gate("a.bin")
	defer close(gate)

	task, _ := env.m.Enqueue(uploadParams(t, t.TempDir(), "a.bin"))
	eventually(t, "upload to start", func() bool { return len(env.remote.uploadPaths()) == 1 })

	for _, tc := range []struct {
		send, want int
	}{
		{40, 40},
		{20, 40},
		{-5, 40},
		{150, 100},
	} {
		env.m.notes <- note{taskID: task.ID, kind: noteProgress, progress: tc.send}
		eventually(t, "progress to apply", func() bool {
			got, _ := env.m.Task(task.ID)
			return got.Progress == tc.want
		})
		if s := env.status(t, task.ID); s != StatusRunning {
			t.Errorf("Progress must not change status, got %s", s)
		}
	}
}

func TestWorkerPanicReleasesSlot(t *testing.T) {
	env := newTestEnv(t, 1)
	env.remote.panicOn["boom.bin"] = true
	dir := t.TempDir()

	tasks, _ := env.m.EnqueueBatch([]Params{uploadParams(t, dir, "boom.bin"), uploadParams(t, dir, "ok.bin")})
	env.wait(t)

	first, _ := env.m.Task(tasks[0].ID)
	if first.Status != StatusFailed || first.ErrKind != ErrKindInternal {
		t.Errorf("Expected failed/internal, got %s/%s", first.Status, first.ErrKind)
	}
	second, _ := env.m.Task(tasks[1].ID)
	if second.Status != StatusCompleted {
		t.Errorf("Expected next task to run, got %s", second.Status)
	}
}

func TestEnqueueValidation(t *testing.T) {
	env := newTestEnv(t, 1)

	tests := []struct {
		name string
		p    Params
	}{
		{"missing local path", Upload(UploadParams{Repo: remote.Repo{ID: "o/r"}})},
		{"missing repo", Upload(UploadParams{LocalPath: "/tmp/x"})},
		{"bad repo type", Upload(UploadParams{LocalPath: "/tmp/x", Repo: remote.Repo{ID: "o/r", Type: "widget"}})},
		{"pr on s3", Upload(UploadParams{LocalPath: "/tmp/x", Repo: remote.Repo{Backend: remote.BackendS3, ID: "b"}, CreatePR: true})},
		{"missing target", Download(DownloadParams{Source: "o/r"})},
		{"one segment source", Download(DownloadParams{Source: "justone", TargetDir: "/tmp"})},
		{"empty", Params{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.m.Enqueue(tt.p)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("Expected ValidationError, got %v", err)
			}
		})
	}

	if s := env.m.Stats(); s.Total() != 0 || s.Submitted != 0 {
		t.Errorf("Invalid params must not create tasks: %+v", s)
	}

	// One bad entry rejects the whole batch.
	_, err := env.m.EnqueueBatch([]Params{uploadParams(t, t.TempDir(), "ok.bin"), {}})
	if err == nil {
		t.Error("Expected batch validation error")
	}
	if s := env.m.Stats(); s.Total() != 0 {
		t.Errorf("Expected nothing enqueued, got %+v", s)
	}
}

func TestConcurrencyChangeAppliesAtNextDispatch(t *testing.T) {
	env := newTestEnv(t, 1)
	dir := t.TempDir()
	g1 := env.remote.gate("1.bin")
	g2 := env.remote.gate("2.bin")
	g3 := env.remote.gate("3.bin")

	env.m.EnqueueBatch([]Params{uploadParams(t, dir, "1.bin"), uploadParams(t, dir, "2.bin"), uploadParams(t, dir, "3.bin")})
	eventually(t, "first upload", func() bool { return len(env.remote.uploadPaths()) == 1 })

	env.settings.set(func(s *config.QueueSettings) { s.MaxConcurrency = 3 })
	time.Sleep(20 * time.Millisecond)
	if n := len(env.remote.uploadPaths()); n != 1 {
		t.Errorf("Limit change must not start work by itself, got %d uploads", n)
	}

	close(g1)
	eventually(t, "remaining uploads", func() bool { return len(env.remote.uploadPaths()) == 3 })
	close(g2)
	close(g3)
	env.wait(t)
}

func TestNonPositiveConcurrencyFallsBackToOne(t *testing.T) {
	env := newTestEnv(t, 0)
	dir := t.TempDir()
	gate := env.remote.gate("1.bin")

	env.m.EnqueueBatch([]Params{uploadParams(t, dir, "1.bin"), uploadParams(t, dir, "2.bin")})
	eventually(t, "first upload", func() bool { return len(env.remote.uploadPaths()) == 1 })
	time.Sleep(20 * time.Millisecond)
	if n := len(env.remote.uploadPaths()); n != 1 {
		t.Errorf("Expected one running with limit 0, got %d", n)
	}
	close(gate)
	env.wait(t)
}

func TestConfigWarningPublishedOnce(t *testing.T) {
	env := newTestEnv(t, 1)
	warnings := env.bus.Subscribe(events.EventConfigWarning)
	env.settings.set(func(s *config.QueueSettings) {
		s.Warnings = []config.Warning{{Key: "UploadQueue.max_concurrent_upload_jobs", Message: `invalid value "abc", using 1`}}
	})

	dir := t.TempDir()
	env.m.EnqueueBatch([]Params{uploadParams(t, dir, "1.bin"), uploadParams(t, dir, "2.bin")})
	env.wait(t)

	time.Sleep(20 * time.Millisecond)
	evs := drain(warnings)
	if len(evs) != 1 {
		t.Fatalf("Expected one config warning, got %d", len(evs))
	}
	if w := evs[0].(*events.ConfigWarningEvent); w.Key != "UploadQueue.max_concurrent_upload_jobs" {
		t.Errorf("Unexpected warning %+v", w)
	}
}

func TestAutoClearCompleted(t *testing.T) {
	env := newTestEnv(t, 1)
	env.settings.set(func(s *config.QueueSettings) { s.AutoClearCompleted = true })
	env.remote.uploadErr["bad.bin"] = errors.New("connection reset by peer")
	dir := t.TempDir()

	tasks, _ := env.m.EnqueueBatch([]Params{uploadParams(t, dir, "ok.bin"), uploadParams(t, dir, "bad.bin")})
	env.wait(t)

	if _, err := env.m.Task(tasks[0].ID); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Completed task should be cleared, got %v", err)
	}
	failed, err := env.m.Task(tasks[1].ID)
	if err != nil || failed.Status != StatusFailed {
		t.Errorf("Failed task should stay, got %v %v", failed.Status, err)
	}
	if sum := env.m.Summary(); sum.Completed != 1 || sum.Failed != 1 || sum.Outcome() != OutcomePartialFailure {
		t.Errorf("Unexpected summary %+v", sum)
	}
}

func TestShutdownForcedWhenWorkerIgnoresCancel(t *testing.T) {
	fake := newFakeRemote()
	fake.ignoreCtx["stuck.bin"] = true
	gate := fake.gate("stuck.bin")
	defer close(gate)

	m := NewManager(Options{Client: fake, Credentials: credentials.Static("tok"), Settings: newFakeSettings(1)})
	m.Enqueue(uploadParams(t, t.TempDir(), "stuck.bin"))
	eventually(t, "upload to start", func() bool { return len(fake.uploadPaths()) == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := m.Shutdown(ctx); !errors.Is(err, ErrForcedShutdown) {
		t.Errorf("Expected ErrForcedShutdown, got %v", err)
	}
	if _, err := m.Enqueue(uploadParams(t, t.TempDir(), "late.bin")); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Expected ErrManagerClosed after shutdown, got %v", err)
	}
}

func TestShutdownCooperative(t *testing.T) {
	env := newTestEnv(t, 2)
	dir := t.TempDir()
	env.remote.gate("a.bin")
	env.remote.gate("b.bin")

	env.m.EnqueueBatch([]Params{uploadParams(t, dir, "a.bin"), uploadParams(t, dir, "b.bin"), uploadParams(t, dir, "c.bin")})
	eventually(t, "uploads to start", func() bool { return len(env.remote.uploadPaths()) == 2 })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.m.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestWaitWhenIdle(t *testing.T) {
	env := newTestEnv(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := env.m.Wait(ctx); err != nil {
		t.Errorf("Wait() on idle manager error = %v", err)
	}
}

func TestTaskEventsInOrder(t *testing.T) {
	env := newTestEnv(t, 1)
	ch := env.bus.SubscribeAll()

	task, _ := env.m.Enqueue(uploadParams(t, t.TempDir(), "a.bin"))
	env.wait(t)
	time.Sleep(20 * time.Millisecond)

	var seen []events.EventType
	for _, e := range drain(ch) {
		if te, ok := e.(*events.TaskEvent); ok && te.TaskID == task.ID {
			if len(seen) == 0 || seen[len(seen)-1] != te.Type() {
				seen = append(seen, te.Type())
			}
		}
	}
	if len(seen) < 3 || seen[0] != events.EventTaskQueued || seen[1] != events.EventTaskStarted ||
		seen[len(seen)-1] != events.EventTaskFinished {
		t.Errorf("Unexpected event order %v", seen)
	}
}
