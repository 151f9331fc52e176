package transfer

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/earthanddusk/hfbackup/internal/config"
	"github.com/earthanddusk/hfbackup/internal/credentials"
	"github.com/earthanddusk/hfbackup/internal/events"
	"github.com/earthanddusk/hfbackup/internal/remote"
)

// fakeRemote is a scriptable remote.Client. Uploads for a path with a gate
// block until the gate is closed or the context is cancelled.
type fakeRemote struct {
	mu sync.Mutex

	gates      map[string]chan struct{} // PathInRepo -> gate
	ignoreCtx  map[string]bool          // gate waits ignore ctx
	uploadErr  map[string]error
	panicOn    map[string]bool
	uploads    []remote.UploadRequest
	tokens     []string
	running    int
	maxRunning int

	files     []remote.FileInfo
	listErr   error
	listCalls int
	contents  map[string]string
	sizes     map[string]int64 // stream sizes; missing means len(content)
	streamErr map[string]error // error after the first chunk
	block     map[string]bool  // block after the first chunk until ctx is done
	firstRead chan string
	downloads []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		gates:     make(map[string]chan struct{}),
		ignoreCtx: make(map[string]bool),
		uploadErr: make(map[string]error),
		panicOn:   make(map[string]bool),
		contents:  make(map[string]string),
		sizes:     make(map[string]int64),
		streamErr: make(map[string]error),
		block:     make(map[string]bool),
		firstRead: make(chan string, 16),
	}
}

func (f *fakeRemote) gate(path string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[path] = ch
	return ch
}

func (f *fakeRemote) Upload(ctx context.Context, req remote.UploadRequest, progress remote.ProgressFunc) (remote.UploadResult, error) {
	f.mu.Lock()
	f.uploads = append(f.uploads, req)
	f.tokens = append(f.tokens, remote.TokenFrom(ctx))
	f.running++
	if f.running > f.maxRunning {
		f.maxRunning = f.running
	}
	gate := f.gates[req.PathInRepo]
	ignore := f.ignoreCtx[req.PathInRepo]
	err := f.uploadErr[req.PathInRepo]
	boom := f.panicOn[req.PathInRepo]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.running--
		f.mu.Unlock()
	}()

	if boom {
		panic("upload exploded")
	}
	if progress != nil {
		progress(0, 100)
	}
	if gate != nil {
		if ignore {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return remote.UploadResult{}, ctx.Err()
			}
		}
	}
	if err != nil {
		return remote.UploadResult{}, err
	}
	if progress != nil {
		progress(100, 100)
	}
	return remote.UploadResult{CommitURL: "https://hub.example/commit/1"}, nil
}

func (f *fakeRemote) ListFiles(ctx context.Context, repo remote.Repo, revision string) ([]remote.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]remote.FileInfo(nil), f.files...), nil
}

func (f *fakeRemote) DownloadStream(ctx context.Context, repo remote.Repo, revision, path string) (*remote.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads = append(f.downloads, path)
	content, ok := f.contents[path]
	if !ok {
		return nil, &remote.NotFoundError{Repo: repo, Revision: revision, Path: path}
	}
	size, ok := f.sizes[path]
	if !ok {
		size = int64(len(content))
	}
	return &remote.Stream{
		Body: &fakeBody{
			ctx:       ctx,
			path:      path,
			r:         strings.NewReader(content),
			errAfter:  f.streamErr[path],
			block:     f.block[path],
			firstRead: f.firstRead,
		},
		Size: size,
	}, nil
}

func (f *fakeRemote) uploadPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, u := range f.uploads {
		out = append(out, u.PathInRepo)
	}
	return out
}

func (f *fakeRemote) downloadPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.downloads...)
}

func (f *fakeRemote) maxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxRunning
}

// fakeBody returns content in chunks. After the first chunk it can fail or
// block until its context is cancelled.
type fakeBody struct {
	ctx       context.Context
	path      string
	r         io.Reader
	reads     int
	errAfter  error
	block     bool
	firstRead chan string
}

func (b *fakeBody) Read(p []byte) (int, error) {
	b.reads++
	if b.reads == 2 {
		if b.errAfter != nil {
			return 0, b.errAfter
		}
		if b.block {
			<-b.ctx.Done()
			return 0, b.ctx.Err()
		}
	}
	if len(p) > 1024 {
		p = p[:1024]
	}
	n, err := b.r.Read(p)
	if b.reads == 1 {
		b.firstRead <- b.path
	}
	return n, err
}

func (b *fakeBody) Close() error { return nil }

// fakeSettings is a mutable settings source.
type fakeSettings struct {
	mu sync.Mutex
	s  config.QueueSettings
}

func newFakeSettings(max int) *fakeSettings {
	return &fakeSettings{s: config.QueueSettings{MaxConcurrency: max}}
}

func (f *fakeSettings) QueueSettings(string) config.QueueSettings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s
}

func (f *fakeSettings) set(fn func(*config.QueueSettings)) {
	f.mu.Lock()
	fn(&f.s)
	f.mu.Unlock()
}

type testEnv struct {
	m        *Manager
	remote   *fakeRemote
	settings *fakeSettings
	bus      *events.EventBus
}

func newTestEnv(t *testing.T, max int) *testEnv {
	t.Helper()
	env := &testEnv{
		remote:   newFakeRemote(),
		settings: newFakeSettings(max),
		bus:      events.NewEventBus(0),
	}
	env.m = NewManager(Options{
		Queue:       config.QueueUpload,
		Client:      env.remote,
		Credentials: credentials.Static("hf_test_token"),
		Settings:    env.settings,
		Events:      env.bus,
	})
	t.Cleanup(func() {
		env.m.Close()
		env.bus.Close()
	})
	return env
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (env *testEnv) status(t *testing.T, id string) Status {
	t.Helper()
	task, err := env.m.Task(id)
	if err != nil {
		return ""
	}
	return task.Status
}

func (env *testEnv) waitStatus(t *testing.T, id string, want Status) Task {
	t.Helper()
	eventually(t, fmt.Sprintf("task %s to be %s", id, want), func() bool {
		return env.status(t, id) == want
	})
	task, _ := env.m.Task(id)
	return task
}

func (env *testEnv) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.m.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func uploadParams(t *testing.T, dir, name string) Params {
	t.Helper()
	return Upload(UploadParams{
		LocalPath: writeFile(t, dir, name, "payload "+name),
		Repo:      remote.Repo{Backend: remote.BackendHub, ID: "acme/widgets", Type: remote.RepoModel},
	})
}
