package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/earthanddusk/hfbackup/internal/constants"
	"github.com/earthanddusk/hfbackup/internal/credentials"
	"github.com/earthanddusk/hfbackup/internal/diskspace"
	"github.com/earthanddusk/hfbackup/internal/logging"
	"github.com/earthanddusk/hfbackup/internal/ratelimit"
	"github.com/earthanddusk/hfbackup/internal/remote"
	"github.com/earthanddusk/hfbackup/internal/util/buffers"
)

type noteKind int

const (
	noteProgress noteKind = iota
	noteStatus
	noteFinished
)

// note is a worker -> manager message.
type note struct {
	taskID   string
	kind     noteKind
	progress int
	message  string
	outcome  Status // finished notes only
	err      error
}

// Worker executes one task. It never touches manager state; everything it
// learns is sent as a note.
type Worker struct {
	taskID string
	params Params

	client  remote.Client
	creds   credentials.Provider
	limiter *ratelimit.RateLimiter
	logger  *logging.Logger

	notes chan<- note
	done  <-chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
	finished  bool
}

func newWorker(parent context.Context, t *Task, client remote.Client, creds credentials.Provider,
	limiter *ratelimit.RateLimiter, logger *logging.Logger, notes chan<- note, done <-chan struct{}) *Worker {
	ctx, cancel := context.WithCancel(parent)
	return &Worker{
		taskID:  t.ID,
		params:  t.Clone().Params,
		client:  client,
		creds:   creds,
		limiter: limiter,
		logger:  logger.Child(map[string]string{"task_id": t.ID, "kind": string(t.Kind)}),
		notes:   notes,
		done:    done,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Cancel requests cooperative cancellation. The worker stops at its next
// checkpoint and reports Cancelled.
func (w *Worker) Cancel() {
	w.cancelled.Store(true)
	w.cancel()
}

func (w *Worker) isCancelled() bool {
	return w.cancelled.Load() || w.ctx.Err() != nil
}

func (w *Worker) send(n note) {
	n.taskID = w.taskID
	select {
	case w.notes <- n:
	case <-w.done:
	}
}

func (w *Worker) progress(pct int) {
	w.send(note{kind: noteProgress, progress: pct})
}

func (w *Worker) status(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	w.logger.Debug().Msg(msg)
	w.send(note{kind: noteStatus, message: msg})
}

func (w *Worker) finish(outcome Status, err error, format string, args ...interface{}) {
	if w.finished {
		return
	}
	w.finished = true
	msg := fmt.Sprintf(format, args...)
	ev := w.logger.Info()
	if outcome == StatusFailed {
		ev = w.logger.Error().Err(err)
	}
	ev.Str("status", string(outcome)).Msg(msg)
	w.send(note{kind: noteFinished, outcome: outcome, message: msg, err: err})
}

// fail finishes with Failed, or Cancelled when err is a cancellation.
func (w *Worker) fail(err error, what string) {
	if errors.Is(err, ErrCancelled) || (w.isCancelled() && errors.Is(err, context.Canceled)) {
		w.finish(StatusCancelled, ErrCancelled, "%s cancelled", what)
		return
	}
	w.finish(StatusFailed, err, "%s failed: %v", what, err)
}

// run executes the task. A panic becomes a Failed finish so the slot is
// always released.
func (w *Worker) run() {
	defer w.cancel()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Interface("panic", r).Msg("worker panicked")
			w.finish(StatusFailed, &internalError{value: r}, "%s failed: internal error: %v", w.params.Name(), r)
		}
	}()

	switch {
	case w.params.Upload != nil:
		w.runUpload(*w.params.Upload)
	case w.params.Download != nil:
		w.runDownload(*w.params.Download)
	default:
		w.finish(StatusFailed, &ValidationError{Message: "no parameters"}, "task has no parameters")
	}
}

// waitTurn blocks on the shared rate limiter.
func (w *Worker) waitTurn() error {
	if w.limiter == nil {
		return w.ctx.Err()
	}
	if err := w.limiter.Wait(w.ctx); err != nil {
		return ErrCancelled
	}
	return nil
}

func (w *Worker) runUpload(p UploadParams) {
	name := filepath.Base(p.LocalPath)
	if w.isCancelled() {
		w.finish(StatusCancelled, ErrCancelled, "upload of %s cancelled before start", name)
		return
	}

	ctx := w.ctx
	if p.Repo.Backend == remote.BackendHub || p.Repo.Backend == "" {
		tok, ok := w.token()
		if !ok {
			err := &CredentialError{Message: "no API token configured (set HF_API_TOKEN, pass --token or set HuggingFace.api_token)"}
			w.finish(StatusFailed, err, "upload of %s failed: %v", name, err)
			return
		}
		ctx = remote.WithToken(ctx, tok)
	}

	info, err := os.Stat(p.LocalPath)
	if err != nil {
		w.finish(StatusFailed, &ValidationError{Field: "local_path", Message: err.Error()}, "upload of %s failed: %v", name, err)
		return
	}
	if info.IsDir() {
		w.finish(StatusFailed, &ValidationError{Field: "local_path", Message: "is a directory"}, "upload of %s failed: is a directory", name)
		return
	}

	w.status("starting upload of %s", name)
	if err := w.waitTurn(); err != nil {
		w.fail(err, "upload of "+name)
		return
	}

	commitMessage := p.CommitMessage
	if commitMessage == "" {
		commitMessage = constants.DefaultCommitMessage
	}
	req := remote.UploadRequest{
		LocalPath:     p.LocalPath,
		PathInRepo:    p.RemotePath(),
		Repo:          p.Repo,
		Revision:      p.Revision,
		CommitMessage: commitMessage,
		CreatePR:      p.CreatePR,
	}

	reporter := newUploadReporter(w)
	res, err := w.client.Upload(ctx, req, reporter.report)
	reporter.stop()
	if err != nil {
		if w.isCancelled() {
			w.finish(StatusCancelled, ErrCancelled, "upload of %s cancelled", name)
			return
		}
		w.fail(wrapRemote(err), "upload of "+name)
		return
	}

	// The commit landed, so a cancel that arrived during the call is too late.
	late := ""
	if w.isCancelled() {
		late = " (cancel requested after the commit was sent)"
	}
	w.progress(100)
	w.status("uploaded %s", name)
	switch {
	case res.PullRequestURL != "":
		w.finish(StatusCompleted, nil, "uploaded %s to %s as %s (pull request %s)%s", name, p.Repo, req.PathInRepo, res.PullRequestURL, late)
	default:
		w.finish(StatusCompleted, nil, "uploaded %s to %s as %s%s", name, p.Repo, req.PathInRepo, late)
	}
}

func (w *Worker) token() (string, bool) {
	if w.creds == nil {
		return "", false
	}
	return w.creds.Token(w.ctx)
}

// uploadReporter converts byte callbacks into throttled percentage notes. The
// transport may call it from its own goroutine, and late callbacks after the
// upload returned are dropped.
type uploadReporter struct {
	w       *Worker
	mu      sync.Mutex
	last    int
	lastAt  time.Time
	stopped bool
}

func newUploadReporter(w *Worker) *uploadReporter {
	return &uploadReporter{w: w, last: -1}
}

func (r *uploadReporter) report(sent, total int64) {
	if total <= 0 {
		return
	}
	pct := percent(sent, total)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || pct == r.last {
		return
	}
	now := time.Now()
	if pct < 100 && now.Sub(r.lastAt) < constants.UploadProgressInterval && r.last >= 0 {
		return
	}
	r.last = pct
	r.lastAt = now
	r.w.progress(pct)
}

func (r *uploadReporter) stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
}

func percent(done, total int64) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(100 * float64(done) / float64(total)))
	if p > 100 {
		p = 100
	}
	if p < 0 {
		p = 0
	}
	return p
}

func (w *Worker) runDownload(p DownloadParams) {
	label := p.Source
	if w.isCancelled() {
		w.finish(StatusCancelled, ErrCancelled, "download of %s cancelled before start", label)
		return
	}

	src, err := resolveSource(p)
	if err != nil {
		w.finish(StatusFailed, err, "download of %s failed: %v", label, err)
		return
	}
	label = src.Repo.String()

	ctx := w.ctx
	if src.Repo.Backend == remote.BackendHub {
		if tok, ok := w.token(); ok {
			ctx = remote.WithToken(ctx, tok)
		} else {
			w.logger.Warn().Str("repo", label).Msg("no API token configured, downloading anonymously")
		}
	}

	w.status("fetching file list of %s", label)
	if err := w.waitTurn(); err != nil {
		w.fail(err, "download of "+label)
		return
	}
	listing, err := w.client.ListFiles(ctx, src.Repo, src.Revision)
	if err != nil {
		w.fail(wrapRemote(err), "download of "+label)
		return
	}

	files := filterFiles(listing, src.SubPath)
	if len(files) == 0 {
		msg := "no files found in " + label
		if src.SubPath != "" {
			msg += " at path " + src.SubPath
		}
		if src.Revision != "" {
			msg += " (revision " + src.Revision + ")"
		}
		w.finish(StatusCompleted, nil, "%s", msg)
		return
	}

	targets := make([]string, len(files))
	var total int64
	for i, f := range files {
		lp, err := localPath(p.TargetDir, f.Path)
		if err != nil {
			w.finish(StatusFailed, err, "download of %s failed: %v", label, err)
			return
		}
		targets[i] = lp
		if f.Size > 0 {
			total += f.Size
		}
	}

	if err := diskspace.CheckAvailableSpace(p.TargetDir, total, constants.DiskSpaceSafetyMargin); err != nil {
		w.finish(StatusFailed, err, "download of %s failed: %v", label, err)
		return
	}

	if w.isCancelled() {
		w.finish(StatusCancelled, ErrCancelled, "download of %s cancelled after fetching file list", label)
		return
	}

	w.status("found %d file(s) in %s, %.2f MB", len(files), label, float64(total)/(1024*1024))

	dl := &downloadProgress{w: w, total: total, last: -1}
	for i, f := range files {
		if w.isCancelled() {
			w.finish(StatusCancelled, ErrCancelled, "download of %s cancelled after %d of %d file(s)", label, i, len(files))
			return
		}
		w.status("downloading file %d/%d: %s", i+1, len(files), f.Path)

		if err := w.downloadFile(ctx, src, f, targets[i], dl); err != nil {
			w.fail(err, "download of "+label)
			return
		}
	}

	w.progress(100)
	w.finish(StatusCompleted, nil, "downloaded %d file(s) from %s into %s", len(files), label, p.TargetDir)
}

// downloadProgress accumulates bytes across every file of one task.
type downloadProgress struct {
	w     *Worker
	done  int64
	total int64
	last  int
}

func (d *downloadProgress) add(n int64) {
	d.done += n
	if d.total <= 0 {
		return
	}
	if pct := percent(d.done, d.total); pct != d.last {
		d.last = pct
		d.w.progress(pct)
	}
}

// downloadFile streams one file into place. The content is written next to
// the target and renamed on success; the partial file is removed on any
// failure or cancellation.
func (w *Worker) downloadFile(ctx context.Context, src Source, f remote.FileInfo, target string, dl *downloadProgress) (err error) {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return &DiskError{Path: filepath.Dir(target), Err: err}
	}
	if err := w.waitTurn(); err != nil {
		return err
	}

	stream, err := w.client.DownloadStream(ctx, src.Repo, src.Revision, f.Path)
	if err != nil {
		return wrapRemote(err)
	}
	defer stream.Body.Close()

	if f.Size < 0 && stream.Size > 0 {
		dl.total += stream.Size
	}

	partial := target + ".incomplete"
	out, err := os.Create(partial)
	if err != nil {
		return &DiskError{Path: partial, Err: err}
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(partial)
		}
	}()

	bufp := buffers.GetChunkBuffer()
	defer buffers.PutChunkBuffer(bufp)
	buf := *bufp
	for {
		if w.isCancelled() {
			return ErrCancelled
		}
		n, rerr := stream.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return &DiskError{Path: partial, Err: werr}
			}
			dl.add(int64(n))
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if w.isCancelled() {
				return ErrCancelled
			}
			return wrapRemote(rerr)
		}
	}

	if err := out.Close(); err != nil {
		return &DiskError{Path: partial, Err: err}
	}
	if err := os.Rename(partial, target); err != nil {
		return &DiskError{Path: target, Err: err}
	}
	return nil
}
