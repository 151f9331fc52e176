// Package transfer runs upload and download tasks through a bounded queue.
//
// A Manager owns every task. Callers enqueue parameters and get back a Task
// snapshot; workers report progress and completion to the manager over a
// channel, and the manager publishes the resulting state on the event bus.
package transfer

import (
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/earthanddusk/hfbackup/internal/remote"
)

// Kind indicates whether a task is an upload or download.
type Kind string

const (
	KindUpload   Kind = "upload"
	KindDownload Kind = "download"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"    // Waiting for a worker slot
	StatusRunning    Status = "running"    // A worker is executing it
	StatusCancelling Status = "cancelling" // Cancellation requested, worker not yet stopped
	StatusCancelled  Status = "cancelled"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether s is Completed, Failed or Cancelled.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// UploadParams describes one file upload.
type UploadParams struct {
	LocalPath string
	Repo      remote.Repo
	// RepoFolder is prepended to the path in the repository.
	RepoFolder string
	// PathInRepo overrides the file name, e.g. "sub/dir/file.bin" when the
	// file came from a directory walk. Slash separated.
	PathInRepo    string
	Revision      string
	CommitMessage string
	CreatePR      bool
}

// RemotePath returns the destination path inside the repository.
func (p UploadParams) RemotePath() string {
	name := filepath.ToSlash(p.PathInRepo)
	if name == "" {
		name = filepath.Base(p.LocalPath)
	}
	folder := strings.Trim(filepath.ToSlash(p.RepoFolder), "/")
	if folder == "" {
		return strings.TrimLeft(path.Clean("/"+name), "/")
	}
	return strings.TrimLeft(path.Join("/", folder, name), "/")
}

// DownloadParams describes one repository download.
type DownloadParams struct {
	// Source is a repo URL or id, see ParseSource.
	Source    string
	TargetDir string
	// Revision and SubPath override what Source names.
	Revision string
	SubPath  string
}

// Params is the immutable, kind-specific part of a task. Exactly one field is
// set.
type Params struct {
	Upload   *UploadParams
	Download *DownloadParams
}

// Upload wraps p as task parameters.
func Upload(p UploadParams) Params {
	return Params{Upload: &p}
}

// Download wraps p as task parameters.
func Download(p DownloadParams) Params {
	return Params{Download: &p}
}

// Kind returns the task kind these parameters describe.
func (p Params) Kind() Kind {
	if p.Download != nil {
		return KindDownload
	}
	return KindUpload
}

// Name is a short display label.
func (p Params) Name() string {
	switch {
	case p.Upload != nil:
		return filepath.Base(p.Upload.LocalPath)
	case p.Download != nil:
		return p.Download.Source
	}
	return ""
}

// Validate checks required fields. Download sources are parsed here as well as
// in the worker.
func (p Params) Validate() error {
	switch {
	case p.Upload != nil && p.Download != nil:
		return &ValidationError{Message: "both upload and download parameters set"}
	case p.Upload != nil:
		u := p.Upload
		if strings.TrimSpace(u.LocalPath) == "" {
			return &ValidationError{Field: "local_path", Message: "is required"}
		}
		if strings.TrimSpace(u.Repo.ID) == "" {
			return &ValidationError{Field: "repo", Message: "is required"}
		}
		if u.Repo.Backend == remote.BackendHub || u.Repo.Backend == "" {
			if _, err := remote.ParseRepoType(string(u.Repo.Type)); err != nil {
				return &ValidationError{Field: "repo_type", Message: err.Error()}
			}
		} else if u.CreatePR {
			return &ValidationError{Field: "create_pr", Message: "pull requests are only supported on the hub"}
		}
		if u.RemotePath() == "" {
			return &ValidationError{Field: "path_in_repo", Message: "resolves to an empty path"}
		}
		return nil
	case p.Download != nil:
		d := p.Download
		if strings.TrimSpace(d.TargetDir) == "" {
			return &ValidationError{Field: "target_dir", Message: "is required"}
		}
		_, err := resolveSource(*d)
		return err
	}
	return &ValidationError{Message: "no parameters"}
}

// Task is a snapshot of one unit of work. Values returned by the Manager are
// copies; changing them has no effect on the queue.
type Task struct {
	ID       string
	Kind     Kind
	Params   Params
	Status   Status
	Progress int // 0-100
	Message  string
	ErrKind  ErrKind
	Err      error

	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

func newTask(p Params) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Kind:      p.Kind(),
		Params:    p,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
}

// Name returns the display label.
func (t Task) Name() string {
	return t.Params.Name()
}

// Clone returns a copy that shares no mutable state with t.
func (t *Task) Clone() Task {
	c := *t
	if t.Params.Upload != nil {
		u := *t.Params.Upload
		c.Params.Upload = &u
	}
	if t.Params.Download != nil {
		d := *t.Params.Download
		c.Params.Download = &d
	}
	return c
}
