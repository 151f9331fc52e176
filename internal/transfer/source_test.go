package transfer

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/earthanddusk/hfbackup/internal/remote"
)

func TestParseSource(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Source
		wantErr bool
	}{
		{
			name: "bare id",
			raw:  "acme/widgets",
			want: Source{Repo: remote.Repo{Backend: remote.BackendHub, ID: "acme/widgets", Type: remote.RepoModel}, Revision: "main"},
		},
		{
			name: "hub url",
			raw:  "https://huggingface.co/acme/widgets",
			want: Source{Repo: remote.Repo{Backend: remote.BackendHub, ID: "acme/widgets", Type: remote.RepoModel}, Revision: "main"},
		},
		{
			name: "tree with path",
			raw:  "https://huggingface.co/acme/widgets/tree/dev/checkpoints/step-100",
			want: Source{Repo: remote.Repo{Backend: remote.BackendHub, ID: "acme/widgets", Type: remote.RepoModel}, Revision: "dev", SubPath: "checkpoints/step-100"},
		},
		{
			name: "tree without path",
			raw:  "https://huggingface.co/acme/widgets/tree/v2",
			want: Source{Repo: remote.Repo{Backend: remote.BackendHub, ID: "acme/widgets", Type: remote.RepoModel}, Revision: "v2"},
		},
		{
			name: "dataset",
			raw:  "https://huggingface.co/datasets/acme/corpus",
			want: Source{Repo: remote.Repo{Backend: remote.BackendHub, ID: "acme/corpus", Type: remote.RepoDataset}, Revision: "main"},
		},
		{
			name: "space",
			raw:  "spaces/acme/demo",
			want: Source{Repo: remote.Repo{Backend: remote.BackendHub, ID: "acme/demo", Type: remote.RepoSpace}, Revision: "main"},
		},
		{
			name: "extra segments ignored",
			raw:  "https://huggingface.co/acme/widgets/blob/main/README.md",
			want: Source{Repo: remote.Repo{Backend: remote.BackendHub, ID: "acme/widgets", Type: remote.RepoModel}, Revision: "main"},
		},
		{
			name: "s3",
			raw:  "s3://backups/models/v1/",
			want: Source{Repo: remote.Repo{Backend: remote.BackendS3, ID: "backups/models/v1"}},
		},
		{
			name: "azure scheme",
			raw:  "az://container",
			want: Source{Repo: remote.Repo{Backend: remote.BackendAzure, ID: "container"}},
		},
		{
			name: "azure url",
			raw:  "https://myacct.blob.core.windows.net/models/run-7",
			want: Source{Repo: remote.Repo{Backend: remote.BackendAzure, ID: "models/run-7", Account: "myacct"}},
		},
		{name: "empty", raw: "  ", wantErr: true},
		{name: "one segment", raw: "widgets", wantErr: true},
		{name: "bucketless", raw: "s3:///prefix", wantErr: true},
		{name: "unsupported scheme", raw: "ftp://host/a/b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSource(tt.raw)
			if tt.wantErr {
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Errorf("Expected ValidationError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSource(%q) error = %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("ParseSource(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestResolveSourceOverrides(t *testing.T) {
	src, err := resolveSource(DownloadParams{
		Source:    "https://huggingface.co/acme/widgets/tree/dev/a",
		TargetDir: "/tmp",
		Revision:  "v3",
		SubPath:   "/b/c/",
	})
	if err != nil {
		t.Fatal(err)
	}
	if src.Revision != "v3" || src.SubPath != "b/c" {
		t.Errorf("Expected overrides v3 and b/c, got %q and %q", src.Revision, src.SubPath)
	}
}

func TestFilterFiles(t *testing.T) {
	files := []remote.FileInfo{
		{Path: "README.md"},
		{Path: "checkpoints"},
		{Path: "checkpoints/a.bin"},
		{Path: "checkpoints/sub/b.bin"},
		{Path: "checkpoints-old/c.bin"},
	}

	if got := filterFiles(files, ""); len(got) != len(files) {
		t.Errorf("Empty sub-path should keep everything, got %d", len(got))
	}
	got := filterFiles(files, "checkpoints/")
	if len(got) != 3 {
		t.Fatalf("Expected 3 matches, got %v", got)
	}
	for _, f := range got {
		if f.Path == "checkpoints-old/c.bin" {
			t.Error("Prefix match must respect path boundaries")
		}
	}
	if got := filterFiles(files, "missing"); len(got) != 0 {
		t.Errorf("Expected no matches, got %v", got)
	}
}

func TestLocalPath(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"a.txt", filepath.Join(dir, "a.txt"), false},
		{"sub/dir/b.txt", filepath.Join(dir, "sub", "dir", "b.txt"), false},
		{"sub/../c.txt", filepath.Join(dir, "c.txt"), false},
		{"../escape.txt", "", true},
		{"sub/../../escape.txt", "", true},
		{"/etc/passwd", "", true},
		{"", "", true},
		{".", "", true},
	}
	for _, tt := range tests {
		got, err := localPath(dir, tt.name)
		if tt.wantErr {
			if err == nil {
				t.Errorf("localPath(%q) expected error, got %q", tt.name, got)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("localPath(%q) = %q, %v; want %q", tt.name, got, err, tt.want)
		}
	}
}

func TestRemotePath(t *testing.T) {
	tests := []struct {
		p    UploadParams
		want string
	}{
		{UploadParams{LocalPath: "/data/model.bin"}, "model.bin"},
		{UploadParams{LocalPath: "/data/model.bin", RepoFolder: "backups/"}, "backups/model.bin"},
		{UploadParams{LocalPath: "/data/model.bin", RepoFolder: "/a/b"}, "a/b/model.bin"},
		{UploadParams{LocalPath: "/data/x", PathInRepo: "sub/x.bin", RepoFolder: "root"}, "root/sub/x.bin"},
		{UploadParams{LocalPath: "/data/x", PathInRepo: "../x.bin"}, "x.bin"},
	}
	for _, tt := range tests {
		if got := tt.p.RemotePath(); got != tt.want {
			t.Errorf("RemotePath(%+v) = %q, want %q", tt.p, got, tt.want)
		}
	}
}
