package validation

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateRemotePath(t *testing.T) {
	testCases := []struct {
		name        string
		path        string
		expectValid bool
	}{
		{"simple", "model.safetensors", true},
		{"nested", "checkpoints/step-100/opt.bin", true},
		{"double dots inside name", "data..v2.csv", true},
		{"empty", "", false},
		{"null byte", "a\x00b", false},
		{"absolute unix", "/etc/passwd", false},
		{"absolute windows style", `\windows\system32`, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRemotePath(tc.path)
			if tc.expectValid && err != nil {
				t.Errorf("Expected %q to be valid, got error: %v", tc.path, err)
			}
			if !tc.expectValid && err == nil {
				t.Errorf("Expected %q to be rejected", tc.path)
			}
		})
	}
}

func TestValidatePathInDirectory(t *testing.T) {
	base := t.TempDir()

	testCases := []struct {
		name        string
		path        string
		expectValid bool
	}{
		{"relative file", "file.txt", true},
		{"relative nested", filepath.Join("sub", "dir", "file.txt"), true},
		{"absolute inside", filepath.Join(base, "file.txt"), true},
		{"dotdot that stays inside", filepath.Join("sub", "..", "file.txt"), true},
		{"prefix-named sibling", filepath.Join("..", filepath.Base(base)+"x", "file.txt"), false},
		{"parent escape", filepath.Join("..", "file.txt"), false},
		{"deep escape", filepath.Join("sub", "..", "..", "..", "etc", "passwd"), false},
		{"absolute outside", filepath.Join(os.TempDir(), "elsewhere", "file.txt"), false},
		{"base itself", ".", false},
		{"empty", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePathInDirectory(tc.path, base)
			if tc.expectValid && err != nil {
				t.Errorf("Expected %q to be valid, got error: %v", tc.path, err)
			}
			if !tc.expectValid && err == nil {
				t.Errorf("Expected %q to be rejected", tc.path)
			}
		})
	}

	if err := ValidatePathInDirectory("file.txt", ""); err == nil {
		t.Error("Expected error for empty base directory")
	}
}
