// Package validation checks paths received from remote listings before they
// touch the local filesystem.
package validation

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateRemotePath rejects remote file paths that cannot be placed below a
// local directory: empty names, null bytes and absolute paths.
func ValidateRemotePath(name string) error {
	if name == "" {
		return fmt.Errorf("remote path cannot be empty")
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("remote path contains null byte: %q", name)
	}
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) ||
		filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return fmt.Errorf("remote path %q is not relative", name)
	}
	return nil
}

// ValidatePathInDirectory checks that path, resolved against baseDir, names
// something strictly below baseDir. baseDir itself is rejected.
//
//	ValidatePathInDirectory("../../etc/passwd", "/tmp/restore") // error
//	ValidatePathInDirectory("sub/file.txt", "/tmp/restore")     // ok
func ValidatePathInDirectory(path, baseDir string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if baseDir == "" {
		return fmt.Errorf("base directory cannot be empty")
	}

	base, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %w", err)
	}
	resolved := filepath.Clean(path)
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(base, resolved)
	}

	rel, err := filepath.Rel(base, resolved)
	if err != nil {
		return fmt.Errorf("failed to compute relative path: %w", err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path escapes base directory: %s (base: %s)", path, baseDir)
	}
	return nil
}
