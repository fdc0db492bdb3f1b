// Package fsutil moves archives between library directories without ever
// losing the source file.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrMoveFailed indicates the file could not be moved and was left in place.
var ErrMoveFailed = errors.New("fsutil: move failed")

var rename = os.Rename

// UniquePath returns path when nothing exists there, otherwise the first free
// " - dupN" variant of it.
func UniquePath(path string) string {
	if !exists(path) {
		return path
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for counter := 1; ; counter++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s - dup%d%s", stem, counter, ext))
		if !exists(candidate) {
			return candidate
		}
	}
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// Move places src inside dstDir and returns the final path. It renames when
// it can and otherwise copies then deletes the source. If neither works the
// source stays where it was and the error wraps ErrMoveFailed.
func Move(src, dstDir string) (string, error) {
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrMoveFailed, filepath.Base(src), err)
	}
	dst := UniquePath(filepath.Join(dstDir, filepath.Base(src)))

	renameErr := rename(src, dst)
	if renameErr == nil {
		return dst, nil
	}

	if err := copyFile(src, dst); err != nil {
		return "", fmt.Errorf("%w: %s: rename: %v; copy: %v", ErrMoveFailed, filepath.Base(src), renameErr, err)
	}
	if err := os.Remove(src); err != nil {
		// Keep a single copy; the source is authoritative.
		_ = os.Remove(dst)
		return "", fmt.Errorf("%w: %s: remove source: %v", ErrMoveFailed, filepath.Base(src), err)
	}
	return dst, nil
}

// copyFile copies src to a new file at dst, refusing to overwrite.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
