// Package archive unpacks EPUB containers into a working directory and packs
// them back with the mimetype entry first and uncompressed.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// MimetypeName is the marker entry every EPUB starts with.
const MimetypeName = "mimetype"

// MaxEntrySize caps the decompressed size of a single entry.
const MaxEntrySize int64 = 256 * 1024 * 1024

// Extract unpacks the archive at src into dir, which must exist.
func Extract(ctx context.Context, src, dir string) error {
	return extract(ctx, src, dir, MaxEntrySize)
}

func extract(ctx context.Context, src, dir string, limit int64) error {
	zr, err := zip.OpenReader(src)
	if errors.Is(err, zip.ErrInsecurePath) {
		_ = zr.Close()
		return fmt.Errorf("%w: %s", ErrUnsafePath, filepath.Base(src))
	}
	if err != nil {
		return fmt.Errorf("open archive %s: %w", filepath.Base(src), err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !isSafePath(f.Name) {
			return fmt.Errorf("%w: %s", ErrUnsafePath, f.Name)
		}

		target := filepath.Join(dir, filepath.FromSlash(path.Clean(f.Name)))
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(f, target, limit); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string, limit int64) error {
	if f.UncompressedSize64 > uint64(limit) {
		return fmt.Errorf("%w: %s declares %d bytes (max %d)", ErrEntryTooLarge, f.Name, f.UncompressedSize64, limit)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	// Read one byte past the limit so forged headers are caught.
	n, err := io.Copy(out, io.LimitReader(rc, limit+1))
	if err != nil {
		_ = out.Close()
		return fmt.Errorf("read entry %s: %w", f.Name, err)
	}
	if n > limit {
		_ = out.Close()
		return fmt.Errorf("%w: %s exceeds %d bytes", ErrEntryTooLarge, f.Name, limit)
	}
	return out.Close()
}

// isSafePath rejects entry names that are absolute or climb out of the root.
func isSafePath(p string) bool {
	if p == "" || strings.Contains(p, `\`) {
		return false
	}
	cleaned := path.Clean(p)
	if strings.HasPrefix(cleaned, "/") {
		return false
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return false
	}
	return true
}

// Pack writes the contents of dir into a new archive at dest. The mimetype
// file is written first without compression; every other file is deflated.
// dest is replaced atomically once the archive is complete.
func Pack(ctx context.Context, dir, dest string) error {
	mimetype := filepath.Join(dir, MimetypeName)
	info, err := os.Stat(mimetype)
	if err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", ErrMissingMimetype, dir)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmpFile, err := os.CreateTemp(filepath.Dir(dest), ".epubslim-*.epub.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if err := writeArchive(ctx, tmpFile, dir); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, dest)
}

func writeArchive(ctx context.Context, w io.Writer, dir string) error {
	zw := zip.NewWriter(w)

	if err := addMimetype(zw, filepath.Join(dir, MimetypeName)); err != nil {
		return err
	}

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if name == MimetypeName {
			return nil
		}
		return addFile(zw, p, name)
	})
	if err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

// addMimetype stores the marker with a bare header: no compression and no
// extra fields, so it sits at a fixed offset for readers that sniff it.
func addMimetype(zw *zip.Writer, src string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	w, err := zw.CreateHeader(&zip.FileHeader{Name: MimetypeName, Method: zip.Store})
	if err != nil {
		return fmt.Errorf("add %s: %w", MimetypeName, err)
	}
	_, err = w.Write(data)
	return err
}

func addFile(zw *zip.Writer, src, name string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	return nil
}
