package transform

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// TempPattern names the scratch files written next to the image being replaced.
const TempPattern = ".epubslim-*.tmp"

// Transform decides whether the image at path needs resizing or converting,
// performs it, and reports the outcome. It only touches path, the new path,
// and its own scratch file, so calls may run concurrently. The source file
// is left in place when the image is renamed; see RemoveSuperseded.
func Transform(path string, s Settings) *Result {
	res := &Result{Original: Asset{Path: path, Suffix: strings.ToLower(filepath.Ext(path)), Orientation: 1}}

	info, err := os.Stat(path)
	if err != nil {
		return res.fail(fmt.Errorf("%w: %v", ErrDecode, err))
	}
	res.Original.Size = info.Size()

	if !s.Eligible(res.Original.Size, res.Original.Suffix) {
		return res.keep(ErrNotEligible)
	}

	asset, err := Inspect(path)
	if err != nil {
		return res.fail(err)
	}
	res.Original = asset

	var img image.Image
	dims := TargetDimensions(asset.Displayed(), s.MaxWidth, s.MaxHeight)
	if needsPixels(asset, dims) {
		if img, err = load(asset); err != nil {
			return res.fail(err)
		}
	}

	p := decide(asset, img, s)
	if p.noop(asset) {
		return res.keep(nil)
	}

	if img == nil {
		if img, err = load(asset); err != nil {
			return res.fail(err)
		}
	}

	return res.write(img, p, s)
}

func load(a Asset) (image.Image, error) {
	img, err := imaging.Open(a.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrDecode, a.Name(), err)
	}
	return orient(img, a.Orientation), nil
}

func (r *Result) write(img image.Image, p plan, s Settings) *Result {
	format, err := imaging.FormatFromFilename(p.path)
	if err != nil {
		return r.keep(ErrUnsupportedOutput)
	}

	if p.dims != r.Original.Displayed() {
		img = imaging.Resize(img, p.dims.Width, p.dims.Height, imaging.Lanczos)
	}
	if p.mode == ModeGray {
		img = toGray(img)
	}

	tmpPath, size, err := encodeTemp(img, filepath.Dir(p.path), format, s.JPEGQuality)
	if err != nil {
		return r.fail(err)
	}

	if size >= r.Original.Size {
		_ = os.Remove(tmpPath)
		return r.keep(ErrNotSmaller)
	}

	if p.path != r.Original.Path {
		if err := claim(p.path); err != nil {
			_ = os.Remove(tmpPath)
			if errors.Is(err, os.ErrExist) {
				return r.keep(ErrTargetExists)
			}
			return r.fail(fmt.Errorf("%w: %v", ErrDecode, err))
		}
	}

	if err := replaceFile(tmpPath, p.path); err != nil {
		_ = os.Remove(tmpPath)
		r.fail(fmt.Errorf("%w: %v", ErrDecode, err))
		if p.path != r.Original.Path {
			if rmErr := os.Remove(p.path); rmErr != nil && !os.IsNotExist(rmErr) {
				r.NewPath = p.path
			}
		}
		return r
	}

	r.NewPath = p.path
	r.NewSize = size
	r.NewMode = p.mode
	r.NewDimensions = p.dims
	r.Success = true
	r.Changed = true
	return r
}

func encodeTemp(img image.Image, dir string, format imaging.Format, quality int) (string, int64, error) {
	tmpFile, err := os.CreateTemp(dir, TempPattern)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	opts := []imaging.EncodeOption{imaging.PNGCompressionLevel(png.BestCompression)}
	if format == imaging.JPEG {
		opts = append(opts, imaging.JPEGQuality(quality))
	}

	if err := imaging.Encode(tmpFile, img, format, opts...); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpFile.Name())
		return "", 0, fmt.Errorf("%w: encode: %v", ErrDecode, err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpFile.Name())
		return "", 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpFile.Name())
		return "", 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	info, err := os.Stat(tmpFile.Name())
	if err != nil {
		_ = os.Remove(tmpFile.Name())
		return "", 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return tmpFile.Name(), info.Size(), nil
}

// claim reserves path so that two images converging on the same new name
// cannot overwrite each other.
func claim(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func replaceFile(tmpPath, destPath string) error {
	if err := os.Rename(tmpPath, destPath); err == nil {
		return nil
	}
	if err := os.Remove(destPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Rename(tmpPath, destPath)
}

func toGray(src image.Image) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// keep records a successful outcome that leaves the image untouched.
func (r *Result) keep(reason error) *Result {
	r.NewPath = r.Original.Path
	r.NewSize = r.Original.Size
	r.NewMode = r.Original.Mode
	r.NewDimensions = r.Original.Displayed()
	r.Success = true
	r.Err = reason
	return r
}

func (r *Result) fail(err error) *Result {
	r.NewPath = r.Original.Path
	r.NewSize = r.Original.Size
	r.NewMode = r.Original.Mode
	r.NewDimensions = r.Original.Displayed()
	r.Success = false
	r.Err = err
	return r
}

// RemoveSuperseded deletes the source file of a successfully renamed image.
func RemoveSuperseded(r *Result) error {
	if !r.Success || !r.Renamed() {
		return nil
	}
	return os.Remove(r.Original.Path)
}

// StrayPath returns the leftover output of a failed rename, if one exists on disk.
func StrayPath(r *Result) (string, bool) {
	if r.Success || !r.Renamed() {
		return "", false
	}
	if _, err := os.Stat(r.NewPath); err != nil {
		return "", false
	}
	return r.NewPath, true
}
