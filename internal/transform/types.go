package transform

import (
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
)

// Settings controls which images are touched and how far they are reduced.
// A zero MaxSizeBytes, MaxWidth or MaxHeight means unbounded.
type Settings struct {
	MinSizeBytes int64
	MaxSizeBytes int64
	Suffixes     []string
	MaxWidth     int
	MaxHeight    int
	JPEGQuality  int
}

// DefaultSettings mirrors the library defaults: 50 KiB floor, 1080px wide, quality 80.
func DefaultSettings() Settings {
	return Settings{
		MinSizeBytes: 50 * 1024,
		Suffixes:     []string{".jpg", ".jpeg", ".png"},
		MaxWidth:     1080,
		JPEGQuality:  80,
	}
}

// Supports reports whether suffix (with leading dot, any case) is configured.
func (s Settings) Supports(suffix string) bool {
	suffix = strings.ToLower(suffix)
	return slices.ContainsFunc(s.Suffixes, func(v string) bool {
		return strings.ToLower(v) == suffix
	})
}

// Eligible applies the size and suffix filter.
func (s Settings) Eligible(size int64, suffix string) bool {
	if size < s.MinSizeBytes {
		return false
	}
	if s.MaxSizeBytes > 0 && size > s.MaxSizeBytes {
		return false
	}
	return s.Supports(suffix)
}

// ColorMode names the pixel layout of an image.
type ColorMode string

const (
	ModeUnknown  ColorMode = ""
	ModeRGB      ColorMode = "RGB"
	ModeRGBA     ColorMode = "RGBA"
	ModeGray     ColorMode = "L"
	ModePaletted ColorMode = "P"
	ModeCMYK     ColorMode = "CMYK"
)

// HasAlpha reports whether the mode carries a per-pixel alpha channel.
func (m ColorMode) HasAlpha() bool {
	return m == ModeRGBA
}

// Dimensions is a pixel size.
type Dimensions struct {
	Width  int
	Height int
}

func (d Dimensions) Area() int64 {
	return int64(d.Width) * int64(d.Height)
}

// Asset is a read-once snapshot of an image file in the working directory.
type Asset struct {
	Path        string
	Size        int64
	Suffix      string
	Dimensions  Dimensions
	Mode        ColorMode
	Orientation int
}

// Name is the file name of the asset.
func (a Asset) Name() string {
	return filepath.Base(a.Path)
}

// Displayed returns the dimensions after the EXIF orientation is applied.
func (a Asset) Displayed() Dimensions {
	if a.Orientation >= 5 && a.Orientation <= 8 {
		return Dimensions{Width: a.Dimensions.Height, Height: a.Dimensions.Width}
	}
	return a.Dimensions
}

// ReferenceStatus classifies how the references to an image were handled.
type ReferenceStatus string

const (
	RefOrphaned ReferenceStatus = "orphaned"
	RefFailed   ReferenceStatus = "failed"
	RefSuccess  ReferenceStatus = "success"
	RefPartial  ReferenceStatus = "partial"
)

// Result is the outcome of transforming one image. Apart from the reference
// counters every field is written once by Transform. Results must be shared
// by pointer.
type Result struct {
	Original      Asset
	NewPath       string
	NewSize       int64
	NewMode       ColorMode
	NewDimensions Dimensions
	Success       bool
	// Changed is set when a new file was written for the image.
	Changed bool
	Err     error

	totalRefs   atomic.Int64
	updatedRefs atomic.Int64
}

// Renamed reports whether the image ends up under a different path.
func (r *Result) Renamed() bool {
	return r.NewPath != "" && r.NewPath != r.Original.Path
}

// NewName is the file name the image has after the transform.
func (r *Result) NewName() string {
	if r.NewPath == "" {
		return r.Original.Name()
	}
	return filepath.Base(r.NewPath)
}

// AddReference records one discovered reference to the image.
func (r *Result) AddReference() {
	r.totalRefs.Add(1)
}

// AddUpdated records n references that now point at NewPath.
func (r *Result) AddUpdated(n int64) {
	r.updatedRefs.Add(n)
}

func (r *Result) TotalReferences() int64 {
	return r.totalRefs.Load()
}

func (r *Result) UpdatedReferences() int64 {
	return r.updatedRefs.Load()
}

// ReferenceStatus derives the status from the two counters.
func (r *Result) ReferenceStatus() ReferenceStatus {
	total := r.TotalReferences()
	updated := r.UpdatedReferences()
	switch {
	case total == 0:
		return RefOrphaned
	case updated == 0:
		return RefFailed
	case updated == total:
		return RefSuccess
	default:
		return RefPartial
	}
}

// ResizePercent is the new pixel area as a percentage of the original.
func (r *Result) ResizePercent() float64 {
	orig := r.Original.Displayed().Area()
	if orig == 0 || r.NewDimensions.Area() == 0 {
		return 100
	}
	return round2(float64(r.NewDimensions.Area()) / float64(orig) * 100)
}

// CompressionPercent is the new byte size as a percentage of the original.
func (r *Result) CompressionPercent() float64 {
	if r.Original.Size == 0 {
		return 100
	}
	return round2(float64(r.NewSize) / float64(r.Original.Size) * 100)
}

// Savings is the number of bytes the transform removed.
func (r *Result) Savings() int64 {
	if !r.Success {
		return 0
	}
	return r.Original.Size - r.NewSize
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
