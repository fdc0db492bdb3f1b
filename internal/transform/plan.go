package transform

import (
	"image"
	"path/filepath"
	"strings"
)

// TargetDimensions shrinks d to fit maxWidth, then maxHeight, keeping the
// aspect ratio. Zero limits are ignored and images are never enlarged.
func TargetDimensions(d Dimensions, maxWidth, maxHeight int) Dimensions {
	w, h := d.Width, d.Height
	if maxWidth > 0 && w > maxWidth {
		h = scale(h, maxWidth, w)
		w = maxWidth
	}
	if maxHeight > 0 && h > maxHeight {
		w = scale(w, maxHeight, h)
		h = maxHeight
	}
	return Dimensions{Width: w, Height: h}
}

func scale(v, num, den int) int {
	out := int(float64(v) * float64(num) / float64(den))
	if out < 1 {
		return 1
	}
	return out
}

// TargetMode picks the mode to encode. img is only consulted for modes whose
// outcome depends on pixel data and may be nil otherwise.
func TargetMode(src ColorMode, img image.Image) ColorMode {
	switch src {
	case ModeRGBA:
		if img != nil && Opaque(img) {
			return ModeRGB
		}
		return ModeRGBA
	case ModePaletted:
		if img == nil {
			return ModePaletted
		}
		if Opaque(img) {
			return ModeRGB
		}
		return ModeRGBA
	case ModeCMYK:
		return ModeRGB
	default:
		return src
	}
}

// TargetPath returns path with a .jpg suffix when mode is RGB and the source
// suffix is not already a JPEG one.
func TargetPath(path string, mode ColorMode) string {
	ext := filepath.Ext(path)
	if mode != ModeRGB || isJPEGSuffix(ext) {
		return path
	}
	return strings.TrimSuffix(path, ext) + ".jpg"
}

func isJPEGSuffix(ext string) bool {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return true
	}
	return false
}

// Opaque reports whether the minimum alpha across the whole image is full opacity.
func Opaque(img image.Image) bool {
	b := img.Bounds()
	switch src := img.(type) {
	case *image.NRGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, y):src.PixOffset(b.Max.X, y)]
			for i := 3; i < len(row); i += 4 {
				if row[i] != 0xff {
					return false
				}
			}
		}
		return true
	case *image.RGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, y):src.PixOffset(b.Max.X, y)]
			for i := 3; i < len(row); i += 4 {
				if row[i] != 0xff {
					return false
				}
			}
		}
		return true
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return false
			}
		}
	}
	return true
}

// plan is the decision for one eligible image.
type plan struct {
	dims Dimensions
	mode ColorMode
	path string
}

func (p plan) noop(a Asset) bool {
	return p.dims == a.Displayed() && p.mode == a.Mode && p.path == a.Path
}

// needsPixels reports whether the mode decision depends on decoded pixels.
func needsPixels(a Asset, dims Dimensions) bool {
	switch a.Mode {
	case ModeRGBA:
		return true
	case ModePaletted:
		return dims != a.Displayed()
	}
	return false
}

func decide(a Asset, img image.Image, s Settings) plan {
	dims := TargetDimensions(a.Displayed(), s.MaxWidth, s.MaxHeight)
	mode := TargetMode(a.Mode, img)
	return plan{dims: dims, mode: mode, path: TargetPath(a.Path, mode)}
}
