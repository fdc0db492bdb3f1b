package transform

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"

	// Decoders beyond the ones imaging registers.
	_ "golang.org/x/image/webp"

	"epubslim/pkg/imgutil"
)

// Inspect reads the file size, header dimensions, color mode and EXIF
// orientation of the image at path without decoding its pixels.
func Inspect(path string) (Asset, error) {
	asset := Asset{Path: path, Suffix: strings.ToLower(filepath.Ext(path)), Orientation: 1}

	file, err := os.Open(path)
	if err != nil {
		return asset, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return asset, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	asset.Size = info.Size()

	kind, err := imgutil.SniffReader(file)
	if err != nil {
		return asset, fmt.Errorf("%w: sniff %s: %v", ErrDecode, asset.Name(), err)
	}
	if kind == imgutil.KindUnknown {
		return asset, fmt.Errorf("%w: %s is not a recognised image", ErrDecode, asset.Name())
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return asset, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		return asset, fmt.Errorf("%w: header %s: %v", ErrDecode, asset.Name(), err)
	}
	asset.Dimensions = Dimensions{Width: cfg.Width, Height: cfg.Height}
	asset.Mode = modeOf(cfg.ColorModel)

	if kind == imgutil.KindJPEG {
		// A broken EXIF block leaves the pixels readable; treat it as upright.
		if o, err := readOrientation(file); err == nil {
			asset.Orientation = o
		}
	}

	return asset, nil
}

func modeOf(m color.Model) ColorMode {
	if _, ok := m.(color.Palette); ok {
		return ModePaletted
	}
	switch m {
	case color.RGBAModel, color.RGBA64Model, color.YCbCrModel:
		return ModeRGB
	case color.NRGBAModel, color.NRGBA64Model, color.NYCbCrAModel, color.AlphaModel, color.Alpha16Model:
		return ModeRGBA
	case color.GrayModel, color.Gray16Model:
		return ModeGray
	case color.CMYKModel:
		return ModeCMYK
	default:
		return ModeRGBA
	}
}
