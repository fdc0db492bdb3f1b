package transform

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epubslim/internal/testutil"
)

func testSettings() Settings {
	s := DefaultSettings()
	s.MinSizeBytes = 1024
	return s
}

func TestTargetDimensions(t *testing.T) {
	cases := []struct {
		name       string
		in         Dimensions
		maxW, maxH int
		want       Dimensions
	}{
		{"width clamp", Dimensions{2000, 3000}, 1080, 0, Dimensions{1080, 1620}},
		{"already small", Dimensions{800, 600}, 1080, 0, Dimensions{800, 600}},
		{"height clamp only", Dimensions{1000, 4000}, 0, 2000, Dimensions{500, 2000}},
		{"both clamps", Dimensions{2000, 6000}, 1000, 2000, Dimensions{666, 2000}},
		{"unbounded", Dimensions{5000, 5000}, 0, 0, Dimensions{5000, 5000}},
		{"never below one pixel", Dimensions{10000, 2}, 100, 0, Dimensions{100, 1}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, TargetDimensions(tc.in, tc.maxW, tc.maxH))
		})
	}
}

func TestTargetModeAndPath(t *testing.T) {
	opaque := testutil.NoiseNRGBA(4, 4, 1, 0xff)
	translucent := testutil.NoiseNRGBA(4, 4, 1, 0xff)
	translucent.Pix[3] = 0xfe

	assert.Equal(t, ModeRGB, TargetMode(ModeRGBA, opaque))
	assert.Equal(t, ModeRGBA, TargetMode(ModeRGBA, translucent))
	assert.Equal(t, ModeRGB, TargetMode(ModeCMYK, nil))
	assert.Equal(t, ModeGray, TargetMode(ModeGray, nil))
	assert.Equal(t, ModePaletted, TargetMode(ModePaletted, nil))

	assert.Equal(t, "/x/a.jpg", TargetPath("/x/a.png", ModeRGB))
	assert.Equal(t, "/x/a.JPEG", TargetPath("/x/a.JPEG", ModeRGB))
	assert.Equal(t, "/x/a.png", TargetPath("/x/a.png", ModeRGBA))
	assert.Equal(t, "/x/a.png", TargetPath("/x/a.png", ModeGray))
}

func TestOpaqueGenericImage(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 3, 3))
	assert.True(t, Opaque(gray))

	alpha := image.NewAlpha(image.Rect(0, 0, 2, 2))
	alpha.SetAlpha(1, 1, color.Alpha{A: 0x10})
	assert.False(t, Opaque(alpha))
}

func TestTransformBelowThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "icon.png")
	orig := testutil.WriteRGBAPNG(t, path, testutil.NoiseNRGBA(8, 8, 2, 0xff))

	s := testSettings()
	s.MinSizeBytes = int64(len(orig)) + 1
	res := Transform(path, s)

	assert.True(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrNotEligible)
	assert.False(t, res.Renamed())
	assert.False(t, res.Changed)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, orig, after)
}

func TestTransformSuffixAndUpperBound(t *testing.T) {
	dir := t.TempDir()
	gif := filepath.Join(dir, "anim.gif")
	require.NoError(t, os.WriteFile(gif, make([]byte, 4096), 0o644))
	res := Transform(gif, testSettings())
	assert.True(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrNotEligible)

	big := filepath.Join(dir, "big.png")
	testutil.WritePNG(t, big, testutil.NoiseRGBA(64, 64, 3))
	s := testSettings()
	s.MaxSizeBytes = 2048
	res = Transform(big, s)
	assert.ErrorIs(t, res.Err, ErrNotEligible)
	assert.False(t, res.Renamed())
}

func TestTransformOpaqueRGBAConvertsToJPEG(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plate.png")
	testutil.WriteRGBAPNG(t, path, testutil.NoiseNRGBA(200, 200, 4, 0xff))

	res := Transform(path, testSettings())
	require.True(t, res.Success, "err: %v", res.Err)
	require.NoError(t, res.Err)

	assert.Equal(t, ModeRGBA, res.Original.Mode)
	assert.Equal(t, ModeRGB, res.NewMode)
	assert.True(t, res.Renamed())
	assert.Equal(t, filepath.Join(dir, "plate.jpg"), res.NewPath)
	assert.Less(t, res.NewSize, res.Original.Size)
	assert.FileExists(t, res.NewPath)
	assert.FileExists(t, path, "source is removed by the orchestrator, not the transform")

	inspected, err := Inspect(res.NewPath)
	require.NoError(t, err)
	assert.Equal(t, ModeRGB, inspected.Mode)
	assert.Equal(t, Dimensions{200, 200}, inspected.Dimensions)

	require.NoError(t, RemoveSuperseded(res))
	assert.NoFileExists(t, path)
	assertNoScratch(t, dir)
}

func TestTransformTranslucentRGBAKeepsAlpha(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overlay.png")
	testutil.WritePNG(t, path, testutil.NoiseNRGBA(400, 100, 5, 0x80))

	s := testSettings()
	s.MaxWidth = 200
	res := Transform(path, s)
	require.True(t, res.Success, "err: %v", res.Err)
	require.NoError(t, res.Err)

	assert.Equal(t, ModeRGBA, res.NewMode)
	assert.False(t, res.Renamed())
	assert.True(t, res.Changed)
	assert.Equal(t, Dimensions{200, 50}, res.NewDimensions)
	assert.InDelta(t, 25.0, res.ResizePercent(), 0.01)

	inspected, err := Inspect(path)
	require.NoError(t, err)
	assert.Equal(t, ModeRGBA, inspected.Mode)
	assert.Equal(t, Dimensions{200, 50}, inspected.Dimensions)
	assertNoScratch(t, dir)
}

func TestTransformResizesJPEGInPlace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cover.jpg")
	testutil.WriteJPEG(t, path, testutil.NoiseRGBA(1600, 400, 6), 95)

	s := testSettings()
	s.MaxWidth = 800
	res := Transform(path, s)
	require.True(t, res.Success, "err: %v", res.Err)

	assert.False(t, res.Renamed())
	assert.True(t, res.Changed)
	assert.Equal(t, Dimensions{800, 200}, res.NewDimensions)
	assert.Less(t, res.CompressionPercent(), 100.0)
	assert.Positive(t, res.Savings())
}

func TestTransformUnchangedJPEGIsNoop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "small.jpg")
	orig := testutil.WriteJPEG(t, path, testutil.NoiseRGBA(300, 200, 7), 90)

	res := Transform(path, testSettings())
	assert.True(t, res.Success)
	assert.NoError(t, res.Err)
	assert.False(t, res.Changed)
	assert.False(t, res.Renamed())

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, orig, after)
}

func TestTransformShrinkGuard(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flat.png")
	orig := testutil.WritePNG(t, path, testutil.Solid(300, 300, color.RGBA{R: 10, G: 20, B: 30, A: 0xff}))

	s := testSettings()
	s.MinSizeBytes = 0
	res := Transform(path, s)

	assert.True(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrNotSmaller)
	assert.False(t, res.Renamed())
	assert.False(t, res.Changed)
	assert.NoFileExists(t, filepath.Join(dir, "flat.jpg"))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, orig, after)
	assertNoScratch(t, dir)
}

func TestTransformTargetExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.png")
	testutil.WritePNG(t, path, testutil.NoiseRGBA(200, 200, 8))
	taken := testutil.WriteJPEG(t, filepath.Join(dir, "photo.jpg"), testutil.NoiseRGBA(10, 10, 9), 80)

	res := Transform(path, testSettings())
	assert.True(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrTargetExists)
	assert.False(t, res.Renamed())

	after, err := os.ReadFile(filepath.Join(dir, "photo.jpg"))
	require.NoError(t, err)
	assert.Equal(t, taken, after)
	assertNoScratch(t, dir)
}

func TestTransformDecodeFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.png")
	require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0o644))

	res := Transform(path, testSettings())
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrDecode)
	assert.False(t, res.Renamed())
	_, stray := StrayPath(res)
	assert.False(t, stray)
}

func TestReferenceStatus(t *testing.T) {
	cases := []struct {
		total, updated int64
		want           ReferenceStatus
	}{
		{0, 0, RefOrphaned},
		{3, 0, RefFailed},
		{2, 2, RefSuccess},
		{3, 1, RefPartial},
	}
	for _, tc := range cases {
		r := &Result{}
		for i := int64(0); i < tc.total; i++ {
			r.AddReference()
		}
		r.AddUpdated(tc.updated)
		assert.Equal(t, tc.want, r.ReferenceStatus(), "total=%d updated=%d", tc.total, tc.updated)
	}
}

func assertNoScratch(t *testing.T, dir string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, TempPattern))
	require.NoError(t, err)
	assert.Empty(t, matches)
}
