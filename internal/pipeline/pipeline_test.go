package pipeline

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epubslim/internal/testutil"
	"epubslim/internal/transform"
)

const mimetype = "application/epub+zip"

func testOptions(t *testing.T) Options {
	t.Helper()
	opts := DefaultOptions(t.TempDir())
	opts.Settings.MaxWidth = 400
	opts.Workers = 4
	opts.ScratchDir = t.TempDir()
	require.NoError(t, opts.Destinations.EnsureDirs())
	return opts
}

// imageBytes encodes a fixture through testutil and returns the bytes.
func imageBytes(t *testing.T, write func(path string) []byte) []byte {
	t.Helper()
	return write(filepath.Join(t.TempDir(), "img"))
}

func photoPNG(t *testing.T) []byte {
	return imageBytes(t, func(p string) []byte {
		return testutil.WritePNG(t, p, testutil.NoiseRGBA(800, 1200, 1))
	})
}

func coverJPEG(t *testing.T) []byte {
	return imageBytes(t, func(p string) []byte {
		return testutil.WriteJPEG(t, p, testutil.NoiseRGBA(600, 900, 2), 95)
	})
}

func iconPNG(t *testing.T) []byte {
	return imageBytes(t, func(p string) []byte {
		return testutil.WriteRGBAPNG(t, p, testutil.NoiseNRGBA(40, 40, 3, 0xff))
	})
}

// book assembles the file map of an EPUB using the default layout.
func book(images map[string][]byte, chapters map[string]string) map[string][]byte {
	manifest := make(map[string]string)
	files := map[string][]byte{
		"mimetype":               []byte(mimetype),
		"META-INF/container.xml": []byte(testutil.Container("EPUB/package.opf")),
	}
	for name, data := range images {
		files["EPUB/Images/"+name] = data
		media := "image/png"
		if strings.HasSuffix(name, ".jpg") {
			media = "image/jpeg"
		}
		manifest["Images/"+name] = media
	}
	for name, body := range chapters {
		files["EPUB/chapters/"+name] = []byte(body)
		manifest["chapters/"+name] = "application/xhtml+xml"
	}
	files["EPUB/package.opf"] = []byte(testutil.OPF(manifest))
	return files
}

func writeBook(t *testing.T, files map[string][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "novel.epub")
	testutil.WriteEPUB(t, path, files)
	return path
}

func imageRow(t *testing.T, rep *Report, name string) ImageReport {
	t.Helper()
	for _, row := range rep.Images {
		if row.Name == name {
			return row
		}
	}
	t.Fatalf("no report row for %s", name)
	return ImageReport{}
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, dir)
}

func TestOptimizePackagesResizedBook(t *testing.T) {
	opts := testOptions(t)
	icon := iconPNG(t)
	src := writeBook(t, book(
		map[string][]byte{"photo.png": photoPNG(t), "icon.png": icon, "cover.jpg": coverJPEG(t)},
		map[string]string{
			"ch1.xhtml": testutil.Chapter("../Images/photo.png", "../Images/cover.jpg", "../Images/photo.png"),
			"ch2.xhtml": testutil.Chapter("../Images/photo.png", "../Images/icon.png"),
		},
	))

	rep, err := Optimize(context.Background(), src, opts)
	require.NoError(t, err)
	require.Equal(t, OutcomePackaged, rep.Outcome, rep.Reason)
	assert.True(t, rep.Success())
	assert.NotEmpty(t, rep.RunID)
	assert.Positive(t, rep.Elapsed)

	assert.NoFileExists(t, src)
	assert.Equal(t, filepath.Join(opts.Destinations.Processed, "novel.epub"), rep.MovedTo)
	assert.Equal(t, filepath.Join(opts.Destinations.Resized, "novel.epub"), rep.OutputPath)
	assert.Less(t, rep.OutputSize, rep.OriginalSize)
	assertEmptyDir(t, opts.ScratchDir)

	photo := imageRow(t, rep, "photo.png")
	assert.True(t, photo.Renamed)
	assert.Equal(t, "photo.jpg", photo.NewName)
	assert.Equal(t, transform.RefSuccess, photo.ReferenceStatus)
	assert.EqualValues(t, 3, photo.TotalReferences)
	assert.InDelta(t, 25.0, photo.ResizePercent, 0.01)

	cover := imageRow(t, rep, "cover.jpg")
	assert.False(t, cover.Renamed)
	assert.True(t, cover.Changed)
	assert.EqualValues(t, 1, cover.TotalReferences)

	iconRow := imageRow(t, rep, "icon.png")
	assert.False(t, iconRow.Renamed)
	assert.False(t, iconRow.Changed)
	assert.Contains(t, iconRow.Error, "not eligible")

	files, entries := testutil.ReadEPUB(t, rep.OutputPath)
	require.NotEmpty(t, entries)
	assert.Equal(t, "mimetype", entries[0].Name)
	assert.Equal(t, zip.Store, entries[0].Method)
	assert.Equal(t, mimetype, string(files["mimetype"]))

	assert.NotContains(t, files, "EPUB/Images/photo.png")
	assert.Contains(t, files, "EPUB/Images/photo.jpg")
	assert.Equal(t, icon, files["EPUB/Images/icon.png"])

	inspected := inspectBytes(t, files["EPUB/Images/cover.jpg"], "cover.jpg")
	assert.Equal(t, transform.Dimensions{Width: 400, Height: 600}, inspected.Dimensions)
	inspected = inspectBytes(t, files["EPUB/Images/photo.jpg"], "photo.jpg")
	assert.Equal(t, transform.Dimensions{Width: 400, Height: 600}, inspected.Dimensions)

	assert.Equal(t,
		testutil.Chapter("../Images/photo.jpg", "../Images/cover.jpg", "../Images/photo.jpg"),
		string(files["EPUB/chapters/ch1.xhtml"]))
	assert.Equal(t,
		testutil.Chapter("../Images/photo.jpg", "../Images/icon.png"),
		string(files["EPUB/chapters/ch2.xhtml"]))

	opf := string(files["EPUB/package.opf"])
	assert.Contains(t, opf, `href="Images/photo.jpg" media-type="image/jpeg"`)
	assert.NotContains(t, opf, "photo.png")
}

func inspectBytes(t *testing.T, data []byte, name string) transform.Asset {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	a, err := transform.Inspect(p)
	require.NoError(t, err)
	return a
}

func TestOptimizeIsIdempotent(t *testing.T) {
	opts := testOptions(t)
	src := writeBook(t, book(
		map[string][]byte{"photo.png": photoPNG(t), "cover.jpg": coverJPEG(t)},
		map[string]string{"ch1.xhtml": testutil.Chapter("../Images/photo.png", "../Images/cover.jpg")},
	))

	first, err := Optimize(context.Background(), src, opts)
	require.NoError(t, err)
	require.Equal(t, OutcomePackaged, first.Outcome, first.Reason)

	again := testOptions(t)
	again.Settings = opts.Settings
	second, err := Optimize(context.Background(), first.OutputPath, again)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, second.Outcome, second.Reason)
	assert.Empty(t, second.OutputPath)
	assertEmptyDir(t, again.Destinations.Resized)
	assert.FileExists(t, filepath.Join(again.Destinations.Unchanged, "novel.epub"))
}

func TestOptimizeCreatesMissingDestinations(t *testing.T) {
	opts := DefaultOptions(t.TempDir())
	opts.Settings.MaxWidth = 400
	opts.ScratchDir = t.TempDir()
	src := writeBook(t, book(
		map[string][]byte{"photo.png": photoPNG(t)},
		map[string]string{"ch1.xhtml": testutil.Chapter("../Images/photo.png")},
	))

	rep, err := Optimize(context.Background(), src, opts)
	require.NoError(t, err)
	require.Equal(t, OutcomePackaged, rep.Outcome, rep.Reason)
	assert.FileExists(t, filepath.Join(opts.Destinations.Resized, "novel.epub"))
	assert.FileExists(t, filepath.Join(opts.Destinations.Processed, "novel.epub"))
}

func TestOptimizeRewritesAfterSelfClosingTitle(t *testing.T) {
	opts := testOptions(t)
	bare := `<?xml version="1.0" encoding="utf-8"?>
<html xmlns="http://www.w3.org/1999/xhtml"><head><title/></head>
<body><img src="../Images/photo.png" alt="figure"/></body></html>
`
	src := writeBook(t, book(
		map[string][]byte{"photo.png": photoPNG(t)},
		map[string]string{
			"ch1.xhtml": testutil.Chapter("../Images/photo.png"),
			"ch2.xhtml": bare,
		},
	))

	rep, err := Optimize(context.Background(), src, opts)
	require.NoError(t, err)
	require.Equal(t, OutcomePackaged, rep.Outcome, rep.Reason)

	photo := imageRow(t, rep, "photo.png")
	assert.EqualValues(t, 2, photo.TotalReferences)
	assert.EqualValues(t, 2, photo.UpdatedReferences)

	files, _ := testutil.ReadEPUB(t, rep.OutputPath)
	assert.NotContains(t, files, "EPUB/Images/photo.png")
	assert.Equal(t, strings.Replace(bare, "photo.png", "photo.jpg", 1), string(files["EPUB/chapters/ch2.xhtml"]))
	for name, data := range files {
		if strings.HasSuffix(name, ".xhtml") {
			assert.NotContains(t, string(data), "photo.png", name)
		}
	}
}

func TestOptimizeQuarantinesOnDocumentFailure(t *testing.T) {
	opts := testOptions(t)
	src := writeBook(t, book(
		map[string][]byte{"photo.png": photoPNG(t)},
		map[string]string{
			"ch1.xhtml": testutil.Chapter("../Images/photo.png"),
			"ch2.xhtml": testutil.Chapter("../Images/photo.png") + "\xff",
		},
	))
	orig, err := os.ReadFile(src)
	require.NoError(t, err)

	rep, err := Optimize(context.Background(), src, opts)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQuarantined, rep.Outcome)
	assert.Contains(t, rep.Reason, "ch2.xhtml")
	assert.Empty(t, rep.OutputPath)
	assertEmptyDir(t, opts.Destinations.Resized)
	assertEmptyDir(t, opts.ScratchDir)

	moved, err := os.ReadFile(rep.MovedTo)
	require.NoError(t, err)
	assert.Equal(t, orig, moved)
	assert.Equal(t, opts.Destinations.Quarantine, filepath.Dir(rep.MovedTo))

	var failed int
	for _, d := range rep.Documents {
		if d.Error != "" {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
}

func TestOptimizeUnchangedWhenNothingEligible(t *testing.T) {
	opts := testOptions(t)
	src := writeBook(t, book(
		map[string][]byte{"icon.png": iconPNG(t)},
		map[string]string{"ch1.xhtml": testutil.Chapter("../Images/icon.png")},
	))

	rep, err := Optimize(context.Background(), src, opts)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, rep.Outcome)
	assert.Empty(t, rep.OutputPath)
	assertEmptyDir(t, opts.Destinations.Resized)
	assert.Equal(t, filepath.Join(opts.Destinations.Unchanged, "novel.epub"), rep.MovedTo)
	assert.Equal(t, transform.RefFailed, imageRow(t, rep, "icon.png").ReferenceStatus)
}

func TestOptimizeQuarantinesUnreferencedRename(t *testing.T) {
	opts := testOptions(t)
	src := writeBook(t, book(
		map[string][]byte{"photo.png": photoPNG(t)},
		map[string]string{"ch1.xhtml": testutil.Chapter()},
	))

	rep, err := Optimize(context.Background(), src, opts)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQuarantined, rep.Outcome)
	assert.Contains(t, rep.Reason, "consistency")
	assert.Equal(t, transform.RefOrphaned, imageRow(t, rep, "photo.png").ReferenceStatus)
	assertEmptyDir(t, opts.Destinations.Resized)
}

func TestOptimizeQuarantinesWithoutMimetype(t *testing.T) {
	opts := testOptions(t)
	files := book(
		map[string][]byte{"cover.jpg": coverJPEG(t)},
		map[string]string{"ch1.xhtml": testutil.Chapter("../Images/cover.jpg")},
	)
	delete(files, "mimetype")
	src := writeBook(t, files)

	rep, err := Optimize(context.Background(), src, opts)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQuarantined, rep.Outcome)
	assert.Contains(t, rep.Reason, "missing mimetype")
	assertEmptyDir(t, opts.Destinations.Resized)
}

func TestOptimizeQuarantinesCorruptArchive(t *testing.T) {
	opts := testOptions(t)
	src := filepath.Join(t.TempDir(), "broken.epub")
	require.NoError(t, os.WriteFile(src, []byte("definitely not a zip"), 0o644))

	rep, err := Optimize(context.Background(), src, opts)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQuarantined, rep.Outcome)
	assert.Contains(t, rep.Reason, "extract")
	assert.FileExists(t, filepath.Join(opts.Destinations.Quarantine, "broken.epub"))
	assertEmptyDir(t, opts.ScratchDir)
}

func TestOptimizeCollisionInDestination(t *testing.T) {
	opts := testOptions(t)
	require.NoError(t, os.WriteFile(filepath.Join(opts.Destinations.Unchanged, "novel.epub"), []byte("older"), 0o644))
	src := writeBook(t, book(
		map[string][]byte{"icon.png": iconPNG(t)},
		map[string]string{"ch1.xhtml": testutil.Chapter("../Images/icon.png")},
	))

	rep, err := Optimize(context.Background(), src, opts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(opts.Destinations.Unchanged, "novel - dup1.epub"), rep.MovedTo)
}

func TestAnalyzeLeavesSourceInPlace(t *testing.T) {
	opts := testOptions(t)
	src := writeBook(t, book(
		map[string][]byte{"photo.png": photoPNG(t), "icon.png": iconPNG(t)},
		map[string]string{"ch1.xhtml": testutil.Chapter("../Images/photo.png")},
	))
	orig, err := os.ReadFile(src)
	require.NoError(t, err)

	rep, err := Analyze(context.Background(), src, opts)
	require.NoError(t, err)
	assert.True(t, rep.DryRun)
	assert.Equal(t, OutcomePackaged, rep.Outcome)
	assert.Empty(t, rep.MovedTo)
	assert.Equal(t, transform.RefSuccess, imageRow(t, rep, "photo.png").ReferenceStatus)

	after, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, orig, after)
	assertEmptyDir(t, opts.Destinations.Resized)
	assertEmptyDir(t, opts.ScratchDir)

	require.NotEmpty(t, rep.Analytics.Dirs)
	assert.Equal(t, 100.0, rep.Analytics.Total.Percent)
	assert.Equal(t, 6, rep.Analytics.Total.Files)
}

func TestRunBatch(t *testing.T) {
	opts := testOptions(t)
	dir := t.TempDir()
	testutil.WriteEPUB(t, filepath.Join(dir, "a.epub"), book(
		map[string][]byte{"cover.jpg": coverJPEG(t)},
		map[string]string{"ch1.xhtml": testutil.Chapter("../Images/cover.jpg")},
	))
	testutil.WriteEPUB(t, filepath.Join(dir, "b.epub"), book(
		map[string][]byte{"icon.png": iconPNG(t)},
		map[string]string{"ch1.xhtml": testutil.Chapter("../Images/icon.png")},
	))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.epub"), []byte("junk"), 0o644))

	paths, err := Discover(dir)
	require.NoError(t, err)
	require.Len(t, paths, 3)

	updates := make(chan ProgressUpdate, 256)
	summary, reports, err := RunBatch(context.Background(), paths, opts, updates)
	close(updates)
	require.NoError(t, err)
	require.Len(t, reports, 3)

	assert.Equal(t, Summary{
		Archives:    3,
		Packaged:    1,
		Unchanged:   1,
		Quarantined: 1,
		BytesSaved:  reports[0].OriginalSize - reports[0].OutputSize,
	}, summary)
	assert.Positive(t, summary.BytesSaved)

	var total, done, quarantined int
	for u := range updates {
		total += u.ArchivesTotalDelta
		done += u.ArchivesDoneDelta
		quarantined += u.QuarantinedDelta
	}
	assert.Equal(t, 3, total)
	assert.Equal(t, 3, done)
	assert.Equal(t, 1, quarantined)
}

func TestRunBatchStopsOnCancel(t *testing.T) {
	opts := testOptions(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, reports, err := RunBatch(ctx, []string{"x.epub"}, opts, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, reports)
	assert.Zero(t, summary.Archives)
}
