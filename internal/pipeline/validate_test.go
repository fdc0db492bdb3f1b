package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epubslim/internal/rewrite"
	"epubslim/internal/transform"
)

func renamedResult(dir, name, newName string, refs, updated int64) *transform.Result {
	r := &transform.Result{
		Original: transform.Asset{Path: filepath.Join(dir, name)},
		NewPath:  filepath.Join(dir, newName),
		Success:  true,
		Changed:  true,
	}
	for i := int64(0); i < refs; i++ {
		r.AddReference()
	}
	r.AddUpdated(updated)
	return r
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()

	t.Run("packaged", func(t *testing.T) {
		a := renamedResult(dir, "a.png", "a.jpg", 2, 2)
		v := validate([]*transform.Result{a}, []*rewrite.DocumentResult{{Path: "c1.xhtml"}})
		assert.Equal(t, OutcomePackaged, v.outcome)
		assert.Equal(t, []string{a.Original.Path}, v.remove)
	})

	t.Run("document failure wins", func(t *testing.T) {
		a := renamedResult(dir, "a.png", "a.jpg", 2, 1)
		v := validate([]*transform.Result{a}, []*rewrite.DocumentResult{
			{Path: "c1.xhtml"},
			{Path: "c2.xhtml", Err: errors.New("boom")},
		})
		assert.Equal(t, OutcomeQuarantined, v.outcome)
		assert.ErrorIs(t, v.reason, ErrReferenceUpdate)
		assert.Empty(t, v.remove)
	})

	t.Run("unchanged", func(t *testing.T) {
		kept := &transform.Result{Original: transform.Asset{Path: filepath.Join(dir, "b.jpg")}, Success: true}
		kept.NewPath = kept.Original.Path
		v := validate([]*transform.Result{kept}, nil)
		assert.Equal(t, OutcomeUnchanged, v.outcome)
	})

	t.Run("partial references", func(t *testing.T) {
		a := renamedResult(dir, "a.png", "a.jpg", 3, 2)
		v := validate([]*transform.Result{a}, nil)
		assert.Equal(t, OutcomeQuarantined, v.outcome)
		assert.ErrorIs(t, v.reason, ErrConsistency)
	})

	t.Run("stray of failed rename is removed", func(t *testing.T) {
		ok := renamedResult(dir, "a.png", "a.jpg", 1, 1)
		failed := renamedResult(dir, "c.png", "c.jpg", 0, 0)
		failed.Success = false
		failed.Changed = false
		require.NoError(t, os.WriteFile(failed.NewPath, []byte("partial"), 0o644))

		v := validate([]*transform.Result{ok, failed}, nil)
		assert.Equal(t, OutcomePackaged, v.outcome)
		assert.ElementsMatch(t, []string{ok.Original.Path, failed.NewPath}, v.remove)
	})
}

func TestCheckScratch(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, checkScratch(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".epubslim-123.tmp"), nil, 0o644))
	assert.ErrorIs(t, checkScratch(dir), ErrConsistency)
}

func TestRunPoolKeepsJobOrder(t *testing.T) {
	jobs := make([]int, 100)
	for i := range jobs {
		jobs[i] = i
	}
	var seen atomic.Int64
	out, err := runPool(context.Background(), 8, jobs, func(n int) int { return n * n }, func(int) { seen.Add(1) })
	require.NoError(t, err)
	assert.EqualValues(t, 100, seen.Load())
	for i, v := range out {
		assert.Equal(t, i*i, v)
	}

	out, err = runPool(context.Background(), 4, []int(nil), func(n int) int { return n }, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRunPoolCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := runPool(ctx, 2, []int{1, 2, 3}, func(n int) int { return n }, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCollectAnalytics(t *testing.T) {
	root := t.TempDir()
	write := func(rel string, size int) {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, make([]byte, size), 0o644))
	}
	write("mimetype", 20)
	write("EPUB/Images/a.PNG", 500)
	write("EPUB/Images/b.png", 300)
	write("EPUB/Images/c.jpg", 180)

	a, err := collectAnalytics(root)
	require.NoError(t, err)
	assert.Equal(t, 4, a.Total.Files)
	assert.EqualValues(t, 1000, a.Total.Bytes)

	require.Len(t, a.Dirs, 2)
	assert.Equal(t, ".", a.Dirs[0].Name)
	images := a.Dirs[1]
	assert.Equal(t, "EPUB/Images", images.Name)
	assert.Equal(t, 98.0, images.Percent)
	require.Len(t, images.Suffixes, 2)
	assert.Equal(t, Bucket{Name: ".jpg", Files: 1, Bytes: 180, Percent: 18}, images.Suffixes[0])
	assert.Equal(t, Bucket{Name: ".png", Files: 2, Bytes: 800, Percent: 80}, images.Suffixes[1])
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	for _, rel := range []string{"b.epub", "a.EPUB", "nested/c.epub", "notes.txt"} {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, nil, 0o644))
	}

	got, err := Discover(dir, filepath.Join(dir, "b.epub"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.EPUB"),
		filepath.Join(dir, "b.epub"),
		filepath.Join(dir, "nested", "c.epub"),
	}, got)

	_, err = Discover(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestDestinationsEnsureDirs(t *testing.T) {
	d := DefaultDestinations(filepath.Join(t.TempDir(), "library"))
	require.NoError(t, d.EnsureDirs())
	for _, dir := range []string{d.Resized, d.Unchanged, d.Quarantine, d.Processed} {
		assert.DirExists(t, dir)
	}
	assert.Error(t, Destinations{}.EnsureDirs())
}
