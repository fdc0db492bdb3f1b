package pipeline

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/charmbracelet/log"

	"epubslim/internal/transform"
)

// Destinations are the library directories an archive can end up in.
type Destinations struct {
	Resized    string
	Unchanged  string
	Quarantine string
	Processed  string
}

// DefaultDestinations lays the four directories out under root.
func DefaultDestinations(root string) Destinations {
	return Destinations{
		Resized:    filepath.Join(root, "Resized"),
		Unchanged:  filepath.Join(root, "Unchanged"),
		Quarantine: filepath.Join(root, "Quarantine"),
		Processed:  filepath.Join(root, "Processed"),
	}
}

// EnsureDirs creates every destination directory that does not exist yet.
func (d Destinations) EnsureDirs() error {
	for _, dir := range []string{d.Resized, d.Unchanged, d.Quarantine, d.Processed} {
		if dir == "" {
			return errors.New("pipeline: destination directory not set")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// sourceDir is where the original archive goes for an outcome.
func (d Destinations) sourceDir(o Outcome) string {
	switch o {
	case OutcomePackaged:
		return d.Processed
	case OutcomeUnchanged:
		return d.Unchanged
	default:
		return d.Quarantine
	}
}

// Options is the resolved configuration for a run.
type Options struct {
	Settings transform.Settings
	Workers  int

	// ImagesDir and DocumentsDir are slash-separated paths inside the archive.
	ImagesDir          string
	DocumentsDir       string
	DocumentExtensions []string

	Destinations Destinations

	// ScratchDir holds the per-archive working directories; empty means the
	// system temp directory.
	ScratchDir string

	Logger *log.Logger
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions(libraryRoot string) Options {
	return Options{
		Settings:           transform.DefaultSettings(),
		Workers:            runtime.NumCPU(),
		ImagesDir:          "EPUB/Images",
		DocumentsDir:       "EPUB/chapters",
		DocumentExtensions: []string{".html", ".xhtml", ".htm"},
		Destinations:       DefaultDestinations(libraryRoot),
	}
}

func (o Options) withDefaults() Options {
	if o.Workers < 1 {
		o.Workers = runtime.NumCPU()
	}
	if len(o.DocumentExtensions) == 0 {
		o.DocumentExtensions = []string{".html", ".xhtml", ".htm"}
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard)
	}
	return o
}
