package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/ini.v1"

	"epubslim/internal/pipeline"
	"epubslim/internal/transform"
)

// EnvVar names the config file to load instead of the default locations.
const EnvVar = "EPUBSLIM_CONFIG"

// FileName is the config file looked up in the working directory.
const FileName = "epubslim.ini"

// Config holds all application configuration
type Config struct {
	Images  ImagesConfig
	Layout  LayoutConfig
	Library LibraryConfig
	Run     RunConfig
	Log     LogConfig
	Catalog CatalogConfig
}

// ImagesConfig selects and sizes the images that get transformed
type ImagesConfig struct {
	MinSizeBytes int64    `validate:"gte=0"`
	MaxSizeBytes int64    `validate:"omitempty,gtefield=MinSizeBytes"`
	Suffixes     []string `validate:"required,min=1,dive,startswith=."`
	MaxWidth     int      `validate:"gte=0"`
	MaxHeight    int      `validate:"gte=0"`
	JPEGQuality  int      `validate:"gte=1,lte=100"`
}

// LayoutConfig locates images and documents inside an archive
type LayoutConfig struct {
	ImagesDir          string   `validate:"required"`
	DocumentsDir       string   `validate:"required"`
	DocumentExtensions []string `validate:"required,min=1,dive,startswith=."`
}

// LibraryConfig places the destination directories. Empty overrides fall
// back to a subdirectory of Root.
type LibraryConfig struct {
	Root       string `validate:"required"`
	Resized    string
	Unchanged  string
	Quarantine string
	Processed  string
}

// RunConfig holds execution settings
type RunConfig struct {
	Workers    int `validate:"gte=0"`
	ScratchDir string
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `validate:"oneof=debug info warn error"`
	File  string
}

// CatalogConfig holds report history settings
type CatalogConfig struct {
	Enabled bool
	Path    string `validate:"required_if=Enabled true"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	s := transform.DefaultSettings()
	return &Config{
		Images: ImagesConfig{
			MinSizeBytes: s.MinSizeBytes,
			MaxSizeBytes: s.MaxSizeBytes,
			Suffixes:     s.Suffixes,
			MaxWidth:     s.MaxWidth,
			MaxHeight:    s.MaxHeight,
			JPEGQuality:  s.JPEGQuality,
		},
		Layout: LayoutConfig{
			ImagesDir:          "EPUB/Images",
			DocumentsDir:       "EPUB/chapters",
			DocumentExtensions: []string{".html", ".xhtml", ".htm"},
		},
		Library: LibraryConfig{
			Root: filepath.Join(home, "Downloads", "EPUB"),
		},
		Run: RunConfig{
			Workers: runtime.NumCPU(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Catalog: CatalogConfig{
			Enabled: true,
			Path:    filepath.Join(home, ".epubslim", "history.db"),
		},
	}
}

// Load reads configuration from the specified INI file on top of Default.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	c := Default()

	images := f.Section("images")
	c.Images.MinSizeBytes = images.Key("min_size_bytes").MustInt64(c.Images.MinSizeBytes)
	c.Images.MaxSizeBytes = images.Key("max_size_bytes").MustInt64(c.Images.MaxSizeBytes)
	if images.HasKey("suffixes") {
		c.Images.Suffixes = normalizeExts(images.Key("suffixes").Strings(","))
	}
	c.Images.MaxWidth = images.Key("max_width").MustInt(c.Images.MaxWidth)
	c.Images.MaxHeight = images.Key("max_height").MustInt(c.Images.MaxHeight)
	c.Images.JPEGQuality = images.Key("jpeg_quality").MustInt(c.Images.JPEGQuality)

	layout := f.Section("layout")
	c.Layout.ImagesDir = layout.Key("images_dir").MustString(c.Layout.ImagesDir)
	c.Layout.DocumentsDir = layout.Key("documents_dir").MustString(c.Layout.DocumentsDir)
	if layout.HasKey("document_extensions") {
		c.Layout.DocumentExtensions = normalizeExts(layout.Key("document_extensions").Strings(","))
	}

	library := f.Section("library")
	c.Library.Root = expandHome(library.Key("root").MustString(c.Library.Root))
	c.Library.Resized = expandHome(library.Key("resized").String())
	c.Library.Unchanged = expandHome(library.Key("unchanged").String())
	c.Library.Quarantine = expandHome(library.Key("quarantine").String())
	c.Library.Processed = expandHome(library.Key("processed").String())

	run := f.Section("run")
	c.Run.Workers = run.Key("workers").MustInt(c.Run.Workers)
	c.Run.ScratchDir = expandHome(run.Key("scratch_dir").String())

	logSection := f.Section("log")
	c.Log.Level = strings.ToLower(logSection.Key("level").MustString(c.Log.Level))
	c.Log.File = expandHome(logSection.Key("file").String())

	catalog := f.Section("catalog")
	c.Catalog.Enabled = catalog.Key("enabled").MustBool(c.Catalog.Enabled)
	c.Catalog.Path = expandHome(catalog.Key("path").MustString(c.Catalog.Path))

	return c, nil
}

// LoadDefault loads the file named by EPUBSLIM_CONFIG, then epubslim.ini in
// the working directory, then ~/.epubslim/epubslim.ini. With none present the
// built-in defaults are returned.
func LoadDefault() (*Config, error) {
	if p := os.Getenv(EnvVar); p != "" {
		return Load(p)
	}
	if p := GetConfigPath(); p != "" {
		if _, err := os.Stat(p); err == nil {
			return Load(p)
		}
	}
	return Default(), nil
}

// GetConfigPath returns the first existing config file location, or the
// per-user location when none exists yet.
func GetConfigPath() string {
	if _, err := os.Stat(FileName); err == nil {
		return FileName
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return FileName
	}
	return filepath.Join(home, ".epubslim", FileName)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save writes configuration to the specified INI file
func (c *Config) Save(path string) error {
	f := ini.Empty()

	images, _ := f.NewSection("images")
	images.NewKey("min_size_bytes", strconv.FormatInt(c.Images.MinSizeBytes, 10))
	images.NewKey("max_size_bytes", strconv.FormatInt(c.Images.MaxSizeBytes, 10))
	images.NewKey("suffixes", strings.Join(c.Images.Suffixes, ","))
	images.NewKey("max_width", strconv.Itoa(c.Images.MaxWidth))
	images.NewKey("max_height", strconv.Itoa(c.Images.MaxHeight))
	images.NewKey("jpeg_quality", strconv.Itoa(c.Images.JPEGQuality))

	layout, _ := f.NewSection("layout")
	layout.NewKey("images_dir", c.Layout.ImagesDir)
	layout.NewKey("documents_dir", c.Layout.DocumentsDir)
	layout.NewKey("document_extensions", strings.Join(c.Layout.DocumentExtensions, ","))

	library, _ := f.NewSection("library")
	library.NewKey("root", c.Library.Root)
	library.NewKey("resized", c.Library.Resized)
	library.NewKey("unchanged", c.Library.Unchanged)
	library.NewKey("quarantine", c.Library.Quarantine)
	library.NewKey("processed", c.Library.Processed)

	run, _ := f.NewSection("run")
	run.NewKey("workers", strconv.Itoa(c.Run.Workers))
	run.NewKey("scratch_dir", c.Run.ScratchDir)

	logSection, _ := f.NewSection("log")
	logSection.NewKey("level", c.Log.Level)
	logSection.NewKey("file", c.Log.File)

	catalog, _ := f.NewSection("catalog")
	catalog.NewKey("enabled", strconv.FormatBool(c.Catalog.Enabled))
	catalog.NewKey("path", c.Catalog.Path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return f.SaveTo(path)
}

// Settings converts the image section for the transform engine.
func (c *Config) Settings() transform.Settings {
	return transform.Settings{
		MinSizeBytes: c.Images.MinSizeBytes,
		MaxSizeBytes: c.Images.MaxSizeBytes,
		Suffixes:     c.Images.Suffixes,
		MaxWidth:     c.Images.MaxWidth,
		MaxHeight:    c.Images.MaxHeight,
		JPEGQuality:  c.Images.JPEGQuality,
	}
}

// Destinations resolves the library directories.
func (c *Config) Destinations() pipeline.Destinations {
	d := pipeline.DefaultDestinations(c.Library.Root)
	if c.Library.Resized != "" {
		d.Resized = c.Library.Resized
	}
	if c.Library.Unchanged != "" {
		d.Unchanged = c.Library.Unchanged
	}
	if c.Library.Quarantine != "" {
		d.Quarantine = c.Library.Quarantine
	}
	if c.Library.Processed != "" {
		d.Processed = c.Library.Processed
	}
	return d
}

// PipelineOptions resolves everything the pipeline needs except the logger.
func (c *Config) PipelineOptions() pipeline.Options {
	return pipeline.Options{
		Settings:           c.Settings(),
		Workers:            c.Run.Workers,
		ImagesDir:          c.Layout.ImagesDir,
		DocumentsDir:       c.Layout.DocumentsDir,
		DocumentExtensions: c.Layout.DocumentExtensions,
		Destinations:       c.Destinations(),
		ScratchDir:         c.Run.ScratchDir,
	}
}

func normalizeExts(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if !strings.HasPrefix(v, ".") {
			v = "." + v
		}
		out = append(out, v)
	}
	return out
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
