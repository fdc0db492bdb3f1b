package pipeline

import (
	"sort"
	"time"

	"epubslim/internal/rewrite"
	"epubslim/internal/transform"
)

// Outcome says where a processed archive was committed.
type Outcome string

const (
	OutcomePackaged    Outcome = "packaged"
	OutcomeUnchanged   Outcome = "unchanged"
	OutcomeQuarantined Outcome = "quarantined"
)

// ImageReport is the per-image row of a report.
type ImageReport struct {
	Name               string
	NewName            string
	OriginalSize       int64
	NewSize            int64
	ResizePercent      float64
	CompressionPercent float64
	Renamed            bool
	Changed            bool
	ReferenceStatus    transform.ReferenceStatus
	TotalReferences    int64
	UpdatedReferences  int64
	Error              string
}

// DocumentReport is the per-document row of a report.
type DocumentReport struct {
	Name              string
	ReferencesUpdated int
	Warnings          []string
	Error             string
}

// Report describes one archive run. Reason explains every outcome other
// than a clean package.
type Report struct {
	RunID   string
	Archive string
	DryRun  bool

	Outcome    Outcome
	Reason     string
	OutputPath string
	MovedTo    string

	OriginalSize int64
	OutputSize   int64

	Images    []ImageReport
	Documents []DocumentReport
	Warnings  []string
	Analytics Analytics

	Started time.Time
	Elapsed time.Duration
}

// Success reports whether a new archive was produced.
func (r *Report) Success() bool {
	return r.Outcome == OutcomePackaged
}

// ImageSavings sums the bytes removed from images.
func (r *Report) ImageSavings() int64 {
	var total int64
	for _, img := range r.Images {
		if img.Changed {
			total += img.OriginalSize - img.NewSize
		}
	}
	return total
}

func (r *Report) addImages(results []*transform.Result) {
	r.Images = make([]ImageReport, 0, len(results))
	for _, res := range results {
		row := ImageReport{
			Name:               res.Original.Name(),
			NewName:            res.NewName(),
			OriginalSize:       res.Original.Size,
			NewSize:            res.Original.Size,
			ResizePercent:      100,
			CompressionPercent: 100,
			Renamed:            res.Renamed(),
			Changed:            res.Changed,
			ReferenceStatus:    res.ReferenceStatus(),
			TotalReferences:    res.TotalReferences(),
			UpdatedReferences:  res.UpdatedReferences(),
		}
		if res.Changed {
			row.NewSize = res.NewSize
			row.ResizePercent = res.ResizePercent()
			row.CompressionPercent = res.CompressionPercent()
		}
		if res.Err != nil {
			row.Error = res.Err.Error()
		}
		r.Images = append(r.Images, row)
	}
	sort.Slice(r.Images, func(i, j int) bool { return r.Images[i].Name < r.Images[j].Name })
}

func (r *Report) addDocuments(results []*rewrite.DocumentResult) {
	r.Documents = make([]DocumentReport, 0, len(results))
	for _, res := range results {
		row := DocumentReport{
			Name:              res.Name(),
			ReferencesUpdated: res.ReferencesUpdated,
			Warnings:          res.Warnings,
		}
		if res.Err != nil {
			row.Error = res.Err.Error()
		}
		r.Documents = append(r.Documents, row)
	}
	sort.Slice(r.Documents, func(i, j int) bool { return r.Documents[i].Name < r.Documents[j].Name })
}

// Summary aggregates a batch.
type Summary struct {
	Archives    int
	Packaged    int
	Unchanged   int
	Quarantined int
	Failed      int
	BytesSaved  int64
}

func (s *Summary) add(r *Report) {
	switch r.Outcome {
	case OutcomePackaged:
		s.Packaged++
		s.BytesSaved += r.OriginalSize - r.OutputSize
	case OutcomeUnchanged:
		s.Unchanged++
	case OutcomeQuarantined:
		s.Quarantined++
	}
}

// ProgressUpdate carries counter deltas to a progress display.
type ProgressUpdate struct {
	Archive string
	Phase   string

	ArchivesTotalDelta  int
	ArchivesDoneDelta   int
	ImagesTotalDelta    int
	ImagesDoneDelta     int
	DocumentsTotalDelta int
	DocumentsDoneDelta  int
	QuarantinedDelta    int
	ErrorDelta          int
	BytesSavedDelta     int64
}
