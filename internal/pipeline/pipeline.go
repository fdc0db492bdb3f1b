// Package pipeline runs one EPUB through extraction, image transforms,
// reference rewriting, validation and repackaging, then commits the result
// by moving the source archive into the library directory for its outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"epubslim/internal/archive"
	"epubslim/internal/fsutil"
	"epubslim/internal/rewrite"
	"epubslim/internal/transform"
)

// Optimize processes the archive at path and moves it into the destination
// matching its outcome. Failures inside the archive become a quarantine
// outcome on the report; the returned error is reserved for a source archive
// that could not be moved and for cancellation.
func Optimize(ctx context.Context, path string, opts Options) (*Report, error) {
	return newRun(path, opts, nil).optimize(ctx)
}

// Analyze runs the transform and rewrite phases on a scratch copy and
// reports what Optimize would do. Nothing is packaged and the source archive
// is not moved.
func Analyze(ctx context.Context, path string, opts Options) (*Report, error) {
	return newRun(path, opts, nil).analyze(ctx)
}

type run struct {
	opts    Options
	log     *log.Logger
	updates chan<- ProgressUpdate
	source  string
	report  *Report
}

func newRun(path string, opts Options, updates chan<- ProgressUpdate) *run {
	opts = opts.withDefaults()
	id := uuid.NewString()
	return &run{
		opts:    opts,
		log:     opts.Logger.With("archive", filepath.Base(path)),
		updates: updates,
		source:  path,
		report: &Report{
			RunID:   id,
			Archive: path,
			Started: time.Now(),
		},
	}
}

func (r *run) send(u ProgressUpdate) {
	if r.updates == nil {
		return
	}
	u.Archive = filepath.Base(r.source)
	r.updates <- u
}

// workspace is the unpacked copy of one archive.
type workspace struct {
	root      string
	imagesDir string
	docsDir   string
}

func (r *run) prepare(ctx context.Context) (*workspace, error) {
	info, err := os.Stat(r.source)
	if err != nil {
		return nil, err
	}
	r.report.OriginalSize = info.Size()

	root, err := os.MkdirTemp(r.opts.ScratchDir, "epubslim-"+r.report.RunID[:8]+"-*")
	if err != nil {
		return nil, err
	}
	ws := &workspace{
		root:      root,
		imagesDir: filepath.Join(root, filepath.FromSlash(r.opts.ImagesDir)),
		docsDir:   filepath.Join(root, filepath.FromSlash(r.opts.DocumentsDir)),
	}

	r.send(ProgressUpdate{Phase: "extract"})
	if err := archive.Extract(ctx, r.source, root); err != nil {
		return ws, err
	}

	analytics, err := collectAnalytics(root)
	if err != nil {
		return ws, err
	}
	r.report.Analytics = analytics
	return ws, nil
}

func (r *run) teardown(ws *workspace) {
	if ws == nil {
		return
	}
	if err := os.RemoveAll(ws.root); err != nil {
		r.log.Warn("could not remove working directory", "dir", ws.root, "err", err)
	}
}

// process runs both worker phases and the manifest follow-up. Each phase is
// a barrier; only cancellation is returned as an error.
func (r *run) process(ctx context.Context, ws *workspace) ([]*transform.Result, []*rewrite.DocumentResult, error) {
	images, err := listFiles(ws.imagesDir, nil)
	if err != nil {
		return nil, nil, err
	}
	docs, err := listFiles(ws.docsDir, r.opts.DocumentExtensions)
	if err != nil {
		return nil, nil, err
	}
	if len(images) == 0 {
		r.warnf("no images found in %s", r.opts.ImagesDir)
	}
	r.log.Debug("enumerated", "images", len(images), "documents", len(docs))

	r.send(ProgressUpdate{Phase: "images", ImagesTotalDelta: len(images)})
	settings := r.opts.Settings
	results, err := runPool(ctx, r.opts.Workers, images, func(path string) *transform.Result {
		return transform.Transform(path, settings)
	}, func(res *transform.Result) {
		r.logImage(res)
		u := ProgressUpdate{Phase: "images", ImagesDoneDelta: 1}
		if !res.Success {
			u.ErrorDelta = 1
		}
		r.send(u)
	})
	if err != nil {
		return nil, nil, err
	}

	rw := &rewrite.Rewriter{
		ImagesDir: ws.imagesDir,
		Index:     rewrite.NewIndex(results),
		Renames:   rewrite.BuildRenameMap(results),
	}

	r.send(ProgressUpdate{Phase: "references", DocumentsTotalDelta: len(docs)})
	docResults, err := runPool(ctx, r.opts.Workers, docs, rw.Rewrite, func(doc *rewrite.DocumentResult) {
		r.logDocument(doc)
		u := ProgressUpdate{Phase: "references", DocumentsDoneDelta: 1}
		if !doc.Success() {
			u.ErrorDelta = 1
		}
		r.send(u)
	})
	if err != nil {
		return nil, nil, err
	}

	if len(rw.Renames) > 0 && allSucceeded(docResults) {
		if doc := r.rewriteManifest(ws, rw.Renames); doc != nil {
			docResults = append(docResults, doc)
		}
	}
	return results, docResults, nil
}

// rewriteManifest points the package document at renamed images. A missing
// package document is only a warning.
func (r *run) rewriteManifest(ws *workspace, renames rewrite.RenameMap) *rewrite.DocumentResult {
	opf, err := rewrite.FindPackageDocument(ws.root)
	if err != nil {
		r.warnf("package document not updated: %v", err)
		return nil
	}
	n, err := rewrite.RewriteManifest(opf, ws.imagesDir, renames)
	doc := &rewrite.DocumentResult{Path: opf, ReferencesUpdated: n, Err: err}
	r.logDocument(doc)
	return doc
}

func allSucceeded(docs []*rewrite.DocumentResult) bool {
	for _, d := range docs {
		if !d.Success() {
			return false
		}
	}
	return true
}

func (r *run) optimize(ctx context.Context) (*Report, error) {
	rep := r.report
	defer func() { rep.Elapsed = time.Since(rep.Started) }()

	ws, err := r.prepare(ctx)
	defer r.teardown(ws)
	if err != nil {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		return r.commit(OutcomeQuarantined, fmt.Errorf("extract: %w", err))
	}

	results, docs, err := r.process(ctx, ws)
	if err != nil {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		return r.commit(OutcomeQuarantined, err)
	}

	v := validate(results, docs)
	rep.addDocuments(docs)
	if v.outcome != OutcomePackaged {
		rep.addImages(results)
		return r.commit(v.outcome, v.reason)
	}

	r.send(ProgressUpdate{Phase: "cleanup"})
	if err := removeAll(v.remove); err != nil {
		rep.addImages(results)
		return r.commit(OutcomeQuarantined, err)
	}
	rep.addImages(results)
	if err := checkScratch(ws.imagesDir, ws.docsDir); err != nil {
		return r.commit(OutcomeQuarantined, err)
	}

	r.send(ProgressUpdate{Phase: "package"})
	dest := fsutil.UniquePath(filepath.Join(r.opts.Destinations.Resized, filepath.Base(r.source)))
	if err := archive.Pack(ctx, ws.root, dest); err != nil {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		return r.commit(OutcomeQuarantined, fmt.Errorf("%w: %w", ErrPackage, err))
	}
	if info, err := os.Stat(dest); err == nil {
		rep.OutputSize = info.Size()
	}
	rep.OutputPath = dest

	if _, err := r.commit(OutcomePackaged, nil); err != nil {
		// The source stays put, so the new archive must not look finished.
		_ = os.Remove(dest)
		rep.OutputPath = ""
		return rep, err
	}
	r.log.Info("packaged", "output", dest, "before", rep.OriginalSize, "after", rep.OutputSize)
	return rep, nil
}

func (r *run) analyze(ctx context.Context) (*Report, error) {
	rep := r.report
	rep.DryRun = true
	defer func() { rep.Elapsed = time.Since(rep.Started) }()

	ws, err := r.prepare(ctx)
	defer r.teardown(ws)
	if err != nil {
		return rep, err
	}

	results, docs, err := r.process(ctx, ws)
	if err != nil {
		return rep, err
	}
	v := validate(results, docs)
	rep.addImages(results)
	rep.addDocuments(docs)
	rep.Outcome = v.outcome
	if v.reason != nil {
		rep.Reason = v.reason.Error()
	}
	return rep, nil
}

// commit moves the source archive into the directory for outcome. It is the
// only step that touches the source.
func (r *run) commit(outcome Outcome, reason error) (*Report, error) {
	rep := r.report
	rep.Outcome = outcome
	if reason != nil {
		rep.Reason = reason.Error()
		r.log.Warn("archive not packaged", "outcome", outcome, "reason", reason)
	}

	moved, err := fsutil.Move(r.source, r.opts.Destinations.sourceDir(outcome))
	if err != nil {
		r.log.Error("could not move source archive", "err", err)
		if rep.Reason != "" {
			rep.Reason += "; "
		}
		rep.Reason += err.Error()
		return rep, err
	}
	rep.MovedTo = moved
	return rep, nil
}

// verdict is the result of validating one run.
type verdict struct {
	outcome Outcome
	reason  error
	remove  []string
}

// validate decides the outcome from the two phases. Superseded originals of
// fully re-referenced images and strays of failed renames are scheduled for
// removal; together they must account for every renamed image.
func validate(results []*transform.Result, docs []*rewrite.DocumentResult) verdict {
	var failed []string
	for _, d := range docs {
		if !d.Success() {
			failed = append(failed, d.Name())
		}
	}
	if len(failed) > 0 {
		return verdict{
			outcome: OutcomeQuarantined,
			reason:  fmt.Errorf("%w: %s", ErrReferenceUpdate, strings.Join(failed, ", ")),
		}
	}

	changed := false
	renamed := 0
	var remove []string
	for _, res := range results {
		if res.Changed {
			changed = true
		}
		if !res.Renamed() {
			continue
		}
		renamed++
		switch {
		case res.Success && res.ReferenceStatus() == transform.RefSuccess:
			remove = append(remove, res.Original.Path)
		case !res.Success:
			if stray, ok := transform.StrayPath(res); ok {
				remove = append(remove, stray)
			}
		}
	}

	if !changed {
		return verdict{outcome: OutcomeUnchanged, reason: errors.New("no image needed changes")}
	}
	if len(remove) != renamed {
		return verdict{
			outcome: OutcomeQuarantined,
			reason:  fmt.Errorf("%w: %d of %d renamed images can be removed", ErrConsistency, len(remove), renamed),
		}
	}
	return verdict{outcome: OutcomePackaged, remove: remove}
}

func removeAll(paths []string) error {
	for _, p := range paths {
		if err := os.Remove(p); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCleanup, filepath.Base(p), err)
		}
	}
	return nil
}

// checkScratch fails when a transform or rewrite left a scratch file behind.
func checkScratch(dirs ...string) error {
	for _, dir := range dirs {
		matches, err := filepath.Glob(filepath.Join(dir, transform.TempPattern))
		if err != nil {
			return err
		}
		if len(matches) > 0 {
			return fmt.Errorf("%w: leftover scratch file %s", ErrConsistency, filepath.Base(matches[0]))
		}
	}
	return nil
}

func (r *run) warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.report.Warnings = append(r.report.Warnings, msg)
	r.log.Warn(msg)
}

func (r *run) logImage(res *transform.Result) {
	l := r.log.With("image", res.Original.Name())
	switch {
	case !res.Success:
		l.Error("transform failed", "err", res.Err)
	case res.Changed:
		l.Debug("transformed", "new", res.NewName(), "before", res.Original.Size, "after", res.NewSize)
	default:
		l.Debug("skipped", "reason", res.Err)
	}
}

func (r *run) logDocument(doc *rewrite.DocumentResult) {
	l := r.log.With("chapter", doc.Name())
	if !doc.Success() {
		l.Error("rewrite failed", "err", doc.Err)
		return
	}
	for _, w := range doc.Warnings {
		l.Warn(w)
	}
	if doc.ReferencesUpdated > 0 {
		l.Debug("rewritten", "references", doc.ReferencesUpdated)
	}
}
