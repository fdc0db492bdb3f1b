package pipeline

import (
	"context"
	"path/filepath"
)

// RunBatch optimizes each archive in turn. One archive's failure never stops
// the batch; only cancellation does. updates may be nil.
func RunBatch(ctx context.Context, paths []string, opts Options, updates chan<- ProgressUpdate) (Summary, []*Report, error) {
	summary := Summary{}
	reports := make([]*Report, 0, len(paths))
	logger := opts.withDefaults().Logger

	if updates != nil {
		updates <- ProgressUpdate{ArchivesTotalDelta: len(paths)}
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return summary, reports, err
		}

		rep, err := newRun(path, opts, updates).optimize(ctx)
		if err != nil && ctx.Err() != nil {
			return summary, reports, ctx.Err()
		}

		summary.Archives++
		reports = append(reports, rep)

		u := ProgressUpdate{Archive: filepath.Base(path), Phase: "done", ArchivesDoneDelta: 1}
		if err != nil {
			summary.Failed++
			u.ErrorDelta = 1
			logger.Error("archive left in place", "archive", filepath.Base(path), "err", err)
		} else {
			summary.add(rep)
			switch rep.Outcome {
			case OutcomeQuarantined:
				u.QuarantinedDelta = 1
			case OutcomePackaged:
				u.BytesSavedDelta = rep.OriginalSize - rep.OutputSize
			}
		}
		if updates != nil {
			updates <- u
		}
	}
	return summary, reports, nil
}
