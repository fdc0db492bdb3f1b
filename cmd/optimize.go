package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"epubslim/internal/catalog"
	"epubslim/internal/pipeline"
	"epubslim/internal/tui"
)

var (
	optLibrary   string
	optWorkers   int
	optMaxWidth  int
	optMaxHeight int
	optQuality   int
	optMinSize   int64
	optNoTUI     bool
	optNoCatalog bool
	optVerbose   bool
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize [flags] <path>...",
	Short: "Shrink the images in EPUB files and file them into the library",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := pipeline.Discover(args...)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			return errors.New("no .epub files found")
		}

		opts, err := resolveOptions(cmd)
		if err != nil {
			return err
		}
		if err := opts.Destinations.EnsureDirs(); err != nil {
			return err
		}

		logger, err := openLogger(!optNoTUI)
		if err != nil {
			return err
		}
		defer logger.Close()
		opts.Logger = logger.Logger

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		var updates chan pipeline.ProgressUpdate
		var uiDone <-chan struct{}
		if optNoTUI {
			closed := make(chan struct{})
			close(closed)
			uiDone = closed
		} else {
			updates = make(chan pipeline.ProgressUpdate, 64)
			program := tea.NewProgram(tui.NewModel("epubslim", updates, cancel))
			uiDone = drainAfter(func() {
				if _, err := program.Run(); err != nil {
					logger.Warn("progress display stopped", "err", err)
				}
			}, updates)
		}

		summary, reports, runErr := pipeline.RunBatch(ctx, paths, opts, updates)
		if updates != nil {
			close(updates)
		}
		<-uiDone

		if err := recordReports(reports); err != nil {
			logger.Warn("history not saved", "err", err)
		}

		for _, rep := range reports {
			if optVerbose || !rep.Success() {
				fmt.Fprintln(os.Stdout, tui.RenderReport(rep))
				fmt.Fprintln(os.Stdout)
			}
		}
		fmt.Fprintln(os.Stdout, tui.RenderSummary(tui.BatchRows(summary)))
		fmt.Fprintf(os.Stdout, "Library: %s\n", cfg.Library.Root)

		if runErr != nil {
			return runErr
		}
		if summary.Failed > 0 {
			return fmt.Errorf("%d archive(s) could not be moved", summary.Failed)
		}
		return nil
	},
}

// drainAfter runs the display and then keeps reading updates until the channel
// is closed, so the batch never blocks on a display that exited early. The
// returned channel closes once updates is closed and drained.
func drainAfter(run func(), updates <-chan pipeline.ProgressUpdate) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		run()
		for range updates {
		}
	}()
	return done
}

// resolveOptions applies the flags that were set on top of the config.
func resolveOptions(cmd *cobra.Command) (pipeline.Options, error) {
	flags := cmd.Flags()
	if flags.Changed("library") {
		cfg.Library.Root = optLibrary
	}
	if flags.Changed("workers") {
		cfg.Run.Workers = optWorkers
	}
	if flags.Changed("max-width") {
		cfg.Images.MaxWidth = optMaxWidth
	}
	if flags.Changed("max-height") {
		cfg.Images.MaxHeight = optMaxHeight
	}
	if flags.Changed("quality") {
		cfg.Images.JPEGQuality = optQuality
	}
	if flags.Changed("min-size") {
		cfg.Images.MinSizeBytes = optMinSize
	}
	if err := cfg.Validate(); err != nil {
		return pipeline.Options{}, err
	}
	return cfg.PipelineOptions(), nil
}

func recordReports(reports []*pipeline.Report) error {
	if optNoCatalog || !cfg.Catalog.Enabled || len(reports) == 0 {
		return nil
	}
	store, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	var errs []error
	for _, rep := range reports {
		errs = append(errs, store.Record(context.Background(), rep))
	}
	return errors.Join(errs...)
}

func addImageFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&optLibrary, "library", "l", "", "library root holding Resized, Unchanged, Quarantine and Processed")
	cmd.Flags().IntVarP(&optWorkers, "workers", "w", 0, "parallel image and chapter workers")
	cmd.Flags().IntVar(&optMaxWidth, "max-width", 0, "widest allowed image in pixels, 0 for no limit")
	cmd.Flags().IntVar(&optMaxHeight, "max-height", 0, "tallest allowed image in pixels, 0 for no limit")
	cmd.Flags().IntVarP(&optQuality, "quality", "q", 0, "JPEG quality 1-100")
	cmd.Flags().Int64Var(&optMinSize, "min-size", 0, "skip images smaller than this many bytes")
}

func init() {
	addImageFlags(optimizeCmd)
	optimizeCmd.Flags().BoolVar(&optNoTUI, "no-tui", false, "log to the terminal instead of showing progress")
	optimizeCmd.Flags().BoolVar(&optNoCatalog, "no-history", false, "do not record the run in the history database")
	optimizeCmd.Flags().BoolVarP(&optVerbose, "verbose", "v", false, "print the report of every archive")

	rootCmd.AddCommand(optimizeCmd)
}
