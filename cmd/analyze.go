package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"epubslim/internal/pipeline"
	"epubslim/internal/tui"
)

var analyzeSizes bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze [flags] <path>...",
	Short: "Report what optimize would do without touching the books",
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
		logger, err := openLogger(false)
		if err != nil {
			return err
		}
		defer logger.Close()
		opts.Logger = logger.Logger

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		var failed int
		for i, path := range paths {
			rep, err := pipeline.Analyze(ctx, path, opts)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if i > 0 {
				fmt.Fprintln(os.Stdout)
			}
			if err != nil {
				failed++
				fmt.Fprintf(os.Stdout, "%s\n  %v\n", path, err)
				continue
			}
			fmt.Fprintln(os.Stdout, tui.RenderReport(rep))
			if analyzeSizes {
				fmt.Fprintln(os.Stdout, tui.AnalyticsTable(rep.Analytics))
			}
			fmt.Fprintf(os.Stdout, "Images would save %s\n", tui.FormatBytes(rep.ImageSavings()))
		}
		if failed > 0 {
			return fmt.Errorf("%d archive(s) could not be analyzed", failed)
		}
		return nil
	},
}

func init() {
	addImageFlags(analyzeCmd)
	analyzeCmd.Flags().BoolVarP(&analyzeSizes, "sizes", "s", false, "show size per directory and suffix")

	rootCmd.AddCommand(analyzeCmd)
}
