package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"epubslim/internal/catalog"
	"epubslim/internal/tui"
)

var (
	historyLimit int
	historyPrune time.Duration
	historyRun   string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent optimize runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := catalog.Open(cfg.Catalog.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		ctx := cmd.Context()

		if historyPrune > 0 {
			n, err := store.Prune(ctx, time.Now().Add(-historyPrune))
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Removed %d run(s)\n", n)
			return nil
		}

		if historyRun != "" {
			run, err := store.Get(ctx, historyRun)
			if err != nil {
				return err
			}
			images, err := store.Images(ctx, run.ID)
			if err != nil {
				return err
			}
			printRun(run)
			if len(images) > 0 {
				fmt.Fprintln(os.Stdout, tui.ImageTable(images))
			}
			return nil
		}

		runs, err := store.Recent(ctx, historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stdout, historyDimStyle.Render("no runs recorded"))
			return nil
		}
		for _, run := range runs {
			printRun(run)
		}
		return nil
	},
}

func printRun(run catalog.Run) {
	fmt.Fprintf(os.Stdout, "%s %s %s\n",
		historyDimStyle.Render(run.Started.Format("2006-01-02 15:04")),
		historyFileStyle.Render(run.Archive),
		lipgloss.NewStyle().Foreground(tui.OutcomeColor(run.Outcome)).Render(string(run.Outcome)),
	)
	detail := fmt.Sprintf("  %s  images %d/%d changed  saved %s  %s",
		run.ID, run.Changed, run.Images, tui.FormatBytes(run.Saved()), run.Elapsed.Round(time.Millisecond))
	fmt.Fprintln(os.Stdout, historyDimStyle.Render(detail))
	if run.Reason != "" {
		fmt.Fprintln(os.Stdout, "  "+historyWarnStyle.Render(run.Reason))
	}
}

var (
	historyFileStyle = lipgloss.NewStyle().Bold(true).Foreground(tui.ColorAccent)
	historyWarnStyle = lipgloss.NewStyle().Foreground(tui.ColorWarn)
	historyDimStyle  = lipgloss.NewStyle().Foreground(tui.ColorDim)
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to list")
	historyCmd.Flags().StringVar(&historyRun, "run", "", "show the images of one run (id from the listing)")
	historyCmd.Flags().DurationVar(&historyPrune, "prune", 0, "delete runs older than this, e.g. 720h")

	rootCmd.AddCommand(historyCmd)
}
