package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/saltyorg/subextract/internal/database"
)

func newRunCommand(cmdCtx *commandContext) *cobra.Command {
	var noProgress bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the subtitle extraction task once in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.notifier.Start()
			defer a.notifier.Stop()

			var observer *barProgress
			if !noProgress && isTerminal(os.Stderr) {
				observer = newBarProgress(os.Stderr, a.task.Name())
			}

			run, err := runTask(ctx, a, observer)
			if observer != nil {
				observer.finish()
			}
			if run != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Run %d %s: %d/%d items in %s\n",
					run.ID, run.Status, run.ItemsProcessed, run.ItemsTotal, formatDuration(run.Duration()))
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Do not draw a progress bar")
	return cmd
}

func runTask(ctx context.Context, a *app, observer *barProgress) (*database.TaskRun, error) {
	if observer == nil {
		return a.scheduler.RunSync(ctx, a.task.Key(), "cli", nil)
	}
	return a.scheduler.RunSync(ctx, a.task.Key(), "cli", observer)
}

// barProgress draws task progress as a terminal progress bar
type barProgress struct {
	bar *progressbar.ProgressBar
	out io.Writer
}

func newBarProgress(w io.Writer, description string) *barProgress {
	return &barProgress{
		bar: progressbar.NewOptions(100,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription(description),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionSetWidth(30),
		),
		out: w,
	}
}

// Report implements scheduler.Progress
func (b *barProgress) Report(percent float64) {
	_ = b.bar.Set(int(percent))
}

// ReportItems implements scheduler.ItemProgress
func (b *barProgress) ReportItems(processed, total int) {
	b.bar.Describe(fmt.Sprintf("%d/%d items", processed, total))
}

func (b *barProgress) finish() {
	_ = b.bar.Exit()
	fmt.Fprintln(b.out)
}

func isTerminal(file *os.File) bool {
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
