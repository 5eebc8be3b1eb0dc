package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"clipwave/config"
	"clipwave/job"
	"clipwave/store"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/lithammer/shortuuid/v4"
	"github.com/spf13/cobra"
)

func run(cfg *config.Config) *cobra.Command {
	var sourceURL, instructions string
	c := &cobra.Command{
		Use:   "run",
		Short: "process one source url in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), cfg, sourceURL, instructions, cmd.OutOrStdout())
		},
	}
	c.Flags().StringVar(&sourceURL, "url", "", "source video url")
	c.Flags().StringVar(&instructions, "instructions", "", "what the clips should focus on")
	_ = c.MarkFlagRequired("url")
	return c
}

func runOnce(parent context.Context, cfg *config.Config, sourceURL, instructions string, out io.Writer) error {
	logger := newLogger(cfg, os.Stderr)
	ctx, stop := signal.NotifyContext(logger.WithContext(parent), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := job.ParseSource(sourceURL); err != nil {
		return err
	}

	jobs := store.New()
	orch, _, err := buildPipeline(ctx, cfg, jobs, progressPrinter(out))
	if err != nil {
		return err
	}

	j, err := jobs.Create(shortuuid.New(), sourceURL, instructions, "cli")
	if err != nil {
		return err
	}
	final := orch.Run(ctx, j)
	if final.Status != job.StatusCompleted {
		return fmt.Errorf("job %s failed: %s", final.ID, final.Error)
	}
	fmt.Fprintln(out, clipTable(final))
	return nil
}

// progressPrinter writes one line whenever the job's step changes.
func progressPrinter(out io.Writer) job.Listener {
	var last string
	return job.ListenerFunc(func(_ context.Context, ev job.Event) {
		line := fmt.Sprintf("[%3d%%] %s", ev.Job.Progress, ev.Job.CurrentStep)
		if line == last {
			return
		}
		last = line
		fmt.Fprintln(out, line)
	})
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64) + "s"
}

func clipTable(j job.Job) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.Style().Format.Footer = text.FormatDefault
	tw.AppendHeader(table.Row{"#", "Title", "Start", "End", "Length", "File"})

	var total float64
	for _, c := range j.Clips {
		tw.AppendRow(table.Row{c.ID, c.Title, seconds(c.Start), seconds(c.End), seconds(c.Duration), c.OutputPath})
		total += c.Duration
	}
	tw.AppendFooter(table.Row{"", "Total", "", "", seconds(total), j.OutputPath})

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 5, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}
