package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tonearm/internal/api"
	"tonearm/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var history bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the state of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *api.Service, _ *queue.Store) error {
				id := strings.TrimSpace(args[0])
				view, err := svc.Get(cmd.Context(), id)
				if errors.Is(err, api.ErrNotFound) {
					return fmt.Errorf("%w: %s", api.ErrNotFound, id)
				}
				if err != nil {
					return err
				}
				var transitions []api.TransitionView
				if history {
					transitions, err = svc.History(cmd.Context(), id)
					if err != nil {
						return err
					}
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, map[string]any{"job": view, "transitions": transitions})
				}
				printJob(cmd, view)
				if history {
					printHistory(cmd, transitions)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&history, "history", false, "Include lifecycle transitions")
	return cmd
}

func printJob(cmd *cobra.Command, view api.JobView) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	for _, line := range renderSectionHeader("Job "+view.ID, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Status", jobStatusKind(view.Status), view.Progress.Stage, colorize))
	fmt.Fprintln(out, renderStatusLine("Source", statusInfo, view.SourceURL, colorize))
	fmt.Fprintln(out, renderStatusLine("Format", statusInfo, view.Format, colorize))
	progress := strconv.FormatFloat(view.Progress.Percent, 'f', 0, 64) + "%"
	if view.Progress.Message != "" {
		progress += " " + view.Progress.Message
	}
	fmt.Fprintln(out, renderStatusLine("Progress", statusInfo, progress, colorize))
	fmt.Fprintln(out, renderStatusLine("Attempts", statusInfo, strconv.Itoa(view.Attempts), colorize))
	if view.NextAttemptAt != "" {
		fmt.Fprintln(out, renderStatusLine("Next attempt", statusWarn, formatQueueTime(view.NextAttemptAt), colorize))
	}
	if view.Result != nil {
		fmt.Fprintln(out, renderStatusLine("Download", statusOK, view.Result.URL, colorize))
		if view.Result.ExpiresAt != "" {
			fmt.Fprintln(out, renderStatusLine("Link expires", statusInfo, formatQueueTime(view.Result.ExpiresAt), colorize))
		}
		fmt.Fprintln(out, renderStatusLine("Cache hit", statusInfo, yesNo(view.Result.CacheHit), colorize))
	}
	if view.Error != nil {
		kind := statusError
		if view.Status == string(queue.StatusRetrying) {
			kind = statusWarn
		}
		message := humanLabel(view.Error.Class)
		if view.Error.LastClass != "" && view.Error.LastClass != view.Error.Class {
			message += " (last: " + humanLabel(view.Error.LastClass) + ")"
		}
		fmt.Fprintln(out, renderStatusLine("Error", kind, message, colorize))
		if view.Error.Message != "" {
			fmt.Fprintln(out, renderStatusLine("Detail", kind, view.Error.Message, colorize))
		}
	}
}

func printHistory(cmd *cobra.Command, transitions []api.TransitionView) {
	rows := make([][]string, 0, len(transitions))
	for _, tr := range transitions {
		from := tr.From
		if from == "" {
			from = "-"
		}
		rows = append(rows, []string{
			formatQueueTime(tr.At),
			from,
			tr.To,
			strconv.Itoa(tr.Attempt),
			humanLabel(tr.ErrorClass),
		})
	}
	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprint(cmd.OutOrStdout(), renderTable(
		[]tableColumn{leftColumn("At"), leftColumn("From"), leftColumn("To"), rightColumn("Attempt"), leftColumn("Error")},
		rows,
	))
	fmt.Fprintln(cmd.OutOrStdout())
}
