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

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the job queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show job counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *api.Service, _ *queue.Store) error {
				counts, err := svc.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, api.QueueStatsResponse{Counts: counts})
				}
				rows := make([][]string, 0, len(counts))
				total := 0
				for _, status := range queue.AllStatuses() {
					count := counts[string(status)]
					if count == 0 {
						continue
					}
					total += count
					rows = append(rows, []string{humanLabel(string(status)), strconv.Itoa(count)})
				}
				if total == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				table := renderTable([]tableColumn{leftColumn("Status"), rightColumn("Count")}, rows)
				fmt.Fprint(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := make([]queue.Status, 0, len(listStatuses))
			for _, raw := range listStatuses {
				status, ok := queue.ParseStatus(raw)
				if !ok {
					return fmt.Errorf("unknown status %q", raw)
				}
				statuses = append(statuses, status)
			}
			return ctx.withService(func(svc *api.Service, _ *queue.Store) error {
				jobs, err := svc.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				jobs = api.SortJobsNewestFirst(jobs)
				if ctx.JSONMode() {
					if jobs == nil {
						jobs = []api.JobView{}
					}
					return writeJSON(cmd, api.JobListResponse{Jobs: jobs})
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				table := renderTable(
					[]tableColumn{
						leftColumn("ID"),
						leftColumn("Status"),
						leftColumn("Format"),
						rightColumn("Progress"),
						leftColumn("Created"),
						boundedColumn("Source", 48),
					},
					buildQueueListRows(jobs),
				)
				fmt.Fprint(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by job status (repeatable)")
	return cmd
}

func buildQueueListRows(jobs []api.JobView) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		source := job.SourceID
		if source == "" {
			source = job.SourceURL
		}
		rows = append(rows, []string{
			shortID(job.ID),
			job.Status,
			job.Format,
			strconv.FormatFloat(job.Progress.Percent, 'f', 0, 64) + "%",
			formatQueueTime(job.CreatedAt),
			source,
		})
	}
	return rows
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var succeededOnly bool
	var failedOnly bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove finished jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if succeededOnly && failedOnly {
				return errors.New("--succeeded and --failed are mutually exclusive")
			}
			scope := api.ClearAll
			label := "finished"
			switch {
			case succeededOnly:
				scope, label = api.ClearSucceeded, "succeeded"
			case failedOnly:
				scope, label = api.ClearFailed, "failed"
			}
			return ctx.withService(func(svc *api.Service, _ *queue.Store) error {
				removed, err := svc.Clear(cmd.Context(), scope)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, map[string]any{"scope": string(scope), "removed": removed})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d %s jobs\n", removed, label)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&succeededOnly, "succeeded", false, "Only remove succeeded jobs")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Only remove failed jobs")
	return cmd
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>...",
		Short: "Remove specific finished jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]string, 0, len(args))
			for _, arg := range args {
				if id := strings.TrimSpace(arg); id != "" {
					ids = append(ids, id)
				}
			}
			return ctx.withService(func(svc *api.Service, _ *queue.Store) error {
				result, err := svc.RemoveJobsByID(cmd.Context(), ids)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, result)
				}
				out := cmd.OutOrStdout()
				for _, job := range result.Jobs {
					switch job.Outcome {
					case api.RemoveJobRemoved:
						fmt.Fprintf(out, "Removed job %s\n", job.ID)
					case api.RemoveJobNotFound:
						fmt.Fprintf(out, "Job %s not found\n", job.ID)
					case api.RemoveJobActive:
						fmt.Fprintf(out, "Job %s is %s; wait for it to finish\n", job.ID, job.Status)
					}
				}
				return nil
			})
		},
	}
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the job database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				db, err := store.CheckHealth(cmd.Context())
				if err != nil {
					return err
				}
				summary, err := store.Health(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, map[string]any{"database": db, "jobs": summary})
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, line := range renderSectionHeader("Database", colorize) {
					fmt.Fprintln(out, line)
				}
				fmt.Fprintln(out, renderStatusLine("Path", statusInfo, db.DBPath, colorize))
				fmt.Fprintln(out, renderStatusLine("Schema", statusInfo, db.SchemaVersion, colorize))
				fmt.Fprintln(out, renderStatusLine("Jobs table", boolKind(db.TableExists), yesNo(db.TableExists), colorize))
				fmt.Fprintln(out, renderStatusLine("Integrity", boolKind(db.IntegrityCheck), yesNo(db.IntegrityCheck), colorize))
				if len(db.MissingColumns) > 0 {
					fmt.Fprintln(out, renderStatusLine("Missing columns", statusError, strings.Join(db.MissingColumns, ", "), colorize))
				}
				if db.Error != "" {
					fmt.Fprintln(out, renderStatusLine("Error", statusError, db.Error, colorize))
				}
				fmt.Fprintln(out)
				for _, line := range renderSectionHeader("Jobs", colorize) {
					fmt.Fprintln(out, line)
				}
				fmt.Fprintln(out, renderStatusLine("Total", statusInfo, strconv.Itoa(summary.Total), colorize))
				fmt.Fprintln(out, renderStatusLine("Queued", statusInfo, strconv.Itoa(summary.Queued), colorize))
				fmt.Fprintln(out, renderStatusLine("Processing", statusInfo, strconv.Itoa(summary.Processing), colorize))
				fmt.Fprintln(out, renderStatusLine("Retrying", countKind(summary.Retrying, statusWarn), strconv.Itoa(summary.Retrying), colorize))
				fmt.Fprintln(out, renderStatusLine("Failed", countKind(summary.Failed, statusError), strconv.Itoa(summary.Failed), colorize))
				fmt.Fprintln(out, renderStatusLine("Succeeded", statusOK, strconv.Itoa(summary.Succeeded), colorize))
				return nil
			})
		},
	}
}

func boolKind(ok bool) statusKind {
	if ok {
		return statusOK
	}
	return statusError
}

func countKind(count int, nonZero statusKind) statusKind {
	if count > 0 {
		return nonZero
	}
	return statusOK
}
