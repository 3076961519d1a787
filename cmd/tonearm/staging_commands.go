package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"tonearm/internal/api"
	"tonearm/internal/queue"
	"tonearm/internal/staging"
)

func newStagingCommand(ctx *commandContext) *cobra.Command {
	stagingCmd := &cobra.Command{
		Use:   "staging",
		Short: "Manage scratch and workspace directories",
	}

	stagingCmd.AddCommand(newStagingListCommand(ctx))
	stagingCmd.AddCommand(newStagingCleanCommand(ctx))

	return stagingCmd
}

type stagingArea struct {
	Label       string            `json:"label"`
	Dir         string            `json:"dir"`
	Directories []staging.DirInfo `json:"directories"`
	TotalBytes  int64             `json:"total_size_bytes"`
}

func newStagingListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scratch and workspace directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			areas := []stagingArea{
				{Label: "scratch", Dir: strings.TrimSpace(cfg.Paths.ScratchDir)},
				{Label: "workspace", Dir: strings.TrimSpace(cfg.Paths.WorkspaceDir)},
			}
			for i := range areas {
				if areas[i].Dir == "" {
					areas[i].Directories = []staging.DirInfo{}
					continue
				}
				dirs, err := staging.ListDirectories(areas[i].Dir)
				if err != nil {
					return fmt.Errorf("list %s directories: %w", areas[i].Label, err)
				}
				if dirs == nil {
					dirs = []staging.DirInfo{}
				}
				areas[i].Directories = dirs
				for _, dir := range dirs {
					areas[i].TotalBytes += dir.Size
				}
			}

			if ctx.JSONMode() {
				return writeJSON(cmd, areas)
			}

			out := cmd.OutOrStdout()
			for i, area := range areas {
				if i > 0 {
					fmt.Fprintln(out)
				}
				if len(area.Directories) == 0 {
					fmt.Fprintf(out, "No %s directories found\n", area.Label)
					continue
				}
				fmt.Fprintf(out, "%s directory: %s\n\n", humanLabel(area.Label), area.Dir)
				rows := make([][]string, 0, len(area.Directories))
				for _, dir := range area.Directories {
					age := time.Since(dir.ModTime).Truncate(time.Minute)
					rows = append(rows, []string{shortID(dir.Name), formatDuration(age), humanize.IBytes(uint64(dir.Size))})
				}
				fmt.Fprint(out, renderTable(
					[]tableColumn{leftColumn("Job"), rightColumn("Age"), rightColumn("Size")},
					rows,
				))
				fmt.Fprintf(out, "\nTotal: %d directories, %s\n", len(area.Directories), humanize.IBytes(uint64(area.TotalBytes)))
			}
			return nil
		},
	}
}

func newStagingCleanCommand(ctx *commandContext) *cobra.Command {
	var cleanAll bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove stale scratch directories and orphaned workspaces",
		Long: `Remove scratch directories older than the configured retention and
workspaces that no queued, processing, or retrying job references.

A scratch retention of zero disables the age-based sweep. Use --all to remove
every scratch directory regardless of age; do not use --all while the daemon
is converting.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			req := api.CleanStagingRequest{WorkspaceDir: cfg.Paths.WorkspaceDir}
			switch retention := time.Duration(cfg.Workers.ScratchRetentionHr) * time.Hour; {
			case cleanAll:
				req.ScratchDir = cfg.Paths.ScratchDir
			case retention > 0:
				req.ScratchDir = cfg.Paths.ScratchDir
				req.MaxAge = retention
			}
			return ctx.withStore(func(store *queue.Store) error {
				req.Jobs = store
				result, err := api.CleanStagingDirectories(cmd.Context(), req)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, map[string]any{
						"scratch":   stagingCleanSummary(result.Scratch),
						"workspace": stagingCleanSummary(result.Workspace),
					})
				}
				printStagingCleanResult(cmd, result.Scratch, "scratch")
				printStagingCleanResult(cmd, result.Workspace, "workspace")
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&cleanAll, "all", false, "Remove all scratch directories regardless of age")
	return cmd
}

func printStagingCleanResult(cmd *cobra.Command, result staging.CleanStaleResult, label string) {
	out := cmd.OutOrStdout()
	if len(result.Removed) == 0 && len(result.Errors) == 0 {
		fmt.Fprintf(out, "No %s directories to clean\n", label)
		return
	}
	if len(result.Errors) > 0 {
		fmt.Fprintf(out, "Removed %d %s directories, %d errors\n", len(result.Removed), label, len(result.Errors))
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  Error: %s: %v\n", e.Path, e.Error)
		}
		return
	}
	fmt.Fprintf(out, "Removed %d %s directories\n", len(result.Removed), label)
}

func stagingCleanSummary(result staging.CleanStaleResult) map[string]any {
	errs := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		errs = append(errs, fmt.Sprintf("%s: %v", e.Path, e.Error))
	}
	return map[string]any{
		"removed": len(result.Removed),
		"errors":  errs,
	}
}
