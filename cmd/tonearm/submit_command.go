package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tonearm/internal/api"
	"tonearm/internal/queue"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "submit <url>",
		Short: "Queue a conversion job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *api.Service, _ *queue.Store) error {
				handle, err := svc.Submit(cmd.Context(), api.Submission{URL: args[0], Format: format})
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, handle)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Queued job %s (%s)\n", handle.ID, handle.Status)
				if handle.StatusURL != "" {
					fmt.Fprintf(out, "Status: %s\n", handle.StatusURL)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "mp3", "Output format (mp3 or m4a)")
	return cmd
}
