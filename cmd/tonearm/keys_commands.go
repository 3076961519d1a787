package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tonearm/internal/apikeys"
	"tonearm/internal/queue"
)

func newKeysCommand(ctx *commandContext) *cobra.Command {
	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage client API keys",
	}

	keysCmd.AddCommand(newKeysCreateCommand(ctx))
	keysCmd.AddCommand(newKeysListCommand(ctx))
	keysCmd.AddCommand(newKeysRevokeCommand(ctx))

	return keysCmd
}

func (c *commandContext) withKeys(fn func(*apikeys.Store) error) error {
	return c.withStore(func(store *queue.Store) error {
		return fn(apikeys.NewStore(store.DB(), c.config.KeyValidity()))
	})
}

func newKeysCreateCommand(ctx *commandContext) *cobra.Command {
	var label string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a new API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withKeys(func(keys *apikeys.Store) error {
				key, err := keys.Create(cmd.Context(), strings.TrimSpace(label))
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, key)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Key:     %s\n", key.Key)
				if key.Label != "" {
					fmt.Fprintf(out, "Label:   %s\n", key.Label)
				}
				fmt.Fprintf(out, "Expires: %s\n", key.ExpiresAt.Local().Format("2006-01-02 15:04"))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&label, "label", "l", "", "Human-readable note stored with the key")
	return cmd
}

func newKeysListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List valid API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withKeys(func(keys *apikeys.Store) error {
				list, err := keys.List(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					if list == nil {
						list = []apikeys.Key{}
					}
					return writeJSON(cmd, list)
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No API keys issued")
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, key := range list {
					rows = append(rows, []string{
						key.Key,
						key.Label,
						key.CreatedAt.Local().Format("2006-01-02"),
						key.ExpiresAt.Local().Format("2006-01-02"),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]tableColumn{leftColumn("Key"), boundedColumn("Label", 32), leftColumn("Created"), leftColumn("Expires")},
					rows,
				))
				return nil
			})
		},
	}
}

func newKeysRevokeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := strings.TrimSpace(args[0])
			return ctx.withKeys(func(keys *apikeys.Store) error {
				err := keys.Revoke(cmd.Context(), key)
				if errors.Is(err, apikeys.ErrNotFound) {
					return fmt.Errorf("key %s not found", key)
				}
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, map[string]any{"key": key, "revoked": true})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Revoked key %s\n", key)
				return nil
			})
		},
	}
}
