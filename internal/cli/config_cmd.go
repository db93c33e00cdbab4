// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/chatsync/internal/config"
)

// secretKeys are never printed by config get.
var secretKeys = map[string]bool{"storage.passphrase": true}

func newConfigCommand(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and edit configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			Args:  usageArgs(cobra.NoArgs),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := a.loadConfig()
				if err != nil {
					return err
				}
				safe := cfg.Clone()
				if safe.Storage.Passphrase != "" {
					safe.Storage.Passphrase = "[REDACTED]"
				}
				return a.emit(cmd, safe, func(w io.Writer) {
					fmt.Fprintln(w, cfg.String())
				})
			},
		},
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print one setting (dot notation, e.g. chat.base_url)",
			Args:  usageArgs(cobra.ExactArgs(1)),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := a.loadConfig()
				if err != nil {
					return err
				}
				v, err := cfg.Get(args[0])
				if err != nil {
					return &UsageError{Reason: err.Error()}
				}
				if secretKeys[args[0]] && v != "" {
					v = "[REDACTED]"
				}
				return a.emit(cmd, map[string]any{"key": args[0], "value": v}, func(w io.Writer) {
					fmt.Fprintln(w, v)
				})
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Change one setting and save the config file",
			Args:  usageArgs(cobra.ExactArgs(2)),
			RunE: func(cmd *cobra.Command, args []string) error {
				if secretKeys[args[0]] {
					return usageErrorf("%s is not stored in the config file; use CHATSYNC_STORAGE_PASSPHRASE", args[0])
				}
				cfg, err := a.loadConfig()
				if err != nil {
					return err
				}
				updated := cfg.Clone()
				if err := updated.Set(args[0], args[1]); err != nil {
					return &UsageError{Reason: err.Error()}
				}
				if err := updated.Validate(); err != nil {
					return err
				}
				path, err := a.saveConfig(updated)
				if err != nil {
					return err
				}
				*cfg = *updated
				return a.emit(cmd, map[string]string{"key": args[0], "value": args[1], "config": path}, func(w io.Writer) {
					fmt.Fprintf(w, "%s %s = %s (%s)\n", SuccessStyle.Render("[OK]"), args[0], args[1], path)
				})
			},
		},
		&cobra.Command{
			Use:   "keys",
			Short: "List every setting",
			Args:  usageArgs(cobra.NoArgs),
			RunE: func(cmd *cobra.Command, args []string) error {
				keys := config.Keys()
				return a.emit(cmd, keys, func(w io.Writer) {
					for _, k := range keys {
						fmt.Fprintln(w, k)
					}
				})
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print where the config file lives",
			Args:  usageArgs(cobra.NoArgs),
			RunE: func(cmd *cobra.Command, args []string) error {
				path := a.configPath
				if path == "" {
					p, err := config.ConfigPathTOML()
					if err != nil {
						return err
					}
					path = p
				}
				return a.emit(cmd, map[string]string{"config": path}, func(w io.Writer) {
					fmt.Fprintln(w, path)
				})
			},
		},
	)
	return cmd
}
