// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/chatsync/internal/model"
)

func printModelTable(w io.Writer, models []model.ModelDescriptor, selected string) {
	if len(models) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No models."))
		return
	}
	fmt.Fprintf(w, "  %s %s %s %s\n",
		fitColumn("PROVIDER", 12), fitColumn("MODEL", 24), fitColumn("STATUS", 12), "COST/1K IN/OUT")
	for _, m := range models {
		marker := " "
		if m.Matches(selected) {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s %s %s $%s/$%s\n", marker,
			fitColumn(m.Provider, 12), fitColumn(m.Model, 24), RenderStatus(m.Status, 12),
			m.CostPer1K.Input.String(), m.CostPer1K.Output.String())
	}
}

func newModelsCommand(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List and select models",
	}

	var onlineOnly bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List the models the chat service offers",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.connect(cmd.Context(), false)
			if err != nil {
				return err
			}
			if err := c.Models.LoadModels(cmd.Context()); err != nil {
				return err
			}
			models := c.Models.Models()
			if onlineOnly {
				models = c.Models.Online()
			}
			return a.emit(cmd, models, func(w io.Writer) {
				printModelTable(w, models, c.Models.Selected())
			})
		},
	}
	list.Flags().BoolVar(&onlineOnly, "online", false, "only models accepting requests")

	sel := &cobra.Command{
		Use:   "select <id>",
		Short: "Make a model the default for chat",
		Long:  "Select a model by provider, model id or provider/model and save it as chat.default_model.",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.connect(cmd.Context(), false)
			if err != nil {
				return err
			}
			id := args[0]
			known := false
			if err := c.Models.LoadModels(cmd.Context()); err == nil {
				_, known = c.Models.Lookup(id)
			}
			c.Models.SetSelectedModel(id)

			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Set("chat.default_model", id); err != nil {
				return err
			}
			path, err := a.saveConfig(cfg)
			if err != nil {
				return err
			}
			data := map[string]any{"selected": id, "known": known, "config": path}
			return a.emit(cmd, data, func(w io.Writer) {
				if !known {
					fmt.Fprintln(w, WarningStyle.Render("Model not in the service's list; selected anyway."))
				}
				fmt.Fprintf(w, "%s Default model is now %s\n", SuccessStyle.Render("[OK]"), id)
			})
		},
	}

	cmd.AddCommand(list, sel)
	return cmd
}
