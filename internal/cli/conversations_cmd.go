// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/chatsync/internal/export"
	"github.com/jeranaias/chatsync/internal/model"
)

const (
	idColumn    = 12
	titleColumn = 36
)

func printConversationTable(w io.Writer, convs []model.Conversation, currentID string) {
	if len(convs) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No conversations."))
		return
	}
	fmt.Fprintf(w, "  %s %s %5s  %s\n",
		fitColumn("ID", idColumn), fitColumn("TITLE", titleColumn), "MSGS", "UPDATED")
	for _, c := range convs {
		marker := " "
		if c.ID == currentID {
			marker = "*"
		}
		updated := ""
		if !c.UpdatedAt.IsZero() {
			updated = c.UpdatedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s %s %s %5d  %s\n", marker,
			fitColumn(c.ID, idColumn), fitColumn(c.Title, titleColumn), c.MessageCount, DimStyle.Render(updated))
	}
}

func printTranscript(w io.Writer, conv *model.Conversation, msgs []model.Message) {
	if conv != nil {
		fmt.Fprintf(w, "%s %s\n", TitleStyle.Render(conv.Title), DimStyle.Render(conv.ID))
		fmt.Fprintln(w, RenderSeparator(min(GetTerminalWidth()-4, 70)))
	}
	if len(msgs) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No messages."))
		return
	}
	for _, m := range msgs {
		printMessage(w, m)
	}
}

func newConversationsCommand(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "List and manage conversations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List conversations",
			Args:  usageArgs(cobra.NoArgs),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := a.connect(cmd.Context(), false)
				if err != nil {
					return err
				}
				if err := c.Chat.LoadConversations(cmd.Context()); err != nil {
					return err
				}
				convs := c.Chat.Conversations()
				return a.emit(cmd, convs, func(w io.Writer) {
					printConversationTable(w, convs, "")
				})
			},
		},
		&cobra.Command{
			Use:   "show <id>",
			Short: "Print a conversation and its messages",
			Args:  usageArgs(cobra.ExactArgs(1)),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := a.connect(cmd.Context(), false)
				if err != nil {
					return err
				}
				if err := c.Chat.LoadConversation(cmd.Context(), args[0]); err != nil {
					return err
				}
				conv, msgs := c.Chat.Current(), c.Chat.Messages()
				data := struct {
					Conversation *model.Conversation `json:"conversation"`
					Messages     []model.Message     `json:"messages"`
				}{conv, msgs}
				return a.emit(cmd, data, func(w io.Writer) {
					printTranscript(w, conv, msgs)
				})
			},
		},
		&cobra.Command{
			Use:   "new [title...]",
			Short: "Create a conversation",
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := a.connect(cmd.Context(), false)
				if err != nil {
					return err
				}
				conv, err := c.Chat.CreateConversation(cmd.Context(), strings.Join(args, " "))
				if err != nil {
					return err
				}
				return a.emit(cmd, conv, func(w io.Writer) {
					fmt.Fprintf(w, "%s Created %s %s\n", SuccessStyle.Render("[OK]"), conv.ID, conv.Title)
				})
			},
		},
		&cobra.Command{
			Use:   "rename <id> <title...>",
			Short: "Change a conversation's title",
			Args:  usageArgs(cobra.MinimumNArgs(2)),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := a.connect(cmd.Context(), false)
				if err != nil {
					return err
				}
				title := strings.Join(args[1:], " ")
				if err := c.Chat.UpdateConversation(cmd.Context(), args[0], model.ConversationPatch{Title: &title}); err != nil {
					return err
				}
				return a.emit(cmd, map[string]string{"id": args[0], "title": title}, func(w io.Writer) {
					fmt.Fprintf(w, "%s Renamed %s\n", SuccessStyle.Render("[OK]"), args[0])
				})
			},
		},
		&cobra.Command{
			Use:     "delete <id>",
			Aliases: []string{"rm"},
			Short:   "Delete a conversation",
			Args:    usageArgs(cobra.ExactArgs(1)),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := a.connect(cmd.Context(), false)
				if err != nil {
					return err
				}
				if err := c.Chat.DeleteConversation(cmd.Context(), args[0]); err != nil {
					return err
				}
				return a.emit(cmd, map[string]string{"id": args[0]}, func(w io.Writer) {
					fmt.Fprintf(w, "%s Deleted %s\n", SuccessStyle.Render("[OK]"), args[0])
				})
			},
		},
		newExportCommand(a),
	)
	return cmd
}

func newExportCommand(a *App) *cobra.Command {
	var (
		format string
		dir    string
		stdout bool
	)
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write a conversation to a Markdown or JSON file",
		Example: `  chatsync conversations export 6650f1
  chatsync conversations export 6650f1 --format json --dir ~/notes
  chatsync conversations export 6650f1 --stdout > monads.md`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			exporter, err := export.ForFormat(format, export.DefaultOptions())
			if err != nil {
				return &UsageError{Reason: err.Error()}
			}
			c, err := a.connect(cmd.Context(), false)
			if err != nil {
				return err
			}
			if err := c.Chat.LoadConversation(cmd.Context(), args[0]); err != nil {
				return err
			}
			t := export.Transcript{Messages: c.Chat.Messages()}
			if conv := c.Chat.Current(); conv != nil {
				t.Conversation = *conv
			}
			if stdout {
				content, err := exporter.Export(t)
				if err != nil {
					return err
				}
				_, err = a.Out.Write(content)
				return err
			}
			path, err := export.WriteFile(dir, t, exporter, time.Now())
			if err != nil {
				return err
			}
			return a.emit(cmd, map[string]string{"id": args[0], "path": path, "mime_type": exporter.MimeType()}, func(w io.Writer) {
				fmt.Fprintf(w, "%s Exported %s to %s\n", SuccessStyle.Render("[OK]"), args[0], path)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "markdown (md) or json")
	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "output directory")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "write to stdout instead of a file")
	return cmd
}
