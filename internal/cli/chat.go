// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/chatsync/internal/auth"
	"github.com/jeranaias/chatsync/internal/client"
	"github.com/jeranaias/chatsync/internal/commands"
	"github.com/jeranaias/chatsync/internal/config"
	"github.com/jeranaias/chatsync/internal/export"
	"github.com/jeranaias/chatsync/internal/model"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineEditor provides input history and line editing for interactive chat.
type lineEditor struct {
	line        *liner.State
	historyFile string
}

func newLineEditor() *lineEditor {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	e := &lineEditor{line: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(e.historyFile); err == nil {
		e.line.ReadHistory(f)
		f.Close()
	}
	return e
}

func (e *lineEditor) ReadInput(prompt string) (string, error) {
	input, err := e.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		e.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with 0600 permissions and restores the terminal.
func (e *lineEditor) Close() {
	if err := config.EnsureConfigDir(); err == nil {
		if f, err := os.OpenFile(e.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			e.line.WriteHistory(f)
			f.Close()
		}
	}
	e.line.Close()
}

// =============================================================================
// SESSION STATE
// =============================================================================

// chatSession is one chat invocation: the client plus the model in use.
type chatSession struct {
	c     *client.Client
	model string
	out   io.Writer
	start time.Time
	cmds  *commands.Registry
}

// send posts one message and prints the reply. The optimistic message stays
// in the transcript when the call fails; /retry re-sends it.
func (s *chatSession) send(ctx context.Context, text string) error {
	before := len(s.c.Chat.Messages())
	err := s.c.Chat.Send(ctx, model.ChatRequest{Message: text, Model: s.model})
	s.printNew(before)
	return err
}

func (s *chatSession) retry(ctx context.Context) error {
	msgs := s.c.Chat.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Failed() {
			before := len(msgs)
			err := s.c.Chat.Retry(ctx, msgs[i].ID)
			s.printNew(before)
			return err
		}
	}
	return errors.New("nothing to retry")
}

// printNew prints assistant messages appended since index before.
func (s *chatSession) printNew(before int) {
	msgs := s.c.Chat.Messages()
	if before > len(msgs) {
		before = 0
	}
	for _, m := range msgs[before:] {
		if m.Role == model.RoleAssistant {
			printMessage(s.out, m)
		}
	}
}

func printMessage(w io.Writer, m model.Message) {
	header := RenderRole(m.Role)
	if m.ModelUsed != "" {
		header += " " + DimStyle.Render(m.ModelUsed)
	}
	if m.Failed() {
		header += " " + ErrorStyle.Render("[not sent: "+m.SendError+"]")
	}
	fmt.Fprintln(w, header)
	if m.Role == model.RoleAssistant {
		fmt.Fprintln(w, renderReply(w, m.Content))
	} else {
		fmt.Fprintln(w, m.Content)
	}
	fmt.Fprintln(w)
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleInput processes one REPL line. It returns false when the session
// should end.
func (s *chatSession) handleInput(ctx context.Context, input string) (bool, error) {
	input = strings.TrimSpace(input)
	switch {
	case input == "":
		return true, nil
	case strings.EqualFold(input, "exit"), strings.EqualFold(input, "quit"):
		return false, nil
	case !commands.IsCommand(input):
		return true, s.send(ctx, input)
	}

	_, err := s.registry().Execute(ctx, input)
	var unknown *commands.UnknownCommandError
	var invalid *commands.ValidationError
	switch {
	case errors.Is(err, commands.ErrQuit):
		return false, nil
	case errors.As(err, &unknown), errors.As(err, &invalid):
		return true, &UsageError{Reason: err.Error()}
	}
	return true, err
}

// registry builds the slash commands on first use.
func (s *chatSession) registry() *commands.Registry {
	if s.cmds != nil {
		return s.cmds
	}
	r := commands.NewRegistry()
	r.Register(&commands.Command{
		Name: "/quit", Aliases: []string{"/q", "/exit"}, Description: "exit (Ctrl+D also works)",
		Handler: func(context.Context, commands.Invocation) error { return commands.ErrQuit },
	})
	r.Register(&commands.Command{
		Name: "/help", Aliases: []string{"/h", "/?"}, Description: "list commands",
		Handler: func(context.Context, commands.Invocation) error {
			printChatHelp(s.out, r)
			return nil
		},
	})
	r.Register(&commands.Command{
		Name: "/clear", Aliases: []string{"/c"}, Description: "detach from the current conversation",
		Handler: func(context.Context, commands.Invocation) error {
			s.c.Chat.ClearMessages()
			fmt.Fprintln(s.out, DimStyle.Render("Started a new conversation."))
			return nil
		},
	})
	r.Register(&commands.Command{
		Name: "/new", Usage: "/new [title]", Description: "create a conversation and switch to it",
		Handler: func(ctx context.Context, inv commands.Invocation) error {
			conv, err := s.c.Chat.CreateConversation(ctx, inv.Raw)
			if err != nil {
				return err
			}
			fmt.Fprintf(s.out, "%s %s\n", DimStyle.Render("Now in"), conv.Title)
			return nil
		},
	})
	r.Register(&commands.Command{
		Name: "/load", Usage: "/load <id>", Description: "open an existing conversation",
		Args: []commands.ArgDef{{Name: "id", Type: commands.ArgTypeConversation, Required: true}},
		Handler: func(ctx context.Context, inv commands.Invocation) error {
			if err := s.c.Chat.LoadConversation(ctx, inv.Args[0]); err != nil {
				return err
			}
			printTranscript(s.out, s.c.Chat.Current(), s.c.Chat.Messages())
			return nil
		},
	})
	r.Register(&commands.Command{
		Name: "/list", Aliases: []string{"/ls"}, Description: "list conversations",
		Handler: func(ctx context.Context, _ commands.Invocation) error {
			if err := s.c.Chat.LoadConversations(ctx); err != nil {
				return err
			}
			currentID := ""
			if cur := s.c.Chat.Current(); cur != nil {
				currentID = cur.ID
			}
			printConversationTable(s.out, s.c.Chat.Conversations(), currentID)
			return nil
		},
	})
	r.Register(&commands.Command{
		Name: "/history", Description: "print the transcript",
		Handler: func(context.Context, commands.Invocation) error {
			printTranscript(s.out, s.c.Chat.Current(), s.c.Chat.Messages())
			return nil
		},
	})
	r.Register(&commands.Command{
		Name: "/model", Aliases: []string{"/m"}, Usage: "/model [id]", Description: "show or switch the model",
		Args: []commands.ArgDef{{Name: "id", Type: commands.ArgTypeModel}},
		Handler: func(_ context.Context, inv commands.Invocation) error {
			if len(inv.Args) > 0 {
				if _, ok := s.c.Models.Lookup(inv.Args[0]); !ok {
					fmt.Fprintln(s.out, WarningStyle.Render("Model not in the loaded list; using it anyway."))
				}
				s.c.Models.SetSelectedModel(inv.Args[0])
				s.model = inv.Args[0]
			}
			fmt.Fprintf(s.out, "%s%s\n", RenderLabel("Model"), s.model)
			return nil
		},
	})
	r.Register(&commands.Command{
		Name: "/retry", Aliases: []string{"/r"}, Description: "re-send the last failed message",
		Handler: func(ctx context.Context, _ commands.Invocation) error { return s.retry(ctx) },
	})
	r.Register(&commands.Command{
		Name: "/export", Usage: "/export [markdown|json]", Description: "save the transcript to the current directory",
		Args: []commands.ArgDef{{Name: "format", Type: commands.ArgTypeEnum, Values: export.Formats}},
		Handler: func(_ context.Context, inv commands.Invocation) error {
			format := "markdown"
			if len(inv.Args) > 0 {
				format = inv.Args[0]
			}
			exporter, err := export.ForFormat(format, export.DefaultOptions())
			if err != nil {
				return err
			}
			t := export.Transcript{Messages: s.c.Chat.Messages()}
			if cur := s.c.Chat.Current(); cur != nil {
				t.Conversation = *cur
			}
			path, err := export.WriteFile(".", t, exporter, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(s.out, "%s Exported to %s\n", SuccessStyle.Render("[OK]"), path)
			return nil
		},
	})
	r.Register(&commands.Command{
		Name: "/usage", Aliases: []string{"/status", "/s"}, Description: "tokens and cost this session",
		Handler: func(context.Context, commands.Invocation) error {
			printUsage(s.out, s)
			return nil
		},
	})
	s.cmds = r
	return r
}

// completer offers slash commands, model ids and conversation ids.
func (s *chatSession) completer() *commands.Completer {
	comp := commands.NewCompleter(s.registry())
	comp.ModelsFn = func() []string {
		var ids []string
		for _, m := range s.c.Models.Models() {
			ids = append(ids, m.Provider+"/"+m.Model)
		}
		return ids
	}
	comp.ConversationsFn = func() []commands.ConversationInfo {
		var infos []commands.ConversationInfo
		for _, conv := range s.c.Chat.Conversations() {
			infos = append(infos, commands.ConversationInfo{ID: conv.ID, Title: conv.Title})
		}
		return infos
	}
	return comp
}

func printChatHelp(w io.Writer, r *commands.Registry) {
	fmt.Fprintln(w, TitleStyle.Render("Commands"))
	for _, cmd := range r.Visible() {
		usage := cmd.Usage
		if usage == "" {
			usage = cmd.Name
		}
		fmt.Fprintf(w, "  %s %s\n", fitColumn(usage, 24), DimStyle.Render(cmd.Description))
	}
}

func printUsage(w io.Writer, s *chatSession) {
	totals := s.c.Usage.Totals()
	fmt.Fprintln(w, TitleStyle.Render("Session usage"))
	fmt.Fprintf(w, "%s%s\n", RenderLabel("Duration"), time.Since(s.start).Round(time.Second))
	fmt.Fprintf(w, "%s%d\n", RenderLabel("Replies"), totals.Messages)
	fmt.Fprintf(w, "%s%d\n", RenderLabel("Tokens"), totals.Tokens)
	fmt.Fprintf(w, "%s$%s\n", RenderLabel("Cost"), totals.Cost.StringFixed(4))
	for _, m := range s.c.Usage.ByModel() {
		fmt.Fprintf(w, "  %s %6d tok  $%s\n", fitColumn(m.Model, 24), m.Tokens, m.Cost.StringFixed(4))
	}
}

// =============================================================================
// CHAT COMMAND
// =============================================================================

func newChatCommand(a *App) *cobra.Command {
	var (
		modelID        string
		conversationID string
	)
	cmd := &cobra.Command{
		Use:   "chat [message...]",
		Short: "Send a message, or start an interactive chat",
		Example: `  chatsync chat "What is a monad?"
  chatsync chat -c 6650f1 "And a functor?"
  chatsync chat --model claude-3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			interactive := len(args) == 0
			if interactive {
				if err := RequiresTTY("chat"); err != nil {
					return err
				}
			}
			ctx := cmd.Context()
			c, err := a.connect(ctx, interactive)
			if err != nil {
				return err
			}
			if !c.Auth.IsAuthenticated() {
				return fmt.Errorf("run 'chatsync login': %w", auth.ErrNotAuthenticated)
			}
			if modelID != "" {
				c.Models.SetSelectedModel(modelID)
			}
			if conversationID != "" {
				if err := c.Chat.LoadConversation(ctx, conversationID); err != nil {
					return err
				}
			}
			s := &chatSession{c: c, model: c.Models.Selected(), out: a.Out, start: time.Now()}
			if interactive {
				return s.repl(ctx)
			}
			return s.oneShot(ctx, a, cmd, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVarP(&modelID, "model", "m", "", "model to use (default chat.default_model)")
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "continue an existing conversation")
	return cmd
}

type chatResult struct {
	Conversation *model.Conversation `json:"conversation"`
	Reply        *model.Message      `json:"reply"`
}

func (s *chatSession) oneShot(ctx context.Context, a *App, cmd *cobra.Command, text string) error {
	if a.jsonOut {
		s.out = io.Discard
	}
	if err := s.send(ctx, text); err != nil {
		return err
	}
	var res chatResult
	res.Conversation = s.c.Chat.Current()
	msgs := s.c.Chat.Messages()
	if n := len(msgs); n > 0 && msgs[n-1].Role == model.RoleAssistant {
		res.Reply = &msgs[n-1]
	}
	return a.emit(cmd, res, func(io.Writer) {})
}

func (s *chatSession) repl(ctx context.Context) error {
	editor := newLineEditor()
	defer editor.Close()
	editor.line.SetCompleter(s.completer().Lines)
	// Best effort: completion works without them.
	if err := s.c.Models.LoadModels(ctx); err != nil {
		fmt.Fprintf(s.out, "%s %v\n", WarningStyle.Render("[Warning]"), err)
	}
	if err := s.c.Chat.LoadConversations(ctx); err != nil {
		fmt.Fprintf(s.out, "%s %v\n", WarningStyle.Render("[Warning]"), err)
	}

	fmt.Fprintf(s.out, "%s %s\n", TitleStyle.Render("chatsync"), DimStyle.Render("model "+s.model+"  /help for commands"))
	if cur := s.c.Chat.Current(); cur != nil {
		printTranscript(s.out, cur, s.c.Chat.Messages())
	}

	for {
		input, err := editor.ReadInput(promptStyle.Render("> "))
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D or a closed stdin.
			fmt.Fprintln(s.out)
			break
		}
		// Ctrl+C while a request is in flight cancels just that request.
		opCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		cont, err := s.handleInput(opCtx, input)
		stop()
		if err != nil {
			fmt.Fprintf(s.out, "%s %v\n", ErrorStyle.Render("[Error]"), err)
		}
		if !cont || ctx.Err() != nil {
			break
		}
	}
	printUsage(s.out, s)
	return nil
}
