// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/chatsync/internal/auth"
	"github.com/jeranaias/chatsync/internal/model"
)

// refreshSkew is how close to expiry whoami starts suggesting a refresh.
const refreshSkew = 5 * time.Minute

// sessionView is the --json shape of the session.
type sessionView struct {
	State        string      `json:"state"`
	User         *model.User `json:"user,omitempty"`
	ExpiresAt    *time.Time  `json:"expires_at,omitempty"`
	NeedsRefresh bool        `json:"needs_refresh"`
}

func viewSession(s *auth.Session) sessionView {
	v := sessionView{State: s.State().String(), User: s.User(), NeedsRefresh: s.NeedsRefresh(refreshSkew)}
	if exp, ok := s.ExpiresAt(); ok {
		v.ExpiresAt = &exp
	}
	return v
}

func printSession(w io.Writer, v sessionView) {
	fmt.Fprintf(w, "%s%s\n", RenderLabel("State"), v.State)
	if v.User != nil {
		fmt.Fprintf(w, "%s%s <%s>\n", RenderLabel("User"), v.User.Name, v.User.Email)
		fmt.Fprintf(w, "%s%s\n", RenderLabel("ID"), v.User.ID)
		if v.User.SubscriptionStatus != "" {
			fmt.Fprintf(w, "%s%s\n", RenderLabel("Plan"), v.User.SubscriptionStatus)
		}
	}
	if v.ExpiresAt != nil {
		fmt.Fprintf(w, "%s%s\n", RenderLabel("Expires"), v.ExpiresAt.Local().Format(time.RFC1123))
	}
	if v.NeedsRefresh {
		fmt.Fprintln(w, WarningStyle.Render("Token expires soon; run 'chatsync refresh'."))
	}
}

// readPassword takes the password from the first line of stdin when
// fromStdin is set, otherwise prompts without echo.
func (a *App) readPassword(fromStdin bool, prompt string) (string, error) {
	if fromStdin {
		line, err := bufio.NewReader(a.In).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("reading password from stdin: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	return a.Prompt.Password(prompt)
}

// emailArg returns the email from args or prompts for it.
func (a *App) emailArg(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	email, err := a.Prompt.Line("Email: ")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(email) == "" {
		return "", usageErrorf("an email address is required")
	}
	return strings.TrimSpace(email), nil
}

func newLoginCommand(a *App) *cobra.Command {
	var passwordStdin bool
	cmd := &cobra.Command{
		Use:   "login [email]",
		Short: "Log in and persist the session",
		Example: `  chatsync login ada@example.com
  echo "$PASSWORD" | chatsync login ada@example.com --password-stdin`,
		Args: usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := a.emailArg(args)
			if err != nil {
				return err
			}
			password, err := a.readPassword(passwordStdin, "Password: ")
			if err != nil {
				return err
			}
			c, err := a.connect(cmd.Context(), false)
			if err != nil {
				return err
			}
			if err := c.Auth.Login(cmd.Context(), email, password); err != nil {
				return err
			}
			return a.emit(cmd, viewSession(c.Auth), func(w io.Writer) {
				u := c.Auth.User()
				fmt.Fprintf(w, "%s Logged in as %s <%s>\n", SuccessStyle.Render("[OK]"), u.Name, u.Email)
			})
		},
	}
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func newRegisterCommand(a *App) *cobra.Command {
	var (
		name          string
		passwordStdin bool
	)
	cmd := &cobra.Command{
		Use:   "register [email]",
		Short: "Create an account",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := a.emailArg(args)
			if err != nil {
				return err
			}
			if name == "" {
				if name, err = a.Prompt.Line("Name: "); err != nil {
					return err
				}
			}
			password, err := a.readPassword(passwordStdin, "Password: ")
			if err != nil {
				return err
			}
			c, err := a.connect(cmd.Context(), false)
			if err != nil {
				return err
			}
			if err := c.Auth.Register(cmd.Context(), email, name, password); err != nil {
				return err
			}
			return a.emit(cmd, map[string]string{"email": email}, func(w io.Writer) {
				fmt.Fprintf(w, "%s Account created. Log in with: chatsync login %s\n", SuccessStyle.Render("[OK]"), email)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func newLogoutCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the stored credential",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.connect(cmd.Context(), false)
			if err != nil {
				return err
			}
			c.Auth.Logout(cmd.Context())
			return a.emit(cmd, viewSession(c.Auth), func(w io.Writer) {
				fmt.Fprintf(w, "%s Logged out\n", SuccessStyle.Render("[OK]"))
			})
		},
	}
}

func newWhoamiCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.connect(cmd.Context(), false)
			if err != nil {
				return err
			}
			if !c.Auth.IsAuthenticated() {
				if msg := c.Auth.Err(); msg != "" {
					return fmt.Errorf("%s: %w", msg, auth.ErrNotAuthenticated)
				}
				return fmt.Errorf("run 'chatsync login': %w", auth.ErrNotAuthenticated)
			}
			v := viewSession(c.Auth)
			return a.emit(cmd, v, func(w io.Writer) {
				printSession(w, v)
			})
		},
	}
}

func newRefreshCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the access token for a new one",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.connect(cmd.Context(), false)
			if err != nil {
				return err
			}
			if err := c.Auth.Refresh(cmd.Context()); err != nil {
				if errors.Is(err, auth.ErrNotAuthenticated) {
					return fmt.Errorf("run 'chatsync login': %w", err)
				}
				return err
			}
			v := viewSession(c.Auth)
			return a.emit(cmd, v, func(w io.Writer) {
				fmt.Fprintf(w, "%s Token refreshed\n", SuccessStyle.Render("[OK]"))
				if v.ExpiresAt != nil {
					fmt.Fprintf(w, "%s%s\n", RenderLabel("Expires"), v.ExpiresAt.Local().Format(time.RFC1123))
				}
			})
		},
	}
}
