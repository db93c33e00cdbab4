// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jeranaias/chatsync/internal/client"
	"github.com/jeranaias/chatsync/internal/config"
	"github.com/jeranaias/chatsync/internal/logging"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// PROMPTS
// =============================================================================

// Prompter reads interactive input.
type Prompter interface {
	Line(prompt string) (string, error)
	Password(prompt string) (string, error)
}

type termPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

func (p *termPrompter) Line(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	line, err := p.in.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Password reads without echo. It needs a terminal.
func (p *termPrompter) Password(prompt string) (string, error) {
	if err := RequiresTTY("read a password"); err != nil {
		return "", err
	}
	fmt.Fprint(p.out, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// =============================================================================
// APP
// =============================================================================

// App is the state shared by one invocation's commands.
type App struct {
	In     io.Reader
	Out    io.Writer
	Err    io.Writer
	Prompt Prompter

	// Config, when set, is used instead of loading one from disk.
	Config *config.Config

	configPath string
	jsonOut    bool
	logLevel   string

	client    *client.Client
	logCloser io.Closer
}

// NewApp returns an App bound to the process's standard streams.
func NewApp() *App {
	return &App{
		In:     os.Stdin,
		Out:    os.Stdout,
		Err:    os.Stderr,
		Prompt: &termPrompter{in: bufio.NewReader(os.Stdin), out: os.Stderr},
	}
}

// loadConfig resolves configuration once per invocation.
func (a *App) loadConfig() (*config.Config, error) {
	if a.Config != nil {
		return a.Config, nil
	}
	var cfg *config.Config
	if a.configPath != "" {
		loaded, err := config.LoadFromPath(a.configPath)
		if err != nil {
			return nil, err
		}
		config.SetGlobal(loaded)
		cfg = loaded
	} else {
		cfg = config.Global()
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.Config = cfg
	return cfg, nil
}

// saveConfig writes cfg back where it came from.
func (a *App) saveConfig(cfg *config.Config) (string, error) {
	path := a.configPath
	if path == "" {
		p, err := config.ConfigPathTOML()
		if err != nil {
			return "", err
		}
		path = p
	}
	var err error
	if strings.HasSuffix(path, ".json") {
		err = config.SaveJSON(cfg, path)
	} else {
		err = config.SaveTOML(cfg, path)
	}
	return path, err
}

// connect builds the client and restores any persisted session. The store
// watcher only runs for long-lived commands.
func (a *App) connect(ctx context.Context, watch bool) (*client.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	if !watch && cfg.Storage.Watch {
		cfg = cfg.Clone()
		cfg.Storage.Watch = false
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	c, err := client.New(cfg, logger)
	if err != nil {
		closer.Close()
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		c.Close()
		closer.Close()
		return nil, err
	}
	a.client, a.logCloser = c, closer
	return c, nil
}

// Close releases the client and the log file.
func (a *App) Close() {
	if a.client != nil {
		a.client.Close()
		a.client = nil
	}
	if a.logCloser != nil {
		a.logCloser.Close()
		a.logCloser = nil
	}
}

// emit prints data as a JSON envelope under --json, otherwise runs human.
func (a *App) emit(cmd *cobra.Command, data any, human func(w io.Writer)) error {
	if a.jsonOut {
		return NewJSONResponse(cmd.CommandPath(), data).Print(a.Out)
	}
	human(a.Out)
	return nil
}

// =============================================================================
// COMMAND TREE
// =============================================================================

// NewRootCommand builds the command tree around a.
func NewRootCommand(a *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "chatsync",
		Short:         "Terminal client for the chat and auth services",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(a.In)
	root.SetOut(a.Out)
	root.SetErr(a.Err)

	root.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return &UsageError{Reason: err.Error()}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default ~/.chatsync/config.toml)")
	pf.BoolVar(&a.jsonOut, "json", false, "print machine-readable JSON")
	pf.StringVar(&a.logLevel, "log-level", "", "override log.level")

	root.AddCommand(
		newLoginCommand(a),
		newRegisterCommand(a),
		newLogoutCommand(a),
		newWhoamiCommand(a),
		newRefreshCommand(a),
		newChatCommand(a),
		newConversationsCommand(a),
		newModelsCommand(a),
		newConfigCommand(a),
		newVersionCommand(a),
	)
	return root
}

// usageArgs turns a cobra argument validator's failure into a UsageError.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return &UsageError{Reason: err.Error()}
		}
		return nil
	}
}

func newVersionCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			info := map[string]string{"version": Version, "commit": GitCommit, "built": BuildDate}
			return a.emit(cmd, info, func(w io.Writer) {
				fmt.Fprintf(w, "chatsync %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
			})
		},
	}
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	a := NewApp()
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(a)
	cmd, err := root.ExecuteContextC(ctx)
	if err != nil {
		w := a.Err
		if a.jsonOut {
			w = a.Out
		}
		DisplayError(w, cmd.CommandPath(), err, a.jsonOut)
		return GetExitCode(err)
	}
	return ExitSuccess
}
