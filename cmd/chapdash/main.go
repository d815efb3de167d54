// chapdash is the chapchat operator console.
//
// It signs a seller in, keeps the session alive across access-token expiry,
// and follows the live inbox feed (new orders and customer messages) over a
// websocket that reconnects on its own.
//
// Usage:
//
//	chapdash [global flags] <command> [command flags]
//
// Commands: login, logout, status, watch, orders, inbox, reply, send, devserver.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/BonfaceGabriel/chapchat/cmd/internal/app"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	cancel()
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "chapdash: %v\n", err)
		os.Exit(1)
	}
}

// globals are the flags accepted before the command name.
type globals struct {
	configPath string
	apiBase    string
	logLevel   string
	logFormat  string
	backend    string
}

type env struct {
	ctx    context.Context
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	cfg    app.Config
}

type command struct {
	summary string
	run     func(e *env, args []string) error
}

var commands = map[string]command{
	"login":     {"sign in and store the session", cmdLogin},
	"logout":    {"end the session and clear stored state", cmdLogout},
	"status":    {"show the session state and profile", cmdStatus},
	"watch":     {"follow the live inbox feed", cmdWatch},
	"orders":    {"list orders or change an order's status", cmdOrders},
	"inbox":     {"list conversations or one conversation's messages", cmdInbox},
	"reply":     {"post a reply to a conversation", cmdReply},
	"send":      {"send a message frame over the inbox channel", cmdSend},
	"devserver": {"run the local seller API with a demo seller", cmdDevServer},
}

var commandOrder = []string{"login", "logout", "status", "watch", "orders", "inbox", "reply", "send", "devserver"}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var g globals
	fs := pflag.NewFlagSet("chapdash", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)
	fs.StringVarP(&g.configPath, "config", "c", os.Getenv("CHAPCHAT_CONFIG"), "YAML config file")
	fs.StringVar(&g.apiBase, "api", "", "seller API base URL (overrides config)")
	fs.StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&g.logFormat, "log-format", "", "json or pretty")
	fs.StringVar(&g.backend, "session-backend", "", "memory, file, sqlite or postgres")
	fs.Usage = func() { usage(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		usage(stderr, fs)
		return pflag.ErrHelp
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		usage(stderr, fs)
		return fmt.Errorf("unknown command %q", rest[0])
	}

	cfg, err := app.LoadConfig(g.configPath)
	if err != nil {
		return err
	}
	applyGlobals(&cfg, g)
	if err := cfg.Validate(); err != nil {
		return err
	}

	return cmd.run(&env{ctx: ctx, stdin: stdin, stdout: stdout, stderr: stderr, cfg: cfg}, rest[1:])
}

func applyGlobals(cfg *app.Config, g globals) {
	if g.apiBase != "" {
		cfg.APIBase = g.apiBase
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.logFormat != "" {
		cfg.LogFormat = g.logFormat
	}
	if g.backend != "" {
		cfg.Session.Backend = g.backend
	}
}

func usage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintf(w, "Usage: chapdash [flags] <command> [command flags]\n\nCommands:\n")
	for _, name := range commandOrder {
		fmt.Fprintf(w, "  %-10s %s\n", name, commands[name].summary)
	}
	fmt.Fprintf(w, "\nFlags:\n%s", fs.FlagUsages())
}
