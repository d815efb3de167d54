package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/BonfaceGabriel/chapchat/cmd/internal/app"
	"github.com/BonfaceGabriel/chapchat/cmd/internal/auth/session"
	"github.com/BonfaceGabriel/chapchat/cmd/internal/realtime"
	v1 "github.com/BonfaceGabriel/chapchat/shared/contracts/realtime/v1"
)

var errUsage = errors.New("bad usage")

func flagSet(e *env, name, args string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(e.stderr)
	fs.Usage = func() {
		fmt.Fprintf(e.stderr, "Usage: chapdash %s %s\n%s", name, args, fs.FlagUsages())
	}
	return fs
}

// open builds the app and restores the stored session. needLive fails fast
// when there is no session to work with.
func (e *env) open(needLive bool) (*app.App, error) {
	a, err := app.New(e.ctx, e.cfg, nil)
	if err != nil {
		return nil, err
	}
	live, err := a.Resume(e.ctx)
	if err != nil && !errors.Is(err, session.ErrLoginAborted) {
		_ = a.Close()
		return nil, err
	}
	if needLive && !live {
		_ = a.Close()
		return nil, errors.New("not signed in; run `chapdash login`")
	}
	return a, nil
}

func cmdLogin(e *env, args []string) error {
	fs := flagSet(e, "login", "[-u username] [--password-stdin]")
	username := fs.StringP("username", "u", os.Getenv("CHAPCHAT_USERNAME"), "seller username")
	fromStdin := fs.Bool("password-stdin", false, "read the password from the first line of stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pass := os.Getenv("CHAPCHAT_PASSWORD")
	if *fromStdin || pass == "" {
		if !*fromStdin {
			fmt.Fprint(e.stderr, "Password: ")
		}
		line, err := bufio.NewReader(e.stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read password: %w", err)
		}
		pass = strings.TrimRight(line, "\r\n")
	}
	if strings.TrimSpace(*username) == "" || pass == "" {
		fs.Usage()
		return errUsage
	}

	a, err := app.New(e.ctx, e.cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	prof, err := a.Login(e.ctx, strings.TrimSpace(*username), pass)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			return errors.New(session.UserMessage(err))
		}
		return err
	}
	fmt.Fprintf(e.stdout, "Signed in as %s (%s)\n", prof.Username, orDash(prof.CompanyName))
	return nil
}

func cmdLogout(e *env, _ []string) error {
	a, err := e.open(false)
	if err != nil {
		return err
	}
	defer a.Close()
	a.Logout(e.ctx)
	fmt.Fprintln(e.stdout, "Signed out")
	return nil
}

func cmdStatus(e *env, _ []string) error {
	a, err := e.open(false)
	if err != nil {
		return err
	}
	defer a.Close()

	snap := a.Sessions().Snapshot()
	fmt.Fprintf(e.stdout, "session:  %s\n", snap.State)
	if snap.Profile != nil {
		fmt.Fprintf(e.stdout, "seller:   %s <%s>\n", snap.Profile.Username, orDash(snap.Profile.Email))
		fmt.Fprintf(e.stdout, "company:  %s\n", orDash(snap.Profile.CompanyName))
	}
	fmt.Fprintf(e.stdout, "api:      %s\n", e.cfg.APIBase)
	return nil
}

func cmdWatch(e *env, args []string) error {
	fs := flagSet(e, "watch", "[--metrics addr]")
	metricsAddr := fs.String("metrics", e.cfg.MetricsAddr, "serve /metrics, /healthz and /readyz on this address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	e.cfg.MetricsAddr = *metricsAddr

	a, err := e.open(true)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Fprintln(e.stdout, "Watching the inbox; Ctrl-C to stop.")
	err = a.Watch(e.ctx, e.stdout)
	if errors.Is(err, app.ErrSessionEnded) {
		return errors.New("session ended; run `chapdash login` again")
	}
	return err
}

func cmdOrders(e *env, args []string) error {
	fs := flagSet(e, "orders", "[--set ID=STATUS]")
	set := fs.String("set", "", "change an order's status, e.g. 12=READY_FOR_PICKUP")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := e.open(true)
	if err != nil {
		return err
	}
	defer a.Close()

	if *set != "" {
		id, status, err := parseStatusUpdate(*set)
		if err != nil {
			return err
		}
		o, err := a.Dashboard().SetOrderStatus(e.ctx, id, status)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "Order #%d is now %s\n", o.ID, o.Status)
		return nil
	}

	orders, err := a.Dashboard().Orders(e.ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tTOTAL\tCUSTOMER\tCREATED")
	for _, o := range orders {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", o.ID, o.Status, o.TotalAmount, orDash(o.CustomerName), o.CreatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func parseStatusUpdate(s string) (int64, string, error) {
	idStr, status, ok := strings.Cut(s, "=")
	id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
	status = strings.ToUpper(strings.TrimSpace(status))
	if !ok || err != nil || id <= 0 {
		return 0, "", fmt.Errorf("%w: --set wants ID=STATUS, got %q", errUsage, s)
	}
	if !v1.ValidOrderStatus(status) {
		return 0, "", fmt.Errorf("%w: unknown order status %q", errUsage, status)
	}
	return id, status, nil
}

func cmdInbox(e *env, args []string) error {
	fs := flagSet(e, "inbox", "[conversation-id]")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := e.open(true)
	if err != nil {
		return err
	}
	defer a.Close()

	if fs.NArg() == 0 {
		convs, err := a.Dashboard().Conversations(e.ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCUSTOMER\tSTATE\tLAST MESSAGE")
		for _, c := range convs {
			last := "-"
			if c.LastMessage != nil {
				last = c.LastMessage.Content
			}
			who := c.Customer.PhoneNumber
			if c.Customer.Name != nil {
				who = *c.Customer.Name + " " + who
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", c.ID, who, orDash(c.State), last)
		}
		return tw.Flush()
	}

	id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: conversation id %q", errUsage, fs.Arg(0))
	}
	msgs, err := a.Dashboard().Messages(e.ctx, id)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		fmt.Fprintf(e.stdout, "%s  %-8s %s\n", m.Timestamp.Local().Format(time.DateTime), m.Sender, m.Content)
	}
	return nil
}

func cmdReply(e *env, args []string) error {
	fs := flagSet(e, "reply", "<conversation-id> <text...>")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		fs.Usage()
		return errUsage
	}
	id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: conversation id %q", errUsage, fs.Arg(0))
	}

	a, err := e.open(true)
	if err != nil {
		return err
	}
	defer a.Close()

	m, err := a.Dashboard().Reply(e.ctx, id, strings.Join(fs.Args()[1:], " "))
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "Sent message #%d\n", m.ID)
	return nil
}

// cmdSend opens the inbox channel just long enough to write one frame and
// print the server's echo.
func cmdSend(e *env, args []string) error {
	fs := flagSet(e, "send", "[--timeout d] <text...>")
	timeout := fs.Duration("timeout", 10*time.Second, "give up after this long")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}

	a, err := e.open(true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(e.ctx, *timeout)
	defer cancel()

	sub := a.Router().Subscribe(func(ev realtime.InboundEvent) bool { return ev.Kind == v1.KindEcho })
	defer sub.Close()

	ch := a.Channel()
	ch.Start(ctx)
	defer ch.Stop()
	if err := ch.WaitFor(ctx, realtime.StateOpen); err != nil {
		return fmt.Errorf("inbox channel did not open: %w", err)
	}
	if err := ch.Send(ctx, strings.Join(fs.Args(), " ")); err != nil {
		return err
	}
	ev, err := sub.Next(ctx)
	if err != nil {
		return fmt.Errorf("no echo: %w", err)
	}
	var echo v1.EchoMessage
	if err := json.Unmarshal(ev.Payload, &echo); err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, echo.Message)
	return nil
}

func cmdDevServer(e *env, args []string) error {
	fs := flagSet(e, "devserver", "[--addr host:port]")
	addr := fs.String("addr", e.cfg.Dev.Addr, "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	e.cfg.Dev.Addr = *addr

	log := app.NewLogger(e.stderr, e.cfg.LogLevel, e.cfg.LogFormat, e.cfg.LogColor)
	fmt.Fprintf(e.stdout, "Seller API on http://%s/api/ (seller %q, password %q)\n", e.cfg.Dev.Addr, e.cfg.Dev.Seller, e.cfg.Dev.Password)
	return app.RunDevServer(e.ctx, e.cfg, log)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
