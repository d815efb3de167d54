// Package main is a CI-friendly smoke test for the seller inbox websocket.
//
// It runs against a seller API with dev endpoints (chapdash devserver) and checks:
//   - token login and handshake with ?token=
//   - fanout of new_order to every connection of the seller, with seq
//   - {"message"} echo to the sending connection only
//   - backlog replay on reconnect (the duplicate a client must drop)
//   - 4001 close after access expiry, 401 for the stale token, and recovery via refresh
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/pflag"

	v1 "github.com/BonfaceGabriel/chapchat/shared/contracts/realtime/v1"
)

const maxReadBytes = 1 << 20

type smokeClient struct {
	name string
	conn *websocket.Conn

	inbox chan v1.Frame
	errCh chan error
}

type tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

func main() {
	fs := pflag.NewFlagSet("ws-smoke", pflag.ExitOnError)
	apiBase := fs.String("api", "http://127.0.0.1:8000/api/", "seller API base URL")
	user := fs.String("user", "demo", "seller username")
	pass := fs.String("password", "chapchat-demo-pass", "seller password")
	text := fs.String("text", "habari 👋", "message text to send")
	timeout := fs.Duration("timeout", 7*time.Second, "per-step timeout")
	verbose := fs.BoolP("verbose", "v", false, "verbose output")
	_ = fs.Parse(os.Args[1:])

	api, err := url.Parse(*apiBase)
	if err != nil || (api.Scheme != "http" && api.Scheme != "https") || api.Host == "" {
		fatalf("invalid --api: %q", *apiBase)
	}
	wsURL, err := v1.InboxURL(*apiBase)
	if err != nil {
		fatalf("inbox url: %v", err)
	}

	root := context.Background()
	hc := &http.Client{Timeout: *timeout}

	var tok tokens
	mustPostForm(root, hc, api, "token/", url.Values{"username": {*user}, "password": {*pass}}, &tok)
	if tok.Access == "" || tok.Refresh == "" {
		fatalf("login returned an empty credential")
	}

	a := mustConnect(root, "A", wsURL, tok.Access, *timeout)
	defer closeWS(a.conn)
	b := mustConnect(root, "B", wsURL, tok.Access, *timeout)
	defer closeWS(b.conn)

	// Earlier runs may have left a backlog; drain what the server replays.
	a.drain(root, 500*time.Millisecond)
	b.drain(root, 500*time.Millisecond)

	var order v1.Order
	mustPostJSON(root, hc, api, "dev/orders/", map[string]any{
		"username": *user, "phone_number": "+254700000099", "customer_name": "Smoke", "total_amount": "1.00",
	}, &order)

	seqA := a.mustReadOrder(root, order.ID, *timeout)
	seqB := b.mustReadOrder(root, order.ID, *timeout)
	if seqA != seqB {
		fatalf("fanout seq mismatch: A=%d B=%d", seqA, seqB)
	}
	if *verbose {
		fmt.Printf("new_order #%d delivered to A and B with seq=%d\n", order.ID, seqA)
	}

	mustWrite(root, a.conn, v1.OutboundMessage{Message: *text}, *timeout)
	echo := a.mustReadUntil(root, *timeout, func(f v1.Frame) bool { return f.EventKind() == v1.KindEcho })
	var em v1.EchoMessage
	_ = json.Unmarshal(echo.Payload, &em)
	if em.Message != "You said: "+*text {
		fatalf("echo mismatch: %q", em.Message)
	}
	b.mustSeeNothing(root, 750*time.Millisecond)

	c := mustConnect(root, "C", wsURL, tok.Access, *timeout)
	replayed := c.mustReadUntil(root, *timeout, func(f v1.Frame) bool { return f.Seq != nil && *f.Seq == seqA })
	closeWS(c.conn)
	if *verbose {
		fmt.Printf("reconnect replayed seq=%d (id=%s)\n", *replayed.Seq, replayed.ID)
	}

	mustPostJSON(root, hc, api, "dev/expire-access/", map[string]string{"username": *user}, nil)
	a.mustClose(root, v1.CloseUnauthorized, *timeout)
	b.mustClose(root, v1.CloseUnauthorized, *timeout)
	mustRefuse(root, wsURL, tok.Access, *timeout)

	var renewed tokens
	mustPostJSON(root, hc, api, "token/refresh/", map[string]string{"refresh": tok.Refresh}, &renewed)
	d := mustConnect(root, "D", wsURL, renewed.Access, *timeout)
	closeWS(d.conn)

	fmt.Printf("OK: order=%d seq=%d ws=%s\n", order.ID, seqA, wsURL)
}

func mustConnect(parent context.Context, name, wsURL, access string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, withToken(wsURL, access), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Frame, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func mustRefuse(parent context.Context, wsURL, access string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, withToken(wsURL, access), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil {
		closeWS(conn)
		fatalf("stale token was accepted")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		fatalf("stale token: want 401, got err=%v", err)
	}
}

func withToken(wsURL, access string) string {
	u, _ := url.Parse(wsURL)
	q := u.Query()
	q.Set(v1.TokenParam, access)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)
		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}
			if mt != websocket.MessageText {
				c.fail(fmt.Errorf("unsupported message type: %v", mt))
				return
			}
			f, err := decode(data)
			if err != nil {
				c.fail(err)
				return
			}
			select {
			case c.inbox <- f:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

// decode accepts typed frames and the untyped {"message"} echo.
func decode(data []byte) (v1.Frame, error) {
	f, err := v1.DecodeFrame(data)
	if err == nil {
		return f, nil
	}
	var em v1.EchoMessage
	if json.Unmarshal(data, &em) == nil && em.Message != "" {
		return v1.Frame{Type: v1.KindEcho, Payload: data}, nil
	}
	return v1.Frame{}, fmt.Errorf("bad frame: %w", err)
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func (c *smokeClient) drain(parent context.Context, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while draining (%s)", c.name)
			}
		}
	}
}

func (c *smokeClient) mustReadOrder(parent context.Context, id int64, stepTimeout time.Duration) int64 {
	f := c.mustReadUntil(parent, stepTimeout, func(f v1.Frame) bool {
		if f.EventKind() != v1.TypeNewOrder {
			return false
		}
		var o v1.Order
		return json.Unmarshal(f.Payload, &o) == nil && o.ID == id
	})
	if f.Seq == nil {
		fatalf("new_order without seq (%s)", c.name)
	}
	return *f.Seq
}

func (c *smokeClient) mustReadUntil(parent context.Context, stepTimeout time.Duration, match func(v1.Frame) bool) v1.Frame {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for frame (%s): %v", c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error (%s): %v", c.name, err)
		case f, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting (%s)", c.name)
			}
			if match(f) {
				return f
			}
		}
	}
}

func (c *smokeClient) mustSeeNothing(parent context.Context, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()
	select {
	case <-ctx.Done():
	case f, ok := <-c.inbox:
		if ok {
			fatalf("unexpected frame (%s): kind=%q", c.name, f.EventKind())
		}
		fatalf("connection closed unexpectedly (%s)", c.name)
	}
}

func (c *smokeClient) mustClose(parent context.Context, code websocket.StatusCode, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	inbox := c.inbox
	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for close %d (%s)", code, c.name)
		case err := <-c.errCh:
			if got := websocket.CloseStatus(err); got != code {
				fatalf("close code (%s): got=%d want=%d (%v)", c.name, got, code, err)
			}
			return
		case _, ok := <-inbox:
			if !ok {
				inbox = nil
			}
		}
	}
}

func mustWrite(parent context.Context, conn *websocket.Conn, v any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	b, err := json.Marshal(v)
	if err != nil {
		fatalf("marshal: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustPostForm(ctx context.Context, hc *http.Client, api *url.URL, path string, form url.Values, dst any) {
	mustDo(ctx, hc, api, path, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), dst)
}

func mustPostJSON(ctx context.Context, hc *http.Client, api *url.URL, path string, body, dst any) {
	b, err := json.Marshal(body)
	if err != nil {
		fatalf("marshal: %v", err)
	}
	mustDo(ctx, hc, api, path, "application/json", bytes.NewReader(b), dst)
}

func mustDo(ctx context.Context, hc *http.Client, api *url.URL, path, contentType string, body io.Reader, dst any) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, api.JoinPath(path).String(), body)
	if err != nil {
		fatalf("request %s: %v", path, err)
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := hc.Do(req)
	if err != nil {
		fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if resp.StatusCode/100 != 2 {
		fatalf("POST %s: status=%d body=%s", path, resp.StatusCode, data)
	}
	if dst != nil {
		if err := json.Unmarshal(data, dst); err != nil {
			fatalf("POST %s: decode: %v", path, err)
		}
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
