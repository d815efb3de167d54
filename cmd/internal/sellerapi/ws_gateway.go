package sellerapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/BonfaceGabriel/chapchat/cmd/internal/ids"
	"github.com/BonfaceGabriel/chapchat/cmd/internal/realtime"
	v1 "github.com/BonfaceGabriel/chapchat/shared/contracts/realtime/v1"
)

const (
	wsMaxFrameBytes   = 64 << 10
	wsMaxPingFailures = 3
	wsCloseGrace      = time.Second

	echoPrefix = "You said: "
)

type authenticator func(token string, now time.Time) (AccessClaims, error)

// Gateway serves /ws/inbox/.
//
// The access token travels as ?token=; a token that does not verify is
// refused with 401 before the upgrade. An open connection whose token
// expires, or whose seller's access is expired through the dev endpoints,
// is closed with code 4001.
type Gateway struct {
	log   *slog.Logger
	inbox *Inbox
	auth  authenticator
	cfg   Config

	originPatterns []string

	accepted atomic.Uint64
	rejected atomic.Uint64
}

func newGateway(cfg Config, inbox *Inbox, auth authenticator, log *slog.Logger) *Gateway {
	return &Gateway{
		log:            log,
		inbox:          inbox,
		auth:           auth,
		cfg:            cfg,
		originPatterns: originPatterns(cfg.AllowedOrigins),
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.rejected.Add(1)
		g.log.Info("inbox.ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	claims, err := g.auth(r.URL.Query().Get(v1.TokenParam), time.Now())
	if err != nil {
		g.rejected.Add(1)
		g.log.Info("inbox.ws.reject.token", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: g.originPatterns})
	if err != nil {
		g.log.Error("inbox.ws.accept.fail", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(wsMaxFrameBytes)

	sub := newSubscriber(ids.Next(), claims.SellerID, g.cfg.SendQueue)
	replayed := g.inbox.join(sub)
	g.accepted.Add(1)

	log := g.log.With("seller_id", claims.SellerID, "session_id", claims.SessionID, "sub", sub.id)
	log.Info("inbox.ws.open", "replayed", replayed)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.inbox.leave(sub)
			_ = conn.Close(code, reason)
			cancel()
			log.Info("inbox.ws.close", "code", int(code), "reason", reason)
		})
	}

	expiry := time.NewTimer(time.Until(claims.ExpiresAt))
	defer expiry.Stop()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.Done():
				if sub.expired.Load() {
					shutdown(v1.CloseUnauthorized, "access expired")
				}
				return
			case <-expiry.C:
				shutdown(v1.CloseUnauthorized, "token expired")
				return
			case b := <-sub.send:
				wctx, wcancel := context.WithTimeout(ctx, g.cfg.WriteTimeout)
				err := conn.Write(wctx, websocket.MessageText, b)
				wcancel()
				if err != nil {
					log.Info("inbox.ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		t := time.NewTicker(g.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()
				if err != nil {
					failures++
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	rl := realtime.NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				log.Info("inbox.ws.read.fail", "err", err)
			}
			shutdown(websocket.StatusNormalClosure, "bye")
			break
		}
		if ok, _ := rl.Allow(time.Now()); !ok {
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break
		}

		var msg v1.OutboundMessage
		if err := json.Unmarshal(data, &msg); err != nil || strings.TrimSpace(msg.Message) == "" {
			log.Debug("inbox.ws.frame.invalid")
			continue
		}
		echo, _ := json.Marshal(v1.EchoMessage{Message: echoPrefix + msg.Message})
		g.inbox.deliver(sub, echo)
	}

	<-writerDone
	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}
	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	host := originHostOnly(origin)
	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			continue
		case a == "*", origin == a:
			return nil
		case host != "" && host == originHostOnly(a):
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
		if s == "" {
			return ""
		}
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// originPatterns derives websocket.Accept host patterns from the allowlist
// so both origin checks agree.
func originPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		if h := originHostOnly(a); h != "" && h != "*" {
			seen[h] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}
