package sellerapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BonfaceGabriel/chapchat/cmd/internal/ids"
	"github.com/BonfaceGabriel/chapchat/cmd/security/token"
	v1 "github.com/BonfaceGabriel/chapchat/shared/contracts/realtime/v1"
)

const (
	detailBadCredentials = "No active account found with the given credentials"
	detailNoCredentials  = "Authentication credentials were not provided."
	detailTokenInvalid   = "Given token not valid for any token type"
	detailRefreshInvalid = "Token is invalid or expired"
	detailNotFound       = "Not found."
	fieldRequired        = "This field is required."
)

// authSession is the server side of one issued credential pair.
type authSession struct {
	id          string
	sellerID    int64
	refreshHash string
	refreshExp  time.Time
	epoch       int64
	revoked     bool
}

// Stats counts calls the dev server has served.
type Stats struct {
	TokensIssued     uint64 `json:"tokens_issued"`
	LoginFailures    uint64 `json:"login_failures"`
	Renewals         uint64 `json:"renewals"`
	RenewalsRejected uint64 `json:"renewals_rejected"`
	Unauthorized     uint64 `json:"unauthorized"`
	InboxAccepted    uint64 `json:"inbox_accepted"`
	InboxRejected    uint64 `json:"inbox_rejected"`
	EventsPublished  uint64 `json:"events_published"`
	EventsDropped    uint64 `json:"events_dropped"`
}

// Server is the dev seller API.
type Server struct {
	cfg        Config
	log        *slog.Logger
	store      Store
	tokens     *accessTokens
	inbox      *Inbox
	gateway    *Gateway
	refreshKey []byte
	dummyHash  string

	mu        sync.Mutex
	sessions  map[string]*authSession
	byRefresh map[string]*authSession
	failures  map[string][]time.Time

	tokensIssued     atomic.Uint64
	loginFailures    atomic.Uint64
	renewals         atomic.Uint64
	renewalsRejected atomic.Uint64
	unauthorized     atomic.Uint64
}

// New constructs a Server. A nil store uses a MemoryStore.
func New(cfg Config, store Store, log *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	tokens, err := newAccessTokens(cfg)
	if err != nil {
		return nil, err
	}
	dummy, err := cfg.Password.Hash("chapchat-dev-timing-only")
	if err != nil {
		return nil, fmt.Errorf("sellerapi: dummy hash: %w", err)
	}
	// Optional; without a key refresh tokens are stored as plain SHA-256.
	key, _ := token.HMACKeyFromEnv(32)

	s := &Server{
		cfg:        cfg,
		log:        log,
		store:      store,
		tokens:     tokens,
		inbox:      NewInbox(log, cfg.Backlog, cfg.Replay),
		refreshKey: key,
		dummyHash:  dummy,
		sessions:   make(map[string]*authSession),
		byRefresh:  make(map[string]*authSession),
		failures:   make(map[string][]time.Time),
	}
	s.gateway = newGateway(cfg, s.inbox, s.authenticate, log)
	log.Info("sellerapi.ready", "issuer", cfg.Issuer, "public_key", tokens.PublicKeyHex(), "dev_endpoints", cfg.DevEndpoints)
	return s, nil
}

// Inbox returns the server's event fanout.
func (s *Server) Inbox() *Inbox { return s.inbox }

// Handler returns a mux serving the API under /api/ and the inbox websocket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// Register wires all routes onto mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/token/{$}", s.handleToken)
	mux.HandleFunc("POST /api/token/refresh/{$}", s.handleRefresh)
	mux.HandleFunc("GET /api/seller/profile/{$}", s.withSeller(s.handleProfile))
	mux.HandleFunc("GET /api/orders/{$}", s.withSeller(s.handleOrders))
	mux.HandleFunc("PATCH /api/orders/{id}/{$}", s.withSeller(s.handleOrderStatus))
	mux.HandleFunc("GET /api/whatsapp/conversations/{$}", s.withSeller(s.handleConversations))
	mux.HandleFunc("GET /api/whatsapp/conversations/{id}/messages/{$}", s.withSeller(s.handleMessages))
	mux.HandleFunc("POST /api/whatsapp/conversations/{id}/messages/{$}", s.withSeller(s.handleReply))
	mux.Handle("GET "+v1.InboxPath+"{$}", s.gateway)

	if s.cfg.DevEndpoints {
		s.registerDev(mux)
	}
}

// Stats returns a snapshot of the call counters.
func (s *Server) Stats() Stats {
	return Stats{
		TokensIssued:     s.tokensIssued.Load(),
		LoginFailures:    s.loginFailures.Load(),
		Renewals:         s.renewals.Load(),
		RenewalsRejected: s.renewalsRejected.Load(),
		Unauthorized:     s.unauthorized.Load(),
		InboxAccepted:    s.gateway.accepted.Load(),
		InboxRejected:    s.gateway.rejected.Load(),
		EventsPublished:  s.inbox.published.Load(),
		EventsDropped:    s.inbox.dropped.Load(),
	}
}

// SellerInput describes a seller account to create.
type SellerInput struct {
	Username    string
	Password    string
	Email       string
	CompanyName string
}

// CreateSeller hashes the password and stores a new seller.
func (s *Server) CreateSeller(ctx context.Context, in SellerInput) (Seller, error) {
	if err := s.cfg.Password.Validate(in.Password); err != nil {
		return Seller{}, err
	}
	hash, err := s.cfg.Password.Hash(in.Password)
	if err != nil {
		return Seller{}, err
	}
	sel := Seller{Username: in.Username, Email: in.Email, PasswordHash: hash}
	if c := strings.TrimSpace(in.CompanyName); c != "" {
		sel.CompanyName = &c
	}
	return s.store.CreateSeller(ctx, sel)
}

// ExpireAccess invalidates every access token issued to sellerID and closes
// its inbox connections with the unauthorized close code. Refresh tokens keep
// working. It returns the number of connections closed.
func (s *Server) ExpireAccess(sellerID int64) int {
	s.mu.Lock()
	for _, sess := range s.sessions {
		if sess.sellerID == sellerID {
			sess.epoch++
		}
	}
	s.mu.Unlock()
	return s.inbox.Expire(sellerID)
}

// RevokeRefresh invalidates every refresh token issued to sellerID.
// It returns how many sessions were revoked.
func (s *Server) RevokeRefresh(sellerID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.sellerID == sellerID && !sess.revoked {
			sess.revoked = true
			n++
		}
	}
	return n
}

// ---- auth ----

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	username, pass, err := s.readCredentials(w, r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Malformed request.")
		return
	}
	if username == "" {
		writeFieldError(w, "username", fieldRequired)
		return
	}
	if pass == "" {
		writeFieldError(w, "password", fieldRequired)
		return
	}

	now := time.Now().UTC()
	if blocked, retry := s.loginBlocked(username, now); blocked {
		s.log.Info("sellerapi.login.throttled", "username", username)
		writeRateLimited(w, retry)
		return
	}

	ctx := r.Context()
	sel, lookupErr := s.store.SellerByUsername(ctx, username)
	hash := s.dummyHash
	if lookupErr == nil {
		hash = sel.PasswordHash
	}
	ok, verr := s.cfg.Password.Verify(hash, pass)
	if lookupErr != nil || verr != nil || !ok {
		s.recordLoginFailure(username, now)
		s.loginFailures.Add(1)
		s.log.Info("sellerapi.login.fail", "username", username)
		writeDetail(w, http.StatusUnauthorized, detailBadCredentials)
		return
	}

	access, refresh, err := s.issue(sel.ID, now)
	if err != nil {
		s.log.Error("sellerapi.login.issue.fail", "err", err)
		writeDetail(w, http.StatusInternalServerError, "Server error.")
		return
	}
	s.tokensIssued.Add(1)
	s.log.Info("sellerapi.login.ok", "seller_id", sel.ID, "access_fp", token.Fingerprint(access))
	writeJSON(w, http.StatusOK, map[string]string{"access": access, "refresh": refresh})
}

// readCredentials accepts a form-encoded or JSON body.
func (s *Server) readCredentials(w http.ResponseWriter, r *http.Request) (string, string, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, &body); err != nil {
			return "", "", err
		}
		return strings.TrimSpace(body.Username), body.Password, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return "", "", err
	}
	return strings.TrimSpace(r.PostForm.Get("username")), r.PostForm.Get("password"), nil
}

func (s *Server) issue(sellerID int64, now time.Time) (access, refresh string, err error) {
	sid, err := ids.NewULID(now)
	if err != nil {
		return "", "", err
	}
	refresh, err = token.NewOpaque(32)
	if err != nil {
		return "", "", err
	}
	sess := &authSession{
		id:          sid,
		sellerID:    sellerID,
		refreshHash: token.HashRefreshTokenHex(refresh, s.refreshKey),
		refreshExp:  now.Add(s.cfg.RefreshTTL),
	}

	s.mu.Lock()
	s.sessions[sid] = sess
	s.byRefresh[sess.refreshHash] = sess
	s.mu.Unlock()

	access, _ = s.tokens.Issue(sellerID, sid, 0, now)
	return access, refresh, nil
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Malformed request.")
		return
	}
	if strings.TrimSpace(req.Refresh) == "" {
		writeFieldError(w, "refresh", fieldRequired)
		return
	}

	now := time.Now().UTC()
	hash := token.HashRefreshTokenHex(req.Refresh, s.refreshKey)

	s.mu.Lock()
	sess := s.byRefresh[hash]
	valid := sess != nil && !sess.revoked && now.Before(sess.refreshExp)
	var (
		sellerID int64
		sid      string
		epoch    int64
	)
	if valid {
		sellerID, sid, epoch = sess.sellerID, sess.id, sess.epoch
	}
	s.mu.Unlock()

	if !valid {
		s.renewalsRejected.Add(1)
		s.log.Info("sellerapi.refresh.reject", "refresh_fp", token.Fingerprint(req.Refresh))
		writeTokenInvalid(w, detailRefreshInvalid)
		return
	}

	access, _ := s.tokens.Issue(sellerID, sid, epoch, now)
	s.renewals.Add(1)
	s.log.Info("sellerapi.refresh.ok", "seller_id", sellerID, "session_id", sid, "access_fp", token.Fingerprint(access))
	writeJSON(w, http.StatusOK, map[string]string{"access": access})
}

// authenticate verifies an access token and its session epoch.
func (s *Server) authenticate(tok string, now time.Time) (AccessClaims, error) {
	if tok == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	claims, err := s.tokens.Verify(tok, now)
	if err != nil {
		return AccessClaims{}, err
	}
	s.mu.Lock()
	sess := s.sessions[claims.SessionID]
	ok := sess != nil && sess.sellerID == claims.SellerID && sess.epoch == claims.Epoch
	s.mu.Unlock()
	if !ok {
		return AccessClaims{}, ErrInvalidToken
	}
	return claims, nil
}

type sellerHandler func(w http.ResponseWriter, r *http.Request, sel Seller)

func (s *Server) withSeller(next sellerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := strings.TrimSpace(r.Header.Get("Authorization"))
		tok, found := strings.CutPrefix(h, "Bearer ")
		if !found || strings.TrimSpace(tok) == "" {
			s.unauthorized.Add(1)
			writeDetail(w, http.StatusUnauthorized, detailNoCredentials)
			return
		}
		claims, err := s.authenticate(strings.TrimSpace(tok), time.Now())
		if err != nil {
			s.unauthorized.Add(1)
			writeTokenInvalid(w, detailTokenInvalid)
			return
		}
		sel, err := s.store.Seller(r.Context(), claims.SellerID)
		if err != nil {
			s.unauthorized.Add(1)
			writeTokenInvalid(w, detailTokenInvalid)
			return
		}
		next(w, r, sel)
	}
}

func (s *Server) loginBlocked(username string, now time.Time) (bool, time.Duration) {
	if s.cfg.LoginMaxFailures <= 0 {
		return false, 0
	}
	key := strings.ToLower(username)
	cut := now.Add(-s.cfg.LoginWindow)

	s.mu.Lock()
	defer s.mu.Unlock()
	recent := s.failures[key][:0]
	for _, t := range s.failures[key] {
		if t.After(cut) {
			recent = append(recent, t)
		}
	}
	s.failures[key] = recent
	if len(recent) < s.cfg.LoginMaxFailures {
		return false, 0
	}
	return true, recent[0].Sub(cut)
}

func (s *Server) recordLoginFailure(username string, now time.Time) {
	if s.cfg.LoginMaxFailures <= 0 {
		return
	}
	key := strings.ToLower(username)
	s.mu.Lock()
	s.failures[key] = append(s.failures[key], now)
	s.mu.Unlock()
}

// ---- seller resources ----

type profileResponse struct {
	Username    string  `json:"username"`
	Email       string  `json:"email"`
	CompanyName *string `json:"company_name"`
}

func (s *Server) handleProfile(w http.ResponseWriter, _ *http.Request, sel Seller) {
	writeJSON(w, http.StatusOK, profileResponse{
		Username:    sel.Username,
		Email:       sel.Email,
		CompanyName: sel.CompanyName,
	})
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request, sel Seller) {
	orders, err := s.store.Orders(r.Context(), sel.ID)
	if err != nil {
		s.storeError(w, "orders", err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request, sel Seller) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req v1.StatusUpdate
	if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Malformed request.")
		return
	}
	if !v1.ValidOrderStatus(req.Status) {
		writeFieldError(w, "status", fmt.Sprintf("%q is not a valid choice.", req.Status))
		return
	}
	o, err := s.store.UpdateOrderStatus(r.Context(), sel.ID, id, req.Status, time.Now().UTC())
	if err != nil {
		s.storeError(w, "order.status", err)
		return
	}
	s.log.Info("sellerapi.order.status", "seller_id", sel.ID, "order_id", id, "status", req.Status)
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request, sel Seller) {
	convs, err := s.store.Conversations(r.Context(), sel.ID)
	if err != nil {
		s.storeError(w, "conversations", err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, sel Seller) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	msgs, err := s.store.Messages(r.Context(), sel.ID, id)
	if err != nil {
		s.storeError(w, "messages", err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// handleReply stores a seller message and announces it on the inbox with the
// legacy "message" frame type.
func (s *Server) handleReply(w http.ResponseWriter, r *http.Request, sel Seller) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req v1.Reply
	if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Malformed request.")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeFieldError(w, "content", "This field may not be blank.")
		return
	}
	m, err := s.store.AppendMessage(r.Context(), AppendMessageInput{
		SellerID:       sel.ID,
		ConversationID: id,
		Sender:         v1.SenderSeller,
		Content:        req.Content,
		Now:            time.Now().UTC(),
	})
	if err != nil {
		s.storeError(w, "reply", err)
		return
	}
	if _, err := s.inbox.Publish(sel.ID, v1.TypeMessage, m); err != nil {
		s.log.Error("sellerapi.reply.publish.fail", "err", err)
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeDetail(w, http.StatusNotFound, detailNotFound)
	case errors.Is(err, ErrInvalidInput):
		writeDetail(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("sellerapi.store.fail", "op", op, "err", err)
		writeDetail(w, http.StatusInternalServerError, "Server error.")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeDetail(w, http.StatusNotFound, detailNotFound)
		return 0, false
	}
	return id, true
}
