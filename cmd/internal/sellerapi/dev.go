package sellerapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	v1 "github.com/BonfaceGabriel/chapchat/shared/contracts/realtime/v1"
)

func (s *Server) registerDev(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/dev/orders/{$}", s.handleDevOrder)
	mux.HandleFunc("POST /api/dev/messages/{$}", s.handleDevMessage)
	mux.HandleFunc("POST /api/dev/events/{$}", s.handleDevEvent)
	mux.HandleFunc("POST /api/dev/expire-access/{$}", s.handleDevExpire)
	mux.HandleFunc("POST /api/dev/revoke-refresh/{$}", s.handleDevRevoke)
	mux.HandleFunc("GET /api/dev/stats/{$}", s.handleDevStats)
}

type devOrderRequest struct {
	Username       string  `json:"username"`
	PhoneNumber    string  `json:"phone_number"`
	CustomerName   string  `json:"customer_name"`
	TotalAmount    string  `json:"total_amount"`
	Status         string  `json:"status"`
	DeliveryOption *string `json:"delivery_option"`
}

// CreateOrder stores an order for username and publishes new_order.
func (s *Server) CreateOrder(ctx context.Context, username string, in NewOrderInput) (v1.Order, error) {
	sel, err := s.store.SellerByUsername(ctx, username)
	if err != nil {
		return v1.Order{}, err
	}
	o, err := s.store.CreateOrder(ctx, sel.ID, in)
	if err != nil {
		return v1.Order{}, err
	}
	if _, err := s.inbox.Publish(sel.ID, v1.TypeNewOrder, o); err != nil {
		return v1.Order{}, err
	}
	return o, nil
}

// CustomerMessage appends an inbound customer message for username and
// publishes new_message.
func (s *Server) CustomerMessage(ctx context.Context, username string, customer v1.Customer, content string) (v1.Message, error) {
	sel, err := s.store.SellerByUsername(ctx, username)
	if err != nil {
		return v1.Message{}, err
	}
	now := time.Now().UTC()
	conv, err := s.store.ConversationFor(ctx, sel.ID, customer, now)
	if err != nil {
		return v1.Message{}, err
	}
	m, err := s.store.AppendMessage(ctx, AppendMessageInput{
		SellerID:       sel.ID,
		ConversationID: conv.ID,
		Sender:         v1.SenderCustomer,
		Content:        content,
		Now:            now,
	})
	if err != nil {
		return v1.Message{}, err
	}
	if _, err := s.inbox.Publish(sel.ID, v1.TypeNewMessage, m); err != nil {
		return v1.Message{}, err
	}
	return m, nil
}

func (s *Server) handleDevOrder(w http.ResponseWriter, r *http.Request) {
	var req devOrderRequest
	if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Malformed request.")
		return
	}
	cust := v1.Customer{PhoneNumber: req.PhoneNumber}
	if n := strings.TrimSpace(req.CustomerName); n != "" {
		cust.Name = &n
	}
	o, err := s.CreateOrder(r.Context(), req.Username, NewOrderInput{
		Customer:       cust,
		Status:         req.Status,
		TotalAmount:    req.TotalAmount,
		DeliveryOption: req.DeliveryOption,
		Now:            time.Now().UTC(),
	})
	if err != nil {
		s.storeError(w, "dev.order", err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

type devMessageRequest struct {
	Username     string `json:"username"`
	PhoneNumber  string `json:"phone_number"`
	CustomerName string `json:"customer_name"`
	Content      string `json:"content"`
}

func (s *Server) handleDevMessage(w http.ResponseWriter, r *http.Request) {
	var req devMessageRequest
	if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Malformed request.")
		return
	}
	cust := v1.Customer{PhoneNumber: req.PhoneNumber}
	if n := strings.TrimSpace(req.CustomerName); n != "" {
		cust.Name = &n
	}
	m, err := s.CustomerMessage(r.Context(), req.Username, cust, req.Content)
	if err != nil {
		s.storeError(w, "dev.message", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type devEventRequest struct {
	Username string          `json:"username"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
}

// handleDevEvent publishes an arbitrary frame, e.g. a kind the dashboard does not know.
func (s *Server) handleDevEvent(w http.ResponseWriter, r *http.Request) {
	var req devEventRequest
	if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Malformed request.")
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		writeFieldError(w, "type", fieldRequired)
		return
	}
	sel, err := s.store.SellerByUsername(r.Context(), req.Username)
	if err != nil {
		s.storeError(w, "dev.event", err)
		return
	}
	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	f, err := s.inbox.Publish(sel.ID, req.Type, payload)
	if err != nil {
		s.storeError(w, "dev.event", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"seq": *f.Seq, "id": f.ID})
}

type devSellerRequest struct {
	Username string `json:"username"`
}

func (s *Server) devSeller(w http.ResponseWriter, r *http.Request) (Seller, bool) {
	var req devSellerRequest
	if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Malformed request.")
		return Seller{}, false
	}
	sel, err := s.store.SellerByUsername(r.Context(), req.Username)
	if err != nil {
		s.storeError(w, "dev.seller", err)
		return Seller{}, false
	}
	return sel, true
}

func (s *Server) handleDevExpire(w http.ResponseWriter, r *http.Request) {
	sel, ok := s.devSeller(w, r)
	if !ok {
		return
	}
	n := s.ExpireAccess(sel.ID)
	s.log.Info("sellerapi.dev.expire_access", "seller_id", sel.ID, "connections", n)
	writeJSON(w, http.StatusOK, map[string]int{"closed": n})
}

func (s *Server) handleDevRevoke(w http.ResponseWriter, r *http.Request) {
	sel, ok := s.devSeller(w, r)
	if !ok {
		return
	}
	n := s.RevokeRefresh(sel.ID)
	s.log.Info("sellerapi.dev.revoke_refresh", "seller_id", sel.ID, "sessions", n)
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

func (s *Server) handleDevStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Stats())
}

// Seed creates a demo seller with a few orders and one conversation.
// An existing seller is left untouched.
func (s *Server) Seed(ctx context.Context, in SellerInput) (Seller, error) {
	sel, err := s.CreateSeller(ctx, in)
	if errors.Is(err, ErrConflict) {
		return s.store.SellerByUsername(ctx, in.Username)
	}
	if err != nil {
		return Seller{}, fmt.Errorf("sellerapi: seed seller: %w", err)
	}

	names := []string{"Wanjiru", "Otieno", "Achieng"}
	for i, n := range names {
		name := n
		_, err := s.store.CreateOrder(ctx, sel.ID, NewOrderInput{
			Customer:    v1.Customer{PhoneNumber: fmt.Sprintf("+25470000000%d", i+1), Name: &name},
			Status:      []string{v1.OrderPendingApproval, v1.OrderProcessing, v1.OrderDelivered}[i],
			TotalAmount: fmt.Sprintf("%d.00", 1200+i*350),
		})
		if err != nil {
			return Seller{}, fmt.Errorf("sellerapi: seed order: %w", err)
		}
	}

	name := names[0]
	conv, err := s.store.ConversationFor(ctx, sel.ID, v1.Customer{PhoneNumber: "+254700000001", Name: &name}, time.Now().UTC())
	if err != nil {
		return Seller{}, fmt.Errorf("sellerapi: seed conversation: %w", err)
	}
	if _, err := s.store.AppendMessage(ctx, AppendMessageInput{
		SellerID:       sel.ID,
		ConversationID: conv.ID,
		Sender:         v1.SenderCustomer,
		Content:        "Habari! Is the order ready?",
	}); err != nil {
		return Seller{}, fmt.Errorf("sellerapi: seed message: %w", err)
	}
	s.log.Info("sellerapi.seed", "seller_id", sel.ID, "username", sel.Username)
	return sel, nil
}
