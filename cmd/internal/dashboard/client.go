// Package dashboard makes the operator console's business calls (orders and
// the WhatsApp inbox) through the authenticated transport.
package dashboard

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/BonfaceGabriel/chapchat/cmd/internal/auth/transport"
	v1 "github.com/BonfaceGabriel/chapchat/shared/contracts/realtime/v1"
)

const (
	pathOrders        = "orders/"
	pathConversations = "whatsapp/conversations/"
)

// Client wraps a Transport with typed seller API calls.
type Client struct {
	t *transport.Transport
}

// New returns a Client sending through t.
func New(t *transport.Transport) *Client { return &Client{t: t} }

// Orders lists the seller's orders, newest first.
func (c *Client) Orders(ctx context.Context) ([]v1.Order, error) {
	var out []v1.Order
	if err := c.t.GetJSON(ctx, pathOrders, &out); err != nil {
		return nil, fmt.Errorf("dashboard: orders: %w", err)
	}
	return out, nil
}

// SetOrderStatus changes the status of one order.
func (c *Client) SetOrderStatus(ctx context.Context, orderID int64, status string) (v1.Order, error) {
	if !v1.ValidOrderStatus(status) {
		return v1.Order{}, fmt.Errorf("dashboard: unknown order status %q", status)
	}
	req, err := transport.JSONRequest(http.MethodPatch, pathOrders+strconv.FormatInt(orderID, 10)+"/", v1.StatusUpdate{Status: status})
	if err != nil {
		return v1.Order{}, err
	}
	resp, err := c.t.Send(ctx, req)
	if err != nil {
		return v1.Order{}, fmt.Errorf("dashboard: order status: %w", err)
	}
	var o v1.Order
	if err := resp.DecodeJSON(&o); err != nil {
		return v1.Order{}, fmt.Errorf("dashboard: order status: %w", err)
	}
	return o, nil
}

// Conversations lists inbox conversations, most recently updated first.
func (c *Client) Conversations(ctx context.Context) ([]v1.Conversation, error) {
	var out []v1.Conversation
	if err := c.t.GetJSON(ctx, pathConversations, &out); err != nil {
		return nil, fmt.Errorf("dashboard: conversations: %w", err)
	}
	return out, nil
}

// Messages returns a conversation's history in order.
func (c *Client) Messages(ctx context.Context, conversationID int64) ([]v1.Message, error) {
	var out []v1.Message
	if err := c.t.GetJSON(ctx, messagesPath(conversationID), &out); err != nil {
		return nil, fmt.Errorf("dashboard: messages: %w", err)
	}
	return out, nil
}

// Reply posts a seller message to a conversation.
func (c *Client) Reply(ctx context.Context, conversationID int64, content string) (v1.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return v1.Message{}, fmt.Errorf("dashboard: empty reply")
	}
	var m v1.Message
	if err := c.t.PostJSON(ctx, messagesPath(conversationID), v1.Reply{Content: content}, &m); err != nil {
		return v1.Message{}, fmt.Errorf("dashboard: reply: %w", err)
	}
	return m, nil
}

func messagesPath(conversationID int64) string {
	return pathConversations + strconv.FormatInt(conversationID, 10) + "/messages/"
}
