// Package v1 defines the seller inbox realtime contract.
//
// It is shared between the dashboard client and the dev seller API so both
// sides agree on frame shapes. The package stays dependency-light.
package v1

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// InboxPath is the websocket endpoint; the access token travels as ?token=.
const InboxPath = "/ws/inbox/"

// TokenParam is the handshake query parameter carrying the access token.
const TokenParam = "token"

// CloseUnauthorized is the websocket close code a server uses to drop a
// connection whose credential is no longer accepted.
const CloseUnauthorized = 4001

// Frame types (wire-stable).
const (
	// TypeNewOrder announces a paid order (server -> client).
	TypeNewOrder = "new_order"
	// TypeNewMessage announces a customer chat message (server -> client).
	TypeNewMessage = "new_message"
	// TypeMessage is the legacy spelling of TypeNewMessage.
	TypeMessage = "message"
	// KindEcho is assigned by clients to untyped {"message": ...} echo frames.
	KindEcho = "echo"
)

// Frame is the inbound wire wrapper.
//
// Servers send {type, payload}; some emitters use "kind" instead of "type".
// Seq and ID are optional server-assigned identity fields.
type Frame struct {
	Type    string          `json:"type,omitempty"`
	Kind    string          `json:"kind,omitempty"`
	Seq     *int64          `json:"seq,omitempty"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EventKind returns the normalized event kind of the frame.
func (f Frame) EventKind() string {
	k := strings.TrimSpace(f.Type)
	if k == "" {
		k = strings.TrimSpace(f.Kind)
	}
	if k == TypeMessage {
		return TypeNewMessage
	}
	return k
}

// Validate performs structural validation of an inbound frame.
func (f Frame) Validate() error {
	if f.EventKind() == "" {
		return errors.New("missing field: type")
	}
	if f.Seq != nil && *f.Seq <= 0 {
		return errors.New("invalid field: seq")
	}
	return nil
}

// DecodeFrame parses and validates one text frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// OutboundMessage is the only client -> server frame: a reply typed in the inbox.
type OutboundMessage struct {
	Message string `json:"message"`
}

// EchoMessage is what the server writes back for an OutboundMessage.
type EchoMessage struct {
	Message string `json:"message"`
}

// Customer mirrors the customer summary nested in orders and conversations.
type Customer struct {
	PhoneNumber string  `json:"phone_number"`
	Name        *string `json:"name"`
}

// Order is the new_order payload and the orders list row.
type Order struct {
	ID                  int64      `json:"id"`
	Customer            *Customer  `json:"customer"`
	CustomerName        string     `json:"customer_name,omitempty"`
	Status              string     `json:"status"`
	TotalAmount         string     `json:"total_amount"`
	DeliveryOption      *string    `json:"delivery_option"`
	DeliveryAddressText *string    `json:"delivery_address_text"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           *time.Time `json:"updated_at,omitempty"`
}

// Message is the new_message payload and the conversation history row.
type Message struct {
	ID           int64     `json:"id"`
	Conversation int64     `json:"conversation"`
	Sender       string    `json:"sender"`
	Content      string    `json:"content"`
	Timestamp    time.Time `json:"timestamp"`
}

// Conversation is one row of the inbox conversation list.
type Conversation struct {
	ID          int64     `json:"id"`
	Customer    Customer  `json:"customer"`
	State       string    `json:"state"`
	UpdatedAt   time.Time `json:"updated_at"`
	LastMessage *Message  `json:"last_message"`
}

// Message senders.
const (
	SenderCustomer = "customer"
	SenderSeller   = "seller"
	SenderBot      = "bot"
)

// Order statuses as stored by the seller API.
const (
	OrderPendingPayment  = "PENDING_PAYMENT"
	OrderPendingApproval = "PENDING_APPROVAL"
	OrderProcessing      = "PROCESSING"
	OrderReadyForPickup  = "READY_FOR_PICKUP"
	OrderOutForDelivery  = "OUT_FOR_DELIVERY"
	OrderDelivered       = "DELIVERED"
	OrderPickedUp        = "PICKED_UP"
	OrderCancelled       = "CANCELLED"
	OrderFailed          = "FAILED"
)

// ValidOrderStatus reports whether s is a status an operator may set.
func ValidOrderStatus(s string) bool {
	switch s {
	case OrderPendingPayment, OrderPendingApproval, OrderProcessing, OrderReadyForPickup,
		OrderOutForDelivery, OrderDelivered, OrderPickedUp, OrderCancelled, OrderFailed:
		return true
	}
	return false
}

// Reply is the body of an inbox reply posted over HTTP.
type Reply struct {
	Content string `json:"content"`
}

// StatusUpdate is the body of an order status change.
type StatusUpdate struct {
	Status string `json:"status"`
}
