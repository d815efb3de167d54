package sellerapi

import (
	"context"
	"time"

	v1 "github.com/BonfaceGabriel/chapchat/shared/contracts/realtime/v1"
)

// Seller is one shop account.
type Seller struct {
	ID           int64
	Username     string
	Email        string
	CompanyName  *string
	PasswordHash string
	CreatedAt    time.Time
}

// NewOrderInput describes an order created through the dev endpoints.
type NewOrderInput struct {
	Customer       v1.Customer
	Status         string
	TotalAmount    string
	DeliveryOption *string
	Address        *string
	Now            time.Time
}

// AppendMessageInput describes a chat message appended to a conversation.
type AppendMessageInput struct {
	SellerID       int64
	ConversationID int64
	Sender         string
	Content        string
	Now            time.Time
}

// Store persists sellers, orders and WhatsApp conversations.
//
// Requirements:
//   - every read is scoped to one seller
//   - Orders and Conversations are newest first
//   - Messages are in append order
type Store interface {
	CreateSeller(ctx context.Context, s Seller) (Seller, error)
	SellerByUsername(ctx context.Context, username string) (Seller, error)
	Seller(ctx context.Context, id int64) (Seller, error)

	CreateOrder(ctx context.Context, sellerID int64, in NewOrderInput) (v1.Order, error)
	Orders(ctx context.Context, sellerID int64) ([]v1.Order, error)
	UpdateOrderStatus(ctx context.Context, sellerID, orderID int64, status string, now time.Time) (v1.Order, error)

	// ConversationFor returns the seller's conversation with the customer
	// phone number, creating it if needed.
	ConversationFor(ctx context.Context, sellerID int64, customer v1.Customer, now time.Time) (v1.Conversation, error)
	Conversations(ctx context.Context, sellerID int64) ([]v1.Conversation, error)
	Messages(ctx context.Context, sellerID, conversationID int64) ([]v1.Message, error)
	AppendMessage(ctx context.Context, in AppendMessageInput) (v1.Message, error)
}
