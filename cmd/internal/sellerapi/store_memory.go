package sellerapi

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	v1 "github.com/BonfaceGabriel/chapchat/shared/contracts/realtime/v1"
)

const memMaxMessagesPerConversation = 10_000

// MemoryStore is the default Store: everything lives in process memory.
type MemoryStore struct {
	mu sync.Mutex

	nextSeller, nextOrder, nextConv, nextMsg int64

	sellers    map[int64]Seller
	byUsername map[string]int64
	orders     map[int64][]v1.Order // seller -> orders, oldest first
	convs      map[int64]*memConv
}

type memConv struct {
	sellerID int64
	conv     v1.Conversation
	msgs     []v1.Message
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sellers:    make(map[int64]Seller),
		byUsername: make(map[string]int64),
		orders:     make(map[int64][]v1.Order),
		convs:      make(map[int64]*memConv),
	}
}

func (s *MemoryStore) CreateSeller(ctx context.Context, in Seller) (Seller, error) {
	if err := ctx.Err(); err != nil {
		return Seller{}, err
	}
	key := strings.ToLower(strings.TrimSpace(in.Username))
	if key == "" || in.PasswordHash == "" {
		return Seller{}, fmt.Errorf("%w: username and password hash are required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byUsername[key]; ok {
		return Seller{}, fmt.Errorf("%w: username %q", ErrConflict, in.Username)
	}
	s.nextSeller++
	in.ID = s.nextSeller
	in.Username = strings.TrimSpace(in.Username)
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	s.sellers[in.ID] = in
	s.byUsername[key] = in.ID
	return in, nil
}

func (s *MemoryStore) SellerByUsername(ctx context.Context, username string) (Seller, error) {
	if err := ctx.Err(); err != nil {
		return Seller{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byUsername[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return Seller{}, ErrNotFound
	}
	return s.sellers[id], nil
}

func (s *MemoryStore) Seller(ctx context.Context, id int64) (Seller, error) {
	if err := ctx.Err(); err != nil {
		return Seller{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sel, ok := s.sellers[id]
	if !ok {
		return Seller{}, ErrNotFound
	}
	return sel, nil
}

func (s *MemoryStore) CreateOrder(ctx context.Context, sellerID int64, in NewOrderInput) (v1.Order, error) {
	if err := ctx.Err(); err != nil {
		return v1.Order{}, err
	}
	status := in.Status
	if status == "" {
		status = v1.OrderPendingApproval
	}
	if !v1.ValidOrderStatus(status) {
		return v1.Order{}, fmt.Errorf("%w: status %q", ErrInvalidInput, status)
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sellers[sellerID]; !ok {
		return v1.Order{}, ErrNotFound
	}
	s.nextOrder++
	cust := in.Customer
	o := v1.Order{
		ID:                  s.nextOrder,
		Customer:            &cust,
		Status:              status,
		TotalAmount:         in.TotalAmount,
		DeliveryOption:      in.DeliveryOption,
		DeliveryAddressText: in.Address,
		CreatedAt:           now,
	}
	if cust.Name != nil {
		o.CustomerName = *cust.Name
	}
	s.orders[sellerID] = append(s.orders[sellerID], o)
	return o, nil
}

func (s *MemoryStore) Orders(ctx context.Context, sellerID int64) ([]v1.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.orders[sellerID]
	out := make([]v1.Order, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		out = append(out, src[i])
	}
	return out, nil
}

func (s *MemoryStore) UpdateOrderStatus(ctx context.Context, sellerID, orderID int64, status string, now time.Time) (v1.Order, error) {
	if err := ctx.Err(); err != nil {
		return v1.Order{}, err
	}
	if !v1.ValidOrderStatus(status) {
		return v1.Order{}, fmt.Errorf("%w: status %q", ErrInvalidInput, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := s.orders[sellerID]
	for i := range orders {
		if orders[i].ID == orderID {
			orders[i].Status = status
			ts := now
			orders[i].UpdatedAt = &ts
			return orders[i], nil
		}
	}
	return v1.Order{}, ErrNotFound
}

func (s *MemoryStore) ConversationFor(ctx context.Context, sellerID int64, customer v1.Customer, now time.Time) (v1.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return v1.Conversation{}, err
	}
	phone := strings.TrimSpace(customer.PhoneNumber)
	if phone == "" {
		return v1.Conversation{}, fmt.Errorf("%w: customer phone number", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sellers[sellerID]; !ok {
		return v1.Conversation{}, ErrNotFound
	}
	for _, c := range s.convs {
		if c.sellerID == sellerID && c.conv.Customer.PhoneNumber == phone {
			return c.conv, nil
		}
	}
	s.nextConv++
	customer.PhoneNumber = phone
	c := &memConv{
		sellerID: sellerID,
		conv: v1.Conversation{
			ID:        s.nextConv,
			Customer:  customer,
			State:     "open",
			UpdatedAt: now,
		},
	}
	s.convs[c.conv.ID] = c
	return c.conv, nil
}

func (s *MemoryStore) Conversations(ctx context.Context, sellerID int64) ([]v1.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]v1.Conversation, 0)
	for _, c := range s.convs {
		if c.sellerID == sellerID {
			out = append(out, c.conv)
		}
	}
	slices.SortFunc(out, func(a, b v1.Conversation) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

func (s *MemoryStore) Messages(ctx context.Context, sellerID, conversationID int64) ([]v1.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok || c.sellerID != sellerID {
		return nil, ErrNotFound
	}
	return slices.Clone(c.msgs), nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, in AppendMessageInput) (v1.Message, error) {
	if err := ctx.Err(); err != nil {
		return v1.Message{}, err
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return v1.Message{}, fmt.Errorf("%w: empty content", ErrInvalidInput)
	}
	switch in.Sender {
	case v1.SenderCustomer, v1.SenderSeller, v1.SenderBot:
	default:
		return v1.Message{}, fmt.Errorf("%w: sender %q", ErrInvalidInput, in.Sender)
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[in.ConversationID]
	if !ok || c.sellerID != in.SellerID {
		return v1.Message{}, ErrNotFound
	}
	s.nextMsg++
	m := v1.Message{
		ID:           s.nextMsg,
		Conversation: c.conv.ID,
		Sender:       in.Sender,
		Content:      content,
		Timestamp:    now,
	}
	c.msgs = append(c.msgs, m)
	if len(c.msgs) > memMaxMessagesPerConversation {
		c.msgs = slices.Clone(c.msgs[len(c.msgs)-memMaxMessagesPerConversation:])
	}
	last := m
	c.conv.LastMessage = &last
	c.conv.UpdatedAt = now
	return m, nil
}
