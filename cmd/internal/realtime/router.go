package realtime

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/BonfaceGabriel/chapchat/cmd/internal/ids"
	"github.com/BonfaceGabriel/chapchat/cmd/internal/metrics"
)

var (
	// ErrRouterClosed is returned by Next after Router.Close.
	ErrRouterClosed = errors.New("router closed")
	// ErrSubscriptionClosed is returned by Next after Subscription.Close.
	ErrSubscriptionClosed = errors.New("subscription closed")
)

// RouterConfig sizes the router. Zero values use the defaults.
type RouterConfig struct {
	// Window is how many recent identities are remembered for dedup.
	Window int
	// LogSize is how many delivered events are retained for subscribers.
	LogSize int
}

// Router deduplicates and orders inbound events and fans them out to subscribers.
//
// Accepted events are appended to a bounded log. Each subscription reads the
// log through its own cursor, so subscribers never block Publish and each sees
// events in publish order.
type Router struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	gen    uint64
	win    *window
	maxSeq int64
	buf    []InboundEvent
	head   uint64 // absolute index of the next append
	notify chan struct{}
	closed bool
}

// NewRouter constructs a Router.
func NewRouter(cfg RouterConfig, log *slog.Logger, m *metrics.Metrics) *Router {
	if log == nil {
		log = slog.Default()
	}
	if cfg.LogSize <= 0 {
		cfg.LogSize = eventLogCap
	}
	return &Router{
		log:     log,
		metrics: m,
		win:     newWindow(cfg.Window),
		buf:     make([]InboundEvent, cfg.LogSize),
		notify:  make(chan struct{}),
	}
}

// Publish offers ev to the router. It reports whether ev was delivered.
//
// Events of an older generation are dropped. The first event of a newer
// generation resets dedup state. Within a generation an event is dropped when
// its identity is in the window or its seq is not above the highest seq seen.
func (r *Router) Publish(ev InboundEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	if ev.Kind == "" {
		r.dropLocked(ev, "invalid")
		return false
	}

	switch {
	case ev.Generation < r.gen:
		r.dropLocked(ev, "stale")
		return false
	case ev.Generation > r.gen:
		r.gen = ev.Generation
		r.win.reset()
		r.maxSeq = 0
	}

	if ev.Identity != "" && r.win.seen(ev.Identity) {
		r.dropLocked(ev, "duplicate")
		return false
	}
	if ev.Seq > 0 && ev.Seq <= r.maxSeq {
		r.dropLocked(ev, "regression")
		return false
	}

	if ev.Identity != "" {
		r.win.add(ev.Identity)
	}
	if ev.Seq > r.maxSeq {
		r.maxSeq = ev.Seq
	}

	r.buf[r.head%uint64(len(r.buf))] = ev
	r.head++
	close(r.notify)
	r.notify = make(chan struct{})

	r.metrics.EventPublished(ev.Kind)
	return true
}

func (r *Router) dropLocked(ev InboundEvent, reason string) {
	r.metrics.EventDropped(reason)
	r.log.Debug("router.drop", "reason", reason, "kind", ev.Kind, "seq", ev.Seq, "identity", ev.Identity, "gen", ev.Generation)
}

// Delivered returns how many events were accepted so far.
func (r *Router) Delivered() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.head
}

// Close wakes all subscribers; Next then drains what is left and returns ErrRouterClosed.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.notify)
}

func (r *Router) tailLocked() uint64 {
	n := uint64(len(r.buf))
	if r.head < n {
		return 0
	}
	return r.head - n
}

// SubscribeOption adjusts a subscription.
type SubscribeOption func(*Subscription)

// FromRetained starts the subscription at the oldest retained event instead
// of the next published one.
func FromRetained() SubscribeOption {
	return func(s *Subscription) { s.replay = true }
}

// Subscribe returns a new subscription to events matching pred (nil matches all).
func (r *Router) Subscribe(pred func(InboundEvent) bool, opts ...SubscribeOption) *Subscription {
	s := &Subscription{
		ID:   ids.Next(),
		r:    r,
		pred: pred,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	r.mu.Lock()
	s.cursor = r.head
	if s.replay {
		s.cursor = r.tailLocked()
	}
	r.mu.Unlock()
	return s
}

// Subscription is one subscriber's position in the router's event log.
// Next must not be called concurrently on the same subscription.
type Subscription struct {
	ID string

	r      *Router
	pred   func(InboundEvent) bool
	replay bool
	cursor uint64
	missed atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once
}

// Next blocks until the next matching event, ctx is done, or the subscription
// or router is closed.
func (s *Subscription) Next(ctx context.Context) (InboundEvent, error) {
	for {
		select {
		case <-s.done:
			return InboundEvent{}, ErrSubscriptionClosed
		default:
		}

		ev, ok, wait, err := s.take()
		if err != nil {
			return InboundEvent{}, err
		}
		if ok {
			if s.pred == nil || s.pred(ev) {
				return ev, nil
			}
			continue
		}

		select {
		case <-wait:
		case <-s.done:
			return InboundEvent{}, ErrSubscriptionClosed
		case <-ctx.Done():
			return InboundEvent{}, ctx.Err()
		}
	}
}

// take returns the event at the cursor, or the channel to wait on.
func (s *Subscription) take() (InboundEvent, bool, <-chan struct{}, error) {
	r := s.r
	r.mu.Lock()
	defer r.mu.Unlock()

	if tail := r.tailLocked(); s.cursor < tail {
		s.missed.Add(tail - s.cursor)
		s.cursor = tail
	}
	if s.cursor < r.head {
		ev := r.buf[s.cursor%uint64(len(r.buf))]
		s.cursor++
		return ev, true, nil, nil
	}
	if r.closed {
		return InboundEvent{}, false, nil, ErrRouterClosed
	}
	return InboundEvent{}, false, r.notify, nil
}

// All yields matching events until ctx is done or the subscription ends.
func (s *Subscription) All(ctx context.Context) iter.Seq[InboundEvent] {
	return func(yield func(InboundEvent) bool) {
		for {
			ev, err := s.Next(ctx)
			if err != nil || !yield(ev) {
				return
			}
		}
	}
}

// Missed reports how many events this subscriber lost by falling behind the retained log.
func (s *Subscription) Missed() uint64 { return s.missed.Load() }

// Close ends the subscription. It is idempotent.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
