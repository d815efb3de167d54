package sellerapi

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/BonfaceGabriel/chapchat/cmd/internal/ids"
	v1 "github.com/BonfaceGabriel/chapchat/shared/contracts/realtime/v1"
)

// subscriber is one connected inbox websocket.
//
// send is never closed by the inbox so a concurrent Publish cannot panic;
// done signals the connection goroutines to stop.
type subscriber struct {
	id       string
	sellerID int64
	send     chan []byte

	done      chan struct{}
	closeOnce sync.Once
	expired   atomic.Bool
}

func newSubscriber(id string, sellerID int64, queue int) *subscriber {
	if queue <= 0 {
		queue = 64
	}
	return &subscriber{
		id:       id,
		sellerID: sellerID,
		send:     make(chan []byte, queue),
		done:     make(chan struct{}),
	}
}

func (s *subscriber) Done() <-chan struct{} { return s.done }

func (s *subscriber) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// expire marks the subscriber's credential as no longer accepted and stops it.
func (s *subscriber) expire() {
	s.expired.Store(true)
	s.close()
}

type feed struct {
	seq     int64
	backlog [][]byte // encoded frames, oldest first
	subs    map[string]*subscriber
}

// Inbox sequences per-seller frames and fans them out to connected subscribers.
// Fanout never blocks: a full subscriber queue drops the frame for that subscriber.
type Inbox struct {
	log     *slog.Logger
	backlog int
	replay  int

	mu    sync.Mutex
	feeds map[int64]*feed

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewInbox retains backlog frames per seller and replays the newest replay of
// them to every new subscriber.
func NewInbox(log *slog.Logger, backlog, replay int) *Inbox {
	if log == nil {
		log = slog.Default()
	}
	if backlog <= 0 {
		backlog = 256
	}
	replay = min(max(replay, 0), backlog)
	return &Inbox{
		log:     log,
		backlog: backlog,
		replay:  replay,
		feeds:   make(map[int64]*feed),
	}
}

func (in *Inbox) feedLocked(sellerID int64) *feed {
	f := in.feeds[sellerID]
	if f == nil {
		f = &feed{subs: make(map[string]*subscriber)}
		in.feeds[sellerID] = f
	}
	return f
}

// Publish stamps the next sequence number for sellerID onto a {type, seq, id,
// payload} frame, retains it and fans it out.
func (in *Inbox) Publish(sellerID int64, kind string, payload any) (v1.Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return v1.Frame{}, err
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	f := in.feedLocked(sellerID)
	seq := f.seq + 1
	frame := v1.Frame{Type: kind, Seq: &seq, ID: ids.Next(), Payload: raw}
	b, err := json.Marshal(frame)
	if err != nil {
		return v1.Frame{}, err
	}
	f.seq = seq

	f.backlog = append(f.backlog, b)
	if over := len(f.backlog) - in.backlog; over > 0 {
		f.backlog = append([][]byte(nil), f.backlog[over:]...)
	}

	delivered := 0
	for _, s := range f.subs {
		if in.deliver(s, b) {
			delivered++
		}
	}
	in.published.Add(1)
	in.log.Debug("inbox.publish", "seller_id", sellerID, "type", kind, "seq", seq, "delivered", delivered)
	return frame, nil
}

// deliver enqueues b for s without blocking.
func (in *Inbox) deliver(s *subscriber, b []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- b:
		return true
	default:
		in.dropped.Add(1)
		return false
	}
}

// join registers s and queues the backlog tail in the same critical section,
// so no frame falls between the replay and live fanout.
func (in *Inbox) join(s *subscriber) int {
	in.mu.Lock()
	defer in.mu.Unlock()

	f := in.feedLocked(s.sellerID)
	tail := f.backlog[max(0, len(f.backlog)-in.replay):]
	for _, b := range tail {
		in.deliver(s, b)
	}
	f.subs[s.id] = s
	return len(tail)
}

// leave removes s from fanout, then stops it.
func (in *Inbox) leave(s *subscriber) {
	in.mu.Lock()
	if f := in.feeds[s.sellerID]; f != nil {
		delete(f.subs, s.id)
	}
	in.mu.Unlock()
	s.close()
}

// Expire stops every connection of sellerID; each is closed with the
// unauthorized close code. It returns how many connections were affected.
func (in *Inbox) Expire(sellerID int64) int {
	in.mu.Lock()
	var subs []*subscriber
	if f := in.feeds[sellerID]; f != nil {
		for _, s := range f.subs {
			subs = append(subs, s)
		}
	}
	in.mu.Unlock()

	for _, s := range subs {
		s.expire()
	}
	if len(subs) > 0 {
		in.log.Info("inbox.expire", "seller_id", sellerID, "connections", len(subs))
	}
	return len(subs)
}

// Connected returns the number of live subscribers for sellerID.
func (in *Inbox) Connected(sellerID int64) int {
	in.mu.Lock()
	defer in.mu.Unlock()
	if f := in.feeds[sellerID]; f != nil {
		return len(f.subs)
	}
	return 0
}

// Seq returns the last sequence number assigned for sellerID.
func (in *Inbox) Seq(sellerID int64) int64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	if f := in.feeds[sellerID]; f != nil {
		return f.seq
	}
	return 0
}
