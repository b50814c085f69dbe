package message

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/MimeLyc/live-caption-translator/internal/errs"
)

// Handler answers one request. Returning a nil Reply is the same as NoReply.
type Handler func(ctx context.Context, msg Message) (Reply, error)

var (
	ErrSubscriberExists   = errors.New("subscriber id already exists")
	ErrSubscriberNotFound = errors.New("subscriber id not found")
	ErrBusClosed          = errors.New("bus is closed")
)

// Requester delivers a message to its registered handler and returns the reply.
type Requester interface {
	Request(ctx context.Context, msg Message) (Reply, error)
}

// Sender is what scrapers talk to: it fans the message out to subscribers and
// delivers it to the handler.
type Sender interface {
	Send(ctx context.Context, msg Message) (Reply, error)
}

// Publisher fans a message out without expecting a reply.
type Publisher interface {
	Publish(msg Message)
}

type BusStats struct {
	TotalPublished uint64
	TotalSent      uint64
	TotalDropped   uint64
	Subscribers    map[string]SubscriberStats
}

type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

type subscriberStats struct {
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Bus routes request messages to one handler per kind and fans broadcast
// messages out to subscriber channels. Publishing never blocks: a subscriber
// whose channel is full misses the message.
type Bus struct {
	mu          sync.RWMutex
	handlers    map[Kind]Handler
	fallback    Handler
	subscribers map[string]chan<- Message
	stats       map[string]*subscriberStats
	closed      bool

	totalPublished atomic.Uint64
}

func NewBus() *Bus {
	return &Bus{
		handlers:    make(map[Kind]Handler),
		subscribers: make(map[string]chan<- Message),
		stats:       make(map[string]*subscriberStats),
	}
}

// Handle registers h for kind, replacing any previous handler.
func (b *Bus) Handle(kind Kind, h Handler) {
	b.mu.Lock()
	b.handlers[kind] = h
	b.mu.Unlock()
}

// HandleUnknown registers the handler used for kinds without their own.
func (b *Bus) HandleUnknown(h Handler) {
	b.mu.Lock()
	b.fallback = h
	b.mu.Unlock()
}

func (b *Bus) Request(ctx context.Context, msg Message) (Reply, error) {
	b.mu.RLock()
	closed := b.closed
	h, ok := b.handlers[msg.Kind()]
	if !ok {
		h = b.fallback
	}
	b.mu.RUnlock()

	if closed {
		return nil, errs.Wrap(ErrBusClosed, errs.ErrChannel, "request dropped").
			WithContext("kind", msg.Kind())
	}
	if h == nil {
		return nil, errs.New(errs.ErrChannel, "no receiver registered").
			WithContext("kind", msg.Kind())
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err, errs.ErrChannel, "request cancelled").
			WithContext("kind", msg.Kind())
	}

	reply, err := h(ctx, msg)
	if err != nil {
		return nil, err
	}
	if reply == nil {
		reply = NoReply
	}
	return reply, nil
}

func (b *Bus) Send(ctx context.Context, msg Message) (Reply, error) {
	b.Publish(msg)
	return b.Request(ctx, msg)
}

func (b *Bus) Subscribe(id string, ch chan<- Message) error {
	if ch == nil {
		return errors.New("subscriber channel cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}
	b.subscribers[id] = ch
	b.stats[id] = &subscriberStats{}
	return nil
}

func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; !exists {
		return ErrSubscriberNotFound
	}
	delete(b.subscribers, id)
	delete(b.stats, id)
	return nil
}

func (b *Bus) Publish(msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.totalPublished.Add(1)

	for id, ch := range b.subscribers {
		select {
		case ch <- msg:
			b.stats[id].sent.Add(1)
		default:
			b.stats[id].dropped.Add(1)
		}
	}
}

func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := BusStats{
		TotalPublished: b.totalPublished.Load(),
		Subscribers:    make(map[string]SubscriberStats, len(b.stats)),
	}
	for id, s := range b.stats {
		sent, dropped := s.sent.Load(), s.dropped.Load()
		stats.Subscribers[id] = SubscriberStats{Sent: sent, Dropped: dropped}
		stats.TotalSent += sent
		stats.TotalDropped += dropped
	}
	return stats
}

// Close rejects further requests and subscriptions. Subscriber channels are
// owned by their subscribers and are not closed.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	b.closed = true
	b.subscribers = make(map[string]chan<- Message)
	b.stats = make(map[string]*subscriberStats)
	return nil
}
