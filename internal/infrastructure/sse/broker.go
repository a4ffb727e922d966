// Package sse fans persisted turns out to HTTP Server-Sent-Events
// subscribers.
package sse

import (
	"sync"

	"go.uber.org/zap"

	"github.com/vizloop/enginecore/internal/domain/entity"
	"github.com/vizloop/enginecore/internal/domain/service"
)

// DefaultQueueSize is the bounded per-subscriber channel capacity from
// spec.md §5 ("e.g., 64 messages per client").
const DefaultQueueSize = 64

// Subscription is a single SSE client's channel, closed on Unsubscribe.
type Subscription struct {
	ch chan *entity.Turn
	id uint64
}

// C exposes the channel handlers range over to write `data:` lines.
func (s *Subscription) C() <-chan *entity.Turn { return s.ch }

// Broker fans broadcast turns out to every subscriber's bounded channel.
// Unlike the teacher's InMemoryBus (drop-newest when full), a full
// subscriber queue here drops its oldest buffered turn before enqueueing
// the new one, so a client that falls behind always sees the most recent
// state once it catches up rather than getting stuck replaying ancient
// history (spec.md §4.5, scenario S6).
type Broker struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	qsize  int
	log    *zap.Logger
}

var _ service.Broadcaster = (*Broker)(nil)

// New builds a Broker with a fixed per-subscriber queue size.
func New(qsize int, log *zap.Logger) *Broker {
	if qsize <= 0 {
		qsize = DefaultQueueSize
	}
	return &Broker{subs: make(map[uint64]*Subscription), qsize: qsize, log: log}
}

// Subscribe registers a new subscriber and returns its Subscription.
func (b *Broker) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{ch: make(chan *entity.Turn, b.qsize), id: b.nextID}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes and closes a subscriber's channel. Safe to call
// once per Subscription returned by Subscribe.
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Broadcast implements service.Broadcaster: fan turn out to every live
// subscriber, dropping each subscriber's oldest buffered turn if its
// queue is full.
func (b *Broker) Broadcast(turn *entity.Turn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- turn:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- turn:
			default:
				b.log.Warn("subscriber queue still full after drop-oldest", zap.Uint64("sub_id", sub.id))
			}
		}
	}
}

// SubscriberCount reports the number of live subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
