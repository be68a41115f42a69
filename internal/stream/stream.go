package stream

import (
	"context"
	"sync"
	"time"

	"grantline.org/internal/ledger"
)

// AccessEvent describes one audit trail append for live consumers.
type AccessEvent struct {
	AccessID  uint64           `json:"access_id"`
	Owner     ledger.Principal `json:"owner"`
	Accessor  ledger.Principal `json:"accessor"`
	Category  ledger.Category  `json:"category"`
	Purpose   string           `json:"purpose"`
	Height    ledger.Height    `json:"height"`
	Timestamp time.Time        `json:"timestamp"`
}

// Stream fan-outs access events to all active subscribers (SSE clients,
// external indexers). It is the designated consumption point for anyone who
// needs per-participant history, which the ledger itself does not index.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan AccessEvent
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{
		subs: make(map[int]chan AccessEvent),
	}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan AccessEvent {
	ch := make(chan AccessEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt AccessEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// EventFromRecord builds the published view of an audit trail entry.
func EventFromRecord(rec ledger.AccessRecord) AccessEvent {
	return AccessEvent{
		AccessID:  rec.ID,
		Owner:     rec.Owner,
		Accessor:  rec.Accessor,
		Category:  rec.Category,
		Purpose:   rec.Purpose,
		Height:    rec.RecordedAt,
		Timestamp: rec.CreatedAt,
	}
}
