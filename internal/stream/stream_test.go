package stream

import (
	"context"
	"testing"
	"time"

	"grantline.org/internal/ledger"
)

func TestPublishReachesSubscribers(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.Subscribe(ctx)

	evt := EventFromRecord(ledger.AccessRecord{
		ID:       3,
		Owner:    "alice",
		Accessor: "bob",
		Category: ledger.CategoryDocument,
		Purpose:  "routine read",
	})
	s.Publish(evt)

	select {
	case got := <-ch:
		if got.AccessID != 3 || got.Owner != "alice" {
			t.Fatalf("unexpected event: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSubscribeClosesOnContextEnd(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	cancel()

	select {
	case _, open := <-ch:
		if open {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel was not closed")
	}

	// Publishing after unsubscribe must not panic or block.
	s.Publish(AccessEvent{AccessID: 1})
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Subscribe(ctx)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Publish(AccessEvent{AccessID: uint64(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
