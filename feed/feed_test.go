package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

func TestBrokerScopedDelivery(t *testing.T) {
	b := NewBroker()
	ctx := context.Background()

	var mu sync.Mutex
	var got []string
	unsub, err := b.Subscribe(ctx, "board-1", func(ev domain.Event) {
		mu.Lock()
		got = append(got, ev.Item.ID)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := b.Publish(ctx, domain.Event{Kind: domain.ItemCreated, Scope: "board-1", Item: domain.Item{ID: "a"}}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := b.Publish(ctx, domain.Event{Kind: domain.ItemCreated, Scope: "board-2", Item: domain.Item{ID: "b"}}); err != nil {
		t.Fatalf("publish other scope: %v", err)
	}

	mu.Lock()
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("unexpected deliveries: %v", got)
	}
	mu.Unlock()

	unsub()
	if err := b.Publish(ctx, domain.Event{Kind: domain.ItemCreated, Scope: "board-1", Item: domain.Item{ID: "c"}}); err != nil {
		t.Fatalf("publish after unsubscribe: %v", err)
	}
	mu.Lock()
	if len(got) != 1 {
		t.Fatalf("event delivered after unsubscribe: %v", got)
	}
	mu.Unlock()
}

func newTestRedisFeed(t *testing.T) *RedisFeed {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisFeed(client, nil, log.New())
}

func TestRedisFeedPublishSubscribe(t *testing.T) {
	f := newTestRedisFeed(t)
	ctx := context.Background()

	events := make(chan domain.Event, 4)
	unsub, err := f.Subscribe(ctx, "board-1", func(ev domain.Event) { events <- ev })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(unsub)

	want := domain.Event{
		Kind:  domain.ItemMoved,
		Scope: "board-1",
		Item:  domain.Item{ID: "t1", Scope: "board-1", Bucket: domain.BucketTodo, Position: 50, Version: 7},
	}
	if err := f.Publish(ctx, want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-events:
		if got.Kind != want.Kind || got.Item.ID != want.Item.ID || got.Item.Version != want.Item.Version {
			t.Fatalf("unexpected event: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestRedisFeedUnsubscribeDetaches(t *testing.T) {
	f := newTestRedisFeed(t)
	ctx := context.Background()

	events := make(chan domain.Event, 4)
	unsub, err := f.Subscribe(ctx, "board-1", func(ev domain.Event) { events <- ev })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	unsub()

	if err := f.Publish(ctx, domain.Event{Kind: domain.ItemCreated, Scope: "board-1", Item: domain.Item{ID: "x"}}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case ev := <-events:
		t.Fatalf("event delivered after unsubscribe: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
