package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"evcharge/internal/domain"
)

func TestHub_FanOut(t *testing.T) {
	hub := NewHub(1, nil)
	a, cancelA := hub.Subscribe()
	b, cancelB := hub.Subscribe()
	defer cancelA()

	ev := FromStation(KindBooked, domain.Station{ID: "s1", Status: domain.StatusInUse})
	hub.Publish(context.Background(), ev)

	for _, ch := range []<-chan StationEvent{a, b} {
		select {
		case got := <-ch:
			if got.StationID != "s1" || got.Kind != KindBooked {
				t.Fatalf("unexpected event: %+v", got)
			}
		case <-time.After(time.Second):
			t.Fatalf("expected event")
		}
	}

	cancelB()
	cancelB()
	if hub.Subscribers() != 1 {
		t.Fatalf("expected one subscriber left, got %d", hub.Subscribers())
	}
	if _, ok := <-b; ok {
		t.Fatalf("expected closed channel after cancel")
	}
}

func TestHub_DropsForSlowSubscriber(t *testing.T) {
	hub := NewHub(1, nil)
	ch, cancel := hub.Subscribe()
	defer cancel()

	hub.Publish(context.Background(), StationEvent{StationID: "first"})
	hub.Publish(context.Background(), StationEvent{StationID: "second"})

	got := <-ch
	if got.StationID != "first" {
		t.Fatalf("expected first event kept, got %s", got.StationID)
	}
	select {
	case extra := <-ch:
		t.Fatalf("expected second event dropped, got %+v", extra)
	default:
	}
}

type mockRedisPublisher struct {
	channel string
	payload []byte
	err     error
}

func (m *mockRedisPublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	m.channel = channel
	m.payload, _ = message.([]byte)
	cmd := redis.NewIntCmd(ctx)
	if m.err != nil {
		cmd.SetErr(m.err)
		return cmd
	}
	cmd.SetVal(1)
	return cmd
}

func TestRedisBridge_PublishAndRelay(t *testing.T) {
	hub := NewHub(4, nil)
	ch, cancel := hub.Subscribe()
	defer cancel()
	mock := &mockRedisPublisher{}
	bridge := &RedisBridge{client: mock, hub: hub, logger: zap.NewNop()}
	bridge.subscribed.Store(true)

	ev := StationEvent{Kind: KindReleased, StationID: "s1", Status: domain.StatusAvailable}
	bridge.Publish(context.Background(), ev)
	if mock.channel != Channel {
		t.Fatalf("unexpected channel %q", mock.channel)
	}
	select {
	case got := <-ch:
		t.Fatalf("subscribed bridge must not deliver locally when redis accepts it, got %+v", got)
	default:
	}

	// El mensaje vuelve por la suscripción.
	bridge.relay(context.Background(), string(mock.payload))
	got := <-ch
	if got.StationID != "s1" || got.Status != domain.StatusAvailable {
		t.Fatalf("unexpected relayed event: %+v", got)
	}

	bridge.relay(context.Background(), "{not json")
	select {
	case extra := <-ch:
		t.Fatalf("malformed payload must be dropped, got %+v", extra)
	default:
	}
}

func TestRedisBridge_FallsBackToLocal(t *testing.T) {
	hub := NewHub(4, nil)
	ch, cancel := hub.Subscribe()
	defer cancel()
	bridge := &RedisBridge{client: &mockRedisPublisher{err: errors.New("redis down")}, hub: hub, logger: zap.NewNop()}
	bridge.subscribed.Store(true)

	bridge.Publish(context.Background(), StationEvent{StationID: "s2"})
	got := <-ch
	if got.StationID != "s2" {
		t.Fatalf("expected local delivery, got %+v", got)
	}
	select {
	case extra := <-ch:
		t.Fatalf("expected a single local delivery, got %+v", extra)
	default:
	}
}

func TestFromStation_OmitsHolder(t *testing.T) {
	holder := "account-1"
	ev := FromStation(KindBooked, domain.Station{ID: "s1", Status: domain.StatusInUse, BookedBy: &holder})
	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := fields["booked_by"]; ok {
		t.Fatalf("event must not expose the holder: %s", raw)
	}
	if fields["status"] != "in-use" {
		t.Fatalf("unexpected status in %s", raw)
	}
}

type fakeSubscription struct {
	err  error
	msgs chan *redis.Message
}

func (f *fakeSubscription) Receive(context.Context) (interface{}, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &redis.Subscription{Kind: "subscribe", Channel: Channel, Count: 1}, nil
}

func (f *fakeSubscription) Channel(...redis.ChannelOption) <-chan *redis.Message {
	return f.msgs
}

func (f *fakeSubscription) Close() error { return nil }

func TestRedisBridge_RetriesInitialSubscribe(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(4, nil)
	ch, cancel := hub.Subscribe()
	defer cancel()

	msgs := make(chan *redis.Message, 1)
	var attempts atomic.Int32
	bridge := &RedisBridge{
		client: &mockRedisPublisher{},
		subscribe: func(context.Context) subscription {
			if attempts.Add(1) == 1 {
				return &fakeSubscription{err: errors.New("connection refused")}
			}
			return &fakeSubscription{msgs: msgs}
		},
		newBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
		hub:        hub,
		logger:     zap.NewNop(),
	}

	// Sin suscripción, lo publicado llega en local.
	bridge.Publish(ctx, StationEvent{StationID: "early"})
	select {
	case got := <-ch:
		if got.StationID != "early" {
			t.Fatalf("unexpected event %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected local delivery while unsubscribed")
	}

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- bridge.Run(runCtx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !bridge.Subscribed() {
		if time.Now().After(deadline) {
			t.Fatalf("bridge never subscribed after %d attempts", attempts.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if attempts.Load() < 2 {
		t.Fatalf("expected a retry, got %d attempts", attempts.Load())
	}

	msgs <- &redis.Message{Channel: Channel, Payload: `{"kind":"booked","station_id":"late","status":"in-use"}`}
	select {
	case got := <-ch:
		if got.StationID != "late" || got.Kind != KindBooked {
			t.Fatalf("unexpected relayed event %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected relayed event")
	}

	bridge.Publish(ctx, StationEvent{StationID: "remote"})
	select {
	case extra := <-ch:
		t.Fatalf("subscribed bridge must rely on redis, got %+v", extra)
	default:
	}

	stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("run did not stop")
	}
	if bridge.Subscribed() {
		t.Fatalf("bridge must report unsubscribed after stop")
	}
}
