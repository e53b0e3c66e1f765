package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"halflife-tracker/internal/bus"
	"halflife-tracker/internal/events"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func startConsumer(t *testing.T, c *Consumer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := c.Run(ctx); err != nil {
			t.Errorf("consumer run: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-c.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not start consuming")
	}
}

func connectEvent(serverID, steamID, name string, slot int) *events.Event {
	return &events.Event{
		Type:      events.TypePlayerConnect,
		Timestamp: time.Now(),
		ServerID:  serverID,
		Meta: &events.PlayerMeta{
			PlayerName: name,
			GameUserID: slot,
			SteamID:    steamID,
		},
		Data: &events.ConnectData{},
	}
}

func TestConsumerRoutesBusEvents(t *testing.T) {
	log := testLogger(t)
	transport := NewGoChannelTransport(log)
	b := bus.New(log)

	got := make(chan *events.Event, 1)
	b.On(events.TypePlayerConnect, func(ctx context.Context, e *events.Event) error {
		got <- e
		return nil
	})

	c, err := NewConsumer(transport, b, []string{"srv1"}, RetryConfig{}, log)
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	startConsumer(t, c)

	pub := NewPublisher(transport)
	want := connectEvent("srv1", "STEAM_0:1:123456", "TestPlayer", 10)
	if err := pub.Publish(context.Background(), want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case e := <-got:
		if e.ServerID != "srv1" {
			t.Errorf("got serverId %q, want srv1", e.ServerID)
		}
		if e.Meta == nil || e.Meta.PlayerName != "TestPlayer" {
			t.Errorf("got meta %+v, want TestPlayer", e.Meta)
		}
		if !events.ValidEventID(e.EventID) {
			t.Errorf("published event carries malformed eventId %q", e.EventID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("bus handler never invoked")
	}
}

func TestConsumerDeduplicatesByEventID(t *testing.T) {
	log := testLogger(t)
	transport := NewGoChannelTransport(log)
	b := bus.New(log)

	var handled atomic.Int32
	done := make(chan struct{}, 2)
	b.On(events.TypePlayerConnect, func(ctx context.Context, e *events.Event) error {
		handled.Add(1)
		done <- struct{}{}
		return nil
	})

	c, err := NewConsumer(transport, b, []string{"srv1"}, RetryConfig{}, log)
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	startConsumer(t, c)

	pub := NewPublisher(transport)
	e := connectEvent("srv1", "STEAM_0:1:123456", "TestPlayer", 10)
	e.EventID = events.NewEventID()

	for i := 0; i < 2; i++ {
		dup := *e
		if err := pub.Publish(context.Background(), &dup); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("first delivery never handled")
	}
	// The duplicate is acked without invoking anything; give it a moment
	// to prove the negative.
	time.Sleep(200 * time.Millisecond)

	if got := handled.Load(); got != 1 {
		t.Errorf("handler invoked %d times, want 1", got)
	}
}

func TestQueueDirectBypassesBus(t *testing.T) {
	log := testLogger(t)
	transport := NewGoChannelTransport(log)
	b := bus.New(log)

	busCalled := make(chan struct{}, 1)
	b.On(events.TypePlayerKill, func(ctx context.Context, e *events.Event) error {
		busCalled <- struct{}{}
		return nil
	})

	c, err := NewConsumer(transport, b, []string{"srv1"}, RetryConfig{}, log)
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}

	direct := make(chan *events.Event, 1)
	if err := c.RegisterDirect(events.TypePlayerKill, func(ctx context.Context, e *events.Event) error {
		direct <- e
		return nil
	}); err != nil {
		t.Fatalf("RegisterDirect: %v", err)
	}
	startConsumer(t, c)

	pub := NewPublisher(transport)
	kill := &events.Event{
		Type:      events.TypePlayerKill,
		Timestamp: time.Now(),
		ServerID:  "srv1",
		Data: &events.KillData{
			Killer: events.PlayerMeta{PlayerName: "A", GameUserID: 1, SteamID: "STEAM_0:0:1"},
			Victim: events.PlayerMeta{PlayerName: "B", GameUserID: 2, SteamID: "STEAM_0:0:2"},
			Weapon: "ak47",
		},
	}
	if err := pub.Publish(context.Background(), kill); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case e := <-direct:
		if e.Type != events.TypePlayerKill {
			t.Errorf("direct handler got %s, want PLAYER_KILL", e.Type)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("direct handler never invoked")
	}

	select {
	case <-busCalled:
		t.Error("bus handler invoked for a queue-direct event type")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRegisterDirectRejectsBusRoutedTypes(t *testing.T) {
	log := testLogger(t)
	transport := NewGoChannelTransport(log)
	c, err := NewConsumer(transport, bus.New(log), []string{"srv1"}, RetryConfig{}, log)
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	if err := c.RegisterDirect(events.TypePlayerConnect, func(ctx context.Context, e *events.Event) error {
		return nil
	}); err == nil {
		t.Error("expected error registering a bus-routed type as direct")
	}
}

func TestTransientErrorsAreRetried(t *testing.T) {
	log := testLogger(t)
	transport := NewGoChannelTransport(log)
	b := bus.New(log)

	var attempts atomic.Int32
	succeeded := make(chan struct{}, 1)
	b.On(events.TypePlayerConnect, func(ctx context.Context, e *events.Event) error {
		if attempts.Add(1) < 3 {
			return fmt.Errorf("storage hiccup")
		}
		succeeded <- struct{}{}
		return nil
	})

	c, err := NewConsumer(transport, b, []string{"srv1"}, RetryConfig{
		MaxRetries:      5,
		InitialInterval: 10 * time.Millisecond,
	}, log)
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	startConsumer(t, c)

	pub := NewPublisher(transport)
	if err := pub.Publish(context.Background(), connectEvent("srv1", "STEAM_0:1:1", "Flaky", 3)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-succeeded:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never succeeded after retries")
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("handler attempted %d times, want 3", got)
	}
}

func TestPermanentFailuresDeadLetter(t *testing.T) {
	log := testLogger(t)
	transport := NewGoChannelTransport(log)

	c, err := NewConsumer(transport, bus.New(log), []string{"srv1"}, RetryConfig{}, log)
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	startConsumer(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poisoned, err := transport.Subscriber.Subscribe(ctx, PoisonTopic)
	if err != nil {
		t.Fatalf("Subscribe poison: %v", err)
	}

	// Malformed payload: unknown event type fails validation, which is
	// permanent and must not redeliver.
	msg := message.NewMessage("bad-1", []byte(`{"eventType":"NO_SUCH_TYPE","timestamp":"2026-01-02T15:04:05Z","serverId":"srv1","data":{}}`))
	if err := transport.Publisher.Publish(Topic("srv1"), msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case dead := <-poisoned:
		dead.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("permanently failing message never reached the poison topic")
	}
}

func TestIsQueueDirect(t *testing.T) {
	directTypes := []events.Type{events.TypePlayerKill, events.TypeWeaponFire, events.TypeWeaponHit}
	for _, tt := range directTypes {
		if !IsQueueDirect(tt) {
			t.Errorf("IsQueueDirect(%s) = false, want true", tt)
		}
	}
	for _, tt := range events.AllTypes {
		isDirect := false
		for _, d := range directTypes {
			if tt == d {
				isDirect = true
			}
		}
		if IsQueueDirect(tt) != isDirect {
			t.Errorf("IsQueueDirect(%s) = %v, want %v", tt, IsQueueDirect(tt), isDirect)
		}
	}
}
