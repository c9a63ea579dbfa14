package client_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fkabongo/eventlogclient/client"
	"github.com/fkabongo/eventlogclient/internal/config"
	"github.com/fkabongo/eventlogclient/internal/faketest"
)

func startTestClient(t *testing.T) (*client.Client, *faketest.Server) {
	t.Helper()
	srv := faketest.NewServer()
	addr, err := srv.Start("")
	if err != nil {
		t.Fatalf("start fake server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	cfg := config.Default()
	cfg.Address = addr
	cfg.ConnectionTimeout = 2 * time.Second
	cfg.Operation.Timeout = 2 * time.Second

	c, err := client.New(cfg, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	t.Cleanup(c.Close)
	return c, srv
}

func TestAppendThenReadStreamForward(t *testing.T) {
	c, _ := startTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := []client.EventData{
		client.NewEventData("order_placed", []byte(`{"n":1}`)),
		client.NewEventData("order_shipped", []byte(`{"n":2}`)),
	}
	res, err := c.AppendToStream(ctx, "orders-1", client.NoStream(), events)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if res.NextExpectedVersion != 1 {
		t.Fatalf("expected next version 1, got %d", res.NextExpectedVersion)
	}

	slice, err := c.ReadStreamEventsForward(ctx, "orders-1", 0, 10, nil)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(slice.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(slice.Events))
	}
	if slice.Events[0].Inner.EventType != "order_placed" || slice.Events[1].Inner.EventType != "order_shipped" {
		t.Fatalf("unexpected event order: %+v", slice.Events)
	}
	if !slice.IsEndOfStream {
		t.Fatalf("expected end of stream")
	}
}

func TestAppendWrongExpectedVersion(t *testing.T) {
	c, _ := startTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.AppendToStream(ctx, "orders-2", client.NoStream(), []client.EventData{client.NewEventData("e", nil)})
	if err != nil {
		t.Fatalf("first append: %v", err)
	}
	_, err = c.AppendToStream(ctx, "orders-2", client.NoStream(), []client.EventData{client.NewEventData("e", nil)})
	if err == nil {
		t.Fatalf("expected wrong-expected-version error on second NoStream append")
	}
}

type recordingObserver struct {
	mu      sync.Mutex
	events  []client.ResolvedEvent
	live    chan struct{}
	dropped *client.SubscriptionDroppedError
	liveOnce sync.Once
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{live: make(chan struct{})}
}

func (o *recordingObserver) OnEvent(ev client.ResolvedEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func (o *recordingObserver) OnLiveProcessingStart() {
	o.liveOnce.Do(func() { close(o.live) })
}

func (o *recordingObserver) OnDropped(err *client.SubscriptionDroppedError) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped = err
}

func (o *recordingObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.events)
}

func TestCatchUpSubscriptionSeesPastAndLiveEvents(t *testing.T) {
	c, _ := startTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := c.AppendToStream(ctx, "orders-3", client.Any(), []client.EventData{client.NewEventData("past", nil)}); err != nil {
		t.Fatalf("seed append: %v", err)
	}

	obs := newRecordingObserver()
	sub := c.SubscribeCatchUpStream("orders-3", -1, nil, obs)
	defer sub.Close()

	select {
	case <-obs.live:
	case <-time.After(4 * time.Second):
		t.Fatal("timed out waiting for live processing start")
	}

	if _, err := c.AppendToStream(ctx, "orders-3", client.Any(), []client.EventData{client.NewEventData("live", nil)}); err != nil {
		t.Fatalf("live append: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && obs.count() < 2 {
		time.Sleep(10 * time.Millisecond)
	}
	if obs.count() != 2 {
		t.Fatalf("expected 2 events (past+live), got %d", obs.count())
	}
}

func TestVolatileSubscriptionOnlySeesLiveEvents(t *testing.T) {
	c, _ := startTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := c.AppendToStream(ctx, "orders-4", client.Any(), []client.EventData{client.NewEventData("before", nil)}); err != nil {
		t.Fatalf("seed append: %v", err)
	}

	obs := newRecordingObserver()
	sub := c.SubscribeVolatile("orders-4", nil, obs)
	defer sub.Close()

	select {
	case <-obs.live:
	case <-time.After(4 * time.Second):
		t.Fatal("timed out waiting for subscription to start")
	}

	if _, err := c.AppendToStream(ctx, "orders-4", client.Any(), []client.EventData{client.NewEventData("after", nil)}); err != nil {
		t.Fatalf("live append: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && obs.count() < 1 {
		time.Sleep(10 * time.Millisecond)
	}
	if obs.count() != 1 {
		t.Fatalf("expected exactly 1 live event, got %d", obs.count())
	}
}
