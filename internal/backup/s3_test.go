package backup

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fkabongo/eventlogclient/client"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.withDefaults()
	if cfg.BatchSize != 500 {
		t.Fatalf("got batch size %d", cfg.BatchSize)
	}
	if cfg.FlushInterval != 30*time.Second {
		t.Fatalf("got flush interval %v", cfg.FlushInterval)
	}
}

func TestObjectKeyLayout(t *testing.T) {
	a := &Archiver{cfg: Config{Prefix: "backups/"}}
	at := time.Date(2026, 8, 3, 12, 30, 0, 0, time.UTC)
	key := a.objectKey(record{Stream: "orders-1", EventNumber: 7}, at)
	want := "backups/orders-1/20260803T123000-7.ndjson"
	if key != want {
		t.Fatalf("got %q want %q", key, want)
	}
}

func TestOnEventSignalsFlushAtBatchSize(t *testing.T) {
	a := &Archiver{
		cfg:     Config{BatchSize: 2},
		done:    make(chan struct{}),
		flushed: make(chan struct{}, 1),
	}
	a.OnEvent(client.ResolvedEvent{Inner: client.EventRecord{EventID: uuid.New()}})
	select {
	case <-a.flushed:
		t.Fatal("should not signal flush before batch is full")
	default:
	}
	a.OnEvent(client.ResolvedEvent{Inner: client.EventRecord{EventID: uuid.New()}})
	select {
	case <-a.flushed:
	default:
		t.Fatal("expected flush signal once batch size is reached")
	}
}
