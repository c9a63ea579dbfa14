package projector

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fkabongo/eventlogclient/client"
)

func openTestProjector(t *testing.T) *Projector {
	t.Helper()
	path := filepath.Join(t.TempDir(), "projection.db")
	p, err := Open(path, "orders-1")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestCheckpointStartsAtMinusOne(t *testing.T) {
	p := openTestProjector(t)
	cp, err := p.Checkpoint(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if cp != -1 {
		t.Fatalf("got %d", cp)
	}
}

func TestApplyAdvancesCheckpointMonotonically(t *testing.T) {
	p := openTestProjector(t)
	ctx := context.Background()

	for _, n := range []int64{0, 1, 2} {
		ev := client.ResolvedEvent{Inner: client.EventRecord{
			EventNumber: n,
			EventID:     uuid.New(),
			EventType:   "Deposited",
			Data:        []byte(`{}`),
			CreatedAt:   time.Now(),
		}}
		if err := p.apply(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	cp, err := p.Checkpoint(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cp != 2 {
		t.Fatalf("got %d", cp)
	}
}

func TestApplyIgnoresOutOfOrderRewind(t *testing.T) {
	p := openTestProjector(t)
	ctx := context.Background()

	apply := func(n int64) {
		ev := client.ResolvedEvent{Inner: client.EventRecord{
			EventNumber: n,
			EventID:     uuid.New(),
			EventType:   "Deposited",
			Data:        []byte(`{}`),
			CreatedAt:   time.Now(),
		}}
		if err := p.apply(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	apply(5)
	apply(2) // arrives late/out of order: checkpoint must not regress

	cp, err := p.Checkpoint(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cp != 5 {
		t.Fatalf("checkpoint regressed to %d", cp)
	}
}

func TestApplyIsIdempotentForRepeatedEventNumber(t *testing.T) {
	p := openTestProjector(t)
	ctx := context.Background()

	ev := client.ResolvedEvent{Inner: client.EventRecord{
		EventNumber: 0,
		EventID:     uuid.New(),
		EventType:   "Deposited",
		Data:        []byte(`{"amount":1}`),
		CreatedAt:   time.Now(),
	}}
	if err := p.apply(ctx, ev); err != nil {
		t.Fatal(err)
	}
	// Same event number delivered again (e.g. reconnect replay) must
	// not error and must not change the stored row.
	if err := p.apply(ctx, ev); err != nil {
		t.Fatal(err)
	}

	var count int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM projected_events WHERE stream_id = ? AND event_number = 0`, p.streamID).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("got %d rows", count)
	}
}
