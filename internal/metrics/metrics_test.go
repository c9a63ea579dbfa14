package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewDispatcherRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := NewDispatcher(reg)
	if d.InFlight == nil || d.Retries == nil || d.Timeouts == nil {
		t.Fatalf("got %+v", d)
	}
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(mfs) != 3 {
		t.Fatalf("expected 3 registered families, got %d", len(mfs))
	}
}

func TestNewConnectionRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewConnection(reg)
	if c.Reconnects == nil || c.HeartbeatMiss == nil || c.State == nil {
		t.Fatalf("got %+v", c)
	}
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(mfs) != 3 {
		t.Fatalf("expected 3 registered families, got %d", len(mfs))
	}
}
