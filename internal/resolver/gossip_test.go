package resolver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGossipReturnsReportedMaster(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]member{
			{Host: "10.0.0.1", Port: 1113, IsMaster: false, Reachable: true},
			{Host: "10.0.0.2", Port: 1113, IsMaster: true, Reachable: true},
		})
	}))
	defer srv.Close()

	g := NewGossip([]string{srv.URL}, time.Minute)
	ep, err := g.NextEndpoint(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ep.Host != "10.0.0.2" || ep.Port != 1113 {
		t.Fatalf("got %+v", ep)
	}
}

func TestGossipFallsBackWithoutReportedMaster(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]member{
			{Host: "10.0.0.1", Port: 1113, IsMaster: false, Reachable: true},
		})
	}))
	defer srv.Close()

	g := NewGossip([]string{srv.URL}, time.Minute)
	ep, err := g.NextEndpoint(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ep.Host != "10.0.0.1" {
		t.Fatalf("got %+v", ep)
	}
}

func TestGossipErrorsWithNoReachableMembers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]member{})
	}))
	defer srv.Close()

	g := NewGossip([]string{srv.URL}, time.Minute)
	if _, err := g.NextEndpoint(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
