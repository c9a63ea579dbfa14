package resolver

import (
	"context"
	"testing"
)

func TestStaticAlwaysReturnsSameEndpoint(t *testing.T) {
	s := NewStatic("db.internal", 1113)
	for i := 0; i < 3; i++ {
		ep, err := s.NextEndpoint(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if ep.Host != "db.internal" || ep.Port != 1113 {
			t.Fatalf("got %+v", ep)
		}
	}
	s.MarkFailed(Endpoint{Host: "db.internal", Port: 1113})
	s.MarkReachable(Endpoint{Host: "db.internal", Port: 1113})
}
