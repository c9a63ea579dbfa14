package client

import (
	"errors"
	"testing"

	"github.com/fkabongo/eventlogclient/internal/dispatch"
)

// A Submit failure returns the dispatcher's own sentinel errors
// directly (client.go never wraps or translates them), so callers
// checking errors.Is against the client package's exported sentinels
// only see a match if those sentinels are the very same values.
func TestOperationErrorSentinelsMatchDispatcherValues(t *testing.T) {
	if !errors.Is(dispatch.ErrOperationTimedOut, ErrOperationTimedOut) {
		t.Fatal("client.ErrOperationTimedOut must match dispatch.ErrOperationTimedOut")
	}
	if !errors.Is(dispatch.ErrConnectionLost, ErrConnectionLost) {
		t.Fatal("client.ErrConnectionLost must match dispatch.ErrConnectionLost")
	}
	if !errors.Is(dispatch.ErrRetriesExhausted, ErrRetriesExhausted) {
		t.Fatal("client.ErrRetriesExhausted must match dispatch.ErrRetriesExhausted")
	}
}
