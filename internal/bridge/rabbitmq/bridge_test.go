package rabbitmq

import (
	"errors"
	"testing"

	"github.com/fkabongo/eventlogclient/client"
)

func TestConfigValidateRequiresFields(t *testing.T) {
	base := Config{URL: "amqp://localhost", Exchange: "events", Queue: "q", PrefetchCount: 1, Workers: 1, DeliveryQueue: 1}
	if err := base.validate(); err != nil {
		t.Fatal(err)
	}

	missingURL := base
	missingURL.URL = ""
	if err := missingURL.validate(); err == nil {
		t.Fatal("expected error for missing url")
	}

	missingExchange := base
	missingExchange.Exchange = ""
	if err := missingExchange.validate(); err == nil {
		t.Fatal("expected error for missing exchange")
	}

	missingQueue := base
	missingQueue.Queue = ""
	if err := missingQueue.validate(); err == nil {
		t.Fatal("expected error for missing queue")
	}

	badPrefetch := base
	badPrefetch.PrefetchCount = 0
	if err := badPrefetch.validate(); err == nil {
		t.Fatal("expected error for prefetch_count < 1")
	}

	badWorkers := base
	badWorkers.Workers = 0
	if err := badWorkers.validate(); err == nil {
		t.Fatal("expected error for workers < 1")
	}

	badQueue := base
	badQueue.DeliveryQueue = 0
	if err := badQueue.validate(); err == nil {
		t.Fatal("expected error for delivery_queue < 1")
	}
}

func TestParseEventIDGeneratesWhenEmpty(t *testing.T) {
	id, err := parseEventID("")
	if err != nil {
		t.Fatal(err)
	}
	if id.String() == "" {
		t.Fatal("expected a generated id")
	}
}

func TestParseEventIDRejectsMalformed(t *testing.T) {
	if _, err := parseEventID("not-a-uuid"); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseEnvelopeRequiresStream(t *testing.T) {
	if _, err := parseEnvelope([]byte(`{"event_type":"Deposited"}`)); err == nil {
		t.Fatal("expected error for missing stream")
	}
}

func TestParseEnvelopeDecodesFields(t *testing.T) {
	e, err := parseEnvelope([]byte(`{"stream":"orders-1","event_id":"","event_type":"Deposited","data":{"amount":1}}`))
	if err != nil {
		t.Fatal(err)
	}
	if e.Stream != "orders-1" || e.EventType != "Deposited" {
		t.Fatalf("got %+v", e)
	}
}

func TestParseEnvelopeRejectsMalformedJSON(t *testing.T) {
	if _, err := parseEnvelope([]byte(`not json`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestIsRetryableMatchesTransientClientErrors(t *testing.T) {
	for _, err := range []error{client.ErrConnectionLost, client.ErrOperationTimedOut, client.ErrRetriesExhausted} {
		if !isRetryable(err) {
			t.Fatalf("expected %v to be retryable", err)
		}
	}
}

func TestIsRetryableRejectsPermanentErrors(t *testing.T) {
	for _, err := range []error{client.ErrBadRequest, client.ErrStreamDeleted, errors.New("plain")} {
		if isRetryable(err) {
			t.Fatalf("expected %v to be non-retryable", err)
		}
	}
}
