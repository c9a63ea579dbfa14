package kafka

import "testing"

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.withDefaults()
	if cfg.WorkerCount != 4 || cfg.QueueCapacity != 1024 || cfg.MaxPollRecords != 500 {
		t.Fatalf("got %+v", cfg)
	}
}

func TestConfigValidateRequiresBrokersAndTopics(t *testing.T) {
	if err := (Config{}).validate(); err == nil {
		t.Fatal("expected error for empty config")
	}
	if err := (Config{Brokers: []string{"b:9092"}}).validate(); err == nil {
		t.Fatal("expected error for missing topics")
	}
	if err := (Config{Brokers: []string{"b:9092"}, Topics: []string{"t"}, GroupID: "g"}).validate(); err != nil {
		t.Fatal(err)
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
	e, err := parseEnvelope([]byte(`{"stream":"orders-1","event_id":"","event_type":"Deposited","data":"eyJhIjoxfQ=="}`))
	if err != nil {
		t.Fatal(err)
	}
	if e.Stream != "orders-1" || e.EventType != "Deposited" {
		t.Fatalf("got %+v", e)
	}
}
