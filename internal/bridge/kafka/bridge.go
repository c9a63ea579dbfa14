// Package kafka bridges a Kafka topic into the event log: each
// consumed record is parsed into an event and appended to a stream
// through the public client, then the record's offset is committed.
// Adapted from the teacher's internal/ingest/kafka adapter, which fed
// its own storage engine instead of a remote client.
package kafka

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fkabongo/eventlogclient/client"
)

// Config configures the bridge's Kafka consumer side.
type Config struct {
	Brokers        []string
	Topics         []string
	GroupID        string
	ClientID       string
	WorkerCount    int
	MaxPollRecords int
	QueueCapacity  int
	TLS            TLSConfig
}

// TLSConfig mirrors the teacher's adapter auth surface, trimmed to
// what this bridge actually needs (SASL belongs to the broker-side
// topology, not the event-log client).
type TLSConfig struct {
	Enabled            bool
	InsecureSkipVerify bool
}

// envelope is the on-topic JSON shape a record's value must decode
// into: a stream target and one event.
type envelope struct {
	Stream    string            `json:"stream"`
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	Data      json.RawMessage   `json:"data"`
	Metadata  map[string]string `json:"metadata"`
}

// Bridge consumes Config.Topics and replays each record as an
// AppendToStream call against the wrapped client.
type Bridge struct {
	cfg    Config
	client *client.Client
	kafka  *kgo.Client

	records chan *kgo.Record
	closed  atomic.Bool

	pauseMu sync.Mutex
	paused  bool
}

// New constructs a Bridge. opts are passed through to the underlying
// franz-go client, letting callers add SASL/TLS or custom balancers.
func New(cfg Config, c *client.Client, opts ...kgo.Opt) (*Bridge, error) {
	cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	kopts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
	}
	if cfg.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.TLS.Enabled {
		kopts = append(kopts, kgo.DialTLSConfig(&tls.Config{InsecureSkipVerify: cfg.TLS.InsecureSkipVerify}))
	}
	kopts = append(kopts, opts...)

	kc, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("bridge/kafka: new client: %w", err)
	}
	return &Bridge{
		cfg:     cfg,
		client:  c,
		kafka:   kc,
		records: make(chan *kgo.Record, cfg.QueueCapacity),
	}, nil
}

func (c *Config) withDefaults() {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 4
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1024
	}
	if c.MaxPollRecords <= 0 {
		c.MaxPollRecords = 500
	}
}

func (c Config) validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("bridge/kafka: brokers is required")
	}
	if len(c.Topics) == 0 {
		return errors.New("bridge/kafka: topics is required")
	}
	if c.GroupID == "" {
		return errors.New("bridge/kafka: group_id is required")
	}
	return nil
}

// Run polls records until ctx is cancelled, fanning each record out
// to a worker pool that appends to the target stream and acks the
// offset once the append succeeds.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.kafka.Close()
	var wg sync.WaitGroup
	for i := 0; i < b.cfg.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.runWorker(ctx)
		}()
	}

	for {
		if ctx.Err() != nil || b.closed.Load() {
			close(b.records)
			wg.Wait()
			return ctx.Err()
		}
		fetches := b.kafka.PollRecords(ctx, b.cfg.MaxPollRecords)
		if errs := fetches.Errors(); len(errs) > 0 {
			return errs[0].Err
		}
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			for _, rec := range p.Records {
				b.enqueue(rec)
			}
		})
		b.kafka.AllowRebalance()
	}
}

func (b *Bridge) enqueue(rec *kgo.Record) {
	for {
		select {
		case b.records <- rec:
			b.maybeResume()
			return
		default:
			b.maybePause()
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func (b *Bridge) runWorker(ctx context.Context) {
	for rec := range b.records {
		env, err := parseEnvelope(rec.Value)
		if err != nil {
			continue // malformed record: drop and move on, nothing to retry
		}
		eventID, err := parseEventID(env.EventID)
		if err != nil {
			continue
		}
		data := client.EventData{
			EventID:     eventID,
			EventType:   env.EventType,
			Data:        env.Data,
			DataContent: client.ContentTypeJSON,
		}
		if _, err := b.client.AppendToStream(ctx, client.StreamID(env.Stream), client.Any(), []client.EventData{data}); err != nil {
			continue
		}
		b.kafka.MarkCommitRecords(rec)
		_ = b.kafka.CommitMarkedOffsets(ctx)
	}
}

func (b *Bridge) maybePause() {
	b.pauseMu.Lock()
	defer b.pauseMu.Unlock()
	if b.paused || len(b.records) < cap(b.records) {
		return
	}
	_ = b.kafka.PauseFetchTopics(b.cfg.Topics...)
	b.paused = true
}

func (b *Bridge) maybeResume() {
	b.pauseMu.Lock()
	defer b.pauseMu.Unlock()
	if !b.paused || len(b.records) > cap(b.records)/2 {
		return
	}
	b.kafka.ResumeFetchTopics(b.cfg.Topics...)
	b.paused = false
}

// Close stops Run's poll loop at the next iteration.
func (b *Bridge) Close() { b.closed.Store(true) }

func parseEventID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.New(), nil
	}
	return uuid.Parse(s)
}

func parseEnvelope(raw []byte) (envelope, error) {
	var e envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return envelope{}, fmt.Errorf("bridge/kafka: decode record: %w", err)
	}
	if strings.TrimSpace(e.Stream) == "" {
		return envelope{}, errors.New("bridge/kafka: record missing stream")
	}
	return e, nil
}
