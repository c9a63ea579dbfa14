// Package backup archives a stream's catch-up output to S3, grounded
// on the teacher's own BackupConfig.S3 configuration field, which
// named a provider but had no implementation behind it.
//
// Archiver implements client.Observer: it is handed directly to one
// of the client's SubscribeCatchUp* factories and batches the events
// it observes into newline-delimited JSON objects uploaded to a
// bucket/prefix.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/fkabongo/eventlogclient/client"
)

// Config configures the archiver's batching and S3 target.
type Config struct {
	Bucket        string
	Prefix        string
	BatchSize     int
	FlushInterval time.Duration
}

func (c *Config) withDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 30 * time.Second
	}
}

// record is one archived event, newline-delimited JSON per object.
type record struct {
	Stream      string    `json:"stream"`
	EventNumber int64     `json:"event_number"`
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	CreatedAt   time.Time `json:"created_at"`
	CommitPos   uint64    `json:"commit_pos"`
	PreparePos  uint64    `json:"prepare_pos"`
	Data        []byte    `json:"data"`
}

// Archiver batches catch-up subscription output and periodically
// flushes it to S3 as one object per batch, keyed by flush time.
type Archiver struct {
	cfg    Config
	client *s3.Client

	mu      sync.Mutex
	pending []record
	closed  bool
	done    chan struct{}
	flushed chan struct{}

	OnError func(error)
}

// New builds an Archiver. s3Client is an already-configured AWS SDK
// v2 S3 client (region, credentials, and endpoint are the caller's
// concern, same as the teacher's other adapters take a ready dial
// target rather than building one).
func New(cfg Config, s3Client *s3.Client) *Archiver {
	cfg.withDefaults()
	a := &Archiver{
		cfg:     cfg,
		client:  s3Client,
		done:    make(chan struct{}),
		flushed: make(chan struct{}, 1),
	}
	go a.flushLoop()
	return a
}

// OnEvent implements client.Observer. It appends ev to the pending
// batch and triggers an async flush once the batch is full.
func (a *Archiver) OnEvent(ev client.ResolvedEvent) {
	r := record{
		Stream:      ev.Inner.StreamID,
		EventNumber: ev.Inner.EventNumber,
		EventID:     ev.Inner.EventID.String(),
		EventType:   ev.Inner.EventType,
		CreatedAt:   ev.Inner.CreatedAt,
		CommitPos:   ev.Inner.CommitPos.Commit,
		PreparePos:  ev.Inner.CommitPos.Prepare,
		Data:        ev.Inner.Data,
	}
	a.mu.Lock()
	a.pending = append(a.pending, r)
	full := len(a.pending) >= a.cfg.BatchSize
	a.mu.Unlock()
	if full {
		select {
		case a.flushed <- struct{}{}:
		default:
		}
	}
}

// OnLiveProcessingStart implements client.Observer; the archiver has
// no distinct behavior at the catch-up/live boundary.
func (a *Archiver) OnLiveProcessingStart() {}

// OnDropped implements client.Observer. It flushes whatever is
// pending and stops the background flush loop.
func (a *Archiver) OnDropped(err *client.SubscriptionDroppedError) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()
	close(a.done)
	if flushErr := a.flush(context.Background()); flushErr != nil && a.OnError != nil {
		a.OnError(flushErr)
	}
}

func (a *Archiver) flushLoop() {
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
		case <-a.flushed:
		}
		if err := a.flush(context.Background()); err != nil && a.OnError != nil {
			a.OnError(err)
		}
	}
}

// flush uploads whatever is pending as a single object and clears the
// batch. A no-op when nothing is pending.
func (a *Archiver) flush(ctx context.Context) error {
	a.mu.Lock()
	if len(a.pending) == 0 {
		a.mu.Unlock()
		return nil
	}
	batch := a.pending
	a.pending = nil
	a.mu.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range batch {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("backup: encode record: %w", err)
		}
	}

	key := a.objectKey(batch[0], time.Now().UTC())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("backup: put object %s: %w", key, err)
	}
	return nil
}

func (a *Archiver) objectKey(first record, at time.Time) string {
	return fmt.Sprintf("%s%s/%s-%d.ndjson", a.cfg.Prefix, first.Stream, at.Format("20060102T150405"), first.EventNumber)
}
