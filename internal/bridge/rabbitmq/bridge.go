// Package rabbitmq bridges a RabbitMQ queue into the event log: each
// delivery is parsed into an event and appended to a stream through
// the public client, then acked or nacked according to the append
// outcome. Adapted from the teacher's internal/ingest/rabbitmq
// adapter, which fed its own storage engine instead of a remote
// client.
package rabbitmq

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/fkabongo/eventlogclient/client"
)

// Config configures the bridge's RabbitMQ consumer side.
type Config struct {
	URL           string
	Exchange      string
	Queue         string
	RoutingKeys   []string
	ConsumerTag   string
	PrefetchCount int
	TLS           TLSConfig
	Auth          AuthConfig
	Workers       int
	DeliveryQueue int
}

type TLSConfig struct {
	Enabled            bool
	InsecureSkipVerify bool
	ServerName         string
	CAFile             string
	CertFile           string
	KeyFile            string
}

type AuthConfig struct {
	Username string
	Password string
}

// envelope is the on-delivery JSON shape a message body must decode
// into: a stream target and one event.
type envelope struct {
	Stream    string            `json:"stream"`
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	Data      json.RawMessage   `json:"data"`
	Metadata  map[string]string `json:"metadata"`
}

// Bridge consumes Config.Queue and replays each delivery as an
// AppendToStream call against the wrapped client.
type Bridge struct {
	cfg    Config
	client *client.Client

	conn    *amqp091.Connection
	ch      *amqp091.Channel
	deliver <-chan amqp091.Delivery

	ops      chan amqp091.Delivery
	closed   chan struct{}
	closeErr atomic.Value
	wg       sync.WaitGroup
}

func (c Config) validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return errors.New("bridge/rabbitmq: url is required")
	}
	if c.Exchange == "" {
		return errors.New("bridge/rabbitmq: exchange is required")
	}
	if c.Queue == "" {
		return errors.New("bridge/rabbitmq: queue is required")
	}
	if c.PrefetchCount < 1 {
		return errors.New("bridge/rabbitmq: prefetch_count must be >= 1")
	}
	if c.Workers < 1 {
		return errors.New("bridge/rabbitmq: workers must be >= 1")
	}
	if c.DeliveryQueue < 1 {
		return errors.New("bridge/rabbitmq: delivery_queue must be >= 1")
	}
	return nil
}

// New constructs a Bridge bound to c. Start must be called to open
// the connection and begin consuming.
func New(cfg Config, c *client.Client) (*Bridge, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errors.New("bridge/rabbitmq: client is required")
	}
	if cfg.ConsumerTag == "" {
		cfg.ConsumerTag = "eventlogclient-rabbitmq"
	}
	return &Bridge{
		cfg:    cfg,
		client: c,
		closed: make(chan struct{}),
		ops:    make(chan amqp091.Delivery, cfg.DeliveryQueue),
	}, nil
}

// Start dials the broker, declares the exchange/queue/bindings, and
// launches the read loop plus Config.Workers worker goroutines.
func (b *Bridge) Start(ctx context.Context) error {
	dialCfg := amqp091.Config{}
	if b.cfg.Auth.Username != "" {
		dialCfg.SASL = []amqp091.Authentication{&amqp091.PlainAuth{Username: b.cfg.Auth.Username, Password: b.cfg.Auth.Password}}
	}
	tlsCfg, err := b.buildTLSConfig()
	if err != nil {
		return err
	}
	if tlsCfg != nil {
		dialCfg.TLSClientConfig = tlsCfg
	}
	conn, err := amqp091.DialConfig(b.cfg.URL, dialCfg)
	if err != nil {
		return fmt.Errorf("bridge/rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("bridge/rabbitmq: open channel: %w", err)
	}
	if err := ch.Qos(b.cfg.PrefetchCount, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("bridge/rabbitmq: set prefetch: %w", err)
	}
	if err := ch.ExchangeDeclare(b.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("bridge/rabbitmq: declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(b.cfg.Queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("bridge/rabbitmq: declare queue: %w", err)
	}
	keys := b.cfg.RoutingKeys
	if len(keys) == 0 {
		keys = []string{"#"}
	}
	for _, key := range keys {
		if err := ch.QueueBind(b.cfg.Queue, key, b.cfg.Exchange, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return fmt.Errorf("bridge/rabbitmq: bind queue key=%s: %w", key, err)
		}
	}
	deliveries, err := ch.Consume(b.cfg.Queue, b.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("bridge/rabbitmq: consume: %w", err)
	}
	b.conn, b.ch, b.deliver = conn, ch, deliveries

	b.wg.Add(1)
	go b.readLoop(ctx)
	for i := 0; i < b.cfg.Workers; i++ {
		b.wg.Add(1)
		go b.workerLoop(ctx)
	}
	return nil
}

// Close cancels the consumer, drains in-flight deliveries, and tears
// down the channel and connection.
func (b *Bridge) Close() error {
	select {
	case <-b.closed:
		if v := b.closeErr.Load(); v != nil {
			return v.(error)
		}
		return nil
	default:
		close(b.closed)
	}
	if b.ch != nil {
		_ = b.ch.Cancel(b.cfg.ConsumerTag, false)
	}
	close(b.ops)
	b.wg.Wait()
	var errs []error
	if b.ch != nil {
		if err := b.ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if b.conn != nil {
		if err := b.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	b.closeErr.Store(err)
	return err
}

func (b *Bridge) readLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.closed:
			return
		case d, ok := <-b.deliver:
			if !ok {
				return
			}
			select {
			case b.ops <- d:
			case <-ctx.Done():
				return
			case <-b.closed:
				return
			}
		}
	}
}

func (b *Bridge) workerLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.closed:
			return
		case d, ok := <-b.ops:
			if !ok {
				return
			}
			b.processDelivery(ctx, d)
		}
	}
}

func (b *Bridge) processDelivery(ctx context.Context, d amqp091.Delivery) {
	env, err := parseEnvelope(d.Body)
	if err != nil {
		_ = d.Nack(false, false)
		return
	}
	eventID, err := parseEventID(env.EventID)
	if err != nil {
		_ = d.Nack(false, false)
		return
	}
	data := client.EventData{
		EventID:     eventID,
		EventType:   env.EventType,
		Data:        env.Data,
		DataContent: client.ContentTypeJSON,
	}
	if _, err := b.client.AppendToStream(ctx, client.StreamID(env.Stream), client.Any(), []client.EventData{data}); err != nil {
		if isRetryable(err) {
			_ = d.Nack(false, true)
			return
		}
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

func (b *Bridge) buildTLSConfig() (*tls.Config, error) {
	if !b.cfg.TLS.Enabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: b.cfg.TLS.InsecureSkipVerify, ServerName: b.cfg.TLS.ServerName}
	if b.cfg.TLS.CAFile != "" {
		pemBytes, err := os.ReadFile(b.cfg.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("bridge/rabbitmq: read ca_file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemBytes) {
			return nil, fmt.Errorf("bridge/rabbitmq: parse ca_file")
		}
		tlsCfg.RootCAs = pool
	}
	if b.cfg.TLS.CertFile != "" || b.cfg.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(b.cfg.TLS.CertFile, b.cfg.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("bridge/rabbitmq: load cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

func parseEventID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.New(), nil
	}
	return uuid.Parse(s)
}

func parseEnvelope(raw []byte) (envelope, error) {
	var e envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return envelope{}, fmt.Errorf("bridge/rabbitmq: decode delivery: %w", err)
	}
	if strings.TrimSpace(e.Stream) == "" {
		return envelope{}, errors.New("bridge/rabbitmq: delivery missing stream")
	}
	return e, nil
}

// isRetryable reports whether err is a transient client failure worth
// requeuing the delivery for (a dropped or not-yet-reestablished
// connection, or a local timeout waiting for the server), as opposed
// to a definitive rejection that will never succeed on redelivery.
func isRetryable(err error) bool {
	return errors.Is(err, client.ErrConnectionLost) || errors.Is(err, client.ErrOperationTimedOut) || errors.Is(err, client.ErrRetriesExhausted)
}
