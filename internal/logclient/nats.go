package logclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Config configures the NATS JetStream-backed Client.
type Config struct {
	URL          string
	StreamName   string
	Subject      string
	ConnectOpts  []nats.Option
	PublishRetry int
	RetryBackoff time.Duration
}

// NATSClient realizes Client on top of a single-subject, infinite-retention
// JetStream stream, per SPEC_FULL.md §D.1.
type NATSClient struct {
	cfg  Config
	conn *nats.Conn
	js   nats.JetStreamContext
}

// Connect dials NATS, opens a JetStream context, and ensures the registry's
// topic stream exists.
func Connect(cfg Config) (*NATSClient, error) {
	if cfg.PublishRetry <= 0 {
		cfg.PublishRetry = 5
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}

	opts := append([]nats.Option{
		nats.Name("schema-registry-log"),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			slog.Error("log connection error", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("log connection reconnected")
		}),
	}, cfg.ConnectOpts...)

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, &Error{Op: "connect", Err: err}
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, &Error{Op: "jetstream", Err: err}
	}

	if _, err := js.StreamInfo(cfg.StreamName); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			conn.Close()
			return nil, &Error{Op: "stream-info", Err: err}
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      cfg.StreamName,
			Subjects:  []string{cfg.Subject},
			Retention: nats.LimitsPolicy,
			MaxAge:    0, // infinite retention, per SPEC_FULL.md §6
			Storage:   nats.FileStorage,
		})
		if err != nil {
			conn.Close()
			return nil, &Error{Op: "add-stream", Err: err}
		}
	}

	return &NATSClient{cfg: cfg, conn: conn, js: js}, nil
}

func (c *NATSClient) Produce(ctx context.Context, payload []byte) (uint64, error) {
	var lastErr error
	backoff := c.cfg.RetryBackoff
	for attempt := 0; attempt < c.cfg.PublishRetry; attempt++ {
		ack, err := c.js.Publish(c.cfg.Subject, payload, nats.Context(ctx))
		if err == nil {
			return ack.Sequence, nil
		}
		lastErr = err
		slog.Warn("transient log publish error, retrying", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return 0, &Error{Op: "produce", Err: ctx.Err()}
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return 0, &Error{Op: "produce", Err: fmt.Errorf("exhausted retries: %w", lastErr)}
}

func (c *NATSClient) Tail(ctx context.Context) (<-chan Record, error) {
	out := make(chan Record, 256)

	sub, err := c.js.Subscribe(c.cfg.Subject, func(msg *nats.Msg) {
		meta, err := msg.Metadata()
		if err != nil {
			slog.Error("log record missing metadata, skipping", "error", err)
			_ = msg.Ack()
			return
		}
		select {
		case out <- Record{
			Offset:  meta.Sequence.Stream,
			Payload: msg.Data,
			Ack:     func() error { return msg.Ack() },
		}:
		case <-ctx.Done():
		}
	}, nats.DeliverAll(), nats.ManualAck(), nats.AckExplicit(), nats.OrderedConsumer())
	if err != nil {
		close(out)
		return nil, &Error{Op: "subscribe", Err: err}
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
		close(out)
	}()

	return out, nil
}

func (c *NATSClient) Close() error {
	c.conn.Close()
	return nil
}
