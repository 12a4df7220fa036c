package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

var _ Bus = (*NATSBus)(nil)

// streamMaxAge is how long wizard events stay in the stream.
const streamMaxAge = 7 * 24 * time.Hour

// NATSBus publishes to JetStream. Trace context travels in message headers.
type NATSBus struct {
	nats     *nats.Conn
	js       nats.JetStreamContext
	log      *slog.Logger
	draining atomic.Bool
}

func NewNATSBus(addr string, logger *slog.Logger) (*NATSBus, error) {
	b := &NATSBus{log: logger}

	nc, err := nats.Connect(addr,
		nats.Name("seller-gateway"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(3*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected, buffering events", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			if b.draining.Load() {
				return
			}
			// Events are best effort; the wizard keeps working without them.
			logger.Error("NATS connection closed, wizard events will be dropped")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to open jetstream: %w", err)
	}

	b.nats = nc
	b.js = js
	return b, nil
}

func (b *NATSBus) Publish(ctx context.Context, subject string, data []byte, msgID string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(http.Header(msg.Header)))

	b.log.DebugContext(ctx, "Publishing event", "subject", subject, "data_size", len(data))
	_, err := b.js.PublishMsg(msg, nats.MsgId(msgID), nats.Context(ctx))
	return err
}

// Connected reports whether the connection is currently usable.
func (b *NATSBus) Connected() bool {
	return b.nats.IsConnected()
}

// Drain flushes buffered events and closes the connection.
func (b *NATSBus) Drain() error {
	b.log.Info("Draining events")
	b.draining.Store(true)
	return b.nats.Drain()
}

// EnsureStream creates the JetStream stream carrying subjects if it is missing.
// An existing stream is left as configured.
func (b *NATSBus) EnsureStream(name string, subjects ...string) error {
	_, err := b.js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream %s: %w", name, err)
	}

	b.log.Info("Creating event stream", "stream", name, "subjects", subjects)
	_, err = b.js.AddStream(&nats.StreamConfig{
		Name:       name,
		Subjects:   subjects,
		Storage:    nats.FileStorage,
		MaxAge:     streamMaxAge,
		Duplicates: 10 * time.Minute,
	})
	return err
}
