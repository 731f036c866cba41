package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/getmockd/chatd/pkg/logging"
)

// NATSBus relays events through core NATS subjects.
type NATSBus struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	local  *MemoryBus
	prefix string
	logger *slog.Logger

	closeOnce sync.Once
}

// NewNATSBus connects to url and starts relaying.
func NewNATSBus(url, prefix string, buffer int, logger *slog.Logger) (*NATSBus, error) {
	logger = logging.OrNop(logger).With("component", "pubsub", "backend", "nats")
	nc, err := nats.Connect(url,
		nats.Name("chatd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("pubsub: connect nats: %w", err)
	}

	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, ".") {
		prefix += "."
	}

	b := &NATSBus{
		nc:     nc,
		local:  NewMemoryBus(buffer),
		prefix: prefix,
		logger: logger,
	}
	b.sub, err = nc.Subscribe(prefix+">", b.handle)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("pubsub: subscribe nats: %w", err)
	}
	if err := nc.Flush(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("pubsub: flush nats: %w", err)
	}
	return b, nil
}

func (b *NATSBus) handle(msg *nats.Msg) {
	topic := strings.TrimPrefix(msg.Subject, b.prefix)
	if err := b.local.deliver(topic, msg.Data); err != nil {
		b.logger.Warn("dropping malformed event", "subject", msg.Subject, "error", err)
	}
}

// Publish implements Bus.
func (b *NATSBus) Publish(_ context.Context, topic string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("pubsub: encode event: %w", err)
	}
	if err := b.nc.Publish(b.prefix+topic, data); err != nil {
		return fmt.Errorf("pubsub: nats publish: %w", err)
	}
	return nil
}

// Subscribe implements Bus.
func (b *NATSBus) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	return b.local.Subscribe(ctx, topic)
}

// Ping checks broker connectivity.
func (b *NATSBus) Ping(_ context.Context) error {
	if !b.nc.IsConnected() {
		return fmt.Errorf("pubsub: nats not connected: %s", b.nc.Status())
	}
	return nil
}

// Close implements Bus.
func (b *NATSBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.sub.Unsubscribe()
		b.nc.Close()
		_ = b.local.Close()
	})
	return err
}
