// Package bus carries score and breach events to downstream subscribers.
package bus

import (
	"context"
	"encoding/json"

	"github.com/opensource-finance/prudence/internal/domain"
	"github.com/rotisserie/eris"
)

var errClosed = eris.New("bus: closed")

// New creates an event bus from configuration.
// "channel" yields an in-process bus; "nats" connects to a NATS server.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "", "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, eris.Errorf("bus: unsupported type %q", cfg.Type)
	}
}

// PublishJSON encodes v and publishes it on topic.
func PublishJSON(ctx context.Context, b domain.EventBus, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "bus: encode %s event", topic)
	}
	return b.Publish(ctx, topic, payload)
}
