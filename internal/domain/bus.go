package domain

import (
	"context"
	"time"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (community) or NATS (pro).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `mapstructure:"type"`

	// Channel settings
	ChannelBufferSize int `mapstructure:"channel_buffer_size"`

	// NATS settings
	NATSUrl           string `mapstructure:"nats_url"`
	NATSToken         string `mapstructure:"nats_token"`
	NATSMaxReconnects int    `mapstructure:"nats_max_reconnects"`
	NATSReconnectWait int    `mapstructure:"nats_reconnect_wait"` // seconds
}

// Topic names published by the scoring engine.
const (
	TopicScoreComputed    = "prudence.score.computed"
	TopicRiskBreach       = "prudence.breach.risk"
	TopicComplianceBreach = "prudence.breach.compliance"

	// Asynchronous batch runs.
	TopicScoringRequested = "prudence.scoring.requested"
	TopicScoringCompleted = "prudence.scoring.completed"
)

// BreachKind distinguishes risk and compliance breaches.
type BreachKind string

const (
	BreachRisk       BreachKind = "risk"
	BreachCompliance BreachKind = "compliance"
)

// BreachEvent is published when a computed score crosses its threshold.
// Delivering notifications is left to subscribers.
type BreachEvent struct {
	Kind        BreachKind `json:"kind"`
	EntityID    string     `json:"entity_id"`
	ReferenceID string     `json:"reference_id"`
	Score       float64    `json:"score"`
	Threshold   float64    `json:"threshold"`
	RiskTier    RiskTier   `json:"risk_level,omitempty"`
	DetectedAt  time.Time  `json:"detected_at"`
}

// ScoreEvent is published after every persisted score.
type ScoreEvent struct {
	Kind        string    `json:"kind"`
	EntityID    string    `json:"entity_id"`
	ReferenceID string    `json:"reference_id"`
	Score       float64   `json:"score"`
	RiskTier    RiskTier  `json:"risk_level,omitempty"`
	ComputedAt  time.Time `json:"computed_at"`
}
