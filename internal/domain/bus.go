package domain

import (
	"context"
)

// EventBus carries session traffic between the controller, the worker and
// outside consumers. Backed by Go channels (community) or NATS (pro).
// Every call is scoped to a tenant.
type EventBus interface {
	// Publish sends payload to topic for the tenant.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers handler for the tenant's topic until the
	// returned subscription is cancelled.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler processes one delivered message.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope delivered to subscribers.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription is an active topic registration.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is "channel" or "nats".
	Type string

	ChannelBufferSize int

	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// GlobalTenantID subscribes a consumer to every tenant's traffic
// and scopes configuration shared by all tenants.
const GlobalTenantID = "*"

// Bus topics.
const (
	// TopicFragmentReceived carries fragments transcribed outside this
	// process into a live session.
	TopicFragmentReceived = "callshield.fragment.received"

	TopicSessionState  = "callshield.session.state"
	TopicSessionAlert  = "callshield.session.alert"
	TopicSessionReport = "callshield.session.report"
)

// FragmentMessage is the payload of TopicFragmentReceived.
type FragmentMessage struct {
	SessionID string             `json:"sessionId"`
	Fragment  TranscriptFragment `json:"fragment"`
}
