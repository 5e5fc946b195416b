package channel

import (
	"context"
)

// Channel is a compiled-in message-channel adapter: it connects a
// transport (HTTP, WebSocket, Telegram, terminal) to the host's broker
// and command router. Channels read the live plugin set only through
// the active registry accessor, so a hot reload needs no channel
// restart.
type Channel interface {
	// Name returns the unique channel identifier
	Name() string

	// CheckRequirements validates if the channel can run in the current environment
	CheckRequirements(ctx context.Context) error

	// Start connects the channel and begins relaying messages.
	// The broker parameter allows channels to publish and subscribe to messages.
	Start(ctx context.Context, broker MessageBroker) error

	// Stop gracefully shuts down the channel
	Stop(ctx context.Context) error
}

// MessageBroker defines the interface for pub/sub communication.
// This is defined here to avoid circular dependencies.
type MessageBroker interface {
	// Subscribe creates a subscription for the given topics.
	// Returns a channel that will receive matching messages.
	Subscribe(id string, bufSize int, topics ...string) <-chan Message

	// Publish broadcasts a message to all interested subscribers
	Publish(ctx context.Context, msg Message) error

	// Unsubscribe removes a subscription and closes its channel
	Unsubscribe(id string)
}

// Message represents a message in the pub/sub system
type Message struct {
	// Topic is the message category/channel
	Topic string

	// Payload contains the message data
	Payload interface{}

	// Source identifies the originating channel or component
	Source string

	// Metadata contains additional message information
	Metadata map[string]interface{}
}
