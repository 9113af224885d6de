// Package chat answers queries posted in Slack or Discord. A Bridge reads
// messages from a platform Adapter, submits them to the session for their
// thread, and posts the Question and Result back when the run finishes.
package chat

import (
	"context"
	"time"
)

// Adapter is the interface that platform-specific implementations must satisfy.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound messages from the platform.
	// The channel is closed when the adapter is closed. Listen must only be
	// called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Send delivers an outbound message to the platform. It is attempted
	// once; failures are returned, never retried.
	Send(ctx context.Context, msg OutboundMessage) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// InboundMessage represents a message received from the chat platform.
type InboundMessage struct {
	Platform  string    // e.g. "slack", "discord"
	ChannelID string    // platform-specific channel identifier
	ThreadID  string    // thread to reply in (empty replies in the channel)
	UserID    string    // platform-specific user identifier
	UserName  string    // human-readable username
	Text      string    // raw message text
	Direct    bool      // sent in a direct message to the bot
	Mentioned bool      // the bot was mentioned
	Bot       bool      // sent by a bot account
	Timestamp time.Time // when the message was sent
}

// OutboundMessage represents a message to be sent to the chat platform.
type OutboundMessage struct {
	ChannelID string    // target channel
	ThreadID  string    // thread to reply in (empty for a top-level message)
	Text      string    // message text, also the notification fallback
	Sections  []Section // rendered as attachments (Slack) or embeds (Discord)
}

// Section is one titled block of a reply.
type Section struct {
	Title string
	Body  string
	Color string // sidebar color hint, e.g. "#36a64f"
}

// BotUserIDer is an optional interface that adapters can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}
