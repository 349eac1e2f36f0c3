// Package conversation manages per-channel chat state for the Gemini cog:
// history loading and pruning, prompt composition, provider outcome
// interpretation and persistence. Turns on the same channel are serialized;
// turns on different channels run concurrently.
package conversation

import (
	"context"
	"time"
)

// Role of a stored message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one stored history entry.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Settings is the resolved configuration for one channel in one guild.
type Settings struct {
	// Guild-level provider settings.
	APIKey  string
	Model   string
	BaseURL string

	// Channel-level conversation settings.
	SystemPrompt    string
	UseHistory      bool
	AlwaysRespond   bool
	AutoDeleteAfter time.Duration
}

// Store persists settings and history. Implementations must be safe for
// concurrent use across channels; the Manager serializes per channel.
type Store interface {
	Settings(ctx context.Context, guildID, channelID string) (Settings, error)
	LoadHistory(ctx context.Context, channelID string) ([]Message, error)
	SaveHistory(ctx context.Context, channelID string, messages []Message) error
}

// Turn is a standard conversational turn.
type Turn struct {
	GuildID    string
	ChannelID  string
	AuthorName string
	Content    string
}

// EphemeralRequest is a reply-triggered one-off question. It never reads or
// writes the channel history.
type EphemeralRequest struct {
	GuildID   string
	ChannelID string

	// ReferencedAuthor and ReferencedContent describe the replied-to message.
	ReferencedAuthor  string
	ReferencedContent string

	AuthorName string
	Question   string
}

// Recorder receives turn outcomes for metrics.
type Recorder interface {
	ObserveTurn(mode, outcome string)
}
