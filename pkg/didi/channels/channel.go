// Package channels defines the interfaces and types the bot uses to talk to
// a chat platform. The Discord adapter implements them; cogs only see these
// types, which keeps them testable against an in-memory platform.
package channels

import (
	"context"
	"errors"
	"time"
)

// Channel is a connection to a chat platform.
type Channel interface {
	// Name returns the platform identifier (e.g. "discord").
	Name() string

	// Connect establishes the connection to the platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send sends a message to a text channel.
	Send(ctx context.Context, to string, message *OutgoingMessage) error

	// Receive returns a Go channel that emits incoming messages.
	Receive() <-chan *IncomingMessage

	// Events returns a Go channel that emits guild lifecycle events.
	Events() <-chan *Event

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// Guilds extends Channel with the guild lookups and role operations the
// cogs need.
type Guilds interface {
	Channel

	// SelfID returns the bot's own user ID.
	SelfID() string

	// CanEmbed reports whether the bot may send embeds in a channel.
	CanEmbed(ctx context.Context, channelID string) bool

	// IsNSFW reports whether a channel is age-restricted.
	IsNSFW(ctx context.Context, channelID string) bool

	// ResolveChannel finds a guild text channel by mention, ID or name.
	ResolveChannel(ctx context.Context, guildID, ref string) (*ChannelInfo, error)

	// ResolveRole finds a guild role by mention, ID or name.
	ResolveRole(ctx context.Context, guildID, ref string) (*Role, error)

	// Role returns a guild role by ID.
	Role(ctx context.Context, guildID, roleID string) (*Role, error)

	// ResolveMember finds a guild member by mention, ID or name.
	ResolveMember(ctx context.Context, guildID, ref string) (*Member, error)

	// AddRole grants a role to a member.
	AddRole(ctx context.Context, guildID, userID, roleID string) error

	// RemoveRole takes a role from a member.
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error

	// IsAdministrator reports whether a member owns the guild or holds a
	// role with the administrator permission.
	IsAdministrator(ctx context.Context, guildID, userID string) (bool, error)
}

// PresenceChannel extends Channel with typing indicators.
type PresenceChannel interface {
	Channel

	// SendTyping sends a "typing..." indicator to the channel.
	SendTyping(ctx context.Context, to string) error
}

// IncomingMessage represents a message received from the platform.
type IncomingMessage struct {
	// ID is the unique message identifier.
	ID string

	// GuildID is empty for direct messages.
	GuildID string

	// ChannelID is the text channel the message was posted in.
	ChannelID string

	// Author is the sender.
	Author Author

	// Content is the raw text content.
	Content string

	// Mentions lists the user IDs mentioned in the message.
	Mentions []string

	// Reference is the replied-to message, if any.
	Reference *Reference

	// Timestamp is when the message was sent.
	Timestamp time.Time
}

// IsDirect reports whether the message was sent outside a guild.
func (m *IncomingMessage) IsDirect() bool { return m.GuildID == "" }

// Mentioned reports whether userID is mentioned in the message.
func (m *IncomingMessage) Mentioned(userID string) bool {
	for _, id := range m.Mentions {
		if id == userID {
			return true
		}
	}
	return false
}

// Author describes a message sender.
type Author struct {
	ID string

	// Name is the display name in the guild (nickname when set).
	Name string

	Bot bool
}

// Reference is the message an incoming message replies to. Only MessageID
// is set when the platform could not resolve the message (e.g. deleted).
type Reference struct {
	MessageID  string
	AuthorID   string
	AuthorName string
	Content    string
}

// Resolved reports whether the referenced message itself is known.
func (r *Reference) Resolved() bool { return r != nil && r.AuthorID != "" }

// OutgoingMessage represents a message to be sent.
type OutgoingMessage struct {
	// Content is the text content of the message.
	Content string

	// ReplyTo contains the ID of the message to reply to.
	ReplyTo string

	// Embed is an optional rich embed sent with the content.
	Embed *Embed
}

// Text builds a plain OutgoingMessage.
func Text(content string) *OutgoingMessage { return &OutgoingMessage{Content: content} }

// Reply builds an OutgoingMessage replying to messageID.
func Reply(messageID, content string) *OutgoingMessage {
	return &OutgoingMessage{Content: content, ReplyTo: messageID}
}

// Embed is a platform-neutral rich message.
type Embed struct {
	Title        string
	Description  string
	URL          string
	ImageURL     string
	ThumbnailURL string
	Color        int
	Footer       string
	Fields       []EmbedField
}

// EmbedField is one name/value row of an Embed.
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// ChannelInfo describes a guild text channel.
type ChannelInfo struct {
	ID   string
	Name string
}

// Mention returns the chat mention for the channel.
func (c *ChannelInfo) Mention() string { return "<#" + c.ID + ">" }

// Role describes a guild role.
type Role struct {
	ID   string
	Name string
}

// Mention returns the chat mention for the role.
func (r *Role) Mention() string { return "<@&" + r.ID + ">" }

// Member describes a guild member.
type Member struct {
	ID          string
	Username    string
	DisplayName string
	AvatarURL   string
	Roles       []string
	JoinedAt    time.Time
	Bot         bool
}

// HasRole reports whether the member holds roleID.
func (m *Member) HasRole(roleID string) bool {
	for _, id := range m.Roles {
		if id == roleID {
			return true
		}
	}
	return false
}

// Mention returns the chat mention for the member.
func (m *Member) Mention() string { return "<@" + m.ID + ">" }

// EventType identifies a guild lifecycle event.
type EventType string

const (
	// EventReady fires once the gateway session is established.
	EventReady EventType = "ready"

	// EventGuildJoin fires when a guild becomes available to the bot.
	EventGuildJoin EventType = "guild_join"

	// EventGuildLeave fires when the bot is removed from a guild.
	EventGuildLeave EventType = "guild_leave"
)

// Event is a guild lifecycle event.
type Event struct {
	Type EventType

	// GuildIDs lists every guild for EventReady and the single affected
	// guild otherwise.
	GuildIDs []string
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
	Guilds        int
}

// Errors.
var (
	ErrChannelDisconnected = errors.New("channel is not connected")
	ErrSendFailed          = errors.New("failed to send message")
	ErrConnectionFailed    = errors.New("failed to connect to channel")
	ErrNotFound            = errors.New("not found")
)
