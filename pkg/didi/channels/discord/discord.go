// Package discord implements the Discord platform adapter using discordgo.
//
// Features:
//   - Send text (split at 2000 characters), replies and embeds
//   - Guild lifecycle events (ready, guild join, guild leave)
//   - Channel, role and member resolution by mention, ID or name
//   - Role grants and administrator checks
//   - Typing indicators
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jholhewres/didicogs/pkg/didi/channels"
)

// maxMessageLen is Discord's per-message character limit.
const maxMessageLen = 2000

// Config holds Discord adapter configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// AllowedGuilds restricts which guild IDs the bot responds in.
	// Empty means respond in all guilds.
	AllowedGuilds []string `yaml:"allowed_guilds"`

	// SendTyping sends "typing..." indicators while processing.
	SendTyping bool `yaml:"send_typing"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{SendTyping: true}
}

// Discord implements channels.Guilds and channels.PresenceChannel.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	// messages is the channel for incoming messages forwarded to the bot.
	messages chan *channels.IncomingMessage

	// events carries guild lifecycle events.
	events chan *channels.Event

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	mu sync.RWMutex
}

// New creates a new Discord adapter.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:      cfg,
		logger:   logger.With("component", "discord"),
		messages: make(chan *channels.IncomingMessage, 256),
		events:   make(chan *channels.Event, 64),
	}
}

// ---------- Channel Interface ----------

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required: %w", channels.ErrConnectionFailed)
	}

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(d.onMessageCreate)
	session.AddHandler(d.onReady)
	session.AddHandler(d.onGuildCreate)
	session.AddHandler(d.onGuildDelete)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.mu.Lock()
	d.session = session
	d.mu.Unlock()
	d.connected.Store(true)

	user := session.State.User
	d.logger.Info("discord: connected", "bot", user.Username, "id", user.ID)
	return nil
}

// Disconnect closes the Discord gateway connection.
func (d *Discord) Disconnect() error {
	d.mu.Lock()
	session := d.session
	d.session = nil
	d.mu.Unlock()

	d.connected.Store(false)
	if session == nil {
		return nil
	}
	if err := session.Close(); err != nil {
		return fmt.Errorf("discord: closing session: %w", err)
	}
	d.logger.Info("discord: disconnected")
	return nil
}

// Send sends a message to a text channel. Long content is split into
// several messages; the reply reference and embed ride on the first and
// last chunk respectively.
func (d *Discord) Send(ctx context.Context, to string, message *channels.OutgoingMessage) error {
	session := d.current()
	if session == nil {
		return channels.ErrChannelDisconnected
	}

	for _, send := range buildSends(message) {
		if _, err := session.ChannelMessageSendComplex(to, send, discordgo.WithContext(ctx)); err != nil {
			d.errorCount.Add(1)
			return fmt.Errorf("%w: %w", channels.ErrSendFailed, err)
		}
	}
	return nil
}

// Receive returns the incoming messages channel.
func (d *Discord) Receive() <-chan *channels.IncomingMessage { return d.messages }

// Events returns the guild lifecycle events channel.
func (d *Discord) Events() <-chan *channels.Event { return d.events }

// IsConnected returns true if the bot is connected.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns the channel health status.
func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	status := channels.HealthStatus{
		Connected:     d.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(d.errorCount.Load()),
	}
	if session := d.current(); session != nil {
		session.State.RLock()
		status.Guilds = len(session.State.Guilds)
		session.State.RUnlock()
	}
	return status
}

// SendTyping sends a typing indicator to the channel.
func (d *Discord) SendTyping(ctx context.Context, to string) error {
	session := d.current()
	if session == nil || !d.cfg.SendTyping {
		return nil
	}
	return session.ChannelTyping(to, discordgo.WithContext(ctx))
}

func (d *Discord) current() *discordgo.Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.session
}

// ---------- Event Handlers ----------

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID {
		return
	}
	if m.GuildID != "" && !d.guildAllowed(m.GuildID) {
		return
	}

	if m.ReferencedMessage == nil && m.MessageReference != nil {
		m.ReferencedMessage = d.resolveReference(s, m.Message)
	}
	incoming := toIncoming(m.Message)

	d.lastMsg.Store(time.Now())
	d.errorCount.Store(0)

	select {
	case d.messages <- incoming:
	default:
		d.logger.Warn("discord: message buffer full, dropping message", "msg_id", incoming.ID)
	}
}

// resolveReference looks up the replied-to message the gateway did not
// include, first in the state cache, then over REST. It returns nil when the
// message is gone.
func (d *Discord) resolveReference(s *discordgo.Session, m *discordgo.Message) *discordgo.Message {
	ref := m.MessageReference
	if ref.MessageID == "" {
		return nil
	}
	channelID := ref.ChannelID
	if channelID == "" {
		channelID = m.ChannelID
	}
	if s.State != nil {
		if msg, err := s.State.Message(channelID, ref.MessageID); err == nil {
			return msg
		}
	}
	msg, err := s.ChannelMessage(channelID, ref.MessageID)
	if err != nil {
		d.logger.Debug("discord: referenced message not resolved", "msg_id", ref.MessageID, "error", err)
		return nil
	}
	return msg
}

func (d *Discord) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	ids := make([]string, 0, len(r.Guilds))
	for _, g := range r.Guilds {
		if d.guildAllowed(g.ID) {
			ids = append(ids, g.ID)
		}
	}
	d.logger.Info("discord: ready", "guilds", len(ids))
	d.emit(&channels.Event{Type: channels.EventReady, GuildIDs: ids})
}

func (d *Discord) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	if g.Guild == nil || g.Unavailable || !d.guildAllowed(g.ID) {
		return
	}
	d.emit(&channels.Event{Type: channels.EventGuildJoin, GuildIDs: []string{g.ID}})
}

func (d *Discord) onGuildDelete(_ *discordgo.Session, g *discordgo.GuildDelete) {
	// Unavailable guilds are outages, not removals.
	if g.Guild == nil || g.Unavailable {
		return
	}
	d.emit(&channels.Event{Type: channels.EventGuildLeave, GuildIDs: []string{g.ID}})
}

func (d *Discord) emit(evt *channels.Event) {
	select {
	case d.events <- evt:
	default:
		d.logger.Warn("discord: event buffer full, dropping event", "type", evt.Type)
	}
}

func (d *Discord) guildAllowed(guildID string) bool {
	if len(d.cfg.AllowedGuilds) == 0 {
		return true
	}
	for _, id := range d.cfg.AllowedGuilds {
		if id == guildID {
			return true
		}
	}
	return false
}

// ---------- Helpers ----------

// toIncoming converts a discordgo message.
func toIncoming(m *discordgo.Message) *channels.IncomingMessage {
	incoming := &channels.IncomingMessage{
		ID:        m.ID,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		Author: channels.Author{
			ID:   m.Author.ID,
			Name: displayName(m.Author, m.Member),
			Bot:  m.Author.Bot,
		},
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	for _, u := range m.Mentions {
		incoming.Mentions = append(incoming.Mentions, u.ID)
	}

	if ref := m.ReferencedMessage; ref != nil {
		incoming.Reference = &channels.Reference{
			MessageID: ref.ID,
			Content:   ref.Content,
		}
		if ref.Author != nil {
			incoming.Reference.AuthorID = ref.Author.ID
			incoming.Reference.AuthorName = displayName(ref.Author, ref.Member)
		}
	} else if m.MessageReference != nil {
		incoming.Reference = &channels.Reference{MessageID: m.MessageReference.MessageID}
	}
	return incoming
}

// displayName returns the guild nickname, global name or username.
func displayName(u *discordgo.User, member *discordgo.Member) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if u == nil {
		return ""
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// buildSends converts an OutgoingMessage into one or more discordgo sends.
func buildSends(message *channels.OutgoingMessage) []*discordgo.MessageSend {
	chunks := splitDiscordMessage(message.Content, maxMessageLen)
	sends := make([]*discordgo.MessageSend, 0, len(chunks))
	for _, chunk := range chunks {
		sends = append(sends, &discordgo.MessageSend{Content: chunk})
	}
	if message.ReplyTo != "" {
		sends[0].Reference = &discordgo.MessageReference{MessageID: message.ReplyTo}
	}
	if message.Embed != nil {
		last := sends[len(sends)-1]
		last.Embeds = []*discordgo.MessageEmbed{toEmbed(message.Embed)}
	}
	return sends
}

func toEmbed(e *channels.Embed) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		URL:         e.URL,
		Color:       e.Color,
	}
	if e.ImageURL != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: e.ImageURL}
	}
	if e.ThumbnailURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.ThumbnailURL}
	}
	if e.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	for _, f := range e.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	return embed
}

// splitDiscordMessage splits a message into chunks respecting the character
// limit, preferring newline boundaries and never cutting a UTF-8 sequence.
func splitDiscordMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cutAt := maxLen
		for cutAt > 0 && !isRuneStart(text[cutAt]) {
			cutAt--
		}
		if cutAt == 0 {
			cutAt = maxLen
		}
		if idx := strings.LastIndex(text[:cutAt], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// Compile-time interface verification.
var (
	_ channels.Guilds          = (*Discord)(nil)
	_ channels.PresenceChannel = (*Discord)(nil)
)
