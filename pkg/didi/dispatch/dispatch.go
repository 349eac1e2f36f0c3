// Package dispatch classifies incoming chat messages before any handler
// runs, so routing precedence lives in one place.
package dispatch

import (
	"context"
	"strings"

	"github.com/jholhewres/didicogs/pkg/didi/channels"
)

// Kind is the routing decision for one message.
type Kind int

const (
	// Ignore drops the message.
	Ignore Kind = iota

	// Command routes the message to the command router.
	Command

	// MentionReply is a reply that mentions the bot (or replies to it):
	// an ephemeral question about the referenced message.
	MentionReply

	// MentionDirect is a plain mention with content: a standard turn.
	MentionDirect

	// AlwaysRespond is an unprefixed message in an always-respond channel.
	AlwaysRespond
)

func (k Kind) String() string {
	switch k {
	case Command:
		return "command"
	case MentionReply:
		return "mention_reply"
	case MentionDirect:
		return "mention_direct"
	case AlwaysRespond:
		return "always_respond"
	default:
		return "ignore"
	}
}

// Classifier decides the Kind of a message.
type Classifier struct {
	// Prefixes are the command prefixes, e.g. "!" or "?".
	Prefixes []string

	// AlwaysRespond reports whether a channel answers every message. It is
	// consulted last, only for messages no other rule claimed.
	AlwaysRespond func(ctx context.Context, guildID, channelID string) bool
}

// Classify returns the routing Kind. Precedence: bot and direct messages
// are ignored, then commands, then replies mentioning the bot, then plain
// mentions with content, then always-respond channels. A reply whose
// referenced message is unresolved counts as a plain mention.
func (c *Classifier) Classify(ctx context.Context, msg *channels.IncomingMessage, selfID string) Kind {
	if msg == nil || msg.Author.Bot || msg.IsDirect() {
		return Ignore
	}
	if _, ok := MatchPrefix(msg.Content, c.Prefixes); ok {
		return Command
	}

	mentioned := selfID != "" && msg.Mentioned(selfID)
	if msg.Reference.Resolved() && (mentioned || (selfID != "" && msg.Reference.AuthorID == selfID)) {
		return MentionReply
	}
	if mentioned && CleanContent(msg.Content, selfID) != "" {
		return MentionDirect
	}

	if c.AlwaysRespond != nil && strings.TrimSpace(msg.Content) != "" &&
		c.AlwaysRespond(ctx, msg.GuildID, msg.ChannelID) {
		return AlwaysRespond
	}
	return Ignore
}

// MatchPrefix returns the longest prefix the content starts with.
func MatchPrefix(content string, prefixes []string) (string, bool) {
	best := ""
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(content, p) && len(p) > len(best) {
			best = p
		}
	}
	return best, best != ""
}

// CleanContent strips the bot's mention tokens and surrounding whitespace.
func CleanContent(content, selfID string) string {
	if selfID != "" {
		content = strings.ReplaceAll(content, "<@"+selfID+">", "")
		content = strings.ReplaceAll(content, "<@!"+selfID+">", "")
	}
	return strings.Join(strings.Fields(content), " ")
}
