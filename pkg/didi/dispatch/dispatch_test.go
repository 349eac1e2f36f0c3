package dispatch

import (
	"context"
	"testing"

	"github.com/jholhewres/didicogs/pkg/didi/channels"
)

const self = "900000000000000001"

func msg(content string, opts ...func(*channels.IncomingMessage)) *channels.IncomingMessage {
	m := &channels.IncomingMessage{
		ID:        "m1",
		GuildID:   "g1",
		ChannelID: "c1",
		Author:    channels.Author{ID: "u1", Name: "Ana"},
		Content:   content,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func mentioning(m *channels.IncomingMessage) { m.Mentions = append(m.Mentions, self) }

func replyingTo(author string) func(*channels.IncomingMessage) {
	return func(m *channels.IncomingMessage) {
		m.Reference = &channels.Reference{MessageID: "m0", AuthorID: author, Content: "earlier"}
	}
}

func replyingToUnresolved(m *channels.IncomingMessage) {
	m.Reference = &channels.Reference{MessageID: "deleted"}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	always := map[string]bool{"loud": true}
	c := &Classifier{
		Prefixes: []string{"!", "?"},
		AlwaysRespond: func(_ context.Context, _, channelID string) bool {
			return always[channelID]
		},
	}
	inLoud := func(m *channels.IncomingMessage) { m.ChannelID = "loud" }

	tests := []struct {
		name string
		msg  *channels.IncomingMessage
		want Kind
	}{
		{"plain", msg("hello"), Ignore},
		{"bot author", msg("<@"+self+"> hi", mentioning, func(m *channels.IncomingMessage) { m.Author.Bot = true }), Ignore},
		{"direct message", msg("<@"+self+"> hi", mentioning, func(m *channels.IncomingMessage) { m.GuildID = "" }), Ignore},
		{"command", msg("!gemini clear"), Command},
		{"command in always-respond channel", msg("?apod", inLoud), Command},
		{"mention with content", msg("<@"+self+"> what is a pulsar?", mentioning), MentionDirect},
		{"nickname mention", msg("<@!"+self+"> what is a pulsar?", mentioning), MentionDirect},
		{"bare mention", msg("<@"+self+">", mentioning), Ignore},
		{"reply with mention", msg("<@"+self+"> is this right?", mentioning, replyingTo("u2")), MentionReply},
		{"reply with bare mention", msg("<@"+self+">", mentioning, replyingTo("u2")), MentionReply},
		{"reply to bot", msg("why?", replyingTo(self)), MentionReply},
		{"reply to someone else", msg("agreed", replyingTo("u2")), Ignore},
		{"unresolved reply with mention", msg("<@"+self+"> what is this?", mentioning, replyingToUnresolved), MentionDirect},
		{"unresolved reply with bare mention", msg("<@"+self+">", mentioning, replyingToUnresolved), Ignore},
		{"unresolved reply without mention", msg("what is this?", replyingToUnresolved), Ignore},
		{"always respond", msg("anyone there?", inLoud), AlwaysRespond},
		{"mention in always-respond channel", msg("<@"+self+"> hi", mentioning, inLoud), MentionDirect},
		{"empty in always-respond channel", msg("  ", inLoud), Ignore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(context.Background(), tt.msg, self); got != tt.want {
				t.Errorf("Classify = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyConsultsAlwaysRespondLast(t *testing.T) {
	t.Parallel()

	calls := 0
	c := &Classifier{
		Prefixes: []string{"!"},
		AlwaysRespond: func(context.Context, string, string) bool {
			calls++
			return true
		},
	}
	c.Classify(context.Background(), msg("!help"), self)
	c.Classify(context.Background(), msg("<@"+self+"> hi", mentioning), self)
	if calls != 0 {
		t.Errorf("always-respond lookup ran %d times for claimed messages", calls)
	}
	c.Classify(context.Background(), msg("hi"), self)
	if calls != 1 {
		t.Errorf("always-respond lookup ran %d times, want 1", calls)
	}
}

func TestMatchPrefix(t *testing.T) {
	t.Parallel()

	if p, ok := MatchPrefix("!!roll", []string{"!", "!!"}); !ok || p != "!!" {
		t.Errorf("MatchPrefix = %q, %v", p, ok)
	}
	if _, ok := MatchPrefix("hello", []string{"!", ""}); ok {
		t.Error("empty prefix matched")
	}
}

func TestCleanContent(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"<@" + self + "> hi there":     "hi there",
		"hey <@!" + self + ">  ,  you": "hey , you",
		"<@" + self + ">":              "",
		"<@123> hi":                    "<@123> hi",
	}
	for in, want := range tests {
		if got := CleanContent(in, self); got != want {
			t.Errorf("CleanContent(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestKindString(t *testing.T) {
	t.Parallel()

	for k, want := range map[Kind]string{
		Ignore: "ignore", Command: "command", MentionReply: "mention_reply",
		MentionDirect: "mention_direct", AlwaysRespond: "always_respond",
	} {
		if k.String() != want {
			t.Errorf("%d.String() = %q", k, k.String())
		}
	}
}
