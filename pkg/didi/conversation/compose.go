package conversation

import (
	"errors"
	"fmt"
	"time"

	"github.com/jholhewres/didicogs/pkg/didi/gemini"
)

// Prune returns the entries still visible at now: entries older than
// now-maxAge are dropped (when maxAge > 0), future-dated entries are dropped,
// and leading assistant entries orphaned by pruning are removed so the
// history starts on a user turn. The input slice is not modified.
func Prune(messages []Message, now time.Time, maxAge time.Duration) []Message {
	var cutoff time.Time
	if maxAge > 0 {
		cutoff = now.Add(-maxAge)
	}

	out := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Timestamp.After(now) {
			continue
		}
		if maxAge > 0 && msg.Timestamp.Before(cutoff) {
			continue
		}
		if len(out) == 0 && msg.Role == RoleAssistant {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// Compose converts history into provider turns. Gemini has no system role
// on this endpoint, so the system prompt is prepended as text to the first
// turn, once, for standard and ephemeral requests alike.
func Compose(systemPrompt string, messages []Message) []gemini.Content {
	contents := make([]gemini.Content, 0, len(messages))
	for _, msg := range messages {
		role := gemini.RoleUser
		if msg.Role == RoleAssistant {
			role = gemini.RoleModel
		}
		contents = append(contents, gemini.Text(role, msg.Content))
	}
	if systemPrompt != "" {
		if len(contents) == 0 {
			return []gemini.Content{gemini.Text(gemini.RoleUser, systemPrompt)}
		}
		first := contents[0].Parts[0].Text
		contents[0] = gemini.Text(contents[0].Role, systemPrompt+"\n"+first)
	}
	return contents
}

// EphemeralMessages builds the transient context of a reply-triggered query.
func EphemeralMessages(req EphemeralRequest) []Message {
	referenced := req.ReferencedContent
	if req.ReferencedAuthor != "" {
		referenced = fmt.Sprintf("%s said: %s", req.ReferencedAuthor, req.ReferencedContent)
	}
	question := req.Question
	if req.AuthorName != "" {
		question = fmt.Sprintf("%s asks: %s", req.AuthorName, req.Question)
	}
	return []Message{
		{Role: RoleUser, Content: referenced},
		{Role: RoleUser, Content: question},
	}
}

// User-facing texts for each outcome.
const (
	MsgMissingCredentials = "⚠️ No API key set. Use `gemini apiset <API_KEY>` first."
	MsgOverloaded         = "⚠️ Model overloaded, please try again soon"
	MsgMalformed          = "⚠️ Gemini API returned an unexpected response."
	MsgInternal           = "❌ Something went wrong while handling that message."
)

// UserMessage renders a Chat/Ask error as chat text.
func UserMessage(err error) string {
	var (
		se *gemini.StatusError
		te *gemini.TransportError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, gemini.ErrMissingCredentials):
		return MsgMissingCredentials
	case errors.Is(err, gemini.ErrOverloaded):
		return MsgOverloaded
	case errors.Is(err, gemini.ErrMalformedResponse):
		return MsgMalformed
	case errors.As(err, &se):
		return fmt.Sprintf("❌ Error %d: %s", se.Status, se.Body)
	case errors.As(err, &te):
		return fmt.Sprintf("❌ Could not reach Gemini: %v", te.Err)
	default:
		return MsgInternal
	}
}
