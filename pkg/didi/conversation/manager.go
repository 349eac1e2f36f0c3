package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jholhewres/didicogs/pkg/didi/gemini"
)

// Provider generates a reply from composed turns.
type Provider interface {
	GenerateContent(ctx context.Context, req gemini.Request) (string, error)
}

// Manager runs conversational turns.
type Manager struct {
	store    Store
	provider Provider
	recorder Recorder
	logger   *slog.Logger

	// now is the clock; replaced in tests.
	now func() time.Time

	locks channelLocks
}

// NewManager creates a Manager.
func NewManager(store Store, provider Provider, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    store,
		provider: provider,
		logger:   logger.With("component", "conversation"),
		now:      time.Now,
	}
}

// SetRecorder attaches a metrics recorder.
func (m *Manager) SetRecorder(r Recorder) { m.recorder = r }

// Chat runs a standard turn: resolve settings, load and prune history,
// compose, call the provider and persist the exchange when history is on.
// The returned error is one of the gemini sentinel/typed errors or a store
// error; UserMessage renders any of them for chat.
func (m *Manager) Chat(ctx context.Context, turn Turn) (string, error) {
	unlock := m.locks.lock(turn.ChannelID)
	defer unlock()

	turnID := uuid.NewString()
	logger := m.logger.With("turn", turnID, "guild", turn.GuildID, "channel", turn.ChannelID)

	cfg, err := m.store.Settings(ctx, turn.GuildID, turn.ChannelID)
	if err != nil {
		return "", fmt.Errorf("load settings: %w", err)
	}
	if cfg.APIKey == "" {
		m.observe("chat", gemini.ErrMissingCredentials)
		return "", gemini.ErrMissingCredentials
	}

	now := m.now().UTC()

	var history []Message
	if cfg.UseHistory {
		history, err = m.store.LoadHistory(ctx, turn.ChannelID)
		if err != nil {
			return "", fmt.Errorf("load history: %w", err)
		}
		history = Prune(history, now, cfg.AutoDeleteAfter)
	}

	userMsg := Message{
		Role:      RoleUser,
		Content:   authored(turn.AuthorName, turn.Content),
		Timestamp: now,
	}
	contents := Compose(cfg.SystemPrompt, append(history, userMsg))

	reply, err := m.provider.GenerateContent(ctx, gemini.Request{
		APIKey:   cfg.APIKey,
		Model:    cfg.Model,
		BaseURL:  cfg.BaseURL,
		Contents: contents,
	})
	m.observe("chat", err)
	if err != nil {
		logger.Warn("provider call failed", "history", len(history), "error", err)
		return "", err
	}

	if cfg.UseHistory {
		replyAt := m.now().UTC()
		if replyAt.Before(now) {
			replyAt = now
		}
		history = append(history, userMsg, Message{
			Role:      RoleAssistant,
			Content:   reply,
			Timestamp: replyAt,
		})
		if err := m.store.SaveHistory(ctx, turn.ChannelID, history); err != nil {
			// The reply is still delivered; only persistence failed.
			logger.Error("failed to save history", "error", err)
		}
	}

	logger.Debug("turn completed", "history", len(history), "reply_len", len(reply))
	return reply, nil
}

// Ask runs a reply-triggered ephemeral query. History is neither read nor
// written, so it needs no channel lock.
func (m *Manager) Ask(ctx context.Context, req EphemeralRequest) (string, error) {
	cfg, err := m.store.Settings(ctx, req.GuildID, req.ChannelID)
	if err != nil {
		return "", fmt.Errorf("load settings: %w", err)
	}
	if cfg.APIKey == "" {
		m.observe("ephemeral", gemini.ErrMissingCredentials)
		return "", gemini.ErrMissingCredentials
	}

	contents := Compose(cfg.SystemPrompt, EphemeralMessages(req))
	reply, err := m.provider.GenerateContent(ctx, gemini.Request{
		APIKey:   cfg.APIKey,
		Model:    cfg.Model,
		BaseURL:  cfg.BaseURL,
		Contents: contents,
	})
	m.observe("ephemeral", err)
	if err != nil {
		m.logger.Warn("ephemeral provider call failed", "channel", req.ChannelID, "error", err)
		return "", err
	}
	return reply, nil
}

// Clear drops the channel history.
func (m *Manager) Clear(ctx context.Context, channelID string) error {
	unlock := m.locks.lock(channelID)
	defer unlock()
	return m.store.SaveHistory(ctx, channelID, nil)
}

// History returns the channel history as the next turn would see it.
func (m *Manager) History(ctx context.Context, guildID, channelID string) ([]Message, error) {
	unlock := m.locks.lock(channelID)
	defer unlock()

	cfg, err := m.store.Settings(ctx, guildID, channelID)
	if err != nil {
		return nil, err
	}
	history, err := m.store.LoadHistory(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return Prune(history, m.now().UTC(), cfg.AutoDeleteAfter), nil
}

func (m *Manager) observe(mode string, err error) {
	if m.recorder == nil {
		return
	}
	m.recorder.ObserveTurn(mode, Outcome(err))
}

// Outcome classifies a turn error into a short metrics label.
func Outcome(err error) string {
	var (
		se *gemini.StatusError
		te *gemini.TransportError
	)
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, gemini.ErrMissingCredentials):
		return "missing_credentials"
	case errors.Is(err, gemini.ErrOverloaded):
		return "overloaded"
	case errors.Is(err, gemini.ErrMalformedResponse):
		return "malformed"
	case errors.As(err, &se):
		return "provider_error"
	case errors.As(err, &te):
		return "transport"
	default:
		return "internal"
	}
}

func authored(name, content string) string {
	if name == "" {
		return content
	}
	return name + ": " + content
}

// channelLocks is a keyed mutex set, one per channel.
type channelLocks struct {
	mu    sync.Mutex
	locks map[string]*channelLock
}

type channelLock struct {
	mu   sync.Mutex
	refs int
}

// lock acquires the channel's mutex and returns its release function.
// Entries are dropped once no goroutine holds or waits on them.
func (c *channelLocks) lock(channelID string) func() {
	c.mu.Lock()
	if c.locks == nil {
		c.locks = make(map[string]*channelLock)
	}
	l, ok := c.locks[channelID]
	if !ok {
		l = &channelLock{}
		c.locks[channelID] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, channelID)
		}
		c.mu.Unlock()
	}
}
