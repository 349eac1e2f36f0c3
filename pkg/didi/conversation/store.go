package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jholhewres/didicogs/pkg/didi/settings"
)

// Setting keys in the "gemini" namespace.
const (
	KeyAPIKey         = "api_key"
	KeyModel          = "model"
	KeyBaseURL        = "base_url"
	KeyHistory        = "history"
	KeySystemPrompt   = "system_prompt"
	KeyUseHistory     = "use_history"
	KeyAlwaysRespond  = "always_respond"
	KeyAutoDeleteDays = "auto_delete_days"
)

// MaxAutoDeleteDays bounds the history age limit so the duration cannot
// overflow.
const MaxAutoDeleteDays = 36500

// ErrAutoDeleteRange is returned by SetAutoDelete above MaxAutoDeleteDays.
var ErrAutoDeleteRange = fmt.Errorf("auto-delete days must be at most %d", MaxAutoDeleteDays)

// SettingsStore keeps conversation state in the settings database.
type SettingsStore struct {
	ns           *settings.Namespace
	defaultModel string
}

// NewSettingsStore creates a Store over the given namespace.
func NewSettingsStore(ns *settings.Namespace, defaultModel string) *SettingsStore {
	return &SettingsStore{ns: ns, defaultModel: defaultModel}
}

// Settings resolves guild and channel settings.
func (s *SettingsStore) Settings(ctx context.Context, guildID, channelID string) (Settings, error) {
	guild := s.ns.Guild(guildID)
	channel := s.ns.Channel(channelID)

	cfg := Settings{Model: s.defaultModel, UseHistory: true}
	var days int
	for _, read := range []struct {
		g   settings.Group
		key string
		dst any
	}{
		{guild, KeyAPIKey, &cfg.APIKey},
		{guild, KeyModel, &cfg.Model},
		{guild, KeyBaseURL, &cfg.BaseURL},
		{channel, KeySystemPrompt, &cfg.SystemPrompt},
		{channel, KeyUseHistory, &cfg.UseHistory},
		{channel, KeyAlwaysRespond, &cfg.AlwaysRespond},
		{channel, KeyAutoDeleteDays, &days},
	} {
		if _, err := read.g.Get(ctx, read.key, read.dst); err != nil {
			return Settings{}, err
		}
	}
	if days > 0 {
		cfg.AutoDeleteAfter = time.Duration(min(days, MaxAutoDeleteDays)) * 24 * time.Hour
	}
	return cfg, nil
}

// LoadHistory returns the stored history of a channel.
func (s *SettingsStore) LoadHistory(ctx context.Context, channelID string) ([]Message, error) {
	var history []Message
	if _, err := s.ns.Channel(channelID).Get(ctx, KeyHistory, &history); err != nil {
		return nil, err
	}
	return history, nil
}

// SaveHistory replaces the stored history of a channel.
func (s *SettingsStore) SaveHistory(ctx context.Context, channelID string, messages []Message) error {
	if len(messages) == 0 {
		return s.ns.Channel(channelID).Clear(ctx, KeyHistory)
	}
	return s.ns.Channel(channelID).Set(ctx, KeyHistory, messages)
}

// SetGuild stores a guild-level provider setting (api_key, model, base_url).
func (s *SettingsStore) SetGuild(ctx context.Context, guildID, key, value string) error {
	if value == "" {
		return s.ns.Guild(guildID).Clear(ctx, key)
	}
	return s.ns.Guild(guildID).Set(ctx, key, value)
}

// SetSystemPrompt sets or (with "") clears the channel system prompt.
func (s *SettingsStore) SetSystemPrompt(ctx context.Context, channelID, prompt string) error {
	if prompt == "" {
		return s.ns.Channel(channelID).Clear(ctx, KeySystemPrompt)
	}
	return s.ns.Channel(channelID).Set(ctx, KeySystemPrompt, prompt)
}

// ToggleHistory flips history use (default on) and returns the new state.
func (s *SettingsStore) ToggleHistory(ctx context.Context, channelID string) (bool, error) {
	return s.ns.Channel(channelID).Toggle(ctx, KeyUseHistory, true)
}

// ToggleAlwaysRespond flips always-respond (default off) and returns the new state.
func (s *SettingsStore) ToggleAlwaysRespond(ctx context.Context, channelID string) (bool, error) {
	return s.ns.Channel(channelID).Toggle(ctx, KeyAlwaysRespond, false)
}

// AlwaysRespond reports whether the channel answers every message.
func (s *SettingsStore) AlwaysRespond(ctx context.Context, channelID string) (bool, error) {
	return s.ns.Channel(channelID).GetBool(ctx, KeyAlwaysRespond, false)
}

// SetAutoDelete sets the history age limit in days; 0 disables it.
func (s *SettingsStore) SetAutoDelete(ctx context.Context, channelID string, days int) error {
	if days <= 0 {
		return s.ns.Channel(channelID).Clear(ctx, KeyAutoDeleteDays)
	}
	if days > MaxAutoDeleteDays {
		return ErrAutoDeleteRange
	}
	return s.ns.Channel(channelID).Set(ctx, KeyAutoDeleteDays, days)
}

// MemoryStore is an in-process Store with fixed settings, used by the local
// chat REPL and tests.
type MemoryStore struct {
	mu       sync.Mutex
	settings Settings
	history  map[string][]Message

	// Reads and Writes count history accesses.
	Reads  int
	Writes int
}

// NewMemoryStore creates a MemoryStore returning cfg for every channel.
func NewMemoryStore(cfg Settings) *MemoryStore {
	return &MemoryStore{settings: cfg, history: make(map[string][]Message)}
}

// Configure replaces the settings.
func (s *MemoryStore) Configure(cfg Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = cfg
}

// Settings returns the fixed settings.
func (s *MemoryStore) Settings(context.Context, string, string) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings, nil
}

// LoadHistory returns a copy of the channel history.
func (s *MemoryStore) LoadHistory(_ context.Context, channelID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Reads++
	return append([]Message(nil), s.history[channelID]...), nil
}

// SaveHistory stores a copy of the channel history.
func (s *MemoryStore) SaveHistory(_ context.Context, channelID string, messages []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Writes++
	s.history[channelID] = append([]Message(nil), messages...)
	return nil
}

// Seed sets the history of a channel without counting as a write.
func (s *MemoryStore) Seed(channelID string, messages []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[channelID] = append([]Message(nil), messages...)
}

// Len returns the stored history length of a channel.
func (s *MemoryStore) Len(channelID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history[channelID])
}
