// Package wizard runs multi-step setup conversations as explicit state
// machines. A session belongs to one user in one channel; each answer is fed
// in by the message dispatcher, never awaited, and every step carries its
// own timeout transition to TimedOut.
package wizard

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jholhewres/didicogs/pkg/didi/channels"
)

// DefaultStepTimeout applies to steps without their own timeout.
const DefaultStepTimeout = 2 * time.Minute

// User-facing texts.
const (
	MsgCancelled = "❌ Setup cancelled."
	MsgTimedOut  = "⌛ Setup timed out. Run the command again to start over."
	MsgCompleted = "✅ Setup complete."
	cancelWord   = "cancel"
)

// State of a session.
type State int

const (
	Running State = iota
	Completed
	Cancelled
	TimedOut
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// InvalidAnswer rejects an answer and repeats the step.
type InvalidAnswer struct{ Message string }

func (e *InvalidAnswer) Error() string { return e.Message }

// Invalid returns an InvalidAnswer with the given user-facing message.
func Invalid(msg string) error { return &InvalidAnswer{Message: msg} }

// Step is one question of a flow.
type Step struct {
	Name   string
	Prompt string

	// Apply validates and stores the answer. An *InvalidAnswer re-prompts;
	// any other error cancels the session.
	Apply func(ctx context.Context, answer string) error

	// Timeout overrides the manager default.
	Timeout time.Duration
}

// Flow is a finite sequence of steps.
type Flow struct {
	Name  string
	Intro string
	Steps []Step

	// Done renders the completion message; MsgCompleted when nil.
	Done func(ctx context.Context) string
}

// Key identifies the owner of a session.
type Key struct {
	ChannelID string
	UserID    string
}

// Sender delivers wizard text to a channel.
type Sender func(ctx context.Context, channelID, text string) error

// Session is one running flow.
type Session struct {
	ID string

	key  Key
	flow *Flow

	mu    sync.Mutex
	step  int
	state State
	timer *time.Timer
	gen   int
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Step returns the index of the current step.
func (s *Session) Step() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// Manager owns the active sessions.
type Manager struct {
	send    Sender
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[Key]*Session
}

// NewManager creates a Manager.
func NewManager(send Sender, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		send:     send,
		timeout:  DefaultStepTimeout,
		logger:   logger.With("component", "wizard"),
		sessions: make(map[Key]*Session),
	}
}

// SetTimeout changes the default step timeout.
func (m *Manager) SetTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = d
}

// Start begins a flow for key, replacing any session it already owns.
func (m *Manager) Start(ctx context.Context, key Key, flow *Flow) (*Session, error) {
	if flow == nil || len(flow.Steps) == 0 {
		return nil, errors.New("wizard: flow has no steps")
	}
	s := &Session{ID: uuid.NewString(), key: key, flow: flow}

	m.mu.Lock()
	old := m.sessions[key]
	m.sessions[key] = s
	m.mu.Unlock()

	if old != nil {
		old.mu.Lock()
		old.finishLocked(Cancelled)
		old.mu.Unlock()
	}

	m.logger.Info("wizard started", "flow", flow.Name, "session", s.ID, "channel", key.ChannelID, "user", key.UserID)

	prompt := flow.Steps[0].Prompt
	if flow.Intro != "" {
		prompt = flow.Intro + "\n" + prompt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m.armLocked(s)
	return s, m.send(ctx, key.ChannelID, prompt)
}

// Active reports whether key owns a running session.
func (m *Manager) Active(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[key]
	return ok
}

// Len returns the number of running sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Feed offers a message to the session its author owns in its channel.
// It reports whether the message was consumed.
func (m *Manager) Feed(ctx context.Context, msg *channels.IncomingMessage) bool {
	key := Key{ChannelID: msg.ChannelID, UserID: msg.Author.ID}

	m.mu.Lock()
	s := m.sessions[key]
	m.mu.Unlock()
	if s == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running {
		return false
	}

	answer := strings.TrimSpace(msg.Content)
	if strings.EqualFold(answer, cancelWord) {
		m.endLocked(s, Cancelled)
		m.reply(ctx, key, MsgCancelled)
		return true
	}

	step := s.flow.Steps[s.step]
	if err := step.Apply(ctx, answer); err != nil {
		var invalid *InvalidAnswer
		if errors.As(err, &invalid) {
			m.armLocked(s)
			m.reply(ctx, key, invalid.Message+"\n"+step.Prompt)
			return true
		}
		m.logger.Error("wizard step failed", "flow", s.flow.Name, "step", step.Name, "session", s.ID, "error", err)
		m.endLocked(s, Cancelled)
		m.reply(ctx, key, MsgCancelled)
		return true
	}

	s.step++
	if s.step < len(s.flow.Steps) {
		m.armLocked(s)
		m.reply(ctx, key, s.flow.Steps[s.step].Prompt)
		return true
	}

	m.endLocked(s, Completed)
	done := MsgCompleted
	if s.flow.Done != nil {
		done = s.flow.Done(ctx)
	}
	m.reply(ctx, key, done)
	return true
}

// Cancel stops the session owned by key without notifying the channel.
func (m *Manager) Cancel(key Key) bool {
	m.mu.Lock()
	s := m.sessions[key]
	m.mu.Unlock()
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m.endLocked(s, Cancelled)
	return true
}

// Stop cancels every session.
func (m *Manager) Stop() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[Key]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		s.finishLocked(Cancelled)
		s.mu.Unlock()
	}
}

// armLocked (re)starts the timer of the current step.
func (m *Manager) armLocked(s *Session) {
	timeout := s.flow.Steps[s.step].Timeout
	if timeout <= 0 {
		m.mu.Lock()
		timeout = m.timeout
		m.mu.Unlock()
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(timeout, func() { m.expire(s, gen) })
}

func (m *Manager) expire(s *Session, gen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running || s.gen != gen {
		return
	}
	m.endLocked(s, TimedOut)
	m.logger.Info("wizard timed out", "flow", s.flow.Name, "session", s.ID, "step", s.step)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	m.reply(ctx, s.key, MsgTimedOut)
}

// endLocked finishes the session and drops it from the manager.
func (m *Manager) endLocked(s *Session, state State) {
	s.finishLocked(state)
	m.mu.Lock()
	if m.sessions[s.key] == s {
		delete(m.sessions, s.key)
	}
	m.mu.Unlock()
}

func (s *Session) finishLocked(state State) {
	if s.state != Running {
		return
	}
	s.state = state
	if s.timer != nil {
		s.timer.Stop()
	}
}

func (m *Manager) reply(ctx context.Context, key Key, text string) {
	if err := m.send(ctx, key.ChannelID, text); err != nil {
		m.logger.Warn("wizard send failed", "channel", key.ChannelID, "error", err)
	}
}
