// Package scheduler implements the per-guild daily posting scheduler.
// Uses robfig/cron for the daily recurrence, one cron entry per guild,
// evaluated in UTC wall-clock time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidTime is returned when a time-of-day string cannot be parsed.
var ErrInvalidTime = errors.New("invalid time format, use HH:MM (24-hour, UTC)")

// TimeOfDay is an hour:minute wall-clock time in UTC.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24-hour). Single-digit hours are accepted.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || hh == "" || len(mm) != 2 || len(hh) > 2 {
		return TimeOfDay{}, fmt.Errorf("%q: %w", s, ErrInvalidTime)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("%q: %w", s, ErrInvalidTime)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("%q: %w", s, ErrInvalidTime)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// String formats the time as "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// cronSpec returns the standard 5-field cron expression firing daily at t.
func (t TimeOfDay) cronSpec() string {
	return fmt.Sprintf("%d %d * * *", t.Minute, t.Hour)
}

// NextOccurrence returns the next time t occurs strictly after now, in UTC:
// today if it has not passed yet, tomorrow otherwise.
func NextOccurrence(now time.Time, t TimeOfDay) time.Time {
	sched, err := cron.ParseStandard(t.cronSpec())
	if err != nil {
		// Only reachable with an out-of-range TimeOfDay built by hand.
		return time.Time{}
	}
	return sched.Next(now.UTC())
}

// Callback is invoked when a guild's daily time arrives.
type Callback func(ctx context.Context, guildID, channelID string) error

// Entry describes one guild's daily schedule.
type Entry struct {
	GuildID   string
	ChannelID string
	TimeOfDay TimeOfDay
}

// armed is a live cron registration for one guild.
type armed struct {
	entry    Entry
	id       cron.EntryID
	schedule cron.Schedule
	callback Callback
	lastRun  time.Time
}

// minFireInterval guards against the same entry firing twice within one
// period when cron.Next(now) == now.
const minFireInterval = 2 * time.Second

// Scheduler owns one daily cron entry per guild.
type Scheduler struct {
	// cron is the real cron scheduler from robfig/cron, running in UTC.
	cron *cron.Cron

	// guilds maps guild IDs to their live registration. At most one per guild.
	guilds map[string]*armed

	// running tracks guilds whose callback is executing.
	running map[string]bool

	// timeout bounds a single callback execution.
	timeout time.Duration

	started bool
	logger  *slog.Logger
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a stopped Scheduler. Entries may be armed before Start.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)),
		),
		guilds:  make(map[string]*armed),
		running: make(map[string]bool),
		timeout: 2 * time.Minute,
		logger:  logger.With("component", "scheduler"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetTimeout overrides the per-callback timeout.
func (s *Scheduler) SetTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.timeout = d
	}
}

// Start begins firing armed entries. A stopped Scheduler can be started
// again; callbacks then get a fresh context.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	if s.ctx.Err() != nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}
	s.cron.Start()
	s.started = true
	s.logger.Info("scheduler started", "guilds", len(s.guilds))
}

// Stop removes every entry and waits (bounded) for running callbacks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for guildID, a := range s.guilds {
		s.cron.Remove(a.id)
		delete(s.guilds, guildID)
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-time.After(10 * time.Second):
		s.logger.Warn("scheduler stop timed out")
	}
	cancel()
	s.logger.Info("scheduler stopped")
}

// Schedule arms (or re-arms) the daily entry for a guild. Any existing entry
// for the guild is removed first, under the same lock, so two entries are
// never live for one guild.
func (s *Scheduler) Schedule(guildID, channelID string, t TimeOfDay, cb Callback) error {
	if guildID == "" {
		return fmt.Errorf("guild ID is required")
	}
	if cb == nil {
		return fmt.Errorf("callback is required")
	}
	if channelID == "" {
		s.Cancel(guildID)
		return nil
	}

	sched, err := cron.ParseStandard(t.cronSpec())
	if err != nil {
		return fmt.Errorf("time %s: %w", t, ErrInvalidTime)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(guildID)

	a := &armed{
		entry:    Entry{GuildID: guildID, ChannelID: channelID, TimeOfDay: t},
		schedule: sched,
		callback: cb,
	}
	a.id = s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(guildID, a) }))
	s.guilds[guildID] = a

	s.logger.Info("guild schedule armed",
		"guild", guildID,
		"channel", channelID,
		"time_utc", t.String(),
		"next", sched.Next(time.Now().UTC()).Format(time.RFC3339),
	)
	return nil
}

// Cancel removes the guild's entry. Returns false when none was armed.
func (s *Scheduler) Cancel(guildID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.removeLocked(guildID)
	if ok {
		s.logger.Info("guild schedule cancelled", "guild", guildID)
	}
	return ok
}

// Reconcile arms an entry for every persisted guild that has a channel, and
// cancels the ones that no longer do. Returns the number of armed guilds.
func (s *Scheduler) Reconcile(entries []Entry, cb Callback) int {
	n := 0
	for _, e := range entries {
		if e.ChannelID == "" {
			s.Cancel(e.GuildID)
			continue
		}
		if err := s.Schedule(e.GuildID, e.ChannelID, e.TimeOfDay, cb); err != nil {
			s.logger.Warn("skipping guild with invalid schedule", "guild", e.GuildID, "error", err)
			continue
		}
		n++
	}
	s.logger.Info("schedules reconciled", "armed", n, "seen", len(entries))
	return n
}

// Lookup returns the guild's armed entry.
func (s *Scheduler) Lookup(guildID string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.guilds[guildID]
	if !ok {
		return Entry{}, false
	}
	return a.entry, true
}

// Next returns the next fire time for the guild after now.
func (s *Scheduler) Next(guildID string, now time.Time) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.guilds[guildID]
	if !ok {
		return time.Time{}, false
	}
	return a.schedule.Next(now.UTC()), true
}

// Len returns the number of live cron entries.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// removeLocked drops the guild's cron entry. Caller holds s.mu.
func (s *Scheduler) removeLocked(guildID string) bool {
	a, ok := s.guilds[guildID]
	if !ok {
		return false
	}
	s.cron.Remove(a.id)
	delete(s.guilds, guildID)
	return true
}

// fire runs a guild's callback with the safety guards:
//   - stale registrations (replaced or cancelled) are skipped
//   - a guild never runs two callbacks concurrently
//   - errors and panics are logged and never disarm the entry
func (s *Scheduler) fire(guildID string, a *armed) {
	s.mu.Lock()
	if cur, ok := s.guilds[guildID]; !ok || cur != a {
		s.mu.Unlock()
		return
	}
	if s.running[guildID] {
		s.mu.Unlock()
		s.logger.Warn("skipping fire (already running)", "guild", guildID)
		return
	}
	if !a.lastRun.IsZero() && time.Since(a.lastRun) < minFireInterval {
		s.mu.Unlock()
		s.logger.Debug("skipping fire (ran too recently)", "guild", guildID)
		return
	}
	s.running[guildID] = true
	a.lastRun = time.Now()
	entry := a.entry
	timeout := s.timeout
	base := s.ctx
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, guildID)
		s.mu.Unlock()

		if r := recover(); r != nil {
			s.logger.Error("scheduled post panicked", "guild", guildID, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(base, timeout)
	defer cancel()

	start := time.Now()
	if err := a.callback(ctx, entry.GuildID, entry.ChannelID); err != nil {
		s.logger.Error("scheduled post failed",
			"guild", guildID, "channel", entry.ChannelID, "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Info("scheduled post completed",
		"guild", guildID, "channel", entry.ChannelID, "duration", time.Since(start))
}
