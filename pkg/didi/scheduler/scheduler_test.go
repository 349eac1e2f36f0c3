package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noop(context.Context, string, string) error { return nil }

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  TimeOfDay
		ok    bool
	}{
		{"09:00", TimeOfDay{9, 0}, true},
		{"9:05", TimeOfDay{9, 5}, true},
		{"23:59", TimeOfDay{23, 59}, true},
		{" 00:00 ", TimeOfDay{0, 0}, true},
		{"24:00", TimeOfDay{}, false},
		{"12:60", TimeOfDay{}, false},
		{"12:5", TimeOfDay{}, false},
		{"noon", TimeOfDay{}, false},
		{"-1:00", TimeOfDay{}, false},
		{"", TimeOfDay{}, false},
		{"123:00", TimeOfDay{}, false},
	}

	for _, tt := range tests {
		got, err := ParseTimeOfDay(tt.input)
		if tt.ok {
			if err != nil {
				t.Errorf("ParseTimeOfDay(%q) unexpected error: %v", tt.input, err)
				continue
			}
			if got != tt.want {
				t.Errorf("ParseTimeOfDay(%q) = %v, want %v", tt.input, got, tt.want)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidTime) {
			t.Errorf("ParseTimeOfDay(%q) error = %v, want ErrInvalidTime", tt.input, err)
		}
	}
}

func TestNextOccurrence(t *testing.T) {
	t.Parallel()

	nine := TimeOfDay{Hour: 9}
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before today", time.Date(2026, 3, 10, 8, 59, 0, 0, time.UTC), time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)},
		{"after today", time.Date(2026, 3, 10, 9, 1, 0, 0, time.UTC), time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)},
		{"exactly now", time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)},
		{"month rollover", time.Date(2026, 3, 31, 10, 0, 0, 0, time.UTC), time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)},
		{"non-utc input", time.Date(2026, 3, 10, 5, 30, 0, 0, time.FixedZone("BRT", -3*3600)), time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextOccurrence(tt.now, nine)
			if !got.Equal(tt.want) {
				t.Errorf("NextOccurrence(%s) = %s, want %s", tt.now, got, tt.want)
			}
		})
	}
}

func TestScheduleReplacesExistingEntry(t *testing.T) {
	t.Parallel()

	s := New(quietLogger())
	defer s.Stop()

	for i, tod := range []TimeOfDay{{9, 0}, {10, 30}, {23, 15}} {
		if err := s.Schedule("g1", "c1", tod, noop); err != nil {
			t.Fatalf("schedule %d: %v", i, err)
		}
		if got := s.Len(); got != 1 {
			t.Fatalf("after schedule %d: %d live entries, want 1", i, got)
		}
	}

	e, ok := s.Lookup("g1")
	if !ok {
		t.Fatal("guild not armed")
	}
	if e.TimeOfDay != (TimeOfDay{23, 15}) {
		t.Errorf("armed time = %s, want 23:15", e.TimeOfDay)
	}

	if err := s.Schedule("g1", "c2", TimeOfDay{8, 0}, noop); err != nil {
		t.Fatal(err)
	}
	if err := s.Schedule("g2", "c9", TimeOfDay{8, 0}, noop); err != nil {
		t.Fatal(err)
	}
	if got := s.Len(); got != 2 {
		t.Errorf("two guilds: %d live entries, want 2", got)
	}
}

func TestScheduleEmptyChannelCancels(t *testing.T) {
	t.Parallel()

	s := New(quietLogger())
	defer s.Stop()

	if err := s.Schedule("g1", "c1", TimeOfDay{9, 0}, noop); err != nil {
		t.Fatal(err)
	}
	if err := s.Schedule("g1", "", TimeOfDay{9, 0}, noop); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Lookup("g1"); ok {
		t.Error("guild still armed after clearing channel")
	}
	if s.Len() != 0 {
		t.Errorf("live entries = %d, want 0", s.Len())
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	t.Parallel()

	s := New(quietLogger())
	defer s.Stop()

	if s.Cancel("missing") {
		t.Error("Cancel on unknown guild reported true")
	}
	_ = s.Schedule("g1", "c1", TimeOfDay{9, 0}, noop)
	if !s.Cancel("g1") {
		t.Error("Cancel on armed guild reported false")
	}
	if s.Cancel("g1") {
		t.Error("second Cancel reported true")
	}
}

func TestFailingCallbackStaysArmed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cb   Callback
	}{
		{"error", func(context.Context, string, string) error { return errors.New("channel gone") }},
		{"panic", func(context.Context, string, string) error { panic("boom") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(quietLogger())
			defer s.Stop()

			if err := s.Schedule("g1", "c1", TimeOfDay{9, 0}, tt.cb); err != nil {
				t.Fatal(err)
			}
			s.mu.Lock()
			a := s.guilds["g1"]
			s.mu.Unlock()

			s.fire("g1", a)

			if _, ok := s.Lookup("g1"); !ok {
				t.Fatal("guild disarmed after failing callback")
			}
			if s.Len() != 1 {
				t.Errorf("live entries = %d, want 1", s.Len())
			}
			now := time.Date(2026, 3, 10, 9, 0, 30, 0, time.UTC)
			next, _ := s.Next("g1", now)
			if want := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC); !next.Equal(want) {
				t.Errorf("next fire = %s, want %s", next, want)
			}
		})
	}
}

func TestFireSkipsStaleRegistration(t *testing.T) {
	t.Parallel()

	s := New(quietLogger())
	defer s.Stop()

	var calls atomic.Int32
	cb := func(context.Context, string, string) error {
		calls.Add(1)
		return nil
	}

	_ = s.Schedule("g1", "c1", TimeOfDay{9, 0}, cb)
	s.mu.Lock()
	old := s.guilds["g1"]
	s.mu.Unlock()

	_ = s.Schedule("g1", "c1", TimeOfDay{10, 0}, cb)
	s.fire("g1", old)

	if calls.Load() != 0 {
		t.Errorf("stale registration fired %d times", calls.Load())
	}
}

func TestFireAtMostOncePerPeriod(t *testing.T) {
	t.Parallel()

	s := New(quietLogger())
	defer s.Stop()

	var calls atomic.Int32
	_ = s.Schedule("g1", "c1", TimeOfDay{9, 0}, func(context.Context, string, string) error {
		calls.Add(1)
		return nil
	})
	s.mu.Lock()
	a := s.guilds["g1"]
	s.mu.Unlock()

	s.fire("g1", a)
	s.fire("g1", a)

	if calls.Load() != 1 {
		t.Errorf("callback ran %d times, want 1", calls.Load())
	}
}

func TestReconcile(t *testing.T) {
	t.Parallel()

	s := New(quietLogger())
	defer s.Stop()

	_ = s.Schedule("stale", "c0", TimeOfDay{7, 0}, noop)

	n := s.Reconcile([]Entry{
		{GuildID: "g1", ChannelID: "c1", TimeOfDay: TimeOfDay{9, 0}},
		{GuildID: "g2", ChannelID: "c2", TimeOfDay: TimeOfDay{18, 30}},
		{GuildID: "stale", ChannelID: ""},
	}, noop)

	if n != 2 {
		t.Errorf("armed = %d, want 2", n)
	}
	if s.Len() != 2 {
		t.Errorf("live entries = %d, want 2", s.Len())
	}
	if _, ok := s.Lookup("stale"); ok {
		t.Error("guild without channel left armed")
	}

	// A second pass is idempotent.
	s.Reconcile([]Entry{
		{GuildID: "g1", ChannelID: "c1", TimeOfDay: TimeOfDay{9, 0}},
		{GuildID: "g2", ChannelID: "c2", TimeOfDay: TimeOfDay{18, 30}},
	}, noop)
	if s.Len() != 2 {
		t.Errorf("after second pass: live entries = %d, want 2", s.Len())
	}
}

func TestStopRemovesAllEntries(t *testing.T) {
	t.Parallel()

	s := New(quietLogger())
	s.Start()
	_ = s.Schedule("g1", "c1", TimeOfDay{9, 0}, noop)
	_ = s.Schedule("g2", "c2", TimeOfDay{9, 0}, noop)
	s.Stop()

	if s.Len() != 0 {
		t.Errorf("live entries after Stop = %d, want 0", s.Len())
	}
	if _, ok := s.Lookup("g1"); ok {
		t.Error("guild still tracked after Stop")
	}
}

func TestRestartGivesCallbacksLiveContext(t *testing.T) {
	t.Parallel()

	s := New(quietLogger())
	s.Start()
	s.Stop()
	s.Start()
	defer s.Stop()

	var ctxErr atomic.Value
	_ = s.Schedule("g1", "c1", TimeOfDay{9, 0}, func(ctx context.Context, _, _ string) error {
		ctxErr.Store(fmt.Sprint(ctx.Err()))
		return nil
	})
	s.mu.Lock()
	a := s.guilds["g1"]
	s.mu.Unlock()

	s.fire("g1", a)

	if got := ctxErr.Load(); got != "<nil>" {
		t.Errorf("callback context after restart: err = %v", got)
	}
}
