package wizard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/didicogs/pkg/didi/channels"
)

type outbox struct {
	mu    sync.Mutex
	texts []string
}

func (o *outbox) send(_ context.Context, _ string, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.texts = append(o.texts, text)
	return nil
}

func (o *outbox) last() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.texts) == 0 {
		return ""
	}
	return o.texts[len(o.texts)-1]
}

func newManager() (*Manager, *outbox) {
	o := &outbox{}
	return NewManager(o.send, slog.New(slog.NewTextHandler(io.Discard, nil))), o
}

var owner = Key{ChannelID: "c1", UserID: "u1"}

func answer(key Key, text string) *channels.IncomingMessage {
	return &channels.IncomingMessage{ChannelID: key.ChannelID, Author: channels.Author{ID: key.UserID}, Content: text}
}

// numberFlow asks for two numbers and records them.
func numberFlow(got *[]int) *Flow {
	apply := func(_ context.Context, a string) error {
		n, err := strconv.Atoi(a)
		if err != nil {
			return Invalid("❌ Not a number.")
		}
		*got = append(*got, n)
		return nil
	}
	return &Flow{
		Name:  "numbers",
		Intro: "Let's go.",
		Steps: []Step{
			{Name: "first", Prompt: "First number?", Apply: apply},
			{Name: "second", Prompt: "Second number?", Apply: apply},
		},
		Done: func(context.Context) string { return "done" },
	}
}

func TestFlowCompletes(t *testing.T) {
	t.Parallel()

	m, out := newManager()
	var got []int
	s, err := m.Start(context.Background(), owner, numberFlow(&got))
	if err != nil {
		t.Fatal(err)
	}
	if out.last() != "Let's go.\nFirst number?" {
		t.Errorf("first prompt = %q", out.last())
	}

	if !m.Feed(context.Background(), answer(owner, "one")) {
		t.Fatal("answer not consumed")
	}
	if out.last() != "❌ Not a number.\nFirst number?" || s.Step() != 0 {
		t.Errorf("invalid answer: prompt %q, step %d", out.last(), s.Step())
	}

	m.Feed(context.Background(), answer(owner, "1"))
	if out.last() != "Second number?" {
		t.Errorf("second prompt = %q", out.last())
	}
	m.Feed(context.Background(), answer(owner, " 2 "))

	if s.State() != Completed || out.last() != "done" {
		t.Errorf("state = %v, last = %q", s.State(), out.last())
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("applied = %v", got)
	}
	if m.Active(owner) {
		t.Error("completed session still active")
	}
	if m.Feed(context.Background(), answer(owner, "3")) {
		t.Error("message consumed after completion")
	}
}

func TestFeedIgnoresOtherUsersAndChannels(t *testing.T) {
	t.Parallel()

	m, _ := newManager()
	var got []int
	if _, err := m.Start(context.Background(), owner, numberFlow(&got)); err != nil {
		t.Fatal(err)
	}

	if m.Feed(context.Background(), answer(Key{ChannelID: "c1", UserID: "u2"}, "5")) {
		t.Error("other user's message consumed")
	}
	if m.Feed(context.Background(), answer(Key{ChannelID: "c2", UserID: "u1"}, "5")) {
		t.Error("other channel's message consumed")
	}
	if len(got) != 0 {
		t.Errorf("applied = %v", got)
	}
}

func TestCancelWord(t *testing.T) {
	t.Parallel()

	m, out := newManager()
	var got []int
	s, _ := m.Start(context.Background(), owner, numberFlow(&got))

	m.Feed(context.Background(), answer(owner, "CANCEL"))
	if s.State() != Cancelled || out.last() != MsgCancelled || m.Active(owner) {
		t.Errorf("state = %v, last = %q", s.State(), out.last())
	}
}

func TestStepTimeout(t *testing.T) {
	t.Parallel()

	m, out := newManager()
	m.SetTimeout(30 * time.Millisecond)
	var got []int
	s, _ := m.Start(context.Background(), owner, numberFlow(&got))

	deadline := time.Now().Add(2 * time.Second)
	for s.State() == Running && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.State() != TimedOut {
		t.Fatalf("state = %v, want timed_out", s.State())
	}
	if out.last() != MsgTimedOut {
		t.Errorf("last = %q", out.last())
	}
	if m.Active(owner) {
		t.Error("timed out session still active")
	}
	if m.Feed(context.Background(), answer(owner, "1")) {
		t.Error("late answer consumed")
	}
}

func TestAnswerRearmsTimer(t *testing.T) {
	t.Parallel()

	m, _ := newManager()
	var got []int
	flow := numberFlow(&got)
	flow.Steps[0].Timeout = time.Hour
	flow.Steps[1].Timeout = time.Hour
	s, _ := m.Start(context.Background(), owner, flow)
	m.Feed(context.Background(), answer(owner, "1"))

	time.Sleep(20 * time.Millisecond)
	if s.State() != Running {
		t.Errorf("state = %v, want running", s.State())
	}
	m.Stop()
	if s.State() != Cancelled || m.Len() != 0 {
		t.Errorf("after stop: state = %v, len = %d", s.State(), m.Len())
	}
}

func TestStartReplacesSession(t *testing.T) {
	t.Parallel()

	m, _ := newManager()
	var got []int
	first, _ := m.Start(context.Background(), owner, numberFlow(&got))
	second, _ := m.Start(context.Background(), owner, numberFlow(&got))

	if first.State() != Cancelled || second.State() != Running || m.Len() != 1 {
		t.Errorf("first = %v, second = %v, len = %d", first.State(), second.State(), m.Len())
	}
}

func TestApplyFailureCancels(t *testing.T) {
	t.Parallel()

	m, out := newManager()
	flow := &Flow{Name: "broken", Steps: []Step{{
		Prompt: "?",
		Apply:  func(context.Context, string) error { return errors.New("disk full") },
	}}}
	s, _ := m.Start(context.Background(), owner, flow)
	m.Feed(context.Background(), answer(owner, "x"))
	if s.State() != Cancelled || out.last() != MsgCancelled {
		t.Errorf("state = %v, last = %q", s.State(), out.last())
	}
}

func TestStartRejectsEmptyFlow(t *testing.T) {
	t.Parallel()

	m, _ := newManager()
	if _, err := m.Start(context.Background(), owner, &Flow{Name: "empty"}); err == nil {
		t.Error("empty flow accepted")
	}
}
