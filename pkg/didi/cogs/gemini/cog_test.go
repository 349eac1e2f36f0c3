package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/jholhewres/didicogs/pkg/didi/channels"
	"github.com/jholhewres/didicogs/pkg/didi/channels/channelstest"
	"github.com/jholhewres/didicogs/pkg/didi/cogs/cogstest"
	"github.com/jholhewres/didicogs/pkg/didi/commands"
	"github.com/jholhewres/didicogs/pkg/didi/conversation"
	"github.com/jholhewres/didicogs/pkg/didi/dispatch"
	api "github.com/jholhewres/didicogs/pkg/didi/gemini"
)

const (
	admin   = "admin"
	member  = "member"
	channel = "200000000000000001"
)

// fakeGemini answers generateContent with a numbered reply.
type fakeGemini struct {
	srv *httptest.Server

	mu       sync.Mutex
	status   int
	calls    int
	path     string
	contents []api.Content
}

func newFakeGemini(t *testing.T) *fakeGemini {
	t.Helper()
	f := &fakeGemini{status: http.StatusOK}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Contents []api.Content `json:"contents"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		f.calls++
		f.path = r.URL.Path
		f.contents = body.Contents
		status, n := f.status, f.calls
		f.mu.Unlock()

		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte("nope"))
			return
		}
		fmt.Fprintf(w, `{"candidates":[{"content":{"parts":[{"text":"reply %d"}]}}]}`, n)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGemini) last() (string, []api.Content, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path, f.contents, f.calls
}

func (f *fakeGemini) setStatus(code int) {
	f.mu.Lock()
	f.status = code
	f.mu.Unlock()
}

func setup(t *testing.T) (*Cog, *channelstest.Platform, *commands.Router, *fakeGemini) {
	t.Helper()
	f := newFakeGemini(t)
	deps, p := cogstest.Deps(t)
	p.Admins[admin] = true
	cog := New(deps, api.Config{BaseURL: f.srv.URL})
	return cog, p, cogstest.Router(p, cog), f
}

func mention(content string) string { return "<@" + cogstest.SelfID + "> " + content }

func TestSettingsRequireAdmin(t *testing.T) {
	t.Parallel()

	_, _, r, _ := setup(t)
	for _, cmd := range []string{
		"?gemini apiset k", "?gemini model m", "?gemini system hi",
		"?gemini togglehistory", "?gemini alwaysrespond", "?gemini autodelete 3", "?gemini clear",
	} {
		if got := cogstest.Run(t, r, channel, member, cmd); got != commands.MsgPermissionDenied {
			t.Errorf("%s: %q", cmd, got)
		}
	}
}

func TestChatWithoutKey(t *testing.T) {
	t.Parallel()

	_, _, r, f := setup(t)
	if got := cogstest.Run(t, r, channel, member, "?gemini chat hello"); got != conversation.MsgMissingCredentials {
		t.Errorf("response = %q", got)
	}
	if _, _, calls := f.last(); calls != 0 {
		t.Errorf("provider called %d times without a key", calls)
	}
}

func TestChatKeepsHistory(t *testing.T) {
	t.Parallel()

	cog, p, r, f := setup(t)
	cogstest.Run(t, r, channel, admin, "?gemini apiset secret")
	cogstest.Run(t, r, channel, admin, "?gemini model gemini-2.0-flash")
	cogstest.Run(t, r, channel, admin, "?gemini system Be brief.")

	if got := cogstest.Run(t, r, channel, member, "?gemini chat hello there"); got != "reply 1" {
		t.Fatalf("first reply = %q", got)
	}
	if got := cogstest.Run(t, r, channel, member, "?gemini chat and again"); got != "reply 2" {
		t.Fatalf("second reply = %q", got)
	}

	path, contents, _ := f.last()
	if path != "/models/gemini-2.0-flash:generateContent" {
		t.Errorf("path = %q", path)
	}
	if len(contents) != 3 {
		t.Fatalf("contents = %d, want 3", len(contents))
	}
	if got := contents[0].Parts[0].Text; got != "Be brief.\nmember: hello there" {
		t.Errorf("first turn = %q", got)
	}
	if contents[1].Role != api.RoleModel || contents[2].Parts[0].Text != "member: and again" {
		t.Errorf("contents = %+v", contents)
	}
	if p.Typing() == 0 {
		t.Error("no typing indicator")
	}

	history, err := cog.manager.History(context.Background(), cogstest.GuildID, channel)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 4 {
		t.Errorf("history = %d entries, want 4", len(history))
	}
	for _, m := range history {
		if strings.Contains(m.Content, "Be brief.") {
			t.Error("system prompt persisted into history")
		}
	}

	got := cogstest.Run(t, r, channel, member, "?gemini settings")
	for _, want := range []string{"API Key: Set", "Model: `gemini-2.0-flash`", "System Prompt: Be brief.", "History: enabled (4 messages)", "Always Respond: disabled"} {
		if !strings.Contains(got, want) {
			t.Errorf("settings missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "secret") {
		t.Error("settings leak the API key")
	}

	cogstest.Run(t, r, channel, admin, "?gemini clear")
	if history, _ := cog.manager.History(context.Background(), cogstest.GuildID, channel); len(history) != 0 {
		t.Errorf("history after clear = %d", len(history))
	}
}

func TestToggles(t *testing.T) {
	t.Parallel()

	cog, _, r, _ := setup(t)
	ctx := context.Background()

	if got := cogstest.Run(t, r, channel, admin, "?gemini togglehistory"); !strings.Contains(got, "**disabled**") {
		t.Errorf("togglehistory = %q", got)
	}
	if got := cogstest.Run(t, r, channel, admin, "?gemini alwaysrespond"); !strings.Contains(got, "**enabled**") {
		t.Errorf("alwaysrespond = %q", got)
	}
	if !cog.AlwaysRespond(ctx, cogstest.GuildID, channel) {
		t.Error("always-respond not stored")
	}
	if cog.AlwaysRespond(ctx, cogstest.GuildID, "other") {
		t.Error("always-respond leaked to another channel")
	}
	if got := cogstest.Run(t, r, channel, admin, "?gemini autodelete soon"); got != MsgInvalidDays {
		t.Errorf("autodelete = %q", got)
	}
	for _, days := range []string{"-1", "36501", "213504"} {
		if got := cogstest.Run(t, r, channel, admin, "?gemini autodelete "+days); got != MsgInvalidDays {
			t.Errorf("autodelete %s = %q", days, got)
		}
	}
	cogstest.Run(t, r, channel, admin, "?gemini autodelete 36500")
	if got := cogstest.Run(t, r, channel, admin, "?gemini settings"); !strings.Contains(got, "Auto Delete: 36500 day(s)") {
		t.Errorf("settings at the cap = %q", got)
	}
	cogstest.Run(t, r, channel, admin, "?gemini autodelete 7")
	if got := cogstest.Run(t, r, channel, admin, "?gemini settings"); !strings.Contains(got, "Auto Delete: 7 day(s)") {
		t.Errorf("settings = %q", got)
	}
	if got := cogstest.Run(t, r, channel, admin, "?gemini system"); got != "🧹 System prompt cleared for this channel." {
		t.Errorf("system clear = %q", got)
	}
	if got := cogstest.Run(t, r, channel, admin, "?gemini baseurl ftp://x"); !strings.HasPrefix(got, "❌") {
		t.Errorf("baseurl = %q", got)
	}
}

func TestListen(t *testing.T) {
	t.Parallel()

	cog, p, r, f := setup(t)
	ctx := context.Background()
	cogstest.Run(t, r, channel, admin, "?gemini apiset secret")

	msg := cogstest.Message(channel, member, mention("what is a pulsar?"))
	if !cog.Listen(ctx, dispatch.MentionDirect, msg) {
		t.Fatal("mention not handled")
	}
	sent := p.Last()
	if sent.Message.Content != "reply 1" || sent.Message.ReplyTo != msg.ID {
		t.Errorf("sent = %+v", sent.Message)
	}
	if _, contents, _ := f.last(); contents[0].Parts[0].Text != "member: what is a pulsar?" {
		t.Errorf("turn = %q", contents[0].Parts[0].Text)
	}

	reply := cogstest.Message(channel, member, mention("is this right?"))
	reply.Reference = &channels.Reference{MessageID: "m0", AuthorID: "u2", AuthorName: "Bob", Content: "Pluto is a planet"}
	cog.Listen(ctx, dispatch.MentionReply, reply)
	_, contents, _ := f.last()
	if len(contents) != 2 || contents[0].Parts[0].Text != "Bob said: Pluto is a planet" || contents[1].Parts[0].Text != "member asks: is this right?" {
		t.Errorf("ephemeral contents = %+v", contents)
	}
	if history, _ := cog.manager.History(ctx, cogstest.GuildID, channel); len(history) != 2 {
		t.Errorf("ephemeral query touched history: %d entries", len(history))
	}

	if cog.Listen(ctx, dispatch.Command, msg) {
		t.Error("command kind handled by listener")
	}
}

func TestListenProviderErrors(t *testing.T) {
	t.Parallel()

	cog, p, r, f := setup(t)
	ctx := context.Background()
	cogstest.Run(t, r, channel, admin, "?gemini apiset secret")

	f.setStatus(http.StatusServiceUnavailable)
	cog.Listen(ctx, dispatch.AlwaysRespond, cogstest.Message(channel, member, "hi"))
	if got := p.Last().Message.Content; got != conversation.MsgOverloaded {
		t.Errorf("overloaded = %q", got)
	}

	f.setStatus(http.StatusBadRequest)
	cog.Listen(ctx, dispatch.AlwaysRespond, cogstest.Message(channel, member, "hi"))
	if got := p.Last().Message.Content; got != "❌ Error 400: nope" {
		t.Errorf("status error = %q", got)
	}

	if history, _ := cog.manager.History(ctx, cogstest.GuildID, channel); len(history) != 0 {
		t.Errorf("failed turns persisted %d entries", len(history))
	}
}
