// Package cogstest builds cog dependencies backed by in-memory fakes and a
// temporary SQLite settings store.
package cogstest

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/jholhewres/didicogs/pkg/didi/channels"
	"github.com/jholhewres/didicogs/pkg/didi/channels/channelstest"
	"github.com/jholhewres/didicogs/pkg/didi/cogs"
	"github.com/jholhewres/didicogs/pkg/didi/commands"
	"github.com/jholhewres/didicogs/pkg/didi/scheduler"
	"github.com/jholhewres/didicogs/pkg/didi/settings"
	"github.com/jholhewres/didicogs/pkg/didi/wizard"
)

// SelfID is the bot user ID of the fake platform.
const SelfID = "900000000000000001"

// GuildID is the guild used by Message.
const GuildID = "g1"

// Logger discards everything.
func Logger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// Deps returns dependencies wired to a fake platform. Everything is closed
// when the test ends.
func Deps(t testing.TB) (cogs.Deps, *channelstest.Platform) {
	t.Helper()

	store, err := settings.Open(settings.Config{
		Backend: settings.BackendSQLite,
		Path:    filepath.Join(t.TempDir(), "settings.db"),
	}, Logger())
	if err != nil {
		t.Fatalf("open settings: %v", err)
	}
	platform := channelstest.New(SelfID)
	sched := scheduler.New(Logger())
	wizards := wizard.NewManager(func(ctx context.Context, channelID, text string) error {
		return platform.Send(ctx, channelID, channels.Text(text))
	}, Logger())

	t.Cleanup(func() {
		wizards.Stop()
		sched.Stop()
		store.Close()
	})

	return cogs.Deps{
		Platform:  platform,
		Settings:  store,
		HTTP:      &http.Client{Timeout: 5 * time.Second},
		Scheduler: sched,
		Wizards:   wizards,
		Logger:    Logger(),
	}, platform
}

// Message builds a guild message from author in channel.
func Message(channelID, authorID, content string) *channels.IncomingMessage {
	return &channels.IncomingMessage{
		ID:        "msg-" + authorID,
		GuildID:   GuildID,
		ChannelID: channelID,
		Author:    channels.Author{ID: authorID, Name: authorID},
		Content:   content,
		Timestamp: time.Now(),
	}
}

// Router returns a router with "?" as prefix, owners as bot owners and the
// platform's admin list, with the cog's commands registered.
func Router(p *channelstest.Platform, cog cogs.Cog, owners ...string) *commands.Router {
	r := commands.NewRouter([]string{"?"}, owners, p, Logger())
	r.Register(cog.Commands()...)
	return r
}

// Run handles content as a command from author in channel and returns the
// router response.
func Run(t testing.TB, r *commands.Router, channelID, authorID, content string) string {
	t.Helper()
	res := r.Handle(context.Background(), Message(channelID, authorID, content))
	if !res.Handled {
		t.Fatalf("%q was not handled", content)
	}
	return res.Response
}
