// Package cogs defines what a bot plugin looks like and the shared
// dependencies every plugin is built from.
package cogs

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/jholhewres/didicogs/pkg/didi/channels"
	"github.com/jholhewres/didicogs/pkg/didi/commands"
	"github.com/jholhewres/didicogs/pkg/didi/dispatch"
	"github.com/jholhewres/didicogs/pkg/didi/metrics"
	"github.com/jholhewres/didicogs/pkg/didi/scheduler"
	"github.com/jholhewres/didicogs/pkg/didi/settings"
	"github.com/jholhewres/didicogs/pkg/didi/wizard"
)

// Deps are the collaborators shared by all cogs.
type Deps struct {
	Platform  channels.Guilds
	Settings  *settings.Store
	HTTP      *http.Client
	Scheduler *scheduler.Scheduler
	Wizards   *wizard.Manager
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Cog is a plugin contributing commands.
type Cog interface {
	Name() string
	Commands() []*commands.Command
}

// GuildWatcher is implemented by cogs that keep per-guild runtime state.
type GuildWatcher interface {
	GuildsReady(ctx context.Context, guildIDs []string)
	GuildJoined(ctx context.Context, guildID string)
	GuildLeft(ctx context.Context, guildID string)
}

// Listener is implemented by cogs that answer messages which are not
// commands. Listen reports whether the message was answered.
type Listener interface {
	Listen(ctx context.Context, kind dispatch.Kind, msg *channels.IncomingMessage) bool
}

// Reply sends text to the invoking channel as a reply.
func Reply(ctx context.Context, p channels.Channel, inv *commands.Invocation, text string) error {
	return p.Send(ctx, inv.Message.ChannelID, channels.Reply(inv.Message.ID, text))
}
