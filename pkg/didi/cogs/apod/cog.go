package apod

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jholhewres/didicogs/pkg/didi/channels"
	"github.com/jholhewres/didicogs/pkg/didi/cogs"
	"github.com/jholhewres/didicogs/pkg/didi/commands"
	"github.com/jholhewres/didicogs/pkg/didi/metrics"
	"github.com/jholhewres/didicogs/pkg/didi/scheduler"
	"github.com/jholhewres/didicogs/pkg/didi/settings"
	"github.com/jholhewres/didicogs/pkg/didi/wizard"
)

// Namespace is the settings namespace owned by this cog.
const Namespace = "apod"

// Guild setting keys in Namespace.
const (
	KeyChannel     = "channel_id"
	KeyPostTime    = "post_time"
	KeyIncludeInfo = "include_info"
	KeyAPIKey      = "api_key"
)

// DefaultPostTime is the daily post time when a guild has not set one.
const DefaultPostTime = "09:00"

// User-facing texts.
const (
	MsgFetchFailed   = "⚠️ Could not fetch the APOD image."
	MsgInvalidDate   = "❌ Invalid date format. Use DD/MM/YYYY."
	MsgInvalidTime   = "❌ Invalid time format. Use HH:MM (24-hour, UTC)."
	MsgInvalidBool   = "❌ Answer with yes or no."
	MsgNoSuchChannel = "❌ I can't find that channel. Mention it like #general."
)

// Config holds APOD cog configuration.
type Config struct {
	// BaseURL overrides the APOD endpoint.
	BaseURL string `yaml:"base_url"`
}

// Cog is the APOD plugin.
type Cog struct {
	platform  channels.Guilds
	ns        *settings.Namespace
	client    *Client
	scheduler *scheduler.Scheduler
	wizards   *wizard.Manager
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New creates the APOD cog.
func New(deps cogs.Deps, cfg Config) *Cog {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cog{
		platform:  deps.Platform,
		ns:        deps.Settings.Namespace(Namespace),
		client:    NewClient(deps.HTTP, cfg.BaseURL),
		scheduler: deps.Scheduler,
		wizards:   deps.Wizards,
		metrics:   deps.Metrics,
		logger:    logger.With("component", "apod"),
	}
}

// Name returns "apod".
func (c *Cog) Name() string { return "apod" }

// Commands returns the apod and apodset commands.
func (c *Cog) Commands() []*commands.Command {
	return []*commands.Command{
		{
			Name:  "apod",
			Usage: "[DD/MM/YYYY]",
			Help:  "Get the Astronomy Picture of the Day.",
			Run:   c.apodCommand,
		},
		{
			Name:  "apodset",
			Help:  "Settings for APOD.",
			Level: commands.Admin,
			Run:   c.showSettings,
			Subcommands: []*commands.Command{
				{Name: "channel", Usage: "<channel>", Help: "Set the daily post channel.", Run: c.setChannel},
				{Name: "time", Usage: "<HH:MM>", Help: "Set the daily post time (UTC).", Run: c.setTime},
				{Name: "includeinfo", Usage: "<true|false>", Help: "Include the explanation text.", Run: c.setIncludeInfo},
				{Name: "apikey", Usage: "<key>", Help: "Set the NASA API key.", Run: c.setAPIKey},
				{Name: "disable", Help: "Stop daily posts.", Run: c.disable},
				{Name: "wizard", Help: "Configure daily posts step by step.", Run: c.startWizard},
			},
		},
	}
}

// ---------- Commands ----------

func (c *Cog) apodCommand(ctx context.Context, inv *commands.Invocation) (string, error) {
	date := ""
	if arg := inv.Arg(0); arg != "" {
		parsed, err := ParseDate(arg)
		if err != nil {
			return MsgInvalidDate, nil
		}
		date = parsed
	}
	msg := inv.Message
	if err := c.Post(ctx, msg.GuildID, msg.ChannelID, date, true); err != nil {
		c.logger.Warn("apod command failed", "guild", msg.GuildID, "error", err)
	}
	return "", nil
}

func (c *Cog) showSettings(ctx context.Context, inv *commands.Invocation) (string, error) {
	g := c.ns.Guild(inv.Message.GuildID)
	channelID, err := g.GetString(ctx, KeyChannel, "")
	if err != nil {
		return "", err
	}
	postTime, err := g.GetString(ctx, KeyPostTime, DefaultPostTime)
	if err != nil {
		return "", err
	}
	includeInfo, err := g.GetBool(ctx, KeyIncludeInfo, true)
	if err != nil {
		return "", err
	}
	apiKey, err := g.GetString(ctx, KeyAPIKey, "")
	if err != nil {
		return "", err
	}

	channel := "Not set"
	if channelID != "" {
		channel = "<#" + channelID + ">"
	}
	keyState := "Not set"
	if apiKey != "" {
		keyState = "Set"
	}
	next := "Not scheduled"
	if at, ok := c.scheduler.Next(inv.Message.GuildID, time.Now()); ok {
		next = fmt.Sprintf("<t:%d:R>", at.Unix())
	}

	return fmt.Sprintf("**APOD Settings:**\nChannel: %s\nPost Time (UTC): %s\nInclude Info: %t\nAPI Key: %s\nNext Post: %s",
		channel, postTime, includeInfo, keyState, next), nil
}

func (c *Cog) setChannel(ctx context.Context, inv *commands.Invocation) (string, error) {
	if len(inv.Args) == 0 {
		return "", commands.Usagef("missing channel")
	}
	guildID := inv.Message.GuildID
	ch, err := c.platform.ResolveChannel(ctx, guildID, inv.Args[0])
	if err != nil {
		if errors.Is(err, channels.ErrNotFound) {
			return MsgNoSuchChannel, nil
		}
		return "", err
	}
	if err := c.ns.Guild(guildID).Set(ctx, KeyChannel, ch.ID); err != nil {
		return "", err
	}
	if err := c.Restart(ctx, guildID); err != nil {
		return "", err
	}
	return "✅ APOD channel set to " + ch.Mention(), nil
}

func (c *Cog) setTime(ctx context.Context, inv *commands.Invocation) (string, error) {
	if len(inv.Args) == 0 {
		return "", commands.Usagef("missing time")
	}
	t, err := scheduler.ParseTimeOfDay(inv.Args[0])
	if err != nil {
		return MsgInvalidTime, nil
	}
	guildID := inv.Message.GuildID
	if err := c.ns.Guild(guildID).Set(ctx, KeyPostTime, t.String()); err != nil {
		return "", err
	}
	if err := c.Restart(ctx, guildID); err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ APOD post time set to %s UTC.", t), nil
}

func (c *Cog) setIncludeInfo(ctx context.Context, inv *commands.Invocation) (string, error) {
	if len(inv.Args) == 0 {
		return "", commands.Usagef("missing value")
	}
	v, ok := parseBool(inv.Args[0])
	if !ok {
		return "", commands.Usagef("not a boolean")
	}
	if err := c.ns.Guild(inv.Message.GuildID).Set(ctx, KeyIncludeInfo, v); err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Include info set to %t.", v), nil
}

func (c *Cog) setAPIKey(ctx context.Context, inv *commands.Invocation) (string, error) {
	if len(inv.Args) == 0 {
		return "", commands.Usagef("missing key")
	}
	if err := c.ns.Guild(inv.Message.GuildID).Set(ctx, KeyAPIKey, inv.Args[0]); err != nil {
		return "", err
	}
	return "✅ NASA API key set successfully.", nil
}

func (c *Cog) disable(ctx context.Context, inv *commands.Invocation) (string, error) {
	guildID := inv.Message.GuildID
	if err := c.ns.Guild(guildID).Clear(ctx, KeyChannel); err != nil {
		return "", err
	}
	c.scheduler.Cancel(guildID)
	c.metrics.SetScheduledGuilds(c.scheduler.Len())
	return "🛑 Daily APOD posts disabled.", nil
}

func (c *Cog) startWizard(ctx context.Context, inv *commands.Invocation) (string, error) {
	if c.wizards == nil {
		return "", errors.New("apod: wizard manager not configured")
	}
	msg := inv.Message
	key := wizard.Key{ChannelID: msg.ChannelID, UserID: msg.Author.ID}
	if _, err := c.wizards.Start(ctx, key, c.setupFlow(msg.GuildID)); err != nil {
		return "", err
	}
	return "", nil
}

// setupFlow asks for the channel, the time and the info flag, then re-arms
// the guild's schedule.
func (c *Cog) setupFlow(guildID string) *wizard.Flow {
	g := c.ns.Guild(guildID)
	var (
		channel *channels.ChannelInfo
		postAt  scheduler.TimeOfDay
	)
	return &wizard.Flow{
		Name:  "apod-setup",
		Intro: "🔭 Let's set up daily APOD posts. Type `cancel` at any time to stop.",
		Steps: []wizard.Step{
			{
				Name:   "channel",
				Prompt: "Which channel should I post in?",
				Apply: func(ctx context.Context, answer string) error {
					ch, err := c.platform.ResolveChannel(ctx, guildID, answer)
					if errors.Is(err, channels.ErrNotFound) {
						return wizard.Invalid(MsgNoSuchChannel)
					}
					if err != nil {
						return err
					}
					channel = ch
					return nil
				},
			},
			{
				Name:   "time",
				Prompt: "At what time (HH:MM, 24-hour, UTC)?",
				Apply: func(_ context.Context, answer string) error {
					t, err := scheduler.ParseTimeOfDay(answer)
					if err != nil {
						return wizard.Invalid(MsgInvalidTime)
					}
					postAt = t
					return nil
				},
			},
			{
				Name:   "include_info",
				Prompt: "Include the explanation text? (yes/no)",
				Apply: func(ctx context.Context, answer string) error {
					v, ok := parseBool(answer)
					if !ok {
						return wizard.Invalid(MsgInvalidBool)
					}
					for _, kv := range []struct {
						key   string
						value any
					}{
						{KeyChannel, channel.ID},
						{KeyPostTime, postAt.String()},
						{KeyIncludeInfo, v},
					} {
						if err := g.Set(ctx, kv.key, kv.value); err != nil {
							return err
						}
					}
					return c.Restart(ctx, guildID)
				},
			},
		},
		Done: func(context.Context) string {
			return fmt.Sprintf("✅ APOD will be posted in %s every day at %s UTC.", channel.Mention(), postAt)
		},
	}
}

// ---------- Posting ----------

// Post fetches a picture and sends it to a channel. On failure the channel
// gets a warning and the error is returned.
func (c *Cog) Post(ctx context.Context, guildID, channelID, date string, includeInfo bool) error {
	apiKey, err := c.ns.Guild(guildID).GetString(ctx, KeyAPIKey, "")
	if err != nil {
		return fmt.Errorf("apod: load api key: %w", err)
	}

	start := time.Now()
	pic, err := c.client.Fetch(ctx, apiKey, date)
	c.metrics.ObserveProvider("apod", time.Since(start))
	if err != nil {
		if sendErr := c.platform.Send(ctx, channelID, channels.Text(MsgFetchFailed)); sendErr != nil {
			c.logger.Warn("failed to send fetch warning", "channel", channelID, "error", sendErr)
		}
		return err
	}

	out := &channels.OutgoingMessage{Embed: Embed(pic, includeInfo)}
	if !c.platform.CanEmbed(ctx, channelID) {
		out = channels.Text(PlainText(pic, includeInfo))
	}
	if err := c.platform.Send(ctx, channelID, out); err != nil {
		return fmt.Errorf("apod: send: %w", err)
	}
	return nil
}

// scheduledPost is the daily callback.
func (c *Cog) scheduledPost(ctx context.Context, guildID, channelID string) error {
	includeInfo, err := c.ns.Guild(guildID).GetBool(ctx, KeyIncludeInfo, true)
	if err != nil {
		c.metrics.ObservePost("error")
		return err
	}
	if err := c.Post(ctx, guildID, channelID, "", includeInfo); err != nil {
		c.metrics.ObservePost("error")
		return err
	}
	c.metrics.ObservePost("success")
	return nil
}

// ---------- Scheduling ----------

// Restart re-reads a guild's settings and re-arms (or cancels) its daily
// post.
func (c *Cog) Restart(ctx context.Context, guildID string) error {
	entry, err := c.entry(ctx, guildID, "")
	if err != nil {
		return err
	}
	defer func() { c.metrics.SetScheduledGuilds(c.scheduler.Len()) }()
	if entry.ChannelID == "" {
		c.scheduler.Cancel(guildID)
		return nil
	}
	return c.scheduler.Schedule(guildID, entry.ChannelID, entry.TimeOfDay, c.scheduledPost)
}

// GuildsReady arms every listed guild that has a persisted channel.
func (c *Cog) GuildsReady(ctx context.Context, guildIDs []string) {
	configured, err := c.ns.Scan(ctx, settings.ScopeGuild, KeyChannel)
	if err != nil {
		c.logger.Error("failed to scan schedules", "error", err)
		return
	}

	entries := make([]scheduler.Entry, 0, len(guildIDs))
	for _, guildID := range guildIDs {
		var channelID string
		if raw, ok := configured[guildID]; ok {
			if err := json.Unmarshal(raw, &channelID); err != nil {
				c.logger.Warn("bad stored channel", "guild", guildID, "error", err)
				continue
			}
		}
		entry, err := c.entry(ctx, guildID, channelID)
		if err != nil {
			c.logger.Warn("skipping guild schedule", "guild", guildID, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	c.scheduler.Reconcile(entries, c.scheduledPost)
	c.metrics.SetScheduledGuilds(c.scheduler.Len())
}

// GuildJoined arms a guild that (re)joined.
func (c *Cog) GuildJoined(ctx context.Context, guildID string) {
	if err := c.Restart(ctx, guildID); err != nil {
		c.logger.Warn("failed to arm joined guild", "guild", guildID, "error", err)
	}
}

// GuildLeft disarms a guild the bot was removed from.
func (c *Cog) GuildLeft(_ context.Context, guildID string) {
	if c.scheduler.Cancel(guildID) {
		c.logger.Info("schedule cancelled after leaving guild", "guild", guildID)
	}
	c.metrics.SetScheduledGuilds(c.scheduler.Len())
}

// entry builds a guild's schedule entry; channelID is read from settings
// when empty.
func (c *Cog) entry(ctx context.Context, guildID, channelID string) (scheduler.Entry, error) {
	g := c.ns.Guild(guildID)
	if channelID == "" {
		var err error
		if channelID, err = g.GetString(ctx, KeyChannel, ""); err != nil {
			return scheduler.Entry{}, err
		}
	}
	raw, err := g.GetString(ctx, KeyPostTime, DefaultPostTime)
	if err != nil {
		return scheduler.Entry{}, err
	}
	t, err := scheduler.ParseTimeOfDay(raw)
	if err != nil {
		return scheduler.Entry{}, fmt.Errorf("guild %s post_time %q: %w", guildID, raw, err)
	}
	return scheduler.Entry{GuildID: guildID, ChannelID: channelID, TimeOfDay: t}, nil
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "on", "1", "enable", "enabled":
		return true, true
	case "false", "no", "n", "off", "0", "disable", "disabled":
		return false, true
	}
	return false, false
}

var (
	_ cogs.Cog          = (*Cog)(nil)
	_ cogs.GuildWatcher = (*Cog)(nil)
)
