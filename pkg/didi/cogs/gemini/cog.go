// Package gemini is the chat cog: guild and channel settings for the Gemini
// provider, the `gemini` command group, and answers to mentions, replies and
// always-respond channels.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jholhewres/didicogs/pkg/didi/channels"
	"github.com/jholhewres/didicogs/pkg/didi/cogs"
	"github.com/jholhewres/didicogs/pkg/didi/commands"
	"github.com/jholhewres/didicogs/pkg/didi/conversation"
	"github.com/jholhewres/didicogs/pkg/didi/dispatch"
	api "github.com/jholhewres/didicogs/pkg/didi/gemini"
	"github.com/jholhewres/didicogs/pkg/didi/metrics"
)

// typingInterval re-sends the typing indicator, which Discord drops after
// about ten seconds.
const typingInterval = 8 * time.Second

// MsgInvalidDays is returned for a bad autodelete argument.
const MsgInvalidDays = "❌ Days must be a whole number from 0 to 36500, 0 to disable."

// Cog is the Gemini plugin.
type Cog struct {
	platform channels.Guilds
	store    *conversation.SettingsStore
	manager  *conversation.Manager
	logger   *slog.Logger
}

// New creates the cog over the shared HTTP client. cfg holds the defaults a
// guild can override with `gemini model` and `gemini baseurl`.
func New(deps cogs.Deps, cfg api.Config) *Cog {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	model := cfg.Model
	if model == "" {
		model = api.DefaultModel
	}

	store := conversation.NewSettingsStore(deps.Settings.Namespace("gemini"), model)
	client := api.New(deps.HTTP, cfg, logger)
	manager := conversation.NewManager(store, timedProvider{client, deps.Metrics}, logger)
	if deps.Metrics != nil {
		manager.SetRecorder(deps.Metrics)
	}

	return &Cog{
		platform: deps.Platform,
		store:    store,
		manager:  manager,
		logger:   logger.With("component", "gemini-cog"),
	}
}

// Name returns "gemini".
func (c *Cog) Name() string { return "gemini" }

// Commands returns the gemini command group.
func (c *Cog) Commands() []*commands.Command {
	return []*commands.Command{{
		Name: "gemini",
		Help: "Talk with Google Gemini AI.",
		Subcommands: []*commands.Command{
			{Name: "apiset", Usage: "<api_key>", Help: "Set the Gemini API key for this server.", Level: commands.Admin, Run: c.setAPIKey},
			{Name: "model", Usage: "<model>", Help: "Set the Gemini model.", Level: commands.Admin, Run: c.setModel},
			{Name: "baseurl", Usage: "[url]", Help: "Set or reset the API base URL.", Level: commands.Admin, Run: c.setBaseURL},
			{Name: "system", Usage: "[prompt]", Help: "Set or clear the system prompt for this channel.", Level: commands.Admin, Run: c.setSystem},
			{Name: "togglehistory", Help: "Toggle chat history for this channel.", Level: commands.Admin, Run: c.toggleHistory},
			{Name: "alwaysrespond", Help: "Toggle answering every message in this channel.", Level: commands.Admin, Run: c.toggleAlwaysRespond},
			{Name: "autodelete", Usage: "<days>", Help: "Forget history older than N days (0 disables).", Level: commands.Admin, Run: c.setAutoDelete},
			{Name: "clear", Help: "Clear the chat history for this channel.", Level: commands.Admin, Run: c.clear},
			{Name: "chat", Usage: "<message>", Help: "Send a message to Gemini.", Run: c.chat},
			{Name: "settings", Help: "Show the Gemini settings for this channel.", Run: c.showSettings},
		},
	}}
}

// AlwaysRespond reports whether a channel answers every message. Lookup
// failures count as off.
func (c *Cog) AlwaysRespond(ctx context.Context, _, channelID string) bool {
	on, err := c.store.AlwaysRespond(ctx, channelID)
	if err != nil {
		c.logger.Warn("always-respond lookup failed", "channel", channelID, "error", err)
		return false
	}
	return on
}

// Listen answers mentions, replies and always-respond messages.
func (c *Cog) Listen(ctx context.Context, kind dispatch.Kind, msg *channels.IncomingMessage) bool {
	content := dispatch.CleanContent(msg.Content, c.platform.SelfID())

	var run func() (string, error)
	switch kind {
	case dispatch.MentionDirect, dispatch.AlwaysRespond:
		run = func() (string, error) {
			return c.manager.Chat(ctx, conversation.Turn{
				GuildID:    msg.GuildID,
				ChannelID:  msg.ChannelID,
				AuthorName: msg.Author.Name,
				Content:    content,
			})
		}
	case dispatch.MentionReply:
		if !msg.Reference.Resolved() {
			return false
		}
		run = func() (string, error) {
			return c.manager.Ask(ctx, conversation.EphemeralRequest{
				GuildID:           msg.GuildID,
				ChannelID:         msg.ChannelID,
				ReferencedAuthor:  msg.Reference.AuthorName,
				ReferencedContent: msg.Reference.Content,
				AuthorName:        msg.Author.Name,
				Question:          content,
			})
		}
	default:
		return false
	}

	stop := c.typing(ctx, msg.ChannelID)
	reply, err := run()
	stop()
	if err != nil {
		reply = conversation.UserMessage(err)
	}
	if err := c.platform.Send(ctx, msg.ChannelID, channels.Reply(msg.ID, reply)); err != nil {
		c.logger.Error("failed to send reply", "channel", msg.ChannelID, "kind", kind.String(), "error", err)
	}
	return true
}

// typing keeps the typing indicator on until the returned func is called.
func (c *Cog) typing(ctx context.Context, channelID string) func() {
	presence, ok := c.platform.(channels.PresenceChannel)
	if !ok {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()
		for {
			if err := presence.SendTyping(ctx, channelID); err != nil {
				c.logger.Debug("typing indicator failed", "channel", channelID, "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// ---------- Commands ----------

func (c *Cog) setAPIKey(ctx context.Context, inv *commands.Invocation) (string, error) {
	key := inv.Arg(0)
	if key == "" {
		return "", commands.Usagef("missing API key")
	}
	if err := c.store.SetGuild(ctx, inv.Message.GuildID, conversation.KeyAPIKey, key); err != nil {
		return "", err
	}
	return "✅ Gemini API key has been set.", nil
}

func (c *Cog) setModel(ctx context.Context, inv *commands.Invocation) (string, error) {
	model := inv.Arg(0)
	if model == "" {
		return "", commands.Usagef("missing model")
	}
	if err := c.store.SetGuild(ctx, inv.Message.GuildID, conversation.KeyModel, model); err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Gemini model set to `%s`", model), nil
}

func (c *Cog) setBaseURL(ctx context.Context, inv *commands.Invocation) (string, error) {
	raw := inv.Arg(0)
	if raw != "" && !strings.HasPrefix(raw, "https://") && !strings.HasPrefix(raw, "http://") {
		return "❌ The base URL must start with http:// or https://.", nil
	}
	if err := c.store.SetGuild(ctx, inv.Message.GuildID, conversation.KeyBaseURL, raw); err != nil {
		return "", err
	}
	if raw == "" {
		return "🧹 Gemini base URL reset to the default.", nil
	}
	return fmt.Sprintf("✅ Gemini base URL set to `%s`", raw), nil
}

func (c *Cog) setSystem(ctx context.Context, inv *commands.Invocation) (string, error) {
	if err := c.store.SetSystemPrompt(ctx, inv.Message.ChannelID, inv.Rest); err != nil {
		return "", err
	}
	if inv.Rest == "" {
		return "🧹 System prompt cleared for this channel.", nil
	}
	return "✅ System prompt set for this channel:\n```" + inv.Rest + "```", nil
}

func (c *Cog) toggleHistory(ctx context.Context, inv *commands.Invocation) (string, error) {
	on, err := c.store.ToggleHistory(ctx, inv.Message.ChannelID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("📜 Chat history is now **%s** for this channel.", enabled(on)), nil
}

func (c *Cog) toggleAlwaysRespond(ctx context.Context, inv *commands.Invocation) (string, error) {
	on, err := c.store.ToggleAlwaysRespond(ctx, inv.Message.ChannelID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("💬 Always-respond is now **%s** for this channel.", enabled(on)), nil
}

func (c *Cog) setAutoDelete(ctx context.Context, inv *commands.Invocation) (string, error) {
	if inv.Arg(0) == "" {
		return "", commands.Usagef("missing days")
	}
	days, err := strconv.Atoi(inv.Arg(0))
	if err != nil || days < 0 || days > conversation.MaxAutoDeleteDays {
		return MsgInvalidDays, nil
	}
	if err := c.store.SetAutoDelete(ctx, inv.Message.ChannelID, days); err != nil {
		return "", err
	}
	if days == 0 {
		return "♾️ Chat history auto-delete disabled for this channel.", nil
	}
	return fmt.Sprintf("🗑️ Chat history older than %d day(s) will be forgotten.", days), nil
}

func (c *Cog) clear(ctx context.Context, inv *commands.Invocation) (string, error) {
	if err := c.manager.Clear(ctx, inv.Message.ChannelID); err != nil {
		return "", err
	}
	return "🧹 Chat history cleared for this channel.", nil
}

func (c *Cog) chat(ctx context.Context, inv *commands.Invocation) (string, error) {
	if inv.Rest == "" {
		return "", commands.Usagef("missing message")
	}
	msg := inv.Message
	stop := c.typing(ctx, msg.ChannelID)
	reply, err := c.manager.Chat(ctx, conversation.Turn{
		GuildID:    msg.GuildID,
		ChannelID:  msg.ChannelID,
		AuthorName: msg.Author.Name,
		Content:    inv.Rest,
	})
	stop()
	if err != nil {
		return conversation.UserMessage(err), nil
	}
	return reply, nil
}

func (c *Cog) showSettings(ctx context.Context, inv *commands.Invocation) (string, error) {
	msg := inv.Message
	cfg, err := c.store.Settings(ctx, msg.GuildID, msg.ChannelID)
	if err != nil {
		return "", err
	}
	history, err := c.manager.History(ctx, msg.GuildID, msg.ChannelID)
	if err != nil {
		return "", err
	}

	keyState := "Not set"
	if cfg.APIKey != "" {
		keyState = "Set"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "default"
	}
	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = "None"
	}
	autoDelete := "Never"
	if cfg.AutoDeleteAfter > 0 {
		autoDelete = fmt.Sprintf("%d day(s)", int(cfg.AutoDeleteAfter/(24*time.Hour)))
	}

	var b strings.Builder
	b.WriteString("**Gemini Settings:**\n")
	fmt.Fprintf(&b, "API Key: %s\n", keyState)
	fmt.Fprintf(&b, "Model: `%s`\n", cfg.Model)
	fmt.Fprintf(&b, "Base URL: %s\n", baseURL)
	fmt.Fprintf(&b, "System Prompt: %s\n", prompt)
	fmt.Fprintf(&b, "History: %s (%d messages)\n", enabled(cfg.UseHistory), len(history))
	fmt.Fprintf(&b, "Always Respond: %s\n", enabled(cfg.AlwaysRespond))
	fmt.Fprintf(&b, "Auto Delete: %s", autoDelete)
	return b.String(), nil
}

func enabled(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}

// timedProvider records provider latency.
type timedProvider struct {
	conversation.Provider
	metrics *metrics.Metrics
}

func (p timedProvider) GenerateContent(ctx context.Context, req api.Request) (string, error) {
	start := time.Now()
	defer func() { p.metrics.ObserveProvider("gemini", time.Since(start)) }()
	return p.Provider.GenerateContent(ctx, req)
}

var (
	_ cogs.Cog      = (*Cog)(nil)
	_ cogs.Listener = (*Cog)(nil)
)
