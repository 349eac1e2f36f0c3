// Package bot wires the platform, the shared services and the cogs
// together, and runs the message and event loops.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/jholhewres/didicogs/pkg/didi/channels"
	"github.com/jholhewres/didicogs/pkg/didi/cogs"
	"github.com/jholhewres/didicogs/pkg/didi/cogs/apod"
	"github.com/jholhewres/didicogs/pkg/didi/cogs/gemini"
	"github.com/jholhewres/didicogs/pkg/didi/cogs/nekos"
	"github.com/jholhewres/didicogs/pkg/didi/cogs/profile"
	"github.com/jholhewres/didicogs/pkg/didi/cogs/restrict"
	"github.com/jholhewres/didicogs/pkg/didi/commands"
	"github.com/jholhewres/didicogs/pkg/didi/config"
	"github.com/jholhewres/didicogs/pkg/didi/dispatch"
	"github.com/jholhewres/didicogs/pkg/didi/metrics"
	"github.com/jholhewres/didicogs/pkg/didi/scheduler"
	"github.com/jholhewres/didicogs/pkg/didi/settings"
	"github.com/jholhewres/didicogs/pkg/didi/wizard"
)

// Bot owns every long-lived component.
type Bot struct {
	cfg      *config.Config
	platform channels.Guilds
	logger   *slog.Logger

	store     *settings.Store
	http      *http.Client
	scheduler *scheduler.Scheduler
	wizards   *wizard.Manager
	metrics   *metrics.Metrics
	server    *metrics.Server

	router     *commands.Router
	classifier *dispatch.Classifier
	cogs       []cogs.Cog
	listeners  []cogs.Listener
	watchers   []cogs.GuildWatcher

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New builds the bot and its cogs. The settings store is opened here; the
// platform is connected by Start.
func New(cfg *config.Config, platform channels.Guilds, logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := settings.Open(cfg.Settings, logger)
	if err != nil {
		return nil, fmt.Errorf("opening settings: %w", err)
	}

	b := &Bot{
		cfg:       cfg,
		platform:  platform,
		logger:    logger.With("component", "bot"),
		store:     store,
		http:      &http.Client{Timeout: cfg.HTTP.Timeout},
		scheduler: scheduler.New(logger),
		metrics:   metrics.New(cfg.Name),
	}
	b.scheduler.SetTimeout(cfg.Timeouts.ScheduledPost)
	b.wizards = wizard.NewManager(func(ctx context.Context, channelID, text string) error {
		return platform.Send(ctx, channelID, channels.Text(text))
	}, logger)
	if cfg.Timeouts.WizardStep > 0 {
		b.wizards.SetTimeout(cfg.Timeouts.WizardStep)
	}
	if cfg.Metrics.Enabled {
		b.server = metrics.NewServer(cfg.Metrics, b.metrics, platform.Health, logger)
	}

	deps := cogs.Deps{
		Platform:  platform,
		Settings:  store,
		HTTP:      b.http,
		Scheduler: b.scheduler,
		Wizards:   b.wizards,
		Metrics:   b.metrics,
		Logger:    logger,
	}
	chat := gemini.New(deps, cfg.Gemini)
	b.router = commands.NewRouter(cfg.Prefixes, cfg.Owners, platform, logger)
	b.classifier = &dispatch.Classifier{Prefixes: cfg.Prefixes, AlwaysRespond: chat.AlwaysRespond}
	b.add(
		apod.New(deps, cfg.APOD),
		chat,
		nekos.New(deps, cfg.Nekos),
		restrict.New(deps),
		profile.New(deps),
	)
	return b, nil
}

// add registers cogs and the optional roles they implement.
func (b *Bot) add(list ...cogs.Cog) {
	for _, c := range list {
		b.cogs = append(b.cogs, c)
		b.router.Register(c.Commands()...)
		if l, ok := c.(cogs.Listener); ok {
			b.listeners = append(b.listeners, l)
		}
		if w, ok := c.(cogs.GuildWatcher); ok {
			b.watchers = append(b.watchers, w)
		}
	}
}

// Cogs returns the loaded cog names.
func (b *Bot) Cogs() []string {
	names := make([]string, 0, len(b.cogs))
	for _, c := range b.cogs {
		names = append(names, c.Name())
	}
	return names
}

// Scheduler exposes the daily-post scheduler.
func (b *Bot) Scheduler() *scheduler.Scheduler { return b.scheduler }

// Start connects the platform and starts the loops.
func (b *Bot) Start(ctx context.Context) error {
	ctx, b.cancel = context.WithCancel(ctx)

	if err := b.platform.Connect(ctx); err != nil {
		b.cancel()
		return fmt.Errorf("connecting %s: %w", b.platform.Name(), err)
	}
	b.scheduler.Start()
	if b.server != nil {
		if err := b.server.Start(ctx); err != nil {
			b.logger.Error("metrics server not started", "addr", b.cfg.Metrics.Addr, "error", err)
		}
	}

	b.wg.Add(1)
	go b.loop(ctx)

	b.logger.Info("bot started", "platform", b.platform.Name(), "cogs", strings.Join(b.Cogs(), ","))
	return nil
}

// Stop shuts everything down once: loops, wizards, schedules, the metrics
// server, the platform, the store and the shared HTTP client.
func (b *Bot) Stop(ctx context.Context) error {
	var errs []error
	b.stopOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		b.wizards.Stop()
		b.scheduler.Stop()
		if b.server != nil {
			if err := b.server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("metrics server: %w", err))
			}
		}
		if err := b.platform.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("disconnect: %w", err))
		}

		done := make(chan struct{})
		go func() {
			b.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			b.logger.Warn("handlers still running at shutdown")
		}

		if err := b.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("settings: %w", err))
		}
		b.http.CloseIdleConnections()
		b.logger.Info("bot stopped")
	})
	return errors.Join(errs...)
}

func (b *Bot) loop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-b.platform.Receive():
			if !ok {
				return
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.HandleMessage(ctx, msg)
			}()
		case evt, ok := <-b.platform.Events():
			if !ok {
				return
			}
			b.HandleEvent(ctx, evt)
		}
	}
}

// HandleMessage routes one incoming message: an open setup wizard gets it
// first, then the classifier picks the command router or a listener.
func (b *Bot) HandleMessage(ctx context.Context, msg *channels.IncomingMessage) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("message handler panicked", "msg_id", msg.ID, "panic", r)
		}
	}()

	if msg.Author.Bot || msg.IsDirect() {
		b.metrics.ObserveDispatch(dispatch.Ignore.String())
		return
	}
	if b.wizards.Feed(ctx, msg) {
		b.metrics.ObserveDispatch("wizard")
		return
	}

	kind := b.classifier.Classify(ctx, msg, b.platform.SelfID())
	b.metrics.ObserveDispatch(kind.String())

	switch kind {
	case dispatch.Ignore:
	case dispatch.Command:
		res := b.router.Handle(ctx, msg)
		if !res.Handled {
			return
		}
		b.metrics.ObserveCommand(strings.Join(res.Path, " "))
		if res.Response == "" {
			return
		}
		if err := b.platform.Send(ctx, msg.ChannelID, channels.Reply(msg.ID, res.Response)); err != nil {
			b.logger.Error("failed to send command response", "channel", msg.ChannelID, "error", err)
		}
	default:
		for _, l := range b.listeners {
			if l.Listen(ctx, kind, msg) {
				return
			}
		}
	}
}

// HandleEvent forwards guild lifecycle events to the cogs that track
// guilds.
func (b *Bot) HandleEvent(ctx context.Context, evt *channels.Event) {
	b.logger.Debug("guild event", "type", evt.Type, "guilds", len(evt.GuildIDs))
	for _, w := range b.watchers {
		switch evt.Type {
		case channels.EventReady:
			w.GuildsReady(ctx, evt.GuildIDs)
		case channels.EventGuildJoin:
			for _, id := range evt.GuildIDs {
				w.GuildJoined(ctx, id)
			}
		case channels.EventGuildLeave:
			for _, id := range evt.GuildIDs {
				w.GuildLeft(ctx, id)
			}
		}
	}
}
