package nekos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jholhewres/didicogs/pkg/didi/channels"
	"github.com/jholhewres/didicogs/pkg/didi/cogs"
	"github.com/jholhewres/didicogs/pkg/didi/commands"
	"github.com/jholhewres/didicogs/pkg/didi/metrics"
)

// DefaultRating is used when the command has no argument.
const DefaultRating = "safe"

// User-facing texts.
const (
	MsgNoImage      = "No image found for that rating."
	MsgParseFailed  = "❌ Could not parse image data."
	MsgFetchFailed  = "❌ An error occurred while fetching the image."
	MsgNSFWRequired = "🔞 That rating is only available in age-restricted channels."
	embedTitle      = "Here’s a random neko 🐱"
)

// ratings maps each accepted rating to whether it needs an NSFW channel.
var ratings = map[string]bool{
	"safe":       false,
	"suggestive": false,
	"borderline": true,
	"explicit":   true,
}

// Config holds nekos cog configuration.
type Config struct {
	// BaseURL overrides the random-file endpoint.
	BaseURL string `yaml:"base_url"`
}

// Cog is the nekos plugin.
type Cog struct {
	platform channels.Guilds
	client   *Client
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates the nekos cog.
func New(deps cogs.Deps, cfg Config) *Cog {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cog{
		platform: deps.Platform,
		client:   NewClient(deps.HTTP, cfg.BaseURL),
		metrics:  deps.Metrics,
		logger:   logger.With("component", "nekos"),
	}
}

// Name returns "nekos".
func (c *Cog) Name() string { return "nekos" }

// Commands returns the neko command.
func (c *Cog) Commands() []*commands.Command {
	return []*commands.Command{{
		Name:  "neko",
		Usage: "[safe|suggestive|borderline|explicit]",
		Help:  "Send a random neko image.",
		Run:   c.neko,
	}}
}

func (c *Cog) neko(ctx context.Context, inv *commands.Invocation) (string, error) {
	rating := strings.ToLower(inv.Arg(0))
	if rating == "" {
		rating = DefaultRating
	}
	nsfw, ok := ratings[rating]
	if !ok {
		return "", commands.Usagef("unknown rating %q", rating)
	}
	channelID := inv.Message.ChannelID
	if nsfw && !c.platform.IsNSFW(ctx, channelID) {
		return MsgNSFWRequired, nil
	}

	start := time.Now()
	image, err := c.client.Random(ctx, rating)
	c.metrics.ObserveProvider("nekos", time.Since(start))
	if err != nil {
		c.logger.Warn("neko fetch failed", "rating", rating, "error", err)
		return userMessage(err), nil
	}

	out := &channels.OutgoingMessage{Embed: &channels.Embed{Title: embedTitle, ImageURL: image}}
	if !c.platform.CanEmbed(ctx, channelID) {
		out = channels.Text(image)
	}
	if err := c.platform.Send(ctx, channelID, out); err != nil {
		return "", fmt.Errorf("nekos: send: %w", err)
	}
	return "", nil
}

func userMessage(err error) string {
	var se *StatusError
	switch {
	case errors.As(err, &se):
		return fmt.Sprintf("❌ Error fetching image: %d", se.Status)
	case errors.Is(err, ErrNoImage):
		return MsgNoImage
	case errors.Is(err, ErrParse):
		return MsgParseFailed
	default:
		return MsgFetchFailed
	}
}

var _ cogs.Cog = (*Cog)(nil)
