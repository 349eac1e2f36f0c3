// Package profile keeps user profiles: a bio plus values for the custom
// categories each guild defines.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jholhewres/didicogs/pkg/didi/channels"
	"github.com/jholhewres/didicogs/pkg/didi/cogs"
	"github.com/jholhewres/didicogs/pkg/didi/commands"
	"github.com/jholhewres/didicogs/pkg/didi/settings"
)

// Setting keys in the "profile" namespace.
const (
	KeyBio        = "bio"        // user
	KeyFields     = "fields"     // user
	KeyCategories = "categories" // guild
)

// Category types.
const (
	TypeText = "text"
	TypeURL  = "url"
)

// User-facing texts.
const (
	MsgNoSuchCategory = "❌ That category doesn't exist."
	MsgCategoryExists = "❌ That identifier already exists."
	MsgInvalidURL     = "❌ That value must be a valid URL."
	MsgNoSuchUser     = "❌ Could not find that user."
)

var urlPattern = regexp.MustCompile(`^https?://[\w.-]+(?:\.[\w.-]+)+[/\w\-._~:?#\[\]@!$&'()*+,;=]+$`)

// ValidURL reports whether s is accepted for URL-typed categories.
func ValidURL(s string) bool { return urlPattern.MatchString(s) }

// Category is a guild-defined profile field.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

var (
	errExists  = errors.New("category exists")
	errMissing = errors.New("category missing")
)

// Cog is the profile plugin.
type Cog struct {
	platform channels.Guilds
	ns       *settings.Namespace
	logger   *slog.Logger
}

// New creates the profile cog.
func New(deps cogs.Deps) *Cog {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cog{
		platform: deps.Platform,
		ns:       deps.Settings.Namespace("profile"),
		logger:   logger.With("component", "profile"),
	}
}

// Name returns "profile".
func (c *Cog) Name() string { return "profile" }

// Commands returns cprofile and cprofileset.
func (c *Cog) Commands() []*commands.Command {
	return []*commands.Command{
		{Name: "cprofile", Usage: "[member]", Help: "Show a user's profile.", Run: c.show},
		{
			Name: "cprofileset",
			Help: "Set your profile information.",
			Subcommands: []*commands.Command{
				{Name: "bio", Usage: "<bio>", Help: "Set your bio.", Run: c.setBio},
				{Name: "reset", Help: "Reset your profile.", Run: c.reset},
				{Name: "field", Usage: "<identifier> <value>", Help: "Set one of your custom profile fields.", Run: c.setField},
				{
					Name:  "category",
					Help:  "Manage profile categories.",
					Level: commands.Owner,
					Subcommands: []*commands.Command{
						{Name: "add", Usage: "<identifier> <display name> <text|url>", Help: "Add a new category.", Run: c.addCategory},
						{Name: "remove", Usage: "<identifier>", Help: "Remove a category.", Run: c.removeCategory},
					},
				},
			},
		},
	}
}

// Categories returns a guild's categories in creation order.
func (c *Cog) Categories(ctx context.Context, guildID string) ([]Category, error) {
	var cats []Category
	if _, err := c.ns.Guild(guildID).Get(ctx, KeyCategories, &cats); err != nil {
		return nil, err
	}
	return cats, nil
}

func (c *Cog) show(ctx context.Context, inv *commands.Invocation) (string, error) {
	msg := inv.Message
	ref := msg.Author.ID
	if inv.Rest != "" {
		ref = inv.Rest
	}
	member, err := c.platform.ResolveMember(ctx, msg.GuildID, ref)
	if errors.Is(err, channels.ErrNotFound) {
		return MsgNoSuchUser, nil
	}
	if err != nil {
		return "", err
	}

	user := c.ns.User(member.ID)
	bio, err := user.GetString(ctx, KeyBio, "")
	if err != nil {
		return "", err
	}
	fields := map[string]string{}
	if _, err := user.Get(ctx, KeyFields, &fields); err != nil {
		return "", err
	}
	cats, err := c.Categories(ctx, msg.GuildID)
	if err != nil {
		return "", err
	}

	embed := &channels.Embed{
		Title:        member.DisplayName + "'s Profile",
		ThumbnailURL: member.AvatarURL,
	}
	if bio != "" {
		embed.Fields = append(embed.Fields, channels.EmbedField{Name: "Bio", Value: bio})
	}
	for _, cat := range cats {
		if v, ok := fields[cat.ID]; ok {
			embed.Fields = append(embed.Fields, channels.EmbedField{Name: cat.Name, Value: v})
		}
	}

	out := &channels.OutgoingMessage{Embed: embed}
	if !c.platform.CanEmbed(ctx, msg.ChannelID) {
		out = channels.Text(plainText(embed))
	}
	if err := c.platform.Send(ctx, msg.ChannelID, out); err != nil {
		return "", fmt.Errorf("profile: send: %w", err)
	}
	return "", nil
}

func plainText(e *channels.Embed) string {
	var b strings.Builder
	b.WriteString("**" + e.Title + "**")
	for _, f := range e.Fields {
		fmt.Fprintf(&b, "\n**%s:** %s", f.Name, f.Value)
	}
	return b.String()
}

func (c *Cog) setBio(ctx context.Context, inv *commands.Invocation) (string, error) {
	if inv.Rest == "" {
		return "", commands.Usagef("missing bio")
	}
	if err := c.ns.User(inv.Message.Author.ID).Set(ctx, KeyBio, inv.Rest); err != nil {
		return "", err
	}
	return "✅ Your bio has been updated.", nil
}

func (c *Cog) reset(ctx context.Context, inv *commands.Invocation) (string, error) {
	if err := c.ns.User(inv.Message.Author.ID).ClearAll(ctx); err != nil {
		return "", err
	}
	return "✅ Your profile has been reset.", nil
}

func (c *Cog) setField(ctx context.Context, inv *commands.Invocation) (string, error) {
	if len(inv.Args) < 2 {
		return "", commands.Usagef("missing identifier or value")
	}
	id := inv.Args[0]
	value := inv.RestAfter(1)

	cats, err := c.Categories(ctx, inv.Message.GuildID)
	if err != nil {
		return "", err
	}
	cat, ok := find(cats, id)
	if !ok {
		return MsgNoSuchCategory, nil
	}
	if cat.Type == TypeURL && !ValidURL(value) {
		return MsgInvalidURL, nil
	}

	fields := map[string]string{}
	err = c.ns.User(inv.Message.Author.ID).Update(ctx, KeyFields, &fields, func() error {
		fields[id] = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Your %s has been updated.", cat.Name), nil
}

func (c *Cog) addCategory(ctx context.Context, inv *commands.Invocation) (string, error) {
	if len(inv.Args) != 3 {
		return "", commands.Usagef("want identifier, display name and type")
	}
	cat := Category{ID: inv.Args[0], Name: inv.Args[1], Type: strings.ToLower(inv.Args[2])}
	if cat.Type != TypeText && cat.Type != TypeURL {
		return "", commands.Usagef("type must be text or url")
	}

	var cats []Category
	err := c.ns.Guild(inv.Message.GuildID).Update(ctx, KeyCategories, &cats, func() error {
		if _, ok := find(cats, cat.ID); ok {
			return errExists
		}
		cats = append(cats, cat)
		return nil
	})
	if errors.Is(err, errExists) {
		return MsgCategoryExists, nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Added category `%s` with name `%s` and type `%s`.", cat.ID, cat.Name, cat.Type), nil
}

func (c *Cog) removeCategory(ctx context.Context, inv *commands.Invocation) (string, error) {
	id := inv.Arg(0)
	if id == "" {
		return "", commands.Usagef("missing identifier")
	}

	var cats []Category
	err := c.ns.Guild(inv.Message.GuildID).Update(ctx, KeyCategories, &cats, func() error {
		for i, cat := range cats {
			if cat.ID == id {
				cats = append(cats[:i], cats[i+1:]...)
				return nil
			}
		}
		return errMissing
	})
	if errors.Is(err, errMissing) {
		return MsgNoSuchCategory, nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Category `%s` has been removed.", id), nil
}

func find(cats []Category, id string) (Category, bool) {
	for _, cat := range cats {
		if cat.ID == id {
			return cat, true
		}
	}
	return Category{}, false
}

var _ cogs.Cog = (*Cog)(nil)
