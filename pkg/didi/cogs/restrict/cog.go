// Package restrict restricts and unrestricts members by granting a
// configured role.
package restrict

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jholhewres/didicogs/pkg/didi/channels"
	"github.com/jholhewres/didicogs/pkg/didi/cogs"
	"github.com/jholhewres/didicogs/pkg/didi/commands"
	"github.com/jholhewres/didicogs/pkg/didi/settings"
)

// Guild setting keys in the "restrict" namespace.
const (
	KeyRestrictedRole = "restricted_role"
	KeyPermsRole      = "perms_role"
)

// User-facing texts.
const (
	MsgAdminOnly         = "❌ Only administrators can set this."
	MsgNoRole            = "❌ No restricted role set. Use `[p]restrictset role @role`."
	MsgRoleGone          = "❌ The restricted role no longer exists. Reconfigure it."
	MsgNoSuchUser        = "❌ Could not find that user."
	MsgNoSuchRole        = "❌ Could not find that role."
	MsgAlreadyRestricted = "⚠️ User is already restricted."
	MsgNotRestricted     = "⚠️ User is not restricted."
)

// Cog is the restrict plugin.
type Cog struct {
	platform channels.Guilds
	ns       *settings.Namespace
	logger   *slog.Logger
}

// New creates the restrict cog.
func New(deps cogs.Deps) *Cog {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cog{
		platform: deps.Platform,
		ns:       deps.Settings.Namespace("restrict"),
		logger:   logger.With("component", "restrict"),
	}
}

// Name returns "restrict".
func (c *Cog) Name() string { return "restrict" }

// Commands returns restrict, unrestrict and restrictset.
func (c *Cog) Commands() []*commands.Command {
	return []*commands.Command{
		{Name: "restrict", Usage: "<user>", Help: "Restrict a user (by mention, username, or ID).", Run: c.restrict},
		{Name: "unrestrict", Usage: "<user>", Help: "Unrestrict a user (by mention, username, or ID).", Run: c.unrestrict},
		{
			Name: "restrictset",
			Help: "Configure the restrict cog.",
			Subcommands: []*commands.Command{
				{Name: "role", Usage: "<role>", Help: "Set the role given to restricted users.", Run: c.setRole(KeyRestrictedRole, "Restricted")},
				{Name: "perms", Usage: "<role>", Help: "Set the role allowed to restrict and unrestrict users.", Run: c.setRole(KeyPermsRole, "Permissions")},
			},
		},
	}
}

func (c *Cog) restrict(ctx context.Context, inv *commands.Invocation) (string, error) {
	return c.apply(ctx, inv, true)
}

func (c *Cog) unrestrict(ctx context.Context, inv *commands.Invocation) (string, error) {
	return c.apply(ctx, inv, false)
}

// apply grants (restrict) or removes the restricted role. Every check runs
// before the role change.
func (c *Cog) apply(ctx context.Context, inv *commands.Invocation, restrict bool) (string, error) {
	msg := inv.Message
	guildID := msg.GuildID

	ok, err := c.canManage(ctx, guildID, msg.Author.ID)
	if err != nil {
		return "", err
	}
	if !ok {
		return commands.MsgPermissionDenied, nil
	}
	if len(inv.Args) == 0 {
		return "", commands.Usagef("missing user")
	}

	roleID, err := c.ns.Guild(guildID).GetString(ctx, KeyRestrictedRole, "")
	if err != nil {
		return "", err
	}
	if roleID == "" {
		return MsgNoRole, nil
	}
	role, err := c.platform.Role(ctx, guildID, roleID)
	if errors.Is(err, channels.ErrNotFound) {
		return MsgRoleGone, nil
	}
	if err != nil {
		return "", err
	}

	member, err := c.platform.ResolveMember(ctx, guildID, inv.Rest)
	if errors.Is(err, channels.ErrNotFound) {
		return MsgNoSuchUser, nil
	}
	if err != nil {
		return "", err
	}

	if restrict {
		if member.HasRole(role.ID) {
			return MsgAlreadyRestricted, nil
		}
		if err := c.platform.AddRole(ctx, guildID, member.ID, role.ID); err != nil {
			return "", err
		}
		c.logger.Info("member restricted", "guild", guildID, "member", member.ID, "by", msg.Author.ID)
		return "✅ " + member.Mention() + " has been restricted.", nil
	}

	if !member.HasRole(role.ID) {
		return MsgNotRestricted, nil
	}
	if err := c.platform.RemoveRole(ctx, guildID, member.ID, role.ID); err != nil {
		return "", err
	}
	c.logger.Info("member unrestricted", "guild", guildID, "member", member.ID, "by", msg.Author.ID)
	return "✅ " + member.Mention() + " has been unrestricted.", nil
}

// canManage allows administrators and, when one is set, holders of the
// perms role.
func (c *Cog) canManage(ctx context.Context, guildID, userID string) (bool, error) {
	admin, err := c.platform.IsAdministrator(ctx, guildID, userID)
	if err != nil || admin {
		return admin, err
	}
	permsRole, err := c.ns.Guild(guildID).GetString(ctx, KeyPermsRole, "")
	if err != nil || permsRole == "" {
		return false, err
	}
	author, err := c.platform.ResolveMember(ctx, guildID, userID)
	if errors.Is(err, channels.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return author.HasRole(permsRole), nil
}

func (c *Cog) setRole(key, label string) commands.HandlerFunc {
	return func(ctx context.Context, inv *commands.Invocation) (string, error) {
		guildID := inv.Message.GuildID
		admin, err := c.platform.IsAdministrator(ctx, guildID, inv.Message.Author.ID)
		if err != nil {
			return "", err
		}
		if !admin {
			return MsgAdminOnly, nil
		}
		if len(inv.Args) == 0 {
			return "", commands.Usagef("missing role")
		}
		role, err := c.platform.ResolveRole(ctx, guildID, inv.Rest)
		if errors.Is(err, channels.ErrNotFound) {
			return MsgNoSuchRole, nil
		}
		if err != nil {
			return "", err
		}
		if err := c.ns.Guild(guildID).Set(ctx, key, role.ID); err != nil {
			return "", err
		}
		return "✅ " + label + " role set to " + role.Mention() + ".", nil
	}
}

var _ cogs.Cog = (*Cog)(nil)
