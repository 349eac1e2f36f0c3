package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/jholhewres/didicogs/pkg/didi/channels"
)

// ---------- Guilds Interface ----------

// SelfID returns the bot's user ID, or "" before Connect.
func (d *Discord) SelfID() string {
	session := d.current()
	if session == nil || session.State.User == nil {
		return ""
	}
	return session.State.User.ID
}

// CanEmbed reports whether the bot holds Embed Links in the channel.
func (d *Discord) CanEmbed(ctx context.Context, channelID string) bool {
	session := d.current()
	if session == nil {
		return false
	}
	perms, err := session.UserChannelPermissions(d.SelfID(), channelID, discordgo.WithContext(ctx))
	if err != nil {
		d.logger.Debug("discord: permission lookup failed", "channel", channelID, "error", err)
		return false
	}
	return perms&discordgo.PermissionEmbedLinks != 0
}

// IsNSFW reports whether a channel is age-restricted. Lookup failures
// count as not restricted.
func (d *Discord) IsNSFW(ctx context.Context, channelID string) bool {
	session := d.current()
	if session == nil {
		return false
	}
	ch, err := session.State.Channel(channelID)
	if err != nil {
		if ch, err = session.Channel(channelID, discordgo.WithContext(ctx)); err != nil {
			d.logger.Debug("discord: channel lookup failed", "channel", channelID, "error", err)
			return false
		}
	}
	return ch.NSFW
}

// ResolveChannel finds a text channel by mention, ID or name.
func (d *Discord) ResolveChannel(ctx context.Context, guildID, ref string) (*channels.ChannelInfo, error) {
	session := d.current()
	if session == nil {
		return nil, channels.ErrChannelDisconnected
	}
	list, err := session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: listing channels: %w", err)
	}

	id, byID := parseMention(ref, "<#")
	name := strings.TrimPrefix(strings.TrimSpace(ref), "#")
	for _, ch := range list {
		if ch.Type != discordgo.ChannelTypeGuildText && ch.Type != discordgo.ChannelTypeGuildNews {
			continue
		}
		if (byID && ch.ID == id) || strings.EqualFold(ch.Name, name) {
			return &channels.ChannelInfo{ID: ch.ID, Name: ch.Name}, nil
		}
	}
	return nil, fmt.Errorf("channel %q: %w", ref, channels.ErrNotFound)
}

// ResolveRole finds a role by mention, ID or name.
func (d *Discord) ResolveRole(ctx context.Context, guildID, ref string) (*channels.Role, error) {
	session := d.current()
	if session == nil {
		return nil, channels.ErrChannelDisconnected
	}
	roles, err := session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: listing roles: %w", err)
	}
	if r := findRole(roles, ref); r != nil {
		return &channels.Role{ID: r.ID, Name: r.Name}, nil
	}
	return nil, fmt.Errorf("role %q: %w", ref, channels.ErrNotFound)
}

// Role returns a role by ID.
func (d *Discord) Role(ctx context.Context, guildID, roleID string) (*channels.Role, error) {
	session := d.current()
	if session == nil {
		return nil, channels.ErrChannelDisconnected
	}
	if r, err := session.State.Role(guildID, roleID); err == nil {
		return &channels.Role{ID: r.ID, Name: r.Name}, nil
	}
	roles, err := session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: listing roles: %w", err)
	}
	for _, r := range roles {
		if r.ID == roleID {
			return &channels.Role{ID: r.ID, Name: r.Name}, nil
		}
	}
	return nil, fmt.Errorf("role %s: %w", roleID, channels.ErrNotFound)
}

// ResolveMember finds a member by mention, ID or (partial) name.
func (d *Discord) ResolveMember(ctx context.Context, guildID, ref string) (*channels.Member, error) {
	session := d.current()
	if session == nil {
		return nil, channels.ErrChannelDisconnected
	}

	if id, ok := parseMention(ref, "<@"); ok {
		m, err := session.GuildMember(guildID, id, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("member %q: %w", ref, channels.ErrNotFound)
		}
		return toMember(m), nil
	}

	query := strings.TrimPrefix(strings.TrimSpace(ref), "@")
	if query == "" {
		return nil, fmt.Errorf("member %q: %w", ref, channels.ErrNotFound)
	}
	found, err := session.GuildMembersSearch(guildID, query, 5, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: searching members: %w", err)
	}
	if m := pickMember(found, query); m != nil {
		return toMember(m), nil
	}
	return nil, fmt.Errorf("member %q: %w", ref, channels.ErrNotFound)
}

// AddRole grants a role to a member.
func (d *Discord) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	session := d.current()
	if session == nil {
		return channels.ErrChannelDisconnected
	}
	return session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx))
}

// RemoveRole takes a role from a member.
func (d *Discord) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	session := d.current()
	if session == nil {
		return channels.ErrChannelDisconnected
	}
	return session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx))
}

// IsAdministrator reports whether the user owns the guild or holds an
// administrator role.
func (d *Discord) IsAdministrator(ctx context.Context, guildID, userID string) (bool, error) {
	session := d.current()
	if session == nil {
		return false, channels.ErrChannelDisconnected
	}
	guild, err := session.State.Guild(guildID)
	if err != nil {
		if guild, err = session.Guild(guildID, discordgo.WithContext(ctx)); err != nil {
			return false, fmt.Errorf("discord: fetching guild: %w", err)
		}
	}
	member, err := session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("discord: fetching member: %w", err)
	}
	roles := guild.Roles
	if len(roles) == 0 {
		if roles, err = session.GuildRoles(guildID, discordgo.WithContext(ctx)); err != nil {
			return false, fmt.Errorf("discord: listing roles: %w", err)
		}
	}
	return isAdministrator(guild.OwnerID, userID, member.Roles, roles), nil
}

// ---------- Helpers ----------

// parseMention extracts the snowflake from a mention with the given opening
// ("<#", "<@", "<@&") or from a bare numeric ID.
func parseMention(ref, open string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, open) && strings.HasSuffix(ref, ">") {
		id := strings.TrimSuffix(strings.TrimPrefix(ref, open), ">")
		if open == "<@" {
			id = strings.TrimPrefix(id, "!")
			if strings.HasPrefix(id, "&") {
				return "", false
			}
		}
		return id, isSnowflake(id)
	}
	return ref, isSnowflake(ref)
}

func isSnowflake(s string) bool {
	if len(s) < 15 || len(s) > 21 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func findRole(roles []*discordgo.Role, ref string) *discordgo.Role {
	id, byID := parseMention(ref, "<@&")
	name := strings.TrimPrefix(strings.TrimSpace(ref), "@")
	for _, r := range roles {
		if byID && r.ID == id {
			return r
		}
	}
	for _, r := range roles {
		if strings.EqualFold(r.Name, name) {
			return r
		}
	}
	return nil
}

// pickMember prefers an exact username, nickname or global name match and
// falls back to the first search hit.
func pickMember(found []*discordgo.Member, query string) *discordgo.Member {
	if len(found) == 0 {
		return nil
	}
	for _, m := range found {
		if m.User == nil {
			continue
		}
		if strings.EqualFold(m.User.Username, query) ||
			strings.EqualFold(m.Nick, query) ||
			strings.EqualFold(m.User.GlobalName, query) {
			return m
		}
	}
	return found[0]
}

func toMember(m *discordgo.Member) *channels.Member {
	member := &channels.Member{
		Roles:    append([]string(nil), m.Roles...),
		JoinedAt: m.JoinedAt,
	}
	if m.User != nil {
		member.ID = m.User.ID
		member.Username = m.User.Username
		member.Bot = m.User.Bot
		member.AvatarURL = m.User.AvatarURL("256")
	}
	member.DisplayName = displayName(m.User, m)
	return member
}

func isAdministrator(ownerID, userID string, memberRoles []string, roles []*discordgo.Role) bool {
	if ownerID != "" && ownerID == userID {
		return true
	}
	held := make(map[string]bool, len(memberRoles))
	for _, id := range memberRoles {
		held[id] = true
	}
	for _, r := range roles {
		if held[r.ID] && r.Permissions&discordgo.PermissionAdministrator != 0 {
			return true
		}
	}
	return false
}
