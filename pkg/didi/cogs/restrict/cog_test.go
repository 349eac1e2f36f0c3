package restrict

import (
	"testing"

	"github.com/jholhewres/didicogs/pkg/didi/channels/channelstest"
	"github.com/jholhewres/didicogs/pkg/didi/cogs/cogstest"
	"github.com/jholhewres/didicogs/pkg/didi/commands"
)

const (
	channel   = "400000000000000001"
	admin     = "500000000000000001"
	moderator = "500000000000000002"
	troll     = "500000000000000003"
	bystander = "500000000000000004"
	jailRole  = "600000000000000001"
	modRole   = "600000000000000002"
)

func setup(t *testing.T) (*channelstest.Platform, *commands.Router) {
	t.Helper()
	deps, p := cogstest.Deps(t)
	p.AddRoleDef(jailRole, "Jail")
	p.AddRoleDef(modRole, "Mods")
	p.AddMember(admin, "Admin")
	p.AddMember(moderator, "Moderator", modRole)
	p.AddMember(troll, "Troll")
	p.AddMember(bystander, "Bystander")
	p.Admins[admin] = true
	return p, cogstest.Router(p, New(deps))
}

func TestRestrictFlow(t *testing.T) {
	t.Parallel()

	p, r := setup(t)
	run := func(author, content string) string { return cogstest.Run(t, r, channel, author, content) }

	if got := run(admin, "?restrict troll"); got != MsgNoRole {
		t.Errorf("no role = %q", got)
	}
	if got := run(admin, "?restrictset role @nobody"); got != MsgNoSuchRole {
		t.Errorf("unknown role = %q", got)
	}
	if got := run(admin, "?restrictset role <@&"+jailRole+">"); got != "✅ Restricted role set to <@&"+jailRole+">." {
		t.Errorf("set role = %q", got)
	}

	if got := run(admin, "?restrict <@"+troll+">"); got != "✅ <@"+troll+"> has been restricted." {
		t.Errorf("restrict = %q", got)
	}
	if !p.Members[troll].HasRole(jailRole) {
		t.Error("role not granted")
	}
	if got := run(admin, "?restrict Troll"); got != MsgAlreadyRestricted {
		t.Errorf("restrict again = %q", got)
	}
	if got := run(admin, "?unrestrict "+troll); got != "✅ <@"+troll+"> has been unrestricted." {
		t.Errorf("unrestrict = %q", got)
	}
	if p.Members[troll].HasRole(jailRole) {
		t.Error("role not removed")
	}
	if got := run(admin, "?unrestrict troll"); got != MsgNotRestricted {
		t.Errorf("unrestrict again = %q", got)
	}
	if got := run(admin, "?restrict ghost"); got != MsgNoSuchUser {
		t.Errorf("unknown user = %q", got)
	}

	delete(p.Roles, jailRole)
	if got := run(admin, "?restrict troll"); got != MsgRoleGone {
		t.Errorf("deleted role = %q", got)
	}
}

func TestPermissions(t *testing.T) {
	t.Parallel()

	p, r := setup(t)
	run := func(author, content string) string { return cogstest.Run(t, r, channel, author, content) }

	if got := run(moderator, "?restrictset role Jail"); got != MsgAdminOnly {
		t.Errorf("non-admin restrictset = %q", got)
	}
	run(admin, "?restrictset role Jail")

	if got := run(moderator, "?restrict troll"); got != commands.MsgPermissionDenied {
		t.Errorf("moderator without perms role = %q", got)
	}
	if p.Members[troll].HasRole(jailRole) {
		t.Error("role granted without permission")
	}

	if got := run(admin, "?restrictset perms Mods"); got != "✅ Permissions role set to <@&"+modRole+">." {
		t.Errorf("set perms = %q", got)
	}
	if got := run(moderator, "?restrict troll"); got != "✅ <@"+troll+"> has been restricted." {
		t.Errorf("moderator restrict = %q", got)
	}
	if got := run(bystander, "?unrestrict troll"); got != commands.MsgPermissionDenied {
		t.Errorf("bystander unrestrict = %q", got)
	}
	if !p.Members[troll].HasRole(jailRole) {
		t.Error("bystander removed the role")
	}
}
