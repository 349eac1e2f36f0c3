package settings

import (
	"context"
	"encoding/json"
)

// Namespace isolates one cog's keys from every other cog.
type Namespace struct {
	store *Store
	name  string
}

// Namespace returns the key space for a cog (e.g. "apod", "gemini").
func (s *Store) Namespace(name string) *Namespace {
	return &Namespace{store: s, name: name}
}

// Global returns the bot-wide group.
func (n *Namespace) Global() Group { return n.group(ScopeGlobal, "") }

// Guild returns the group for a guild.
func (n *Namespace) Guild(id string) Group { return n.group(ScopeGuild, id) }

// Channel returns the group for a channel.
func (n *Namespace) Channel(id string) Group { return n.group(ScopeChannel, id) }

// User returns the group for a user.
func (n *Namespace) User(id string) Group { return n.group(ScopeUser, id) }

func (n *Namespace) group(scope Scope, id string) Group {
	return Group{store: n.store, namespace: n.name, scope: scope, id: id}
}

// Scan returns the raw value of key for every object in scope that has it.
func (n *Namespace) Scan(ctx context.Context, scope Scope, key string) (map[string]json.RawMessage, error) {
	return n.store.scan(ctx, n.name, scope, key)
}

// Group is the set of keys stored for one guild, channel or user.
type Group struct {
	store     *Store
	namespace string
	scope     Scope
	id        string
}

func (g Group) key(name string) key {
	return key{namespace: g.namespace, scope: g.scope, id: g.id, name: name}
}

// Get decodes the value of name into dst. Returns false (and leaves dst
// untouched) when the key was never set, so dst can carry the default.
func (g Group) Get(ctx context.Context, name string, dst any) (bool, error) {
	return g.store.get(ctx, g.store.db, g.key(name), dst)
}

// Set stores value under name.
func (g Group) Set(ctx context.Context, name string, value any) error {
	return g.store.set(ctx, g.store.db, g.key(name), value)
}

// Clear removes name, reverting it to its default.
func (g Group) Clear(ctx context.Context, name string) error {
	return g.store.clear(ctx, g.key(name))
}

// ClearAll removes every key of the group.
func (g Group) ClearAll(ctx context.Context) error {
	return g.store.clearAll(ctx, g.namespace, g.scope, g.id)
}

// Update is an atomic read-modify-write of name: dst is loaded (keeping its
// default when unset), fn mutates it, and the result is written back.
func (g Group) Update(ctx context.Context, name string, dst any, fn func() error) error {
	return g.store.update(ctx, g.key(name), dst, fn)
}

// String helpers for the common scalar cases.

// GetString returns the string value of name, or def when unset.
func (g Group) GetString(ctx context.Context, name, def string) (string, error) {
	v := def
	if _, err := g.Get(ctx, name, &v); err != nil {
		return def, err
	}
	return v, nil
}

// GetBool returns the boolean value of name, or def when unset.
func (g Group) GetBool(ctx context.Context, name string, def bool) (bool, error) {
	v := def
	if _, err := g.Get(ctx, name, &v); err != nil {
		return def, err
	}
	return v, nil
}

// Toggle flips a boolean (starting from def) and returns the new value.
func (g Group) Toggle(ctx context.Context, name string, def bool) (bool, error) {
	v := def
	err := g.Update(ctx, name, &v, func() error {
		v = !v
		return nil
	})
	return v, err
}
