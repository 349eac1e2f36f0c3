package settings

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Backend: BackendSQLite, Path: filepath.Join(t.TempDir(), "didi.db")},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetSetClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	g := s.Namespace("apod").Guild("g1")

	got, err := g.GetString(ctx, "post_time", "09:00")
	if err != nil {
		t.Fatal(err)
	}
	if got != "09:00" {
		t.Errorf("default = %q, want 09:00", got)
	}

	if err := g.Set(ctx, "post_time", "18:30"); err != nil {
		t.Fatal(err)
	}
	if got, _ = g.GetString(ctx, "post_time", "09:00"); got != "18:30" {
		t.Errorf("after set = %q, want 18:30", got)
	}

	if err := g.Clear(ctx, "post_time"); err != nil {
		t.Fatal(err)
	}
	if got, _ = g.GetString(ctx, "post_time", "09:00"); got != "09:00" {
		t.Errorf("after clear = %q, want default", got)
	}
}

func TestNamespacesAndScopesAreIsolated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	_ = s.Namespace("apod").Guild("1").Set(ctx, "api_key", "nasa")
	_ = s.Namespace("gemini").Guild("1").Set(ctx, "api_key", "google")
	_ = s.Namespace("gemini").Channel("1").Set(ctx, "api_key", "channel")

	tests := []struct {
		group Group
		want  string
	}{
		{s.Namespace("apod").Guild("1"), "nasa"},
		{s.Namespace("gemini").Guild("1"), "google"},
		{s.Namespace("gemini").Channel("1"), "channel"},
		{s.Namespace("gemini").User("1"), ""},
	}
	for _, tt := range tests {
		got, err := tt.group.GetString(ctx, "api_key", "")
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("%s/%s = %q, want %q", tt.group.namespace, tt.group.scope, got, tt.want)
		}
	}
}

func TestStructuredValues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	g := s.Namespace("profile").User("u1")

	fields := map[string]string{"github": "https://github.com/didi"}
	if err := g.Set(ctx, "fields", fields); err != nil {
		t.Fatal(err)
	}

	var got map[string]string
	ok, err := g.Get(ctx, "fields", &got)
	if err != nil || !ok {
		t.Fatalf("get fields: ok=%v err=%v", ok, err)
	}
	if got["github"] != fields["github"] {
		t.Errorf("fields = %v", got)
	}

	if err := g.ClearAll(ctx); err != nil {
		t.Fatal(err)
	}
	if ok, _ := g.Get(ctx, "fields", &got); ok {
		t.Error("fields still present after ClearAll")
	}
}

func TestUpdateIsAtomic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	g := s.Namespace("test").Channel("c1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := 0
			if err := g.Update(ctx, "counter", &n, func() error {
				n++
				return nil
			}); err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	wg.Wait()

	var n int
	if _, err := g.Get(ctx, "counter", &n); err != nil {
		t.Fatal(err)
	}
	if n != 20 {
		t.Errorf("counter = %d, want 20", n)
	}
}

func TestToggle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	g := s.Namespace("gemini").Channel("c1")

	v, err := g.Toggle(ctx, "use_history", true)
	if err != nil {
		t.Fatal(err)
	}
	if v {
		t.Error("first toggle from default true should be false")
	}
	if v, _ = g.Toggle(ctx, "use_history", true); !v {
		t.Error("second toggle should be true")
	}
}

func TestScan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	ns := s.Namespace("apod")

	_ = ns.Guild("g1").Set(ctx, "channel_id", "c1")
	_ = ns.Guild("g2").Set(ctx, "channel_id", "c2")
	_ = ns.Guild("g3").Set(ctx, "post_time", "10:00")

	got, err := ns.Scan(ctx, ScopeGuild, "channel_id")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("scan returned %d guilds, want 2", len(got))
	}
	if string(got["g2"]) != `"c2"` {
		t.Errorf("g2 = %s", got["g2"])
	}
}

func TestRebind(t *testing.T) {
	t.Parallel()
	s := &Store{postgres: true}
	got := s.rebind("a = ? AND b = ?")
	if got != "a = $1 AND b = $2" {
		t.Errorf("rebind = %q", got)
	}
	s.postgres = false
	if got := s.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Backend: "mongodb"}, nil); err == nil {
		t.Error("expected error for unknown backend")
	}
}
