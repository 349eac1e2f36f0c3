// Package commands implements prefixed chat commands with groups,
// subcommands and permission levels.
//
// A command line is "<prefix><name> [sub ...] [args]". The router walks the
// command tree as far as the tokens match, checks the permission level of
// every node on the path and hands the remaining tokens to the handler.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/jholhewres/didicogs/pkg/didi/channels"
	"github.com/jholhewres/didicogs/pkg/didi/dispatch"
)

// Level is the permission required to run a command.
type Level int

const (
	// Everyone may run the command.
	Everyone Level = iota

	// Admin requires guild administrator (or bot owner).
	Admin

	// Owner requires a configured bot owner.
	Owner
)

// MsgPermissionDenied is the reply to a rejected invocation.
const MsgPermissionDenied = "❌ You don’t have permission to use this command."

// ErrPermissionDenied is returned by checks that reject the author.
var ErrPermissionDenied = errors.New("permission denied")

// UsageError makes the router reply with the command usage.
type UsageError struct{ Reason string }

func (e *UsageError) Error() string { return "usage: " + e.Reason }

// Usagef returns a UsageError.
func Usagef(format string, args ...any) error {
	return &UsageError{Reason: fmt.Sprintf(format, args...)}
}

// HandlerFunc runs a command. The returned text, if any, is sent as a reply.
type HandlerFunc func(ctx context.Context, inv *Invocation) (string, error)

// Command is a node of the command tree.
type Command struct {
	Name    string
	Aliases []string

	// Usage lists the arguments, e.g. "<channel>".
	Usage string

	// Help is a one-line description.
	Help string

	// Level applies to the command and everything below it.
	Level Level

	// Run handles the command. Groups without Run print their help.
	Run HandlerFunc

	// Subcommands turn the command into a group.
	Subcommands []*Command
}

func (c *Command) sub(name string) *Command {
	for _, s := range c.Subcommands {
		if s.matches(name) {
			return s
		}
	}
	return nil
}

func (c *Command) matches(name string) bool {
	if strings.EqualFold(c.Name, name) {
		return true
	}
	for _, a := range c.Aliases {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}

// Invocation is one parsed command call.
type Invocation struct {
	Message *channels.IncomingMessage

	// Prefix is the prefix the message used.
	Prefix string

	// Path is the matched command path, e.g. ["gemini", "system"].
	Path []string

	// Args are the remaining tokens.
	Args []string

	// Rest is the raw text after the command path.
	Rest string

	line   string
	starts []int
}

// Arg returns the i-th argument or "".
func (inv *Invocation) Arg(i int) string {
	if i < len(inv.Args) {
		return inv.Args[i]
	}
	return ""
}

// RestAfter returns the raw text following the first n arguments.
func (inv *Invocation) RestAfter(n int) string {
	if n < 0 || n >= len(inv.starts) {
		return ""
	}
	return strings.TrimSpace(inv.line[inv.starts[n]:])
}

// Command returns the full invocation name, e.g. "?gemini system".
func (inv *Invocation) Command() string {
	return inv.Prefix + strings.Join(inv.Path, " ")
}

// AdminChecker answers guild administrator checks.
type AdminChecker interface {
	IsAdministrator(ctx context.Context, guildID, userID string) (bool, error)
}

// Result contains the outcome of handling a message.
type Result struct {
	// Response is the text to send back.
	Response string

	// Handled is true if the message named a known command.
	Handled bool

	// Path is the resolved command path.
	Path []string
}

// Router resolves and runs commands.
type Router struct {
	prefixes []string
	owners   map[string]bool
	admins   AdminChecker
	logger   *slog.Logger

	mu       sync.RWMutex
	commands []*Command
}

// NewRouter creates a Router. owners lists bot owner user IDs.
func NewRouter(prefixes, owners []string, admins AdminChecker, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		prefixes: prefixes,
		owners:   make(map[string]bool, len(owners)),
		admins:   admins,
		logger:   logger.With("component", "commands"),
	}
	for _, id := range owners {
		r.owners[id] = true
	}
	r.Register(&Command{
		Name:  "help",
		Usage: "[command]",
		Help:  "Show available commands.",
		Run:   r.helpCommand,
	})
	return r
}

// Prefixes returns the configured command prefixes.
func (r *Router) Prefixes() []string { return r.prefixes }

// Register adds top-level commands. A later command with the same name
// replaces the earlier one.
func (r *Router) Register(cmds ...*Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cmds {
		replaced := false
		for i, existing := range r.commands {
			if strings.EqualFold(existing.Name, c.Name) {
				r.commands[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			r.commands = append(r.commands, c)
		}
	}
}

// IsOwner reports whether userID is a configured bot owner.
func (r *Router) IsOwner(userID string) bool { return r.owners[userID] }

// Handle runs the command in msg, if any.
func (r *Router) Handle(ctx context.Context, msg *channels.IncomingMessage) Result {
	prefix, ok := dispatch.MatchPrefix(msg.Content, r.prefixes)
	if !ok {
		return Result{}
	}
	line := msg.Content[len(prefix):]
	tokens := tokenize(line)
	if len(tokens) == 0 {
		return Result{}
	}

	cmd := r.lookup(tokens[0].text)
	if cmd == nil {
		return Result{}
	}

	path := []string{cmd.Name}
	level := cmd.Level
	i := 1
	for i < len(tokens) {
		sub := cmd.sub(tokens[i].text)
		if sub == nil {
			break
		}
		cmd = sub
		path = append(path, sub.Name)
		if sub.Level > level {
			level = sub.Level
		}
		i++
	}

	inv := &Invocation{Message: msg, Prefix: prefix, Path: path, line: line}
	for _, t := range tokens[i:] {
		inv.Args = append(inv.Args, t.text)
		inv.starts = append(inv.starts, t.start)
	}
	inv.Rest = inv.RestAfter(0)

	res := Result{Handled: true, Path: path}
	logger := r.logger.With("command", strings.Join(path, " "), "guild", msg.GuildID, "user", msg.Author.ID)

	if err := r.authorize(ctx, msg, level); err != nil {
		logger.Info("command rejected", "error", err)
		res.Response = MsgPermissionDenied
		return res
	}

	if cmd.Run == nil {
		res.Response = r.groupHelp(prefix, path, cmd)
		return res
	}

	reply, err := cmd.Run(ctx, inv)
	var usage *UsageError
	switch {
	case err == nil:
		res.Response = reply
	case errors.As(err, &usage):
		res.Response = fmt.Sprintf("Usage: `%s`", strings.TrimSpace(inv.Command()+" "+cmd.Usage))
	case errors.Is(err, ErrPermissionDenied):
		res.Response = MsgPermissionDenied
	default:
		logger.Error("command failed", "error", err)
		res.Response = "❌ Something went wrong running that command."
	}
	return res
}

func (r *Router) lookup(name string) *Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.commands {
		if c.matches(name) {
			return c
		}
	}
	return nil
}

func (r *Router) authorize(ctx context.Context, msg *channels.IncomingMessage, level Level) error {
	if level == Everyone || r.owners[msg.Author.ID] {
		return nil
	}
	if level == Owner {
		return ErrPermissionDenied
	}
	if msg.GuildID == "" || r.admins == nil {
		return ErrPermissionDenied
	}
	ok, err := r.admins.IsAdministrator(ctx, msg.GuildID, msg.Author.ID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	if !ok {
		return ErrPermissionDenied
	}
	return nil
}

// ---------- Help ----------

func (r *Router) helpCommand(_ context.Context, inv *Invocation) (string, error) {
	if len(inv.Args) > 0 {
		cmd := r.lookup(inv.Args[0])
		if cmd == nil {
			return fmt.Sprintf("No command called `%s`.", inv.Args[0]), nil
		}
		path := []string{cmd.Name}
		for _, name := range inv.Args[1:] {
			sub := cmd.sub(name)
			if sub == nil {
				break
			}
			cmd = sub
			path = append(path, sub.Name)
		}
		return r.groupHelp(inv.Prefix, path, cmd), nil
	}

	r.mu.RLock()
	cmds := append([]*Command(nil), r.commands...)
	r.mu.RUnlock()
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })

	var b strings.Builder
	b.WriteString("**Commands**\n")
	for _, c := range cmds {
		fmt.Fprintf(&b, "`%s%s` %s\n", inv.Prefix, c.Name, c.Help)
	}
	fmt.Fprintf(&b, "\nType `%shelp <command>` for details.", inv.Prefix)
	return b.String(), nil
}

func (r *Router) groupHelp(prefix string, path []string, cmd *Command) string {
	var b strings.Builder
	name := prefix + strings.Join(path, " ")
	if cmd.Usage != "" {
		fmt.Fprintf(&b, "`%s %s`", name, cmd.Usage)
	} else {
		fmt.Fprintf(&b, "`%s`", name)
	}
	if cmd.Help != "" {
		b.WriteString(" ")
		b.WriteString(cmd.Help)
	}
	if len(cmd.Subcommands) > 0 {
		b.WriteString("\n**Subcommands**\n")
		for _, s := range cmd.Subcommands {
			fmt.Fprintf(&b, "`%s %s", name, s.Name)
			if s.Usage != "" {
				b.WriteString(" " + s.Usage)
			}
			fmt.Fprintf(&b, "` %s\n", s.Help)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// ---------- Parsing ----------

type token struct {
	text  string
	start int
}

// tokenize splits on whitespace, honoring double quotes.
func tokenize(line string) []token {
	var (
		tokens []token
		cur    strings.Builder
		start  = -1
		quoted bool
	)
	flush := func() {
		if start >= 0 {
			tokens = append(tokens, token{text: cur.String(), start: start})
		}
		cur.Reset()
		start = -1
	}
	for i, r := range line {
		switch {
		case r == '"':
			if start < 0 {
				start = i
			}
			quoted = !quoted
		case !quoted && (r == ' ' || r == '\t' || r == '\n'):
			flush()
		default:
			if start < 0 {
				start = i
			}
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}
