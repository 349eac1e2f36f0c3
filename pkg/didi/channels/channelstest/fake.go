// Package channelstest provides an in-memory channels.Guilds for tests.
package channelstest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jholhewres/didicogs/pkg/didi/channels"
)

// Sent is one recorded outgoing message.
type Sent struct {
	To      string
	Message channels.OutgoingMessage
}

// Platform is a scripted in-memory guild platform. Populate the exported
// maps before use; all methods are safe for concurrent use.
type Platform struct {
	Self string

	// Channels, Roles and Members are keyed by ID.
	Channels map[string]*channels.ChannelInfo
	Roles    map[string]*channels.Role
	Members  map[string]*channels.Member

	// Admins lists users for which IsAdministrator is true.
	Admins map[string]bool

	// NoEmbed lists channels where CanEmbed is false.
	NoEmbed map[string]bool

	// NSFW lists age-restricted channels.
	NSFW map[string]bool

	// SendErr, when set, fails every Send.
	SendErr error

	mu       sync.Mutex
	sent     []Sent
	typing   int
	messages chan *channels.IncomingMessage
	events   chan *channels.Event
}

// New creates an empty Platform whose bot user is self.
func New(self string) *Platform {
	return &Platform{
		Self:     self,
		Channels: make(map[string]*channels.ChannelInfo),
		Roles:    make(map[string]*channels.Role),
		Members:  make(map[string]*channels.Member),
		Admins:   make(map[string]bool),
		NoEmbed:  make(map[string]bool),
		NSFW:     make(map[string]bool),
		messages: make(chan *channels.IncomingMessage, 64),
		events:   make(chan *channels.Event, 64),
	}
}

// AddChannel registers a text channel.
func (p *Platform) AddChannel(id, name string) *channels.ChannelInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := &channels.ChannelInfo{ID: id, Name: name}
	p.Channels[id] = c
	return c
}

// AddRoleDef registers a role.
func (p *Platform) AddRoleDef(id, name string) *channels.Role {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := &channels.Role{ID: id, Name: name}
	p.Roles[id] = r
	return r
}

// AddMember registers a member.
func (p *Platform) AddMember(id, name string, roles ...string) *channels.Member {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := &channels.Member{ID: id, Username: strings.ToLower(name), DisplayName: name, Roles: roles}
	p.Members[id] = m
	return m
}

// Sent returns a copy of every message sent so far.
func (p *Platform) Sent() []Sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Sent(nil), p.sent...)
}

// Last returns the most recent message sent, or a zero Sent.
func (p *Platform) Last() Sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sent) == 0 {
		return Sent{}
	}
	return p.sent[len(p.sent)-1]
}

// Typing returns how many typing indicators were sent.
func (p *Platform) Typing() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typing
}

// Push queues an incoming message.
func (p *Platform) Push(msg *channels.IncomingMessage) { p.messages <- msg }

// PushEvent queues a lifecycle event.
func (p *Platform) PushEvent(evt *channels.Event) { p.events <- evt }

func (p *Platform) Name() string                              { return "fake" }
func (p *Platform) Connect(context.Context) error             { return nil }
func (p *Platform) Disconnect() error                         { return nil }
func (p *Platform) IsConnected() bool                         { return true }
func (p *Platform) Health() channels.HealthStatus             { return channels.HealthStatus{Connected: true} }
func (p *Platform) SelfID() string                            { return p.Self }
func (p *Platform) Receive() <-chan *channels.IncomingMessage { return p.messages }
func (p *Platform) Events() <-chan *channels.Event            { return p.events }

func (p *Platform) Send(_ context.Context, to string, msg *channels.OutgoingMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SendErr != nil {
		return p.SendErr
	}
	p.sent = append(p.sent, Sent{To: to, Message: *msg})
	return nil
}

func (p *Platform) SendTyping(context.Context, string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.typing++
	return nil
}

func (p *Platform) CanEmbed(_ context.Context, channelID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.NoEmbed[channelID]
}

func (p *Platform) IsNSFW(_ context.Context, channelID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.NSFW[channelID]
}

func (p *Platform) ResolveChannel(_ context.Context, _ string, ref string) (*channels.ChannelInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ref = strings.TrimSuffix(strings.TrimPrefix(ref, "<#"), ">")
	for _, c := range p.Channels {
		if c.ID == ref || strings.EqualFold(c.Name, strings.TrimPrefix(ref, "#")) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("channel %q: %w", ref, channels.ErrNotFound)
}

func (p *Platform) ResolveRole(_ context.Context, _ string, ref string) (*channels.Role, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ref = strings.TrimSuffix(strings.TrimPrefix(ref, "<@&"), ">")
	for _, r := range p.Roles {
		if r.ID == ref || strings.EqualFold(r.Name, ref) {
			return r, nil
		}
	}
	return nil, fmt.Errorf("role %q: %w", ref, channels.ErrNotFound)
}

func (p *Platform) Role(_ context.Context, _ string, roleID string) (*channels.Role, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.Roles[roleID]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("role %s: %w", roleID, channels.ErrNotFound)
}

func (p *Platform) ResolveMember(_ context.Context, _ string, ref string) (*channels.Member, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ref = strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(ref, "<@"), "!"), ">")
	for _, m := range p.Members {
		if m.ID == ref || strings.EqualFold(m.Username, ref) || strings.EqualFold(m.DisplayName, ref) {
			cp := *m
			cp.Roles = append([]string(nil), m.Roles...)
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("member %q: %w", ref, channels.ErrNotFound)
}

func (p *Platform) AddRole(_ context.Context, _ string, userID, roleID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.Members[userID]
	if !ok {
		return channels.ErrNotFound
	}
	if !m.HasRole(roleID) {
		m.Roles = append(m.Roles, roleID)
	}
	return nil
}

func (p *Platform) RemoveRole(_ context.Context, _ string, userID, roleID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.Members[userID]
	if !ok {
		return channels.ErrNotFound
	}
	kept := m.Roles[:0]
	for _, id := range m.Roles {
		if id != roleID {
			kept = append(kept, id)
		}
	}
	m.Roles = kept
	return nil
}

func (p *Platform) IsAdministrator(_ context.Context, _ string, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Admins[userID], nil
}

var (
	_ channels.Guilds          = (*Platform)(nil)
	_ channels.PresenceChannel = (*Platform)(nil)
)
