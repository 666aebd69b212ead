// Package broker distributes simulator events to every live client session
// of an agent identity. An agent has at most one primary session plus any
// number of secondary (duplicate-tab) sessions; all of them receive the
// same messages.
package broker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logical topics events are published on.
const (
	TopicVoice          = "/workspace/v3/voice"
	TopicMedia          = "/workspace/v3/media"
	TopicMediaTopics    = "/workspace/v3/media/topics"
	TopicInitialization = "/workspace/v3/initialization"
	TopicInteractions   = "/workspace/v3/interactions"
	TopicWorkbins       = "/workspace/v3/workbins"
)

// MediaTopic returns the per-media-type event topic.
func MediaTopic(media string) string {
	return TopicMedia + "/" + media
}

// Transport pushes a message to one client connection. Implementations must
// be safe for concurrent use.
type Transport interface {
	Deliver(topic string, msg any) error
}

// Session is one live client attachment for an agent identity.
type Session struct {
	ID         string
	Identity   string
	Transport  Transport
	AttachedAt time.Time
}

type agentSessions struct {
	primary   *Session
	secondary []*Session
}

// Bringup carries the staged session-initialization payloads. InitialState
// is evaluated after the bring-up delay so it reflects the state current at
// fire time, not at attach time.
type Bringup struct {
	User          any
	Configuration any
	InitialState  func() (dn any, media any)
}

// Broker is the session registry and fan-out hub.
type Broker struct {
	mu           sync.Mutex
	sessions     map[string]*agentSessions
	bringupDelay time.Duration
}

// New creates a broker. bringupDelay separates the initialization handshake
// from the initial-state messages that follow it.
func New(bringupDelay time.Duration) *Broker {
	return &Broker{
		sessions:     make(map[string]*agentSessions),
		bringupDelay: bringupDelay,
	}
}

// Attach registers a new session for the identity and runs the bring-up
// sequence on it: progress(50), progress(100, payload), complete(payload),
// then after the bring-up delay the initial line and media-channel state.
// If the identity already has a primary session it is demoted to the
// secondary list so both keep receiving events.
func (b *Broker) Attach(identity string, t Transport, bringup *Bringup) *Session {
	s := &Session{
		ID:         uuid.NewString(),
		Identity:   identity,
		Transport:  t,
		AttachedAt: time.Now(),
	}

	b.mu.Lock()
	reg, ok := b.sessions[identity]
	if !ok {
		reg = &agentSessions{}
		b.sessions[identity] = reg
	}
	if reg.primary != nil {
		reg.secondary = append(reg.secondary, reg.primary)
	}
	reg.primary = s
	b.mu.Unlock()

	slog.Info("Session attached", "identity", identity, "session_id", s.ID)

	if bringup != nil {
		b.runBringup(s, bringup)
	}
	return s
}

// Detach removes one session. When the primary detaches, the oldest
// secondary is promoted so the identity keeps a primary session.
func (b *Broker) Detach(identity, sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	reg, ok := b.sessions[identity]
	if !ok {
		return
	}
	if reg.primary != nil && reg.primary.ID == sessionID {
		reg.primary = nil
		if len(reg.secondary) > 0 {
			reg.primary = reg.secondary[0]
			reg.secondary = reg.secondary[1:]
		}
	} else {
		for i, s := range reg.secondary {
			if s.ID == sessionID {
				reg.secondary = append(reg.secondary[:i], reg.secondary[i+1:]...)
				break
			}
		}
	}
	if reg.primary == nil && len(reg.secondary) == 0 {
		delete(b.sessions, identity)
	}
	slog.Info("Session detached", "identity", identity, "session_id", sessionID)
}

// DetachAll removes every session for the identity (logout).
func (b *Broker) DetachAll(identity string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, identity)
}

// SessionCount returns the number of live sessions for the identity.
func (b *Broker) SessionCount(identity string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	reg, ok := b.sessions[identity]
	if !ok {
		return 0
	}
	n := len(reg.secondary)
	if reg.primary != nil {
		n++
	}
	return n
}

// Publish delivers msg on topic to every session of the identity. Delivery
// failures and missing sessions are logged no-ops, never errors.
func (b *Broker) Publish(identity, topic string, msg any) {
	b.mu.Lock()
	reg, ok := b.sessions[identity]
	var targets []*Session
	if ok {
		if reg.primary != nil {
			targets = append(targets, reg.primary)
		}
		targets = append(targets, reg.secondary...)
	}
	b.mu.Unlock()

	if len(targets) == 0 {
		slog.Debug("Publish skipped, no sessions", "identity", identity, "topic", topic)
		return
	}
	for _, s := range targets {
		b.deliver(s, topic, msg)
	}
}

func (b *Broker) deliver(s *Session, topic string, msg any) {
	if s.Transport == nil {
		slog.Debug("Delivery skipped, no transport", "identity", s.Identity, "session_id", s.ID)
		return
	}
	if err := s.Transport.Deliver(topic, msg); err != nil {
		slog.Warn("Delivery failed", "identity", s.Identity, "session_id", s.ID, "topic", topic, "error", err)
	}
}
