// Package channel tracks per-agent readiness and availability: the voice
// line (DN) plus one entry per named media channel.
package channel

import (
	"sync"
	"time"

	"github.com/opencx/agentsim/internal/domain"
)

// Channel states.
const (
	StateReady     = "Ready"
	StateNotReady  = "NotReady"
	StateLoggedOut = "LoggedOut"
)

// Activity labels shared between the voice and media families.
const (
	ActivityIdle       = "Idle"
	ActivityCallOnHold = "CallOnHold"
	ActivityInitiating = "InitiatingCall"
	ActivityDelivering = "DeliveringInteraction"
)

// DefaultMediaChannels are the media channels provisioned for every agent.
var DefaultMediaChannels = []string{"email", "workitem", "outboundpreview"}

// DNState is an agent's voice line.
type DNState struct {
	Number        string        `json:"number"`
	SwitchName    string        `json:"switchName"`
	AgentID       string        `json:"agentId"`
	Capabilities  []string      `json:"capabilities"`
	AgentState    string        `json:"agentState"`
	AgentWorkMode string        `json:"agentWorkMode"`
	DND           bool          `json:"dnd,omitempty"`
	Activity      string        `json:"activity,omitempty"`
	Available     bool          `json:"available"`
	Reasons       domain.KVList `json:"reasons"`
	Timestamp     int64         `json:"timestamp"`
}

// MediaChannel is an agent's state on one named media channel.
type MediaChannel struct {
	Name      string        `json:"name"`
	State     string        `json:"state"`
	DND       bool          `json:"dnd"`
	Activity  string        `json:"activity,omitempty"`
	Available bool          `json:"available"`
	Reasons   domain.KVList `json:"reasons"`
	Timestamp int64         `json:"timestamp"`
}

// Registry holds the channel state for every agent. Engines mutate entries
// through Update closures so reads and writes stay serialized.
type Registry struct {
	mu    sync.Mutex
	dn    map[string]*DNState
	media map[string]map[string]*MediaChannel
}

// NewRegistry creates an empty channel registry.
func NewRegistry() *Registry {
	return &Registry{
		dn:    make(map[string]*DNState),
		media: make(map[string]map[string]*MediaChannel),
	}
}

func defaultDN(agent *domain.Agent) *DNState {
	return &DNState{
		Number:     agent.AgentLogin,
		SwitchName: "SIP_Switch",
		AgentID:    agent.AgentLogin,
		Capabilities: []string{
			"ready", "not-ready", "dnd-on", "set-forward", "start-monitoring",
		},
		AgentState:    StateReady,
		AgentWorkMode: "Unknown",
		Available:     true,
		Activity:      ActivityIdle,
		Reasons:       domain.KVList{},
		Timestamp:     time.Now().UnixMilli(),
	}
}

func defaultMedia(name string) *MediaChannel {
	return &MediaChannel{
		Name:      name,
		State:     StateNotReady,
		Available: true,
		Activity:  ActivityIdle,
		Reasons:   domain.KVList{},
		Timestamp: time.Now().UnixMilli(),
	}
}

func (r *Registry) dnLocked(agent *domain.Agent) *DNState {
	dn, ok := r.dn[agent.UserName]
	if !ok {
		dn = defaultDN(agent)
		r.dn[agent.UserName] = dn
	}
	return dn
}

func (r *Registry) mediaLocked(userName, name string) *MediaChannel {
	channels, ok := r.media[userName]
	if !ok {
		channels = make(map[string]*MediaChannel, len(DefaultMediaChannels))
		for _, n := range DefaultMediaChannels {
			channels[n] = defaultMedia(n)
		}
		r.media[userName] = channels
	}
	ch, ok := channels[name]
	if !ok {
		ch = defaultMedia(name)
		channels[name] = ch
	}
	return ch
}

// UpdateDN applies fn to the agent's DN state and stamps the mutation time.
func (r *Registry) UpdateDN(agent *domain.Agent, fn func(*DNState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dn := r.dnLocked(agent)
	fn(dn)
	dn.Timestamp = time.Now().UnixMilli()
}

// UpdateMedia applies fn to one of the agent's media channels.
func (r *Registry) UpdateMedia(userName, name string, fn func(*MediaChannel)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := r.mediaLocked(userName, name)
	fn(ch)
	ch.Timestamp = time.Now().UnixMilli()
}

// UpdateAllMedia applies fn to every media channel of the agent.
func (r *Registry) UpdateAllMedia(userName string, fn func(*MediaChannel)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range DefaultMediaChannels {
		ch := r.mediaLocked(userName, name)
		fn(ch)
		ch.Timestamp = time.Now().UnixMilli()
	}
}

// DNSnapshot returns a copy of the agent's DN state for publishing.
func (r *Registry) DNSnapshot(agent *domain.Agent) DNState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.dnLocked(agent)
}

// MediaSnapshot returns a copy of one media channel for publishing.
func (r *Registry) MediaSnapshot(userName, name string) MediaChannel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.mediaLocked(userName, name)
}

// AllMediaSnapshot returns copies of every media channel for the agent, in
// the default channel order.
func (r *Registry) AllMediaSnapshot(userName string) []MediaChannel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]MediaChannel, 0, len(DefaultMediaChannels))
	for _, name := range DefaultMediaChannels {
		out = append(out, *r.mediaLocked(userName, name))
	}
	return out
}
