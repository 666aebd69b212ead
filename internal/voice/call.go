// Package voice implements the call engine: the call state machine, the
// per-agent line state it drives, and the supervisor monitoring overlay.
package voice

import (
	"time"

	"github.com/google/uuid"
	"github.com/opencx/agentsim/internal/capability"
	"github.com/opencx/agentsim/internal/domain"
)

// Call is the aggregate behind one simulated call. It owns the canonical
// attached-data collection and the mirrored call state; the two legs are
// views over it that keep their own capability sets, participants, and
// (for hold/complete) their own state.
type Call struct {
	ID           string
	UUID         string
	Type         string
	ParentConnID string
	StartedAt    time.Time

	OriginNumber string
	DestNumber   string
	OriginAgent  *domain.Agent
	DestAgent    *domain.Agent

	userData domain.KVList
	origin   *Leg
	dest     *Leg

	// Supervisor overlay flags, shared by both legs while monitored.
	supervisorMonitoringState string
	supervisorListeningIn     bool
	supervisorBargedIn        bool
}

// Leg is one participant's view of a call.
type Leg struct {
	call           *Call
	origin         bool
	state          string
	recordingState string
	capabilities   []string
	participants   []domain.Participant
}

func newCall(table *capability.Table, callType string, originAgent, destAgent *domain.Agent, originNumber, destNumber string, defaultData domain.KVList) *Call {
	c := &Call{
		ID:           uuid.NewString(),
		UUID:         uuid.NewString(),
		Type:         callType,
		StartedAt:    time.Now(),
		OriginNumber: originNumber,
		DestNumber:   destNumber,
		OriginAgent:  originAgent,
		DestAgent:    destAgent,
		userData:     defaultData.Clone(),
	}
	c.origin = &Leg{
		call:           c,
		origin:         true,
		recordingState: domain.RecordingStopped,
		participants: []domain.Participant{
			{Number: destNumber, Role: domain.RoleDestination},
		},
	}
	c.dest = &Leg{
		call:           c,
		recordingState: domain.RecordingStopped,
		participants: []domain.Participant{
			{Number: originNumber, Role: domain.RoleOrigination},
		},
	}
	// Creation always puts the origin leg in Dialing and the destination
	// leg in Ringing, in that order.
	c.origin.setState(table, domain.StateDialing)
	c.dest.setState(table, domain.StateRinging)
	return c
}

// Origin returns the origin-leg view.
func (c *Call) Origin() *Leg { return c.origin }

// Dest returns the destination-leg view.
func (c *Call) Dest() *Leg { return c.dest }

// State returns the call-level state: the shared state when both legs
// agree, otherwise the origin leg's state.
func (c *Call) State() string { return c.origin.state }

// SetState transitions both legs to the same state, keeping the mirrored
// state invariant for whole-call transitions.
func (c *Call) SetState(table *capability.Table, state string) {
	c.origin.setState(table, state)
	c.dest.setState(table, state)
}

// SetParentConnID links a consult call to the call that spawned it. Both
// legs expose the same parent id.
func (c *Call) SetParentConnID(connID string) {
	c.ParentConnID = connID
}

// AddParticipant appends a participant to both legs.
func (c *Call) AddParticipant(p domain.Participant) {
	c.origin.participants = append(c.origin.participants, p)
	c.dest.participants = append(c.dest.participants, p)
}

// UserData returns the canonical attached-data collection. Both legs
// observe the same collection; mutations through one leg are visible
// through the other.
func (c *Call) UserData() domain.KVList { return c.userData }

// SetUserData replaces the canonical attached-data collection.
func (c *Call) SetUserData(data domain.KVList) { c.userData = data }

// LegForAgent returns the leg owned by the given agent user name, or nil.
func (c *Call) LegForAgent(userName string) *Leg {
	if c.OriginAgent != nil && c.OriginAgent.UserName == userName {
		return c.origin
	}
	if c.DestAgent != nil && c.DestAgent.UserName == userName {
		return c.dest
	}
	return nil
}

// AgentLeg returns the leg whose party is a known agent, preferring the
// origin leg. Used when mirroring a call toward a supervisor.
func (c *Call) AgentLeg() *Leg {
	if c.OriginAgent != nil {
		return c.origin
	}
	return c.dest
}

// Duration returns the call age in whole seconds.
func (c *Call) Duration() int {
	return int(time.Since(c.StartedAt).Round(time.Second).Seconds())
}

func (c *Call) clearSupervisorFlags() {
	c.supervisorMonitoringState = ""
	c.supervisorListeningIn = false
	c.supervisorBargedIn = false
}

// State returns the leg's current state.
func (l *Leg) State() string { return l.state }

// RecordingState returns the leg's recording sub-state.
func (l *Leg) RecordingState() string { return l.recordingState }

// Capabilities returns the leg's current capability list.
func (l *Leg) Capabilities() []string { return l.capabilities }

// Agent returns the agent owning this leg, or nil for an external party.
func (l *Leg) Agent() *domain.Agent {
	if l.origin {
		return l.call.OriginAgent
	}
	return l.call.DestAgent
}

// Number returns the leg's own address.
func (l *Leg) Number() string {
	if l.origin {
		return l.call.OriginNumber
	}
	return l.call.DestNumber
}

func (l *Leg) family() string {
	if l.origin && l.call.Type == domain.CallTypeConsult {
		return capability.FamilyConsultOrigin
	}
	return capability.FamilyStandard
}

// setState commits the leg state and recomputes capabilities from the
// table. Callers must not write capabilities directly.
func (l *Leg) setState(table *capability.Table, state string) {
	l.state = state
	l.capabilities = table.Derive(l.family(), state, l.capabilities)
}

// setRecordingState commits the recording sub-state and patches the
// capability list accordingly.
func (l *Leg) setRecordingState(state string) {
	l.recordingState = state
	l.capabilities = capability.ApplyRecording(l.capabilities, state)
}

// Event is the wire shape of one leg published to a client.
type Event struct {
	ID                        string               `json:"id"`
	ConnID                    string               `json:"connId"`
	CallUUID                  string               `json:"callUuid"`
	PhoneNumber               string               `json:"phoneNumber"`
	DNIS                      string               `json:"dnis"`
	CallType                  string               `json:"callType"`
	State                     string               `json:"state"`
	Capabilities              []string             `json:"capabilities"`
	Participants              []domain.Participant `json:"participants"`
	UserData                  domain.KVList        `json:"userData"`
	Duration                  int                  `json:"duration"`
	StartedAt                 time.Time            `json:"startedAt"`
	RecordingState            string               `json:"recordingState"`
	ParentConnID              string               `json:"parentConnId,omitempty"`
	SupervisorMonitoringState string               `json:"supervisorMonitoringState,omitempty"`
	SupervisorListeningIn     bool                 `json:"supervisorListeningIn,omitempty"`
	SupervisorBargedIn        bool                 `json:"supervisorBargedIn,omitempty"`
	IsMonitoredByMe           bool                 `json:"isMonitoredByMe,omitempty"`
	MonitoringInfo            *MonitoringInfo      `json:"monitoringInfo,omitempty"`
}

// Snapshot copies the leg into its wire shape.
func (l *Leg) Snapshot() *Event {
	c := l.call
	caps := make([]string, len(l.capabilities))
	copy(caps, l.capabilities)
	parts := make([]domain.Participant, len(l.participants))
	copy(parts, l.participants)
	return &Event{
		ID:                        c.ID,
		ConnID:                    c.ID,
		CallUUID:                  c.UUID,
		PhoneNumber:               l.Number(),
		DNIS:                      c.DestNumber,
		CallType:                  c.Type,
		State:                     l.state,
		Capabilities:              caps,
		Participants:              parts,
		UserData:                  c.userData,
		Duration:                  c.Duration(),
		StartedAt:                 c.StartedAt,
		RecordingState:            l.recordingState,
		ParentConnID:              c.ParentConnID,
		SupervisorMonitoringState: c.supervisorMonitoringState,
		SupervisorListeningIn:     c.supervisorListeningIn,
		SupervisorBargedIn:        c.supervisorBargedIn,
	}
}
