package voice

import (
	"context"
	"log/slog"
	"strings"

	"github.com/opencx/agentsim/internal/broker"
	"github.com/opencx/agentsim/internal/domain"
)

// Monitoring modes.
const (
	MonitorModeListen  = "listen"
	MonitorModeMute    = "mute"
	MonitorModeCoach   = "coach"
	MonitorModeConnect = "connect"
)

// MonitorOneCall tears the monitoring session down after one mirrored call
// completes.
const MonitorOneCall = "OneCall"

// MonitoringInfo describes an active supervisor observation.
type MonitoringInfo struct {
	MonitoredDN         string `json:"monitoredDN"`
	MonitorMode         string `json:"monitorMode"`
	MonitorScope        string `json:"monitorScope,omitempty"`
	MonitorNextCallType string `json:"monitorNextCallType,omitempty"`
}

type monitoringSession struct {
	supervisor *domain.Agent
	info       MonitoringInfo
	mirrored   *Leg
}

// StartMonitoring begins observation of the agent owning targetAddress.
// An unresolved supervisor or target is a silent no-op. If the target is
// already on a call, that call is mirrored immediately as Ringing with an
// accept capability so the supervisor's client can bridge in.
func (e *Engine) StartMonitoring(ctx context.Context, supervisorUserName, targetAddress, mode, scope, nextCallType string) domain.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	spv := e.dir.ByIdentity(supervisorUserName)
	target := e.dir.ByAddress(targetAddress)
	if spv == nil || target == nil {
		slog.Debug("Start monitoring ignored, unresolved party", "supervisor", supervisorUserName, "target", targetAddress)
		return domain.ResultNotFound
	}

	info := MonitoringInfo{
		MonitoredDN:         targetAddress,
		MonitorMode:         mode,
		MonitorScope:        scope,
		MonitorNextCallType: nextCallType,
	}
	e.observed[target.UserName] = &info
	e.monitors[spv.AgentLogin] = &monitoringSession{supervisor: spv, info: info}

	if call := e.firstActiveCall(target.UserName); call != nil {
		e.sendMonitoringEventsByAgent(call, target, domain.StateRinging, []string{"accept"})
	}
	e.publishMonitorEvent(spv, &info, "MonitoringStarted")
	slog.Info("Monitoring started", "supervisor", spv.UserName, "target", target.UserName, "mode", mode)
	return domain.ResultOK
}

// StopMonitoring ends observation of targetAddress. Unknown parties or a
// missing monitoring session degrade to a no-op.
func (e *Engine) StopMonitoring(ctx context.Context, supervisorUserName, targetAddress string) domain.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	spv := e.dir.ByIdentity(supervisorUserName)
	target := e.dir.ByAddress(targetAddress)
	if spv == nil || target == nil {
		return domain.ResultNotFound
	}
	return e.stopMonitoringLocked(spv, target)
}

func (e *Engine) stopMonitoringLocked(spv, target *domain.Agent) domain.Result {
	session, ok := e.monitors[spv.AgentLogin]
	if !ok {
		return domain.ResultNotApplicable
	}
	e.publishMonitorEvent(spv, &session.info, "MonitoringStopped")
	delete(e.observed, target.UserName)
	delete(e.monitors, spv.AgentLogin)
	slog.Info("Monitoring stopped", "supervisor", spv.UserName, "target", target.UserName)
	return domain.ResultOK
}

// SwitchMonitoringMode flips the supervisor's live monitoring session
// between listen-in and barge-in, updating the mirrored call's supervisor
// flags and re-publishing to every original party.
func (e *Engine) SwitchMonitoringMode(ctx context.Context, supervisorUserName string, bargeIn bool) domain.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	spv := e.dir.ByIdentity(supervisorUserName)
	if spv == nil {
		return domain.ResultNotFound
	}
	session, ok := e.monitors[spv.AgentLogin]
	if !ok || session.mirrored == nil {
		return domain.ResultNotApplicable
	}

	mode := MonitorModeMute
	if bargeIn {
		mode = MonitorModeConnect
	}
	call := session.mirrored.call
	call.supervisorMonitoringState = mode
	call.supervisorListeningIn = !bargeIn
	call.supervisorBargedIn = bargeIn

	for _, party := range e.callParties(call, spv) {
		if leg := call.LegForAgent(party.UserName); leg != nil {
			e.publishAgentCallEvent(party.UserName, leg, "")
		}
	}

	info := session.info
	info.MonitorMode = mode
	e.publishSupervisorCallEvent(spv, session.mirrored, nil, info, "", nil)
	return domain.ResultOK
}

// checkIfParticipantsMonitored mirrors a Ringing event with an accept
// capability toward every supervisor observing either participant.
// Callers hold the engine lock.
func (e *Engine) checkIfParticipantsMonitored(call *Call) {
	for _, agent := range []*domain.Agent{call.DestAgent, call.OriginAgent} {
		if agent == nil {
			continue
		}
		if _, ok := e.observed[agent.UserName]; ok {
			e.sendMonitoringEventsByAgent(call, agent, domain.StateRinging, []string{"accept"})
		}
	}
}

// mirrorIfMonitored mirrors a committed state change on a monitored call
// to every observing supervisor. Callers hold the engine lock.
func (e *Engine) mirrorIfMonitored(call *Call, state string) {
	for _, agent := range []*domain.Agent{call.DestAgent, call.OriginAgent} {
		if agent == nil {
			continue
		}
		if _, ok := e.observed[agent.UserName]; ok {
			e.sendMonitoringEventsByAgent(call, agent, state, nil)
		}
	}
}

// checkIfCallMonitored handles operations issued by a supervisor against a
// call they are mirroring: the state change is reflected on the mirror
// only, leaving the real call untouched. Returns true when handled.
func (e *Engine) checkIfCallMonitored(userName string, call *Call, state string, caps []string) bool {
	user := e.dir.ByIdentity(userName)
	if user == nil {
		return false
	}
	session, ok := e.monitors[user.AgentLogin]
	if !ok || session.mirrored == nil {
		return false
	}
	if session.mirrored != call.origin && session.mirrored != call.dest {
		return false
	}
	e.publishSupervisorCallEvent(session.supervisor, session.mirrored, session, session.info, state, caps)
	return true
}

// sendMonitoringEventsByAgent mirrors the call toward every supervisor
// whose monitored DN matches the target agent's.
func (e *Engine) sendMonitoringEventsByAgent(call *Call, target *domain.Agent, state string, caps []string) {
	info, ok := e.observed[target.UserName]
	if !ok {
		return
	}
	leg := call.LegForAgent(target.UserName)
	if leg == nil {
		leg = call.AgentLeg()
	}
	for _, session := range e.monitors {
		if session.info.MonitoredDN != info.MonitoredDN {
			continue
		}
		e.publishSupervisorCallEvent(session.supervisor, leg, session, session.info, state, caps)
	}
}

// publishSupervisorCallEvent builds and publishes the supervisor's view of
// a mirrored leg. session may be nil when the mirror bookkeeping (and the
// one-shot teardown) must not run, e.g. for mode-switch republishes.
func (e *Engine) publishSupervisorCallEvent(spv *domain.Agent, leg *Leg, session *monitoringSession, info MonitoringInfo, state string, caps []string) {
	if session != nil {
		session.mirrored = leg
	}
	call := leg.call

	snap := leg.Snapshot()
	if state != "" {
		snap.State = state
	}
	snap.Capabilities = append(snap.Capabilities, caps...)
	snap.IsMonitoredByMe = true
	eventInfo := info
	eventInfo.MonitorNextCallType = ""
	snap.MonitoringInfo = &eventInfo

	spvParty := domain.Participant{Number: spv.AgentLogin, Role: domain.RoleObserver}
	parties := e.callParties(call, spv)
	for _, party := range parties {
		if !hasParticipant(snap.Participants, party.AgentLogin) {
			snap.Participants = append(snap.Participants, domain.Participant{
				Number: party.AgentLogin,
				Role:   domain.RoleNewParty,
			})
		}
	}
	snap.Participants = append(snap.Participants, spvParty)

	switch state {
	case domain.StateRinging:
		// The supervisor silently joins the line.
		call.supervisorMonitoringState = info.MonitorMode
		call.supervisorListeningIn = true
		e.republishToParties(call, parties)
	case domain.StateReleased:
		call.clearSupervisorFlags()
		e.republishToParties(call, parties)
	}

	if strings.EqualFold(info.MonitorMode, MonitorModeCoach) {
		switch state {
		case domain.StateEstablished:
			// Coaching becomes visible to the coached parties.
			for _, party := range parties {
				partyLeg := call.LegForAgent(party.UserName)
				if partyLeg == nil {
					continue
				}
				partySnap := partyLeg.Snapshot()
				partySnap.Participants = append(partySnap.Participants, spvParty)
				e.publishCallSnapshot(party.UserName, partySnap, "ParticipantsUpdated")
			}
		case domain.StateReleased:
			for _, party := range parties {
				if partyLeg := call.LegForAgent(party.UserName); partyLeg != nil {
					e.publishAgentCallEvent(party.UserName, partyLeg, "ParticipantsUpdated")
				}
			}
		}
	}

	e.publishCallSnapshot(spv.UserName, snap, "")
	e.reportStateForAgent(spv.UserName, call.Type, snap.State)

	if state == domain.StateCompleted && session != nil {
		if session.info.MonitorNextCallType == MonitorOneCall {
			if target := e.dir.ByAddress(session.info.MonitoredDN); target != nil {
				e.stopMonitoringLocked(spv, target)
			}
		} else {
			session.mirrored = nil
		}
	}
}

func (e *Engine) republishToParties(call *Call, parties []*domain.Agent) {
	for _, party := range parties {
		if leg := call.LegForAgent(party.UserName); leg != nil {
			e.publishAgentCallEvent(party.UserName, leg, "")
		}
	}
}

// callParties returns the known agents on the call, excluding except.
func (e *Engine) callParties(call *Call, except *domain.Agent) []*domain.Agent {
	var out []*domain.Agent
	for _, agent := range []*domain.Agent{call.OriginAgent, call.DestAgent} {
		if agent != nil && agent.AgentLogin != except.AgentLogin {
			out = append(out, agent)
		}
	}
	return out
}

func hasParticipant(parts []domain.Participant, number string) bool {
	for _, p := range parts {
		if p.Number == number {
			return true
		}
	}
	return false
}

// firstActiveCall returns the oldest active call for the agent, or nil.
func (e *Engine) firstActiveCall(userName string) *Call {
	var best *Call
	for _, call := range e.calls {
		leg := call.LegForAgent(userName)
		if leg == nil || leg.state == domain.StateCompleted {
			continue
		}
		if best == nil || call.StartedAt.Before(best.StartedAt) {
			best = call
		}
	}
	return best
}

// publishMonitorEvent announces monitoring lifecycle changes to the
// supervisor's own sessions.
func (e *Engine) publishMonitorEvent(spv *domain.Agent, info *MonitoringInfo, eventType string) {
	var otherDN, nextCallType, mode string
	if info != nil {
		otherDN = info.MonitoredDN
		nextCallType = info.MonitorNextCallType
		mode = info.MonitorMode
	}
	e.broker.Publish(spv.UserName, broker.TopicVoice, map[string]any{
		"eventType": eventType,
		"event": map[string]any{
			"otherDN":             otherDN,
			"monitorNextCallType": nextCallType,
		},
		"monitorMode": mode,
		"messageType": "MonitoringStateChanged",
	})
}
