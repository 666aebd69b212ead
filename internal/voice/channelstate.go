package voice

import (
	"github.com/opencx/agentsim/internal/broker"
	"github.com/opencx/agentsim/internal/channel"
	"github.com/opencx/agentsim/internal/domain"
)

// Activity labels per call type while a call is being handled.
var handlingActivity = map[string]string{
	domain.CallTypeInbound:  "HandlingInboundCall",
	domain.CallTypeInternal: "HandlingInternalCall",
	domain.CallTypeOutbound: "HandlingOutboundCall",
	domain.CallTypeConsult:  "HandlingConsultCall",
}

// reportCallState refreshes the line state of both agents on the call.
// Callers hold the engine lock and have already committed the leg states.
func (e *Engine) reportCallState(call *Call) {
	if call.OriginAgent != nil {
		e.reportCallStateForAgent(call.OriginAgent.UserName, call.origin)
	}
	if call.DestAgent != nil {
		e.reportCallStateForAgent(call.DestAgent.UserName, call.dest)
	}
}

// reportCallStateForAgent recomputes one agent's DN activity and
// availability from the committed leg state.
func (e *Engine) reportCallStateForAgent(userName string, leg *Leg) {
	e.reportStateForAgent(userName, leg.call.Type, leg.state)
}

// reportStateForAgent is the state-only form, used for supervisors whose
// mirrored call has no leg of their own.
func (e *Engine) reportStateForAgent(userName, callType, state string) {
	agent := e.dir.ByIdentity(userName)
	if agent == nil {
		return
	}
	capacityFilled := e.activeCallCount(userName) >= agent.EffectiveCapacity()

	e.channels.UpdateDN(agent, func(dn *channel.DNState) {
		switch state {
		case domain.StateEstablished:
			if activity, ok := handlingActivity[callType]; ok {
				dn.Activity = activity
			}
			dn.Available = !capacityFilled
		case domain.StateRinging, domain.StateDialing:
			dn.Activity = channel.ActivityInitiating
			dn.Available = false
		case domain.StateHeld:
			dn.Activity = channel.ActivityCallOnHold
			dn.Available = false
		case domain.StateCompleted:
			if e.activeCallCount(userName) == 0 {
				dn.Activity = channel.ActivityIdle
				dn.Available = true
			} else {
				dn.Available = !capacityFilled
			}
		}
	})
}

// ChangeDNState applies a ready/not-ready/dnd state change to the agent's
// voice line and publishes DnStateChanged to all their sessions.
func (e *Engine) ChangeDNState(userName, agentState, workMode string, dnd bool, reasonCode string) domain.Result {
	agent := e.dir.ByIdentity(userName)
	if agent == nil {
		return domain.ResultNotFound
	}
	e.channels.UpdateDN(agent, func(dn *channel.DNState) {
		dn.AgentState = agentState
		dn.AgentWorkMode = workMode
		dn.DND = dnd
		if reasonCode != "" {
			dn.Reasons = domain.KVList{{Key: "ReasonCode", Type: domain.TypeStr, Value: reasonCode}}
		} else {
			dn.Reasons = domain.KVList{}
		}
	})
	e.publishDNState(agent)
	return domain.ResultOK
}

// publishDNState pushes the agent's current line state to their sessions.
func (e *Engine) publishDNState(agent *domain.Agent) {
	dn := e.channels.DNSnapshot(agent)
	e.broker.Publish(agent.UserName, broker.TopicVoice, map[string]any{
		"dn":          dn,
		"messageType": "DnStateChanged",
	})
}

// publishCallEvent publishes each agent-owned leg to its owner.
func (e *Engine) publishCallEvent(call *Call) {
	if call.OriginAgent != nil {
		e.publishAgentCallEvent(call.OriginAgent.UserName, call.origin, "")
	}
	if call.DestAgent != nil {
		e.publishAgentCallEvent(call.DestAgent.UserName, call.dest, "")
	}
}

// publishAgentCallEvent publishes one leg snapshot to one agent.
func (e *Engine) publishAgentCallEvent(userName string, leg *Leg, notificationType string) {
	e.publishCallSnapshot(userName, leg.Snapshot(), notificationType)
}

func (e *Engine) publishCallSnapshot(userName string, snapshot *Event, notificationType string) {
	if notificationType == "" {
		notificationType = "StateChange"
	}
	e.broker.Publish(userName, broker.TopicVoice, map[string]any{
		"notificationType": notificationType,
		"call":             snapshot,
		"messageType":      "CallStateChanged",
	})
}

// publishAttachedDataChanged announces user-data mutations to both agents.
func (e *Engine) publishAttachedDataChanged(call *Call) {
	if call.OriginAgent != nil {
		e.publishAgentCallEvent(call.OriginAgent.UserName, call.origin, "AttachedDataChanged")
	}
	if call.DestAgent != nil {
		e.publishAgentCallEvent(call.DestAgent.UserName, call.dest, "AttachedDataChanged")
	}
}
