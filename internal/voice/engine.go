package voice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opencx/agentsim/internal/broker"
	"github.com/opencx/agentsim/internal/capability"
	"github.com/opencx/agentsim/internal/channel"
	"github.com/opencx/agentsim/internal/directory"
	"github.com/opencx/agentsim/internal/domain"
	"github.com/opencx/agentsim/internal/reporting"
)

// Config tunes engine timing.
type Config struct {
	// AutoAnswerDelay is how long an unanswered call rings before the
	// simulator answers it on behalf of the destination party.
	AutoAnswerDelay time.Duration
}

// Engine owns every simulated call and the per-agent voice line state.
// All operations serialize through one mutex; delayed callbacks re-acquire
// it and re-check state before acting.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	table    *capability.Table
	dir      *directory.Directory
	channels *channel.Registry
	broker   *broker.Broker
	recorder *reporting.Recorder

	calls    map[string]*Call
	monitors map[string]*monitoringSession // supervisor agent login -> session
	observed map[string]*MonitoringInfo    // monitored agent user name -> info
}

// NewEngine creates a call engine.
func NewEngine(cfg Config, table *capability.Table, dir *directory.Directory, channels *channel.Registry, b *broker.Broker, recorder *reporting.Recorder) *Engine {
	if cfg.AutoAnswerDelay <= 0 {
		cfg.AutoAnswerDelay = 5 * time.Second
	}
	return &Engine{
		cfg:      cfg,
		table:    table,
		dir:      dir,
		channels: channels,
		broker:   b,
		recorder: recorder,
		calls:    make(map[string]*Call),
		monitors: make(map[string]*monitoringSession),
		observed: make(map[string]*MonitoringInfo),
	}
}

// CreateCall creates a call between two parties. Either party may be given
// by user name or by address; unresolved parties stay external. The origin
// leg starts Dialing, the destination leg Ringing, and the auto-answer
// timer is armed.
func (e *Engine) CreateCall(ctx context.Context, callType, originUserName, destUserName, originNumber, destNumber string, defaultData domain.KVList) *Call {
	originAgent := e.resolveParty(originUserName, originNumber)
	destAgent := e.resolveParty(destUserName, destNumber)
	if originAgent != nil {
		originNumber = originAgent.AgentLogin
	}
	if destAgent != nil {
		destNumber = destAgent.AgentLogin
	}

	e.mu.Lock()
	call := newCall(e.table, callType, originAgent, destAgent, originNumber, destNumber, defaultData)
	e.calls[call.ID] = call
	e.mu.Unlock()

	if originAgent != nil {
		e.recorder.RecordInteraction(ctx, originAgent.UserName, reporting.Summary{
			ID: call.ID, ChannelType: "voice", Type: callType, DisplayName: destNumber,
		})
	}
	if destAgent != nil {
		e.recorder.RecordInteraction(ctx, destAgent.UserName, reporting.Summary{
			ID: call.ID, ChannelType: "voice", Type: callType, DisplayName: originNumber,
		})
	}

	e.mu.Lock()
	e.reportCallState(call)
	e.publishCallEvent(call)
	e.mu.Unlock()

	slog.Info("Call created", "call_id", call.ID, "call_type", callType, "origin", originNumber, "dest", destNumber)

	e.scheduleAutoAnswer(ctx, call.ID)
	return call
}

func (e *Engine) resolveParty(userName, number string) *domain.Agent {
	if userName != "" {
		return e.dir.ByIdentity(userName)
	}
	return e.dir.ByAddress(number)
}

// scheduleAutoAnswer arms the pickup timer. The timer is never cancelled;
// at fire time it re-reads the call state and is a no-op if the call has
// already left Ringing/Dialing.
func (e *Engine) scheduleAutoAnswer(ctx context.Context, callID string) {
	time.AfterFunc(e.cfg.AutoAnswerDelay, func() {
		e.mu.Lock()
		call, ok := e.calls[callID]
		if !ok || (call.State() != domain.StateRinging && call.State() != domain.StateDialing) {
			e.mu.Unlock()
			return
		}
		call.SetState(e.table, domain.StateEstablished)
		e.onEstablished(call, nil)
		e.reportCallState(call)
		e.publishCallEvent(call)
		e.mu.Unlock()
		slog.Debug("Call auto-answered", "call_id", callID)
	})
}

// Answer transitions the whole call to Established on behalf of userName.
func (e *Engine) Answer(ctx context.Context, userName, callID string) domain.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	call, ok := e.calls[callID]
	if !ok {
		return domain.ResultNotFound
	}
	if e.checkIfCallMonitored(userName, call, domain.StateEstablished, nil) {
		return domain.ResultOK
	}
	call.SetState(e.table, domain.StateEstablished)
	e.onEstablished(call, nil)
	e.reportCallState(call)
	e.publishCallEvent(call)
	return domain.ResultOK
}

// Hold parks the calling agent's leg. Only that leg changes state.
func (e *Engine) Hold(ctx context.Context, userName, callID string) domain.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	call, leg, res := e.agentLeg(userName, callID)
	if res != domain.ResultOK {
		return res
	}
	leg.setState(e.table, domain.StateHeld)
	e.reportCallState(call)
	e.publishAgentCallEvent(userName, leg, "")
	return domain.ResultOK
}

// Retrieve takes the calling agent's leg off hold.
func (e *Engine) Retrieve(ctx context.Context, userName, callID string) domain.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, leg, res := e.agentLeg(userName, callID)
	if res != domain.ResultOK {
		return res
	}
	leg.setState(e.table, domain.StateEstablished)
	e.reportCallStateForAgent(userName, leg)
	e.publishAgentCallEvent(userName, leg, "")
	return domain.ResultOK
}

// InitiateTransfer holds the current call and, when a destination is
// given, spawns a consult call linked to it through parentConnId.
func (e *Engine) InitiateTransfer(ctx context.Context, userName, callID, destination string) (domain.Result, *Call) {
	e.mu.Lock()
	call, leg, res := e.agentLeg(userName, callID)
	if res != domain.ResultOK {
		e.mu.Unlock()
		return res, nil
	}
	leg.setState(e.table, domain.StateHeld)
	e.reportCallStateForAgent(userName, leg)
	e.publishAgentCallEvent(userName, leg, "")
	e.mu.Unlock()

	var consult *Call
	if destination != "" {
		var destUserName string
		if destAgent := e.dir.ByAddress(destination); destAgent != nil {
			destUserName = destAgent.UserName
		}
		consult = e.CreateCall(ctx, domain.CallTypeConsult, userName, destUserName, "", destination, nil)
		e.mu.Lock()
		consult.SetParentConnID(call.ID)
		e.mu.Unlock()
	}
	return domain.ResultOK, consult
}

// SingleStepConference bridges a new party straight into the call.
func (e *Engine) SingleStepConference(ctx context.Context, userName, callID, destination string) domain.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	call, ok := e.calls[callID]
	if !ok {
		return domain.ResultNotFound
	}
	number := destination
	if destAgent := e.dir.ByAddress(destination); destAgent != nil {
		number = destAgent.AgentLogin
	}
	call.SetState(e.table, domain.StateEstablished)
	e.onEstablished(call, &domain.Participant{Number: number, Role: domain.RoleNewParty})
	e.reportCallState(call)
	e.publishCallEvent(call)
	return domain.ResultOK
}

// SingleStepTransfer completes the call from the transferring agent's
// perspective; no real transfer takes place.
func (e *Engine) SingleStepTransfer(ctx context.Context, userName, callID string) domain.Result {
	e.mu.Lock()
	call, ok := e.calls[callID]
	if !ok {
		e.mu.Unlock()
		return domain.ResultNotFound
	}
	call.SetState(e.table, domain.StateCompleted)
	e.reportCallState(call)
	duration := call.Duration()
	e.publishCallEvent(call)
	e.mirrorIfMonitored(call, domain.StateCompleted)
	e.dropIfFinished(call)
	e.mu.Unlock()

	e.recorder.RecordInteractionComplete(ctx, userName, callID, duration)
	return domain.ResultOK
}

// Release ends the call for both parties.
func (e *Engine) Release(ctx context.Context, userName, callID string) domain.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	call, ok := e.calls[callID]
	if !ok {
		return domain.ResultNotFound
	}
	if e.checkIfCallMonitored(userName, call, domain.StateReleased, []string{"complete"}) {
		return domain.ResultOK
	}
	call.SetState(e.table, domain.StateReleased)
	e.reportCallState(call)
	e.publishCallEvent(call)
	e.mirrorIfMonitored(call, domain.StateReleased)
	return domain.ResultOK
}

// Complete finishes the calling agent's leg only: the other leg keeps its
// state and the other agent stays on the call until they complete too.
func (e *Engine) Complete(ctx context.Context, userName, callID string) domain.Result {
	e.mu.Lock()
	call, leg, res := e.agentLeg(userName, callID)
	if res != domain.ResultOK {
		e.mu.Unlock()
		return res
	}
	if e.checkIfCallMonitored(userName, call, domain.StateCompleted, nil) {
		e.mu.Unlock()
		return domain.ResultOK
	}
	leg.setState(e.table, domain.StateCompleted)
	duration := call.Duration()
	e.reportCallStateForAgent(userName, leg)
	e.publishAgentCallEvent(userName, leg, "")
	if agent := e.dir.ByIdentity(userName); agent != nil {
		e.sendMonitoringEventsByAgent(call, agent, domain.StateCompleted, nil)
	}
	e.dropIfFinished(call)
	e.mu.Unlock()

	e.recorder.RecordInteractionComplete(ctx, userName, callID, duration)
	return domain.ResultOK
}

// dropIfFinished de-indexes the call once no leg is active anymore.
// Callers hold the engine lock.
func (e *Engine) dropIfFinished(call *Call) {
	if legActive(call.origin) || legActive(call.dest) {
		return
	}
	delete(e.calls, call.ID)
}

func legActive(l *Leg) bool {
	return l.Agent() != nil && l.state != domain.StateCompleted
}

// SetRecordingState applies a recording operation on the agent's leg and
// announces it with a CallRecordingStateChange notification.
func (e *Engine) SetRecordingState(ctx context.Context, userName, callID, recordingState string) domain.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, leg, res := e.agentLeg(userName, callID)
	if res != domain.ResultOK {
		return res
	}
	leg.setRecordingState(recordingState)
	e.publishAgentCallEvent(userName, leg, "CallRecordingStateChange")
	return domain.ResultOK
}

// UpdateUserData replaces attached-data entries by key. Duplicate entries
// for an updated key are consolidated down to the single new entry.
func (e *Engine) UpdateUserData(ctx context.Context, callID string, entries domain.KVList) domain.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	call, ok := e.calls[callID]
	if !ok {
		return domain.ResultNotFound
	}
	data := call.UserData()
	for _, entry := range entries {
		data = data.ConsolidateKey(entry.Key)
		data = data.CreateOrUpdate(entry)
	}
	call.SetUserData(data)
	e.publishAttachedDataChanged(call)
	return domain.ResultOK
}

// AttachUserData appends attached-data entries, duplicates allowed.
func (e *Engine) AttachUserData(ctx context.Context, callID string, entries domain.KVList) domain.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	call, ok := e.calls[callID]
	if !ok {
		return domain.ResultNotFound
	}
	call.SetUserData(append(call.UserData(), entries...))
	e.publishAttachedDataChanged(call)
	return domain.ResultOK
}

// DeleteUserDataPair removes the first attached-data entry with the key.
func (e *Engine) DeleteUserDataPair(ctx context.Context, callID, key string) domain.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	call, ok := e.calls[callID]
	if !ok {
		return domain.ResultNotFound
	}
	data, removed := call.UserData().DeletePair(key)
	if !removed {
		return domain.ResultNotApplicable
	}
	call.SetUserData(data)
	e.publishAttachedDataChanged(call)
	return domain.ResultOK
}

// SendDTMF acknowledges a DTMF burst by republishing the leg state.
func (e *Engine) SendDTMF(ctx context.Context, userName, callID string) domain.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, leg, res := e.agentLeg(userName, callID)
	if res != domain.ResultOK {
		return res
	}
	e.publishAgentCallEvent(userName, leg, "")
	return domain.ResultOK
}

// GetCall returns a call by id, or nil.
func (e *Engine) GetCall(callID string) *Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[callID]
}

// CallsForAgent returns the agent's legs that are not yet completed.
func (e *Engine) CallsForAgent(userName string) []*Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.callsForAgentLocked(userName)
}

func (e *Engine) callsForAgentLocked(userName string) []*Event {
	var out []*Event
	for _, call := range e.calls {
		leg := call.LegForAgent(userName)
		if leg != nil && leg.state != domain.StateCompleted {
			out = append(out, leg.Snapshot())
		}
	}
	return out
}

func (e *Engine) activeCallCount(userName string) int {
	n := 0
	for _, call := range e.calls {
		leg := call.LegForAgent(userName)
		if leg != nil && leg.state != domain.StateCompleted {
			n++
		}
	}
	return n
}

func (e *Engine) agentLeg(userName, callID string) (*Call, *Leg, domain.Result) {
	call, ok := e.calls[callID]
	if !ok {
		return nil, nil, domain.ResultNotFound
	}
	leg := call.LegForAgent(userName)
	if leg == nil {
		return call, nil, domain.ResultNotApplicable
	}
	return call, leg, domain.ResultOK
}

// onEstablished runs the post-establish hooks: monitoring overlay checks
// and the optional new-party participant. Callers hold the engine lock and
// have already committed the state change.
func (e *Engine) onEstablished(call *Call, participant *domain.Participant) {
	e.checkIfParticipantsMonitored(call)
	if participant != nil {
		call.AddParticipant(*participant)
	}
}
