package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opencx/agentsim/internal/channel"
	"github.com/opencx/agentsim/internal/domain"
)

// createCall places a call from the signed-in agent to the requested
// destination.
func (h *Handler) createCall(w http.ResponseWriter, r *http.Request) {
	userName, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	req := decodeOperation(r)
	if req.Data.Destination == "" {
		Error(w, http.StatusBadRequest, "destination is required")
		return
	}
	callType := domain.CallTypeOutbound
	if h.dir.ByAddress(req.Data.Destination) != nil {
		callType = domain.CallTypeInternal
	}
	call := h.voice.CreateCall(r.Context(), callType, userName, "", "", req.Data.Destination, req.Data.UserData)
	JSON(w, http.StatusOK, map[string]any{
		"status":      map[string]any{"code": 0},
		"operationId": req.OperationID,
		"data":        map[string]any{"id": call.ID},
	})
}

// callOperation dispatches per-call operations. Unknown calls and
// inapplicable operations answer with the usual success envelope; the
// absence of a follow-up event is the failure signal.
func (h *Handler) callOperation(w http.ResponseWriter, r *http.Request) {
	userName, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	callID := chi.URLParam(r, "id")
	req := decodeOperation(r)
	ctx := r.Context()

	switch chi.URLParam(r, "fn") {
	case "answer":
		h.voice.Answer(ctx, userName, callID)
	case "hold":
		h.voice.Hold(ctx, userName, callID)
	case "retrieve":
		h.voice.Retrieve(ctx, userName, callID)
	case "release":
		h.voice.Release(ctx, userName, callID)
	case "complete":
		h.voice.Complete(ctx, userName, callID)
	case "initiate-transfer":
		h.voice.InitiateTransfer(ctx, userName, callID, req.Data.Destination)
	case "single-step-transfer":
		h.voice.SingleStepTransfer(ctx, userName, callID)
	case "single-step-conference":
		h.voice.SingleStepConference(ctx, userName, callID, req.Data.Destination)
	case "update-user-data":
		h.voice.UpdateUserData(ctx, callID, req.Data.UserData)
	case "attach-user-data":
		h.voice.AttachUserData(ctx, callID, req.Data.UserData)
	case "delete-user-data-pair":
		h.voice.DeleteUserDataPair(ctx, callID, req.Data.Key)
	case "send-dtmf":
		h.voice.SendDTMF(ctx, userName, callID)
	case "set-comment":
		h.voice.UpdateUserData(ctx, callID, domain.KVList{
			{Key: "Comment", Type: domain.TypeStr, Value: req.Data.Comment},
		})
	case "start-recording":
		h.voice.SetRecordingState(ctx, userName, callID, domain.RecordingRecording)
	case "stop-recording":
		h.voice.SetRecordingState(ctx, userName, callID, domain.RecordingStopped)
	case "pause-recording":
		h.voice.SetRecordingState(ctx, userName, callID, domain.RecordingPaused)
	case "resume-recording":
		h.voice.SetRecordingState(ctx, userName, callID, domain.RecordingRecording)
	case "switch-to-barge-in":
		h.voice.SwitchMonitoringMode(ctx, userName, true)
	case "switch-to-listen-in":
		h.voice.SwitchMonitoringMode(ctx, userName, false)
	default:
		Error(w, http.StatusNotImplemented, "unknown call operation")
		return
	}
	okStatus(w, req.OperationID)
}

// startMonitoring begins supervisor observation of another agent's line.
func (h *Handler) startMonitoring(w http.ResponseWriter, r *http.Request) {
	userName, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	req := decodeOperation(r)
	h.voice.StartMonitoring(r.Context(), userName,
		req.Data.MonitoredDN, req.Data.MonitorMode, req.Data.MonitorScope, req.Data.MonitorNextCallType)
	okStatus(w, req.OperationID)
}

func (h *Handler) stopMonitoring(w http.ResponseWriter, r *http.Request) {
	userName, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	req := decodeOperation(r)
	h.voice.StopMonitoring(r.Context(), userName, req.Data.MonitoredDN)
	okStatus(w, req.OperationID)
}

// voiceChannelOperation applies ready/not-ready/dnd changes to the voice
// line.
func (h *Handler) voiceChannelOperation(w http.ResponseWriter, r *http.Request) {
	userName, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	req := decodeOperation(r)

	switch chi.URLParam(r, "fn") {
	case "ready":
		h.voice.ChangeDNState(userName, channel.StateReady, req.Data.AgentWorkMode, false, "")
	case "not-ready":
		h.voice.ChangeDNState(userName, channel.StateNotReady, req.Data.AgentWorkMode, false, req.Data.ReasonCode)
	case "dnd-on":
		h.voice.ChangeDNState(userName, channel.StateNotReady, req.Data.AgentWorkMode, true, req.Data.ReasonCode)
	case "dnd-off":
		h.voice.ChangeDNState(userName, channel.StateNotReady, req.Data.AgentWorkMode, false, req.Data.ReasonCode)
	case "logout":
		h.voice.ChangeDNState(userName, channel.StateLoggedOut, "", false, "")
	default:
		Error(w, http.StatusNotImplemented, "unknown voice operation")
		return
	}
	okStatus(w, req.OperationID)
}
