package api

import (
	"encoding/json"
	"net/http"

	"github.com/opencx/agentsim/internal/domain"
)

// simRequest drives the simulator-control endpoints: external stimuli a
// test harness injects toward an agent, outside the workspace API proper.
type simRequest struct {
	Target   string `json:"target"`
	From     string `json:"from"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	CallType string `json:"callType"`
	Origin   string `json:"origin"`
}

func decodeSim(r *http.Request) simRequest {
	var req simRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	return req
}

// simCreateCall rings the target agent from a simulated external party.
func (h *Handler) simCreateCall(w http.ResponseWriter, r *http.Request) {
	req := decodeSim(r)
	if h.dir.ByIdentity(req.Target) == nil {
		Error(w, http.StatusNotFound, "unknown target agent")
		return
	}
	callType := req.CallType
	if callType == "" {
		callType = domain.CallTypeInbound
	}
	origin := req.Origin
	if origin == "" {
		origin = "+33123456789"
	}
	call := h.voice.CreateCall(r.Context(), callType, "", req.Target, origin, "", h.defaults)
	JSON(w, http.StatusOK, map[string]any{
		"status": map[string]any{"code": 0},
		"data":   map[string]any{"id": call.ID},
	})
}

// simCreateEmail delivers a simulated inbound email to the target agent.
func (h *Handler) simCreateEmail(w http.ResponseWriter, r *http.Request) {
	req := decodeSim(r)
	if h.dir.ByIdentity(req.Target) == nil {
		Error(w, http.StatusNotFound, "unknown target agent")
		return
	}
	ixn := h.media.CreateInboundEmail(r.Context(), req.Target, req.From, req.To, req.Subject, req.Body)
	JSON(w, http.StatusOK, map[string]any{
		"status": map[string]any{"code": 0},
		"data":   map[string]any{"id": ixn.ID},
	})
}

// simCreateWorkitem delivers a simulated open-media work item.
func (h *Handler) simCreateWorkitem(w http.ResponseWriter, r *http.Request) {
	req := decodeSim(r)
	if h.dir.ByIdentity(req.Target) == nil {
		Error(w, http.StatusNotFound, "unknown target agent")
		return
	}
	ixn := h.media.CreateWorkitem(r.Context(), req.Target, req.Subject)
	JSON(w, http.StatusOK, map[string]any{
		"status": map[string]any{"code": 0},
		"data":   map[string]any{"id": ixn.ID},
	})
}

// simCreateOutboundPreview pushes a simulated campaign preview record.
func (h *Handler) simCreateOutboundPreview(w http.ResponseWriter, r *http.Request) {
	req := decodeSim(r)
	if h.dir.ByIdentity(req.Target) == nil {
		Error(w, http.StatusNotFound, "unknown target agent")
		return
	}
	ixn := h.media.CreateOutboundPreview(r.Context(), req.Target)
	JSON(w, http.StatusOK, map[string]any{
		"status": map[string]any{"code": 0},
		"data":   map[string]any{"id": ixn.ID},
	})
}
