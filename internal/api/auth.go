package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/opencx/agentsim/internal/identity"
)

type signInRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// signIn validates credentials and issues the login-code cookie.
func (h *Handler) signIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid sign-in payload")
		return
	}
	code, ok := h.ids.SignIn(req.Username, req.Password)
	if !ok {
		slog.Warn("Sign-in rejected", "username", req.Username)
		unauthorized(w)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     identity.CodeCookieName,
		Value:    code,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !h.isDev,
	})
	slog.Info("Agent signed in", "username", req.Username)
	JSON(w, http.StatusOK, map[string]any{
		"status": map[string]any{"code": 0},
		"data":   map[string]any{"code": code},
	})
}

type tokenRequest struct {
	Code      string `json:"code"`
	GrantType string `json:"grant_type"`
	Username  string `json:"username"`
}

// token exchanges a login code (or a password grant) for a bearer token.
func (h *Handler) token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid token payload")
		return
	}
	if req.GrantType == "password" && req.Username != "" {
		if h.dir.ByIdentity(req.Username) == nil {
			unauthorized(w)
			return
		}
		JSON(w, http.StatusOK, map[string]any{
			"access_token": h.ids.IssueTokenFor(req.Username),
			"expires_in":   1800,
		})
		return
	}
	token, ok := h.ids.IssueToken(req.Code)
	if !ok {
		unauthorized(w)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"expires_in":   1800,
	})
}

// userinfo returns the signed-in agent's directory record.
func (h *Handler) userinfo(w http.ResponseWriter, r *http.Request) {
	userName, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	agent := h.dir.ByIdentity(userName)
	if agent == nil {
		unauthorized(w)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"userName":   agent.UserName,
		"loginName":  agent.UserName,
		"firstName":  agent.FirstName,
		"lastName":   agent.LastName,
		"agentLogin": agent.AgentLogin,
		"dbid":       agent.DBID,
		"supervisor": agent.Supervisor,
	})
}

// logout tears down the identity's login code and every live session.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	userName, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	if c, err := r.Cookie(identity.CodeCookieName); err == nil {
		h.ids.SignOut(c.Value)
	}
	h.media.Logout(userName)
	h.broker.DetachAll(userName)
	slog.Info("Agent logged out", "username", userName)
	okStatus(w, "")
}

// activateChannels reports the channel set this deployment provisions.
func (h *Handler) activateChannels(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireIdentity(w, r); !ok {
		return
	}
	req := decodeOperation(r)
	JSON(w, http.StatusOK, map[string]any{
		"status":      map[string]any{"code": 0},
		"operationId": req.OperationID,
		"data": map[string]any{
			"channels": []string{"voice", "email", "workitem", "outboundpreview"},
		},
	})
}

// currentSession returns everything a freshly attached client needs: the
// agent record, the line state, media channels, and live interactions.
func (h *Handler) currentSession(w http.ResponseWriter, r *http.Request) {
	userName, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	agent := h.dir.ByIdentity(userName)
	if agent == nil {
		unauthorized(w)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"status": map[string]any{"code": 0},
		"data": map[string]any{
			"user":         agent,
			"dn":           h.channels.DNSnapshot(agent),
			"media":        map[string]any{"channels": h.channels.AllMediaSnapshot(userName)},
			"calls":        h.voice.CallsForAgent(userName),
			"interactions": h.media.InteractionsForAgent(userName, ""),
			"sessions":     h.broker.SessionCount(userName),
		},
	})
}

// interactions returns the agent's active-interaction digests.
func (h *Handler) interactions(w http.ResponseWriter, r *http.Request) {
	userName, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"status": map[string]any{"code": 0},
		"data":   map[string]any{"interactions": h.recorder.InteractionsSummary(userName)},
	})
}

// handlingStats returns completed-interaction statistics for the agent.
func (h *Handler) handlingStats(w http.ResponseWriter, r *http.Request) {
	userName, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	stats, err := h.recorder.Stats(r.Context(), userName)
	if err != nil {
		slog.Error("Failed to load handling stats", "username", userName, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"status": map[string]any{"code": 0},
		"data": map[string]any{
			"agent":               stats.Agent,
			"handledCount":        stats.HandledCount,
			"handlingSeconds":     stats.HandlingSeconds,
			"averageHandlingTime": stats.AverageHandlingTime(),
		},
	})
}
