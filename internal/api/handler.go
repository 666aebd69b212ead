// Package api provides the HTTP surface of the simulator: the sign-in
// exchange, the workspace operation endpoints, and the notification
// websocket.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/opencx/agentsim/internal/broker"
	"github.com/opencx/agentsim/internal/channel"
	"github.com/opencx/agentsim/internal/directory"
	"github.com/opencx/agentsim/internal/domain"
	"github.com/opencx/agentsim/internal/identity"
	"github.com/opencx/agentsim/internal/media"
	"github.com/opencx/agentsim/internal/middleware"
	"github.com/opencx/agentsim/internal/reporting"
	"github.com/opencx/agentsim/internal/voice"
)

// Handler provides common handler utilities and dependencies.
type Handler struct {
	ids         *identity.Manager
	dir         *directory.Directory
	voice       *voice.Engine
	media       *media.Engine
	broker      *broker.Broker
	channels    *channel.Registry
	recorder    *reporting.Recorder
	defaults    domain.KVList
	frontendURL string
	isDev       bool
}

// NewHandler creates a new Handler with common dependencies. defaults is the
// attached-data fixture stamped on simulated inbound calls.
func NewHandler(ids *identity.Manager, dir *directory.Directory, v *voice.Engine, m *media.Engine, b *broker.Broker, ch *channel.Registry, rec *reporting.Recorder, defaults domain.KVList, frontendURL string, isDev bool) *Handler {
	return &Handler{
		ids:         ids,
		dir:         dir,
		voice:       v,
		media:       m,
		broker:      b,
		channels:    ch,
		recorder:    rec,
		defaults:    defaults,
		frontendURL: frontendURL,
		isDev:       isDev,
	}
}

// Routes builds the full router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{h.corsOrigin()}))
	r.Use(h.ids.Middleware)

	r.Route("/auth/v3", func(r chi.Router) {
		r.Post("/sign-in", h.signIn)
		r.Post("/oauth/token", h.token)
		r.Get("/userinfo", h.userinfo)
	})

	r.Route("/workspace/v3", func(r chi.Router) {
		r.Get("/notifications", h.notifications)
		r.Post("/logout", h.logout)
		r.Post("/activate-channels", h.activateChannels)
		r.Get("/current-session", h.currentSession)
		r.Get("/interactions", h.interactions)
		r.Get("/reporting/handling-stats", h.handlingStats)

		r.Route("/voice", func(r chi.Router) {
			r.Post("/calls", h.createCall)
			r.Post("/calls/{id}/{fn}", h.callOperation)
			r.Post("/start-monitoring", h.startMonitoring)
			r.Post("/stop-monitoring", h.stopMonitoring)
			r.Post("/{fn}", h.voiceChannelOperation)
		})

		r.Route("/media", func(r chi.Router) {
			r.Post("/email/interactions/create", h.createEmail)
			r.Post("/{media}/interactions/{id}/{fn}", h.mediaInteractionOperation)
			r.Post("/{media}/{fn}", h.mediaChannelOperation)
			r.Post("/{fn}", h.mediaAllChannelsOperation)
		})

		r.Route("/workbins", func(r chi.Router) {
			r.Post("/interactions/{id}/{fn}", h.workbinInteractionOperation)
			r.Post("/{id}/{fn}", h.workbinOperation)
			r.Post("/{fn}", h.workbinsOperation)
		})
	})

	r.Route("/sim/v3", func(r chi.Router) {
		r.Post("/voice/create-call", h.simCreateCall)
		r.Post("/media/create-email", h.simCreateEmail)
		r.Post("/media/create-workitem", h.simCreateWorkitem)
		r.Post("/media/create-outboundpreview", h.simCreateOutboundPreview)
	})

	return r
}

func (h *Handler) corsOrigin() string {
	if h.frontendURL == "" {
		return "*"
	}
	return h.frontendURL
}

// operationRequest is the workspace request envelope: operation parameters
// under data, plus an optional client correlation id.
type operationRequest struct {
	OperationID string        `json:"operationId,omitempty"`
	Data        operationData `json:"data"`
}

type operationData struct {
	Destination   string        `json:"destination,omitempty"`
	Location      string        `json:"location,omitempty"`
	UserData      domain.KVList `json:"userData,omitempty"`
	Key           string        `json:"key,omitempty"`
	Comment       string        `json:"comment,omitempty"`
	ReasonCode    string        `json:"reasonCode,omitempty"`
	AgentWorkMode string        `json:"agentWorkMode,omitempty"`

	// Monitoring parameters.
	MonitoredDN         string `json:"monitoredDN,omitempty"`
	MonitorMode         string `json:"monitorMode,omitempty"`
	MonitorScope        string `json:"monitorScope,omitempty"`
	MonitorNextCallType string `json:"monitorNextCallType,omitempty"`

	// Email draft fields.
	From            string     `json:"from,omitempty"`
	To              stringList `json:"to,omitempty"`
	CC              stringList `json:"cc,omitempty"`
	BCC             stringList `json:"bcc,omitempty"`
	Subject         string     `json:"subject,omitempty"`
	Body            string     `json:"body,omitempty"`
	BodyAsPlainText string     `json:"bodyAsPlainText,omitempty"`
	Queue           string     `json:"queue,omitempty"`
	OperationName   string     `json:"operationName,omitempty"`

	// Workbin parameters.
	WorkbinIDs    []string `json:"workbinIds,omitempty"`
	SourceID      string   `json:"sourceId,omitempty"`
	InteractionID string   `json:"interactionId,omitempty"`
}

// stringList accepts both a JSON string and a JSON array of strings.
type stringList []string

func (s *stringList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = []string{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

func decodeOperation(r *http.Request) operationRequest {
	var req operationRequest
	// A missing or malformed body degrades to an empty operation; the
	// engines answer with their usual permissive no-ops.
	_ = json.NewDecoder(r.Body).Decode(&req)
	return req
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// okStatus writes the workspace success envelope, echoing the client's
// correlation id when one was sent.
func okStatus(w http.ResponseWriter, operationID string) {
	body := map[string]any{
		"status": map[string]any{"code": 0},
	}
	if operationID != "" {
		body["operationId"] = operationID
	}
	JSON(w, http.StatusOK, body)
}

// unauthorized writes the workspace failure envelope used for requests with
// no resolvable identity.
func unauthorized(w http.ResponseWriter) {
	JSON(w, http.StatusForbidden, map[string]any{
		"status": map[string]any{"code": 603, "message": "Unauthorized"},
	})
}

// requireIdentity resolves the request's agent identity or answers 403.
func (h *Handler) requireIdentity(w http.ResponseWriter, r *http.Request) (string, bool) {
	userName := identity.IdentityFromContext(r.Context())
	if userName == "" {
		unauthorized(w)
		return "", false
	}
	return userName, true
}
