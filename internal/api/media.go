package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opencx/agentsim/internal/broker"
	"github.com/opencx/agentsim/internal/channel"
	"github.com/opencx/agentsim/internal/media"
)

// createEmail opens an outbound email draft for the signed-in agent.
func (h *Handler) createEmail(w http.ResponseWriter, r *http.Request) {
	userName, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	req := decodeOperation(r)
	ixn := h.media.ComposeEmail(r.Context(), userName, media.OutboundEmailParams{
		From:     req.Data.From,
		To:       req.Data.To,
		CC:       req.Data.CC,
		Subject:  req.Data.Subject,
		Body:     req.Data.Body,
		Queue:    req.Data.Queue,
		UserData: req.Data.UserData,
	})
	JSON(w, http.StatusOK, map[string]any{
		"status":      map[string]any{"code": 0},
		"operationId": req.OperationID,
		"data":        map[string]any{"id": ixn.ID},
	})
}

// mediaInteractionOperation dispatches per-interaction media operations.
func (h *Handler) mediaInteractionOperation(w http.ResponseWriter, r *http.Request) {
	userName, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	req := decodeOperation(r)
	ctx := r.Context()

	switch chi.URLParam(r, "fn") {
	case "accept":
		h.media.Accept(ctx, id)
	case "complete":
		h.media.Complete(ctx, id)
	case "reject":
		h.media.Reject(ctx, id)
	case "cancel":
		h.media.Cancel(ctx, id)
	case "send":
		h.media.Send(ctx, id)
	case "save":
		h.media.Save(ctx, id, media.SaveParams{
			Subject:         req.Data.Subject,
			To:              req.Data.To,
			CC:              req.Data.CC,
			BCC:             req.Data.BCC,
			Body:            req.Data.Body,
			BodyAsPlainText: req.Data.BodyAsPlainText,
		})
	case "reply", "reply-all":
		h.media.Reply(ctx, userName, id, h.draftParams(req))
	case "forward":
		h.media.Forward(ctx, userName, id, h.draftParams(req))
	case "update-user-data":
		h.media.UpdateUserData(ctx, id, req.Data.UserData)
	case "set-comment":
		h.media.SetComment(ctx, id, req.Data.Comment)
	case "pull":
		h.media.Pull(ctx, userName, req.Data.SourceID, id)
	case "place-in-queue":
		h.media.PlaceInQueue(ctx, userName, id, req.Data.Queue)
	default:
		Error(w, http.StatusNotImplemented, "unknown interaction operation")
		return
	}
	okStatus(w, req.OperationID)
}

func (h *Handler) draftParams(req operationRequest) media.OutboundEmailParams {
	return media.OutboundEmailParams{
		From:     req.Data.From,
		To:       req.Data.To,
		CC:       req.Data.CC,
		Subject:  req.Data.Subject,
		Body:     req.Data.Body,
		Queue:    req.Data.Queue,
		UserData: req.Data.UserData,
		Reply:    req.Data.OperationName == "Reply",
	}
}

// mediaChannelOperation applies a readiness change to one media channel.
func (h *Handler) mediaChannelOperation(w http.ResponseWriter, r *http.Request) {
	userName, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	mediaName := chi.URLParam(r, "media")
	req := decodeOperation(r)

	switch chi.URLParam(r, "fn") {
	case "ready":
		h.media.ChangeChannelState(userName, mediaName, channel.StateReady, false, "")
	case "not-ready":
		h.media.ChangeChannelState(userName, mediaName, channel.StateNotReady, false, req.Data.ReasonCode)
	default:
		Error(w, http.StatusNotImplemented, "unknown media operation")
		return
	}
	okStatus(w, req.OperationID)
}

// mediaAllChannelsOperation applies dnd/logout across every media channel.
func (h *Handler) mediaAllChannelsOperation(w http.ResponseWriter, r *http.Request) {
	userName, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	req := decodeOperation(r)

	switch chi.URLParam(r, "fn") {
	case "dnd-on":
		h.media.SetDND(userName, true)
	case "dnd-off":
		h.media.SetDND(userName, false)
	case "logout":
		h.media.Logout(userName)
	default:
		Error(w, http.StatusNotImplemented, "unknown media operation")
		return
	}
	okStatus(w, req.OperationID)
}

// workbinsOperation answers workbin list queries. Results are delivered as
// workbin events on the notification channel, matching the live API.
func (h *Handler) workbinsOperation(w http.ResponseWriter, r *http.Request) {
	userName, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	req := decodeOperation(r)

	switch chi.URLParam(r, "fn") {
	case "get-workbins":
		h.publishWorkbins(userName, "EventWorkbins", h.media.Workbins())
	case "get-contents":
		var bins []*media.Workbin
		for _, id := range req.Data.WorkbinIDs {
			if wb := h.media.WorkbinByID(id); wb != nil {
				bins = append(bins, wb)
			}
		}
		h.publishWorkbins(userName, "EventWorkbinsContent", bins)
	default:
		Error(w, http.StatusNotImplemented, "unknown workbins operation")
		return
	}
	okStatus(w, req.OperationID)
}

func (h *Handler) workbinOperation(w http.ResponseWriter, r *http.Request) {
	userName, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	workbinID := chi.URLParam(r, "id")
	req := decodeOperation(r)

	switch chi.URLParam(r, "fn") {
	case "subscribe", "unsubscribe":
		h.publishWorkbinAck(userName, workbinID)
	case "get-content":
		if wb := h.media.WorkbinByID(workbinID); wb != nil {
			h.publishWorkbinContent(userName, wb)
		}
	case "add-interaction":
		h.media.PlaceInWorkbin(r.Context(), userName, workbinID, req.Data.InteractionID)
	default:
		Error(w, http.StatusNotImplemented, "unknown workbin operation")
		return
	}
	okStatus(w, req.OperationID)
}

func (h *Handler) workbinInteractionOperation(w http.ResponseWriter, r *http.Request) {
	userName, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	req := decodeOperation(r)

	switch chi.URLParam(r, "fn") {
	case "get-details":
		h.publishWorkbinDetails(userName, h.media.WorkbinInteraction(id))
	default:
		Error(w, http.StatusNotImplemented, "unknown workbin operation")
		return
	}
	okStatus(w, req.OperationID)
}

func (h *Handler) publishWorkbinMessage(userName, eventName string, fields map[string]any) {
	msg := map[string]any{
		"name":        eventName,
		"operationId": uuid.NewString(),
		"messageType": "WorkbinsMessage",
	}
	for k, v := range fields {
		msg[k] = v
	}
	h.broker.Publish(userName, broker.TopicWorkbins, msg)
}

func (h *Handler) publishWorkbins(userName, eventName string, bins []*media.Workbin) {
	h.publishWorkbinMessage(userName, eventName, map[string]any{"workbins": bins})
}

func (h *Handler) publishWorkbinContent(userName string, wb *media.Workbin) {
	h.publishWorkbinMessage(userName, "EventWorkbinContent", map[string]any{"workbin": wb})
}

func (h *Handler) publishWorkbinAck(userName, workbinID string) {
	h.publishWorkbinMessage(userName, "EventAck", map[string]any{
		"operation": "SubscribeWorkbinEvents",
		"workbinId": workbinID,
	})
}

func (h *Handler) publishWorkbinDetails(userName string, ixn *media.Interaction) {
	h.publishWorkbinMessage(userName, "EventGetInteractionDetails", map[string]any{
		"interaction": ixn,
	})
}
