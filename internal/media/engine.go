package media

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opencx/agentsim/internal/broker"
	"github.com/opencx/agentsim/internal/channel"
	"github.com/opencx/agentsim/internal/directory"
	"github.com/opencx/agentsim/internal/domain"
	"github.com/opencx/agentsim/internal/reporting"
)

// Engine owns every live media interaction and the per-agent media channel
// state. Like the call engine, all operations serialize through one mutex.
type Engine struct {
	mu       sync.Mutex
	dir      *directory.Directory
	channels *channel.Registry
	broker   *broker.Broker
	recorder *reporting.Recorder
	defaults domain.KVList

	interactions map[string]*Interaction
	byAgent      map[string]map[string][]*Interaction
	workbins     []*Workbin
}

// NewEngine creates a media engine. defaultData seeds the attached data of
// newly created inbound items; workbins may be nil.
func NewEngine(dir *directory.Directory, channels *channel.Registry, b *broker.Broker, recorder *reporting.Recorder, defaultData domain.KVList, workbins []*Workbin) *Engine {
	return &Engine{
		dir:          dir,
		channels:     channels,
		broker:       b,
		recorder:     recorder,
		defaults:     defaultData,
		interactions: make(map[string]*Interaction),
		byAgent:      make(map[string]map[string][]*Interaction),
		workbins:     workbins,
	}
}

// CreateInboundEmail delivers a new inbound email to the agent, already
// accepted into Processing.
func (e *Engine) CreateInboundEmail(ctx context.Context, userName, from, to, subject, body string) *Interaction {
	ixn := &Interaction{
		ID:           newID(),
		MediaType:    TypeEmail,
		Type:         domain.CallTypeInbound,
		Subtype:      SubtypeInboundNew,
		UserData:     e.defaults.Clone(),
		Subject:      subject,
		Queue:        "email-routing-queue-inbound",
		ReceivedAt:   time.Now(),
		IsInWorkflow: true,
		Email:        &EmailContent{From: from, To: []string{to}},
		owner:        userName,
	}
	if body != "" {
		ixn.Email.Body = body
		ixn.Email.Mime = "text/html"
	}
	ixn.UserData = ixn.UserData.CreateOrUpdate(domain.KeyValue{
		Key: "Subject", Type: domain.TypeStr, Value: subject,
	})
	ixn.setState(domain.StateProcessing)
	e.register(ctx, ixn)
	return ixn
}

// OutboundEmailParams are the compose-time fields of an outbound email.
type OutboundEmailParams struct {
	From     string
	To       []string
	CC       []string
	Subject  string
	Body     string
	Queue    string
	UserData domain.KVList
	ParentID string
	Reply    bool
}

// ComposeEmail opens a new outbound email draft in Composing state.
func (e *Engine) ComposeEmail(ctx context.Context, userName string, p OutboundEmailParams) *Interaction {
	subtype := SubtypeOutboundNew
	if p.Reply {
		subtype = SubtypeOutboundReply
	}
	ixn := &Interaction{
		ID:           newID(),
		MediaType:    TypeEmail,
		Type:         domain.CallTypeOutbound,
		Subtype:      subtype,
		UserData:     p.UserData.Clone(),
		Subject:      p.Subject,
		Queue:        p.Queue,
		ParentID:     p.ParentID,
		ReceivedAt:   time.Now(),
		IsInWorkflow: true,
		Email:        &EmailContent{From: p.From, To: p.To, CC: p.CC, Body: p.Body},
		owner:        userName,
	}
	ixn.setState(domain.StateComposing)
	e.register(ctx, ixn)
	return ixn
}

// CreateWorkitem delivers a new open-media work item to the agent. The item
// starts Invited and must be accepted before it can be worked.
func (e *Engine) CreateWorkitem(ctx context.Context, userName, subject string) *Interaction {
	ixn := &Interaction{
		ID:         newID(),
		MediaType:  TypeWorkitem,
		Type:       domain.CallTypeInbound,
		Subtype:    SubtypeInboundNew,
		UserData:   e.defaults.Clone(),
		Subject:    subject,
		Queue:      "workitem-routing-queue-inbound",
		ReceivedAt: time.Now(),
		owner:      userName,
	}
	ixn.UserData = ixn.UserData.CreateOrUpdate(domain.KeyValue{
		Key: "Subject", Type: domain.TypeStr, Value: subject,
	})
	ixn.setState(domain.StateInvited)
	e.register(ctx, ixn)
	return ixn
}

// CreateOutboundPreview pushes a new campaign preview record to the agent.
func (e *Engine) CreateOutboundPreview(ctx context.Context, userName string) *Interaction {
	ixn := &Interaction{
		ID:         newID(),
		MediaType:  TypeOutboundPreview,
		Type:       domain.CallTypeInternal,
		Subtype:    SubtypeOutboundNew,
		UserData:   e.defaults.Clone(),
		Queue:      "outboundpreview-queue",
		ReceivedAt: time.Now(),
		owner:      userName,
	}
	ixn.UserData = append(ixn.UserData,
		domain.KeyValue{Key: "GSW_PHONE", Type: domain.TypeStr, Value: "+33647000"},
		domain.KeyValue{Key: "GSW_CALLING_LIST", Type: domain.TypeStr, Value: "Calling List SIP 2"},
		domain.KeyValue{Key: "GSW_CAMPAIGN_NAME", Type: domain.TypeStr, Value: "CampaignSIP2"},
		domain.KeyValue{Key: "GSW_RECORD_HANDLE", Type: domain.TypeStr, Value: ixn.ID},
	)
	ixn.setState(domain.StateInvited)
	e.register(ctx, ixn)
	return ixn
}

func (e *Engine) register(ctx context.Context, ixn *Interaction) {
	e.mu.Lock()
	e.interactions[ixn.ID] = ixn
	byMedia, ok := e.byAgent[ixn.owner]
	if !ok {
		byMedia = make(map[string][]*Interaction)
		e.byAgent[ixn.owner] = byMedia
	}
	byMedia[ixn.MediaType] = append(byMedia[ixn.MediaType], ixn)
	e.publishInteractionEvent(ixn, "")
	e.mu.Unlock()

	e.recorder.RecordInteraction(ctx, ixn.owner, reporting.Summary{
		ID: ixn.ID, ChannelType: "media", Type: ixn.MediaType, DisplayName: ixn.Subject,
	})
	slog.Info("Interaction created", "interaction_id", ixn.ID, "media_type", ixn.MediaType, "agent", ixn.owner)
}

// Accept takes an Invited item into Processing.
func (e *Engine) Accept(ctx context.Context, id string) domain.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	ixn, ok := e.interactions[id]
	if !ok {
		return domain.ResultNotFound
	}
	if ixn.State != domain.StateInvited {
		return domain.ResultNotApplicable
	}
	ixn.setState(domain.StateProcessing)
	e.publishInteractionEvent(ixn, "")
	return domain.ResultOK
}

// Complete finishes the interaction and removes it from the agent's active
// set. Reject is the same transition taken from Invited.
func (e *Engine) Complete(ctx context.Context, id string) domain.Result {
	e.mu.Lock()
	ixn, ok := e.interactions[id]
	if !ok {
		e.mu.Unlock()
		return domain.ResultNotFound
	}
	ixn.setState(domain.StateCompleted)
	e.publishInteractionEvent(ixn, "")
	delete(e.interactions, id)
	owner := ixn.owner
	duration := int(time.Since(ixn.ReceivedAt).Round(time.Second).Seconds())
	e.mu.Unlock()

	e.recorder.RecordInteractionComplete(ctx, owner, id, duration)
	return domain.ResultOK
}

// Reject declines an Invited item.
func (e *Engine) Reject(ctx context.Context, id string) domain.Result {
	return e.Complete(ctx, id)
}

// Cancel discards an outbound draft.
func (e *Engine) Cancel(ctx context.Context, id string) domain.Result {
	return e.terminal(id, domain.StateCanceled)
}

// Send submits an outbound draft.
func (e *Engine) Send(ctx context.Context, id string) domain.Result {
	return e.terminal(id, domain.StateSent)
}

// terminal applies a media-specific terminal state. Unlike Complete, the
// item stays indexed so clients can still fetch it.
func (e *Engine) terminal(id, state string) domain.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	ixn, ok := e.interactions[id]
	if !ok {
		return domain.ResultNotFound
	}
	ixn.setState(state)
	e.publishInteractionEvent(ixn, "")
	return domain.ResultOK
}

// SaveParams are the draft fields Save may overwrite. Zero-valued fields
// are left untouched.
type SaveParams struct {
	Subject         string
	To              []string
	CC              []string
	BCC             []string
	Body            string
	BodyAsPlainText string
}

// Save stores draft edits and announces them with an EmailSaved event.
func (e *Engine) Save(ctx context.Context, id string, p SaveParams) domain.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	ixn, ok := e.interactions[id]
	if !ok || ixn.Email == nil {
		return domain.ResultNotFound
	}
	if p.Subject != "" {
		ixn.Subject = p.Subject
		ixn.UserData = ixn.UserData.CreateOrUpdate(domain.KeyValue{
			Key: "Subject", Type: domain.TypeStr, Value: p.Subject,
		})
	}
	if p.To != nil {
		ixn.Email.To = p.To
	}
	if p.CC != nil {
		ixn.Email.CC = p.CC
	}
	if p.BCC != nil {
		ixn.Email.BCC = p.BCC
	}
	if p.Body != "" {
		ixn.Email.Body = p.Body
	}
	if p.BodyAsPlainText != "" {
		ixn.Email.BodyAsPlainText = p.BodyAsPlainText
	}
	e.publishInteractionEvent(ixn, "EmailSaved")
	return domain.ResultOK
}

// Reply opens an outbound reply draft linked to the original email.
func (e *Engine) Reply(ctx context.Context, userName, id string, p OutboundEmailParams) (domain.Result, *Interaction) {
	e.mu.Lock()
	_, ok := e.interactions[id]
	e.mu.Unlock()
	if !ok {
		return domain.ResultNotFound, nil
	}
	p.ParentID = id
	p.Reply = true
	return domain.ResultOK, e.ComposeEmail(ctx, userName, p)
}

// Forward opens an outbound forward draft linked to the original email.
func (e *Engine) Forward(ctx context.Context, userName, id string, p OutboundEmailParams) (domain.Result, *Interaction) {
	e.mu.Lock()
	_, ok := e.interactions[id]
	e.mu.Unlock()
	if !ok {
		return domain.ResultNotFound, nil
	}
	p.ParentID = id
	return domain.ResultOK, e.ComposeEmail(ctx, userName, p)
}

// UpdateUserData upserts attached-data entries by key and announces a
// PropertiesUpdated event. An updated Subject entry also renames the item.
func (e *Engine) UpdateUserData(ctx context.Context, id string, entries domain.KVList) domain.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	ixn, ok := e.interactions[id]
	if !ok {
		return domain.ResultNotFound
	}
	for _, entry := range entries {
		ixn.UserData = ixn.UserData.CreateOrUpdate(entry)
		if entry.Key == "Subject" {
			if s, ok := entry.Value.(string); ok {
				ixn.Subject = s
			}
		}
	}
	e.publishInteractionEvent(ixn, "PropertiesUpdated")
	return domain.ResultOK
}

// SetComment stores a disposition comment on the interaction.
func (e *Engine) SetComment(ctx context.Context, id, comment string) domain.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	ixn, ok := e.interactions[id]
	if !ok {
		return domain.ResultNotFound
	}
	ixn.Comment = comment
	e.publishInteractionEvent(ixn, "")
	return domain.ResultOK
}

// GetInteraction returns the interaction by id, or nil.
func (e *Engine) GetInteraction(id string) *Interaction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interactions[id]
}

// InteractionsForAgent returns the agent's live interactions, optionally
// filtered to one media type.
func (e *Engine) InteractionsForAgent(userName, mediaType string) []*Interaction {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*Interaction
	for media, list := range e.byAgent[userName] {
		if mediaType != "" && media != mediaType {
			continue
		}
		for _, ixn := range list {
			if ixn.State != domain.StateCompleted {
				out = append(out, ixn)
			}
		}
	}
	return out
}

// publishInteractionEvent recomputes the owner's channel state for the
// committed interaction state, then publishes InteractionStateChanged.
// Callers hold the engine lock.
func (e *Engine) publishInteractionEvent(ixn *Interaction, notificationType string) {
	e.updateChannelForInteraction(ixn)
	if notificationType == "" {
		notificationType = "StatusChange"
	}
	e.broker.Publish(ixn.owner, broker.MediaTopic(ixn.MediaType), map[string]any{
		"notificationType": notificationType,
		"interaction":      ixn,
		"messageType":      "InteractionStateChanged",
	})
}

// Activity labels per interaction direction while an item is being handled.
var handlingActivity = map[string]string{
	domain.CallTypeInbound:  "HandlingInboundInteraction",
	domain.CallTypeInternal: "HandlingInternalInteraction",
	domain.CallTypeOutbound: "HandlingOutboundInteraction",
}

func (e *Engine) updateChannelForInteraction(ixn *Interaction) {
	agent := e.dir.ByIdentity(ixn.owner)
	if agent == nil {
		return
	}
	switch ixn.State {
	case domain.StateInvited:
		e.channels.UpdateMedia(ixn.owner, ixn.MediaType, func(ch *channel.MediaChannel) {
			ch.Activity = channel.ActivityDelivering
			ch.Available = true
		})
	case domain.StateProcessing, domain.StateComposing:
		filled := e.activeCountLocked(ixn.owner, ixn.MediaType) >= agent.EffectiveCapacity()
		e.channels.UpdateMedia(ixn.owner, ixn.MediaType, func(ch *channel.MediaChannel) {
			if activity, ok := handlingActivity[ixn.Type]; ok {
				ch.Activity = activity
			}
			ch.Available = !filled
		})
	case domain.StateCompleted, domain.StateInWorkbin:
		e.deregisterLocked(ixn)
		count := e.activeCountLocked(ixn.owner, ixn.MediaType)
		filled := count >= agent.EffectiveCapacity()
		e.channels.UpdateMedia(ixn.owner, ixn.MediaType, func(ch *channel.MediaChannel) {
			if count == 0 {
				ch.Activity = channel.ActivityIdle
				ch.Available = true
			} else {
				ch.Available = !filled
			}
		})
	}
}

func (e *Engine) activeCountLocked(userName, mediaType string) int {
	return len(e.byAgent[userName][mediaType])
}

func (e *Engine) deregisterLocked(ixn *Interaction) {
	list := e.byAgent[ixn.owner][ixn.MediaType]
	for i, cur := range list {
		if cur.ID == ixn.ID {
			e.byAgent[ixn.owner][ixn.MediaType] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// ChangeChannelState applies a readiness change to one of the agent's media
// channels, or to all of them when mediaName is empty, publishing
// ChannelStateChanged per channel.
func (e *Engine) ChangeChannelState(userName, mediaName, state string, dnd bool, reasonCode string) domain.Result {
	if e.dir.ByIdentity(userName) == nil {
		return domain.ResultNotFound
	}
	apply := func(ch *channel.MediaChannel) {
		ch.State = state
		ch.DND = dnd
		if reasonCode != "" {
			ch.Reasons = domain.KVList{{Key: "ReasonCode", Type: domain.TypeStr, Value: reasonCode}}
		} else {
			ch.Reasons = domain.KVList{}
		}
	}
	if mediaName != "" {
		e.channels.UpdateMedia(userName, mediaName, apply)
		e.publishChannelState(userName, mediaName)
		return domain.ResultOK
	}
	e.channels.UpdateAllMedia(userName, apply)
	for _, name := range channel.DefaultMediaChannels {
		e.publishChannelState(userName, name)
	}
	return domain.ResultOK
}

// SetDND flips do-not-disturb across every media channel.
func (e *Engine) SetDND(userName string, on bool) domain.Result {
	return e.ChangeChannelState(userName, "", channel.StateNotReady, on, "")
}

// Logout marks every media channel logged out.
func (e *Engine) Logout(userName string) domain.Result {
	return e.ChangeChannelState(userName, "", channel.StateLoggedOut, false, "")
}

func (e *Engine) publishChannelState(userName, mediaName string) {
	snap := e.channels.MediaSnapshot(userName, mediaName)
	e.broker.Publish(userName, broker.TopicMedia, map[string]any{
		"media": map[string]any{
			"channels": []channel.MediaChannel{snap},
		},
		"messageType": "ChannelStateChanged",
	})
}
