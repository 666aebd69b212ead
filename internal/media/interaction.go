// Package media implements the media interaction engine: email, workitem,
// and outbound-preview lifecycles, the per-channel readiness model they
// drive, and the workbin holding areas.
package media

import (
	"time"

	"github.com/google/uuid"
	"github.com/opencx/agentsim/internal/domain"
)

// Media channel names.
const (
	TypeEmail           = "email"
	TypeWorkitem        = "workitem"
	TypeOutboundPreview = "outboundpreview"
)

// Interaction subtypes.
const (
	SubtypeInboundNew    = "InboundNew"
	SubtypeOutboundNew   = "OutboundNew"
	SubtypeOutboundReply = "OutboundReply"
)

// EmailContent carries the email-specific fields of an interaction.
type EmailContent struct {
	From            string   `json:"from,omitempty"`
	To              []string `json:"to,omitempty"`
	CC              []string `json:"cc,omitempty"`
	BCC             []string `json:"bcc,omitempty"`
	Body            string   `json:"body,omitempty"`
	BodyAsPlainText string   `json:"bodyAsPlainText,omitempty"`
	Mime            string   `json:"mime,omitempty"`
}

// Interaction is one media item (email, workitem, or outbound preview).
// State and capabilities follow the same derived-capability discipline as
// call legs: callers go through setState, never write capabilities.
type Interaction struct {
	ID           string        `json:"id"`
	MediaType    string        `json:"mediatype"`
	Type         string        `json:"interactionType"`
	Subtype      string        `json:"interactionSubtype"`
	State        string        `json:"state"`
	Capabilities []string      `json:"capabilities"`
	UserData     domain.KVList `json:"userData"`
	Subject      string        `json:"subject,omitempty"`
	Comment      string        `json:"comment,omitempty"`
	Queue        string        `json:"queue,omitempty"`
	ParentID     string        `json:"parentInteractionId,omitempty"`
	Email        *EmailContent `json:"email,omitempty"`
	ReceivedAt   time.Time     `json:"receivedAt"`
	IsHeld       bool          `json:"isHeld"`
	IsLocked     bool          `json:"isLocked"`
	IsOnline     bool          `json:"isOnline"`
	IsInWorkflow bool          `json:"isInWorkflow"`

	owner string
}

// Media-state capability lists. Invited items can only be taken or refused;
// accepted inbound items and parked outbound drafts each get their own set.
var (
	invitedCapabilities = []string{"accept", "reject"}

	processingCapabilities = []string{
		"attach-user-data", "delete-user-data", "update-user-data",
		"place-in-queue", "transfer", "complete",
	}

	inboundEmailCapabilities = []string{
		"attach-user-data", "delete-user-data", "update-user-data",
		"place-in-queue", "transfer", "complete",
		"reply", "reply-all",
	}

	composingCapabilities = []string{
		"attach-user-data", "delete-user-data", "update-user-data",
		"place-in-queue", "transfer",
		"send", "cancel", "save", "set-comment", "assign-contact", "add-attachment",
	}
)

// setState commits the state and rederives capabilities for it. Terminal
// states strip the capability list.
func (i *Interaction) setState(state string) {
	i.State = state
	switch state {
	case domain.StateInvited:
		i.Capabilities = copyCaps(invitedCapabilities)
	case domain.StateProcessing:
		if i.MediaType == TypeEmail && i.Type == domain.CallTypeInbound {
			i.Capabilities = copyCaps(inboundEmailCapabilities)
		} else {
			i.Capabilities = copyCaps(processingCapabilities)
		}
	case domain.StateComposing:
		i.Capabilities = copyCaps(composingCapabilities)
	case domain.StateCompleted:
		i.Capabilities = []string{}
	}
}

// Owner returns the user name of the agent handling the interaction.
func (i *Interaction) Owner() string { return i.owner }

func copyCaps(caps []string) []string {
	out := make([]string, len(caps))
	copy(out, caps)
	return out
}

func newID() string { return uuid.NewString() }
