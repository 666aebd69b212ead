package domain

// Call and interaction states.
const (
	StateDialing     = "Dialing"
	StateRinging     = "Ringing"
	StateEstablished = "Established"
	StateHeld        = "Held"
	StateReleased    = "Released"
	StateCompleted   = "Completed"
	StateCanceled    = "Canceled"
	StateSent        = "Sent"
	StateInvited     = "Invited"
	StateProcessing  = "Processing"
	StateComposing   = "Composing"
	StateInWorkbin   = "InWorkbin"
)

// Call types / interaction directions.
const (
	CallTypeInbound  = "Inbound"
	CallTypeOutbound = "Outbound"
	CallTypeInternal = "Internal"
	CallTypeConsult  = "Consult"
)

// Recording sub-states.
const (
	RecordingStopped   = "Stopped"
	RecordingRecording = "Recording"
	RecordingPaused    = "Paused"
)

// Participant roles on a call.
const (
	RoleOrigination = "RoleOrigination"
	RoleDestination = "RoleDestination"
	RoleNewParty    = "RoleNewParty"
	RoleObserver    = "RoleObserver"
)

// Participant is one party on a call as seen by a leg.
type Participant struct {
	Number string `json:"number"`
	Role   string `json:"role"`
}
