package broker

import (
	"time"
)

// Initialization message shapes, mirroring the workspace client contract.
type initializationProgress struct {
	State          string              `json:"state"`
	SubmittedAt    time.Time           `json:"submittedAt"`
	ExecutionTime  int                 `json:"executionTime"`
	ActualWaitTime int                 `json:"actualWaitTime"`
	Progress       *progressIndicator  `json:"progress,omitempty"`
	Data           *initializationData `json:"data,omitempty"`
	MessageType    string              `json:"messageType"`
}

type progressIndicator struct {
	PercentComplete int `json:"percentComplete"`
}

type initializationData struct {
	User          any `json:"user"`
	Configuration any `json:"configuration"`
}

// runBringup performs the staged handshake on a freshly attached session.
// Ordering is contractual (progress before complete before initial state);
// absolute timing only emulates client-perceived latency.
func (b *Broker) runBringup(s *Session, bringup *Bringup) {
	payload := &initializationData{
		User:          bringup.User,
		Configuration: bringup.Configuration,
	}

	b.deliver(s, TopicInitialization, &initializationProgress{
		State:          "Executing",
		SubmittedAt:    time.Now(),
		ExecutionTime:  1,
		ActualWaitTime: 1,
		Progress:       &progressIndicator{PercentComplete: 50},
		MessageType:    "WorkspaceInitializationProgress",
	})
	b.deliver(s, TopicInitialization, &initializationProgress{
		State:          "Executing",
		SubmittedAt:    time.Now(),
		ExecutionTime:  1,
		ActualWaitTime: 1,
		Progress:       &progressIndicator{PercentComplete: 100},
		Data:           payload,
		MessageType:    "WorkspaceInitializationProgress",
	})
	b.deliver(s, TopicInitialization, &initializationProgress{
		State:          "Complete",
		SubmittedAt:    time.Now(),
		ExecutionTime:  1,
		ActualWaitTime: 1,
		Data:           payload,
		MessageType:    "WorkspaceInitializationComplete",
	})

	if bringup.InitialState == nil {
		return
	}
	time.AfterFunc(b.bringupDelay, func() {
		dn, media := bringup.InitialState()
		b.deliver(s, TopicVoice, map[string]any{
			"dn":          dn,
			"messageType": "DnStateChanged",
		})
		b.deliver(s, TopicMedia, map[string]any{
			"media":       media,
			"messageType": "ChannelStateChanged",
		})
	})
}
