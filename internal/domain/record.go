package domain

import "time"

// InteractionRecord is one row of per-agent interaction history kept by the
// reporting collaborator.
type InteractionRecord struct {
	Agent       string
	ID          string
	ChannelType string // "voice" or "media"
	Type        string // call type or media type
	DisplayName string
	StartedAt   time.Time
	CompletedAt *time.Time
	Duration    int // seconds, set on completion
}

// HandlingStats are duration-derived call statistics for one agent.
type HandlingStats struct {
	Agent           string
	HandledCount    int
	HandlingSeconds int
}

// AverageHandlingTime returns the mean handling duration in seconds.
func (s *HandlingStats) AverageHandlingTime() float64 {
	if s.HandledCount == 0 {
		return 0
	}
	return float64(s.HandlingSeconds) / float64(s.HandledCount)
}
