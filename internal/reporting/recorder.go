// Package reporting tracks which interactions each agent is handling and
// derives duration statistics from completed ones. It is the collaborator
// the engines report to; history is persisted through the store and
// summaries are fanned out through the broker.
package reporting

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opencx/agentsim/internal/broker"
	"github.com/opencx/agentsim/internal/domain"
	"github.com/opencx/agentsim/internal/store"
)

// Summary is the client-facing digest of one active interaction.
type Summary struct {
	ID          string `json:"id"`
	ChannelType string `json:"channelType"`
	Type        string `json:"type"`
	DisplayName string `json:"displayName"`
}

// Recorder implements the recordInteraction/recordInteractionComplete
// collaborator contract.
type Recorder struct {
	mu      sync.Mutex
	repo    store.Repository
	broker  *broker.Broker
	byAgent map[string][]*domain.InteractionRecord
}

// New creates a recorder. repo may be nil, in which case history is kept
// in memory only.
func New(repo store.Repository, b *broker.Broker) *Recorder {
	return &Recorder{
		repo:    repo,
		broker:  b,
		byAgent: make(map[string][]*domain.InteractionRecord),
	}
}

// RecordInteraction registers an interaction as active for the agent.
func (r *Recorder) RecordInteraction(ctx context.Context, agent string, sum Summary) {
	rec := &domain.InteractionRecord{
		Agent:       agent,
		ID:          sum.ID,
		ChannelType: sum.ChannelType,
		Type:        sum.Type,
		DisplayName: sum.DisplayName,
		StartedAt:   time.Now(),
	}

	r.mu.Lock()
	r.byAgent[agent] = append(r.byAgent[agent], rec)
	r.mu.Unlock()

	if r.repo != nil {
		if err := r.repo.RecordInteraction(ctx, rec); err != nil {
			slog.Warn("Failed to persist interaction record", "agent", agent, "interaction_id", sum.ID, "error", err)
		}
	}
	r.notify(agent)
}

// RecordInteractionComplete removes the interaction from the agent's active
// set and stores its handling duration.
func (r *Recorder) RecordInteractionComplete(ctx context.Context, agent, id string, duration int) {
	r.mu.Lock()
	records := r.byAgent[agent]
	kept := records[:0]
	for _, rec := range records {
		if rec.ID != id {
			kept = append(kept, rec)
		}
	}
	r.byAgent[agent] = kept
	r.mu.Unlock()

	if r.repo != nil {
		if err := r.repo.CompleteInteraction(ctx, agent, id, time.Now(), duration); err != nil {
			slog.Warn("Failed to persist interaction completion", "agent", agent, "interaction_id", id, "error", err)
		}
	}
	r.notify(agent)
}

// InteractionsSummary returns digests of the agent's active interactions.
func (r *Recorder) InteractionsSummary(agent string) []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	records := r.byAgent[agent]
	out := make([]Summary, 0, len(records))
	for _, rec := range records {
		out = append(out, Summary{
			ID:          rec.ID,
			ChannelType: rec.ChannelType,
			Type:        rec.Type,
			DisplayName: rec.DisplayName,
		})
	}
	return out
}

// Stats returns completed-interaction statistics for the agent.
func (r *Recorder) Stats(ctx context.Context, agent string) (*domain.HandlingStats, error) {
	if r.repo == nil {
		return &domain.HandlingStats{Agent: agent}, nil
	}
	return r.repo.HandlingStats(ctx, agent)
}

func (r *Recorder) notify(agent string) {
	if r.broker == nil {
		return
	}
	r.broker.Publish(agent, broker.TopicInteractions, map[string]any{
		"interactions": r.InteractionsSummary(agent),
		"messageType":  "InteractionsUpdated",
	})
}
