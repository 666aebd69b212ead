package media

import (
	"context"
	"fmt"
	"os"

	"github.com/opencx/agentsim/internal/broker"
	"github.com/opencx/agentsim/internal/domain"
	"gopkg.in/yaml.v3"
)

// Workbin is a named holding area for interactions not actively being
// worked. The fixture defines the bins; interactions move in and out at
// runtime.
type Workbin struct {
	ID           string         `json:"id" yaml:"id"`
	Name         string         `json:"workbinName" yaml:"workbinName"`
	Type         string         `json:"type,omitempty" yaml:"type,omitempty"`
	Owner        string         `json:"owner,omitempty" yaml:"owner,omitempty"`
	Interactions []*Interaction `json:"interactions"`
}

// LoadWorkbins reads the workbin fixture, a YAML list of workbin records.
func LoadWorkbins(path string) ([]*Workbin, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workbins: %w", err)
	}
	var bins []*Workbin
	if err := yaml.Unmarshal(raw, &bins); err != nil {
		return nil, fmt.Errorf("parse workbins %s: %w", path, err)
	}
	return bins, nil
}

// Workbins returns every configured workbin.
func (e *Engine) Workbins() []*Workbin {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Workbin, len(e.workbins))
	copy(out, e.workbins)
	return out
}

// WorkbinByID returns the workbin with the given id, or nil.
func (e *Engine) WorkbinByID(id string) *Workbin {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.workbinByIDLocked(id)
}

func (e *Engine) workbinByIDLocked(id string) *Workbin {
	for _, wb := range e.workbins {
		if wb.ID == id {
			return wb
		}
	}
	return nil
}

func (e *Engine) workbinByNameLocked(name string) *Workbin {
	for _, wb := range e.workbins {
		if wb.Name == name {
			return wb
		}
	}
	return nil
}

// WorkbinInteraction returns an interaction parked in any workbin, or nil.
func (e *Engine) WorkbinInteraction(interactionID string) *Interaction {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, wb := range e.workbins {
		for _, ixn := range wb.Interactions {
			if ixn.ID == interactionID {
				return ixn
			}
		}
	}
	return nil
}

// PlaceInWorkbin parks the interaction in the workbin. The item leaves the
// agent's active set and transitions to InWorkbin.
func (e *Engine) PlaceInWorkbin(ctx context.Context, userName, workbinID, interactionID string) domain.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	wb := e.workbinByIDLocked(workbinID)
	ixn := e.interactions[interactionID]
	if wb == nil || ixn == nil {
		return domain.ResultNotFound
	}
	wb.Interactions = append(wb.Interactions, ixn)
	ixn.Queue = wb.Name
	e.publishWorkbinEvent(userName, "EventWorkbinContentChanged", map[string]any{
		"workbin":                 map[string]any{"id": wb.ID, "owner": userName},
		"interaction":             ixn,
		"operation":               "PlaceInWorkbin",
		"workbinContentOperation": "Add",
	})
	ixn.State = domain.StateInWorkbin
	e.publishInteractionEvent(ixn, "")
	return domain.ResultOK
}

// PlaceInQueue parks the interaction in the workbin matching the queue
// name; the reserved name "__BACK__" returns it to the workbin it came
// from.
func (e *Engine) PlaceInQueue(ctx context.Context, userName, interactionID, queue string) domain.Result {
	e.mu.Lock()
	var wb *Workbin
	if queue == "__BACK__" {
		if ixn := e.interactions[interactionID]; ixn != nil {
			wb = e.workbinByNameLocked(ixn.Queue)
		}
	} else {
		wb = e.workbinByNameLocked(queue)
	}
	e.mu.Unlock()
	if wb == nil {
		return domain.ResultNotFound
	}
	return e.PlaceInWorkbin(ctx, userName, wb.ID, interactionID)
}

// Pull takes the interaction back out of its workbin and resumes it:
// inbound items return to Processing, outbound drafts to Composing.
func (e *Engine) Pull(ctx context.Context, userName, workbinID, interactionID string) domain.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	var wb *Workbin
	if workbinID != "" {
		wb = e.workbinByIDLocked(workbinID)
	} else {
		for _, cand := range e.workbins {
			for _, ixn := range cand.Interactions {
				if ixn.ID == interactionID {
					wb = cand
					break
				}
			}
		}
	}
	ixn := e.interactions[interactionID]
	if ixn == nil && wb != nil {
		// Fixture-seeded items live only in the workbin until first pulled.
		for _, cur := range wb.Interactions {
			if cur.ID == interactionID {
				ixn = cur
				e.interactions[ixn.ID] = ixn
				break
			}
		}
	}
	if wb == nil || ixn == nil {
		return domain.ResultNotFound
	}
	for i, cur := range wb.Interactions {
		if cur.ID == interactionID {
			wb.Interactions = append(wb.Interactions[:i], wb.Interactions[i+1:]...)
			break
		}
	}
	e.publishWorkbinEvent(userName, "EventWorkbinContentChanged", map[string]any{
		"workbin":                 map[string]any{"id": wb.ID, "owner": userName},
		"interaction":             ixn,
		"operation":               "Pull",
		"workbinContentOperation": "Remove",
	})
	next := domain.StateComposing
	if ixn.Type == domain.CallTypeInbound {
		next = domain.StateProcessing
	}
	// Re-enter the agent's active set before the state commit so the
	// availability recompute sees the pulled item.
	if ixn.owner == "" {
		ixn.owner = userName
	}
	byMedia, ok := e.byAgent[ixn.owner]
	if !ok {
		byMedia = make(map[string][]*Interaction)
		e.byAgent[ixn.owner] = byMedia
	}
	byMedia[ixn.MediaType] = append(byMedia[ixn.MediaType], ixn)
	ixn.setState(next)
	e.publishInteractionEvent(ixn, "")
	return domain.ResultOK
}

func (e *Engine) publishWorkbinEvent(userName, eventName string, fields map[string]any) {
	msg := map[string]any{
		"name":        eventName,
		"operationId": newID(),
		"messageType": "WorkbinsMessage",
	}
	for k, v := range fields {
		msg[k] = v
	}
	e.broker.Publish(userName, broker.TopicWorkbins, msg)
}
