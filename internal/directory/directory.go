// Package directory provides the agent registry. The registry is loaded
// once from a YAML fixture and injected into the engines; it never reloads
// at runtime.
package directory

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/opencx/agentsim/internal/domain"
	"gopkg.in/yaml.v3"
)

// Directory resolves agent records by identity (user name) or by address
// (agent login / DN). Lookups that miss return nil rather than an error;
// the engines treat unresolved targets as silent no-ops.
type Directory struct {
	mu        sync.RWMutex
	byName    map[string]*domain.Agent
	byAddress map[string]*domain.Agent
}

// New creates an empty directory.
func New() *Directory {
	return &Directory{
		byName:    make(map[string]*domain.Agent),
		byAddress: make(map[string]*domain.Agent),
	}
}

// LoadFile reads a directory from a YAML file shaped as
// userName -> agent record.
func LoadFile(path string) (*Directory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent directory: %w", err)
	}
	var agents map[string]*domain.Agent
	if err := yaml.Unmarshal(raw, &agents); err != nil {
		return nil, fmt.Errorf("parse agent directory %s: %w", path, err)
	}
	d := New()
	for name, agent := range agents {
		if agent == nil {
			continue
		}
		agent.UserName = name
		d.Add(agent)
	}
	return d, nil
}

// Add registers an agent. An existing record with the same user name is
// replaced.
func (d *Directory) Add(agent *domain.Agent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.byName[agent.UserName]; ok {
		delete(d.byAddress, prev.AgentLogin)
	}
	d.byName[agent.UserName] = agent
	if agent.AgentLogin != "" {
		d.byAddress[agent.AgentLogin] = agent
	}
}

// ByIdentity resolves an agent by user name. Returns nil when unknown.
func (d *Directory) ByIdentity(userName string) *domain.Agent {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.byName[userName]
}

// ByAddress resolves an agent by their agent login / DN. Returns nil when
// no agent owns the address.
func (d *Directory) ByAddress(address string) *domain.Agent {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.byAddress[address]
}

// All returns every agent, ordered by user name.
func (d *Directory) All() []*domain.Agent {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*domain.Agent, 0, len(d.byName))
	for _, a := range d.byName {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserName < out[j].UserName })
	return out
}
