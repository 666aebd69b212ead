package directory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opencx/agentsim/internal/domain"
)

func TestAddAndResolve(t *testing.T) {
	d := New()
	d.Add(&domain.Agent{UserName: "kate", AgentLogin: "5001"})

	if got := d.ByIdentity("kate"); got == nil || got.AgentLogin != "5001" {
		t.Errorf("Expected kate with login 5001, got %v", got)
	}
	if got := d.ByAddress("5001"); got == nil || got.UserName != "kate" {
		t.Errorf("Expected kate by address 5001, got %v", got)
	}
	if got := d.ByAddress("9999"); got != nil {
		t.Errorf("Expected nil for unknown address, got %v", got)
	}
}

func TestAddReplacesAddress(t *testing.T) {
	d := New()
	d.Add(&domain.Agent{UserName: "kate", AgentLogin: "5001"})
	d.Add(&domain.Agent{UserName: "kate", AgentLogin: "5002"})

	if got := d.ByAddress("5001"); got != nil {
		t.Errorf("Expected stale address removed, got %v", got)
	}
	if got := d.ByAddress("5002"); got == nil {
		t.Errorf("Expected kate reachable at new address")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agents.yaml")
	content := []byte(`kate:
  firstName: Kate
  lastName: Voirin
  agentLogin: "5001"
  capacity: 2
jim:
  firstName: Jim
  lastName: Crow
  agentLogin: "5002"
  supervisor: true
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	d, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	kate := d.ByIdentity("kate")
	if kate == nil || kate.EffectiveCapacity() != 2 {
		t.Fatalf("Expected kate with capacity 2, got %+v", kate)
	}
	jim := d.ByAddress("5002")
	if jim == nil || !jim.Supervisor {
		t.Fatalf("Expected supervisor jim at 5002, got %+v", jim)
	}
	if len(d.All()) != 2 {
		t.Errorf("Expected 2 agents, got %d", len(d.All()))
	}
}
