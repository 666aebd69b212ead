// Package capability derives per-state operation capability sets for calls
// and media interactions.
package capability

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Capability families. A consult call's origin leg follows ConsultOrigin;
// every other leg follows Standard.
const (
	FamilyStandard      = "Standard"
	FamilyConsultOrigin = "ConsultOrigin"
)

// Operation names referenced by the built-in table and the incremental
// patch rules.
const (
	OpHold            = "hold"
	OpRetrieve        = "retrieve"
	OpStartRecording  = "start-recording"
	OpStopRecording   = "stop-recording"
	OpPauseRecording  = "pause-recording"
	OpResumeRecording = "resume-recording"
)

// Table maps family -> state -> ordered list of permitted operations.
// Read-only after load.
type Table struct {
	families map[string]map[string][]string
}

// Load reads a capability table from a YAML file shaped as
// family -> state -> [operation, ...].
func Load(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capability table: %w", err)
	}
	var families map[string]map[string][]string
	if err := yaml.Unmarshal(raw, &families); err != nil {
		return nil, fmt.Errorf("parse capability table %s: %w", path, err)
	}
	return &Table{families: families}, nil
}

// Lookup returns the capability list for (family, state), or nil when the
// table has no entry. The returned slice is a copy.
func (t *Table) Lookup(family, state string) []string {
	states, ok := t.families[family]
	if !ok {
		return nil
	}
	caps, ok := states[state]
	if !ok {
		return nil
	}
	out := make([]string, len(caps))
	copy(out, caps)
	return out
}

// Derive computes the capability set for a leg entering newState.
// Table entries replace the list wholesale; states absent from the table
// fall back to incremental patches on the current list (entering Held swaps
// hold for retrieve); anything else keeps the current list unchanged.
func (t *Table) Derive(family, newState string, current []string) []string {
	if caps := t.Lookup(family, newState); caps != nil {
		return caps
	}
	if family == FamilyConsultOrigin {
		// Consult-origin states missing from the consult table fall
		// through to the standard one.
		if caps := t.Lookup(FamilyStandard, newState); caps != nil {
			return caps
		}
	}
	if newState == "Held" {
		return replaceOp(current, OpHold, OpRetrieve)
	}
	return current
}

// ApplyRecording layers the recording sub-state machine onto an existing
// capability list.
func ApplyRecording(current []string, recordingState string) []string {
	switch recordingState {
	case "Recording":
		out := removeOp(current, OpStartRecording)
		out = removeOp(out, OpResumeRecording)
		out = removeOp(out, OpStopRecording)
		out = removeOp(out, OpPauseRecording)
		return append(out, OpStopRecording, OpPauseRecording)
	case "Paused":
		out := removeOp(current, OpPauseRecording)
		return append(out, OpResumeRecording)
	case "Stopped":
		out := removeOp(current, OpPauseRecording)
		out = removeOp(out, OpStopRecording)
		out = removeOp(out, OpResumeRecording)
		return append(out, OpStartRecording)
	default:
		return current
	}
}

func removeOp(caps []string, op string) []string {
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		if c != op {
			out = append(out, c)
		}
	}
	return out
}

func replaceOp(caps []string, old, new string) []string {
	out := removeOp(caps, old)
	return append(out, new)
}
