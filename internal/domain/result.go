package domain

// Result is the outcome of an engine operation. The simulator is
// deliberately permissive: failures degrade to no-ops instead of errors,
// and Result lets callers distinguish "done" from "silently ignored".
type Result int

const (
	// ResultOK means the operation was applied.
	ResultOK Result = iota
	// ResultNotFound means the target call, interaction, or address did
	// not resolve; nothing was changed and nothing was published.
	ResultNotFound
	// ResultNotApplicable means the target exists but the operation does
	// not apply to it in its current state; nothing was changed.
	ResultNotApplicable
)

// Applied reports whether the operation took effect.
func (r Result) Applied() bool { return r == ResultOK }

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultNotFound:
		return "not-found"
	case ResultNotApplicable:
		return "not-applicable"
	default:
		return "unknown"
	}
}
