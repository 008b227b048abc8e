package pipeline

import (
	"fmt"

	"github.com/MrWong99/reelscout/pkg/types"
)

// State is a node of the per-pass state machine.
type State int

const (
	// StateAwaitingEvidence is the resting state between passes.
	StateAwaitingEvidence State = iota
	StateRetrieving
	StateFiltering
	StateMatching
	StateBoosting
	StateDeciding
	StateCommitted
	StateResolvingMetadata
	// StateAbstained and StateDone are terminal.
	StateAbstained
	StateDone
)

var stateNames = [...]string{
	StateAwaitingEvidence:  "awaiting_evidence",
	StateRetrieving:        "retrieving",
	StateFiltering:         "filtering",
	StateMatching:          "matching",
	StateBoosting:          "boosting",
	StateDeciding:          "deciding",
	StateCommitted:         "committed",
	StateResolvingMetadata: "resolving_metadata",
	StateAbstained:         "abstained",
	StateDone:              "done",
}

// String implements fmt.Stringer.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// resting reports whether a pass stops in s.
func (s State) resting() bool {
	return s == StateAwaitingEvidence || s == StateAbstained || s == StateDone
}

// OutcomeKind classifies how a session's pipeline ended.
type OutcomeKind int

const (
	// Identified means a title was committed and its metadata resolved.
	Identified OutcomeKind = iota

	// Abstained means the budget ran out, or the evidence dried up, without
	// a commit.
	Abstained

	// Failed means an unrecoverable error ended the session.
	Failed

	// Cancelled means the caller went away. Nothing must be emitted.
	Cancelled
)

// String implements fmt.Stringer.
func (k OutcomeKind) String() string {
	switch k {
	case Identified:
		return "identified"
	case Abstained:
		return "abstained"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("outcome(%d)", int(k))
}

// Outcome is the terminal result of [Orchestrator.Run].
type Outcome struct {
	Kind OutcomeKind

	// Payload is set when Kind is Identified.
	Payload types.DisplayPayload

	// Reason is a short machine-friendly explanation for logs.
	Reason string

	// Err is set when Kind is Failed.
	Err error

	// Passes is the number of passes that ran.
	Passes int
}
