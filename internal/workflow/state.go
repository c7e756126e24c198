// Package workflow implements the adaptive retrieval state machine that
// answers a question by deciding whether to retrieve context, grading the
// retrieved context for relevance, and either answering or reformulating the
// question and retrying. The topology is fixed: conditional routing is an
// explicit transition table keyed by (state, decision), not a runtime graph.
package workflow

import "fmt"

// State identifies a node of the workflow state machine.
type State string

const (
	// StateDecide asks the model to either invoke the retrieval tool or
	// respond to the user directly. It is the initial state.
	StateDecide State = "decide"
	// StateRetrieve executes the retrieval tool against the latest question.
	StateRetrieve State = "retrieve"
	// StateGrade asks the model for a binary relevance judgement of the
	// retrieved context against the original question.
	StateGrade State = "grade"
	// StateAnswer generates a grounded answer from the retrieved context.
	StateAnswer State = "answer"
	// StateRewrite reformulates the original question for another attempt.
	StateRewrite State = "rewrite"
	// StateDone is the terminal state.
	StateDone State = "done"
)

// Decision is the enumerated outcome of a state's execution. Decisions are
// plain values so the routing table stays inspectable and testable.
type Decision string

const (
	// DecisionRetrieve routes Decide to Retrieve (the model called the tool).
	DecisionRetrieve Decision = "retrieve"
	// DecisionRespond routes Decide to Done (the model answered directly).
	DecisionRespond Decision = "respond"
	// DecisionRelevant routes Grade to Answer (binary score "yes").
	DecisionRelevant Decision = "relevant"
	// DecisionIrrelevant routes Grade to Rewrite (anything but "yes").
	DecisionIrrelevant Decision = "irrelevant"
	// DecisionNext is the single outgoing decision of unconditional states.
	DecisionNext Decision = "next"
)

// transitions is the fixed routing table: (current state, decision) → next
// state. Every reachable (state, decision) pair must have an entry.
var transitions = map[State]map[Decision]State{
	StateDecide: {
		DecisionRetrieve: StateRetrieve,
		DecisionRespond:  StateDone,
	},
	StateRetrieve: {
		DecisionNext: StateGrade,
	},
	StateGrade: {
		DecisionRelevant:   StateAnswer,
		DecisionIrrelevant: StateRewrite,
	},
	StateRewrite: {
		DecisionNext: StateDecide,
	},
	StateAnswer: {
		DecisionNext: StateDone,
	},
}

// nextState resolves the routing table, returning an error for a pair the
// table does not cover. Reaching the error path indicates a programming
// mistake, not a runtime condition.
func nextState(current State, decision Decision) (State, error) {
	row, ok := transitions[current]
	if !ok {
		return "", fmt.Errorf("workflow: state %q has no outgoing transitions", current)
	}
	next, ok := row[decision]
	if !ok {
		return "", fmt.Errorf("workflow: no transition from %q on decision %q", current, decision)
	}
	return next, nil
}
