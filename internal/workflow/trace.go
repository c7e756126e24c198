package workflow

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Step records one state transition of a workflow run: the state that
// executed, the decision it produced, and the messages it appended to the
// conversation (the message delta — empty for states that only route).
type Step struct {
	// State is the node that executed.
	State State

	// Decision is the routing outcome the node produced.
	Decision Decision

	// Messages are the messages this step appended to the conversation.
	Messages []*schema.Message
}

// Trace is the ordered record of a single workflow execution. Its rendered
// form is the externally visible answer payload — the transcript shows every
// node visited, not just the final message.
type Trace struct {
	// Steps are the transitions in execution order.
	Steps []Step
}

// add appends a step to the trace.
func (t *Trace) add(state State, decision Decision, delta ...*schema.Message) {
	t.Steps = append(t.Steps, Step{State: state, Decision: decision, Messages: delta})
}

// FinalMessage returns the content of the last message appended during the
// run, or "" when no step produced a message.
func (t *Trace) FinalMessage() string {
	for i := len(t.Steps) - 1; i >= 0; i-- {
		if msgs := t.Steps[i].Messages; len(msgs) > 0 {
			return msgs[len(msgs)-1].Content
		}
	}
	return ""
}

// Visited reports whether any step executed the given state.
func (t *Trace) Visited(state State) bool {
	for _, s := range t.Steps {
		if s.State == state {
			return true
		}
	}
	return false
}

// Render formats the trace as the human-readable transcript returned to the
// caller: one block per step with the node name and any appended messages.
func (t *Trace) Render() string {
	var sb strings.Builder
	for _, step := range t.Steps {
		fmt.Fprintf(&sb, "Update from node %s\n", step.State)
		for _, msg := range step.Messages {
			fmt.Fprintf(&sb, "%s: %s\n", msg.Role, msg.Content)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
