package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/kb4n0/ragline-go/internal/logging"
	"github.com/kb4n0/ragline-go/internal/tools"
)

// gradePrompt asks the model for a binary relevance judgement. The reply must
// be the JSON object alone; anything else is treated as "no" (fail toward
// reformulation, never toward answering from ungraded context).
const gradePrompt = `You are a grader assessing relevance of a retrieved document to a user question.
Here is the retrieved document:

%s

Here is the user question: %s
If the document contains keyword(s) or semantic meaning related to the user question, grade it as relevant.
Reply with ONLY a JSON object of the form {"binary_score": "yes"} or {"binary_score": "no"}.`

// rewritePrompt reformulates the original question. It is always built from
// the first message of the conversation, never an intermediate reformulation.
const rewritePrompt = `Look at the input and try to reason about the underlying semantic intent / meaning.
Here is the initial question:
 -------
%s
 -------
Formulate an improved question:`

// answerPrompt generates the grounded answer from the retrieved context.
const answerPrompt = `You are an assistant for question-answering tasks. ` +
	`Use the following pieces of retrieved context to answer the question. ` +
	`If you don't know the answer, just say that you don't know. ` +
	`Use three sentences maximum and keep the answer concise.
Question: %s
Context: %s`

// answerDisclaimer is prepended to the answer prompt when the rewrite cap
// forces an answer from context that never graded as relevant.
const answerDisclaimer = `The retrieved context may not fully match the question. ` +
	`Begin your reply by noting that the answer is best-effort.
`

// Config holds the dependencies and tuning for an Engine.
type Config struct {
	// ChatModel is the tool-calling chat model used by every state.
	ChatModel model.ToolCallingChatModel

	// Tool is the retrieval tool bound to the current index snapshot.
	Tool *tools.RetrieverTool

	// MaxRewrites caps the Decide→Retrieve→Grade→Rewrite cycle. When the cap
	// is reached and the grade is still "no", the engine forces Answer with a
	// best-effort disclaimer instead of looping. Defaults to 3 if zero.
	MaxRewrites int

	// MaxContextTokens is the estimated token budget for retrieved context
	// injected into grading and answer prompts. Defaults to 6000 if zero.
	MaxContextTokens int
}

// Engine is a compiled workflow: the fixed state machine closed over one
// chat model binding and one retrieval tool. An Engine is immutable and safe
// for concurrent Run calls; each run owns its conversation state. When the
// retrieval tool changes, the lifecycle controller builds a new Engine
// rather than mutating this one.
type Engine struct {
	// decideModel is the chat model with the retrieval tool bound, used by
	// the Decide state so the model can elect to invoke the tool.
	decideModel model.ToolCallingChatModel

	// plainModel is the unbound chat model used by Grade, Rewrite, and Answer.
	plainModel model.ToolCallingChatModel

	// tool is the retrieval tool snapshot this engine is compiled against.
	tool *tools.RetrieverTool

	// maxRewrites caps rewrite cycles per run.
	maxRewrites int

	// maxContextTokens budgets retrieved context in prompts.
	maxContextTokens int
}

// New compiles an Engine from the given config, binding the retrieval tool's
// schema to the chat model for the Decide state.
func New(ctx context.Context, cfg *Config) (*Engine, error) {
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("workflow: ChatModel must not be nil")
	}
	if cfg.Tool == nil {
		return nil, fmt.Errorf("workflow: Tool must not be nil")
	}

	info, err := cfg.Tool.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("workflow: tool info failed: %w", err)
	}
	decideModel, err := cfg.ChatModel.WithTools([]*schema.ToolInfo{info})
	if err != nil {
		return nil, fmt.Errorf("workflow: binding tool to model failed: %w", err)
	}

	maxRewrites := cfg.MaxRewrites
	if maxRewrites <= 0 {
		maxRewrites = 3
	}
	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = defaultMaxContextTokens
	}

	return &Engine{
		decideModel:      decideModel,
		plainModel:       cfg.ChatModel,
		tool:             cfg.Tool,
		maxRewrites:      maxRewrites,
		maxContextTokens: maxCtx,
	}, nil
}

// Run executes the workflow for one question and returns the execution trace.
// The conversation is owned by this run: it only ever grows, and the original
// question stays at index 0 for the lifetime of the run.
func (e *Engine) Run(ctx context.Context, question string) (*Trace, error) {
	log := logging.FromContext(ctx)

	conv := []*schema.Message{schema.UserMessage(question)}
	trace := &Trace{}
	state := StateDecide
	rewrites := 0
	forceAnswer := false

	for state != StateDone {
		var decision Decision
		var delta []*schema.Message
		var err error

		switch state {
		case StateDecide:
			decision, delta, err = e.decide(ctx, conv)

		case StateRetrieve:
			decision, delta, err = e.retrieve(ctx, conv)

		case StateGrade:
			decision, err = e.grade(ctx, conv, log)
			if decision == DecisionIrrelevant && rewrites >= e.maxRewrites {
				// Rewrite cap reached: force a best-effort answer instead of
				// cycling on a persistently irrelevant retrieval.
				log.Warn("workflow: rewrite cap reached, forcing answer",
					slog.Int("rewrites", rewrites),
				)
				decision = DecisionRelevant
				forceAnswer = true
			}

		case StateRewrite:
			decision, delta, err = e.rewrite(ctx, conv)
			rewrites++

		case StateAnswer:
			decision, delta, err = e.answer(ctx, conv, forceAnswer)

		default:
			return nil, fmt.Errorf("workflow: unexpected state %q", state)
		}
		if err != nil {
			return nil, err
		}

		conv = append(conv, delta...)
		trace.add(state, decision, delta...)

		state, err = nextState(state, decision)
		if err != nil {
			return nil, err
		}
	}

	return trace, nil
}

// decide asks the tool-bound model to either invoke the retrieval tool or
// respond directly. The model's reply is always appended to the conversation.
func (e *Engine) decide(ctx context.Context, conv []*schema.Message) (Decision, []*schema.Message, error) {
	resp, err := e.decideModel.Generate(ctx, conv)
	if err != nil {
		return "", nil, fmt.Errorf("workflow: decide generate failed: %w", err)
	}

	if len(resp.ToolCalls) > 0 {
		return DecisionRetrieve, []*schema.Message{resp}, nil
	}
	return DecisionRespond, []*schema.Message{resp}, nil
}

// retrieve executes the retrieval tool against the latest user question and
// appends the retrieved content as a tool-role message.
func (e *Engine) retrieve(ctx context.Context, conv []*schema.Message) (Decision, []*schema.Message, error) {
	query := latestUserQuestion(conv)
	content, err := e.tool.Retrieve(ctx, query)
	if err != nil {
		return "", nil, fmt.Errorf("workflow: retrieve failed: %w", err)
	}

	msg := schema.ToolMessage(content, pendingToolCallID(conv))
	return DecisionNext, []*schema.Message{msg}, nil
}

// grade asks the model for a binary relevance judgement of the just-retrieved
// content (last message) against the original question (first message).
// Output outside {"yes","no"} is a recovered protocol violation: it is logged
// and treated as "no".
func (e *Engine) grade(ctx context.Context, conv []*schema.Message, log *slog.Logger) (Decision, error) {
	question := conv[0].Content
	contextText := truncateToTokens(conv[len(conv)-1].Content, e.maxContextTokens)

	prompt := fmt.Sprintf(gradePrompt, contextText, question)
	resp, err := e.plainModel.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		return "", fmt.Errorf("workflow: grade generate failed: %w", err)
	}

	score, ok := parseBinaryScore(resp.Content)
	if !ok {
		log.Warn("workflow: grading output violated schema, defaulting to no",
			slog.String("output", resp.Content),
		)
	}
	if score == "yes" {
		return DecisionRelevant, nil
	}
	return DecisionIrrelevant, nil
}

// rewrite reformulates the original question (always index 0, regardless of
// how many rewrite cycles have occurred) and appends the reformulation as a
// new user message.
func (e *Engine) rewrite(ctx context.Context, conv []*schema.Message) (Decision, []*schema.Message, error) {
	prompt := fmt.Sprintf(rewritePrompt, conv[0].Content)
	resp, err := e.plainModel.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		return "", nil, fmt.Errorf("workflow: rewrite generate failed: %w", err)
	}

	msg := schema.UserMessage(resp.Content)
	return DecisionNext, []*schema.Message{msg}, nil
}

// answer generates the grounded answer from the original question and the
// most recently retrieved content.
func (e *Engine) answer(ctx context.Context, conv []*schema.Message, disclaim bool) (Decision, []*schema.Message, error) {
	question := conv[0].Content
	contextText := truncateToTokens(latestToolContent(conv), e.maxContextTokens)

	prompt := fmt.Sprintf(answerPrompt, question, contextText)
	if disclaim {
		prompt = answerDisclaimer + prompt
	}

	resp, err := e.plainModel.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		return "", nil, fmt.Errorf("workflow: answer generate failed: %w", err)
	}

	return DecisionNext, []*schema.Message{resp}, nil
}

// binaryScore is the schema the grading output must conform to.
type binaryScore struct {
	// BinaryScore is "yes" when the retrieved document is relevant.
	BinaryScore string `json:"binary_score"`
}

// parseBinaryScore validates grading output against the binary schema.
// It tolerates surrounding code fences and whitespace, then requires the
// parsed value to be exactly "yes" or "no" (case-insensitive). The second
// return value is false when the output violated the schema; callers must
// then apply the documented "no" default.
func parseBinaryScore(output string) (string, bool) {
	s := strings.TrimSpace(output)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	var parsed binaryScore
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return "no", false
	}

	switch strings.ToLower(strings.TrimSpace(parsed.BinaryScore)) {
	case "yes":
		return "yes", true
	case "no":
		return "no", true
	default:
		return "no", false
	}
}

// latestUserQuestion returns the content of the most recent user message.
// Falls back to the first message, which is always the original question.
func latestUserQuestion(conv []*schema.Message) string {
	for i := len(conv) - 1; i >= 0; i-- {
		if conv[i].Role == schema.User {
			return conv[i].Content
		}
	}
	return conv[0].Content
}

// latestToolContent returns the content of the most recent tool-role message,
// or the last message's content when no retrieval has happened.
func latestToolContent(conv []*schema.Message) string {
	for i := len(conv) - 1; i >= 0; i-- {
		if conv[i].Role == schema.Tool {
			return conv[i].Content
		}
	}
	return conv[len(conv)-1].Content
}

// pendingToolCallID returns the ID of the first tool call on the most recent
// assistant message, so the tool-role reply can be correlated with it.
// Returns "" when the model produced no tool call (synthetic test paths).
func pendingToolCallID(conv []*schema.Message) string {
	for i := len(conv) - 1; i >= 0; i-- {
		if conv[i].Role == schema.Assistant && len(conv[i].ToolCalls) > 0 {
			return conv[i].ToolCalls[0].ID
		}
	}
	return ""
}
