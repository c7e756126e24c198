// Package tools provides the retrieval tool the workflow engine exposes to
// the language model, and the Manager that owns the current tool instance.
// The tool satisfies Eino's tool.InvokableTool so it can be offered to any
// tool-calling chat model.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/kb4n0/ragline-go/internal/rag"
)

// DefaultToolName is the name the retrieval tool is registered under.
const DefaultToolName = "retrieve_knowledge_base"

// defaultToolDesc is the description sent to the LLM as part of the tool schema.
const defaultToolDesc = "Search and return information from the ingested knowledge base. " +
	"Use this when the question requires factual context from indexed documents."

// RetrieverTool wraps a rag.Retriever as an Eino invokable tool bound to a
// specific index snapshot. It is immutable once constructed — the Manager
// replaces the whole instance on refresh, never mutates it in place.
type RetrieverTool struct {
	// retriever performs the similarity search for this snapshot.
	retriever rag.Retriever

	// topK is the number of documents returned per invocation.
	topK int

	// closer releases the snapshot's backing resources (e.g. the Qdrant
	// connection). May be nil.
	closer func() error
}

// retrieveArgs is the JSON argument payload the LLM sends when invoking the tool.
type retrieveArgs struct {
	// Query is the search query to run against the knowledge base.
	Query string `json:"query"`
}

// NewRetrieverTool constructs a RetrieverTool over the given retriever.
// closer may be nil when the caller owns the underlying resources.
func NewRetrieverTool(retriever rag.Retriever, topK int, closer func() error) (*RetrieverTool, error) {
	if retriever == nil {
		return nil, fmt.Errorf("tools: retriever must not be nil")
	}
	if topK <= 0 {
		topK = 4
	}
	return &RetrieverTool{retriever: retriever, topK: topK, closer: closer}, nil
}

// Info returns the tool schema offered to the chat model.
func (t *RetrieverTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: DefaultToolName,
		Desc: defaultToolDesc,
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "The search query to run against the knowledge base.",
				Required: true,
			},
		}),
	}, nil
}

// InvokableRun parses the JSON arguments, runs the retrieval, and returns the
// matched documents formatted as plain text. A query that matches nothing
// returns an explicit marker rather than an empty string so the grading step
// has something concrete to reject.
func (t *RetrieverTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args retrieveArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("tools: invalid retrieve arguments: %w", err)
	}
	if strings.TrimSpace(args.Query) == "" {
		return "", fmt.Errorf("tools: retrieve requires a non-empty query")
	}

	return t.Retrieve(ctx, args.Query)
}

// Retrieve runs the similarity search directly with a plain-text query.
// The workflow engine calls this for its fixed Retrieve state; InvokableRun
// delegates here after unpacking the LLM's JSON arguments.
func (t *RetrieverTool) Retrieve(ctx context.Context, query string) (string, error) {
	docs, err := t.retriever.Retrieve(ctx, query, t.topK)
	if err != nil {
		return "", fmt.Errorf("tools: retrieval failed: %w", err)
	}
	if len(docs) == 0 {
		return "No matching documents found in the knowledge base.", nil
	}

	var sb strings.Builder
	for i, doc := range docs {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%d] %s\n%s", i+1, doc.Source, doc.Content)
	}
	return sb.String(), nil
}

// Close releases the snapshot's backing resources.
func (t *RetrieverTool) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer()
}
