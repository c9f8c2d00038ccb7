package domain

import "context"

// Tool is the interface for model-invocable capabilities. Execute is
// best-effort: implementations report failure through the error return and
// never panic; callers treat any error as absence of a result.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// ToolCall is a request from the model to invoke a named tool. Produced by
// the probe call, consumed at most once, then discarded.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// StringArg extracts a string-typed argument, tolerating absent or
// differently typed values.
func (c ToolCall) StringArg(key string) string {
	if v, ok := c.Arguments[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// ToolDefinition is the schema advertised to the model for one tool.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}
