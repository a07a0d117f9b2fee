package toolengine

import (
	"context"
	"time"
)

// Error codes surfaced on failed results.
const (
	CodeUnknownTool     = "UNKNOWN_TOOL"
	CodeInvalidParams   = "INVALID_PARAMS"
	CodeBlockedByHook   = "BLOCKED_BY_HOOK"
	CodeExecutionFailed = "EXECUTION_FAILED"
)

// Param describes a single tool parameter.
type Param struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// Definition describes a registered tool. Mutating tools bump the canvas
// version on success and invalidate awareness context.
type Definition struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Parameters  []Param `json:"parameters"`
	Mutating    bool    `json:"mutating"`
	Handler     Handler `json:"-"`
}

// Handler is the function signature for tool execution. The ToolContext
// carries the run's resource snapshot and the backend client handle.
type Handler func(ctx context.Context, params map[string]interface{}, tc *ToolContext) (interface{}, error)

// ToolContext provides runtime information to a tool handler.
type ToolContext struct {
	SessionKey string
	Resources  *Snapshot
	Backend    interface{}
}

// Call pairs a tool name with its arguments. CallID correlates the call
// with its result in history.
type Call struct {
	Name   string                 `json:"name"`
	Params map[string]interface{} `json:"params"`
	CallID string                 `json:"call_id"`
}

// Result is the outcome of one tool execution.
type Result struct {
	Success     bool        `json:"success"`
	Output      interface{} `json:"output,omitempty"`
	Error       string      `json:"error,omitempty"`
	Code        string      `json:"code,omitempty"`
	Recoverable bool        `json:"recoverable"`
	Truncated   bool        `json:"truncated,omitempty"`
	DurationMs  int64       `json:"duration_ms"`
	CallID      string      `json:"call_id,omitempty"`
}

// Schema returns the tool definition in the wire shape providers expect.
func (d *Definition) Schema() map[string]interface{} {
	properties := make(map[string]interface{})
	required := []string{}
	for _, param := range d.Parameters {
		properties[param.Name] = map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Required {
			required = append(required, param.Name)
		}
	}

	inputSchema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		inputSchema["required"] = required
	}

	return map[string]interface{}{
		"name":         d.Name,
		"description":  d.Description,
		"input_schema": inputSchema,
	}
}

// defaultTimeout bounds a single handler invocation.
const defaultTimeout = 30 * time.Second
