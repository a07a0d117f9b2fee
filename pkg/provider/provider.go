package provider

import (
	"context"
	"fmt"
	"strings"
)

// Message is one conversation turn in provider-neutral form.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a tool invocation proposed by the model.
type ToolCall struct {
	ID     string                 `json:"id"`
	Name   string                 `json:"name"`
	Params map[string]interface{} `json:"params"`
}

// Request contains the parameters for one generation call.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []map[string]interface{}
	MaxTokens    int
	Temperature  float64
}

// Usage tracks token consumption for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns combined token usage.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Response is the model's decision: terminal text, tool calls, or both.
// A response with neither is unusable and must be treated as a failure by
// the caller.
type Response struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// Empty reports whether the response carries neither text nor tool calls.
func (r *Response) Empty() bool {
	return r.Text == "" && len(r.ToolCalls) == 0
}

// Provider is the reasoning-service boundary.
type Provider interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	Name() string
}

// Profile holds credentials and failover ordering for one provider account.
type Profile struct {
	ID            string `json:"id"`
	Provider      string `json:"provider"` // "anthropic", "openai"
	APIKey        string `json:"api_key"`
	Priority      int    `json:"priority"`
	FailureCount  int    `json:"failure_count"`
	CooldownUntil *int64 `json:"cooldown_until,omitempty"`
}

// Factory creates providers from profiles.
type Factory interface {
	New(profile Profile) (Provider, error)
}

// DefaultFactory builds the SDK-backed providers.
type DefaultFactory struct{}

// New creates a provider for the profile's backend.
func (f *DefaultFactory) New(profile Profile) (Provider, error) {
	switch profile.Provider {
	case "anthropic":
		return NewAnthropic(profile.APIKey), nil
	case "openai":
		return NewOpenAI(profile.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}

// IsRetryable classifies transient generation errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()

	// Network errors
	if strings.Contains(msg, "ECONNRESET") || strings.Contains(msg, "ETIMEDOUT") ||
		strings.Contains(msg, "connection refused") {
		return true
	}
	// Rate limits
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return true
	}
	// Server errors
	for _, code := range []string{"500", "502", "503", "504"} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}
