package toolengine

import (
	"context"
	"time"
)

// PreHook runs before a tool executes. A non-nil error vetoes the call;
// the engine surfaces it as BLOCKED_BY_HOOK without invoking the handler.
type PreHook func(ctx context.Context, toolName string, params map[string]interface{}) error

// PostHook runs after a successful execution. It is observability only and
// cannot alter the result.
type PostHook func(ctx context.Context, toolName string, result Result)

// ErrorHook is consulted when a handler returns an error. Returning
// retry=true asks the engine to retry after delay; retry=false stops
// retrying immediately. When no ErrorHook is configured the engine falls
// back to its own exponential backoff policy.
type ErrorHook func(ctx context.Context, toolName string, attempt int, err error) (retry bool, delay time.Duration)

// Hooks bundles the interception points for the engine. Treated as
// read-only after engine construction.
type Hooks struct {
	Pre   []PreHook
	Post  []PostHook
	Error ErrorHook
}

func (h Hooks) runPre(ctx context.Context, toolName string, params map[string]interface{}) error {
	for _, hook := range h.Pre {
		if err := hook(ctx, toolName, params); err != nil {
			return err
		}
	}
	return nil
}

func (h Hooks) runPost(ctx context.Context, toolName string, result Result) {
	for _, hook := range h.Post {
		hook(ctx, toolName, result)
	}
}
