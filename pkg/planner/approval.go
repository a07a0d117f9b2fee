package planner

import (
	"context"
	"fmt"
	"strings"
)

// Decision is the caller's answer to an approval request.
type Decision string

const (
	Approve Decision = "approve"
	Reject  Decision = "reject"
)

// ApprovalCallback presents a plan for confirmation. Plans are immutable;
// a rejected plan is rebuilt, never edited in place.
type ApprovalCallback func(ctx context.Context, plan *Plan) (Decision, error)

// Gate pauses execution of plans flagged with RequiresApproval.
type Gate struct {
	callback ApprovalCallback
}

// NewGate creates an approval gate. A nil callback auto-approves.
func NewGate(callback ApprovalCallback) *Gate {
	return &Gate{callback: callback}
}

// Confirm returns nil when the plan may execute. Plans not flagged for
// approval pass through without consulting the callback.
func (g *Gate) Confirm(ctx context.Context, plan *Plan) error {
	if !plan.RequiresApproval || g.callback == nil {
		return nil
	}

	decision, err := g.callback(ctx, plan)
	if err != nil {
		return fmt.Errorf("approval callback failed: %w", err)
	}

	switch decision {
	case Approve:
		return nil
	case Reject:
		return fmt.Errorf("plan %s rejected", plan.ID)
	default:
		return fmt.Errorf("invalid approval decision: %s", decision)
	}
}

// FormatPlan renders a plan for display during approval.
func FormatPlan(plan *Plan) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Plan: %s\n", plan.Task)
	fmt.Fprintf(&sb, "ID: %s\n", plan.ID)
	fmt.Fprintf(&sb, "Estimated tokens: %d\n", plan.EstimatedTokens)
	fmt.Fprintf(&sb, "Phases: %d, tasks: %d\n\n", len(plan.Phases), plan.TotalTasks())

	for _, phase := range plan.Phases {
		mode := "sequential"
		if phase.Parallel {
			mode = "parallel"
		}
		fmt.Fprintf(&sb, "Phase %s (%s):\n", phase.ID, mode)
		for _, task := range phase.Tasks {
			fmt.Fprintf(&sb, "  - [%s] %s\n", task.ID, task.Description)
		}
		if len(phase.DependsOn) > 0 {
			fmt.Fprintf(&sb, "  Depends on: %s\n", strings.Join(phase.DependsOn, ", "))
		}
		sb.WriteString("\n")
	}

	for _, warning := range plan.Warnings {
		fmt.Fprintf(&sb, "Warning: %s\n", warning)
	}
	return sb.String()
}
