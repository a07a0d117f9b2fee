package planner

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultApprovalThreshold = 0.7

	defaultTaskIterations = 8
	defaultTaskTokens     = 4096
	defaultTaskEstimate   = 2048
	defaultTaskTimeout    = 2 * time.Minute
)

// Builder turns a task description plus an exploration snapshot into an
// execution plan. Build is a pure function of its inputs: no I/O, and the
// same inputs always produce a structurally identical plan.
type Builder struct {
	rules             []Rule
	approvalThreshold float64
}

// NewBuilder creates a builder with the default rule set.
func NewBuilder() *Builder {
	return &Builder{
		rules:             DefaultRules(),
		approvalThreshold: defaultApprovalThreshold,
	}
}

// WithRules replaces the section classifier. Rules are evaluated in the
// order given.
func (b *Builder) WithRules(rules []Rule) *Builder {
	b.rules = rules
	return b
}

// WithApprovalThreshold sets the complexity score at which plans are
// flagged for approval before execution.
func (b *Builder) WithApprovalThreshold(threshold float64) *Builder {
	b.approvalThreshold = threshold
	return b
}

// DefaultRules is the stock keyword classifier. Matching is substring
// based over the lowercased task description.
func DefaultRules() []Rule {
	keyword := func(words ...string) func(string) bool {
		return func(task string) bool {
			for _, w := range words {
				if strings.Contains(task, w) {
					return true
				}
			}
			return false
		}
	}

	return []Rule{
		{
			Name:    "header",
			Match:   keyword("header", "navbar", "navigation", "menu"),
			Section: Section{Name: "header", Priority: PriorityHigh, AgentType: "layout"},
		},
		{
			Name:    "hero",
			Match:   keyword("hero", "banner", "landing"),
			Section: Section{Name: "hero", Priority: PriorityHigh, AgentType: "layout"},
		},
		{
			Name:    "content",
			Match:   keyword("section", "content", "about", "feature", "gallery", "list", "card"),
			Section: Section{Name: "content", Priority: PriorityNormal, AgentType: "content"},
		},
		{
			Name:    "form",
			Match:   keyword("form", "contact", "signup", "input"),
			Section: Section{Name: "form", Priority: PriorityNormal, AgentType: "forms"},
		},
		{
			Name:    "footer",
			Match:   keyword("footer"),
			Section: Section{Name: "footer", Priority: PriorityLow, AgentType: "layout"},
		},
		{
			Name:    "styling",
			Match:   keyword("style", "theme", "color", "palette", "font"),
			Section: Section{Name: "styling", Priority: PriorityLow, AgentType: "styling"},
		},
	}
}

// Build assembles phases in a fixed structural order: optional Setup when
// the workspace is empty, Foundation for high-priority sections
// (sequential), Content for the rest (parallel when two or more),
// Assembly for low-priority sections plus a final styling pass
// (sequential). Each phase depends on the immediately preceding non-empty
// phase, so the plan is always a linear chain.
func (b *Builder) Build(task string, exploration ExplorationResult, complexity Complexity) (*Plan, error) {
	if task == "" {
		return nil, fmt.Errorf("task cannot be empty")
	}

	sections := b.classify(task)

	var warnings []string
	if len(sections) == 0 {
		// No rule matched: plan the whole task as one content section.
		sections = []Section{{Name: "content", Priority: PriorityNormal, AgentType: "content"}}
		warnings = append(warnings, "no section rule matched; planned as a single content task")
	}
	if !exploration.WorkspaceEmpty && len(exploration.ExistingElements) > 0 {
		warnings = append(warnings, fmt.Sprintf("workspace has %d existing elements; tasks may overlap them", len(exploration.ExistingElements)))
	}

	var phases []Phase
	prev := ""

	appendPhase := func(id string, tasks []Task, parallel bool) {
		if len(tasks) == 0 {
			return
		}
		phase := Phase{ID: id, Tasks: tasks, Parallel: parallel && len(tasks) >= 2}
		if prev != "" {
			phase.DependsOn = []string{prev}
		}
		phases = append(phases, phase)
		prev = id
	}

	if exploration.WorkspaceEmpty {
		appendPhase(PhaseSetup, []Task{
			b.task(PhaseSetup, 1, "Prepare an empty canvas: page frame and base layout grid", "layout", map[string]string{"task": task}),
		}, false)
	}

	appendPhase(PhaseFoundation, b.sectionTasks(PhaseFoundation, task, sections, PriorityHigh), false)
	appendPhase(PhaseContent, b.sectionTasks(PhaseContent, task, sections, PriorityNormal), true)

	assembly := b.sectionTasks(PhaseAssembly, task, sections, PriorityLow)
	assembly = append(assembly, b.task(PhaseAssembly, len(assembly)+1, "Final styling pass: align spacing, colors and typography across the canvas", "styling", map[string]string{"task": task}))
	appendPhase(PhaseAssembly, assembly, false)

	plan := &Plan{
		ID:               uuid.New().String(),
		Task:             task,
		Phases:           phases,
		RequiresApproval: complexity.Score >= b.approvalThreshold,
		Warnings:         warnings,
		CreatedAt:        time.Now(),
	}
	for _, phase := range plan.Phases {
		for _, t := range phase.Tasks {
			plan.EstimatedTokens += t.EstimatedTokens
		}
	}
	return plan, nil
}

// classify runs the rule chain over the task description. Each rule fires
// at most once, in rule order.
func (b *Builder) classify(task string) []Section {
	lowered := strings.ToLower(task)
	var sections []Section
	for _, rule := range b.rules {
		if rule.Match != nil && rule.Match(lowered) {
			sections = append(sections, rule.Section)
		}
	}
	return sections
}

func (b *Builder) sectionTasks(phaseID, task string, sections []Section, priority Priority) []Task {
	var tasks []Task
	for _, s := range sections {
		if s.Priority != priority {
			continue
		}
		inputs := map[string]string{"section": s.Name, "task": task}
		tasks = append(tasks, b.task(phaseID, len(tasks)+1, fmt.Sprintf("Build the %s for: %s", s.Name, task), s.AgentType, inputs))
	}
	return tasks
}

func (b *Builder) task(phaseID string, n int, description, agentType string, inputs map[string]string) Task {
	return Task{
		ID:              fmt.Sprintf("%s-%d", phaseID, n),
		Description:     description,
		AgentType:       agentType,
		Inputs:          inputs,
		EstimatedTokens: defaultTaskEstimate,
		Limits: Limits{
			MaxIterations: defaultTaskIterations,
			MaxTokens:     defaultTaskTokens,
			Timeout:       defaultTaskTimeout,
		},
	}
}
