package planner

import (
	"fmt"
	"strings"
)

// AssessComplexity scores a task description on [0, 1]. The score is a
// deterministic function of the text: section fan-out, conjunctions, and
// raw length each add weight. It feeds the builder's approval threshold
// and has no other meaning.
func AssessComplexity(task string) Complexity {
	lowered := strings.ToLower(task)
	c := Complexity{Score: 0.1}

	matched := 0
	for _, rule := range DefaultRules() {
		if rule.Match != nil && rule.Match(lowered) {
			matched++
		}
	}
	if matched > 0 {
		c.Score += 0.15 * float64(matched)
		c.Reasons = append(c.Reasons, fmt.Sprintf("%d distinct sections", matched))
	}

	conjunctions := strings.Count(lowered, " and ") + strings.Count(lowered, ",")
	if conjunctions > 0 {
		c.Score += 0.05 * float64(conjunctions)
		c.Reasons = append(c.Reasons, fmt.Sprintf("%d conjunctions", conjunctions))
	}

	if len(task) > 200 {
		c.Score += 0.1
		c.Reasons = append(c.Reasons, "long description")
	}

	if c.Score > 1 {
		c.Score = 1
	}
	return c
}
