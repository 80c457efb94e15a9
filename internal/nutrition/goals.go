package nutrition

import (
	"errors"
	"fmt"
	"strings"
)

// Goals is the fixed catalogue a client can pick from, in display order.
var Goals = []string{
	"Weight Loss",
	"Weight Gain",
	"Manage Diabetes",
	"Lower Cholesterol",
	"Improve Digestion",
	"Increase Energy",
	"Mindful Eating",
	"Eat a Balanced Diet",
	"Plant-Based Diet",
	"Gluten-Free Diet",
	"Support Pregnancy",
	"Fuel Athletic Performance",
}

var ErrUnknownGoal = errors.New("unknown nutrition goal")

// ParseGoals matches the selected goals against the catalogue ignoring case and
// surrounding whitespace. The result is de-duplicated and in catalogue order.
func ParseGoals(selected []string) ([]string, error) {
	index := make(map[string]int, len(Goals))
	for i, g := range Goals {
		index[strings.ToLower(g)] = i
	}

	picked := make([]bool, len(Goals))
	for _, s := range selected {
		key := strings.ToLower(strings.TrimSpace(s))
		if key == "" {
			continue
		}
		i, ok := index[key]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownGoal, s)
		}
		picked[i] = true
	}

	goals := []string{}
	for i, ok := range picked {
		if ok {
			goals = append(goals, Goals[i])
		}
	}
	return goals, nil
}

// JoinGoals renders goals the way the prompts embed them.
func JoinGoals(goals []string) string {
	return strings.Join(goals, ", ")
}
