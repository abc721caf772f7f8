package queue

import (
	"strings"

	"github.com/hirewire/hirewire/errors"
)

// Priority is a symbolic priority level. Higher numeric value is claimed
// first; ties are broken by enqueue time.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// priorityValues maps symbolic levels to their numeric claim weight.
var priorityValues = map[Priority]int{
	PriorityLow:    1,
	PriorityMedium: 5,
	PriorityHigh:   8,
	PriorityUrgent: 10,
}

// Value returns the numeric weight for the level, or an ErrInvalidPriority
// validation error when the level is unrecognized.
func (p Priority) Value() (int, error) {
	v, ok := priorityValues[p]
	if !ok {
		return 0, errors.Wrapf(errors.ErrInvalidPriority, "unknown priority level %q", string(p))
	}
	return v, nil
}

// ParsePriority normalizes a level string and validates it.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if _, err := p.Value(); err != nil {
		return "", err
	}
	return p, nil
}
