package loan

import "fmt"

// Status is the lifecycle state of a loan.
type Status string

const (
	StatusActive        Status = "Active"
	StatusInGracePeriod Status = "InGracePeriod"
	StatusLate          Status = "Late"
	StatusDefault       Status = "Default"
	StatusPaidOff       Status = "PaidOff"
	StatusCancelled     Status = "Cancelled"
	StatusDeferred      Status = "Deferred"
)

// ValidTransitions maps each status to the statuses it may move to.
// Default, PaidOff, and Cancelled are terminal.
var ValidTransitions = map[Status][]Status{
	StatusActive:        {StatusInGracePeriod, StatusLate, StatusPaidOff, StatusDeferred, StatusCancelled},
	StatusInGracePeriod: {StatusLate, StatusActive, StatusPaidOff},
	StatusLate:          {StatusActive, StatusDefault, StatusPaidOff},
	StatusDeferred:      {StatusActive, StatusCancelled},
	StatusDefault:       {},
	StatusPaidOff:       {},
	StatusCancelled:     {},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range ValidTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transitions leave the status.
func (s Status) IsTerminal() bool {
	return len(ValidTransitions[s]) == 0
}

// IsValid reports whether s is a known status value.
func (s Status) IsValid() bool {
	_, ok := ValidTransitions[s]
	return ok
}

// TransitionError reports an illegal status transition.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid loan status transition from %s to %s", e.From, e.To)
}
