// Package domain provides core business rules for the service request lifecycle.
package domain

// Status is the lifecycle state of a service request.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusSearching   Status = "SEARCHING"
	StatusCalling     Status = "CALLING"
	StatusAnalyzing   Status = "ANALYZING"
	StatusRecommended Status = "RECOMMENDED"
	StatusBooking     Status = "BOOKING"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
)

// transitions enumerates the allowed forward edges. ANALYZING appears as its
// own successor because recommendation generation is retriable in place.
var transitions = map[Status][]Status{
	StatusPending:     {StatusSearching},
	StatusSearching:   {StatusCalling},
	StatusCalling:     {StatusAnalyzing},
	StatusAnalyzing:   {StatusAnalyzing, StatusRecommended},
	StatusRecommended: {StatusBooking},
	StatusBooking:     {StatusCompleted},
}

// IsTerminal reports whether no further transition can occur.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSearching, StatusCalling, StatusAnalyzing,
		StatusRecommended, StatusBooking, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether moving from one status to another is legal.
// FAILED is reachable from any non-terminal state.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
