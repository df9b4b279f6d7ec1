package ledger

// Status is the lifecycle state of a commission-ledger entry.
type Status string

const (
	StatusPending Status = "pending"
	StatusCleared Status = "cleared"
	StatusFlagged Status = "flagged"
	StatusPaid    Status = "paid"
	StatusVoided  Status = "voided"
)

// transitions is the single source of truth for allowed ledger transitions.
// Anything not listed here is rejected.
var transitions = map[Status][]Status{
	StatusPending: {StatusCleared, StatusFlagged, StatusVoided},
	StatusCleared: {StatusPaid, StatusFlagged, StatusVoided},
	StatusFlagged: {StatusPending, StatusCleared, StatusVoided},
	StatusPaid:    {},
	StatusVoided:  {},
}

// Valid reports whether s is a known ledger status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether from -> to is an allowed transition.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to and returns an InvalidTransitionError
// when the move is not in the table.
func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}
