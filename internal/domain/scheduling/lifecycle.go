package scheduling

import "github.com/hms/hms/internal/platform/apperror"

var transitions = map[Status][]Status{
	StatusScheduled:  {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted, StatusNoShow},
}

// AllowedTransitions returns the statuses reachable from s in one step.
func AllowedTransitions(s Status) []Status {
	next := transitions[s]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// CheckTransition returns an InvalidTransition error unless from -> to is an
// edge of the appointment lifecycle.
func CheckTransition(from, to Status) error {
	if from.IsTerminal() {
		return apperror.InvalidTransition("appointment is %s and can no longer change status", from)
	}
	for _, s := range transitions[from] {
		if s == to {
			return nil
		}
	}
	return apperror.InvalidTransition("cannot change appointment status from %s to %s", from, to)
}
