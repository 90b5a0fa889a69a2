package domain

type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "PENDING"
	SessionStatusCompleted SessionStatus = "COMPLETED"
	SessionStatusExpired   SessionStatus = "EXPIRED"
	SessionStatusFailed    SessionStatus = "FAILED"
)

func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusExpired || s == SessionStatusFailed
}

// CanTransitionTo reports whether a session in status from may move to status to.
// Only a pending session changes status.
func CanTransitionTo(from, to SessionStatus) bool {
	if from != SessionStatusPending {
		return false
	}
	switch to {
	case SessionStatusCompleted, SessionStatusExpired, SessionStatusFailed:
		return true
	default:
		return false
	}
}

// String representation (for logging)
func (s SessionStatus) String() string {
	return string(s)
}
