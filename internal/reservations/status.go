package reservations

type Status string

const (
	StatusPending             Status = "pending"
	StatusConfirmed           Status = "confirmed"
	StatusCancelledByConsumer Status = "cancelled_by_consumer"
	StatusCancelledByStore    Status = "cancelled_by_store"
	StatusCompleted           Status = "completed"
	StatusExpired             Status = "expired"
)

var validNext = map[Status]map[Status]bool{
	StatusPending: {
		StatusConfirmed:           true,
		StatusCancelledByConsumer: true,
		StatusCancelledByStore:    true,
		StatusCompleted:           true,
		StatusExpired:             true,
	},
	StatusConfirmed: {
		StatusCancelledByConsumer: true,
		StatusCancelledByStore:    true,
		StatusCompleted:           true,
		StatusExpired:             true,
	},
	StatusCancelledByConsumer: {},
	StatusCancelledByStore:    {},
	StatusCompleted:           {},
	StatusExpired:             {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// IsTerminal reports whether no further transition is possible. Unknown statuses count as terminal.
func IsTerminal(s Status) bool {
	return len(validNext[s]) == 0
}

// Holds reports whether a reservation in status s still holds stock.
func Holds(s Status) bool {
	return s == StatusPending || s == StatusConfirmed
}

// Role is who initiates a cancellation.
type Role string

const (
	RoleConsumer Role = "consumer"
	RoleStore    Role = "store"
)

func (r Role) Valid() bool { return r == RoleConsumer || r == RoleStore }

func (r Role) cancelledStatus() Status {
	if r == RoleStore {
		return StatusCancelledByStore
	}
	return StatusCancelledByConsumer
}
