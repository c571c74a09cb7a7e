package game

import "errors"

// Error kinds visible to callers. Transports map these onto their own status
// codes; user-initiated operations fail fast and never partially mutate state.
var (
	// ErrNotFound means the room code or player does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidParams means a constraint was violated (bounds, empty text,
	// self-vote, eliminated target).
	ErrInvalidParams = errors.New("invalid params")

	// ErrRoomFull means the room already has its full complement of humans.
	ErrRoomFull = errors.New("room full")

	// ErrAlreadyStarted means the game is in progress and no longer accepts joins.
	ErrAlreadyStarted = errors.New("game already started")

	// ErrPhaseMismatch means the operation is not legal in the current phase.
	ErrPhaseMismatch = errors.New("operation not allowed in current phase")

	// ErrAlreadyVoted means the voter already has a ballot this round.
	ErrAlreadyVoted = errors.New("already voted this round")

	// ErrTerminated means the room no longer exists.
	ErrTerminated = errors.New("room terminated")

	// ErrCapacityExceeded means the process-wide room cap was reached.
	ErrCapacityExceeded = errors.New("room capacity exceeded")

	// ErrUnavailable marks transient downstream failure on agent paths. Never
	// surfaced as a user error.
	ErrUnavailable = errors.New("unavailable")

	// ErrInternal marks an invariant violation; callers should reconnect.
	ErrInternal = errors.New("internal error")
)
