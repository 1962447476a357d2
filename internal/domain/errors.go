package domain

import "errors"

// RetriableError defines an interface for rejections that may succeed on retry
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// Rejection wraps a taxonomy error with the operation that raised it.
// A failing call leaves no partial state behind; the Rejection is the
// whole outcome.
type Rejection struct {
	Op        string // Operation that was rejected (e.g., "create", "exercise")
	Err       error  // Taxonomy sentinel, possibly wrapped further
	Retriable bool   // Whether retrying the same call can succeed later
}

func (e *Rejection) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *Rejection) IsRetriable() bool {
	return e.Retriable
}

func (e *Rejection) Unwrap() error {
	return e.Err
}

// Reject creates a terminal rejection (retrying the identical call cannot succeed)
func Reject(op string, err error) *Rejection {
	return &Rejection{Op: op, Err: err, Retriable: false}
}

// RejectRetriable creates a rejection that may clear up on its own
// (e.g., a stale quote that a publisher will refresh)
func RejectRetriable(op string, err error) *Rejection {
	return &Rejection{Op: op, Err: err, Retriable: true}
}

var (
	// ErrInvalidTerms is returned when creation parameters are malformed
	ErrInvalidTerms = errors.New("invalid terms")

	// ErrInsufficientCollateral is returned when a writer's available balance cannot cover the required lock
	ErrInsufficientCollateral = errors.New("insufficient collateral")

	// ErrInsufficientBalance is returned when a withdraw or debit exceeds the available balance
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientPayment is returned when a buyer remits less than the required premium
	ErrInsufficientPayment = errors.New("insufficient payment")

	// ErrStalePrice is returned when no quote within the validity window exists for an asset
	ErrStalePrice = errors.New("stale price")

	// ErrInvalidStateTransition is returned when an operation targets an option not in the required state
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrNotAuthorized is returned when the caller lacks the role for a gated action
	ErrNotAuthorized = errors.New("not authorized")

	// ErrInsufficientContractBalance is returned when a payoff would exceed the funds actually locked
	ErrInsufficientContractBalance = errors.New("insufficient contract balance")

	// ErrAlreadyMatched is returned when matching an option that already has a holder
	ErrAlreadyMatched = errors.New("already matched")

	// ErrOptionExpired is returned when matching past expiry
	ErrOptionExpired = errors.New("option expired")

	// ErrOptionNotFound is returned when an option id has no record
	ErrOptionNotFound = errors.New("option not found")

	// ErrBidNotFound is returned when no bid exists for (option, bidder)
	ErrBidNotFound = errors.New("bid not found")

	// ErrPaused is returned while the emergency pause is engaged
	ErrPaused = errors.New("paused")

	// ErrReentrantCall is returned when an entry point is re-invoked before the in-flight call commits
	ErrReentrantCall = errors.New("reentrant call")
)
