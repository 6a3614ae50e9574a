package taxonomy

import (
	"errors"

	"labeller/api/internal/store"
)

var (
	ErrInvalidIdentifier    = errors.New("invalid identifier")
	ErrPreconditionViolated = errors.New("precondition violated")
	ErrInvalidColour        = errors.New("invalid colour")
	ErrInvalidRequest       = errors.New("invalid request")

	// ErrNotFound and ErrConflict are the store's sentinels so errors.Is
	// matches whichever layer produced them.
	ErrNotFound = store.ErrNotFound
	ErrConflict = store.ErrDuplicate
)
