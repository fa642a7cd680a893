package realtime

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/bhandras/huddle/shared/wire"
)

var (
	// ErrAuthentication means the connection has no verified identity.
	ErrAuthentication = errors.New("authentication required")
	// ErrAuthorization means the subject may not perform the action.
	ErrAuthorization = errors.New("not authorized")
	// ErrNotFound means the room or message does not exist or is inactive.
	ErrNotFound = errors.New("not found")
	// ErrValidation means the request payload was rejected.
	ErrValidation = errors.New("invalid request")
	// ErrPersistence means the durable store failed.
	ErrPersistence = errors.New("store unavailable")

	// errDuplicateKey is returned by stores when a message insert collides
	// with an existing idempotency key.
	errDuplicateKey = errors.New("duplicate idempotency key")
)

// CodeOf maps err to its wire error code. Unclassified errors are reported as
// persistence failures.
func CodeOf(err error) string {
	switch {
	case errors.Is(err, ErrAuthentication):
		return wire.CodeAuthentication
	case errors.Is(err, ErrAuthorization):
		return wire.CodeAuthorization
	case errors.Is(err, ErrNotFound):
		return wire.CodeNotFound
	case errors.Is(err, ErrValidation):
		return wire.CodeValidation
	default:
		return wire.CodePersistence
	}
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func authorizationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuthorization, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// storeErr classifies an error returned by a store. Errors that already carry
// a taxonomy sentinel pass through.
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAuthorization),
		errors.Is(err, ErrValidation), errors.Is(err, ErrPersistence):
		return err
	default:
		return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
	}
}
