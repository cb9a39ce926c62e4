package lifecycle

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrInvalidState      = errors.New("invalid state")
	ErrAlreadyExists     = errors.New("an active approval request already exists")
	ErrUnauthorized      = errors.New("not authorized")
	ErrNotFound          = errors.New("not found")
	ErrExpiredDelegation = errors.New("delegation has expired")

	errInvalidExpiration = errors.New("delegation expiration must be in the future")
	errSelfDelegation    = errors.New("cannot delegate approval to yourself")
)

// ItemError is a per-record failure collected by a batch operation.
type ItemError struct {
	Op  string
	ID  int64
	Err error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s #%d: %v", e.Op, e.ID, e.Err)
}

func (e *ItemError) Cause() error  { return e.Err }
func (e *ItemError) Unwrap() error { return e.Err }

// NonFatalError reports a secondary failure (eg. audit logging) that happened
// after the primary mutation was committed. The primary effect is kept.
type NonFatalError struct {
	Op  string
	ID  int64
	Err error
}

func (e *NonFatalError) Error() string {
	return fmt.Sprintf("non-fatal: %s #%d: %v", e.Op, e.ID, e.Err)
}

func (e *NonFatalError) Cause() error  { return e.Err }
func (e *NonFatalError) Unwrap() error { return e.Err }
