package rules

import (
	"errors"
	"fmt"
)

// Sentinel illegal-action causes. Handlers wrap these in IllegalActionError so callers
// can match them with errors.Is.
var (
	ErrWrongPhase          = errors.New("command not allowed in current phase")
	ErrNotYourTurn         = errors.New("not your turn")
	ErrEntityNotFound      = errors.New("entity not found")
	ErrNotOwner            = errors.New("entity not owned by player")
	ErrTargetNotEligible   = errors.New("target not eligible")
	ErrOutOfRange          = errors.New("target out of range")
	ErrInteractionPending  = errors.New("interaction already in progress")
	ErrNoInteraction       = errors.New("no interaction in progress")
	ErrInsufficientMana    = errors.New("insufficient mana")
	ErrActionSpent         = errors.New("action already used")
	ErrCannotCommit        = errors.New("selection cannot be committed")
	ErrUnknownCommand      = errors.New("unknown command")
	ErrInteractionAborted  = errors.New("interaction aborted")
	ErrMaxEventDepth       = errors.New("maximum event nesting depth exceeded")
	ErrContextTypeMismatch = errors.New("interaction context does not match state")
)

// ValidationError reports a malformed or ill-typed command payload. It is raised before
// any state is touched.
type ValidationError struct {
	Command string
	Reason  string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("invalid command: %s", e.Reason)
	}
	return fmt.Sprintf("invalid %s command: %s", e.Command, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IllegalActionError reports a structurally valid command that breaks a game rule.
type IllegalActionError struct {
	Code   string
	Reason string
	Err    error
}

func (e *IllegalActionError) Error() string {
	if e.Reason == "" && e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func (e *IllegalActionError) Unwrap() error { return e.Err }

// Illegal builds an IllegalActionError around one of the sentinel causes.
func Illegal(code string, cause error, format string, args ...any) *IllegalActionError {
	return &IllegalActionError{Code: code, Reason: fmt.Sprintf(format, args...), Err: cause}
}

// FatalError marks a configuration the engine does not recognise. The match that raised
// it must stop processing commands.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal engine error in %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err as a FatalError unless it already is one.
func Fatal(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return err
	}
	return &FatalError{Op: op, Err: err}
}

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// IsRejection reports whether err is a validation or illegal-action error, i.e. one
// that is returned to the client without affecting the match.
func IsRejection(err error) bool {
	var ve *ValidationError
	var ie *IllegalActionError
	return errors.As(err, &ve) || errors.As(err, &ie)
}
