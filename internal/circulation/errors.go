// internal/circulation/errors.go
package circulation

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Stable machine-readable error codes surfaced to callers.
const (
	CodeConditionsFailed     = "conditions_failed"
	CodeConstraintsViolation = "constraints_violation"
	CodeItemNotAvailable     = "item_not_available"
	CodeItemDoNotMatch       = "item_do_not_match"
	CodeDocumentDoNotMatch   = "document_do_not_match"
	CodeDocumentNotAvailable = "document_not_available"
	CodeInvalidPermission    = "invalid_permission"
	CodeMissingParameter     = "missing_required_parameter"
	CodeMaxExtension         = "loan_max_extension"
	CodeCannotBeRequested    = "record_cannot_be_requested"
	CodeMultipleLoansOnItem  = "multiple_loans_on_item"
	CodeNoValidTransition    = "no_valid_transition_available"
	CodeInvalidLoanState     = "invalid_loan_state"
	CodeNotImplemented       = "not_implemented_configuration"
	CodePropertyRequired     = "property_required"
	CodeLoanNotFound         = "loan_not_found"
)

// Error is a circulation error with a stable code and a human description.
// Two Errors match under errors.Is when their codes are equal, so the
// sentinels below can be used as targets.
type Error struct {
	Code        string
	Description string
	// Skipped holds the per-candidate skip reasons collected while the
	// engine searched for a valid transition. Only set on
	// CodeNoValidTransition errors.
	Skipped []string
	cause   error
}

func (e *Error) Error() string {
	if len(e.Skipped) > 0 {
		return fmt.Sprintf("%s: %s (skipped: %s)",
			e.Code, e.Description, strings.Join(e.Skipped, "; "))
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// HTTPStatus maps the error code to the status the REST surface responds
// with.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidPermission:
		return http.StatusForbidden
	case CodeLoanNotFound:
		return http.StatusNotFound
	case CodeNotImplemented:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// Sentinel values for errors.Is checks.
var (
	ErrConditionsFailed     = &Error{Code: CodeConditionsFailed}
	ErrConstraintsViolation = &Error{Code: CodeConstraintsViolation}
	ErrItemNotAvailable     = &Error{Code: CodeItemNotAvailable}
	ErrItemDoNotMatch       = &Error{Code: CodeItemDoNotMatch}
	ErrDocumentDoNotMatch   = &Error{Code: CodeDocumentDoNotMatch}
	ErrDocumentNotAvailable = &Error{Code: CodeDocumentNotAvailable}
	ErrInvalidPermission    = &Error{Code: CodeInvalidPermission}
	ErrMissingParameter     = &Error{Code: CodeMissingParameter}
	ErrMaxExtension         = &Error{Code: CodeMaxExtension}
	ErrCannotBeRequested    = &Error{Code: CodeCannotBeRequested}
	ErrMultipleLoansOnItem  = &Error{Code: CodeMultipleLoansOnItem}
	ErrNoValidTransition    = &Error{Code: CodeNoValidTransition}
	ErrInvalidLoanState     = &Error{Code: CodeInvalidLoanState}
	ErrNotImplemented       = &Error{Code: CodeNotImplemented}
	ErrPropertyRequired     = &Error{Code: CodePropertyRequired}
	ErrLoanNotFound         = &Error{Code: CodeLoanNotFound}
)

func newError(code, format string, args ...any) *Error {
	return &Error{Code: code, Description: fmt.Sprintf(format, args...)}
}

// conditionsFailed signals a soft rejection: the engine moves on to the
// next candidate transition instead of aborting the trigger call.
func conditionsFailed(format string, args ...any) *Error {
	return newError(CodeConditionsFailed, format, args...)
}

func constraintsViolation(format string, args ...any) *Error {
	return newError(CodeConstraintsViolation, format, args...)
}

func itemNotAvailable(itemPID PID, dest string) *Error {
	return newError(CodeItemNotAvailable,
		"item '%s' is not available, transition to '%s' has failed", itemPID, dest)
}

func invalidLoanState(state string) *Error {
	return newError(CodeInvalidLoanState, "invalid loan state '%s'", state)
}

func notImplemented(hook string) *Error {
	return newError(CodeNotImplemented,
		"policy hook '%s' is not implemented, supply it in the engine configuration", hook)
}

func noValidTransition(loanPID, state string, skipped []string) *Error {
	err := newError(CodeNoValidTransition,
		"no valid transition for loan '%s' from its current state '%s'", loanPID, state)
	err.Skipped = skipped
	return err
}

// isSoft reports whether err is a soft rejection the engine may fall back
// from.
func isSoft(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Code == CodeConditionsFailed
}
