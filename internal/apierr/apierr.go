// Package apierr defines the flat tagged error taxonomy shared by the match
// authority, governance, and slashing cores. Every fallible operation in
// those packages returns an *Error (or wraps one with errors.As) instead of
// letting a bare error or panic escape the service boundary.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the purposes of HTTP status mapping and
// recovery policy (spec §7).
type Kind string

const (
	KindValidation  Kind = "validation"
	KindFSM         Kind = "fsm_violation"
	KindAuth        Kind = "authorization"
	KindIdempotency Kind = "idempotency_conflict"
	KindChain       Kind = "chain_error"
	KindStore       Kind = "store_error"
	KindNotFound    Kind = "not_found"
	KindDivergence  Kind = "divergence"
)

// Error is the flat tagged error type returned by every fallible operation.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs an *Error without an underlying cause.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap constructs an *Error carrying an underlying cause for errors.Is/As chains.
func Wrap(kind Kind, code string, cause error) *Error {
	if cause == nil {
		return New(kind, code, "")
	}
	return &Error{Kind: kind, Code: code, Message: cause.Error(), cause: cause}
}

// WithDetails attaches structured detail fields and returns the same error
// for chaining at the call site.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// Sentinel codes referenced by name across the core packages (spec §7, §8).
const (
	CodeInvalidTransition        = "InvalidTransition"
	CodeInvalidWinner            = "InvalidWinner"
	CodeInvalidInput             = "InvalidInput"
	CodeUnauthorized             = "Unauthorized"
	CodeDuplicateIdempotent      = "DuplicateIdempotent"
	CodeConflictInFlight         = "ConflictInFlight"
	CodeChainError               = "ChainError"
	CodeStoreError               = "StoreError"
	CodeNotFound                 = "NotFound"
	CodeInternal                 = "InternalError"
	CodeAlreadyApproved          = "AlreadyApproved"
	CodeNotASigner               = "NotASigner"
	CodeProposalAlreadyExecuted  = "ProposalAlreadyExecuted"
	CodeProposalExpired          = "ProposalExpired"
	CodeExecutionTooEarly        = "ExecutionTooEarly"
	CodeCannotRemoveLastSigner   = "CannotRemoveLastSigner"
	CodeSelfTargetForbidden      = "SelfTargetForbidden"
	CodeAlreadyInitialized       = "AlreadyInitialized"
	CodeProposalNotPending       = "ProposalNotPending"
	CodeProposalNotApproved      = "ProposalNotApproved"
	CodeNotProposer              = "NotProposer"
	CodeCaseAlreadyExecuted      = "CaseAlreadyExecuted"
	CodeSubjectPermanentlyBanned = "SubjectPermanentlyBanned"
	CodeCaseNotApproved          = "CaseNotApproved"
	CodeInvalidPenaltyArgs       = "InvalidPenaltyArgs"
)

// HTTPStatus maps an error Kind to the surface status code required by §7.
func HTTPStatus(err error) int {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return http.StatusInternalServerError
	}
	switch apiErr.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusForbidden
	case KindFSM, KindIdempotency:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindChain, KindStore:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// As is a small convenience wrapper around errors.As for callers that only
// care whether an error is one of ours.
func As(err error) (*Error, bool) {
	var apiErr *Error
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}
