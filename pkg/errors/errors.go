// Package errors defines the stable error taxonomy shared by every layer.
//
// Each failure kind carries a wire code that survives the HTTP boundary
// unchanged, so clients can dispatch on it without parsing messages.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a failure kind. Codes are stable wire strings.
type Code string

const (
	CodeUnknownAlertSystem  Code = "unknown_ams"
	CodeAMTCircularDep      Code = "amt_circ_dependency"
	CodeInvalidAMTDep       Code = "invalid_amt_dependency"
	CodeAMTExtendedVersion  Code = "amt_extended_version"
	CodeUnknownAMT          Code = "unknown_amt"
	CodeAMTVersion          Code = "amt_version"
	CodeRequestExpired      Code = "expired_analysis_request"
	CodeRequestLocked       Code = "locked_analysis_request"
	CodeUnknownRequest      Code = "unknown_analysis_request"
	CodeDuplicateAPIKeyName Code = "duplicate_apikey_name"
	CodeInvalidAPIKey       Code = "invalid_api_key"
	CodeUnknownObservable   Code = "unknown_observable"
	CodeRootExists          Code = "root_exists"
	CodeUnknownRoot         Code = "unknown_root"
	CodeUnknownFile         Code = "unknown_file"
	CodeInvalidWorkQueue    Code = "invalid_work_queue"
	CodeRootVersion         Code = "root_version"
	CodeDeadlock            Code = "deadlock"

	// Boundary codes, produced at the HTTP layer rather than by the core.
	CodeInvalidRequest Code = "invalid_request"
	CodeUnknownDetails Code = "unknown_analysis_details"
	CodeUnknownConfig  Code = "unknown_config"
	CodeUnknownAPIKey  Code = "unknown_api_key"
	CodeRateLimited    Code = "rate_limited"
	CodeInternal       Code = "internal_error"
)

// Error is the application error type. It wraps an optional cause and knows
// which HTTP status represents it at the API boundary.
type Error struct {
	Code       Code
	Message    string
	Details    map[string]interface{}
	Cause      error
	HTTPStatus int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetails attaches structured detail fields.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

func newError(code Code, status int, format string, args ...interface{}) *Error {
	return &Error{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: status,
	}
}

// Constructor functions, one per taxonomy member.

// NewUnknownAMT reports an operation referencing an unregistered module type.
func NewUnknownAMT(name string) *Error {
	return newError(CodeUnknownAMT, http.StatusBadRequest, "unknown analysis module type %q", name)
}

// NewInvalidAMTDep reports a registration whose dependency is absent.
func NewInvalidAMTDep(name, dep string) *Error {
	return newError(CodeInvalidAMTDep, http.StatusBadRequest,
		"analysis module type %q depends on unknown module type %q", name, dep)
}

// NewAMTCircularDep reports a registration that would close a dependency cycle.
func NewAMTCircularDep(name string) *Error {
	return newError(CodeAMTCircularDep, http.StatusBadRequest,
		"circular dependency detected for analysis module type %q", name)
}

// NewAMTVersion reports a worker poll with a stale module version.
func NewAMTVersion(name, got, want string) *Error {
	return newError(CodeAMTVersion, http.StatusBadRequest,
		"analysis module type %q version mismatch: got %q want %q", name, got, want)
}

// NewAMTExtendedVersion reports a worker poll with incompatible extended version keys.
func NewAMTExtendedVersion(name string) *Error {
	return newError(CodeAMTExtendedVersion, http.StatusBadRequest,
		"analysis module type %q extended version mismatch", name)
}

// NewUnknownRoot reports an operation against a root that is not tracked.
func NewUnknownRoot(uuid string) *Error {
	return newError(CodeUnknownRoot, http.StatusBadRequest, "unknown root analysis %s", uuid)
}

// NewRootExists reports an insert of an already tracked root.
func NewRootExists(uuid string) *Error {
	return newError(CodeRootExists, http.StatusBadRequest, "root analysis %s already tracked", uuid)
}

// NewUnknownObservable reports a merge target missing from the root's store.
func NewUnknownObservable(uuid string) *Error {
	return newError(CodeUnknownObservable, http.StatusBadRequest, "unknown observable %s", uuid)
}

// NewUnknownRequest reports an operation on an untracked analysis request.
func NewUnknownRequest(id string) *Error {
	return newError(CodeUnknownRequest, http.StatusBadRequest, "unknown analysis request %s", id)
}

// NewRequestExpired reports a result arriving for a request that timed out.
func NewRequestExpired(id string) *Error {
	return newError(CodeRequestExpired, http.StatusBadRequest, "analysis request %s expired", id)
}

// NewRequestLocked reports a result arriving for a request locked elsewhere.
func NewRequestLocked(id string) *Error {
	return newError(CodeRequestLocked, http.StatusBadRequest, "analysis request %s is locked", id)
}

// NewUnknownAlertSystem reports an alert poll for an unregistered system.
func NewUnknownAlertSystem(name string) *Error {
	return newError(CodeUnknownAlertSystem, http.StatusBadRequest, "unknown alert system %q", name)
}

// NewDuplicateAPIKeyName reports an api key create collision.
func NewDuplicateAPIKeyName(name string) *Error {
	return newError(CodeDuplicateAPIKeyName, http.StatusBadRequest, "api key named %q already exists", name)
}

// NewInvalidAPIKey reports a request carrying a missing or unknown api key.
func NewInvalidAPIKey() *Error {
	return newError(CodeInvalidAPIKey, http.StatusUnauthorized, "invalid api key")
}

// NewUnknownFile reports a content lookup for an untracked sha256.
func NewUnknownFile(sha256 string) *Error {
	return newError(CodeUnknownFile, http.StatusBadRequest, "unknown file %s", sha256)
}

// NewInvalidWorkQueue reports a put or poll against a queue that does not exist.
func NewInvalidWorkQueue(amt string) *Error {
	return newError(CodeInvalidWorkQueue, http.StatusBadRequest, "invalid work queue %q", amt)
}

// NewRootVersion reports an optimistic root update that exhausted its retries.
func NewRootVersion(uuid string) *Error {
	return newError(CodeRootVersion, http.StatusConflict,
		"version conflict updating root analysis %s", uuid)
}

// NewDeadlock reports a persistence deadlock that exhausted its retries.
func NewDeadlock(err error) *Error {
	e := newError(CodeDeadlock, http.StatusInternalServerError, "persistence deadlock")
	e.Cause = err
	return e
}

// NewInvalidRequest reports a malformed or unparseable API request.
func NewInvalidRequest(format string, args ...interface{}) *Error {
	return newError(CodeInvalidRequest, http.StatusBadRequest, format, args...)
}

// NewRateLimited reports a request refused by the rate limiter.
func NewRateLimited() *Error {
	return newError(CodeRateLimited, http.StatusTooManyRequests, "request rate limit exceeded")
}

// Helper functions.

// GetError extracts *Error from an error chain, or nil.
func GetError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code Code) bool {
	e := GetError(err)
	return e != nil && e.Code == code
}

// HTTPStatus returns the boundary status for err, defaulting to 500.
func HTTPStatus(err error) int {
	if e := GetError(err); e != nil && e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Wrap adds context to an error, preserving any taxonomy code in the chain.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	if e := GetError(err); e != nil {
		e.Message = fmt.Sprintf("%s: %s", message, e.Message)
		return e
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
