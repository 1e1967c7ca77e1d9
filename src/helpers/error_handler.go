package helpers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cove-observer/src/logger"

	"github.com/cenkalti/backoff/v4"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type ObserverError struct {
	Message string
	Cause   error
}

func (e *ObserverError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ObserverError) Unwrap() error {
	return e.Cause
}

// ConnectionError reports a socket that could not be opened or was lost
type ConnectionError struct{ ObserverError }

// ValidationError reports a malformed inbound message or bad input
type ValidationError struct{ ObserverError }

// DatabaseError wraps storage failures
type DatabaseError struct{ ObserverError }

// ExhaustedRetriesError is delivered as an event when an adapter or a
// balance watch gives up.
type ExhaustedRetriesError struct {
	ObserverError
	Attempts int
}

func NewConnectionError(msg string, cause error) error {
	return &ConnectionError{ObserverError{Message: msg, Cause: cause}}
}

func NewValidationError(msg string, cause error) error {
	return &ValidationError{ObserverError{Message: msg, Cause: cause}}
}

func NewDatabaseError(msg string, cause error) error {
	return &DatabaseError{ObserverError{Message: msg, Cause: cause}}
}

func NewExhaustedRetriesError(msg string, attempts int) error {
	return &ExhaustedRetriesError{ObserverError: ObserverError{Message: msg}, Attempts: attempts}
}

// -----------------------------------------------------------------------------
// Request errors
// -----------------------------------------------------------------------------

// RequestErrorKind classifies a failed ledger request
type RequestErrorKind string

const (
	NotConnected  RequestErrorKind = "NotConnected"
	RequestFailed RequestErrorKind = "RequestFailed"
	Timeout       RequestErrorKind = "Timeout"
)

// RequestError is returned by every ledger request. Code carries the
// server's error token (for example actNotFound) when there is one.
type RequestError struct {
	Kind    RequestErrorKind
	Command string
	Code    string
	Cause   error
}

func (e *RequestError) Error() string {
	msg := fmt.Sprintf("%s request %s", e.Command, e.Kind)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *RequestError) Unwrap() error {
	return e.Cause
}

// HasCode reports whether err is a RequestError carrying the server code
func HasCode(err error, code string) bool {
	var re *RequestError
	return errors.As(err, &re) && re.Code == code
}

// IsKind reports whether err is a RequestError of the given kind
func IsKind(err error, kind RequestErrorKind) bool {
	var re *RequestError
	return errors.As(err, &re) && re.Kind == kind
}

// IsNotConnected matches NotConnected request errors and connection errors
func IsNotConnected(err error) bool {
	var ce *ConnectionError
	return IsKind(err, NotConnected) || errors.As(err, &ce)
}

// IsTolerableOnTeardown reports errors that an unsubscribe path can ignore:
// the connection is gone or went away while the request was in flight.
func IsTolerableOnTeardown(err error) bool {
	return err == nil || IsNotConnected(err) || errors.Is(err, context.Canceled)
}

// -----------------------------------------------------------------------------
// User facing errors
// -----------------------------------------------------------------------------

// UserError carries a message safe to show to an end user
type UserError struct {
	Code    string
	Message string
}

func (e *UserError) Error() string { return e.Message }

var (
	ErrFaucetUnavailable   = &UserError{Code: "faucet_unavailable", Message: "Faucet is only available on testnet and devnet"}
	ErrFundingInProgress   = &UserError{Code: "funding_in_progress", Message: "Funding request already in progress"}
	ErrInsufficientBalance = &UserError{Code: "insufficient_balance", Message: "Insufficient balance"}
	ErrInvalidAddress      = &UserError{Code: "invalid_address", Message: "Invalid account address"}
	ErrInvalidAmount       = &UserError{Code: "invalid_amount", Message: "Amount must be a positive XRP value"}
	ErrInvalidSeed         = &UserError{Code: "invalid_seed", Message: "Invalid wallet seed format"}
	ErrUnknownSource       = &UserError{Code: "unknown_source", Message: "Unknown price source"}
)

// ledger result codes for a sender that cannot cover a payment
var insufficientFundsCodes = map[string]bool{
	"tecUNFUNDED_PAYMENT":     true,
	"tecNO_DST_INSUF_XRP":     true,
	"tecINSUFFICIENT_RESERVE": true,
	"tecINSUFF_FEE":           true,
	"terINSUF_FEE_B":          true,
}

// ClassifyUserError turns ledger result codes a user can act on into their
// UserError. Anything else is returned unchanged.
func ClassifyUserError(err error) error {
	var re *RequestError
	if !errors.As(err, &re) {
		return err
	}
	if insufficientFundsCodes[re.Code] || strings.HasPrefix(re.Code, "tecINSUF_RESERVE") {
		return fmt.Errorf("%s: %w", re.Code, ErrInsufficientBalance)
	}
	return err
}

// AsUserError extracts a UserError if err wraps one
func AsUserError(err error) (*UserError, bool) {
	var ue *UserError
	ok := errors.As(err, &ue)
	return ue, ok
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// RetryWithBackoff runs fn until it succeeds, returns a backoff.Permanent
// error, ctx ends, or maxRetries retries have been spent.
func RetryWithBackoff(ctx context.Context, log *logger.Logger, operation string, maxRetries int, baseDelay time.Duration, fn func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = baseDelay
	eb.MaxElapsedTime = 0

	var policy backoff.BackOff = backoff.WithMaxRetries(eb, uint64(maxRetries))
	policy = backoff.WithContext(policy, ctx)

	attempt := 0
	return backoff.RetryNotify(fn, policy, func(err error, wait time.Duration) {
		attempt++
		if log != nil {
			log.Warning("%s failed (attempt %d/%d): %v. Retrying in %v", operation, attempt, maxRetries+1, err, wait)
		}
	})
}

// -----------------------------------------------------------------------------

// ErrReconnectRequested is returned by a stream protocol when the remote asks
// the client to reconnect. The adapter drops the socket and retries.
var ErrReconnectRequested = errors.New("reconnect requested by server")
