// Package errs implements the error taxonomy of spec §7: retryable
// transient errors, conditionally-retryable errors, terminal errors, client
// errors, and commit errors, plus the issue chain rendering used for
// "Status: <code>, Issues: ..." messages.
package errs

import (
	"fmt"
	"strings"

	rpcstatus "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
)

// Kind classifies an Error for the retry engine's predicate.
type Kind int

const (
	KindUnknown Kind = iota
	KindRetryableTransient
	KindConditionallyRetryable
	KindTerminal
	KindClient
	KindCommit
)

// Code enumerates the concrete status values an Error can carry. It mirrors
// the YDB status enum closely enough for classification purposes without
// depending on generated stubs (out of scope per spec §1).
type Code int32

const (
	CodeUnspecified Code = iota
	CodeAborted
	CodeOverloaded
	CodeUnavailable
	CodeBadSession
	CodeSessionBusy
	CodeSessionExpired
	CodeUndetermined
	CodeTimeout
	CodeSchemaError
	CodeNotFound
	CodePreconditionFailed
	CodeUnauthorized
	CodeUnauthenticated
	CodeInternalError
	CodeCancelled
	CodeBudgetExhausted
	CodeDeadMessage
	CodeDeadPartitionSession
	CodeOutOfOrderCommit
	CodeSeqNoModeMismatch
	CodePayloadTooLarge
	CodeNoMatchingConnection
)

// Severity of one Issue in an issue chain.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Issue is one entry of a YDB-style nested issue chain.
type Issue struct {
	Severity Severity
	Code     int32
	Message  string
	Issues   []Issue
}

// Error is the SDK's single error type; Kind drives retry classification
// and Code identifies the specific condition.
type Error struct {
	Kind   Kind
	Code   Code
	Issues []Issue
	cause  error
}

func New(kind Kind, code Code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Issues: []Issue{{Severity: SeverityError, Message: msg}}}
}

func Wrap(kind Kind, code Code, cause error) *Error {
	return &Error{Kind: kind, Code: code, cause: cause, Issues: []Issue{{Severity: SeverityError, Message: cause.Error()}}}
}

func (e *Error) Unwrap() error { return e.cause }

// Error renders "Status: <code>, Issues: <severity>(<code>): <msg>; …" per
// spec §7.
func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Status: %v, Issues: ", e.Code)
	for i, iss := range e.Issues {
		if i > 0 {
			sb.WriteString("; ")
		}
		fmt.Fprintf(&sb, "%s(%d): %s", iss.Severity, iss.Code, iss.Message)
		for _, nested := range iss.Issues {
			fmt.Fprintf(&sb, " [%s(%d): %s]", nested.Severity, nested.Code, nested.Message)
		}
	}
	return sb.String()
}

// Retryable returns whether the error should be retried for an operation
// whose idempotent flag is as given, per the three-way classification in
// spec §4.1/§7.
func (e *Error) Retryable(idempotent bool) bool {
	switch e.Kind {
	case KindRetryableTransient:
		return true
	case KindConditionallyRetryable:
		return idempotent
	default:
		return false
	}
}

// Commit wraps a YDB error encountered while waiting on a commit
// acknowledgment; retryability derives from the wrapped error (spec §7,
// Commit kind).
func Commit(wrapped *Error) *Error {
	return &Error{Kind: KindCommit, Code: wrapped.Code, Issues: wrapped.Issues, cause: wrapped}
}

func (e *Error) RetryableAsCommit(idempotent bool) bool {
	if e.Kind != KindCommit {
		return e.Retryable(idempotent)
	}
	var inner *Error
	if As(e.cause, &inner) {
		return inner.Retryable(idempotent)
	}
	return false
}

// As is a thin errors.As wrapper kept local so callers don't need a second
// import for the common case of unwrapping to *Error.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Client-error constructors (spec §7 "Client" kind) — surfaced synchronously,
// never retried by the retry engine.
func DeadMessage(msg string) *Error {
	return New(KindClient, CodeDeadMessage, msg)
}

func DeadPartitionSession(partitionSessionID uint64) *Error {
	return New(KindClient, CodeDeadPartitionSession, fmt.Sprintf("partition session %d is no longer live", partitionSessionID))
}

func OutOfOrderCommit(msg string) *Error {
	return New(KindClient, CodeOutOfOrderCommit, msg)
}

func SeqNoModeMismatch() *Error {
	return New(KindClient, CodeSeqNoModeMismatch, "writer seqno mode was already established by a prior write")
}

func PayloadTooLarge(size, max int) *Error {
	return New(KindClient, CodePayloadTooLarge, fmt.Sprintf("payload size %d exceeds maximum %d", size, max))
}

func NoMatchingConnection() *Error {
	return New(KindClient, CodeNoMatchingConnection, "no connection matches the requested acquire options")
}

func BudgetExhausted(attempts int) *Error {
	return New(KindClient, CodeBudgetExhausted, fmt.Sprintf("retry budget exhausted after %d attempts", attempts))
}

func Cancelled() *Error {
	return New(KindClient, CodeCancelled, "operation cancelled")
}

func Destroyed(reason string) *Error {
	if reason == "" {
		reason = "destroyed"
	}
	return New(KindClient, CodeCancelled, reason)
}

func Reconnecting() *Error {
	return New(KindRetryableTransient, CodeUnavailable, "stream reconnecting")
}

// KindForCode classifies a server-reported Code into its Kind per spec §7's
// four-way split (RetryableTransient/ConditionallyRetryable/Terminal/
// Client; Commit is constructed separately by Commit()).
func KindForCode(code Code) Kind {
	switch code {
	case CodeAborted, CodeOverloaded, CodeUnavailable, CodeBadSession, CodeSessionBusy:
		return KindRetryableTransient
	case CodeSessionExpired, CodeUndetermined, CodeTimeout:
		return KindConditionallyRetryable
	case CodeSchemaError, CodeNotFound, CodePreconditionFailed, CodeUnauthorized, CodeUnauthenticated, CodeInternalError:
		return KindTerminal
	case CodeCancelled, CodeBudgetExhausted, CodeDeadMessage, CodeDeadPartitionSession, CodeOutOfOrderCommit, CodeSeqNoModeMismatch, CodePayloadTooLarge, CodeNoMatchingConnection:
		return KindClient
	default:
		return KindRetryableTransient
	}
}

// FromServerMessage builds an *Error from a server frame's status code and
// issue chain, classifying Kind via KindForCode so Terminal-class errors
// (schema, not-found, precondition, unauthorized, unauthenticated, internal)
// are surfaced instead of retried forever.
func FromServerMessage(code Code, issues []Issue) *Error {
	if len(issues) == 0 {
		issues = []Issue{{Severity: SeverityError, Message: "server reported non-success status"}}
	}
	return &Error{Kind: KindForCode(code), Code: code, Issues: issues}
}

// ToRPCStatus renders e as a google.rpc.Status so it can be attached via
// grpc status.WithDetails when surfaced back out through a unary RPC (e.g.
// UpdateOffsetsInTransaction failures), per SPEC_FULL §7.
func (e *Error) ToRPCStatus() *rpcstatus.Status {
	return &rpcstatus.Status{
		Code:    int32(grpcCodeFor(e.Kind)),
		Message: e.Error(),
	}
}

func grpcCodeFor(k Kind) codes.Code {
	switch k {
	case KindRetryableTransient:
		return codes.Unavailable
	case KindConditionallyRetryable:
		return codes.DeadlineExceeded
	case KindTerminal:
		return codes.FailedPrecondition
	case KindClient:
		return codes.InvalidArgument
	case KindCommit:
		return codes.Aborted
	default:
		return codes.Unknown
	}
}
