package privchat

import "fmt"

// Kind classifies an SDK error without committing callers to a specific
// Go type per failure mode. Checking a Kind is done via errors.As against
// *Error and comparing .Kind.
type Kind string

const (
	KindNotConnected     Kind = "not_connected"
	KindTransport        Kind = "transport"
	KindSerialization    Kind = "serialization"
	KindDatabase         Kind = "database"
	KindIO               Kind = "io"
	KindKvStore          Kind = "kv_store"
	KindAuth             Kind = "auth"
	KindMigration        Kind = "migration"
	KindQueueFull        Kind = "queue_full"
	KindInvalidOperation Kind = "invalid_operation"
	KindInvalidInput     Kind = "invalid_input"
	KindNotFound         Kind = "not_found"
	KindTimeout          Kind = "timeout"
	KindDuplicateRequest Kind = "duplicate_request"
	KindRateLimitExceeded Kind = "rate_limit_exceeded"
	KindJSON             Kind = "json_error"
)

// Error is the SDK's error envelope: a Kind plus a wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is implements errors.Is comparison against a bare Kind-tagged Error,
// so callers can write errors.Is(err, &Error{Kind: KindNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewError constructs an *Error with the given kind and message.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// DuplicateRequest describes a rejected duplicate RPC: method name and
// how long the original has been pending. Callers must not retry it — it
// signals a user or logic error, not a transient condition.
type DuplicateRequest struct {
	Method      string
	PendingSince int64 // milliseconds the original request has been in flight
}

func (d *DuplicateRequest) Error() string {
	return fmt.Sprintf("duplicate_request: %s pending for %dms", d.Method, d.PendingSince)
}
