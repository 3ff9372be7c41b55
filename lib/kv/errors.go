package kv

import (
	"fmt"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Error Kinds
// --------------------------------------------------------------------------

// ErrorKind classifies every failure the core surfaces to a caller.
// The kind is the only contract the bindings depend on, the concrete message is
// for humans. ErrorKind implements error so that kinds can be used as sentinels:
//
//	if errors.Is(err, kv.ErrDocumentExists) { ... }
type ErrorKind uint8

const (
	KindUnknown           ErrorKind = iota
	KindInvalidArgument             // local validation failure, never sent over the wire
	KindDocumentNotFound            // the document does not exist
	KindDocumentExists              // the document already exists (insert)
	KindCasMismatch                 // the supplied CAS does not match the server's CAS
	KindNodeUnavailable             // no healthy connection to the owning node, or a stale route
	KindRetryable                   // transient server condition (tmpfail, busy, locked, ...)
	KindTimeout                     // the deadline elapsed
	KindDurabilityTimeout           // the write happened but durability was not reached in time
	KindCancelled                   // the caller cancelled the request
	KindEncodingFailure             // the value could not be encoded
	KindDecodingFailure             // the value could not be decoded
	KindProtocolError               // unexpected status code or malformed response
)

// Sentinels for errors.Is
var (
	ErrInvalidArgument   error = KindInvalidArgument
	ErrDocumentNotFound  error = KindDocumentNotFound
	ErrDocumentExists    error = KindDocumentExists
	ErrCasMismatch       error = KindCasMismatch
	ErrNodeUnavailable   error = KindNodeUnavailable
	ErrRetryable         error = KindRetryable
	ErrTimeout           error = KindTimeout
	ErrDurabilityTimeout error = KindDurabilityTimeout
	ErrCancelled         error = KindCancelled
	ErrEncodingFailure   error = KindEncodingFailure
	ErrDecodingFailure   error = KindDecodingFailure
	ErrProtocolError     error = KindProtocolError
)

// String returns the string representation of an ErrorKind.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid argument"
	case KindDocumentNotFound:
		return "document not found"
	case KindDocumentExists:
		return "document exists"
	case KindCasMismatch:
		return "cas mismatch"
	case KindNodeUnavailable:
		return "node unavailable"
	case KindRetryable:
		return "temporary failure"
	case KindTimeout:
		return "timeout"
	case KindDurabilityTimeout:
		return "durability timeout"
	case KindCancelled:
		return "cancelled"
	case KindEncodingFailure:
		return "encoding failure"
	case KindDecodingFailure:
		return "decoding failure"
	case KindProtocolError:
		return "protocol error"
	default:
		return "unknown"
	}
}

// Error implements the error interface.
func (k ErrorKind) Error() string {
	return k.String()
}

// --------------------------------------------------------------------------
// Error Type
// --------------------------------------------------------------------------

// ErrorContext holds the diagnostic details attached to a failed request.
// Fields that are unknown at the point of failure are left empty.
type ErrorContext struct {
	ClientID      string        // id of the core instance that handled the request
	Keyspace      string        // bucket/scope/collection
	Key           string        // document id
	Op            OpKind        // operation kind
	Node          string        // node the last attempt was routed to
	CorrelationID uint64        // correlation id of the last attempt
	Attempts      int           // number of attempts made
	Status        uint16        // raw protocol status of the last response
	Body          []byte        // raw response body (protocol errors only)
	Elapsed       time.Duration // time since the request was created
}

// Error is the error type returned for every failed request.
// It wraps a kind, a message and the request context, and optionally the
// underlying cause.
type Error struct {
	Kind    ErrorKind
	Msg     string
	Context ErrorContext
	Cause   error
}

// NewError creates a new Error with the given kind and message.
func NewError(kind ErrorKind, msg string) *Error {
	return &Error{
		Kind: kind,
		Msg:  msg,
	}
}

// Errorf creates a new Error with the given kind and a formatted message.
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return NewError(kind, fmt.Sprintf(format, args...))
}

// WrapError creates a new Error of the given kind that wraps cause.
func WrapError(kind ErrorKind, cause error, msg string) *Error {
	return &Error{
		Kind:  kind,
		Msg:   msg,
		Cause: cause,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	ctx := e.Context
	var fields []string
	if ctx.Keyspace != "" {
		fields = append(fields, "keyspace="+ctx.Keyspace)
	}
	if ctx.Key != "" {
		fields = append(fields, "key="+ctx.Key)
	}
	if ctx.Op != OpUnknown {
		fields = append(fields, "op="+ctx.Op.String())
	}
	if ctx.Node != "" {
		fields = append(fields, "node="+ctx.Node)
	}
	if ctx.Attempts > 0 {
		fields = append(fields, fmt.Sprintf("attempts=%d", ctx.Attempts))
	}
	if ctx.Status != 0 {
		fields = append(fields, fmt.Sprintf("status=0x%02x", ctx.Status))
	}
	if len(fields) > 0 {
		sb.WriteString(" [")
		sb.WriteString(strings.Join(fields, " "))
		sb.WriteString("]")
	}
	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the error matches target. A kind sentinel matches any
// Error of that kind. DurabilityTimeout is a subtype of Timeout.
func (e *Error) Is(target error) bool {
	kind, ok := target.(ErrorKind)
	if !ok {
		return false
	}
	if kind == e.Kind {
		return true
	}
	return kind == KindTimeout && e.Kind == KindDurabilityTimeout
}

// WithContext returns a shallow copy of the error with the context replaced.
func (e *Error) WithContext(ctx ErrorContext) *Error {
	c := *e
	c.Context = ctx
	return &c
}

// KindOf returns the kind of err. Errors that were not produced by this package
// are reported as KindUnknown, nil as KindUnknown as well.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	switch e := err.(type) {
	case *Error:
		return e.Kind
	case ErrorKind:
		return e
	}
	if u, ok := err.(interface{ Unwrap() error }); ok {
		return KindOf(u.Unwrap())
	}
	return KindUnknown
}
