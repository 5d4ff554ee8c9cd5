package h1

import (
	"errors"
	"fmt"
)

// Kind classifies an Error.
type Kind uint8

const (
	// KindParse: the peer sent a malformed head.
	KindParse Kind = iota + 1
	// KindIncomplete: the peer closed the connection before a message completed.
	KindIncomplete
	// KindUnexpectedMessage: bytes arrived while the connection should be idle.
	KindUnexpectedMessage
	// KindBody: the incoming body could not be decoded.
	KindBody
	// KindBodyWrite: the outgoing body could not be written.
	KindBodyWrite
	// KindBodyWriteAborted: the body ended before the promised length was written.
	KindBodyWriteAborted
	// KindIO: the underlying stream failed.
	KindIO
	// KindShutdown: shutting the stream down failed.
	KindShutdown
	// KindUser: the caller handed the connection an unencodable message.
	KindUser
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindParse:
		return "PARSE"
	case KindIncomplete:
		return "INCOMPLETE_MESSAGE"
	case KindUnexpectedMessage:
		return "UNEXPECTED_MESSAGE"
	case KindBody:
		return "BODY"
	case KindBodyWrite:
		return "BODY_WRITE"
	case KindBodyWriteAborted:
		return "BODY_WRITE_ABORTED"
	case KindIO:
		return "IO"
	case KindShutdown:
		return "SHUTDOWN"
	case KindUser:
		return "USER"
	default:
		return fmt.Sprintf("UNKNOWN_KIND_%d", uint8(k))
	}
}

// Parse refines KindParse errors.
type Parse uint8

const (
	ParseNone Parse = iota
	ParseMethod
	ParseVersion
	// ParseVersionH2 means the bytes that failed to parse are an HTTP/2
	// connection preface.
	ParseVersionH2
	ParseURI
	ParseURITooLong
	ParseHeaderToken
	ParseHeaderContentLength
	ParseHeaderTransferEncoding
	ParseHeaderTransferEncodingUnexpected
	ParseTooLarge
	ParseStatus
)

// String returns the string representation of the Parse sub-kind.
func (p Parse) String() string {
	switch p {
	case ParseNone:
		return "NONE"
	case ParseMethod:
		return "invalid method"
	case ParseVersion:
		return "invalid HTTP version"
	case ParseVersionH2:
		return "HTTP/2 connection preface on an HTTP/1 connection"
	case ParseURI:
		return "invalid URI"
	case ParseURITooLong:
		return "URI too long"
	case ParseHeaderToken:
		return "invalid header token"
	case ParseHeaderContentLength:
		return "invalid content-length"
	case ParseHeaderTransferEncoding:
		return "invalid transfer-encoding"
	case ParseHeaderTransferEncodingUnexpected:
		return "unexpected transfer-encoding"
	case ParseTooLarge:
		return "message head is too large"
	case ParseStatus:
		return "invalid status code"
	default:
		return fmt.Sprintf("UNKNOWN_PARSE_%d", uint8(p))
	}
}

// Error is the error type surfaced by Conn operations.
type Error struct {
	Kind  Kind
	Parse Parse  // set when Kind is KindParse
	Msg   string // optional detail
	Cause error  // optional underlying cause
}

// Error returns a string representation of the Error.
func (e *Error) Error() string {
	desc := e.description()
	if e.Msg != "" {
		desc += ": " + e.Msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("h1: %s: %s", desc, e.Cause)
	}
	return "h1: " + desc
}

func (e *Error) description() string {
	switch e.Kind {
	case KindParse:
		return e.Parse.String()
	case KindIncomplete:
		return "connection closed before message completed"
	case KindUnexpectedMessage:
		return "received unexpected message from connection"
	case KindBody:
		return "error reading a body from connection"
	case KindBodyWrite:
		return "error writing a body to connection"
	case KindBodyWriteAborted:
		return "body write aborted"
	case KindIO:
		return "connection error"
	case KindShutdown:
		return "error shutting down connection"
	case KindUser:
		return "invalid outgoing message"
	default:
		return e.Kind.String()
	}
}

// Unwrap returns the underlying cause of the error, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors of the same Kind (and Parse sub-kind) so that
// errors.Is(err, &Error{Kind: KindIncomplete}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Parse == ParseNone || e.Parse == t.Parse)
}

func newParseError(p Parse, msg string) *Error {
	return &Error{Kind: KindParse, Parse: p, Msg: msg}
}

func newIncomplete() *Error {
	return &Error{Kind: KindIncomplete}
}

func newIncompleteMsg(msg string) *Error {
	return &Error{Kind: KindIncomplete, Msg: msg}
}

func newUnexpectedMessage() *Error {
	return &Error{Kind: KindUnexpectedMessage}
}

func newBodyError(cause error) *Error {
	return &Error{Kind: KindBody, Cause: cause}
}

func newBodyWriteError(cause error) *Error {
	return &Error{Kind: KindBodyWrite, Cause: cause}
}

func newBodyWriteAborted(cause error) *Error {
	return &Error{Kind: KindBodyWriteAborted, Cause: cause}
}

func newIOError(cause error) *Error {
	return &Error{Kind: KindIO, Cause: cause}
}

func newUserError(msg string) *Error {
	return &Error{Kind: KindUser, Msg: msg}
}

func newVersionH2() *Error {
	return newParseError(ParseVersionH2, "")
}

// NotEOFError is the cause of a body-write-aborted error: the body ended
// while Remaining bytes were still owed.
type NotEOFError struct {
	Remaining uint64
}

func (e *NotEOFError) Error() string {
	return fmt.Sprintf("body ended with %d bytes still owed", e.Remaining)
}

// ErrPending reports that an operation cannot make progress until the
// transport becomes ready again, or that its outcome was deferred (see
// Conn.TakeError). Re-invoking the operation later is always safe.
var ErrPending = errors.New("h1: operation pending")

func kindOf(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsParse reports whether err is a malformed-head error.
func IsParse(err error) bool {
	e, ok := kindOf(err)
	return ok && e.Kind == KindParse
}

// IsVersionH2 reports whether err signals an HTTP/2 preface received on
// this HTTP/1 connection.
func IsVersionH2(err error) bool {
	e, ok := kindOf(err)
	return ok && e.Kind == KindParse && e.Parse == ParseVersionH2
}

// IsIncomplete reports whether err means the peer closed mid-message.
func IsIncomplete(err error) bool {
	e, ok := kindOf(err)
	return ok && e.Kind == KindIncomplete
}

// IsUnexpectedMessage reports whether err means bytes arrived on an idle
// connection.
func IsUnexpectedMessage(err error) bool {
	e, ok := kindOf(err)
	return ok && e.Kind == KindUnexpectedMessage
}

// IsBodyWriteAborted reports whether err means a body ended short of its
// declared length.
func IsBodyWriteAborted(err error) bool {
	return errors.Is(err, &Error{Kind: KindBodyWriteAborted})
}

// IsIO reports whether err came from the underlying stream.
func IsIO(err error) bool {
	e, ok := kindOf(err)
	return ok && e.Kind == KindIO
}
