package h1

import (
	"fmt"
	"net/http"
)

// Version is an HTTP/1.x protocol version.
type Version uint8

const (
	HTTP11 Version = iota // default; the zero value
	HTTP10
)

// String returns the version as it appears on the wire.
func (v Version) String() string {
	switch v {
	case HTTP10:
		return "HTTP/1.0"
	case HTTP11:
		return "HTTP/1.1"
	default:
		return fmt.Sprintf("HTTP/1.?(%d)", uint8(v))
	}
}

// MessageHead is the start line plus header fields of one message.
// Requests use Method and Target; responses use Status and Reason.
type MessageHead struct {
	Version Version
	Method  string
	Target  string
	Status  int
	Reason  string
	Header  http.Header
}

// DecodedLength is the framing of an incoming body: a byte count, or one
// of the negative sentinels.
type DecodedLength int64

const (
	LengthZero           DecodedLength = 0
	LengthChunked        DecodedLength = -1
	LengthCloseDelimited DecodedLength = -2
)

// String describes the length policy.
func (l DecodedLength) String() string {
	switch l {
	case LengthChunked:
		return "chunked encoding"
	case LengthCloseDelimited:
		return "close-delimited"
	case LengthZero:
		return "empty"
	default:
		return fmt.Sprintf("content-length (%d bytes)", int64(l))
	}
}

// BodyLength is the caller's hint about an outgoing body.
// Non-negative values are an exact length.
type BodyLength int64

const (
	// BodyNone: the message has no body at all.
	BodyNone BodyLength = -1
	// BodyUnknown: a body follows but its length is not known up front.
	BodyUnknown BodyLength = -2
)

// Wants is a bitmask of follow-up actions the caller must take after a head
// was read.
type Wants uint8

const (
	// WantsUpgrade: the message asked for a protocol upgrade.
	WantsUpgrade Wants = 1 << iota
	// WantsExpect: the peer is waiting for "100 Continue" before sending the body.
	WantsExpect
)

// Contains reports whether every bit of o is set in w.
func (w Wants) Contains(o Wants) bool { return w&o == o }

// Incoming is the result of a successful ReadHead.
type Incoming struct {
	Head  *MessageHead
	Body  DecodedLength
	Wants Wants
}

// ParsedMessage is what a Role's parser produces from the read buffer.
type ParsedMessage struct {
	Head           *MessageHead
	Decode         DecodedLength
	ExpectContinue bool
	KeepAlive      bool
	WantsUpgrade   bool
}

// ParseContext carries the per-connection state a parser reads and updates.
type ParseContext struct {
	// CachedHeaders, when non-nil, is an emptied map to reuse for the next head.
	CachedHeaders *http.Header
	// ReqMethod is the method of the in-flight request. Server parsing sets it;
	// client parsing reads it to frame the response body.
	ReqMethod  *string
	MaxHeaders int
	MaxBufSize int
}

// EncodeContext carries what a Role's encoder needs besides the head.
type EncodeContext struct {
	Head             *MessageHead
	Body             BodyLength
	KeepAlive        bool
	ReqMethod        *string
	TitleCaseHeaders bool
	DateHeader       bool
	Now              func() string
}

// takeHeaders returns the cached header map (emptied) or a fresh one.
func takeHeaders(cached *http.Header) http.Header {
	if cached != nil && *cached != nil {
		h := *cached
		*cached = nil
		clear(h)
		return h
	}
	return make(http.Header)
}
