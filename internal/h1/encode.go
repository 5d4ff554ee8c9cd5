package h1

import (
	"fmt"
	"net/http"
	"strconv"
)

type encoderKind uint8

const (
	encodeLength encoderKind = iota
	encodeChunked
	encodeCloseDelimited
)

var (
	chunkCRLF       = []byte("\r\n")
	chunkTerminator = []byte("0\r\n\r\n")
)

// Encoder frames outgoing body data according to a length policy.
type Encoder struct {
	kind      encoderKind
	remaining uint64
	// last marks the final message on this connection.
	last bool
}

func newLengthEncoder(n uint64) *Encoder { return &Encoder{kind: encodeLength, remaining: n} }

func newChunkedEncoder() *Encoder { return &Encoder{kind: encodeChunked} }

func newCloseDelimitedEncoder() *Encoder { return &Encoder{kind: encodeCloseDelimited} }

// IsEOF reports whether a fixed-length body has been fully written.
func (e *Encoder) IsEOF() bool { return e.kind == encodeLength && e.remaining == 0 }

// IsLast reports whether the connection must close after this message.
func (e *Encoder) IsLast() bool { return e.last }

func (e *Encoder) IsCloseDelimited() bool { return e.kind == encodeCloseDelimited }

func (e *Encoder) IsChunked() bool { return e.kind == encodeChunked }

func (e *Encoder) setLast(last bool) *Encoder {
	e.last = last
	return e
}

func (e *Encoder) String() string {
	switch e.kind {
	case encodeLength:
		return fmt.Sprintf("Length(%d)", e.remaining)
	case encodeChunked:
		return "Chunked"
	default:
		return "CloseDelimited"
	}
}

func chunkSizeLine(n int) []byte {
	return []byte(strconv.FormatInt(int64(n), 16) + "\r\n")
}

// encode frames chunk into w. A fixed-length encoder drops bytes beyond the
// declared length.
func (e *Encoder) encode(chunk []byte, w *writeBuf) {
	switch e.kind {
	case encodeLength:
		if uint64(len(chunk)) > e.remaining {
			chunk = chunk[:e.remaining]
		}
		e.remaining -= uint64(len(chunk))
		w.buffer(chunk)
	case encodeChunked:
		w.buffer(chunkSizeLine(len(chunk)))
		w.buffer(chunk)
		w.buffer(chunkCRLF)
	default:
		w.buffer(chunk)
	}
}

// encodeAndEnd frames chunk as the final piece of the body and reports
// whether the connection may be kept alive afterwards.
func (e *Encoder) encodeAndEnd(chunk []byte, w *writeBuf) bool {
	switch e.kind {
	case encodeLength:
		n := uint64(len(chunk))
		if n < e.remaining {
			e.remaining -= n
			w.buffer(chunk)
			return false
		}
		e.encode(chunk, w)
		return !e.last
	case encodeChunked:
		w.buffer(chunkSizeLine(len(chunk)))
		w.buffer(chunk)
		w.buffer(chunkCRLF)
		w.buffer(chunkTerminator)
		return !e.last
	default:
		w.buffer(chunk)
		return false
	}
}

// end returns the bytes that terminate the body. A fixed-length body that
// is still owed bytes fails with a NotEOFError.
func (e *Encoder) end() ([]byte, error) {
	switch e.kind {
	case encodeLength:
		if e.remaining != 0 {
			return nil, &NotEOFError{Remaining: e.remaining}
		}
		return nil, nil
	case encodeChunked:
		return chunkTerminator, nil
	default:
		return nil, nil
	}
}

// encodeTrailers returns the last-chunk marker followed by trailer fields.
// It returns nil for encoders that cannot carry trailers.
func (e *Encoder) encodeTrailers(trailers http.Header, titleCase bool) ([]byte, error) {
	if e.kind != encodeChunked {
		return nil, nil
	}
	out := []byte("0\r\n")
	out, err := writeHeaders(out, trailers, titleCase)
	if err != nil {
		return nil, err
	}
	return append(out, "\r\n"...), nil
}
