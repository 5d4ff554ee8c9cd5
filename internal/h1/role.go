package h1

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Role is the side of the connection an engine plays. The state machine is
// shared; the role decides who speaks first and how heads are framed.
type Role interface {
	Name() string
	IsClient() bool
	// ShouldReadFirst is true when the peer speaks first (a server reads
	// requests before writing responses).
	ShouldReadFirst() bool
	// ShouldErrorOnParseEOF is true when EOF before a head is an error
	// even with an empty buffer (a client with a request in flight).
	ShouldErrorOnParseEOF() bool
	// Parse parses one head from buf. It returns a nil message when buf
	// holds no complete head yet. The int is the number of bytes consumed.
	Parse(buf []byte, ctx *ParseContext) (*ParsedMessage, int, error)
	// Encode appends the head to dst and returns the body encoder.
	Encode(dst []byte, ctx *EncodeContext) ([]byte, *Encoder, error)
	// OnError returns a head to send back for err, or nil.
	OnError(err error) *MessageHead
}

var (
	// Server reads requests and writes responses.
	Server Role = serverRole{}
	// Client writes requests and reads responses.
	Client Role = clientRole{}
)

// headLines splits buf into the lines of one head. ok is false until the
// terminating empty line has arrived. Lines end in LF with an optional CR.
func headLines(buf []byte) (lines [][]byte, n int, ok bool) {
	for n < len(buf) {
		i := bytes.IndexByte(buf[n:], '\n')
		if i < 0 {
			return nil, 0, false
		}
		line := bytes.TrimSuffix(buf[n:n+i], []byte{'\r'})
		n += i + 1
		if len(line) == 0 {
			return lines, n, true
		}
		lines = append(lines, line)
	}
	return nil, 0, false
}

func parseVersion(s string) (Version, bool) {
	switch s {
	case "HTTP/1.1":
		return HTTP11, true
	case "HTTP/1.0":
		return HTTP10, true
	}
	return 0, false
}

// parseHeaderFields fills h from the header lines of a head.
func parseHeaderFields(lines [][]byte, h http.Header, maxHeaders int) error {
	if maxHeaders > 0 && len(lines) > maxHeaders {
		return newParseError(ParseTooLarge, "too many header fields")
	}
	for _, line := range lines {
		if line[0] == ' ' || line[0] == '\t' {
			return newParseError(ParseHeaderToken, "obsolete line folding")
		}
		name, value, ok := strings.Cut(string(line), ":")
		if !ok || !httpguts.ValidHeaderFieldName(name) {
			return newParseError(ParseHeaderToken, "")
		}
		value = strings.Trim(value, " \t")
		if !httpguts.ValidHeaderFieldValue(value) {
			return newParseError(ParseHeaderToken, "")
		}
		h.Add(name, value)
	}
	return nil
}

// keepAliveHint applies the version default: 1.1 stays open unless told to
// close, 1.0 closes unless told to stay open.
func keepAliveHint(v Version, h http.Header) bool {
	if v == HTTP10 {
		return connectionKeepAlive(h)
	}
	return !connectionClose(h)
}

// incompleteHead is the Parse result for a partial head. A buffer at the
// size limit can never complete.
func incompleteHead(buf []byte, ctx *ParseContext, uriTooLong bool) (*ParsedMessage, int, error) {
	if ctx.MaxBufSize > 0 && len(buf) >= ctx.MaxBufSize {
		if uriTooLong && bytes.IndexByte(buf, '\n') < 0 {
			return nil, 0, newParseError(ParseURITooLong, "")
		}
		return nil, 0, newParseError(ParseTooLarge, "")
	}
	return nil, 0, nil
}

type headerLine struct {
	name, value string
}

type framing struct {
	enc   *Encoder
	extra []headerLine
}

// bodyFraming picks the encoder for a message that may carry a body. Header
// fields set by the caller win over the body length hint. zeroLength adds
// an explicit "content-length: 0" for empty bodies.
func bodyFraming(h http.Header, body BodyLength, v Version, zeroLength, allowCloseDelimited bool) (framing, error) {
	if te, ok := h["Transfer-Encoding"]; ok {
		if v == HTTP11 {
			if !transferEncodingIsChunked(te) {
				return framing{}, newUserError("transfer-encoding must end in chunked")
			}
			h.Del("Content-Length")
			return framing{enc: newChunkedEncoder()}, nil
		}
		// HTTP/1.0 has no chunked coding; frame by length or by close.
		h.Del("Transfer-Encoding")
	}
	if cl, ok := h["Content-Length"]; ok {
		n, valid := contentLength(cl)
		if !valid {
			return framing{}, newUserError("invalid content-length")
		}
		return framing{enc: newLengthEncoder(n)}, nil
	}
	switch {
	case body == BodyNone:
		f := framing{enc: newLengthEncoder(0)}
		if zeroLength {
			f.extra = []headerLine{{"Content-Length", "0"}}
		}
		return f, nil
	case body >= 0:
		f := framing{enc: newLengthEncoder(uint64(body))}
		if body > 0 || zeroLength {
			f.extra = []headerLine{{"Content-Length", strconv.FormatUint(uint64(body), 10)}}
		}
		return f, nil
	case v == HTTP11:
		return framing{
			enc:   newChunkedEncoder(),
			extra: []headerLine{{"Transfer-Encoding", "chunked"}},
		}, nil
	case allowCloseDelimited:
		return framing{enc: newCloseDelimitedEncoder()}, nil
	default:
		return framing{}, newUserError("HTTP/1.0 message with unknown body length")
	}
}

// finishHead appends the header block and the blank line.
func finishHead(dst []byte, h http.Header, extra []headerLine, titleCase bool) ([]byte, error) {
	dst, err := writeHeaders(dst, h, titleCase)
	if err != nil {
		return nil, err
	}
	for _, l := range extra {
		dst = writeHeaderLine(dst, l.name, l.value, titleCase)
	}
	return append(dst, "\r\n"...), nil
}
