package h1

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

const maxChunkLine = 4096

var (
	errInvalidChunkSize = errors.New("invalid chunk size line")
	errInvalidChunkEnd  = errors.New("chunk data not followed by CRLF")
	errInvalidTrailer   = errors.New("invalid trailer field")
	errTooManyTrailers  = errors.New("too many trailer fields")
)

type decoderKind uint8

const (
	decodeLength decoderKind = iota
	decodeChunked
	decodeEOF
)

type chunkState uint8

const (
	chunkSize chunkState = iota
	chunkBody
	chunkBodyEnd
	chunkTrailer
	chunkEnd
)

// Decoder turns framed bytes from the read buffer into body data according
// to a length policy.
type Decoder struct {
	kind      decoderKind
	remaining uint64 // bytes left in the body (length) or chunk (chunked)
	state     chunkState
	eof       bool

	trailers    http.Header
	maxTrailers int
}

func newDecoder(l DecodedLength, maxTrailers int) *Decoder {
	switch l {
	case LengthChunked:
		return &Decoder{kind: decodeChunked, maxTrailers: maxTrailers}
	case LengthCloseDelimited:
		return &Decoder{kind: decodeEOF}
	default:
		return &Decoder{kind: decodeLength, remaining: uint64(l)}
	}
}

// IsEOF reports whether the body has been fully decoded.
func (d *Decoder) IsEOF() bool {
	switch d.kind {
	case decodeLength:
		return d.remaining == 0
	case decodeChunked:
		return d.state == chunkEnd
	default:
		return d.eof
	}
}

// Trailers returns the trailer fields of a finished chunked body.
func (d *Decoder) Trailers() http.Header { return d.trailers }

func (d *Decoder) String() string {
	switch d.kind {
	case decodeLength:
		return fmt.Sprintf("Length(%d)", d.remaining)
	case decodeChunked:
		return "Chunked"
	default:
		return "Eof"
	}
}

// Decode returns the next piece of body data. An empty result with a nil
// error means the body is finished.
func (d *Decoder) Decode(b *Buffered) ([]byte, error) {
	switch d.kind {
	case decodeLength:
		if d.remaining == 0 {
			return nil, nil
		}
		data, err := b.readMem(int(min(d.remaining, math.MaxInt)))
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, newIncompleteMsg(fmt.Sprintf("unexpected EOF, expected %d more bytes", d.remaining))
		}
		d.remaining -= uint64(len(data))
		return data, nil
	case decodeChunked:
		return d.decodeChunked(b)
	default:
		if d.eof {
			return nil, nil
		}
		data, err := b.readMem(math.MaxInt)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			d.eof = true
		}
		return data, nil
	}
}

func (d *Decoder) decodeChunked(b *Buffered) ([]byte, error) {
	for {
		switch d.state {
		case chunkSize:
			line, err := b.readLine(maxChunkLine)
			if err != nil {
				return nil, err
			}
			size, err := parseChunkSize(line)
			if err != nil {
				return nil, err
			}
			if size == 0 {
				d.state = chunkTrailer
			} else {
				d.remaining = size
				d.state = chunkBody
			}
		case chunkBody:
			data, err := b.readMem(int(min(d.remaining, math.MaxInt)))
			if err != nil {
				return nil, err
			}
			if len(data) == 0 {
				return nil, newIncompleteMsg("connection closed inside a chunk")
			}
			d.remaining -= uint64(len(data))
			if d.remaining == 0 {
				d.state = chunkBodyEnd
			}
			return data, nil
		case chunkBodyEnd:
			line, err := b.readLine(maxChunkLine)
			if err != nil {
				return nil, err
			}
			if len(line) != 0 {
				return nil, errInvalidChunkEnd
			}
			d.state = chunkSize
		case chunkTrailer:
			line, err := b.readLine(maxChunkLine)
			if err != nil {
				return nil, err
			}
			if len(line) == 0 {
				d.state = chunkEnd
				return nil, nil
			}
			if err := d.addTrailer(line); err != nil {
				return nil, err
			}
		case chunkEnd:
			return nil, nil
		}
	}
}

// parseChunkSize reads the hex size and ignores any chunk extensions.
func parseChunkSize(line []byte) (uint64, error) {
	if i := bytes.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = bytes.TrimRight(line, " \t")
	if len(line) == 0 || len(line) > 16 {
		return 0, errInvalidChunkSize
	}
	n, err := strconv.ParseUint(string(line), 16, 64)
	if err != nil {
		return 0, errInvalidChunkSize
	}
	return n, nil
}

func (d *Decoder) addTrailer(line []byte) error {
	name, value, ok := strings.Cut(string(line), ":")
	if !ok || !httpguts.ValidHeaderFieldName(name) {
		return errInvalidTrailer
	}
	value = strings.Trim(value, " \t")
	if !httpguts.ValidHeaderFieldValue(value) {
		return errInvalidTrailer
	}
	if d.trailers == nil {
		d.trailers = make(http.Header)
	}
	if d.maxTrailers > 0 && len(d.trailers) >= d.maxTrailers {
		return errTooManyTrailers
	}
	d.trailers.Add(name, value)
	return nil
}
