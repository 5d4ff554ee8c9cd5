package h1

import (
	"bytes"
	"errors"
	"io"
	"net"
	"os"
)

const (
	initBufferSize = 8192
	// MinBufferSize is the smallest max buffer size a Conn accepts.
	MinBufferSize = 8192
	// DefaultMaxBufferSize is 8 KiB plus room for 100 4 KiB header lines.
	DefaultMaxBufferSize = 8192 + 4096*100
	maxBufListBufs       = 16
)

// WriteStrategy selects how outgoing bytes are staged before a flush.
type WriteStrategy uint8

const (
	// WriteFlatten copies every outgoing byte into one contiguous buffer.
	WriteFlatten WriteStrategy = iota
	// WriteQueue keeps body chunks as separate buffers and flushes them with
	// a vectored write.
	WriteQueue
)

func (s WriteStrategy) String() string {
	if s == WriteQueue {
		return "queue"
	}
	return "flatten"
}

// readStrategy decides how much to ask the stream for on each read.
type readStrategy struct {
	adaptive    bool
	next        int
	max         int
	decreaseNow bool
}

func newAdaptiveStrategy(limit int) readStrategy {
	return readStrategy{adaptive: true, next: min(initBufferSize, limit), max: limit}
}

func newExactStrategy(n int) readStrategy {
	return readStrategy{next: n, max: n}
}

// record grows the next read size after a read filled it completely, and
// shrinks it after two consecutive reads that used less than half.
func (s *readStrategy) record(n int) {
	if !s.adaptive {
		return
	}
	if n >= s.next {
		s.next = min(s.next*2, s.max)
		s.decreaseNow = false
		return
	}
	if n < s.next/2 && s.next > initBufferSize {
		if s.decreaseNow {
			s.next = max(s.next/2, initBufferSize)
			s.decreaseNow = false
		} else {
			s.decreaseNow = true
		}
		return
	}
	s.decreaseNow = false
}

// writeBuf stages outgoing bytes. headers always flushes first; in queue
// mode body chunks follow as separate buffers.
type writeBuf struct {
	headers  []byte
	pos      int // flushed prefix of headers
	queue    [][]byte
	queued   int
	strategy WriteStrategy
	max      int
}

// buffer appends b. In queue mode b is retained until flushed and must not
// be modified by the caller in the meantime.
func (w *writeBuf) buffer(b []byte) {
	if len(b) == 0 {
		return
	}
	if w.strategy == WriteQueue {
		w.queue = append(w.queue, b)
		w.queued += len(b)
		return
	}
	w.headers = append(w.headers, b...)
}

func (w *writeBuf) remaining() int {
	return len(w.headers) - w.pos + w.queued
}

func (w *writeBuf) canBuffer() bool {
	if w.strategy == WriteQueue {
		return len(w.queue) < maxBufListBufs && w.remaining() < w.max
	}
	return len(w.headers)-w.pos < w.max
}

// Buffered is the Transport Buffer: a duplex stream with a read buffer that
// the head parser and body decoders consume from, and a staged write side.
type Buffered struct {
	stream  io.ReadWriter
	readBuf []byte
	rs      readStrategy
	write   writeBuf

	bytesRead    int64
	bytesWritten int64
}

func newBuffered(stream io.ReadWriter, opts Options) *Buffered {
	b := &Buffered{
		stream: stream,
		write:  writeBuf{strategy: opts.WriteStrategy, max: opts.MaxBufSize},
	}
	if opts.ReadBufExactSize > 0 {
		b.rs = newExactStrategy(opts.ReadBufExactSize)
	} else {
		b.rs = newAdaptiveStrategy(opts.MaxBufSize)
	}
	return b
}

// ReadBuf returns the buffered, unconsumed bytes.
func (b *Buffered) ReadBuf() []byte { return b.readBuf }

func (b *Buffered) consume(n int) {
	b.readBuf = b.readBuf[n:]
}

// consumeLeadingLines drops any CR or LF bytes at the front of the read
// buffer. Peers may send empty lines between pipelined messages.
func (b *Buffered) consumeLeadingLines() {
	i := 0
	for i < len(b.readBuf) && (b.readBuf[i] == '\r' || b.readBuf[i] == '\n') {
		i++
	}
	b.consume(i)
}

// readFromIO reads once from the stream into the spare capacity behind the
// buffered bytes. A clean EOF is reported as (0, nil). A deadline timeout
// is reported as ErrPending.
//
// Bytes before the current read position are never written again, so
// slices handed out by readMem stay valid.
func (b *Buffered) readFromIO() (int, error) {
	want := b.rs.next
	if cap(b.readBuf)-len(b.readBuf) < want {
		grown := make([]byte, len(b.readBuf), len(b.readBuf)+want)
		copy(grown, b.readBuf)
		b.readBuf = grown
	}
	start := len(b.readBuf)
	n, err := b.stream.Read(b.readBuf[start : start+want])
	if n > 0 {
		b.readBuf = b.readBuf[:start+n]
		b.bytesRead += int64(n)
		b.rs.record(n)
		return n, nil
	}
	switch {
	case err == nil || errors.Is(err, io.EOF):
		return 0, nil
	case isTimeout(err):
		return 0, ErrPending
	default:
		return 0, err
	}
}

// fill is readFromIO with stream failures reported as KindIO errors, so a
// body decoder's caller can tell them from malformed framing.
func (b *Buffered) fill() (int, error) {
	n, err := b.readFromIO()
	if err != nil && !errors.Is(err, ErrPending) {
		return 0, newIOError(err)
	}
	return n, err
}

// readMem returns up to n buffered bytes, reading from the stream first
// when nothing is buffered. An empty result means the peer closed.
func (b *Buffered) readMem(n int) ([]byte, error) {
	if len(b.readBuf) == 0 {
		if _, err := b.fill(); err != nil {
			return nil, err
		}
	}
	n = min(n, len(b.readBuf))
	out := b.readBuf[:n:n]
	b.consume(n)
	return out, nil
}

// readLine returns the next LF-terminated line without its line ending.
// A line longer than limit is an error.
func (b *Buffered) readLine(limit int) ([]byte, error) {
	for {
		if i := bytes.IndexByte(b.readBuf, '\n'); i >= 0 {
			line := b.readBuf[:i]
			b.consume(i + 1)
			return bytes.TrimSuffix(line, []byte{'\r'}), nil
		}
		if len(b.readBuf) > limit {
			return nil, errLineTooLong
		}
		n, err := b.fill()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, newIncompleteMsg("connection closed inside a chunk header")
		}
	}
}

var errLineTooLong = errors.New("chunk line is too long")

// parseHead runs parse over the read buffer, reading more bytes until a
// complete head is available.
func (b *Buffered) parseHead(role Role, ctx *ParseContext) (*ParsedMessage, error) {
	for {
		if len(b.readBuf) > 0 {
			msg, n, err := role.Parse(b.readBuf, ctx)
			if err != nil {
				return nil, err
			}
			// n may be non-zero without a message when interim heads were skipped.
			b.consume(n)
			if msg != nil {
				return msg, nil
			}
			if len(b.readBuf) >= b.rs.max {
				return nil, newParseError(ParseTooLarge, "")
			}
		}
		n, err := b.fill()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, newIncomplete()
		}
	}
}

func (b *Buffered) headersBuf() *[]byte { return &b.write.headers }

func (b *Buffered) canHeadersBuf() bool {
	return len(b.write.queue) == 0
}

func (b *Buffered) canBuffer() bool { return b.write.canBuffer() }

func (b *Buffered) buffer(p []byte) { b.write.buffer(p) }

// Flush writes every staged byte. A deadline timeout leaves the unwritten
// remainder staged and returns ErrPending.
func (b *Buffered) Flush() error {
	w := &b.write
	if w.strategy == WriteQueue && len(w.queue) > 0 {
		return b.flushQueue()
	}
	for w.pos < len(w.headers) {
		n, err := b.stream.Write(w.headers[w.pos:])
		b.bytesWritten += int64(n)
		w.pos += n
		if err != nil {
			if isTimeout(err) {
				return ErrPending
			}
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	w.headers = w.headers[:0]
	w.pos = 0
	return nil
}

func (b *Buffered) flushQueue() error {
	w := &b.write
	bufs := make(net.Buffers, 0, len(w.queue)+1)
	if w.pos < len(w.headers) {
		bufs = append(bufs, w.headers[w.pos:])
	}
	bufs = append(bufs, w.queue...)
	var err error
	for len(bufs) > 0 && err == nil {
		var n int64
		n, err = bufs.WriteTo(b.stream)
		b.bytesWritten += n
		if n == 0 && err == nil {
			err = io.ErrShortWrite
		}
	}

	// Unwritten head bytes move into the queue, so the head buffer is
	// released rather than reused.
	w.headers = nil
	w.pos = 0
	w.queue = append(w.queue[:0], bufs...)
	w.queued = 0
	for _, p := range bufs {
		w.queued += len(p)
	}
	if err != nil {
		if isTimeout(err) {
			return ErrPending
		}
		return err
	}
	return nil
}

// intoInner returns the stream and any bytes read but not consumed.
func (b *Buffered) intoInner() (io.ReadWriter, []byte) {
	return b.stream, b.readBuf
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
