package h1

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"example.com/h1conn/internal/logger"
	"example.com/h1conn/internal/upgrade"
)

var continueResponse = []byte("HTTP/1.1 100 Continue\r\n\r\n")

// Conn drives one HTTP/1 connection through any number of request/response
// transactions. It owns the stream and is not safe for concurrent use.
//
// Operations block on the stream. When the stream is a net.Conn with a
// deadline set, an expired deadline surfaces as ErrPending and every
// operation can be retried later without losing buffered state.
type Conn struct {
	io    *Buffered
	state state
	role  Role
	opts  Options
	log   *logger.Logger

	txn  transaction
	mark struct{ read, written int64 }
}

// transaction is the access log record being built for the in-flight
// exchange.
type transaction struct {
	active  bool
	start   time.Time
	method  string
	target  string
	status  int
	version Version
}

// NewConn wraps stream. lg may be nil.
func NewConn(stream io.ReadWriter, role Role, lg *logger.Logger, opts Options) *Conn {
	opts = opts.normalize()
	c := &Conn{
		io:    newBuffered(stream, opts),
		state: newState(role, lg, opts),
		role:  role,
		opts:  opts,
		log:   lg,
	}
	c.state.onTransactionEnd = c.endTransaction
	return c
}

func (c *Conn) beginTransaction() {
	if !c.txn.active {
		c.txn = transaction{active: true, start: c.opts.Now()}
	}
}

func (c *Conn) endTransaction(reused bool) {
	if !c.txn.active {
		return
	}
	c.log.Access(logger.AccessEntry{
		Role:         c.role.Name(),
		Method:       c.txn.method,
		Target:       c.txn.target,
		Status:       c.txn.status,
		Version:      c.txn.version.String(),
		KeepAlive:    reused,
		BytesRead:    c.io.bytesRead - c.mark.read,
		BytesWritten: c.io.bytesWritten - c.mark.written,
		Duration:     c.opts.Now().Sub(c.txn.start),
	})
	c.mark.read, c.mark.written = c.io.bytesRead, c.io.bytesWritten
	c.txn = transaction{}
}

func (c *Conn) recordHead(head *MessageHead, outgoing bool) {
	c.beginTransaction()
	c.txn.version = head.Version
	// A request is incoming on a server and outgoing on a client.
	if outgoing == c.role.IsClient() {
		c.txn.method, c.txn.target = head.Method, head.Target
	} else {
		c.txn.status = head.Status
		if c.txn.status == 0 {
			c.txn.status = http.StatusOK
		}
	}
}

// ReadBuf returns the bytes read from the stream and not yet consumed.
func (c *Conn) ReadBuf() []byte { return c.io.ReadBuf() }

// IsReadClosed reports whether the read side is closed.
func (c *Conn) IsReadClosed() bool { return c.state.isReadClosed() }

// IsWriteClosed reports whether the write side is closed.
func (c *Conn) IsWriteClosed() bool { return c.state.isWriteClosed() }

// CanReadHead reports whether ReadHead may be called. A server may read a
// new request head only once the write side has left Init, so requests are
// answered in order.
func (c *Conn) CanReadHead() bool {
	if _, ok := c.state.reading.(readInit); !ok {
		return false
	}
	if c.role.ShouldReadFirst() {
		return true
	}
	_, wInit := c.state.writing.(writeInit)
	return !wInit
}

// CanReadBody reports whether ReadBody may be called.
func (c *Conn) CanReadBody() bool {
	switch c.state.reading.(type) {
	case readBody, readContinue:
		return true
	}
	return false
}

// ReadHead reads the next message head. It returns (nil, io.EOF) when the
// peer closed an idle connection. ErrPending means either that the stream is
// not ready or that a parse error was answered with a queued error response;
// in the latter case TakeError returns the parse error.
func (c *Conn) ReadHead() (*Incoming, error) {
	if !c.CanReadHead() {
		panic("h1: ReadHead called in state " + c.state.String())
	}
	msg, err := c.io.parseHead(c.role, &ParseContext{
		CachedHeaders: &c.state.cachedHeaders,
		ReqMethod:     &c.state.method,
		MaxHeaders:    c.opts.MaxHeaders,
		MaxBufSize:    c.io.rs.max,
	})
	if errors.Is(err, ErrPending) {
		return nil, ErrPending
	}
	if err != nil {
		return nil, c.onReadHeadError(err)
	}

	c.state.busy()
	c.state.keepAlive.and(msg.KeepAlive)
	c.state.version = msg.Head.Version
	c.state.trailers = nil
	c.recordHead(msg.Head, false)

	var wants Wants
	if msg.WantsUpgrade {
		wants |= WantsUpgrade
	}
	switch {
	case msg.Decode == LengthZero:
		c.state.reading = readKeepAlive{}
		if !c.role.ShouldReadFirst() {
			c.tryKeepAlive()
		}
	case msg.ExpectContinue && msg.Head.Version == HTTP11:
		c.state.reading = readContinue{dec: newDecoder(msg.Decode, c.opts.MaxHeaders)}
		wants |= WantsExpect
	default:
		c.state.reading = readBody{dec: newDecoder(msg.Decode, c.opts.MaxHeaders)}
	}
	c.state.allowTrailerFields = msg.Head.Header.Get("Te") == "trailers"
	c.state.debug("head parsed")

	return &Incoming{Head: msg.Head, Body: msg.Decode, Wants: wants}, nil
}

func (c *Conn) onReadHeadError(err error) error {
	if _, ok := err.(*Error); !ok {
		err = newIOError(err)
	}
	if IsIO(err) {
		c.log.Debug("head read error", logger.LogFields{"role": c.role.Name(), "error": err.Error()})
		c.state.close()
		return err
	}
	// A client waiting on a response treats EOF as an error; an idle
	// connection closing is not one. Decide before closing the read side.
	mustError := c.shouldErrorOnEOF()
	c.state.closeRead()
	c.io.consumeLeadingLines()
	wasMidParse := IsParse(err) || len(c.io.ReadBuf()) > 0
	if wasMidParse || mustError {
		c.log.Debug("head parse error", logger.LogFields{
			"role":     c.role.Name(),
			"error":    err.Error(),
			"buffered": len(c.io.ReadBuf()),
		})
		if err := c.onParseError(err); err != nil {
			return err
		}
		return ErrPending
	}
	c.state.debug("read eof")
	c.state.closeWrite()
	return io.EOF
}

func (c *Conn) shouldErrorOnEOF() bool {
	return c.role.ShouldErrorOnParseEOF() && !c.state.isIdle()
}

// onParseError queues an error response when nothing has been written yet
// and keeps err for TakeError. Otherwise it returns the error to report.
func (c *Conn) onParseError(err error) error {
	if !c.CanWriteHead() {
		return err
	}
	if c.hasH2Prefix() {
		return newVersionH2()
	}
	msg := c.role.OnError(err)
	if msg == nil {
		return err
	}
	c.state.cachedHeaders = nil
	c.WriteHead(msg, BodyNone)
	c.state.err = err
	return nil
}

func (c *Conn) hasH2Prefix() bool {
	return bytes.HasPrefix(c.io.ReadBuf(), []byte(http2.ClientPreface))
}

// ReadBody returns the next piece of the incoming body, or (nil, io.EOF)
// once the body is complete. On the first call after an Expect:
// 100-continue head, "100 Continue" is queued unless a response was already
// started.
func (c *Conn) ReadBody() ([]byte, error) {
	var dec *Decoder
	switch r := c.state.reading.(type) {
	case readBody:
		dec = r.dec
	case readContinue:
		if _, ok := c.state.writing.(writeInit); ok {
			buf := c.io.headersBuf()
			*buf = append(*buf, continueResponse...)
		}
		c.state.reading = readBody{dec: r.dec}
		return c.ReadBody()
	default:
		panic("h1: ReadBody called in state " + c.state.String())
	}

	data, err := dec.Decode(c.io)
	switch {
	case errors.Is(err, ErrPending):
		return nil, ErrPending
	case IsIO(err):
		c.log.Debug("incoming body read error", logger.LogFields{"role": c.role.Name(), "error": err.Error()})
		c.state.close()
		return nil, err
	case err != nil:
		if _, ok := err.(*Error); !ok {
			err = newBodyError(err)
		}
		c.log.Debug("incoming body decode error", logger.LogFields{"role": c.role.Name(), "error": err.Error()})
		c.state.reading = readClosed{}
	case dec.IsEOF():
		c.state.reading = readKeepAlive{}
		c.state.trailers = dec.Trailers()
		c.state.debug("incoming body completed")
		if len(data) == 0 {
			err = io.EOF
		}
	case len(data) == 0:
		c.log.Error("incoming body unexpectedly ended", logger.LogFields{"role": c.role.Name()})
		c.state.reading = readClosed{}
		err = newIncompleteMsg("incoming body unexpectedly ended")
	default:
		return data, nil
	}
	c.tryKeepAlive()
	return data, err
}

// Trailers returns the trailer fields of the last chunked body read.
func (c *Conn) Trailers() http.Header { return c.state.trailers }

// ReadKeepAlive watches the read side while neither a head nor a body can
// be read. On an idle connection any byte from the peer is an unexpected
// message and EOF is a clean close. Mid-message, EOF is an incomplete
// message error.
func (c *Conn) ReadKeepAlive() error {
	if c.CanReadHead() || c.CanReadBody() {
		panic("h1: ReadKeepAlive called in state " + c.state.String())
	}
	if c.state.isReadClosed() {
		return ErrPending
	}
	if c.isMidMessage() {
		return c.midMessageDetectEOF()
	}
	return c.requireEmptyRead()
}

func (c *Conn) isMidMessage() bool {
	_, rInit := c.state.reading.(readInit)
	_, wInit := c.state.writing.(writeInit)
	return !(rInit && wInit)
}

func (c *Conn) requireEmptyRead() error {
	if n := len(c.io.ReadBuf()); n > 0 {
		c.log.Debug("received unexpected bytes", logger.LogFields{"role": c.role.Name(), "bytes": n})
		return newUnexpectedMessage()
	}
	n, err := c.forceIORead()
	if err != nil {
		return err
	}
	if n == 0 {
		var ret error
		if c.shouldErrorOnEOF() {
			ret = newIncomplete()
		}
		c.state.closeRead()
		return ret
	}
	c.log.Debug("received unexpected bytes on an idle connection", logger.LogFields{"role": c.role.Name(), "bytes": n})
	return newUnexpectedMessage()
}

func (c *Conn) midMessageDetectEOF() error {
	if c.state.allowHalfClose || len(c.io.ReadBuf()) > 0 {
		return ErrPending
	}
	n, err := c.forceIORead()
	if err != nil {
		return err
	}
	if n == 0 {
		c.state.closeRead()
		return newIncomplete()
	}
	return nil
}

func (c *Conn) forceIORead() (int, error) {
	n, err := c.io.readFromIO()
	if errors.Is(err, ErrPending) {
		return 0, ErrPending
	}
	if err != nil {
		c.state.close()
		return 0, newIOError(err)
	}
	return n, nil
}

// WantsReadAgain reports, once, that the caller should try the read path
// again even though it saw no new bytes.
func (c *Conn) WantsReadAgain() bool {
	ret := c.state.notifyRead
	c.state.notifyRead = false
	return ret
}

// maybeNotify flags a re-read when a new message may already be buffered.
// It never reads from the stream since reads block.
func (c *Conn) maybeNotify() {
	if _, ok := c.state.reading.(readInit); !ok {
		return
	}
	if _, ok := c.state.writing.(writeBody); ok {
		return
	}
	if len(c.io.ReadBuf()) > 0 {
		c.state.notifyRead = true
	}
}

func (c *Conn) tryKeepAlive() {
	c.state.tryKeepAlive()
	c.maybeNotify()
}

// CanWriteHead reports whether WriteHead may be called.
func (c *Conn) CanWriteHead() bool {
	if !c.role.ShouldReadFirst() && c.state.isReadClosed() {
		return false
	}
	if _, ok := c.state.writing.(writeInit); !ok {
		return false
	}
	return c.io.canHeadersBuf()
}

// CanWriteBody reports whether an outgoing body is in progress.
func (c *Conn) CanWriteBody() bool {
	_, ok := c.state.writing.(writeBody)
	return ok
}

// CanBufferBody reports whether the write buffer has room for more body.
func (c *Conn) CanBufferBody() bool { return c.io.canBuffer() }

// WriteHead queues head and prepares the body encoder. The Conn takes
// ownership of head.Header. An unencodable head closes the write side and
// leaves its error for TakeError.
func (c *Conn) WriteHead(head *MessageHead, body BodyLength) {
	enc := c.encodeHead(head, body)
	if enc == nil {
		return
	}
	switch {
	case !enc.IsEOF():
		c.state.writing = writeBody{enc: enc}
	case enc.IsLast():
		c.state.writing = writeClosed{}
	default:
		c.state.writing = writeKeepAlive{}
	}
}

func (c *Conn) encodeHead(head *MessageHead, body BodyLength) *Encoder {
	if !c.CanWriteHead() {
		panic("h1: WriteHead called in state " + c.state.String())
	}
	// A server may answer on an idle connection, e.g. with a 408.
	if !c.role.ShouldReadFirst() || c.state.isIdle() {
		c.state.busy()
	}
	c.enforceVersion(head)

	buf := c.io.headersBuf()
	out, enc, err := c.role.Encode(*buf, &EncodeContext{
		Head:             head,
		Body:             body,
		KeepAlive:        c.state.wantsKeepAlive(),
		ReqMethod:        &c.state.method,
		TitleCaseHeaders: c.opts.TitleCaseHeaders,
		DateHeader:       c.opts.DateHeader,
		Now:              c.opts.httpDate,
	})
	if err != nil {
		c.log.Debug("head encode error", logger.LogFields{"role": c.role.Name(), "error": err.Error()})
		c.state.err = err
		c.state.writing = writeClosed{}
		return nil
	}
	*buf = out
	c.recordHead(head, true)
	if head.Header != nil {
		clear(head.Header)
		c.state.cachedHeaders = head.Header
	}
	return enc
}

// enforceVersion answers an HTTP/1.0 peer in HTTP/1.0.
func (c *Conn) enforceVersion(head *MessageHead) {
	if c.state.version == HTTP10 {
		c.fixKeepAlive(head)
		head.Version = HTTP10
	}
}

// fixKeepAlive repairs Connection headers for a peer that spoke HTTP/1.0.
func (c *Conn) fixKeepAlive(head *MessageHead) {
	if head.Header != nil && connectionKeepAlive(head.Header) {
		return
	}
	switch head.Version {
	case HTTP10:
		c.state.disableKeepAlive()
	case HTTP11:
		if c.state.wantsKeepAlive() {
			if head.Header == nil {
				head.Header = make(http.Header)
			}
			head.Header.Set("Connection", "keep-alive")
		}
	}
}

func (c *Conn) bodyEncoder(op string) *Encoder {
	w, ok := c.state.writing.(writeBody)
	if !ok {
		panic("h1: " + op + " called in state " + c.state.String())
	}
	return w.enc
}

// bufferingEncoder is bodyEncoder for calls that add body bytes to the
// write buffer, which must have room for them.
func (c *Conn) bufferingEncoder(op string) *Encoder {
	enc := c.bodyEncoder(op)
	if !c.CanBufferBody() {
		panic("h1: " + op + " called with a full write buffer")
	}
	return enc
}

// WriteBody queues a non-empty chunk of the outgoing body.
func (c *Conn) WriteBody(chunk []byte) {
	enc := c.bufferingEncoder("WriteBody")
	if len(chunk) == 0 {
		panic("h1: WriteBody called with an empty chunk")
	}
	enc.encode(chunk, &c.io.write)
	if !enc.IsEOF() {
		return
	}
	if enc.IsLast() {
		c.state.writing = writeClosed{}
	} else {
		c.state.writing = writeKeepAlive{}
	}
}

// WriteBodyAndEnd queues the final, non-empty chunk of the outgoing body.
func (c *Conn) WriteBodyAndEnd(chunk []byte) {
	enc := c.bufferingEncoder("WriteBodyAndEnd")
	if len(chunk) == 0 {
		panic("h1: WriteBodyAndEnd called with an empty chunk")
	}
	if enc.encodeAndEnd(chunk, &c.io.write) {
		c.state.writing = writeKeepAlive{}
	} else {
		c.state.writing = writeClosed{}
	}
}

// WriteTrailers ends a chunked body with trailer fields. A server sends
// trailers only when the request carried "TE: trailers"; otherwise the call
// is ignored. Bodies that are not chunked are left untouched.
func (c *Conn) WriteTrailers(trailers http.Header) error {
	if !c.role.IsClient() && !c.state.allowTrailerFields {
		c.log.Debug("trailers not allowed to be sent", logger.LogFields{"role": c.role.Name()})
		return nil
	}
	enc := c.bodyEncoder("WriteTrailers")
	buf, err := enc.encodeTrailers(trailers, c.opts.TitleCaseHeaders)
	if err != nil {
		return err
	}
	if buf == nil {
		return nil
	}
	c.io.buffer(buf)
	c.state.writing = c.endedWriting(enc)
	return nil
}

func (c *Conn) endedWriting(enc *Encoder) writing {
	if enc.IsLast() || enc.IsCloseDelimited() {
		return writeClosed{}
	}
	return writeKeepAlive{}
}

// EndBody finishes the outgoing body. Ending a fixed-length body early is a
// KindBodyWrite error caused by a body-write-aborted one, and closes the
// write side. It is a no-op when no
// body is being written.
func (c *Conn) EndBody() error {
	w, ok := c.state.writing.(writeBody)
	if !ok {
		return nil
	}
	end, err := w.enc.end()
	if err != nil {
		c.state.writing = writeClosed{}
		return newBodyWriteError(newBodyWriteAborted(err))
	}
	c.io.buffer(end)
	c.state.writing = c.endedWriting(w.enc)
	return nil
}

// Flush writes everything queued, then lets the connection go idle if both
// halves finished their message.
func (c *Conn) Flush() error {
	if err := c.io.Flush(); err != nil {
		if errors.Is(err, ErrPending) {
			return ErrPending
		}
		c.state.close()
		return newIOError(err)
	}
	c.tryKeepAlive()
	return nil
}

type closeWriter interface {
	CloseWrite() error
}

// Shutdown shuts the stream's write direction down, or closes the stream
// when it cannot half-close. The connection state is not changed.
func (c *Conn) Shutdown() error {
	var err error
	switch s := c.io.stream.(type) {
	case closeWriter:
		err = s.CloseWrite()
	case io.Closer:
		err = s.Close()
	}
	if err != nil {
		c.log.Debug("error shutting down IO", logger.LogFields{"role": c.role.Name(), "error": err.Error()})
		return &Error{Kind: KindShutdown, Cause: err}
	}
	return nil
}

// TakeError returns and clears the deferred error.
func (c *Conn) TakeError() error {
	err := c.state.err
	c.state.err = nil
	return err
}

// PrepareUpgrade arms the upgrade handoff and returns the side to wait on.
func (c *Conn) PrepareUpgrade() *upgrade.OnUpgrade {
	return c.state.prepareUpgrade()
}

// PendingUpgrade returns the armed handoff, once.
func (c *Conn) PendingUpgrade() *upgrade.Pending {
	p := c.state.upgrade
	c.state.upgrade = nil
	return p
}

// IntoInner releases the stream together with bytes read but not consumed.
func (c *Conn) IntoInner() (io.ReadWriter, []byte) {
	return c.io.intoInner()
}

// DisableKeepAlive closes an idle connection now, or makes the current
// transaction the last one.
func (c *Conn) DisableKeepAlive() {
	if c.state.isIdle() {
		c.state.close()
	} else {
		c.state.disableKeepAlive()
	}
}

// CloseRead closes the read side and disables keep-alive.
func (c *Conn) CloseRead() { c.state.closeRead() }

// CloseWrite closes the write side and disables keep-alive.
func (c *Conn) CloseWrite() { c.state.closeWrite() }

// DrainOrCloseRead makes one attempt to finish the incoming body without
// sending "100 Continue", and closes the read side if that was not enough.
func (c *Conn) DrainOrCloseRead() {
	if r, ok := c.state.reading.(readContinue); ok {
		c.state.reading = readBody{dec: r.dec}
	}
	if c.CanReadBody() {
		_, _ = c.ReadBody()
	}
	switch c.state.reading.(type) {
	case readInit, readKeepAlive:
		c.state.debug("body drained")
	default:
		c.CloseRead()
	}
}

// IsIdle reports whether the connection sits between transactions.
func (c *Conn) IsIdle() bool { return c.state.isIdle() }

func (c *Conn) String() string { return c.state.String() }
