package h1

import (
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

type serverRole struct{}

func (serverRole) Name() string                { return "server" }
func (serverRole) IsClient() bool              { return false }
func (serverRole) ShouldReadFirst() bool       { return true }
func (serverRole) ShouldErrorOnParseEOF() bool { return false }

// Parse parses a request head. Empty lines before the request line are
// skipped.
func (serverRole) Parse(buf []byte, ctx *ParseContext) (*ParsedMessage, int, error) {
	skip := 0
	for skip < len(buf) && (buf[skip] == '\r' || buf[skip] == '\n') {
		skip++
	}
	lines, n, ok := headLines(buf[skip:])
	if !ok {
		return incompleteHead(buf[skip:], ctx, true)
	}

	method, target, version, err := parseRequestLine(string(lines[0]))
	if err != nil {
		return nil, 0, err
	}
	h := takeHeaders(ctx.CachedHeaders)
	if err := parseHeaderFields(lines[1:], h, ctx.MaxHeaders); err != nil {
		return nil, 0, err
	}

	msg := &ParsedMessage{
		Head:      &MessageHead{Version: version, Method: method, Target: target, Header: h},
		Decode:    LengthZero,
		KeepAlive: keepAliveHint(version, h),
	}
	if te, ok := h["Transfer-Encoding"]; ok {
		if version == HTTP10 {
			return nil, 0, newParseError(ParseHeaderTransferEncodingUnexpected, "")
		}
		if !transferEncodingIsChunked(te) {
			return nil, 0, newParseError(ParseHeaderTransferEncoding, "")
		}
		msg.Decode = LengthChunked
		if _, both := h["Content-Length"]; both {
			// Ambiguous framing: honour chunked, then close.
			msg.KeepAlive = false
		}
	} else if cl, ok := h["Content-Length"]; ok {
		n, valid := contentLength(cl)
		if !valid {
			return nil, 0, newParseError(ParseHeaderContentLength, "")
		}
		msg.Decode = DecodedLength(n)
	}

	if version == HTTP11 && strings.EqualFold(h.Get("Expect"), "100-continue") {
		msg.ExpectContinue = true
	}
	if method == http.MethodConnect ||
		(version == HTTP11 && h.Get("Upgrade") != "" && connectionUpgrade(h)) {
		msg.WantsUpgrade = true
	}
	if ctx.ReqMethod != nil {
		*ctx.ReqMethod = method
	}
	return msg, skip + n, nil
}

func parseRequestLine(line string) (method, target string, v Version, err error) {
	method, rest, ok := strings.Cut(line, " ")
	if !ok || !httpguts.ValidHeaderFieldName(method) {
		return "", "", 0, newParseError(ParseMethod, "")
	}
	target, proto, ok := strings.Cut(rest, " ")
	if !ok || !validTarget(target) {
		return "", "", 0, newParseError(ParseURI, "")
	}
	v, ok = parseVersion(proto)
	if !ok {
		return "", "", 0, newParseError(ParseVersion, "")
	}
	return method, target, v, nil
}

func validTarget(t string) bool {
	if t == "" {
		return false
	}
	for i := 0; i < len(t); i++ {
		if t[i] <= ' ' || t[i] == 0x7f {
			return false
		}
	}
	return true
}

// Encode writes a status line and the response header block.
func (serverRole) Encode(dst []byte, ctx *EncodeContext) ([]byte, *Encoder, error) {
	head := ctx.Head
	if head.Header == nil {
		head.Header = make(http.Header)
	}
	h := head.Header
	status := head.Status
	if status == 0 {
		status = http.StatusOK
	}
	if status < 100 || status > 999 {
		return dst, nil, newUserError("invalid status code " + strconv.Itoa(status))
	}
	reason := head.Reason
	if reason == "" {
		reason = http.StatusText(status)
	}

	var method string
	if ctx.ReqMethod != nil {
		method = *ctx.ReqMethod
	}

	var f framing
	switch {
	case status/100 == 1 || status == http.StatusNoContent ||
		(method == http.MethodConnect && status/100 == 2):
		h.Del("Content-Length")
		h.Del("Transfer-Encoding")
		f.enc = newLengthEncoder(0)
	case status == http.StatusNotModified || method == http.MethodHead:
		// Framing headers describe the body that would have been sent.
		f.enc = newLengthEncoder(0)
		if _, ok := h["Content-Length"]; !ok && ctx.Body > 0 {
			f.extra = append(f.extra, headerLine{"Content-Length", strconv.FormatInt(int64(ctx.Body), 10)})
		}
	default:
		var err error
		f, err = bodyFraming(h, ctx.Body, head.Version, true, true)
		if err != nil {
			return dst, nil, err
		}
	}

	keepAlive := ctx.KeepAlive && !connectionClose(h) && !f.enc.IsCloseDelimited()
	if !keepAlive {
		if head.Version == HTTP11 && !connectionClose(h) {
			f.extra = append(f.extra, headerLine{"Connection", "close"})
		}
		f.enc.setLast(true)
	}
	if ctx.DateHeader && ctx.Now != nil && h.Get("Date") == "" {
		f.extra = append(f.extra, headerLine{"Date", ctx.Now()})
	}

	out := append(dst, head.Version.String()...)
	out = append(out, ' ')
	out = strconv.AppendInt(out, int64(status), 10)
	out = append(out, ' ')
	out = append(out, reason...)
	out = append(out, "\r\n"...)
	out, err := finishHead(out, h, f.extra, ctx.TitleCaseHeaders)
	if err != nil {
		return dst, nil, err
	}
	return out, f.enc, nil
}

// OnError maps head parse failures to the response that reports them.
func (serverRole) OnError(err error) *MessageHead {
	e, ok := kindOf(err)
	if !ok || e.Kind != KindParse {
		return nil
	}
	var status int
	switch e.Parse {
	case ParseMethod, ParseURI, ParseVersion, ParseHeaderToken,
		ParseHeaderContentLength, ParseHeaderTransferEncoding, ParseHeaderTransferEncodingUnexpected:
		status = http.StatusBadRequest
	case ParseTooLarge:
		status = http.StatusRequestHeaderFieldsTooLarge
	case ParseURITooLong:
		status = http.StatusRequestURITooLong
	default:
		return nil
	}
	return &MessageHead{Version: HTTP11, Status: status, Header: make(http.Header)}
}
