package h1

import (
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

type clientRole struct{}

func (clientRole) Name() string                { return "client" }
func (clientRole) IsClient() bool              { return true }
func (clientRole) ShouldReadFirst() bool       { return false }
func (clientRole) ShouldErrorOnParseEOF() bool { return true }

// Parse parses a response head. Interim 1xx responses other than
// 101 Switching Protocols are consumed and skipped.
func (clientRole) Parse(buf []byte, ctx *ParseContext) (*ParsedMessage, int, error) {
	consumed := 0
	for {
		lines, n, ok := headLines(buf[consumed:])
		if !ok {
			msg, _, err := incompleteHead(buf[consumed:], ctx, false)
			return msg, consumed, err
		}
		version, status, reason, err := parseStatusLine(string(lines[0]))
		if err != nil {
			return nil, consumed, err
		}
		if status/100 == 1 && status != http.StatusSwitchingProtocols {
			consumed += n
			continue
		}

		h := takeHeaders(ctx.CachedHeaders)
		if err := parseHeaderFields(lines[1:], h, ctx.MaxHeaders); err != nil {
			return nil, consumed, err
		}
		msg := &ParsedMessage{
			Head:      &MessageHead{Version: version, Status: status, Reason: reason, Header: h},
			Decode:    LengthZero,
			KeepAlive: keepAliveHint(version, h),
		}
		if err := frameResponse(msg, ctx); err != nil {
			return nil, consumed, err
		}
		return msg, consumed + n, nil
	}
}

// frameResponse decides how the response body is delimited. It depends on
// the method of the request the response answers.
func frameResponse(msg *ParsedMessage, ctx *ParseContext) error {
	var method string
	if ctx.ReqMethod != nil {
		method = *ctx.ReqMethod
	}
	head := msg.Head
	h := head.Header
	switch {
	case head.Status == http.StatusSwitchingProtocols:
		msg.WantsUpgrade = true
	case method == http.MethodConnect && head.Status/100 == 2:
		msg.WantsUpgrade = true
	case method == http.MethodHead || head.Status == http.StatusNoContent || head.Status == http.StatusNotModified:
	case len(h["Transfer-Encoding"]) > 0:
		if head.Version == HTTP10 {
			return newParseError(ParseHeaderTransferEncodingUnexpected, "")
		}
		if transferEncodingIsChunked(h["Transfer-Encoding"]) {
			msg.Decode = LengthChunked
		} else {
			msg.Decode = LengthCloseDelimited
			msg.KeepAlive = false
		}
	case len(h["Content-Length"]) > 0:
		n, ok := contentLength(h["Content-Length"])
		if !ok {
			return newParseError(ParseHeaderContentLength, "")
		}
		msg.Decode = DecodedLength(n)
	default:
		msg.Decode = LengthCloseDelimited
		msg.KeepAlive = false
	}
	return nil
}

func parseStatusLine(line string) (Version, int, string, error) {
	proto, rest, ok := strings.Cut(line, " ")
	if !ok {
		return 0, 0, "", newParseError(ParseVersion, "")
	}
	v, ok := parseVersion(proto)
	if !ok {
		return 0, 0, "", newParseError(ParseVersion, "")
	}
	code, reason, _ := strings.Cut(rest, " ")
	if len(code) != 3 {
		return 0, 0, "", newParseError(ParseStatus, "")
	}
	status, err := strconv.Atoi(code)
	if err != nil || status < 100 {
		return 0, 0, "", newParseError(ParseStatus, "")
	}
	return v, status, reason, nil
}

// Encode writes a request line and the request header block. It records
// the method so the response can be framed.
func (clientRole) Encode(dst []byte, ctx *EncodeContext) ([]byte, *Encoder, error) {
	head := ctx.Head
	if head.Header == nil {
		head.Header = make(http.Header)
	}
	h := head.Header
	method := head.Method
	if method == "" {
		method = http.MethodGet
	}
	if !httpguts.ValidHeaderFieldName(method) {
		return dst, nil, newUserError("invalid method " + strconv.Quote(method))
	}
	target := head.Target
	if target == "" {
		target = "/"
	}
	if !validTarget(target) {
		return dst, nil, newUserError("invalid request target " + strconv.Quote(target))
	}
	if ctx.ReqMethod != nil {
		*ctx.ReqMethod = method
	}

	zeroLength := method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
	f, err := bodyFraming(h, ctx.Body, head.Version, zeroLength, false)
	if err != nil {
		return dst, nil, err
	}
	if !ctx.KeepAlive || connectionClose(h) {
		if head.Version == HTTP11 && !connectionClose(h) {
			f.extra = append(f.extra, headerLine{"Connection", "close"})
		}
		f.enc.setLast(true)
	}

	out := append(dst, method...)
	out = append(out, ' ')
	out = append(out, target...)
	out = append(out, ' ')
	out = append(out, head.Version.String()...)
	out = append(out, "\r\n"...)
	out, err = finishHead(out, h, f.extra, ctx.TitleCaseHeaders)
	if err != nil {
		return dst, nil, err
	}
	return out, f.enc, nil
}

func (clientRole) OnError(error) *MessageHead { return nil }
