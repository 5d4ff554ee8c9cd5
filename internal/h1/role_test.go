package h1

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseCtx(method *string) *ParseContext {
	var cached http.Header
	return &ParseContext{CachedHeaders: &cached, ReqMethod: method, MaxHeaders: 100, MaxBufSize: DefaultMaxBufferSize}
}

func TestServerParse(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		wantDecode    DecodedLength
		wantKeepAlive bool
		wantExpect    bool
		wantUpgrade   bool
		wantVersion   Version
	}{
		{name: "simple GET", input: "GET / HTTP/1.1\r\nHost: a\r\n\r\n", wantDecode: LengthZero, wantKeepAlive: true},
		{name: "content-length", input: "POST / HTTP/1.1\r\nContent-Length: 12\r\n\r\n", wantDecode: 12, wantKeepAlive: true},
		{name: "repeated equal content-length", input: "POST / HTTP/1.1\r\nContent-Length: 3\r\nContent-Length: 3\r\n\r\n", wantDecode: 3, wantKeepAlive: true},
		{name: "chunked", input: "POST / HTTP/1.1\r\nTransfer-Encoding: gzip, chunked\r\n\r\n", wantDecode: LengthChunked, wantKeepAlive: true},
		{name: "chunked wins over content-length", input: "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\nContent-Length: 4\r\n\r\n", wantDecode: LengthChunked, wantKeepAlive: false},
		{name: "connection close", input: "GET / HTTP/1.1\r\nConnection: close\r\n\r\n", wantKeepAlive: false},
		{name: "http/1.0 default", input: "GET / HTTP/1.0\r\n\r\n", wantKeepAlive: false, wantVersion: HTTP10},
		{name: "http/1.0 keep-alive", input: "GET / HTTP/1.0\r\nConnection: Keep-Alive\r\n\r\n", wantKeepAlive: true, wantVersion: HTTP10},
		{name: "expect continue", input: "PUT / HTTP/1.1\r\nExpect: 100-Continue\r\nContent-Length: 1\r\n\r\n", wantDecode: 1, wantKeepAlive: true, wantExpect: true},
		{name: "expect ignored on 1.0", input: "PUT / HTTP/1.0\r\nExpect: 100-continue\r\nContent-Length: 1\r\n\r\n", wantDecode: 1, wantVersion: HTTP10},
		{name: "upgrade", input: "GET / HTTP/1.1\r\nConnection: keep-alive, Upgrade\r\nUpgrade: h2c\r\n\r\n", wantKeepAlive: true, wantUpgrade: true},
		{name: "upgrade header without connection token", input: "GET / HTTP/1.1\r\nUpgrade: h2c\r\n\r\n", wantKeepAlive: true},
		{name: "connect", input: "CONNECT example.com:443 HTTP/1.1\r\n\r\n", wantKeepAlive: true, wantUpgrade: true},
		{name: "bare LF", input: "GET / HTTP/1.1\nHost: a\n\n", wantKeepAlive: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var method string
			msg, n, err := Server.Parse([]byte(tt.input), parseCtx(&method))
			require.NoError(t, err)
			require.NotNil(t, msg)
			assert.Equal(t, len(tt.input), n)
			assert.Equal(t, tt.wantDecode, msg.Decode)
			assert.Equal(t, tt.wantKeepAlive, msg.KeepAlive)
			assert.Equal(t, tt.wantExpect, msg.ExpectContinue)
			assert.Equal(t, tt.wantUpgrade, msg.WantsUpgrade)
			assert.Equal(t, tt.wantVersion, msg.Head.Version)
			assert.Equal(t, msg.Head.Method, method)
		})
	}
}

func TestServerParse_Incomplete(t *testing.T) {
	for _, input := range []string{"", "GET", "GET / HTTP/1.1\r\n", "GET / HTTP/1.1\r\nHost: a\r\n"} {
		msg, n, err := Server.Parse([]byte(input), parseCtx(nil))
		assert.NoError(t, err, input)
		assert.Nil(t, msg, input)
		assert.Zero(t, n, input)
	}
}

func TestServerParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Parse
	}{
		{name: "separator in method", input: "G(T / HTTP/1.1\r\n\r\n", want: ParseMethod},
		{name: "missing target", input: "GET\r\n\r\n", want: ParseMethod},
		{name: "control byte in target", input: "GET /a\x01b HTTP/1.1\r\n\r\n", want: ParseURI},
		{name: "unknown version", input: "GET / HTTP/2.0\r\n\r\n", want: ParseVersion},
		{name: "obs-fold", input: "GET / HTTP/1.1\r\nA: b\r\n c\r\n\r\n", want: ParseHeaderToken},
		{name: "space before colon", input: "GET / HTTP/1.1\r\nA : b\r\n\r\n", want: ParseHeaderToken},
		{name: "conflicting content-length", input: "GET / HTTP/1.1\r\nContent-Length: 1\r\nContent-Length: 2\r\n\r\n", want: ParseHeaderContentLength},
		{name: "signed content-length", input: "GET / HTTP/1.1\r\nContent-Length: +1\r\n\r\n", want: ParseHeaderContentLength},
		{name: "transfer-encoding not chunked", input: "GET / HTTP/1.1\r\nTransfer-Encoding: gzip\r\n\r\n", want: ParseHeaderTransferEncoding},
		{name: "too many headers", input: "GET / HTTP/1.1\r\n" + strings.Repeat("A: b\r\n", 101) + "\r\n", want: ParseTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Server.Parse([]byte(tt.input), parseCtx(nil))
			e, ok := kindOf(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, KindParse, e.Kind)
			assert.Equal(t, tt.want, e.Parse)
		})
	}
}

func TestServerParse_ReusesCachedHeaders(t *testing.T) {
	cached := make(http.Header, 4)
	cached.Set("Stale", "x")
	ctx := &ParseContext{CachedHeaders: &cached, MaxHeaders: 100}

	msg, _, err := Server.Parse([]byte("GET / HTTP/1.1\r\nHost: a\r\n\r\n"), ctx)
	require.NoError(t, err)
	assert.Nil(t, cached, "the cached map is handed to the message")
	assert.Equal(t, "a", msg.Head.Header.Get("Host"))
	assert.Empty(t, msg.Head.Header.Get("Stale"))
}

func TestServerOnError(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, Server.OnError(newParseError(ParseHeaderToken, "")).Status)
	assert.Equal(t, http.StatusRequestHeaderFieldsTooLarge, Server.OnError(newParseError(ParseTooLarge, "")).Status)
	assert.Equal(t, http.StatusRequestURITooLong, Server.OnError(newParseError(ParseURITooLong, "")).Status)
	assert.Nil(t, Server.OnError(newIncomplete()))
	assert.Nil(t, Client.OnError(newParseError(ParseStatus, "")))
}

func encodeHead(t *testing.T, role Role, ctx *EncodeContext) (string, *Encoder) {
	t.Helper()
	out, enc, err := role.Encode(nil, ctx)
	require.NoError(t, err)
	return string(out), enc
}

func TestServerEncode(t *testing.T) {
	tests := []struct {
		name      string
		head      MessageHead
		body      BodyLength
		keepAlive bool
		method    string
		want      string
		wantEnc   string
		wantLast  bool
	}{
		{
			name: "sized body", head: MessageHead{Status: 200}, body: 3, keepAlive: true,
			want: "HTTP/1.1 200 OK\r\ncontent-length: 3\r\n\r\n", wantEnc: "Length(3)",
		},
		{
			name: "no body", head: MessageHead{Status: 200}, body: BodyNone, keepAlive: true,
			want: "HTTP/1.1 200 OK\r\ncontent-length: 0\r\n\r\n", wantEnc: "Length(0)",
		},
		{
			name: "unknown body on 1.1 is chunked", head: MessageHead{Status: 200}, body: BodyUnknown, keepAlive: true,
			want: "HTTP/1.1 200 OK\r\ntransfer-encoding: chunked\r\n\r\n", wantEnc: "Chunked",
		},
		{
			name: "unknown body on 1.0 is close delimited", head: MessageHead{Version: HTTP10, Status: 200}, body: BodyUnknown, keepAlive: true,
			want: "HTTP/1.0 200 OK\r\n\r\n", wantEnc: "CloseDelimited", wantLast: true,
		},
		{
			name: "caller content-length wins", head: MessageHead{Status: 200, Header: http.Header{"Content-Length": {"7"}}}, body: BodyUnknown, keepAlive: true,
			want: "HTTP/1.1 200 OK\r\ncontent-length: 7\r\n\r\n", wantEnc: "Length(7)",
		},
		{
			name: "caller chunked drops content-length", head: MessageHead{Status: 200, Header: http.Header{"Transfer-Encoding": {"chunked"}, "Content-Length": {"7"}}}, body: 7, keepAlive: true,
			want: "HTTP/1.1 200 OK\r\ntransfer-encoding: chunked\r\n\r\n", wantEnc: "Chunked",
		},
		{
			name: "204 strips framing", head: MessageHead{Status: 204, Header: http.Header{"Content-Length": {"3"}}}, body: 3, keepAlive: true,
			want: "HTTP/1.1 204 No Content\r\n\r\n", wantEnc: "Length(0)",
		},
		{
			name: "304 keeps length hint", head: MessageHead{Status: 304}, body: 42, keepAlive: true,
			want: "HTTP/1.1 304 Not Modified\r\ncontent-length: 42\r\n\r\n", wantEnc: "Length(0)",
		},
		{
			name: "HEAD response has no body", head: MessageHead{Status: 200}, body: 42, keepAlive: true, method: "HEAD",
			want: "HTTP/1.1 200 OK\r\ncontent-length: 42\r\n\r\n", wantEnc: "Length(0)",
		},
		{
			name: "CONNECT 2xx has no body", head: MessageHead{Status: 200}, body: 5, keepAlive: true, method: "CONNECT",
			want: "HTTP/1.1 200 OK\r\n\r\n", wantEnc: "Length(0)",
		},
		{
			name: "closing", head: MessageHead{Status: 200}, body: 0, keepAlive: false,
			want: "HTTP/1.1 200 OK\r\ncontent-length: 0\r\nconnection: close\r\n\r\n", wantEnc: "Length(0)", wantLast: true,
		},
		{
			name: "caller connection close", head: MessageHead{Status: 200, Header: http.Header{"Connection": {"close"}}}, body: 0, keepAlive: true,
			want: "HTTP/1.1 200 OK\r\nconnection: close\r\ncontent-length: 0\r\n\r\n", wantEnc: "Length(0)", wantLast: true,
		},
		{
			name: "custom reason", head: MessageHead{Status: 599, Reason: "Odd"}, body: BodyNone, keepAlive: true,
			want: "HTTP/1.1 599 Odd\r\ncontent-length: 0\r\n\r\n", wantEnc: "Length(0)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			head := tt.head
			method := tt.method
			out, enc := encodeHead(t, Server, &EncodeContext{Head: &head, Body: tt.body, KeepAlive: tt.keepAlive, ReqMethod: &method})
			assert.Equal(t, tt.want, out)
			assert.Equal(t, tt.wantEnc, enc.String())
			assert.Equal(t, tt.wantLast, enc.IsLast())
		})
	}
}

func TestServerEncode_Errors(t *testing.T) {
	dst := []byte("keep")
	for name, head := range map[string]MessageHead{
		"bad status":            {Status: 42},
		"bad header name":       {Status: 200, Header: http.Header{"Bad Name": {"x"}}},
		"bad header value":      {Status: 200, Header: http.Header{"X": {"a\r\nb"}}},
		"non-chunked te on 1.1": {Status: 200, Header: http.Header{"Transfer-Encoding": {"gzip"}}},
		"bad content-length":    {Status: 200, Header: http.Header{"Content-Length": {"abc"}}},
	} {
		t.Run(name, func(t *testing.T) {
			out, enc, err := Server.Encode(dst, &EncodeContext{Head: &head, Body: BodyNone, KeepAlive: true})
			e, ok := kindOf(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, KindUser, e.Kind)
			assert.Nil(t, enc)
			assert.Equal(t, "keep", string(out))
		})
	}
}

func TestServerEncode_Date(t *testing.T) {
	head := MessageHead{Status: 200}
	out, _ := encodeHead(t, Server, &EncodeContext{
		Head: &head, Body: BodyNone, KeepAlive: true, DateHeader: true,
		Now: func() string { return "Mon, 01 Jan 2024 00:00:00 GMT" },
	})
	assert.Contains(t, out, "date: Mon, 01 Jan 2024 00:00:00 GMT\r\n")

	head = MessageHead{Status: 200, Header: http.Header{"Date": {"fixed"}}}
	out, _ = encodeHead(t, Server, &EncodeContext{
		Head: &head, Body: BodyNone, KeepAlive: true, DateHeader: true,
		Now: func() string { return "never" },
	})
	assert.Contains(t, out, "date: fixed\r\n")
	assert.NotContains(t, out, "never")
}

func TestClientParse(t *testing.T) {
	tests := []struct {
		name          string
		method        string
		input         string
		wantStatus    int
		wantDecode    DecodedLength
		wantKeepAlive bool
		wantUpgrade   bool
	}{
		{name: "content-length", method: "GET", input: "HTTP/1.1 200 OK\r\nContent-Length: 4\r\n\r\n", wantStatus: 200, wantDecode: 4, wantKeepAlive: true},
		{name: "chunked", method: "GET", input: "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n", wantStatus: 200, wantDecode: LengthChunked, wantKeepAlive: true},
		{name: "non-chunked te reads to close", method: "GET", input: "HTTP/1.1 200 OK\r\nTransfer-Encoding: gzip\r\n\r\n", wantStatus: 200, wantDecode: LengthCloseDelimited},
		{name: "no framing reads to close", method: "GET", input: "HTTP/1.1 200 OK\r\n\r\n", wantStatus: 200, wantDecode: LengthCloseDelimited},
		{name: "HEAD ignores framing", method: "HEAD", input: "HTTP/1.1 200 OK\r\nContent-Length: 9\r\n\r\n", wantStatus: 200, wantKeepAlive: true},
		{name: "204", method: "GET", input: "HTTP/1.1 204 No Content\r\n\r\n", wantStatus: 204, wantKeepAlive: true},
		{name: "304", method: "GET", input: "HTTP/1.1 304 Not Modified\r\nContent-Length: 9\r\n\r\n", wantStatus: 304, wantKeepAlive: true},
		{name: "101", method: "GET", input: "HTTP/1.1 101 Switching Protocols\r\nUpgrade: x\r\n\r\n", wantStatus: 101, wantKeepAlive: true, wantUpgrade: true},
		{name: "CONNECT established", method: "CONNECT", input: "HTTP/1.1 200 Connection Established\r\n\r\n", wantStatus: 200, wantKeepAlive: true, wantUpgrade: true},
		{name: "1.0 closes by default", method: "GET", input: "HTTP/1.0 200 OK\r\nContent-Length: 1\r\n\r\n", wantStatus: 200, wantDecode: 1},
		{name: "no reason phrase", method: "GET", input: "HTTP/1.1 200\r\nContent-Length: 0\r\n\r\n", wantStatus: 200, wantKeepAlive: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			msg, n, err := Client.Parse([]byte(tt.input), parseCtx(&method))
			require.NoError(t, err)
			require.NotNil(t, msg)
			assert.Equal(t, len(tt.input), n)
			assert.Equal(t, tt.wantStatus, msg.Head.Status)
			assert.Equal(t, tt.wantDecode, msg.Decode)
			assert.Equal(t, tt.wantKeepAlive, msg.KeepAlive)
			assert.Equal(t, tt.wantUpgrade, msg.WantsUpgrade)
		})
	}
}

func TestClientParse_SkipsInterim(t *testing.T) {
	method := "GET"
	interim := "HTTP/1.1 100 Continue\r\n\r\nHTTP/1.1 103 Early Hints\r\nLink: </a>\r\n\r\n"

	msg, n, err := Client.Parse([]byte(interim+"HTTP/1.1 20"), parseCtx(&method))
	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.Equal(t, len(interim), n, "interim heads are consumed even without a final head")

	msg, n, err = Client.Parse([]byte(interim+"HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"), parseCtx(&method))
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, 200, msg.Head.Status)
	assert.Equal(t, len(interim)+len("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"), n)
}

func TestClientParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Parse
	}{
		{name: "bad version", input: "HTTP/9 200 OK\r\n\r\n", want: ParseVersion},
		{name: "short status", input: "HTTP/1.1 20 OK\r\n\r\n", want: ParseStatus},
		{name: "non-numeric status", input: "HTTP/1.1 abc OK\r\n\r\n", want: ParseStatus},
		{name: "te on 1.0", input: "HTTP/1.0 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n", want: ParseHeaderTransferEncodingUnexpected},
		{name: "bad content-length", input: "HTTP/1.1 200 OK\r\nContent-Length: x\r\n\r\n", want: ParseHeaderContentLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := "GET"
			_, _, err := Client.Parse([]byte(tt.input), parseCtx(&method))
			e, ok := kindOf(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, tt.want, e.Parse)
		})
	}
}

func TestClientEncode(t *testing.T) {
	tests := []struct {
		name      string
		head      MessageHead
		body      BodyLength
		keepAlive bool
		want      string
		wantEnc   string
		wantLast  bool
	}{
		{
			name: "defaults", head: MessageHead{}, body: BodyNone, keepAlive: true,
			want: "GET / HTTP/1.1\r\n\r\n", wantEnc: "Length(0)",
		},
		{
			name: "POST without body says so", head: MessageHead{Method: "POST", Target: "/f"}, body: BodyNone, keepAlive: true,
			want: "POST /f HTTP/1.1\r\ncontent-length: 0\r\n\r\n", wantEnc: "Length(0)",
		},
		{
			name: "streaming upload", head: MessageHead{Method: "PUT", Target: "/f"}, body: BodyUnknown, keepAlive: true,
			want: "PUT /f HTTP/1.1\r\ntransfer-encoding: chunked\r\n\r\n", wantEnc: "Chunked",
		},
		{
			name: "closing", head: MessageHead{Method: "GET", Target: "/"}, body: BodyNone, keepAlive: false,
			want: "GET / HTTP/1.1\r\nconnection: close\r\n\r\n", wantEnc: "Length(0)", wantLast: true,
		},
		{
			name: "1.0 request", head: MessageHead{Version: HTTP10, Method: "GET", Target: "/"}, body: 2, keepAlive: false,
			want: "GET / HTTP/1.0\r\ncontent-length: 2\r\n\r\n", wantEnc: "Length(2)", wantLast: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			head := tt.head
			var method string
			out, enc := encodeHead(t, Client, &EncodeContext{Head: &head, Body: tt.body, KeepAlive: tt.keepAlive, ReqMethod: &method})
			assert.Equal(t, tt.want, out)
			assert.Equal(t, tt.wantEnc, enc.String())
			assert.Equal(t, tt.wantLast, enc.IsLast())
			assert.NotEmpty(t, method)
		})
	}
}

func TestClientEncode_Errors(t *testing.T) {
	for name, head := range map[string]MessageHead{
		"bad method":         {Method: "G T"},
		"bad target":         {Target: "/a b"},
		"1.0 streaming body": {Version: HTTP10, Method: "PUT", Target: "/"},
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := Client.Encode(nil, &EncodeContext{Head: &head, Body: BodyUnknown, KeepAlive: true})
			e, ok := kindOf(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, KindUser, e.Kind)
		})
	}
}
