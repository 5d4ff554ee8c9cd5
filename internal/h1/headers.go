package h1

import (
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// connectionKeepAlive reports whether a Connection header carries the
// keep-alive token.
func connectionKeepAlive(h http.Header) bool {
	return httpguts.HeaderValuesContainsToken(h["Connection"], "keep-alive")
}

// connectionClose reports whether a Connection header carries the close token.
func connectionClose(h http.Header) bool {
	return httpguts.HeaderValuesContainsToken(h["Connection"], "close")
}

func connectionUpgrade(h http.Header) bool {
	return httpguts.HeaderValuesContainsToken(h["Connection"], "upgrade")
}

// transferEncodingIsChunked reports whether the final transfer-coding is
// chunked. Codings are comma separated and may span several field lines.
func transferEncodingIsChunked(values []string) bool {
	if len(values) == 0 {
		return false
	}
	last := values[len(values)-1]
	if i := strings.LastIndexByte(last, ','); i >= 0 {
		last = last[i+1:]
	}
	return strings.EqualFold(strings.TrimSpace(last), "chunked")
}

// contentLength parses every Content-Length field value. Repeated values
// must agree; a comma-separated list of identical values is tolerated.
func contentLength(values []string) (uint64, bool) {
	var (
		n    uint64
		seen bool
	)
	for _, line := range values {
		for _, v := range strings.Split(line, ",") {
			v = strings.TrimSpace(v)
			if v == "" || v[0] == '+' {
				return 0, false
			}
			parsed, err := strconv.ParseUint(v, 10, 63)
			if err != nil {
				return 0, false
			}
			if seen && parsed != n {
				return 0, false
			}
			n, seen = parsed, true
		}
	}
	return n, seen
}

// writeHeaders appends header fields in sorted order. Names are lowercase
// unless titleCase is set, in which case the canonical form is kept.
func writeHeaders(dst []byte, h http.Header, titleCase bool) ([]byte, error) {
	for _, name := range slices.Sorted(maps.Keys(h)) {
		if !httpguts.ValidHeaderFieldName(name) {
			return dst, newUserError("invalid header name " + strconv.Quote(name))
		}
		wire := name
		if titleCase {
			wire = http.CanonicalHeaderKey(name)
		} else {
			wire = strings.ToLower(name)
		}
		for _, v := range h[name] {
			if !httpguts.ValidHeaderFieldValue(v) {
				return dst, newUserError("invalid value for header " + strconv.Quote(name))
			}
			dst = append(dst, wire...)
			dst = append(dst, ": "...)
			dst = append(dst, v...)
			dst = append(dst, "\r\n"...)
		}
	}
	return dst, nil
}

// writeHeaderLine appends one field line, honouring the title-case setting.
func writeHeaderLine(dst []byte, name, value string, titleCase bool) []byte {
	if titleCase {
		dst = append(dst, http.CanonicalHeaderKey(name)...)
	} else {
		dst = append(dst, strings.ToLower(name)...)
	}
	dst = append(dst, ": "...)
	dst = append(dst, value...)
	return append(dst, "\r\n"...)
}
