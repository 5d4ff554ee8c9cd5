package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/h1conn/internal/h1"
)

func TestPrintOptions(t *testing.T) {
	var out bytes.Buffer
	printOptions(&out, h1.DefaultOptions())
	s := out.String()
	assert.True(t, strings.HasPrefix(s, "configuration OK\n"))
	assert.Contains(t, s, "max_buf_size:       408 KiB\n")
	assert.Contains(t, s, "read_buf_size:      adaptive\n")
	assert.Contains(t, s, "write_strategy:     flatten\n")

	opts := h1.DefaultOptions()
	opts.ReadBufExactSize = 16 * 1024
	opts.WriteStrategy = h1.WriteQueue
	out.Reset()
	printOptions(&out, opts)
	assert.Contains(t, out.String(), "read_buf_size:      16 KiB\n")
	assert.Contains(t, out.String(), "write_strategy:     queue\n")
}

func TestProbe(t *testing.T) {
	var gotPath, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotUA = r.URL.Path, r.UserAgent()
		fmt.Fprint(w, "hello")
	}))
	defer srv.Close()

	probeTimeout = 5 * time.Second
	addr := strings.TrimPrefix(srv.URL, "http://")
	var out bytes.Buffer
	require.NoError(t, probe(&out, addr, "/health", h1.DefaultOptions(), nil))

	assert.Equal(t, "/health", gotPath)
	assert.Equal(t, "h1check", gotUA)
	assert.Equal(t, "HTTP/1.1 200 OK, body 5 B (content-length (5 bytes))\n", out.String())
}

func TestProbe_DialError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	probeTimeout = time.Second
	err := probe(&bytes.Buffer{}, addr, "/", h1.DefaultOptions(), nil)
	assert.ErrorContains(t, err, "dial")
}
