// ABOUTME: Tests for the HTTP protocol against an in-process server
// ABOUTME: Covers whole files, status handling, stop, seek and ranged gets
package protocol

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

func testContent(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

func serveContent(content []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "track.flac", time.Time{}, bytes.NewReader(content))
	}
}

func TestHTTPStreamsWholeFile(t *testing.T) {
	content := testContent(20000)
	srv := httptest.NewServer(serveContent(content))
	defer srv.Close()

	supply, rec, ids := newTestSupply()
	h := NewHTTP(DefaultHTTPConfig(), supply, ids, zerolog.Nop())

	res := h.Stream(context.Background(), srv.URL+"/track.flac")
	assert.Equal(t, StreamSuccess, res)
	assert.Equal(t, content, rec.bytes())

	s, ok := rec.lastStream()
	require.True(t, ok)
	assert.Equal(t, uint64(len(content)), s.TotalBytes)
	assert.True(t, s.Seekable)
	assert.False(t, s.Live)
	assert.Empty(t, rec.flushes)

	// the stream has ended so it can no longer be stopped
	assert.Equal(t, msg.FlushIDInvalid, h.TryStop(s.StreamID))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		want   StreamResult
	}{
		{http.StatusNotFound, StreamErrorUnrecoverable},
		{http.StatusForbidden, StreamErrorUnrecoverable},
		{http.StatusServiceUnavailable, StreamErrorRecoverable},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			supply, rec, ids := newTestSupply()
			h := NewHTTP(DefaultHTTPConfig(), supply, ids, zerolog.Nop())
			assert.Equal(t, tt.want, h.Stream(context.Background(), srv.URL))
			assert.Empty(t, rec.kinds)
		})
	}
}

// endless writes a chunk and then holds the response open until the client goes away
func endless(total int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if total > 0 {
			w.Header().Set("Content-Length", strconv.Itoa(total))
			w.Header().Set("Accept-Ranges", "bytes")
		}
		_, _ = w.Write(testContent(100))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}
}

func TestHTTPTryStop(t *testing.T) {
	srv := httptest.NewServer(endless(0))
	defer srv.Close()

	supply, rec, ids := newTestSupply()
	h := NewHTTP(DefaultHTTPConfig(), supply, ids, zerolog.Nop())

	result := make(chan StreamResult, 1)
	go func() { result <- h.Stream(context.Background(), srv.URL+"/radio") }()

	require.Eventually(t, func() bool { return len(rec.bytes()) == 100 }, waitFor, tick)
	s, ok := rec.lastStream()
	require.True(t, ok)
	assert.True(t, s.Live)
	assert.False(t, s.Seekable)
	assert.Equal(t, msg.FlushIDInvalid, h.TrySeek(s.StreamID, 10), "live streams cannot seek")
	assert.Equal(t, msg.FlushIDInvalid, h.TryStop(s.StreamID+1))

	flushID := h.TryStop(s.StreamID)
	require.NotEqual(t, msg.FlushIDInvalid, flushID)

	select {
	case res := <-result:
		assert.Equal(t, StreamStopped, res)
	case <-time.After(waitFor):
		t.Fatal("stream did not stop")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []uint32{flushID}, rec.flushes)
}

func TestHTTPTrySeek(t *testing.T) {
	content := testContent(5000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") == "" {
			endless(len(content))(w, r)
			return
		}
		serveContent(content)(w, r)
	}))
	defer srv.Close()

	supply, rec, ids := newTestSupply()
	h := NewHTTP(DefaultHTTPConfig(), supply, ids, zerolog.Nop())

	result := make(chan StreamResult, 1)
	go func() { result <- h.Stream(context.Background(), srv.URL+"/track.mp3") }()

	require.Eventually(t, func() bool { return len(rec.bytes()) == 100 }, waitFor, tick)
	first, _ := rec.lastStream()
	assert.True(t, first.Seekable)

	flushID := h.TrySeek(first.StreamID, 4000)
	require.NotEqual(t, msg.FlushIDInvalid, flushID)

	select {
	case res := <-result:
		assert.Equal(t, StreamSuccess, res)
	case <-time.After(waitFor):
		t.Fatal("stream did not finish")
	}

	second, _ := rec.lastStream()
	assert.NotEqual(t, first.StreamID, second.StreamID)
	assert.Equal(t, uint64(4000), second.StartPos)
	assert.Equal(t, append(content[:100:100], content[4000:]...), rec.bytes())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []uint32{flushID}, rec.flushes)
	// the flush separates the old stream from the new one
	flushAt := indexOf(rec.kinds, msg.KindFlush)
	require.Positive(t, flushAt)
	assert.Equal(t, msg.KindEncodedStream, rec.kinds[flushAt+1])
}

func indexOf(kinds []msg.Kind, k msg.Kind) int {
	for i, kk := range kinds {
		if kk == k {
			return i
		}
	}
	return -1
}

func TestHTTPTryGet(t *testing.T) {
	content := testContent(3000)
	srv := httptest.NewServer(serveContent(content))
	defer srv.Close()

	supply, _, ids := newTestSupply()
	h := NewHTTP(DefaultHTTPConfig(), supply, ids, zerolog.Nop())

	var buf bytes.Buffer
	require.True(t, h.TryGet(&buf, srv.URL+"/a", 1000, 24))
	assert.Equal(t, content[1000:1024], buf.Bytes())

	assert.False(t, h.TryGet(&buf, "raop://6000", 0, 10))
	assert.False(t, h.TryGet(&buf, srv.URL+"/a", 0, 0))
}

func TestTotalFromContentRange(t *testing.T) {
	assert.Equal(t, uint64(1000), totalFromContentRange("bytes 100-199/1000"))
	assert.Zero(t, totalFromContentRange("bytes 100-199/*"))
	assert.Zero(t, totalFromContentRange(""))
}
