// ABOUTME: Tests for renderer orchestration
// ABOUTME: Plays a WAV from an httptest server through the pipeline into a null output
package app

import (
	"bytes"
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/resonate-renderer/internal/config"
	"github.com/Resonate-Protocol/resonate-renderer/internal/ui"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/audio/output"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/protocol"
)

func wav(rate, channels, frames int) []byte {
	data := make([]byte, frames*channels*2)
	for i := 0; i < frames*channels; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(2000))
	}
	var b bytes.Buffer
	b.WriteString("RIFF")
	binary.Write(&b, binary.LittleEndian, uint32(36+len(data)))
	b.WriteString("WAVEfmt ")
	binary.Write(&b, binary.LittleEndian, uint32(16))
	binary.Write(&b, binary.LittleEndian, uint16(1))
	binary.Write(&b, binary.LittleEndian, uint16(channels))
	binary.Write(&b, binary.LittleEndian, uint32(rate))
	binary.Write(&b, binary.LittleEndian, uint32(rate*channels*2))
	binary.Write(&b, binary.LittleEndian, uint16(channels*2))
	binary.Write(&b, binary.LittleEndian, uint16(16))
	b.WriteString("data")
	binary.Write(&b, binary.LittleEndian, uint32(len(data)))
	b.Write(data)
	return b.Bytes()
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Name = "test-renderer"
	cfg.Output = config.OutputNull
	cfg.Log.TUI = false
	return cfg
}

func newTestRenderer(t *testing.T, cfg config.Config) (*Renderer, *output.Null) {
	t.Helper()
	out := output.NewNull()
	r, err := New(context.Background(), cfg, out, zerolog.Nop())
	require.NoError(t, err)
	return r, out
}

func scrape(t *testing.T, r *Renderer) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Metrics().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func TestRendererPlaysHTTPSource(t *testing.T) {
	tone := wav(44100, 2, 4410)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.ServeContent(w, req, "tone.wav", time.Time{}, bytes.NewReader(tone))
	}))
	defer ts.Close()

	cfg := testConfig()
	cfg.Play = ts.URL + "/tone.wav"
	r, out := newTestRenderer(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return out.Frames() >= 4410 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return strings.Contains(scrape(t, r), `renderer_streams_total{result="success",scheme="http"} 1`)
	}, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, scrape(t, r), `renderer_tracks_total{result="played"} 1`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("renderer did not stop")
	}
}

func TestRendererControls(t *testing.T) {
	r, _ := newTestRenderer(t, testConfig())

	assert.ErrorIs(t, r.SetVolume(101), ErrVolume)
	assert.ErrorIs(t, r.SetVolume(-1), ErrVolume)
	require.NoError(t, r.SetVolume(30))
	assert.Equal(t, 30, r.Volume())

	err := r.Open("ftp://host/file.mp3", "")
	assert.ErrorIs(t, err, protocol.ErrNotSupported)
	err = r.Open("raop://6000", "")
	assert.ErrorIs(t, err, protocol.ErrNotSupported, "raop is only registered when enabled")

	require.NoError(t, r.Open("http://radio/a.mp3", ""))
	require.NoError(t, r.Open("hls://radio/live.m3u8", "<meta/>"))
	require.Len(t, r.queue, 1)
	req := <-r.queue
	assert.Equal(t, "hls://radio/live.m3u8", req.uri, "only the newest request is kept")
	assert.Equal(t, "<meta/>", req.metadata)
	assert.NotZero(t, req.haltID)
}

func TestHandleControlsQuit(t *testing.T) {
	r, _ := newTestRenderer(t, testConfig())
	controls := ui.NewControls()
	controls.Requests <- ui.Request{Command: ui.CmdVolume, Volume: 55}
	controls.Requests <- ui.Request{Command: ui.CmdMute, Muted: true}
	controls.Requests <- ui.Request{Command: ui.CmdQuit}

	quit := make(chan struct{})
	go r.HandleControls(context.Background(), controls, func() { close(quit) })

	select {
	case <-quit:
	case <-time.After(2 * time.Second):
		t.Fatal("quit not requested")
	}
	assert.Equal(t, 55, r.Volume())
	assert.True(t, r.muted.Load())
}

func TestRendererWithRAOP(t *testing.T) {
	cfg := testConfig()
	cfg.RAOP.Enabled = true
	cfg.RAOP.AudioPort = 0
	cfg.RAOP.ControlPort = 0
	cfg.RAOP.Key = strings.Repeat("ab", 16)
	cfg.RAOP.IV = strings.Repeat("cd", 16)

	r, _ := newTestRenderer(t, cfg)
	defer r.closeSockets()

	assert.Equal(t, "raop://0", r.raopURI)
	assert.True(t, r.manager.Supports("raop://6000"))
	assert.Zero(t, r.Stats().Resends)
	assert.Contains(t, scrape(t, r), "renderer_raop_clock_quality")

	cfg.RAOP.Key = "short"
	_, err := New(context.Background(), cfg, output.NewNull(), zerolog.Nop())
	assert.ErrorIs(t, err, config.ErrInvalid)
}
