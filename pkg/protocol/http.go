// ABOUTME: HTTP protocol streaming remote files and radio streams into the pipeline
// ABOUTME: Seeks and resumes with Range requests and serves TryGet for codec lookahead
package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/pipeline"
)

var (
	errSeek = errors.New("protocol: seek requested")
	errStop = errors.New("protocol: stop requested")
)

// StatusError is a response status that cannot be streamed
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("protocol: http status %d", e.Code)
}

// HTTPConfig tunes the HTTP protocol
type HTTPConfig struct {
	UserAgent string
	// ConnectTimeout bounds connecting and waiting for response headers
	ConnectTimeout time.Duration
	// Resumes is how many times a broken seekable stream is resumed from
	// the byte it stopped at
	Resumes int
	// SupplyRetry is how long to wait when message pools are exhausted
	SupplyRetry time.Duration
}

func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		UserAgent:      "resonate-renderer",
		ConnectTimeout: 10 * time.Second,
		Resumes:        3,
		SupplyRetry:    10 * time.Millisecond,
	}
}

// HTTP streams http and https URIs. It implements msg.StreamHandler for the
// streams it outputs.
type HTTP struct {
	cfg    HTTPConfig
	client *http.Client
	supply *pipeline.Supply
	ids    IDProvider
	logger zerolog.Logger

	mu          sync.Mutex
	ctx         context.Context
	streamID    uint32
	seekable    bool
	nextFlushID uint32
	seekOffset  uint64
	seeking     bool
	stopped     bool
	cancel      context.CancelFunc
}

func NewHTTP(cfg HTTPConfig, supply *pipeline.Supply, ids IDProvider, logger zerolog.Logger) *HTTP {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.ConnectTimeout
	return &HTTP{
		cfg:      cfg,
		client:   &http.Client{Transport: transport},
		supply:   supply,
		ids:      ids,
		logger:   logger.With().Str("component", "http").Logger(),
		streamID: msg.StreamIDInvalid,
	}
}

func (h *HTTP) Supports(uri string) bool {
	s := Scheme(uri)
	return s == "http" || s == "https"
}

// Stream outputs uri until it ends, fails or is stopped
func (h *HTTP) Stream(ctx context.Context, uri string) StreamResult {
	if !h.Supports(uri) {
		return StreamNotSupported
	}
	h.reset(ctx)
	log := h.logger.With().Str("uri", uri).Logger()

	var (
		offset  uint64
		total   uint64
		started bool
		resumes int
	)
	for {
		body, info, err := h.open(uri, offset)
		if err != nil {
			if h.isStopped() {
				return h.finish(StreamStopped)
			}
			log.Warn().Err(err).Msg("request failed")
			var se *StatusError
			if errors.As(err, &se) && se.Code < http.StatusInternalServerError {
				return h.finish(StreamErrorUnrecoverable)
			}
			return h.finish(StreamErrorRecoverable)
		}

		if !started {
			started = true
			total = info.total
			h.mu.Lock()
			h.seekable = info.seekable
			h.mu.Unlock()
			h.startStream(uri, total, 0, info.seekable)
		}

		n, err := h.pump(body, &offset)
		body.Close()
		switch {
		case errors.Is(err, errSeek):
			h.mu.Lock()
			offset = h.seekOffset
			flushID := h.nextFlushID
			h.nextFlushID = msg.FlushIDInvalid
			h.seeking = false
			seekable := h.seekable
			h.mu.Unlock()
			h.output(func() error { return h.supply.OutputFlush(flushID) })
			h.startStream(uri, total, offset, seekable)
			resumes = 0
			continue
		case errors.Is(err, errStop), h.isStopped():
			return h.finish(StreamStopped)
		case err == nil && (total == 0 || offset >= total):
			if total == 0 {
				// a radio stream never ends cleanly
				return h.finish(StreamErrorRecoverable)
			}
			return h.finish(StreamSuccess)
		}

		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		if !info.seekable || resumes >= h.cfg.Resumes {
			log.Warn().Err(err).Uint64("offset", offset).Msg("stream broken")
			return h.finish(StreamErrorRecoverable)
		}
		if n > 0 {
			resumes = 0
		}
		resumes++
		log.Info().Err(err).Uint64("offset", offset).Int("attempt", resumes).Msg("resuming")
	}
}

type responseInfo struct {
	total    uint64
	seekable bool
}

func (h *HTTP) open(uri string, offset uint64) (io.ReadCloser, responseInfo, error) {
	h.mu.Lock()
	ctx, cancel := context.WithCancel(h.ctx)
	h.cancel = cancel
	h.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		cancel()
		return nil, responseInfo{}, err
	}
	req.Header.Set("User-Agent", h.cfg.UserAgent)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		cancel()
		return nil, responseInfo{}, err
	}

	var info responseInfo
	switch resp.StatusCode {
	case http.StatusOK:
		if offset > 0 {
			resp.Body.Close()
			cancel()
			return nil, info, errors.New("protocol: server ignored range request")
		}
		if resp.ContentLength > 0 {
			info.total = uint64(resp.ContentLength)
		}
		info.seekable = info.total > 0 && resp.Header.Get("Accept-Ranges") == "bytes"
	case http.StatusPartialContent:
		info.total = totalFromContentRange(resp.Header.Get("Content-Range"))
		info.seekable = info.total > 0
	default:
		resp.Body.Close()
		cancel()
		return nil, info, &StatusError{Code: resp.StatusCode}
	}
	return &cancelBody{ReadCloser: resp.Body, cancel: cancel}, info, nil
}

// totalFromContentRange reads the length from "bytes 100-199/1000"
func totalFromContentRange(v string) uint64 {
	_, total, ok := strings.Cut(v, "/")
	if !ok || total == "*" {
		return 0
	}
	n, err := strconv.ParseUint(total, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// pump copies body into the pipeline, advancing offset. It returns errSeek
// or errStop when another goroutine cut the read short.
func (h *HTTP) pump(body io.Reader, offset *uint64) (int, error) {
	buf := make([]byte, pipeline.MaxEncodedChunk)
	total := 0
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if cut := h.interrupted(); cut != nil {
				return total, cut
			}
			h.outputData(buf[:n])
			*offset += uint64(n)
			total += n
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			if cut := h.interrupted(); cut != nil {
				return total, cut
			}
			return total, err
		}
	}
}

func (h *HTTP) interrupted() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case h.seeking:
		return errSeek
	case h.stopped:
		return errStop
	}
	return nil
}

func (h *HTTP) isStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

func (h *HTTP) reset(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ctx = ctx
	h.streamID = msg.StreamIDInvalid
	h.seekable = false
	h.nextFlushID = msg.FlushIDInvalid
	h.seeking = false
	h.stopped = false
}

func (h *HTTP) startStream(uri string, total, start uint64, seekable bool) {
	h.mu.Lock()
	h.streamID = h.ids.NextStreamID()
	streamID := h.streamID
	h.mu.Unlock()

	h.output(func() error {
		return h.supply.OutputStream(msg.EncodedStreamParams{
			URI:        uri,
			TotalBytes: total,
			StartPos:   start,
			StreamID:   streamID,
			Seekable:   seekable,
			Live:       total == 0,
			Handler:    h,
		})
	})
}

// finish outputs any promised flush and invalidates the stream id
func (h *HTTP) finish(res StreamResult) StreamResult {
	h.mu.Lock()
	flushID := h.nextFlushID
	h.nextFlushID = msg.FlushIDInvalid
	h.streamID = msg.StreamIDInvalid
	h.mu.Unlock()
	if flushID != msg.FlushIDInvalid {
		h.output(func() error { return h.supply.OutputFlush(flushID) })
	}
	return res
}

func (h *HTTP) outputData(data []byte) {
	for len(data) > 0 {
		h.output(func() error {
			n, err := h.supply.OutputData(data)
			data = data[n:]
			return err
		})
		if h.ctx.Err() != nil {
			return
		}
	}
}

func (h *HTTP) output(f func() error) {
	err := pipeline.RetryOnExhaustion(h.ctx, h.cfg.SupplyRetry, f)
	if err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Error().Err(err).Msg("supply")
	}
}

// Interrupt aborts the current request
func (h *HTTP) Interrupt(interrupt bool) {
	if !interrupt {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	if h.cancel != nil {
		h.cancel()
	}
}

func (h *HTTP) isCurrent(streamID uint32) bool {
	return streamID != msg.StreamIDInvalid && streamID == h.streamID
}

func (h *HTTP) OkToPlay(streamID uint32) msg.PlayDecision { return msg.PlayYes }

// TrySeek restarts the stream at offset with a Range request
func (h *HTTP) TrySeek(streamID uint32, offset uint64) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.isCurrent(streamID) || !h.seekable || h.stopped {
		return msg.FlushIDInvalid
	}
	if h.nextFlushID == msg.FlushIDInvalid {
		h.nextFlushID = h.ids.NextFlushID()
	}
	h.seeking = true
	h.seekOffset = offset
	if h.cancel != nil {
		h.cancel()
	}
	return h.nextFlushID
}

// TryStop stops the stream. A flush promised by an earlier call is reused.
func (h *HTTP) TryStop(streamID uint32) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.isCurrent(streamID) {
		return msg.FlushIDInvalid
	}
	if h.nextFlushID == msg.FlushIDInvalid {
		h.nextFlushID = h.ids.NextFlushID()
	}
	h.stopped = true
	h.seeking = false
	if h.cancel != nil {
		h.cancel()
	}
	return h.nextFlushID
}

// TryGet writes bytes of url from offset to w, for codecs that need to read
// ahead of the stream, e.g. an index at the end of a file
func (h *HTTP) TryGet(w io.Writer, url string, offset, bytes uint64) bool {
	if !h.Supports(url) || bytes == 0 {
		return false
	}
	h.mu.Lock()
	ctx := h.ctx
	h.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", h.cfg.UserAgent)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+bytes-1))
	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Debug().Err(err).Str("uri", url).Msg("get failed")
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent {
		return false
	}
	_, err = io.CopyN(w, resp.Body, int64(bytes))
	return err == nil
}

func (h *HTTP) NotifyStarving(mode string, streamID uint32, starving bool) {
	if starving {
		h.logger.Debug().Str("mode", mode).Uint32("stream", streamID).Msg("starving")
	}
}
