// ABOUTME: Walks a live or finished HLS playlist segment by segment
// ABOUTME: Reloads the playlist on the target-duration schedule and detects gaps
package hls

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrEndOfStream means every segment of a finished playlist was returned
	ErrEndOfStream = errors.New("hls: end of stream")
	// ErrDiscontinuity means segments expired from the playlist before they
	// could be fetched
	ErrDiscontinuity = errors.New("hls: segments missed")
)

// Fetcher opens a URI for reading
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (io.ReadCloser, error)
}

// HTTPFetcher fetches playlists and segments over HTTP
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

func (f *HTTPFetcher) Fetch(ctx context.Context, uri string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("hls: fetch %s: status %d", uri, resp.StatusCode)
	}
	return resp.Body, nil
}

// Reader returns the segments of a playlist in sequence order, reloading it
// while it is live
type Reader struct {
	fetcher Fetcher
	uri     string
	logger  zerolog.Logger

	playlist   *Playlist
	pos        int
	last       uint64
	haveLast   bool
	start      uint64
	newSegment bool
	lastReload time.Time
}

func NewReader(fetcher Fetcher, uri string, logger zerolog.Logger) *Reader {
	return &Reader{
		fetcher: fetcher,
		uri:     uri,
		logger:  logger.With().Str("component", "hls-reader").Logger(),
	}
}

// SetStart skips segments before index
func (r *Reader) SetStart(index uint64) { r.start = index }

// Last is the index of the last segment returned
func (r *Reader) Last() (uint64, bool) { return r.last, r.haveLast }

// Reset forgets the playlist and position
func (r *Reader) Reset() {
	r.playlist = nil
	r.pos = 0
	r.last, r.haveLast = 0, false
	r.start = 0
	r.newSegment = false
	r.lastReload = time.Time{}
}

// Next returns the segment following the last one returned
func (r *Reader) Next(ctx context.Context) (Segment, error) {
	for {
		if r.playlist == nil || r.pos >= len(r.playlist.Segments) {
			if r.playlist != nil && r.playlist.EndList {
				return Segment{}, ErrEndOfStream
			}
			if err := r.reload(ctx); err != nil {
				return Segment{}, err
			}
			continue
		}

		seg := r.playlist.Segments[r.pos]
		r.pos++
		if seg.Index < r.start {
			continue
		}
		switch {
		case !r.haveLast || seg.Index == r.last+1:
			r.last, r.haveLast = seg.Index, true
			r.newSegment = true
			return seg, nil
		case seg.Index > r.last+1:
			return Segment{}, fmt.Errorf("%w: wanted %d, playlist starts at %d", ErrDiscontinuity, r.last+1, seg.Index)
		}
		// already returned
	}
}

func (r *Reader) reload(ctx context.Context) error {
	if r.playlist != nil {
		wait := r.playlist.TargetDuration
		if wait == 0 {
			return fmt.Errorf("%w: no target duration on a live playlist", ErrInvalid)
		}
		// an unchanged playlist is polled at half the target duration
		if !r.newSegment {
			wait /= 2
		}
		if remaining := wait - time.Since(r.lastReload); remaining > 0 {
			t := time.NewTimer(remaining)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}
	}

	r.newSegment = false
	body, err := r.fetcher.Fetch(ctx, r.uri)
	if err != nil {
		return fmt.Errorf("hls: load playlist: %w", err)
	}
	defer body.Close()

	base, err := url.Parse(r.uri)
	if err != nil {
		return fmt.Errorf("%w: playlist uri: %v", ErrInvalid, err)
	}
	pl, err := Parse(body, base)
	if err != nil {
		return err
	}
	r.playlist = pl
	r.pos = 0
	r.lastReload = time.Now()
	r.logger.Debug().Int("segments", len(pl.Segments)).Uint64("sequence", pl.MediaSequence).Bool("end", pl.EndList).Msg("playlist loaded")
	return nil
}

// Streamer concatenates the segments of a Reader into one byte stream.
// Read returns io.EOF once a finished playlist has been fully read.
type Streamer struct {
	ctx     context.Context
	reader  *Reader
	fetcher Fetcher
	cur     io.ReadCloser
	curSeg  uint64
	played  uint64
	seen    bool
	ended   bool
}

func NewStreamer(ctx context.Context, reader *Reader, fetcher Fetcher) *Streamer {
	return &Streamer{ctx: ctx, reader: reader, fetcher: fetcher}
}

func (s *Streamer) Read(p []byte) (int, error) {
	for {
		if s.ended {
			return 0, io.EOF
		}
		if s.cur == nil {
			seg, err := s.reader.Next(s.ctx)
			if errors.Is(err, ErrEndOfStream) {
				s.ended = true
				return 0, io.EOF
			}
			if err != nil {
				return 0, err
			}
			body, err := s.fetcher.Fetch(s.ctx, seg.URI)
			if err != nil {
				return 0, fmt.Errorf("hls: segment %d: %w", seg.Index, err)
			}
			s.cur = body
			s.curSeg = seg.Index
		}

		n, err := s.cur.Read(p)
		if err == io.EOF {
			s.cur.Close()
			s.cur = nil
			s.played, s.seen = s.curSeg, true
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Played is the index of the last segment read to its end
func (s *Streamer) Played() (uint64, bool) { return s.played, s.seen }

func (s *Streamer) Close() error {
	if s.cur == nil {
		return nil
	}
	err := s.cur.Close()
	s.cur = nil
	return err
}
