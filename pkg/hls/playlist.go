// ABOUTME: Media playlist (m3u8) decoding on top of grafov/m3u8
// ABOUTME: Extracts target duration, media sequence, end-list flag and resolved segments
package hls

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"time"

	"github.com/grafov/m3u8"
)

// MaxVersion is the newest playlist version understood
const MaxVersion = 3

// maxPlaylistBytes bounds how much of a playlist response is read
const maxPlaylistBytes = 1 << 20

var (
	// ErrUnsupported is returned for playlists using features this parser lacks
	ErrUnsupported = errors.New("hls: unsupported playlist")
	// ErrInvalid is returned for malformed playlists
	ErrInvalid = errors.New("hls: invalid playlist")
)

// Segment is one media segment of a playlist
type Segment struct {
	// Index is the media sequence number of the segment
	Index    uint64
	URI      string
	Duration time.Duration
}

// Playlist is a parsed media playlist
type Playlist struct {
	Version        int
	TargetDuration time.Duration
	MediaSequence  uint64
	EndList        bool
	Segments       []Segment
}

// Parse reads a media playlist. Segment URIs are resolved against base, the
// URI the playlist was fetched from. Master playlists are rejected.
func Parse(r io.Reader, base *url.URL) (*Playlist, error) {
	var buf bytes.Buffer
	n, err := buf.ReadFrom(io.LimitReader(r, maxPlaylistBytes+1))
	if err != nil {
		return nil, err
	}
	if n > maxPlaylistBytes {
		return nil, fmt.Errorf("%w: playlist larger than %d bytes", ErrInvalid, maxPlaylistBytes)
	}

	decoded, kind, err := m3u8.DecodeFrom(&buf, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	media, ok := decoded.(*m3u8.MediaPlaylist)
	if kind != m3u8.MEDIA || !ok {
		return nil, fmt.Errorf("%w: not a media playlist", ErrUnsupported)
	}

	pl := &Playlist{
		Version:       int(media.Version()),
		MediaSequence: media.SeqNo,
		EndList:       media.Closed,
	}
	if pl.Version > MaxVersion {
		return nil, fmt.Errorf("%w: version %d", ErrUnsupported, pl.Version)
	}
	if pl.TargetDuration, err = seconds("target duration", media.TargetDuration); err != nil {
		return nil, err
	}

	for i, s := range media.Segments {
		if s == nil {
			break
		}
		d, err := seconds("segment duration", s.Duration)
		if err != nil {
			return nil, err
		}
		uri, err := resolve(base, s.URI)
		if err != nil {
			return nil, err
		}
		pl.Segments = append(pl.Segments, Segment{Index: pl.MediaSequence + uint64(i), URI: uri, Duration: d})
	}
	return pl, nil
}

// seconds converts a decimal-seconds playlist value to millisecond precision
func seconds(what string, v float64) (time.Duration, error) {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s %v", ErrInvalid, what, v)
	}
	return time.Duration(math.Round(v*1000)) * time.Millisecond, nil
}

func resolve(base *url.URL, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: segment uri %q", ErrInvalid, ref)
	}
	if base == nil || u.IsAbs() {
		return u.String(), nil
	}
	return base.ResolveReference(u).String(), nil
}
