// ABOUTME: Discovery backed by fixed session parameters
// ABOUTME: Used when keys and format come from configuration instead of RTSP
package raop

import (
	"sync"
	"time"
)

// StaticSession is a Discovery whose keys and format never change. It is
// active until no audio arrives for the idle timeout.
type StaticSession struct {
	key     []byte
	iv      []byte
	fmtp    string
	latency uint32
	idle    time.Duration

	mu       sync.Mutex
	lastSeen time.Time
}

func NewStaticSession(key, iv []byte, fmtp string, latency uint32, idle time.Duration) *StaticSession {
	return &StaticSession{key: key, iv: iv, fmtp: fmtp, latency: latency, idle: idle}
}

func (s *StaticSession) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen.IsZero() || time.Since(s.lastSeen) < s.idle
}

func (s *StaticSession) KeepAlive() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// Close waits for the next sender
func (s *StaticSession) Close() {
	s.mu.Lock()
	s.lastSeen = time.Time{}
	s.mu.Unlock()
}

func (s *StaticSession) Latency() uint32 { return s.latency }
func (s *StaticSession) AesKey() []byte  { return s.key }
func (s *StaticSession) AesIV() []byte   { return s.iv }
func (s *StaticSession) Fmtp() string    { return s.fmtp }
