// ABOUTME: Tracks the sender clock from RAOP sync packets
// ABOUTME: Estimates offset and drift against the local clock with a fixed-gain filter
package raop

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Quality represents how well the sender clock is tracked
type Quality int

const (
	QualityGood Quality = iota
	QualityDegraded
	QualityLost
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityDegraded:
		return "degraded"
	default:
		return "lost"
	}
}

const (
	clockSmoothing    = 0.1
	clockMaxResidual  = 50 * time.Millisecond
	clockGoodResidual = 5 * time.Millisecond
	clockLostAfter    = 5 * time.Second
)

// Clock estimates the offset of the sender's NTP clock from the local clock,
// in microseconds, and how fast that offset drifts
type Clock struct {
	mu             sync.RWMutex
	offset         int64
	drift          float64
	lastSync       time.Time
	lastSyncMicros int64
	samples        int
	quality        Quality
	logger         zerolog.Logger
}

func NewClock(logger zerolog.Logger) *Clock {
	return &Clock{quality: QualityLost, logger: logger.With().Str("component", "clock").Logger()}
}

// Update folds in a sync packet received at local time at
func (c *Clock) Update(s SyncPacket, at time.Time) {
	local := at.UnixMicro()
	measured := s.NtpMicros() - local

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSync = at

	switch c.samples {
	case 0:
		c.offset = measured
		c.lastSyncMicros = local
		c.samples++
		c.quality = QualityGood
		c.logger.Debug().Int64("offset_us", measured).Msg("initial sync")
		return
	case 1:
		if dt := float64(local - c.lastSyncMicros); dt > 0 {
			c.drift = float64(measured-c.offset) / dt
		}
		c.offset = measured
		c.lastSyncMicros = local
		c.samples++
		return
	}

	dt := float64(local - c.lastSyncMicros)
	if dt <= 0 {
		return
	}
	predicted := c.offset + int64(c.drift*dt)
	residual := measured - predicted
	if abs64(residual) > clockMaxResidual.Microseconds() {
		// sender clock jumped, usually a new session
		c.logger.Debug().Int64("residual_us", residual).Msg("discarding sync sample")
		c.quality = QualityDegraded
		return
	}

	c.offset = predicted + int64(clockSmoothing*float64(residual))
	c.drift += clockSmoothing * float64(residual) / dt
	c.lastSyncMicros = local
	c.samples++

	if abs64(residual) < clockGoodResidual.Microseconds() {
		c.quality = QualityGood
	} else {
		c.quality = QualityDegraded
	}
}

// Stats returns the current offset in microseconds, drift and quality
func (c *Clock) Stats() (offset int64, drift float64, quality Quality) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset, c.drift, c.quality
}

// CheckQuality marks the clock lost when no sync arrived recently
func (c *Clock) CheckQuality(now time.Time) Quality {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.samples > 0 && now.Sub(c.lastSync) > clockLostAfter {
		c.quality = QualityLost
	}
	return c.quality
}

// Reset forgets all samples, for a new session
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset, c.drift, c.samples = 0, 0, 0
	c.quality = QualityLost
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
