// ABOUTME: Pipeline sizing and timing configuration
// ABOUTME: Defaults suit a single local output with network senders upstream
package pipeline

import (
	"errors"
	"fmt"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

// ErrInvalidConfig is wrapped by Config.Validate failures
var ErrInvalidConfig = errors.New("pipeline: invalid config")

// Config sizes the pipeline. Durations are in jiffies.
type Config struct {
	EncodedReservoirBytes   int
	DecodedReservoirJiffies uint64
	StarvationRamperJiffies uint64
	MaxStreamsPerReservoir  int
	RampLongJiffies         uint64
	RampShortJiffies        uint64
	RampEmergencyJiffies    uint64
	SenderMinLatency        uint64
	MaxLatencyJiffies       uint64
	RewinderMaxMsgs         int
	Attenuation             uint32
	// LogElements inserts a debug logger after every element
	LogElements bool
	Messages    msg.FactoryConfig
}

func DefaultConfig() Config {
	return Config{
		EncodedReservoirBytes:   1536 * 1024,
		DecodedReservoirJiffies: 2000 * msg.JiffiesPerMs,
		StarvationRamperJiffies: 20 * msg.JiffiesPerMs,
		MaxStreamsPerReservoir:  10,
		RampLongJiffies:         500 * msg.JiffiesPerMs,
		RampShortJiffies:        50 * msg.JiffiesPerMs,
		RampEmergencyJiffies:    20 * msg.JiffiesPerMs,
		SenderMinLatency:        150 * msg.JiffiesPerMs,
		MaxLatencyJiffies:       2000 * msg.JiffiesPerMs,
		RewinderMaxMsgs:         100,
		Attenuation:             msg.AttenuationUnity,
		Messages:                msg.DefaultFactoryConfig(),
	}
}

// Validate checks the sizes are usable
func (c Config) Validate() error {
	switch {
	case c.EncodedReservoirBytes <= 0:
		return fmt.Errorf("%w: encoded reservoir of %d bytes", ErrInvalidConfig, c.EncodedReservoirBytes)
	case c.DecodedReservoirJiffies == 0:
		return fmt.Errorf("%w: empty decoded reservoir", ErrInvalidConfig)
	case c.MaxStreamsPerReservoir <= 0:
		return fmt.Errorf("%w: %d streams per reservoir", ErrInvalidConfig, c.MaxStreamsPerReservoir)
	case c.RampShortJiffies == 0 || c.RampLongJiffies < c.RampShortJiffies:
		return fmt.Errorf("%w: ramps long=%d short=%d", ErrInvalidConfig, c.RampLongJiffies, c.RampShortJiffies)
	case c.RampEmergencyJiffies == 0:
		return fmt.Errorf("%w: zero emergency ramp", ErrInvalidConfig)
	case c.MaxLatencyJiffies < c.SenderMinLatency:
		return fmt.Errorf("%w: max latency below sender minimum", ErrInvalidConfig)
	case c.RewinderMaxMsgs <= 0:
		return fmt.Errorf("%w: rewinder holds %d messages", ErrInvalidConfig, c.RewinderMaxMsgs)
	}
	return nil
}
