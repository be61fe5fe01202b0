// ABOUTME: Renderer configuration: defaults, YAML file, .env and RENDERER_* overrides
// ABOUTME: Command line flags are applied last through Flags
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/pipeline"
)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("config: invalid")

// EnvPrefix prefixes every environment override
const EnvPrefix = "RENDERER_"

// Output backends
const (
	OutputOto  = "oto"
	OutputNull = "null"
)

type Config struct {
	Name   string `yaml:"name"`
	Output string `yaml:"output"`
	// Volume is 0-100 and maps onto pipeline attenuation
	Volume int `yaml:"volume"`
	// Play is a URI streamed at startup
	Play string `yaml:"play"`

	Log      LogConfig      `yaml:"log"`
	HTTP     HTTPConfig     `yaml:"http"`
	RAOP     RAOPConfig     `yaml:"raop"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

type LogConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
	TUI   bool   `yaml:"tui"`
}

type HTTPConfig struct {
	// Listen serves /events and /metrics; empty disables both
	Listen string `yaml:"listen"`
}

// RAOPConfig describes a statically keyed AirPlay session. Key and IV are hex.
type RAOPConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Advertise   bool   `yaml:"advertise"`
	RTSPPort    int    `yaml:"rtsp_port"`
	AudioPort   int    `yaml:"audio_port"`
	ControlPort int    `yaml:"control_port"`
	Latency     uint32 `yaml:"latency"`
	Key         string `yaml:"key"`
	IV          string `yaml:"iv"`
	Fmtp        string `yaml:"fmtp"`
	IdleSeconds int    `yaml:"idle_seconds"`
}

// PipelineConfig holds the tunable pipeline sizes in milliseconds and kilobytes
type PipelineConfig struct {
	EncodedReservoirKB int  `yaml:"encoded_reservoir_kb"`
	DecodedReservoirMs int  `yaml:"decoded_reservoir_ms"`
	RampLongMs         int  `yaml:"ramp_long_ms"`
	RampShortMs        int  `yaml:"ramp_short_ms"`
	SenderMinLatencyMs int  `yaml:"sender_min_latency_ms"`
	MaxLatencyMs       int  `yaml:"max_latency_ms"`
	LogElements        bool `yaml:"log_elements"`
}

// Default returns the configuration used when nothing overrides it
func Default() Config {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "resonate"
	}
	return Config{
		Name:   name + "-renderer",
		Output: OutputOto,
		Volume: 100,
		Log: LogConfig{
			File:  "resonate-renderer.log",
			Level: "info",
			TUI:   true,
		},
		HTTP: HTTPConfig{Listen: ":8928"},
		RAOP: RAOPConfig{
			Advertise:   true,
			RTSPPort:    5000,
			AudioPort:   6000,
			ControlPort: 6001,
			Latency:     11025,
			Fmtp:        "96 L16/44100/2",
			IdleSeconds: 10,
		},
		Pipeline: PipelineConfig{
			EncodedReservoirKB: 1536,
			DecodedReservoirMs: 2000,
			RampLongMs:         500,
			RampShortMs:        50,
			SenderMinLatencyMs: 150,
			MaxLatencyMs:       2000,
		},
	}
}

// Load builds a Config from the defaults, the YAML file at path (if any),
// a .env file in the working directory (if any) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("config: load .env: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from RENDERER_* variables found by lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s%s=%q", ErrInvalid, EnvPrefix, name, v))
				return
			}
			*dst = n
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s%s=%q", ErrInvalid, EnvPrefix, name, v))
				return
			}
			*dst = b
		}
	}

	str("NAME", &c.Name)
	str("OUTPUT", &c.Output)
	num("VOLUME", &c.Volume)
	str("PLAY", &c.Play)
	str("LOG_FILE", &c.Log.File)
	str("LOG_LEVEL", &c.Log.Level)
	flag("TUI", &c.Log.TUI)
	str("HTTP_LISTEN", &c.HTTP.Listen)
	flag("RAOP_ENABLED", &c.RAOP.Enabled)
	flag("RAOP_ADVERTISE", &c.RAOP.Advertise)
	num("RAOP_RTSP_PORT", &c.RAOP.RTSPPort)
	num("RAOP_AUDIO_PORT", &c.RAOP.AudioPort)
	num("RAOP_CONTROL_PORT", &c.RAOP.ControlPort)
	str("RAOP_KEY", &c.RAOP.Key)
	str("RAOP_IV", &c.RAOP.IV)
	str("RAOP_FMTP", &c.RAOP.Fmtp)
	num("RAOP_IDLE_SECONDS", &c.RAOP.IdleSeconds)
	if v, ok := lookup(EnvPrefix + "RAOP_LATENCY"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %sRAOP_LATENCY=%q", ErrInvalid, EnvPrefix, v))
		} else {
			c.RAOP.Latency = uint32(n)
		}
	}
	num("PIPELINE_DECODED_RESERVOIR_MS", &c.Pipeline.DecodedReservoirMs)
	num("PIPELINE_MAX_LATENCY_MS", &c.Pipeline.MaxLatencyMs)
	flag("PIPELINE_LOG_ELEMENTS", &c.Pipeline.LogElements)
	return errors.Join(errs...)
}

// Validate checks the configuration can start a renderer
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Name) == "":
		return fmt.Errorf("%w: empty name", ErrInvalid)
	case c.Output != OutputOto && c.Output != OutputNull:
		return fmt.Errorf("%w: output %q", ErrInvalid, c.Output)
	case c.Volume < 0 || c.Volume > 100:
		return fmt.Errorf("%w: volume %d", ErrInvalid, c.Volume)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log level %q", ErrInvalid, c.Log.Level)
	}
	if c.RAOP.Enabled {
		if err := c.RAOP.validate(); err != nil {
			return err
		}
	}
	if _, err := c.Pipeline.Build(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func (r RAOPConfig) validate() error {
	for _, p := range []int{r.AudioPort, r.ControlPort, r.RTSPPort} {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("%w: raop port %d", ErrInvalid, p)
		}
	}
	if r.AudioPort == r.ControlPort {
		return fmt.Errorf("%w: raop audio and control share port %d", ErrInvalid, r.AudioPort)
	}
	if _, _, err := r.Keys(); err != nil {
		return err
	}
	if r.IdleSeconds <= 0 {
		return fmt.Errorf("%w: raop idle of %ds", ErrInvalid, r.IdleSeconds)
	}
	return nil
}

// Keys decodes the session key and IV
func (r RAOPConfig) Keys() (key, iv []byte, err error) {
	key, err = hex.DecodeString(r.Key)
	if err != nil || len(key) != 16 {
		return nil, nil, fmt.Errorf("%w: raop key must be 32 hex digits", ErrInvalid)
	}
	iv, err = hex.DecodeString(r.IV)
	if err != nil || len(iv) != 16 {
		return nil, nil, fmt.Errorf("%w: raop iv must be 32 hex digits", ErrInvalid)
	}
	return key, iv, nil
}

// Build converts to a validated pipeline.Config
func (p PipelineConfig) Build() (pipeline.Config, error) {
	c := pipeline.DefaultConfig()
	c.EncodedReservoirBytes = p.EncodedReservoirKB * 1024
	c.DecodedReservoirJiffies = ms(p.DecodedReservoirMs)
	c.RampLongJiffies = ms(p.RampLongMs)
	c.RampShortJiffies = ms(p.RampShortMs)
	c.SenderMinLatency = ms(p.SenderMinLatencyMs)
	c.MaxLatencyJiffies = ms(p.MaxLatencyMs)
	c.LogElements = p.LogElements
	return c, c.Validate()
}

func ms(v int) uint64 {
	if v <= 0 {
		return 0
	}
	return uint64(v) * msg.JiffiesPerMs
}

// Attenuation maps Volume onto the pipeline's attenuation scale
func (c Config) Attenuation() uint32 {
	return uint32(uint64(msg.AttenuationUnity) * uint64(c.Volume) / 100)
}
