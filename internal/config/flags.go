// ABOUTME: Command line flags overriding the loaded configuration
// ABOUTME: Only flags given explicitly replace file and environment values
package config

import (
	flag "github.com/spf13/pflag"
)

// Flags binds command line options. Parse the FlagSet, Load the config, then
// call Apply.
type Flags struct {
	fs     *flag.FlagSet
	v      Config
	Config string
	noTUI  bool
}

// NewFlags registers the renderer flags on fs
func NewFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{fs: fs, v: Default()}
	fs.StringVarP(&f.Config, "config", "c", "", "YAML configuration file")
	fs.StringVarP(&f.v.Name, "name", "n", f.v.Name, "Renderer friendly name")
	fs.StringVar(&f.v.Output, "output", f.v.Output, "Audio output: oto or null")
	fs.IntVar(&f.v.Volume, "volume", f.v.Volume, "Initial volume 0-100")
	fs.StringVar(&f.v.Play, "play", "", "URI to play at startup (http, https, hls)")
	fs.StringVar(&f.v.Log.File, "log-file", f.v.Log.File, "Log file path")
	fs.StringVar(&f.v.Log.Level, "log-level", f.v.Log.Level, "Log level")
	fs.BoolVar(&f.noTUI, "no-tui", false, "Disable TUI, stream logs to stdout instead")
	fs.StringVar(&f.v.HTTP.Listen, "listen", f.v.HTTP.Listen, "Address for /events and /metrics, empty to disable")
	fs.BoolVar(&f.v.RAOP.Enabled, "raop", f.v.RAOP.Enabled, "Receive RAOP audio")
	fs.IntVar(&f.v.RAOP.AudioPort, "raop-audio-port", f.v.RAOP.AudioPort, "RAOP audio UDP port")
	fs.IntVar(&f.v.RAOP.ControlPort, "raop-control-port", f.v.RAOP.ControlPort, "RAOP control UDP port")
	fs.StringVar(&f.v.RAOP.Key, "raop-key", "", "RAOP session AES key, hex")
	fs.StringVar(&f.v.RAOP.IV, "raop-iv", "", "RAOP session AES IV, hex")
	fs.BoolVar(&f.v.Pipeline.LogElements, "log-elements", false, "Log every message between pipeline elements")
	return f
}

// Apply copies the flags the user set onto c
func (f *Flags) Apply(c *Config) {
	set := map[string]func(){
		"name":              func() { c.Name = f.v.Name },
		"output":            func() { c.Output = f.v.Output },
		"volume":            func() { c.Volume = f.v.Volume },
		"play":              func() { c.Play = f.v.Play },
		"log-file":          func() { c.Log.File = f.v.Log.File },
		"log-level":         func() { c.Log.Level = f.v.Log.Level },
		"no-tui":            func() { c.Log.TUI = !f.noTUI },
		"listen":            func() { c.HTTP.Listen = f.v.HTTP.Listen },
		"raop":              func() { c.RAOP.Enabled = f.v.RAOP.Enabled },
		"raop-audio-port":   func() { c.RAOP.AudioPort = f.v.RAOP.AudioPort },
		"raop-control-port": func() { c.RAOP.ControlPort = f.v.RAOP.ControlPort },
		"raop-key":          func() { c.RAOP.Key = f.v.RAOP.Key },
		"raop-iv":           func() { c.RAOP.IV = f.v.RAOP.IV },
		"log-elements":      func() { c.Pipeline.LogElements = f.v.Pipeline.LogElements },
	}
	f.fs.Visit(func(fl *flag.Flag) {
		if apply, ok := set[fl.Name]; ok {
			apply()
		}
	})
}
