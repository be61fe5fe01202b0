// ABOUTME: Entry point for the Resonate renderer
// ABOUTME: Loads configuration and runs the renderer, event server, discovery and TUI
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/Resonate-Protocol/resonate-renderer/internal/app"
	"github.com/Resonate-Protocol/resonate-renderer/internal/config"
	"github.com/Resonate-Protocol/resonate-renderer/internal/discovery"
	"github.com/Resonate-Protocol/resonate-renderer/internal/server"
	"github.com/Resonate-Protocol/resonate-renderer/internal/ui"
	"github.com/Resonate-Protocol/resonate-renderer/internal/version"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/audio/output"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/raop"
)

const statsInterval = 500 * time.Millisecond

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "resonate-renderer: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("resonate-renderer", flag.ExitOnError)
	flags := config.NewFlags(fs)
	showVersion := fs.Bool("version", false, "Print the version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Println(version.UserAgent())
		return nil
	}

	cfg, err := config.Load(flags.Config)
	if err != nil {
		return err
	}
	flags.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closeLog, err := setupLogging(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()
	logger.Info().Str("name", cfg.Name).Str("version", version.Version).Msg("starting renderer")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	renderer, err := app.New(ctx, cfg, newOutput(cfg, logger), logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.HTTP.Listen != "" {
		srv := server.New(server.Config{
			Addr:    cfg.HTTP.Listen,
			Name:    cfg.Name,
			Metrics: renderer.Metrics().Handler(),
		}, renderer, logger)
		renderer.AddObserver(srv)
		g.Go(func() error { return srv.Run(ctx) })
	}

	disc := discovery.NewManager(discoveryConfig(cfg), logger)
	if err := disc.Advertise(); err != nil {
		logger.Warn().Err(err).Msg("mDNS advertisement failed")
	}
	defer disc.Stop()

	if cfg.Log.TUI {
		controls := ui.NewControls()
		prog := ui.Run(cfg.Name, cfg.Volume, controls)
		renderer.AddObserver(ui.NewObserver(prog))
		g.Go(func() error {
			_, err := prog.Run()
			cancel()
			return err
		})
		g.Go(func() error {
			<-ctx.Done()
			prog.Quit()
			return nil
		})
		g.Go(func() error {
			renderer.HandleControls(ctx, controls, cancel)
			return nil
		})
		g.Go(func() error {
			statsLoop(ctx, renderer, prog)
			return nil
		})
	}

	g.Go(func() error { return renderer.Run(ctx) })

	err = g.Wait()
	logger.Info().Msg("renderer exited")
	return err
}

// setupLogging logs to the file only while the TUI owns the terminal, and to
// the file and stdout otherwise
func setupLogging(c config.LogConfig) (zerolog.Logger, func(), error) {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		return zerolog.Nop(), nil, err
	}
	f, err := os.OpenFile(c.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
	}

	var w io.Writer = f
	if !c.TUI {
		w = zerolog.MultiLevelWriter(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.TimeOnly}, f)
	}
	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return logger, func() { _ = f.Close() }, nil
}

func newOutput(cfg config.Config, logger zerolog.Logger) output.Output {
	if cfg.Output == config.OutputNull {
		return output.NewNull()
	}
	return output.NewOto(logger)
}

func discoveryConfig(cfg config.Config) discovery.Config {
	c := discovery.Config{
		Name:       cfg.Name,
		SampleRate: raop.SampleRate,
		Channels:   2,
		BitDepth:   16,
		Version:    version.Version,
	}
	if cfg.RAOP.Enabled && cfg.RAOP.Advertise {
		c.RAOPPort = cfg.RAOP.RTSPPort
	}
	if _, port, err := net.SplitHostPort(cfg.HTTP.Listen); err == nil {
		c.EventsPort, _ = strconv.Atoi(port)
	}
	return c
}

// statsLoop polls renderer counters for the TUI
func statsLoop(ctx context.Context, r *app.Renderer, prog *tea.Program) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := r.Stats()
			prog.Send(ui.StatusMsg{Stats: &stats})
		}
	}
}
