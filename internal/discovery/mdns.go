// ABOUTME: mDNS advertisement of the renderer's RAOP receiver and event feed
// ABOUTME: Publishes _raop._tcp with AirPlay TXT records and _resonate-renderer._tcp for /events
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog"
)

const (
	RAOPService   = "_raop._tcp"
	EventsService = "_resonate-renderer._tcp"
)

// Config holds discovery configuration. A zero port skips that service.
type Config struct {
	Name       string
	RAOPPort   int
	EventsPort int
	SampleRate int
	Channels   int
	BitDepth   int
	Version    string
}

// Manager handles mDNS operations
type Manager struct {
	config  Config
	logger  zerolog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	servers []*mdns.Server
}

// NewManager creates a discovery manager
func NewManager(config Config, logger zerolog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config: config,
		logger: logger.With().Str("component", "discovery").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// DeviceID is the stable six byte hardware address RAOP senders expect,
// derived from the renderer name
func DeviceID(name string) string {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(name))
	return strings.ToUpper(fmt.Sprintf("%x", id[:6]))
}

// RAOPInstance is the service instance name, "<device id>@<name>"
func RAOPInstance(name string) string {
	return DeviceID(name) + "@" + name
}

// RAOPRecords are the TXT records of the RAOP service. The receiver takes
// uncompressed PCM with RSA-less static keys, which is what cn=0 and et=0 say.
func RAOPRecords(c Config) []string {
	return []string{
		"txtvers=1",
		"ch=" + strconv.Itoa(c.Channels),
		"cn=0",
		"et=0",
		"sv=false",
		"da=true",
		"sr=" + strconv.Itoa(c.SampleRate),
		"ss=" + strconv.Itoa(c.BitDepth),
		"pw=false",
		"vn=3",
		"tp=UDP",
		"md=0",
		"am=" + c.Version,
	}
}

// Advertise publishes the configured services until Stop
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	if m.config.RAOPPort > 0 {
		if err := m.advertise(RAOPInstance(m.config.Name), RAOPService, m.config.RAOPPort, ips, RAOPRecords(m.config)); err != nil {
			return err
		}
	}
	if m.config.EventsPort > 0 {
		txt := []string{"path=/events", "version=" + m.config.Version}
		if err := m.advertise(m.config.Name, EventsService, m.config.EventsPort, ips, txt); err != nil {
			return err
		}
	}

	go func() {
		<-m.ctx.Done()
		for _, s := range m.servers {
			if err := s.Shutdown(); err != nil {
				m.logger.Warn().Err(err).Msg("mdns shutdown")
			}
		}
	}()
	return nil
}

func (m *Manager) advertise(instance, service string, port int, ips []net.IP, txt []string) error {
	zone, err := mdns.NewMDNSService(instance, service, "", "", port, ips, txt)
	if err != nil {
		return fmt.Errorf("failed to create service %s: %w", service, err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: zone})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}
	m.servers = append(m.servers, server)
	m.logger.Info().Str("instance", instance).Str("service", service).Int("port", port).Msg("advertising")
	return nil
}

// Stop withdraws every advertisement
func (m *Manager) Stop() {
	m.cancel()
}

// getLocalIPs returns the IPv4 addresses of the interfaces that are up
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
				ips = append(ips, ipnet.IP)
			}
		}
	}

	return ips, nil
}
