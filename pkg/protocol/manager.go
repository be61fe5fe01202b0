// ABOUTME: Protocol manager dispatching URIs to the protocol that supports them
// ABOUTME: Retries recoverable stream failures with a bounded number of attempts
package protocol

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Manager owns the registered protocols
type Manager struct {
	logger     zerolog.Logger
	retries    int
	retryDelay time.Duration

	mu        sync.Mutex
	protocols []Protocol
}

func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		logger:     logger.With().Str("component", "protocol-manager").Logger(),
		retries:    3,
		retryDelay: 500 * time.Millisecond,
	}
}

// Add registers a protocol. Earlier protocols win when several support a URI.
func (m *Manager) Add(p Protocol) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.protocols = append(m.protocols, p)
}

func (m *Manager) find(uri string) Protocol {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.protocols {
		if p.Supports(uri) {
			return p
		}
	}
	return nil
}

// Supports reports whether any registered protocol handles uri
func (m *Manager) Supports(uri string) bool {
	return m.find(uri) != nil
}

// Stream plays uri with the first protocol that supports it, retrying
// recoverable errors
func (m *Manager) Stream(ctx context.Context, uri string) (StreamResult, error) {
	p := m.find(uri)
	if p == nil {
		return StreamNotSupported, fmt.Errorf("%w: %s", ErrNotSupported, uri)
	}

	log := m.logger.With().Str("uri", uri).Logger()
	for attempt := 0; ; attempt++ {
		res := p.Stream(ctx, uri)
		log.Debug().Stringer("result", res).Int("attempt", attempt).Msg("stream ended")
		if res != StreamErrorRecoverable || attempt >= m.retries {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return StreamStopped, ctx.Err()
		case <-time.After(m.retryDelay):
		}
	}
}

// Interrupt interrupts every protocol
func (m *Manager) Interrupt(interrupt bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.protocols {
		p.Interrupt(interrupt)
	}
}

// Scheme returns the lower-case scheme of uri, or "" if it has none
func Scheme(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return u.Scheme
}
