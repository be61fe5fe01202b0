// ABOUTME: RAOP control channel: sync packets, resend requests and responses
// ABOUTME: Tracks sender latency and hands recovered audio packets to the protocol
package raop

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Control handles datagrams on the control port. Sync packets update the
// latency and clock; resend responses are handed to the consumer.
type Control struct {
	conn   net.PacketConn
	clock  *Clock
	logger zerolog.Logger

	mu      sync.Mutex
	sender  net.Addr
	latency uint32
	buf     []byte
}

func NewControl(conn net.PacketConn, clock *Clock, logger zerolog.Logger) *Control {
	return &Control{
		conn:   conn,
		clock:  clock,
		logger: logger.With().Str("component", "raop-control").Logger(),
	}
}

// Classify implements Classifier for the control server
func (c *Control) Classify(b []byte, from net.Addr) (AudioPacket, bool, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return AudioPacket{}, false, err
	}
	c.mu.Lock()
	c.sender = from
	c.mu.Unlock()

	switch h.PayloadType {
	case TypeSync:
		s, err := ParseSync(b)
		if err != nil {
			return AudioPacket{}, false, err
		}
		c.mu.Lock()
		if old := c.latency; old != s.Latency() {
			c.latency = s.Latency()
			c.logger.Debug().Uint32("from", old).Uint32("to", c.latency).Msg("latency changed")
		}
		c.mu.Unlock()
		c.clock.Update(s, time.Now())
		return AudioPacket{}, false, nil
	case TypeResendResponse:
		p, err := ParseResendResponse(b)
		return p, err == nil, err
	default:
		return AudioPacket{}, false, fmt.Errorf("%w: control type 0x%02x", ErrInvalidPacket, h.PayloadType)
	}
}

// Latency is the last latency announced by the sender, in samples, or zero
// before the first sync packet
func (c *Control) Latency() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latency
}

// RequestResend implements ResendRequester by writing one request per range
// to the last known sender
func (c *Control) RequestResend(ranges []Range) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sender == nil {
		return
	}
	for _, r := range ranges {
		c.buf = AppendResendRequest(c.buf[:0], r.Start, r.Count())
		if _, err := c.conn.WriteTo(c.buf, c.sender); err != nil {
			// a lost request is retried by the repairer
			c.logger.Debug().Err(err).Msg("resend request failed")
		}
	}
}
