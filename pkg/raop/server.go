// ABOUTME: UDP reader goroutine handing packets to the protocol one at a time
// ABOUTME: The reader waits for each packet to be consumed before reading the next
package raop

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// Classifier turns a datagram into an audio packet for the consumer. It
// returns false for datagrams it handled itself, and an error for those
// that are malformed.
type Classifier func(b []byte, from net.Addr) (AudioPacket, bool, error)

// Server reads one UDP socket. Packets are discarded while it is closed.
type Server struct {
	name     string
	conn     net.PacketConn
	classify Classifier
	logger   zerolog.Logger

	open     atomic.Bool
	slot     chan AudioPacket
	consumed chan struct{}
	received atomic.Uint64
	invalid  atomic.Uint64
}

// ListenUDP binds a UDP socket on addr, e.g. ":6000"
func ListenUDP(ctx context.Context, addr string) (net.PacketConn, error) {
	var lc net.ListenConfig
	return lc.ListenPacket(ctx, "udp", addr)
}

func NewServer(name string, conn net.PacketConn, classify Classifier, logger zerolog.Logger) *Server {
	return &Server{
		name:     name,
		conn:     conn,
		classify: classify,
		logger:   logger.With().Str("server", name).Logger(),
		slot:     make(chan AudioPacket, 1),
		consumed: make(chan struct{}, 1),
	}
}

// Packets delivers the packet waiting to be consumed. Call Consumed once it
// has been processed.
func (s *Server) Packets() <-chan AudioPacket { return s.slot }

// Consumed lets the reader fetch the next packet
func (s *Server) Consumed() {
	select {
	case s.consumed <- struct{}{}:
	default:
	}
}

// Open starts passing packets to the consumer
func (s *Server) Open() { s.open.Store(true) }

// Close stops passing packets and drops any that was not yet taken
func (s *Server) Close() {
	s.open.Store(false)
	select {
	case <-s.slot:
		s.Consumed()
	default:
	}
}

// Interrupt makes a blocked read return promptly
func (s *Server) Interrupt() {
	if err := s.conn.SetReadDeadline(time.Now()); err != nil {
		s.logger.Debug().Err(err).Msg("interrupt")
	}
}

// Addr is the local address the server reads from
func (s *Server) Addr() net.Addr { return s.conn.LocalAddr() }

// Stats returns datagrams received and those rejected as invalid
func (s *Server) Stats() (received, invalid uint64) {
	return s.received.Load(), s.invalid.Load()
}

// Run reads until ctx is done or the socket is closed
func (s *Server) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.Interrupt)
	defer stop()

	buf := make([]byte, maxPacketBytes)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, from, err := s.conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				// interrupted; clear the deadline before reading again
				if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
					return err
				}
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Debug().Err(err).Msg("read failed")
			continue
		}
		s.received.Inc()
		if !s.open.Load() {
			continue
		}
		p, ok, err := s.classify(buf[:n], from)
		if err != nil {
			s.invalid.Inc()
			s.logger.Debug().Err(err).Msg("discarding packet")
			continue
		}
		if !ok {
			continue
		}

		select {
		case s.slot <- p:
		case <-ctx.Done():
			return nil
		}
		select {
		case <-s.consumed:
		case <-ctx.Done():
			return nil
		}
	}
}

// ClassifyAudio accepts audio packets
func ClassifyAudio(b []byte, _ net.Addr) (AudioPacket, bool, error) {
	p, err := ParseAudio(b)
	return p, err == nil, err
}
