// ABOUTME: RAOP packet model over RTP
// ABOUTME: Parses audio, sync and resend-response packets and builds resend requests
package raop

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pion/rtp"
)

// Payload types carried in the RAOP header
const (
	TypeSync           uint8 = 0x54
	TypeResendRequest  uint8 = 0x55
	TypeResendResponse uint8 = 0x56
	TypeAudio          uint8 = 0x60
)

const (
	rtpVersion  = 2
	headerBytes = 4
	// audio packets carry timestamp and ssrc after the RAOP header
	audioHeaderBytes = headerBytes + 8
	syncPayloadBytes = 16
	// ResendRequestBytes is the size of a marshalled resend request
	ResendRequestBytes = headerBytes + 4

	maxPacketBytes = 4096
)

// ErrInvalidPacket marks a datagram that is not a well formed RAOP packet.
// Readers discard such packets and keep reading.
var ErrInvalidPacket = errors.New("raop: invalid packet")

// Header is the 4-byte header that starts every RAOP packet
type Header struct {
	Padding     bool
	Extension   bool
	CsrcCount   uint8
	Marker      bool
	PayloadType uint8
	Seq         uint16
}

// ParseHeader reads the header at the start of b
func ParseHeader(b []byte) (Header, error) {
	if len(b) < headerBytes {
		return Header{}, fmt.Errorf("%w: %d byte header", ErrInvalidPacket, len(b))
	}
	if b[0]>>6 != rtpVersion {
		return Header{}, fmt.Errorf("%w: rtp version %d", ErrInvalidPacket, b[0]>>6)
	}
	return Header{
		Padding:     b[0]&0x20 != 0,
		Extension:   b[0]&0x10 != 0,
		CsrcCount:   b[0] & 0x0f,
		Marker:      b[1]&0x80 != 0,
		PayloadType: b[1] & 0x7f,
		Seq:         binary.BigEndian.Uint16(b[2:4]),
	}, nil
}

// AppendTo writes the header to dst
func (h Header) AppendTo(dst []byte) []byte {
	b0 := byte(rtpVersion<<6) | h.CsrcCount&0x0f
	if h.Padding {
		b0 |= 0x20
	}
	if h.Extension {
		b0 |= 0x10
	}
	b1 := h.PayloadType & 0x7f
	if h.Marker {
		b1 |= 0x80
	}
	dst = append(dst, b0, b1)
	return binary.BigEndian.AppendUint16(dst, h.Seq)
}

// AudioPacket is one RTP packet of encrypted audio
type AudioPacket struct {
	Seq       uint16
	Timestamp uint32
	SSRC      uint32
	Marker    bool
	Payload   []byte
	// Resent is set for packets recovered through the control channel
	Resent bool
}

// ParseAudio parses an audio packet. The payload is copied so b may be reused.
func ParseAudio(b []byte) (AudioPacket, error) {
	if len(b) < audioHeaderBytes {
		return AudioPacket{}, fmt.Errorf("%w: %d byte audio packet", ErrInvalidPacket, len(b))
	}
	if b[0]>>6 != rtpVersion {
		return AudioPacket{}, fmt.Errorf("%w: rtp version %d", ErrInvalidPacket, b[0]>>6)
	}
	var p rtp.Packet
	if err := p.Unmarshal(b); err != nil {
		return AudioPacket{}, fmt.Errorf("%w: %v", ErrInvalidPacket, err)
	}
	if p.PayloadType != TypeAudio {
		return AudioPacket{}, fmt.Errorf("%w: audio packet type 0x%02x", ErrInvalidPacket, p.PayloadType)
	}
	return AudioPacket{
		Seq:       p.SequenceNumber,
		Timestamp: p.Timestamp,
		SSRC:      p.SSRC,
		Marker:    p.Marker,
		Payload:   append([]byte(nil), p.Payload...),
	}, nil
}

// ParseResendResponse unwraps the audio packet carried by a resend response
func ParseResendResponse(b []byte) (AudioPacket, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return AudioPacket{}, err
	}
	if h.PayloadType != TypeResendResponse {
		return AudioPacket{}, fmt.Errorf("%w: resend response type 0x%02x", ErrInvalidPacket, h.PayloadType)
	}
	p, err := ParseAudio(b[headerBytes:])
	if err != nil {
		return AudioPacket{}, err
	}
	p.Resent = true
	return p, nil
}

// SyncPacket correlates an RTP timestamp with the sender's NTP clock
type SyncPacket struct {
	Header
	RtpTimestampMinusLatency uint32
	NtpSeconds               uint32
	NtpFraction              uint32
	RtpTimestamp             uint32
}

func ParseSync(b []byte) (SyncPacket, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return SyncPacket{}, err
	}
	if h.PayloadType != TypeSync {
		return SyncPacket{}, fmt.Errorf("%w: sync type 0x%02x", ErrInvalidPacket, h.PayloadType)
	}
	p := b[headerBytes:]
	if len(p) < syncPayloadBytes {
		return SyncPacket{}, fmt.Errorf("%w: %d byte sync payload", ErrInvalidPacket, len(p))
	}
	return SyncPacket{
		Header:                   h,
		RtpTimestampMinusLatency: binary.BigEndian.Uint32(p[0:4]),
		NtpSeconds:               binary.BigEndian.Uint32(p[4:8]),
		NtpFraction:              binary.BigEndian.Uint32(p[8:12]),
		RtpTimestamp:             binary.BigEndian.Uint32(p[12:16]),
	}, nil
}

// Latency is the sender's requested latency in samples
func (s SyncPacket) Latency() uint32 {
	return s.RtpTimestamp - s.RtpTimestampMinusLatency
}

// NtpMicros converts the NTP time to microseconds since the NTP epoch
func (s SyncPacket) NtpMicros() int64 {
	frac := (uint64(s.NtpFraction) * 1_000_000) >> 32
	return int64(s.NtpSeconds)*1_000_000 + int64(frac)
}

// AppendResendRequest marshals a request for count packets from seqStart
func AppendResendRequest(dst []byte, seqStart, count uint16) []byte {
	h := Header{Marker: true, PayloadType: TypeResendRequest, Seq: 1}
	dst = h.AppendTo(dst)
	dst = binary.BigEndian.AppendUint16(dst, seqStart)
	return binary.BigEndian.AppendUint16(dst, count)
}
