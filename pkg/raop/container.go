// ABOUTME: Framing used to carry RAOP audio through the encoded pipeline
// ABOUTME: A text header naming the format, then length-prefixed decrypted packets
package raop

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ContainerMagic starts every RAOP encoded stream
const ContainerMagic = "Raop"

// ErrInvalidContainer is returned for a malformed stream header
var ErrInvalidContainer = errors.New("raop: invalid container header")

// ContainerHeader returns the stream header carrying the session's fmtp line
func ContainerHeader(fmtp string) []byte {
	return []byte(fmt.Sprintf("%s %d %s\n", ContainerMagic, len(fmtp), fmtp))
}

// ReadContainerHeader consumes a stream header and returns its fmtp. It reads
// byte by byte so nothing past the header is taken from r.
func ReadContainerHeader(r io.Reader) (string, error) {
	var sb strings.Builder
	var b [1]byte
	for sb.Len() < 1024 {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidContainer, err)
		}
		if b[0] == '\n' {
			return parseContainerHeader(sb.String())
		}
		sb.WriteByte(b[0])
	}
	return "", fmt.Errorf("%w: header too long", ErrInvalidContainer)
}

func parseContainerHeader(line string) (string, error) {
	magic, rest, ok := strings.Cut(line, " ")
	if !ok || magic != ContainerMagic {
		return "", ErrInvalidContainer
	}
	lenStr, fmtp, ok := strings.Cut(rest, " ")
	if !ok {
		return "", ErrInvalidContainer
	}
	n, err := strconv.Atoi(lenStr)
	if err != nil || n != len(fmtp) {
		return "", fmt.Errorf("%w: fmtp length %q", ErrInvalidContainer, lenStr)
	}
	return fmtp, nil
}

// AppendPacket appends one framed payload to dst
func AppendPacket(dst, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// ReadPacket reads one framed payload into buf, growing it as needed
func ReadPacket(r io.Reader, buf []byte) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint32(hdr[:]))
	if n > maxPacketBytes {
		return nil, fmt.Errorf("%w: packet of %d bytes", ErrInvalidContainer, n)
	}
	if cap(buf) < n {
		buf = make([]byte, n)
	}
	buf = buf[:n]
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// Format is the audio encoding named by an fmtp line
type Format struct {
	Encoding   string
	SampleRate int
	Channels   int
	BitDepth   int
}

// ParseFmtp understands "96 L16/44100/2" style rtpmap lines and the ALAC
// parameter list "96 352 0 16 40 10 14 2 255 0 0 44100"
func ParseFmtp(fmtp string) (Format, error) {
	fields := strings.Fields(fmtp)
	if len(fields) < 2 {
		return Format{}, fmt.Errorf("raop: short fmtp %q", fmtp)
	}
	if strings.Contains(fields[1], "/") {
		parts := strings.Split(fields[1], "/")
		f := Format{Encoding: strings.ToUpper(parts[0]), Channels: 2}
		if len(parts) > 1 {
			rate, err := strconv.Atoi(parts[1])
			if err != nil {
				return Format{}, fmt.Errorf("raop: bad rate in fmtp %q", fmtp)
			}
			f.SampleRate = rate
		}
		if len(parts) > 2 {
			ch, err := strconv.Atoi(parts[2])
			if err != nil {
				return Format{}, fmt.Errorf("raop: bad channels in fmtp %q", fmtp)
			}
			f.Channels = ch
		}
		switch f.Encoding {
		case "L16":
			f.BitDepth = 16
		case "L24":
			f.BitDepth = 24
		}
		return f, nil
	}
	if len(fields) != 12 {
		return Format{}, fmt.Errorf("raop: unrecognised fmtp %q", fmtp)
	}
	nums := make([]int, len(fields))
	for i, s := range fields {
		v, err := strconv.Atoi(s)
		if err != nil {
			return Format{}, fmt.Errorf("raop: bad alac fmtp %q", fmtp)
		}
		nums[i] = v
	}
	return Format{Encoding: "ALAC", BitDepth: nums[3], Channels: nums[7], SampleRate: nums[11]}, nil
}
