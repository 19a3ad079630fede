package capture

import (
	"context"
	"fmt"
	"net"

	"meeting-scribe/internal/audio"
	"meeting-scribe/internal/observability/logging"
)

// UDPSource receives raw little-endian 16-bit PCM over UDP and frames it.
// One bound port is one logical input device; a loopback capture tool and
// a microphone bridge each send to their own port so both sides of a call
// arrive as distinct devices.
type UDPSource struct {
	*MemorySource
	port int
	conn *net.UDPConn
}

// NewUDPSource creates a UDP PCM listener for the given device id.
func NewUDPSource(deviceID string, port, frameSamples, sampleRate int) *UDPSource {
	return &UDPSource{
		MemorySource: NewMemorySource(deviceID, frameSamples, sampleRate),
		port:         port,
	}
}

// Start binds the UDP port and begins reading datagrams until ctx is done.
func (s *UDPSource) Start(ctx context.Context) error {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: s.port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("bind udp %d: %w", s.port, err)
	}
	s.conn = conn

	logger := logging.WithDevice("capture", s.DeviceID())
	logger.Info().Int("port", s.port).Msg("UDP frame source listening")

	go func() {
		<-ctx.Done()
		conn.Close()
		s.Close()
	}()

	go func() {
		buf := make([]byte, 65536)
		for {
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				if ctx.Err() == nil {
					logger.Error().Err(err).Msg("UDP read failed, stopping source")
				}
				s.Close()
				return
			}
			if n == 0 {
				continue
			}
			s.Push(audio.DecodePCM(buf[:n]))
		}
	}()
	return nil
}

// Close releases the socket and the underlying frame channel.
func (s *UDPSource) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	return s.MemorySource.Close()
}
