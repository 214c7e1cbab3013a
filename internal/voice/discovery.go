package voice

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// Address discovery packet layout: type (2), length (2), ssrc (4),
// address (64, null terminated) and port (2), all big endian
const (
	discoveryPacketSize = 74
	discoveryRequest    = 0x1
	discoveryResponse   = 0x2
	discoveryTimeout    = 5 * time.Second
)

// buildDiscoveryRequest assembles the request packet for our ssrc
func buildDiscoveryRequest(ssrc uint32) []byte {
	packet := make([]byte, discoveryPacketSize)
	binary.BigEndian.PutUint16(packet[0:2], discoveryRequest)
	binary.BigEndian.PutUint16(packet[2:4], 70)
	binary.BigEndian.PutUint32(packet[4:8], ssrc)
	return packet
}

// parseDiscoveryResponse extracts our external address from the
// server's response
func parseDiscoveryResponse(packet []byte, ssrc uint32) (string, uint16, error) {
	if len(packet) < discoveryPacketSize {
		return "", 0, fmt.Errorf("discovery response too short: %d bytes", len(packet))
	}
	if binary.BigEndian.Uint16(packet[0:2]) != discoveryResponse {
		return "", 0, fmt.Errorf("unexpected discovery packet type %#x", packet[0:2])
	}
	if got := binary.BigEndian.Uint32(packet[4:8]); got != ssrc {
		return "", 0, fmt.Errorf("discovery response for ssrc %d, want %d", got, ssrc)
	}

	addr := packet[8:72]
	if i := bytes.IndexByte(addr, 0); i >= 0 {
		addr = addr[:i]
	}
	if len(addr) == 0 {
		return "", 0, fmt.Errorf("discovery response has no address")
	}

	port := binary.BigEndian.Uint16(packet[72:74])
	return string(addr), port, nil
}

// discoverAddress asks the voice server which external address our
// media packets arrive from
func discoverAddress(udp *net.UDPConn, ssrc uint32) (string, uint16, error) {
	if _, err := udp.Write(buildDiscoveryRequest(ssrc)); err != nil {
		return "", 0, fmt.Errorf("failed to send discovery request: %w", err)
	}

	udp.SetReadDeadline(time.Now().Add(discoveryTimeout))
	defer udp.SetReadDeadline(time.Time{})

	buf := make([]byte, discoveryPacketSize)
	n, err := udp.Read(buf)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read discovery response: %w", err)
	}
	return parseDiscoveryResponse(buf[:n], ssrc)
}
