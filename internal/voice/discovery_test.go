package voice

import (
	"encoding/binary"
	"net"
	"testing"
)

func TestBuildDiscoveryRequest(t *testing.T) {
	packet := buildDiscoveryRequest(0xDEADBEEF)

	if len(packet) != discoveryPacketSize {
		t.Fatalf("packet length = %d, want %d", len(packet), discoveryPacketSize)
	}
	if got := binary.BigEndian.Uint16(packet[0:2]); got != discoveryRequest {
		t.Errorf("type = %#x, want %#x", got, discoveryRequest)
	}
	if got := binary.BigEndian.Uint16(packet[2:4]); got != 70 {
		t.Errorf("length field = %d, want 70", got)
	}
	if got := binary.BigEndian.Uint32(packet[4:8]); got != 0xDEADBEEF {
		t.Errorf("ssrc = %#x, want 0xDEADBEEF", got)
	}
}

// buildResponse assembles a discovery response the way the voice
// server does
func buildResponse(ssrc uint32, address string, port uint16) []byte {
	packet := make([]byte, discoveryPacketSize)
	binary.BigEndian.PutUint16(packet[0:2], discoveryResponse)
	binary.BigEndian.PutUint16(packet[2:4], 70)
	binary.BigEndian.PutUint32(packet[4:8], ssrc)
	copy(packet[8:72], address)
	binary.BigEndian.PutUint16(packet[72:74], port)
	return packet
}

func TestParseDiscoveryResponse(t *testing.T) {
	packet := buildResponse(42, "203.0.113.5", 50004)

	addr, port, err := parseDiscoveryResponse(packet, 42)
	if err != nil {
		t.Fatalf("parseDiscoveryResponse failed: %v", err)
	}
	if addr != "203.0.113.5" {
		t.Errorf("address = %q, want '203.0.113.5'", addr)
	}
	if port != 50004 {
		t.Errorf("port = %d, want 50004", port)
	}
}

func TestParseDiscoveryResponseErrors(t *testing.T) {
	tests := []struct {
		name   string
		packet []byte
		ssrc   uint32
	}{
		{"too short", make([]byte, 10), 42},
		{"wrong type", buildDiscoveryRequest(42), 42},
		{"wrong ssrc", buildResponse(7, "203.0.113.5", 50004), 42},
		{"empty address", buildResponse(42, "", 50004), 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := parseDiscoveryResponse(tt.packet, tt.ssrc); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestDiscoverAddress(t *testing.T) {
	server, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer server.Close()

	// The fake voice server echoes the observed source address back
	go func() {
		buf := make([]byte, discoveryPacketSize)
		n, addr, err := server.ReadFromUDP(buf)
		if err != nil || n < discoveryPacketSize {
			return
		}
		ssrc := binary.BigEndian.Uint32(buf[4:8])
		server.WriteToUDP(buildResponse(ssrc, addr.IP.String(), uint16(addr.Port)), addr)
	}()

	client, err := net.DialUDP("udp", nil, server.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer client.Close()

	addr, port, err := discoverAddress(client, 99)
	if err != nil {
		t.Fatalf("discoverAddress failed: %v", err)
	}
	if addr != "127.0.0.1" {
		t.Errorf("address = %q, want '127.0.0.1'", addr)
	}
	if int(port) != client.LocalAddr().(*net.UDPAddr).Port {
		t.Errorf("port = %d, want our source port %d", port, client.LocalAddr().(*net.UDPAddr).Port)
	}
}
