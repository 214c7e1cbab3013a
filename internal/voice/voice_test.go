package voice

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/veebot/veebot/internal/discord"
	"github.com/veebot/veebot/pkg/audio"
	"github.com/veebot/veebot/pkg/logger"
)

const testSSRC = 3110

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()

	l, err := logger.New(logger.Config{Level: "error", Format: "json", Output: "stdout", Component: "test"})
	if err != nil {
		t.Fatalf("logger.New() failed: %v", err)
	}
	l.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	return l
}

// fakeVoiceServer plays the server side of the voice handshake: a
// scripted voice gateway over websocket plus a UDP socket that answers
// address discovery and collects media packets.
type fakeVoiceServer struct {
	t        *testing.T
	srv      *httptest.Server
	udp      *net.UDPConn
	udpPort  int
	key      [32]byte
	media    chan []byte
	speaking chan int
}

func newFakeVoiceServer(t *testing.T) *fakeVoiceServer {
	t.Helper()

	f := &fakeVoiceServer{
		t:        t,
		media:    make(chan []byte, 32),
		speaking: make(chan int, 8),
	}
	for i := range f.key {
		f.key[i] = byte(i + 1)
	}

	udp, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("failed to open udp socket: %v", err)
	}
	f.udp = udp
	f.udpPort = udp.LocalAddr().(*net.UDPAddr).Port
	go f.serveUDP()

	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(func() {
		f.srv.Close()
		f.udp.Close()
	})
	return f
}

// endpoint returns the host:port the client should dial
func (f *fakeVoiceServer) endpoint() string {
	return strings.TrimPrefix(f.srv.URL, "http://")
}

func (f *fakeVoiceServer) serveUDP() {
	buf := make([]byte, 1500)
	for {
		n, addr, err := f.udp.ReadFromUDP(buf)
		if err != nil {
			return
		}
		packet := make([]byte, n)
		copy(packet, buf[:n])

		if n == discoveryPacketSize && binary.BigEndian.Uint16(packet[0:2]) == discoveryRequest {
			resp := make([]byte, discoveryPacketSize)
			binary.BigEndian.PutUint16(resp[0:2], discoveryResponse)
			binary.BigEndian.PutUint16(resp[2:4], 70)
			copy(resp[4:8], packet[4:8])
			copy(resp[8:], addr.IP.String())
			binary.BigEndian.PutUint16(resp[72:74], uint16(addr.Port))
			f.udp.WriteToUDP(resp, addr)
			continue
		}

		select {
		case f.media <- packet:
		default:
		}
	}
}

func (f *fakeVoiceServer) handle(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		f.t.Errorf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sendVoiceOp(f.t, conn, opHello, voiceHello{HeartbeatInterval: 45000})

	p, ok := expectVoiceOp(f.t, conn, opIdentify)
	if !ok {
		return
	}
	var ident voiceIdentify
	if err := json.Unmarshal(p.Data, &ident); err != nil {
		f.t.Errorf("failed to parse identify: %v", err)
		return
	}
	if ident.ServerID != "100" || ident.SessionID != "sess-1" || ident.Token != "voice-token" {
		f.t.Errorf("unexpected identify payload: %+v", ident)
	}

	sendVoiceOp(f.t, conn, opReady, voiceReady{
		SSRC:  testSSRC,
		IP:    "127.0.0.1",
		Port:  f.udpPort,
		Modes: []string{modeSuffix, modeNormal},
	})

	p, ok = expectVoiceOp(f.t, conn, opSelectProtocol)
	if !ok {
		return
	}
	var sel selectProtocol
	if err := json.Unmarshal(p.Data, &sel); err != nil {
		f.t.Errorf("failed to parse protocol selection: %v", err)
		return
	}
	if sel.Protocol != "udp" {
		f.t.Errorf("protocol = %q, want udp", sel.Protocol)
	}
	if sel.Data.Mode != modeNormal {
		f.t.Errorf("selected mode = %q, want %q", sel.Data.Mode, modeNormal)
	}
	if sel.Data.Address == "" || sel.Data.Port == 0 {
		f.t.Errorf("discovery produced an empty address: %+v", sel.Data)
	}

	sendVoiceOp(f.t, conn, opSessionDescription, sessionDescription{
		Mode:      modeNormal,
		SecretKey: f.key[:],
	})

	for {
		var p voicePayload
		if err := conn.ReadJSON(&p); err != nil {
			return
		}
		switch p.Op {
		case opHeartbeat:
			sendVoiceOp(f.t, conn, opHeartbeatACK, json.RawMessage(p.Data))
		case opSpeaking:
			var sp speakingPayload
			if err := json.Unmarshal(p.Data, &sp); err == nil {
				select {
				case f.speaking <- sp.Speaking:
				default:
				}
			}
		}
	}
}

func sendVoiceOp(t *testing.T, conn *websocket.Conn, op int, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		t.Errorf("failed to marshal op %d: %v", op, err)
		return
	}
	if err := conn.WriteJSON(voicePayload{Op: op, Data: raw}); err != nil {
		t.Errorf("failed to send op %d: %v", op, err)
	}
}

func expectVoiceOp(t *testing.T, conn *websocket.Conn, op int) (voicePayload, bool) {
	var p voicePayload
	if err := conn.ReadJSON(&p); err != nil {
		t.Errorf("read failed while waiting for op %d: %v", op, err)
		return p, false
	}
	if p.Op != op {
		t.Errorf("got op %d, want %d", p.Op, op)
		return p, false
	}
	return p, true
}

// establishVoice connects a Connection to the fake server
func establishVoice(t *testing.T) (*Connection, *fakeVoiceServer) {
	t.Helper()

	old := voiceScheme
	voiceScheme = "ws"
	t.Cleanup(func() { voiceScheme = old })

	f := newFakeVoiceServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	creds := &discord.VoiceCredentials{
		GuildID:   "100",
		ChannelID: "201",
		SessionID: "sess-1",
		Token:     "voice-token",
		Endpoint:  f.endpoint(),
	}
	conn, err := Connect(ctx, creds, "42", testLogger(t))
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	t.Cleanup(conn.Close)
	return conn, f
}

func TestConnectHandshake(t *testing.T) {
	conn, f := establishVoice(t)

	if conn.ssrc != testSSRC {
		t.Errorf("ssrc = %d, want %d", conn.ssrc, testSSRC)
	}
	if conn.mode != modeNormal {
		t.Errorf("mode = %q, want %q", conn.mode, modeNormal)
	}
	if conn.secretKey != f.key {
		t.Error("secret key does not match the session description")
	}
	if conn.udp == nil {
		t.Error("media socket should be open after the handshake")
	}

	select {
	case <-conn.Closed():
		t.Error("connection should still be alive")
	default:
	}
}

type sliceSource struct {
	frames [][]byte
	next   int
}

func (s *sliceSource) NextFrame() ([]byte, error) {
	if s.next >= len(s.frames) {
		return nil, io.EOF
	}
	frame := s.frames[s.next]
	s.next++
	return frame, nil
}

func collectMedia(t *testing.T, f *fakeVoiceServer, n int) [][]byte {
	t.Helper()

	packets := make([][]byte, 0, n)
	for len(packets) < n {
		select {
		case p := <-f.media:
			packets = append(packets, p)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d media packets", len(packets), n)
		}
	}
	return packets
}

func decryptPacket(t *testing.T, packet []byte, key *[32]byte) []byte {
	t.Helper()

	if len(packet) < rtpHeaderSize {
		t.Fatalf("media packet too short: %d bytes", len(packet))
	}
	var nonce [24]byte
	copy(nonce[:], packet[:rtpHeaderSize])
	opened, ok := secretbox.Open(nil, packet[rtpHeaderSize:], &nonce, key)
	if !ok {
		t.Fatal("failed to open media packet")
	}
	return opened
}

func TestPlayStreamsFrames(t *testing.T) {
	conn, f := establishVoice(t)

	frames := [][]byte{{0x01}, {0x02, 0x02}, {0x03, 0x03, 0x03}}
	src := &sliceSource{frames: frames}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Play(ctx, src); err != nil {
		t.Fatalf("Play() failed: %v", err)
	}

	// Three opus frames plus the silence tail
	packets := collectMedia(t, f, len(frames)+audio.SilenceFrameCount)
	step := audio.DefaultConfig().SamplesPerFrame()

	for i, packet := range packets {
		if packet[0] != 0x80 {
			t.Errorf("packet %d: version byte = %#x, want 0x80", i, packet[0])
		}
		if packet[1]&0x7F != payloadTypeOpus {
			t.Errorf("packet %d: payload type = %#x, want %#x", i, packet[1]&0x7F, payloadTypeOpus)
		}
		if got := binary.BigEndian.Uint16(packet[2:4]); got != uint16(i) {
			t.Errorf("packet %d: sequence = %d, want %d", i, got, i)
		}
		if got := binary.BigEndian.Uint32(packet[4:8]); got != uint32(i)*step {
			t.Errorf("packet %d: timestamp = %d, want %d", i, got, uint32(i)*step)
		}
		if got := binary.BigEndian.Uint32(packet[8:12]); got != testSSRC {
			t.Errorf("packet %d: ssrc = %d, want %d", i, got, testSSRC)
		}
	}

	for i, want := range frames {
		got := decryptPacket(t, packets[i], &f.key)
		if string(got) != string(want) {
			t.Errorf("frame %d = %v, want %v", i, got, want)
		}
	}
	for i := len(frames); i < len(packets); i++ {
		got := decryptPacket(t, packets[i], &f.key)
		if string(got) != string(audio.SilenceFrame) {
			t.Errorf("packet %d should be a silence frame, got %v", i, got)
		}
	}

	waitSpeaking := func(want int) {
		select {
		case got := <-f.speaking:
			if got != want {
				t.Errorf("speaking = %d, want %d", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for speaking %d", want)
		}
	}
	waitSpeaking(1)
	waitSpeaking(0)
}

func TestPlayStopsOnClose(t *testing.T) {
	conn, _ := establishVoice(t)

	// An endless source; closing the connection must end playback
	src := &sliceSource{frames: make([][]byte, 512)}
	for i := range src.frames {
		src.frames[i] = []byte{0xAA}
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		conn.Close()
	}()

	err := conn.Play(context.Background(), src)
	if err != ErrConnectionClosed {
		t.Errorf("Play() = %v, want ErrConnectionClosed", err)
	}
}

func TestConnectRequiresHello(t *testing.T) {
	old := voiceScheme
	voiceScheme = "ws"
	t.Cleanup(func() { voiceScheme = old })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		raw, _ := json.Marshal(voiceReady{SSRC: 1})
		conn.WriteJSON(voicePayload{Op: opReady, Data: raw})
		var p voicePayload
		conn.ReadJSON(&p)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	creds := &discord.VoiceCredentials{
		GuildID:   "100",
		SessionID: "sess-1",
		Token:     "voice-token",
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
	}
	if _, err := Connect(ctx, creds, "42", testLogger(t)); err == nil {
		t.Fatal("expected Connect to fail when hello never arrives")
	}
}
