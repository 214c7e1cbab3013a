// Package voice implements the Discord voice protocol: the voice
// gateway handshake, UDP address discovery and encrypted opus
// transport.
package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/veebot/veebot/internal/discord"
	"github.com/veebot/veebot/pkg/logger"
)

// Voice gateway opcodes
const (
	opIdentify           = 0
	opSelectProtocol     = 1
	opReady              = 2
	opHeartbeat          = 3
	opSessionDescription = 4
	opSpeaking           = 5
	opHeartbeatACK       = 6
	opResume             = 7
	opHello              = 8
	opResumed            = 9
)

// handshakeTimeout bounds the whole voice handshake
const handshakeTimeout = 10 * time.Second

// voiceScheme is the websocket scheme used for the voice gateway.
// Tests swap it for plain ws.
var voiceScheme = "wss"

type voicePayload struct {
	Op   int             `json:"op"`
	Data json.RawMessage `json:"d"`
}

type voiceIdentify struct {
	ServerID  discord.Snowflake `json:"server_id"`
	UserID    discord.Snowflake `json:"user_id"`
	SessionID string            `json:"session_id"`
	Token     string            `json:"token"`
}

type voiceHello struct {
	HeartbeatInterval float64 `json:"heartbeat_interval"`
}

type voiceReady struct {
	SSRC  uint32   `json:"ssrc"`
	IP    string   `json:"ip"`
	Port  int      `json:"port"`
	Modes []string `json:"modes"`
}

type selectProtocol struct {
	Protocol string             `json:"protocol"`
	Data     selectProtocolData `json:"data"`
}

type selectProtocolData struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
	Mode    string `json:"mode"`
}

type sessionDescription struct {
	Mode      string `json:"mode"`
	SecretKey []byte `json:"secret_key"`
}

type speakingPayload struct {
	Speaking int    `json:"speaking"`
	Delay    int    `json:"delay"`
	SSRC     uint32 `json:"ssrc"`
}

// Connection is an established voice connection ready to carry opus
// frames
type Connection struct {
	log *logger.Logger

	ws  *websocket.Conn
	udp *net.UDPConn

	ssrc      uint32
	mode      string
	secretKey [32]byte

	// RTP counters, owned by the sender loop
	sequence  uint16
	timestamp uint32

	writeMu sync.Mutex

	mu    sync.Mutex
	acked bool

	closeOnce sync.Once
	closed    chan struct{}
}

// Connect performs the voice handshake with the credentials obtained
// from the main gateway
func Connect(ctx context.Context, creds *discord.VoiceCredentials, selfID discord.Snowflake, log *logger.Logger) (*Connection, error) {
	if log == nil {
		log = logger.Global()
	}
	log = log.WithComponent("voice").WithGuildID(string(creds.GuildID))

	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	endpoint := strings.TrimSuffix(creds.Endpoint, ":80")
	url := voiceScheme + "://" + endpoint + "/?v=4"

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial voice gateway: %w", err)
	}

	c := &Connection{
		log:    log,
		ws:     ws,
		closed: make(chan struct{}),
	}

	if err := c.handshake(ctx, creds, selfID); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// handshake walks the voice gateway through hello, identify, ready,
// protocol selection and the session description
func (c *Connection) handshake(ctx context.Context, creds *discord.VoiceCredentials, selfID discord.Snowflake) error {
	deadline, _ := ctx.Deadline()
	c.ws.SetReadDeadline(deadline)

	// Hello carries the heartbeat interval
	p, err := c.read()
	if err != nil {
		return fmt.Errorf("failed to read voice hello: %w", err)
	}
	if p.Op != opHello {
		return fmt.Errorf("expected voice hello, got op %d", p.Op)
	}
	var hello voiceHello
	if err := json.Unmarshal(p.Data, &hello); err != nil {
		return fmt.Errorf("failed to parse voice hello: %w", err)
	}

	err = c.send(opIdentify, voiceIdentify{
		ServerID:  creds.GuildID,
		UserID:    selfID,
		SessionID: creds.SessionID,
		Token:     creds.Token,
	})
	if err != nil {
		return fmt.Errorf("failed to send voice identify: %w", err)
	}

	ready, err := c.awaitReady()
	if err != nil {
		return err
	}
	c.ssrc = ready.SSRC

	mode, err := chooseMode(ready.Modes)
	if err != nil {
		return err
	}
	c.mode = mode

	// Open the media socket and discover our external address
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", ready.IP, ready.Port))
	if err != nil {
		return fmt.Errorf("failed to resolve voice server address: %w", err)
	}
	udp, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("failed to open media socket: %w", err)
	}
	c.udp = udp

	externalIP, externalPort, err := discoverAddress(udp, ready.SSRC)
	if err != nil {
		return fmt.Errorf("address discovery failed: %w", err)
	}

	err = c.send(opSelectProtocol, selectProtocol{
		Protocol: "udp",
		Data: selectProtocolData{
			Address: externalIP,
			Port:    externalPort,
			Mode:    mode,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to select protocol: %w", err)
	}

	desc, err := c.awaitSessionDescription()
	if err != nil {
		return err
	}
	copy(c.secretKey[:], desc.SecretKey)

	c.log.Info("voice connection established",
		"mode", desc.Mode,
		"ssrc", c.ssrc,
		"address", fmt.Sprintf("%s:%d", externalIP, externalPort))

	// Handshake done; keep the session alive
	c.ws.SetReadDeadline(time.Time{})
	interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
	go c.heartbeatLoop(interval)
	go c.readLoop()

	return nil
}

// awaitReady reads frames until the ready payload arrives
func (c *Connection) awaitReady() (*voiceReady, error) {
	for {
		p, err := c.read()
		if err != nil {
			return nil, fmt.Errorf("failed to read voice ready: %w", err)
		}
		if p.Op != opReady {
			continue
		}
		var ready voiceReady
		if err := json.Unmarshal(p.Data, &ready); err != nil {
			return nil, fmt.Errorf("failed to parse voice ready: %w", err)
		}
		return &ready, nil
	}
}

// awaitSessionDescription reads frames until the session key arrives
func (c *Connection) awaitSessionDescription() (*sessionDescription, error) {
	for {
		p, err := c.read()
		if err != nil {
			return nil, fmt.Errorf("failed to read session description: %w", err)
		}
		if p.Op != opSessionDescription {
			continue
		}
		var desc sessionDescription
		if err := json.Unmarshal(p.Data, &desc); err != nil {
			return nil, fmt.Errorf("failed to parse session description: %w", err)
		}
		if len(desc.SecretKey) != 32 {
			return nil, fmt.Errorf("session key has %d bytes, want 32", len(desc.SecretKey))
		}
		return &desc, nil
	}
}

// read reads one voice gateway frame
func (c *Connection) read() (*voicePayload, error) {
	var p voicePayload
	if err := c.ws.ReadJSON(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// send writes one voice gateway command
func (c *Connection) send(op int, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal voice command: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteJSON(voicePayload{Op: op, Data: raw})
}

// heartbeatLoop keeps the voice session alive
func (c *Connection) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.mu.Lock()
	c.acked = true
	c.mu.Unlock()

	for {
		select {
		case <-ticker.C:
		case <-c.closed:
			return
		}

		c.mu.Lock()
		acked := c.acked
		c.acked = false
		c.mu.Unlock()

		if !acked {
			c.log.Warn("voice heartbeat not acknowledged")
			c.Close()
			return
		}

		nonce, _ := json.Marshal(time.Now().UnixMilli())
		c.writeMu.Lock()
		c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
		err := c.ws.WriteJSON(voicePayload{Op: opHeartbeat, Data: nonce})
		c.writeMu.Unlock()
		if err != nil {
			c.Close()
			return
		}
	}
}

// readLoop consumes frames after the handshake, tracking heartbeat
// acknowledgements. Other events are not interesting to a send-only
// connection.
func (c *Connection) readLoop() {
	for {
		p, err := c.read()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.log.Warn("voice gateway closed", "error", err)
			}
			c.Close()
			return
		}
		if p.Op == opHeartbeatACK {
			c.mu.Lock()
			c.acked = true
			c.mu.Unlock()
		}
	}
}

// Speaking toggles the speaking indicator
func (c *Connection) Speaking(on bool) error {
	speaking := 0
	if on {
		speaking = 1
	}
	return c.send(opSpeaking, speakingPayload{
		Speaking: speaking,
		Delay:    0,
		SSRC:     c.ssrc,
	})
}

// Closed reports a channel that closes when the connection dies
func (c *Connection) Closed() <-chan struct{} {
	return c.closed
}

// Close tears the connection down. Safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.udp != nil {
			c.udp.Close()
		}
		c.ws.Close()
	})
}

// chooseMode picks the preferred encryption mode the server offers
func chooseMode(offered []string) (string, error) {
	for _, preferred := range supportedModes {
		for _, mode := range offered {
			if mode == preferred {
				return mode, nil
			}
		}
	}
	return "", fmt.Errorf("no supported encryption mode in %v", offered)
}
