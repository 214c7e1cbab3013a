package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/veebot/veebot/pkg/logger"
	"github.com/veebot/veebot/pkg/metrics"
)

// ErrAuthenticationFailed means the gateway rejected the bot token.
// Retrying will not help.
var ErrAuthenticationFailed = errors.New("gateway authentication failed")

// closeCodeAuthFailed is sent by the gateway when the token is invalid
const closeCodeAuthFailed = 4004

// joinTimeout bounds how long a voice join waits for the gateway to
// deliver the session id and voice server
const joinTimeout = 10 * time.Second

// VoiceCredentials is everything the voice connection needs to dial in
type VoiceCredentials struct {
	GuildID   Snowflake
	ChannelID Snowflake
	SessionID string
	Token     string
	Endpoint  string
}

// Session is a gateway connection. It identifies, heartbeats, applies
// dispatch events to the state cache and hands messages to handlers.
type Session struct {
	token      string
	gatewayURL string
	state      *State
	log        *logger.Logger

	// writeMu serializes writes; gorilla allows a single writer
	writeMu sync.Mutex
	conn    *websocket.Conn

	// sendLimiter enforces the gateway command budget (120 per minute)
	sendLimiter *rate.Limiter

	mu        sync.Mutex
	seq       int64
	sessionID string
	resumeURL string
	acked     bool

	pendingMu sync.Mutex
	pending   map[Snowflake]*pendingJoin

	handlersMu      sync.RWMutex
	messageHandlers []func(*Message)
}

type pendingJoin struct {
	stateCh  chan string
	serverCh chan *VoiceServerUpdate
}

// NewSession creates a gateway session. The gateway URL usually comes
// from RestClient.GetGatewayBot.
func NewSession(token, gatewayURL string, state *State, log *logger.Logger) *Session {
	if log == nil {
		log = logger.Global()
	}
	return &Session{
		token:       token,
		gatewayURL:  gatewayURL,
		state:       state,
		log:         log.WithComponent("gateway"),
		sendLimiter: rate.NewLimiter(rate.Limit(2), 5),
		pending:     make(map[Snowflake]*pendingJoin),
	}
}

// State returns the state cache the session maintains
func (s *Session) State() *State {
	return s.state
}

// OnMessageCreate registers a handler for MESSAGE_CREATE events.
// Handlers run on the read loop goroutine and must not block.
func (s *Session) OnMessageCreate(h func(*Message)) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.messageHandlers = append(s.messageHandlers, h)
}

// Run connects to the gateway and keeps the connection alive until the
// context is cancelled, reconnecting with backoff on failures
func (s *Session) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := s.connectAndServe(ctx)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrAuthenticationFailed) {
			return err
		}

		s.log.Warn("gateway connection lost", "error", err, "retry_in", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > time.Minute {
			backoff = time.Minute
		}
	}
}

// connectAndServe runs a single gateway connection to completion
func (s *Session) connectAndServe(ctx context.Context) error {
	url := s.dialURL()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial gateway: %w", err)
	}
	s.writeMu.Lock()
	s.conn = conn
	s.writeMu.Unlock()
	defer conn.Close()

	// The first frame must be HELLO
	var p payload
	if err := conn.ReadJSON(&p); err != nil {
		return fmt.Errorf("failed to read hello: %w", err)
	}
	if p.Op != opHello {
		return fmt.Errorf("expected hello, got op %d", p.Op)
	}
	var hello helloData
	if err := json.Unmarshal(p.Data, &hello); err != nil {
		return fmt.Errorf("failed to parse hello: %w", err)
	}

	if err := s.identifyOrResume(); err != nil {
		return err
	}

	// Close the connection when the context ends so the read loop
	// unblocks
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	heartbeatDone := make(chan struct{})
	defer close(heartbeatDone)
	go s.heartbeatLoop(conn, time.Duration(hello.HeartbeatInterval)*time.Millisecond, heartbeatDone)

	return s.readLoop(conn)
}

// dialURL picks the resume URL when a session can be resumed
func (s *Session) dialURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := s.gatewayURL
	if s.sessionID != "" && s.resumeURL != "" {
		base = s.resumeURL
	}
	return base + "/?v=10&encoding=json"
}

// identifyOrResume sends IDENTIFY for fresh sessions and RESUME when a
// previous session can be continued
func (s *Session) identifyOrResume() error {
	s.mu.Lock()
	sessionID, seq := s.sessionID, s.seq
	s.mu.Unlock()

	if sessionID != "" {
		s.log.Info("resuming gateway session", "seq", seq)
		return s.send(opResume, resumeData{
			Token:     s.token,
			SessionID: sessionID,
			Sequence:  seq,
		})
	}

	s.log.Info("identifying to gateway")
	return s.send(opIdentify, identifyData{
		Token:   s.token,
		Intents: intents,
		Properties: identifyProps{
			OS:      runtime.GOOS,
			Browser: "veebot",
			Device:  "veebot",
		},
	})
}

// heartbeatLoop sends heartbeats until the connection or session ends.
// A missed ACK closes the connection to force a reconnect.
func (s *Session) heartbeatLoop(conn *websocket.Conn, interval time.Duration, done <-chan struct{}) {
	// Jitter the first beat as the gateway asks
	first := time.Duration(rand.Float64() * float64(interval))
	timer := time.NewTimer(first)
	defer timer.Stop()

	s.mu.Lock()
	s.acked = true
	s.mu.Unlock()

	for {
		select {
		case <-timer.C:
		case <-done:
			return
		}

		s.mu.Lock()
		acked := s.acked
		s.acked = false
		seq := s.seq
		s.mu.Unlock()

		if !acked {
			s.log.Warn("heartbeat not acknowledged, closing connection")
			conn.Close()
			return
		}

		if err := s.send(opHeartbeat, seq); err != nil {
			conn.Close()
			return
		}
		timer.Reset(interval)
	}
}

// readLoop reads frames until the connection drops
func (s *Session) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == closeCodeAuthFailed {
				return ErrAuthenticationFailed
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				return fmt.Errorf("gateway closed unexpectedly: %w", err)
			}
			return fmt.Errorf("gateway read failed: %w", err)
		}

		var p payload
		if err := json.Unmarshal(data, &p); err != nil {
			s.log.Warn("unparseable gateway frame", "error", err)
			continue
		}

		switch p.Op {
		case opDispatch:
			s.mu.Lock()
			s.seq = p.Sequence
			s.mu.Unlock()
			s.dispatch(p.Type, p.Data)

		case opHeartbeat:
			s.mu.Lock()
			seq := s.seq
			s.mu.Unlock()
			s.send(opHeartbeat, seq)

		case opHeartbeatACK:
			s.mu.Lock()
			s.acked = true
			s.mu.Unlock()

		case opReconnect:
			s.log.Info("gateway requested reconnect")
			return fmt.Errorf("gateway requested reconnect")

		case opInvalidSession:
			var resumable bool
			json.Unmarshal(p.Data, &resumable)
			if !resumable {
				s.mu.Lock()
				s.sessionID = ""
				s.resumeURL = ""
				s.seq = 0
				s.mu.Unlock()
			}
			// The gateway wants a short pause before the next identify
			time.Sleep(time.Duration(1+rand.Intn(4)) * time.Second)
			return fmt.Errorf("gateway invalidated session (resumable=%v)", resumable)
		}
	}
}

// dispatch applies a single dispatch event
func (s *Session) dispatch(event string, data json.RawMessage) {
	metrics.RecordGatewayEvent(event)

	switch event {
	case "READY":
		var ready readyData
		if err := json.Unmarshal(data, &ready); err != nil {
			s.log.Warn("unparseable READY", "error", err)
			return
		}
		s.mu.Lock()
		s.sessionID = ready.SessionID
		s.resumeURL = ready.ResumeGatewayURL
		s.mu.Unlock()
		s.state.SetSelf(ready.User)
		s.log.Info("gateway ready", "user", ready.User.Username)

	case "RESUMED":
		s.log.Info("gateway session resumed")

	case "GUILD_CREATE":
		var g Guild
		if err := json.Unmarshal(data, &g); err != nil {
			return
		}
		s.state.ApplyGuildCreate(&g)

	case "GUILD_DELETE":
		var g Guild
		if err := json.Unmarshal(data, &g); err != nil {
			return
		}
		s.state.ApplyGuildDelete(g.ID)

	case "CHANNEL_CREATE", "CHANNEL_UPDATE":
		var ch Channel
		if err := json.Unmarshal(data, &ch); err != nil {
			return
		}
		s.state.ApplyChannel(&ch)

	case "CHANNEL_DELETE":
		var ch Channel
		if err := json.Unmarshal(data, &ch); err != nil {
			return
		}
		s.state.ApplyChannelDelete(ch.ID)

	case "VOICE_STATE_UPDATE":
		var vs VoiceState
		if err := json.Unmarshal(data, &vs); err != nil {
			return
		}
		s.state.ApplyVoiceState(&vs)
		if vs.UserID == s.state.Self().ID && vs.ChannelID != "" {
			s.deliverVoiceState(&vs)
		}

	case "VOICE_SERVER_UPDATE":
		var vsu VoiceServerUpdate
		if err := json.Unmarshal(data, &vsu); err != nil {
			return
		}
		s.deliverVoiceServer(&vsu)

	case "MESSAGE_CREATE":
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		s.handlersMu.RLock()
		handlers := s.messageHandlers
		s.handlersMu.RUnlock()
		for _, h := range handlers {
			h(&msg)
		}
	}
}

// send writes one gateway command, respecting the command budget
func (s *Session) send(op int, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal gateway command: %w", err)
	}

	if err := s.sendLimiter.Wait(context.Background()); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("gateway not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(payload{Op: op, Data: raw})
}

// JoinVoice asks the gateway to move the bot into a voice channel and
// waits for the credentials the voice connection needs
func (s *Session) JoinVoice(ctx context.Context, guildID, channelID Snowflake) (*VoiceCredentials, error) {
	join := &pendingJoin{
		stateCh:  make(chan string, 1),
		serverCh: make(chan *VoiceServerUpdate, 1),
	}

	s.pendingMu.Lock()
	s.pending[guildID] = join
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, guildID)
		s.pendingMu.Unlock()
	}()

	err := s.send(opVoiceStateUpdate, voiceStateUpdateData{
		GuildID:   guildID,
		ChannelID: &channelID,
	})
	if err != nil {
		return nil, err
	}

	creds := &VoiceCredentials{GuildID: guildID, ChannelID: channelID}
	deadline := time.NewTimer(joinTimeout)
	defer deadline.Stop()

	for creds.SessionID == "" || creds.Token == "" {
		select {
		case sessionID := <-join.stateCh:
			creds.SessionID = sessionID
		case vsu := <-join.serverCh:
			creds.Token = vsu.Token
			creds.Endpoint = vsu.Endpoint
		case <-deadline.C:
			return nil, fmt.Errorf("timed out waiting for voice credentials")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return creds, nil
}

// LeaveVoice disconnects the bot from voice in the given guild
func (s *Session) LeaveVoice(guildID Snowflake) error {
	return s.send(opVoiceStateUpdate, voiceStateUpdateData{
		GuildID:   guildID,
		ChannelID: nil,
	})
}

func (s *Session) deliverVoiceState(vs *VoiceState) {
	s.pendingMu.Lock()
	join := s.pending[vs.GuildID]
	s.pendingMu.Unlock()
	if join == nil {
		return
	}
	select {
	case join.stateCh <- vs.SessionID:
	default:
	}
}

func (s *Session) deliverVoiceServer(vsu *VoiceServerUpdate) {
	s.pendingMu.Lock()
	join := s.pending[vsu.GuildID]
	s.pendingMu.Unlock()
	if join == nil {
		return
	}
	select {
	case join.serverCh <- vsu:
	default:
	}
}
