package player

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/veebot/veebot/internal/discord"
	"github.com/veebot/veebot/internal/voice"
	"github.com/veebot/veebot/pkg/errors"
	"github.com/veebot/veebot/pkg/logger"
)

// VoiceGateway is the slice of the gateway session the manager needs
type VoiceGateway interface {
	JoinVoice(ctx context.Context, guildID, channelID discord.Snowflake) (*discord.VoiceCredentials, error)
	LeaveVoice(guildID discord.Snowflake) error
}

// dialVoice establishes voice connections. Swapped by tests.
var dialVoice = func(ctx context.Context, creds *discord.VoiceCredentials, selfID discord.Snowflake, log *logger.Logger) (VoiceConn, error) {
	return voice.Connect(ctx, creds, selfID, log)
}

// Config configures the manager
type Config struct {
	// MaxQueueSize caps each guild's queue (default: 100)
	MaxQueueSize int

	// IdleTimeout is how long an idle voice connection survives before
	// the reaper disconnects it (default: 5m)
	IdleTimeout time.Duration
}

// Manager owns one player per guild plus the idle reaper
type Manager struct {
	log    *logger.Logger
	gw     VoiceGateway
	state  *discord.State
	source SourceProvider
	cfg    Config

	mu      sync.Mutex
	players map[discord.Snowflake]*Player
	onError func(track Track, err error)

	cron *cron.Cron
}

// NewManager creates the manager and starts the idle reaper
func NewManager(gw VoiceGateway, state *discord.State, source SourceProvider, cfg Config, log *logger.Logger) (*Manager, error) {
	if cfg.MaxQueueSize == 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if log == nil {
		log = logger.Global()
	}

	m := &Manager{
		log:     log.WithComponent("player"),
		gw:      gw,
		state:   state,
		source:  source,
		cfg:     cfg,
		players: make(map[discord.Snowflake]*Player),
		cron:    cron.New(),
	}

	if _, err := m.cron.AddFunc("@every 1m", m.reapIdle); err != nil {
		return nil, fmt.Errorf("failed to schedule the idle reaper: %w", err)
	}
	m.cron.Start()

	return m, nil
}

// OnPlaybackError registers the callback invoked when a track fails
// after the play command already returned
func (m *Manager) OnPlaybackError(fn func(track Track, err error)) {
	m.mu.Lock()
	m.onError = fn
	m.mu.Unlock()
}

// PlayTrack queues a track, joining the caller's voice channel when the
// bot has no live connection in the guild
func (m *Manager) PlayTrack(ctx context.Context, guildID, voiceChannelID discord.Snowflake, track Track) (*EnqueueResult, error) {
	if track.ID == uuid.Nil {
		track.ID = uuid.New()
	}

	p := m.player(guildID)
	if err := m.connect(ctx, p, voiceChannelID); err != nil {
		return nil, err
	}

	res, err := p.queue.Enqueue(track)
	if err != nil {
		return nil, err
	}
	p.start()
	return res, nil
}

// Skip cancels the playing track in a guild
func (m *Manager) Skip(guildID discord.Snowflake) (*Track, error) {
	p, ok := m.lookup(guildID)
	if !ok {
		return nil, errors.New(errors.NoActiveTrack{})
	}
	return p.Skip()
}

// Stop clears a guild's queue and cancels the playing track
func (m *Manager) Stop(guildID discord.Snowflake) error {
	p, ok := m.lookup(guildID)
	if !ok {
		return errors.New(errors.NoActiveTrack{})
	}
	return p.Stop()
}

// NowPlaying returns the playing track in a guild
func (m *Manager) NowPlaying(guildID discord.Snowflake) (*Track, error) {
	p, ok := m.lookup(guildID)
	if !ok {
		return nil, errors.New(errors.NoActiveTrack{})
	}
	return p.NowPlaying()
}

// Tracks returns a snapshot of a guild's queue
func (m *Manager) Tracks(guildID discord.Snowflake) []Track {
	p, ok := m.lookup(guildID)
	if !ok {
		return nil
	}
	return p.queue.List()
}

// Remove removes the track at the given index from a guild's queue
func (m *Manager) Remove(guildID discord.Snowflake, index int) (*Track, error) {
	p, ok := m.lookup(guildID)
	if !ok {
		return nil, errors.New(errors.TrackIndexOutOfBounds{
			Index:     index,
			Available: &errors.Range{Start: 0, End: 0},
		})
	}
	return p.Remove(index)
}

// Shutdown stops the reaper and tears down every voice connection
func (m *Manager) Shutdown() {
	m.cron.Stop()

	for _, p := range m.snapshot() {
		p.queue.Clear()
		p.disconnect()
		if err := m.gw.LeaveVoice(p.guildID); err != nil {
			m.log.Debug("voice leave failed during shutdown", "guild_id", string(p.guildID), "error", err)
		}
	}
}

// player returns the guild's player, creating it on first use
func (m *Manager) player(guildID discord.Snowflake) *Player {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.players[guildID]; ok {
		return p
	}
	p := &Player{
		guildID:    guildID,
		queue:      newQueue(guildID, m.cfg.MaxQueueSize),
		source:     m.source,
		log:        m.log.WithGuildID(string(guildID)),
		onError:    m.reportError,
		lastActive: time.Now(),
	}
	m.players[guildID] = p
	return p
}

func (m *Manager) lookup(guildID discord.Snowflake) (*Player, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[guildID]
	return p, ok
}

func (m *Manager) snapshot() []*Player {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Player, 0, len(m.players))
	for _, p := range m.players {
		out = append(out, p)
	}
	return out
}

// connect joins the voice channel unless the guild already has a live
// connection. Join and dial failures both surface as the voice join
// kind with the channel name resolved from the gateway state.
func (m *Manager) connect(ctx context.Context, p *Player, channelID discord.Snowflake) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	if conn != nil {
		select {
		case <-conn.Closed():
			// Dead connection, rejoin below
		default:
			return nil
		}
	}

	creds, err := m.gw.JoinVoice(ctx, p.guildID, channelID)
	if err != nil {
		m.log.Warn("voice join failed", "guild_id", string(p.guildID), "error", err)
		return errors.New(errors.JoinVoiceChannel{Channel: m.state.ChannelName(channelID)})
	}

	conn, err = dialVoice(ctx, creds, m.state.Self().ID, m.log)
	if err != nil {
		m.log.Warn("voice connect failed", "guild_id", string(p.guildID), "error", err)
		return errors.New(errors.JoinVoiceChannel{Channel: m.state.ChannelName(channelID)})
	}

	p.mu.Lock()
	p.conn = conn
	p.channelID = channelID
	p.lastActive = time.Now()
	p.mu.Unlock()

	m.log.Info("joined voice channel",
		"guild_id", string(p.guildID),
		"channel", m.state.ChannelName(channelID))
	return nil
}

// reapIdle disconnects voice connections that sat idle past the
// configured timeout. Runs every minute on the cron schedule.
func (m *Manager) reapIdle() {
	for _, p := range m.snapshot() {
		idle, ok := p.idleFor()
		if !ok || idle < m.cfg.IdleTimeout {
			continue
		}

		p.disconnect()
		if err := m.gw.LeaveVoice(p.guildID); err != nil {
			m.log.Warn("failed to leave voice channel", "guild_id", string(p.guildID), "error", err)
		}
		m.log.Info("left idle voice channel", "guild_id", string(p.guildID), "idle", idle.Round(time.Second).String())
	}
}

func (m *Manager) reportError(track Track, err error) {
	m.mu.Lock()
	handler := m.onError
	m.mu.Unlock()

	if handler != nil {
		handler(track, err)
	}
}
