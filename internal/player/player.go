package player

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/veebot/veebot/internal/discord"
	"github.com/veebot/veebot/internal/voice"
	"github.com/veebot/veebot/pkg/audio"
	"github.com/veebot/veebot/pkg/errors"
	"github.com/veebot/veebot/pkg/logger"
)

// VoiceConn is an established voice connection
type VoiceConn interface {
	Play(ctx context.Context, src audio.FrameSource) error
	Closed() <-chan struct{}
	Close()
}

// Player streams one guild's queue into its voice connection. All
// playback runs on the pump goroutine; command handlers only mutate the
// queue and cancel the current track.
type Player struct {
	guildID discord.Snowflake
	queue   *Queue
	source  SourceProvider
	log     *logger.Logger
	onError func(track Track, err error)

	mu         sync.Mutex
	conn       VoiceConn
	channelID  discord.Snowflake
	cancelPlay context.CancelFunc
	running    bool
	lastActive time.Time
}

// start launches the pump unless it is already running
func (p *Player) start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	go p.run()
}

// run is the pump: it plays the queue head, drops it, and repeats until
// the queue is empty or the connection dies.
func (p *Player) run() {
	for {
		track, ok := p.queue.Current()
		if !ok {
			p.mu.Lock()
			// Recheck under the lock so a concurrent enqueue is not
			// stranded without a pump
			if p.queue.Len() == 0 {
				p.running = false
				p.lastActive = time.Now()
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
			continue
		}

		err := p.playTrack(track)
		p.queue.Drop(track.ID)

		if err == nil {
			continue
		}

		if stderrors.Is(err, voice.ErrConnectionClosed) {
			// The connection died mid-stream. Drop the rest of the
			// queue; the next play command reconnects.
			p.report(track, errors.New(errors.AudioStart{Cause: err}))
			p.queue.Clear()
			p.mu.Lock()
			p.running = false
			p.lastActive = time.Now()
			p.mu.Unlock()
			return
		}

		p.report(track, err)
	}
}

// playTrack streams a single track. A skip or stop cancels the track
// context and is not an error.
func (p *Player) playTrack(track Track) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.mu.Lock()
	p.cancelPlay = cancel
	conn := p.conn
	p.mu.Unlock()

	if conn == nil {
		return voice.ErrConnectionClosed
	}

	src, err := p.source.Open(ctx, &track)
	if err != nil {
		return errors.New(errors.AudioStart{Cause: err})
	}
	defer src.Close()

	p.log.Info("playing track", "title", track.Title, "video_id", track.VideoID)

	err = conn.Play(ctx, src)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return nil
	case stderrors.Is(err, voice.ErrConnectionClosed):
		return err
	default:
		return errors.New(errors.AudioStart{Cause: err})
	}
}

// Skip cancels the playing track, returning it
func (p *Player) Skip() (*Track, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	track, ok := p.queue.Current()
	if !ok {
		return nil, errors.New(errors.NoActiveTrack{})
	}
	if p.cancelPlay != nil {
		p.cancelPlay()
	}
	return &track, nil
}

// Stop clears the queue and cancels the playing track
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.queue.Current(); !ok {
		return errors.New(errors.NoActiveTrack{})
	}
	p.queue.Clear()
	if p.cancelPlay != nil {
		p.cancelPlay()
	}
	return nil
}

// NowPlaying returns the playing track
func (p *Player) NowPlaying() (*Track, error) {
	track, ok := p.queue.Current()
	if !ok {
		return nil, errors.New(errors.NoActiveTrack{})
	}
	return &track, nil
}

// Remove removes the track at the given index. Removing index 0 also
// skips it.
func (p *Player) Remove(index int) (*Track, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	track, err := p.queue.Remove(index)
	if err != nil {
		return nil, err
	}
	if index == 0 && p.cancelPlay != nil {
		p.cancelPlay()
	}
	return track, nil
}

// disconnect cancels playback and closes the voice connection
func (p *Player) disconnect() {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	if p.cancelPlay != nil {
		p.cancelPlay()
	}
	p.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// idleFor reports how long the player has sat idle with a live
// connection. ok is false while playing or when already disconnected.
func (p *Player) idleFor() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running || p.conn == nil {
		return 0, false
	}
	return time.Since(p.lastActive), true
}

func (p *Player) report(track Track, err error) {
	if p.onError != nil {
		p.onError(track, err)
	}
}
