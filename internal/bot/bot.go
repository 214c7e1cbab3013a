// Package bot routes prefix commands from gateway messages to their
// handlers and delivers replies and error embeds back to the chat.
package bot

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"github.com/veebot/veebot/internal/derpi"
	"github.com/veebot/veebot/internal/discord"
	"github.com/veebot/veebot/internal/player"
	"github.com/veebot/veebot/internal/ytsearch"
	"github.com/veebot/veebot/pkg/errors"
	"github.com/veebot/veebot/pkg/logger"
	"github.com/veebot/veebot/pkg/metrics"
)

const (
	// commandTimeout bounds a single command, including the voice
	// handshake a play command may trigger
	commandTimeout = time.Minute

	// replyTimeout bounds posting a reply or an error embed
	replyTimeout = 10 * time.Second
)

// Messenger posts messages to text channels
type Messenger interface {
	CreateMessage(ctx context.Context, channelID discord.Snowflake, msg discord.CreateMessageRequest) (*discord.Message, error)
}

// PlayerService is the slice of the player manager the commands drive
type PlayerService interface {
	PlayTrack(ctx context.Context, guildID, voiceChannelID discord.Snowflake, track player.Track) (*player.EnqueueResult, error)
	Skip(guildID discord.Snowflake) (*player.Track, error)
	Stop(guildID discord.Snowflake) error
	NowPlaying(guildID discord.Snowflake) (*player.Track, error)
	Tracks(guildID discord.Snowflake) []player.Track
	Remove(guildID discord.Snowflake, index int) (*player.Track, error)
}

// VideoSearcher resolves queries and video ids into YouTube videos
type VideoSearcher interface {
	Search(ctx context.Context, query string) (*ytsearch.Video, error)
	Lookup(ctx context.Context, videoID string) (*ytsearch.Video, error)
}

// ImageSearcher finds derpibooru images by tags
type ImageSearcher interface {
	SearchImage(ctx context.Context, tags []string) (*derpi.Image, error)
	ImagePageURL(img *derpi.Image) string
}

// Deps are the collaborators the bot drives
type Deps struct {
	Rest    Messenger
	State   *discord.State
	Players PlayerService
	Videos  VideoSearcher
	Images  ImageSearcher
}

// Config configures the bot
type Config struct {
	// Prefix marks a message as a command (default: "!")
	Prefix string
}

type command struct {
	name        string
	usage       string
	description string
	guildOnly   bool
	handler     func(ctx context.Context, msg *discord.Message, a *args) error
}

// Bot dispatches prefix commands to their handlers
type Bot struct {
	prefix  string
	rest    Messenger
	state   *discord.State
	players PlayerService
	videos  VideoSearcher
	images  ImageSearcher
	log     *logger.Logger

	commands map[string]*command
	wg       sync.WaitGroup
}

// New creates the bot and registers its commands
func New(deps Deps, cfg Config, log *logger.Logger) *Bot {
	if cfg.Prefix == "" {
		cfg.Prefix = "!"
	}
	if log == nil {
		log = logger.Global()
	}

	b := &Bot{
		prefix:   cfg.Prefix,
		rest:     deps.Rest,
		state:    deps.State,
		players:  deps.Players,
		videos:   deps.Videos,
		images:   deps.Images,
		log:      log.WithComponent("bot"),
		commands: make(map[string]*command),
	}

	b.register("help", "help",
		"Show available commands", false, b.handleHelp)

	b.register("ping", "ping",
		"Check that the bot is alive", false, b.handlePing)

	b.register("play", "play <youtube url or search query>",
		"Queue a track in your voice channel", true, b.handlePlay)

	b.register("skip", "skip",
		"Skip the playing track", true, b.handleSkip)

	b.register("stop", "stop",
		"Stop playback and clear the queue", true, b.handleStop)

	b.register("np", "np",
		"Show the playing track", true, b.handleNowPlaying)

	b.register("queue", "queue",
		"Show the queued tracks", true, b.handleQueue)

	b.register("remove", "remove <index>",
		"Remove the track at the given queue index", true, b.handleRemove)

	b.register("pic", "pic [tags ...]",
		"Post a random derpibooru image", false, b.handlePic)

	b.register("boop", "boop",
		"Boop!", false, b.handleBoop)

	return b
}

func (b *Bot) register(name, usage, description string, guildOnly bool,
	handler func(ctx context.Context, msg *discord.Message, a *args) error) {
	b.commands[name] = &command{
		name:        name,
		usage:       usage,
		description: description,
		guildOnly:   guildOnly,
		handler:     handler,
	}
}

// HandleMessage inspects a gateway message and runs any command it
// carries on its own goroutine. Registered with Session.OnMessageCreate,
// so it must return without blocking.
func (b *Bot) HandleMessage(msg *discord.Message) {
	cmd, a, ok := b.parse(msg)
	if !ok {
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.dispatch(cmd, msg, a)
	}()
}

// Close waits for in-flight command handlers to finish
func (b *Bot) Close() {
	b.wg.Wait()
}

// parse extracts the command and its arguments from a message. Messages
// from bots, without the prefix, or naming no known command are skipped.
func (b *Bot) parse(msg *discord.Message) (*command, *args, bool) {
	if msg.Author.Bot {
		return nil, nil, false
	}

	content := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(content, b.prefix) {
		return nil, nil, false
	}

	words := strings.Fields(strings.TrimPrefix(content, b.prefix))
	if len(words) == 0 {
		return nil, nil, false
	}

	cmd, ok := b.commands[strings.ToLower(words[0])]
	if !ok {
		b.log.Debug("unknown command", "command", words[0], "user", string(msg.Author.ID))
		return nil, nil, false
	}
	return cmd, newArgs(words[1:]), true
}

func (b *Bot) dispatch(cmd *command, msg *discord.Message, a *args) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	b.log.Debug("handling command",
		"command", cmd.name,
		"user", string(msg.Author.ID),
		"guild_id", string(msg.GuildID))

	err := b.runCommand(ctx, cmd, msg, a)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		b.postError(msg.ChannelID, err)
	}
	metrics.RecordCommand(cmd.name, outcome)
}

func (b *Bot) runCommand(ctx context.Context, cmd *command, msg *discord.Message, a *args) error {
	if cmd.guildOnly && msg.GuildID == "" {
		return errors.New(errors.UserNotInGuild{})
	}
	return cmd.handler(ctx, msg, a)
}

// postError renders the failure and posts it as the red error embed to
// the channel the command came from. Uses its own deadline so errors
// still reach the chat after the command context expired.
func (b *Bot) postError(channelID discord.Snowflake, err error) {
	var e *errors.Error
	if !stderrors.As(err, &e) {
		// Non-envelope failures still surface through the taxonomy
		e = errors.New(errors.UnknownDiscord{Cause: err})
	}

	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()

	rendered := e.RenderMessage()
	_, sendErr := b.rest.CreateMessage(ctx, channelID, discord.CreateMessageRequest{
		Embeds: []discord.Embed{{
			Title:       rendered.Title,
			Description: rendered.Body,
			Color:       errors.EmbedColor,
		}},
	})
	if sendErr != nil {
		b.log.Error("failed to post the error embed", "error", sendErr, "error_id", e.ID)
	}
}

// reply posts a plain text message. Send failures are logged, not
// propagated: there is no better channel to report them to.
func (b *Bot) reply(ctx context.Context, channelID discord.Snowflake, content string) {
	_, err := b.rest.CreateMessage(ctx, channelID, discord.CreateMessageRequest{Content: content})
	if err != nil {
		b.log.Error("failed to send a reply", "error", err)
	}
}

// ReportPlaybackFailure posts an asynchronous playback failure to the
// channel the track was requested from. Wired to the player manager's
// error callback.
func (b *Bot) ReportPlaybackFailure(track player.Track, err error) {
	if track.TextChannelID == "" {
		b.log.Warn("playback failure with no origin channel", "title", track.Title, "error", err)
		return
	}
	b.postError(track.TextChannelID, err)
}
