package bot

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/veebot/veebot/internal/discord"
	"github.com/veebot/veebot/internal/player"
	"github.com/veebot/veebot/internal/ytsearch"
	"github.com/veebot/veebot/pkg/errors"
)

// queueDisplayLimit caps the queue listing so it stays well under the
// 2000 character message limit
const queueDisplayLimit = 15

func (b *Bot) handleHelp(ctx context.Context, msg *discord.Message, a *args) error {
	names := make([]string, 0, len(b.commands))
	for name := range b.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("📖 **Veebot commands**\n\n")
	for _, name := range names {
		cmd := b.commands[name]
		sb.WriteString(fmt.Sprintf("- `%s%s` - %s\n", b.prefix, cmd.usage, cmd.description))
	}

	b.reply(ctx, msg.ChannelID, sb.String())
	return nil
}

func (b *Bot) handlePing(ctx context.Context, msg *discord.Message, a *args) error {
	b.reply(ctx, msg.ChannelID, "🏓 Pong!")
	return nil
}

func (b *Bot) handlePlay(ctx context.Context, msg *discord.Message, a *args) error {
	if !a.More() {
		b.reply(ctx, msg.ChannelID, fmt.Sprintf("Usage: `%splay <youtube url or search query>`", b.prefix))
		return nil
	}

	channelID, ok := b.state.VoiceChannelOf(msg.GuildID, msg.Author.ID)
	if !ok {
		return errors.New(errors.UserNotInVoiceChannel{})
	}

	video, err := b.resolveVideo(ctx, a.Rest())
	if err != nil {
		return err
	}

	track := player.Track{
		Title:         video.Title,
		VideoID:       video.ID,
		URL:           video.WatchURL(),
		Duration:      video.Duration,
		RequestedBy:   msg.Author.ID,
		TextChannelID: msg.ChannelID,
	}

	res, err := b.players.PlayTrack(ctx, msg.GuildID, channelID, track)
	if stderrors.Is(err, player.ErrQueueFull) {
		// An operational limit, not a failure: plain reply, no embed
		b.reply(ctx, msg.ChannelID, "The queue is full, try again once some tracks finish.")
		return nil
	}
	if err != nil {
		return err
	}

	if res.Position == 0 {
		b.reply(ctx, msg.ChannelID, fmt.Sprintf("▶ Now playing **%s**", video.Title))
	} else {
		b.reply(ctx, msg.ChannelID, fmt.Sprintf("Queued **%s** at position %d", video.Title, res.Position))
	}
	return nil
}

// resolveVideo turns the play argument into a video. URL-shaped input is
// always treated as a link: the video id is inferred and looked up, and
// a link the id cannot be inferred from is an argument error rather than
// a search query. Everything else is searched.
func (b *Bot) resolveVideo(ctx context.Context, query string) (*ytsearch.Video, error) {
	if !ytsearch.IsVideoURL(query) && !hasURLScheme(query) {
		return b.videos.Search(ctx, query)
	}

	id, err := ytsearch.InferVideoID(query)
	if err != nil {
		var e *errors.Error
		if stderrors.As(err, &e) {
			return nil, errors.New(errors.ParseArg{Arg: query, Cause: e})
		}
		return nil, err
	}
	return b.videos.Lookup(ctx, id)
}

func hasURLScheme(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func (b *Bot) handleSkip(ctx context.Context, msg *discord.Message, a *args) error {
	track, err := b.players.Skip(msg.GuildID)
	if err != nil {
		return err
	}
	b.reply(ctx, msg.ChannelID, fmt.Sprintf("⏭ Skipped **%s**", track.Title))
	return nil
}

func (b *Bot) handleStop(ctx context.Context, msg *discord.Message, a *args) error {
	if err := b.players.Stop(msg.GuildID); err != nil {
		return err
	}
	b.reply(ctx, msg.ChannelID, "⏹ Stopped playback and cleared the queue.")
	return nil
}

func (b *Bot) handleNowPlaying(ctx context.Context, msg *discord.Message, a *args) error {
	track, err := b.players.NowPlaying(msg.GuildID)
	if err != nil {
		return err
	}

	line := fmt.Sprintf("▶ Now playing **%s**", track.Title)
	if track.Duration > 0 {
		line += fmt.Sprintf(" (%s)", formatDuration(track.Duration))
	}
	b.reply(ctx, msg.ChannelID, line+"\n"+track.URL)
	return nil
}

func (b *Bot) handleQueue(ctx context.Context, msg *discord.Message, a *args) error {
	tracks := b.players.Tracks(msg.GuildID)
	if len(tracks) == 0 {
		b.reply(ctx, msg.ChannelID, "The queue is empty.")
		return nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("**Queue** (%d tracks)\n", len(tracks)))
	for i, track := range tracks {
		if i >= queueDisplayLimit {
			sb.WriteString(fmt.Sprintf("... and %d more\n", len(tracks)-i))
			break
		}

		suffix := ""
		if track.Duration > 0 {
			suffix = fmt.Sprintf(" (%s)", formatDuration(track.Duration))
		}
		if i == 0 {
			sb.WriteString(fmt.Sprintf("▶ **%s**%s\n", track.Title, suffix))
		} else {
			sb.WriteString(fmt.Sprintf("%d. %s%s\n", i, track.Title, suffix))
		}
	}

	b.reply(ctx, msg.ChannelID, sb.String())
	return nil
}

func (b *Bot) handleRemove(ctx context.Context, msg *discord.Message, a *args) error {
	if !a.More() {
		b.reply(ctx, msg.ChannelID, fmt.Sprintf("Usage: `%sremove <index>`", b.prefix))
		return nil
	}

	index, err := a.Int()
	if err != nil {
		return err
	}

	track, err := b.players.Remove(msg.GuildID, index)
	if err != nil {
		return err
	}
	b.reply(ctx, msg.ChannelID, fmt.Sprintf("Removed **%s** from the queue.", track.Title))
	return nil
}

func (b *Bot) handlePic(ctx context.Context, msg *discord.Message, a *args) error {
	return b.postRandomImage(ctx, msg.ChannelID, a.Words())
}

func (b *Bot) handleBoop(ctx context.Context, msg *discord.Message, a *args) error {
	return b.postRandomImage(ctx, msg.ChannelID, []string{"boop"})
}

// postRandomImage searches derpibooru and posts the hit as an embed.
// Zero hits is a domain outcome, reported as plain text.
func (b *Bot) postRandomImage(ctx context.Context, channelID discord.Snowflake, tags []string) error {
	img, err := b.images.SearchImage(ctx, tags)
	if err != nil {
		return err
	}
	if img == nil {
		b.reply(ctx, channelID, "No images found for those tags.")
		return nil
	}

	_, err = b.rest.CreateMessage(ctx, channelID, discord.CreateMessageRequest{
		Embeds: []discord.Embed{{
			Title: fmt.Sprintf("Derpibooru #%d", img.ID),
			URL:   b.images.ImagePageURL(img),
			Image: &discord.EmbedImage{URL: img.ViewURL},
		}},
	})
	if err != nil {
		b.log.Error("failed to post the image embed", "error", err)
	}
	return nil
}

// formatDuration renders a track duration as m:ss or h:mm:ss
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
