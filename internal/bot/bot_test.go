package bot

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/veebot/veebot/internal/derpi"
	"github.com/veebot/veebot/internal/discord"
	"github.com/veebot/veebot/internal/player"
	"github.com/veebot/veebot/internal/ytsearch"
	"github.com/veebot/veebot/pkg/errors"
	"github.com/veebot/veebot/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()

	l, err := logger.New(logger.Config{Level: "error", Format: "json", Output: "stdout", Component: "test"})
	if err != nil {
		t.Fatalf("logger.New() failed: %v", err)
	}
	l.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	return l
}

// quietLogs silences envelope construction logging for a test
func quietLogs(t *testing.T) {
	t.Helper()
	errors.SetLogger(testLogger(t))
	t.Cleanup(func() { errors.SetLogger(nil) })
}

type sentMessage struct {
	channelID discord.Snowflake
	req       discord.CreateMessageRequest
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeMessenger) CreateMessage(ctx context.Context, channelID discord.Snowflake, msg discord.CreateMessageRequest) (*discord.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, sentMessage{channelID: channelID, req: msg})
	return &discord.Message{ID: "999", ChannelID: channelID}, nil
}

func (f *fakeMessenger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeMessenger) lastMessage(t *testing.T) sentMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.sent) == 0 {
		t.Fatal("no messages were sent")
	}
	return f.sent[len(f.sent)-1]
}

type fakePlayers struct {
	mu          sync.Mutex
	playGuild   discord.Snowflake
	playChannel discord.Snowflake
	played      []player.Track
	playRes     *player.EnqueueResult
	playErr     error

	skipTrack *player.Track
	skipErr   error

	stopCalled bool
	stopErr    error

	npTrack *player.Track
	npErr   error

	queued []player.Track

	removeIndex int
	removeCalls int
	removeTrack *player.Track
	removeErr   error
}

func (f *fakePlayers) PlayTrack(ctx context.Context, guildID, voiceChannelID discord.Snowflake, track player.Track) (*player.EnqueueResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.playErr != nil {
		return nil, f.playErr
	}
	f.playGuild = guildID
	f.playChannel = voiceChannelID
	f.played = append(f.played, track)
	if f.playRes != nil {
		return f.playRes, nil
	}
	return &player.EnqueueResult{Position: 0, Depth: 1}, nil
}

func (f *fakePlayers) Skip(guildID discord.Snowflake) (*player.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.skipErr != nil {
		return nil, f.skipErr
	}
	if f.skipTrack == nil {
		return nil, errors.New(errors.NoActiveTrack{})
	}
	return f.skipTrack, nil
}

func (f *fakePlayers) Stop(guildID discord.Snowflake) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalled = true
	return f.stopErr
}

func (f *fakePlayers) NowPlaying(guildID discord.Snowflake) (*player.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.npErr != nil {
		return nil, f.npErr
	}
	if f.npTrack == nil {
		return nil, errors.New(errors.NoActiveTrack{})
	}
	return f.npTrack, nil
}

func (f *fakePlayers) Tracks(guildID discord.Snowflake) []player.Track {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queued
}

func (f *fakePlayers) Remove(guildID discord.Snowflake, index int) (*player.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.removeIndex = index
	f.removeCalls++
	if f.removeErr != nil {
		return nil, f.removeErr
	}
	if f.removeTrack == nil {
		return nil, errors.New(errors.TrackIndexOutOfBounds{
			Index:     index,
			Available: &errors.Range{Start: 0, End: 0},
		})
	}
	return f.removeTrack, nil
}

type fakeVideos struct {
	mu          sync.Mutex
	searchQuery string
	searchVideo *ytsearch.Video
	searchErr   error
	lookupID    string
	lookupVideo *ytsearch.Video
	lookupErr   error
}

func (f *fakeVideos) Search(ctx context.Context, query string) (*ytsearch.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.searchQuery = query
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if f.searchVideo == nil {
		return nil, errors.New(errors.YtVidNotFound{Query: query})
	}
	return f.searchVideo, nil
}

func (f *fakeVideos) Lookup(ctx context.Context, videoID string) (*ytsearch.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lookupID = videoID
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	if f.lookupVideo == nil {
		return nil, errors.New(errors.YtVidNotFound{Query: videoID})
	}
	return f.lookupVideo, nil
}

type fakeImages struct {
	mu   sync.Mutex
	tags []string
	img  *derpi.Image
	err  error
}

func (f *fakeImages) SearchImage(ctx context.Context, tags []string) (*derpi.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.tags = tags
	return f.img, f.err
}

func (f *fakeImages) ImagePageURL(img *derpi.Image) string {
	return fmt.Sprintf("https://derpibooru.org/images/%d", img.ID)
}

// newTestBot wires a bot to fakes. The state has guild 100 with voice
// channel 201 and text channel 301, and user 7 sitting in the voice
// channel.
func newTestBot(t *testing.T) (*Bot, *fakeMessenger, *fakePlayers, *fakeVideos, *fakeImages) {
	t.Helper()
	quietLogs(t)

	st := discord.NewState()
	st.SetSelf(discord.User{ID: "42", Username: "veebot", Bot: true})
	st.ApplyGuildCreate(&discord.Guild{
		ID:   "100",
		Name: "Test Guild",
		Channels: []discord.Channel{
			{ID: "201", GuildID: "100", Name: "Music", Type: discord.ChannelTypeGuildVoice},
			{ID: "301", GuildID: "100", Name: "general", Type: discord.ChannelTypeGuildText},
		},
	})
	st.ApplyVoiceState(&discord.VoiceState{GuildID: "100", ChannelID: "201", UserID: "7", SessionID: "sess-7"})

	rest := &fakeMessenger{}
	players := &fakePlayers{}
	videos := &fakeVideos{}
	images := &fakeImages{}

	b := New(Deps{
		Rest:    rest,
		State:   st,
		Players: players,
		Videos:  videos,
		Images:  images,
	}, Config{}, testLogger(t))

	return b, rest, players, videos, images
}

func guildMsg(content string) *discord.Message {
	return &discord.Message{
		ID:        "900",
		ChannelID: "301",
		GuildID:   "100",
		Author:    discord.User{ID: "7", Username: "twily"},
		Content:   content,
	}
}

// run feeds one message through the bot and waits for its handler
func run(t *testing.T, b *Bot, msg *discord.Message) {
	t.Helper()
	b.HandleMessage(msg)
	b.Close()
}

// errorEmbed asserts the last message is a single red error embed
func errorEmbed(t *testing.T, rest *fakeMessenger) discord.Embed {
	t.Helper()

	m := rest.lastMessage(t)
	if len(m.req.Embeds) != 1 {
		t.Fatalf("message has %d embeds, want the error embed", len(m.req.Embeds))
	}
	emb := m.req.Embeds[0]
	if emb.Color != errors.EmbedColor {
		t.Errorf("embed color = %#x, want %#x", emb.Color, errors.EmbedColor)
	}
	return emb
}

func TestIgnoresIrrelevantMessages(t *testing.T) {
	b, rest, _, _, _ := newTestBot(t)

	plain := guildMsg("just chatting about ponies")
	fromBot := guildMsg("!ping")
	fromBot.Author.Bot = true
	unknown := guildMsg("!frobnicate")
	bare := guildMsg("!")

	for _, msg := range []*discord.Message{plain, fromBot, unknown, bare} {
		run(t, b, msg)
	}

	if rest.count() != 0 {
		t.Errorf("%d messages sent, want none", rest.count())
	}
}

func TestPingPong(t *testing.T) {
	b, rest, _, _, _ := newTestBot(t)

	run(t, b, guildMsg("!ping"))

	got := rest.lastMessage(t)
	if !strings.Contains(got.req.Content, "Pong") {
		t.Errorf("reply = %q, want a pong", got.req.Content)
	}
	if got.channelID != "301" {
		t.Errorf("replied to channel %s, want the origin channel", got.channelID)
	}
}

func TestCommandNameCaseInsensitive(t *testing.T) {
	b, rest, _, _, _ := newTestBot(t)

	run(t, b, guildMsg("!PING"))

	if rest.count() != 1 {
		t.Fatalf("%d messages sent, want the pong", rest.count())
	}
}

func TestHelpListsCommands(t *testing.T) {
	b, rest, _, _, _ := newTestBot(t)

	run(t, b, guildMsg("!help"))

	content := rest.lastMessage(t).req.Content
	for _, want := range []string{"!play", "!skip", "!queue", "!pic", "!boop"} {
		if !strings.Contains(content, want) {
			t.Errorf("help output misses %q:\n%s", want, content)
		}
	}
}

func TestPlaySearchesAndQueues(t *testing.T) {
	b, rest, players, videos, _ := newTestBot(t)
	videos.searchVideo = &ytsearch.Video{ID: "dQw4w9WgXcQ", Title: "Never Gonna Give You Up", ChannelTitle: "Rick Astley"}

	run(t, b, guildMsg("!play never gonna give you up"))

	videos.mu.Lock()
	query := videos.searchQuery
	videos.mu.Unlock()
	if query != "never gonna give you up" {
		t.Errorf("search query = %q, want the full argument text", query)
	}

	players.mu.Lock()
	defer players.mu.Unlock()
	if players.playGuild != "100" || players.playChannel != "201" {
		t.Errorf("queued in guild %s channel %s, want the caller's voice channel",
			players.playGuild, players.playChannel)
	}
	if len(players.played) != 1 {
		t.Fatalf("%d tracks queued, want 1", len(players.played))
	}
	track := players.played[0]
	if track.Title != "Never Gonna Give You Up" {
		t.Errorf("track title = %q", track.Title)
	}
	if track.URL != "https://www.youtube.com/watch?v=dQw4w9WgXcQ" {
		t.Errorf("track url = %q, want the canonical watch link", track.URL)
	}
	if track.RequestedBy != "7" {
		t.Errorf("track requested by %s, want the message author", track.RequestedBy)
	}
	if track.TextChannelID != "301" {
		t.Errorf("track origin channel = %s, want the message channel", track.TextChannelID)
	}

	if !strings.Contains(rest.lastMessage(t).req.Content, "Now playing") {
		t.Errorf("reply = %q, want a now playing confirmation", rest.lastMessage(t).req.Content)
	}
}

func TestPlayReportsQueuePosition(t *testing.T) {
	b, rest, players, videos, _ := newTestBot(t)
	videos.searchVideo = &ytsearch.Video{ID: "abc12345678", Title: "Winter Wrap Up"}
	players.playRes = &player.EnqueueResult{Position: 2, Depth: 3}

	run(t, b, guildMsg("!play winter wrap up"))

	content := rest.lastMessage(t).req.Content
	if !strings.Contains(content, "position 2") {
		t.Errorf("reply = %q, want the queue position", content)
	}
}

func TestPlayDirectLink(t *testing.T) {
	b, _, _, videos, _ := newTestBot(t)
	videos.lookupVideo = &ytsearch.Video{ID: "dQw4w9WgXcQ", Title: "Never Gonna Give You Up", Duration: 3*time.Minute + 33*time.Second}

	run(t, b, guildMsg("!play https://youtu.be/dQw4w9WgXcQ"))

	videos.mu.Lock()
	defer videos.mu.Unlock()
	if videos.lookupID != "dQw4w9WgXcQ" {
		t.Errorf("lookup id = %q, want the inferred video id", videos.lookupID)
	}
	if videos.searchQuery != "" {
		t.Errorf("a direct link must not be searched, got query %q", videos.searchQuery)
	}
}

func TestPlayUnparsableLink(t *testing.T) {
	b, rest, players, _, _ := newTestBot(t)

	run(t, b, guildMsg("!play https://example.com/cats"))

	emb := errorEmbed(t, rest)
	if emb.Title != "Invalid argument error" {
		t.Errorf("embed title = %q, want the argument parse title", emb.Title)
	}
	if !strings.Contains(emb.Description, "Could not infer YouTube video id") {
		t.Errorf("embed body misses the nested failure:\n%s", emb.Description)
	}
	if !strings.Contains(emb.Description, "ParseArg{") {
		t.Errorf("embed body misses the debug dump:\n%s", emb.Description)
	}

	players.mu.Lock()
	defer players.mu.Unlock()
	if len(players.played) != 0 {
		t.Error("nothing should be queued for an unparsable link")
	}
}

func TestPlayRequiresVoiceChannel(t *testing.T) {
	b, rest, _, _, _ := newTestBot(t)

	msg := guildMsg("!play cute pony music")
	msg.Author.ID = "8" // not in any voice channel
	run(t, b, msg)

	emb := errorEmbed(t, rest)
	if emb.Title != "Not in a voice channel error" {
		t.Errorf("embed title = %q", emb.Title)
	}
}

func TestGuildOnlyCommandFromDM(t *testing.T) {
	b, rest, _, _, _ := newTestBot(t)

	msg := guildMsg("!play something")
	msg.GuildID = ""
	msg.ChannelID = "555"
	run(t, b, msg)

	emb := errorEmbed(t, rest)
	if emb.Title != "Not in a guild error" {
		t.Errorf("embed title = %q", emb.Title)
	}
	if rest.lastMessage(t).channelID != "555" {
		t.Errorf("error posted to %s, want the DM channel", rest.lastMessage(t).channelID)
	}
}

func TestPlayQueueFullPlainReply(t *testing.T) {
	b, rest, players, videos, _ := newTestBot(t)
	videos.searchVideo = &ytsearch.Video{ID: "abc12345678", Title: "Song"}
	players.playErr = player.ErrQueueFull

	run(t, b, guildMsg("!play song"))

	got := rest.lastMessage(t)
	if len(got.req.Embeds) != 0 {
		t.Error("a full queue is reported as plain text, not an error embed")
	}
	if !strings.Contains(got.req.Content, "full") {
		t.Errorf("reply = %q, want a queue full notice", got.req.Content)
	}
}

func TestSkipRepliesWithTrack(t *testing.T) {
	b, rest, players, _, _ := newTestBot(t)
	players.skipTrack = &player.Track{Title: "Art of the Dress"}

	run(t, b, guildMsg("!skip"))

	if !strings.Contains(rest.lastMessage(t).req.Content, "Art of the Dress") {
		t.Errorf("reply = %q, want the skipped title", rest.lastMessage(t).req.Content)
	}
}

func TestSkipNothingPlaying(t *testing.T) {
	b, rest, _, _, _ := newTestBot(t)

	run(t, b, guildMsg("!skip"))

	emb := errorEmbed(t, rest)
	if emb.Title != "Invalid command error" {
		t.Errorf("embed title = %q", emb.Title)
	}
	if !strings.Contains(emb.Description, "No track is currently playing") {
		t.Errorf("embed body = %q", emb.Description)
	}
}

func TestStop(t *testing.T) {
	b, rest, players, _, _ := newTestBot(t)
	players.skipTrack = &player.Track{Title: "whatever"}

	run(t, b, guildMsg("!stop"))

	players.mu.Lock()
	stopped := players.stopCalled
	players.mu.Unlock()
	if !stopped {
		t.Error("Stop was not called")
	}
	if !strings.Contains(rest.lastMessage(t).req.Content, "Stopped") {
		t.Errorf("reply = %q", rest.lastMessage(t).req.Content)
	}
}

func TestNowPlayingShowsDuration(t *testing.T) {
	b, rest, players, _, _ := newTestBot(t)
	players.npTrack = &player.Track{
		Title:    "Never Gonna Give You Up",
		URL:      "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		Duration: 3*time.Minute + 33*time.Second,
	}

	run(t, b, guildMsg("!np"))

	content := rest.lastMessage(t).req.Content
	if !strings.Contains(content, "Never Gonna Give You Up") {
		t.Errorf("reply misses the title: %q", content)
	}
	if !strings.Contains(content, "(3:33)") {
		t.Errorf("reply misses the duration: %q", content)
	}
	if !strings.Contains(content, "watch?v=dQw4w9WgXcQ") {
		t.Errorf("reply misses the link: %q", content)
	}
}

func TestQueueListing(t *testing.T) {
	b, rest, players, _, _ := newTestBot(t)
	players.queued = []player.Track{
		{Title: "first"},
		{Title: "second"},
		{Title: "third"},
	}

	run(t, b, guildMsg("!queue"))

	content := rest.lastMessage(t).req.Content
	if !strings.Contains(content, "3 tracks") {
		t.Errorf("listing misses the count: %q", content)
	}
	if !strings.Contains(content, "**first**") {
		t.Errorf("listing misses the playing marker: %q", content)
	}
	if !strings.Contains(content, "1. second") || !strings.Contains(content, "2. third") {
		t.Errorf("listing indexes do not match remove indexes: %q", content)
	}
}

func TestQueueEmpty(t *testing.T) {
	b, rest, _, _, _ := newTestBot(t)

	run(t, b, guildMsg("!queue"))

	if !strings.Contains(rest.lastMessage(t).req.Content, "empty") {
		t.Errorf("reply = %q", rest.lastMessage(t).req.Content)
	}
}

func TestRemoveParsesIndex(t *testing.T) {
	b, rest, players, _, _ := newTestBot(t)
	players.removeTrack = &player.Track{Title: "second"}

	run(t, b, guildMsg("!remove 2"))

	players.mu.Lock()
	index := players.removeIndex
	players.mu.Unlock()
	if index != 2 {
		t.Errorf("removed index %d, want 2", index)
	}
	if !strings.Contains(rest.lastMessage(t).req.Content, "second") {
		t.Errorf("reply = %q", rest.lastMessage(t).req.Content)
	}
}

func TestRemoveBadIndex(t *testing.T) {
	b, rest, players, _, _ := newTestBot(t)

	run(t, b, guildMsg("!remove banana"))

	emb := errorEmbed(t, rest)
	if emb.Title != "Invalid argument error" {
		t.Errorf("embed title = %q", emb.Title)
	}
	if !strings.Contains(emb.Description, "Failed to parse an integer") {
		t.Errorf("embed body = %q", emb.Description)
	}

	players.mu.Lock()
	defer players.mu.Unlock()
	if players.removeCalls != 0 {
		t.Error("Remove must not run with an unparsable index")
	}
}

func TestRemoveUsage(t *testing.T) {
	b, rest, players, _, _ := newTestBot(t)

	run(t, b, guildMsg("!remove"))

	got := rest.lastMessage(t)
	if len(got.req.Embeds) != 0 || !strings.Contains(got.req.Content, "Usage") {
		t.Errorf("reply = %+v, want a usage hint", got.req)
	}

	players.mu.Lock()
	defer players.mu.Unlock()
	if players.removeCalls != 0 {
		t.Error("Remove must not run without an index")
	}
}

func TestPicPostsEmbed(t *testing.T) {
	b, rest, _, _, images := newTestBot(t)
	images.img = &derpi.Image{ID: 1234567, ViewURL: "https://derpicdn.net/img/view/1234567.png"}

	run(t, b, guildMsg("!pic cute twilight"))

	images.mu.Lock()
	tags := images.tags
	images.mu.Unlock()
	if len(tags) != 2 || tags[0] != "cute" || tags[1] != "twilight" {
		t.Errorf("searched tags = %v, want [cute twilight]", tags)
	}

	got := rest.lastMessage(t)
	if len(got.req.Embeds) != 1 {
		t.Fatalf("message has %d embeds, want the image embed", len(got.req.Embeds))
	}
	emb := got.req.Embeds[0]
	if emb.Image == nil || emb.Image.URL != "https://derpicdn.net/img/view/1234567.png" {
		t.Errorf("embed image = %+v", emb.Image)
	}
	if emb.URL != "https://derpibooru.org/images/1234567" {
		t.Errorf("embed link = %q, want the image page", emb.URL)
	}
}

func TestPicNoHits(t *testing.T) {
	b, rest, _, _, _ := newTestBot(t)

	run(t, b, guildMsg("!pic extremely specific nonsense"))

	got := rest.lastMessage(t)
	if len(got.req.Embeds) != 0 {
		t.Error("zero hits is reported as plain text, not an embed")
	}
	if !strings.Contains(got.req.Content, "No images found") {
		t.Errorf("reply = %q", got.req.Content)
	}
}

func TestBoopUsesBoopTag(t *testing.T) {
	b, _, _, _, images := newTestBot(t)
	images.img = &derpi.Image{ID: 42, ViewURL: "https://derpicdn.net/img/view/42.png"}

	run(t, b, guildMsg("!boop"))

	images.mu.Lock()
	defer images.mu.Unlock()
	if len(images.tags) != 1 || images.tags[0] != "boop" {
		t.Errorf("searched tags = %v, want [boop]", images.tags)
	}
}

func TestReportPlaybackFailure(t *testing.T) {
	b, rest, _, _, _ := newTestBot(t)

	env := errors.New(errors.AudioStart{Cause: stderrors.New("pipeline exited")})
	b.ReportPlaybackFailure(player.Track{Title: "doomed", TextChannelID: "301"}, env)

	emb := errorEmbed(t, rest)
	if emb.Title != "Internal error" {
		t.Errorf("embed title = %q", emb.Title)
	}
	if rest.lastMessage(t).channelID != "301" {
		t.Errorf("posted to %s, want the track's origin channel", rest.lastMessage(t).channelID)
	}

	// Without an origin channel there is nowhere to post
	b.ReportPlaybackFailure(player.Track{Title: "orphan"}, env)
	if rest.count() != 1 {
		t.Errorf("%d messages sent, want still 1", rest.count())
	}
}

func TestReplyFailureIsSwallowed(t *testing.T) {
	b, rest, _, _, _ := newTestBot(t)
	rest.err = stderrors.New("channel deleted")

	// The handler has no better channel to report the failure to, so it
	// must not panic or loop
	run(t, b, guildMsg("!ping"))

	if rest.count() != 0 {
		t.Errorf("%d messages recorded, want none", rest.count())
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{45 * time.Second, "0:45"},
		{3*time.Minute + 33*time.Second, "3:33"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
		{2 * time.Hour, "2:00:00"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
