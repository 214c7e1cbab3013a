// Package ytsearch resolves user input into YouTube videos through the
// Data API v3.
package ytsearch

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/veebot/veebot/pkg/errors"
	"github.com/veebot/veebot/pkg/httpjson"
)

// apiURL builds Data API endpoints. Swapped by tests.
var apiURL = httpjson.URLBase("https://www.googleapis.com")

// videoIDPattern matches the watch, short-link, embed and shorts URL forms.
// Video ids are always 11 characters of the base64url alphabet.
var videoIDPattern = regexp.MustCompile(
	`(?:\byoutube\.com/(?:watch\?(?:[^#]*&)?v=|embed/|shorts/)|\byoutu\.be/)([A-Za-z0-9_-]{11})`)

// Video is one resolved YouTube video. Duration is zero when the API
// response did not include it.
type Video struct {
	ID           string
	Title        string
	ChannelTitle string
	Duration     time.Duration
}

// WatchURL returns the canonical watch link for the video
func (v *Video) WatchURL() string {
	return WatchURL(v.ID)
}

// WatchURL returns the canonical watch link for a video id
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// IsVideoURL reports whether the input contains a recognizable YouTube link
func IsVideoURL(input string) bool {
	return videoIDPattern.MatchString(input)
}

// InferVideoID extracts the video id from a YouTube link
func InferVideoID(rawURL string) (string, error) {
	m := videoIDPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", errors.New(errors.YtInferVideoId{URL: rawURL})
	}
	return m[1], nil
}

// Client searches YouTube through the Data API v3
type Client struct {
	http   *httpjson.Client
	apiKey string
}

// NewClient creates a YouTube search client
func NewClient(httpClient *httpjson.Client, apiKey string) *Client {
	return &Client{http: httpClient, apiKey: apiKey}
}

type snippet struct {
	Title        string `json:"title"`
	ChannelTitle string `json:"channelTitle"`
}

type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet snippet `json:"snippet"`
	} `json:"items"`
}

type videosResponse struct {
	Items []struct {
		ID             string  `json:"id"`
		Snippet        snippet `json:"snippet"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}

// Search returns the first video matching the query
func (c *Client) Search(ctx context.Context, query string) (*Video, error) {
	resp, err := httpjson.GetJSON[searchResponse](ctx, c.http, apiURL("youtube", "v3", "search"), url.Values{
		"part":       {"snippet"},
		"type":       {"video"},
		"maxResults": {"1"},
		"q":          {query},
		"key":        {c.apiKey},
	})
	if err != nil {
		return nil, err
	}

	for _, item := range resp.Items {
		if item.ID.VideoID == "" {
			continue
		}
		return &Video{
			ID: item.ID.VideoID,
			// Search results carry HTML-escaped titles
			Title:        html.UnescapeString(item.Snippet.Title),
			ChannelTitle: item.Snippet.ChannelTitle,
		}, nil
	}
	return nil, errors.New(errors.YtVidNotFound{Query: query})
}

// Lookup fetches the title and duration for a known video id
func (c *Client) Lookup(ctx context.Context, videoID string) (*Video, error) {
	resp, err := httpjson.GetJSON[videosResponse](ctx, c.http, apiURL("youtube", "v3", "videos"), url.Values{
		"part": {"snippet,contentDetails"},
		"id":   {videoID},
		"key":  {c.apiKey},
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Items) == 0 {
		return nil, errors.New(errors.YtVidNotFound{Query: videoID})
	}
	item := resp.Items[0]

	// An unparseable duration is not worth failing the whole lookup
	duration, _ := parseISODuration(item.ContentDetails.Duration)

	return &Video{
		ID:           item.ID,
		Title:        item.Snippet.Title,
		ChannelTitle: item.Snippet.ChannelTitle,
		Duration:     duration,
	}, nil
}

// isoDurationPattern matches the ISO 8601 duration subset the Data API
// emits ("PT3M33S", "PT1H2M", "P1DT2H", "P0D" for live streams)
var isoDurationPattern = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

func parseISODuration(s string) (time.Duration, error) {
	m := isoDurationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("unrecognized duration %q", s)
	}

	part := func(i int) time.Duration {
		if m[i] == "" {
			return 0
		}
		n, _ := strconv.Atoi(m[i])
		return time.Duration(n)
	}
	return part(1)*24*time.Hour + part(2)*time.Hour + part(3)*time.Minute + part(4)*time.Second, nil
}
