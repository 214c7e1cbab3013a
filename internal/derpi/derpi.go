// Package derpi searches derpibooru for images.
package derpi

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/veebot/veebot/pkg/errors"
	"github.com/veebot/veebot/pkg/httpjson"
)

// DefaultBaseURL is the public derpibooru instance
const DefaultBaseURL = "https://derpibooru.org"

// Config carries the search settings from the bot configuration
type Config struct {
	// BaseURL of the booru instance (default: the public one)
	BaseURL string

	// Filter is the content filter id sent with every search, empty for
	// the instance default
	Filter string

	// AlwaysOnTags are prepended to every search
	AlwaysOnTags []string
}

// Image is one search hit
type Image struct {
	ID        int      `json:"id"`
	ViewURL   string   `json:"view_url"`
	SourceURL string   `json:"source_url"`
	Tags      []string `json:"tags"`
	Score     int      `json:"score"`
	Width     int      `json:"width"`
	Height    int      `json:"height"`
}

type searchResponse struct {
	Images []Image `json:"images"`
	Total  int     `json:"total"`
}

// Client searches a derpibooru instance
type Client struct {
	http         *httpjson.Client
	searchURL    string
	imageBase    *url.URL
	filter       string
	alwaysOnTags []string
}

// NewClient creates an image search client
func NewClient(httpClient *httpjson.Client, cfg Config) (*Client, error) {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid derpibooru base url %q: %w", base, err)
	}

	return &Client{
		http:         httpClient,
		searchURL:    u.JoinPath("api", "v1", "json", "search", "images").String(),
		imageBase:    u,
		filter:       cfg.Filter,
		alwaysOnTags: cfg.AlwaysOnTags,
	}, nil
}

// SearchImage returns a random image matching all the tags, or nil when
// nothing matches. An empty result is a normal outcome, not an error.
//
// Tags are joined with commas in the search query, so a comma inside a
// single tag is rejected before any request goes out.
func (c *Client) SearchImage(ctx context.Context, tags []string) (*Image, error) {
	merged := make([]string, 0, len(c.alwaysOnTags)+len(tags))
	merged = append(merged, c.alwaysOnTags...)
	for _, tag := range tags {
		if strings.Contains(tag, ",") {
			return nil, errors.New(errors.CommaInImageTag{Input: tag})
		}
		merged = append(merged, tag)
	}

	query := url.Values{
		"q":        {strings.Join(merged, ",")},
		"sf":       {"random"},
		"per_page": {"1"},
	}
	if c.filter != "" {
		query.Set("filter_id", c.filter)
	}

	resp, err := httpjson.GetJSON[searchResponse](ctx, c.http, c.searchURL, query)
	if err != nil {
		return nil, err
	}

	if len(resp.Images) == 0 {
		return nil, nil
	}
	return &resp.Images[0], nil
}

// ImagePageURL returns the booru page for an image
func (c *Client) ImagePageURL(img *Image) string {
	return c.imageBase.JoinPath("images", strconv.Itoa(img.ID)).String()
}
