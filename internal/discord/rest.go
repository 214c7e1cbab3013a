package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/veebot/veebot/pkg/logger"
)

const (
	apiBase   = "https://discord.com/api/v10"
	userAgent = "DiscordBot (https://github.com/veebot/veebot, 0.3.1)"
)

var ErrMissingToken = errors.New("bot token is required")

// RestClient talks to the Discord REST API
type RestClient struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

// NewRest creates a REST client for the given bot token
func NewRest(token string, log *logger.Logger) (*RestClient, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	if log == nil {
		log = logger.Global()
	}

	return &RestClient{
		baseURL: apiBase,
		token:   token,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		// Discord allows 50 requests per second globally
		limiter: rate.NewLimiter(rate.Limit(50), 10),
		log:     log.WithComponent("rest"),
	}, nil
}

// do performs a rate-limited request and decodes the response into out.
// A 429 response is retried once after the server-indicated delay.
func (c *RestClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	for attempt := 0; attempt < 2; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("failed to marshal request: %w", err)
			}
			reader = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bot "+c.token)
		req.Header.Set("User-Agent", userAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s failed: %w", method, path, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			delay := retryAfter(resp)
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			c.log.Warn("rate limited by discord", "path", path, "retry_after", delay)

			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("%s %s failed (status %d): %s", method, path, resp.StatusCode, string(respBody))
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				resp.Body.Close()
				return fmt.Errorf("failed to decode response: %w", err)
			}
		} else {
			io.Copy(io.Discard, resp.Body)
		}
		resp.Body.Close()
		return nil
	}

	return fmt.Errorf("%s %s failed: rate limited twice", method, path)
}

// retryAfter extracts the retry delay from a 429 response
func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return time.Second
}

// CreateMessage posts a message to a text channel
func (c *RestClient) CreateMessage(ctx context.Context, channelID Snowflake, msg CreateMessageRequest) (*Message, error) {
	var out Message
	path := fmt.Sprintf("/channels/%s/messages", channelID)
	if err := c.do(ctx, http.MethodPost, path, msg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetGatewayBot returns the gateway URL for the bot
func (c *RestClient) GetGatewayBot(ctx context.Context) (*GatewayBot, error) {
	var out GatewayBot
	if err := c.do(ctx, http.MethodGet, "/gateway/bot", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCurrentUser returns the bot's own user
func (c *RestClient) GetCurrentUser(ctx context.Context) (*User, error) {
	var out User
	if err := c.do(ctx, http.MethodGet, "/users/@me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
