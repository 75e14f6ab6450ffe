// Package crawl assembles location-tagged community discussion into a bounded
// prompt-context block. It is a content-generation input, never a critical
// path: every failure degrades to a deterministic "no results" string.
package crawl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/lucav88/ava/internal/reliability"
)

const (
	defaultPollInterval    = 2 * time.Second
	defaultCollectDeadline = 45 * time.Second

	maxCallAttempts  = 3
	defaultRetryBase = 500 * time.Millisecond
)

type Config struct {
	BaseURL   string
	APIKey    string
	DatasetID string

	// OnResult observes every Fetch outcome: "ok", "degraded" or
	// "unsupported". The server wires it to the crawl fetch counter.
	OnResult func(result string)

	// Test hooks; zero values select the fixed production constants.
	PollInterval    time.Duration
	CollectDeadline time.Duration
	RetryBase       time.Duration
	HTTPClient      *http.Client
}

// Client drives the snapshot-style discovery API: trigger a collection, poll
// its progress until ready or deadline, then download the payload.
type Client struct {
	cfg    Config
	logger zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.CollectDeadline <= 0 {
		cfg.CollectDeadline = defaultCollectDeadline
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = defaultRetryBase
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	return &Client{cfg: cfg, logger: logger}
}

// Fetch renders the prompt context for one supported location tag. It never
// returns an error: any failure yields the deterministic no-results string.
func (c *Client) Fetch(ctx context.Context, locationTag, query string) string {
	loc, ok := Lookup(locationTag)
	if !ok {
		c.observe("unsupported")
		return NoResults(locationTag)
	}

	payload, err := c.collect(ctx, loc)
	if err != nil {
		c.logger.Warn().Err(err).Str("location", loc.Tag).Msg("crawl collection failed, degrading to no-results context")
		c.observe("degraded")
		return NoResults(loc.Name)
	}
	c.observe("ok")

	posts := Rank(ParseRecords(payload), loc, query, time.Now())
	return Render(posts, loc)
}

func (c *Client) observe(result string) {
	if c.cfg.OnResult != nil {
		c.cfg.OnResult(result)
	}
}

// collect runs trigger → poll → download against the discovery API.
func (c *Client) collect(ctx context.Context, loc Location) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CollectDeadline)
	defer cancel()

	snapshotID, err := c.trigger(ctx, loc)
	if err != nil {
		return nil, err
	}

	if err := c.awaitReady(ctx, snapshotID); err != nil {
		return nil, err
	}

	return c.download(ctx, snapshotID)
}

func (c *Client) trigger(ctx context.Context, loc Location) (string, error) {
	inputs := make([]map[string]string, 0, len(loc.Communities))
	for _, community := range loc.Communities {
		inputs = append(inputs, map[string]string{
			"url":     fmt.Sprintf("https://www.reddit.com/r/%s/", community),
			"sort_by": "Hot",
		})
	}
	body, err := json.Marshal(inputs)
	if err != nil {
		return "", fmt.Errorf("marshal trigger inputs: %w", err)
	}

	url := fmt.Sprintf("%s/trigger?dataset_id=%s&include_errors=true", c.cfg.BaseURL, c.cfg.DatasetID)
	data, err := c.call(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", fmt.Errorf("trigger collection: %w", err)
	}

	snapshotID := gjson.GetBytes(data, "snapshot_id").String()
	if snapshotID == "" {
		return "", fmt.Errorf("trigger response missing snapshot_id")
	}
	return snapshotID, nil
}

func (c *Client) awaitReady(ctx context.Context, snapshotID string) error {
	url := fmt.Sprintf("%s/progress/%s", c.cfg.BaseURL, snapshotID)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		data, err := c.call(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("poll snapshot progress: %w", err)
		}
		switch status := gjson.GetBytes(data, "status").String(); status {
		case "ready":
			return nil
		case "failed", "error":
			return fmt.Errorf("snapshot %s collection failed", snapshotID)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("snapshot %s not ready before deadline: %w", snapshotID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) download(ctx context.Context, snapshotID string) ([]byte, error) {
	url := fmt.Sprintf("%s/snapshot/%s?format=json", c.cfg.BaseURL, snapshotID)
	data, err := c.call(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("download snapshot: %w", err)
	}
	return data, nil
}

// call sends one authenticated request, retrying transient failures a few
// times before the collect deadline gives up for good.
func (c *Client) call(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var out []byte
	err := reliability.Do(ctx, maxCallAttempts, c.cfg.RetryBase, 8*c.cfg.RetryBase, func() (error, bool) {
		data, status, err := c.callOnce(ctx, method, url, body)
		if err != nil {
			return err, true
		}
		if status < 200 || status >= 300 {
			return fmt.Errorf("discovery api status %d: %s", status, truncate(string(data), 200)), reliability.RetryableStatus(status)
		}
		out = data
		return nil, false
	})
	return out, err
}

func (c *Client) callOnce(ctx context.Context, method, url string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 16<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return data, res.StatusCode, nil
}
