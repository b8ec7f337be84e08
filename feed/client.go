package feed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/Beck89/mta-mls-worker/models"
	"github.com/Beck89/mta-mls-worker/ratelimit"
)

const (
	// 429 probe cadence against the feed: 10-minute probes, up to 10
	// of them (~100 min) before surfacing RateLimitedError.
	defaultProbeInterval = 10 * time.Minute
	defaultMaxProbes     = 10

	// Media payloads are read fully into memory for hashing-free
	// upload; cap a runaway body.
	maxMediaBytes = 50 * 1024 * 1024
)

// Record is one raw feed record. Numbers are decoded as json.Number
// so money fields survive with full precision.
type Record map[string]any

// Page is one fetched feed page.
type Page struct {
	Records   []Record
	NextLink  string
	Bytes     int64
	ElapsedMS int64
}

// MediaBlob is a downloaded media payload.
type MediaBlob struct {
	Data        []byte
	ContentType string
	Size        int64
}

// RequestLog receives one row per request, successful or failed.
type RequestLog interface {
	Append(ctx context.Context, r *models.FeedRequest) error
}

// ClientConfig holds feed client configuration.
type ClientConfig struct {
	BaseURL string
	Vendor  string
	Token   string

	HTTPClient *http.Client
	// MediaHTTPClient serves CDN downloads; falls back to HTTPClient.
	MediaHTTPClient *http.Client
	Limiter         *ratelimit.Limiter
	RequestLog      RequestLog
	Logger          zerolog.Logger

	// ProbeInterval/MaxProbes override the 429 probe schedule (tests).
	ProbeInterval time.Duration
	MaxProbes     int
	Sleep         func(ctx context.Context, d time.Duration) error
}

// Client pages over the authenticated feed and downloads media from
// the signed-URL CDN, both gated by the shared rate limiter.
type Client struct {
	baseURL string
	vendor  string
	token   string

	http      *http.Client
	mediaHTTP *http.Client
	limiter   *ratelimit.Limiter
	reqLog    RequestLog
	log       zerolog.Logger

	probeInterval time.Duration
	maxProbes     int
	sleep         func(ctx context.Context, d time.Duration) error
}

// NewClient creates a feed client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("limiter is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	mediaClient := cfg.MediaHTTPClient
	if mediaClient == nil {
		mediaClient = httpClient
	}
	probe := cfg.ProbeInterval
	if probe == 0 {
		probe = defaultProbeInterval
	}
	maxProbes := cfg.MaxProbes
	if maxProbes == 0 {
		maxProbes = defaultMaxProbes
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		}
	}
	return &Client{
		baseURL:       cfg.BaseURL,
		vendor:        cfg.Vendor,
		token:         cfg.Token,
		http:          httpClient,
		mediaHTTP:     mediaClient,
		limiter:       cfg.Limiter,
		reqLog:        cfg.RequestLog,
		log:           cfg.Logger,
		probeInterval: probe,
		maxProbes:     maxProbes,
		sleep:         sleep,
	}, nil
}

// BaseURL returns the configured feed base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Vendor returns the configured originating system name.
func (c *Client) Vendor() string { return c.vendor }

// FetchPage awaits API admission, issues one authenticated GET, and
// parses the OData envelope. On 429 it probes every probeInterval up
// to maxProbes times before surfacing RateLimitedError.
func (c *Client) FetchPage(ctx context.Context, pageURL string, runID *int64) (*Page, error) {
	for attempt := 1; ; attempt++ {
		if err := c.limiter.AdmitAPI(ctx); err != nil {
			return nil, err
		}

		start := time.Now()
		body, status, err := c.get(ctx, pageURL)
		elapsed := time.Since(start).Milliseconds()

		if err != nil {
			c.logRequest(ctx, runID, pageURL, 0, elapsed, 0, 0, err)
			return nil, fmt.Errorf("fetch page: %w", err)
		}

		switch {
		case status >= 200 && status < 300:
			page, perr := parsePage(body)
			if perr != nil {
				c.logRequest(ctx, runID, pageURL, status, elapsed, int64(len(body)), 0, perr)
				return nil, fmt.Errorf("parse page: %w", perr)
			}
			page.Bytes = int64(len(body))
			page.ElapsedMS = elapsed
			c.logRequest(ctx, runID, pageURL, status, elapsed, page.Bytes, len(page.Records), nil)
			return page, nil

		case status == http.StatusTooManyRequests:
			c.logRequest(ctx, runID, pageURL, status, elapsed, int64(len(body)), 0, fmt.Errorf("rate limited"))
			if attempt >= c.maxProbes {
				return nil, &RateLimitedError{URL: pageURL, Attempts: attempt}
			}
			c.log.Warn().Str("url", pageURL).Int("attempt", attempt).
				Dur("wait", c.probeInterval).Msg("feed returned 429, probing again")
			if err := c.sleep(ctx, c.probeInterval); err != nil {
				return nil, err
			}

		default:
			apiErr := &APIError{URL: pageURL, Status: status, Body: truncate(string(body), 512)}
			c.logRequest(ctx, runID, pageURL, status, elapsed, int64(len(body)), 0, apiErr)
			return nil, apiErr
		}
	}
}

// ForEachPage iterates pages lazily from firstURL, following
// @odata.nextLink until exhaustion or fn returns an error.
func (c *Client) ForEachPage(ctx context.Context, firstURL string, runID *int64, fn func(*Page) error) error {
	next := firstURL
	for next != "" {
		page, err := c.FetchPage(ctx, next, runID)
		if err != nil {
			return err
		}
		if err := fn(page); err != nil {
			return err
		}
		next = page.NextLink
	}
	return nil
}

// FetchListingByID fetches a single listing, media expanded, used to
// refresh expired media URLs. Returns nil when the feed no longer has
// the record.
func (c *Client) FetchListingByID(ctx context.Context, listingID string, runID *int64) (Record, error) {
	u := BuildSingleListingURL(c.baseURL, c.vendor, listingID)
	page, err := c.FetchPage(ctx, u, runID)
	if err != nil {
		return nil, err
	}
	if len(page.Records) == 0 {
		return nil, nil
	}
	return page.Records[0], nil
}

// DownloadMedia awaits media admission, fetches a signed CDN URL, and
// records the downloaded bytes against the limiter. 400/403 surface as
// URLExpiredError, 429 as RateLimitedError.
func (c *Client) DownloadMedia(ctx context.Context, mediaURL string) (*MediaBlob, error) {
	if err := c.limiter.AdmitMedia(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create media request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	start := time.Now()
	resp, err := c.mediaHTTP.Do(req)
	if err != nil {
		c.logRequest(ctx, nil, mediaURL, 0, time.Since(start).Milliseconds(), 0, 0, err)
		return nil, fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	elapsed := time.Since(start).Milliseconds()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
		if err != nil {
			c.logRequest(ctx, nil, mediaURL, resp.StatusCode, elapsed, 0, 0, err)
			return nil, fmt.Errorf("read media body: %w", err)
		}
		size := int64(len(data))
		c.limiter.RecordMediaBytes(size)
		c.logRequest(ctx, nil, mediaURL, resp.StatusCode, elapsed, size, 0, nil)
		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "image/jpeg"
		}
		return &MediaBlob{Data: data, ContentType: contentType, Size: size}, nil

	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusForbidden:
		expErr := &URLExpiredError{URL: mediaURL, Status: resp.StatusCode}
		c.logRequest(ctx, nil, mediaURL, resp.StatusCode, elapsed, 0, 0, expErr)
		return nil, expErr

	case resp.StatusCode == http.StatusTooManyRequests:
		rlErr := &RateLimitedError{URL: mediaURL, Attempts: 1}
		c.logRequest(ctx, nil, mediaURL, resp.StatusCode, elapsed, 0, 0, rlErr)
		return nil, rlErr

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		apiErr := &APIError{URL: mediaURL, Status: resp.StatusCode, Body: string(body)}
		c.logRequest(ctx, nil, mediaURL, resp.StatusCode, elapsed, 0, 0, apiErr)
		return nil, apiErr
	}
}

func (c *Client) get(ctx context.Context, u string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func parsePage(body []byte) (*Page, error) {
	var envelope struct {
		Value    []json.RawMessage `json:"value"`
		NextLink string            `json:"@odata.nextLink"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(envelope.Value))
	for _, raw := range envelope.Value {
		var rec Record
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return &Page{Records: records, NextLink: envelope.NextLink}, nil
}

func (c *Client) logRequest(ctx context.Context, runID *int64, u string, status int, elapsed, bytes int64, recordCount int, reqErr error) {
	if c.reqLog == nil {
		return
	}
	row := &models.FeedRequest{
		RunID:       runID,
		URL:         u,
		StatusCode:  status,
		ElapsedMS:   elapsed,
		Bytes:       bytes,
		RecordCount: recordCount,
		RequestedAt: time.Now(),
	}
	if reqErr != nil {
		row.Error = reqErr.Error()
	}
	if err := c.reqLog.Append(ctx, row); err != nil {
		c.log.Warn().Err(err).Msg("failed to append request log row")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
