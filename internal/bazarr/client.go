package bazarr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Timeouts bounds each kind of request. Bazarr is slow on large libraries and
// translation runs synchronously on its side, hence the long defaults.
type Timeouts struct {
	Wanted         time.Duration
	MovieHistory   time.Duration
	EpisodeHistory time.Duration
	Translate      time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Wanted:         60 * time.Second,
		MovieHistory:   60 * time.Second,
		EpisodeHistory: 120 * time.Second,
		Translate:      600 * time.Second,
	}
}

// Config holds the connection settings of a Client.
type Config struct {
	BaseURL string
	APIKey  string
	// RateLimit caps outbound requests per second; zero or less disables pacing.
	RateLimit float64
	Timeouts  Timeouts
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("base URL is required")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("API key is required")
	}
	return nil
}

// Client talks to the Bazarr REST API. Requests are issued one at a time by
// the caller; the limiter only spaces them out.
type Client struct {
	baseURL    string
	apiKey     string
	timeouts   Timeouts
	limiter    *rate.Limiter
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	timeouts := cfg.Timeouts
	defaults := DefaultTimeouts()
	if timeouts.Wanted <= 0 {
		timeouts.Wanted = defaults.Wanted
	}
	if timeouts.MovieHistory <= 0 {
		timeouts.MovieHistory = defaults.MovieHistory
	}
	if timeouts.EpisodeHistory <= 0 {
		timeouts.EpisodeHistory = defaults.EpisodeHistory
	}
	if timeouts.Translate <= 0 {
		timeouts.Translate = defaults.Translate
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		timeouts:   timeouts,
		limiter:    limiter,
		httpClient: &http.Client{},
	}, nil
}

// ListWanted returns every item of kind that is missing at least one subtitle.
func (c *Client) ListWanted(ctx context.Context, kind Kind) ([]WantedItem, error) {
	query := url.Values{}
	query.Set("start", "0")
	query.Set("length", "-1")

	_, body, err := c.do(ctx, http.MethodGet, kind.wantedPath(), query, c.timeouts.Wanted, http.StatusOK)
	if err != nil {
		return nil, fmt.Errorf("list wanted %ss: %w", kind, err)
	}

	var resp wantedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse wanted %ss: %w", kind, err)
	}

	items := make([]WantedItem, 0, len(resp.Data))
	for _, record := range resp.Data {
		items = append(items, record.toItem(kind))
	}
	return items, nil
}

// ListHistory returns the subtitle history Bazarr recorded for one item.
func (c *Client) ListHistory(ctx context.Context, kind Kind, itemID int64) ([]HistoryAction, error) {
	query := url.Values{}
	query.Set("start", "0")
	query.Set("length", "-1")
	query.Set(kind.historyIDParam(), strconv.FormatInt(itemID, 10))

	timeout := c.timeouts.MovieHistory
	if kind == KindEpisode {
		timeout = c.timeouts.EpisodeHistory
	}

	_, body, err := c.do(ctx, http.MethodGet, kind.historyPath(), query, timeout, http.StatusOK)
	if err != nil {
		return nil, fmt.Errorf("list history of %s %d: %w", kind, itemID, err)
	}

	var resp historyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse history of %s %d: %w", kind, itemID, err)
	}

	actions := make([]HistoryAction, 0, len(resp.Data))
	for _, record := range resp.Data {
		actions = append(actions, record.toAction(kind))
	}
	return actions, nil
}

// Translate asks Bazarr to translate req.Path into req.Language. Bazarr
// answers 204 No Content once the translated file is written.
func (c *Client) Translate(ctx context.Context, req TranslateRequest) TranslateResult {
	query := url.Values{}
	query.Set("action", "translate")
	query.Set("language", strings.ToLower(req.Language))
	query.Set("path", req.Path)
	query.Set("type", req.Kind.String())
	query.Set("id", strconv.FormatInt(req.ItemID, 10))
	query.Set("original_format", "True")

	status, _, err := c.do(ctx, http.MethodPatch, "/api/subtitles", query, c.timeouts.Translate, http.StatusNoContent)
	switch {
	case err == nil:
		return TranslateResult{Status: TranslateSucceeded, StatusCode: status}
	case status != 0:
		return TranslateResult{Status: TranslateRejected, StatusCode: status, Err: err}
	default:
		return TranslateResult{Status: TranslateTransportError, Err: err}
	}
}

// do performs one request and returns the status code and body. A zero status
// means no complete response was received, including a body cut short.
func (c *Client) do(
	ctx context.Context,
	method, path string,
	query url.Values,
	timeout time.Duration,
	wantStatus int,
) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, fmt.Errorf("wait for rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, http.NoBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if os.IsTimeout(err) {
			return 0, nil, fmt.Errorf("request timed out after %s: %w", timeout, err)
		}
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != wantStatus {
		return resp.StatusCode, body, &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}
	return resp.StatusCode, body, nil
}
