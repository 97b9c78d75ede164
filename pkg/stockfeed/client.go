// Package stockfeed is a Go SDK for the stockfeed-server API.
package stockfeed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stockfeed/internal/domain"
	"stockfeed/internal/httpapi"
	"stockfeed/internal/preferences"
	"stockfeed/internal/store"
)

// Response types re-exported for callers outside this module.
type (
	BarsPage        = httpapi.BarsPage
	PortfolioPage   = httpapi.PortfolioPage
	PortfolioView   = httpapi.PortfolioView
	SymbolCount     = store.SymbolCount
	PreferenceEvent = preferences.Event
)

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stockfeed API: %d %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// Client provides a Go SDK for interacting with the stockfeed-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new stockfeed API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Bars retrieves one page of bars for symbol at interval iv.
func (c *Client) Bars(ctx context.Context, symbol string, iv domain.Interval, page, size int) (BarsPage, error) {
	q := url.Values{}
	q.Set("interval", iv.String())
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	var out BarsPage
	err := c.do(ctx, http.MethodGet, "/api/symbols/"+url.PathEscape(symbol)+"/bars?"+q.Encode(), nil, &out)
	return out, err
}

// Recommendations retrieves one page of portfolios recommended to user.
func (c *Client) Recommendations(ctx context.Context, crit domain.Criterion, user string, page, size int) (PortfolioPage, error) {
	q := url.Values{}
	q.Set("criterion", string(crit))
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	if user != "" {
		q.Set("user", user)
	}
	var out PortfolioPage
	err := c.do(ctx, http.MethodGet, "/api/recommendations?"+q.Encode(), nil, &out)
	return out, err
}

// Trending returns the most viewed symbols of the last day.
func (c *Client) Trending(ctx context.Context, limit int) ([]SymbolCount, error) {
	var out httpapi.TrendingResponse
	err := c.do(ctx, http.MethodGet, "/api/trending?limit="+strconv.Itoa(limit), nil, &out)
	return out.Symbols, err
}

// SearchSymbols returns known symbols starting with prefix.
func (c *Client) SearchSymbols(ctx context.Context, prefix string) ([]string, error) {
	var out httpapi.SymbolsResponse
	err := c.do(ctx, http.MethodGet, "/api/symbols?prefix="+url.QueryEscape(prefix), nil, &out)
	return out.Symbols, err
}

// RecordHit counts a visit to owner's portfolio.
func (c *Client) RecordHit(ctx context.Context, owner string) error {
	return c.do(ctx, http.MethodPost, "/api/portfolios/"+url.PathEscape(owner)+"/hits", nil, nil)
}

// Portfolio returns user's portfolio valued at the latest closes.
func (c *Client) Portfolio(ctx context.Context, user string) (PortfolioView, error) {
	var out PortfolioView
	err := c.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(user)+"/portfolio", nil, &out)
	return out, err
}

// AddItem adds a holding to user's portfolio.
func (c *Client) AddItem(ctx context.Context, user string, it domain.PortfolioItem) (domain.PortfolioItem, error) {
	var out domain.PortfolioItem
	err := c.do(ctx, http.MethodPost, "/api/users/"+url.PathEscape(user)+"/portfolio_items", it, &out)
	return out, err
}

// UpdateItem replaces the holding with it.ID.
func (c *Client) UpdateItem(ctx context.Context, user string, it domain.PortfolioItem) error {
	path := fmt.Sprintf("/api/users/%s/portfolio_items/%d", url.PathEscape(user), it.ID)
	return c.do(ctx, http.MethodPut, path, it, nil)
}

// DeleteItem removes a holding.
func (c *Client) DeleteItem(ctx context.Context, user string, id int64) error {
	path := fmt.Sprintf("/api/users/%s/portfolio_items/%d", url.PathEscape(user), id)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// GetPreference returns user's stored preference.
func (c *Client) GetPreference(ctx context.Context, user string) (domain.Preference, error) {
	var out httpapi.PreferenceResponse
	err := c.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(user)+"/preferences", nil, &out)
	return out.Preference, err
}

// PutPreference stores user's preference.
func (c *Client) PutPreference(ctx context.Context, user string, p domain.Preference) error {
	return c.do(ctx, http.MethodPut, "/api/users/"+url.PathEscape(user)+"/preferences", p, nil)
}

// WatchPreferences streams preference events until ctx is done or the
// connection drops. The first event is a snapshot. The returned channel is
// closed when the stream ends.
func (c *Client) WatchPreferences(ctx context.Context) (<-chan PreferenceEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/preferences/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	// The stream outlives the regular request timeout.
	stream := &http.Client{Transport: c.httpClient.Transport}
	resp, err := stream.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}

	out := make(chan PreferenceEvent, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			line := sc.Text()
			data, ok := strings.CutPrefix(line, "data: ")
			if !ok {
				continue
			}
			var ev PreferenceEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	msg := resp.Status
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		msg = body.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
