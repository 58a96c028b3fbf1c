package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"pulsequiz-sync/internal/domain"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("api returned status %d: %s", e.StatusCode, e.Detail)
}

// Is maps well-known rejections onto domain sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case domain.ErrNotHost:
		return e.StatusCode == http.StatusForbidden
	case domain.ErrNoMoreQuestions:
		return e.StatusCode == http.StatusBadRequest && strings.EqualFold(e.Detail, "no more questions")
	}
	return false
}

// EventPage is one response of the events endpoint.
type EventPage struct {
	Events      []json.RawMessage `json:"events"`
	LastEventID int64             `json:"lastEventId"`
}

// Client talks to the session REST API.
type Client struct {
	baseURL string
	http    *http.Client
	group   singleflight.Group
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the server root the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func sessionPath(code, suffix string) string {
	return "/api/session/" + url.PathEscape(code) + suffix
}

// identify attaches the identity to a request: a header for hosts, a query
// parameter otherwise.
func identify(req *http.Request, id domain.Identity) {
	if id.HostToken != "" {
		req.Header.Set("X-Host-Token", id.HostToken)
		return
	}
	q := req.URL.Query()
	if id.PlayerID != "" {
		q.Set("player_id", id.PlayerID)
	}
	if id.ObserverID != "" {
		q.Set("observer_id", id.ObserverID)
	}
	req.URL.RawQuery = q.Encode()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, id *domain.Identity, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if id != nil {
		identify(req, *id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var detail struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(raw, &detail) != nil || detail.Detail == "" {
			detail.Detail = strings.TrimSpace(string(raw))
		}
		return &StatusError{StatusCode: resp.StatusCode, Detail: detail.Detail}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// FetchState returns the full session state. Concurrent calls for the same
// session and identity share one request.
func (c *Client) FetchState(ctx context.Context, code string, id domain.Identity) (domain.SessionSnapshot, error) {
	key := code + "|" + id.HostToken + "|" + id.PlayerID + "|" + id.ObserverID
	v, err, _ := c.group.Do(key, func() (any, error) {
		var snap domain.SessionSnapshot
		if err := c.do(ctx, http.MethodGet, sessionPath(code, "/state"), nil, &id, nil, &snap); err != nil {
			return nil, err
		}
		return snap, nil
	})
	if err != nil {
		return domain.SessionSnapshot{}, err
	}
	return v.(domain.SessionSnapshot), nil
}

// FetchEvents returns events newer than sinceID, in server order.
func (c *Client) FetchEvents(ctx context.Context, code string, id domain.Identity, sinceID int64) (EventPage, error) {
	q := url.Values{"since_id": {fmt.Sprint(sinceID)}}
	var page EventPage
	if err := c.do(ctx, http.MethodGet, sessionPath(code, "/events"), q, &id, nil, &page); err != nil {
		return EventPage{}, err
	}
	return page, nil
}

// Health checks the server health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil, nil)
}
