package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/okian/matchday/internal/domain/model"
)

// HTTPClient talks to the matchday API.
type HTTPClient struct {
	base   string
	client *http.Client
}

func newHTTPClient(base string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{base: base, client: &http.Client{Timeout: timeout}}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	return resp.StatusCode, raw, err
}

// Health checks GET /healthz.
func (c *HTTPClient) Health(ctx context.Context) error {
	code, _, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	if code != http.StatusOK {
		return fmt.Errorf("service health check failed with status: %d", code)
	}
	return nil
}

// Schedule registers a match. An already scheduled match is not an error.
func (c *HTTPClient) Schedule(ctx context.Context, info model.MatchInfo) error {
	code, body, err := c.do(ctx, http.MethodPost, "/matches", info)
	if err != nil {
		return err
	}
	if code != http.StatusCreated && code != http.StatusConflict {
		return fmt.Errorf("schedule %s: status %d: %s", info.MatchID, code, body)
	}
	return nil
}

// Submit posts one event and returns the receipt status.
func (c *HTTPClient) Submit(ctx context.Context, ev model.CanonicalEvent) (string, error) {
	code, body, err := c.do(ctx, http.MethodPost, "/events", ev)
	if err != nil {
		return "", err
	}
	switch code {
	case http.StatusOK, http.StatusCreated:
		var rec struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(body, &rec); err != nil {
			return "", fmt.Errorf("decode receipt: %w", err)
		}
		return rec.Status, nil
	case http.StatusAccepted:
		return "QUARANTINED", nil
	default:
		return "", fmt.Errorf("submit %s: status %d: %s", ev.IdempotencyKey(), code, body)
	}
}

// MatchTotals reads the player totals of a match projection.
func (c *HTTPClient) MatchTotals(ctx context.Context, matchID string) (model.PlayerTotals, error) {
	code, body, err := c.do(ctx, http.MethodGet, "/matches/"+url.PathEscape(matchID), nil)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, fmt.Errorf("match %s: status %d", matchID, code)
	}
	var p struct {
		Players map[string]struct {
			Total decimal.Decimal `json:"total"`
		} `json:"players"`
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode match %s: %w", matchID, err)
	}
	out := make(model.PlayerTotals, len(p.Players))
	for id, line := range p.Players {
		out[id] = line.Total
	}
	return out, nil
}

// Standing is one leaderboard row.
type Standing struct {
	Rank     int             `json:"rank"`
	PlayerID string          `json:"player_id"`
	Total    decimal.Decimal `json:"total"`
}

// Leaderboard reads the top n of a season.
func (c *HTTPClient) Leaderboard(ctx context.Context, seasonID string, n int) ([]Standing, error) {
	q := url.Values{"season": {seasonID}, "limit": {strconv.Itoa(n)}}
	code, body, err := c.do(ctx, http.MethodGet, "/leaderboard?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, fmt.Errorf("leaderboard %s: status %d: %s", seasonID, code, body)
	}
	var rows []Standing
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode leaderboard: %w", err)
	}
	return rows, nil
}
