package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// DataClient is the REST client for the Data API, which serves wallet
// activity and position reads. All endpoints are public.
type DataClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewDataClient creates a Data API client.
//
// baseURL is the API root, e.g. "https://data-api.polymarket.com".
func NewDataClient(baseURL string) *DataClient {
	return &DataClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FetchActivity returns the wallet's trades newer than opts.Since, oldest
// last as the API delivers them. The API has no server-side time filter, so
// the cutoff is applied client-side after fetching the most recent page.
func (c *DataClient) FetchActivity(ctx context.Context, wallet string, opts domain.FetchOptions) ([]domain.SourceTrade, error) {
	q := url.Values{}
	q.Set("user", wallet)
	q.Set("takerOnly", "false")
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}

	body, err := c.get(ctx, "/trades", q)
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: fetch trades for %s: %w", wallet, err)
	}

	var rows []APITrade
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("polymarket/data: decode trades: %w", err)
	}

	trades := make([]domain.SourceTrade, 0, len(rows))
	for i := range rows {
		t := rows[i].ToSourceTrade()
		if !opts.Since.IsZero() && !t.Timestamp.After(opts.Since) {
			continue
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// Position returns the wallet's aggregate position in one asset. A wallet
// with no exposure to the asset reports ErrNotFound.
func (c *DataClient) Position(ctx context.Context, wallet, assetID string) (domain.PositionAggregate, error) {
	q := url.Values{}
	q.Set("user", wallet)
	q.Set("asset", assetID)

	body, err := c.get(ctx, "/positions", q)
	if err != nil {
		return domain.PositionAggregate{}, fmt.Errorf("polymarket/data: fetch position: %w", err)
	}

	var rows []APIPosition
	if err := json.Unmarshal(body, &rows); err != nil {
		return domain.PositionAggregate{}, fmt.Errorf("polymarket/data: decode positions: %w", err)
	}

	for i := range rows {
		if rows[i].Asset == assetID && rows[i].Size > 0 {
			return rows[i].ToPositionAggregate(), nil
		}
	}
	return domain.PositionAggregate{}, fmt.Errorf("polymarket/data: no position in %s: %w", assetID, domain.ErrNotFound)
}

func (c *DataClient) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

var _ domain.ActivityFetcher = (*DataClient)(nil)
