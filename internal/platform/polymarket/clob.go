package polymarket

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/polycopy/internal/crypto"
	"github.com/alanyoungcy/polycopy/internal/domain"
)

// usdcScale converts share and price floats to the 1e6 fixed-point amounts
// the exchange contract expects.
const usdcScale = 1e6

// zeroAddress is the open taker for publicly matchable orders.
const zeroAddress = "0x0000000000000000000000000000000000000000"

// ClobClient is the REST client for the CLOB (Central Limit Order Book)
// API. It signs, places, queries, and cancels orders, and implements
// domain.OrderGateway.
type ClobClient struct {
	baseURL       string
	httpClient    *http.Client
	signer        *crypto.Signer
	creds         *crypto.APICreds
	signatureType int
}

// NewClobClient creates a CLOB client.
//
// baseURL is the API root, e.g. "https://clob.polymarket.com". signer holds
// the executing wallet's key. creds may be nil; call DeriveAPIKey before the
// first authenticated request.
func NewClobClient(baseURL string, signer *crypto.Signer, creds *crypto.APICreds, signatureType int) *ClobClient {
	return &ClobClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:        signer,
		creds:         creds,
		signatureType: signatureType,
	}
}

// SubmitOrder signs the replica spec as an EIP-712 order and posts it. The
// worst acceptable price is baked into the maker/taker amounts, so the CLOB
// can fill at that price or better but never worse.
func (c *ClobClient) SubmitOrder(ctx context.Context, spec domain.ReplicaOrderSpec) (domain.SubmitResult, error) {
	payload, err := c.buildOrder(spec)
	if err != nil {
		return domain.SubmitResult{}, err
	}

	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("polymarket/clob: sign order: %v: %w", err, domain.ErrSigningFailed)
	}

	body := map[string]any{
		"order": map[string]any{
			"salt":          payload.Salt,
			"maker":         payload.Maker,
			"signer":        payload.Signer,
			"taker":         payload.Taker,
			"tokenId":       payload.TokenID,
			"makerAmount":   payload.MakerAmount,
			"takerAmount":   payload.TakerAmount,
			"expiration":    payload.Expiration,
			"nonce":         payload.Nonce,
			"feeRateBps":    payload.FeeRateBps,
			"side":          string(spec.Side),
			"signatureType": payload.SignatureType,
			"signature":     sig,
		},
		"owner":     c.apiKey(),
		"orderType": string(spec.Kind),
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var result APIOrderResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return domain.SubmitResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	return result.ToSubmitResult(spec.Side), nil
}

// OrderStatus retrieves the current state of one order.
func (c *ClobClient) OrderStatus(ctx context.Context, orderID string) (domain.OrderState, error) {
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, "/data/order/"+orderID, nil)
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("polymarket/clob: get order %s: %w", orderID, err)
	}

	var order APIOrder
	if err := json.Unmarshal(respBody, &order); err != nil {
		return domain.OrderState{}, fmt.Errorf("polymarket/clob: decode order: %w", err)
	}
	return order.ToOrderState(), nil
}

// CancelOrder cancels a single order by its ID.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	body := map[string]any{"orderID": orderID}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodDelete, "/order", body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", orderID, err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket/clob: cancel failed: %s", result.ErrorMsg)
	}
	return nil
}

// Midpoint returns the current midpoint price for an asset. Public endpoint.
func (c *ClobClient) Midpoint(ctx context.Context, assetID string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/midpoint?token_id="+assetID, nil)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: create midpoint request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: midpoint request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: read midpoint response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return 0, fmt.Errorf("polymarket/clob: midpoint for %s: %w", assetID, err)
	}

	var mid struct {
		Mid string `json:"mid"`
	}
	if err := json.Unmarshal(respBody, &mid); err != nil {
		return 0, fmt.Errorf("polymarket/clob: decode midpoint: %w", err)
	}
	price, err := strconv.ParseFloat(mid.Mid, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("polymarket/clob: no midpoint for %s: %w", assetID, domain.ErrNotFound)
	}
	return price, nil
}

// DeriveAPIKey performs the L1 auth flow to obtain the HMAC credential
// triple: sign a ClobAuth message and exchange it at the derive-api-key
// endpoint. On success the client's creds are replaced.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	const nonce = int64(0)

	sig, err := c.signer.SignAuthMessage(timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", strconv.FormatInt(nonce, 10))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return fmt.Errorf("polymarket/clob: derive api key: %w", err)
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}

	c.creds = &crypto.APICreds{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// buildOrder converts a replica spec into a signable order payload at the
// worst acceptable price.
func (c *ClobClient) buildOrder(spec domain.ReplicaOrderSpec) (crypto.OrderPayload, error) {
	if spec.Size <= 0 || spec.WorstPrice <= 0 || spec.WorstPrice >= 1 {
		return crypto.OrderPayload{}, fmt.Errorf("polymarket/clob: unbuildable spec (size %v, worst %v): %w",
			spec.Size, spec.WorstPrice, domain.ErrInvalidOrder)
	}

	salt, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 63))
	if err != nil {
		return crypto.OrderPayload{}, fmt.Errorf("polymarket/clob: generate salt: %w", err)
	}

	shares := int64(math.Round(spec.Size * usdcScale))
	usdc := int64(math.Round(spec.Size * spec.WorstPrice * usdcScale))

	address := c.signer.Address().Hex()
	payload := crypto.OrderPayload{
		Salt:          salt.String(),
		Maker:         address,
		Signer:        address,
		Taker:         zeroAddress,
		TokenID:       spec.Asset,
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		SignatureType: c.signatureType,
	}

	switch spec.Side {
	case domain.SideBuy:
		payload.Side = 0
		payload.MakerAmount = strconv.FormatInt(usdc, 10)
		payload.TakerAmount = strconv.FormatInt(shares, 10)
	case domain.SideSell:
		payload.Side = 1
		payload.MakerAmount = strconv.FormatInt(shares, 10)
		payload.TakerAmount = strconv.FormatInt(usdc, 10)
	default:
		return crypto.OrderPayload{}, fmt.Errorf("polymarket/clob: unknown side %q: %w", spec.Side, domain.ErrInvalidOrder)
	}
	return payload, nil
}

func (c *ClobClient) apiKey() string {
	if c.creds == nil {
		return ""
	}
	return c.creds.Key
}

// doAuthenticatedRequest builds, signs (HMAC), sends, and reads an HTTP
// request against the CLOB API. It returns the raw response body.
func (c *ClobClient) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.creds != nil {
		address := c.signer.Address().Hex()
		for k, v := range c.creds.L2Headers(address, method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

var _ domain.OrderGateway = (*ClobClient)(nil)
