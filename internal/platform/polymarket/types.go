package polymarket

import (
	"strconv"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// --------------------------------------------------------------------------
// Data API DTOs
// --------------------------------------------------------------------------

// APITrade is one activity row from the Data API /trades endpoint.
type APITrade struct {
	ProxyWallet     string  `json:"proxyWallet"`
	Side            string  `json:"side"` // "BUY" or "SELL"
	Asset           string  `json:"asset"`
	ConditionID     string  `json:"conditionId"`
	Size            float64 `json:"size"`
	Price           float64 `json:"price"`
	Timestamp       int64   `json:"timestamp"` // unix seconds
	TransactionHash string  `json:"transactionHash"`
	Title           string  `json:"title"`
	Slug            string  `json:"slug"`
	Outcome         string  `json:"outcome"`
}

// ToSourceTrade converts an APITrade to a domain.SourceTrade.
func (t *APITrade) ToSourceTrade() domain.SourceTrade {
	return domain.SourceTrade{
		Trader:     t.ProxyWallet,
		TxHash:     t.TransactionHash,
		Side:       domain.Side(t.Side),
		Asset:      t.Asset,
		Size:       t.Size,
		Price:      t.Price,
		Timestamp:  time.Unix(t.Timestamp, 0).UTC(),
		MarketSlug: t.Slug,
	}
}

// APIPosition is one row from the Data API /positions endpoint.
type APIPosition struct {
	Asset        string  `json:"asset"`
	ConditionID  string  `json:"conditionId"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	CurPrice     float64 `json:"curPrice"`
	InitialValue float64 `json:"initialValue"`
	CurrentValue float64 `json:"currentValue"`
}

// ToPositionAggregate converts an APIPosition to a domain.PositionAggregate.
func (p *APIPosition) ToPositionAggregate() domain.PositionAggregate {
	return domain.PositionAggregate{
		Size:         p.Size,
		CurrentValue: p.CurrentValue,
	}
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success      bool   `json:"success"`
	ErrorMsg     string `json:"errorMsg,omitempty"`
	OrderID      string `json:"orderID,omitempty"`
	Status       string `json:"status,omitempty"` // "live", "matched", "delayed"
	MakingAmount string `json:"makingAmount,omitempty"`
	TakingAmount string `json:"takingAmount,omitempty"`
}

// ToSubmitResult converts an order placement response for the given side.
// When the CLOB reports an immediate match, the making/taking amounts are
// translated into a synchronous fill.
func (r *APIOrderResult) ToSubmitResult(side domain.Side) domain.SubmitResult {
	out := domain.SubmitResult{
		Success:      r.Success,
		OrderID:      r.OrderID,
		ErrorMessage: r.ErrorMsg,
	}
	if !r.Success || r.Status != "matched" {
		return out
	}

	making, _ := strconv.ParseFloat(r.MakingAmount, 64)
	taking, _ := strconv.ParseFloat(r.TakingAmount, 64)

	// For a BUY the maker amount is USDC spent and the taker amount is shares
	// received; a SELL is the reverse.
	switch side {
	case domain.SideBuy:
		if taking > 0 {
			out.SyncFillSize = taking
			out.SyncFillPrice = making / taking
		}
	case domain.SideSell:
		if making > 0 {
			out.SyncFillSize = making
			out.SyncFillPrice = taking / making
		}
	}
	return out
}

// APIOrder is an open-order row as returned by the CLOB API.
type APIOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"` // "LIVE", "MATCHED", "CANCELED", "EXPIRED"
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
}

// ToOrderState converts an APIOrder to a domain.OrderState. A live order
// with a non-zero matched size reports as partially filled.
func (a *APIOrder) ToOrderState() domain.OrderState {
	original, _ := strconv.ParseFloat(a.OriginalSize, 64)
	matched, _ := strconv.ParseFloat(a.SizeMatched, 64)
	price, _ := strconv.ParseFloat(a.Price, 64)

	state := domain.OrderState{
		FilledSize:   matched,
		OriginalSize: original,
		AvgFillPrice: price,
	}

	switch a.Status {
	case "LIVE", "live", "DELAYED", "delayed":
		if matched > 0 {
			state.Status = domain.OrderStatusPartiallyFilled
		} else {
			state.Status = domain.OrderStatusNew
		}
	case "MATCHED", "matched", "FILLED", "filled":
		state.Status = domain.OrderStatusFilled
		if state.FilledSize <= 0 {
			state.FilledSize = original
		}
	case "CANCELED", "CANCELLED", "canceled", "cancelled":
		state.Status = domain.OrderStatusCancelled
	case "EXPIRED", "expired":
		state.Status = domain.OrderStatusExpired
	case "REJECTED", "rejected", "INVALID", "invalid":
		state.Status = domain.OrderStatusRejected
	default:
		state.Status = domain.OrderStatusNew
	}
	return state
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// WSCommand is the JSON payload sent to the market WebSocket to manage
// subscriptions.
type WSCommand struct {
	Type   string   `json:"type"` // "market"
	Assets []string `json:"assets_ids,omitempty"`
}

// WSPriceMessage is the last-trade-price frame from the market channel.
type WSPriceMessage struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Timestamp string `json:"timestamp"`
}

// PriceUpdate is a decoded market price tick.
type PriceUpdate struct {
	AssetID   string
	Price     float64
	Timestamp time.Time
}

// ToPriceUpdate converts a WSPriceMessage, tolerating both unix-epoch and
// RFC 3339 timestamps.
func (m *WSPriceMessage) ToPriceUpdate() PriceUpdate {
	u := PriceUpdate{AssetID: m.AssetID}
	u.Price, _ = strconv.ParseFloat(m.Price, 64)

	if ts, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil {
		// The feed sends epoch milliseconds.
		if ts > 1e12 {
			u.Timestamp = time.UnixMilli(ts).UTC()
		} else {
			u.Timestamp = time.Unix(ts, 0).UTC()
		}
	} else if t, err := time.Parse(time.RFC3339, m.Timestamp); err == nil {
		u.Timestamp = t
	} else {
		u.Timestamp = time.Now().UTC()
	}
	return u
}
