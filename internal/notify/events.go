package notify

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// Event types emitted by the copy-trading engine. The [notify] config
// section filters on these names.
const (
	EventTradeExecuted = "trade_executed"
	EventTradeFailed   = "trade_failed"
	EventTradeSkipped  = "trade_skipped"
	EventFeedError     = "feed_error"
)

// NotifyCopyTrade formats a replica attempt as an operator alert and routes
// it through the event filter.
func (n *Notifier) NotifyCopyTrade(ctx context.Context, res domain.CopyTradeResult) error {
	var event, title string
	switch {
	case res.Success:
		event = EventTradeExecuted
		title = fmt.Sprintf("Copy trade executed: %s %s", res.Side, res.Asset)
	case res.Attempted:
		event = EventTradeFailed
		title = fmt.Sprintf("Copy trade failed: %s %s", res.Side, res.Asset)
	default:
		event = EventTradeSkipped
		title = fmt.Sprintf("Copy trade skipped: %s %s", res.Side, res.Asset)
	}

	message := fmt.Sprintf(
		"wallet: %s\ntx: %s\nsize: %.2f ($%.2f)\noutcome: %s",
		res.Wallet, res.TxHash, res.CopySize, res.CopyValue, res.Detail(),
	)
	if res.Success {
		message += fmt.Sprintf("\nfilled: %.2f @ %.4f (order %s)",
			res.ExecutedSize, res.ExecutedPrice, res.OrderID)
	}

	return n.Notify(ctx, event, title, message)
}

// NotifyFeedError reports an activity feed failure.
func (n *Notifier) NotifyFeedError(ctx context.Context, err error) error {
	return n.Notify(ctx, EventFeedError, "Activity feed error", err.Error())
}
