package domain

import "time"

// CopyTradeResult is the terminal outcome of attempting to replicate one
// SourceTrade. Attempted=false means the risk gate rejected the trade before
// any order was submitted (a skip, not a failure).
type CopyTradeResult struct {
	ID            string // uuid, assigned when the result is produced
	Wallet        string // source trader
	TxHash        string
	Asset         string
	Side          Side
	Attempted     bool
	Success       bool
	OrderID       string
	CopySize      float64 // requested replica size
	CopyValue     float64 // requested replica notional in USD
	ExecutedSize  float64 // actual filled size (zero unless Success)
	ExecutedPrice float64
	SkipReason    string // set when Attempted=false
	ErrorMessage  string
	SourceTime    time.Time
	CreatedAt     time.Time
}

// Detail returns a human-readable one-line summary for callbacks and logs.
func (r CopyTradeResult) Detail() string {
	switch {
	case !r.Attempted:
		return "skipped: " + r.SkipReason
	case r.Success:
		return "executed"
	default:
		return "failed: " + r.ErrorMessage
	}
}
