package engine

import (
	"testing"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

const (
	walletA = "0x56687bf447db6ffa42ffe2204a05edaa20f55839"
	walletB = "0x9d84ce0306f8551e02efef1680475fc0f1dc1344"
)

func trade(trader string, size float64) domain.SourceTrade {
	return domain.SourceTrade{
		Trader:    trader,
		TxHash:    "0xabc",
		Side:      domain.SideBuy,
		Asset:     "tok-1",
		Size:      size,
		Price:     0.40,
		Timestamp: time.Now().UTC(),
	}
}

func TestClassifierAllowlist(t *testing.T) {
	c := NewClassifier([]string{walletA}, 0, false, nil)

	if !c.Match(trade(walletA, 10)) {
		t.Error("allowlisted wallet rejected")
	}
	if c.Match(trade(walletB, 10)) {
		t.Error("unlisted wallet accepted")
	}
	if c.Match(trade("not-an-address", 10)) {
		t.Error("malformed trader address accepted")
	}
}

func TestClassifierNormalizesCase(t *testing.T) {
	// Allowlist in lowercase, feed value with uppercase hex digits.
	c := NewClassifier([]string{walletA}, 0, false, nil)
	upper := "0x56687BF447DB6FFA42FFE2204A05EDAA20F55839"
	if !c.Match(trade(upper, 10)) {
		t.Error("mixed-case trader address rejected")
	}
}

func TestClassifierMinSize(t *testing.T) {
	c := NewClassifier([]string{walletA}, 25, false, nil)

	if c.Match(trade(walletA, 24.9)) {
		t.Error("trade below minimum size accepted")
	}
	if !c.Match(trade(walletA, 25)) {
		t.Error("trade at minimum size rejected")
	}
}

func TestClassifierSmartMoney(t *testing.T) {
	smart := map[string]bool{walletA: true}
	c := NewClassifier([]string{walletA, walletB}, 0, true, func(w string) bool {
		return smart[w]
	})

	if !c.Match(trade(walletA, 10)) {
		t.Error("smart wallet rejected")
	}
	if c.Match(trade(walletB, 10)) {
		t.Error("non-smart wallet accepted with smart-only filter")
	}
}
