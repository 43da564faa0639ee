package engine

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// Classifier decides whether a source trade belongs to a subscription. All
// criteria are ANDed; a trade that fails any of them is dropped silently.
type Classifier struct {
	allowed   map[common.Address]struct{}
	minSize   float64
	smartOnly bool
	isSmart   func(wallet string) bool
}

// NewClassifier builds a classifier from already-validated options.
// Addresses are normalized through common.HexToAddress so mixed-case inputs
// match checksummed feed values.
func NewClassifier(addresses []string, minSize float64, smartOnly bool, isSmart func(string) bool) *Classifier {
	allowed := make(map[common.Address]struct{}, len(addresses))
	for _, a := range addresses {
		allowed[common.HexToAddress(a)] = struct{}{}
	}
	return &Classifier{
		allowed:   allowed,
		minSize:   minSize,
		smartOnly: smartOnly,
		isSmart:   isSmart,
	}
}

// Match reports whether the trade passes the allowlist, minimum size, and
// smart money criteria.
func (c *Classifier) Match(t domain.SourceTrade) bool {
	if !common.IsHexAddress(t.Trader) {
		return false
	}
	if _, ok := c.allowed[common.HexToAddress(t.Trader)]; !ok {
		return false
	}
	if c.minSize > 0 && t.Size < c.minSize {
		return false
	}
	if c.smartOnly && !c.isSmart(t.Trader) {
		return false
	}
	return true
}

// Wallets returns the normalized allowlist as hex strings, for feeding the
// activity poller.
func (c *Classifier) Wallets() []string {
	out := make([]string, 0, len(c.allowed))
	for addr := range c.allowed {
		out = append(out, addr.Hex())
	}
	return out
}
