package game

import (
	"github.com/shopspring/decimal"
)

// PortfolioState is the client-held record of one player's cash, holdings
// and trade history for one game session. It is owned by exactly one
// Session and is never shared across goroutines; the write-behind Writer
// receives immutable snapshots instead.
type PortfolioState struct {
	Cash              decimal.Decimal
	Holdings          map[string]decimal.Decimal
	TotalCashInjected decimal.Decimal
	TradeHistory      []TradeRecord
}

func NewPortfolioState() *PortfolioState {
	return &PortfolioState{
		Cash:              StartingCash,
		Holdings:          map[string]decimal.Decimal{},
		TotalCashInjected: decimal.Zero,
	}
}

// Holding returns the held quantity for an asset, zero when absent.
func (p *PortfolioState) Holding(asset string) decimal.Decimal {
	if q, ok := p.Holdings[asset]; ok {
		return q
	}
	return decimal.Zero
}

// setHolding maintains the no-zero-entries invariant: an asset whose
// quantity drops to zero is removed rather than kept at 0.
func (p *PortfolioState) setHolding(asset string, qty decimal.Decimal) {
	if qty.Sign() <= 0 {
		delete(p.Holdings, asset)
		return
	}
	p.Holdings[asset] = qty
}

// TotalValue is cash plus the market value of all holdings at the given
// prices. It is recomputed, never stored as ground truth.
func (p *PortfolioState) TotalValue(prices map[string]decimal.Decimal) decimal.Decimal {
	total := p.Cash
	for asset, qty := range p.Holdings {
		price, ok := prices[asset]
		if !ok {
			continue
		}
		total = total.Add(qty.Mul(price))
	}
	return total
}

// Snapshot converts the local state into a Participant row for persistence.
func (p *PortfolioState) Snapshot(gameID, userID string, prices map[string]decimal.Decimal) Participant {
	holdings := make(map[string]decimal.Decimal, len(p.Holdings))
	for k, v := range p.Holdings {
		holdings[k] = v
	}
	return Participant{
		GameID:             gameID,
		UserID:             userID,
		Cash:               p.Cash,
		TotalValue:         p.TotalValue(prices),
		TotalCashInjected:  p.TotalCashInjected,
		TotalInjectedValid: true,
		Holdings:           holdings,
	}
}

// Overwrite replaces local optimistic state with the remote authoritative
// snapshot. Remote always wins; no merge is attempted.
func (p *PortfolioState) Overwrite(part Participant) {
	p.Cash = part.Cash
	p.TotalCashInjected = part.TotalCashInjected
	holdings := make(map[string]decimal.Decimal, len(part.Holdings))
	for k, v := range part.Holdings {
		if v.Sign() > 0 {
			holdings[k] = v
		}
	}
	p.Holdings = holdings
}
