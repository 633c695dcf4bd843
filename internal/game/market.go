package game

import (
	"hash/fnv"
	"math"
	mathrand "math/rand"
	"sync"

	"github.com/shopspring/decimal"
)

// Asset describes one tradable instrument: annualized drift and volatility
// drive the per-round return draw.
type Asset struct {
	Name       string
	StartPrice decimal.Decimal
	Drift      float64
	Volatility float64
}

// DefaultAssets is the Investment Odyssey asset universe.
func DefaultAssets() []Asset {
	return []Asset{
		{Name: "S&P 500", StartPrice: decimal.NewFromInt(100), Drift: 0.1151, Volatility: 0.1949},
		{Name: "Bonds", StartPrice: decimal.NewFromInt(100), Drift: 0.0334, Volatility: 0.0301},
		{Name: "Real Estate", StartPrice: decimal.NewFromInt(5_000), Drift: 0.0439, Volatility: 0.0620},
		{Name: "Gold", StartPrice: decimal.NewFromInt(3_000), Drift: 0.0648, Volatility: 0.2076},
		{Name: "Commodities", StartPrice: decimal.NewFromInt(100), Drift: 0.0815, Volatility: 0.1522},
		{Name: "Bitcoin", StartPrice: decimal.NewFromInt(50_000), Drift: 0.5000, Volatility: 1.0000},
	}
}

const maxDropPerRound = 2.0

var minPrice = decimal.RequireFromString("0.01")

// Market holds the round-indexed simulated prices for one game. The price
// path is a pure function of the game seed and the round number, so every
// client of the same game sees the same prices at every round.
type Market struct {
	mu     sync.Mutex
	assets []Asset
	rand   *mathrand.Rand
	prices map[string]decimal.Decimal
	round  int
}

// NewMarket starts a market at round 0 with each asset's listed price.
func NewMarket(assets []Asset, seed int64) *Market {
	if len(assets) == 0 {
		assets = DefaultAssets()
	}
	m := &Market{
		assets: assets,
		rand:   mathrand.New(mathrand.NewSource(seed)),
		prices: make(map[string]decimal.Decimal, len(assets)),
	}
	for _, a := range assets {
		m.prices[a.Name] = a.StartPrice
	}
	return m
}

// SeedForGame derives a stable market seed from the game identifier.
func SeedForGame(gameID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(gameID))
	return int64(h.Sum64())
}

// Round is the current round number, starting at 0.
func (m *Market) Round() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.round
}

// Assets lists asset names in listing order.
func (m *Market) Assets() []string {
	names := make([]string, len(m.assets))
	for i, a := range m.assets {
		names[i] = a.Name
	}
	return names
}

// Price is the current round's price for an asset.
func (m *Market) Price(asset string) (decimal.Decimal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[asset]
	return p, ok
}

// Prices returns a copy of the current price table.
func (m *Market) Prices() map[string]decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(m.prices))
	for k, v := range m.prices {
		out[k] = v
	}
	return out
}

// AdvanceRound evolves every price one round and returns the new table.
func (m *Market) AdvanceRound() map[string]decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.round++
	for _, a := range m.assets {
		ret := a.Drift + a.Volatility*normalish(m.rand.Float64())
		m.prices[a.Name] = evolvePrice(m.prices[a.Name], ret)
	}
	out := make(map[string]decimal.Decimal, len(m.prices))
	for k, v := range m.prices {
		out[k] = v
	}
	return out
}

// SeekRound replays the price path forward to the given round. Rounds only
// move forward; seeking backwards rebuilds nothing and returns the current
// table unchanged.
func (m *Market) SeekRound(round int) map[string]decimal.Decimal {
	for m.Round() < round {
		m.AdvanceRound()
	}
	return m.Prices()
}

func normalish(seed float64) float64 {
	return seed + seed - 1
}

func evolvePrice(price decimal.Decimal, ret float64) decimal.Decimal {
	// Bound only the downside; upside can run.
	if ret < -maxDropPerRound {
		ret = -maxDropPerRound
	}
	f, _ := price.Float64()
	next := decimal.NewFromFloat(f * math.Exp(ret)).Round(2)
	if next.LessThan(minPrice) {
		return minPrice
	}
	return next
}
