package game

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

// tablePrices is a fixed PriceSource so trade math is exact.
type tablePrices struct {
	order  []string
	prices map[string]decimal.Decimal
}

func newTablePrices(pairs ...any) *tablePrices {
	tp := &tablePrices{prices: map[string]decimal.Decimal{}}
	for i := 0; i < len(pairs); i += 2 {
		name := pairs[i].(string)
		tp.order = append(tp.order, name)
		tp.prices[name] = d(pairs[i+1].(string))
	}
	return tp
}

func (t *tablePrices) Price(asset string) (decimal.Decimal, bool) {
	p, ok := t.prices[asset]
	return p, ok
}

func (t *tablePrices) Assets() []string { return t.order }

func (t *tablePrices) Prices() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(t.prices))
	for k, v := range t.prices {
		out[k] = v
	}
	return out
}

type executorFixture struct {
	portfolio *PortfolioState
	prices    *tablePrices
	notifier  *recorderNotifier
	executor  *Executor
}

func newExecutorFixture(prices *tablePrices) *executorFixture {
	portfolio := NewPortfolioState()
	notifier := &recorderNotifier{}
	// No writer: persistence is covered by the writer tests.
	exec := NewExecutor("g1", "u1", portfolio, prices, nil, notifier, quietLogger())
	return &executorFixture{portfolio: portfolio, prices: prices, notifier: notifier, executor: exec}
}

func TestExecuteTradeBuy(t *testing.T) {
	f := newExecutorFixture(newTablePrices("Gold", "100"))

	rec, err := f.executor.ExecuteTrade("Gold", Buy, d("5"))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !f.portfolio.Cash.Equal(d("9500")) {
		t.Errorf("cash = %s, want 9500", f.portfolio.Cash)
	}
	if got := f.portfolio.Holding("Gold"); !got.Equal(d("5")) {
		t.Errorf("holding = %s, want 5", got)
	}
	if !rec.CashDelta.Equal(d("-500")) {
		t.Errorf("cash delta = %s, want -500", rec.CashDelta)
	}
	if len(f.portfolio.TradeHistory) != 1 {
		t.Errorf("history length = %d, want 1", len(f.portfolio.TradeHistory))
	}
	if f.notifier.refreshCount() != 1 {
		t.Errorf("refreshes = %d, want 1", f.notifier.refreshCount())
	}
}

func TestExecuteTradeSellRoundTrip(t *testing.T) {
	f := newExecutorFixture(newTablePrices("Gold", "100"))
	if _, err := f.executor.ExecuteTrade("Gold", Buy, d("5")); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := f.executor.ExecuteTrade("Gold", Sell, d("5")); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if !f.portfolio.Cash.Equal(StartingCash) {
		t.Errorf("cash = %s, want %s", f.portfolio.Cash, StartingCash)
	}
	if _, ok := f.portfolio.Holdings["Gold"]; ok {
		t.Error("fully sold holding should be removed")
	}
}

func TestExecuteTradeRejections(t *testing.T) {
	cases := []struct {
		name    string
		asset   string
		action  TradeAction
		qty     string
		wantErr error
	}{
		{"zero quantity", "Gold", Buy, "0", ErrInvalidQuantity},
		{"negative quantity", "Gold", Sell, "-2", ErrInvalidQuantity},
		{"unknown asset", "Tulips", Buy, "1", ErrUnknownAsset},
		{"insufficient cash", "Bitcoin", Buy, "1", ErrInsufficientCash},
		{"insufficient holdings", "Gold", Sell, "1", ErrInsufficientHoldings},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newExecutorFixture(newTablePrices("Gold", "100", "Bitcoin", "50000"))
			_, err := f.executor.ExecuteTrade(tc.asset, tc.action, d(tc.qty))
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if !f.portfolio.Cash.Equal(StartingCash) {
				t.Errorf("cash changed on rejected trade: %s", f.portfolio.Cash)
			}
			if len(f.portfolio.Holdings) != 0 {
				t.Errorf("holdings changed on rejected trade: %v", f.portfolio.Holdings)
			}
			if len(f.portfolio.TradeHistory) != 0 {
				t.Error("rejected trade must not be recorded")
			}
			if len(f.notifier.rejected) != 1 {
				t.Errorf("rejection notifications = %d, want 1", len(f.notifier.rejected))
			}
		})
	}
}

func TestBuyAllAssetsSpendsEverything(t *testing.T) {
	f := newExecutorFixture(newTablePrices("Gold", "100", "Bonds", "50", "Bitcoin", "40000"))

	recs, err := f.executor.BuyAllAssets()
	if err != nil {
		t.Fatalf("buyall: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("records = %d, want 3", len(recs))
	}
	if !f.portfolio.Cash.IsZero() {
		t.Errorf("cash = %s, want exactly 0", f.portfolio.Cash)
	}
	// Each asset got 10000/3 of cash.
	allocation := StartingCash.Div(decimal.NewFromInt(3))
	if got := f.portfolio.Holding("Bonds"); !got.Equal(allocation.Div(d("50"))) {
		t.Errorf("Bonds = %s, want %s", got, allocation.Div(d("50")))
	}
	if f.notifier.refreshCount() != 1 {
		t.Errorf("refreshes = %d, want exactly 1 for the batch", f.notifier.refreshCount())
	}
}

func TestBuyAllSkipsUnpricedAssetWithoutRedistributing(t *testing.T) {
	f := newExecutorFixture(newTablePrices("Gold", "100", "Halted", "0"))

	recs, err := f.executor.BuyAllAssets()
	if err != nil {
		t.Fatalf("buyall: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	// Gold received its half; the halted asset's share is not reallocated,
	// and cash still ends at exactly zero.
	if got := f.portfolio.Holding("Gold"); !got.Equal(d("50")) {
		t.Errorf("Gold = %s, want 50", got)
	}
	if _, ok := f.portfolio.Holdings["Halted"]; ok {
		t.Error("unpriced asset must not be bought")
	}
	if !f.portfolio.Cash.IsZero() {
		t.Errorf("cash = %s, want 0", f.portfolio.Cash)
	}
}

func TestBuySelectedAssetsFallsBackToSelection(t *testing.T) {
	f := newExecutorFixture(newTablePrices("Gold", "100", "Bonds", "50"))

	if _, err := f.executor.BuySelectedAssets(nil); !errors.Is(err, ErrNoAssetSelected) {
		t.Fatalf("err = %v, want ErrNoAssetSelected", err)
	}

	f.executor.SelectAsset("Bonds")
	recs, err := f.executor.BuySelectedAssets(nil)
	if err != nil {
		t.Fatalf("buy selected: %v", err)
	}
	if len(recs) != 1 || recs[0].Asset != "Bonds" {
		t.Fatalf("records = %v, want single Bonds buy", recs)
	}
	if got := f.portfolio.Holding("Bonds"); !got.Equal(d("200")) {
		t.Errorf("Bonds = %s, want 200", got)
	}
	if !f.portfolio.Cash.IsZero() {
		t.Errorf("cash = %s, want 0", f.portfolio.Cash)
	}
}

func TestBuyAllWithNoCash(t *testing.T) {
	f := newExecutorFixture(newTablePrices("Gold", "100"))
	f.portfolio.Cash = decimal.Zero
	if _, err := f.executor.BuyAllAssets(); !errors.Is(err, ErrInsufficientCash) {
		t.Fatalf("err = %v, want ErrInsufficientCash", err)
	}
}

func TestSellAllAssetsSingleRefresh(t *testing.T) {
	f := newExecutorFixture(newTablePrices("Gold", "100", "Bonds", "50"))
	if _, err := f.executor.ExecuteTrade("Gold", Buy, d("10")); err != nil {
		t.Fatalf("buy gold: %v", err)
	}
	if _, err := f.executor.ExecuteTrade("Bonds", Buy, d("20")); err != nil {
		t.Fatalf("buy bonds: %v", err)
	}
	refreshesBefore := f.notifier.refreshCount()

	recs, err := f.executor.SellAllAssets()
	if err != nil {
		t.Fatalf("sellall: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	if !f.portfolio.Cash.Equal(StartingCash) {
		t.Errorf("cash = %s, want %s", f.portfolio.Cash, StartingCash)
	}
	if len(f.portfolio.Holdings) != 0 {
		t.Errorf("holdings = %v, want empty", f.portfolio.Holdings)
	}
	if got := f.notifier.refreshCount() - refreshesBefore; got != 1 {
		t.Errorf("refreshes during liquidation = %d, want exactly 1", got)
	}
}

func TestSellAllKeepsUnpricedHoldings(t *testing.T) {
	prices := newTablePrices("Gold", "100", "Bonds", "50")
	f := newExecutorFixture(prices)
	if _, err := f.executor.ExecuteTrade("Gold", Buy, d("10")); err != nil {
		t.Fatalf("buy gold: %v", err)
	}
	if _, err := f.executor.ExecuteTrade("Bonds", Buy, d("20")); err != nil {
		t.Fatalf("buy bonds: %v", err)
	}
	prices.prices["Bonds"] = decimal.Zero

	recs, err := f.executor.SellAllAssets()
	if err != nil {
		t.Fatalf("sellall: %v", err)
	}
	if len(recs) != 1 || recs[0].Asset != "Gold" {
		t.Fatalf("records = %v, want single Gold sale", recs)
	}
	if got := f.portfolio.Holding("Bonds"); !got.Equal(d("20")) {
		t.Errorf("Bonds = %s, want kept at 20", got)
	}
}

func TestSellAllWithNothingHeld(t *testing.T) {
	f := newExecutorFixture(newTablePrices("Gold", "100"))
	recs, err := f.executor.SellAllAssets()
	if err != nil {
		t.Fatalf("sellall: %v", err)
	}
	if recs != nil {
		t.Errorf("records = %v, want nil", recs)
	}
	if f.notifier.refreshCount() != 0 {
		t.Error("no refresh should fire when nothing was sold")
	}
}
