package game

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// PriceSource supplies the latest market prices. The executor re-reads it
// immediately before costing every trade; it never trades on a price the
// caller captured earlier.
type PriceSource interface {
	Price(asset string) (decimal.Decimal, bool)
	Assets() []string
	Prices() map[string]decimal.Decimal
}

// Executor validates and applies buy/sell instructions against the
// portfolio, then hands snapshots to the write-behind queue. Validation
// failures reject before any mutation; persistence failures never roll back
// the local mutation.
type Executor struct {
	gameID    string
	userID    string
	portfolio *PortfolioState
	prices    PriceSource
	writer    *Writer
	notifier  Notifier
	log       *slog.Logger
	selected  string
	now       func() time.Time
}

func NewExecutor(gameID, userID string, portfolio *PortfolioState, prices PriceSource, writer *Writer, notifier Notifier, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = LogNotifier{Log: logger}
	}
	return &Executor{
		gameID:    gameID,
		userID:    userID,
		portfolio: portfolio,
		prices:    prices,
		writer:    writer,
		notifier:  notifier,
		log:       logger,
		now:       time.Now,
	}
}

// SelectAsset records the asset BuySelectedAssets falls back to when called
// with an empty list.
func (e *Executor) SelectAsset(asset string) {
	e.selected = asset
}

// ExecuteTrade validates and applies one buy or sell at the current market
// price.
func (e *Executor) ExecuteTrade(asset string, action TradeAction, quantity decimal.Decimal) (TradeRecord, error) {
	if quantity.Sign() <= 0 {
		return TradeRecord{}, e.reject(ErrInvalidQuantity, "quantity must be greater than zero")
	}
	price, ok := e.prices.Price(asset)
	if !ok {
		return TradeRecord{}, e.reject(ErrUnknownAsset, fmt.Sprintf("unknown asset %q", asset))
	}
	if price.Sign() <= 0 {
		return TradeRecord{}, e.reject(ErrInvalidPrice, fmt.Sprintf("no valid price for %q", asset))
	}

	var rec TradeRecord
	switch action {
	case Buy:
		cost := price.Mul(quantity)
		if cost.GreaterThan(e.portfolio.Cash) {
			return TradeRecord{}, e.reject(ErrInsufficientCash,
				fmt.Sprintf("buying %s %s costs %s but only %s cash is available",
					quantity.String(), asset, cost.StringFixed(2), e.portfolio.Cash.StringFixed(2)))
		}
		e.portfolio.Cash = e.portfolio.Cash.Sub(cost)
		e.portfolio.setHolding(asset, e.portfolio.Holding(asset).Add(quantity))
		rec = e.record(asset, Buy, quantity, price, cost.Neg())
	case Sell:
		held := e.portfolio.Holding(asset)
		if quantity.GreaterThan(held) {
			return TradeRecord{}, e.reject(ErrInsufficientHoldings,
				fmt.Sprintf("selling %s %s but only %s is held", quantity.String(), asset, held.String()))
		}
		proceeds := price.Mul(quantity)
		e.portfolio.Cash = e.portfolio.Cash.Add(proceeds)
		e.portfolio.setHolding(asset, held.Sub(quantity))
		rec = e.record(asset, Sell, quantity, price, proceeds)
	default:
		return TradeRecord{}, e.reject(fmt.Errorf("unknown action %q", action), "action must be buy or sell")
	}

	e.portfolio.TradeHistory = append(e.portfolio.TradeHistory, rec)
	e.persist()
	e.notifier.TradeExecuted(rec)
	e.notifier.RefreshPortfolio(e.portfolio)
	return rec, nil
}

// BuyAllAssets distributes all cash evenly across every tradable asset.
func (e *Executor) BuyAllAssets() ([]TradeRecord, error) {
	return e.buySpread(e.prices.Assets())
}

// BuySelectedAssets distributes all cash across the given subset, falling
// back to the single currently-selected asset when the subset is empty.
func (e *Executor) BuySelectedAssets(assets []string) ([]TradeRecord, error) {
	if len(assets) == 0 {
		if e.selected == "" {
			return nil, ErrNoAssetSelected
		}
		assets = []string{e.selected}
	}
	return e.buySpread(assets)
}

// buySpread allocates cash/len(assets) to each asset. Assets with a missing
// or non-positive price are skipped and their share is not redistributed;
// after distributing, cash is set to exactly zero rather than summing
// allocations, so no floating residual survives.
func (e *Executor) buySpread(assets []string) ([]TradeRecord, error) {
	if len(assets) == 0 {
		return nil, ErrNoAssetSelected
	}
	if e.portfolio.Cash.Sign() <= 0 {
		return nil, e.reject(ErrInsufficientCash, "no cash available to distribute")
	}

	allocation := e.portfolio.Cash.Div(decimal.NewFromInt(int64(len(assets))))
	var records []TradeRecord
	for _, asset := range assets {
		price, ok := e.prices.Price(asset)
		if !ok || price.Sign() <= 0 {
			e.log.Warn("skipping asset with no valid price", "asset", asset)
			continue
		}
		quantity := allocation.Div(price)
		if quantity.Sign() <= 0 {
			continue
		}
		e.portfolio.setHolding(asset, e.portfolio.Holding(asset).Add(quantity))
		records = append(records, e.record(asset, Buy, quantity, price, allocation.Neg()))
	}
	if len(records) == 0 {
		return nil, e.reject(ErrInvalidPrice, "no asset had a valid price")
	}

	e.portfolio.Cash = decimal.Zero
	e.portfolio.TradeHistory = append(e.portfolio.TradeHistory, records...)
	e.persist()
	for _, rec := range records {
		e.notifier.TradeExecuted(rec)
	}
	e.notifier.RefreshPortfolio(e.portfolio)
	return records, nil
}

// SellAllAssets liquidates every priced holding. All mutations are computed
// first and assigned once, so observers see a single state change and a
// single refresh instead of per-asset flicker.
func (e *Executor) SellAllAssets() ([]TradeRecord, error) {
	proceeds := decimal.Zero
	var records []TradeRecord
	var sold []string
	for _, asset := range e.prices.Assets() {
		held := e.portfolio.Holding(asset)
		if held.Sign() <= 0 {
			continue
		}
		price, ok := e.prices.Price(asset)
		if !ok || price.Sign() <= 0 {
			e.log.Warn("holding kept, no valid price", "asset", asset)
			continue
		}
		value := price.Mul(held)
		proceeds = proceeds.Add(value)
		records = append(records, e.record(asset, Sell, held, price, value))
		sold = append(sold, asset)
	}
	if len(records) == 0 {
		return nil, nil
	}

	e.portfolio.Cash = e.portfolio.Cash.Add(proceeds)
	for _, asset := range sold {
		e.portfolio.setHolding(asset, decimal.Zero)
	}
	e.portfolio.TradeHistory = append(e.portfolio.TradeHistory, records...)
	e.persist()
	e.notifier.RefreshPortfolio(e.portfolio)
	return records, nil
}

func (e *Executor) record(asset string, action TradeAction, quantity, price, cashDelta decimal.Decimal) TradeRecord {
	return TradeRecord{
		Asset:     asset,
		Action:    action,
		Quantity:  quantity,
		Price:     price,
		CashDelta: cashDelta,
		Timestamp: e.now(),
	}
}

func (e *Executor) reject(err error, reason string) error {
	e.notifier.TradeRejected(reason)
	return fmt.Errorf("%w: %s", err, reason)
}

func (e *Executor) persist() {
	if e.writer == nil {
		return
	}
	e.writer.Enqueue(e.portfolio.Snapshot(e.gameID, e.userID, e.prices.Prices()))
}
