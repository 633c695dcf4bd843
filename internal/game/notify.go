package game

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// BannerDuration is how long the injection banner stays visible in
// interactive frontends before auto-dismissing.
const BannerDuration = 5 * time.Second

// Notifier is the sink for user-facing state-change signals. Implementations
// must be cheap and non-blocking; rendering detail is outside the core.
type Notifier interface {
	// InjectionApplied announces a successful cash injection for a round.
	InjectionApplied(round int, amount decimal.Decimal)

	// TradeExecuted announces one accepted trade.
	TradeExecuted(rec TradeRecord)

	// TradeRejected surfaces a validation failure as an actionable message.
	TradeRejected(reason string)

	// RefreshPortfolio asks dependent views to re-render. Batched
	// operations emit this exactly once.
	RefreshPortfolio(p *PortfolioState)

	// Warn surfaces a non-blocking anomaly, such as a suppressed duplicate
	// injection.
	Warn(msg string)
}

// LogNotifier is the default sink: structured log lines, no UI.
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) logger() *slog.Logger {
	if n.Log == nil {
		return slog.Default()
	}
	return n.Log
}

func (n LogNotifier) InjectionApplied(round int, amount decimal.Decimal) {
	n.logger().Info("cash injection applied", "round", round, "amount", amount.StringFixed(2))
}

func (n LogNotifier) TradeExecuted(rec TradeRecord) {
	n.logger().Info("trade executed",
		"asset", rec.Asset,
		"action", string(rec.Action),
		"quantity", rec.Quantity.String(),
		"price", rec.Price.String(),
	)
}

func (n LogNotifier) TradeRejected(reason string) {
	n.logger().Warn("trade rejected", "reason", reason)
}

func (n LogNotifier) RefreshPortfolio(*PortfolioState) {}

func (n LogNotifier) Warn(msg string) {
	n.logger().Warn(msg)
}
