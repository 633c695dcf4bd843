package game

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// StartingCash is the balance a participant begins with before any
	// injection is applied.
	StartingCash = decimal.NewFromInt(10_000)

	// InjectionBase and InjectionGrowth size the per-round cash injection:
	// base(round) = InjectionBase + InjectionGrowth * round.
	InjectionBase   = decimal.NewFromInt(5_000)
	InjectionGrowth = decimal.NewFromInt(500)

	// InjectionVariability is the half-width of the uniform jitter added on
	// top of the base amount.
	InjectionVariability = decimal.NewFromInt(1_000)
)

var (
	ErrInsufficientCash     = errors.New("insufficient cash")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrInvalidQuantity      = errors.New("quantity must be > 0")
	ErrInvalidPrice         = errors.New("price must be > 0")
	ErrUnknownAsset         = errors.New("unknown asset")
	ErrNegativeRound        = errors.New("round must be >= 0")
	ErrNoAssetSelected      = errors.New("no asset selected")
	ErrAlreadyInjected      = errors.New("cash injection already applied for round")
)

// TradeAction is the direction of a trade.
type TradeAction string

const (
	Buy  TradeAction = "buy"
	Sell TradeAction = "sell"
)

// TradeRecord is one executed trade. Immutable once appended to the
// portfolio's history.
type TradeRecord struct {
	Asset     string          `json:"asset"`
	Action    TradeAction     `json:"action"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	CashDelta decimal.Decimal `json:"cash_delta"`
	Timestamp time.Time       `json:"timestamp"`
}

// Participant mirrors one game_participants row: the authoritative remote
// snapshot that local state reconciles toward.
type Participant struct {
	GameID            string
	UserID            string
	Cash              decimal.Decimal
	TotalValue        decimal.Decimal
	TotalCashInjected decimal.Decimal
	// TotalInjectedValid is false when the remote row predates the
	// denormalized total; callers then recompute from the injection ledger.
	TotalInjectedValid bool
	Holdings           map[string]decimal.Decimal
}

// InjectionRecord mirrors one cash_injections row. The (game, user, round)
// key is the idempotency marker: at most one record may exist per key.
type InjectionRecord struct {
	GameID string
	UserID string
	Round  int
	Amount decimal.Decimal
}

// BaseInjectionAmount is the deterministic part of the round injection,
// strictly increasing in the round number.
func BaseInjectionAmount(round int) decimal.Decimal {
	return InjectionBase.Add(InjectionGrowth.Mul(decimal.NewFromInt(int64(round))))
}

// StartingParticipant is the remote row written for a player joining a game.
func StartingParticipant(gameID, userID string) Participant {
	return Participant{
		GameID:             gameID,
		UserID:             userID,
		Cash:               StartingCash,
		TotalValue:         StartingCash,
		TotalCashInjected:  decimal.Zero,
		TotalInjectedValid: true,
		Holdings:           map[string]decimal.Decimal{},
	}
}
