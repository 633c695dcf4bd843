package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"odyssey/internal/cache"
)

// Reconciler sizes and exactly-once-applies the per-round cash injection and
// keeps the local portfolio consistent with the remote participant row.
// Idempotency is detected by remote record presence, not local memory, so it
// survives client restarts.
type Reconciler struct {
	backend   *Backend
	gameID    string
	userID    string
	portfolio *PortfolioState
	cache     *cache.Cache
	notifier  Notifier
	log       *slog.Logger

	mu   sync.Mutex
	rand *mathrand.Rand
}

func NewReconciler(backend *Backend, gameID, userID string, portfolio *PortfolioState, localCache *cache.Cache, notifier Notifier, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = LogNotifier{Log: logger}
	}
	return &Reconciler{
		backend:   backend,
		gameID:    gameID,
		userID:    userID,
		portfolio: portfolio,
		cache:     localCache,
		notifier:  notifier,
		log:       logger,
		rand:      mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
	}
}

// GenerateCashInjection computes and applies this round's injection exactly
// once per (game, user, round). An already-processed round returns zero
// without touching any state; a failed application also returns zero, with
// the error, and performs no partial local mutation.
func (r *Reconciler) GenerateCashInjection(ctx context.Context, round int) (decimal.Decimal, error) {
	if round < 0 {
		return decimal.Zero, ErrNegativeRound
	}

	exists, err := r.backend.InjectionExists(ctx, r.gameID, r.userID, round)
	if err != nil {
		return decimal.Zero, err
	}
	if exists {
		r.log.Warn("duplicate cash injection suppressed", "game_id", r.gameID, "round", round)
		r.notifier.Warn(fmt.Sprintf("cash injection for round %d already applied", round))
		return decimal.Zero, nil
	}

	amount := r.drawAmount(round)
	if err := r.applyCashInjection(ctx, round, amount); err != nil {
		r.log.Error("cash injection failed", "game_id", r.gameID, "round", round, "err", err)
		return decimal.Zero, err
	}

	r.portfolio.Cash = r.portfolio.Cash.Add(amount)

	// Re-read the remote total rather than incrementing locally; the fresh
	// read heals any drift between the local counter and the ledger. When
	// the read itself fails, fall back to the provisional local increment
	// until the next synchronize pass.
	if total, err := r.TotalCashInjections(ctx); err == nil {
		r.portfolio.TotalCashInjected = total
	} else {
		r.log.Warn("total injected re-read failed, using local increment", "err", err)
		r.portfolio.TotalCashInjected = r.portfolio.TotalCashInjected.Add(amount)
	}

	r.writeCache()
	r.notifier.InjectionApplied(round, amount)
	return amount, nil
}

// drawAmount is base(round) plus an unseeded uniform jitter in
// [-variability, +variability], rounded to cents. Exact replay of the draw
// is not a requirement.
func (r *Reconciler) drawAmount(round int) decimal.Decimal {
	r.mu.Lock()
	f := r.rand.Float64()
	r.mu.Unlock()
	jitter := decimal.NewFromFloat((f + f - 1)).Mul(InjectionVariability)
	return BaseInjectionAmount(round).Add(jitter).Round(2)
}

// applyCashInjection persists the injection, preferring the atomic remote
// procedure and falling back to an explicit three-step sequence when the
// procedure is unavailable or errors. Any fallback step failing aborts the
// whole operation; the already-inserted injection row is not rolled back,
// and the ledger sum remains the recovery source for the total.
func (r *Reconciler) applyCashInjection(ctx context.Context, round int, amount decimal.Decimal) error {
	rec := InjectionRecord{GameID: r.gameID, UserID: r.userID, Round: round, Amount: amount}

	err := r.backend.ApplyInjectionAtomic(ctx, rec)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAlreadyInjected) {
		// A concurrent client won the round between the idempotency check
		// and the apply; do not re-apply through the manual path.
		return err
	}
	r.log.Warn("atomic injection unavailable, using manual path", "round", round, "err", err)

	if err := r.backend.InsertInjection(ctx, rec); err != nil {
		return err
	}
	participant, ok, err := r.backend.Participant(ctx, r.gameID, r.userID)
	if err != nil {
		return err
	}
	if !ok {
		participant = StartingParticipant(r.gameID, r.userID)
	}
	participant.Cash = participant.Cash.Add(amount)
	participant.TotalValue = participant.TotalValue.Add(amount)
	participant.TotalCashInjected = participant.TotalCashInjected.Add(amount)
	return r.backend.SaveParticipant(ctx, participant)
}

// SynchronizePlayerState pulls the authoritative remote snapshot and
// overwrites local cash, holdings and injected total. Remote always wins;
// this is the sole drift-healing mechanism and runs at round boundaries.
func (r *Reconciler) SynchronizePlayerState(ctx context.Context) error {
	participant, ok, err := r.backend.Participant(ctx, r.gameID, r.userID)
	if err != nil {
		return err
	}
	if !ok {
		participant = StartingParticipant(r.gameID, r.userID)
	}
	if !participant.TotalInjectedValid {
		if total, err := r.backend.SumInjections(ctx, r.gameID, r.userID); err == nil {
			participant.TotalCashInjected = total
		}
	}
	r.portfolio.Overwrite(participant)
	r.writeCache()
	return nil
}

// TotalCashInjections reads the denormalized participant column, falling
// back to RecomputeFromLedger when the column is missing or null. The
// column is a cache of the ledger sum, not independent ground truth.
func (r *Reconciler) TotalCashInjections(ctx context.Context) (decimal.Decimal, error) {
	participant, ok, err := r.backend.Participant(ctx, r.gameID, r.userID)
	if err != nil {
		return decimal.Zero, err
	}
	if ok && participant.TotalInjectedValid {
		return participant.TotalCashInjected, nil
	}
	return r.RecomputeFromLedger(ctx)
}

// RecomputeFromLedger sums the cash_injections rows for this player. This
// is the explicit materialized-view reconciliation path.
func (r *Reconciler) RecomputeFromLedger(ctx context.Context) (decimal.Decimal, error) {
	return r.backend.SumInjections(ctx, r.gameID, r.userID)
}

// writeCache persists the display fallback values. Best-effort: a failed
// cache write is logged, never surfaced.
func (r *Reconciler) writeCache() {
	if r.cache == nil {
		return
	}
	if err := r.cache.PutDecimal(cache.TotalInjectedKey(r.gameID), r.portfolio.TotalCashInjected); err != nil {
		r.log.Warn("cache write failed", "err", err)
		return
	}
	if err := r.cache.PutDecimal(cache.PlayerCashKey(r.gameID), r.portfolio.Cash); err != nil {
		r.log.Warn("cache write failed", "err", err)
	}
}
