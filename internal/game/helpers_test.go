package game

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"odyssey/internal/cache"
	"odyssey/internal/remote"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorderNotifier captures every notification for assertions.
type recorderNotifier struct {
	mu         sync.Mutex
	injections []decimal.Decimal
	executed   []TradeRecord
	rejected   []string
	warnings   []string
	refreshes  int
}

func (n *recorderNotifier) InjectionApplied(round int, amount decimal.Decimal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.injections = append(n.injections, amount)
}

func (n *recorderNotifier) TradeExecuted(rec TradeRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.executed = append(n.executed, rec)
}

func (n *recorderNotifier) TradeRejected(reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejected = append(n.rejected, reason)
}

func (n *recorderNotifier) RefreshPortfolio(*PortfolioState) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refreshes++
}

func (n *recorderNotifier) Warn(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.warnings = append(n.warnings, msg)
}

func (n *recorderNotifier) refreshCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.refreshes
}

// registerAtomicInjectionProc gives the memory store the same atomic
// procedure the Postgres store exposes.
func registerAtomicInjectionProc(store *remote.MemoryStore) {
	store.RegisterProcedure(procApplyInjection, func(s *remote.MemoryStore, params map[string]any) (remote.Row, error) {
		gameID, _ := params["p_game_id"].(string)
		userID, _ := params["p_user_id"].(string)
		amount, ok := remote.DecimalField(remote.Row(params), "p_amount")
		if !ok {
			return nil, ErrNegativeRound
		}
		round, _ := remote.IntField(remote.Row(params), "p_round_number")

		var applied bool
		err := s.MutateLocked(func(tables map[string][]remote.Row) error {
			for _, row := range tables[tableInjections] {
				if !matchesRow(row, gameID, userID, round) {
					continue
				}
				return ErrAlreadyInjected
			}
			tables[tableInjections] = append(tables[tableInjections], remote.Row{
				"id":           uuid.NewString(),
				"game_id":      gameID,
				"user_id":      userID,
				"round_number": round,
				"amount":       amount.String(),
			})
			for _, row := range tables[tableParticipants] {
				if row["game_id"] != gameID || row["user_id"] != userID {
					continue
				}
				cash, _ := remote.DecimalField(row, "cash")
				total, _ := remote.DecimalField(row, "total_value")
				injected, _ := remote.DecimalField(row, "total_cash_injected")
				row["cash"] = cash.Add(amount).String()
				row["total_value"] = total.Add(amount).String()
				row["total_cash_injected"] = injected.Add(amount).String()
				applied = true
				return nil
			}
			tables[tableParticipants] = append(tables[tableParticipants], remote.Row{
				"game_id":             gameID,
				"user_id":             userID,
				"cash":                StartingCash.Add(amount).String(),
				"total_value":         StartingCash.Add(amount).String(),
				"total_cash_injected": amount.String(),
				"portfolio":           "{}",
			})
			applied = true
			return nil
		})
		if err != nil {
			return nil, err
		}
		return remote.Row{"applied": applied}, nil
	})
}

func matchesRow(row remote.Row, gameID, userID string, round int) bool {
	if row["game_id"] != gameID || row["user_id"] != userID {
		return false
	}
	r, ok := remote.IntField(row, "round_number")
	return ok && r == round
}

type reconcilerFixture struct {
	store      *remote.MemoryStore
	backend    *Backend
	portfolio  *PortfolioState
	cache      *cache.Cache
	notifier   *recorderNotifier
	reconciler *Reconciler
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	store := remote.NewMemoryStore()
	backend := NewBackend(store)
	portfolio := NewPortfolioState()
	c := cache.New(t.TempDir())
	notifier := &recorderNotifier{}
	rec := NewReconciler(backend, "g1", "u1", portfolio, c, notifier, quietLogger())
	return &reconcilerFixture{
		store:      store,
		backend:    backend,
		portfolio:  portfolio,
		cache:      c,
		notifier:   notifier,
		reconciler: rec,
	}
}
