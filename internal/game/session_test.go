package game

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"odyssey/internal/cache"
	"odyssey/internal/remote"
)

func newTestSession(t *testing.T, store *remote.MemoryStore) *Session {
	t.Helper()
	s, err := NewSession(context.Background(), SessionOptions{
		Store:    store,
		GameID:   "g1",
		UserID:   "u1",
		Cache:    cache.New(t.TempDir()),
		Notifier: &recorderNotifier{},
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestNewSessionCreatesStartingParticipant(t *testing.T) {
	store := remote.NewMemoryStore()
	s := newTestSession(t, store)

	if !s.Portfolio.Cash.Equal(StartingCash) {
		t.Errorf("cash = %s, want %s", s.Portfolio.Cash, StartingCash)
	}
	rows := store.Rows("game_participants")
	if len(rows) != 1 {
		t.Fatalf("participant rows = %d, want 1", len(rows))
	}
}

func TestNewSessionLoadsExistingParticipant(t *testing.T) {
	store := remote.NewMemoryStore()
	backend := NewBackend(store)
	if err := backend.SaveParticipant(context.Background(), Participant{
		GameID: "g1", UserID: "u1",
		Cash: d("777"), TotalValue: d("777"),
		TotalCashInjected:  d("200"),
		TotalInjectedValid: true,
		Holdings:           map[string]decimal.Decimal{},
	}); err != nil {
		t.Fatalf("seed participant: %v", err)
	}

	s := newTestSession(t, store)
	if !s.Portfolio.Cash.Equal(d("777")) {
		t.Errorf("cash = %s, want 777", s.Portfolio.Cash)
	}
	if !s.Portfolio.TotalCashInjected.Equal(d("200")) {
		t.Errorf("injected total = %s, want 200", s.Portfolio.TotalCashInjected)
	}
}

func TestAdvanceRoundInjectsForNewRound(t *testing.T) {
	store := remote.NewMemoryStore()
	s := newTestSession(t, store)
	ctx := context.Background()

	round, injected, err := s.AdvanceRound(ctx)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if round != 1 {
		t.Errorf("round = %d, want 1", round)
	}
	if injected.Sign() <= 0 {
		t.Errorf("injected = %s, want positive", injected)
	}

	// Advancing again injects the next round; repeating a round does not.
	if _, second, err := s.AdvanceRound(ctx); err != nil {
		t.Fatalf("second advance: %v", err)
	} else if second.Sign() <= 0 {
		t.Errorf("second injected = %s, want positive", second)
	}
	if rows := store.Rows("cash_injections"); len(rows) != 2 {
		t.Errorf("ledger rows = %d, want 2", len(rows))
	}
}

func TestInjectCurrentRoundIsIdempotent(t *testing.T) {
	store := remote.NewMemoryStore()
	s := newTestSession(t, store)
	ctx := context.Background()

	first, err := s.InjectCurrentRound(ctx)
	if err != nil {
		t.Fatalf("first inject: %v", err)
	}
	if first.Sign() <= 0 {
		t.Errorf("first injected = %s, want positive", first)
	}
	second, err := s.InjectCurrentRound(ctx)
	if err != nil {
		t.Fatalf("second inject: %v", err)
	}
	if !second.IsZero() {
		t.Errorf("second injected = %s, want 0", second)
	}
}
