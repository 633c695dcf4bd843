package game

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"odyssey/internal/cache"
	"odyssey/internal/remote"
)

// SessionOptions wires one game session. Store and GameID/UserID are
// required; everything else has working defaults.
type SessionOptions struct {
	Store    remote.Store
	GameID   string
	UserID   string
	Cache    *cache.Cache
	Notifier Notifier
	Logger   *slog.Logger

	// Assets and MarketSeed configure the price simulator. A zero seed
	// derives one from the game ID so every client replays the same path.
	Assets     []Asset
	MarketSeed int64
}

// Session is the explicitly owned context for one player in one game: it
// holds the portfolio, the market, and the reconciler/executor pair, and is
// threaded through calls instead of living in ambient globals.
type Session struct {
	GameID    string
	UserID    string
	Portfolio *PortfolioState
	Market    *Market

	backend    *Backend
	reconciler *Reconciler
	executor   *Executor
	writer     *Writer
	log        *slog.Logger
}

// NewSession loads the participant from the remote store, creating the
// starting row for a first-time player, and wires all components.
func NewSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = LogNotifier{Log: logger}
	}
	seed := opts.MarketSeed
	if seed == 0 {
		seed = SeedForGame(opts.GameID)
	}

	backend := NewBackend(opts.Store)
	portfolio := NewPortfolioState()

	participant, ok, err := backend.Participant(ctx, opts.GameID, opts.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		participant = StartingParticipant(opts.GameID, opts.UserID)
		if err := backend.SaveParticipant(ctx, participant); err != nil {
			return nil, err
		}
	}
	portfolio.Overwrite(participant)

	market := NewMarket(opts.Assets, seed)
	writer := NewWriter(backend, logger)

	s := &Session{
		GameID:    opts.GameID,
		UserID:    opts.UserID,
		Portfolio: portfolio,
		Market:    market,
		backend:   backend,
		writer:    writer,
		log:       logger,
	}
	s.reconciler = NewReconciler(backend, opts.GameID, opts.UserID, portfolio, opts.Cache, notifier, logger)
	s.executor = NewExecutor(opts.GameID, opts.UserID, portfolio, market, writer, notifier, logger)
	return s, nil
}

func (s *Session) Reconciler() *Reconciler { return s.reconciler }
func (s *Session) Executor() *Executor    { return s.executor }
func (s *Session) Backend() *Backend      { return s.backend }

// InjectCurrentRound applies the injection for the market's current round.
func (s *Session) InjectCurrentRound(ctx context.Context) (decimal.Decimal, error) {
	return s.reconciler.GenerateCashInjection(ctx, s.Market.Round())
}

// AdvanceRound is the round boundary: synchronize against the remote
// snapshot, roll prices forward, then apply the new round's injection.
func (s *Session) AdvanceRound(ctx context.Context) (round int, injected decimal.Decimal, err error) {
	if err := s.reconciler.SynchronizePlayerState(ctx); err != nil {
		return s.Market.Round(), decimal.Zero, err
	}
	s.Market.AdvanceRound()
	round = s.Market.Round()
	injected, err = s.reconciler.GenerateCashInjection(ctx, round)
	return round, injected, err
}

// Flush waits for queued persistence work to complete.
func (s *Session) Flush(ctx context.Context) error {
	return s.writer.Flush(ctx)
}

// Close flushes and releases the write-behind worker. The remote store
// retains the final snapshot; nothing is deleted.
func (s *Session) Close(ctx context.Context) error {
	err := s.writer.Flush(ctx)
	s.writer.Close()
	return err
}
