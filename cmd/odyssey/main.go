package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"odyssey/internal/auth"
	"odyssey/internal/cache"
	"odyssey/internal/config"
	"odyssey/internal/db"
	"odyssey/internal/game"
	"odyssey/internal/remote"
)

func main() {
	cfg, err := config.LoadCLIFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:          "odyssey",
		Short:        "Investment Odyssey trading client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfg.GameID, "game", cfg.GameID, "game identifier")

	root.AddCommand(
		newSignupCmd(cfg),
		newLoginCmd(cfg),
		newLogoutCmd(),
		newStatusCmd(cfg),
		newBuyCmd(cfg),
		newSellCmd(cfg),
		newBuyAllCmd(cfg),
		newSellAllCmd(cfg),
		newRoundCmd(cfg),
		newSyncCmd(cfg),
		newInjectionsCmd(cfg),
		newLeaderboardCmd(cfg),
	)

	if err := root.Execute(); err != nil {
		printError(fmt.Sprintf("error: %v", err))
		os.Exit(1)
	}
}

// env is everything one command invocation needs: the session plus the
// handles commands use directly.
type env struct {
	cfg      config.CLIConfig
	store    remote.Store
	cache    *cache.Cache
	resolver *auth.Resolver
	session  *game.Session
	pool     interface{ Close() }
}

func (e *env) close(ctx context.Context) {
	if e.session != nil {
		if err := e.session.Close(ctx); err != nil {
			printWarn(fmt.Sprintf("some changes were not saved remotely: %v", err))
		}
	}
	if e.pool != nil {
		e.pool.Close()
	}
}

// openEnv builds the store, resolves identity and loads the game session,
// restoring the locally tracked round number so prices line up across
// invocations.
func openEnv(ctx context.Context, cfg config.CLIConfig) (*env, error) {
	dir, err := auth.DefaultDir()
	if err != nil {
		return nil, err
	}
	e := &env{
		cfg:   cfg,
		cache: cache.New(dir),
	}

	var verifier auth.Verifier
	var restStore *remote.RestStore
	if cfg.SupabaseURL != "" {
		verifier = auth.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseAnonKey)
		restStore = remote.NewRestStore(cfg.SupabaseURL, cfg.SupabaseAnonKey)
	}
	e.resolver = auth.NewResolver(dir, verifier)
	userID := e.resolver.CurrentUserID(ctx)

	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		e.pool = pool
		e.store = remote.NewPostgresStore(pool, game.Procedures())
	} else {
		if sess, err := e.resolver.LoadSession(); err == nil {
			restStore = restStore.WithAccessToken(sess.AccessToken)
		}
		e.store = restStore
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	session, err := game.NewSession(ctx, game.SessionOptions{
		Store:    e.store,
		GameID:   cfg.GameID,
		UserID:   userID,
		Cache:    e.cache,
		Notifier: newColorNotifier(),
		Logger:   logger,
	})
	if err != nil {
		e.close(ctx)
		return nil, err
	}
	if round, ok := e.cache.GetInt(cache.RoundKey(cfg.GameID)); ok && round > 0 {
		session.Market.SeekRound(round)
	}
	e.session = session
	return e, nil
}

func (e *env) saveRound() {
	key := cache.RoundKey(e.cfg.GameID)
	if err := e.cache.PutInt(key, e.session.Market.Round()); err != nil {
		printWarn(fmt.Sprintf("could not record round locally: %v", err))
	}
}

func runWithEnv(cfg config.CLIConfig, timeout time.Duration, fn func(ctx context.Context, e *env) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	e, err := openEnv(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.close(ctx)
	return fn(ctx, e)
}

func newSupabaseClient(cfg config.CLIConfig) (*auth.SupabaseClient, error) {
	if cfg.SupabaseURL == "" {
		return nil, fmt.Errorf("SUPABASE_URL is required for account commands")
	}
	return auth.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseAnonKey), nil
}

func newSignupCmd(cfg config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newSupabaseClient(cfg)
			if err != nil {
				return err
			}
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptRequired("Password")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := client.SignUp(ctx, email, password)
			if err != nil {
				return err
			}
			if strings.TrimSpace(session.AccessToken) == "" {
				printWarn("Signup created. Verify email, then run `odyssey login`.")
				return nil
			}
			if err := saveSession(session); err != nil {
				return err
			}
			printSuccess("Signup complete. Session saved.")
			return nil
		},
	}
}

func newLoginCmd(cfg config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Login with an existing account",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newSupabaseClient(cfg)
			if err != nil {
				return err
			}
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptRequired("Password")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := client.Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := saveSession(session); err != nil {
				return err
			}
			printSuccess("Login complete. Session saved.")
			return nil
		},
	}
}

func saveSession(s auth.Session) error {
	dir, err := auth.DefaultDir()
	if err != nil {
		return err
	}
	return auth.NewResolver(dir, nil).SaveSession(auth.StoredSession{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		Email:        s.User.Email,
		UserID:       s.User.ID,
	})
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := auth.DefaultDir()
			if err != nil {
				return err
			}
			if err := auth.NewResolver(dir, nil).ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newStatusCmd(cfg config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show your portfolio for the current round",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithEnv(cfg, 30*time.Second, func(ctx context.Context, e *env) error {
				if err := e.session.Reconciler().SynchronizePlayerState(ctx); err != nil {
					printWarn(fmt.Sprintf("using cached state, remote unavailable: %v", err))
					renderCachedStatus(e.cache, e.cfg.GameID)
					return nil
				}
				renderStatus(e.session)
				return nil
			})
		},
	}
}

func newBuyCmd(cfg config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "buy <asset> <quantity>",
		Short: "Buy units of an asset at the current round price",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid quantity %q", args[1])
			}
			return runWithEnv(cfg, 30*time.Second, func(ctx context.Context, e *env) error {
				rec, err := e.session.Executor().ExecuteTrade(args[0], game.Buy, qty)
				if err != nil {
					return err
				}
				renderTrade(rec)
				return nil
			})
		},
	}
}

func newSellCmd(cfg config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "sell <asset> <quantity>",
		Short: "Sell units of an asset at the current round price",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid quantity %q", args[1])
			}
			return runWithEnv(cfg, 30*time.Second, func(ctx context.Context, e *env) error {
				rec, err := e.session.Executor().ExecuteTrade(args[0], game.Sell, qty)
				if err != nil {
					return err
				}
				renderTrade(rec)
				return nil
			})
		},
	}
}

func newBuyAllCmd(cfg config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "buyall [asset ...]",
		Short: "Spread all remaining cash across assets",
		Long: "With no arguments, splits cash evenly across every asset. With asset\n" +
			"names, splits cash across just those assets.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithEnv(cfg, 30*time.Second, func(ctx context.Context, e *env) error {
				var recs []game.TradeRecord
				var err error
				if len(args) == 0 {
					recs, err = e.session.Executor().BuyAllAssets()
				} else {
					recs, err = e.session.Executor().BuySelectedAssets(args)
				}
				if err != nil {
					return err
				}
				for _, rec := range recs {
					renderTrade(rec)
				}
				printInfo(fmt.Sprintf("Cash remaining: $%s", e.session.Portfolio.Cash.StringFixed(2)))
				return nil
			})
		},
	}
}

func newSellAllCmd(cfg config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "sellall",
		Short: "Liquidate every holding at current prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithEnv(cfg, 30*time.Second, func(ctx context.Context, e *env) error {
				recs, err := e.session.Executor().SellAllAssets()
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					printInfo("Nothing to sell.")
					return nil
				}
				for _, rec := range recs {
					renderTrade(rec)
				}
				printInfo(fmt.Sprintf("Cash after liquidation: $%s", e.session.Portfolio.Cash.StringFixed(2)))
				return nil
			})
		},
	}
}

func newRoundCmd(cfg config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "round",
		Short: "Advance to the next round and collect the cash injection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithEnv(cfg, 60*time.Second, func(ctx context.Context, e *env) error {
				round, injected, err := e.session.AdvanceRound(ctx)
				if err != nil {
					return err
				}
				e.saveRound()
				accent.Printf("Round %d\n", round)
				if injected.Sign() == 0 {
					printInfo("No new injection this round.")
				}
				renderPrices(e.session)
				return nil
			})
		},
	}
}

func newSyncCmd(cfg config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Pull the authoritative remote snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithEnv(cfg, 30*time.Second, func(ctx context.Context, e *env) error {
				if err := e.session.Reconciler().SynchronizePlayerState(ctx); err != nil {
					return err
				}
				printSuccess("Synchronized with remote state.")
				renderStatus(e.session)
				return nil
			})
		},
	}
}

func newInjectionsCmd(cfg config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "injections",
		Short: "Show your cash injection ledger for this game",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithEnv(cfg, 30*time.Second, func(ctx context.Context, e *env) error {
				rows, err := e.store.Select(ctx, "cash_injections", nil, remote.Filter{
					"game_id": e.cfg.GameID,
					"user_id": e.session.UserID,
				})
				if err != nil {
					return err
				}
				total, err := e.session.Reconciler().TotalCashInjections(ctx)
				if err != nil {
					return err
				}
				renderInjections(rows, total)
				return nil
			})
		},
	}
}

func newLeaderboardCmd(cfg config.CLIConfig) *cobra.Command {
	limit := 20
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show the game leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithEnv(cfg, 30*time.Second, func(ctx context.Context, e *env) error {
				entries, err := e.session.Backend().Leaderboard(ctx, e.cfg.GameID, limit)
				if err != nil {
					return err
				}
				renderLeaderboard(entries)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", limit, "rows to show")
	return cmd
}
