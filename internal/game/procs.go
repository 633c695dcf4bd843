package game

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"odyssey/internal/remote"
)

// Procedures returns the named procedures the Postgres store exposes over
// RPC. apply_cash_injection records the injection and credits the
// participant as one serializable transaction, so clients that reach it
// never need the manual fallback.
func Procedures() map[string]remote.Procedure {
	return map[string]remote.Procedure{
		procApplyInjection: applyCashInjectionProc,
	}
}

func applyCashInjectionProc(ctx context.Context, tx pgx.Tx, params map[string]any) (remote.Row, error) {
	gameID, _ := params["p_game_id"].(string)
	userID, _ := params["p_user_id"].(string)
	amount, ok := remote.DecimalField(remote.Row(params), "p_amount")
	if !ok {
		return nil, fmt.Errorf("p_amount is required")
	}
	round, ok := remote.IntField(remote.Row(params), "p_round_number")
	if !ok || round < 0 {
		return nil, ErrNegativeRound
	}
	if gameID == "" || userID == "" {
		return nil, fmt.Errorf("p_game_id and p_user_id are required")
	}

	// The injection row doubles as the idempotency marker: losing the
	// conflict means another client already applied this round.
	cmd, err := tx.Exec(ctx, `
		INSERT INTO cash_injections (id, game_id, user_id, round_number, amount)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (game_id, user_id, round_number) DO NOTHING
	`, uuid.NewString(), gameID, userID, round, amount.String())
	if err != nil {
		return nil, err
	}
	if cmd.RowsAffected() == 0 {
		return nil, ErrAlreadyInjected
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO game_participants (game_id, user_id, cash, total_value, total_cash_injected, portfolio, updated_at)
		VALUES ($1, $2, $3::numeric + $4::numeric, $3::numeric + $4::numeric, $4::numeric, '{}', now())
		ON CONFLICT (game_id, user_id) DO UPDATE SET
			cash = game_participants.cash + EXCLUDED.total_cash_injected,
			total_value = game_participants.total_value + EXCLUDED.total_cash_injected,
			total_cash_injected = game_participants.total_cash_injected + EXCLUDED.total_cash_injected,
			updated_at = now()
	`, gameID, userID, StartingCash.String(), amount.String())
	if err != nil {
		return nil, err
	}

	return remote.Row{"applied": true, "amount": amount.String()}, nil
}
