package game

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"odyssey/internal/remote"
)

const (
	tableParticipants = "game_participants"
	tableInjections   = "cash_injections"
	tableLeaderboard  = "leaderboard"
	tableProfiles     = "profiles"
	tableSections     = "sections"

	// procApplyInjection is the atomic insert-and-update procedure;
	// backends without it force the manual fallback path.
	procApplyInjection = "apply_cash_injection"
)

// Backend adapts the generic remote.Store interface to the game's tables.
// Decimal columns travel as strings so every store implementation round-trips
// them exactly.
type Backend struct {
	store remote.Store
}

func NewBackend(store remote.Store) *Backend {
	return &Backend{store: store}
}

// Participant fetches the authoritative snapshot for one (game, user) pair.
// ok is false when no row exists yet.
func (b *Backend) Participant(ctx context.Context, gameID, userID string) (Participant, bool, error) {
	rows, err := b.store.Select(ctx, tableParticipants, nil, remote.Filter{
		"game_id": gameID,
		"user_id": userID,
	})
	if err != nil {
		return Participant{}, false, fmt.Errorf("fetch participant: %w", err)
	}
	if len(rows) == 0 {
		return Participant{}, false, nil
	}
	p, err := participantFromRow(rows[0])
	if err != nil {
		return Participant{}, false, err
	}
	return p, true, nil
}

// SaveParticipant upserts the full snapshot keyed by (game_id, user_id).
func (b *Backend) SaveParticipant(ctx context.Context, p Participant) error {
	portfolio, err := marshalHoldings(p.Holdings)
	if err != nil {
		return err
	}
	row := remote.Row{
		"game_id":             p.GameID,
		"user_id":             p.UserID,
		"cash":                p.Cash.String(),
		"total_value":         p.TotalValue.String(),
		"total_cash_injected": p.TotalCashInjected.String(),
		"portfolio":           portfolio,
		"updated_at":          time.Now().UTC().Format(time.RFC3339),
	}
	if err := b.store.Upsert(ctx, tableParticipants, row, []string{"game_id", "user_id"}); err != nil {
		return fmt.Errorf("save participant: %w", err)
	}
	return nil
}

// InjectionExists reports whether the idempotency marker for one
// (game, user, round) key is already present.
func (b *Backend) InjectionExists(ctx context.Context, gameID, userID string, round int) (bool, error) {
	rows, err := b.store.Select(ctx, tableInjections, []string{"round_number"}, remote.Filter{
		"game_id":      gameID,
		"user_id":      userID,
		"round_number": round,
	})
	if err != nil {
		return false, fmt.Errorf("check injection: %w", err)
	}
	return len(rows) > 0, nil
}

// InsertInjection records one injection via upsert semantics, so a duplicate
// insert is a no-op rather than an error.
func (b *Backend) InsertInjection(ctx context.Context, rec InjectionRecord) error {
	row := remote.Row{
		"id":           uuid.NewString(),
		"game_id":      rec.GameID,
		"user_id":      rec.UserID,
		"round_number": rec.Round,
		"amount":       rec.Amount.String(),
	}
	if err := b.store.Upsert(ctx, tableInjections, row, []string{"game_id", "user_id", "round_number"}); err != nil {
		return fmt.Errorf("insert injection: %w", err)
	}
	return nil
}

// SumInjections recomputes the total injected amount from the ledger rows.
// This is the source of truth the denormalized participant column caches.
func (b *Backend) SumInjections(ctx context.Context, gameID, userID string) (decimal.Decimal, error) {
	rows, err := b.store.Select(ctx, tableInjections, []string{"amount"}, remote.Filter{
		"game_id": gameID,
		"user_id": userID,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum injections: %w", err)
	}
	total := decimal.Zero
	for _, row := range rows {
		amount, ok := remote.DecimalField(row, "amount")
		if !ok {
			continue
		}
		total = total.Add(amount)
	}
	return total, nil
}

// ApplyInjectionAtomic invokes the remote procedure that records the
// injection and credits the participant as one unit.
func (b *Backend) ApplyInjectionAtomic(ctx context.Context, rec InjectionRecord) error {
	_, err := b.store.RPC(ctx, procApplyInjection, map[string]any{
		"p_game_id":      rec.GameID,
		"p_user_id":      rec.UserID,
		"p_round_number": rec.Round,
		"p_amount":       rec.Amount.String(),
	})
	return err
}

// LeaderboardEntry is one ranked row for display.
type LeaderboardEntry struct {
	Rank       int             `json:"rank"`
	UserID     string          `json:"user_id"`
	Name       string          `json:"name"`
	TotalValue decimal.Decimal `json:"total_value"`
}

// Leaderboard ranks a game's participants by mirrored total value,
// descending. Display names come from profiles when present.
func (b *Backend) Leaderboard(ctx context.Context, gameID string, limit int) ([]LeaderboardEntry, error) {
	rows, err := b.store.Select(ctx, tableParticipants, nil, remote.Filter{"game_id": gameID})
	if err != nil {
		return nil, fmt.Errorf("fetch leaderboard: %w", err)
	}
	entries := make([]LeaderboardEntry, 0, len(rows))
	for _, row := range rows {
		total, _ := remote.DecimalField(row, "total_value")
		entries = append(entries, LeaderboardEntry{
			UserID:     remote.StringField(row, "user_id"),
			TotalValue: total,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].TotalValue.GreaterThan(entries[j].TotalValue)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
		entries[i].Name = b.profileName(ctx, entries[i].UserID)
	}
	return entries, nil
}

func (b *Backend) profileName(ctx context.Context, userID string) string {
	rows, err := b.store.Select(ctx, tableProfiles, []string{"name"}, remote.Filter{"id": userID})
	if err != nil || len(rows) == 0 {
		return ""
	}
	return remote.StringField(rows[0], "name")
}

// Section is one class section row, used for instructor-hosted games.
type Section struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Day  string `json:"day"`
	Time string `json:"time"`
}

func (b *Backend) Sections(ctx context.Context) ([]Section, error) {
	rows, err := b.store.Select(ctx, tableSections, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch sections: %w", err)
	}
	out := make([]Section, 0, len(rows))
	for _, row := range rows {
		out = append(out, Section{
			ID:   remote.StringField(row, "id"),
			Name: remote.StringField(row, "name"),
			Day:  remote.StringField(row, "day"),
			Time: remote.StringField(row, "time"),
		})
	}
	return out, nil
}

func participantFromRow(row remote.Row) (Participant, error) {
	p := Participant{
		GameID: remote.StringField(row, "game_id"),
		UserID: remote.StringField(row, "user_id"),
	}
	p.Cash, _ = remote.DecimalField(row, "cash")
	p.TotalValue, _ = remote.DecimalField(row, "total_value")
	p.TotalCashInjected, p.TotalInjectedValid = remote.DecimalField(row, "total_cash_injected")

	holdings, err := unmarshalHoldings(row["portfolio"])
	if err != nil {
		return Participant{}, err
	}
	p.Holdings = holdings
	return p, nil
}

func marshalHoldings(holdings map[string]decimal.Decimal) (string, error) {
	flat := make(map[string]string, len(holdings))
	for asset, qty := range holdings {
		flat[asset] = qty.String()
	}
	raw, err := json.Marshal(flat)
	if err != nil {
		return "", fmt.Errorf("encode portfolio: %w", err)
	}
	return string(raw), nil
}

func unmarshalHoldings(v any) (map[string]decimal.Decimal, error) {
	out := map[string]decimal.Decimal{}
	if v == nil {
		return out, nil
	}
	var raw []byte
	switch t := v.(type) {
	case string:
		raw = []byte(t)
	case []byte:
		raw = t
	case map[string]any:
		// Backends that decode JSON columns hand back a map directly.
		for asset, qv := range t {
			if d, ok := remote.DecimalField(remote.Row{"q": qv}, "q"); ok {
				out[asset] = d
			}
		}
		return out, nil
	default:
		return out, nil
	}
	if len(raw) == 0 {
		return out, nil
	}
	var flat map[string]string
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("decode portfolio: %w", err)
	}
	for asset, qs := range flat {
		d, err := decimal.NewFromString(qs)
		if err != nil {
			return nil, fmt.Errorf("decode portfolio quantity %q: %w", asset, err)
		}
		out[asset] = d
	}
	return out, nil
}
