// Package api exposes the class-facing HTTP surface: leaderboards,
// participant snapshots, injection history and sections. It is a thin
// facade over the remote store so instructors can host games without
// exposing the database directly.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"odyssey/internal/auth"
	"odyssey/internal/config"
	"odyssey/internal/game"
	"odyssey/internal/remote"
)

type contextKey string

const userContextKey contextKey = "user"

type UserContext struct {
	UserID string
	Email  string
}

// Verifier checks bearer tokens; satisfied by *auth.SupabaseClient and by
// test stubs.
type Verifier interface {
	VerifyAccessToken(ctx context.Context, accessToken string) (auth.SupabaseUser, error)
}

type Server struct {
	cfg     config.APIConfig
	log     *slog.Logger
	auth    Verifier
	backend *game.Backend
	store   remote.Store
	mux     *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, verifier Verifier, store remote.Store) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		log:     logger,
		auth:    verifier,
		backend: game.NewBackend(store),
		store:   store,
		mux:     chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/sections", s.handleSections)
		r.Get("/games/{gameID}/leaderboard", s.handleLeaderboard)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/games/{gameID}/participants/me", s.handleParticipant)
			r.Put("/games/{gameID}/participants/me", s.handleSaveParticipant)
			r.Get("/games/{gameID}/injections/me", s.handleInjections)
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := s.auth.VerifyAccessToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, fmt.Sprintf("invalid token: %v", err))
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, UserContext{
			UserID: user.ID,
			Email:  user.Email,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (UserContext, error) {
	user, ok := ctx.Value(userContextKey).(UserContext)
	if !ok || user.UserID == "" {
		return UserContext{}, errors.New("missing auth context")
	}
	return user, nil
}

func (s *Server) handleSections(w http.ResponseWriter, r *http.Request) {
	sections, err := s.backend.Sections(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sections": sections})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	entries, err := s.backend.Leaderboard(r.Context(), gameID, s.cfg.LeaderboardLimit)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"game_id": gameID, "rows": entries})
}

func (s *Server) handleParticipant(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	gameID := chi.URLParam(r, "gameID")
	participant, ok, err := s.backend.Participant(r.Context(), gameID, user.UserID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "participant not found")
		return
	}
	writeJSON(w, http.StatusOK, participantPayload(participant))
}

func (s *Server) handleSaveParticipant(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Cash              string            `json:"cash"`
		TotalValue        string            `json:"total_value"`
		TotalCashInjected string            `json:"total_cash_injected"`
		Holdings          map[string]string `json:"holdings"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	participant := game.Participant{
		GameID:             chi.URLParam(r, "gameID"),
		UserID:             user.UserID,
		TotalInjectedValid: true,
		Holdings:           map[string]decimal.Decimal{},
	}
	if participant.Cash, err = decimal.NewFromString(in.Cash); err != nil {
		writeError(w, http.StatusBadRequest, "invalid cash")
		return
	}
	if participant.TotalValue, err = decimal.NewFromString(in.TotalValue); err != nil {
		writeError(w, http.StatusBadRequest, "invalid total_value")
		return
	}
	if participant.TotalCashInjected, err = decimal.NewFromString(in.TotalCashInjected); err != nil {
		writeError(w, http.StatusBadRequest, "invalid total_cash_injected")
		return
	}
	for asset, qty := range in.Holdings {
		d, err := decimal.NewFromString(qty)
		if err != nil || d.Sign() < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid quantity for %q", asset))
			return
		}
		if d.Sign() > 0 {
			participant.Holdings[asset] = d
		}
	}
	if participant.Cash.Sign() < 0 {
		writeError(w, http.StatusBadRequest, "cash must not be negative")
		return
	}
	if err := s.backend.SaveParticipant(r.Context(), participant); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, participantPayload(participant))
}

func (s *Server) handleInjections(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	gameID := chi.URLParam(r, "gameID")
	rows, err := s.store.Select(r.Context(), "cash_injections", nil, remote.Filter{
		"game_id": gameID,
		"user_id": user.UserID,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	type injection struct {
		Round  int    `json:"round_number"`
		Amount string `json:"amount"`
	}
	out := make([]injection, 0, len(rows))
	total := decimal.Zero
	for _, row := range rows {
		round, _ := remote.IntField(row, "round_number")
		amount, _ := remote.DecimalField(row, "amount")
		total = total.Add(amount)
		out = append(out, injection{Round: round, Amount: amount.String()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"game_id":    gameID,
		"injections": out,
		"total":      total.String(),
	})
}

func participantPayload(p game.Participant) map[string]any {
	holdings := make(map[string]string, len(p.Holdings))
	for asset, qty := range p.Holdings {
		holdings[asset] = qty.String()
	}
	return map[string]any{
		"game_id":             p.GameID,
		"user_id":             p.UserID,
		"cash":                p.Cash.String(),
		"total_value":         p.TotalValue.String(),
		"total_cash_injected": p.TotalCashInjected.String(),
		"holdings":            holdings,
	}
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
