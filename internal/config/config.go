package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type APIConfig struct {
	Addr             string
	DatabaseURL      string
	SupabaseURL      string
	SupabaseAnonKey  string
	LeaderboardLimit int
}

type CLIConfig struct {
	SupabaseURL     string
	SupabaseAnonKey string
	// DatabaseURL, when set, makes the CLI talk to PostgreSQL directly
	// instead of going through the hosted PostgREST surface.
	DatabaseURL string
	GameID      string
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("ODYSSEY_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:             addr,
		DatabaseURL:      strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SupabaseURL:      strings.TrimRight(strings.TrimSpace(os.Getenv("SUPABASE_URL")), "/"),
		SupabaseAnonKey:  strings.TrimSpace(os.Getenv("SUPABASE_ANON_KEY")),
		LeaderboardLimit: envIntDefault("ODYSSEY_LEADERBOARD_LIMIT", 50),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SupabaseURL == "" {
		return cfg, fmt.Errorf("SUPABASE_URL is required")
	}
	if cfg.SupabaseAnonKey == "" {
		return cfg, fmt.Errorf("SUPABASE_ANON_KEY is required")
	}
	return cfg, nil
}

func LoadCLIFromEnv() (CLIConfig, error) {
	cfg := CLIConfig{
		SupabaseURL:     strings.TrimRight(strings.TrimSpace(os.Getenv("SUPABASE_URL")), "/"),
		SupabaseAnonKey: strings.TrimSpace(os.Getenv("SUPABASE_ANON_KEY")),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		GameID:          envDefault("ODYSSEY_GAME_ID", "classroom"),
	}
	if cfg.DatabaseURL == "" && cfg.SupabaseURL == "" {
		return cfg, fmt.Errorf("one of SUPABASE_URL or DATABASE_URL is required")
	}
	if cfg.SupabaseURL != "" && cfg.SupabaseAnonKey == "" {
		return cfg, fmt.Errorf("SUPABASE_ANON_KEY is required with SUPABASE_URL")
	}
	return cfg, nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
