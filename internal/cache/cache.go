// Package cache is a small file-backed key-value store used as a last-resort
// display fallback when the remote store is unreachable. It is written
// opportunistically after successful synchronize and injection operations
// and is never treated as authoritative.
package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/shopspring/decimal"
)

type Cache struct {
	dir string
}

func New(dir string) *Cache {
	return &Cache{dir: dir}
}

func (c *Cache) path() string {
	return filepath.Join(c.dir, "player_cache.json")
}

func (c *Cache) load() (map[string]string, error) {
	raw, err := os.ReadFile(c.path())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return map[string]string{}, nil
	}
	var out map[string]string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Cache) save(entries map[string]string) error {
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(c.path(), raw, 0o600)
}

// PutDecimal stores one keyed decimal. Errors are returned so callers can
// log them, but callers treat cache writes as best-effort.
func (c *Cache) PutDecimal(key string, v decimal.Decimal) error {
	entries, err := c.load()
	if err != nil {
		return err
	}
	entries[key] = v.String()
	return c.save(entries)
}

func (c *Cache) GetDecimal(key string) (decimal.Decimal, bool) {
	entries, err := c.load()
	if err != nil {
		return decimal.Zero, false
	}
	raw, ok := entries[key]
	if !ok {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func (c *Cache) PutInt(key string, v int) error {
	entries, err := c.load()
	if err != nil {
		return err
	}
	entries[key] = strconv.Itoa(v)
	return c.save(entries)
}

func (c *Cache) GetInt(key string) (int, bool) {
	entries, err := c.load()
	if err != nil {
		return 0, false
	}
	raw, ok := entries[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Keys for the per-game fallback entries.
func TotalInjectedKey(gameID string) string { return "total_cash_injected_" + gameID }
func PlayerCashKey(gameID string) string    { return "player_cash_" + gameID }
func RoundKey(gameID string) string         { return "round_number_" + gameID }
