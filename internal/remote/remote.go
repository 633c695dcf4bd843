// Package remote defines the generic persistence interface the game core
// talks to. Implementations include Supabase PostgREST over HTTP, direct
// PostgreSQL via pgx, and an in-memory fake for testing.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/shopspring/decimal"
)

// ErrRPCUnsupported reports that the backing service does not expose the
// named procedure. Callers are expected to fall back to manual steps.
var ErrRPCUnsupported = errors.New("remote procedure not available")

// Row is one record, keyed by column name. Numeric columns may arrive as
// decimal.Decimal, string, float64 or json.Number depending on the backend;
// use DecimalField to read them uniformly.
type Row map[string]any

// Filter is a set of equality predicates, column -> required value.
type Filter map[string]any

// Store is the generic query interface over the hosted relational service.
// All calls are network-bound and honor the passed context.
type Store interface {
	// Select returns the rows matching every filter predicate. A nil or
	// empty columns slice selects all columns. No ordering is guaranteed.
	Select(ctx context.Context, table string, columns []string, filter Filter) ([]Row, error)

	// Insert appends one row. A constraint violation is returned as an
	// error, not a panic.
	Insert(ctx context.Context, table string, row Row) error

	// Update applies patch to every row matching filter.
	Update(ctx context.Context, table string, patch Row, filter Filter) error

	// Upsert inserts row, or merges it into the existing row sharing the
	// same values for conflictCols.
	Upsert(ctx context.Context, table string, row Row, conflictCols []string) error

	// RPC invokes a named atomic procedure. Returns ErrRPCUnsupported when
	// the backend does not provide it.
	RPC(ctx context.Context, name string, params map[string]any) (Row, error)
}

var identRE = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func validIdent(name string) error {
	if !identRE.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

// DecimalField reads a numeric column from a row regardless of the wire
// representation the backend chose. Missing or null columns yield ok=false.
func DecimalField(row Row, key string) (decimal.Decimal, bool) {
	v, present := row[key]
	if !present || v == nil {
		return decimal.Zero, false
	}
	return asDecimal(v)
}

func asDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, true
	case string:
		d, err := decimal.NewFromString(t)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case float64:
		return decimal.NewFromFloat(t), true
	case int64:
		return decimal.NewFromInt(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}

// StringField reads a text column, tolerating backends that hand back
// non-string scalars.
func StringField(row Row, key string) string {
	v, present := row[key]
	if !present || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// IntField reads an integer column.
func IntField(row Row, key string) (int, bool) {
	d, ok := DecimalField(row, key)
	if !ok {
		return 0, false
	}
	if !d.IsInteger() {
		return 0, false
	}
	n, err := strconv.Atoi(d.String())
	if err != nil {
		return 0, false
	}
	return n, true
}

// matches reports whether row satisfies every predicate in filter, comparing
// numerics by value rather than representation.
func matches(row Row, filter Filter) bool {
	for col, want := range filter {
		got, present := row[col]
		if !present {
			return false
		}
		wd, wok := asDecimal(want)
		gd, gok := asDecimal(got)
		if wok && gok {
			if !wd.Equal(gd) {
				return false
			}
			continue
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
