package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Procedure is an atomic remote procedure executed server-side as one
// serializable transaction.
type Procedure func(ctx context.Context, tx pgx.Tx, params map[string]any) (Row, error)

// PostgresStore implements Store directly against PostgreSQL. It is used by
// the odyssey-api service and by deployments that bypass PostgREST. Named
// procedures registered at construction back the RPC call.
type PostgresStore struct {
	pool  *pgxpool.Pool
	procs map[string]Procedure
}

func NewPostgresStore(pool *pgxpool.Pool, procs map[string]Procedure) *PostgresStore {
	if procs == nil {
		procs = map[string]Procedure{}
	}
	return &PostgresStore{pool: pool, procs: procs}
}

func (s *PostgresStore) Select(ctx context.Context, table string, columns []string, filter Filter) ([]Row, error) {
	if err := validIdent(table); err != nil {
		return nil, err
	}
	cols := "*"
	if len(columns) > 0 {
		for _, c := range columns {
			if err := validIdent(c); err != nil {
				return nil, err
			}
		}
		cols = strings.Join(columns, ", ")
	}
	where, args, err := buildWhere(filter)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT %s FROM %s%s", cols, table, where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	fields := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(Row, len(fields))
		for i, fd := range fields {
			row[fd.Name] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Insert(ctx context.Context, table string, row Row) error {
	if err := validIdent(table); err != nil {
		return err
	}
	cols, placeholders, args, err := buildInsert(row)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, cols, placeholders), args...)
	return err
}

func (s *PostgresStore) Update(ctx context.Context, table string, patch Row, filter Filter) error {
	if err := validIdent(table); err != nil {
		return err
	}
	if len(patch) == 0 {
		return fmt.Errorf("empty patch")
	}
	keys := sortedKeys(patch)
	sets := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)+len(filter))
	for _, k := range keys {
		if err := validIdent(k); err != nil {
			return err
		}
		args = append(args, patch[k])
		sets = append(sets, fmt.Sprintf("%s = $%d", k, len(args)))
	}
	where, whereArgs, err := buildWhereFrom(filter, len(args))
	if err != nil {
		return err
	}
	args = append(args, whereArgs...)
	_, err = s.pool.Exec(ctx, fmt.Sprintf("UPDATE %s SET %s%s", table, strings.Join(sets, ", "), where), args...)
	return err
}

func (s *PostgresStore) Upsert(ctx context.Context, table string, row Row, conflictCols []string) error {
	if err := validIdent(table); err != nil {
		return err
	}
	cols, placeholders, args, err := buildInsert(row)
	if err != nil {
		return err
	}
	if len(conflictCols) == 0 {
		_, err = s.pool.Exec(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, cols, placeholders), args...)
		return err
	}
	for _, c := range conflictCols {
		if err := validIdent(c); err != nil {
			return err
		}
	}
	conflictSet := map[string]bool{}
	for _, c := range conflictCols {
		conflictSet[c] = true
	}
	var updates []string
	for _, k := range sortedKeys(row) {
		if conflictSet[k] {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", k, k))
	}
	action := "DO NOTHING"
	if len(updates) > 0 {
		action = "DO UPDATE SET " + strings.Join(updates, ", ")
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		table, cols, placeholders, strings.Join(conflictCols, ", "), action,
	), args...)
	return err
}

// RPC runs a registered procedure inside a serializable transaction,
// retrying on serialization conflicts.
func (s *PostgresStore) RPC(ctx context.Context, name string, params map[string]any) (Row, error) {
	proc, ok := s.procs[name]
	if !ok {
		return nil, ErrRPCUnsupported
	}

	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return nil, err
		}
		var out Row
		err = func() error {
			defer tx.Rollback(ctx)
			out, err = proc(ctx, tx, params)
			if err != nil {
				return err
			}
			return tx.Commit(ctx)
		}()
		if err == nil {
			return out, nil
		}
		if !isSerializationError(err) {
			return nil, err
		}
		if attempt == maxAttempts-1 {
			return nil, err
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return nil, err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return nil, fmt.Errorf("rpc %s: retries exhausted", name)
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func buildWhere(filter Filter) (string, []any, error) {
	return buildWhereFrom(filter, 0)
}

func buildWhereFrom(filter Filter, argOffset int) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}
	keys := sortedKeys(Row(filter))
	preds := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		if err := validIdent(k); err != nil {
			return "", nil, err
		}
		args = append(args, filter[k])
		preds = append(preds, fmt.Sprintf("%s = $%d", k, argOffset+len(args)))
	}
	return " WHERE " + strings.Join(preds, " AND "), args, nil
}

func buildInsert(row Row) (cols, placeholders string, args []any, err error) {
	if len(row) == 0 {
		return "", "", nil, fmt.Errorf("empty row")
	}
	keys := sortedKeys(row)
	ph := make([]string, 0, len(keys))
	for i, k := range keys {
		if err := validIdent(k); err != nil {
			return "", "", nil, err
		}
		args = append(args, row[k])
		ph = append(ph, fmt.Sprintf("$%d", i+1))
	}
	return strings.Join(keys, ", "), strings.Join(ph, ", "), args, nil
}

func sortedKeys(row Row) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// normalizeValue converts pgx scan values into the representations
// DecimalField and friends understand.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case pgtype.Numeric:
		if !t.Valid || t.NaN || t.Int == nil {
			return nil
		}
		return decimal.NewFromBigInt(t.Int, t.Exp)
	case [16]byte:
		return uuid.UUID(t).String()
	default:
		return v
	}
}
