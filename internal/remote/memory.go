package remote

import (
	"context"
	"sync"
)

// MemoryProcedure backs RPC calls on the in-memory store.
type MemoryProcedure func(s *MemoryStore, params map[string]any) (Row, error)

// MemoryStore implements Store with in-memory tables. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string][]Row
	procs  map[string]MemoryProcedure

	// FailureHook, when set, is consulted before every operation with the
	// operation name ("select", "insert", "update", "upsert", "rpc") and
	// target table or procedure; a non-nil return fails the call. Tests use
	// it to simulate network faults.
	FailureHook func(op, target string) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[string][]Row),
		procs:  make(map[string]MemoryProcedure),
	}
}

// RegisterProcedure makes a named procedure available through RPC. Tests
// leave procedures unregistered to exercise the manual fallback path.
func (s *MemoryStore) RegisterProcedure(name string, proc MemoryProcedure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procs[name] = proc
}

func (s *MemoryStore) fail(op, target string) error {
	if s.FailureHook == nil {
		return nil
	}
	return s.FailureHook(op, target)
}

func (s *MemoryStore) Select(_ context.Context, table string, columns []string, filter Filter) ([]Row, error) {
	if err := s.fail("select", table); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Row
	for _, row := range s.tables[table] {
		if !matches(row, filter) {
			continue
		}
		out = append(out, projectRow(row, columns))
	}
	return out, nil
}

func (s *MemoryStore) Insert(_ context.Context, table string, row Row) error {
	if err := s.fail("insert", table); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table] = append(s.tables[table], cloneRow(row))
	return nil
}

func (s *MemoryStore) Update(_ context.Context, table string, patch Row, filter Filter) error {
	if err := s.fail("update", table); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.tables[table] {
		if matches(row, filter) {
			for k, v := range patch {
				row[k] = v
			}
		}
	}
	return nil
}

func (s *MemoryStore) Upsert(_ context.Context, table string, row Row, conflictCols []string) error {
	if err := s.fail("upsert", table); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(conflictCols) > 0 {
		key := Filter{}
		for _, c := range conflictCols {
			key[c] = row[c]
		}
		for _, existing := range s.tables[table] {
			if matches(existing, key) {
				for k, v := range row {
					existing[k] = v
				}
				return nil
			}
		}
	}
	s.tables[table] = append(s.tables[table], cloneRow(row))
	return nil
}

func (s *MemoryStore) RPC(_ context.Context, name string, params map[string]any) (Row, error) {
	if err := s.fail("rpc", name); err != nil {
		return nil, err
	}
	s.mu.RLock()
	proc, ok := s.procs[name]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrRPCUnsupported
	}
	return proc(s, params)
}

// Rows returns a copy of every row in a table, for test assertions.
func (s *MemoryStore) Rows(table string) []Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Row, 0, len(s.tables[table]))
	for _, row := range s.tables[table] {
		out = append(out, cloneRow(row))
	}
	return out
}

// MutateLocked runs fn while holding the store lock. Procedures use it to
// apply multi-table changes as one unit.
func (s *MemoryStore) MutateLocked(fn func(tables map[string][]Row) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.tables)
}

func cloneRow(row Row) Row {
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func projectRow(row Row, columns []string) Row {
	if len(columns) == 0 {
		return cloneRow(row)
	}
	out := make(Row, len(columns))
	for _, c := range columns {
		if v, ok := row[c]; ok {
			out[c] = v
		}
	}
	return out
}
