package remote

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
)

func TestSelectFiltersByEquality(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rows := []Row{
		{"game_id": "g1", "user_id": "u1", "round_number": 0},
		{"game_id": "g1", "user_id": "u1", "round_number": 1},
		{"game_id": "g1", "user_id": "u2", "round_number": 0},
	}
	for _, row := range rows {
		if err := s.Insert(ctx, "cash_injections", row); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, err := s.Select(ctx, "cash_injections", nil, Filter{"game_id": "g1", "user_id": "u1"})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("rows = %d, want 2", len(got))
	}

	// Numeric filters match by value even when representations differ.
	got, err = s.Select(ctx, "cash_injections", nil, Filter{"round_number": "1"})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("rows = %d, want 1 for string-typed numeric filter", len(got))
	}
}

func TestSelectProjectsColumns(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Insert(ctx, "t", Row{"a": 1, "b": 2}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := s.Select(ctx, "t", []string{"a"}, nil)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if _, ok := got[0]["b"]; ok {
		t.Error("unrequested column returned")
	}
}

func TestUpsertMergesOnConflict(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Upsert(ctx, "t", Row{"k": "x", "v": "1", "extra": "keep"}, []string{"k"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Upsert(ctx, "t", Row{"k": "x", "v": "2"}, []string{"k"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Upsert(ctx, "t", Row{"k": "y", "v": "3"}, []string{"k"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rows := s.Rows("t")
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	for _, row := range rows {
		if row["k"] == "x" {
			if row["v"] != "2" {
				t.Errorf("v = %v, want updated 2", row["v"])
			}
			if row["extra"] != "keep" {
				t.Errorf("extra = %v, want untouched", row["extra"])
			}
		}
	}
}

func TestUpdateAppliesPatchToMatches(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Insert(ctx, "t", Row{"k": "a", "v": "old"})
	_ = s.Insert(ctx, "t", Row{"k": "b", "v": "old"})

	if err := s.Update(ctx, "t", Row{"v": "new"}, Filter{"k": "a"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	for _, row := range s.Rows("t") {
		want := "old"
		if row["k"] == "a" {
			want = "new"
		}
		if row["v"] != want {
			t.Errorf("k=%v v=%v, want %s", row["k"], row["v"], want)
		}
	}
}

func TestRPCUnregisteredProcedure(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.RPC(context.Background(), "nope", nil); !errors.Is(err, ErrRPCUnsupported) {
		t.Fatalf("err = %v, want ErrRPCUnsupported", err)
	}
}

func TestRPCRegisteredProcedure(t *testing.T) {
	s := NewMemoryStore()
	s.RegisterProcedure("echo", func(_ *MemoryStore, params map[string]any) (Row, error) {
		return Row{"got": params["in"]}, nil
	})
	row, err := s.RPC(context.Background(), "echo", map[string]any{"in": "x"})
	if err != nil {
		t.Fatalf("rpc: %v", err)
	}
	if row["got"] != "x" {
		t.Errorf("got = %v, want x", row["got"])
	}
}

func TestFailureHook(t *testing.T) {
	s := NewMemoryStore()
	s.FailureHook = func(op, target string) error {
		if op == "insert" && target == "t" {
			return fmt.Errorf("injected fault")
		}
		return nil
	}
	if err := s.Insert(context.Background(), "t", Row{"k": "v"}); err == nil {
		t.Fatal("insert should fail via hook")
	}
	if _, err := s.Select(context.Background(), "t", nil, nil); err != nil {
		t.Fatalf("select should pass: %v", err)
	}
}

func TestDecimalFieldRepresentations(t *testing.T) {
	want := decimal.RequireFromString("5500.25")
	row := Row{
		"as_decimal": want,
		"as_string":  "5500.25",
		"as_float":   5500.25,
		"as_null":    nil,
	}
	for _, key := range []string{"as_decimal", "as_string", "as_float"} {
		got, ok := DecimalField(row, key)
		if !ok || !got.Equal(want) {
			t.Errorf("%s = %s (ok=%v), want %s", key, got, ok, want)
		}
	}
	if _, ok := DecimalField(row, "as_null"); ok {
		t.Error("null column should report ok=false")
	}
	if _, ok := DecimalField(row, "absent"); ok {
		t.Error("absent column should report ok=false")
	}
}

func TestIntField(t *testing.T) {
	row := Row{"n": "7", "f": "7.5"}
	if n, ok := IntField(row, "n"); !ok || n != 7 {
		t.Errorf("n = %d (ok=%v), want 7", n, ok)
	}
	if _, ok := IntField(row, "f"); ok {
		t.Error("fractional value should not read as int")
	}
}
