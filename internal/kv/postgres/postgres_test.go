package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func TestStore_Migrate(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
			if !strings.Contains(sql, "CREATE TABLE IF NOT EXISTS kv") {
				t.Errorf("Migrate SQL = %s", sql)
			}
			return pgconn.CommandTag{}, nil
		}}
		if err := NewStore(db).Migrate(context.Background()); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
	})

	t.Run("error", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, errors.New("connection refused")
		}}
		err := NewStore(db).Migrate(context.Background())
		if err == nil || !strings.Contains(err.Error(), "postgres: migrate:") {
			t.Fatalf("Migrate = %v, want prefixed error", err)
		}
	})
}

func TestStore_Get(t *testing.T) {
	t.Parallel()

	t.Run("absent", func(t *testing.T) {
		t.Parallel()
		_, ok, err := NewStore(&mockDB{}).Get(context.Background(), "hafiz.progress")
		if err != nil || ok {
			t.Fatalf("Get = ok=%v err=%v, want absent", ok, err)
		}
	})

	t.Run("present", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{queryRowFunc: func(_ context.Context, _ string, args ...any) pgx.Row {
			if args[0] != "hafiz.progress" {
				t.Errorf("key arg = %v", args[0])
			}
			return &mockRow{scanFunc: func(dest ...any) error {
				*dest[0].(*string) = `{"112":{"1":true}}`
				return nil
			}}
		}}
		v, ok, err := NewStore(db).Get(context.Background(), "hafiz.progress")
		if err != nil || !ok || v != `{"112":{"1":true}}` {
			t.Fatalf("Get = %q, %v, %v", v, ok, err)
		}
	})

	t.Run("backend error", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{queryRowFunc: func(context.Context, string, ...any) pgx.Row {
			return &mockRow{scanFunc: func(...any) error { return errors.New("timeout") }}
		}}
		if _, _, err := NewStore(db).Get(context.Background(), "k"); err == nil {
			t.Fatal("Get: expected error")
		}
	})
}

func TestStore_SetNotifies(t *testing.T) {
	t.Parallel()

	var gotSQL string
	var gotArgs []any
	db := &mockDB{execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		gotSQL, gotArgs = sql, args
		return pgconn.CommandTag{}, nil
	}}
	if err := NewStore(db).Set(context.Background(), "hafiz.practice_log", `["2026-10-18"]`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !strings.Contains(gotSQL, "ON CONFLICT (key)") || !strings.Contains(gotSQL, "pg_notify") {
		t.Errorf("Set SQL = %s", gotSQL)
	}
	if len(gotArgs) != 3 || gotArgs[0] != "hafiz.practice_log" || gotArgs[2] != Channel {
		t.Errorf("Set args = %v", gotArgs)
	}
}

func TestStore_Integration(t *testing.T) {
	dsn := os.Getenv("HAFIZ_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HAFIZ_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	key := "hafiz_test." + t.Name()
	if err := s.Set(ctx, key, "v1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok, err := s.Get(ctx, key); err != nil || !ok || v != "v1" {
		t.Fatalf("Get = %q, %v, %v", v, ok, err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
