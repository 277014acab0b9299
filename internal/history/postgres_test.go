package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

type mockRows struct {
	data [][]any
	idx  int
	err  error
}

func (r *mockRows) Close()                                       {}
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error { return scanInto(r.data[r.idx-1], dest) }

func scanInto(row []any, dest []any) error {
	if len(dest) != len(row) {
		return fmt.Errorf("scan: %d columns, %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *int64:
			*d = v.(int64)
		case *string:
			*d = v.(string)
		case *bool:
			*d = v.(bool)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("scan: unsupported type %T", dest[i])
		}
	}
	return nil
}

type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	pingErr      error
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func (m *mockDB) Ping(context.Context) error { return m.pingErr }

func TestPostgresStore_Migrate(t *testing.T) {
	t.Parallel()

	var got string
	db := &mockDB{execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
		got = sql
		return pgconn.CommandTag{}, nil
	}}
	if err := NewPostgresStore(db).Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "CREATE TABLE IF NOT EXISTS conversation_turns") {
		t.Errorf("Migrate ran %q", got)
	}

	boom := errors.New("permission denied")
	db.execFunc = func(context.Context, string, ...any) (pgconn.CommandTag, error) {
		return pgconn.CommandTag{}, boom
	}
	if err := NewPostgresStore(db).Migrate(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Migrate err = %v, want %v", err, boom)
	}
}

func TestPostgresStore_Record(t *testing.T) {
	t.Parallel()

	var args []any
	db := &mockDB{queryRowFunc: func(_ context.Context, sql string, a ...any) pgx.Row {
		args = a
		return &mockRow{scanFunc: func(dest ...any) error {
			*dest[0].(*int64) = 42
			return nil
		}}
	}}
	now := time.Now()
	turn := &Turn{Input: "hello", Corrected: "hello", Reply: "hi", StartedAt: now, FinishedAt: now}
	if err := NewPostgresStore(db).Record(context.Background(), turn); err != nil {
		t.Fatal(err)
	}
	if turn.ID != 42 {
		t.Errorf("ID = %d, want 42", turn.ID)
	}
	if len(args) != 6 || args[0] != "hello" || args[2] != "hi" || args[3] != false {
		t.Errorf("insert args = %v", args)
	}
}

func TestPostgresStore_RecentIsOldestFirst(t *testing.T) {
	t.Parallel()

	now := time.Now()
	row := func(id int64, in string) []any {
		return []any{id, in, in, "reply", false, now, now}
	}
	var limit any
	db := &mockDB{queryFunc: func(_ context.Context, _ string, a ...any) (pgx.Rows, error) {
		limit = a[0]
		// ORDER BY id DESC
		return &mockRows{data: [][]any{row(3, "c"), row(2, "b")}}, nil
	}}
	got, err := NewPostgresStore(db).Recent(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if limit != 2 {
		t.Errorf("LIMIT arg = %v, want 2", limit)
	}
	if len(got) != 2 || got[0].ID != 2 || got[1].ID != 3 {
		t.Errorf("Recent = %+v, want ids [2 3]", got)
	}
}

func TestPostgresStore_RecentErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("conn reset")
	tests := []struct {
		name string
		db   *mockDB
	}{
		{"query", &mockDB{queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) { return nil, boom }}},
		{"rows", &mockDB{queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) { return &mockRows{err: boom}, nil }}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewPostgresStore(tt.db).Recent(context.Background(), 5); !errors.Is(err, boom) {
				t.Errorf("err = %v, want %v", err, boom)
			}
		})
	}

	if got, err := NewPostgresStore(&mockDB{}).Recent(context.Background(), 0); got != nil || err != nil {
		t.Errorf("Recent(0) = %v, %v; want nil, nil", got, err)
	}
}

func TestPostgresStore_Get(t *testing.T) {
	t.Parallel()

	if _, err := NewPostgresStore(&mockDB{}).Get(context.Background(), 7); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get unknown err = %v, want ErrNotFound", err)
	}

	now := time.Now()
	db := &mockDB{queryRowFunc: func(context.Context, string, ...any) pgx.Row {
		return &mockRow{scanFunc: func(dest ...any) error {
			return scanInto([]any{int64(7), "hi", "hi", "hello", true, now, now}, dest)
		}}
	}}
	got, err := NewPostgresStore(db).Get(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != 7 || !got.Failed || got.Reply != "hello" {
		t.Errorf("Get = %+v", got)
	}
}

func TestPostgresStore_Ping(t *testing.T) {
	t.Parallel()

	boom := errors.New("refused")
	if err := NewPostgresStore(&mockDB{pingErr: boom}).Ping(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Ping err = %v, want %v", err, boom)
	}
	NewPostgresStore(&mockDB{}).Close()
}
