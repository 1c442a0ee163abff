package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"pipeline/internal/tabular"
)

type fakeDB struct {
	loc    string
	tables []string
}

func (f *fakeDB) Location() string { return f.loc }
func (f *fakeDB) Exec(context.Context, string, ...any) error { return nil }
func (f *fakeDB) Tables(context.Context) ([]string, error) { return f.tables, nil }
func (f *fakeDB) CountRows(context.Context, string) (int64, error) { return 0, nil }
func (f *fakeDB) ExecScript(context.Context, string) error { return nil }
func (f *fakeDB) LoadParquet(context.Context, string, string) (int64, error) {
	return 0, nil
}
func (f *fakeDB) Query(context.Context, string, ...any) (*tabular.Frame, error) {
	return &tabular.Frame{}, nil
}

type fakeBackend struct {
	created []string
}

func (b *fakeBackend) Create(_ context.Context, cfg Config) (Database, error) {
	for _, c := range b.created {
		if c == cfg.Location {
			return nil, ErrExists
		}
	}
	b.created = append(b.created, cfg.Location)
	return &fakeDB{loc: cfg.Location}, nil
}

func (b *fakeBackend) Open(_ context.Context, cfg Config) (Database, error) {
	return &fakeDB{loc: cfg.Location}, nil
}

type failingBackend struct {
	err   error
	calls int
}

func (b *failingBackend) Create(context.Context, Config) (Database, error) {
	b.calls++
	return nil, b.err
}

func (b *failingBackend) Open(context.Context, Config) (Database, error) { return nil, b.err }

func TestRegister_PanicsOnDuplicate(t *testing.T) {
	Register("fake-dup", &fakeBackend{})

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate registration")
		}
	}()
	Register("fake-dup", &fakeBackend{})
}

func TestCreateVersioned_UsesTimestampedLocation(t *testing.T) {
	fb := &fakeBackend{}
	Register("fake-versioned", fb)

	ctx := context.Background()
	at := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	db, err := CreateVersioned(ctx, Config{Kind: "fake-versioned", Location: "warehouse"}, at)
	if err != nil {
		t.Fatalf("CreateVersioned: %v", err)
	}
	if db.Location() != "warehouse_20260506070809" {
		t.Fatalf("location=%q", db.Location())
	}

	for _, want := range []string{"warehouse_20260506070809_1", "warehouse_20260506070809_2"} {
		db, err := CreateVersioned(ctx, Config{Kind: "fake-versioned", Location: "warehouse"}, at)
		if err != nil {
			t.Fatalf("CreateVersioned in the same second: %v", err)
		}
		if db.Location() != want {
			t.Fatalf("location=%q want %q", db.Location(), want)
		}
	}
}

func TestCreateVersioned_GivesUpAfterMaxAttempts(t *testing.T) {
	fb := &fakeBackend{}
	Register("fake-exhausted", fb)

	ctx := context.Background()
	at := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	for i := 0; i < maxVersionAttempts; i++ {
		if _, err := CreateVersioned(ctx, Config{Kind: "fake-exhausted", Location: "w"}, at); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if _, err := CreateVersioned(ctx, Config{Kind: "fake-exhausted", Location: "w"}, at); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists once every counter is taken, got %v", err)
	}
}

func TestCreateVersioned_OtherErrorsAreNotRetried(t *testing.T) {
	fb := &failingBackend{err: errors.New("connection refused")}
	Register("fake-failing", fb)

	_, err := CreateVersioned(context.Background(), Config{Kind: "fake-failing", Location: "w"}, time.Now())
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected backend error, got %v", err)
	}
	if fb.calls != 1 {
		t.Fatalf("non-existence errors must not be retried: %d calls", fb.calls)
	}
}

func TestLookup_UnknownKind(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), Config{Kind: "nope"}); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if _, err := Create(context.Background(), Config{}); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind for empty kind, got %v", err)
	}
}

func TestVersionedLocation(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	tests := []struct {
		kind, in, want string
	}{
		{"sqlite", "db/warehouse.db", "db/warehouse_20260102020405.db"},
		{"sqlite", "db/warehouse", "db/warehouse_20260102020405"},
		{"postgres", "warehouse", "warehouse_20260102020405"},
		{"mssql", "warehouse.db", "warehouse.db_20260102020405"},
	}
	if got := versionedLocation("sqlite", "db/warehouse.db", at, 3); got != "db/warehouse_20260102020405_3.db" {
		t.Fatalf("versionedLocation with counter = %s", got)
	}
	for _, tt := range tests {
		if got := VersionedLocation(tt.kind, tt.in, at); got != tt.want {
			t.Fatalf("VersionedLocation(%s,%s)=%s want %s", tt.kind, tt.in, got, tt.want)
		}
	}
}

func TestHasTable(t *testing.T) {
	t.Parallel()

	db := &fakeDB{tables: []string{"a", "els"}}
	ok, err := HasTable(context.Background(), db, "els")
	if err != nil || !ok {
		t.Fatalf("HasTable(els)=%v,%v", ok, err)
	}
	ok, _ = HasTable(context.Background(), db, "missing")
	if ok {
		t.Fatalf("HasTable(missing)=true")
	}
}

var testDialect = Dialect{
	Name:        "test",
	Quote:       QuoteDouble,
	Placeholder: PlaceholderQuestion,
	Types:       map[tabular.Kind]string{tabular.KindString: "TEXT", tabular.KindInt64: "INTEGER"},
	MaxParams:   10,
}

func TestBuildCreateTable(t *testing.T) {
	t.Parallel()

	ddl, err := BuildCreateTable(testDialect, `we"ird`, []tabular.Column{
		{Name: "id", Kind: tabular.KindInt64},
		{Name: "amount", Kind: tabular.KindFloat64},
	})
	if err != nil {
		t.Fatalf("BuildCreateTable: %v", err)
	}
	// Float falls back to the string type when the dialect has no mapping.
	want := `CREATE TABLE "we""ird" ("id" INTEGER, "amount" TEXT)`
	if ddl != want {
		t.Fatalf("ddl=%q want %q", ddl, want)
	}

	if _, err := BuildCreateTable(testDialect, "t", nil); err == nil {
		t.Fatalf("expected error for no columns")
	}
	if _, err := BuildCreateTable(testDialect, " ", []tabular.Column{{Name: "a"}}); err == nil {
		t.Fatalf("expected error for empty table")
	}
}

func TestBuildInsert(t *testing.T) {
	t.Parallel()

	q, err := BuildInsert(testDialect, "t", []string{"a", "b"}, 3)
	if err != nil {
		t.Fatalf("BuildInsert: %v", err)
	}
	want := `INSERT INTO "t" ("a", "b") VALUES (?, ?), (?, ?), (?, ?)`
	if q != want {
		t.Fatalf("got %q want %q", q, want)
	}
	if _, err := BuildInsert(testDialect, "t", []string{"a"}, 0); err == nil {
		t.Fatalf("expected error for zero rows")
	}
}

func TestBatchRows(t *testing.T) {
	t.Parallel()

	if n := testDialect.BatchRows(3); n != 3 {
		t.Fatalf("BatchRows(3)=%d", n)
	}
	if n := testDialect.BatchRows(50); n != 1 {
		t.Fatalf("BatchRows(50)=%d", n)
	}
}

func TestFrameFromValues(t *testing.T) {
	t.Parallel()

	f := FrameFromValues(
		[]string{"i", "mixed", "s", "b", "empty"},
		[][]any{
			{int32(1), int64(2), []byte("x"), true, nil},
			{int64(3), 2.5, "y", nil, nil},
		},
	)

	kinds := []tabular.Kind{tabular.KindInt64, tabular.KindFloat64, tabular.KindString, tabular.KindBool, tabular.KindString}
	for i, k := range kinds {
		if f.Columns[i].Kind != k {
			t.Fatalf("column %s kind=%s want %s", f.Columns[i].Name, f.Columns[i].Kind, k)
		}
	}
	if f.Rows[0][0] != int64(1) || f.Rows[0][1] != float64(2) || f.Rows[0][2] != "x" {
		t.Fatalf("row0=%v", f.Rows[0])
	}
	if err := f.Validate(); err != nil {
		t.Fatalf("frame should validate: %v", err)
	}
}

func TestQuoteBracket(t *testing.T) {
	t.Parallel()

	if got := QuoteBracket("a]b"); got != "[a]]b]" {
		t.Fatalf("QuoteBracket=%q", got)
	}
	if !strings.HasPrefix(PlaceholderAt(3), "@p3") || PlaceholderDollar(2) != "$2" {
		t.Fatalf("placeholders wrong")
	}
}
