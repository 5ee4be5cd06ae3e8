package sqlite

import (
	"context"
	"testing"

	"catalogflat/internal/storage"
)

func openMemory(t *testing.T) *Repo {
	t.Helper()
	repo, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("storage.New(sqlite) err=%v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo.(*Repo)
}

func TestBuildCreateSQL(t *testing.T) {
	got, err := buildCreateSQL(storage.TableSpec{Name: "Catalog", Columns: []string{"Product Code", `Odd"Name`}})
	if err != nil {
		t.Fatalf("buildCreateSQL() err=%v", err)
	}
	want := `CREATE TABLE IF NOT EXISTS "Catalog" ("Product Code" TEXT, "Odd""Name" TEXT)`
	if got != want {
		t.Fatalf("buildCreateSQL()=%s\nwant %s", got, want)
	}

	if _, err := buildCreateSQL(storage.TableSpec{Name: " "}); err == nil {
		t.Fatalf("buildCreateSQL(empty name) err=nil")
	}
	if _, err := buildCreateSQL(storage.TableSpec{Name: "t"}); err == nil {
		t.Fatalf("buildCreateSQL(no columns) err=nil")
	}
}

func TestBuildInsertSQL(t *testing.T) {
	q, args := buildInsertSQL("main.Attributes", []string{"ProductID", "Name"}, [][]string{{"1", "Color"}, {"1", "Size"}})
	want := `INSERT INTO "main"."Attributes" ("ProductID", "Name") VALUES (?,?), (?,?)`
	if q != want {
		t.Fatalf("buildInsertSQL()=%s\nwant %s", q, want)
	}
	if len(args) != 4 || args[3] != "Size" {
		t.Fatalf("args=%v", args)
	}
}

// TestRepo_EnsureAndInsert runs the whole backend against an in-memory
// database, including a batch larger than one statement's parameter budget.
func TestRepo_EnsureAndInsert(t *testing.T) {
	ctx := context.Background()
	repo := openMemory(t)

	spec := storage.TableSpec{Name: "MediaLinks", Columns: []string{"ProductId", "MediaType", "URL"}}
	if err := repo.EnsureTables(ctx, []storage.TableSpec{spec}); err != nil {
		t.Fatalf("EnsureTables() err=%v", err)
	}
	// Idempotent.
	if err := repo.EnsureTables(ctx, []storage.TableSpec{spec}); err != nil {
		t.Fatalf("second EnsureTables() err=%v", err)
	}

	rows := make([][]string, 0, 700)
	for i := 0; i < 700; i++ {
		rows = append(rows, []string{"P1", "IMG", "u"})
	}
	rows[699][2] = "last"

	n, err := repo.InsertRows(ctx, spec.Name, spec.Columns, rows)
	if err != nil {
		t.Fatalf("InsertRows() err=%v", err)
	}
	if n != 700 {
		t.Fatalf("InsertRows() n=%d, want 700", n)
	}

	var count int
	if err := repo.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM "MediaLinks"`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 700 {
		t.Fatalf("COUNT(*)=%d, want 700", count)
	}
	var url string
	if err := repo.db.QueryRowContext(ctx, `SELECT URL FROM "MediaLinks" WHERE URL = 'last'`).Scan(&url); err != nil {
		t.Fatalf("last row not found: %v", err)
	}
}

func TestRepo_ThroughTableSink(t *testing.T) {
	ctx := context.Background()
	repo := openMemory(t)
	spec := storage.TableSpec{Name: "Catalog", Columns: []string{"Product Code", "Description"}}
	if err := repo.EnsureTables(ctx, []storage.TableSpec{spec}); err != nil {
		t.Fatal(err)
	}

	sink, err := storage.NewTableSink(ctx, repo, spec, 2)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range [][]string{{"1", "Pen"}, {"2", "Pencil"}, {"3", ""}} {
		if err := sink.WriteRow(r); err != nil {
			t.Fatalf("WriteRow() err=%v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() err=%v", err)
	}

	var count int
	if err := repo.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM "Catalog" WHERE "Description" = ''`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 || sink.Inserted() != 3 {
		t.Fatalf("empty descriptions=%d inserted=%d, want 1 and 3", count, sink.Inserted())
	}
}

func TestRepo_InsertIntoMissingTableFails(t *testing.T) {
	repo := openMemory(t)
	if _, err := repo.InsertRows(context.Background(), "nope", []string{"a"}, [][]string{{"x"}}); err == nil {
		t.Fatalf("InsertRows(missing table) err=nil")
	}
	if n, err := repo.InsertRows(context.Background(), "nope", []string{"a"}, nil); err != nil || n != 0 {
		t.Fatalf("InsertRows(no rows)=(%d,%v), want (0,nil)", n, err)
	}
}
