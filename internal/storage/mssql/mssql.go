package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"catalogflat/internal/storage"
)

// maxParams keeps each INSERT under SQL Server's 2100 parameter limit.
const maxParams = 2000

// maxRowsPerInsert is SQL Server's limit for a table value constructor.
const maxRowsPerInsert = 1000

// Repo implements storage.Repository for Microsoft SQL Server. Columns are
// NVARCHAR(MAX); rows go out as multi-row INSERT statements inside one
// transaction per InsertRows call.
type Repo struct {
	db dbConn
}

func init() {
	storage.Register("mssql", New)
}

// New opens cfg.DSN with the "sqlserver" driver and pings it.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	raw.SetMaxOpenConns(8)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	return &Repo{db: &sqlDB{db: raw}}, nil
}

// Close releases the connection pool.
func (r *Repo) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// EnsureTables creates missing schemas and tables.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		stmts, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		for _, q := range stmts {
			if _, err := r.db.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("mssql: ensure table %s: %w", t.Name, err)
			}
		}
	}
	return nil
}

// InsertRows inserts rows in chunks that respect the parameter and row
// constructor limits. Either every chunk commits or none does.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("mssql: insert into %s: no columns", table)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, chunk := range chunkRows(rows, rowsPerStatement(len(columns))) {
		q, args := buildInsertSQL(table, columns, chunk)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("mssql: insert into %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

func rowsPerStatement(columns int) int {
	per := maxParams / columns
	if per > maxRowsPerInsert {
		per = maxRowsPerInsert
	}
	if per < 1 {
		per = 1
	}
	return per
}

func chunkRows(rows [][]string, size int) [][][]string {
	var out [][][]string
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[start:end])
	}
	return out
}

func msIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}

// tableIdent quotes a table name; unqualified names land in dbo.
func tableIdent(name string) (schema, quoted string) {
	schema, table := storage.SplitQualified(name)
	if schema == "" {
		schema = "dbo"
	}
	return schema, msIdent(schema) + "." + msIdent(table)
}

func sqlString(s string) string {
	return "N'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func buildCreateSQL(t storage.TableSpec) ([]string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return nil, fmt.Errorf("mssql: table name is empty")
	}
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("mssql: table %s has no columns", t.Name)
	}

	schema, quoted := tableIdent(t.Name)
	var stmts []string
	if schema != "dbo" {
		stmts = append(stmts, fmt.Sprintf(
			"IF SCHEMA_ID(%s) IS NULL EXEC(%s);",
			sqlString(schema), sqlString("CREATE SCHEMA "+msIdent(schema))))
	}

	defs := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		defs[i] = msIdent(c) + " NVARCHAR(MAX) NULL"
	}
	stmts = append(stmts, fmt.Sprintf(
		"IF OBJECT_ID(%s, N'U') IS NULL CREATE TABLE %s (%s);",
		sqlString(quoted), quoted, strings.Join(defs, ", ")))
	return stmts, nil
}

func buildInsertSQL(table string, columns []string, rows [][]string) (string, []any) {
	_, quoted := tableIdent(table)
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = msIdent(c)
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(quoted)
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j, v := range row {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteString("@p")
			b.WriteString(strconv.Itoa(p))
			p++
			args = append(args, v)
		}
		b.WriteByte(')')
	}
	return b.String(), args
}

// dbConn is the part of *sql.DB this package uses, so tests can fake it.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

var _ dbConn = (*sqlDB)(nil)
