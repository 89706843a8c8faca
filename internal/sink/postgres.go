package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/cyderes/event-archive-ingestion/internal/config"
)

// PostgresSink writes event rows through database/sql using either the
// lib/pq ("postgres") or pgx ("pgx") driver
type PostgresSink struct {
	db        *sql.DB
	maxParams int
}

// NewPostgresSink opens and pings the sink database
func NewPostgresSink(ctx context.Context, cfg config.SinkConfig) (*PostgresSink, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open sink database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sink database: %w", err)
	}

	return NewPostgresSinkWithDB(db, cfg.MaxParameters), nil
}

// NewPostgresSinkWithDB wraps an open database handle
func NewPostgresSinkWithDB(db *sql.DB, maxParams int) *PostgresSink {
	return &PostgresSink{db: db, maxParams: maxParams}
}

func (p *PostgresSink) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &postgresTx{tx: tx}, nil
}

// EnsureTable creates table if it does not exist. Existing tables are left
// untouched.
func (p *PostgresSink) EnsureTable(ctx context.Context, table *Table) error {
	if _, err := p.db.ExecContext(ctx, buildCreate(table)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table.Name, err)
	}
	return nil
}

func (p *PostgresSink) MaxParameters() int {
	return p.maxParams
}

func (p *PostgresSink) Close() error {
	return p.db.Close()
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) Insert(ctx context.Context, table *Table, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	args := make([]any, 0, len(rows)*len(table.Columns))
	for _, row := range rows {
		args = append(args, row...)
	}

	_, err := t.tx.ExecContext(ctx, buildInsert(table, len(rows)), args...)
	return err
}

func (t *postgresTx) Commit() error {
	return t.tx.Commit()
}

func (t *postgresTx) Rollback() error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

// buildInsert renders a multi-row insert. Rows whose key already exists are
// ignored, so replaying a committed batch is harmless.
func buildInsert(table *Table, nrows int) string {
	cols := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		cols[i] = pq.QuoteIdentifier(c.Name)
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pq.QuoteIdentifier(table.Name))
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES ")

	n := 1
	for r := 0; r < nrows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range table.Columns {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
		}
		b.WriteByte(')')
	}

	b.WriteString(" ON CONFLICT (")
	b.WriteString(pq.QuoteIdentifier(table.PrimaryKey))
	b.WriteString(") DO NOTHING")
	return b.String()
}

func buildCreate(table *Table) string {
	defs := make([]string, 0, len(table.Columns)+1)
	for _, c := range table.Columns {
		defs = append(defs, pq.QuoteIdentifier(c.Name)+" "+c.Type)
	}
	defs = append(defs, "PRIMARY KEY ("+pq.QuoteIdentifier(table.PrimaryKey)+")")

	return "CREATE TABLE IF NOT EXISTS " + pq.QuoteIdentifier(table.Name) + " (" + strings.Join(defs, ", ") + ")"
}
