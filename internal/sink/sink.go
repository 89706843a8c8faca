package sink

import (
	"context"
)

// Sink is a relational store that accepts event rows inside transactions
type Sink interface {
	Begin(ctx context.Context) (Tx, error)
	EnsureTable(ctx context.Context, table *Table) error
	MaxParameters() int
	Close() error
}

// Tx is one sink transaction. Rows inserted through it become visible only
// after Commit.
type Tx interface {
	Insert(ctx context.Context, table *Table, rows [][]any) error
	Commit() error
	Rollback() error
}
