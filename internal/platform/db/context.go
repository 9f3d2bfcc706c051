package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const (
	connKey contextKey = "db_conn"
	txKey   contextKey = "db_tx"
)

// WithConn returns a context carrying a request-scoped connection.
// Repositories prefer it over the pool so that all reads within one access
// evaluation observe a single consistent snapshot.
func WithConn(ctx context.Context, conn *pgxpool.Conn) context.Context {
	return context.WithValue(ctx, connKey, conn)
}

// ConnFromContext retrieves the request-scoped connection, or nil.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(connKey).(*pgxpool.Conn)
	return conn
}

// WithTx returns a context carrying an open transaction.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

// TxFromContext retrieves the transaction from context, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey).(pgx.Tx)
	return tx
}
