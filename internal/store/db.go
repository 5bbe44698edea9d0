package store

import (
	"context"
	"database/sql"
)

// Narrow views of *sqlx.DB / *sqlx.Tx so stores state exactly what they need
// and tests can stub a single method.

type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Getter interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

type Selecter interface {
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

type DB interface {
	Execer
	Getter
	Selecter
}
