package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/gamemaster/pkg/memory"
)

// pgErrUndefinedTable is the PostgreSQL error code for reads against a table
// that does not exist (SQLSTATE 42P01).
const pgErrUndefinedTable = "42P01"

// namespacePattern matches the hex-only names produced by namespace
// derivation. Anything else is rejected before it can reach an SQL identifier
// position.
var namespacePattern = regexp.MustCompile(`^[0-9a-f]{1,64}$`)

// TurnLogImpl is the [memory.TurnLog] implementation backed by one PostgreSQL
// table per conversation namespace. Tables are created lazily on the first
// append, so reading a namespace that was never written hits an absent table
// and is reported as an empty log rather than an error.
//
// Obtain one via [Store.Log] rather than constructing directly.
// All methods are safe for concurrent use.
type TurnLogImpl struct {
	pool *pgxpool.Pool
}

// tableName validates namespace and returns it as a quoted SQL identifier.
// Namespaces are lowercase hex (dash-stripped UUID pairs); everything else is
// rejected to keep identifier interpolation safe.
func tableName(namespace string) (string, error) {
	if !namespacePattern.MatchString(namespace) {
		return "", fmt.Errorf("invalid namespace %q", namespace)
	}
	return pgx.Identifier{namespace}.Sanitize(), nil
}

// isUndefinedTable reports whether err is a PostgreSQL undefined-table error.
func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUndefinedTable
}

// Append implements [memory.TurnLog]. It ensures the namespace's table exists
// and inserts one turn; the sequence number comes from the table's BIGSERIAL
// column.
func (l *TurnLogImpl) Append(ctx context.Context, namespace string, role memory.Role, content string) error {
	table, err := tableName(namespace)
	if err != nil {
		return fmt.Errorf("turn log: append: %w", err)
	}

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
		    id          BIGSERIAL    PRIMARY KEY,
		    role        TEXT         NOT NULL,
		    content     TEXT         NOT NULL,
		    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
		)`, table)
	if _, err := l.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("turn log: create table: %w", err)
	}

	q := fmt.Sprintf("INSERT INTO %s (role, content) VALUES ($1, $2)", table)
	if _, err := l.pool.Exec(ctx, q, string(role), content); err != nil {
		return fmt.Errorf("turn log: append: %w", err)
	}
	return nil
}

// Recent implements [memory.TurnLog]. It returns the newest limit turns,
// ordered oldest-first.
func (l *TurnLogImpl) Recent(ctx context.Context, namespace string, limit int) ([]memory.Turn, error) {
	return l.Window(ctx, namespace, 0, limit)
}

// Window implements [memory.TurnLog]. It returns count turns starting offset
// turns back from the newest, ordered oldest-first. A window reaching past
// the start of the log is shortened; a window entirely past it is empty.
func (l *TurnLogImpl) Window(ctx context.Context, namespace string, offset, count int) ([]memory.Turn, error) {
	table, err := tableName(namespace)
	if err != nil {
		return nil, fmt.Errorf("turn log: window: %w", err)
	}
	if count <= 0 {
		return []memory.Turn{}, nil
	}
	if offset < 0 {
		offset = 0
	}

	// Select newest-first to anchor the window at the tail of the log, then
	// flip back into chronological order.
	q := fmt.Sprintf(`
		SELECT id, role, content
		FROM   %s
		ORDER  BY id DESC
		OFFSET $1
		LIMIT  $2`, table)

	rows, err := l.pool.Query(ctx, q, offset, count)
	if err != nil {
		if isUndefinedTable(err) {
			return []memory.Turn{}, nil
		}
		return nil, fmt.Errorf("turn log: window: %w", err)
	}

	turns, err := collectTurns(rows)
	if err != nil {
		if isUndefinedTable(err) {
			return []memory.Turn{}, nil
		}
		return nil, err
	}
	reverse(turns)
	return turns, nil
}

// All implements [memory.TurnLog]. It returns every turn in the namespace,
// ordered oldest-first.
func (l *TurnLogImpl) All(ctx context.Context, namespace string) ([]memory.Turn, error) {
	table, err := tableName(namespace)
	if err != nil {
		return nil, fmt.Errorf("turn log: all: %w", err)
	}

	q := fmt.Sprintf("SELECT id, role, content FROM %s ORDER BY id", table)
	rows, err := l.pool.Query(ctx, q)
	if err != nil {
		if isUndefinedTable(err) {
			return []memory.Turn{}, nil
		}
		return nil, fmt.Errorf("turn log: all: %w", err)
	}

	turns, err := collectTurns(rows)
	if err != nil && isUndefinedTable(err) {
		return []memory.Turn{}, nil
	}
	return turns, err
}

// Drop implements [memory.TurnLog]. It deletes the namespace's table.
func (l *TurnLogImpl) Drop(ctx context.Context, namespace string) error {
	table, err := tableName(namespace)
	if err != nil {
		return fmt.Errorf("turn log: drop: %w", err)
	}

	if _, err := l.pool.Exec(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return fmt.Errorf("turn log: drop: %w", err)
	}
	return nil
}

// collectTurns scans pgx rows into a slice of Turn values.
func collectTurns(rows pgx.Rows) ([]memory.Turn, error) {
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Turn, error) {
		var (
			t    memory.Turn
			role string
		)
		if err := row.Scan(&t.Seq, &role, &t.Content); err != nil {
			return memory.Turn{}, err
		}
		t.Role = memory.Role(role)
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("turn log: scan rows: %w", err)
	}
	if turns == nil {
		turns = []memory.Turn{}
	}
	return turns, nil
}

// reverse flips turns in place.
func reverse(turns []memory.Turn) {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
}
