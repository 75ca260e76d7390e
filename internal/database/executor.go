package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nfrund/chathub/internal/domain"
	"github.com/surrealdb/surrealdb.go"
)

// Query runs a SurrealQL statement and returns the rows of its first
// result set, or nil when the statement produced none.
func Query[T any](ctx context.Context, db *surrealdb.DB, q string, params map[string]any) ([]T, error) {
	res, err := surrealdb.Query[[]T](ctx, db, q, params)
	switch {
	case err != nil:
		return nil, classify(err)
	case res == nil || len(*res) == 0:
		return nil, nil
	}
	return (*res)[0].Result, nil
}

// QueryOne returns the first row of q, or nil when there is none. A SELECT
// without a LIMIT is limited to one row.
func QueryOne[T any](ctx context.Context, db *surrealdb.DB, q string, params map[string]any) (*T, error) {
	if isSelect(q) && !hasLimitClause(q) {
		q += " LIMIT 1"
	}
	rows, err := Query[T](ctx, db, q, params)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

// Execute runs q and discards its rows.
func Execute(ctx context.Context, db *surrealdb.DB, q string, params map[string]any) error {
	_, err := surrealdb.Query[any](ctx, db, q, params)
	return classify(err)
}

func isSelect(q string) bool {
	fields := strings.Fields(q)
	return len(fields) > 0 && strings.EqualFold(fields[0], "SELECT")
}

func hasLimitClause(q string) bool {
	for _, f := range strings.Fields(q) {
		if strings.EqualFold(f, "LIMIT") {
			return true
		}
	}
	return false
}

// classify maps SurrealDB failures that carry domain meaning onto domain
// errors. Everything else is returned wrapped.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already exists"), strings.Contains(msg, "already contains"):
		return fmt.Errorf("%w: %v", domain.ErrAlreadyExists, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return err
	}
	return fmt.Errorf("query execution failed: %w", err)
}
