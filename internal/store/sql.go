package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
)

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SQL: хранилище поверх database/sql; запросы собирает ent-билдер под диалект.
type SQL struct {
	db      *sql.DB
	dialect string
}

// NewSQL. dialect это ent-диалект: dialect.SQLite или dialect.Postgres.
func NewSQL(db *sql.DB, d string) *SQL {
	return &SQL{db: db, dialect: d}
}

func (s *SQL) Dialect() string { return s.dialect }

func (s *SQL) List(ctx context.Context, table string, f *Filter) ([]Record, error) {
	return listRows(ctx, s.db, s.dialect, table, f)
}

func (s *SQL) Get(ctx context.Context, table, id string) (Record, error) {
	return getRow(ctx, s.db, s.dialect, table, id)
}

func (s *SQL) Query(ctx context.Context, query string, args ...any) ([]Record, error) {
	return queryRows(ctx, s.db, query, args...)
}

func (s *SQL) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &sqlTx{tx: tx, dialect: s.dialect}, nil
}

type sqlTx struct {
	tx      *sql.Tx
	dialect string
}

func (t *sqlTx) Get(ctx context.Context, table, id string) (Record, error) {
	return getRow(ctx, t.tx, t.dialect, table, id)
}

func (t *sqlTx) Insert(ctx context.Context, table string, values map[string]any) (string, error) {
	b := entsql.Dialect(t.dialect).Insert(table)
	if len(values) == 0 {
		b.Default()
	} else {
		cols := sortedKeys(values)
		args := make([]any, 0, len(cols))
		for _, c := range cols {
			args = append(args, values[c])
		}
		b.Columns(cols...).Values(args...)
	}

	if t.dialect == dialect.Postgres {
		b.Returning("id")
		query, args := b.Query()
		rows, err := t.tx.QueryContext(ctx, query, args...)
		if err != nil {
			return "", err
		}
		defer rows.Close()
		var id any
		if rows.Next() {
			if err := rows.Scan(&id); err != nil {
				return "", err
			}
		}
		if err := rows.Err(); err != nil {
			return "", err
		}
		return ToString(normalize(id)), nil
	}

	query, args := b.Query()
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return "", err
	}
	n, err := res.LastInsertId()
	if err != nil {
		return "", err
	}
	return ToString(n), nil
}

func (t *sqlTx) Update(ctx context.Context, table, id string, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	b := entsql.Dialect(t.dialect).Update(table)
	for _, c := range sortedKeys(values) {
		b.Set(c, values[c])
	}
	query, args := b.Where(entsql.EQ("id", IDArg(id))).Query()
	_, err := t.tx.ExecContext(ctx, query, args...)
	return err
}

func (t *sqlTx) Delete(ctx context.Context, table, id string) error {
	query, args := entsql.Dialect(t.dialect).Delete(table).Where(entsql.EQ("id", IDArg(id))).Query()
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *sqlTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return ErrTxDone
		}
		return err
	}
	return nil
}

func (t *sqlTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return ErrTxDone
		}
		return err
	}
	return nil
}

func listRows(ctx context.Context, q querier, d, table string, f *Filter) ([]Record, error) {
	sel := entsql.Dialect(d).Select().From(entsql.Table(table))
	if f != nil && f.Column != "" {
		sel.Where(entsql.EQ(f.Column, IDArg(f.Value)))
	}
	query, args := sel.Query()
	return queryRows(ctx, q, query, args...)
}

func getRow(ctx context.Context, q querier, d, table, id string) (Record, error) {
	query, args := entsql.Dialect(d).Select().From(entsql.Table(table)).
		Where(entsql.EQ("id", IDArg(id))).
		Limit(1).
		Query()
	rows, err := queryRows(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

// queryRows мапит строки результата в Record, имена колонок как есть.
func queryRows(ctx context.Context, q querier, query string, args ...any) ([]Record, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []Record{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(Record, len(cols))
		for i, c := range cols {
			rec[c] = normalize(vals[i])
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
