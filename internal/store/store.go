// Package store: обобщённая модель записей поверх таблиц сущностей.
package store

import (
	"context"
	"errors"
	"sort"
	"strconv"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrRawQueryUnsupported: хранилище не умеет исполнять произвольный SQL.
	ErrRawQueryUnsupported = errors.New("raw queries are not supported by this store")
	ErrTxDone              = errors.New("transaction already committed or rolled back")
)

// Record это одна строка таблицы: id поля -> скалярное значение.
type Record map[string]any

// ID возвращает id записи в строковом виде ("" если нет).
func (r Record) ID() string {
	if r == nil {
		return ""
	}
	v, ok := r["id"]
	if !ok || v == nil {
		return ""
	}
	return ToString(v)
}

// Clone: поверхностная копия, чтобы хуки не портили чужие данные.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Filter отбирает строки родителя: column = value.
type Filter struct {
	Column string
	Value  string
}

type Store interface {
	Dialect() string
	List(ctx context.Context, table string, f *Filter) ([]Record, error)
	Get(ctx context.Context, table, id string) (Record, error)
	Query(ctx context.Context, query string, args ...any) ([]Record, error)
	Begin(ctx context.Context) (Tx, error)
}

// Tx: единица работы save/delete. После Commit/Rollback не используется.
type Tx interface {
	Get(ctx context.Context, table, id string) (Record, error)
	// Insert создаёт запись и сразу возвращает сгенерированный id (flush).
	Insert(ctx context.Context, table string, values map[string]any) (string, error)
	Update(ctx context.Context, table, id string, values map[string]any) error
	Delete(ctx context.Context, table, id string) error
	Commit() error
	Rollback() error
}

// IDArg приводит строковый id к int64, если это число: драйверы
// (pgx в первую очередь) не сравнивают text с bigint.
func IDArg(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
