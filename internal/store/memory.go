package store

import (
	"context"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const DialectMemory = "memory"

type memTable struct {
	order []string
	rows  map[string]Record
}

// Memory хранит записи в памяти (режим без БД). Строки идут в порядке вставки.
type Memory struct {
	mu      sync.RWMutex
	tables  map[string]*memTable
	entropy io.Reader
}

// NewMemory создаёт пустое in-memory хранилище.
func NewMemory() *Memory {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Memory{
		tables:  make(map[string]*memTable),
		entropy: ulid.Monotonic(src, 0),
	}
}

func (m *Memory) Dialect() string { return DialectMemory }

// newID вызывается только под write-lock: Monotonic entropy не потокобезопасен.
func (m *Memory) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), m.entropy).String()
}

func (m *Memory) table(name string) *memTable {
	t := m.tables[name]
	if t == nil {
		t = &memTable{rows: make(map[string]Record)}
		m.tables[name] = t
	}
	return t
}

func (m *Memory) List(_ context.Context, table string, f *Filter) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t := m.tables[table]
	if t == nil {
		return []Record{}, nil
	}
	out := make([]Record, 0, len(t.order))
	for _, id := range t.order {
		rec := t.rows[id]
		if f != nil && f.Column != "" && ToString(rec[f.Column]) != f.Value {
			continue
		}
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (m *Memory) Get(_ context.Context, table, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t := m.tables[table]; t != nil {
		if rec, ok := t.rows[id]; ok {
			return rec.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) Query(context.Context, string, ...any) ([]Record, error) {
	return nil, ErrRawQueryUnsupported
}

// Seed кладёт готовую запись (с id): для демо-данных и тестов.
func (m *Memory) Seed(table string, rec Record) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := rec.ID()
	if id == "" {
		id = m.newID()
	}
	t := m.table(table)
	if _, exists := t.rows[id]; !exists {
		t.order = append(t.order, id)
	}
	cp := rec.Clone()
	cp["id"] = id
	t.rows[id] = cp
	return id
}

func (m *Memory) Begin(context.Context) (Tx, error) {
	return &memTx{m: m}, nil
}

type memOp struct {
	kind   string // insert | update | delete
	table  string
	id     string
	values map[string]any
}

// memTx копит операции и применяет их одним write-lock'ом на Commit:
// конкурентные коммиты сериализуются, выигрывает последний.
type memTx struct {
	m    *Memory
	ops  []memOp
	done bool
}

func (tx *memTx) Get(ctx context.Context, table, id string) (Record, error) {
	rec, err := tx.m.Get(ctx, table, id)
	// незакоммиченные вставки/правки этой же транзакции
	for _, op := range tx.ops {
		if op.table != table || op.id != id {
			continue
		}
		switch op.kind {
		case "insert":
			rec, err = Record{"id": id}, nil
			for k, v := range op.values {
				rec[k] = v
			}
		case "update":
			if rec != nil {
				for k, v := range op.values {
					rec[k] = v
				}
			}
		case "delete":
			rec, err = nil, ErrNotFound
		}
	}
	return rec, err
}

func (tx *memTx) Insert(_ context.Context, table string, values map[string]any) (string, error) {
	tx.m.mu.Lock()
	id := tx.m.newID()
	tx.m.mu.Unlock()
	tx.ops = append(tx.ops, memOp{kind: "insert", table: table, id: id, values: copyValues(values)})
	return id, nil
}

func (tx *memTx) Update(_ context.Context, table, id string, values map[string]any) error {
	tx.ops = append(tx.ops, memOp{kind: "update", table: table, id: id, values: copyValues(values)})
	return nil
}

func (tx *memTx) Delete(_ context.Context, table, id string) error {
	tx.ops = append(tx.ops, memOp{kind: "delete", table: table, id: id})
	return nil
}

func (tx *memTx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true

	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	if err := tx.checkLocked(); err != nil {
		return err
	}
	for _, op := range tx.ops {
		t := tx.m.table(op.table)
		switch op.kind {
		case "insert":
			rec := Record{"id": op.id}
			for k, v := range op.values {
				rec[k] = v
			}
			t.rows[op.id] = rec
			t.order = append(t.order, op.id)
		case "update":
			rec := t.rows[op.id]
			for k, v := range op.values {
				rec[k] = v
			}
		case "delete":
			delete(t.rows, op.id)
			for i, id := range t.order {
				if id == op.id {
					t.order = append(t.order[:i], t.order[i+1:]...)
					break
				}
			}
		}
	}
	return nil
}

// checkLocked проверяет, что update/delete адресуют живые строки, до
// применения первой операции: коммит либо целиком, либо никак.
func (tx *memTx) checkLocked() error {
	alive := map[string]bool{}
	key := func(table, id string) string { return table + "\x00" + id }
	for _, op := range tx.ops {
		k := key(op.table, op.id)
		exists, seen := alive[k]
		if !seen {
			_, exists = tx.m.table(op.table).rows[op.id]
		}
		switch op.kind {
		case "insert":
			alive[k] = true
		case "update":
			if !exists {
				return ErrNotFound
			}
			alive[k] = true
		case "delete":
			if !exists {
				return ErrNotFound
			}
			alive[k] = false
		}
	}
	return nil
}

func (tx *memTx) Rollback() error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	tx.ops = nil
	return nil
}

func copyValues(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
