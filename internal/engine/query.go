package engine

import (
	"context"
	"errors"
	"strings"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"tabgrid/internal/dsl"
	"tabgrid/internal/hooks"
	"tabgrid/internal/store"
)

// FilterMarker: явное место для родительского фильтра в запросе list.
// Без фильтра маркер превращается в 1=1.
const FilterMarker = "{{filter}}"

// ListRecords возвращает строки сущности; с parentID и foreignKey только
// строки, где foreignKey = parentID. Неизвестная сущность и сбой хранилища
// дают пустой список.
func (e *Engine) ListRecords(ctx context.Context, entity, parentID, foreignKey string) []store.Record {
	reg := e.Registry()
	ent, ok := reg.Get(entity)
	if !ok {
		return []store.Record{}
	}
	set := reg.Hooks(entity)
	log := e.log.With("entity", entity)

	params, err := set.RunBeforeLoad(ctx, hooks.Params{
		"entity":      entity,
		"parent_id":   parentID,
		"foreign_key": foreignKey,
	})
	if err != nil {
		log.WarnContext(ctx, "hook failed", "err", err)
	}
	if v, ok := params["parent_id"].(string); ok {
		parentID = v
	}
	if v, ok := params["foreign_key"].(string); ok {
		foreignKey = v
	}

	var filter *store.Filter
	if parentID != "" && foreignKey != "" {
		// колонка уходит в SQL идентификатором: только объявленные поля
		if _, ok := ent.Field(foreignKey); !ok {
			log.WarnContext(ctx, "parent filter on undeclared column", "column", foreignKey)
			return []store.Record{}
		}
		filter = &store.Filter{Column: foreignKey, Value: parentID}
	}

	rows, err := e.fetchRows(ctx, ent, filter)
	if err != nil {
		log.ErrorContext(ctx, "list records", "err", err)
		return []store.Record{}
	}

	rows, err = set.RunAfterLoad(ctx, rows)
	if err != nil {
		log.WarnContext(ctx, "hook failed", "err", err)
	}
	return rows
}

func (e *Engine) fetchRows(ctx context.Context, ent *dsl.Entity, f *store.Filter) ([]store.Record, error) {
	st, err := e.storeFor(ent)
	if err != nil {
		return nil, err
	}
	if q := ent.Queries.List; q != "" {
		var query string
		var args []any
		if f != nil {
			query, args = injectFilter(q, st.Dialect(), f.Column, f.Value)
		} else {
			query = strings.Replace(q, FilterMarker, "1=1", 1)
		}
		rows, err := st.Query(ctx, query, args...)
		if !errors.Is(err, store.ErrRawQueryUnsupported) {
			return rows, err
		}
		e.log.DebugContext(ctx, "custom query skipped", "entity", ent.Name, "dialect", st.Dialect())
	}
	return st.List(ctx, ent.Table, f)
}

// GetRecord: одна запись по id; ok=false если её нет.
func (e *Engine) GetRecord(ctx context.Context, entity, id string) (store.Record, bool) {
	reg := e.Registry()
	ent, ok := reg.Get(entity)
	if !ok || id == "" {
		return nil, false
	}
	log := e.log.With("entity", entity, "id", id)
	st, err := e.storeFor(ent)
	if err != nil {
		log.ErrorContext(ctx, "get record", "err", err)
		return nil, false
	}

	rec, err := e.fetchOne(ctx, st, ent, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.ErrorContext(ctx, "get record", "err", err)
		}
		return nil, false
	}

	rows, err := reg.Hooks(entity).RunAfterLoad(ctx, []store.Record{rec})
	if err != nil {
		log.WarnContext(ctx, "hook failed", "err", err)
	}
	if len(rows) == 0 {
		return nil, false
	}
	return rows[0], true
}

func (e *Engine) fetchOne(ctx context.Context, st store.Store, ent *dsl.Entity, id string) (store.Record, error) {
	if q := ent.Queries.Get; q != "" {
		rows, err := st.Query(ctx, bindID(q, st.Dialect()), store.IDArg(id))
		switch {
		case errors.Is(err, store.ErrRawQueryUnsupported):
		case err != nil:
			return nil, err
		case len(rows) == 0:
			return nil, store.ErrNotFound
		default:
			return rows[0], nil
		}
	}
	return st.Get(ctx, ent.Table, id)
}

// injectFilter добавляет условие column = value в запрос list: в маркер,
// иначе перед первым хвостовым предложением верхнего уровня (GROUP BY,
// HAVING, ORDER BY, LIMIT, OFFSET), иначе в конец. Существующий WHERE
// верхнего уровня берётся в скобки и дополняется через AND. Составной
// запрос (UNION, INTERSECT, EXCEPT) оборачивается подзапросом, чтобы
// фильтр действовал на все ветки; общий ORDER BY/LIMIT остаётся снаружи.
func injectFilter(query, d, column, value string) (string, []any) {
	p := entsql.EQ(column, store.IDArg(value))
	p.SetDialect(d)
	cond, args := p.Query()

	if strings.Contains(query, FilterMarker) {
		return strings.Replace(query, FilterMarker, cond, 1), args
	}

	where, tail, compound := topLevelClauses(query)
	head, rest := query, ""
	if tail >= 0 {
		head, rest = query[:tail], query[tail:]
	}
	head = strings.TrimRight(head, " \t\r\n;")
	rest = strings.TrimRight(rest, " \t\r\n;")
	switch {
	case compound:
		head = "SELECT * FROM (" + strings.TrimSpace(head) + ") filtered WHERE " + cond
	case where >= 0:
		kw := where + len("where")
		head = head[:kw] + " (" + strings.TrimSpace(head[kw:]) + ") AND " + cond
	default:
		head += " WHERE " + cond
	}
	if rest == "" {
		return head, args
	}
	return head + " " + rest, args
}

var (
	tailKeywords     = [][]string{{"group", "by"}, {"having"}, {"order", "by"}, {"limit"}, {"offset"}}
	compoundKeywords = [][]string{{"order", "by"}, {"limit"}, {"offset"}}
	setOperators     = []string{"union", "intersect", "except"}
)

// topLevelClauses находит позиции WHERE и первого хвостового предложения
// последней ветки вне скобок, строк и комментариев. -1: не найдено.
// compound: на верхнем уровне есть UNION/INTERSECT/EXCEPT; тогда хвостом
// считаются только ORDER BY, LIMIT и OFFSET всего запроса.
func topLevelClauses(q string) (where, tail int, compound bool) {
	where, tail = -1, -1
	depth := 0
	for i := 0; i < len(q); i++ {
		switch c := q[i]; {
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(q, i, c)
			continue
		case c == '-' && strings.HasPrefix(q[i:], "--"):
			if j := strings.IndexByte(q[i:], '\n'); j >= 0 {
				i += j
			} else {
				i = len(q)
			}
			continue
		case c == '(':
			depth++
			continue
		case c == ')':
			depth--
			continue
		}
		if depth != 0 || (i > 0 && isIdent(q[i-1])) {
			continue
		}
		if setOperator(q, i) {
			// новая ветка: WHERE и хвост предыдущей к ней не относятся
			where, tail, compound = -1, -1, true
			continue
		}
		if matchWords(q, i, "where") > 0 {
			where = i
			continue
		}
		if tail < 0 {
			keywords := tailKeywords
			if compound {
				keywords = compoundKeywords
			}
			for _, kw := range keywords {
				if matchWords(q, i, kw...) > 0 {
					tail = i
					break
				}
			}
		}
	}
	return where, tail, compound
}

func setOperator(q string, i int) bool {
	for _, op := range setOperators {
		if matchWords(q, i, op) > 0 {
			return true
		}
	}
	return false
}

// matchWords сравнивает последовательность слов без учёта регистра,
// допуская любые пробелы между ними; возвращает длину совпадения или 0.
func matchWords(q string, i int, words ...string) int {
	start := i
	for n, w := range words {
		if n > 0 {
			j := i
			for j < len(q) && isSpace(q[j]) {
				j++
			}
			if j == i {
				return 0
			}
			i = j
		}
		if len(q)-i < len(w) || !strings.EqualFold(q[i:i+len(w)], w) {
			return 0
		}
		i += len(w)
	}
	if i < len(q) && isIdent(q[i]) {
		return 0
	}
	return i - start
}

func skipQuoted(q string, i int, quote byte) int {
	for j := i + 1; j < len(q); j++ {
		if q[j] == quote {
			if j+1 < len(q) && q[j+1] == quote {
				j++
				continue
			}
			return j
		}
	}
	return len(q)
}

func isIdent(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }

// bindID заменяет именованный :id на плейсхолдер диалекта.
func bindID(q, d string) string {
	ph := "?"
	if d == dialect.Postgres {
		ph = "$1"
	}
	var b strings.Builder
	for i := 0; i < len(q); i++ {
		c := q[i]
		if c == '\'' || c == '"' {
			j := skipQuoted(q, i, c)
			if j >= len(q) {
				j = len(q) - 1
			}
			b.WriteString(q[i : j+1])
			i = j
			continue
		}
		// ::: приведение типа в postgres, не параметр
		if c == ':' && matchWords(q, i+1, "id") > 0 && (i == 0 || q[i-1] != ':') {
			b.WriteString(ph)
			i += len("id")
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
