package sqldb

import (
	"fmt"
	"strings"

	"entgo.io/ent/dialect"

	"tabgrid/internal/dsl"
)

func sqlIdent(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }

func mapType(f dsl.Field, d string) string {
	pg := d == dialect.Postgres
	switch {
	case f.FK != "":
		// id целевой записи
		if pg {
			return "bigint"
		}
		return "integer"
	case f.Type == dsl.TypeNumber:
		if pg {
			return "double precision"
		}
		return "real"
	default:
		return "text"
	}
}

func idColumn(d string) string {
	if d == dialect.Postgres {
		return `"id" bigserial primary key`
	}
	return `"id" integer primary key autoincrement`
}

// GenerateDDL возвращает карту таблица -> CREATE TABLE IF NOT EXISTS.
// Схема только добавляется: существующие таблицы не трогаются.
// Несколько сущностей на одной таблице: колонки объединяются.
func GenerateDDL(entities []*dsl.Entity, d string) (map[string]string, error) {
	type table struct {
		cols []string
		seen map[string]string
	}
	tables := map[string]*table{}
	order := []string{}

	for _, e := range entities {
		t := tables[e.Table]
		if t == nil {
			t = &table{cols: []string{idColumn(d)}, seen: map[string]string{"id": "id"}}
			tables[e.Table] = t
			order = append(order, e.Table)
		}
		for _, f := range e.Fields {
			if f.ID == "id" || f.GridOnly {
				continue
			}
			typ := mapType(f, d)
			if prev, ok := t.seen[f.ID]; ok {
				if prev != typ && prev != "id" {
					return nil, fmt.Errorf("%s.%s: column type conflict (%s vs %s)", e.Table, f.ID, prev, typ)
				}
				continue
			}
			t.seen[f.ID] = typ
			t.cols = append(t.cols, fmt.Sprintf("%s %s null", sqlIdent(f.ID), typ))
		}
	}

	out := make(map[string]string, len(tables))
	for _, name := range order {
		out[name] = fmt.Sprintf("create table if not exists %s (\n  %s\n);",
			sqlIdent(name), strings.Join(tables[name].cols, ",\n  "))
	}
	return out, nil
}
