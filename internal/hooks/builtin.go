package hooks

import (
	"context"
	"log/slog"
	"strings"

	"tabgrid/internal/store"
)

// ResolveFileURLs (after_load): для каждого непустого файлового поля
// добавляет вычисляемое поле <id>_url с публичным адресом файла.
func ResolveFileURLs(prefix string, fields ...string) AfterLoadFunc {
	prefix = strings.TrimRight(prefix, "/")
	return func(_ context.Context, rows []store.Record) ([]store.Record, error) {
		for _, r := range rows {
			for _, f := range fields {
				v := store.ToString(r[f])
				if v == "" {
					continue
				}
				if strings.HasPrefix(v, prefix+"/") {
					r[f+"_url"] = v
				} else {
					r[f+"_url"] = prefix + "/" + v
				}
			}
		}
		return rows, nil
	}
}

// LogLoad: after_load, который только пишет в лог число строк.
func LogLoad(log *slog.Logger, entity string) AfterLoadFunc {
	return func(ctx context.Context, rows []store.Record) ([]store.Record, error) {
		log.DebugContext(ctx, "records loaded", "entity", entity, "count", len(rows))
		return rows, nil
	}
}

func LogSave(log *slog.Logger, entity string) AfterSaveFunc {
	return func(ctx context.Context, ev SaveEvent) error {
		log.InfoContext(ctx, "record saved", "entity", entity, "id", ev.ID)
		return nil
	}
}

// Chain объединяет несколько after_load в один.
func Chain(fns ...AfterLoadFunc) AfterLoadFunc {
	return func(ctx context.Context, rows []store.Record) ([]store.Record, error) {
		var err error
		for _, fn := range fns {
			if rows, err = fn(ctx, rows); err != nil {
				return rows, err
			}
		}
		return rows, nil
	}
}
