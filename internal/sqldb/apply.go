package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ApplyDDL выполняет map[table]sql. Ожидается idempotent DDL (create ... if not exists).
func ApplyDDL(ctx context.Context, db *sql.DB, ddl map[string]string, log *slog.Logger) error {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	// стабильно: по имени таблицы
	keys := make([]string, 0, len(ddl))
	for k := range ddl {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		sqlText := strings.TrimSpace(ddl[k])
		if sqlText == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			// 42P07 duplicate_table, 42710 duplicate_object
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && (pgErr.Code == "42P07" || pgErr.Code == "42710") {
				log.Info("DDL skipped (already exists)", "table", k, "msg", strings.TrimSpace(pgErr.Message))
				continue
			}
			return fmt.Errorf("DDL apply failed for %s: %w", k, err)
		}
		log.Debug("DDL applied", "table", k)
	}
	return nil
}
