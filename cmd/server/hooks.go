package main

import (
	"context"
	"log/slog"
	"net/mail"
	"strings"

	"tabgrid/internal/hooks"
	"tabgrid/internal/store"
)

// registerHooks: хуки, на которые могут ссылаться декларации из
// resources/entities. Ссылка без регистрации молча игнорируется.
func registerHooks(cat *hooks.Catalog, uploadsURL string, log *slog.Logger) {
	cat.OnAfterLoad("users.after_load", hooks.Chain(
		hooks.ResolveFileURLs(uploadsURL, "photo"),
		hooks.LogLoad(log, "users"),
	))
	cat.OnBeforeSave("users.before_save", validateEmail("email"))
	cat.OnAfterSave("users.after_save", hooks.LogSave(log, "users"))

	cat.OnAfterLoad("contactos.after_load", hooks.ResolveFileURLs(uploadsURL, "foto"))
	cat.OnBeforeSave("contactos.before_save", normalizeSpaces("nombre", "email"))
	cat.OnAfterSave("contactos.after_save", hooks.LogSave(log, "contactos"))

	// первый пользователь: администратор, его не удаляем
	cat.OnBeforeDelete("users.before_delete", func(_ context.Context, id string) error {
		if id == "1" {
			return hooks.ErrDenied
		}
		return nil
	})
	cat.OnAfterDelete("cars.after_delete", func(ctx context.Context, id string) error {
		log.InfoContext(ctx, "record deleted", "entity", "cars", "id", id, "actor", hooks.Actor(ctx))
		return nil
	})
}

// validateEmail (before_save): непустой адрес должен разбираться.
func validateEmail(field string) hooks.BeforeSaveFunc {
	return func(_ context.Context, d store.Record) (store.Record, error) {
		v := strings.TrimSpace(store.ToString(d[field]))
		if v == "" {
			return d, nil
		}
		if _, err := mail.ParseAddress(v); err != nil {
			return nil, hooks.Invalid(field, "Invalid email address")
		}
		d[field] = v
		return d, nil
	}
}

// normalizeSpaces (before_save) обрезает пробелы в текстовых полях.
func normalizeSpaces(fields ...string) hooks.BeforeSaveFunc {
	return func(_ context.Context, d store.Record) (store.Record, error) {
		for _, f := range fields {
			if s, ok := d[f].(string); ok {
				d[f] = strings.Join(strings.Fields(s), " ")
			}
		}
		return d, nil
	}
}
