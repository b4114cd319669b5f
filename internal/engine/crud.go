package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"tabgrid/internal/blob"
	"tabgrid/internal/dsl"
	"tabgrid/internal/hooks"
	"tabgrid/internal/store"
)

// MsgNotFound: текст ошибки для отсутствующей записи.
const MsgNotFound = "not found"

type SaveResult struct {
	Success bool              `json:"success"`
	ID      string            `json:"id,omitempty"`
	Error   string            `json:"error,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

type DeleteResult struct {
	Success bool              `json:"success"`
	Error   string            `json:"error,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func saveFailed(err error) SaveResult {
	var verr *hooks.ValidationError
	if errors.As(err, &verr) {
		return SaveResult{Errors: verr.Fields}
	}
	if errors.Is(err, store.ErrNotFound) {
		return SaveResult{Error: MsgNotFound}
	}
	return SaveResult{Error: err.Error()}
}

// SaveRecord создаёт запись (нет id в data) или частично обновляет
// существующую. Присваиваются только объявленные поля сущности, прочие
// ключи молча игнорируются. Файлы сохраняются после получения id.
func (e *Engine) SaveRecord(ctx context.Context, entity string, data map[string]any, files map[string]blob.FileSource, actor string) SaveResult {
	reg := e.Registry()
	ent, ok := reg.Get(entity)
	if !ok {
		return SaveResult{Error: ErrUnknownEntity.Error()}
	}
	ctx = hooks.WithActor(ctx, actor)
	set := reg.Hooks(entity)
	log := e.log.With("entity", entity, "actor", actor)

	rec, err := set.RunBeforeSave(ctx, store.Record(data))
	if err != nil {
		if hooks.Authoritative(err) {
			return saveFailed(err)
		}
		log.WarnContext(ctx, "hook failed", "err", err)
	}

	st, err := e.storeFor(ent)
	if err != nil {
		log.ErrorContext(ctx, "save record", "err", err)
		return saveFailed(err)
	}

	id := rec.ID()
	err = e.inTx(ctx, st, func(tx store.Tx) error {
		values := assign(ent, rec)
		if id != "" {
			if _, err := tx.Get(ctx, ent.Table, id); err != nil {
				return err
			}
			if len(values) > 0 {
				if err := tx.Update(ctx, ent.Table, id, values); err != nil {
					return fmt.Errorf("update %s/%s: %w", ent.Table, id, err)
				}
			}
		} else {
			newID, err := tx.Insert(ctx, ent.Table, values)
			if err != nil {
				return fmt.Errorf("insert %s: %w", ent.Table, err)
			}
			id = newID
		}
		return e.storeUploads(ctx, tx, ent, id, files)
	})
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.ErrorContext(ctx, "save record failed", "id", id, "err", err)
		}
		return saveFailed(err)
	}

	if err := set.RunAfterSave(ctx, hooks.SaveEvent{ID: id, Data: rec}); err != nil {
		log.WarnContext(ctx, "hook failed", "err", err)
	}
	return SaveResult{Success: true, ID: id}
}

func (e *Engine) storeUploads(ctx context.Context, tx store.Tx, ent *dsl.Entity, id string, files map[string]blob.FileSource) error {
	keys := make([]string, 0, len(files))
	for k, f := range files {
		if f != nil && f.Filename() != "" && ent.Writable(k) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	if e.uploader == nil {
		e.log.WarnContext(ctx, "upload ignored: no uploader configured", "entity", ent.Name)
		return nil
	}
	sort.Strings(keys)
	stored := map[string]any{}
	for _, field := range keys {
		name, err := e.uploader.Save(ctx, files[field], ent.Table, id)
		if err != nil {
			return err
		}
		if name != "" {
			stored[field] = name
		}
	}
	if len(stored) == 0 {
		return nil
	}
	return tx.Update(ctx, ent.Table, id, stored)
}

// DeleteRecord удаляет запись. Отказ before_delete (hooks.ErrDenied или
// ошибка валидации) отменяет удаление; прочие сбои хука только логируются.
func (e *Engine) DeleteRecord(ctx context.Context, entity, id, actor string) DeleteResult {
	reg := e.Registry()
	ent, ok := reg.Get(entity)
	if !ok {
		return DeleteResult{Error: ErrUnknownEntity.Error()}
	}
	ctx = hooks.WithActor(ctx, actor)
	set := reg.Hooks(entity)
	log := e.log.With("entity", entity, "id", id, "actor", actor)

	if err := set.RunBeforeDelete(ctx, id); err != nil {
		var verr *hooks.ValidationError
		switch {
		case errors.As(err, &verr):
			return DeleteResult{Error: verr.Error(), Errors: verr.Fields}
		case errors.Is(err, hooks.ErrDenied):
			return DeleteResult{Error: err.Error()}
		}
		log.WarnContext(ctx, "hook failed", "err", err)
	}

	st, err := e.storeFor(ent)
	if err != nil {
		log.ErrorContext(ctx, "delete record", "err", err)
		return DeleteResult{Error: err.Error()}
	}
	err = e.inTx(ctx, st, func(tx store.Tx) error {
		if _, err := tx.Get(ctx, ent.Table, id); err != nil {
			return err
		}
		return tx.Delete(ctx, ent.Table, id)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return DeleteResult{Error: MsgNotFound}
		}
		log.ErrorContext(ctx, "delete record failed", "err", err)
		return DeleteResult{Error: err.Error()}
	}

	if err := set.RunAfterDelete(ctx, id); err != nil {
		log.WarnContext(ctx, "hook failed", "err", err)
	}
	return DeleteResult{Success: true}
}

// inTx выполняет fn в транзакции; ошибка или паника откатывают её.
func (e *Engine) inTx(ctx context.Context, st store.Store, fn func(store.Tx) error) (err error) {
	tx, err := st.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, store.ErrTxDone) {
				e.log.ErrorContext(ctx, "rollback failed", "err", rerr)
			}
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// assign применяет белый список: только объявленные записываемые поля, без id.
func assign(ent *dsl.Entity, data store.Record) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if !ent.Writable(k) {
			continue
		}
		f, _ := ent.Field(k)
		if f.Type == dsl.TypeFile {
			// файловое поле заполняет только загрузка
			continue
		}
		out[k] = coerce(f, v)
	}
	return out
}

// coerce приводит строку формы к типу колонки: пустое число/дата становится NULL,
// ссылки и числа становятся числом, если строка разбирается.
func coerce(f dsl.Field, v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch {
	case s == "" && (f.FK != "" || f.Type == dsl.TypeNumber || f.Type == dsl.TypeDate):
		return nil
	case f.FK != "":
		return store.IDArg(s)
	case f.Type == dsl.TypeNumber:
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return n
		}
	}
	return s
}
