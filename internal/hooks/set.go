package hooks

import (
	"context"
	"fmt"

	"tabgrid/internal/store"
)

// Set хранит разрешённые хуки одной сущности. Нулевое значение: все хуки
// отсутствуют. Обёртки никогда не паникуют: ошибка или паника хука
// возвращается как *Failure вместе с неизменённым входом.
type Set struct {
	beforeLoad   BeforeLoadFunc
	afterLoad    AfterLoadFunc
	beforeSave   BeforeSaveFunc
	afterSave    AfterSaveFunc
	beforeDelete BeforeDeleteFunc
	afterDelete  AfterDeleteFunc
	refs         map[Stage]string
}

// Has: разрешён ли хук стадии.
func (s Set) Has(stage Stage) bool {
	switch stage {
	case BeforeLoad:
		return s.beforeLoad != nil
	case AfterLoad:
		return s.afterLoad != nil
	case BeforeSave:
		return s.beforeSave != nil
	case AfterSave:
		return s.afterSave != nil
	case BeforeDelete:
		return s.beforeDelete != nil
	case AfterDelete:
		return s.afterDelete != nil
	}
	return false
}

func (s Set) Ref(stage Stage) string { return s.refs[stage] }

func (s Set) fail(stage Stage, err error) *Failure {
	return &Failure{Stage: stage, Ref: s.refs[stage], Err: err}
}

func recovered(r any) error { return fmt.Errorf("panic: %v", r) }

func (s Set) RunBeforeLoad(ctx context.Context, p Params) (out Params, err error) {
	if s.beforeLoad == nil {
		return p, nil
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = p, s.fail(BeforeLoad, recovered(r))
		}
	}()
	res, herr := s.beforeLoad(ctx, p)
	if herr != nil {
		return p, s.fail(BeforeLoad, herr)
	}
	if res == nil {
		return p, nil
	}
	return res, nil
}

func (s Set) RunAfterLoad(ctx context.Context, rows []store.Record) (out []store.Record, err error) {
	if s.afterLoad == nil {
		return rows, nil
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = rows, s.fail(AfterLoad, recovered(r))
		}
	}()
	res, herr := s.afterLoad(ctx, rows)
	if herr != nil {
		return rows, s.fail(AfterLoad, herr)
	}
	if res == nil {
		// хук ничего не вернул: пустой список, а не исходные строки
		return []store.Record{}, nil
	}
	return res, nil
}

// RunBeforeSave: *ValidationError возвращается как есть и прерывает
// сохранение; всё прочее: *Failure с исходными данными.
func (s Set) RunBeforeSave(ctx context.Context, data store.Record) (out store.Record, err error) {
	if s.beforeSave == nil {
		return data, nil
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = data, s.fail(BeforeSave, recovered(r))
		}
	}()
	// хук получает копию: при сбое исходные данные не должны быть испорчены
	res, herr := s.beforeSave(ctx, data.Clone())
	if herr != nil {
		if Authoritative(herr) {
			return data, herr
		}
		return data, s.fail(BeforeSave, herr)
	}
	if res == nil {
		return data, nil
	}
	return res, nil
}

func (s Set) RunAfterSave(ctx context.Context, ev SaveEvent) (err error) {
	if s.afterSave == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = s.fail(AfterSave, recovered(r))
		}
	}()
	if herr := s.afterSave(ctx, ev); herr != nil {
		return s.fail(AfterSave, herr)
	}
	return nil
}

// RunBeforeDelete: ErrDenied и *ValidationError прерывают удаление.
func (s Set) RunBeforeDelete(ctx context.Context, id string) (err error) {
	if s.beforeDelete == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = s.fail(BeforeDelete, recovered(r))
		}
	}()
	if herr := s.beforeDelete(ctx, id); herr != nil {
		if Authoritative(herr) {
			return herr
		}
		return s.fail(BeforeDelete, herr)
	}
	return nil
}

func (s Set) RunAfterDelete(ctx context.Context, id string) (err error) {
	if s.afterDelete == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = s.fail(AfterDelete, recovered(r))
		}
	}()
	if herr := s.afterDelete(ctx, id); herr != nil {
		return s.fail(AfterDelete, herr)
	}
	return nil
}
