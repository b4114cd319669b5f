// Package engine содержит параметризуемый движок сущностей: чтение строк с
// учётом родительского фильтра, сохранение и удаление с хуками и
// загрузкой файлов. Все операции возвращают структурированный результат
// и не паникуют наружу.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"tabgrid/internal/blob"
	"tabgrid/internal/dsl"
	"tabgrid/internal/store"
)

var (
	ErrUnknownEntity = errors.New("unknown entity")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrNoConnection  = errors.New("connection not configured")
)

type Options struct {
	// Stores: именованные подключения; сущность выбирает своё по connection.
	Stores   map[string]store.Store
	Uploader *blob.Uploader
	Logger   *slog.Logger
}

type Engine struct {
	reg      atomic.Pointer[Registry]
	stores   map[string]store.Store
	uploader *blob.Uploader
	log      *slog.Logger
}

func New(reg *Registry, opts Options) *Engine {
	e := &Engine{
		stores:   opts.Stores,
		uploader: opts.Uploader,
		log:      orDiscard(opts.Logger),
	}
	if reg == nil {
		reg = NewRegistry(nil, nil, e.log)
	}
	e.reg.Store(reg)
	return e
}

// Registry: текущий снимок деклараций. Держите его на время запроса.
func (e *Engine) Registry() *Registry { return e.reg.Load() }

// Swap подменяет реестр целиком; идущие запросы дорабатывают со старым.
func (e *Engine) Swap(r *Registry) { e.reg.Store(r) }

// Authorize проверяет сущность и роль.
func (e *Engine) Authorize(entity, role string) (*dsl.Entity, error) {
	ent, ok := e.Registry().Get(entity)
	if !ok {
		return nil, ErrUnknownEntity
	}
	if !ent.Permits(role) {
		return ent, ErrUnauthorized
	}
	return ent, nil
}

func (e *Engine) storeFor(ent *dsl.Entity) (store.Store, error) {
	s, ok := e.stores[ent.Connection]
	if !ok || s == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoConnection, ent.Connection)
	}
	return s, nil
}

func orDiscard(log *slog.Logger) *slog.Logger {
	if log == nil {
		return slog.New(slog.DiscardHandler)
	}
	return log
}
