// Package hooks описывает точки расширения сущностей. Хуки это обычные Go-функции,
// зарегистрированные в каталоге под строковой ссылкой; декларация сущности
// ссылается на них в блоке hooks. Нет хука: значение проходит как есть.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"tabgrid/internal/store"
)

type Stage string

const (
	BeforeLoad   Stage = "before_load"
	AfterLoad    Stage = "after_load"
	BeforeSave   Stage = "before_save"
	AfterSave    Stage = "after_save"
	BeforeDelete Stage = "before_delete"
	AfterDelete  Stage = "after_delete"
)

// Params: параметры загрузки, которые видит before_load.
type Params map[string]any

// SaveEvent: то, что получает after_save.
type SaveEvent struct {
	ID   string
	Data store.Record
}

type (
	BeforeLoadFunc   func(ctx context.Context, p Params) (Params, error)
	AfterLoadFunc    func(ctx context.Context, rows []store.Record) ([]store.Record, error)
	BeforeSaveFunc   func(ctx context.Context, data store.Record) (store.Record, error)
	AfterSaveFunc    func(ctx context.Context, ev SaveEvent) error
	BeforeDeleteFunc func(ctx context.Context, id string) error
	AfterDeleteFunc  func(ctx context.Context, id string) error
)

// ErrDenied: before_delete запрещает удаление.
var ErrDenied = errors.New("denied by hook")

// ValidationError: before_save вернул ошибки полей; сохранение прерывается.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Invalid: короткий конструктор для хуков.
func Invalid(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// Failure: хук упал (ошибка или паника). Операция продолжается со
// входным значением, Failure только логируется.
type Failure struct {
	Stage Stage
	Ref   string
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("hook %s (%s) failed: %v", f.Stage, f.Ref, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Authoritative: ошибка, которой хук намеренно прерывает операцию.
func Authoritative(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr) || errors.Is(err, ErrDenied)
}

type actorKey struct{}

// WithActor кладёт id действующего пользователя в контекст хуков.
func WithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

// Actor: id пользователя, от имени которого выполняется операция.
func Actor(ctx context.Context) string {
	v, _ := ctx.Value(actorKey{}).(string)
	return v
}
