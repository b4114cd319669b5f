package engine

import (
	"log/slog"
	"sort"

	"tabgrid/internal/dsl"
	"tabgrid/internal/hooks"
)

// Registry: загруженные декларации и их хуки. Не меняется после
// построения; перезагрузка создаёт новый Registry.
type Registry struct {
	entities map[string]*dsl.Entity
	ordered  []*dsl.Entity
	hooks    map[string]hooks.Set

	// Errors хранит незагруженные файлы, Issues отброшенные вкладки.
	Errors []error
	Issues []dsl.SchemaIssue
}

// LoadRegistry читает все декларации из dir. Битые файлы и неразрешённые
// хуки не мешают загрузке остальных.
func LoadRegistry(dir string, cat *hooks.Catalog, log *slog.Logger) *Registry {
	log = orDiscard(log)
	entities, errs := dsl.LoadAllEntities(dir)
	for _, err := range errs {
		log.Warn("entity declaration skipped", "dir", dir, "err", err)
	}
	r := NewRegistry(entities, cat, log)
	r.Errors = errs
	return r
}

// NewRegistry строит реестр из уже разобранных деклараций.
func NewRegistry(entities []*dsl.Entity, cat *hooks.Catalog, log *slog.Logger) *Registry {
	log = orDiscard(log)
	r := &Registry{
		entities: make(map[string]*dsl.Entity, len(entities)),
		hooks:    make(map[string]hooks.Set, len(entities)),
	}
	for _, e := range entities {
		r.entities[e.Name] = e
	}

	r.Issues = dsl.LintSubgrids(r.entities)
	for _, it := range r.Issues {
		log.Warn("subgrid dropped", "entity", it.Entity, "subgrid", it.Field, "code", it.Code, "msg", it.Message)
	}

	for _, e := range entities {
		if len(r.Issues) > 0 {
			kept := e.Subgrids[:0:0]
			for _, s := range e.Subgrids {
				if child, ok := r.entities[s.Entity]; ok && child.Writable(s.ForeignKey) {
					kept = append(kept, s)
				}
			}
			e.Subgrids = kept
		}

		set, unresolved := cat.Resolve(e.Hooks)
		for _, ref := range unresolved {
			log.Debug("hook reference not registered", "entity", e.Name, "hook", ref)
		}
		r.hooks[e.Name] = set
		r.ordered = append(r.ordered, e)
	}
	sort.Slice(r.ordered, func(i, j int) bool { return r.ordered[i].Name < r.ordered[j].Name })
	return r
}

func (r *Registry) Get(entity string) (*dsl.Entity, bool) {
	e, ok := r.entities[entity]
	return e, ok
}

// Hooks возвращает разрешённые хуки сущности; для неизвестной пустой набор.
func (r *Registry) Hooks(entity string) hooks.Set {
	return r.hooks[entity]
}

// Hook: есть ли у сущности хук данной стадии.
func (r *Registry) Hook(entity string, stage hooks.Stage) (hooks.Set, bool) {
	s, ok := r.hooks[entity]
	if !ok || !s.Has(stage) {
		return hooks.Set{}, false
	}
	return s, true
}

// Entities: все сущности по имени.
func (r *Registry) Entities() []*dsl.Entity {
	out := make([]*dsl.Entity, len(r.ordered))
	copy(out, r.ordered)
	return out
}

func (r *Registry) Menu(role string) dsl.Menu {
	return dsl.BuildMenu(r.ordered, role)
}
