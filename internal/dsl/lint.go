package dsl

import (
	"fmt"
	"strings"
)

type SchemaIssue struct {
	Entity  string `json:"entity"`
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (i SchemaIssue) String() string {
	if i.Field != "" {
		return fmt.Sprintf("%s.%s: %s", i.Entity, i.Field, i.Message)
	}
	return fmt.Sprintf("%s: %s", i.Entity, i.Message)
}

// Lint: блокирующие проблемы одной декларации.
func Lint(e *Entity) []SchemaIssue {
	var issues []SchemaIssue
	add := func(field, code, msg string) {
		issues = append(issues, SchemaIssue{Entity: e.Name, Field: field, Code: code, Message: msg})
	}

	if e.Name == "" {
		add("", "entity_missing", "entity is required")
	}
	if e.Title == "" {
		add("", "title_missing", "title is required")
	}
	if e.Table == "" {
		add("", "table_missing", "table is required")
	}

	seen := map[string]struct{}{}
	for _, f := range e.Fields {
		if f.ID == "" {
			add("", "field_id_missing", "field without id")
			continue
		}
		if _, dup := seen[f.ID]; dup {
			add(f.ID, "field_duplicate", "duplicate field id")
		}
		seen[f.ID] = struct{}{}
		if _, ok := knownTypes[f.Type]; !ok {
			add(f.ID, "field_type_unknown", fmt.Sprintf("unknown field type %q", f.Type))
		}
		if f.HasOptions() && len(f.Options) == 0 {
			add(f.ID, "options_empty", f.Type+" field requires options")
		}
	}

	for stage := range e.Hooks {
		known := false
		for _, s := range HookStages {
			if s == stage {
				known = true
				break
			}
		}
		if !known {
			add("", "hook_stage_unknown", fmt.Sprintf("unknown hook stage %q", stage))
		}
	}

	if e.Queries.Get != "" && !strings.Contains(e.Queries.Get, ":id") {
		add("", "get_query_without_id", "queries.get must use the :id placeholder")
	}

	for _, s := range e.Subgrids {
		if s.Entity == "" || s.ForeignKey == "" {
			add("", "subgrid_incomplete", "subgrid requires entity and foreign_key")
		}
	}
	return issues
}

// LintSubgrids делает межсущностные проверки: дочерняя сущность известна и
// foreign_key является её полем. Это не блокирует загрузку: проблемная вкладка
// просто отбрасывается реестром.
func LintSubgrids(entities map[string]*Entity) []SchemaIssue {
	var issues []SchemaIssue
	for _, e := range entities {
		for _, s := range e.Subgrids {
			child, ok := entities[s.Entity]
			if !ok {
				issues = append(issues, SchemaIssue{
					Entity:  e.Name,
					Field:   s.Entity,
					Code:    "subgrid_entity_unknown",
					Message: fmt.Sprintf("subgrid entity %q is not declared", s.Entity),
				})
				continue
			}
			if !child.Writable(s.ForeignKey) {
				issues = append(issues, SchemaIssue{
					Entity:  e.Name,
					Field:   s.Entity,
					Code:    "subgrid_fk_unknown",
					Message: fmt.Sprintf("foreign key %q is not a field of %q", s.ForeignKey, s.Entity),
				})
			}
		}
	}
	return issues
}
