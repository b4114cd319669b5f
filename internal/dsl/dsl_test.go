package dsl

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	e, err := Parse([]byte(`
entity: contactos
title: Contactos
table: contactos
actions: {delete: false}
fields:
  - {id: id, type: hidden}
  - {id: full_name}
  - id: status
    type: Select
    options:
      - {value: 1, label: Active}
      - {value: 0, label: Inactive}
      - {value: true, label: Yes}
  - {id: total, type: number, grid_only: true}
subgrids:
  - {entity: cars, foreign_key: contacto_id}
`))
	require.NoError(t, err)

	assert.Equal(t, DefaultConnection, e.Connection)
	assert.Equal(t, DefaultRights, e.Rights)
	assert.Equal(t, DefaultMenuOrder, e.MenuOrder)
	assert.Equal(t, Actions{New: true, Edit: true, Delete: false}, e.Actions)

	f, ok := e.Field("full_name")
	require.True(t, ok)
	assert.Equal(t, TypeText, f.Type)
	assert.Equal(t, "Full Name", f.Label)

	st, _ := e.Field("status")
	assert.Equal(t, TypeSelect, st.Type)
	assert.Equal(t, []Option{{"1", "Active"}, {"0", "Inactive"}, {"true", "Yes"}}, st.Options)
	label, ok := st.OptionLabel("0")
	assert.True(t, ok)
	assert.Equal(t, "Inactive", label)

	require.Len(t, e.Subgrids, 1)
	assert.Equal(t, Subgrid{Entity: "cars", Title: "Cars", ForeignKey: "contacto_id", Icon: DefaultSubgridIcon, Label: "Cars"}, e.Subgrids[0])

	assert.Equal(t, []string{"full_name", "status"}, e.Columns())
	assert.False(t, e.Writable("id"))
	assert.False(t, e.Writable("total"))
	assert.False(t, e.Writable("unknown"))
}

func TestParse_ExplicitEmptyRights(t *testing.T) {
	e, err := Parse([]byte("entity: a\ntitle: A\ntable: a\nrights: []\n"))
	require.NoError(t, err)
	assert.Empty(t, e.Rights)
	assert.False(t, e.Permits("U"))
}

func TestParse_LintFailures(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"no title", "entity: a\ntable: a\n", "title is required"},
		{"no table", "entity: a\ntitle: A\n", "table is required"},
		{"unknown type", "entity: a\ntitle: A\ntable: a\nfields:\n  - {id: x, type: color}\n", `unknown field type "color"`},
		{"duplicate field", "entity: a\ntitle: A\ntable: a\nfields:\n  - {id: x}\n  - {id: x}\n", "duplicate field id"},
		{"select without options", "entity: a\ntitle: A\ntable: a\nfields:\n  - {id: x, type: radio}\n", "radio field requires options"},
		{"unknown hook stage", "entity: a\ntitle: A\ntable: a\nhooks: {on_save: a.x}\n", `unknown hook stage "on_save"`},
		{"get without id", "entity: a\ntitle: A\ntable: a\nqueries: {get: SELECT * FROM a}\n", ":id placeholder"},
		{"subgrid without key", "entity: a\ntitle: A\ntable: a\nsubgrids:\n  - {entity: b}\n", "entity and foreign_key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDisplayAndFormFields(t *testing.T) {
	e := &Entity{Fields: []Field{
		{ID: "id", Type: TypeHidden},
		{ID: "pwd", Type: TypePassword},
		{ID: "notes", Type: TypeTextarea, HiddenInGrid: true},
		{ID: "total", Type: TypeNumber, GridOnly: true},
		{ID: "internal", Type: TypeText, HiddenInForm: true},
	}}
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"} {
		e.Fields = append(e.Fields, Field{ID: id, Type: TypeText})
	}

	display := e.DisplayFields()
	require.Len(t, display, MaxDisplayFields)
	assert.Equal(t, "total", display[0].ID)
	assert.Equal(t, "internal", display[1].ID)
	assert.Equal(t, "f", display[MaxDisplayFields-1].ID)

	ids := []string{}
	for _, f := range e.FormFields() {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []string{"id", "pwd", "notes", "a", "b", "c", "d", "e", "f", "g", "h", "i"}, ids)
}

func TestLoadAllEntities(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("a.yaml", "entity: a\ntitle: A\ntable: a\n")
	write("nested/b.yml", "entity: b\ntitle: B\ntable: b\n")
	write("z.yaml", "entity: a\ntitle: Again\ntable: a2\n")
	write("bad.yaml", "entity: [")
	write("notes.txt", "entity: c")

	entities, errs := LoadAllEntities(dir)
	names := []string{}
	for _, e := range entities {
		names = append(names, e.Name)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, names)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Error()+errs[1].Error(), `duplicate entity "a"`)

	_, errs = LoadAllEntities(filepath.Join(dir, "missing"))
	assert.Len(t, errs, 1)
}

func TestLintSubgrids(t *testing.T) {
	parent, err := Parse([]byte("entity: p\ntitle: P\ntable: p\nsubgrids:\n  - {entity: c, foreign_key: p_id}\n  - {entity: c, foreign_key: other}\n  - {entity: ghost, foreign_key: p_id}\n"))
	require.NoError(t, err)
	child, err := Parse([]byte("entity: c\ntitle: C\ntable: c\nfields:\n  - {id: p_id, type: hidden}\n"))
	require.NoError(t, err)

	issues := LintSubgrids(map[string]*Entity{"p": parent, "c": child})
	codes := []string{}
	for _, it := range issues {
		codes = append(codes, it.Code)
	}
	assert.ElementsMatch(t, []string{"subgrid_fk_unknown", "subgrid_entity_unknown"}, codes)
}

func TestBuildMenu(t *testing.T) {
	entities := []*Entity{
		{Name: "users", Title: "Users", Rights: []string{"A"}, MenuCategory: "Admin", MenuOrder: 5},
		{Name: "roles", Title: "Roles", Rights: []string{"A"}, MenuCategory: "Admin", MenuOrder: 2},
		{Name: "contactos", Title: "Contactos", Rights: DefaultRights, MenuOrder: 1, MenuIcon: "bi bi-person"},
		{Name: "agenda", Title: "Agenda", Rights: DefaultRights, MenuOrder: 1},
		{Name: "cars", Title: "Cars", Rights: DefaultRights, MenuHidden: true},
	}

	m := BuildMenu(entities, "U")
	require.Len(t, m.NavLinks, 2)
	assert.Equal(t, "Agenda", m.NavLinks[0].Label)
	assert.Equal(t, DefaultMenuIcon, m.NavLinks[0].Icon)
	assert.Equal(t, "/admin/contactos", m.NavLinks[1].Href)
	assert.Empty(t, m.Dropdowns)

	m = BuildMenu(entities, "A")
	require.Len(t, m.Dropdowns, 1)
	assert.Equal(t, 2, m.Dropdowns[0].Order)
	assert.Equal(t, "Roles", m.Dropdowns[0].Items[0].Label)
	assert.Equal(t, "Users", m.Dropdowns[0].Items[1].Label)

	// без роли: всё, кроме скрытых
	m = BuildMenu(entities, "")
	assert.Len(t, m.NavLinks, 2)
	assert.Len(t, m.Dropdowns[0].Items, 2)
}

func TestHumanize(t *testing.T) {
	assert.Equal(t, "Contacto Id", Humanize("contacto_id"))
	assert.Equal(t, "Name", Humanize("name"))
}

func TestParse_Concurrent(t *testing.T) {
	src := []byte("entity: contactos\ntitle: Contactos\ntable: contactos\nfields:\n  - {id: full_name}\n  - {id: contacto_id, type: hidden}\nsubgrids:\n  - {entity: parent_cars, foreign_key: contacto_id}\n")

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				e, err := Parse(src)
				if err != nil {
					errs <- err
					return
				}
				if e.Fields[0].Label != "Full Name" || e.Subgrids[0].Title != "Parent Cars" {
					errs <- fmt.Errorf("garbled labels: %q, %q", e.Fields[0].Label, e.Subgrids[0].Title)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
