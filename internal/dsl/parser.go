package dsl

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"tabgrid/internal/store"
)

const (
	DefaultConnection  = "default"
	DefaultMenuOrder   = 999
	DefaultSubgridIcon = "bi bi-list-ul"
)

// DefaultRights: кому доступна сущность, если rights не указаны.
var DefaultRights = []string{"U", "A", "S"}

// HookStages: допустимые ключи блока hooks.
var HookStages = []string{"before_load", "after_load", "before_save", "after_save", "before_delete", "after_delete"}

// сырые структуры декларации: указатели там, где важно «не задано»
type rawOption struct {
	Value any    `yaml:"value"`
	Label string `yaml:"label"`
}

type rawField struct {
	ID           string      `yaml:"id"`
	Label        string      `yaml:"label"`
	Type         string      `yaml:"type"`
	Required     bool        `yaml:"required"`
	Placeholder  string      `yaml:"placeholder"`
	Options      []rawOption `yaml:"options"`
	HiddenInGrid bool        `yaml:"hidden_in_grid"`
	HiddenInForm bool        `yaml:"hidden_in_form"`
	GridOnly     bool        `yaml:"grid_only"`
	FK           string      `yaml:"fk"`
}

type rawSubgrid struct {
	Entity     string `yaml:"entity"`
	Title      string `yaml:"title"`
	ForeignKey string `yaml:"foreign_key"`
	Icon       string `yaml:"icon"`
	Label      string `yaml:"label"`
}

type rawActions struct {
	New    *bool `yaml:"new"`
	Edit   *bool `yaml:"edit"`
	Delete *bool `yaml:"delete"`
}

type rawEntity struct {
	Entity       string            `yaml:"entity"`
	Title        string            `yaml:"title"`
	Table        string            `yaml:"table"`
	Connection   string            `yaml:"connection"`
	Rights       []string          `yaml:"rights"`
	MenuCategory string            `yaml:"menu_category"`
	MenuOrder    *int              `yaml:"menu_order"`
	MenuHidden   bool              `yaml:"menu_hidden"`
	MenuIcon     string            `yaml:"menu_icon"`
	Fields       []rawField        `yaml:"fields"`
	Queries      map[string]string `yaml:"queries"`
	Actions      *rawActions       `yaml:"actions"`
	Hooks        map[string]string `yaml:"hooks"`
	Subgrids     []rawSubgrid      `yaml:"subgrids"`
}

// Parse разбирает одну декларацию и применяет значения по умолчанию.
// Блокирующие проблемы (см. Lint) делают декларацию невалидной целиком.
func Parse(data []byte) (*Entity, error) {
	var raw rawEntity
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	e := fromRaw(raw)
	if issues := Lint(e); len(issues) > 0 {
		msgs := make([]string, 0, len(issues))
		for _, it := range issues {
			msgs = append(msgs, it.String())
		}
		return nil, errors.New(strings.Join(msgs, "; "))
	}
	e.buildColumns()
	return e, nil
}

// LoadEntity читает файл декларации.
func LoadEntity(path string) (*Entity, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	e, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	e.Source = path
	return e, nil
}

// LoadAllEntities читает все *.yaml/*.yml из root. Битый файл не валит
// остальные: его ошибка уходит в errs, остальные сущности грузятся.
// Повтор имени сущности: ошибка второго файла.
func LoadAllEntities(root string) (entities []*Entity, errs []error) {
	seen := map[string]string{}
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if d.IsDir() || (ext != ".yaml" && ext != ".yml") {
			return nil
		}
		e, err := LoadEntity(path)
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		if prev, dup := seen[e.Name]; dup {
			errs = append(errs, fmt.Errorf("duplicate entity %q in %s (first declared in %s)", e.Name, path, prev))
			return nil
		}
		seen[e.Name] = path
		entities = append(entities, e)
		return nil
	})
	if walkErr != nil {
		errs = append(errs, walkErr)
	}
	return entities, errs
}

func fromRaw(raw rawEntity) *Entity {
	e := &Entity{
		Name:         strings.TrimSpace(raw.Entity),
		Title:        strings.TrimSpace(raw.Title),
		Table:        strings.TrimSpace(raw.Table),
		Connection:   strings.TrimSpace(raw.Connection),
		Rights:       raw.Rights,
		MenuCategory: raw.MenuCategory,
		MenuOrder:    DefaultMenuOrder,
		MenuHidden:   raw.MenuHidden,
		MenuIcon:     raw.MenuIcon,
		Queries:      Queries{List: strings.TrimSpace(raw.Queries["list"]), Get: strings.TrimSpace(raw.Queries["get"])},
		Actions:      Actions{New: true, Edit: true, Delete: true},
		Hooks:        map[string]string{},
	}
	if e.Connection == "" {
		e.Connection = DefaultConnection
	}
	if raw.Rights == nil {
		e.Rights = append([]string(nil), DefaultRights...)
	}
	if raw.MenuOrder != nil {
		e.MenuOrder = *raw.MenuOrder
	}
	if a := raw.Actions; a != nil {
		if a.New != nil {
			e.Actions.New = *a.New
		}
		if a.Edit != nil {
			e.Actions.Edit = *a.Edit
		}
		if a.Delete != nil {
			e.Actions.Delete = *a.Delete
		}
	}
	for k, v := range raw.Hooks {
		e.Hooks[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	for _, rf := range raw.Fields {
		f := Field{
			ID:           strings.TrimSpace(rf.ID),
			Label:        rf.Label,
			Type:         strings.ToLower(strings.TrimSpace(rf.Type)),
			Required:     rf.Required,
			Placeholder:  rf.Placeholder,
			HiddenInGrid: rf.HiddenInGrid,
			HiddenInForm: rf.HiddenInForm,
			GridOnly:     rf.GridOnly,
			FK:           strings.TrimSpace(rf.FK),
		}
		if f.Type == "" {
			f.Type = TypeText
		}
		if f.Label == "" {
			f.Label = Humanize(f.ID)
		}
		for _, ro := range rf.Options {
			f.Options = append(f.Options, Option{Value: store.ToString(ro.Value), Label: ro.Label})
		}
		e.Fields = append(e.Fields, f)
	}

	for _, rs := range raw.Subgrids {
		s := Subgrid{
			Entity:     strings.TrimSpace(rs.Entity),
			Title:      rs.Title,
			ForeignKey: strings.TrimSpace(rs.ForeignKey),
			Icon:       rs.Icon,
			Label:      rs.Label,
		}
		if s.Icon == "" {
			s.Icon = DefaultSubgridIcon
		}
		if s.Title == "" {
			s.Title = Humanize(s.Entity)
		}
		if s.Label == "" {
			s.Label = s.Title
		}
		e.Subgrids = append(e.Subgrids, s)
	}
	return e
}

// Humanize: "contacto_id" -> "Contacto Id". Caser хранит состояние,
// поэтому на каждый вызов свой: Parse идёт параллельно при reload.
func Humanize(id string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(id, "_", " "))
}
