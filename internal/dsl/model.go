package dsl

// MaxDisplayFields: сколько полей показывает грид.
const MaxDisplayFields = 8

// Типы полей формы.
const (
	TypeText     = "text"
	TypeEmail    = "email"
	TypePassword = "password"
	TypeNumber   = "number"
	TypeDate     = "date"
	TypeTextarea = "textarea"
	TypeSelect   = "select"
	TypeRadio    = "radio"
	TypeCheckbox = "checkbox"
	TypeFile     = "file"
	TypeHidden   = "hidden"
)

var knownTypes = map[string]struct{}{
	TypeText: {}, TypeEmail: {}, TypePassword: {}, TypeNumber: {}, TypeDate: {},
	TypeTextarea: {}, TypeSelect: {}, TypeRadio: {}, TypeCheckbox: {}, TypeFile: {}, TypeHidden: {},
}

// Option: пара value/label для select и radio. Value уже приведён к строке.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Field описывает поле формы/грида
type Field struct {
	ID           string   `json:"id"`
	Label        string   `json:"label"`
	Type         string   `json:"type"`
	Required     bool     `json:"required,omitempty"`
	Placeholder  string   `json:"placeholder,omitempty"`
	Options      []Option `json:"options,omitempty"`
	HiddenInGrid bool     `json:"hidden_in_grid,omitempty"`
	HiddenInForm bool     `json:"hidden_in_form,omitempty"`
	GridOnly     bool     `json:"grid_only,omitempty"`
	FK           string   `json:"fk,omitempty"` // сущность, на которую ссылается поле
}

// HasOptions: поле рендерится списком опций.
func (f Field) HasOptions() bool {
	return f.Type == TypeSelect || f.Type == TypeRadio
}

// OptionLabel ищет label опции по значению; ok=false если такой опции нет.
func (f Field) OptionLabel(value string) (string, bool) {
	for _, o := range f.Options {
		if o.Value == value {
			return o.Label, true
		}
	}
	return "", false
}

// Subgrid: дочерняя сущность, показываемая вкладкой у родителя.
type Subgrid struct {
	Entity     string `json:"entity"`
	Title      string `json:"title"`
	ForeignKey string `json:"foreign_key"`
	Icon       string `json:"icon"`
	Label      string `json:"label"`
}

type Actions struct {
	New    bool `json:"new"`
	Edit   bool `json:"edit"`
	Delete bool `json:"delete"`
}

// Queries: необязательные собственные запросы. Get обязан содержать :id.
type Queries struct {
	List string `json:"list,omitempty"`
	Get  string `json:"get,omitempty"`
}

// Entity: полное описание сущности из декларации. После загрузки не меняется.
type Entity struct {
	Name         string            `json:"entity"`
	Title        string            `json:"title"`
	Table        string            `json:"table"`
	Connection   string            `json:"connection"`
	Rights       []string          `json:"rights"`
	MenuCategory string            `json:"menu_category,omitempty"`
	MenuOrder    int               `json:"menu_order"`
	MenuHidden   bool              `json:"menu_hidden,omitempty"`
	MenuIcon     string            `json:"menu_icon,omitempty"`
	Fields       []Field           `json:"fields"`
	Queries      Queries           `json:"queries"`
	Actions      Actions           `json:"actions"`
	Hooks        map[string]string `json:"hooks,omitempty"` // стадия -> ссылка на зарегистрированный хук
	Subgrids     []Subgrid         `json:"subgrids,omitempty"`

	Source  string              `json:"-"` // файл декларации
	columns map[string]struct{} // белый список колонок для записи
}

// DisplayFields возвращает поля для грида без hidden/password/hidden_in_grid, не больше MaxDisplayFields.
func (e *Entity) DisplayFields() []Field {
	out := make([]Field, 0, MaxDisplayFields)
	for _, f := range e.Fields {
		if f.Type == TypeHidden || f.Type == TypePassword || f.HiddenInGrid {
			continue
		}
		out = append(out, f)
		if len(out) == MaxDisplayFields {
			break
		}
	}
	return out
}

// FormFields возвращает поля формы без grid_only и hidden_in_form.
func (e *Entity) FormFields() []Field {
	out := make([]Field, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.GridOnly || f.HiddenInForm {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Field ищет поле по id.
func (e *Entity) Field(id string) (Field, bool) {
	for _, f := range e.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// Writable: можно ли присвоить колонку записи. id не присваивается никогда.
func (e *Entity) Writable(column string) bool {
	_, ok := e.columns[column]
	return ok
}

// Columns: колонки хранилища в порядке объявления (без id и grid_only).
func (e *Entity) Columns() []string {
	out := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if _, ok := e.columns[f.ID]; ok {
			out = append(out, f.ID)
		}
	}
	return out
}

// Permits: есть ли роль среди rights.
func (e *Entity) Permits(role string) bool {
	for _, r := range e.Rights {
		if r == role {
			return true
		}
	}
	return false
}

// Subgrid ищет вкладку по сущности.
func (e *Entity) Subgrid(entity string) (Subgrid, bool) {
	for _, s := range e.Subgrids {
		if s.Entity == entity {
			return s, true
		}
	}
	return Subgrid{}, false
}

func (e *Entity) buildColumns() {
	e.columns = make(map[string]struct{}, len(e.Fields))
	for _, f := range e.Fields {
		if f.ID == "id" || f.GridOnly {
			continue
		}
		e.columns[f.ID] = struct{}{}
	}
}
