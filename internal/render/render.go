// Package render строит HTML движка: поля формы, форму, вкладочный
// master/detail вид, простой грид и панели ошибок. Вкладки подгридов
// отдаются пустыми; строки подтягивает клиент (static/tabgrid.js) один раз
// за загрузку страницы.
package render

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"io"
	"math/rand/v2"
	"net/url"
	"strconv"
	"strings"

	"tabgrid/internal/dsl"
	"tabgrid/internal/i18n"
	"tabgrid/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/tabgrid.js
var TabgridJS []byte

// Source: откуда вид берёт строки. Реализуется engine.Engine.
type Source interface {
	ListRecords(ctx context.Context, entity, parentID, foreignKey string) []store.Record
	GetRecord(ctx context.Context, entity, id string) (store.Record, bool)
}

type Options struct {
	UploadsURL string     // префикс публичных адресов загрузок, по умолчанию /uploads
	Rand       func() int // cache-buster для превью файлов
}

type Renderer struct {
	src        Source
	tmpl       *template.Template
	uploadsURL string
	rand       func() int
}

func New(src Source, opts Options) (*Renderer, error) {
	tmpl, err := template.New("render").Funcs(template.FuncMap{
		"tab": func(l i18n.Localizer, t tabView) any {
			return struct {
				L   i18n.Localizer
				Tab tabView
			}{l, t}
		},
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	r := &Renderer{
		src:        src,
		tmpl:       tmpl,
		uploadsURL: strings.TrimRight(opts.UploadsURL, "/"),
		rand:       opts.Rand,
	}
	if r.uploadsURL == "" {
		r.uploadsURL = "/uploads"
	}
	if r.rand == nil {
		r.rand = func() int { return rand.IntN(10000) + 1 }
	}
	return r, nil
}

// FileURL: публичный адрес сохранённого файла; уже полный адрес не
// префиксуется повторно.
func (r *Renderer) FileURL(name string) string {
	if strings.HasPrefix(name, r.uploadsURL+"/") {
		return name
	}
	return r.uploadsURL + "/" + url.PathEscape(name)
}

// Checked: истинность значения чекбокса.
func Checked(v any) bool {
	switch s := strings.TrimSpace(store.ToString(v)); s {
	case "", "0", "false", "F", "f", "off":
		return false
	}
	return true
}

type optionView struct {
	Value    string
	Label    string
	Selected bool
}

type fieldView struct {
	L           i18n.Localizer
	ID          string
	Label       string
	Type        string
	Required    bool
	Placeholder string
	Value       string
	Checked     bool
	Options     []optionView
	PreviewURL  string
}

func (r *Renderer) fieldView(l i18n.Localizer, f dsl.Field, v any) fieldView {
	fv := fieldView{
		L:           l,
		ID:          f.ID,
		Label:       f.Label,
		Type:        f.Type,
		Required:    f.Required,
		Placeholder: f.Placeholder,
		Value:       store.ToString(v),
	}
	if fv.Placeholder == "" {
		fv.Placeholder = f.Label + "..."
	}
	switch f.Type {
	case dsl.TypeSelect, dsl.TypeRadio:
		for _, o := range f.Options {
			// сравнение по строковому виду, 1 и "1" это одна опция
			fv.Options = append(fv.Options, optionView{Value: o.Value, Label: o.Label, Selected: o.Value == fv.Value})
		}
	case dsl.TypeCheckbox:
		fv.Checked = Checked(v)
	case dsl.TypeFile:
		if fv.Value != "" {
			fv.PreviewURL = r.FileURL(fv.Value) + "?v=" + strconv.Itoa(r.rand())
		}
	case dsl.TypeText, dsl.TypeEmail, dsl.TypePassword, dsl.TypeNumber,
		dsl.TypeDate, dsl.TypeTextarea, dsl.TypeHidden:
	default:
		fv.Type = dsl.TypeText
	}
	return fv
}

// Field: разметка одного поля формы.
func (r *Renderer) Field(w io.Writer, l i18n.Localizer, f dsl.Field, value any) error {
	return r.tmpl.ExecuteTemplate(w, "field", r.fieldView(l, f, value))
}

type formView struct {
	L           i18n.Localizer
	Entity      string
	Action      string
	Fields      []fieldView
	RedirectURL string
}

// Form: форма создания/редактирования. parentEntity/parentID задают
// возврат на вкладку подгрида после сохранения.
func (r *Renderer) Form(w io.Writer, l i18n.Localizer, ent *dsl.Entity, row store.Record, parentEntity, parentID string) error {
	v := formView{L: l, Entity: ent.Name, Action: "/admin/" + ent.Name + "/save"}
	if id := row.ID(); id != "" {
		v.Fields = append(v.Fields, fieldView{L: l, ID: "id", Type: dsl.TypeHidden, Value: id})
	}
	for _, f := range ent.FormFields() {
		if f.ID == "id" {
			continue
		}
		v.Fields = append(v.Fields, r.fieldView(l, f, row[f.ID]))
	}
	if parentEntity != "" && parentID != "" {
		v.RedirectURL = TabURL(parentEntity, parentID, ent.Name)
	}
	return r.tmpl.ExecuteTemplate(w, "form", v)
}

// TabURL: адрес вкладочного вида с выбранной записью и вкладкой.
func TabURL(entity, id, tab string) string {
	q := url.Values{}
	if id != "" {
		q.Set("id", id)
	}
	if tab != "" {
		q.Set("tab", tab)
	}
	u := "/admin/" + entity
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func withParent(u, parentEntity, parentID string) string {
	if parentEntity == "" || parentID == "" {
		return u
	}
	q := url.Values{}
	q.Set("parent_entity", parentEntity)
	q.Set("parent_id", parentID)
	return u + "?" + q.Encode()
}

// displayValue возвращает текст ячейки: label опции, "-" для пустого.
func displayValue(f dsl.Field, v any) string {
	s := store.ToString(v)
	if s == "" {
		return "-"
	}
	switch f.Type {
	case dsl.TypeSelect, dsl.TypeRadio:
		if label, ok := f.OptionLabel(s); ok {
			return label
		}
	case dsl.TypeCheckbox:
		if Checked(v) {
			return "✓"
		}
		return "-"
	}
	return s
}

type errorView struct {
	L       i18n.Localizer
	Message string
}

func (r *Renderer) Error(w io.Writer, l i18n.Localizer, msg string) error {
	return r.tmpl.ExecuteTemplate(w, "error", errorView{L: l, Message: msg})
}

// NotFound: отдельная панель для прямой навигации на отсутствующую запись.
func (r *Renderer) NotFound(w io.Writer, l i18n.Localizer, entity string) error {
	return r.tmpl.ExecuteTemplate(w, "not_found", struct {
		L      i18n.Localizer
		Entity string
	}{l, entity})
}

type pageView struct {
	L     i18n.Localizer
	Title string
	Menu  dsl.Menu
	Body  template.HTML
}

// Page оборачивает фрагмент в полную страницу с меню.
func (r *Renderer) Page(w io.Writer, l i18n.Localizer, title string, menu dsl.Menu, body func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := body(&buf); err != nil {
		return err
	}
	// фрагмент уже собран нашими шаблонами и экранирован
	return r.tmpl.ExecuteTemplate(w, "page", pageView{L: l, Title: title, Menu: menu, Body: template.HTML(buf.String())})
}
