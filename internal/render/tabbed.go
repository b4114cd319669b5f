package render

import (
	"context"
	"io"

	"tabgrid/internal/dsl"
	"tabgrid/internal/i18n"
	"tabgrid/internal/store"
)

type detailRow struct {
	Label    string
	Value    string
	ImageURL string
}

type detailView struct {
	L       i18n.Localizer
	Entity  string
	ID      string
	Empty   bool
	Rows    []detailRow
	Actions dsl.Actions
	EditURL string
	DelURL  string
}

type pickerRow struct {
	ID    string
	Cells []string
}

type pickerView struct {
	L       i18n.Localizer
	Entity  string
	Title   string
	ModalID string
	Fields  []dsl.Field
	Rows    []pickerRow
}

type tabView struct {
	Subgrid  dsl.Subgrid
	PaneID   string
	TableID  string
	ParentID string
	Active   bool
}

type tabbedView struct {
	L          i18n.Localizer
	Entity     *dsl.Entity
	Count      int
	SelectedID string
	NewURL     string
	Picker     pickerView
	Detail     detailView
	MainPane   string
	MainActive bool
	Tabs       []tabView
}

// Selection хранит выбор вида: id записи и активную вкладку ("" для основной).
type Selection struct {
	ID  string
	Tab string
}

// Resolve выбирает запись и вкладку. Без id берётся первая строка; вкладка это
// подгрид с таким entity, иначе основная.
func Resolve(ent *dsl.Entity, rows []store.Record, selectedID, currentTab string) Selection {
	sel := Selection{ID: selectedID}
	if sel.ID == "" && len(rows) > 0 {
		sel.ID = rows[0].ID()
	}
	if currentTab != "" && currentTab != ent.Name {
		if _, ok := ent.Subgrid(currentTab); ok {
			sel.Tab = currentTab
		}
	}
	return sel
}

// TabbedView рисует основной вид сущности: шапка, выбор записи, детальная
// карточка и по вкладке на каждый подгрид.
func (r *Renderer) TabbedView(ctx context.Context, w io.Writer, l i18n.Localizer, ent *dsl.Entity, selectedID, currentTab string) error {
	rows := r.src.ListRecords(ctx, ent.Name, "", "")
	sel := Resolve(ent, rows, selectedID, currentTab)

	var rec store.Record
	if sel.ID != "" {
		rec, _ = r.src.GetRecord(ctx, ent.Name, sel.ID)
	}

	v := tabbedView{
		L:          l,
		Entity:     ent,
		Count:      len(rows),
		SelectedID: sel.ID,
		Picker:     r.picker(l, ent, rows),
		Detail:     r.detail(l, ent, rec),
		MainPane:   "tab-" + ent.Name,
		MainActive: sel.Tab == "",
	}
	if ent.Actions.New {
		v.NewURL = "/admin/" + ent.Name + "/add-form"
	}
	for _, s := range ent.Subgrids {
		v.Tabs = append(v.Tabs, tabView{
			Subgrid:  s,
			PaneID:   "tab-" + s.Entity,
			TableID:  ent.Name + "-" + s.Entity + "-table",
			ParentID: sel.ID,
			Active:   sel.Tab == s.Entity,
		})
	}
	return r.tmpl.ExecuteTemplate(w, "tabbed", v)
}

func (r *Renderer) detail(l i18n.Localizer, ent *dsl.Entity, rec store.Record) detailView {
	d := detailView{L: l, Entity: ent.Name, Actions: ent.Actions, Empty: rec == nil}
	if rec == nil {
		return d
	}
	d.ID = rec.ID()
	d.EditURL = "/admin/" + ent.Name + "/edit-form/" + d.ID
	d.DelURL = "/admin/" + ent.Name + "/delete/" + d.ID
	for _, f := range ent.DisplayFields() {
		row := detailRow{Label: f.Label}
		if f.Type == dsl.TypeFile {
			if name := store.ToString(rec[f.ID]); name != "" {
				row.ImageURL = r.FileURL(name)
			}
			row.Value = "-"
		} else {
			row.Value = displayValue(f, rec[f.ID])
		}
		d.Rows = append(d.Rows, row)
	}
	return d
}

func (r *Renderer) picker(l i18n.Localizer, ent *dsl.Entity, rows []store.Record) pickerView {
	p := pickerView{
		L:       l,
		Entity:  ent.Name,
		Title:   ent.Title,
		ModalID: ent.Name + "-select-parent-modal",
		Fields:  ent.DisplayFields(),
	}
	for _, rec := range rows {
		pr := pickerRow{ID: rec.ID()}
		for _, f := range p.Fields {
			pr.Cells = append(pr.Cells, displayValue(f, rec[f.ID]))
		}
		p.Rows = append(p.Rows, pr)
	}
	return p
}

type gridCell struct {
	Text     string
	ImageURL string
}

type gridRow struct {
	ID        string
	Cells     []gridCell
	EditURL   string
	DeleteURL string
}

type gridView struct {
	L       i18n.Localizer
	Entity  *dsl.Entity
	Fields  []dsl.Field
	Rows    []gridRow
	NewURL  string
	Colspan int
}

// Grid рисует простую таблицу: все строки на сервере, пустой набор даёт одну
// строку-заглушку на всю ширину.
func (r *Renderer) Grid(w io.Writer, l i18n.Localizer, ent *dsl.Entity, rows []store.Record, parentID, parentEntity string) error {
	fields := ent.DisplayFields()
	v := gridView{L: l, Entity: ent, Fields: fields, Colspan: len(fields) + 1}
	for _, rec := range rows {
		id := rec.ID()
		gr := gridRow{ID: id}
		for _, f := range fields {
			c := gridCell{}
			if f.Type == dsl.TypeFile {
				if name := store.ToString(rec[f.ID]); name != "" {
					c.ImageURL = r.FileURL(name)
				}
				c.Text = "-"
			} else {
				c.Text = displayValue(f, rec[f.ID])
			}
			gr.Cells = append(gr.Cells, c)
		}
		if ent.Actions.Edit {
			gr.EditURL = withParent("/admin/"+ent.Name+"/edit-form/"+id, parentEntity, parentID)
		}
		if ent.Actions.Delete {
			gr.DeleteURL = withParent("/admin/"+ent.Name+"/delete/"+id, parentEntity, parentID)
		}
		v.Rows = append(v.Rows, gr)
	}
	if ent.Actions.New {
		u := "/admin/" + ent.Name + "/add-form"
		if parentID != "" && parentEntity != "" {
			u = withParent(u+"/"+parentID, parentEntity, parentID)
		}
		v.NewURL = u
	}
	return r.tmpl.ExecuteTemplate(w, "grid", v)
}
