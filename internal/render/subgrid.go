package render

import (
	"tabgrid/internal/dsl"
	"tabgrid/internal/store"
)

// SubgridData: ответ эндпоинта подгрида. Columns задаёт порядок колонок:
// ключи Fields в JSON сортируются.
type SubgridData struct {
	Success      bool                         `json:"success"`
	Rows         []store.Record               `json:"rows"`
	Fields       map[string]string            `json:"fields"`
	FieldTypes   map[string]string            `json:"field_types"`
	FieldOptions map[string]map[string]string `json:"field_options"`
	Actions      dsl.Actions                  `json:"actions"`
	Columns      []string                     `json:"columns"`
	UploadsURL   string                       `json:"uploads_url"`
}

// Subgrid собирает данные подгрида по полям отображения дочерней сущности.
func (r *Renderer) Subgrid(ent *dsl.Entity, rows []store.Record) SubgridData {
	d := SubgridData{
		Success:      true,
		Rows:         rows,
		Fields:       map[string]string{},
		FieldTypes:   map[string]string{},
		FieldOptions: map[string]map[string]string{},
		Actions:      ent.Actions,
		Columns:      []string{},
		UploadsURL:   r.uploadsURL,
	}
	if d.Rows == nil {
		d.Rows = []store.Record{}
	}
	for _, f := range ent.DisplayFields() {
		d.Columns = append(d.Columns, f.ID)
		d.Fields[f.ID] = f.Label
		d.FieldTypes[f.ID] = f.Type
		if f.HasOptions() {
			opts := make(map[string]string, len(f.Options))
			for _, o := range f.Options {
				opts[o.Value] = o.Label
			}
			d.FieldOptions[f.ID] = opts
		}
	}
	return d
}
