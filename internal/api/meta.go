package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tabgrid/internal/dsl"
	"tabgrid/internal/hooks"
)

// ===== META HANDLERS =====

type metaEntityListItem struct {
	Entity     string `json:"entity"`
	Title      string `json:"title"`
	Table      string `json:"table"`
	Connection string `json:"connection"`
	Subgrids   int    `json:"subgrids"`
}

// GET /api/meta: сущности, доступные роли.
func (s *Server) MetaListHandler(c *gin.Context) {
	entities := s.eng.Registry().Entities()
	out := make([]metaEntityListItem, 0, len(entities))
	for _, e := range entities {
		if !e.Permits(role(c)) {
			continue
		}
		out = append(out, metaEntityListItem{
			Entity:     e.Name,
			Title:      e.Title,
			Table:      e.Table,
			Connection: e.Connection,
			Subgrids:   len(e.Subgrids),
		})
	}
	c.JSON(http.StatusOK, out)
}

type metaEntity struct {
	*dsl.Entity
	DisplayFields []string `json:"display_fields"`
	FormFields    []string `json:"form_fields"`
	HookStages    []string `json:"hook_stages"`
}

// GET /api/meta/:entity отдаёт декларацию после загрузки: с умолчаниями,
// без отброшенных вкладок; hook_stages: только разрешённые хуки.
func (s *Server) MetaEntityHandler(c *gin.Context) {
	ent, status, key := s.authorize(c)
	if ent == nil {
		c.JSON(status, gin.H{"error": s.localizer(c).T(key)})
		return
	}
	m := metaEntity{Entity: ent, DisplayFields: []string{}, FormFields: []string{}, HookStages: []string{}}
	for _, f := range ent.DisplayFields() {
		m.DisplayFields = append(m.DisplayFields, f.ID)
	}
	for _, f := range ent.FormFields() {
		m.FormFields = append(m.FormFields, f.ID)
	}
	set := s.eng.Registry().Hooks(ent.Name)
	for _, stage := range dsl.HookStages {
		if set.Has(hooks.Stage(stage)) {
			m.HookStages = append(m.HookStages, stage)
		}
	}
	c.JSON(http.StatusOK, m)
}

// GET /api/menu
func (s *Server) MenuHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.eng.Registry().Menu(role(c)))
}
