package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"tabgrid/internal/dsl"
	"tabgrid/internal/engine"
	"tabgrid/internal/store"
)

// GET /: на первую доступную сущность меню.
func (s *Server) HomeHandler(c *gin.Context) {
	m := s.eng.Registry().Menu(role(c))
	switch {
	case len(m.NavLinks) > 0:
		c.Redirect(http.StatusFound, m.NavLinks[0].Href)
	case len(m.Dropdowns) > 0 && len(m.Dropdowns[0].Items) > 0:
		c.Redirect(http.StatusFound, m.Dropdowns[0].Items[0].Href)
	default:
		s.errorPage(c, http.StatusNotFound, "grid.no_records")
	}
}

// GET /admin/:entity?id=&tab=
func (s *Server) TabbedHandler(c *gin.Context) {
	ent, status, key := s.authorize(c)
	if ent == nil {
		s.errorPage(c, status, key)
		return
	}
	ctx := c.Request.Context()
	l := s.localizer(c)
	id := c.Query("id")

	// прямая ссылка на удалённую/чужую запись: отдельная панель
	if id != "" {
		if _, ok := s.eng.GetRecord(ctx, ent.Name, id); !ok {
			s.page(c, http.StatusNotFound, ent.Title, func(w io.Writer) error {
				return s.view.NotFound(w, l, ent.Name)
			})
			return
		}
	}
	s.page(c, http.StatusOK, ent.Title, func(w io.Writer) error {
		return s.view.TabbedView(ctx, w, l, ent, id, c.Query("tab"))
	})
}

// GET /admin/:entity/grid?parent_entity=&parent_id=
func (s *Server) GridHandler(c *gin.Context) {
	ent, status, key := s.authorize(c)
	if ent == nil {
		s.errorPage(c, status, key)
		return
	}
	parentEntity, parentID := c.Query("parent_entity"), c.Query("parent_id")
	fk := c.Query("foreign_key")
	if fk == "" && parentEntity != "" {
		fk = s.parentFK(parentEntity, ent.Name)
	}
	rows := s.eng.ListRecords(c.Request.Context(), ent.Name, parentID, fk)
	l := s.localizer(c)
	s.page(c, http.StatusOK, ent.Title, func(w io.Writer) error {
		return s.view.Grid(w, l, ent, rows, parentID, parentEntity)
	})
}

// GET /admin/:entity/add-form[/:parent_id]?parent_entity=
// С родителем скрытые поля и колонка связи заполняются его id.
func (s *Server) AddFormHandler(c *gin.Context) {
	ent, status, key := s.authorize(c)
	if ent == nil {
		s.errorPage(c, status, key)
		return
	}
	if !ent.Actions.New {
		s.errorPage(c, http.StatusForbidden, "error.forbidden")
		return
	}
	parentID := c.Param("parent_id")
	if parentID == "" {
		parentID = c.Query("parent_id")
	}
	parentEntity := c.Query("parent_entity")

	row := store.Record{}
	if parentID != "" {
		for _, f := range ent.Fields {
			if f.Type == dsl.TypeHidden && f.ID != "id" {
				row[f.ID] = parentID
			}
		}
		if fk := s.parentFK(parentEntity, ent.Name); fk != "" {
			row[fk] = parentID
		}
	}
	l := s.localizer(c)
	s.page(c, http.StatusOK, ent.Title, func(w io.Writer) error {
		return s.view.Form(w, l, ent, row, parentEntity, parentID)
	})
}

// GET /admin/:entity/edit-form/:id?parent_entity=&parent_id=
func (s *Server) EditFormHandler(c *gin.Context) {
	ent, status, key := s.authorize(c)
	if ent == nil {
		s.errorPage(c, status, key)
		return
	}
	if !ent.Actions.Edit {
		s.errorPage(c, http.StatusForbidden, "error.forbidden")
		return
	}
	ctx := c.Request.Context()
	l := s.localizer(c)
	row, ok := s.eng.GetRecord(ctx, ent.Name, c.Param("id"))
	if !ok {
		s.page(c, http.StatusNotFound, ent.Title, func(w io.Writer) error {
			return s.view.NotFound(w, l, ent.Name)
		})
		return
	}
	s.page(c, http.StatusOK, ent.Title, func(w io.Writer) error {
		return s.view.Form(w, l, ent, row, c.Query("parent_entity"), c.Query("parent_id"))
	})
}

// POST /api/admin/reload: перечитать декларации и подменить реестр.
// Битые файлы пропускаются; если не загрузилось ничего или миграция
// упала, старый реестр остаётся.
func (s *Server) AdminReloadHandler(c *gin.Context) {
	if role(c) == s.opts.GuestLevel {
		c.JSON(http.StatusForbidden, gin.H{"ok": false, "error": s.localizer(c).T("error.unauthorized")})
		return
	}
	log := logger(c)
	reg := engine.LoadRegistry(s.opts.EntitiesDir, s.opts.Hooks, log)

	errs := make([]string, 0, len(reg.Errors))
	for _, err := range reg.Errors {
		errs = append(errs, err.Error())
	}
	issues := reg.Issues
	if issues == nil {
		issues = []dsl.SchemaIssue{}
	}

	if len(reg.Entities()) == 0 && len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"ok":     false,
			"error":  "no entity declaration could be loaded",
			"errors": errs,
			"issues": issues,
			"dir":    s.opts.EntitiesDir,
		})
		return
	}

	if s.opts.Migrate != nil {
		if err := s.opts.Migrate(c.Request.Context(), reg.Entities()); err != nil {
			log.ErrorContext(c.Request.Context(), "reload migration failed", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"ok":    false,
				"error": s.localizer(c).T("error.general"),
				"dir":   s.opts.EntitiesDir,
			})
			return
		}
	}

	s.eng.Swap(reg)
	log.InfoContext(c.Request.Context(), "registry reloaded", "entities", len(reg.Entities()), "errors", len(errs), "issues", len(issues))
	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"entities": len(reg.Entities()),
		"migrated": s.opts.Migrate != nil,
		"errors":   errs,
		"issues":   issues,
		"dir":      s.opts.EntitiesDir,
	})
}
