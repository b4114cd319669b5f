package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tabgrid/internal/dsl"
	"tabgrid/internal/engine"
)

// isXHR: запрос пришёл из tabgrid.js (fetch/XHR), а не навигацией.
func isXHR(c *gin.Context) bool {
	return c.GetHeader("X-Requested-With") == "XMLHttpRequest" ||
		strings.Contains(c.GetHeader("Accept"), "application/json")
}

// safeRedirect пропускает только локальные пути.
func safeRedirect(u, fallback string) string {
	if !strings.HasPrefix(u, "/") || strings.HasPrefix(u, "//") || strings.HasPrefix(u, "/\\") {
		return fallback
	}
	return u
}

// authorize: сущность и роль; статус и ключ перевода на отказ.
func (s *Server) authorize(c *gin.Context) (*dsl.Entity, int, string) {
	ent, err := s.eng.Authorize(c.Param("entity"), role(c))
	switch {
	case errors.Is(err, engine.ErrUnknownEntity):
		return nil, http.StatusNotFound, "error.entity_not_found"
	case errors.Is(err, engine.ErrUnauthorized):
		return nil, http.StatusForbidden, "error.unauthorized"
	}
	return ent, http.StatusOK, ""
}

// page отдаёт фрагмент: целиком страницей для навигации, голым для XHR.
func (s *Server) page(c *gin.Context, status int, title string, body func(io.Writer) error) {
	l := s.localizer(c)
	var buf bytes.Buffer
	var err error
	if c.GetHeader("X-Requested-With") == "XMLHttpRequest" {
		err = body(&buf)
	} else {
		err = s.view.Page(&buf, l, title, s.eng.Registry().Menu(role(c)), body)
	}
	if err != nil {
		logger(c).ErrorContext(c.Request.Context(), "render failed", "path", c.Request.URL.Path, "err", err)
		c.String(http.StatusInternalServerError, l.T("error.general"))
		return
	}
	c.Data(status, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Server) errorPage(c *gin.Context, status int, key string) {
	l := s.localizer(c)
	s.page(c, status, l.T(key), func(w io.Writer) error {
		return s.view.Error(w, l, l.T(key))
	})
}

// parentFK: колонка связи child с parent по вкладке parent.
func (s *Server) parentFK(parentEntity, child string) string {
	parent, ok := s.eng.Registry().Get(parentEntity)
	if !ok {
		return ""
	}
	if sg, ok := parent.Subgrid(child); ok {
		return sg.ForeignKey
	}
	return ""
}
