package api

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"tabgrid/internal/render"
)

// GET /uploads/:name: сохранённые загрузки полей записей.
func (s *Server) UploadsHandler(c *gin.Context) {
	if s.opts.Blobs == nil {
		c.Status(http.StatusNotFound)
		return
	}
	p, err := s.opts.Blobs.Path(c.Param("name"))
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	if st, err := os.Stat(p); err != nil || st.IsDir() {
		c.Status(http.StatusNotFound)
		return
	}
	// имя детерминировано и перезаписывается: кэш только с ревалидацией
	c.Header("Cache-Control", "no-cache")
	c.File(p)
}

// GET /static/tabgrid.js
func ScriptHandler(c *gin.Context) {
	c.Header("Cache-Control", "public, max-age=300")
	c.Data(http.StatusOK, "application/javascript; charset=utf-8", render.TabgridJS)
}
