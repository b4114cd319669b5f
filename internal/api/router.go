// api/router.go
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tabgrid/internal/blob"
	"tabgrid/internal/dsl"
	"tabgrid/internal/engine"
	"tabgrid/internal/hooks"
	"tabgrid/internal/i18n"
	"tabgrid/internal/render"
)

const DefaultGuestLevel = "U"

type Options struct {
	EntitiesDir string         // откуда перечитывать декларации на reload
	Hooks       *hooks.Catalog // каталог для нового реестра на reload
	Blobs       blob.BlobStore // источник загрузок
	UploadsURL  string         // префикс маршрута загрузок, по умолчанию /uploads
	GuestLevel  string         // роль без X-User-Level
	MaxUploadMB int64
	Logger      *slog.Logger
	// Migrate применяет схему новых деклараций на reload (autoMigrate).
	Migrate func(ctx context.Context, entities []*dsl.Entity) error
}

type Server struct {
	eng  *engine.Engine
	view *render.Renderer
	tr   *i18n.Catalog
	opts Options
	log  *slog.Logger
}

func NewServer(eng *engine.Engine, view *render.Renderer, tr *i18n.Catalog, opts Options) *Server {
	if opts.GuestLevel == "" {
		opts.GuestLevel = DefaultGuestLevel
	}
	opts.UploadsURL = strings.TrimRight(opts.UploadsURL, "/")
	if opts.UploadsURL == "" {
		opts.UploadsURL = "/uploads"
	}
	if opts.MaxUploadMB <= 0 {
		opts.MaxUploadMB = 10
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Server{eng: eng, view: view, tr: tr, opts: opts, log: log}
}

// Router собирает gin-движок со всеми маршрутами.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = s.opts.MaxUploadMB << 20
	r.Use(requestLogger(s.log), gin.CustomRecovery(s.recovered), s.locale(), identity(s.opts.GuestLevel))

	r.GET("/", s.HomeHandler)
	r.GET("/static/tabgrid.js", ScriptHandler)
	r.GET(s.opts.UploadsURL+"/:name", s.UploadsHandler)

	admin := r.Group("/admin/:entity")
	{
		admin.GET("", s.TabbedHandler)
		admin.GET("/grid", s.GridHandler)
		admin.GET("/add-form", s.AddFormHandler)
		admin.GET("/add-form/:parent_id", s.AddFormHandler)
		admin.GET("/edit-form/:id", s.EditFormHandler)
		admin.POST("/save", s.SaveHandler)
		admin.GET("/delete/:id", s.DeleteHandler)
		admin.POST("/delete/:id", s.DeleteHandler)
	}

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/subgrid", s.SubgridHandler)
		apiGroup.GET("/meta", s.MetaListHandler)
		apiGroup.GET("/meta/:entity", s.MetaEntityHandler)
		apiGroup.GET("/menu", s.MenuHandler)
		apiGroup.POST("/admin/reload", s.AdminReloadHandler)
	}
	return r
}

// NewHTTPServer: http.Server с таймаутами поверх Router.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
}

func (s *Server) recovered(c *gin.Context, err any) {
	logger(c).ErrorContext(c.Request.Context(), "handler panic", "err", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"ok": false, "error": s.localizer(c).T("error.general")})
}
