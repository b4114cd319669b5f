package api

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"tabgrid/internal/hooks"
	"tabgrid/internal/i18n"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderUserID    = "X-User-ID"
	HeaderUserLevel = "X-User-Level"

	ctxLogger = "tabgrid.logger"
	ctxRole   = "tabgrid.role"
	ctxUser   = "tabgrid.user"

	langCookie = "lang"
)

// requestLogger присваивает запросу id (чужой принимается, только если это
// uuid) и пишет одну строку лога на запрос.
func requestLogger(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid := c.GetHeader(HeaderRequestID)
		if _, err := uuid.Parse(rid); err != nil {
			rid = uuid.NewString()
		}
		c.Header(HeaderRequestID, rid)
		log := base.With("request_id", rid)
		c.Set(ctxLogger, log)

		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= 500 {
			level = slog.LevelError
		}
		log.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"user", c.GetString(ctxUser),
		)
	}
}

func logger(c *gin.Context) *slog.Logger {
	if l, ok := c.Get(ctxLogger); ok {
		if log, ok := l.(*slog.Logger); ok {
			return log
		}
	}
	return slog.New(slog.DiscardHandler)
}

// locale: ?lang=, затем cookie, затем Accept-Language. Явный выбор
// запоминается в cookie.
func (s *Server) locale() gin.HandlerFunc {
	return func(c *gin.Context) {
		q := c.Query("lang")
		cookie, _ := c.Cookie(langCookie)
		loc := s.tr.Match(q, cookie, c.GetHeader("Accept-Language"))
		if q != "" {
			c.SetCookie(langCookie, loc, 365*24*3600, "/", "", false, true)
		}
		c.Request = c.Request.WithContext(i18n.WithLocale(c.Request.Context(), loc))
	}
}

func (s *Server) localizer(c *gin.Context) i18n.Localizer {
	return s.tr.For(i18n.LocaleFrom(c.Request.Context()))
}

// identity читает пользователя и уровень доступа из заголовков; без
// уровня: гостевой.
func identity(guest string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := strings.TrimSpace(c.GetHeader(HeaderUserID))
		level := strings.TrimSpace(c.GetHeader(HeaderUserLevel))
		if level == "" {
			level = guest
		}
		c.Set(ctxUser, user)
		c.Set(ctxRole, level)
		c.Request = c.Request.WithContext(hooks.WithActor(c.Request.Context(), user))
	}
}

func role(c *gin.Context) string { return c.GetString(ctxRole) }
func user(c *gin.Context) string { return c.GetString(ctxUser) }
