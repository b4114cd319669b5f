package api

import (
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"tabgrid/internal/blob"
	"tabgrid/internal/engine"
	"tabgrid/internal/hooks"
	"tabgrid/internal/render"
)

const redirectField = "_redirect_url"

// GET /api/subgrid?entity=&parent_id=&foreign_key=
func (s *Server) SubgridHandler(c *gin.Context) {
	name := c.Query("entity")
	l := s.localizer(c)
	ent, err := s.eng.Authorize(name, role(c))
	switch {
	case errors.Is(err, engine.ErrUnknownEntity):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": l.T("error.entity_not_found")})
		return
	case errors.Is(err, engine.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": l.T("error.unauthorized")})
		return
	}
	parentID, fk := c.Query("parent_id"), c.Query("foreign_key")
	if parentID == "" || fk == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": l.T("error.bad_request")})
		return
	}
	rows := s.eng.ListRecords(c.Request.Context(), ent.Name, parentID, fk)
	c.JSON(http.StatusOK, s.view.Subgrid(ent, rows))
}

// POST /admin/:entity/save: multipart форма; ответ
// {ok, redirect, id} или {ok: false, errors|error}.
func (s *Server) SaveHandler(c *gin.Context) {
	l := s.localizer(c)
	ent, status, key := s.authorize(c)
	if ent == nil {
		c.JSON(status, gin.H{"ok": false, "error": l.T(key)})
		return
	}
	ctx := c.Request.Context()
	log := logger(c).With("entity", ent.Name)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadMB<<20)
	data, files, redirect, err := readForm(c)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) || errors.Is(err, multipart.ErrMessageTooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"ok": false, "error": l.T("error.general")})
			return
		}
		log.WarnContext(ctx, "bad form", "err", err)
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": l.T("error.general")})
		return
	}

	if id, _ := data["id"].(string); (id == "" && !ent.Actions.New) || (id != "" && !ent.Actions.Edit) {
		c.JSON(http.StatusForbidden, gin.H{"ok": false, "error": l.T("error.forbidden")})
		return
	}

	res := s.eng.SaveRecord(ctx, ent.Name, data, files, user(c))
	switch {
	case res.Success:
		c.JSON(http.StatusOK, gin.H{
			"ok":       true,
			"id":       res.ID,
			"redirect": safeRedirect(redirect, render.TabURL(ent.Name, res.ID, "")),
		})
	case len(res.Errors) > 0:
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "errors": res.Errors})
	case res.Error == engine.MsgNotFound:
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": l.T("error.not_found")})
	default:
		// подробности только в лог
		log.ErrorContext(ctx, "save rejected", "err", res.Error)
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": l.T("error.general")})
	}
}

// readForm раскладывает форму в плоский словарь значений и файлы по id
// поля. Из повторяющихся значений (скрытый F + чекбокс T) берётся последнее.
func readForm(c *gin.Context) (map[string]any, map[string]blob.FileSource, string, error) {
	data := map[string]any{}
	files := map[string]blob.FileSource{}

	form, err := c.MultipartForm()
	if errors.Is(err, http.ErrNotMultipart) {
		if err := c.Request.ParseForm(); err != nil {
			return nil, nil, "", err
		}
		form = &multipart.Form{Value: c.Request.PostForm}
	} else if err != nil {
		return nil, nil, "", err
	}

	var redirect string
	for k, vals := range form.Value {
		if len(vals) == 0 {
			continue
		}
		if k == redirectField {
			redirect = vals[len(vals)-1]
			continue
		}
		data[k] = vals[len(vals)-1]
	}
	for k, fhs := range form.File {
		if len(fhs) > 0 && fhs[0].Filename != "" {
			files[k] = blob.FromHeader(fhs[0])
		}
	}
	return data, files, redirect, nil
}

// GET|POST /admin/:entity/delete/:id?parent_entity=&parent_id=
// parent_* нужны только для адреса возврата.
func (s *Server) DeleteHandler(c *gin.Context) {
	l := s.localizer(c)
	ent, status, key := s.authorize(c)
	if ent == nil {
		if isXHR(c) {
			c.JSON(status, gin.H{"success": false, "error": l.T(key)})
		} else {
			s.errorPage(c, status, key)
		}
		return
	}
	if !ent.Actions.Delete {
		if isXHR(c) {
			c.JSON(http.StatusForbidden, gin.H{"success": false, "error": l.T("error.forbidden")})
		} else {
			s.errorPage(c, http.StatusForbidden, "error.forbidden")
		}
		return
	}

	target := "/admin/" + ent.Name
	if pe, pid := c.Query("parent_entity"), c.Query("parent_id"); pe != "" && pid != "" {
		target = render.TabURL(pe, pid, ent.Name)
	}

	res := s.eng.DeleteRecord(c.Request.Context(), ent.Name, c.Param("id"), user(c))
	status, key = http.StatusOK, ""
	msg := ""
	switch {
	case res.Success:
	case res.Error == engine.MsgNotFound:
		status, key = http.StatusNotFound, "error.not_found"
	case res.Error == hooks.ErrDenied.Error():
		status, key = http.StatusForbidden, "error.forbidden"
	case len(res.Errors) > 0:
		status, key, msg = http.StatusBadRequest, "error.general", res.Error
	default:
		logger(c).ErrorContext(c.Request.Context(), "delete rejected", "entity", ent.Name, "err", res.Error)
		status, key = http.StatusBadRequest, "error.general"
	}
	if msg == "" && key != "" {
		msg = l.T(key)
	}

	if isXHR(c) {
		body := gin.H{"success": res.Success, "redirect": target}
		if msg != "" {
			body["error"] = msg
		}
		if len(res.Errors) > 0 {
			body["errors"] = res.Errors
		}
		c.JSON(status, body)
		return
	}
	if !res.Success {
		s.errorPage(c, status, key)
		return
	}
	c.Redirect(http.StatusSeeOther, target)
}
