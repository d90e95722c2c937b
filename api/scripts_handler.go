package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gutoaeraphe/roteirista-pro-app-sub000/files"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/middleware"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/scripts"
)

// MaxUploadBytes bounds an uploaded script file.
const MaxUploadBytes = 10 << 20

type createScriptRequest struct {
	scripts.Metadata
	Content string `json:"content"`
}

func (h *Handler) listScripts(c *gin.Context) {
	list, err := h.scripts.List(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}

func (h *Handler) createScript(c *gin.Context) {
	var req createScriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	s, err := h.scripts.Create(c.Request.Context(), middleware.UserID(c), req.Metadata, req.Content)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

// uploadScript takes a multipart "file" (.pdf, .txt or .fountain) plus
// optional name, format and genre fields.
func (h *Handler) uploadScript(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadBytes)
	fh, err := c.FormFile("file")
	if err != nil {
		h.fail(c, fmt.Errorf("%w: file is required", errBadRequest))
		return
	}
	f, err := fh.Open()
	if err != nil {
		h.fail(c, err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		h.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	text, err := files.ExtractScript(fh.Filename, data, files.DefaultMaxChars)
	if err != nil {
		h.fail(c, err)
		return
	}

	meta := scripts.Metadata{
		Name:   c.PostForm("name"),
		Format: scripts.Format(c.DefaultPostForm("format", string(scripts.Feature))),
		Genre:  c.PostForm("genre"),
	}
	if strings.TrimSpace(meta.Name) == "" {
		meta.Name = strings.TrimSuffix(filepath.Base(fh.Filename), filepath.Ext(fh.Filename))
	}
	s, err := h.scripts.Create(c.Request.Context(), middleware.UserID(c), meta, text)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h *Handler) getScript(c *gin.Context) {
	s, err := h.scripts.Get(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) updateScript(c *gin.Context) {
	var p scripts.Patch
	if err := c.ShouldBindJSON(&p); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	s, err := h.scripts.Update(c.Request.Context(), middleware.UserID(c), c.Param("id"), p)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) deleteScript(c *gin.Context) {
	if err := h.scripts.Delete(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// activeScript answers null when no script is active.
func (h *Handler) activeScript(c *gin.Context) {
	s, err := h.scripts.Active(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) setActiveScript(c *gin.Context) {
	var body struct {
		ScriptID *string `json:"script_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		h.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	uid := middleware.UserID(c)
	if err := h.scripts.SetActive(c.Request.Context(), uid, body.ScriptID); err != nil {
		h.fail(c, err)
		return
	}
	h.activeScript(c)
}
