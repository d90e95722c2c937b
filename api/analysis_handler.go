package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gutoaeraphe/roteirista-pro-app-sub000/analysis"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/flows"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/middleware"
)

type runRequest struct {
	ScriptID string          `json:"script_id"`
	Params   json.RawMessage `json:"params"`
}

type chatRequest struct {
	ScriptID string                 `json:"script_id"`
	Messages []analysis.ChatMessage `json:"messages"`
}

func (h *Handler) runAnalysis(c *gin.Context) {
	var req runRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
	}
	run, err := h.flows.Run(c.Request.Context(), middleware.UserID(c), analysis.Kind(c.Param("kind")), req.ScriptID, req.Params)
	if err != nil && !(run != nil && errors.Is(err, flows.ErrNotCharged)) {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *Handler) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	out, err := h.flows.Chat(c.Request.Context(), middleware.UserID(c), req.Messages, req.ScriptID)
	if err != nil && !(out != nil && errors.Is(err, flows.ErrNotCharged)) {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
