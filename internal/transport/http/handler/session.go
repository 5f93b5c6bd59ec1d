package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"healthq/internal/app"
	"healthq/internal/model"
	"healthq/internal/transport/http/response"
)

type SessionHandler struct {
	qa *app.QAService
}

type AskRequest struct {
	Question string `json:"question" binding:"required"`
}

type TranscriptResponse struct {
	SessionID string       `json:"session_id"`
	Turns     []model.Turn `json:"turns"`
}

func NewSessionHandler(qa *app.QAService) *SessionHandler {
	return &SessionHandler{qa: qa}
}

func (h *SessionHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	result, err := h.qa.Ask(c.Request.Context(), c.Param("id"), req.Question)
	if err != nil {
		writeServiceError(c, err, "answer question failed")
		return
	}
	response.OK(c, result)
}

func (h *SessionHandler) Transcript(c *gin.Context) {
	id := c.Param("id")
	turns, err := h.qa.Transcript(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err, "load transcript failed")
		return
	}
	response.OK(c, TranscriptResponse{SessionID: id, Turns: turns})
}

func (h *SessionHandler) Reset(c *gin.Context) {
	if err := h.qa.ResetSession(c.Request.Context(), c.Param("id")); err != nil {
		writeServiceError(c, err, "reset session failed")
		return
	}
	response.OK(c, nil)
}
