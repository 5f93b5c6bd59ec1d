package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"healthq/internal/model"
	"healthq/internal/transport/http/response"
)

// writeServiceError maps QA errors onto the response envelope.
func writeServiceError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, model.ErrNoKnowledgeBase):
		response.Error(c, http.StatusConflict, response.CodeNoKnowledgeBase, err.Error())
	case errors.Is(err, model.ErrDocumentFetch):
		response.Error(c, http.StatusUnprocessableEntity, response.CodeDocumentFetch, err.Error())
	case errors.Is(err, model.ErrDocumentParse):
		response.Error(c, http.StatusUnprocessableEntity, response.CodeDocumentParse, err.Error())
	case errors.Is(err, model.ErrRewrite), errors.Is(err, model.ErrAnswer), errors.Is(err, model.ErrIndexBuild):
		response.Error(c, http.StatusBadGateway, response.CodeUpstreamModel, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}
