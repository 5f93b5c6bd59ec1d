package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"healthq/internal/app"
	"healthq/internal/model"
	"healthq/internal/transport/http/response"
)

const detailDownloadFailed = "Failed to download document"

type HackRxHandler struct {
	qa  *app.QAService
	log *zap.Logger
}

type HackRxRequest struct {
	Documents string   `json:"documents" binding:"required"`
	Questions []string `json:"questions" binding:"required"`
}

type HackRxResponse struct {
	Answers []string `json:"answers"`
}

func NewHackRxHandler(qa *app.QAService, log *zap.Logger) *HackRxHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &HackRxHandler{qa: qa, log: log}
}

// Run answers every question against the document at the given URL. Fetch
// failures are 400; any other failure is 500 with the error text as detail.
func (h *HackRxHandler) Run(c *gin.Context) {
	var req HackRxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Detail(c, http.StatusBadRequest, "invalid request payload")
		return
	}

	answers, err := h.qa.Run(c.Request.Context(), req.Documents, req.Questions)
	if err != nil {
		h.log.Error("document run failed", zap.String("documents", req.Documents), zap.Error(err))
		if errors.Is(err, model.ErrDocumentFetch) {
			response.Detail(c, http.StatusBadRequest, detailDownloadFailed)
			return
		}
		response.Detail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, HackRxResponse{Answers: answers})
}
