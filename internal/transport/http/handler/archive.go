package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"healthq/internal/model"
	"healthq/internal/transport/http/response"
)

// TurnArchive lists archived turns of a session, oldest first.
type TurnArchive interface {
	ListBySessionID(ctx context.Context, sessionID string, limit int) ([]model.TurnRecord, error)
}

type ArchiveHandler struct {
	archive TurnArchive
}

type ArchiveResponse struct {
	SessionID string       `json:"session_id"`
	Turns     []model.Turn `json:"turns"`
}

// NewArchiveHandler accepts a nil archive; the route then reports that the
// archive is disabled.
func NewArchiveHandler(archive TurnArchive) *ArchiveHandler {
	return &ArchiveHandler{archive: archive}
}

func (h *ArchiveHandler) List(c *gin.Context) {
	if h.archive == nil {
		response.Error(c, http.StatusServiceUnavailable, response.CodeArchiveDisabled, "turn archive is not enabled")
		return
	}
	id := c.Param("id")
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid limit")
		return
	}

	records, err := h.archive.ListBySessionID(c.Request.Context(), id, limit)
	if err != nil {
		writeServiceError(c, err, "load archive failed")
		return
	}
	turns := make([]model.Turn, 0, len(records))
	for i := range records {
		turns = append(turns, records[i].Turn())
	}
	response.OK(c, ArchiveResponse{SessionID: id, Turns: turns})
}
