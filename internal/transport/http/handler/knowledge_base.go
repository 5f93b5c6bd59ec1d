package handler

import (
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"healthq/internal/app"
	"healthq/internal/model"
	"healthq/internal/transport/http/response"
)

const maxPDFSize = 10 << 20 // 10 MB

type KnowledgeBaseHandler struct {
	qa *app.QAService
}

func NewKnowledgeBaseHandler(qa *app.QAService) *KnowledgeBaseHandler {
	return &KnowledgeBaseHandler{qa: qa}
}

// Build accepts a multipart form with one or more "files" (PDF). Uploading
// the same batch again reuses the current index unless rebuild=true.
func (h *KnowledgeBaseHandler) Build(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid multipart form")
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing files")
		return
	}

	refs := make([]model.DocumentRef, 0, len(files))
	for _, file := range files {
		if file.Size > maxPDFSize {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, file.Filename+": file too large (max 10MB)")
			return
		}
		if strings.ToLower(filepath.Ext(file.Filename)) != ".pdf" {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, file.Filename+": only PDF files are allowed")
			return
		}
		f, err := file.Open()
		if err != nil {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
			return
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
			return
		}
		refs = append(refs, model.DocumentRef{Name: file.Filename, Content: content})
	}

	rebuild, _ := strconv.ParseBool(c.Query("rebuild"))
	info, err := h.qa.BuildKnowledgeBase(c.Request.Context(), refs, rebuild)
	if err != nil {
		writeServiceError(c, err, "build knowledge base failed")
		return
	}
	response.OK(c, info)
}

func (h *KnowledgeBaseHandler) Reset(c *gin.Context) {
	h.qa.ResetKnowledgeBase()
	response.OK(c, nil)
}
