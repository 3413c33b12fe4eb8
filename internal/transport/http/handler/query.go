package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"investigraph/internal/ai"
	"investigraph/internal/app"
	"investigraph/internal/transport/http/response"
)

type QueryHandler struct {
	query *app.QueryService
}

func NewQueryHandler(query *app.QueryService) *QueryHandler {
	return &QueryHandler{query: query}
}

type QueryRequest struct {
	Question   string `json:"question" binding:"required"`
	DocumentID uint   `json:"document_id"`
	TopK       int    `json:"top_k"`
}

func (h *QueryHandler) Ask(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	res, err := h.query.Answer(c.Request.Context(), app.QueryInput{
		UserID:     userID,
		DocumentID: req.DocumentID,
		Question:   req.Question,
		TopN:       req.TopK,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrDocumentNotFound):
			response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
		case errors.Is(err, app.ErrNotQueryable), errors.Is(err, app.ErrNoDocuments):
			response.Error(c, http.StatusConflict, response.CodeDocumentNotReady, err.Error())
		case errors.Is(err, app.ErrNoContext):
			response.Error(c, http.StatusUnprocessableEntity, response.CodeNoContext, err.Error())
		case errors.Is(err, app.ErrGenerationFailed), errors.Is(err, ai.ErrBackendUnavailable):
			response.Error(c, http.StatusServiceUnavailable, response.CodeBackendUnavailable, "model backend unavailable")
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "query failed")
		}
		return
	}
	response.OK(c, res)
}
