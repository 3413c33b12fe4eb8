package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"investigraph/internal/app"
	"investigraph/internal/transport/http/response"
)

type GraphHandler struct {
	graphs *app.GraphService
}

func NewGraphHandler(graphs *app.GraphService) *GraphHandler {
	return &GraphHandler{graphs: graphs}
}

// View serves the document's knowledge graph as nodes and edges for
// visualization.
func (h *GraphHandler) View(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	documentID, err := parseUintParam(c, "id")
	if err != nil || documentID == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return
	}

	view, err := h.graphs.View(c.Request.Context(), userID, documentID)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrDocumentNotFound):
			response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "load graph failed")
		}
		return
	}
	response.OK(c, view)
}
