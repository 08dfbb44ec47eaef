package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tieubaoca/paperflow/database"
	"github.com/tieubaoca/paperflow/types"
)

type SearchHandler struct {
	vectorDB database.PaperChunkStore
}

func NewSearchHandler(vectorDB database.PaperChunkStore) *SearchHandler {
	return &SearchHandler{
		vectorDB: vectorDB,
	}
}

// HandleSearch returns indexed paper chunks similar to the queries.
func (h *SearchHandler) HandleSearch(c *gin.Context) {
	var req types.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Queries) == 0 {
		c.JSON(http.StatusBadRequest, types.DataResponse{
			Status:  false,
			Message: "Invalid request body",
		})
		return
	}
	// Set default limit if not provided
	if req.Limit == 0 {
		req.Limit = 5
	}

	chunks, err := h.vectorDB.SearchSimilar(c.Request.Context(), req.Queries, req.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.DataResponse{
			Status:  false,
			Message: "Search failed: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, types.DataResponse{
		Status:  true,
		Message: "OK",
		Data:    chunks,
	})
}
