package handler

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tieubaoca/paperflow/types"
	"github.com/tieubaoca/paperflow/utils"
)

// OutputDirsFunc maps a requested date (may be empty) to the text and data
// directories of that day.
type OutputDirsFunc func(date string) (string, string, error)

// DocumentHandler serves converted outputs.
type DocumentHandler struct {
	dirs OutputDirsFunc
}

func NewDocumentHandler(dirs OutputDirsFunc) *DocumentHandler {
	return &DocumentHandler{
		dirs: dirs,
	}
}

// ServeDocument streams <stem>.md (kind=text, default) or <stem>.json
// (kind=data).
func (h *DocumentHandler) ServeDocument(c *gin.Context) {
	var req types.ArtifactRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.DataResponse{
			Status:  false,
			Message: "File parameter is required",
		})
		return
	}

	textDir, dataDir, err := h.dirs(req.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.DataResponse{
			Status:  false,
			Message: err.Error(),
		})
		return
	}

	stem := strings.TrimSuffix(req.File, filepath.Ext(req.File))
	dir, ext, contentType := textDir, ".md", "text/markdown; charset=utf-8"
	switch req.Kind {
	case "", "text":
	case "data":
		dir, ext, contentType = dataDir, ".json", "application/json; charset=utf-8"
	default:
		c.JSON(http.StatusBadRequest, types.DataResponse{
			Status:  false,
			Message: "kind must be text or data",
		})
		return
	}

	path, err := utils.SafeJoin(dir, stem+ext)
	if err != nil || !utils.FileExists(path) {
		c.JSON(http.StatusNotFound, types.DataResponse{
			Status:  false,
			Message: "File not found",
		})
		return
	}

	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", stem+ext))
	c.File(path)
}
