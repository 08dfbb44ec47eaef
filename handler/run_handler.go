package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tieubaoca/paperflow/repository"
	"github.com/tieubaoca/paperflow/service"
	"github.com/tieubaoca/paperflow/types"
)

type RunHandler struct {
	runs      *service.RunManager
	outcomes  repository.OutcomeRepo
	inputRoot string
}

// NewRunHandler only accepts inputs located under inputRoot.
func NewRunHandler(runs *service.RunManager, outcomes repository.OutcomeRepo, inputRoot string) *RunHandler {
	return &RunHandler{
		runs:      runs,
		outcomes:  outcomes,
		inputRoot: inputRoot,
	}
}

func (h *RunHandler) resolveDir(dir string) (string, error) {
	root, err := filepath.Abs(h.inputRoot)
	if err != nil {
		return "", err
	}
	full := filepath.Join(root, dir)
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.New("input_dir must stay inside the input root")
	}
	return full, nil
}

// HandleStartRun starts a background conversion run.
func (h *RunHandler) HandleStartRun(c *gin.Context) {
	var req types.ConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.DataResponse{
			Status:  false,
			Message: "Invalid request body",
		})
		return
	}
	dir, err := h.resolveDir(req.InputDir)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.DataResponse{Status: false, Message: err.Error()})
		return
	}
	for _, f := range req.Files {
		if filepath.IsAbs(f) || strings.Contains(filepath.ToSlash(f), "..") {
			c.JSON(http.StatusBadRequest, types.DataResponse{Status: false, Message: "files must be relative names"})
			return
		}
	}

	inputs, err := service.CollectInputs(dir, req.Files)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.DataResponse{Status: false, Message: err.Error()})
		return
	}
	if req.Limit > 0 && len(inputs) > req.Limit {
		inputs = inputs[:req.Limit]
	}
	if len(inputs) == 0 {
		c.JSON(http.StatusBadRequest, types.DataResponse{Status: false, Message: "No input files"})
		return
	}

	runID := h.runs.Start(inputs)
	c.JSON(http.StatusAccepted, types.DataResponse{
		Status:  true,
		Message: "Run started",
		Data:    types.RunResponse{RunID: runID, Files: len(inputs)},
	})
}

// HandleListRuns lists the runs recorded in the ledger.
func (h *RunHandler) HandleListRuns(c *gin.Context) {
	runs, err := h.outcomes.ListRuns(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.DataResponse{Status: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, types.DataResponse{Status: true, Message: "OK", Data: runs})
}

// HandleGetRun returns a live run's status, or the recorded outcomes of a
// past run.
func (h *RunHandler) HandleGetRun(c *gin.Context) {
	runID := c.Param("id")
	if status, err := h.runs.Status(runID); err == nil {
		c.JSON(http.StatusOK, types.DataResponse{Status: true, Message: "OK", Data: status})
		return
	}
	outcomes, err := h.outcomes.ListByRun(c.Request.Context(), runID)
	if errors.Is(err, repository.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, types.DataResponse{Status: false, Message: "Run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.DataResponse{Status: false, Message: err.Error()})
		return
	}
	report := &types.RunReport{RunID: runID}
	for _, o := range outcomes {
		report.Add(o)
	}
	c.JSON(http.StatusOK, types.DataResponse{Status: true, Message: "OK", Data: report})
}

// HandleRunEvents streams progress of a live run as server-sent events.
func (h *RunHandler) HandleRunEvents(c *gin.Context) {
	history, events, cancel, err := h.runs.Subscribe(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, types.DataResponse{Status: false, Message: "Run not found"})
		return
	}
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	send := func(ev types.ProgressEvent) {
		jsonEvent, err := json.Marshal(ev)
		if err != nil {
			return
		}
		c.SSEvent("message", string(jsonEvent))
		c.Writer.Flush()
	}
	for _, ev := range history {
		send(ev)
	}

	// Create a channel to detect client disconnect
	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case ev, ok := <-events:
			if !ok {
				c.SSEvent("done", c.Param("id"))
				c.Writer.Flush()
				return
			}
			send(ev)
		}
	}
}
