package types

import (
	"fmt"
	"strconv"
)

type DataResponse struct {
	Status  bool        `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// MinerUEnvelope is the common response wrapper of the conversion service.
// Code is numeric on most responses but some auth errors use string codes.
type MinerUEnvelope struct {
	Code    any            `json:"code"`
	Msg     string         `json:"msg"`
	TraceID string         `json:"trace_id"`
	Data    map[string]any `json:"data"`
}

// CodeString renders Code for logs and errors.
func (e *MinerUEnvelope) CodeString() string {
	switch v := e.Code.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// OK reports whether the envelope signals success. A missing code counts as
// success.
func (e *MinerUEnvelope) OK() bool {
	c := e.CodeString()
	return c == "" || c == "0"
}

type RunResponse struct {
	RunID string `json:"run_id"`
	Files int    `json:"files"`
}

// Progress stages reported while a run is in flight.
const (
	StageSubmit   = "submit"
	StageUpload   = "upload"
	StagePoll     = "poll"
	StageResolve  = "resolve"
	StageOutcome  = "outcome"
	StageFinished = "finished"
)

// ProgressEvent is streamed to observers of a run.
type ProgressEvent struct {
	RunID     string     `json:"run_id"`
	Stage     string     `json:"stage"`
	Chunk     int        `json:"chunk"`
	BatchID   string     `json:"batch_id,omitempty"`
	Message   string     `json:"message,omitempty"`
	Terminal  int        `json:"terminal,omitempty"`
	Total     int        `json:"total,omitempty"`
	Item      *BatchItem `json:"item,omitempty"`
	Outcome   *Outcome   `json:"outcome,omitempty"`
	Succeeded int        `json:"succeeded,omitempty"`
	Failed    int        `json:"failed,omitempty"`
	Skipped   int        `json:"skipped,omitempty"`
}
