package types

import (
	"fmt"
	"strconv"
	"strings"
)

// ItemState is the remote processing state of one file in a batch.
type ItemState string

const (
	ItemStateWaitingFile ItemState = "waiting-file"
	ItemStatePending     ItemState = "pending"
	ItemStateRunning     ItemState = "running"
	ItemStateConverting  ItemState = "converting"
	ItemStateDone        ItemState = "done"
	ItemStateFailed      ItemState = "failed"
	ItemStateUnknown     ItemState = "unknown"
)

// IsTerminal reports whether no further transitions are expected.
func (s ItemState) IsTerminal() bool {
	return s == ItemStateDone || s == ItemStateFailed
}

func parseItemState(v string) ItemState {
	switch s := ItemState(strings.ToLower(strings.TrimSpace(v))); s {
	case ItemStateWaitingFile, ItemStatePending, ItemStateRunning,
		ItemStateConverting, ItemStateDone, ItemStateFailed:
		return s
	default:
		return ItemStateUnknown
	}
}

// BatchItem is the per-file status reported by the remote service.
type BatchItem struct {
	DataID         string    `json:"data_id" bson:"data_id"`
	FileName       string    `json:"file_name" bson:"file_name"`
	State          ItemState `json:"state" bson:"state"`
	ResultURL      string    `json:"full_zip_url,omitempty" bson:"full_zip_url,omitempty"`
	ErrMsg         string    `json:"err_msg,omitempty" bson:"err_msg,omitempty"`
	ExtractedPages int       `json:"extracted_pages,omitempty" bson:"extracted_pages,omitempty"`
	TotalPages     int       `json:"total_pages,omitempty" bson:"total_pages,omitempty"`
}

// IsTerminal reports whether the item reached done or failed.
func (it BatchItem) IsTerminal() bool {
	return it.State.IsTerminal()
}

// Matches reports whether the item belongs to f, by data id first and file
// name second.
func (it BatchItem) Matches(f InputFile) bool {
	if it.DataID != "" && f.DataID != "" {
		return it.DataID == f.DataID
	}
	return it.FileName != "" && it.FileName == f.Name
}

// ParseBatchItem reads one status entry. Missing or mistyped fields become
// zero values so a single malformed entry never breaks the whole batch.
func ParseBatchItem(raw map[string]any) BatchItem {
	item := BatchItem{
		DataID:    stringField(raw, "data_id"),
		FileName:  stringField(raw, "file_name"),
		State:     parseItemState(stringField(raw, "state")),
		ResultURL: stringField(raw, "full_zip_url"),
		ErrMsg:    stringField(raw, "err_msg"),
	}
	if progress, ok := raw["extract_progress"].(map[string]any); ok {
		item.ExtractedPages = intField(progress, "extracted_pages")
		item.TotalPages = intField(progress, "total_pages")
	}
	return item
}

// ParseBatchItems converts a decoded extract_result list. Entries that are not
// objects are skipped.
func ParseBatchItems(raw []any) []BatchItem {
	items := make([]BatchItem, 0, len(raw))
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		items = append(items, ParseBatchItem(m))
	}
	return items
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

// CountTerminal returns how many items are done or failed.
func CountTerminal(items []BatchItem) int {
	n := 0
	for _, it := range items {
		if it.IsTerminal() {
			n++
		}
	}
	return n
}

// FileSpec is one entry of the upload-target request.
type FileSpec struct {
	Name       string `json:"name"`
	DataID     string `json:"data_id"`
	PageRanges string `json:"page_ranges,omitempty"`
	IsOCR      *bool  `json:"is_ocr,omitempty"`
}

// SubmitOptions are the conversion options sent with every batch.
type SubmitOptions struct {
	ModelVersion  string   `json:"model_version" mapstructure:"model_version"`
	IsOCR         bool     `json:"is_ocr" mapstructure:"is_ocr"`
	EnableFormula bool     `json:"enable_formula" mapstructure:"enable_formula"`
	EnableTable   bool     `json:"enable_table" mapstructure:"enable_table"`
	Language      string   `json:"language" mapstructure:"language"`
	ExtraFormats  []string `json:"extra_formats" mapstructure:"extra_formats"`
	PageRanges    string   `json:"page_ranges" mapstructure:"page_ranges"`
}

// ModelVersionPipeline is the only model version that honours the OCR,
// formula, table and language switches.
const ModelVersionPipeline = "pipeline"

// BatchRequest is the body of the upload-target request.
type BatchRequest struct {
	Files         []FileSpec `json:"files"`
	ModelVersion  string     `json:"model_version"`
	EnableFormula *bool      `json:"enable_formula,omitempty"`
	EnableTable   *bool      `json:"enable_table,omitempty"`
	Language      string     `json:"language,omitempty"`
	ExtraFormats  []string   `json:"extra_formats,omitempty"`
}

// NewBatchRequest builds the request body for files under opts.
func NewBatchRequest(files []InputFile, opts SubmitOptions) BatchRequest {
	pipeline := opts.ModelVersion == ModelVersionPipeline
	req := BatchRequest{
		Files:        make([]FileSpec, 0, len(files)),
		ModelVersion: opts.ModelVersion,
		ExtraFormats: opts.ExtraFormats,
	}
	for _, f := range files {
		spec := FileSpec{Name: f.Name, DataID: f.DataID, PageRanges: opts.PageRanges}
		if pipeline {
			isOCR := opts.IsOCR
			spec.IsOCR = &isOCR
		}
		req.Files = append(req.Files, spec)
	}
	if pipeline {
		formula, table := opts.EnableFormula, opts.EnableTable
		req.EnableFormula = &formula
		req.EnableTable = &table
		req.Language = opts.Language
	}
	return req
}
