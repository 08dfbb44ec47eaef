package types

// ConvertRequest starts a conversion run through the HTTP API. Files are
// resolved relative to InputDir when both are set.
type ConvertRequest struct {
	InputDir string   `json:"input_dir"`
	Files    []string `json:"files"`
	Limit    int      `json:"limit"`
}

type ArtifactRequest struct {
	File string `form:"file" binding:"required"`
	Kind string `form:"kind"`
	Date string `form:"date"`
}

type SearchRequest struct {
	Queries []string `json:"queries"`
	Limit   int      `json:"limit,omitempty"`
}
