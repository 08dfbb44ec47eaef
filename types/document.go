package types

import (
	"path/filepath"
	"strings"
)

// InputFile is a local document submitted for conversion.
type InputFile struct {
	Path   string `json:"path"`
	Name   string `json:"name"`
	DataID string `json:"data_id"`
}

// NewInputFile builds an InputFile for path. The data id defaults to the file stem.
func NewInputFile(path string) InputFile {
	name := filepath.Base(path)
	return InputFile{
		Path:   path,
		Name:   name,
		DataID: strings.TrimSuffix(name, filepath.Ext(name)),
	}
}

// Stem returns the output key for the file.
func (f InputFile) Stem() string {
	return strings.TrimSuffix(f.Name, filepath.Ext(f.Name))
}

// Chunk is a group of input files submitted together as one remote job.
type Chunk struct {
	Index   int
	Files   []InputFile
	BatchID string
}

// UploadTarget is a one-shot upload URL bound to the file at the same position
// in the submission request.
type UploadTarget struct {
	URL string `json:"url"`
}

// ExtractedArtifact holds the selected members of a result archive, already
// decoded to text.
type ExtractedArtifact struct {
	Text             string
	TextMember       string
	StructuredData   string
	StructuredMember string
}

// HasStructuredData reports whether the artifact carries structured data.
func (a *ExtractedArtifact) HasStructuredData() bool {
	return a != nil && (a.StructuredData != "" || a.StructuredMember != "")
}

// PaperChunk is a piece of converted paper text prepared for indexing.
type PaperChunk struct {
	Content  string
	Index    int
	Metadata PaperMetadata
}

// PaperMetadata describes where an indexed chunk came from.
type PaperMetadata struct {
	Title   string `json:"title"`
	Source  string `json:"source"`
	BatchID string `json:"batch_id"`
}

// ChunkerConfig controls text chunking for the index hook.
type ChunkerConfig struct {
	MaxChunkSize int // Maximum size for text chunks
	OverlapSize  int // Size of overlap between chunks
}
