package service

import (
	"fmt"
	"path/filepath"

	"github.com/tieubaoca/paperflow/types"
	"github.com/tieubaoca/paperflow/utils"
)

// ArtifactStore writes extracted artifacts keyed by input stem.
type ArtifactStore struct {
	textDir string
	dataDir string
}

func NewArtifactStore(textDir, dataDir string) *ArtifactStore {
	return &ArtifactStore{textDir: textDir, dataDir: dataDir}
}

func (s *ArtifactStore) TextPath(stem string) string {
	return filepath.Join(s.textDir, stem+".md")
}

func (s *ArtifactStore) DataPath(stem string) string {
	return filepath.Join(s.dataDir, stem+".json")
}

// Exists reports whether stem was already converted. The text output is
// written last, so its presence means the structured output, when the archive
// had one, is in place too.
func (s *ArtifactStore) Exists(stem string) bool {
	return utils.FileExists(s.TextPath(stem))
}

// Save writes the structured output, when present, and then the text output.
// The returned data path is empty when the archive carried no structured
// member.
func (s *ArtifactStore) Save(stem string, artifact *types.ExtractedArtifact) (string, string, error) {
	var dataPath string
	if artifact.HasStructuredData() {
		dataPath = s.DataPath(stem)
		if err := utils.WriteFileAtomic(dataPath, []byte(artifact.StructuredData)); err != nil {
			return "", "", fmt.Errorf("write %s: %w", dataPath, err)
		}
	}
	textPath := s.TextPath(stem)
	if err := utils.WriteFileAtomic(textPath, []byte(artifact.Text)); err != nil {
		return "", dataPath, fmt.Errorf("write %s: %w", textPath, err)
	}
	return textPath, dataPath, nil
}
