package service

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tieubaoca/paperflow/database"
	"github.com/tieubaoca/paperflow/types"
	"go.uber.org/zap"
)

// IndexService pushes converted markdown into the vector store.
type IndexService struct {
	store   database.PaperChunkStore
	chunker *TextChunker
	logger  *zap.Logger
}

func NewIndexService(store database.PaperChunkStore, chunker *TextChunker, logger *zap.Logger) *IndexService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IndexService{store: store, chunker: chunker, logger: logger.Named("index")}
}

// Index is an ItemHook. Chunks from an earlier run of the same paper are
// replaced.
func (s *IndexService) Index(ctx context.Context, in types.HookInput) error {
	raw, err := os.ReadFile(in.TextPath)
	if err != nil {
		return fmt.Errorf("read markdown: %w", err)
	}
	text := strings.ToValidUTF8(string(raw), "")
	chunks := s.chunker.Split(text, types.PaperMetadata{
		Title:   paperTitle(text, in.Stem),
		Source:  in.Name,
		BatchID: in.BatchID,
	})
	if len(chunks) == 0 {
		return nil
	}
	if err := s.store.DeleteBySource(ctx, in.Name); err != nil {
		return err
	}
	if err := s.store.BatchInsertChunks(ctx, chunks); err != nil {
		return err
	}
	s.logger.Info("paper indexed", zap.String("file", in.Name), zap.Int("chunks", len(chunks)))
	return nil
}

// paperTitle returns the first markdown heading, or fallback.
func paperTitle(md, fallback string) string {
	for _, line := range strings.Split(md, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			if t := strings.TrimSpace(strings.TrimLeft(line, "#")); t != "" {
				return t
			}
		}
	}
	return fallback
}
