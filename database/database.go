package database

import (
	"context"

	"github.com/tieubaoca/paperflow/types"
)

// PaperChunkStore is the vector store used by the index hook.
type PaperChunkStore interface {
	BatchInsertChunks(ctx context.Context, chunks []types.PaperChunk) error
	DeleteBySource(ctx context.Context, source string) error
	SearchSimilar(ctx context.Context, queries []string, limit int) ([]types.PaperChunk, error)
}

var _ PaperChunkStore = (*WeaviateStore)(nil)
