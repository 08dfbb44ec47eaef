package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tieubaoca/paperflow/config"
	"github.com/tieubaoca/paperflow/types"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.uber.org/zap"
)

const BATCH_SIZE = 200

const PAPER_CLASS = "Paper"

func paperClass(cfg config.WeaviateStoreConfig) *models.Class {
	class := &models.Class{
		Class: PAPER_CLASS,
		Properties: []*models.Property{
			{Name: "content", DataType: []string{"text"}},
			{Name: "title", DataType: []string{"text"}},
			{Name: "source", DataType: []string{"text"}},
			{Name: "batchId", DataType: []string{"text"}},
			{Name: "chunkIndex", DataType: []string{"int"}},
			{Name: "createdAt", DataType: []string{"int"}},
		},
		VectorIndexType: "hnsw",
		Vectorizer:      cfg.Text2Vec,
	}
	if len(cfg.ModuleConfig) > 0 {
		class.ModuleConfig = map[string]interface{}(cfg.ModuleConfig)
	}
	return class
}

// WeaviateStore keeps converted paper chunks in a Weaviate class.
type WeaviateStore struct {
	client *weaviate.Client
	logger *zap.Logger
}

func NewWeaviateStore(ctx context.Context, cfg config.WeaviateStoreConfig, logger *zap.Logger) (*WeaviateStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	scheme := "http"
	if strings.HasPrefix(cfg.Host, "https://") {
		scheme = "https"
	}
	host := strings.TrimPrefix(cfg.Host, scheme+"://")
	wcfg := weaviate.Config{
		Host:   host,
		Scheme: scheme,
	}
	if cfg.APIKey != "" {
		wcfg.AuthConfig = auth.ApiKey{
			Value: cfg.APIKey,
		}
		wcfg.Headers = map[string]string{
			"X-Weaviate-Api-Key":     cfg.APIKey,
			"X-Weaviate-Cluster-Url": fmt.Sprintf("%s://%s", scheme, host),
		}
	}
	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}

	schema, err := client.Schema().Getter().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get schema: %w", err)
	}
	hasPaperClass := false
	for _, class := range schema.Classes {
		if class.Class == PAPER_CLASS {
			hasPaperClass = true
			break
		}
	}
	if !hasPaperClass {
		if err := client.Schema().ClassCreator().WithClass(paperClass(cfg)).Do(ctx); err != nil {
			return nil, fmt.Errorf("failed to create %s class: %w", PAPER_CLASS, err)
		}
	}
	return &WeaviateStore{
		client: client,
		logger: logger.Named("weaviate"),
	}, nil
}

// BatchInsertChunks writes chunks in batches of BATCH_SIZE.
func (s *WeaviateStore) BatchInsertChunks(ctx context.Context, chunks []types.PaperChunk) error {
	total := len(chunks)
	now := time.Now().Unix()
	for i := 0; i < total; i += BATCH_SIZE {
		end := min(i+BATCH_SIZE, total)

		batcher := s.client.Batch().ObjectsBatcher()
		for j := i; j < end; j++ {
			batcher = batcher.WithObjects(&models.Object{
				Class: PAPER_CLASS,
				Properties: map[string]interface{}{
					"content":    chunks[j].Content,
					"title":      chunks[j].Metadata.Title,
					"source":     chunks[j].Metadata.Source,
					"batchId":    chunks[j].Metadata.BatchID,
					"chunkIndex": chunks[j].Index,
					"createdAt":  now,
				},
			})
		}

		resp, err := batcher.Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to insert batch %d-%d: %w", i, end, err)
		}
		for _, obj := range resp {
			if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
				return fmt.Errorf("failed to insert batch %d-%d: %s", i, end, obj.Result.Errors.Error[0].Message)
			}
		}
		s.logger.Debug("inserted chunk batch", zap.Int("from", i), zap.Int("to", end), zap.Int("total", total))
	}
	return nil
}

// DeleteBySource removes every chunk previously indexed for source.
func (s *WeaviateStore) DeleteBySource(ctx context.Context, source string) error {
	where := filters.Where().
		WithPath([]string{"source"}).
		WithOperator(filters.Equal).
		WithValueText(source)
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(PAPER_CLASS).
		WithOutput("minimal").
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete chunks of %s: %w", source, err)
	}
	return nil
}

// SearchSimilar returns the chunks nearest to queries.
func (s *WeaviateStore) SearchSimilar(ctx context.Context, queries []string, limit int) ([]types.PaperChunk, error) {
	fields := []graphql.Field{
		{Name: "content"},
		{Name: "title"},
		{Name: "source"},
		{Name: "batchId"},
		{Name: "chunkIndex"},
	}
	nearText := s.client.GraphQL().NearTextArgBuilder().
		WithConcepts(queries)
	getBuilder := s.client.GraphQL().Get().
		WithClassName(PAPER_CLASS).
		WithFields(fields...).
		WithNearText(nearText)
	if limit > 0 {
		getBuilder = getBuilder.WithLimit(limit)
	}
	result, err := getBuilder.Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("search failed: %v", result.Errors[0].Message)
	}

	var chunks []types.PaperChunk
	get, _ := result.Data["Get"].(map[string]interface{})
	data, _ := get[PAPER_CLASS].([]interface{})
	for _, item := range data {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		chunk := types.PaperChunk{
			Content: stringProp(obj, "content"),
			Metadata: types.PaperMetadata{
				Title:   stringProp(obj, "title"),
				Source:  stringProp(obj, "source"),
				BatchID: stringProp(obj, "batchId"),
			},
		}
		if idx, ok := obj["chunkIndex"].(float64); ok {
			chunk.Index = int(idx)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func stringProp(obj map[string]interface{}, key string) string {
	s, _ := obj[key].(string)
	return s
}
