package repository

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tieubaoca/paperflow/types"
	"github.com/tieubaoca/paperflow/utils"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// OutcomeRepo is the append-only ledger of per-file outcomes.
type OutcomeRepo interface {
	Append(ctx context.Context, outcome types.Outcome) error
	ListByRun(ctx context.Context, runID string) ([]types.Outcome, error)
	ListRuns(ctx context.Context) ([]string, error)
}

// ErrRunNotFound is returned when a run has no recorded outcomes.
var ErrRunNotFound = errors.New("run not found")

type fileOutcomeRepo struct {
	dir string
	mu  sync.Mutex
}

// NewFileOutcomeRepo stores each run as <dir>/<run id>.jsonl.
func NewFileOutcomeRepo(dir string) (OutcomeRepo, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	return &fileOutcomeRepo{dir: dir}, nil
}

func (r *fileOutcomeRepo) path(runID string) (string, error) {
	return utils.SafeJoin(r.dir, runID+".jsonl")
}

func (r *fileOutcomeRepo) Append(ctx context.Context, outcome types.Outcome) error {
	path, err := r.path(outcome.RunID)
	if err != nil {
		return err
	}
	line, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	return nil
}

func (r *fileOutcomeRepo) ListByRun(ctx context.Context, runID string) ([]types.Outcome, error) {
	path, err := r.path(runID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	var outcomes []types.Outcome
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var o types.Outcome
		// A torn last line from a crashed run is skipped.
		if err := json.Unmarshal(line, &o); err != nil {
			continue
		}
		outcomes = append(outcomes, o)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return outcomes, nil
}

func (r *fileOutcomeRepo) ListRuns(ctx context.Context) ([]string, error) {
	files, err := utils.ListFiles(r.dir, ".jsonl")
	if err != nil {
		return nil, err
	}
	runs := make([]string, 0, len(files))
	for _, f := range files {
		runs = append(runs, strings.TrimSuffix(filepath.Base(f), ".jsonl"))
	}
	return runs, nil
}

type mongoOutcomeRepo struct {
	collection *mongo.Collection
}

// NewMongoOutcomeRepo keeps outcomes in collection, indexed by run and file.
func NewMongoOutcomeRepo(ctx context.Context, collection *mongo.Collection) (OutcomeRepo, error) {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "run_id", Value: 1},
				{Key: "finished_at", Value: 1},
			},
		},
		{
			Keys: bson.D{
				{Key: "name", Value: 1},
			},
		},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("error creating indexes: %w", err)
	}
	return &mongoOutcomeRepo{
		collection: collection,
	}, nil
}

func (r *mongoOutcomeRepo) Append(ctx context.Context, outcome types.Outcome) error {
	_, err := r.collection.InsertOne(ctx, outcome)
	return err
}

func (r *mongoOutcomeRepo) ListByRun(ctx context.Context, runID string) ([]types.Outcome, error) {
	opts := options.Find().SetSort(bson.D{{Key: "finished_at", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.D{{Key: "run_id", Value: runID}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var outcomes []types.Outcome
	for cursor.Next(ctx) {
		var o types.Outcome
		if err := cursor.Decode(&o); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	if len(outcomes) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return outcomes, nil
}

func (r *mongoOutcomeRepo) ListRuns(ctx context.Context) ([]string, error) {
	res := r.collection.Distinct(ctx, "run_id", bson.D{})
	var runs []string
	if err := res.Decode(&runs); err != nil {
		return nil, err
	}
	sort.Strings(runs)
	return runs, nil
}
