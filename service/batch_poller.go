package service

import (
	"context"
	"fmt"
	"time"

	"github.com/tieubaoca/paperflow/types"
	"go.uber.org/zap"
)

// StatusGetter is the part of JobClient the poller needs.
type StatusGetter interface {
	GetBatchStatus(ctx context.Context, batchID string) ([]types.BatchItem, error)
}

// TransitionFunc observes an item moving from one state to another. from is
// empty the first time an item is seen.
type TransitionFunc func(item types.BatchItem, from types.ItemState)

type BatchPollerConfig struct {
	// Interval between status requests (default: 3s).
	Interval time.Duration
	// Deadline bounds the whole wait (default: 900s).
	Deadline time.Duration
}

// BatchPoller waits for a remote batch to reach terminal states.
type BatchPoller struct {
	client   StatusGetter
	interval time.Duration
	deadline time.Duration
	logger   *zap.Logger
}

func NewBatchPoller(client StatusGetter, cfg BatchPollerConfig, logger *zap.Logger) *BatchPoller {
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 900 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchPoller{
		client:   client,
		interval: cfg.Interval,
		deadline: cfg.Deadline,
		logger:   logger.Named("poller"),
	}
}

// AwaitCompletion polls until at least expected items are terminal. On
// deadline it returns a *types.PollTimeoutError carrying the last snapshot.
func (p *BatchPoller) AwaitCompletion(ctx context.Context, batchID string, expected int) ([]types.BatchItem, error) {
	return p.await(ctx, batchID, func(items []types.BatchItem) bool {
		return types.CountTerminal(items) >= expected
	}, nil)
}

// AwaitItems polls until every file in files has a terminal item. Items of
// other files in the batch are ignored, so a file whose upload failed cannot
// hold the wait open.
func (p *BatchPoller) AwaitItems(ctx context.Context, batchID string, files []types.InputFile, onTransition TransitionFunc) ([]types.BatchItem, error) {
	return p.await(ctx, batchID, func(items []types.BatchItem) bool {
		for _, f := range files {
			it, ok := findItem(items, f)
			if !ok || !it.IsTerminal() {
				return false
			}
		}
		return true
	}, onTransition)
}

func (p *BatchPoller) await(ctx context.Context, batchID string, complete func([]types.BatchItem) bool, onTransition TransitionFunc) ([]types.BatchItem, error) {
	log := p.logger.With(zap.String("batch_id", batchID))
	deadline := time.Now().Add(p.deadline)
	seen := make(map[string]types.ItemState)
	var snapshot []types.BatchItem

	for round := 1; ; round++ {
		items, err := p.client.GetBatchStatus(ctx, batchID)
		switch {
		case err == nil:
			snapshot = items
			p.report(log, items, seen, onTransition)
			if complete(items) {
				log.Info("batch complete",
					zap.Int("rounds", round),
					zap.Int("terminal", types.CountTerminal(items)),
					zap.Int("items", len(items)))
				return items, nil
			}
		case ctx.Err() != nil:
			return snapshot, ctx.Err()
		case types.IsRetryable(err):
			log.Warn("status request failed, will poll again", zap.Int("round", round), zap.Error(err))
		default:
			return snapshot, fmt.Errorf("batch %s: %w", batchID, err)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			log.Warn("poll deadline reached",
				zap.Duration("deadline", p.deadline),
				zap.Int("terminal", types.CountTerminal(snapshot)),
				zap.Int("items", len(snapshot)))
			return snapshot, &types.PollTimeoutError{BatchID: batchID, Snapshot: snapshot}
		}
		if err := sleepWithCtx(ctx, min(p.interval, remaining)); err != nil {
			return snapshot, err
		}
	}
}

func (p *BatchPoller) report(log *zap.Logger, items []types.BatchItem, seen map[string]types.ItemState, onTransition TransitionFunc) {
	for _, it := range items {
		key := itemKey(it)
		prev, ok := seen[key]
		if ok && prev == it.State {
			continue
		}
		seen[key] = it.State
		log.Debug("item state",
			zap.String("data_id", it.DataID),
			zap.String("file", it.FileName),
			zap.String("from", string(prev)),
			zap.String("state", string(it.State)),
			zap.Int("extracted_pages", it.ExtractedPages),
			zap.Int("total_pages", it.TotalPages))
		if onTransition != nil {
			onTransition(it, prev)
		}
	}
}

func itemKey(it types.BatchItem) string {
	if it.DataID != "" {
		return "id:" + it.DataID
	}
	return "name:" + it.FileName
}

func findItem(items []types.BatchItem, f types.InputFile) (types.BatchItem, bool) {
	for _, it := range items {
		if it.Matches(f) {
			return it, true
		}
	}
	return types.BatchItem{}, false
}
