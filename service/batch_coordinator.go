package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tieubaoca/paperflow/types"
	"go.uber.org/zap"
)

// ItemAwaiter waits for tracked items of a batch to finish.
type ItemAwaiter interface {
	AwaitItems(ctx context.Context, batchID string, files []types.InputFile, onTransition TransitionFunc) ([]types.BatchItem, error)
}

// OutcomeRecorder persists outcomes as they are decided.
type OutcomeRecorder interface {
	Append(ctx context.Context, outcome types.Outcome) error
}

// ProgressFunc receives run progress. It may be called from several
// goroutines at once.
type ProgressFunc func(types.ProgressEvent)

type CoordinatorConfig struct {
	// ChunkSize is the number of files per remote batch (default: 10).
	ChunkSize int
	// LimitFiles caps the inputs of a run; zero means no cap.
	LimitFiles int
	// SkipExisting skips inputs whose outputs are already written.
	SkipExisting bool
	// SubmitBackoff retries batch registration on transport failures.
	SubmitBackoff Backoff
	Options       types.SubmitOptions

	// Date is the output day handed to hooks; zero leaves it to the hook.
	Date time.Time
}

// Coordinator drives inputs through submission, upload, polling and
// extraction, and records exactly one outcome per input.
type Coordinator struct {
	client   JobClient
	uploader Uploader
	poller   ItemAwaiter
	resolver Resolver
	store    *ArtifactStore
	cfg      CoordinatorConfig
	logger   *zap.Logger

	recorder OutcomeRecorder
	hook     ItemHook
	progress ProgressFunc
}

func NewCoordinator(client JobClient, uploader Uploader, poller ItemAwaiter, resolver Resolver, store *ArtifactStore, cfg CoordinatorConfig, logger *zap.Logger) *Coordinator {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 10
	}
	if cfg.SubmitBackoff.MaxAttempts <= 0 {
		cfg.SubmitBackoff = Backoff{MaxAttempts: 3, Base: time.Second, Cap: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		client:   client,
		uploader: uploader,
		poller:   poller,
		resolver: resolver,
		store:    store,
		cfg:      cfg,
		logger:   logger.Named("coordinator"),
	}
}

func (c *Coordinator) SetRecorder(r OutcomeRecorder) { c.recorder = r }

func (c *Coordinator) SetHook(h ItemHook) { c.hook = h }

func (c *Coordinator) SetProgress(p ProgressFunc) { c.progress = p }

// PartitionChunks splits files into consecutive chunks of at most size.
func PartitionChunks(files []types.InputFile, size int) []types.Chunk {
	if size <= 0 {
		size = 1
	}
	var chunks []types.Chunk
	for start := 0; start < len(files); start += size {
		end := min(start+size, len(files))
		chunks = append(chunks, types.Chunk{Index: len(chunks), Files: files[start:end]})
	}
	return chunks
}

// Run converts inputs under a fresh run id.
func (c *Coordinator) Run(ctx context.Context, inputs []types.InputFile) (*types.RunReport, error) {
	return c.RunWithID(ctx, uuid.NewString(), inputs)
}

// RunWithID converts inputs and returns the report of every input. The error
// is non-nil only when the service could not be reached for any chunk.
func (c *Coordinator) RunWithID(ctx context.Context, runID string, inputs []types.InputFile) (*types.RunReport, error) {
	report := &types.RunReport{RunID: runID, StartedAt: time.Now()}
	log := c.logger.With(zap.String("run_id", runID))

	if c.cfg.LimitFiles > 0 && len(inputs) > c.cfg.LimitFiles {
		inputs = inputs[:c.cfg.LimitFiles]
	}

	pending := make([]types.InputFile, 0, len(inputs))
	for _, f := range inputs {
		if c.cfg.SkipExisting && c.store.Exists(f.Stem()) {
			c.record(ctx, report, types.Outcome{
				Name:     f.Name,
				DataID:   f.DataID,
				Status:   types.OutcomeSkipped,
				TextPath: c.store.TextPath(f.Stem()),
				DataPath: c.store.DataPath(f.Stem()),
			})
			continue
		}
		pending = append(pending, f)
	}

	chunks := PartitionChunks(pending, c.cfg.ChunkSize)
	log.Info("run started",
		zap.Int("inputs", len(inputs)),
		zap.Int("pending", len(pending)),
		zap.Int("chunks", len(chunks)))

	reached, unreachable := false, false
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			c.failAll(ctx, report, chunk, chunk.Files, types.FailureCanceled, err)
			continue
		}
		res := c.processChunk(ctx, report, chunk)
		reached = reached || res.reached
		unreachable = unreachable || res.unreachable
	}

	report.FinishedAt = time.Now()
	c.emit(types.ProgressEvent{
		RunID:     runID,
		Stage:     types.StageFinished,
		Succeeded: report.Succeeded,
		Failed:    report.Failed,
		Skipped:   report.Skipped,
	})
	log.Info("run finished",
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)))

	if !reached && unreachable {
		return report, fmt.Errorf("run %s: %w", runID, types.ErrServiceUnreachable)
	}
	return report, nil
}

type chunkResult struct {
	reached     bool
	unreachable bool
}

func (c *Coordinator) processChunk(ctx context.Context, report *types.RunReport, chunk types.Chunk) chunkResult {
	log := c.logger.With(zap.String("run_id", report.RunID), zap.Int("chunk", chunk.Index))
	c.emit(types.ProgressEvent{
		RunID: report.RunID, Stage: types.StageSubmit, Chunk: chunk.Index, Total: len(chunk.Files),
	})

	// Submission: all targets are obtained before any upload starts.
	var targets []types.UploadTarget
	err := c.cfg.SubmitBackoff.Retry(ctx, func(int) error {
		var err error
		chunk.BatchID, targets, err = c.client.RequestUploadTargets(ctx, chunk.Files, c.cfg.Options)
		return err
	}, func(attempt int, err error, wait time.Duration) {
		log.Warn("batch registration failed, retrying",
			zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		fallback := types.FailureTransport
		if types.IsRetryable(err) {
			fallback = types.FailureServiceUnreachable
		}
		log.Error("batch registration failed", zap.Error(err))
		c.failAll(ctx, report, chunk, chunk.Files, types.Classify(err, fallback), err)
		return chunkResult{unreachable: errors.Is(err, types.ErrServiceUnreachable)}
	}
	log = log.With(zap.String("batch_id", chunk.BatchID))

	// Upload.
	tasks := make([]UploadTask, len(chunk.Files))
	for i, f := range chunk.Files {
		tasks[i] = UploadTask{File: f, Target: targets[i]}
	}
	results := c.uploader.UploadAll(ctx, tasks, func(r UploadResult) {
		msg := "uploaded"
		if r.Err != nil {
			msg = "upload failed"
		}
		c.emit(types.ProgressEvent{
			RunID: report.RunID, Stage: types.StageUpload, Chunk: chunk.Index,
			BatchID: chunk.BatchID, Message: msg + ": " + r.File.Name,
		})
	})
	uploaded := make([]types.InputFile, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			c.fail(ctx, report, chunk, r.File, types.Classify(r.Err, types.FailureUpload), r.Err)
			continue
		}
		uploaded = append(uploaded, r.File)
	}
	log.Info("uploads finished", zap.Int("uploaded", len(uploaded)), zap.Int("files", len(chunk.Files)))
	if len(uploaded) == 0 {
		return chunkResult{reached: true}
	}

	// Poll.
	items, pollErr := c.poller.AwaitItems(ctx, chunk.BatchID, uploaded, func(it types.BatchItem, from types.ItemState) {
		item := it
		c.emit(types.ProgressEvent{
			RunID: report.RunID, Stage: types.StagePoll, Chunk: chunk.Index, BatchID: chunk.BatchID,
			Message: fmt.Sprintf("%s: %s -> %s", it.FileName, from, it.State), Item: &item,
		})
	})
	pollKind := types.Classify(pollErr, types.FailurePollTimeout)
	if pollErr != nil {
		log.Warn("polling ended early", zap.String("kind", string(pollKind)), zap.Error(pollErr))
	}

	// Resolve and persist.
	for _, f := range uploaded {
		it, ok := findItem(items, f)
		switch {
		case !ok && pollErr != nil:
			c.fail(ctx, report, chunk, f, pollKind, pollErr)
		case !ok:
			c.fail(ctx, report, chunk, f, types.FailureMissingResult,
				fmt.Errorf("batch %s reported no status for %s", chunk.BatchID, f.Name))
		case it.State == types.ItemStateFailed:
			c.fail(ctx, report, chunk, f, types.FailureRemote, fmt.Errorf("remote conversion failed: %s", it.ErrMsg))
		case it.State == types.ItemStateDone:
			c.resolveItem(ctx, report, chunk, f, it)
		case pollErr != nil:
			c.fail(ctx, report, chunk, f, pollKind, fmt.Errorf("%s still %s: %w", f.Name, it.State, pollErr))
		default:
			c.fail(ctx, report, chunk, f, types.FailurePollTimeout, fmt.Errorf("%s still %s", f.Name, it.State))
		}
	}
	return chunkResult{reached: true}
}

func (c *Coordinator) resolveItem(ctx context.Context, report *types.RunReport, chunk types.Chunk, f types.InputFile, it types.BatchItem) {
	c.emit(types.ProgressEvent{
		RunID: report.RunID, Stage: types.StageResolve, Chunk: chunk.Index,
		BatchID: chunk.BatchID, Message: f.Name,
	})
	stem := f.Stem()
	artifact, err := c.resolver.Resolve(ctx, it, stem)
	if err != nil {
		c.fail(ctx, report, chunk, f, types.Classify(err, types.FailureDownload), err)
		return
	}
	textPath, dataPath, err := c.store.Save(stem, artifact)
	if err != nil {
		c.fail(ctx, report, chunk, f, types.FailureWrite, err)
		return
	}
	c.record(ctx, report, types.Outcome{
		BatchID:  chunk.BatchID,
		Name:     f.Name,
		DataID:   f.DataID,
		Status:   types.OutcomeSuccess,
		TextPath: textPath,
		DataPath: dataPath,
	})
	c.runHook(ctx, types.HookInput{
		RunID:    report.RunID,
		BatchID:  chunk.BatchID,
		Name:     f.Name,
		Stem:     stem,
		TextPath: textPath,
		DataPath: dataPath,
		Date:     c.hookDate(),
	})
}

func (c *Coordinator) hookDate() string {
	if c.cfg.Date.IsZero() {
		return ""
	}
	return c.cfg.Date.Format(time.DateOnly)
}

func (c *Coordinator) runHook(ctx context.Context, in types.HookInput) {
	if c.hook == nil {
		return
	}
	if err := safeInvoke(ctx, c.hook, in); err != nil {
		c.logger.Warn("hook failed", zap.String("file", in.Name), zap.Error(err))
	}
}

func (c *Coordinator) failAll(ctx context.Context, report *types.RunReport, chunk types.Chunk, files []types.InputFile, kind types.FailureKind, err error) {
	for _, f := range files {
		c.fail(ctx, report, chunk, f, kind, err)
	}
}

func (c *Coordinator) fail(ctx context.Context, report *types.RunReport, chunk types.Chunk, f types.InputFile, kind types.FailureKind, err error) {
	c.record(ctx, report, types.Outcome{
		BatchID: chunk.BatchID,
		Name:    f.Name,
		DataID:  f.DataID,
		Status:  types.OutcomeFailed,
		Kind:    kind,
		Error:   err.Error(),
	})
}

func (c *Coordinator) record(ctx context.Context, report *types.RunReport, o types.Outcome) {
	o.RunID = report.RunID
	o.FinishedAt = time.Now()
	report.Add(o)

	fields := []zap.Field{zap.String("file", o.Name), zap.String("status", string(o.Status))}
	if o.Status == types.OutcomeFailed {
		c.logger.Warn("item failed", append(fields, zap.String("kind", string(o.Kind)), zap.String("error", o.Error))...)
	} else {
		c.logger.Info("item finished", fields...)
	}

	if c.recorder != nil {
		// The ledger must be written even when the run is being cancelled.
		if err := c.recorder.Append(context.WithoutCancel(ctx), o); err != nil {
			c.logger.Error("failed to record outcome", zap.String("file", o.Name), zap.Error(err))
		}
	}
	c.emit(types.ProgressEvent{
		RunID:     report.RunID,
		Stage:     types.StageOutcome,
		BatchID:   o.BatchID,
		Outcome:   &o,
		Succeeded: report.Succeeded,
		Failed:    report.Failed,
		Skipped:   report.Skipped,
	})
}

func (c *Coordinator) emit(ev types.ProgressEvent) {
	if c.progress != nil {
		c.progress(ev)
	}
}
