package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/tieubaoca/paperflow/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// UploadTask pairs a local file with the target it must be sent to.
type UploadTask struct {
	File   types.InputFile
	Target types.UploadTarget
}

// UploadResult is the per-file result of UploadAll. Err is nil on success.
type UploadResult struct {
	File     types.InputFile
	Attempts int
	Err      error
}

// Uploader sends files to their upload targets.
type Uploader interface {
	UploadAll(ctx context.Context, tasks []UploadTask, onDone func(UploadResult)) []UploadResult
}

type UploadManagerConfig struct {
	// Concurrency bounds simultaneous uploads (default: 10).
	Concurrency int
	// Method is the HTTP method used for uploads (default: PUT).
	Method string
	// Backoff governs retries of transient failures.
	Backoff Backoff
	// Timeout per upload attempt; zero means no timeout.
	Timeout   time.Duration
	Transport http.RoundTripper
}

// UploadManager streams local files to pre-signed upload URLs.
type UploadManager struct {
	httpClient  *http.Client
	method      string
	concurrency int
	backoff     Backoff
	logger      *zap.Logger
}

func NewUploadManager(cfg UploadManagerConfig, logger *zap.Logger) *UploadManager {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPut
	}
	if cfg.Backoff.MaxAttempts <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UploadManager{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		method:      cfg.Method,
		concurrency: cfg.Concurrency,
		backoff:     cfg.Backoff,
		logger:      logger.Named("upload"),
	}
}

// Upload sends file to target, retrying transient failures with backoff.
// It returns the number of attempts made.
func (m *UploadManager) Upload(ctx context.Context, file types.InputFile, target types.UploadTarget) (int, error) {
	attempts := 0
	err := m.backoff.Retry(ctx, func(attempt int) error {
		attempts = attempt
		return m.uploadOnce(ctx, file, target)
	}, func(attempt int, err error, wait time.Duration) {
		m.logger.Warn("upload failed, retrying",
			zap.String("file", file.Name),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	if err != nil {
		return attempts, fmt.Errorf("upload %s: %w", file.Name, err)
	}
	return attempts, nil
}

func (m *UploadManager) uploadOnce(ctx context.Context, file types.InputFile, target types.UploadTarget) error {
	f, err := os.Open(file.Path)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, m.method, target.URL, f)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	// Pre-signed URLs are signed without a content type and reject chunked bodies.
	req.ContentLength = info.Size()
	if info.Size() == 0 {
		req.Body = http.NoBody
	}

	op := m.method + " upload " + file.Name
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return &types.TransportError{Op: op, URL: target.URL, Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &types.TransportError{
			Op:         op,
			URL:        target.URL,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(body), maxErrorBody),
		}
	}
	return nil
}

// UploadAll uploads every task on a bounded pool. A failed task never stops
// its siblings; results keep the order of tasks. onDone, when set, is called
// from the worker goroutine as each task finishes.
func (m *UploadManager) UploadAll(ctx context.Context, tasks []UploadTask, onDone func(UploadResult)) []UploadResult {
	results := make([]UploadResult, len(tasks))
	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for i, task := range tasks {
		g.Go(func() error {
			attempts, err := m.Upload(ctx, task.File, task.Target)
			results[i] = UploadResult{File: task.File, Attempts: attempts, Err: err}
			if err != nil {
				m.logger.Error("upload exhausted",
					zap.String("file", task.File.Name),
					zap.Int("attempts", attempts),
					zap.Error(err))
			} else {
				m.logger.Debug("uploaded", zap.String("file", task.File.Name), zap.Int("attempts", attempts))
			}
			if onDone != nil {
				onDone(results[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
