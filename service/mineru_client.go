package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tieubaoca/paperflow/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	batchUploadPath  = "/api/v4/file-urls/batch"
	batchResultsPath = "/api/v4/extract-results/batch/"

	maxErrorBody = 512
)

// JobClient talks to the remote conversion service. It never retries; retry
// policy belongs to the caller.
type JobClient interface {
	// RequestUploadTargets registers files as one remote batch and returns its
	// id with one upload target per file, in request order.
	RequestUploadTargets(ctx context.Context, files []types.InputFile, opts types.SubmitOptions) (string, []types.UploadTarget, error)
	// GetBatchStatus returns the current state of every item in the batch.
	GetBatchStatus(ctx context.Context, batchID string) ([]types.BatchItem, error)
}

// MinerUClientConfig configures MinerUClient.
type MinerUClientConfig struct {
	// BaseURLs are tried in order when submitting a batch.
	BaseURLs []string
	Token    string

	// Timeout for individual requests (default: 60s).
	Timeout time.Duration

	// RateLimit requests per second (default: 5).
	RateLimit float64

	// RateBurst maximum burst size (default: 5).
	RateBurst int

	// Transport allows injecting a custom HTTP transport (for tests/stubs).
	Transport http.RoundTripper
}

// MinerUClient is the HTTP implementation of JobClient.
type MinerUClient struct {
	baseURLs    []string
	token       string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *zap.Logger

	// batch id -> base url that issued it
	batchBase sync.Map
}

func NewMinerUClient(cfg MinerUClientConfig, logger *zap.Logger) *MinerUClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 5
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	bases := make([]string, 0, len(cfg.BaseURLs))
	for _, b := range cfg.BaseURLs {
		if b = strings.TrimRight(strings.TrimSpace(b), "/"); b != "" {
			bases = append(bases, b)
		}
	}
	return &MinerUClient{
		baseURLs: bases,
		token:    cfg.Token,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		logger:      logger.Named("mineru"),
	}
}

func (c *MinerUClient) RequestUploadTargets(ctx context.Context, files []types.InputFile, opts types.SubmitOptions) (string, []types.UploadTarget, error) {
	if len(files) == 0 {
		return "", nil, errors.New("no files to submit")
	}
	if len(c.baseURLs) == 0 {
		return "", nil, fmt.Errorf("%w: no base url configured", types.ErrServiceUnreachable)
	}
	body, err := json.Marshal(types.NewBatchRequest(files, opts))
	if err != nil {
		return "", nil, fmt.Errorf("encode batch request: %w", err)
	}

	var lastErr error
	for _, base := range c.baseURLs {
		env, err := c.doJSON(ctx, http.MethodPost, base+batchUploadPath, body)
		if err != nil {
			if ctx.Err() != nil {
				return "", nil, err
			}
			if types.IsRetryable(err) {
				c.logger.Warn("submission endpoint failed", zap.String("base_url", base), zap.Error(err))
				lastErr = err
				continue
			}
			return "", nil, err
		}
		batchID, targets, err := parseUploadTargets(env, len(files))
		if err != nil {
			return "", nil, err
		}
		c.batchBase.Store(batchID, base)
		c.logger.Info("batch registered",
			zap.String("batch_id", batchID),
			zap.String("base_url", base),
			zap.Int("files", len(files)))
		return batchID, targets, nil
	}
	return "", nil, fmt.Errorf("%w: %w", types.ErrServiceUnreachable, lastErr)
}

func parseUploadTargets(env *types.MinerUEnvelope, want int) (string, []types.UploadTarget, error) {
	batchID, _ := env.Data["batch_id"].(string)
	if batchID == "" {
		return "", nil, fmt.Errorf("%w: response has no batch_id", types.ErrProtocolViolation)
	}
	rawURLs, ok := env.Data["file_urls"].([]any)
	if !ok {
		return "", nil, fmt.Errorf("%w: batch %s: response has no file_urls list", types.ErrProtocolViolation, batchID)
	}
	if len(rawURLs) != want {
		return "", nil, fmt.Errorf("%w: batch %s: got %d upload targets for %d files",
			types.ErrProtocolViolation, batchID, len(rawURLs), want)
	}
	targets := make([]types.UploadTarget, 0, len(rawURLs))
	for i, raw := range rawURLs {
		u, _ := raw.(string)
		if u == "" {
			return "", nil, fmt.Errorf("%w: batch %s: upload target %d is empty", types.ErrProtocolViolation, batchID, i)
		}
		targets = append(targets, types.UploadTarget{URL: u})
	}
	return batchID, targets, nil
}

func (c *MinerUClient) GetBatchStatus(ctx context.Context, batchID string) ([]types.BatchItem, error) {
	base := c.baseFor(batchID)
	if base == "" {
		return nil, fmt.Errorf("%w: no base url configured", types.ErrServiceUnreachable)
	}
	env, err := c.doJSON(ctx, http.MethodGet, base+batchResultsPath+url.PathEscape(batchID), nil)
	if err != nil {
		return nil, err
	}
	raw, present := env.Data["extract_result"]
	if !present || raw == nil {
		return []types.BatchItem{}, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: batch %s: extract_result is %T, want list", types.ErrProtocolViolation, batchID, raw)
	}
	return types.ParseBatchItems(list), nil
}

func (c *MinerUClient) baseFor(batchID string) string {
	if v, ok := c.batchBase.Load(batchID); ok {
		return v.(string)
	}
	if len(c.baseURLs) == 0 {
		return ""
	}
	return c.baseURLs[0]
}

// doJSON performs one rate-limited request and decodes the response envelope.
func (c *MinerUClient) doJSON(ctx context.Context, method, endpoint string, body []byte) (*types.MinerUEnvelope, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Authorization", "Bearer "+c.token)

	op := method + " " + endpoint
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &types.TransportError{Op: op, URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &types.TransportError{Op: op, URL: endpoint, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var env types.MinerUEnvelope
		rejected := resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusRequestTimeout &&
			resp.StatusCode != http.StatusTooManyRequests
		if rejected && json.Unmarshal(payload, &env) == nil && !env.OK() {
			return nil, &types.ServiceRejectedError{Code: env.CodeString(), Msg: env.Msg}
		}
		return nil, &types.TransportError{
			Op:         op,
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(payload), maxErrorBody),
		}
	}

	var env types.MinerUEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %s: decode response: %v", types.ErrProtocolViolation, op, err)
	}
	if !env.OK() {
		return nil, &types.ServiceRejectedError{Code: env.CodeString(), Msg: env.Msg}
	}
	if env.Data == nil {
		env.Data = map[string]any{}
	}
	return &env, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
