package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/tieubaoca/paperflow/types"
	"github.com/tieubaoca/paperflow/utils"
	"go.uber.org/zap"
)

// Resolver turns a finished batch item into its extracted artifact.
type Resolver interface {
	Resolve(ctx context.Context, item types.BatchItem, stem string) (*types.ExtractedArtifact, error)
}

type ArtifactResolverConfig struct {
	Token string
	// TempDir holds downloaded archives (default: os.TempDir()).
	TempDir string
	// KeepZip retains downloaded archives after extraction.
	KeepZip   bool
	Backoff   Backoff
	Timeout   time.Duration
	Transport http.RoundTripper
}

// ArtifactResolver downloads result archives and selects their text and
// structured members.
type ArtifactResolver struct {
	httpClient *http.Client
	token      string
	tempDir    string
	keepZip    bool
	backoff    Backoff
	logger     *zap.Logger
}

func NewArtifactResolver(cfg ArtifactResolverConfig, logger *zap.Logger) *ArtifactResolver {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.Backoff.MaxAttempts <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArtifactResolver{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		token:   cfg.Token,
		tempDir: cfg.TempDir,
		keepZip: cfg.KeepZip,
		backoff: cfg.Backoff,
		logger:  logger.Named("resolver"),
	}
}

// Resolve downloads the archive of a done item and extracts its artifact.
// Each download gets its own temp file so concurrent runs resolving the same
// stem never share a path. A kept archive is renamed to <stem>.zip.
func (r *ArtifactResolver) Resolve(ctx context.Context, item types.BatchItem, stem string) (*types.ExtractedArtifact, error) {
	if item.State != types.ItemStateDone || item.ResultURL == "" {
		return nil, fmt.Errorf("%w: %s is %s", types.ErrNotReady, item.FileName, item.State)
	}
	if stem == "" {
		stem = utils.FileNameWithoutExt(item.FileName)
	}
	zipPath, err := r.tempArchive(stem)
	if err != nil {
		return nil, err
	}
	defer os.Remove(zipPath)

	err = r.backoff.Retry(ctx, func(int) error {
		return r.download(ctx, item.ResultURL, zipPath)
	}, func(attempt int, err error, wait time.Duration) {
		r.logger.Warn("download failed, retrying",
			zap.String("file", item.FileName),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", item.FileName, err)
	}

	artifact, err := ExtractArtifact(zipPath)
	if err != nil {
		return nil, err
	}
	if r.keepZip {
		kept := filepath.Join(r.tempDir, stem+".zip")
		if err := os.Rename(zipPath, kept); err != nil {
			r.logger.Warn("failed to keep archive", zap.String("path", kept), zap.Error(err))
		}
	}
	return artifact, nil
}

func (r *ArtifactResolver) tempArchive(stem string) (string, error) {
	if err := os.MkdirAll(r.tempDir, 0755); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	f, err := os.CreateTemp(r.tempDir, stem+"-*.zip")
	if err != nil {
		return "", fmt.Errorf("create temp archive: %w", err)
	}
	name := f.Name()
	f.Close()
	return name, nil
}

func (r *ArtifactResolver) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.token)

	op := "GET archive"
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return &types.TransportError{Op: op, URL: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &types.TransportError{
			Op:         op,
			URL:        url,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(body), maxErrorBody),
		}
	}
	n, err := utils.CopyToFile(dest, resp.Body)
	if err != nil {
		return &types.TransportError{Op: op, URL: url, Err: err}
	}
	r.logger.Debug("archive downloaded", zap.String("path", dest), zap.Int64("bytes", n))
	return nil
}

// ExtractArtifact opens the archive at path and reads the selected members.
func ExtractArtifact(path string) (*types.ExtractedArtifact, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	members := make(map[string]*zip.File, len(zr.File))
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		members[f.Name] = f
		names = append(names, f.Name)
	}

	textName, ok := SelectTextMember(names)
	if !ok {
		return nil, fmt.Errorf("%w: %d members", types.ErrNoTextArtifact, len(names))
	}
	text, err := readMember(members[textName])
	if err != nil {
		return nil, err
	}
	artifact := &types.ExtractedArtifact{
		Text:       decodeText(text),
		TextMember: textName,
	}

	if dataName, ok := SelectStructuredMember(names); ok {
		data, err := readMember(members[dataName])
		if err != nil {
			return nil, err
		}
		artifact.StructuredData = formatStructured(data)
		artifact.StructuredMember = dataName
	}
	return artifact, nil
}

func readMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open member %s: %w", f.Name, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read member %s: %w", f.Name, err)
	}
	return b, nil
}

// SelectTextMember picks the primary markdown member: the shallowest, then
// shortest, then lexically first name ending in ".md".
func SelectTextMember(names []string) (string, bool) {
	return pickShallowest(filterSuffix(names, ".md"))
}

// SelectStructuredMember picks the structured-data member. Content lists are
// preferred over model output, which is preferred over any other JSON.
func SelectStructuredMember(names []string) (string, bool) {
	jsons := filterSuffix(names, ".json")
	for _, suffix := range []string{"content_list.json", "model.json"} {
		if name, ok := pickShallowest(filterSuffix(jsons, suffix)); ok {
			return name, true
		}
	}
	return pickShallowest(jsons)
}

func filterSuffix(names []string, suffix string) []string {
	var out []string
	for _, n := range names {
		if strings.HasSuffix(strings.ToLower(n), suffix) {
			out = append(out, n)
		}
	}
	return out
}

func pickShallowest(names []string) (string, bool) {
	if len(names) == 0 {
		return "", false
	}
	sorted := append([]string(nil), names...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if da, db := strings.Count(a, "/"), strings.Count(b, "/"); da != db {
			return da < db
		}
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	})
	return sorted[0], true
}

func decodeText(b []byte) string {
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

// formatStructured re-indents valid JSON and keeps anything else verbatim.
func formatStructured(b []byte) string {
	if json.Valid(b) {
		var buf bytes.Buffer
		if err := json.Indent(&buf, bytes.TrimSpace(b), "", "  "); err == nil {
			return buf.String()
		}
	}
	return decodeText(b)
}
