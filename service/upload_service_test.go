package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tieubaoca/paperflow/types"
)

var fastBackoff = Backoff{MaxAttempts: 6, Base: time.Millisecond, Cap: 2 * time.Millisecond}

// writeInputs creates PDF-named files with the given contents under dir.
func writeInputs(t *testing.T, dir string, contents map[string]string) []types.InputFile {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	var files []types.InputFile
	for _, name := range sortedKeys(contents) {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(contents[name]), 0644))
		files = append(files, types.NewInputFile(path))
	}
	return files
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestUploadSendsRawBody(t *testing.T) {
	var mu sync.Mutex
	var gotMethod, gotContentType string
	var gotLength int64
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotMethod = r.Method
		_, hasType := r.Header["Content-Type"]
		if hasType {
			gotContentType = r.Header.Get("Content-Type")
		}
		gotLength = r.ContentLength
		gotBody, _ = io.ReadAll(r.Body)
		assert.Empty(t, r.TransferEncoding)
	}))
	defer srv.Close()

	files := writeInputs(t, t.TempDir(), map[string]string{"a.pdf": "%PDF-1.7 body"})
	m := NewUploadManager(UploadManagerConfig{Backoff: fastBackoff}, nil)
	attempts, err := m.Upload(context.Background(), files[0], types.UploadTarget{URL: srv.URL + "/signed?sig=x"})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Empty(t, gotContentType)
	assert.EqualValues(t, len("%PDF-1.7 body"), gotLength)
	assert.Equal(t, "%PDF-1.7 body", string(gotBody))
}

func TestUploadRetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	files := writeInputs(t, t.TempDir(), map[string]string{"a.pdf": "x"})
	m := NewUploadManager(UploadManagerConfig{Backoff: fastBackoff}, nil)
	attempts, err := m.Upload(context.Background(), files[0], types.UploadTarget{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestUploadGivesUpAfterMaxAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	files := writeInputs(t, t.TempDir(), map[string]string{"a.pdf": "x"})
	m := NewUploadManager(UploadManagerConfig{Backoff: fastBackoff}, nil)
	attempts, err := m.Upload(context.Background(), files[0], types.UploadTarget{URL: srv.URL})
	require.Error(t, err)
	assert.Equal(t, 6, attempts)
	assert.EqualValues(t, 6, hits.Load())
	assert.ErrorIs(t, err, types.ErrTransport)
}

func TestUploadDoesNotRetryForbidden(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("<Error><Code>SignatureDoesNotMatch</Code></Error>"))
	}))
	defer srv.Close()

	files := writeInputs(t, t.TempDir(), map[string]string{"a.pdf": "x"})
	m := NewUploadManager(UploadManagerConfig{Backoff: fastBackoff}, nil)
	attempts, err := m.Upload(context.Background(), files[0], types.UploadTarget{URL: srv.URL})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Contains(t, err.Error(), "SignatureDoesNotMatch")
}

func TestUploadAllIsolatesFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/bad") {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	files := writeInputs(t, t.TempDir(), map[string]string{"a.pdf": "a", "b.pdf": "b", "c.pdf": "c", "d.pdf": ""})
	tasks := []UploadTask{
		{File: files[0], Target: types.UploadTarget{URL: srv.URL + "/ok"}},
		{File: files[1], Target: types.UploadTarget{URL: srv.URL + "/bad"}},
		{File: files[2], Target: types.UploadTarget{URL: srv.URL + "/ok"}},
		{File: files[3], Target: types.UploadTarget{URL: srv.URL + "/ok"}},
	}
	var done atomic.Int32
	m := NewUploadManager(UploadManagerConfig{Concurrency: 2, Backoff: fastBackoff}, nil)
	results := m.UploadAll(context.Background(), tasks, func(UploadResult) { done.Add(1) })

	require.Len(t, results, 4)
	assert.EqualValues(t, 4, done.Load())
	for i, r := range results {
		assert.Equal(t, tasks[i].File, r.File)
	}
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.Equal(t, 6, results[1].Attempts)
	assert.NoError(t, results[2].Err)
	assert.NoError(t, results[3].Err, "empty files upload with an empty body")
}

func TestUploadMissingInput(t *testing.T) {
	m := NewUploadManager(UploadManagerConfig{Backoff: fastBackoff}, nil)
	attempts, err := m.Upload(context.Background(), types.NewInputFile(filepath.Join(t.TempDir(), "gone.pdf")), types.UploadTarget{URL: "http://127.0.0.1:1"})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
