package service

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tieubaoca/paperflow/types"
)

type member struct {
	name string
	body string
}

func buildZip(t *testing.T, members ...member) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, m := range members {
		w, err := zw.Create(m.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(m.body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeZip(t *testing.T, members ...member) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "result.zip")
	require.NoError(t, os.WriteFile(path, buildZip(t, members...), 0644))
	return path
}

func TestSelectTextMemberIsOrderIndependent(t *testing.T) {
	for _, names := range [][]string{
		{"a/report.md", "report.md"},
		{"report.md", "a/report.md"},
	} {
		got, ok := SelectTextMember(names)
		require.True(t, ok)
		assert.Equal(t, "report.md", got)
	}

	got, ok := SelectTextMember([]string{"x/long_name.md", "x/b.md", "x/a.md", "images/fig.png"})
	require.True(t, ok)
	assert.Equal(t, "x/a.md", got)

	_, ok = SelectTextMember([]string{"layout.json", "images/1.png"})
	assert.False(t, ok)
}

func TestSelectStructuredMember(t *testing.T) {
	tests := []struct {
		names []string
		want  string
		ok    bool
	}{
		{[]string{"full.md", "layout.json", "x_model.json", "x_content_list.json"}, "x_content_list.json", true},
		{[]string{"full.md", "layout.json", "x_model.json"}, "x_model.json", true},
		{[]string{"full.md", "deep/a/layout.json", "layout.json"}, "layout.json", true},
		{[]string{"full.md", "images/1.png"}, "", false},
	}
	for _, tt := range tests {
		got, ok := SelectStructuredMember(tt.names)
		assert.Equal(t, tt.ok, ok, tt.names)
		assert.Equal(t, tt.want, got, tt.names)
	}
}

func TestExtractArtifact(t *testing.T) {
	path := writeZip(t,
		member{"images/", ""},
		member{"paper/full.md", "# Title\nbody"},
		member{"paper/paper_content_list.json", `[{"type":"text","text":"hi","page_idx":0}]`},
		member{"paper/layout.json", `{}`},
	)
	art, err := ExtractArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, "# Title\nbody", art.Text)
	assert.Equal(t, "paper/full.md", art.TextMember)
	assert.Equal(t, "paper/paper_content_list.json", art.StructuredMember)
	assert.Equal(t, "[\n  {\n    \"type\": \"text\",\n    \"text\": \"hi\",\n    \"page_idx\": 0\n  }\n]", art.StructuredData)
}

func TestExtractArtifactReplacesInvalidUTF8(t *testing.T) {
	path := writeZip(t, member{"full.md", "ok \xff\xfe end"})
	art, err := ExtractArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, "ok \uFFFD end", art.Text)
	assert.False(t, art.HasStructuredData())
}

func TestExtractArtifactWithoutText(t *testing.T) {
	path := writeZip(t, member{"layout.json", "{}"})
	_, err := ExtractArtifact(path)
	assert.ErrorIs(t, err, types.ErrNoTextArtifact)
}

func TestResolveNotReady(t *testing.T) {
	r := NewArtifactResolver(ArtifactResolverConfig{TempDir: t.TempDir()}, nil)
	for _, it := range []types.BatchItem{
		{FileName: "a.pdf", State: types.ItemStateRunning, ResultURL: "https://cdn/a.zip"},
		{FileName: "a.pdf", State: types.ItemStateDone},
	} {
		_, err := r.Resolve(context.Background(), it, "a")
		assert.ErrorIs(t, err, types.ErrNotReady)
		assert.Equal(t, types.FailureNotReady, types.Classify(err, types.FailureDownload))
	}
}

func TestResolveDownloadsWithRetry(t *testing.T) {
	archive := buildZip(t, member{"a/full.md", "text"}, member{"a/a_content_list.json", "[]"})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	tmp := t.TempDir()
	r := NewArtifactResolver(ArtifactResolverConfig{TempDir: tmp, Backoff: fastBackoff}, nil)
	art, err := r.Resolve(context.Background(), types.BatchItem{
		FileName: "a.pdf", State: types.ItemStateDone, ResultURL: srv.URL + "/a.zip",
	}, "a")
	require.NoError(t, err)
	assert.Equal(t, "text", art.Text)
	assert.Equal(t, "[]", art.StructuredData)
	assert.EqualValues(t, 2, hits.Load())

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries, "archive is removed unless kept")
}

func TestResolveKeepsZip(t *testing.T) {
	archive := buildZip(t, member{"full.md", "text"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	tmp := t.TempDir()
	r := NewArtifactResolver(ArtifactResolverConfig{TempDir: tmp, KeepZip: true, Backoff: fastBackoff}, nil)
	_, err := r.Resolve(context.Background(), types.BatchItem{
		FileName: "b.pdf", State: types.ItemStateDone, ResultURL: srv.URL,
	}, "b")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(tmp, "b.zip"))
	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestResolveSameStemConcurrently(t *testing.T) {
	slowArchive := buildZip(t, member{"full.md", "slow"})
	fastArchive := buildZip(t, member{"full.md", "fast"})
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			close(started)
			<-release
			_, _ = w.Write(slowArchive)
			return
		}
		_, _ = w.Write(fastArchive)
	}))
	defer srv.Close()

	tmp := t.TempDir()
	r := NewArtifactResolver(ArtifactResolverConfig{TempDir: tmp, Backoff: fastBackoff}, nil)
	item := func(path string) types.BatchItem {
		return types.BatchItem{FileName: "paper.pdf", State: types.ItemStateDone, ResultURL: srv.URL + path}
	}

	type result struct {
		art *types.ExtractedArtifact
		err error
	}
	slow := make(chan result, 1)
	go func() {
		art, err := r.Resolve(context.Background(), item("/slow"), "paper")
		slow <- result{art, err}
	}()
	<-started

	fast, err := r.Resolve(context.Background(), item("/fast"), "paper")
	require.NoError(t, err)
	assert.Equal(t, "fast", fast.Text)

	close(release)
	got := <-slow
	require.NoError(t, got.err)
	assert.Equal(t, "slow", got.art.Text)
}

func TestResolveDownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := NewArtifactResolver(ArtifactResolverConfig{TempDir: t.TempDir(), Backoff: fastBackoff}, nil)
	_, err := r.Resolve(context.Background(), types.BatchItem{
		FileName: "c.pdf", State: types.ItemStateDone, ResultURL: srv.URL,
	}, "c")
	require.Error(t, err)
	assert.Equal(t, types.FailureDownload, types.Classify(err, types.FailureDownload))
}

func TestArtifactStore(t *testing.T) {
	root := t.TempDir()
	store := NewArtifactStore(filepath.Join(root, "md"), filepath.Join(root, "json"))
	assert.False(t, store.Exists("a"))

	textPath, dataPath, err := store.Save("a", &types.ExtractedArtifact{Text: "t", StructuredData: "{}"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "md", "a.md"), textPath)
	assert.Equal(t, filepath.Join(root, "json", "a.json"), dataPath)
	assert.True(t, store.Exists("a"))

	_, dataPath, err = store.Save("b", &types.ExtractedArtifact{Text: "t"})
	require.NoError(t, err)
	assert.Empty(t, dataPath)
	assert.True(t, store.Exists("b"), "text-only outputs count as converted")
	assert.NoFileExists(t, store.DataPath("b"))
}

func TestArtifactStoreWritesTextLast(t *testing.T) {
	root := t.TempDir()
	dataDir := filepath.Join(root, "json")
	// A regular file where the data directory should be makes the data write fail.
	require.NoError(t, os.WriteFile(dataDir, []byte("x"), 0644))
	store := NewArtifactStore(filepath.Join(root, "md"), dataDir)

	_, _, err := store.Save("a", &types.ExtractedArtifact{Text: "t", StructuredData: "{}"})
	require.Error(t, err)
	assert.NoFileExists(t, store.TextPath("a"))
	assert.False(t, store.Exists("a"))
}
