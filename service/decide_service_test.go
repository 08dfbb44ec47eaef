package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tieubaoca/paperflow/types"
)

const contentList = `[
	{"type":"text","text":"Attention Is Not Enough","page_idx":0},
	{"type":"image","img_path":"images/1.jpg","page_idx":0},
	{"type":"aside_text","text":"*Corresponding author: Example University","page_idx":1},
	{"type":"list","list_items":["Example University","Other Lab"],"page_idx":2},
	{"type":"text","text":"Appendix","page_idx":5}
]`

func TestLoadFirstPagesText(t *testing.T) {
	dir := t.TempDir()
	arr := filepath.Join(dir, "a.json")
	writeText(t, arr, contentList)
	obj := filepath.Join(dir, "b.json")
	writeText(t, obj, `{"items":`+contentList+`}`)

	want := "Attention Is Not Enough\n*Corresponding author: Example University\nExample University\nOther Lab"
	for _, path := range []string{arr, obj} {
		got, err := LoadFirstPagesText(path, 2)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	got, err := LoadFirstPagesText(arr, 0)
	require.NoError(t, err)
	assert.Equal(t, "Attention Is Not Enough", got)
}

func TestParseDecision(t *testing.T) {
	got := ParseDecision("```json\n{\"file_name\":\"a.json\",\"institution\":\"Google\",\"is_large\":true}\n```", "a.json")
	assert.Equal(t, "Google", got["institution"])
	assert.Equal(t, true, got["is_large"])

	got = ParseDecision("I could not tell.", "b.json")
	assert.Equal(t, map[string]any{"file_name": "b.json", "institution": "", "is_large": false}, got)
}

func TestDecideAppendsResults(t *testing.T) {
	root := t.TempDir()
	data := filepath.Join(root, "json", "a.json")
	writeText(t, data, contentList)

	ai := &fakeAI{reply: `{"file_name":"a.json","institution":"Example University","is_large":false}`}
	s := NewDecideService(ai, filepath.Join(root, "decide"), "", 2, nil)
	assert.Equal(t, filepath.Join(root, "decide", "2025-05-01.json"), s.OutputPath("2025-05-01"))

	in := types.HookInput{Name: "a.pdf", Stem: "a", DataPath: data, Date: "2025-05-01"}
	require.NoError(t, s.Decide(context.Background(), in))
	require.NoError(t, s.Decide(context.Background(), in))
	assert.Contains(t, ai.inputs[0], "File name: a.json")

	raw, err := os.ReadFile(s.OutputPath("2025-05-01"))
	require.NoError(t, err)
	var results []map[string]any
	require.NoError(t, json.Unmarshal(raw, &results))
	require.Len(t, results, 2)
	assert.Equal(t, "Example University", results[1]["institution"])

	// A run on the next day starts a new file.
	next := in
	next.Date = "2025-05-02"
	require.NoError(t, s.Decide(context.Background(), next))
	raw, err = os.ReadFile(s.OutputPath("2025-05-02"))
	require.NoError(t, err)
	results = nil
	require.NoError(t, json.Unmarshal(raw, &results))
	assert.Len(t, results, 1)

	assert.Error(t, s.Decide(context.Background(), types.HookInput{Name: "b.pdf"}), "structured output is required")
}

func TestDecideUpgradesSingleObjectFile(t *testing.T) {
	root := t.TempDir()
	data := filepath.Join(root, "a.json")
	writeText(t, data, contentList)
	ai := &fakeAI{reply: `{"institution":"Meta"}`}
	s := NewDecideService(ai, root, "", 2, nil)
	in := types.HookInput{Name: "a.pdf", DataPath: data, Date: "2025-05-01"}
	writeText(t, s.OutputPath(in.Date), `{"institution":"Kimi"}`)

	require.NoError(t, s.Decide(context.Background(), in))
	raw, err := os.ReadFile(s.OutputPath(in.Date))
	require.NoError(t, err)
	var results []map[string]any
	require.NoError(t, json.Unmarshal(raw, &results))
	require.Len(t, results, 2)
	assert.Equal(t, "Kimi", results[0]["institution"])
	assert.Equal(t, "Meta", results[1]["institution"])
}
