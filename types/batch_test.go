package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBatchItemsTolerant(t *testing.T) {
	var raw []any
	require.NoError(t, json.Unmarshal([]byte(`[
		{"file_name":"a.pdf","data_id":"a","state":"done","full_zip_url":"https://cdn/a.zip",
		 "extract_progress":{"extracted_pages":3,"total_pages":"4"}},
		{"file_name":"b.pdf","state":"RUNNING","extra":{"x":1}},
		"garbage",
		{"file_name":"c.pdf","data_id":42,"state":"something-new"},
		{}
	]`), &raw))

	items := ParseBatchItems(raw)
	require.Len(t, items, 4)

	assert.Equal(t, BatchItem{
		DataID: "a", FileName: "a.pdf", State: ItemStateDone,
		ResultURL: "https://cdn/a.zip", ExtractedPages: 3, TotalPages: 4,
	}, items[0])
	assert.Equal(t, ItemStateRunning, items[1].State)
	assert.Equal(t, "42", items[2].DataID)
	assert.Equal(t, ItemStateUnknown, items[2].State)
	assert.False(t, items[2].IsTerminal())
	assert.Equal(t, BatchItem{State: ItemStateUnknown}, items[3])
}

func TestBatchItemMatches(t *testing.T) {
	f := NewInputFile("/in/paper one.pdf")
	assert.Equal(t, "paper one", f.DataID)

	assert.True(t, BatchItem{DataID: "paper one", FileName: "renamed.pdf"}.Matches(f))
	assert.False(t, BatchItem{DataID: "other", FileName: "paper one.pdf"}.Matches(f))
	assert.True(t, BatchItem{FileName: "paper one.pdf"}.Matches(f))
	assert.False(t, BatchItem{}.Matches(f))
}

func TestCountTerminal(t *testing.T) {
	items := []BatchItem{
		{State: ItemStateDone}, {State: ItemStateFailed},
		{State: ItemStatePending}, {State: ItemStateConverting}, {State: ItemStateWaitingFile},
	}
	assert.Equal(t, 2, CountTerminal(items))
}

func TestNewBatchRequestGatesPipelineOptions(t *testing.T) {
	files := []InputFile{NewInputFile("a.pdf"), NewInputFile("b.pdf")}
	opts := SubmitOptions{
		ModelVersion:  "vlm",
		IsOCR:         true,
		EnableFormula: true,
		EnableTable:   true,
		Language:      "en",
		ExtraFormats:  []string{"docx"},
		PageRanges:    "1-3",
	}

	b, err := json.Marshal(NewBatchRequest(files, opts))
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(b, &body))
	assert.Equal(t, "vlm", body["model_version"])
	assert.NotContains(t, body, "enable_formula")
	assert.NotContains(t, body, "enable_table")
	assert.NotContains(t, body, "language")
	assert.Equal(t, []any{"docx"}, body["extra_formats"])
	first := body["files"].([]any)[0].(map[string]any)
	assert.Equal(t, "a.pdf", first["name"])
	assert.Equal(t, "a", first["data_id"])
	assert.Equal(t, "1-3", first["page_ranges"])
	assert.NotContains(t, first, "is_ocr")

	opts.ModelVersion = ModelVersionPipeline
	req := NewBatchRequest(files, opts)
	require.NotNil(t, req.EnableFormula)
	assert.True(t, *req.EnableFormula)
	require.NotNil(t, req.EnableTable)
	assert.Equal(t, "en", req.Language)
	require.Len(t, req.Files, 2)
	require.NotNil(t, req.Files[1].IsOCR)
	assert.True(t, *req.Files[1].IsOCR)
	assert.Equal(t, "b", req.Files[1].DataID)
}

func TestMinerUEnvelopeCode(t *testing.T) {
	tests := []struct {
		body string
		ok   bool
		code string
	}{
		{`{"code":0,"data":{}}`, true, "0"},
		{`{"data":{}}`, true, ""},
		{`{"code":-60005,"msg":"quota"}`, false, "-60005"},
		{`{"code":"A0202","msg":"token error"}`, false, "A0202"},
		{`{"code":"0"}`, true, "0"},
	}
	for _, tt := range tests {
		var env MinerUEnvelope
		require.NoError(t, json.Unmarshal([]byte(tt.body), &env))
		assert.Equal(t, tt.ok, env.OK(), tt.body)
		assert.Equal(t, tt.code, env.CodeString(), tt.body)
	}
}

func TestRunReportFailures(t *testing.T) {
	r := &RunReport{}
	r.Add(Outcome{Name: "a.pdf", Status: OutcomeSuccess})
	r.Add(Outcome{Name: "b.pdf", Status: OutcomeFailed, Kind: FailureUpload})
	r.Add(Outcome{Name: "c.pdf", Status: OutcomeFailed, Kind: FailureUpload})
	r.Add(Outcome{Name: "d.pdf", Status: OutcomeFailed, Kind: FailureRemote})
	r.Add(Outcome{Name: "e.pdf", Status: OutcomeSkipped})

	assert.Equal(t, 1, r.Succeeded)
	assert.Equal(t, 3, r.Failed)
	assert.Equal(t, 1, r.Skipped)
	failures := r.Failures()
	assert.Len(t, failures[FailureUpload], 2)
	assert.Len(t, failures[FailureRemote], 1)
}
