package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectInputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.pdf", "a.pdf", "C.PDF", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	inputs, err := CollectInputs(dir, nil)
	require.NoError(t, err)
	var names []string
	for _, in := range inputs {
		names = append(names, in.Name)
	}
	assert.Equal(t, []string{"C.PDF", "a.pdf", "b.pdf"}, names)

	inputs, err = CollectInputs(dir, []string{"b.pdf", "/abs/c.pdf", "old/b.pdf"})
	require.NoError(t, err)
	require.Len(t, inputs, 2, "outputs are keyed by stem, so the second b.pdf is dropped")
	assert.Equal(t, filepath.Join(dir, "b.pdf"), inputs[0].Path)
	assert.Equal(t, "/abs/c.pdf", inputs[1].Path)
	assert.Equal(t, "c", inputs[1].DataID)

	_, err = CollectInputs("", nil)
	assert.Error(t, err)
	_, err = CollectInputs(filepath.Join(dir, "missing"), nil)
	assert.Error(t, err)
}
