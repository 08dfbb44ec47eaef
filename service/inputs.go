package service

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/tieubaoca/paperflow/types"
	"github.com/tieubaoca/paperflow/utils"
)

// CollectInputs resolves explicit files (relative to dir when not absolute),
// or every PDF in dir when files is empty. Duplicate stems keep the first
// occurrence since outputs are keyed by stem.
func CollectInputs(dir string, files []string) ([]types.InputFile, error) {
	var paths []string
	switch {
	case len(files) > 0:
		for _, f := range files {
			if !filepath.IsAbs(f) && dir != "" {
				f = filepath.Join(dir, f)
			}
			paths = append(paths, f)
		}
	case dir != "":
		listed, err := utils.ListFiles(dir, ".pdf")
		if err != nil {
			return nil, fmt.Errorf("list input directory: %w", err)
		}
		paths = listed
	default:
		return nil, errors.New("no input directory or files given")
	}

	seen := make(map[string]bool, len(paths))
	inputs := make([]types.InputFile, 0, len(paths))
	for _, p := range paths {
		in := types.NewInputFile(p)
		if seen[in.Stem()] {
			continue
		}
		seen[in.Stem()] = true
		inputs = append(inputs, in)
	}
	return inputs, nil
}
