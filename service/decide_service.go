package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/tieubaoca/paperflow/types"
	"github.com/tieubaoca/paperflow/utils"
	"go.uber.org/zap"
)

const defaultDecidePrompt = "You are a careful affiliation extraction assistant. Using only the text of the " +
	"first pages of a paper, identify the institution (university or company) of the first author and of the " +
	"corresponding author, then pick the main institution: prefer the corresponding author's institution when " +
	"one is marked (*, † or a \"Corresponding author\" footnote), otherwise use the first author's. " +
	"Return only one JSON object with at least the keys file_name, institution and is_large, and preferably " +
	"first_author_institution and corresponding_author_institution. Keep globally known brands such as Google, " +
	"Meta or Kimi in their original form. is_large is true when the institution is a widely recognised large " +
	"or trusted organisation. Return JSON only."

// firstPageTypes are the content-list block types that carry running text.
var firstPageTypes = map[string]bool{"text": true, "aside_text": true, "list": true}

// DecideService asks an LLM for the main institution of every converted paper
// and collects the answers in a daily JSON array.
type DecideService struct {
	ai           AIService
	outputRoot   string
	systemPrompt string
	maxPageIdx   int
	logger       *zap.Logger

	// guards the shared result file
	mu sync.Mutex
}

// NewDecideService writes results to <outputRoot>/<day>.json, where day comes
// from the hook input.
func NewDecideService(ai AIService, outputRoot string, systemPrompt string, maxPageIdx int, logger *zap.Logger) *DecideService {
	if systemPrompt == "" {
		systemPrompt = defaultDecidePrompt
	}
	if maxPageIdx < 0 {
		maxPageIdx = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DecideService{
		ai:           ai,
		outputRoot:   outputRoot,
		systemPrompt: systemPrompt,
		maxPageIdx:   maxPageIdx,
		logger:       logger.Named("decide"),
	}
}

func (s *DecideService) OutputPath(day string) string {
	return filepath.Join(s.outputRoot, day+".json")
}

// Decide is an ItemHook working on the structured output of a paper.
func (s *DecideService) Decide(ctx context.Context, in types.HookInput) error {
	if in.DataPath == "" {
		return fmt.Errorf("%s has no structured output", in.Name)
	}
	text, err := LoadFirstPagesText(in.DataPath, s.maxPageIdx)
	if err != nil {
		return err
	}
	fileName := filepath.Base(in.DataPath)
	answer, err := s.ai.Complete(ctx, s.systemPrompt, fmt.Sprintf("File name: %s\nText:\n%s", fileName, text))
	if err != nil {
		return fmt.Errorf("decide %s: %w", in.Name, err)
	}
	decision := ParseDecision(answer, fileName)
	if err := s.appendResult(s.OutputPath(in.Day()), decision); err != nil {
		return err
	}
	s.logger.Info("affiliation decided", zap.String("file", in.Name), zap.Any("institution", decision["institution"]))
	return nil
}

// LoadFirstPagesText joins the running text of content-list blocks on pages
// up to maxPageIdx. The content list may be a bare array or an object with an
// "items" array.
func LoadFirstPagesText(path string, maxPageIdx int) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read content list: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("decode content list: %w", err)
	}
	var blocks []any
	switch v := doc.(type) {
	case []any:
		blocks = v
	case map[string]any:
		blocks, _ = v["items"].([]any)
	}

	var lines []string
	for _, b := range blocks {
		block, ok := b.(map[string]any)
		if !ok || pageIdx(block["page_idx"]) > maxPageIdx {
			continue
		}
		kind, _ := block["type"].(string)
		if !firstPageTypes[kind] {
			continue
		}
		if items, ok := block["list_items"].([]any); kind == "list" && ok {
			for _, it := range items {
				lines = append(lines, fmt.Sprint(it))
			}
			continue
		}
		if t, ok := block["text"].(string); ok && t != "" {
			lines = append(lines, t)
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}

func pageIdx(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 1 << 30
		}
		return i
	default:
		return 0
	}
}

// ParseDecision reads the model answer as a JSON object, tolerating a markdown
// code fence. Anything else yields an empty decision for fileName.
func ParseDecision(answer, fileName string) map[string]any {
	s := strings.TrimSpace(answer)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &obj); err == nil && obj != nil {
		return obj
	}
	return map[string]any{"file_name": fileName, "institution": "", "is_large": false}
}

// appendResult adds item to the JSON array at path. A file that holds a
// single object is turned into an array; an unreadable file gets a JSON line
// appended instead of being overwritten.
func (s *DecideService) appendResult(path string, item map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []any
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("read decisions: %w", err)
	default:
		var existing any
		if jerr := json.Unmarshal(raw, &existing); jerr != nil {
			return appendLine(path, item)
		}
		if arr, ok := existing.([]any); ok {
			list = arr
		} else {
			list = []any{existing}
		}
	}
	list = append(list, item)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(list); err != nil {
		return fmt.Errorf("encode decisions: %w", err)
	}
	return utils.WriteFileAtomic(path, buf.Bytes())
}

func appendLine(path string, item map[string]any) error {
	line, err := json.Marshal(item)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open decisions: %w", err)
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}
