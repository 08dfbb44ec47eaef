package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tieubaoca/paperflow/types"
	"github.com/tieubaoca/paperflow/utils"
	"go.uber.org/zap"
)

const (
	gatherSeparator = "\n\n############################################################\n\n\n"

	defaultSummaryPrompt = "You are a paper summarization assistant. Summarize the given markdown paper " +
		"in plain text following the style and structure of the example. The summary covers: institution, " +
		"title, source, overview, key ideas, and analysis or personal view."
)

// SummaryService writes an LLM summary for every converted paper and appends
// it to a daily gather file.
type SummaryService struct {
	ai           AIService
	outputRoot   string
	systemPrompt string
	logger       *zap.Logger

	// guards the gather file
	mu sync.Mutex
}

// NewSummaryService lays out outputs as <outputRoot>/summary/<day>/<stem>.txt
// and <outputRoot>/summary_gather/<day>.txt, where day comes from the hook
// input.
func NewSummaryService(ai AIService, outputRoot string, systemPrompt, example string, logger *zap.Logger) *SummaryService {
	if systemPrompt == "" {
		systemPrompt = defaultSummaryPrompt
	}
	if example != "" {
		systemPrompt += "\nExample:\n" + example
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SummaryService{
		ai:           ai,
		outputRoot:   outputRoot,
		systemPrompt: systemPrompt,
		logger:       logger.Named("summary"),
	}
}

func (s *SummaryService) SummaryPath(day, stem string) string {
	return filepath.Join(s.outputRoot, "summary", day, stem+".txt")
}

func (s *SummaryService) GatherPath(day string) string {
	return filepath.Join(s.outputRoot, "summary_gather", day+".txt")
}

// Summarize is an ItemHook. Papers that already have a summary are skipped.
func (s *SummaryService) Summarize(ctx context.Context, in types.HookInput) error {
	day := in.Day()
	out := s.SummaryPath(day, in.Stem)
	if utils.FileExists(out) {
		s.logger.Debug("summary exists, skipping", zap.String("file", in.Name))
		return nil
	}
	raw, err := os.ReadFile(in.TextPath)
	if err != nil {
		return fmt.Errorf("read markdown: %w", err)
	}
	md := strings.ToValidUTF8(string(raw), "")

	summary, err := s.ai.Complete(ctx, s.systemPrompt, md)
	if err != nil {
		return fmt.Errorf("summarize %s: %w", in.Name, err)
	}
	if err := utils.WriteFileAtomic(out, []byte(summary)); err != nil {
		return err
	}
	if err := s.appendGather(s.GatherPath(day), summary); err != nil {
		return err
	}
	s.logger.Info("summary written", zap.String("file", in.Name), zap.String("path", out))
	return nil
}

func (s *SummaryService) appendGather(path, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create gather directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open gather file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(summary + gatherSeparator); err != nil {
		return fmt.Errorf("append gather file: %w", err)
	}
	return nil
}
