package service

import (
	"strings"
	"unicode/utf8"

	"github.com/tieubaoca/paperflow/types"
)

// TextChunker splits converted text into overlapping chunks that end on
// sentence boundaries where possible.
type TextChunker struct {
	maxChunkSize int
	overlapSize  int
}

func NewTextChunker(config types.ChunkerConfig) *TextChunker {
	if config.MaxChunkSize <= 0 {
		config.MaxChunkSize = 1000
	}
	if config.OverlapSize < 0 || config.OverlapSize >= config.MaxChunkSize {
		config.OverlapSize = 0
	}
	return &TextChunker{
		maxChunkSize: config.MaxChunkSize,
		overlapSize:  config.OverlapSize,
	}
}

// Split returns the chunks of text tagged with metadata.
func (s *TextChunker) Split(text string, metadata types.PaperMetadata) []types.PaperChunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	textLen := len(text)
	if textLen <= s.maxChunkSize {
		return []types.PaperChunk{{Content: text, Metadata: metadata}}
	}

	var chunks []types.PaperChunk
	add := func(content string) {
		if content = strings.TrimSpace(content); content != "" {
			chunks = append(chunks, types.PaperChunk{Content: content, Index: len(chunks), Metadata: metadata})
		}
	}

	currentPos := 0
	for currentPos < textLen {
		chunkEnd := currentPos + s.maxChunkSize
		if chunkEnd >= textLen {
			add(text[currentPos:])
			break
		}

		// Find nearest sentence end
		cut := -1
		for i := chunkEnd; i > currentPos; i-- {
			if text[i] == '.' || text[i] == '?' || text[i] == '!' || text[i] == '\n' {
				cut = i + 1
				break
			}
		}
		// If no sentence end found, use word boundary
		if cut == -1 {
			for i := chunkEnd; i > currentPos; i-- {
				if text[i] == ' ' {
					cut = i
					break
				}
			}
		}
		if cut == -1 {
			cut = chunkEnd
			for cut > currentPos && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == currentPos {
				cut = chunkEnd
			}
		}

		add(text[currentPos:cut])

		next := cut - s.overlapSize
		for next > 0 && next < textLen && !utf8.RuneStart(text[next]) {
			next--
		}
		if next <= currentPos {
			next = cut
		}
		currentPos = next
	}
	return chunks
}
