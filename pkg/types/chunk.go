package types

import (
	"errors"
	"fmt"
)

// EmbeddingDimension is the length of every stored and query vector. It is
// part of the on-disk schema: changing it requires a new table.
const EmbeddingDimension = 1024

// Chunk is a contiguous line range of a file, the unit of embedding and retrieval.
// StartLine is 0-based and inclusive, EndLine is exclusive.
type Chunk struct {
	Content    string     `json:"content"`
	StartLine  int        `json:"start_line"`
	EndLine    int        `json:"end_line"`
	FilePath   string     `json:"file_path"`
	SymbolKind SymbolKind `json:"symbol_kind,omitempty"`
}

// LineCount returns the number of lines the chunk spans
func (c *Chunk) LineCount() int {
	return c.EndLine - c.StartLine
}

// Validate checks the chunk's line range and ownership
func (c *Chunk) Validate() error {
	if c.FilePath == "" {
		return errors.New("chunk file path is required")
	}
	if c.StartLine < 0 {
		return errors.New("line numbers must not be negative")
	}
	if c.StartLine >= c.EndLine {
		return fmt.Errorf("start line %d must be before end line %d", c.StartLine, c.EndLine)
	}
	if c.SymbolKind.IsSet() && !c.SymbolKind.IsValid() {
		return errors.New("invalid symbol kind")
	}
	return nil
}

// ValidatePartition checks that chunks of one file are ordered, contiguous,
// non-overlapping and together cover lineCount lines starting at line 0.
func ValidatePartition(chunks []Chunk, lineCount int) error {
	next := 0
	for i := range chunks {
		if err := chunks[i].Validate(); err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
		if chunks[i].StartLine != next {
			return fmt.Errorf("chunk %d starts at line %d, expected %d", i, chunks[i].StartLine, next)
		}
		next = chunks[i].EndLine
	}
	if next != lineCount {
		return fmt.Errorf("chunks cover %d lines, file has %d", next, lineCount)
	}
	return nil
}
