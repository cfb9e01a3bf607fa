package chunker

import (
	"strings"

	"github.com/dshills/codecontext/pkg/types"
)

const (
	// DefaultChunkSize is the number of lines per chunk when none is configured
	DefaultChunkSize = types.DefaultChunkSize
)

// Chunker splits file text into fixed-size line-range chunks
type Chunker struct {
	size int
}

// New creates a Chunker producing chunks of size lines. Non-positive sizes
// fall back to DefaultChunkSize.
func New(size int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &Chunker{size: size}
}

// Size returns the configured lines per chunk
func (c *Chunker) Size() int {
	return c.size
}

// Chunk splits content into successive groups of c.Size() lines; the last
// group may be shorter. Line ranges are half-open and 0-based, and the chunks
// partition the file's lines in order. SymbolKind is left unset.
func (c *Chunker) Chunk(content, filePath string) []types.Chunk {
	return ChunkLines(SplitLines(content), filePath, c.size)
}

// ChunkLines groups pre-split lines into chunks of size lines
func ChunkLines(lines []string, filePath string, size int) []types.Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if len(lines) == 0 {
		return nil
	}

	chunks := make([]types.Chunk, 0, (len(lines)+size-1)/size)
	for start := 0; start < len(lines); start += size {
		end := start + size
		if end > len(lines) {
			end = len(lines)
		}
		chunks = append(chunks, types.Chunk{
			Content:   strings.Join(lines[start:end], "\n"),
			StartLine: start,
			EndLine:   end,
			FilePath:  filePath,
		})
	}
	return chunks
}

// SplitLines splits text on "\n", dropping a single trailing newline and any
// "\r" before a line break. Empty text has no lines.
func SplitLines(content string) []string {
	if content == "" {
		return nil
	}
	content = strings.TrimSuffix(content, "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

// CountLines returns len(SplitLines(content)) without allocating the lines
func CountLines(content string) int {
	if content == "" {
		return 0
	}
	return strings.Count(strings.TrimSuffix(content, "\n"), "\n") + 1
}
