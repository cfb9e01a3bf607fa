// Package chunker divides source text into fixed-size line-range chunks for
// embedding and search.
//
// # Basic Usage
//
//	c := chunker.New(512)
//	chunks := c.Chunk(content, "src/lib.rs")
//	for _, chunk := range chunks {
//	    fmt.Printf("lines %d-%d\n", chunk.StartLine, chunk.EndLine)
//	}
//
// # Chunking Strategy
//
// Chunking is unaware of syntax: every chunk holds the same number of lines
// except possibly the last one. This keeps the embedding cost of a file
// predictable at the price of sometimes splitting a function in two.
//
// For a file of L lines and a chunk size S the chunker yields ceil(L/S)
// chunks whose half-open ranges [StartLine, EndLine) are contiguous, increase
// monotonically and together cover exactly L lines.
//
// # Line Splitting
//
// Lines are split on "\n". A single trailing newline does not open an extra
// empty line and carriage returns before a newline are dropped, so
// "a\r\nb\n" has two lines.
package chunker
