// Package parser extracts coarse symbols and imports from source text.
//
// Extraction is pattern based rather than syntax aware. A small fixed set of
// regular expressions recognizes class/struct/type declarations, function and
// method declarations, and import/use statements across the common languages
// (Rust, Go, Python, JavaScript/TypeScript, Java):
//
//	e := parser.New()
//	symbols := e.ExtractSymbols(content, "src/lib.rs")
//	imports := e.ExtractImports(content)
//
// Each pattern is applied independently and contributes its matches in
// document order, so the result is grouped by pattern rather than globally
// interleaved. A file may yield zero, one or many matches per pattern.
//
// Locations carry the 0-based line and byte column of the match. They are
// hints for display, not precise declaration spans.
//
// All patterns are compiled with regexp.MustCompile when the package is
// loaded, so a broken pattern fails the process at startup instead of
// failing individual files.
package parser
