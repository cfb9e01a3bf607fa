package parser

import (
	"regexp"
	"sort"
	"strings"

	"github.com/dshills/codecontext/pkg/types"
)

// symbolPattern is one declaration pattern. NameGroup selects the symbol
// name; RelatedGroup, when non-zero, selects a related symbol name.
type symbolPattern struct {
	re           *regexp.Regexp
	kind         types.SymbolKind
	nameGroup    int
	relatedGroup int
}

// Patterns are compiled at package init; a bad pattern is a startup failure.
var defaultSymbolPatterns = []symbolPattern{
	{re: regexp.MustCompile(`\bclass\s+(\w+)`), kind: types.KindClass, nameGroup: 1},
	{re: regexp.MustCompile(`\bfn\s+(\w+)`), kind: types.KindFunction, nameGroup: 1},
	{re: regexp.MustCompile(`\bstruct\s+(\w+)`), kind: types.KindClass, nameGroup: 1},
	{re: regexp.MustCompile(`\btype\s+(\w+)\s+struct\b`), kind: types.KindClass, nameGroup: 1},
	{re: regexp.MustCompile(`\b(?:interface|trait|protocol)\s+(\w+)`), kind: types.KindInterface, nameGroup: 1},
	{re: regexp.MustCompile(`\btype\s+(\w+)\s+interface\b`), kind: types.KindInterface, nameGroup: 1},
	{re: regexp.MustCompile(`\bfunc\s+(\w+)`), kind: types.KindFunction, nameGroup: 1},
	{re: regexp.MustCompile(`\bfunc\s+\(\s*(?:\w+\s+)?\*?\s*(\w+)[^)]*\)\s*(\w+)`), kind: types.KindMethod, nameGroup: 2, relatedGroup: 1},
	{re: regexp.MustCompile(`\bdef\s+(\w+)`), kind: types.KindFunction, nameGroup: 1},
	{re: regexp.MustCompile(`\bfunction\s+(\w+)`), kind: types.KindFunction, nameGroup: 1},
}

var (
	useStatement     = regexp.MustCompile(`\buse\s+([^;]+);`)
	goImportSingle   = regexp.MustCompile(`(?m)^\s*import\s+(?:[\w.]+\s+)?"([^"]+)"`)
	goImportBlock    = regexp.MustCompile(`(?s)\bimport\s*\((.*?)\)`)
	quotedPath       = regexp.MustCompile(`"([^"]+)"`)
	pythonImport     = regexp.MustCompile(`(?m)^\s*import\s+([\w.]+)(?:\s+as\s+\w+)?\s*$`)
	pythonFromImport = regexp.MustCompile(`(?m)^\s*from\s+([\w.]+)\s+import\b`)
	javaImport       = regexp.MustCompile(`(?m)^\s*import\s+(?:static\s+)?([\w.]+(?:\.\*)?)\s*;`)
	esImport         = regexp.MustCompile(`\bimport\s+[^;'"]*?\bfrom\s+['"]([^'"]+)['"]`)
	requireCall      = regexp.MustCompile(`\brequire\(\s*['"]([^'"]+)['"]\s*\)`)
)

// Extractor finds coarse declarations and imports with textual patterns.
// It is a heuristic index, not a parser: each pattern is applied on its own
// and yields matches in document order, so results are grouped by pattern.
type Extractor struct {
	patterns []symbolPattern
}

// New creates an Extractor with the built-in pattern set
func New() *Extractor {
	return &Extractor{patterns: defaultSymbolPatterns}
}

// ExtractSymbols returns every declaration match in content
func (e *Extractor) ExtractSymbols(content, filePath string) []types.CodeSymbol {
	if content == "" {
		return nil
	}
	lines := newLineIndex(content)

	symbols := make([]types.CodeSymbol, 0)
	for _, p := range e.patterns {
		for _, m := range p.re.FindAllStringSubmatchIndex(content, -1) {
			nameStart, nameEnd := m[2*p.nameGroup], m[2*p.nameGroup+1]
			if nameStart < 0 {
				continue
			}
			line, col := lines.position(m[0])
			_, endCol := lines.position(m[1])

			sym := types.CodeSymbol{
				Name: content[nameStart:nameEnd],
				Kind: p.kind,
				Location: types.CodeLocation{
					File:      filePath,
					StartLine: line,
					EndLine:   line + 1,
					StartCol:  col,
					EndCol:    endCol,
				},
				RelatedSymbols: []string{},
			}
			if p.relatedGroup > 0 && m[2*p.relatedGroup] >= 0 {
				sym.AddRelated(content[m[2*p.relatedGroup]:m[2*p.relatedGroup+1]])
			}
			symbols = append(symbols, sym)
		}
	}
	return symbols
}

// ExtractImports returns imported module paths, pattern by pattern
func (e *Extractor) ExtractImports(content string) []string {
	if content == "" {
		return nil
	}

	imports := make([]string, 0)
	for _, m := range useStatement.FindAllStringSubmatch(content, -1) {
		imports = append(imports, strings.TrimSpace(m[1]))
	}
	for _, m := range goImportSingle.FindAllStringSubmatch(content, -1) {
		imports = append(imports, m[1])
	}
	for _, block := range goImportBlock.FindAllStringSubmatch(content, -1) {
		for _, m := range quotedPath.FindAllStringSubmatch(block[1], -1) {
			imports = append(imports, m[1])
		}
	}
	for _, re := range []*regexp.Regexp{pythonImport, pythonFromImport, javaImport, esImport, requireCall} {
		for _, m := range re.FindAllStringSubmatch(content, -1) {
			imports = append(imports, m[1])
		}
	}
	return imports
}

// Extract builds the cached FileContext for a file
func (e *Extractor) Extract(content, filePath string) *types.FileContext {
	return &types.FileContext{
		Content: content,
		Symbols: e.ExtractSymbols(content, filePath),
		Imports: e.ExtractImports(content),
	}
}

// lineIndex maps byte offsets to 0-based line and column
type lineIndex []int

func newLineIndex(content string) lineIndex {
	starts := []int{0}
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

func (li lineIndex) position(offset int) (line, col int) {
	line = sort.SearchInts(li, offset+1) - 1
	if line < 0 {
		line = 0
	}
	return line, offset - li[line]
}
