package types

import (
	"errors"
	"strings"
)

// SymbolKind is the closed set of declaration kinds the engine understands.
// The zero value means "unset".
type SymbolKind string

const (
	KindFile      SymbolKind = "File"
	KindClass     SymbolKind = "Class"
	KindInterface SymbolKind = "Interface"
	KindFunction  SymbolKind = "Function"
	KindMethod    SymbolKind = "Method"
	KindVariable  SymbolKind = "Variable"
	KindImport    SymbolKind = "Import"
)

// AllSymbolKinds lists every valid kind in declaration order
var AllSymbolKinds = []SymbolKind{
	KindFile, KindClass, KindInterface, KindFunction, KindMethod, KindVariable, KindImport,
}

// kindAliases maps short spellings found in persisted rows to their kind
var kindAliases = map[string]SymbolKind{
	"fn":  KindFunction,
	"var": KindVariable,
	"use": KindImport,
}

// substringOrder is the probe order for substring matching. Longer and more
// specific names come first so "interface" is not read as "file".
var substringOrder = []SymbolKind{
	KindInterface, KindFunction, KindMethod, KindVariable, KindImport, KindClass, KindFile,
}

// IsValid reports whether k is one of the known kinds
func (k SymbolKind) IsValid() bool {
	for _, known := range AllSymbolKinds {
		if k == known {
			return true
		}
	}
	return false
}

// IsSet reports whether k carries a kind at all
func (k SymbolKind) IsSet() bool {
	return k != ""
}

// ParseSymbolKind maps free-form persisted text back onto a SymbolKind.
// Matching is case-insensitive: exact names and aliases first, then substring
// containment of a known kind name. Unrecognized text yields ("", false).
func ParseSymbolKind(text string) (SymbolKind, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return "", false
	}

	for _, kind := range AllSymbolKinds {
		if lower == strings.ToLower(string(kind)) {
			return kind, true
		}
	}
	if kind, ok := kindAliases[lower]; ok {
		return kind, true
	}

	for _, kind := range substringOrder {
		if strings.Contains(lower, strings.ToLower(string(kind))) {
			return kind, true
		}
	}
	return "", false
}

// CodeLocation is the span of a symbol inside a file. Columns are zero when
// extraction is coarse.
type CodeLocation struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	StartCol  int    `json:"start_col"`
	EndCol    int    `json:"end_col"`
}

// CodeSymbol is a declaration found by the symbol extractor
type CodeSymbol struct {
	Name           string       `json:"name"`
	Kind           SymbolKind   `json:"kind"`
	Location       CodeLocation `json:"location"`
	RelatedSymbols []string     `json:"related_symbols"`
}

// Validate checks if the symbol is usable
func (s *CodeSymbol) Validate() error {
	if s.Name == "" {
		return errors.New("symbol name is required")
	}
	if !s.Kind.IsValid() {
		return errors.New("invalid symbol kind")
	}
	if s.Location.StartLine < 0 || s.Location.EndLine < s.Location.StartLine {
		return errors.New("invalid symbol location")
	}
	return nil
}

// AddRelated records a related symbol name once
func (s *CodeSymbol) AddRelated(name string) {
	if name == "" || name == s.Name {
		return
	}
	for _, existing := range s.RelatedSymbols {
		if existing == name {
			return
		}
	}
	s.RelatedSymbols = append(s.RelatedSymbols, name)
}

// FileContext is the parsed form of one file held by the file cache
type FileContext struct {
	Content string       `json:"content"`
	Symbols []CodeSymbol `json:"symbols"`
	Imports []string     `json:"imports"`
}

// Size returns the content size in bytes
func (fc *FileContext) Size() int {
	return len(fc.Content)
}
