package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSymbolKind(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   SymbolKind
		wantOK bool
	}{
		{"canonical name", "Function", KindFunction, true},
		{"lowercase", "class", KindClass, true},
		{"upper case", "INTERFACE", KindInterface, true},
		{"alias fn", "fn", KindFunction, true},
		{"alias var", "var", KindVariable, true},
		{"alias use", "use", KindImport, true},
		{"padded", "  method ", KindMethod, true},
		{"substring", "SymbolKind::Class", KindClass, true},
		{"interface not file", "interfacefile", KindInterface, true},
		{"empty", "", "", false},
		{"unknown", "lambda", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseSymbolKind(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSymbolKindRoundTrip(t *testing.T) {
	for _, kind := range AllSymbolKinds {
		got, ok := ParseSymbolKind(string(kind))
		assert.True(t, ok, kind)
		assert.Equal(t, kind, got)
		assert.True(t, kind.IsValid())
	}
	assert.False(t, SymbolKind("").IsSet())
	assert.False(t, SymbolKind("Struct").IsValid())
}

func TestCodeSymbolAddRelated(t *testing.T) {
	sym := CodeSymbol{Name: "Foo", Kind: KindClass}
	sym.AddRelated("Bar")
	sym.AddRelated("Bar")
	sym.AddRelated("Foo")
	sym.AddRelated("")
	assert.Equal(t, []string{"Bar"}, sym.RelatedSymbols)
	assert.NoError(t, sym.Validate())

	bad := CodeSymbol{Name: "x", Kind: "Struct"}
	assert.Error(t, bad.Validate())
}

func TestValidatePartition(t *testing.T) {
	chunks := []Chunk{
		{Content: "a", StartLine: 0, EndLine: 2, FilePath: "f"},
		{Content: "b", StartLine: 2, EndLine: 3, FilePath: "f"},
	}
	assert.NoError(t, ValidatePartition(chunks, 3))
	assert.Error(t, ValidatePartition(chunks, 4))

	gap := []Chunk{
		{Content: "a", StartLine: 0, EndLine: 2, FilePath: "f"},
		{Content: "b", StartLine: 3, EndLine: 4, FilePath: "f"},
	}
	assert.Error(t, ValidatePartition(gap, 4))
	assert.NoError(t, ValidatePartition(nil, 0))
}
