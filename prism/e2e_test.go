package prism_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corey/tsprism/internal/grammartest"
	"github.com/corey/tsprism/prism"
)

// TestLibrary_LoadAndParse_EndToEnd loads a real grammar through the C
// accessor and parses a model with it.
func TestLibrary_LoadAndParse_EndToEnd(t *testing.T) {
	p := grammartest.Provider(t)

	h := p.Language()
	require.True(t, h.Valid())
	assert.Equal(t, h, p.Language())

	parser, err := p.NewParser()
	require.NoError(t, err)
	defer parser.Close()

	source := []byte("dtmc\n\nmodule m\n  x : [0..1] init 0;\n  [] x=0 -> (x'=1);\nendmodule\n")
	tree := parser.Parse(source, nil)
	require.NotNil(t, tree)
	defer tree.Close()

	root := tree.RootNode()
	require.NotNil(t, root)
	assert.Equal(t, "source_file", root.Kind())
	assert.False(t, root.HasError(), root.ToSexp())
}

// TestLibrary_ReopenYieldsSameTable checks that the table is a process-wide
// singleton: a second dlopen of the same library resolves the same address.
func TestLibrary_ReopenYieldsSameTable(t *testing.T) {
	dir := grammartest.Dir(t)

	p1, err := prism.Open(prism.NewLibrary([]string{dir}))
	require.NoError(t, err)
	p2, err := prism.Open(prism.NewLibrary([]string{dir}))
	require.NoError(t, err)

	assert.Equal(t, p1.Language().Pointer(), p2.Language().Pointer())
	assert.Equal(t, p1.ABIVersion(), p2.ABIVersion())
}

func TestHandle_LanguageMetadata(t *testing.T) {
	p := grammartest.Provider(t)

	lang := p.Language().Language()
	require.NotNil(t, lang)
	assert.NotZero(t, lang.NodeKindCount())
	assert.NotZero(t, lang.IdForNodeKind("source_file", true))
}
