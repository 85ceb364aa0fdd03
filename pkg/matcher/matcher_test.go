package matcher

import (
	"fmt"
	"strconv"
	"testing"

	"muni-chatbot-be/pkg/tree"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadIndex(t *testing.T) *tree.Index {
	t.Helper()
	idx, err := tree.Load()
	require.NoError(t, err)
	return idx
}

func TestSimilarityIdentityAndSymmetry(t *testing.T) {
	cases := []string{"", "a", "licencia", "pago de servicios", "ñandú"}
	for _, s := range cases {
		assert.Equal(t, 1.0, Similarity(s, s), "Similarity(%q,%q)", s, s)
	}

	pairs := [][2]string{
		{"licencia", "licencias"},
		{"pago", "trago"},
		{"", "abc"},
		{"menú", "menu"},
	}
	for _, p := range pairs {
		assert.Equal(t, Similarity(p[0], p[1]), Similarity(p[1], p[0]))
	}
}

func TestSimilarityValues(t *testing.T) {
	// One substitution over four runes.
	assert.InDelta(t, 0.75, Similarity("pago", "paga"), 1e-9)
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 0.0, Similarity("", "xyz"))
}

func TestNumericSelectionIsDeterministic(t *testing.T) {
	idx := loadIndex(t)
	m := New(idx)

	children := idx.ChildrenOf("tramites")
	require.True(t, len(children) >= 4)

	for i := 1; i <= len(children); i++ {
		v := m.Match(strconv.Itoa(i), "tramites")
		require.Equal(t, KindSelection, v.Kind, "input %d", i)
		assert.Equal(t, children[i-1].Id, v.Node.Id)
	}
}

func TestNumericOutOfRangeFallsThrough(t *testing.T) {
	idx := loadIndex(t)
	m := New(idx)

	children := idx.ChildrenOf("tramites")
	v := m.Match(strconv.Itoa(len(children)+1), "tramites")
	assert.NotEqual(t, KindSelection, v.Kind)

	v = m.Match("0", "tramites")
	assert.NotEqual(t, KindSelection, v.Kind)
}

func TestNumericTakesPriorityOverKeywordSearch(t *testing.T) {
	idx := loadIndex(t)
	m := New(idx)

	// "3" is a valid index at root; it must select the third child even
	// though the keyword engine would happily return nothing for it.
	v := m.Match(" 3 ", "root")
	require.Equal(t, KindSelection, v.Kind)
	assert.Equal(t, idx.ChildrenOf("root")[2].Id, v.Node.Id)
}

func TestFuzzyChildMatch(t *testing.T) {
	idx := loadIndex(t)
	m := New(idx)

	// Containment in either direction.
	v := m.Match("licencia de conducir", "tramites")
	require.Equal(t, KindSelection, v.Kind)
	assert.Equal(t, "licencias_conducir", v.Node.Id)

	// Case-insensitive.
	v = m.Match("PAGO DE SERVICIOS MUNICIPALES", "tramites")
	require.Equal(t, KindSelection, v.Kind)
	assert.Equal(t, "pago_municipales", v.Node.Id)
}

func TestKeywordSearchRankingAndCap(t *testing.T) {
	idx := loadIndex(t)
	m := New(idx)

	results := m.SearchByKeywords("licencia de conducir")
	require.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 5)

	// The driver's license node must be among the candidates.
	found := false
	for _, r := range results {
		if r.Node.Id == "licencias_conducir" {
			found = true
		}
	}
	assert.True(t, found, "expected licencias_conducir among %v", results)

	// Descending score, ties by ascending depth.
	for i := 1; i < len(results); i++ {
		prev, curr := results[i-1], results[i]
		if prev.Relevance == curr.Relevance {
			assert.LessOrEqual(t, prev.Depth, curr.Depth)
		} else {
			assert.Greater(t, prev.Relevance, curr.Relevance)
		}
	}
}

func TestKeywordSearchNeverExceedsFive(t *testing.T) {
	idx := loadIndex(t)
	m := New(idx)

	// "atencion horario" hits many nodes across the tree.
	results := m.SearchByKeywords("atencion horario contacto transparencia datos")
	assert.LessOrEqual(t, len(results), 5)
}

func TestExtractKeywords(t *testing.T) {
	keywords := ExtractKeywords("Quiero pagar la patente de mi auto 2024!")
	assert.Contains(t, keywords, "quiero")
	assert.Contains(t, keywords, "pagar")
	assert.Contains(t, keywords, "patente")
	assert.Contains(t, keywords, "auto")
	// Stop word, short token, and non-letter token are all discarded.
	assert.NotContains(t, keywords, "la")
	assert.NotContains(t, keywords, "de")
	assert.NotContains(t, keywords, "mi")
	assert.NotContains(t, keywords, "2024!")
}

func TestNavigationCommands(t *testing.T) {
	idx := loadIndex(t)
	m := New(idx)

	cases := map[string]Command{
		"quiero volver":         CommandBack,
		"ir al menú principal":  CommandHome,
		"inicio":                CommandHome,
		"necesito ayuda urgent": CommandHelp,
		"muestra las opciones":  CommandOptions,
	}
	for input, want := range cases {
		v := m.Match(input, "transparencia")
		if v.Kind == KindCommand {
			assert.Equal(t, want, v.Command, "input %q", input)
		}
		assert.True(t, IsCommand(input), "input %q", input)
	}
}

func TestNoMatch(t *testing.T) {
	idx := loadIndex(t)
	m := New(idx)

	v := m.Match("xyzzy qwerty", "root")
	assert.Equal(t, KindNone, v.Kind)
}

func TestSearchScenarioFromRoot(t *testing.T) {
	idx := loadIndex(t)
	m := New(idx)

	// Free text at root that is not a child label goes through keyword
	// search and must surface the license node among the top five.
	v := m.Match("necesito sacar mi licencia para conducir", "root")
	require.Equal(t, KindSearchResults, v.Kind)

	ids := make([]string, 0, len(v.Results))
	for _, r := range v.Results {
		ids = append(ids, r.Node.Id)
	}
	assert.Contains(t, ids, "licencias_conducir", fmt.Sprintf("results: %v", ids))
}
