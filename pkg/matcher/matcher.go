package matcher

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"muni-chatbot-be/pkg/tree"
)

// similarityThreshold is the minimum normalized edit-distance score for a
// fuzzy child match.
const similarityThreshold = 0.7

// maxSearchResults caps the keyword-relevance candidate list.
const maxSearchResults = 5

// Field weights for the keyword relevance score.
const (
	weightText        = 2
	weightKeywordTag  = 3
	weightDescription = 1
)

// Kind discriminates the matcher verdict.
type Kind int

const (
	// KindNone signals that no interpretation matched.
	KindNone Kind = iota
	// KindSelection resolves the input to a single tree node.
	KindSelection
	// KindSearchResults carries ranked keyword-search candidates.
	KindSearchResults
	// KindCommand maps the input to a navigation command.
	KindCommand
)

// Command is a recognized navigation command.
type Command int

const (
	CommandHome Command = iota
	CommandBack
	CommandHelp
	CommandOptions
)

// SearchResult is one ranked keyword-search candidate.
type SearchResult struct {
	Node      *tree.Node
	Relevance int
	Depth     int
}

// Verdict is the interpretation of one free-text input against the tree.
type Verdict struct {
	Kind    Kind
	Node    *tree.Node
	Results []SearchResult
	Command Command
}

// Spanish stop words discarded before keyword scoring.
var stopWords = map[string]struct{}{
	"el": {}, "la": {}, "de": {}, "que": {}, "y": {}, "a": {}, "en": {},
	"un": {}, "es": {}, "se": {}, "no": {}, "te": {}, "lo": {}, "le": {},
	"da": {}, "su": {}, "por": {}, "son": {}, "con": {}, "para": {},
	"como": {}, "está": {}, "me": {}, "si": {}, "sin": {}, "sobre": {},
	"este": {}, "ya": {}, "entre": {}, "cuando": {}, "todo": {},
	"esta": {}, "ser": {}, "tiene": {}, "sus": {}, "era": {},
	"tanto": {}, "dos": {}, "puede": {}, "hasta": {}, "otros": {},
	"parte": {}, "desde": {}, "más": {}, "muy": {}, "fue": {},
	"tiempo": {}, "cada": {}, "él": {}, "ella": {},
}

var letterToken = regexp.MustCompile(`^[a-záéíóúñü]+$`)

// Matcher turns free-text user input into a navigation verdict against the
// decision tree. It holds no mutable state and is safe for concurrent use.
type Matcher struct {
	index *tree.Index
}

func New(index *tree.Index) *Matcher {
	return &Matcher{index: index}
}

// Match interprets input at the given tree position. The priority order is
// fixed: numeric selection, exact/fuzzy child match, keyword search,
// navigation command, no match. An explicit numeric choice must never be
// pre-empted by a plausible keyword hit.
func (m *Matcher) Match(input, currentNodeId string) Verdict {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return Verdict{Kind: KindNone}
	}

	if node := m.matchNumeric(trimmed, currentNodeId); node != nil {
		return Verdict{Kind: KindSelection, Node: node}
	}

	if node := m.matchChild(trimmed, currentNodeId); node != nil {
		return Verdict{Kind: KindSelection, Node: node}
	}

	if results := m.SearchByKeywords(trimmed); len(results) > 0 {
		return Verdict{Kind: KindSearchResults, Results: results}
	}

	if cmd, ok := matchCommand(trimmed); ok {
		return Verdict{Kind: KindCommand, Command: cmd}
	}

	return Verdict{Kind: KindNone}
}

// matchNumeric resolves a 1-based index into the current node's children.
func (m *Matcher) matchNumeric(input, currentNodeId string) *tree.Node {
	n, err := strconv.Atoi(input)
	if err != nil {
		return nil
	}
	children := m.index.ChildrenOf(currentNodeId)
	if n < 1 || n > len(children) {
		return nil
	}
	return children[n-1]
}

// matchChild looks for a case-insensitive containment match in either
// direction, or an edit-distance similarity above the threshold, against
// the current node's children.
func (m *Matcher) matchChild(input, currentNodeId string) *tree.Node {
	inputLower := strings.ToLower(input)
	for _, child := range m.index.ChildrenOf(currentNodeId) {
		textLower := strings.ToLower(child.Text)
		if strings.Contains(textLower, inputLower) || strings.Contains(inputLower, textLower) {
			return child
		}
		if Similarity(inputLower, textLower) > similarityThreshold {
			return child
		}
	}
	return nil
}

// SearchByKeywords scores every node in the tree by keyword hits and
// returns at most maxSearchResults candidates, sorted by descending
// relevance with ties broken by shallower depth.
func (m *Matcher) SearchByKeywords(input string) []SearchResult {
	keywords := ExtractKeywords(input)
	if len(keywords) == 0 {
		return nil
	}

	var results []SearchResult
	m.index.Walk(func(n *tree.Node, depth int) {
		relevance := scoreNode(n, keywords)
		if relevance > 0 {
			results = append(results, SearchResult{Node: n, Relevance: relevance, Depth: depth})
		}
	})

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Relevance != results[j].Relevance {
			return results[i].Relevance > results[j].Relevance
		}
		return results[i].Depth < results[j].Depth
	})

	if len(results) > maxSearchResults {
		results = results[:maxSearchResults]
	}
	return results
}

func scoreNode(n *tree.Node, keywords []string) int {
	relevance := 0
	textLower := strings.ToLower(n.Text)
	descLower := strings.ToLower(n.Description)

	for _, kw := range keywords {
		if strings.Contains(textLower, kw) {
			relevance += weightText
		}
		for _, tag := range n.Keywords {
			if strings.Contains(strings.ToLower(tag), kw) {
				relevance += weightKeywordTag
				break
			}
		}
		if descLower != "" && strings.Contains(descLower, kw) {
			relevance += weightDescription
		}
	}
	return relevance
}

// ExtractKeywords tokenizes input into lowercase words, discarding stop
// words, tokens of two characters or fewer, and tokens containing
// non-letter characters.
func ExtractKeywords(input string) []string {
	var keywords []string
	for _, token := range strings.Fields(strings.ToLower(input)) {
		if len([]rune(token)) <= 2 {
			continue
		}
		if _, stop := stopWords[token]; stop {
			continue
		}
		if !letterToken.MatchString(token) {
			continue
		}
		keywords = append(keywords, token)
	}
	return keywords
}

// IsCommand reports whether the input contains a navigation command.
func IsCommand(input string) bool {
	_, ok := matchCommand(input)
	return ok
}

func matchCommand(input string) (Command, bool) {
	inputLower := strings.ToLower(input)
	// Home commands win over the rest, matching the original navigation
	// resolution order.
	for _, word := range []string{"menú", "menu", "inicio", "principal"} {
		if strings.Contains(inputLower, word) {
			return CommandHome, true
		}
	}
	for _, word := range []string{"volver", "atrás"} {
		if strings.Contains(inputLower, word) {
			return CommandBack, true
		}
	}
	if strings.Contains(inputLower, "ayuda") {
		return CommandHelp, true
	}
	if strings.Contains(inputLower, "opciones") {
		return CommandOptions, true
	}
	return 0, false
}
