package tree

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed decision_tree.json
var decisionTreeJSON []byte

// Node is a single topic in the decision tree. A node carries either
// children (a sub-menu), a destination link (a final answer), or neither
// (an informational dead end). When both are present, children win for
// navigation purposes.
type Node struct {
	Id          string   `json:"id"`
	Text        string   `json:"text"`
	Link        string   `json:"link,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Description string   `json:"description,omitempty"`
	Children    []*Node  `json:"children,omitempty"`
}

// HasChildren reports whether the node opens a sub-menu.
func (n *Node) HasChildren() bool {
	return len(n.Children) > 0
}

// IsLeaf reports whether the node resolves to a destination link.
func (n *Node) IsLeaf() bool {
	return n.Link != "" && !n.HasChildren()
}

// Index is the read-only in-memory view of the decision tree. It is built
// once at startup and never mutated afterwards.
type Index struct {
	root *Node
}

// Load parses the embedded municipal decision tree.
func Load() (*Index, error) {
	return LoadFrom(decisionTreeJSON)
}

// LoadFrom builds an index from raw JSON. Exposed for tests and for
// deployments that override the embedded asset.
func LoadFrom(data []byte) (*Index, error) {
	var root Node
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("tree: invalid decision tree asset: %w", err)
	}
	if root.Id == "" {
		return nil, fmt.Errorf("tree: root node has no id")
	}
	return &Index{root: &root}, nil
}

// Root returns the root node.
func (idx *Index) Root() *Node {
	return idx.root
}

// FindNode searches the whole tree depth-first for the given id.
// Returns nil when the id does not exist.
func (idx *Index) FindNode(id string) *Node {
	return findNode(idx.root, id)
}

func findNode(n *Node, id string) *Node {
	if n == nil {
		return nil
	}
	if n.Id == id {
		return n
	}
	for _, child := range n.Children {
		if found := findNode(child, id); found != nil {
			return found
		}
	}
	return nil
}

// ChildrenOf returns the ordered children of the given node, or an empty
// slice when the node has none or the id is unknown.
func (idx *Index) ChildrenOf(id string) []*Node {
	node := idx.FindNode(id)
	if node == nil {
		return nil
	}
	return node.Children
}

// Walk visits every node depth-first, carrying the node depth (root = 0).
// The walk is side-effect free with respect to the tree itself.
func (idx *Index) Walk(fn func(n *Node, depth int)) {
	walk(idx.root, 0, fn)
}

func walk(n *Node, depth int, fn func(n *Node, depth int)) {
	if n == nil {
		return
	}
	fn(n, depth)
	for _, child := range n.Children {
		walk(child, depth+1, fn)
	}
}
