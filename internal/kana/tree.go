// Package kana converts romaji to hiragana by walking a transliteration tree.
//
// The tree is built once (from the embedded pattern table or from a nested
// JSON/YAML document) and is read-only afterwards, so a single *Tree can be
// shared by any number of goroutines.
package kana

// NodeID indexes a node in a Tree's arena. The root is always 0.
type NodeID int32

const (
	rootID  NodeID = 0
	blocked NodeID = -1
)

// Value is the resolution attached to a tree node. An invalid Value means the
// prefix consumed so far has no resolution on its own.
type Value struct {
	Text  string
	Valid bool
}

// Text returns a valid Value holding s.
func Text(s string) Value {
	return Value{Text: s, Valid: true}
}

// Step describes what the tree offers for the next input character.
type Step uint8

const (
	// StepUnknown: the node has no entry at all for the character.
	StepUnknown Step = iota
	// StepBlocked: the node explicitly refuses the character; the chunk ends.
	StepBlocked
	// StepDescend: the character continues the chunk.
	StepDescend
)

type node struct {
	// inherit is set when the document gave no value for this node; the
	// effective value is then derived from the parent during traversal.
	inherit  bool
	own      Value
	children map[rune]NodeID
	live     int
}

// Tree is an arena of transliteration nodes. Children are referenced by
// index, blocked continuations by a sentinel index.
type Tree struct {
	nodes []node
}

// TreeStats summarises a tree for logs and health output.
type TreeStats struct {
	Nodes       int `json:"nodes"`
	RootEntries int `json:"root_entries"`
}

func (t *Tree) Stats() TreeStats {
	return TreeStats{
		Nodes:       len(t.nodes),
		RootEntries: len(t.nodes[rootID].children),
	}
}

// RootChild returns the node reached by starting a new chunk with c.
func (t *Tree) RootChild(c rune) (NodeID, bool) {
	id, ok := t.nodes[rootID].children[c]
	if !ok || id == blocked {
		return 0, false
	}
	return id, true
}

// Child looks up the continuation of id by c.
func (t *Tree) Child(id NodeID, c rune) (NodeID, Step) {
	next, ok := t.nodes[id].children[c]
	switch {
	case !ok:
		return 0, StepUnknown
	case next == blocked:
		return 0, StepBlocked
	default:
		return next, StepDescend
	}
}

// HasContinuations reports whether any input character could extend a
// chunk that currently ends at id.
func (t *Tree) HasContinuations(id NodeID) bool {
	return t.nodes[id].live > 0
}

// OwnValue returns the value stored on the node itself. ok is false when the
// node inherits its value from the traversal.
func (t *Tree) OwnValue(id NodeID) (v Value, ok bool) {
	n := &t.nodes[id]
	if n.inherit {
		return Value{}, false
	}
	return n.own, true
}

// EffectiveValue is the resolved value of id when it was reached from a
// node resolving to parent by consuming c: the node's own value if it has
// one, otherwise parent's text followed by c. An unresolved parent stays
// unresolved.
func (t *Tree) EffectiveValue(parent Value, c rune, id NodeID) Value {
	if own, ok := t.OwnValue(id); ok {
		return own
	}
	if !parent.Valid {
		return Value{}
	}
	return Text(parent.Text + string(c))
}
