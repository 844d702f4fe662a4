package kana

import (
	"bytes"
	_ "embed"
	"io"
	"slices"
	"unicode/utf8"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var defaultPatterns []byte

// PatternSet is the flat pattern table a tree is generated from.
type PatternSet struct {
	// Syllables maps complete romaji sequences to kana.
	Syllables map[string]string `yaml:"syllables"`
	// Standalone gives a value to prefixes that also resolve on their own
	// when the next character cannot continue them ("n" before "k").
	Standalone map[string]string `yaml:"standalone"`
	// Geminates are consonants whose doubling produces the sokuon followed
	// by the consonant's continuations.
	Geminates []string `yaml:"geminates"`
	// GeminateAliases maps a consonant to the one it geminates in front of
	// ("t" before "ch").
	GeminateAliases map[string]string `yaml:"geminate_aliases"`
	Sokuon          string            `yaml:"sokuon"`
	Nasal           string            `yaml:"nasal"`
	NasalKana       string            `yaml:"nasal_kana"`
}

// LoadPatterns decodes a YAML pattern table.
func LoadPatterns(r io.Reader) (PatternSet, error) {
	var ps PatternSet
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&ps); err != nil {
		return PatternSet{}, loadErrorf(nil, err, "decoding pattern table")
	}
	return ps, nil
}

// DefaultTree builds the tree for the built-in Hepburn/Kunrei/IME pattern
// table. Each call returns a new tree; callers build it once at startup and
// pass it where it is needed.
func DefaultTree() (*Tree, error) {
	ps, err := LoadPatterns(bytes.NewReader(defaultPatterns))
	if err != nil {
		return nil, err
	}
	return BuildTree(ps)
}

// draft is the mutable pointer tree used while building. A nil child is a
// blocked continuation.
type draft struct {
	inherit  bool
	own      Value
	children map[rune]*draft
}

func newDraft() *draft {
	return &draft{inherit: true, children: make(map[rune]*draft)}
}

func (d *draft) setValue(v Value) {
	d.inherit = false
	d.own = v
}

// clone deep-copies d, prefixing every own value with prefix.
func (d *draft) clone(prefix string) *draft {
	if d == nil {
		return nil
	}
	c := &draft{inherit: d.inherit, own: d.own, children: make(map[rune]*draft, len(d.children))}
	if !c.inherit && c.own.Valid {
		c.own = Text(prefix + c.own.Text)
	}
	for r, child := range d.children {
		c.children[r] = child.clone(prefix)
	}
	return c
}

func (d *draft) live() int {
	return lo.CountBy(lo.Values(d.children), func(c *draft) bool { return c != nil })
}

func sortedRunes[V any](m map[rune]V) []rune {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}

func sortedStrings[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}

// BuildTree generates a tree from a pattern table.
func BuildTree(ps PatternSet) (*Tree, error) {
	root := newDraft()

	for _, romaji := range sortedStrings(ps.Syllables) {
		if err := insertPattern(root, romaji, ps.Syllables[romaji]); err != nil {
			return nil, err
		}
	}
	for _, romaji := range sortedStrings(ps.Standalone) {
		if err := insertPattern(root, romaji, ps.Standalone[romaji]); err != nil {
			return nil, err
		}
	}

	// Every clone is taken from the syllable tree before any of them is
	// attached, so "kkk" does not nest.
	type graft struct {
		at    *draft
		key   rune
		child *draft
		path  []rune
	}
	var grafts []graft

	pairs, err := geminatePairs(ps)
	if err != nil {
		return nil, err
	}
	if len(pairs) > 0 && ps.Sokuon == "" {
		return nil, loadErrorf(nil, nil, "geminates configured without a sokuon")
	}
	for _, p := range pairs {
		first, ok := root.children[p[0]]
		if !ok || first == nil {
			return nil, loadErrorf([]rune{p[0]}, nil, "geminate consonant has no syllables")
		}
		second, ok := root.children[p[1]]
		if !ok || second == nil {
			return nil, loadErrorf([]rune{p[1]}, nil, "geminate continuation has no syllables")
		}
		if _, exists := first.children[p[1]]; exists {
			return nil, loadErrorf([]rune{p[0], p[1]}, nil, "geminate collides with a syllable")
		}
		grafts = append(grafts, graft{at: first, key: p[1], child: second.clone(ps.Sokuon), path: []rune{p[0], p[1]}})
	}

	if ps.Nasal != "" {
		n, err := singleRune(ps.Nasal, nil)
		if err != nil {
			return nil, err
		}
		if ps.NasalKana == "" {
			return nil, loadErrorf([]rune{n}, nil, "nasal configured without kana")
		}
		nasal, ok := root.children[n]
		if !ok || nasal == nil {
			return nil, loadErrorf([]rune{n}, nil, "nasal has no syllables")
		}
		if _, exists := nasal.children[n]; exists {
			return nil, loadErrorf([]rune{n, n}, nil, "doubled nasal collides with a syllable")
		}
		doubled := nasal.clone(ps.NasalKana)
		doubled.setValue(Text(ps.NasalKana))
		grafts = append(grafts, graft{at: nasal, key: n, child: doubled, path: []rune{n, n}})
	}

	for _, g := range grafts {
		if _, exists := g.at.children[g.key]; exists {
			return nil, loadErrorf(g.path, nil, "continuation configured twice")
		}
		g.at.children[g.key] = g.child
	}

	fillBlocked(root, sortedRunes(root.children), true)

	if err := validate(root); err != nil {
		return nil, err
	}
	return compile(root), nil
}

func geminatePairs(ps PatternSet) ([][2]rune, error) {
	var pairs [][2]rune
	for _, g := range ps.Geminates {
		c, err := singleRune(g, nil)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, [2]rune{c, c})
	}
	for _, from := range sortedStrings(ps.GeminateAliases) {
		a, err := singleRune(from, nil)
		if err != nil {
			return nil, err
		}
		b, err := singleRune(ps.GeminateAliases[from], nil)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, [2]rune{a, b})
	}
	return pairs, nil
}

func insertPattern(root *draft, romaji, kana string) error {
	if romaji == "" {
		return loadErrorf(nil, nil, "empty pattern")
	}
	path := []rune(romaji)
	if kana == "" {
		return loadErrorf(path, nil, "pattern has no kana")
	}
	cur := root
	for _, r := range path {
		next, ok := cur.children[r]
		if !ok {
			next = newDraft()
			cur.children[r] = next
		}
		cur = next
	}
	if !cur.inherit && cur.own.Text != kana {
		return loadErrorf(path, nil, "conflicting kana %q and %q", cur.own.Text, kana)
	}
	cur.setValue(Text(kana))
	return nil
}

// fillBlocked gives every node that can be continued an explicit blocked
// entry for each root character it has no child for.
func fillBlocked(d *draft, rootKeys []rune, isRoot bool) {
	if !isRoot && d.live() > 0 {
		for _, r := range rootKeys {
			if _, ok := d.children[r]; !ok {
				d.children[r] = nil
			}
		}
	}
	for _, child := range d.children {
		if child != nil {
			fillBlocked(child, rootKeys, false)
		}
	}
}

func singleRune(s string, path []rune) (rune, error) {
	r, size := utf8.DecodeRuneInString(s)
	if s == "" || size != len(s) || r == utf8.RuneError {
		return 0, loadErrorf(path, nil, "key %q is not a single character", s)
	}
	return r, nil
}

// validate checks the structural rules shared by generated and loaded trees.
func validate(root *draft) error {
	if !root.inherit {
		return loadErrorf(nil, nil, "root must not carry a resolved value")
	}
	if len(root.children) == 0 {
		return loadErrorf(nil, nil, "tree has no root entries")
	}
	for _, r := range sortedRunes(root.children) {
		if root.children[r] == nil {
			return loadErrorf([]rune{r}, nil, "root entry must not be null")
		}
	}
	return validateBlocked(root, root, nil)
}

func validateBlocked(root, d *draft, path []rune) error {
	for _, r := range sortedRunes(d.children) {
		childPath := append(path[:len(path):len(path)], r)
		child := d.children[r]
		if child == nil {
			if _, ok := root.children[r]; !ok {
				return loadErrorf(childPath, nil, "blocked character %q has no root entry", r)
			}
			continue
		}
		if err := validateBlocked(root, child, childPath); err != nil {
			return err
		}
	}
	return nil
}

// compile lays a validated draft out as an arena, depth first in key order.
func compile(root *draft) *Tree {
	t := &Tree{}
	t.add(root)
	return t
}

func (t *Tree) add(d *draft) NodeID {
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, node{inherit: d.inherit, own: d.own})

	children := make(map[rune]NodeID, len(d.children))
	live := 0
	for _, r := range sortedRunes(d.children) {
		child := d.children[r]
		if child == nil {
			children[r] = blocked
			continue
		}
		children[r] = t.add(child)
		live++
	}
	// t.nodes may have grown while adding children.
	t.nodes[id].children = children
	t.nodes[id].live = live
	return id
}
