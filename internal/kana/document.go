package kana

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// The tree document is a nested mapping. At every level the "" key holds the
// node's resolved value (a string, or null for "no resolution") and every
// other key is a single character mapping to a child node or to null for a
// blocked continuation. A missing "" key means the node passes the consumed
// characters through.

// LoadJSON builds a tree from a JSON tree document.
func LoadJSON(r io.Reader) (*Tree, error) {
	var doc map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, loadErrorf(nil, err, "decoding JSON document")
	}
	root, err := draftFromJSON(doc, nil)
	if err != nil {
		return nil, err
	}
	if err := validate(root); err != nil {
		return nil, err
	}
	return compile(root), nil
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func draftFromJSON(doc map[string]json.RawMessage, path []rune) (*draft, error) {
	d := newDraft()
	for _, key := range sortedStrings(doc) {
		raw := doc[key]
		if key == "" {
			if isJSONNull(raw) {
				d.setValue(Value{})
				continue
			}
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, loadErrorf(path, err, "resolved value must be a string or null")
			}
			d.setValue(Text(s))
			continue
		}

		r, err := singleRune(key, path)
		if err != nil {
			return nil, err
		}
		childPath := append(path[:len(path):len(path)], r)
		if isJSONNull(raw) {
			d.children[r] = nil
			continue
		}
		var sub map[string]json.RawMessage
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, loadErrorf(childPath, err, "entry must be an object or null")
		}
		child, err := draftFromJSON(sub, childPath)
		if err != nil {
			return nil, err
		}
		d.children[r] = child
	}
	return d, nil
}

// LoadYAML builds a tree from a YAML tree document. Anchors and aliases may
// be used to share subtrees.
func LoadYAML(r io.Reader) (*Tree, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, loadErrorf(nil, err, "decoding YAML document")
	}
	top := &doc
	if top.Kind == yaml.DocumentNode {
		if len(top.Content) == 0 {
			return nil, loadErrorf(nil, nil, "empty YAML document")
		}
		top = top.Content[0]
	}
	root, err := draftFromYAML(top, nil)
	if err != nil {
		return nil, err
	}
	if err := validate(root); err != nil {
		return nil, err
	}
	return compile(root), nil
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

func isYAMLNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null"
}

func draftFromYAML(n *yaml.Node, path []rune) (*draft, error) {
	n = resolveAlias(n)
	if n.Kind != yaml.MappingNode {
		return nil, loadErrorf(path, nil, "line %d: entry must be a mapping or null", n.Line)
	}
	d := newDraft()
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], resolveAlias(n.Content[i+1])
		if key.Value == "" && !isYAMLNull(key) {
			switch {
			case isYAMLNull(val):
				d.setValue(Value{})
			case val.Kind == yaml.ScalarNode && val.ShortTag() == "!!str":
				d.setValue(Text(val.Value))
			default:
				return nil, loadErrorf(path, nil, "line %d: resolved value must be a string or null", val.Line)
			}
			continue
		}

		r, err := singleRune(key.Value, path)
		if err != nil {
			return nil, err
		}
		childPath := append(path[:len(path):len(path)], r)
		if _, dup := d.children[r]; dup {
			return nil, loadErrorf(childPath, nil, "line %d: duplicate key", key.Line)
		}
		if isYAMLNull(val) {
			d.children[r] = nil
			continue
		}
		child, err := draftFromYAML(val, childPath)
		if err != nil {
			return nil, err
		}
		d.children[r] = child
	}
	return d, nil
}

// LoadFile reads a tree document, choosing the format by extension.
func LoadFile(path string) (*Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening tree file: %w", err)
	}
	defer f.Close()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return LoadJSON(f)
	case ".yaml", ".yml":
		return LoadYAML(f)
	default:
		return nil, fmt.Errorf("tree file %s: unsupported extension %q (want .json, .yaml or .yml)", path, ext)
	}
}

// Open loads the tree document at path, or builds the default tree when path
// is empty.
func Open(path string) (*Tree, error) {
	if path == "" {
		return DefaultTree()
	}
	return LoadFile(path)
}

// WriteJSON writes t as a JSON tree document that LoadJSON accepts.
func (t *Tree) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(t.document(rootID)); err != nil {
		return fmt.Errorf("encoding tree: %w", err)
	}
	return nil
}

func (t *Tree) document(id NodeID) map[string]any {
	n := &t.nodes[id]
	doc := make(map[string]any, len(n.children)+1)
	if id != rootID && !n.inherit {
		if n.own.Valid {
			doc[""] = n.own.Text
		} else {
			doc[""] = nil
		}
	}
	for r, child := range n.children {
		if child == blocked {
			doc[string(r)] = nil
			continue
		}
		doc[string(r)] = t.document(child)
	}
	return doc
}
