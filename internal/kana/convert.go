package kana

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/text/width"
)

// Policy decides what Convert does with an unresolved chunk.
type Policy int

const (
	// PolicyLiteral substitutes the chunk's original input text.
	PolicyLiteral Policy = iota
	// PolicyFail fails the whole conversion with ErrUnresolvedChunk.
	PolicyFail
)

func (p Policy) String() string {
	switch p {
	case PolicyLiteral:
		return "literal"
	case PolicyFail:
		return "fail"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "literal":
		return PolicyLiteral, nil
	case "fail":
		return PolicyFail, nil
	default:
		return 0, fmt.Errorf("unknown unresolved policy %q (want literal or fail)", s)
	}
}

// Converter is the public entry point: romaji in, hiragana out.
type Converter struct {
	tree   *Tree
	policy Policy
}

type Option func(*Converter)

func WithPolicy(p Policy) Option {
	return func(c *Converter) {
		c.policy = p
	}
}

func NewConverter(tree *Tree, opts ...Option) *Converter {
	c := &Converter{tree: tree, policy: PolicyLiteral}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Converter) Policy() Policy {
	return c.policy
}

// Normalize folds full-width Latin letters to ASCII and lower-cases.
func Normalize(input string) string {
	return strings.ToLower(width.Fold.String(input))
}

// Chunks returns the tokenizer output for input after normalization.
func (c *Converter) Chunks(input string) ([]Chunk, error) {
	return c.tree.Tokenize([]rune(Normalize(input)))
}

// Convert transliterates input. It fails with ErrUnsupportedCharacter when
// input contains a character outside the tree, and with ErrUnresolvedChunk
// under PolicyFail when a chunk could not be resolved.
func (c *Converter) Convert(input string) (string, error) {
	out, _, err := c.ConvertChunks(input)
	return out, err
}

// ConvertChunks is Convert that also returns the chunks the output was built
// from.
func (c *Converter) ConvertChunks(input string) (string, []Chunk, error) {
	chunks, err := c.Chunks(input)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	for _, chunk := range chunks {
		if chunk.Resolved() {
			b.WriteString(chunk.Output.Text)
			continue
		}
		if c.policy == PolicyFail {
			return "", nil, &UnresolvedChunkError{Chunk: chunk}
		}
		b.WriteString(chunk.Input)
	}
	return b.String(), chunks, nil
}

// ToKana converts input only when every chunk resolves, whatever the policy.
// Callers fall back to the original text when ok is false.
func (c *Converter) ToKana(input string) (string, bool) {
	out, chunks, err := c.ConvertChunks(input)
	if err != nil || !AllResolved(chunks) {
		return "", false
	}
	return out, true
}

// AllResolved reports whether every chunk has an output.
func AllResolved(chunks []Chunk) bool {
	return lo.EveryBy(chunks, Chunk.Resolved)
}
