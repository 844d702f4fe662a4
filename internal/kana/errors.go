package kana

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedCharacter = errors.New("unsupported character")
	ErrUnresolvedChunk      = errors.New("unresolved chunk")
	ErrMalformedTree        = errors.New("malformed transliteration tree")
)

// UnsupportedCharacterError reports an input character the tree has no
// entry for.
type UnsupportedCharacterError struct {
	Char   rune
	Offset int
}

func (e *UnsupportedCharacterError) Error() string {
	return fmt.Sprintf("unsupported character %q at offset %d", e.Char, e.Offset)
}

func (e *UnsupportedCharacterError) Unwrap() error {
	return ErrUnsupportedCharacter
}

// UnresolvedChunkError is returned under PolicyFail when part of the input
// is a valid prefix that could not be resolved.
type UnresolvedChunkError struct {
	Chunk Chunk
}

func (e *UnresolvedChunkError) Error() string {
	return fmt.Sprintf("unresolved chunk %q at [%d,%d)", e.Chunk.Input, e.Chunk.Start, e.Chunk.End)
}

func (e *UnresolvedChunkError) Unwrap() error {
	return ErrUnresolvedChunk
}

// LoadError reports a problem with transliteration data. It is only ever
// returned while building a tree.
type LoadError struct {
	Path   []rune
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	b.WriteString("loading transliteration tree")
	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(formatPath(e.Path))
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *LoadError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedTree}
	}
	return []error{ErrMalformedTree, e.Err}
}

func loadErrorf(path []rune, err error, format string, args ...any) *LoadError {
	return &LoadError{
		Path:   append([]rune(nil), path...),
		Reason: fmt.Sprintf(format, args...),
		Err:    err,
	}
}

func formatPath(path []rune) string {
	parts := make([]string, len(path))
	for i, r := range path {
		parts[i] = fmt.Sprintf("%q", r)
	}
	return strings.Join(parts, " > ")
}
