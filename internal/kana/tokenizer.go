package kana

// Chunk is a contiguous span [Start, End) of the (normalized) input and the
// output it resolved to. An invalid Output marks the chunk as unresolved.
type Chunk struct {
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Input  string `json:"input"`
	Output Value  `json:"-"`
}

func (c Chunk) Resolved() bool {
	return c.Output.Valid
}

// Tokenize splits input into chunks by maximal munch over the tree. Offsets
// are rune offsets into input. The only error is an unsupported character.
func (t *Tree) Tokenize(input []rune) ([]Chunk, error) {
	var chunks []Chunk
	for start := 0; start < len(input); {
		chunk, emit, err := t.parseChunk(input, start)
		if err != nil {
			return nil, err
		}
		if emit {
			chunks = append(chunks, chunk)
		}
		start = chunk.End
	}
	return chunks, nil
}

// parseChunk consumes one chunk starting at input[start]. emit is false for a
// vacuous final chunk, which is dropped rather than returned.
func (t *Tree) parseChunk(input []rune, start int) (chunk Chunk, emit bool, err error) {
	first := input[start]
	id, ok := t.RootChild(first)
	if !ok {
		return Chunk{}, false, &UnsupportedCharacterError{Char: first, Offset: start}
	}

	value := t.EffectiveValue(Text(""), first, id)
	end := start + 1

	finish := func(v Value) Chunk {
		return Chunk{Start: start, End: end, Input: string(input[start:end]), Output: v}
	}

	for {
		if end == len(input) {
			if t.HasContinuations(id) {
				// more input could still change the outcome
				return finish(Value{}), true, nil
			}
			c := finish(value)
			return c, value.Valid && value.Text != "", nil
		}

		if !t.HasContinuations(id) {
			return finish(value), true, nil
		}

		c := input[end]
		next, step := t.Child(id, c)
		switch step {
		case StepUnknown:
			return Chunk{}, false, &UnsupportedCharacterError{Char: c, Offset: end}
		case StepBlocked:
			return finish(value), true, nil
		}

		value = t.EffectiveValue(value, c, next)
		id = next
		end++
	}
}
