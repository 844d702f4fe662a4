// Package jmdict streams entries out of the JMdict XML distribution.
package jmdict

import (
	"compress/gzip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jusunglee/jishobot/internal/db"
	"github.com/samber/lo"
)

// DefaultLanguage is the language of a gloss without an xml:lang attribute.
const DefaultLanguage = "eng"

type xmlEntry struct {
	Sequence int64      `xml:"ent_seq"`
	Kanji    []string   `xml:"k_ele>keb"`
	Kana     []string   `xml:"r_ele>reb"`
	Senses   []xmlSense `xml:"sense"`
}

type xmlSense struct {
	PartsOfSpeech []string   `xml:"pos"`
	Glosses       []xmlGloss `xml:"gloss"`
}

type xmlGloss struct {
	Attrs []xml.Attr `xml:",any,attr"`
	Text  string     `xml:",chardata"`
}

func (g xmlGloss) lang() string {
	for _, a := range g.Attrs {
		if a.Name.Local == "lang" {
			return a.Value
		}
	}
	return DefaultLanguage
}

// Reader decodes one <entry> at a time so the whole dictionary never has to
// fit in memory.
type Reader struct {
	dec *xml.Decoder
}

func NewReader(r io.Reader) *Reader {
	dec := xml.NewDecoder(r)
	// JMdict declares its part-of-speech codes as DTD entities, which the
	// decoder cannot expand. Non-strict mode passes them through as "&n;".
	dec.Strict = false
	return &Reader{dec: dec}
}

// Next returns the next entry, or io.EOF once the document is exhausted.
func (r *Reader) Next() (db.InsertEntryParams, error) {
	for {
		tok, err := r.dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return db.InsertEntryParams{}, io.EOF
			}
			return db.InsertEntryParams{}, fmt.Errorf("reading token: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "entry" {
			continue
		}

		var e xmlEntry
		if err := r.dec.DecodeElement(&e, &start); err != nil {
			line, _ := r.dec.InputPos()
			return db.InsertEntryParams{}, fmt.Errorf("decoding entry near line %d: %w", line, err)
		}
		if e.Sequence == 0 {
			line, _ := r.dec.InputPos()
			return db.InsertEntryParams{}, fmt.Errorf("entry near line %d has no ent_seq", line)
		}
		return e.params(), nil
	}
}

func (e xmlEntry) params() db.InsertEntryParams {
	return db.InsertEntryParams{
		Sequence:   e.Sequence,
		KanjiForms: trimAll(e.Kanji),
		KanaForms:  trimAll(e.Kana),
		Senses: lo.Map(e.Senses, func(s xmlSense, _ int) db.Sense {
			return db.Sense{
				PartsOfSpeech: lo.Map(s.PartsOfSpeech, func(p string, _ int) string {
					return entityName(p)
				}),
				Glosses: lo.Map(s.Glosses, func(g xmlGloss, _ int) db.Gloss {
					return db.Gloss{Lang: g.lang(), Text: strings.TrimSpace(g.Text)}
				}),
			}
		}),
	}
}

func trimAll(ss []string) []string {
	return lo.FilterMap(ss, func(s string, _ int) (string, bool) {
		s = strings.TrimSpace(s)
		return s, s != ""
	})
}

// entityName reduces an unexpanded entity reference like "&vs-i;" to its
// name. Anything else is returned trimmed.
func entityName(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 2 && strings.HasPrefix(s, "&") && strings.HasSuffix(s, ";") {
		return s[1 : len(s)-1]
	}
	return s
}

type gzipFile struct {
	*gzip.Reader
	f *os.File
}

func (g gzipFile) Close() error {
	return errors.Join(g.Reader.Close(), g.f.Close())
}

// Open opens a JMdict file, decompressing it when the name ends in .gz.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if !strings.HasSuffix(strings.ToLower(path), ".gz") {
		return f, nil
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("opening gzip stream %s: %w", path, err)
	}
	return gzipFile{Reader: zr, f: f}, nil
}
