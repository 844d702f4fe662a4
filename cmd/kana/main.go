package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jusunglee/jishobot/internal/kana"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
)

func main() {
	if err := mainE(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func mainE(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := ff.NewFlagSet("kana")
	var (
		treeFile = fs.StringLong("tree-file", "", "Transliteration tree document (.json or .yaml); built-in patterns when empty")
		policy   = fs.StringEnumLong("policy", "What to do with romaji that does not form a syllable", "literal", "fail")
		chunks   = fs.BoolLong("chunks", "Print one line per chunk instead of the converted text")
		dump     = fs.BoolLong("dump", "Write the tree as a JSON document and exit")
	)

	if err := ff.Parse(fs, args); err != nil {
		fmt.Fprintf(stdout, "%s\n", ffhelp.Flags(fs))
		return fmt.Errorf("parsing flags: %w", err)
	}

	tree, err := kana.Open(*treeFile)
	if err != nil {
		return err
	}
	if *dump {
		return tree.WriteJSON(stdout)
	}

	p, err := kana.ParsePolicy(*policy)
	if err != nil {
		return err
	}
	conv := kana.NewConverter(tree, kana.WithPolicy(p))

	w := bufio.NewWriter(stdout)
	defer w.Flush()

	var failed int
	convert := func(line string) {
		if err := writeLine(w, conv, line, *chunks); err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
			failed++
		}
	}

	if rest := fs.GetArgs(); len(rest) > 0 {
		for _, arg := range rest {
			convert(arg)
		}
	} else {
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			convert(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("reading input: %w", err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d inputs could not be converted", failed)
	}
	return nil
}

func writeLine(w io.Writer, conv *kana.Converter, line string, withChunks bool) error {
	if !withChunks {
		out, err := conv.Convert(line)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, out)
		return err
	}

	cs, err := conv.Chunks(line)
	if err != nil {
		return err
	}
	for _, c := range cs {
		out := "-"
		if c.Resolved() {
			out = c.Output.Text
		}
		if _, err := fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", c.Start, c.End, c.Input, out); err != nil {
			return err
		}
	}
	return nil
}
