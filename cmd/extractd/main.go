// Command extractd runs the entity extraction pipeline on one message.
// It reads a single input JSON object from stdin (or a file argument),
// builds its configuration from NER_* environment variables, and writes
// the output envelope to stdout.
//
// Once the input has been read, the envelope is emitted on every outcome: a
// malformed payload produces a failed envelope, not a non-zero exit. A
// lexicon file that cannot be loaded or an input that cannot be read exits
// with status 1 and no envelope.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/triagelab/extract/internal/lexicon"
	"github.com/triagelab/extract/internal/observability"
	"github.com/triagelab/extract/pkg/config"
	"github.com/triagelab/extract/pkg/pipeline"
)

func main() {
	lexiconPath := flag.String("lexicon", "", "path to a YAML gazetteer file")
	logPath := flag.String("log-file", "", "write structured logs to a rotating file instead of stderr")
	flag.Parse()

	cfg, warnings := config.FromEnv()
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, w)
	}

	opts := []pipeline.Option{pipeline.WithConfig(cfg)}

	if *lexiconPath != "" {
		lex, err := lexicon.LoadFile(*lexiconPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		opts = append(opts, pipeline.WithLexicon(lex))
	}
	if *logPath != "" {
		sink := observability.NewRotatingSink(*logPath)
		defer func() { _ = sink.Close() }()
		opts = append(opts, pipeline.WithLogWriter(sink))
	}

	raw, err := readInput(flag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	out := pipeline.New(opts...).Run(context.Background(), raw)
	fmt.Println(string(out.ToJSON()))
}

// readInput decodes the input payload from path, or stdin when path is "".
// A payload that is not a JSON object is returned as an empty map so the
// pipeline can reject it through validation and still emit an envelope.
func readInput(path string) (map[string]any, error) {
	var reader io.Reader = os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("extractd: open %s: %w", path, err)
		}
		defer func() { _ = f.Close() }()
		reader = f
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("extractd: read input: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return map[string]any{}, nil
	}
	return raw, nil
}
