// Package main is a worked example driving lsp-client-go against a real
// language server: it opens one file, asks for hover and definition at a
// caller-supplied position, and prints the result.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	lspclient "github.com/observerw/lsp-client-go"
	"github.com/observerw/lsp-client-go/feature"
)

func main() {
	os.Exit(run())
}

func run() int {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	def := feature.NewDefinition()
	hover := feature.NewHover()

	transports := []lspclient.Transport{
		lspclient.NewProcessTransport(lspclient.ProcessConfig{
			Command: opts.command,
			Args:    opts.args,
			Dir:     opts.root,
		}),
	}

	result := 0
	runErr := lspclient.RunSession(ctx, transports, func(ctx context.Context, s *lspclient.Session) error {
		return s.WithDocument(ctx, opts.file, opts.languageID, func(ctx context.Context, uri lspclient.DocumentURI) error {
			h, err := hover.At(ctx, s, uri, opts.position)
			if err != nil && !errors.Is(err, lspclient.ErrTimeout) {
				return fmt.Errorf("hover: %w", err)
			}
			if h != nil {
				fmt.Printf("hover: %v\n", h.Contents)
			}

			locs, err := def.Go(ctx, s, uri, opts.position)
			if err != nil {
				return fmt.Errorf("definition: %w", err)
			}
			for _, loc := range locs {
				fmt.Printf("definition: %s:%d:%d\n", loc.URI, loc.Range.Start.Line+1, loc.Range.Start.Character+1)
			}
			return nil
		})
	},
		lspclient.WithRootPath(opts.root),
		lspclient.WithFeatures(def, hover, feature.NewCompletion(), feature.NewDocumentSync()),
	)
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		result = 1
	}
	return result
}

type flags struct {
	command    string
	args       []string
	root       string
	file       string
	languageID string
	position   lspclient.Position
}

func parseFlags() (flags, error) {
	var f flags
	var argsCSV string
	var line, character int

	flag.StringVar(&f.command, "server", "", "language server executable")
	flag.StringVar(&argsCSV, "server-args", "", "comma-separated language server arguments")
	flag.StringVar(&f.root, "root", ".", "workspace root directory")
	flag.StringVar(&f.file, "file", "", "file to open")
	flag.StringVar(&f.languageID, "language", "go", "LSP languageId for -file")
	flag.IntVar(&line, "line", 0, "zero-based line for hover/definition")
	flag.IntVar(&character, "character", 0, "zero-based character for hover/definition")
	flag.Parse()

	if f.command == "" {
		return f, errors.New("-server is required")
	}
	if f.file == "" {
		return f, errors.New("-file is required")
	}
	if argsCSV != "" {
		f.args = strings.Split(argsCSV, ",")
	}
	f.position = lspclient.Position{Line: line, Character: character}
	return f, nil
}
