// docdbseed bulk-loads documents into a docbase data file from fixture
// files. Fixtures may be JSON, JSONC (JSON with comments and trailing
// commas, via tailscale/hujson), or YAML, detected by file extension.
//
// Usage:
//
//	docdbseed --path <data-file> --collection <name> <fixture-file>...
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	docdb "github.com/calvinalkan/docbase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	path := flag.StringP("path", "p", "", "data file path (created if it doesn't exist)")
	collection := flag.StringP("collection", "c", "", "collection to load documents into")
	flag.Parse()

	if *path == "" || *collection == "" {
		flag.Usage()
		return errors.New("both --path and --collection are required")
	}
	if flag.NArg() == 0 {
		flag.Usage()
		return errors.New("at least one fixture file is required")
	}

	db, err := docdb.Open(docdb.Options{Path: *path})
	if err != nil {
		return fmt.Errorf("opening %s: %w", *path, err)
	}
	defer db.Close()

	ctx := context.Background()

	total := 0
	for _, fixture := range flag.Args() {
		docs, err := loadFixture(fixture)
		if err != nil {
			return fmt.Errorf("loading %s: %w", fixture, err)
		}

		res, err := db.InsertMany(ctx, *collection, docs)
		if err != nil {
			return fmt.Errorf("inserting from %s: %w", fixture, err)
		}
		fmt.Printf("%s: inserted %d documents\n", fixture, len(res.InsertedIDs))
		total += len(res.InsertedIDs)
	}

	fmt.Printf("done: %d documents loaded into %q\n", total, *collection)
	return nil
}

// loadFixture reads one fixture file and decodes it into a slice of
// documents. A single top-level object is treated as a one-document
// fixture; a top-level array is treated as many documents.
func loadFixture(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var decoded any
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &decoded); err != nil {
			return nil, fmt.Errorf("decoding yaml: %w", err)
		}
	case ".jsonc", ".json5":
		std, err := hujson.Standardize(data)
		if err != nil {
			return nil, fmt.Errorf("decoding jsonc: %w", err)
		}
		if err := json.Unmarshal(std, &decoded); err != nil {
			return nil, fmt.Errorf("decoding jsonc: %w", err)
		}
	default:
		// Plain JSON also passes through hujson.Standardize unchanged, so
		// a ".json" fixture with a stray comment or trailing comma still
		// loads instead of failing a stricter decoder.
		std, err := hujson.Standardize(data)
		if err != nil {
			return nil, fmt.Errorf("decoding json: %w", err)
		}
		if err := json.Unmarshal(std, &decoded); err != nil {
			return nil, fmt.Errorf("decoding json: %w", err)
		}
	}

	switch v := decoded.(type) {
	case []any:
		out := make([]map[string]any, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("element %d is not a document object", i)
			}
			out[i] = m
		}
		return out, nil
	case map[string]any:
		return []map[string]any{v}, nil
	default:
		return nil, fmt.Errorf("fixture must decode to an object or an array of objects")
	}
}
