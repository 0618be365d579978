// Package main implements qgate-combine, which averages several scenario
// summaries into one combined figure and JSON document.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/arkilian/qgate/internal/config"
	"github.com/arkilian/qgate/internal/report"
	"github.com/arkilian/qgate/internal/storage"
)

func main() {
	outDir := flag.String("o", "results/combined", "Output directory for the combined figure and JSON")
	configFile := flag.String("config", "", "Path to the qgate configuration file (YAML or JSON)")
	fromStorage := flag.Bool("from-storage", false, "Also combine the summaries published to the configured report storage")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: qgate-combine [-o dir] [-config file -from-storage] [<file-or-glob>...]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 && !*fromStorage {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(context.Background(), *outDir, *configFile, *fromStorage, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, outDir, configFile string, fromStorage bool, inputs []string) error {
	files, err := report.ExpandInputs(inputs)
	if err != nil {
		return err
	}

	if fromStorage {
		published, cleanup, err := fetchPublished(ctx, configFile)
		if err != nil {
			return err
		}
		defer cleanup()
		fmt.Printf("fetched %d published summaries\n", len(published))
		files = append(files, published...)
	}

	combined, jsonPath, err := report.Combine(ctx, files, outDir)
	if err != nil {
		return err
	}

	fmt.Printf("combined %d files\n", combined.FilesCombined)
	fmt.Printf("saved figure: %s\n", combined.FigurePath)
	fmt.Printf("saved json:   %s\n", jsonPath)
	report.WriteTable(os.Stdout, "Combined scenario averages", combined.AvgLatencySec, combined.AvgThroughputRPS, combined.AggregatedMetrics)
	return nil
}

// fetchPublished downloads the summaries under the configured report prefix
// into a temporary directory removed by cleanup.
func fetchPublished(ctx context.Context, configFile string) ([]string, func(), error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(configFile); err != nil {
			return nil, nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}
	config.LoadFromEnv(cfg)
	cfg.Resolve()

	store, err := storage.Open(ctx, cfg.Report.Storage)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, fmt.Errorf("report storage is not configured (report.storage.type is %q)", cfg.Report.Storage.Type)
	}

	dir, err := os.MkdirTemp("", "qgate-combine-")
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { os.RemoveAll(dir) }

	files, err := report.FetchSummaries(ctx, store, cfg.Report.Storage.Prefix, dir)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return files, cleanup, nil
}
