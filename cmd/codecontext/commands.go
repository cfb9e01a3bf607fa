package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/codecontext/internal/engine"
	"github.com/dshills/codecontext/internal/indexer"
)

var (
	// index flags
	indexInclude      []string
	indexExclude      []string
	indexWorkers      int
	indexSkipExisting bool

	// query flags
	queryLimit int
)

// indexCmd ingests a directory
var indexCmd = &cobra.Command{
	Use:   "index [dir]",
	Short: "Ingest every text file under a directory",
	Long: `Walks the directory, skipping hidden directories, binary files and
anything matched by --exclude, and stores the embedded chunks of every file
matched by --include.

Example:
  codecontext index ./src --include '**/*.rs' --workers 8`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

// queryCmd answers a natural-language query
var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Print the chunks most similar to a query",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

// statsCmd prints context statistics
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print stored row count, size and ANN index info",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

// embedCmd prints the embedding of a text
var embedCmd = &cobra.Command{
	Use:   "embed [text]",
	Short: "Print the raw embedding vector of a text",
	Args:  cobra.ExactArgs(1),
	RunE:  runEmbed,
}

func init() {
	indexCmd.Flags().StringSliceVar(&indexInclude, "include", nil, "Glob patterns to ingest (default: every file)")
	indexCmd.Flags().StringSliceVar(&indexExclude, "exclude", nil, "Glob patterns to skip (default: vendor, node_modules, .git, target)")
	indexCmd.Flags().IntVar(&indexWorkers, "workers", 0, "Files ingested concurrently (default: number of CPUs)")
	indexCmd.Flags().BoolVar(&indexSkipExisting, "skip-existing", false, "Skip files that already have stored chunks")

	queryCmd.Flags().IntVarP(&queryLimit, "limit", "n", engine.DefaultContextLimit, "Maximum number of chunks")
}

func runIndex(cmd *cobra.Command, args []string) error {
	root, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	opts := cfg.Index.IndexerConfig()
	if cmd.Flags().Changed("include") {
		opts.Include = indexInclude
	}
	if cmd.Flags().Changed("exclude") {
		opts.Exclude = indexExclude
	}
	if indexWorkers > 0 {
		opts.Workers = indexWorkers
	}
	opts.SkipExisting = indexSkipExisting

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	return withEngine(ctx, func(eng *engine.Engine) error {
		stats, err := indexer.New(eng, logger).IndexDirectory(ctx, root, opts)
		if err != nil {
			return err
		}
		for _, msg := range stats.ErrorMessages {
			logger.Warn("file not indexed", zap.String("error", msg))
		}
		return printJSON(cmd.OutOrStdout(), stats)
	})
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	return withEngine(ctx, func(eng *engine.Engine) error {
		qc, err := eng.SearchContext(ctx, args[0], queryLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), qc)
	})
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	return withEngine(ctx, func(eng *engine.Engine) error {
		stats, err := eng.GetStats(ctx)
		if err != nil {
			return err
		}
		info, err := eng.IndexInfo(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Rows: %d\n", stats.TotalFiles)
		fmt.Fprintf(out, "Cached files: %d\n", stats.ActiveFiles)
		fmt.Fprintf(out, "Stored bytes: %d\n", stats.TotalSize)
		if info == nil {
			fmt.Fprintf(out, "Index: not built\n")
			return nil
		}
		fmt.Fprintf(out, "Index: %s (%s, %s, %d partitions, trained on %d rows, built %s)\n",
			info.Name, info.Kind, info.Metric, info.Partitions, info.TrainedRows,
			info.BuiltAt.Format("2006-01-02T15:04:05Z07:00"))
		return nil
	})
}

func runEmbed(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	return withEngine(ctx, func(eng *engine.Engine) error {
		vector, err := eng.Embed(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), vector)
	})
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
