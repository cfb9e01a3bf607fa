package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/codecontext/internal/config"
	"github.com/dshills/codecontext/internal/engine"
	"github.com/dshills/codecontext/internal/lifecycle"
	"github.com/dshills/codecontext/internal/logging"
	"github.com/dshills/codecontext/internal/mcp"
	"github.com/dshills/codecontext/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	// Global flags
	configPath string
	dbPath     string
	provider   string
	logLevel   string
	verbose    bool

	// Set by PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "codecontext",
	Short: "Semantic code context engine",
	Long: `codecontext ingests source files, embeds fixed-size line chunks and
answers natural-language questions with the most similar code.

Run "codecontext serve" to expose it to an MCP client over stdio.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		// Flags win over the file and the environment
		if dbPath != "" {
			cfg.Context.DBPath = dbPath
		}
		if provider != "" {
			cfg.Embedder.Provider = provider
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if verbose {
			cfg.Log.Level = "debug"
			cfg.Log.Development = true
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err = logging.New(cfg.Log)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// serveCmd runs the MCP server
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the context engine as MCP tools over stdio",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

// versionCmd prints build information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and storage build mode",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "codecontext\n")
		fmt.Fprintf(out, "Version: %s\n", version)
		fmt.Fprintf(out, "Build Time: %s\n", buildTime)
		fmt.Fprintf(out, "Build Mode: %s\n", storage.BuildMode)
		fmt.Fprintf(out, "SQLite Driver: %s\n", storage.DriverName)
		fmt.Fprintf(out, "Vector Extension: %v\n", storage.VectorExtensionAvailable)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (or set "+config.EnvConfig+")")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db-path", "", "Vector database directory (or set "+config.EnvDBPath+")")
	rootCmd.PersistentFlags().StringVar(&provider, "provider", "", "Embedding provider: jina, openai, genai, local")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(embedCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runServe starts the MCP server and waits for it or a shutdown signal
func runServe(cmd *cobra.Command, args []string) error {
	logger.Info("codecontext starting",
		zap.String("version", version),
		zap.String("build_mode", storage.BuildMode),
		zap.String("driver", storage.DriverName),
		zap.Bool("vector_extension", storage.VectorExtensionAvailable))

	coord := lifecycle.New(lifecycle.NewEngineFactory(cfg.Embedder, logger), logger)
	server, err := mcp.NewServer(cfg, coord, logger)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Serve(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		if err := coord.Close(); err != nil {
			logger.Warn("context manager closed with errors", zap.Error(err))
		}
		return nil
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

// withEngine builds the configured engine for one command and closes it after fn
func withEngine(ctx context.Context, fn func(*engine.Engine) error) error {
	coord := lifecycle.New(lifecycle.NewEngineFactory(cfg.Embedder, logger), logger)
	if err := coord.Initialize(ctx, cfg.Context); err != nil {
		return err
	}
	defer func() {
		if err := coord.Close(); err != nil {
			logger.Warn("context manager closed with errors", zap.Error(err))
		}
	}()
	return coord.With(fn)
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
