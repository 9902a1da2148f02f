package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kukks/rag-mcp/internal/config"
	"github.com/kukks/rag-mcp/internal/mcp"
	"github.com/kukks/rag-mcp/internal/memory"
	"github.com/kukks/rag-mcp/internal/updater"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	scopeFlag  string
	tagsFlag   []string
	sourceFlag string
	langFlag   string
	kFlag      int
	limitFlag  int
	offsetFlag int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rag-mcp",
	Short: "Local memory service for AI coding assistants",
	Long: `rag-mcp stores short text memories in session, project and global scopes
and serves ranked BM25 keyword retrieval over them, either as an MCP server
on stdio or directly from the command line.`,
	Version: Version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdio (called by the editor)",
	Long: `Reads line-delimited JSON-RPC 2.0 requests from standard input, writes
responses to standard output and logs to standard error. Terminates cleanly
on SIGTERM, SIGINT or SIGHUP, releasing database locks.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServe(); err != nil {
			log.Fatal().Err(err).Msg("Server failed")
		}
	},
}

var addCmd = &cobra.Command{
	Use:   "add [content]",
	Short: "Store a memory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runAdd(args[0]); err != nil {
			log.Fatal().Err(err).Msg("Store failed")
		}
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search memories with BM25",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runSearch(args[0]); err != nil {
			log.Fatal().Err(err).Msg("Search failed")
		}
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List memories, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runList(); err != nil {
			log.Fatal().Err(err).Msg("List failed")
		}
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a memory by id",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runDelete(args[0]); err != nil {
			log.Fatal().Err(err).Msg("Delete failed")
		}
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-scope counts and configuration",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runStats(); err != nil {
			log.Fatal().Err(err).Msg("Stats failed")
		}
	},
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update to the latest version",
	Long:  `Check for and install the latest version of rag-mcp from GitHub releases.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runUpdate(); err != nil {
			log.Fatal().Err(err).Msg("Update failed")
		}
	},
}

func init() {
	for _, cmd := range []*cobra.Command{addCmd, searchCmd, listCmd, deleteCmd} {
		cmd.Flags().StringVar(&scopeFlag, "scope", "global", "memory scope (session, project or global)")
	}
	addCmd.Flags().StringSliceVar(&tagsFlag, "tags", nil, "tags to attach, in order")
	addCmd.Flags().StringVar(&sourceFlag, "source-file", "", "file the memory came from")
	addCmd.Flags().StringVar(&langFlag, "language", "", "language of the content")
	searchCmd.Flags().IntVarP(&kFlag, "k", "k", 0, "maximum number of results (default from config)")
	searchCmd.Flags().StringSliceVar(&tagsFlag, "tags", nil, "keep only memories carrying one of these tags")
	listCmd.Flags().IntVar(&limitFlag, "limit", 50, "maximum number of memories")
	listCmd.Flags().IntVar(&offsetFlag, "offset", 0, "number of memories to skip")

	rootCmd.AddCommand(serveCmd, addCmd, searchCmd, listCmd, deleteCmd, statsCmd, updateCmd)
}

func setupLogger(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.InfoLevel
	switch cfg.Server.LogLevel {
	case "trace":
		level = zerolog.TraceLevel
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	// stdout carries protocol traffic and results; logs go to stderr.
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

// loadEverything builds the config, logger, store and searcher shared
// by every subcommand.
func loadEverything() (*config.Config, zerolog.Logger, *memory.Store, *memory.Searcher, error) {
	cfg, err := config.Load()
	if err != nil {
		cfg = config.DefaultConfig()
	}

	logger := setupLogger(cfg)

	cwd, err := os.Getwd()
	if err != nil {
		return nil, logger, nil, nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}

	store := memory.NewStore(memory.Options{
		GlobalDBPath:       cfg.Storage.GlobalDBPath,
		ProjectDBPath:      cfg.ProjectDBPath(cwd),
		MaxSessionMemories: cfg.Storage.MaxSessionMemories,
	}, logger)
	searcher := memory.NewSearcher(store, cfg.Search.BM25K1, cfg.Search.BM25B, logger)

	return cfg, logger, store, searcher, nil
}

func runServe() error {
	ctx := context.Background()

	cfg, logger, store, searcher, err := loadEverything()
	if err != nil {
		return err
	}

	server := mcp.NewServer(store, searcher, cfg, logger, Version)
	return server.RunStdio(ctx)
}

func parseScopeFlag() (memory.Scope, error) {
	return memory.ParseScope(scopeFlag)
}

func runAdd(content string) error {
	ctx := context.Background()

	_, _, store, _, err := loadEverything()
	if err != nil {
		return err
	}
	defer store.Close()

	scope, err := parseScopeFlag()
	if err != nil {
		return err
	}

	m, err := store.Store(ctx, scope, content, memory.StoreOptions{
		Tags:       tagsFlag,
		SourceFile: sourceFlag,
		Language:   langFlag,
	})
	if err != nil {
		return err
	}

	fmt.Println(m.ID)
	return nil
}

func runSearch(query string) error {
	ctx := context.Background()

	cfg, _, store, searcher, err := loadEverything()
	if err != nil {
		return err
	}
	defer store.Close()

	scope, err := parseScopeFlag()
	if err != nil {
		return err
	}

	k := kFlag
	if k <= 0 {
		k = cfg.Search.DefaultK
	}

	results, err := searcher.Search(ctx, scope, query, k, memory.Filter{Tags: tagsFlag})
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	for i, r := range results {
		fmt.Printf("%2d. [%.3f] %s\n", i+1, r.Score, r.Memory.ID)
		fmt.Printf("    %s\n", r.Memory.Content)
		if len(r.Memory.Tags) > 0 {
			fmt.Printf("    tags: %v\n", r.Memory.Tags)
		}
	}
	return nil
}

func runList() error {
	ctx := context.Background()

	_, _, store, _, err := loadEverything()
	if err != nil {
		return err
	}
	defer store.Close()

	scope, err := parseScopeFlag()
	if err != nil {
		return err
	}

	memories, err := store.List(ctx, scope, limitFlag, offsetFlag)
	if err != nil {
		return err
	}

	if len(memories) == 0 {
		fmt.Println("No memories.")
		return nil
	}
	for _, m := range memories {
		fmt.Printf("%s  v%d  %s\n", m.ID, m.Version, m.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("    %s\n", m.Content)
	}
	return nil
}

func runDelete(id string) error {
	ctx := context.Background()

	_, _, store, _, err := loadEverything()
	if err != nil {
		return err
	}
	defer store.Close()

	scope, err := parseScopeFlag()
	if err != nil {
		return err
	}

	existed, err := store.Delete(ctx, scope, id)
	if err != nil {
		return err
	}

	if existed {
		fmt.Println("Deleted", id)
	} else {
		fmt.Println("Not found:", id)
	}
	return nil
}

func runStats() error {
	ctx := context.Background()

	cfg, _, store, _, err := loadEverything()
	if err != nil {
		return err
	}
	defer store.Close()

	fmt.Printf("rag-mcp %s (%s, %s)\n", Version, GitCommit, BuildTime)
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("  Default K: %d\n", cfg.Search.DefaultK)
	fmt.Printf("  BM25: k1=%.2f b=%.2f\n", cfg.Search.BM25K1, cfg.Search.BM25B)
	fmt.Printf("  Global DB: %s\n", cfg.Storage.GlobalDBPath)
	fmt.Printf("  Project DB name: %s\n", cfg.Storage.ProjectDBName)
	fmt.Printf("  Session cap: %d\n", cfg.Storage.MaxSessionMemories)
	fmt.Println()
	fmt.Println("Memories:")
	for _, scope := range []memory.Scope{memory.ScopeProject, memory.ScopeGlobal} {
		n, err := store.Count(ctx, scope)
		if err != nil {
			fmt.Printf("  %-8s unavailable (%v)\n", scope, err)
			continue
		}
		fmt.Printf("  %-8s %d\n", scope, n)
	}
	return nil
}

func runUpdate() error {
	ctx := context.Background()
	logger := log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	upd := updater.New(Version, logger)

	fmt.Println("Checking for updates...")

	release, hasUpdate, err := upd.CheckForUpdate(ctx)
	if err != nil {
		return err
	}

	if !hasUpdate {
		fmt.Println("Already running the latest version:", Version)
		return nil
	}

	fmt.Printf("Update available: %s -> %s\n", Version, *release.TagName)
	fmt.Print("Install update? [Y/n]: ")

	var response string
	fmt.Scanln(&response)

	if response == "" || response == "y" || response == "Y" {
		fmt.Println("Downloading and installing update...")
		if err := upd.Update(ctx, release); err != nil {
			return err
		}
		fmt.Println("Update successful! Restart rag-mcp to use the new version.")
	} else {
		fmt.Println("Update cancelled.")
	}

	return nil
}
