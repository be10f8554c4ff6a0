// Package main is the Kaiwa CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperchat/kaiwa/internal/config"
	"github.com/hyperchat/kaiwa/internal/embedding"
	"github.com/hyperchat/kaiwa/internal/engine"
	"github.com/hyperchat/kaiwa/internal/ingest"
	"github.com/hyperchat/kaiwa/internal/llm"
	"github.com/hyperchat/kaiwa/internal/server"
	"github.com/hyperchat/kaiwa/internal/store"
	"github.com/hyperchat/kaiwa/internal/watcher"
	"github.com/hyperchat/kaiwa/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kaiwa/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used. Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// .env is optional; the API key may come from the real environment
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "ask":
		runAsk()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kaiwa version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	var watchSvc *watcher.Watcher
	if cfg.Ingest.Watch && cfg.Ingest.SourcePath != "" {
		ing := components.Ingestor
		watchOpts := []watcher.Option{}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		watchSvc = watcher.NewWatcher(cfg.Ingest.SourcePath, func(path string) {
			if _, err := ing.IngestFile(context.Background(), path); err != nil {
				logger.Warn("watch re-ingest failed", zap.String("path", path), zap.Error(err))
			}
		}, watchOpts...)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
	}

	srv := server.NewServer(
		components.Engine,
		components.Ingestor,
		components.Store,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if watchSvc != nil {
		watchSvc.Stop()
	}
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	filePath := fs.String("file", "", "chat export file (default: ingest.source_path from config)")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	path := *filePath
	if path == "" {
		path = cfg.Ingest.SourcePath
	}
	if path == "" {
		fmt.Println("Usage: kaiwa ingest -file <chat-export.json>")
		os.Exit(1)
	}

	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, cfg.Debug)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	n, err := components.Ingestor.IngestFile(context.Background(), path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Ingested %d message(s) from %s\n", n, path)
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	groupID := fs.String("group", "101", "chat group id")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kaiwa ask [flags] <question>")
		os.Exit(1)
	}
	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		fmt.Println("Usage: kaiwa ask [flags] <question>")
		os.Exit(1)
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, cfg.Debug)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	answer, err := components.Engine.Answer(context.Background(), question, *groupID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Answer failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(answer.Answer)
	for _, img := range answer.Images {
		fmt.Printf("  %s (posted by %s at %s)\n", img.URL, img.PostedBy, img.Time)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()
	messages, err := st.CountMessages(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Count messages failed: %v\n", err)
		os.Exit(1)
	}
	groups, err := st.CountGroups(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Count groups failed: %v\n", err)
		os.Exit(1)
	}
	blob, err := st.LoadIndexBlob(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load index failed: %v\n", err)
		os.Exit(1)
	}

	status := map[string]interface{}{
		"messages": messages,
		"groups":   groups,
	}
	if blob != nil {
		status["vector_index_size"] = blob.Count
		status["vector_index_dimensions"] = blob.Dimensions
		status["vector_index_format"] = blob.FormatTag
	} else {
		status["vector_index_size"] = 0
	}
	db := cfg.Storage.DatabasePath
	if diskBytes, err := store.DiskUsageBytes(db, db+"-wal", db+"-shm"); err == nil {
		status["disk_usage_bytes"] = diskBytes
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Printf("messages:           %d   # ingested chat messages\n", messages)
		fmt.Printf("groups:             %d   # known chat groups\n", groups)
		if blob != nil {
			fmt.Printf("vector_index_size:  %d   # vectors in the similarity index\n", blob.Count)
			fmt.Printf("vector_index_dims:  %d\n", blob.Dimensions)
			fmt.Printf("vector_index_format: %s\n", blob.FormatTag)
		} else {
			fmt.Println("vector_index_size:  0   # no index built yet, run 'kaiwa ingest'")
		}
		if v, ok := status["disk_usage_bytes"]; ok {
			fmt.Printf("disk_usage_bytes:   %d\n", v)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

// Components holds initialized services.
type Components struct {
	Store    *store.Store
	Embedder embedding.Embedder
	Engine   *engine.Engine
	Ingestor *ingest.Ingestor
}

func (c *Components) Close() {
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	st, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	apiKey := config.APIKey()
	embedder, err := embedding.NewHTTPEmbedder(embedding.HTTPConfig{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     apiKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		CacheSize:  cfg.Embedding.CacheSize,
		Timeout:    time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	client, err := llm.NewChatModelClient(context.Background(), llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      apiKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize llm client: %w", err)
	}

	engOpts := []engine.Option{}
	ingOpts := []ingest.Option{}
	if debug && logger != nil {
		engOpts = append(engOpts, engine.WithLogger(logger))
		ingOpts = append(ingOpts, ingest.WithLogger(logger))
	}
	eng := engine.New(st, embedder, client, engOpts...)
	ingOpts = append(ingOpts, ingest.WithRebuildHook(eng.InvalidateIndex))
	ing := ingest.NewIngestor(st, embedder, ingOpts...)

	return &Components{
		Store:    st,
		Embedder: embedder,
		Engine:   eng,
		Ingestor: ing,
	}, nil
}

func printUsage() {
	fmt.Println(`kaiwa - conversational retrieval over group chat transcripts

Usage:
  kaiwa server [flags]            Start the HTTP server
  kaiwa ingest [flags]            Ingest a chat export and rebuild the index
  kaiwa ask [flags] <question>    Answer a question from the local corpus
  kaiwa status [flags]            Show corpus and index status
  kaiwa version                   Show version
  kaiwa help                      Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kaiwa/config.yaml)
  --debug            Enable debug logging

Ingest Flags:
  --config string    Config file path
  --file string      Chat export JSON (default: ingest.source_path from config)

Ask Flags:
  --config string    Config file path
  --group string     Chat group id (default: 101)

Status Flags:
  --config string    Config file path
  --output string    Output format: text or json (default: text)

The embedding and LLM services authenticate with the OPENROUTER_API_KEY
environment variable (a .env file in the working directory is also read).

Examples:
  kaiwa server
  kaiwa ingest --file cases.json
  kaiwa ask "who texted first?"
  kaiwa ask --group 101 "summarize messages from January 2024 to February 2024"
  kaiwa status --output json`)
}
