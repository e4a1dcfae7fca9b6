// Package main is the notebook CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/squarest/notebook/internal/ai"
	"github.com/squarest/notebook/internal/chat"
	"github.com/squarest/notebook/internal/config"
	"github.com/squarest/notebook/internal/extract"
	"github.com/squarest/notebook/internal/ingest"
	"github.com/squarest/notebook/internal/models"
	"github.com/squarest/notebook/internal/retrieval"
	"github.com/squarest/notebook/internal/server"
	"github.com/squarest/notebook/internal/storage"
	"github.com/squarest/notebook/internal/watcher"
	"github.com/squarest/notebook/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/notebook/config.yaml"

// loadConfig loads config from path. When path is the default, a config.yaml
// in the current directory takes precedence (for development), and if neither
// exists the built-in defaults apply. Returns the config and the path that was
// actually loaded ("" for built-in defaults).
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
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// Provider API keys may live in a .env next to the binary.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	switch command := os.Args[1]; command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "ask":
		runAsk()
	case "sources":
		runSources()
	case "delete":
		runDelete()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("notebook version %s\n", version)
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

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if len(components.Registry.Available()) == 0 {
		logger.Warn("no AI provider configured; uploads and notes work, chat will fail",
			zap.Strings("expected_env", []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GOOGLE_API_KEY"}))
	}

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	var watchSvc *watcher.Watcher
	if len(cfg.Watch.Directories) > 0 {
		ing := components.Ingester
		watchSvc = watcher.NewWatcher(cfg.Watch.Directories, cfg.Watch.Extensions,
			func(path string) {
				if err := ingestFile(context.Background(), ing, path); err != nil {
					logger.Warn("auto-ingest failed", zap.String("path", path), zap.Error(err))
				}
			}, logger)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		watchSvc.SyncExistingFiles()
	}

	srv := server.NewServer(
		components.Ingester,
		components.Storage,
		components.Orchestrator,
		components.Registry,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
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
	serverURL := fs.String("server", "", "upload through a running server instead of ingesting directly")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: notebook ingest [flags] <file-or-directory>")
		os.Exit(1)
	}
	path := fs.Arg(0)

	if *serverURL != "" {
		ingestViaServer(*serverURL, path)
		return
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

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()
	info, err := os.Stat(path)
	if err != nil {
		fmt.Printf("Failed to stat path: %v\n", err)
		os.Exit(1)
	}
	if info.IsDir() {
		n := 0
		filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
			if err != nil || fi.IsDir() {
				return err
			}
			if ingestErr := ingestFile(ctx, components.Ingester, p); ingestErr != nil {
				fmt.Printf("Skipped %s: %v\n", p, ingestErr)
				return nil
			}
			n++
			return nil
		})
		fmt.Printf("Ingested %d file(s) from %s\n", n, path)
		return
	}
	if err := ingestFile(ctx, components.Ingester, path); err != nil {
		fmt.Printf("Ingestion failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Source ingested: %s\n", filepath.Base(path))
}

// ingestViaServer uploads a file or directory to a running server so the
// server's index stays current without a restart.
func ingestViaServer(serverURL, path string) {
	info, err := os.Stat(path)
	if err != nil {
		fmt.Printf("Failed to stat path: %v\n", err)
		os.Exit(1)
	}
	if info.IsDir() {
		n := 0
		filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
			if err != nil || fi.IsDir() {
				return err
			}
			if _, upErr := uploadFile(serverURL, p); upErr != nil {
				fmt.Printf("Skipped %s: %v\n", p, upErr)
				return nil
			}
			n++
			return nil
		})
		fmt.Printf("Uploaded %d file(s) from %s\n", n, path)
		return
	}
	source, err := uploadFile(serverURL, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Upload failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Source uploaded: %s (%s)\n", source.Filename, source.ID)
}

// ingestFile reads a file from disk and runs it through the pipeline. The
// declared type is left empty so the extractor resolves the format from the
// extension.
func ingestFile(ctx context.Context, ing *ingest.Ingester, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = ing.Ingest(ctx, content, filepath.Base(path), "")
	return err
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	conversationID := fs.String("conversation", "", "conversation ID to continue (empty starts a new one)")
	provider := fs.String("provider", "", "provider override: openai, anthropic, or google")
	_ = fs.Parse(os.Args[2:])

	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		fmt.Println("Usage: notebook ask [flags] <question>")
		os.Exit(1)
	}

	body, _ := json.Marshal(map[string]string{
		"conversation_id": *conversationID,
		"query":           query,
		"provider":        *provider,
	})
	resp, err := http.Post(*serverURL+"/api/v1/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed (is the server running?): %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Ask failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var msg models.ChatMessage
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		fmt.Fprintf(os.Stderr, "Decode response failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(msg.Content)
	fmt.Fprintf(os.Stderr, "\n[conversation: %s, provider: %s]\n", msg.ConversationID, msg.Provider)
}

func runSources() {
	fs := flag.NewFlagSet("sources", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(*serverURL + "/api/v1/sources")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed (is the server running?): %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "List failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var out struct {
		Sources []*models.Source `json:"sources"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Fprintf(os.Stderr, "Decode response failed: %v\n", err)
		os.Exit(1)
	}
	for _, src := range out.Sources {
		line := fmt.Sprintf("%s  %-10s  %s", src.ID, src.Status, src.Filename)
		if src.FailReason != "" {
			line += "  (" + src.FailReason + ")"
		}
		fmt.Println(line)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: notebook delete [flags] <source-id>")
		os.Exit(1)
	}
	id := fs.Arg(0)

	req, _ := http.NewRequest(http.MethodDelete, *serverURL+"/api/v1/sources/"+id, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed (is the server running?): %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Delete failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	fmt.Printf("Source deleted: %s\n", id)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(*serverURL + "/api/v1/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed (is the server running?): %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Status failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var status struct {
		Sources        int64    `json:"sources"`
		Chunks         int64    `json:"chunks"`
		Notes          int64    `json:"notes"`
		Providers      []string `json:"providers"`
		DiskUsageBytes int64    `json:"disk_usage_bytes"`
	}
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &status); err != nil {
		fmt.Fprintf(os.Stderr, "Decode response failed: %v\n", err)
		os.Exit(1)
	}

	switch *outputFormat {
	case "json":
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, raw, "", "  "); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(pretty.String())
	case "text":
		fmt.Printf("sources:           %d\n", status.Sources)
		fmt.Printf("chunks:            %d\n", status.Chunks)
		fmt.Printf("notes:             %d\n", status.Notes)
		fmt.Printf("providers:         %s\n", strings.Join(status.Providers, ", "))
		fmt.Printf("disk_usage_bytes:  %d\n", status.DiskUsageBytes)
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

// Components holds initialized services.
type Components struct {
	Storage      storage.Storage
	Registry     *ai.Registry
	Keyword      *retrieval.KeywordRetriever
	Ingester     *ingest.Ingester
	Orchestrator *chat.Orchestrator
}

func (c *Components) Close() {
	if c.Keyword != nil {
		_ = c.Keyword.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	keyword, err := retrieval.NewKeywordRetriever(store)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	if err := keyword.Rebuild(context.Background()); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to rebuild keyword index: %w", err)
	}

	registry := ai.NewRegistryFromEnv()

	// Semantic retrieval needs a provider that can embed; without one the
	// keyword index covers all queries.
	var retriever retrieval.Retriever = keyword
	var embedder ingest.Embedder
	if cfg.Retrieval.Semantic {
		if e := registry.Embedder(); e != nil {
			retriever = retrieval.NewVectorRetriever(store, e, keyword)
			embedder = e
		} else {
			logger.Warn("semantic retrieval enabled but no embedding-capable provider configured; using keyword retrieval")
		}
	}

	chunker := ingest.NewChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	ingester := ingest.NewIngester(store, extract.NewExtractor(), chunker, keyword, embedder, logger)

	orchestrator := chat.NewOrchestrator(store, retriever, registry, chat.Config{
		Provider:      cfg.Chat.Provider,
		Model:         cfg.Chat.Model,
		Temperature:   cfg.Chat.Temperature,
		MaxTokens:     cfg.Chat.MaxTokens,
		TopK:          cfg.Chat.TopK,
		HistoryTurns:  cfg.Chat.HistoryTurns,
		HistoryBudget: cfg.Chat.HistoryBudget,
		Timeout:       time.Duration(cfg.Chat.TimeoutSeconds) * time.Second,
	}, logger)

	return &Components{
		Storage:      store,
		Registry:     registry,
		Keyword:      keyword,
		Ingester:     ingester,
		Orchestrator: orchestrator,
	}, nil
}

// uploadFile sends a file to a running server as a multipart upload.
func uploadFile(serverURL, path string) (*models.Source, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/sources", mw.FormDataContentType(), &buf)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var src models.Source
	if err := json.NewDecoder(resp.Body).Decode(&src); err != nil {
		return nil, err
	}
	return &src, nil
}

func printUsage() {
	fmt.Println(`notebook - Personal document notebook with grounded AI chat

Usage:
  notebook server [flags]            Start the HTTP server
  notebook ingest [flags] <file>     Ingest a document or directory
  notebook ask [flags] <question>    Ask a question grounded in your documents
  notebook sources [flags]           List ingested sources
  notebook delete [flags] <id>       Delete a source
  notebook status [flags]            Show storage and provider status
  notebook version                   Show version
  notebook help                      Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/notebook/config.yaml,
                     falling back to ./config.yaml, then built-in defaults)
  --debug            Enable debug logging

Ingest Flags:
  --server string    Upload through a running server instead of opening the
                     database directly (e.g. http://localhost:8080)

Ask Flags:
  --server string        Server URL (default: http://localhost:8080)
  --conversation string  Conversation ID to continue
  --provider string      Provider override: openai, anthropic, or google

Provider API keys are read from the environment (or a .env file):
  OPENAI_API_KEY, ANTHROPIC_API_KEY, GOOGLE_API_KEY

Examples:
  notebook server
  notebook ingest report.pdf
  notebook ask "what does the report say about Q3 revenue?"
  notebook ask --conversation 4f1c... "and about Q4?"
  notebook sources
  notebook status --output json`)
}
