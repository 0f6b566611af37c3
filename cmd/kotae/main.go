// Package main is the kotae CLI entry point.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/kotae/internal/chat"
	"github.com/hyperjump/kotae/internal/chunker"
	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/fingerprint"
	"github.com/hyperjump/kotae/internal/generation"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/internal/store"
	"github.com/hyperjump/kotae/internal/watcher"
	"github.com/hyperjump/kotae/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kotae/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used instead.
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
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "chunk":
		runChunk()
	case "index":
		runIndex()
	case "ask":
		runAsk()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kotae version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`kotae - retrieval-augmented question answering over scraped pages

Usage: kotae <command> [flags]

Commands:
  server    start the HTTP API server
  chunk     split scraped pages into chunk records
  index     build the vector index from the chunk store
  ask       ask a question and stream the answer
  status    show chunk store and index state
  version   print version

Run 'kotae <command> -h' for command flags.`)
}

// components holds everything the long-lived commands wire together.
type components struct {
	Store     store.Store
	Embedder  embedding.Embedder
	Generator generation.Generator
	Artifacts fingerprint.Artifacts
	Builder   *indexer.Builder
	Retriever *search.Retriever
}

func (c *components) Close() {
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

// newEmbedder picks the embedding provider. Without OPENAI_API_KEY a
// deterministic local embedder is used, which is only useful for development.
func newEmbedder(cfg *config.Config, logger *zap.Logger) (embedding.Embedder, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		logger.Warn("OPENAI_API_KEY not set, using deterministic mock embedder")
		return embedding.NewMockEmbedder(cfg.Embedding.Dimensions), nil
	}
	e, err := embedding.NewOpenAIEmbedder(
		apiKey,
		cfg.Embedding.Model,
		cfg.Embedding.Dimensions,
		time.Duration(cfg.Embedding.TimeoutSeconds)*time.Second,
	)
	if err != nil {
		return nil, err
	}
	if cfg.Embedding.CacheSize > 0 {
		return embedding.NewCachedEmbedder(e, cfg.Embedding.CacheSize), nil
	}
	return e, nil
}

func newGenerator(cfg *config.Config, logger *zap.Logger) (generation.Generator, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		logger.Warn("OPENAI_API_KEY not set, using mock generator")
		return &generation.MockGenerator{Fragments: []string{"(no generation provider configured)"}}, nil
	}
	return generation.NewOpenAIGenerator(
		apiKey,
		cfg.Generation.Model,
		cfg.Generation.MaxTokens,
		cfg.Generation.Temperature,
		time.Duration(cfg.Generation.TimeoutSeconds)*time.Second,
	)
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	st, err := store.NewStore(cfg.Storage.StoreType, cfg.Storage.ChunkPath)
	if err != nil {
		return nil, fmt.Errorf("open chunk store: %w", err)
	}
	embedder, err := newEmbedder(cfg, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	gen, err := newGenerator(cfg, logger)
	if err != nil {
		_ = embedder.Close()
		_ = st.Close()
		return nil, fmt.Errorf("create generator: %w", err)
	}
	art := fingerprint.Artifacts{
		IndexPath: cfg.Storage.IndexPath,
		MetaPath:  cfg.Storage.MetaPath,
		InfoPath:  cfg.Storage.InfoPath,
	}
	builder := indexer.NewBuilder(st, embedder, art,
		indexer.WithLogger(logger),
		indexer.WithBatchSize(cfg.Index.BatchSize),
		indexer.WithWorkers(cfg.Index.Workers),
	)
	retriever := search.NewRetriever(embedder, art,
		search.WithLogger(logger),
		search.WithMaxTopK(cfg.Query.MaxTopK),
		search.WithMaxResultChars(cfg.Query.MaxResultChars),
	)
	return &components{
		Store:     st,
		Embedder:  embedder,
		Generator: gen,
		Artifacts: art,
		Builder:   builder,
		Retriever: retriever,
	}, nil
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

	comps, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer comps.Close()

	// Build (or load) the index up front so the first query does not pay
	// for it. A server over an empty chunk store still starts.
	buildCtx := context.Background()
	if built, err := comps.Builder.Build(buildCtx, false); err == nil {
		comps.Retriever.Install(&search.Snapshot{Index: built.Index, Metas: built.Metas, Info: built.Info})
	} else if err != indexer.ErrNoChunks {
		logger.Warn("initial index build failed", zap.Error(err))
	}

	chatSvc := chat.NewService(comps.Retriever, comps.Generator,
		chat.WithLogger(logger),
		chat.WithSnippetChars(cfg.Query.SnippetChars),
		chat.WithDefaultTopK(cfg.Query.DefaultTopK),
	)
	srv := server.NewServer(chatSvc, comps.Retriever, comps.Builder, comps.Store, cfg, logger)

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if cfg.Watch.Enabled {
		watchOpts := []watcher.WatcherOption{
			watcher.WithDebounce(time.Duration(cfg.Watch.DebounceMS) * time.Millisecond),
		}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		w := watcher.NewWatcher(cfg.Storage.ChunkPath, func() {
			built, err := comps.Builder.Build(context.Background(), false)
			if err != nil {
				logger.Warn("watch rebuild failed", zap.Error(err))
				return
			}
			comps.Retriever.Install(&search.Snapshot{Index: built.Index, Metas: built.Metas, Info: built.Info})
		}, watchOpts...)
		if err := w.Start(watchCtx); err != nil {
			logger.Warn("Failed to start chunk watcher", zap.Error(err))
		} else {
			defer w.Stop()
		}
	}

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runChunk() {
	fs := flag.NewFlagSet("chunk", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	input := fs.String("input", "scraped_pages.json", "scraped pages JSON file")
	keep := fs.Bool("keep", false, "keep existing chunk records instead of clearing the store")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	data, err := os.ReadFile(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read pages: %v\n", err)
		os.Exit(1)
	}
	var pages []models.Page
	if err := json.Unmarshal(data, &pages); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse pages: %v\n", err)
		os.Exit(1)
	}

	st, err := store.NewStore(cfg.Storage.StoreType, cfg.Storage.ChunkPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open chunk store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()
	if !*keep {
		if err := st.Clear(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to clear chunk store: %v\n", err)
			os.Exit(1)
		}
	}

	c := chunker.NewChunker(cfg.Chunking.MaxTokens, cfg.Chunking.MinTokens, chunker.CountTokens)
	total := 0
	for pageIdx := range pages {
		page := &pages[pageIdx]
		chunks := c.Chunk(page)
		// A short page below the minimum still yields its content as a
		// single chunk rather than vanishing.
		if len(chunks) == 0 && strings.TrimSpace(page.Content) != "" {
			chunks = []*models.Chunk{models.NewChunk(page, 0, strings.TrimSpace(page.Content))}
		}
		for _, chk := range chunks {
			if err := st.WriteChunk(ctx, pageIdx, chk); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to write chunk: %v\n", err)
				os.Exit(1)
			}
		}
		logger.Debug("page chunked",
			zap.String("url", page.URL), zap.Int("chunks", len(chunks)))
		total += len(chunks)
	}
	fmt.Printf("Chunked %d pages into %d chunks\n", len(pages), total)
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	force := fs.Bool("force", false, "rebuild even when the chunk store is unchanged")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	comps, err := initializeComponents(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer comps.Close()

	built, err := comps.Builder.Build(context.Background(), *force)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Index build failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Index ready: %d chunks, model %s, content hash %s\n",
		built.Info.ChunkCount, built.Info.Model, built.Info.ContentHash[:12])
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8000", "server URL (empty = answer locally without a server)")
	topK := fs.Int("top-k", 0, "number of chunks to retrieve (0 = server default)")
	showSources := fs.Bool("sources", true, "print retrieved sources before the answer")
	outputFormat := fs.String("output", "text", "output format: text or json (one event per line)")
	_ = fs.Parse(os.Args[2:])

	format := cli.OutputText
	switch *outputFormat {
	case "json":
		format = cli.OutputJSON
	case "text":
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: kotae ask [flags] <question>")
		os.Exit(1)
	}
	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		fmt.Fprintln(os.Stderr, "Usage: kotae ask [flags] <question>")
		os.Exit(1)
	}

	if *serverURL != "" {
		if err := askViaHTTP(*serverURL, question, *topK, format, *showSources); err != nil {
			fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	comps, err := initializeComponents(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer comps.Close()

	chatSvc := chat.NewService(comps.Retriever, comps.Generator,
		chat.WithSnippetChars(cfg.Query.SnippetChars),
		chat.WithDefaultTopK(cfg.Query.DefaultTopK))
	events, err := chatSvc.Ask(context.Background(), &models.ChatRequest{Query: question, TopK: *topK})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteEvents(os.Stdout, events, format, *showSources); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func askViaHTTP(serverURL, question string, topK int, format cli.OutputFormat, showSources bool) error {
	body, err := json.Marshal(models.ChatRequest{Query: question, TopK: topK})
	if err != nil {
		return err
	}
	resp, err := http.Post(serverURL+"/api/v1/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}

	events := make(chan models.Event, 32)
	errc := make(chan error, 1)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev models.Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				errc <- fmt.Errorf("bad event frame: %w", err)
				return
			}
			events <- ev
		}
		if err := scanner.Err(); err != nil {
			errc <- err
		}
	}()

	if err := cli.WriteEvents(os.Stdout, events, format, showSources); err != nil {
		return err
	}
	select {
	case err := <-errc:
		return err
	default:
		return nil
	}
}

// statusResponse is the shape of GET /api/v1/status.
type statusResponse struct {
	Chunks         int                    `json:"chunks"`
	LoadedVectors  int                    `json:"loaded_vectors,omitempty"`
	DiskUsageBytes *int64                 `json:"disk_usage_bytes,omitempty"`
	Index          *statusIndex           `json:"index,omitempty"`
	Config         map[string]interface{} `json:"config,omitempty"`
}

type statusIndex struct {
	ChunkCount  int       `json:"chunk_count"`
	ContentHash string    `json:"content_hash"`
	Model       string    `json:"model"`
	IndexedAt   time.Time `json:"indexed_at"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8000", "server URL (empty = inspect local state)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status statusResponse
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = *res
	} else {
		res, err := statusLocal(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = *res
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
		fmt.Printf("chunks:            %d\n", status.Chunks)
		if status.LoadedVectors > 0 {
			fmt.Printf("loaded_vectors:    %d\n", status.LoadedVectors)
		}
		if status.DiskUsageBytes != nil {
			fmt.Printf("disk_usage_bytes:  %d\n", *status.DiskUsageBytes)
		}
		if status.Index != nil {
			fmt.Println()
			fmt.Println("# index")
			fmt.Printf("chunk_count:       %d\n", status.Index.ChunkCount)
			fmt.Printf("content_hash:      %s\n", status.Index.ContentHash)
			fmt.Printf("model:             %s\n", status.Index.Model)
			fmt.Printf("indexed_at:        %s\n", status.Index.IndexedAt.Format(time.RFC3339))
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &status, nil
}

func statusLocal(configPath string) (*statusResponse, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	st, err := store.NewStore(cfg.Storage.StoreType, cfg.Storage.ChunkPath)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	count, err := st.Count(context.Background())
	if err != nil {
		return nil, err
	}
	status := &statusResponse{Chunks: count}
	if info, err := fingerprint.LoadInfo(cfg.Storage.InfoPath); err == nil {
		status.Index = &statusIndex{
			ChunkCount:  info.ChunkCount,
			ContentHash: info.ContentHash,
			Model:       info.Model,
			IndexedAt:   info.IndexedAt,
		}
	}
	if diskBytes, err := store.DiskUsageBytes(
		cfg.Storage.ChunkPath,
		cfg.Storage.IndexPath,
		cfg.Storage.MetaPath,
		cfg.Storage.InfoPath,
	); err == nil {
		status.DiskUsageBytes = &diskBytes
	}
	return status, nil
}
