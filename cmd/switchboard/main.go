// Switchboard is a multi-tenant LLM gateway core: one turn pipeline over
// pluggable providers with memory, tool access control, context assembly,
// cost-aware routing, and durable session history.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awspricing "github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arcfault/switchboard/internal/assembly"
	"github.com/arcfault/switchboard/internal/cache"
	"github.com/arcfault/switchboard/internal/config"
	"github.com/arcfault/switchboard/internal/embeddings"
	"github.com/arcfault/switchboard/internal/mcp"
	"github.com/arcfault/switchboard/internal/memory"
	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/internal/pipeline"
	"github.com/arcfault/switchboard/internal/pipeline/stages"
	"github.com/arcfault/switchboard/internal/pricing"
	"github.com/arcfault/switchboard/internal/providers"
	"github.com/arcfault/switchboard/internal/router"
	"github.com/arcfault/switchboard/internal/store"
	"github.com/arcfault/switchboard/internal/tieredfc"
	"github.com/arcfault/switchboard/internal/vector"
	"github.com/arcfault/switchboard/pkg/models"
)

const defaultSystemPrompt = "You are a helpful assistant. Use the provided context and tools when they are relevant."

func main() {
	path := os.Getenv("SWITCHBOARD_CONFIG")
	if path == "" {
		path = "switchboard.yaml"
	}
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	cfg, err := config.Load(path)
	if err != nil {
		observability.NewLogger(observability.LogConfig{}).Error(context.Background(), "config load failed", "path", path, "error", err.Error())
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error(ctx, "gateway exited with error", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	cacheClient := cache.New(ctx, cache.Config{
		Addr:       cfg.Cache.Addr,
		Password:   cfg.Cache.Password,
		DB:         cfg.Cache.DB,
		KeyPrefix:  cfg.Cache.KeyPrefix,
		DefaultTTL: cfg.Cache.DefaultTTL,
	}, logger)
	defer cacheClient.Close()

	vectors, err := vectorStore(cfg, logger)
	if err != nil {
		logger.Warn(ctx, "vector store unavailable, memory falls back to keyword search", "error", err.Error())
	}
	if vectors != nil {
		defer vectors.Close()
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	priceSvc := pricingService(ctx, cfg, logger)
	priceSvc.Start(ctx)
	defer priceSvc.Stop()

	manager, err := providers.NewFromConfig(ctx, cfg.Providers, logger, metrics)
	if err != nil {
		return err
	}
	manager.StartProbing(ctx)
	defer manager.StopProbing()

	embedder := embeddingProvider(ctx, cfg, logger)

	catalog := router.NewCatalog()
	discoverer := router.NewDiscoverer(manager, catalog, priceSvc, vectors, embedder, cfg.Routing, cfg.Vector, logger)
	discoverer.Start(ctx)
	defer discoverer.Stop()
	rt := router.New(catalog, cfg.Routing, logger)

	var memoryManager *memory.Manager
	if cfg.Memory.Enabled {
		memoryManager = memory.New(cfg.Memory, cacheClient, vectors, embedder, st, cfg.Vector.MemoryCollection, logger, metrics)
		if err := memoryManager.Initialize(ctx); err != nil {
			logger.Warn(ctx, "memory vector collection init failed, continuing degraded", "error", err.Error())
		}
	}

	var mcpManager *mcp.Manager
	if cfg.MCP.Enabled && cfg.MCP.OrchestratorURL != "" {
		client := mcp.NewClient(cfg.MCP.OrchestratorURL, cfg.MCP.RequestTimeout)
		access := mcp.NewAccessController(st, logger)
		mcpManager = mcp.NewManager(cfg.MCP, client, access, cacheClient, logger, metrics)
		defer mcpManager.Close()
	}

	tieredEngine := tieredfc.New(cfg.TieredFC, logger, metrics)

	var retriever assembly.MemoryRetriever
	if memoryManager != nil {
		retriever = memoryManager
	}
	assembler := assembly.New(cacheClient, retriever, cfg.Routing.ReservedForGeneration, cfg.Cache.ContextTTL, logger, metrics)

	pipe := pipeline.New([]pipeline.Stage{
		stages.NewAuth(cfg.Auth, logger),
		stages.NewMemory(memoryManager, logger),
		stages.NewMCP(mcpManager, logger),
		stages.NewContext(assembler, catalog, defaultSystemPrompt, cfg.TieredFC.BalancedModel, logger),
		stages.NewTiered(tieredEngine, cfg.Routing.DefaultSliderPosition, logger),
		stages.NewRoute(rt, catalog, logger),
		stages.NewLLM(manager, logger),
		stages.NewPersist(st, logger),
		stages.NewMetrics(metrics, priceSvc, cfg.Pricing.Region, logger),
	}, cfg.Pipeline, cacheClient, logger, metrics)
	logger.Info(ctx, "pipeline ready", "stages", 9, "turn_timeout", cfg.Pipeline.TurnTimeout.String())

	srv := gatewayServer(cfg.ListenAddr, registry, pipe, logger)
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "gateway listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func vectorStore(cfg *config.Config, logger *observability.Logger) (*vector.Store, error) {
	return vector.New(vector.Config{
		Host:   cfg.Vector.Host,
		Port:   cfg.Vector.Port,
		APIKey: cfg.Vector.APIKey,
		UseTLS: cfg.Vector.UseTLS,
	}, logger)
}

func openStore(ctx context.Context, cfg *config.Config, logger *observability.Logger) (store.Store, error) {
	if cfg.Database.URL == "" {
		logger.Warn(ctx, "no database configured, using in-process store")
		return store.NewMemory(), nil
	}
	pg, err := store.OpenPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}

func pricingService(ctx context.Context, cfg *config.Config, logger *observability.Logger) *pricing.Service {
	var api pricing.API
	if cfg.Pricing.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Pricing.Region))
		if err != nil {
			logger.Warn(ctx, "aws config load failed, pricing serves fallback table", "error", err.Error())
		} else {
			api = awspricing.NewFromConfig(awsCfg)
		}
	}
	return pricing.New(api, pricing.Config{
		Region:          cfg.Pricing.Region,
		RefreshInterval: cfg.Pricing.RefreshInterval,
	}, logger)
}

func embeddingProvider(ctx context.Context, cfg *config.Config, logger *observability.Logger) embeddings.Provider {
	ec := cfg.Memory.Embeddings
	if ec.Provider == "" && ec.APIKey == "" && ec.BaseURL == "" {
		return nil
	}
	provider, err := embeddings.New(embeddings.Config{
		Provider: ec.Provider,
		APIKey:   ec.APIKey,
		BaseURL:  ec.BaseURL,
		Model:    ec.Model,
	})
	if err != nil {
		logger.Warn(ctx, "embedding provider construction failed, semantic retrieval disabled", "error", err.Error())
		return nil
	}
	return provider
}

// gatewayServer serves the turn endpoint plus metrics and health. Turn
// events stream back as newline-delimited JSON.
func gatewayServer(addr string, registry *prometheus.Registry, pipe *pipeline.Pipeline, logger *observability.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/turns", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req models.TurnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "malformed request body", http.StatusBadRequest)
			return
		}
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			req.BearerToken = strings.TrimPrefix(h, "Bearer ")
		}

		events, err := pipe.Run(r.Context(), &req)
		if err != nil {
			http.Error(w, "turn start failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		enc := json.NewEncoder(w)
		for ev := range events {
			if err := enc.Encode(ev); err != nil {
				logger.Warn(r.Context(), "client disconnected mid-stream", "error", err.Error())
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
