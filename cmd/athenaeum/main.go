package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/elea/athenaeum/internal/agent"
	"github.com/elea/athenaeum/internal/api"
	"github.com/elea/athenaeum/internal/config"
	"github.com/elea/athenaeum/internal/corpus"
	"github.com/elea/athenaeum/internal/dialogue"
	"github.com/elea/athenaeum/internal/embedding"
	"github.com/elea/athenaeum/internal/events"
	"github.com/elea/athenaeum/internal/memory"
	"github.com/elea/athenaeum/internal/provider"
	pgstore "github.com/elea/athenaeum/internal/store"
	"github.com/elea/athenaeum/internal/world"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Athenaeum...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/athenaeum.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Language-model gateway
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.Config{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey, Model: pc.Model,
		}
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}

	// Embedding gateway
	embCfg := embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
	}
	var embedder embedding.Provider
	switch cfg.Embedding.Provider {
	case "local":
		embedder = embedding.NewLocalProvider(embCfg)
	default:
		embedder = embedding.NewAPIProvider(embCfg)
	}

	// Corpus library with optional Qdrant passage cache
	var library *corpus.Library
	if cfg.Corpus.Endpoint != "" {
		client := corpus.NewClient(corpus.ClientConfig{Endpoint: cfg.Corpus.Endpoint}, logger)
		var cache *corpus.Cache
		if cfg.Corpus.Cache.Enabled {
			c, cacheErr := corpus.NewCache(corpus.CacheConfig{
				Host:       cfg.Corpus.Cache.Host,
				Port:       cfg.Corpus.Cache.Port,
				Collection: cfg.Corpus.Cache.Collection,
			}, embedder, logger)
			if cacheErr != nil {
				logger.Warn("Qdrant unavailable, running without passage cache", zap.Error(cacheErr))
			} else if ensureErr := c.Ensure(context.Background(), uint64(cfg.Embedding.Dimension)); ensureErr != nil {
				logger.Warn("passage collection unavailable, running without cache", zap.Error(ensureErr))
				c.Close()
			} else {
				cache = c
				defer cache.Close()
			}
		}
		library = corpus.NewLibrary(client, cache, logger)
	}

	// PostgreSQL persistence
	var store *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			dir := cfg.Database.Postgres.MigrationsDir
			if dir == "" {
				dir = "migrations"
			}
			if mErr := ps.Migrate(context.Background(), dir); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			store = ps
			defer store.Close()
		}
	}

	// Redis event bus
	var bus *events.Bus
	if cfg.Database.Redis.URL != "" {
		b, busErr := events.NewBus(cfg.Database.Redis.URL, logger)
		if busErr != nil {
			logger.Warn("Redis unavailable, running without event bus", zap.Error(busErr))
		} else {
			bus = b
			defer bus.Close()
		}
	}

	// Residents
	registry := agent.NewRegistry(logger)
	clock := world.NewClock(cfg.Simulation.TickInterval.Std(), cfg.Simulation.Speed, logger)
	for _, ac := range cfg.Agents {
		// Stable ID so saved state survives restarts.
		persona := &agent.Persona{
			ID:          ac.Name,
			Name:        ac.Name,
			Archetype:   ac.Archetype,
			School:      ac.School,
			Era:         ac.Era,
			Style:       ac.Style,
			CoreBeliefs: ac.CoreBeliefs,
			Backstory:   ac.Backstory,
		}
		ctrl := restoreOrCreate(persona, cfg, store, router, embedder, logger)
		ctrl.SetClock(clock.Now)
		registry.Register(ctrl)
		if ac.Provider != "" {
			router.Bind(persona.Name, ac.Provider)
		}
		if store != nil {
			if err := store.SavePersona(context.Background(), persona); err != nil {
				logger.Warn("persona save failed", zap.String("agent", persona.Name), zap.Error(err))
			}
		}
	}

	// Dialogue manager and world loops
	dialogues := dialogue.NewManager(registry, library, router, logger)
	dialogues.SetClock(clock.Now)
	floor := world.NewWorld(registry, dialogues, bus, logger)
	if store != nil {
		floor.SetArchiver(store)
	}
	heartbeat := world.NewHeartbeat(cfg.Simulation.BeatInterval.Std(), floor, registry, logger)
	clock.AddListener(floor)
	clock.AddListener(heartbeat)
	clock.Start()
	logger.Info("Simulation started", zap.Int("agents", len(registry.List())))

	// Periodic state snapshots
	saveCtx, stopSaves := context.WithCancel(context.Background())
	defer stopSaves()
	if store != nil {
		go saveLoop(saveCtx, cfg.Simulation.SaveInterval.Std(), registry, store, logger)
	}

	// HTTP surface
	handler := api.NewHandler(registry, dialogues, clock, floor, heartbeat, logger)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Athenaeum listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Athenaeum...")
	clock.Stop()
	srv.Shutdown(context.Background())
	if store != nil {
		saveAll(context.Background(), registry, store, logger)
	}
}

// restoreOrCreate loads the agent's saved scratch and memory snapshot when
// persistence is available, otherwise starts fresh.
func restoreOrCreate(persona *agent.Persona, cfg *config.Config, store *pgstore.Store, router *provider.Router, embedder embedding.Provider, logger *zap.Logger) *agent.Controller {
	if store != nil {
		if saved, snap, err := store.LoadState(context.Background(), persona.ID); err == nil {
			mem, restoreErr := memory.Restore(snap, logger)
			if restoreErr == nil {
				logger.Info("restored agent state",
					zap.String("agent", persona.Name), zap.Int("nodes", mem.Len()))
				return agent.NewControllerWithStore(persona, mem, saved, router, embedder, logger)
			}
			logger.Warn("snapshot restore failed, starting fresh",
				zap.String("agent", persona.Name), zap.Error(restoreErr))
		}
	}
	scratch := agent.NewScratch(cfg.Simulation.TriggerMax)
	return agent.NewControllerWithStore(persona, memory.NewStore(logger), scratch, router, embedder, logger)
}

func saveLoop(ctx context.Context, interval time.Duration, registry *agent.Registry, store *pgstore.Store, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			saveAll(ctx, registry, store, logger)
		}
	}
}

func saveAll(ctx context.Context, registry *agent.Registry, store *pgstore.Store, logger *zap.Logger) {
	for _, c := range registry.List() {
		scratch, snap := c.SnapshotState()
		if err := store.SaveState(ctx, c.Persona().ID, scratch, snap); err != nil {
			logger.Warn("state save failed", zap.String("agent", c.Persona().Name), zap.Error(err))
		}
	}
}
