package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/photostacks/photostacks/internal/config"
	"github.com/photostacks/photostacks/internal/database/mariadb"
	"github.com/photostacks/photostacks/internal/database/postgres"
	"github.com/photostacks/photostacks/internal/embedding"
	"github.com/photostacks/photostacks/internal/encoder"
)

// stores bundles the database connections and repositories most commands
// need. Close both pools when done.
type stores struct {
	pool    *postgres.Pool
	catalog *mariadb.Pool

	embRepo   *postgres.EmbeddingRepository
	photoRepo *mariadb.PhotoRepository
	stackRepo *postgres.StackRepository
	store     *embedding.Store
}

// openStores connects to PostgreSQL (applying pending migrations) and the
// photo catalog.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}
	if cfg.Catalog.DatabaseURL == "" {
		return nil, errors.New("CATALOG_DATABASE_URL environment variable is required")
	}

	pool, err := postgres.Connect(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	catalog, err := mariadb.NewPool(cfg.Catalog.DatabaseURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to photo catalog: %w", err)
	}

	s := &stores{
		pool:      pool,
		catalog:   catalog,
		embRepo:   postgres.NewEmbeddingRepository(pool),
		photoRepo: mariadb.NewPhotoRepository(catalog),
		stackRepo: postgres.NewStackRepository(pool),
	}
	s.store = embedding.NewStore(s.embRepo, s.photoRepo)
	return s, nil
}

func (s *stores) Close() {
	if s.catalog != nil {
		_ = s.catalog.Close()
	}
	if s.pool != nil {
		_ = s.pool.Close()
	}
}

// buildRegistry registers the configured encoder backends. The CLIP sidecar
// is always registered; OpenAI and Gemini are registered lazily when
// credentials are present, so their SDK clients are only constructed when a
// command actually selects them.
func buildRegistry(ctx context.Context, cfg *config.Config) *encoder.Registry {
	registry := encoder.NewRegistry()
	registry.Register(encoder.NewCLIPEncoder(cfg.Encoder.URL, cfg.Encoder.Model, cfg.Encoder.Dim))

	if cfg.OpenAI.Token != "" {
		registry.RegisterLazy("openai", func() (encoder.Encoder, error) {
			return encoder.NewOpenAIEncoder(cfg.OpenAI.Token, cfg.Encoder.Dim)
		})
	}
	if cfg.Gemini.APIKey != "" {
		registry.RegisterLazy("gemini", func() (encoder.Encoder, error) {
			return encoder.NewGeminiEncoder(ctx, cfg.Gemini.APIKey, cfg.Encoder.Dim)
		})
	}
	return registry
}
