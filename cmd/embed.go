package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/photostacks/photostacks/internal/config"
	"github.com/photostacks/photostacks/internal/constants"
	"github.com/photostacks/photostacks/internal/database"
	"github.com/photostacks/photostacks/internal/encoder"
	"github.com/photostacks/photostacks/internal/fingerprint"
)

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Compute and maintain photo embeddings",
}

var embedComputeCmd = &cobra.Command{
	Use:   "compute",
	Short: "Compute embeddings for a project's photos",
	Long: `Compute and store image embeddings for all photos of a project.
Photos that already have an embedding are skipped, so the process can be
stopped and resumed.

Examples:
  # Compute embeddings for project 1
  photostacks embed compute --project 1

  # Limit the number of photos and shrink the encoding batch
  photostacks embed compute --project 1 --limit 100 --batch 8`,
	RunE: runEmbedCompute,
}

var embedStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show embedding storage statistics",
	RunE:  runEmbedStats,
}

var embedStaleCmd = &cobra.Command{
	Use:   "stale",
	Short: "List photos whose embeddings no longer match their pixels",
	RunE:  runEmbedStale,
}

var embedInvalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Delete stale embeddings so they get recomputed",
	RunE:  runEmbedInvalidate,
}

var embedMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Convert stored embeddings to half precision",
	Long: `Convert full-precision embeddings to half precision, cutting their
storage in half. The migration runs in batches and is resumable.`,
	RunE: runEmbedMigrate,
}

func init() {
	rootCmd.AddCommand(embedCmd)
	embedCmd.AddCommand(embedComputeCmd, embedStatsCmd, embedStaleCmd, embedInvalidateCmd, embedMigrateCmd)

	for _, c := range []*cobra.Command{embedComputeCmd, embedStaleCmd, embedInvalidateCmd} {
		c.Flags().Int64("project", 0, "Project ID (required)")
		_ = c.MarkFlagRequired("project")
	}

	embedComputeCmd.Flags().Int("concurrency", constants.DefaultConcurrency, "Number of parallel file readers")
	embedComputeCmd.Flags().Int("limit", 0, "Limit number of photos to process (0 = no limit)")
	embedComputeCmd.Flags().Int("batch", 0, "Initial encoding batch size (0 = ENCODER_BATCH_SIZE)")
	embedComputeCmd.Flags().Bool("half", false, "Store embeddings in half precision")

	embedStatsCmd.Flags().Int64("project", 0, "Project ID (0 = global stats)")
	embedStaleCmd.Flags().Bool("force", false, "Bypass the staleness scan cache")
	embedMigrateCmd.Flags().Int("batch-size", constants.DefaultMigrateBatchSize, "Rows converted per batch")
}

func runEmbedCompute(cmd *cobra.Command, args []string) error {
	project, err := projectFlag(cmd)
	if err != nil {
		return err
	}
	concurrency := mustGetInt(cmd, "concurrency")
	limit := mustGetInt(cmd, "limit")
	half := mustGetBool(cmd, "half")

	cfg := config.Load()
	ctx := context.Background()

	s, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	batchSize := mustGetInt(cmd, "batch")
	if batchSize <= 0 {
		batchSize = cfg.Encoder.BatchSize
	}

	clip := encoder.NewCLIPEncoder(cfg.Encoder.URL, cfg.Encoder.Model, cfg.Encoder.Dim)
	if err := clip.Health(ctx); err != nil {
		return fmt.Errorf("CLIP sidecar not available: %w", err)
	}

	photos, err := s.photoRepo.GetProjectPhotos(ctx, project)
	if err != nil {
		return fmt.Errorf("failed to load project photos: %w", err)
	}
	fmt.Printf("Photos in project %d: %d\n", project, len(photos))

	// Skip photos that already have an embedding.
	var pending []database.Photo
	for _, photo := range photos {
		has, err := s.embRepo.Has(ctx, photo.ID)
		if err != nil {
			return fmt.Errorf("failed to check embedding: %w", err)
		}
		if !has {
			pending = append(pending, photo)
		}
	}
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	if len(pending) == 0 {
		fmt.Println("All photos already have embeddings!")
		return nil
	}
	fmt.Printf("Photos to process: %d (skipping %d already processed)\n\n",
		len(pending), len(photos)-len(pending))

	items, hashes, readErrors := loadImages(pending, concurrency)

	bar := progressbar.NewOptions(len(items),
		progressbar.OptionSetDescription("Computing embeddings"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	batch := encoder.NewBatchEncoder(clip, batchSize)
	var lastDone int
	batch.Progress = func(done, total int) {
		_ = bar.Add(done - lastDone)
		lastDone = done
	}
	results, err := batch.EncodeAll(ctx, items)
	fmt.Println()
	if err != nil {
		return fmt.Errorf("encoding interrupted: %w", err)
	}

	precision := database.PrecisionFull
	if half {
		precision = database.PrecisionHalf
	}

	successCount, errorCount := 0, readErrors
	for _, res := range results {
		if res.Err != nil {
			fmt.Printf("Photo %d: %v\n", res.PhotoID, res.Err)
			errorCount++
			continue
		}
		err := s.store.Save(ctx, res.PhotoID, project, res.Embedding,
			clip.Model(), precision, hashes[res.PhotoID])
		if err != nil {
			fmt.Printf("Photo %d: %v\n", res.PhotoID, err)
			errorCount++
			continue
		}
		successCount++
	}

	fmt.Printf("\nCompleted: %d successful, %d errors\n", successCount, errorCount)
	return nil
}

// loadImages reads photo files with a bounded worker pool and computes their
// content hashes. Unreadable files are counted and skipped.
func loadImages(photos []database.Photo, concurrency int) ([]encoder.BatchItem, map[int64]string, int) {
	if concurrency <= 0 {
		concurrency = constants.DefaultConcurrency
	}

	type loaded struct {
		item encoder.BatchItem
		hash string
	}

	var mu sync.Mutex
	var ok []loaded
	failed := 0

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for _, photo := range photos {
		wg.Add(1)
		go func(p database.Photo) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			data, err := os.ReadFile(p.Path)
			if err != nil {
				fmt.Printf("Photo %d: cannot read %s: %v\n", p.ID, p.Path, err)
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}

			hash := p.ContentHash
			if hash == "" {
				if computed, err := fingerprint.ContentHash(data); err == nil {
					hash = computed
				}
			}

			mu.Lock()
			ok = append(ok, loaded{
				item: encoder.BatchItem{PhotoID: p.ID, Image: data},
				hash: hash,
			})
			mu.Unlock()
		}(photo)
	}
	wg.Wait()

	sort.Slice(ok, func(i, j int) bool { return ok[i].item.PhotoID < ok[j].item.PhotoID })

	items := make([]encoder.BatchItem, 0, len(ok))
	hashes := make(map[int64]string, len(ok))
	for _, l := range ok {
		items = append(items, l.item)
		hashes[l.item.PhotoID] = l.hash
	}
	return items, hashes, failed
}

func runEmbedStats(cmd *cobra.Command, args []string) error {
	project, _ := cmd.Flags().GetInt64("project")

	ctx := context.Background()
	s, err := openStores(ctx, config.Load())
	if err != nil {
		return err
	}
	defer s.Close()

	if project > 0 {
		stats, err := s.store.ProjectStats(ctx, project)
		if err != nil {
			return fmt.Errorf("failed to compute project stats: %w", err)
		}
		fmt.Printf("Project %d\n", project)
		fmt.Printf("  Photos:          %d\n", stats.PhotoCount)
		fmt.Printf("  Embeddings:      %d (%.1f%% coverage)\n", stats.TotalEmbeddings, stats.CoveragePct)
		fmt.Printf("  Full precision:  %d\n", stats.FullPrecision)
		fmt.Printf("  Half precision:  %d\n", stats.HalfPrecision)
		fmt.Printf("  Space saved:     %.1f%%\n", stats.SpaceSavedPct)
		fmt.Printf("  Stale:           %d\n", stats.StaleCount)
		fmt.Printf("  Canonical model: %s\n", stats.CanonicalModel)
		return nil
	}

	stats, err := s.store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to compute stats: %w", err)
	}
	fmt.Printf("Embeddings:     %d\n", stats.TotalEmbeddings)
	fmt.Printf("Full precision: %d\n", stats.FullPrecision)
	fmt.Printf("Half precision: %d\n", stats.HalfPrecision)
	fmt.Printf("Space saved:    %.1f%%\n", stats.SpaceSavedPct)
	return nil
}

func runEmbedStale(cmd *cobra.Command, args []string) error {
	project, err := projectFlag(cmd)
	if err != nil {
		return err
	}
	force := mustGetBool(cmd, "force")

	ctx := context.Background()
	s, err := openStores(ctx, config.Load())
	if err != nil {
		return err
	}
	defer s.Close()

	stale, err := s.store.ListStaleForProject(ctx, project, force)
	if err != nil {
		return fmt.Errorf("stale scan failed: %w", err)
	}
	if len(stale) == 0 {
		fmt.Println("No stale embeddings")
		return nil
	}
	for _, p := range stale {
		fmt.Printf("%-10d %s\n", p.PhotoID, p.Path)
	}
	fmt.Printf("\nTotal: %d stale embeddings\n", len(stale))
	return nil
}

func runEmbedInvalidate(cmd *cobra.Command, args []string) error {
	project, err := projectFlag(cmd)
	if err != nil {
		return err
	}

	ctx := context.Background()
	s, err := openStores(ctx, config.Load())
	if err != nil {
		return err
	}
	defer s.Close()

	deleted, err := s.store.InvalidateStale(ctx, project)
	if err != nil {
		return fmt.Errorf("invalidation failed: %w", err)
	}
	fmt.Printf("Deleted %d stale embeddings\n", deleted)
	return nil
}

func runEmbedMigrate(cmd *cobra.Command, args []string) error {
	batchSize := mustGetInt(cmd, "batch-size")

	ctx := context.Background()
	s, err := openStores(ctx, config.Load())
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Println("Migrating embeddings to half precision...")
	migrated, err := s.store.MigrateToHalfPrecision(ctx, batchSize)
	if err != nil {
		return fmt.Errorf("migration interrupted after %d embeddings: %w", migrated, err)
	}
	fmt.Printf("Migrated %d embeddings\n", migrated)
	return nil
}
