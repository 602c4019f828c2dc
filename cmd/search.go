package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/photostacks/photostacks/internal/config"
	"github.com/photostacks/photostacks/internal/constants"
	"github.com/photostacks/photostacks/internal/database"
	"github.com/photostacks/photostacks/internal/index"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Similarity search over stored embeddings",
}

var searchTextCmd = &cobra.Command{
	Use:   "text <query>",
	Short: "Find photos matching a text description",
	Long: `Embed a text query and return the project's most similar photos.

Examples:
  photostacks search text --project 1 "sunset at the beach"
  photostacks search text --project 1 --backend openai "birthday cake"`,
	Args: cobra.ExactArgs(1),
	RunE: runSearchText,
}

var searchSimilarCmd = &cobra.Command{
	Use:   "similar",
	Short: "Find the photos most similar to a given photo",
	RunE:  runSearchSimilar,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.AddCommand(searchTextCmd, searchSimilarCmd)

	for _, c := range []*cobra.Command{searchTextCmd, searchSimilarCmd} {
		c.Flags().Int64("project", 0, "Project ID (required)")
		_ = c.MarkFlagRequired("project")
		c.Flags().Int("top-k", constants.DefaultSearchTopK, "Maximum number of results")
		c.Flags().Float64("threshold", 0, "Minimum similarity")
	}

	searchTextCmd.Flags().String("backend", "clip", "Encoder backend for the query (clip, openai, gemini)")
	searchSimilarCmd.Flags().Int64("photo", 0, "Photo ID (required)")
	_ = searchSimilarCmd.MarkFlagRequired("photo")
}

func runSearchText(cmd *cobra.Command, args []string) error {
	project, err := projectFlag(cmd)
	if err != nil {
		return err
	}
	query := args[0]

	cfg := config.Load()
	ctx := context.Background()

	s, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	registry := buildRegistry(ctx, cfg)
	enc, err := registry.Get(mustGetString(cmd, "backend"))
	if err != nil {
		return err
	}

	vec, err := enc.EncodeText(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to encode query: %w", err)
	}

	vecs, err := s.store.VectorsForProject(ctx, project)
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w", err)
	}

	matches := index.Build(vecs).TopK(vec, mustGetInt(cmd, "top-k"), mustGetFloat64(cmd, "threshold"), 0)
	printMatches(ctx, s, matches)
	return nil
}

func runSearchSimilar(cmd *cobra.Command, args []string) error {
	project, err := projectFlag(cmd)
	if err != nil {
		return err
	}
	photoID, _ := cmd.Flags().GetInt64("photo")

	ctx := context.Background()
	s, err := openStores(ctx, config.Load())
	if err != nil {
		return err
	}
	defer s.Close()

	vecs, err := s.store.VectorsForProject(ctx, project)
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w", err)
	}

	idx := index.Build(vecs)
	query := idx.Vector(photoID)
	if query == nil {
		return fmt.Errorf("photo %d has no embedding", photoID)
	}

	threshold := mustGetFloat64(cmd, "threshold")
	if threshold <= 0 {
		threshold = database.DefaultSimilarityThreshold
	}
	matches := idx.TopK(query, mustGetInt(cmd, "top-k"), threshold, photoID)
	printMatches(ctx, s, matches)
	return nil
}

func printMatches(ctx context.Context, s *stores, matches []index.Match) {
	if len(matches) == 0 {
		fmt.Println("No matches")
		return
	}

	ids := make([]int64, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.PhotoID)
	}
	photos, err := s.photoRepo.GetPhotos(ctx, ids)
	if err != nil {
		photos = nil
	}

	for _, m := range matches {
		path := ""
		if p, ok := photos[m.PhotoID]; ok {
			path = p.Path
		}
		fmt.Printf("%.4f  %-8d %s\n", m.Similarity, m.PhotoID, path)
	}
}
