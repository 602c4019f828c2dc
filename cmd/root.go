// Package cmd implements the photostacks command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "photostacks",
	Short: "Visual-similarity photo stacking engine",
	Long: `Photostacks detects visually similar photos in a photo catalog and
groups them into stacks: duplicates, near-duplicates, bursts and
similar shots. Embeddings are computed by a CLIP sidecar and stored
in PostgreSQL with pgvector for similarity search.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
