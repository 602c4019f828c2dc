package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/photostacks/photostacks/internal/config"
	"github.com/photostacks/photostacks/internal/database"
	"github.com/photostacks/photostacks/internal/stacker"
)

var stacksCmd = &cobra.Command{
	Use:   "stacks",
	Short: "Generate and inspect photo stacks",
}

var stacksGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Regenerate stacks for a project",
	Long: `Regenerate the stacks of a project from its stored embeddings.
Existing stacks of the same type and rule version are replaced.

Examples:
  # Similar-photo stacks with the configured defaults
  photostacks stacks generate --project 1

  # Strict duplicate stacks with a custom threshold
  photostacks stacks generate --project 1 --type duplicate --threshold 0.98`,
	RunE: runStacksGenerate,
}

var stacksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the stacks of a project",
	RunE:  runStacksList,
}

var stacksClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the stacks of a project",
	RunE:  runStacksClear,
}

func init() {
	rootCmd.AddCommand(stacksCmd)
	stacksCmd.AddCommand(stacksGenerateCmd, stacksListCmd, stacksClearCmd)

	for _, c := range []*cobra.Command{stacksGenerateCmd, stacksListCmd, stacksClearCmd} {
		c.Flags().Int64("project", 0, "Project ID (required)")
		_ = c.MarkFlagRequired("project")
	}

	stacksGenerateCmd.Flags().String("type", "similar", "Stack type (duplicate, near_duplicate, similar, burst)")
	stacksGenerateCmd.Flags().String("rule-version", "", "Explicit rule version tag (derived from parameters when empty)")
	stacksGenerateCmd.Flags().Int("window", 0, "Time window in seconds (0 = rule default)")
	stacksGenerateCmd.Flags().Float64("threshold", 0, "Similarity threshold (0 = rule default)")
	stacksGenerateCmd.Flags().Int("min-size", 0, "Minimum stack size (0 = rule default)")

	stacksListCmd.Flags().String("type", "", "Filter by stack type")

	stacksClearCmd.Flags().String("type", "similar", "Stack type to clear")
	stacksClearCmd.Flags().String("rule-version", "", "Rule version to clear (derived from rule defaults when empty)")
}

func projectFlag(cmd *cobra.Command) (int64, error) {
	project, err := cmd.Flags().GetInt64("project")
	if err != nil || project <= 0 {
		return 0, fmt.Errorf("a positive --project ID is required")
	}
	return project, nil
}

func stackTypeFlag(cmd *cobra.Command, allowEmpty bool) (database.StackType, error) {
	raw := mustGetString(cmd, "type")
	if raw == "" && allowEmpty {
		return "", nil
	}
	stackType := database.StackType(raw)
	if !stackType.Valid() {
		return "", fmt.Errorf("unknown stack type %q", raw)
	}
	return stackType, nil
}

func runStacksGenerate(cmd *cobra.Command, args []string) error {
	project, err := projectFlag(cmd)
	if err != nil {
		return err
	}
	stackType, err := stackTypeFlag(cmd, false)
	if err != nil {
		return err
	}

	cfg := config.Load()
	ctx := context.Background()

	s, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	params := stacker.ParamsFromRule(project, stackType, cfg.StackRules.RuleFor(string(stackType)))
	params.RuleVersion = mustGetString(cmd, "rule-version")
	params.CreatedBy = "cli"
	if v := mustGetInt(cmd, "window"); v > 0 {
		params.TimeWindowSeconds = v
	}
	if v := mustGetFloat64(cmd, "threshold"); v > 0 {
		params.SimilarityThreshold = v
	}
	if v := mustGetInt(cmd, "min-size"); v > 0 {
		params.MinStackSize = v
	}

	fmt.Printf("Generating %s stacks for project %d (rule version %s)...\n",
		stackType, project, params.EffectiveRuleVersion())

	gen := stacker.NewGenerator(s.store, s.photoRepo, s.stackRepo)
	gen.Progress = func(phase string, clusters int) {
		fmt.Printf("  %s pass: %d clusters\n", phase, clusters)
	}

	result, err := gen.Regenerate(ctx, params)
	if err != nil {
		return fmt.Errorf("stack generation failed: %w", err)
	}

	fmt.Printf("\nPhotos considered: %d\n", result.PhotosConsidered)
	fmt.Printf("Stacks created:    %d\n", result.StacksCreated)
	fmt.Printf("Memberships:       %d\n", result.MembershipsCreated)
	if len(result.Errors) > 0 {
		fmt.Printf("Errors (%d):\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
	return nil
}

func runStacksList(cmd *cobra.Command, args []string) error {
	project, err := projectFlag(cmd)
	if err != nil {
		return err
	}
	stackType, err := stackTypeFlag(cmd, true)
	if err != nil {
		return err
	}

	ctx := context.Background()
	s, err := openStores(ctx, config.Load())
	if err != nil {
		return err
	}
	defer s.Close()

	stacks, err := s.stackRepo.ListStacks(ctx, project, stackType)
	if err != nil {
		return fmt.Errorf("failed to list stacks: %w", err)
	}
	if len(stacks) == 0 {
		fmt.Println("No stacks found")
		return nil
	}

	for _, stack := range stacks {
		rep := "-"
		if stack.RepresentativePhotoID != nil {
			rep = fmt.Sprintf("%d", *stack.RepresentativePhotoID)
		}
		fmt.Printf("#%d  %-14s  %d photos  representative=%s  rule=%s\n",
			stack.ID, stack.Type, len(stack.Members), rep, stack.RuleVersion)
		for _, m := range stack.Members {
			fmt.Printf("    photo %-8d similarity %.4f\n", m.PhotoID, m.SimilarityScore)
		}
	}
	fmt.Printf("\nTotal: %d stacks\n", len(stacks))
	return nil
}

func runStacksClear(cmd *cobra.Command, args []string) error {
	project, err := projectFlag(cmd)
	if err != nil {
		return err
	}
	stackType, err := stackTypeFlag(cmd, false)
	if err != nil {
		return err
	}

	cfg := config.Load()
	ctx := context.Background()

	s, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	ruleVersion := mustGetString(cmd, "rule-version")
	if ruleVersion == "" {
		rule := cfg.StackRules.RuleFor(string(stackType))
		ruleVersion = stacker.ParamsFromRule(project, stackType, rule).EffectiveRuleVersion()
	}

	deleted, err := s.stackRepo.ClearStacks(ctx, project, stackType, ruleVersion)
	if err != nil {
		return fmt.Errorf("failed to clear stacks: %w", err)
	}
	fmt.Printf("Deleted %d stacks (type %s, rule version %s)\n", deleted, stackType, ruleVersion)
	return nil
}
