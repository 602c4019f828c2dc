// Package stacker groups visually similar photos into persisted stacks:
// a time-window pass over capture timestamps, complete-linkage clustering
// on cosine similarity, a global cross-date pass, and deterministic
// representative selection.
package stacker

import (
	"fmt"
	"hash/fnv"

	"github.com/photostacks/photostacks/internal/config"
	"github.com/photostacks/photostacks/internal/database"
)

// Params controls one stack generation run. Two runs with equal parameters
// over the same data produce identical stacks.
type Params struct {
	ProjectID int64
	StackType database.StackType

	// RuleVersion tags created stacks; when empty a version is derived
	// from the clustering parameters so that changed parameters never
	// silently mix with stacks from older rules.
	RuleVersion string

	// TimeWindowSeconds bounds the capture-time candidate search around
	// each seed photo.
	TimeWindowSeconds int

	// SimilarityThreshold is the minimum pairwise cosine similarity
	// inside a time-window cluster.
	SimilarityThreshold float64

	// CrossDateThreshold applies to the global pass; zero means use
	// SimilarityThreshold.
	CrossDateThreshold float64

	// MinStackSize discards clusters smaller than this.
	MinStackSize int

	// SameFolderOnly restricts time-window candidates to the seed's
	// folder (burst stacks).
	SameFolderOnly bool

	// GlobalPass enables the cross-date pass that finds duplicates with
	// distant or missing capture timestamps.
	GlobalPass bool

	// CreatedBy is recorded on created stacks, defaults to "system".
	CreatedBy string
}

// ParamsFromRule builds run parameters from a configured stack rule.
func ParamsFromRule(projectID int64, stackType database.StackType, rule config.StackRule) Params {
	return Params{
		ProjectID:           projectID,
		StackType:           stackType,
		TimeWindowSeconds:   rule.TimeWindowSeconds,
		SimilarityThreshold: rule.SimilarityThreshold,
		MinStackSize:        rule.MinStackSize,
		SameFolderOnly:      rule.SameFolderOnly,
		GlobalPass:          rule.GlobalPass,
	}
}

// withDefaults fills unset fields from the package defaults.
func (p Params) withDefaults() Params {
	if p.TimeWindowSeconds <= 0 {
		p.TimeWindowSeconds = database.DefaultTimeWindowSeconds
	}
	if p.SimilarityThreshold <= 0 {
		p.SimilarityThreshold = database.DefaultSimilarityThreshold
	}
	if p.CrossDateThreshold <= 0 {
		p.CrossDateThreshold = p.SimilarityThreshold
	}
	if p.MinStackSize <= 0 {
		p.MinStackSize = database.DefaultMinStackSize
	}
	if p.StackType == "" {
		p.StackType = database.StackTypeSimilar
	}
	if p.CreatedBy == "" {
		p.CreatedBy = "system"
	}
	return p
}

// EffectiveRuleVersion returns the explicit rule version, or one derived
// from the clustering parameters. The derived form hashes every parameter
// that influences cluster membership, so any tuning produces a new version.
func (p Params) EffectiveRuleVersion() string {
	if p.RuleVersion != "" {
		return p.RuleVersion
	}
	p = p.withDefaults()
	h := fnv.New32a()
	fmt.Fprintf(h, "%s|%d|%.4f|%.4f|%d|%t|%t",
		p.StackType, p.TimeWindowSeconds, p.SimilarityThreshold,
		p.CrossDateThreshold, p.MinStackSize, p.SameFolderOnly, p.GlobalPass)
	return fmt.Sprintf("v1-%08x", h.Sum32())
}

// Result summarizes a stack generation run.
type Result struct {
	PhotosConsidered   int      `json:"photos_considered"`
	StacksCreated      int      `json:"stacks_created"`
	MembershipsCreated int      `json:"memberships_created"`
	Errors             []string `json:"errors,omitempty"`
}
