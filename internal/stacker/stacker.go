package stacker

import (
	"context"
	"fmt"
	"sort"

	"github.com/photostacks/photostacks/internal/database"
	"github.com/photostacks/photostacks/internal/embedding"
	"github.com/photostacks/photostacks/internal/index"
	"github.com/photostacks/photostacks/internal/vectors"
)

// Generator regenerates the stacks of one (project, type, rule version)
// scope from scratch. Individual stack failures are collected, not fatal;
// context cancellation between phases is.
type Generator struct {
	store  *embedding.Store
	photos database.PhotoReader
	stacks database.StackWriter

	// Progress, when set, is called after each phase with the number of
	// clusters found so far.
	Progress func(phase string, clusters int)
}

// NewGenerator creates a stack generator over the given stores
func NewGenerator(store *embedding.Store, photos database.PhotoReader, stacks database.StackWriter) *Generator {
	return &Generator{store: store, photos: photos, stacks: stacks}
}

// Regenerate clears the scope's existing stacks and rebuilds them: a
// time-window pass clusters photos shot close together, an optional global
// pass catches duplicates across dates, then each cluster is persisted with
// a deterministic representative.
func (g *Generator) Regenerate(ctx context.Context, params Params) (*Result, error) {
	params = params.withDefaults()
	ruleVersion := params.EffectiveRuleVersion()
	result := &Result{}

	if _, err := g.stacks.ClearStacks(ctx, params.ProjectID, params.StackType, ruleVersion); err != nil {
		return result, fmt.Errorf("clear existing stacks: %w", err)
	}

	photos, err := g.photos.GetProjectPhotos(ctx, params.ProjectID)
	if err != nil {
		return result, fmt.Errorf("load project photos: %w", err)
	}
	vecs, err := g.store.VectorsForProject(ctx, params.ProjectID)
	if err != nil {
		return result, fmt.Errorf("load project embeddings: %w", err)
	}

	// Only photos present in both the catalog and the embedding store can
	// be clustered.
	byID := make(map[int64]*database.Photo, len(photos))
	var encoded []*database.Photo
	for i := range photos {
		p := &photos[i]
		byID[p.ID] = p
		if len(vecs[p.ID]) > 0 {
			encoded = append(encoded, p)
		}
	}
	result.PhotosConsidered = len(encoded)
	if result.PhotosConsidered < params.MinStackSize {
		return result, nil
	}

	idx := index.Build(vecs)
	sim := func(a, b int64) float64 {
		return vectors.CosineSimilarity(idx.Vector(a), idx.Vector(b))
	}

	clusters, err := g.timeWindowPass(ctx, params, encoded, idx, sim)
	if err != nil {
		return result, err
	}
	g.report("time_window", len(clusters))

	if err := ctx.Err(); err != nil {
		return result, err
	}

	if params.GlobalPass {
		clusters = g.globalPass(params, idx, encoded, sim, clusters, result)
		g.report("global", len(clusters))
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	g.persistClusters(ctx, params, ruleVersion, clusters, byID, sim, result)
	return result, nil
}

// timeWindowPass clusters photos whose capture times fall within the window.
// Photos without a capture time are skipped here; the global pass can still
// pick them up. Seeds are visited in capture order so earlier shots anchor
// their bursts.
func (g *Generator) timeWindowPass(ctx context.Context, params Params,
	encoded []*database.Photo, idx *index.SimilarityIndex, sim simFunc) ([][]int64, error) {

	seeds := make([]*database.Photo, 0, len(encoded))
	for _, p := range encoded {
		if p.TakenAt != nil {
			seeds = append(seeds, p)
		}
	}
	sort.Slice(seeds, func(i, j int) bool {
		if !seeds[i].TakenAt.Equal(*seeds[j].TakenAt) {
			return seeds[i].TakenAt.Before(*seeds[j].TakenAt)
		}
		return seeds[i].ID < seeds[j].ID
	})

	assigned := make(map[int64]bool)
	var clusters [][]int64
	for _, seed := range seeds {
		if assigned[seed.ID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		folderID := int64(0)
		if params.SameFolderOnly {
			folderID = seed.FolderID
		}
		window, err := g.photos.GetPhotosInTimeWindow(ctx, params.ProjectID,
			seed.TakenAt.Unix(), params.TimeWindowSeconds, folderID, nil)
		if err != nil {
			return nil, fmt.Errorf("time window query for photo %d: %w", seed.ID, err)
		}

		candidates := make([]int64, 0, len(window))
		for i := range window {
			id := window[i].ID
			if id == seed.ID || assigned[id] || idx.Vector(id) == nil {
				continue
			}
			candidates = append(candidates, id)
		}

		cluster := growCluster(seed.ID, candidates, sim, params.SimilarityThreshold)
		if len(cluster) < params.MinStackSize {
			continue
		}
		for _, id := range cluster {
			assigned[id] = true
		}
		clusters = append(clusters, cluster)
	}
	return clusters, nil
}

// globalPass clusters across capture dates at the cross-date threshold. A
// global cluster that fully contains time-window clusters subsumes them into
// one stack; one that sits entirely inside a kept stack is dropped; one that
// only partially overlaps keeps the time-window grouping and sheds the
// contested photos, which is recorded as a run error.
func (g *Generator) globalPass(params Params, idx *index.SimilarityIndex, encoded []*database.Photo,
	sim simFunc, clusters [][]int64, result *Result) [][]int64 {

	allIDs := make([]int64, 0, len(encoded))
	for _, p := range encoded {
		allIDs = append(allIDs, p.ID)
	}

	clusterOf := make(map[int64]int, len(allIDs))
	for i, cluster := range clusters {
		for _, id := range cluster {
			clusterOf[id] = i
		}
	}

	merged := append([][]int64(nil), clusters...)
	subsumed := make(map[int]bool)

	// One index sweep yields every photo's above-threshold neighbors.
	// Complete linkage means a cluster can never reach beyond its seed's
	// neighbor list, so seeding from it loses nothing.
	neighbors := make(map[int64][]int64, len(allIDs))
	for id, matches := range idx.AllPairsAboveThreshold(params.CrossDateThreshold, len(allIDs)) {
		for _, m := range matches {
			neighbors[id] = append(neighbors[id], m.PhotoID)
		}
	}

	for _, global := range clusterComplete(allIDs, neighbors, sim, params.CrossDateThreshold) {
		if len(global) < params.MinStackSize {
			continue
		}

		globalSet := make(map[int64]bool, len(global))
		for _, id := range global {
			globalSet[id] = true
		}

		overlapping := make(map[int]bool)
		for _, id := range global {
			if ci, ok := clusterOf[id]; ok && !subsumed[ci] {
				overlapping[ci] = true
			}
		}

		if len(overlapping) == 0 {
			merged = append(merged, global)
			for _, id := range global {
				clusterOf[id] = len(merged) - 1
			}
			continue
		}

		contained := true
		for ci := range overlapping {
			if !containsAll(globalSet, merged[ci]) {
				contained = false
				break
			}
		}

		if contained {
			// Subsume: the union is exactly the global cluster.
			for ci := range overlapping {
				subsumed[ci] = true
			}
			merged = append(merged, global)
			for _, id := range global {
				clusterOf[id] = len(merged) - 1
			}
			continue
		}

		free := make([]int64, 0, len(global))
		for _, id := range global {
			if _, ok := clusterOf[id]; !ok {
				free = append(free, id)
			}
		}

		// A global cluster lying wholly inside one kept stack adds
		// nothing; with a cross-date threshold above the similarity
		// threshold that happens on every tight burst.
		if len(free) == 0 && len(overlapping) == 1 {
			continue
		}

		// Partial overlap. The time-window grouping wins; only the
		// still-free photos may form a new cross-date stack.
		result.Errors = append(result.Errors, fmt.Sprintf(
			"global cluster of %d photos partially overlaps a time-window stack, kept the time-window grouping", len(global)))
		if len(free) >= params.MinStackSize {
			merged = append(merged, free)
			for _, id := range free {
				clusterOf[id] = len(merged) - 1
			}
		}
	}

	final := make([][]int64, 0, len(merged))
	for i, cluster := range merged {
		if !subsumed[i] {
			final = append(final, cluster)
		}
	}
	return final
}

// persistClusters writes each cluster as a stack. The representative gets
// rank 0 with similarity 1.0; the others are ranked by similarity to it.
func (g *Generator) persistClusters(ctx context.Context, params Params, ruleVersion string,
	clusters [][]int64, byID map[int64]*database.Photo, sim simFunc, result *Result) {

	for _, cluster := range clusters {
		members := make([]*database.Photo, 0, len(cluster))
		for _, id := range cluster {
			if p, ok := byID[id]; ok {
				members = append(members, p)
			}
		}
		rep := SelectRepresentative(members)
		if rep == nil {
			result.Errors = append(result.Errors, fmt.Sprintf(
				"cluster %v has no catalog records, skipped", cluster))
			continue
		}

		stackMembers := make([]database.StackMember, 0, len(cluster))
		for _, id := range cluster {
			score := 1.0
			if id != rep.ID {
				score = sim(rep.ID, id)
			}
			stackMembers = append(stackMembers, database.StackMember{
				PhotoID:         id,
				SimilarityScore: score,
			})
		}
		sort.Slice(stackMembers, func(i, j int) bool {
			if stackMembers[i].SimilarityScore != stackMembers[j].SimilarityScore {
				return stackMembers[i].SimilarityScore > stackMembers[j].SimilarityScore
			}
			return stackMembers[i].PhotoID < stackMembers[j].PhotoID
		})
		for i := range stackMembers {
			rank := i
			stackMembers[i].Rank = &rank
		}

		repID := rep.ID
		stack := &database.Stack{
			ProjectID:             params.ProjectID,
			Type:                  params.StackType,
			RepresentativePhotoID: &repID,
			RuleVersion:           ruleVersion,
			CreatedBy:             params.CreatedBy,
			Members:               stackMembers,
		}
		if _, err := g.stacks.CreateStack(ctx, stack); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf(
				"persist stack for photo %d: %v", rep.ID, err))
			continue
		}
		result.StacksCreated++
		result.MembershipsCreated += len(stackMembers)
	}
}

func (g *Generator) report(phase string, clusters int) {
	if g.Progress != nil {
		g.Progress(phase, clusters)
	}
}
