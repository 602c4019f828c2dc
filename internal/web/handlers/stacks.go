package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/photostacks/photostacks/internal/config"
	"github.com/photostacks/photostacks/internal/database"
	"github.com/photostacks/photostacks/internal/embedding"
	"github.com/photostacks/photostacks/internal/stacker"
)

// StacksHandler handles stack generation and listing endpoints
type StacksHandler struct {
	store      *embedding.Store
	photos     database.PhotoReader
	stacks     database.StackWriter
	rules      *config.StackRulesConfig
	jobManager *JobManager
}

// NewStacksHandler creates a new stacks handler
func NewStacksHandler(store *embedding.Store, photos database.PhotoReader,
	stacks database.StackWriter, rules *config.StackRulesConfig, jm *JobManager) *StacksHandler {
	return &StacksHandler{
		store:      store,
		photos:     photos,
		stacks:     stacks,
		rules:      rules,
		jobManager: jm,
	}
}

// GenerateRequest represents a stack generation request. Zero-valued fields
// fall back to the configured rule for the stack type.
type GenerateRequest struct {
	Type                string  `json:"type"`
	RuleVersion         string  `json:"rule_version"`
	TimeWindowSeconds   int     `json:"time_window_seconds"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	CrossDateThreshold  float64 `json:"cross_date_threshold"`
	MinStackSize        int     `json:"min_stack_size"`
}

// buildParams merges the request over the configured rule defaults.
func (h *StacksHandler) buildParams(projectID int64, req GenerateRequest) stacker.Params {
	stackType := database.StackType(req.Type)
	if req.Type == "" {
		stackType = database.StackTypeSimilar
	}

	params := stacker.ParamsFromRule(projectID, stackType, h.rules.RuleFor(string(stackType)))
	params.RuleVersion = req.RuleVersion
	params.CreatedBy = "api"
	if req.TimeWindowSeconds > 0 {
		params.TimeWindowSeconds = req.TimeWindowSeconds
	}
	if req.SimilarityThreshold > 0 {
		params.SimilarityThreshold = req.SimilarityThreshold
	}
	if req.CrossDateThreshold > 0 {
		params.CrossDateThreshold = req.CrossDateThreshold
	}
	if req.MinStackSize > 0 {
		params.MinStackSize = req.MinStackSize
	}
	return params
}

// Generate starts an async stack generation job for a project
func (h *StacksHandler) Generate(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}

	var req GenerateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return
		}
	}
	if req.Type != "" && !database.StackType(req.Type).Valid() {
		respondError(w, http.StatusBadRequest, "unknown stack type")
		return
	}

	params := h.buildParams(projectID, req)

	jobID := uuid.New().String()
	job := h.jobManager.CreateJob(jobID, projectID, string(params.StackType), params.EffectiveRuleVersion())

	// Detach from the request context; the job outlives the request.
	ctx, cancel := context.WithCancel(context.Background())
	job.SetRunning(cancel)

	go func() {
		defer cancel()

		gen := stacker.NewGenerator(h.store, h.photos, h.stacks)
		gen.Progress = func(phase string, clusters int) {
			job.SendEvent(JobEvent{
				Type:    "progress",
				Message: phase,
				Data:    map[string]int{"clusters": clusters},
			})
		}

		result, err := gen.Regenerate(ctx, params)
		if err != nil {
			log.Printf("Stack generation job %s failed: %v", jobID, err)
			job.Fail(err, result)
			return
		}
		job.Complete(result)
	}()

	respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id":       jobID,
		"rule_version": params.EffectiveRuleVersion(),
	})
}

// List returns the project's stacks, optionally filtered by ?type=
func (h *StacksHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}

	stackType := database.StackType(r.URL.Query().Get("type"))
	if stackType != "" && !stackType.Valid() {
		respondError(w, http.StatusBadRequest, "unknown stack type")
		return
	}

	stacks, err := h.stacks.ListStacks(r.Context(), projectID, stackType)
	if err != nil {
		log.Printf("Listing stacks for project %d: %v", projectID, err)
		respondError(w, http.StatusInternalServerError, "failed to list stacks")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"stacks": toStackResponses(stacks),
		"count":  len(stacks),
	})
}

// Clear deletes the project's stacks for the given type and rule version
func (h *StacksHandler) Clear(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	stackType := database.StackType(q.Get("type"))
	if !stackType.Valid() {
		respondError(w, http.StatusBadRequest, "type query parameter is required")
		return
	}
	ruleVersion := q.Get("rule_version")
	if ruleVersion == "" {
		rule := h.rules.RuleFor(string(stackType))
		ruleVersion = stacker.ParamsFromRule(projectID, stackType, rule).EffectiveRuleVersion()
	}

	deleted, err := h.stacks.ClearStacks(r.Context(), projectID, stackType, ruleVersion)
	if err != nil {
		log.Printf("Clearing stacks for project %d: %v", projectID, err)
		respondError(w, http.StatusInternalServerError, "failed to clear stacks")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"deleted":      deleted,
		"rule_version": ruleVersion,
	})
}

// Status returns the current state of a generation job
func (h *StacksHandler) Status(w http.ResponseWriter, r *http.Request) {
	job := h.jobManager.GetJob(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// Events streams job progress via SSE
func (h *StacksHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r,
		func(id string) SSEJob {
			if job := h.jobManager.GetJob(id); job != nil {
				return job
			}
			return nil
		},
		func(job SSEJob) any { return job })
}

// CancelJob cancels a running generation job
func (h *StacksHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	job := h.jobManager.GetJob(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if isJobTerminal(job.GetStatus()) {
		respondError(w, http.StatusConflict, "job already finished")
		return
	}
	job.Cancel()
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// StackResponse is the wire shape of one stack.
type StackResponse struct {
	ID                    int64                 `json:"id"`
	ProjectID             int64                 `json:"project_id"`
	Type                  string                `json:"type"`
	RepresentativePhotoID *int64                `json:"representative_photo_id"`
	RuleVersion           string                `json:"rule_version"`
	CreatedBy             string                `json:"created_by"`
	CreatedAt             string                `json:"created_at"`
	Members               []StackMemberResponse `json:"members"`
}

// StackMemberResponse is the wire shape of one stack member.
type StackMemberResponse struct {
	PhotoID         int64   `json:"photo_id"`
	SimilarityScore float64 `json:"similarity_score"`
	Rank            *int    `json:"rank,omitempty"`
}

func toStackResponses(stacks []database.Stack) []StackResponse {
	out := make([]StackResponse, 0, len(stacks))
	for _, s := range stacks {
		members := make([]StackMemberResponse, 0, len(s.Members))
		for _, m := range s.Members {
			members = append(members, StackMemberResponse{
				PhotoID:         m.PhotoID,
				SimilarityScore: m.SimilarityScore,
				Rank:            m.Rank,
			})
		}
		out = append(out, StackResponse{
			ID:                    s.ID,
			ProjectID:             s.ProjectID,
			Type:                  string(s.Type),
			RepresentativePhotoID: s.RepresentativePhotoID,
			RuleVersion:           s.RuleVersion,
			CreatedBy:             s.CreatedBy,
			CreatedAt:             s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			Members:               members,
		})
	}
	return out
}
