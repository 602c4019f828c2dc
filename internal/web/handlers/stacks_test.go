package handlers

import (
	"net/http"
	"testing"
)

func TestGenerateCreatesStacks(t *testing.T) {
	env := newTestEnv(t)
	// Three near-identical shots seconds apart, one unrelated.
	env.addPhoto(1, 7, 0, 0)
	env.addPhoto(2, 7, 0.05, 2)
	env.addPhoto(3, 7, 0.1, 4)
	env.addPhoto(4, 7, 1.5, 6)

	rec, body := env.do(t, http.MethodPost, "/api/v1/projects/7/stacks/generate",
		map[string]any{"type": "similar"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %v", rec.Code, body)
	}
	jobID, _ := body["job_id"].(string)
	if jobID == "" {
		t.Fatal("Response has no job_id")
	}

	job := env.waitForJob(t, jobID)
	if job["status"] != string(JobStatusCompleted) {
		t.Fatalf("Expected completed job, got %v (error: %v)", job["status"], job["error"])
	}
	result, _ := job["result"].(map[string]any)
	if result == nil {
		t.Fatal("Completed job has no result")
	}
	if got := result["stacks_created"]; got != float64(1) {
		t.Errorf("Expected 1 stack created, got %v", got)
	}

	rec, body = env.do(t, http.MethodGet, "/api/v1/projects/7/stacks", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("List returned %d", rec.Code)
	}
	if body["count"] != float64(1) {
		t.Errorf("Expected 1 listed stack, got %v", body["count"])
	}
}

func TestGenerateRejectsUnknownType(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/api/v1/projects/7/stacks/generate",
		map[string]any{"type": "panorama"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown stack type, got %d", rec.Code)
	}
}

func TestGenerateRejectsInvalidProjectID(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/api/v1/projects/abc/stacks/generate", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid project ID, got %d", rec.Code)
	}
}

func TestClearRequiresType(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodDelete, "/api/v1/projects/7/stacks", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without type parameter, got %d", rec.Code)
	}
}

func TestClearDeletesGeneratedStacks(t *testing.T) {
	env := newTestEnv(t)
	env.addPhoto(1, 7, 0, 0)
	env.addPhoto(2, 7, 0.05, 2)
	env.addPhoto(3, 7, 0.1, 4)

	rec, body := env.do(t, http.MethodPost, "/api/v1/projects/7/stacks/generate",
		map[string]any{"type": "similar"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Generate returned %d", rec.Code)
	}
	env.waitForJob(t, body["job_id"].(string))

	rec, body = env.do(t, http.MethodDelete, "/api/v1/projects/7/stacks?type=similar", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Clear returned %d", rec.Code)
	}
	if body["deleted"] != float64(1) {
		t.Errorf("Expected 1 deleted stack, got %v", body["deleted"])
	}

	_, body = env.do(t, http.MethodGet, "/api/v1/projects/7/stacks", nil)
	if body["count"] != float64(0) {
		t.Errorf("Expected 0 stacks after clear, got %v", body["count"])
	}
}

func TestListRejectsUnknownType(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodGet, "/api/v1/projects/7/stacks?type=panorama", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown type filter, got %d", rec.Code)
	}
}

func TestJobNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodGet, "/api/v1/jobs/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown job, got %d", rec.Code)
	}

	rec, _ = env.do(t, http.MethodDelete, "/api/v1/jobs/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 cancelling unknown job, got %d", rec.Code)
	}
}

func TestCancelFinishedJobConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.addPhoto(1, 7, 0, 0)
	env.addPhoto(2, 7, 0.05, 2)
	env.addPhoto(3, 7, 0.1, 4)

	_, body := env.do(t, http.MethodPost, "/api/v1/projects/7/stacks/generate",
		map[string]any{"type": "similar"})
	jobID := body["job_id"].(string)
	env.waitForJob(t, jobID)

	rec, _ := env.do(t, http.MethodDelete, "/api/v1/jobs/"+jobID, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 cancelling a finished job, got %d", rec.Code)
	}
}
