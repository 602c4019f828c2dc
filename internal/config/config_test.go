package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("ENCODER_URL")
	os.Unsetenv("ENCODER_MODEL")
	os.Unsetenv("ENCODER_DIM")
	os.Unsetenv("DATABASE_MAX_OPEN_CONNS")

	cfg := Load()

	if cfg.Encoder.URL != "http://localhost:8000" {
		t.Errorf("expected default encoder URL, got '%s'", cfg.Encoder.URL)
	}
	if cfg.Encoder.Model != "clip-vit-b32" {
		t.Errorf("expected default model, got '%s'", cfg.Encoder.Model)
	}
	if cfg.Encoder.Dim != 512 {
		t.Errorf("expected default dim 512, got %d", cfg.Encoder.Dim)
	}
	if cfg.Database.MaxOpenConns != 25 {
		t.Errorf("expected default max open conns 25, got %d", cfg.Database.MaxOpenConns)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://test@localhost/test")
	t.Setenv("CATALOG_DATABASE_URL", "catalog:catalog@tcp(localhost:3306)/catalog")
	t.Setenv("ENCODER_DIM", "768")

	cfg := Load()

	if cfg.Database.URL != "postgres://test@localhost/test" {
		t.Errorf("unexpected database URL '%s'", cfg.Database.URL)
	}
	if cfg.Catalog.DatabaseURL != "catalog:catalog@tcp(localhost:3306)/catalog" {
		t.Errorf("unexpected catalog DSN '%s'", cfg.Catalog.DatabaseURL)
	}
	if cfg.Encoder.Dim != 768 {
		t.Errorf("expected dim 768, got %d", cfg.Encoder.Dim)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("ENCODER_DIM", "not-a-number")
	cfg := Load()
	if cfg.Encoder.Dim != 512 {
		t.Errorf("expected fallback to default on invalid value, got %d", cfg.Encoder.Dim)
	}

	t.Setenv("ENCODER_DIM", "-5")
	cfg = Load()
	if cfg.Encoder.Dim != 512 {
		t.Errorf("expected fallback to default on negative value, got %d", cfg.Encoder.Dim)
	}
}

func TestStackRulesEmbedded(t *testing.T) {
	cfg := Load()

	tests := []struct {
		stackType string
		window    int
		threshold float64
		minSize   int
	}{
		{"similar", 300, 0.85, 3},
		{"duplicate", 300, 0.97, 2},
		{"near_duplicate", 300, 0.92, 2},
		{"burst", 60, 0.85, 3},
	}

	for _, tt := range tests {
		t.Run(tt.stackType, func(t *testing.T) {
			rule := cfg.StackRules.RuleFor(tt.stackType)
			if rule.TimeWindowSeconds != tt.window {
				t.Errorf("expected window %d, got %d", tt.window, rule.TimeWindowSeconds)
			}
			if rule.SimilarityThreshold != tt.threshold {
				t.Errorf("expected threshold %v, got %v", tt.threshold, rule.SimilarityThreshold)
			}
			if rule.MinStackSize != tt.minSize {
				t.Errorf("expected min size %d, got %d", tt.minSize, rule.MinStackSize)
			}
		})
	}
}

func TestStackRulesBurstConstraints(t *testing.T) {
	cfg := Load()

	burst := cfg.StackRules.RuleFor("burst")
	if !burst.SameFolderOnly {
		t.Error("burst rule should be same-folder only")
	}
	if burst.GlobalPass {
		t.Error("burst rule should not run the global pass")
	}

	similar := cfg.StackRules.RuleFor("similar")
	if !similar.GlobalPass {
		t.Error("similar rule should run the global pass")
	}
}

func TestRuleForUnknownType(t *testing.T) {
	cfg := Load()
	rule := cfg.StackRules.RuleFor("nonsense")
	if rule.SimilarityThreshold != 0.85 {
		t.Errorf("unknown type should fall back to similar rule, got threshold %v", rule.SimilarityThreshold)
	}
}
