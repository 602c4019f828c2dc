package config

import (
	_ "embed"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed stackrules.yaml
var stackRulesYAML []byte

type Config struct {
	Database   DatabaseConfig
	Catalog    CatalogConfig
	Encoder    EncoderConfig
	OpenAI     OpenAIConfig
	Gemini     GeminiConfig
	StackRules StackRulesConfig
	Web        WebConfig
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type CatalogConfig struct {
	// MariaDB DSN of the photo catalog (e.g., catalog:catalog@tcp(mariadb:3306)/catalog?parseTime=true)
	DatabaseURL string
}

type EncoderConfig struct {
	URL       string // CLIP sidecar URL, defaults to http://localhost:8000
	Model     string // defaults to clip-vit-b32
	Dim       int    // defaults to 512
	BatchSize int    // initial encoding batch size, defaults to 32
}

type OpenAIConfig struct {
	Token string
}

type GeminiConfig struct {
	APIKey string
}

type WebConfig struct {
	Port int // defaults to 8080
}

// StackRulesConfig holds per-stack-type clustering defaults from the
// embedded stackrules.yaml.
type StackRulesConfig struct {
	Rules map[string]StackRule `yaml:"rules"`
}

type StackRule struct {
	TimeWindowSeconds   int     `yaml:"time_window_seconds"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MinStackSize        int     `yaml:"min_stack_size"`
	SameFolderOnly      bool    `yaml:"same_folder_only"`
	GlobalPass          bool    `yaml:"global_pass"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envString reads an environment variable with a fallback default.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	var rules StackRulesConfig
	if err := yaml.Unmarshal(stackRulesYAML, &rules); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded stackrules.yaml: " + err.Error())
	}

	return &Config{
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Catalog: CatalogConfig{
			DatabaseURL: os.Getenv("CATALOG_DATABASE_URL"),
		},
		Encoder: EncoderConfig{
			URL:       envString("ENCODER_URL", "http://localhost:8000"),
			Model:     envString("ENCODER_MODEL", "clip-vit-b32"),
			Dim:       envInt("ENCODER_DIM", 512),
			BatchSize: envInt("ENCODER_BATCH_SIZE", 32),
		},
		OpenAI: OpenAIConfig{
			Token: os.Getenv("OPENAI_TOKEN"),
		},
		Gemini: GeminiConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
		},
		Web: WebConfig{
			Port: envInt("WEB_PORT", 8080),
		},
		StackRules: rules,
	}
}

// RuleFor returns the clustering defaults for a stack type, falling back to
// the "similar" rule for unknown types.
func (c *StackRulesConfig) RuleFor(stackType string) StackRule {
	if rule, ok := c.Rules[stackType]; ok {
		return rule
	}
	return c.Rules["similar"]
}
