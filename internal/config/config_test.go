package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() Config {
	cfg := Config{
		HTTP: HTTPConfig{Port: 8080},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{HTTP: HTTPConfig{Port: 8080}}
	cfg.ApplyDefaults()

	if cfg.RateLimit.RequestsPerMinute != 100 {
		t.Errorf("rate limit default: got %d, want 100", cfg.RateLimit.RequestsPerMinute)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.Model != "gpt-4" {
		t.Errorf("llm defaults: got %s/%s", cfg.LLM.Provider, cfg.LLM.Model)
	}
	if cfg.Embeddings.BatchSize != 100 || cfg.Embeddings.BatchDelayMs != 100 {
		t.Errorf("embeddings batch defaults: got %d/%d", cfg.Embeddings.BatchSize, cfg.Embeddings.BatchDelayMs)
	}
	if cfg.VectorStore.Provider != "memory" || cfg.VectorStore.Dimensions != 1536 {
		t.Errorf("vectorstore defaults: got %s/%d", cfg.VectorStore.Provider, cfg.VectorStore.Dimensions)
	}
	if cfg.Retrieval.Strategy != "similarity" || cfg.Retrieval.TopK != 5 {
		t.Errorf("retrieval defaults: got %s/%d", cfg.Retrieval.Strategy, cfg.Retrieval.TopK)
	}
	if cfg.Chat.Service != "default" || cfg.Chat.HistoryLimit != 50 {
		t.Errorf("chat defaults: got %s/%d", cfg.Chat.Service, cfg.Chat.HistoryLimit)
	}
}

func TestValidate_Valid(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidate_MissingRedisAddrs(t *testing.T) {
	cfg := validConfig()
	cfg.VectorStore.Provider = "redis"
	cfg.VectorStore.Addrs = nil

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for redis provider without addrs")
	}
}

func TestValidate_InvalidMetric(t *testing.T) {
	cfg := validConfig()
	cfg.VectorStore.Metric = "euclidean"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for unsupported metric")
	}

	expected := `vectorstore.metric must be "cosine" or "dot", got "euclidean"`
	if err.Error() != expected {
		t.Errorf("unexpected error message:\ngot:  %q\nwant: %q", err.Error(), expected)
	}
}

func TestValidate_TemperatureRange(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.Temperature = 2.5

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for temperature above 2")
	}
}

func TestValidate_MinScoreRange(t *testing.T) {
	cfg := validConfig()
	cfg.Retrieval.MinScore = 1.5

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for min_score above 1")
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("RAGD_TEST_VAR", "from-env")

	cases := []struct {
		in   string
		want string
	}{
		{"value: ${RAGD_TEST_VAR}", "value: from-env"},
		{"value: ${RAGD_UNSET_VAR:-fallback}", "value: fallback"},
		{"value: ${RAGD_TEST_VAR:-fallback}", "value: from-env"},
		{"value: ${RAGD_UNSET_VAR}", "value: "},
		{"value: plain", "value: plain"},
	}
	for _, tc := range cases {
		if got := string(expandEnvVars([]byte(tc.in))); got != tc.want {
			t.Errorf("expand %q: got %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatal(err)
	}
	yaml := `
http:
  port: 9090
vectorstore:
  provider: memory
  metric: dot
`
	if err := os.WriteFile(filepath.Join(dir, "config", "test.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("test")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.HTTP.Port != 9090 {
		t.Errorf("port: got %d, want 9090", cfg.HTTP.Port)
	}
	if cfg.VectorStore.Metric != "dot" {
		t.Errorf("metric: got %q, want dot", cfg.VectorStore.Metric)
	}
	// Defaults must still be filled for untouched sections.
	if cfg.Chat.HistoryLimit != 50 {
		t.Errorf("chat history default: got %d, want 50", cfg.Chat.HistoryLimit)
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("ENV", "")
	if got := GetEnv(); got != "local" {
		t.Errorf("default env: got %q, want local", got)
	}

	t.Setenv("ENV", "prod")
	if got := GetEnv(); got != "prod" {
		t.Errorf("env: got %q, want prod", got)
	}
}
