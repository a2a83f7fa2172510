package config

import "testing"

func validConfig() Config {
	return Config{
		HTTP: HTTPConfig{Port: 8080},
		Database: DatabaseConfig{
			Driver: "redis",
			Addrs:  []string{"localhost:6379"},
		},
		Embedding: EmbeddingConfig{APIKey: "test-key"},
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
	cfg.Database.Addrs = nil

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing redis addrs")
	}
}

func TestValidate_MemoryDriverNeedsNoAddrs(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Driver = "memory"
	cfg.Database.Addrs = nil

	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Driver = "sqlite"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestValidate_MissingAPIKey(t *testing.T) {
	cfg := validConfig()
	cfg.Embedding.APIKey = ""

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing embedding api key")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 10 {
		t.Errorf("expected ReadTimeoutSec=10, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.Database.Driver != "redis" {
		t.Errorf("expected Driver=redis, got %q", cfg.Database.Driver)
	}
	if cfg.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("expected default model, got %q", cfg.Embedding.Model)
	}
	if cfg.Embedding.Dimensions != 768 {
		t.Errorf("expected Dimensions=768, got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Chunking.ParentSize != 800 {
		t.Errorf("expected ParentSize=800, got %d", cfg.Chunking.ParentSize)
	}
	if cfg.Chunking.ChildSize != 400 {
		t.Errorf("expected ChildSize=400, got %d", cfg.Chunking.ChildSize)
	}
	if cfg.Chunking.Overlap != 50 {
		t.Errorf("expected Overlap=50, got %d", cfg.Chunking.Overlap)
	}
	if cfg.Chunking.NewsMinSize != 150 || cfg.Chunking.NewsMaxSize != 300 {
		t.Errorf("expected news band [150,300], got [%d,%d]", cfg.Chunking.NewsMinSize, cfg.Chunking.NewsMaxSize)
	}
	if cfg.Retrieval.ParentFanout != 5 || cfg.Retrieval.ChildPerParent != 3 {
		t.Errorf("expected fanout 5/3, got %d/%d", cfg.Retrieval.ParentFanout, cfg.Retrieval.ChildPerParent)
	}
	if cfg.Retrieval.DefaultTopK != 10 {
		t.Errorf("expected DefaultTopK=10, got %d", cfg.Retrieval.DefaultTopK)
	}
}

func TestApplyDefaults_NoOverride(t *testing.T) {
	cfg := Config{
		HTTP:      HTTPConfig{ReadTimeoutSec: 30, WriteTimeoutSec: 120, ShutdownSec: 5},
		Database:  DatabaseConfig{Driver: "memory", ReadinessTimeout: 15},
		Chunking:  ChunkingConfig{ParentSize: 1000, ChildSize: 500, Overlap: 100},
		Retrieval: RetrievalConfig{ParentFanout: 8, ChildPerParent: 4},
	}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 30 {
		t.Errorf("expected ReadTimeoutSec=30, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("expected Driver=memory, got %q", cfg.Database.Driver)
	}
	if cfg.Chunking.ParentSize != 1000 {
		t.Errorf("expected ParentSize=1000, got %d", cfg.Chunking.ParentSize)
	}
	if cfg.Retrieval.ParentFanout != 8 {
		t.Errorf("expected ParentFanout=8, got %d", cfg.Retrieval.ParentFanout)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FILINGRAG_TEST_KEY", "secret")

	out := string(expandEnvVars([]byte("api_key: ${FILINGRAG_TEST_KEY}")))
	if out != "api_key: secret" {
		t.Errorf("expansion: got %q", out)
	}

	out = string(expandEnvVars([]byte("port: ${FILINGRAG_UNSET_VAR:-8080}")))
	if out != "port: 8080" {
		t.Errorf("default expansion: got %q", out)
	}
}
