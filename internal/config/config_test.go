package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	// Save original env and restore after test
	originalEnv := os.Environ()
	defer func() {
		os.Clearenv()
		for _, env := range originalEnv {
			for i, c := range env {
				if c == '=' {
					os.Setenv(env[:i], env[i+1:])
					break
				}
			}
		}
	}()

	os.Clearenv()

	cfg := Load()

	tests := []struct {
		name     string
		got      interface{}
		expected interface{}
	}{
		{"Port", cfg.Port, 8080},
		{"LogLevel", cfg.LogLevel, "info"},
		{"MaxUploadSize", cfg.MaxUploadSize, int64(10 * 1024 * 1024)},
		{"UploadDir", cfg.UploadDir, "uploads"},
		{"ChunkSize", cfg.ChunkSize, 1000},
		{"ChunkOverlap", cfg.ChunkOverlap, 200},
		{"VectorDim", cfg.VectorDim, 768},
		{"DefaultTopK", cfg.DefaultTopK, 5},
		{"SimilarityThreshold", cfg.SimilarityThreshold, 0.7},
		{"RegistryProvider", cfg.RegistryProvider, "memory"},
		{"CacheProvider", cfg.CacheProvider, "noop"},
		{"QueueProvider", cfg.QueueProvider, "inproc"},
		{"EmbedderProvider", cfg.EmbedderProvider, "hash"},
		{"EmbeddingModel", cfg.EmbeddingModel, "text-embedding-3-small"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("expected %s=%v, got %v", tt.name, tt.expected, tt.got)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	originalPort := os.Getenv("PORT")
	originalChunk := os.Getenv("CHUNK_SIZE")
	defer func() {
		os.Setenv("PORT", originalPort)
		os.Setenv("CHUNK_SIZE", originalChunk)
	}()

	os.Setenv("PORT", "9090")
	os.Setenv("CHUNK_SIZE", "512")

	cfg := Load()

	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.ChunkSize != 512 {
		t.Errorf("expected chunk size 512, got %d", cfg.ChunkSize)
	}
}

func TestLoadProviderOverrides(t *testing.T) {
	originalEmbedder := os.Getenv("EMBEDDER_PROVIDER")
	originalRegistry := os.Getenv("REGISTRY_PROVIDER")
	defer func() {
		os.Setenv("EMBEDDER_PROVIDER", originalEmbedder)
		os.Setenv("REGISTRY_PROVIDER", originalRegistry)
	}()

	os.Setenv("EMBEDDER_PROVIDER", "openai")
	os.Setenv("REGISTRY_PROVIDER", "postgres")

	cfg := Load()

	if cfg.EmbedderProvider != "openai" {
		t.Errorf("expected embedder provider 'openai', got %s", cfg.EmbedderProvider)
	}
	if cfg.RegistryProvider != "postgres" {
		t.Errorf("expected registry provider 'postgres', got %s", cfg.RegistryProvider)
	}
}
