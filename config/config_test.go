package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/caarlos0/env/v10"
	"github.com/poiesic/chunkstream/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunkstream.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Precedence(t *testing.T) {
	path := writeConfig(t, `
data_dir = "/var/lib/chunkstream"
chunk_size = 2000
overlap_size = 100
vector_backend = "chromem"
`)
	cfg, err := load(path, env.Options{
		Prefix: EnvPrefix,
		Environment: map[string]string{
			"CHUNKSTREAM_CHUNK_SIZE":        "3000",
			"CHUNKSTREAM_EMBEDDING_ENABLED": "false",
			"OTHER_CHUNK_SIZE":              "1",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/chunkstream", cfg.DataDir, "file overrides default")
	assert.Equal(t, 3000, cfg.ChunkSize, "environment overrides file")
	assert.Equal(t, 100, cfg.OverlapSize)
	assert.Equal(t, BackendChromem, cfg.VectorBackend)
	assert.False(t, cfg.EmbeddingEnabled)
	assert.Equal(t, 100, cfg.BatchSize, "untouched fields keep defaults")
	assert.Equal(t, "/var/lib/chunkstream/content", cfg.ContentPath())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := load(filepath.Join(t.TempDir(), "absent.toml"), env.Options{Environment: map[string]string{}})
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		env  map[string]string
	}{
		{"bad toml", "chunk_size = [", nil},
		{"bad env value", "", map[string]string{"CHUNKSTREAM_CHUNK_SIZE": "big"}},
		{"overlap too large", "chunk_size = 100\noverlap_size = 50\n", nil},
		{"unknown backend", `vector_backend = "qdrant"`, nil},
		{"zero batch", "batch_size = 0", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.file != "" {
				path = writeConfig(t, tt.file)
			}
			environ := tt.env
			if environ == nil {
				environ = map[string]string{}
			}
			_, err := load(path, env.Options{Prefix: EnvPrefix, Environment: environ})
			assert.Error(t, err)
		})
	}
}

func TestValidate_ChunkingRules(t *testing.T) {
	cfg := Default()
	cfg.MaxChunkSize = cfg.ChunkSize - 1
	assert.ErrorIs(t, cfg.Validate(), core.ErrInvalidChunkingOptions)
}

func TestWriteRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.EmbeddingHost = "http://localhost:11434"
	cfg.InboxDir = "/srv/inbox"

	var buf bytes.Buffer
	require.NoError(t, cfg.Write(&buf))

	path := writeConfig(t, buf.String())
	got, err := load(path, env.Options{Environment: map[string]string{}})
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestAIConfig(t *testing.T) {
	cfg := Default()
	cfg.EmbeddingHost = "http://localhost:11434"
	ac := cfg.AIConfig()
	require.NoError(t, ac.Validate())
	assert.Equal(t, "http://localhost:11434/v1", ac.EmbeddingHost)
	assert.Equal(t, cfg.Dimensions, ac.Dimensions)
}
