package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("ShouldApplyDefaults", func(t *testing.T) {
		cfg, err := load(viper.New())
		require.NoError(t, err)
		assert.Equal(t, 150, cfg.Chunking.Size)
		assert.Equal(t, 30, cfg.Chunking.Overlap)
		assert.Equal(t, 768, cfg.Index.Dimension)
		assert.Equal(t, "cosine", cfg.Index.Metric)
		assert.Equal(t, 10, cfg.Retrieval.K)
		assert.InDelta(t, 0.9, cfg.Access.Threshold, 1e-9)
		assert.Empty(t, cfg.Source.LocalRoot)
	})

	t.Run("ShouldReadLocalSourceRoot", func(t *testing.T) {
		t.Setenv("LOCAL_SOURCE_ROOT", "/srv/transcripts")
		cfg, err := load(viper.New())
		require.NoError(t, err)
		assert.Equal(t, "/srv/transcripts", cfg.Source.LocalRoot)
	})

	t.Run("ShouldReadUnprefixedEnvKeys", func(t *testing.T) {
		t.Setenv("INDEX_NAME", "chats-uat")
		t.Setenv("EMBEDDING_DIMENSION", "1024")
		t.Setenv("CHAT_ENGINE", "chatgpt")
		t.Setenv("CHAT_USER", "alice")
		t.Setenv("METRIC", "dot")
		t.Setenv("CHUNK_SIZE", "400")
		t.Setenv("CHUNK_OVERLAP", "40")
		cfg, err := load(viper.New())
		require.NoError(t, err)
		assert.Equal(t, "chats-uat", cfg.Index.Name)
		assert.Equal(t, 1024, cfg.Index.Dimension)
		assert.Equal(t, "chatgpt", cfg.Chat.DefaultEngine)
		assert.Equal(t, "alice", cfg.Chat.DefaultUser)
		assert.Equal(t, "dot", cfg.Index.Metric)
		assert.Equal(t, 400, cfg.Chunking.Size)
		assert.Equal(t, 40, cfg.Chunking.Overlap)
	})

	t.Run("ShouldFallBackToLegacyIndexVariable", func(t *testing.T) {
		t.Setenv("PINECONE_INDEX", "legacy-index")
		cfg, err := load(viper.New())
		require.NoError(t, err)
		assert.Equal(t, "legacy-index", cfg.Index.Name)
	})

	t.Run("ShouldReadPrefixedEnvKeys", func(t *testing.T) {
		t.Setenv("CHATRAG_SERVER_PORT", "9090")
		cfg, err := load(viper.New())
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Server.Port)
	})

	t.Run("ShouldRejectOverlapNotSmallerThanSize", func(t *testing.T) {
		t.Setenv("CHUNK_SIZE", "50")
		t.Setenv("CHUNK_OVERLAP", "50")
		_, err := load(viper.New())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be smaller than chunk size")
	})

	t.Run("ShouldRejectUnknownBackend", func(t *testing.T) {
		t.Setenv("VECTOR_BACKEND", "pinecone")
		_, err := load(viper.New())
		require.Error(t, err)
	})
}
