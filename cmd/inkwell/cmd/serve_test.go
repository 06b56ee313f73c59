package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-dev/inkwell/internal/config"
)

func TestNewGenerator(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Vault.Path = t.TempDir()
	cfg.Generation.APIKey = "sk-test"
	cfg.Generation.Temperature = 0.4

	client, err := newGenerator(&stack{cfg: cfg})
	require.NoError(t, err)
	assert.Equal(t, cfg.Generation.Model, client.ModelName())
}

func TestNewGenerator_MissingAPIKey(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Vault.Path = t.TempDir()

	_, err := newGenerator(&stack{cfg: cfg})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generation.api_key")
}

func TestNewReranker_NoEndpoint(t *testing.T) {
	cfg := config.NewConfig()
	assert.Nil(t, newReranker(&stack{cfg: cfg}))

	cfg.Search.RerankEndpoint = "http://localhost:9659"
	assert.NotNil(t, newReranker(&stack{cfg: cfg}))
}
