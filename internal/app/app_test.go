package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/ai-analytics/internal/config"
	"gorm.io/gorm"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		DBType:           "MySQL",
		SessionBackend:   "bolt",
		BoltPath:         filepath.Join(t.TempDir(), "sessions.db"),
		Session:          config.DefaultSessionConfig(),
		AIProvider:       "openrouter",
		SummaryProvider:  "ollama",
		OpenRouterAPIKey: "k",
		OpenRouterModel:  "openrouter/auto",
		OllamaBaseURL:    "http://localhost:11434",
		OllamaModel:      "llama3:latest",
	}
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry(testConfig(t))
	assert.Equal(t, []string{"gemini", "ollama", "openrouter"}, reg.Names())

	_, err := reg.GetToolProvider(context.Background(), "ollama", "")
	assert.Error(t, err, "ollama has no tool calling")

	_, err = reg.Get(context.Background(), "gemini", "")
	assert.Error(t, err, "gemini needs an api key")
}

func TestOpenSessionBackend(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	b, closeFn, err := OpenSessionBackend(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, b)
	require.NoError(t, closeFn())

	mr := miniredis.RunT(t)
	cfg.SessionBackend = "redis"
	cfg.RedisAddr = mr.Addr()
	_, closeFn, err = OpenSessionBackend(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, closeFn())

	cfg.SessionBackend = "memcached"
	_, _, err = OpenSessionBackend(ctx, cfg)
	assert.Error(t, err)
}

func TestBuild(t *testing.T) {
	db, err := gorm.Open(gormsqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	a, err := Build(context.Background(), testConfig(t), db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.NotNil(t, a.Sessions)
	assert.NotNil(t, a.Agent)
	assert.NotNil(t, a.Service(nil))

	cfg := testConfig(t)
	cfg.AIProvider = "ollama"
	_, err = Build(context.Background(), cfg, db)
	assert.Error(t, err)
}
