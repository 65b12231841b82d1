package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"questkit/adapters/jsonfile"
	"questkit/config"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("verbose"))
}

func TestNewLoggerAddsAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.LoggingConfig{
		Level:      "info",
		Format:     "json",
		Attributes: map[string]string{"service": "questkit"},
	})
	logger.Debug("hidden")
	logger.Info("shown")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "questkit", line["service"])
}

func TestSetupStorage(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	cfg := config.DefaultConfig()
	store, cleanup, err := setupStorage(context.Background(), cfg, logger)
	require.NoError(t, err)
	require.NotNil(t, store)
	cleanup()

	cfg.Storage.Adapter = "file"
	cfg.Storage.File.Path = filepath.Join(t.TempDir(), "quests.json")
	store, cleanup, err = setupStorage(context.Background(), cfg, logger)
	require.NoError(t, err)
	assert.IsType(t, &jsonfile.Store{}, store)
	cleanup()

	cfg.Storage.Adapter = "bolt"
	_, _, err = setupStorage(context.Background(), cfg, logger)
	assert.Error(t, err)
}

func TestProvideWebhook(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.Nil(t, provideWebhook(cfg, slog.Default()))

	cfg.Webhooks.Endpoints = []string{"https://hooks.example/q"}
	cfg.Webhooks.EventTypes = []string{"quest_completed"}
	sink := provideWebhook(cfg, slog.Default())
	require.NotNil(t, sink)
	assert.True(t, sink.Accepts("quest_completed"))
	assert.False(t, sink.Accepts("quest_created"))
}

func TestProvideCatalog(t *testing.T) {
	cfg := config.DefaultConfig()
	cat, err := provideCatalog(cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, cat.Len())

	cfg.Quests.CatalogPath = filepath.Join("..", "..", "catalog", "testdata", "quests.yaml")
	cat, err = provideCatalog(cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, cat.Len())
}

func TestBuildApp(t *testing.T) {
	t.Setenv("QUESTKIT_PROFILE", "testing")
	t.Setenv("QUESTKIT_CONFIG_FILE", "")

	app, cleanup, err := BuildApp(context.Background())
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, app.Hub, "testing profile disables realtime")
	assert.Equal(t, "127.0.0.1:0", app.Server.Addr)

	rec := httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildAppFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "questkit.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server":{"path_prefix":"/v1"},"storage":{"adapter":"memory"}}`), 0o644))
	t.Setenv("QUESTKIT_CONFIG_FILE", path)

	app, cleanup, err := BuildApp(context.Background())
	require.NoError(t, err)
	defer cleanup()

	rec := httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
