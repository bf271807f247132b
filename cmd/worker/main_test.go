package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"solana-volume-engine/internal/config"
)

func TestRunWorker_ComponentFailureRunsCleanup(t *testing.T) {
	t.Setenv("WALLET_MASTER_KEY", base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32)))
	t.Setenv("SWAP_SERVICE_URL", "http://127.0.0.1:1")
	// The ops server cannot listen on this address and fails at start.
	t.Setenv("OPS_ADDR", "127.0.0.1:-1")
	for _, key := range []string{"POSTGRES_DSN", "RABBITMQ_URL", "CLICKHOUSE_DSN", "NATS_URL", "KMS_SERVICE_URL", "SOLANA_WS_ENDPOINT", "SENTRY_DSN"} {
		t.Setenv(key, "")
	}

	var cleaned bool
	orig := buildApp
	buildApp = func(ctx context.Context, cfg *config.Config, log *logrus.Entry) (*app, func(), error) {
		a, cleanup, err := orig(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return a, func() {
			cleaned = true
			cleanup()
		}, nil
	}
	t.Cleanup(func() { buildApp = orig })

	code := runWorker([]string{"--use-memory", "--config", filepath.Join(t.TempDir(), "missing.yaml")})

	assert.Equal(t, 1, code)
	assert.True(t, cleaned, "cleanup must run before exit")
}

func TestRunWorker_InvalidConfig(t *testing.T) {
	t.Setenv("WALLET_MASTER_KEY", "")
	t.Setenv("KMS_SERVICE_URL", "")
	t.Setenv("SWAP_SERVICE_URL", "")

	code := runWorker([]string{"--use-memory", "--config", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Equal(t, 1, code)
}
