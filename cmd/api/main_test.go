package main

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/carwash-platform/internal/app/bootstrap"
	appconfig "github.com/wolfman30/carwash-platform/internal/config"
	"github.com/wolfman30/carwash-platform/pkg/logging"
)

func TestNewServerLeavesRoomForGateway(t *testing.T) {
	cfg := &appconfig.Config{Port: "9090", Mpesa: appconfig.MpesaConfig{Timeout: 30 * time.Second}}
	srv := newServer(cfg, http.NotFoundHandler())
	assert.Equal(t, ":9090", srv.Addr)
	assert.Greater(t, srv.WriteTimeout, cfg.Mpesa.Timeout)
	assert.NotZero(t, srv.ReadHeaderTimeout)
}

func TestBuildPoolEmptyURLReturnsNil(t *testing.T) {
	pool, err := bootstrap.BuildPool(context.Background(), &appconfig.Config{})
	require.NoError(t, err)
	assert.Nil(t, pool)
}

func TestRunRejectsInvalidProductionConfig(t *testing.T) {
	err := run(context.Background(), &appconfig.Config{Env: "production"}, logging.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}
