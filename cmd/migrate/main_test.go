package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/example/phk-shop/internal/config"
)

func TestRun_MemoryStoreIsNoop(t *testing.T) {
	assert.NoError(t, run(config.Config{DatabaseURL: "memory"}, zap.NewNop()))
}

func TestRun_ReportsConnectError(t *testing.T) {
	err := run(config.Config{DatabaseURL: "postgres://phk@127.0.0.1:1/phk?sslmode=disable&connect_timeout=1"}, zap.NewNop())
	assert.Error(t, err)
}
