package bootstrap

import (
	"testing"

	"github.com/agentmemory/memory-service/internal/config"
	"github.com/stretchr/testify/require"
)

func TestInitMetrics_RejectsInvalidLabels(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MetricsLabels = "not-a-pair"

	err := InitMetrics(&cfg)

	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid metrics labels")
}

func TestInitMetrics_AcceptsWellFormedLabels(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MetricsLabels = "region=us-east-1,env=staging"

	err := InitMetrics(&cfg)

	require.NoError(t, err)
}

func TestInitMetrics_AcceptsEmptyLabels(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MetricsLabels = ""

	err := InitMetrics(&cfg)

	require.NoError(t, err)
}
