package tracer

import (
	"context"
	"testing"

	"trip-planner-be/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_DisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), config.TracingConfig{Enabled: false}, "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_EnabledInstallsProvider(t *testing.T) {
	shutdown, err := Init(context.Background(), config.TracingConfig{
		Enabled:     true,
		Endpoint:    "localhost:4318",
		ServiceName: "trip-planner-be",
		SampleRatio: 5,
	}, "test")
	require.NoError(t, err)
	// Nothing was recorded, so shutdown does not reach the collector.
	assert.NoError(t, shutdown(context.Background()))
}
