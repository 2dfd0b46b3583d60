package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledIsInert(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, tel)
	assert.Nil(t, tel.provider)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNilShutdown(t *testing.T) {
	var tel *Telemetry
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestSampleRateBounds(t *testing.T) {
	for _, rate := range []float64{-0.1, 1.5} {
		_, err := New(context.Background(), Config{
			Enabled:     true,
			ServiceName: "memurid",
			Endpoint:    "localhost:4317",
			SampleRate:  rate,
		})
		assert.Error(t, err, "rate %v", rate)
	}
}
