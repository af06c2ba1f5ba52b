package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMeterAndTracerReturnNonNilWithoutInit(t *testing.T) {
	m := Meter("github.com/ckoons/katra/test")
	require.NotNil(t, m)

	tr := Tracer("github.com/ckoons/katra/test")
	require.NotNil(t, tr)
}

func TestInitInstallsMeterProviderAndShutsDown(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init(&buf)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	m := Meter("github.com/ckoons/katra/test")
	counter, err := m.Int64Counter("test_counter")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	require.NoError(t, shutdown(context.Background()))
}
