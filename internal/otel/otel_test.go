package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), "rxfeedback", "")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestExporterOptions(t *testing.T) {
	opts, err := exporterOptions("collector:4318")
	require.NoError(t, err)
	assert.Len(t, opts, 2)

	opts, err = exporterOptions("https://otel.example.com/v1/traces")
	require.NoError(t, err)
	assert.Len(t, opts, 2)

	opts, err = exporterOptions("http://collector:4318")
	require.NoError(t, err)
	assert.Len(t, opts, 2)

	_, err = exporterOptions("grpc://collector:4317")
	require.Error(t, err)
}
