package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = abc ,bad, =x,team=escrow,auth=Basic%20dXNlcg%3D%3D")
	require.Equal(t, map[string]string{
		"api-key": "abc",
		"team":    "escrow",
		"auth":    "Basic dXNlcg==",
	}, headers)
	require.Empty(t, ParseHeaders(""))
}

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "escrowd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{ServiceName: "  "})
	require.Error(t, err)
}

func TestSamplerRatio(t *testing.T) {
	require.Equal(t, sdktrace.ParentBased(sdktrace.AlwaysSample()).Description(), sampler(0).Description())
	require.Equal(t, sdktrace.ParentBased(sdktrace.AlwaysSample()).Description(), sampler(1).Description())
	require.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestNewResourceCarriesEnvironment(t *testing.T) {
	res, err := newResource("escrowd", "prod")
	require.NoError(t, err)
	values := map[string]string{}
	for _, kv := range res.Attributes() {
		values[string(kv.Key)] = kv.Value.Emit()
	}
	require.Equal(t, "escrowd", values["service.name"])
	require.Equal(t, "escrow", values["service.namespace"])
	require.Equal(t, "prod", values["deployment.environment"])
}
