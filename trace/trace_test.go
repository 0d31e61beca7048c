package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/ceyewan/meshlink/xerrors"
)

func TestConfigNormalize(t *testing.T) {
	cfg := &Config{ServiceName: "meshlink"}
	require.NoError(t, cfg.Normalize())
	assert.Equal(t, ExporterNone, cfg.Exporter)
	assert.Equal(t, "batch", cfg.Batcher)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)

	cases := []*Config{
		{},
		{ServiceName: "a", Exporter: "zipkin"},
		{ServiceName: "a", Sampler: 1.5},
		{ServiceName: "a", Batcher: "stream"},
	}
	for _, c := range cases {
		err := c.Normalize()
		assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
	}
}

func TestInitNilConfig(t *testing.T) {
	_, err := Init(nil)
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
}

func TestInitWithoutExporter(t *testing.T) {
	shutdown, err := Init(DefaultConfig("meshlink-test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	ctx, span := otel.Tracer("test").Start(context.Background(), "work")
	defer span.End()
	assert.True(t, span.SpanContext().IsValid())

	headers := map[string]string{}
	Inject(ctx, headers)
	assert.NotEmpty(t, headers["traceparent"])
}

func TestInitOTLP(t *testing.T) {
	cfg := DefaultConfig("meshlink-test")
	cfg.Exporter = ExporterOTLP
	cfg.Batcher = "simple"

	// gRPC 连接是惰性的，没有 collector 也能创建
	shutdown, err := Init(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	_ = shutdown(ctx)
}
