package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/meshlink/balancer"
	"github.com/ceyewan/meshlink/clog"
	"github.com/ceyewan/meshlink/mesh"
)

func TestRunDemo(t *testing.T) {
	cfg := &mesh.Config{
		Log:      clog.Config{Level: "error"},
		Balancer: balancer.Config{RetryDelay: time.Millisecond},
	}
	var out bytes.Buffer
	err := runDemo(context.Background(), &out, cfg, &demoFlags{instances: 3, flaky: 1, requests: 12})
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "== load balancing (round_robin) ==")
	assert.Contains(t, text, "inventory-1")
	assert.Contains(t, text, "inventory-2")
	assert.Contains(t, text, "failed calls   0")
	assert.Contains(t, text, "acknowledged=true")
	assert.Contains(t, text, "notifier  success=false mail relay unreachable")
	assert.Contains(t, text, "total=1")
}

func TestRunDemo_InvalidFlags(t *testing.T) {
	err := runDemo(context.Background(), &bytes.Buffer{}, &mesh.Config{}, &demoFlags{instances: 0})
	assert.Error(t, err)
}

func TestRootCommand(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"config", "--config-dir", t.TempDir(), "--env-prefix", "MESHDTEST"})
	t.Setenv("MESHDTEST_LOG_LEVEL", "error")

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), `"name": "meshlink"`)
	assert.Contains(t, out.String(), `"transport": "memory"`)
}
