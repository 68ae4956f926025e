package runtimeinit

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"screen-queue/src/config"
	"screen-queue/src/hostipc"
)

func TestBootstrap(t *testing.T) {
	t.Setenv("QUEUE_CAPACITY", "4")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("COPY_RESPONSE", "false")

	var console bytes.Buffer
	cfg, err := Bootstrap(Options{
		LoadOptions: config.LoadOptions{ProcessURLOverride: "http://127.0.0.1:9/process_images"},
		Console:     &console,
	})
	require.NoError(t, err)
	require.Equal(t, 4, cfg.QueueCapacity)
	require.Equal(t, "http://127.0.0.1:9/process_images", cfg.ProcessURL)
	require.Contains(t, console.String(), "configuration loaded")

	ports := Ports(cfg)
	require.Equal(t, cfg.HostPortStart, ports.Start)
	require.Equal(t, cfg.HostPortEnd, ports.End)
}

func TestWaitForHostGivesUp(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err := WaitForHost(ctx, hostipc.PortRange{Start: 49795, End: 49796}, 50*time.Millisecond)
	require.Error(t, err)
}
