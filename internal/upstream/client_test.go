package upstream

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/config"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	cfg := &config.ServerConfig{Name: "testsrv", Command: "definitely-not-a-real-command", Enabled: true}
	return NewClient(cfg, nil, zap.NewNop())
}

// Stop must return even while the child holds its stderr pipe open: the
// CallTool timeout path relies on Stop to tear a wedged subprocess down.
func TestStopUnblocksStderrMonitor(t *testing.T) {
	c := testClient(t)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()

	c.startStderrMonitor(r)

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while the child kept stderr open")
	}
}

func TestStderrTailCaptured(t *testing.T) {
	c := testClient(t)

	r, w, err := os.Pipe()
	require.NoError(t, err)

	c.startStderrMonitor(r)

	_, err = w.Write([]byte("fatal: missing API key\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		tail := c.StderrTail()
		return len(tail) == 1 && tail[0] == "fatal: missing API key"
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, w.Close())
	c.Stop()
}

// Two concurrent Connect calls on a cold client must not both spawn a child:
// the second waits for the in-flight handshake and reuses its connection.
func TestConnectSerialisedPerClient(t *testing.T) {
	c := testClient(t)

	c.connectMu.Lock() // first caller mid-handshake

	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background()) }()

	select {
	case <-done:
		t.Fatal("second connect did not wait for the in-flight one")
	case <-time.After(100 * time.Millisecond):
	}

	// First caller completes the handshake.
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.connectMu.Unlock()

	select {
	case err := <-done:
		require.NoError(t, err, "second caller reuses the established connection")
	case <-time.After(2 * time.Second):
		t.Fatal("second connect never returned")
	}
}
