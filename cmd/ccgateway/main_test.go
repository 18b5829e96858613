package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mattjoyce/ccgateway/internal/log"
	zmq "github.com/pebbe/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json") // Suppress logs in tests
	os.Exit(m.Run())
}

// syncBuffer lets run write stderr while the test reads it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func writeEchoPlugin(t *testing.T, pluginsDir string) {
	t.Helper()
	dir := filepath.Join(pluginsDir, "echo")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(`name: echo
version: 1.0.0
protocol: 1
entrypoint: run.sh
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.sh"), []byte(`#!/bin/sh
cat > /dev/null
echo '{"status":"ok","detail":"echoed"}'
`), 0755))
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, 2, run(context.Background(), []string{"-bogus"}, &stderr))
}

func TestRunVersion(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, 0, run(context.Background(), []string{"-version"}, &stderr))
	assert.Contains(t, stderr.String(), version)
}

func TestRunMissingPluginDir(t *testing.T) {
	dir := t.TempDir()
	cfg := fmt.Sprintf("bindIP: 127.0.0.1\nplugins_dir: %s\n", filepath.Join(dir, "absent"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(cfg), 0644))

	var stderr bytes.Buffer
	code := run(context.Background(), []string{"-config", dir}, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "not found")
}

func TestRunInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("port: [not, a, port]\n"), 0644))

	var stderr bytes.Buffer
	assert.Equal(t, 1, run(context.Background(), []string{"-config", dir}, &stderr))
	assert.Contains(t, stderr.String(), "Failed to load config")
}

func TestRunServesRequests(t *testing.T) {
	dir := t.TempDir()
	pluginsDir := filepath.Join(dir, "plugins")
	writeEchoPlugin(t, pluginsDir)

	port := freePort(t)
	cfg := fmt.Sprintf("bindIP: 127.0.0.1\nport: %d\nplugins_dir: %s\nlog_level: error\n", port, pluginsDir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(cfg), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	stderr := &syncBuffer{}
	done := make(chan int, 1)
	go func() { done <- run(ctx, []string{"-v", "-config", dir}, stderr) }()

	client, err := zmq.NewSocket(zmq.DEALER)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.SetLinger(0))
	require.NoError(t, client.SetRcvtimeo(10*time.Second))
	require.NoError(t, client.Connect(fmt.Sprintf("tcp://127.0.0.1:%d", port)))

	// zmq queues until the connection is up, so one send is enough.
	_, err = client.SendMessage("", "echo hello world")
	require.NoError(t, err)
	parts, err := client.RecvMessage(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "good"}, parts)

	_, err = client.SendMessage("", "nothing here")
	require.NoError(t, err)
	parts, err = client.RecvMessage(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "miss"}, parts)

	cancel()
	select {
	case code := <-done:
		assert.Equal(t, 0, code)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	assert.Contains(t, stderr.String(), "Loaded plugin echo 1.0.0")
}
