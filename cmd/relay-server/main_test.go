package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"--version"}, strings.NewReader(""), &out))
	assert.True(t, strings.HasPrefix(out.String(), "relay-server "))
}

func TestBadFlag(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, run(context.Background(), []string{"--no-such-flag"}, strings.NewReader(""), &out))
}

func TestQuitFromConsole(t *testing.T) {
	var out bytes.Buffer
	args := []string{"--addr", "127.0.0.1:0", "--ws-addr", "127.0.0.1:0", "--idle-timeout", "1m"}

	done := make(chan error, 1)
	go func() {
		done <- run(context.Background(), args, strings.NewReader("/who\n/quit\n"), &out)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after /quit")
	}
	assert.Contains(t, out.String(), "Server started on 127.0.0.1:")
	assert.Contains(t, out.String(), "WebSocket clients: ws://127.0.0.1:")
	assert.Contains(t, out.String(), "No clients connected")
	assert.Contains(t, out.String(), "Server stopped")
}

func TestCancelWithoutConsole(t *testing.T) {
	var out bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, []string{"--addr", "127.0.0.1:0", "--no-console"}, strings.NewReader(""), &out)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}
