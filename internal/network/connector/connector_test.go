package connector

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/chat-relay-go/internal/network/connection"
	"github.com/lk2023060901/chat-relay-go/pkg/metrics"
	"github.com/lk2023060901/chat-relay-go/pkg/util/merr"
)

func TestDialTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	conn, err := New(Config{}).Dial(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, metrics.TransportTCP, conn.Transport())

	server := connection.NewTCP(<-accepted, connection.DefaultConfig())
	defer server.Close()
	require.NoError(t, conn.WriteLine("Alice"))
	line, err := server.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "Alice", line)
}

func TestDialWebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	lines := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := connection.NewWebSocket(ws, connection.DefaultConfig())
		defer conn.Close()
		line, err := conn.ReadLine()
		if err == nil {
			lines <- line
		}
	}))
	defer srv.Close()

	addr := "ws://" + strings.TrimPrefix(srv.URL, "http://")
	assert.True(t, IsWebSocket(addr))

	conn, err := New(Config{}).Dial(context.Background(), addr)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, metrics.TransportWebSocket, conn.Transport())

	require.NoError(t, conn.WriteLine("Bob"))
	select {
	case line := <-lines:
		assert.Equal(t, "Bob", line)
	case <-time.After(time.Second):
		t.Fatal("websocket server did not receive the line")
	}
}

func TestDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := New(Config{DialTimeout: time.Second})
	_, err = c.Dial(context.Background(), addr)
	assert.ErrorIs(t, err, merr.ErrConnectionIO)

	_, err = c.Dial(context.Background(), "ws://"+addr+"/ws")
	assert.ErrorIs(t, err, merr.ErrConnectionIO)

	_, err = c.Dial(context.Background(), "")
	assert.ErrorIs(t, err, merr.ErrParameterMissing)
}
