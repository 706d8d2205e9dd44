package connector

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lk2023060901/chat-relay-go/internal/network/connection"
	"github.com/lk2023060901/chat-relay-go/pkg/util/merr"
)

// Config 描述客户端拨号的基础配置。
type Config struct {
	// DialTimeout 为单次拨号的超时时间，为 0 表示只受 ctx 控制。
	DialTimeout time.Duration

	// Connection 为拨号成功后连接的收发配置。
	Connection connection.Config

	// Header 为 WebSocket 握手时附带的 HTTP 头。
	Header http.Header
}

func defaultConfig() Config {
	return Config{
		DialTimeout: 5 * time.Second,
		Connection:  connection.DefaultConfig(),
	}
}

// Connector 抽象了客户端的拨号器。
type Connector interface {
	// Dial 连接到 addr 并返回按行收发的 Connection。
	//
	// addr 以 "ws://" 或 "wss://" 开头时使用 WebSocket，否则视为 TCP 的 "host:port"。
	Dial(ctx context.Context, addr string) (connection.Connection, error)
}

// lineConnector 是 Connector 的默认实现。
type lineConnector struct {
	cfg    Config
	dialer *websocket.Dialer
}

// New 创建一个同时支持 TCP 与 WebSocket 的 Connector。
func New(cfg Config) Connector {
	def := defaultConfig()
	if cfg.DialTimeout < 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = cfg.DialTimeout
	return &lineConnector{cfg: cfg, dialer: &dialer}
}

func (c *lineConnector) Dial(ctx context.Context, addr string) (connection.Connection, error) {
	if addr == "" {
		return nil, merr.WrapErrParameterMissing("addr")
	}
	if c.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.DialTimeout)
		defer cancel()
	}

	if IsWebSocket(addr) {
		conn, resp, err := c.dialer.DialContext(ctx, addr, c.cfg.Header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return nil, merr.WrapErrConnectionIO("dial", err)
		}
		return connection.NewWebSocket(conn, c.cfg.Connection), nil
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, merr.WrapErrConnectionIO("dial", err)
	}
	return connection.NewTCP(conn, c.cfg.Connection), nil
}

// IsWebSocket 判断 addr 是否为 WebSocket 地址。
func IsWebSocket(addr string) bool {
	return strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://")
}
