package relay

import (
	"time"

	"github.com/lk2023060901/chat-relay-go/internal/network/acceptor"
	"github.com/lk2023060901/chat-relay-go/internal/network/connection"
	"github.com/lk2023060901/chat-relay-go/internal/network/framer"
	"github.com/lk2023060901/chat-relay-go/internal/network/router"
	"github.com/lk2023060901/chat-relay-go/internal/network/session"
	"github.com/lk2023060901/chat-relay-go/pkg/util/merr"
)

// DefaultAddr 为 TCP 接入点的默认监听地址。
const DefaultAddr = ":1234"

// Config 对应配置文件中的 relay 段。
//
// 示例：
//
//	relay:
//	  addr: ":1234"
//	  ws-addr: ":8080"
//	  admin-addr: "127.0.0.1:9100"
//	  max-connections: 1024
//	  idle-timeout: 5m
type Config struct {
	// Addr 为 TCP 接入点的监听地址。
	Addr string `mapstructure:"addr" json:"addr"`
	// WSAddr 为 WebSocket 接入点的监听地址，留空表示不开启。
	WSAddr string `mapstructure:"ws-addr" json:"ws-addr"`
	// WSPath 为 WebSocket 升级路径。
	WSPath string `mapstructure:"ws-path" json:"ws-path"`
	// AdminAddr 为管理接口（/metrics、/sessions、/debug/pprof/）的监听地址，留空表示不开启。
	AdminAddr string `mapstructure:"admin-addr" json:"admin-addr"`

	MaxConnections int `mapstructure:"max-connections" json:"max-connections"`
	MaxNameBytes   int `mapstructure:"max-name-bytes" json:"max-name-bytes"`
	MaxLineBytes   int `mapstructure:"max-line-bytes" json:"max-line-bytes"`
	SendQueueSize  int `mapstructure:"send-queue-size" json:"send-queue-size"`

	SendTimeout  time.Duration `mapstructure:"send-timeout" json:"send-timeout"`
	WriteTimeout time.Duration `mapstructure:"write-timeout" json:"write-timeout"`
	NameTimeout  time.Duration `mapstructure:"name-timeout" json:"name-timeout"`
	// IdleTimeout 为 0 表示不限制。
	IdleTimeout time.Duration `mapstructure:"idle-timeout" json:"idle-timeout"`
	// WorkerExpiry 为空闲连接处理协程的回收间隔。
	WorkerExpiry time.Duration `mapstructure:"worker-expiry" json:"worker-expiry"`

	// EchoToSender 为 true 时客户端的广播也会回送给自己。
	EchoToSender bool `mapstructure:"echo-to-sender" json:"echo-to-sender"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	ac := acceptor.DefaultConfig()
	return Config{
		Addr:           DefaultAddr,
		WSPath:         ac.Path,
		MaxConnections: ac.MaxConnections,
		MaxNameBytes:   ac.MaxNameBytes,
		MaxLineBytes:   ac.Connection.MaxLineBytes,
		SendQueueSize:  ac.Session.SendQueueSize,
		SendTimeout:    ac.Session.SendTimeout,
		WriteTimeout:   ac.Connection.WriteTimeout,
		NameTimeout:    ac.NameTimeout,
		IdleTimeout:    ac.IdleTimeout,
		WorkerExpiry:   time.Minute,
	}
}

// Validate 检查配置是否合法。
func (c Config) Validate() error {
	if c.Addr == "" {
		return merr.WrapErrParameterMissing("relay.addr")
	}
	if c.MaxConnections < 1 {
		return merr.WrapErrParameterInvalidRange(1, 1<<20, c.MaxConnections, "relay.max-connections")
	}
	if c.MaxNameBytes < 1 {
		return merr.WrapErrParameterInvalidRange(1, framer.DefaultMaxLineBytes, c.MaxNameBytes, "relay.max-name-bytes")
	}
	if c.MaxLineBytes < c.MaxNameBytes {
		return merr.WrapErrParameterInvalidMsg("relay.max-line-bytes %d is smaller than relay.max-name-bytes %d", c.MaxLineBytes, c.MaxNameBytes)
	}
	if c.SendQueueSize < 1 {
		return merr.WrapErrParameterInvalidRange(1, 1<<16, c.SendQueueSize, "relay.send-queue-size")
	}
	if c.SendTimeout < 0 || c.WriteTimeout < 0 || c.NameTimeout < 0 || c.IdleTimeout < 0 || c.WorkerExpiry < 0 {
		return merr.WrapErrParameterInvalidMsg("relay timeouts must not be negative")
	}
	return nil
}

func (c Config) acceptorConfig() acceptor.Config {
	return acceptor.Config{
		MaxConnections: c.MaxConnections,
		MaxNameBytes:   c.MaxNameBytes,
		NameTimeout:    c.NameTimeout,
		IdleTimeout:    c.IdleTimeout,
		WorkerExpiry:   c.WorkerExpiry,
		Connection: connection.Config{
			MaxLineBytes: c.MaxLineBytes,
			WriteTimeout: c.WriteTimeout,
		},
		Session: session.Config{
			SendQueueSize: c.SendQueueSize,
			SendTimeout:   c.SendTimeout,
		},
		Path: c.WSPath,
	}
}

func (c Config) routerConfig() router.Config {
	return router.Config{EchoToSender: c.EchoToSender}
}
