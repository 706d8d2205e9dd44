package acceptor

import (
	"context"
	"net"
	"time"

	"github.com/gorilla/websocket"

	network "github.com/lk2023060901/chat-relay-go/internal/network"
	"github.com/lk2023060901/chat-relay-go/internal/network/connection"
	"github.com/lk2023060901/chat-relay-go/internal/network/router"
	"github.com/lk2023060901/chat-relay-go/internal/network/session"
)

// Config 描述 Acceptor 在连接与会话层面的配置。
//
// 说明：
//   - MaxConnections 为同时处理的连接上限（包括尚未完成名字握手的连接），超出时直接拒绝；
//   - NameTimeout 限制等待名字行的时间，IdleTimeout 限制两条消息之间的最长间隔，为 0 表示不限制；
//   - WorkerExpiry 为连接处理协程空闲后被回收的间隔，为 0 时使用协程池默认值；
//   - Path 控制 WebSocket 的升级路径（如 "/ws"）。
type Config struct {
	MaxConnections int
	MaxNameBytes   int

	NameTimeout  time.Duration
	IdleTimeout  time.Duration
	WorkerExpiry time.Duration

	Connection connection.Config
	Session    session.Config

	Path string

	// Upgrader 允许调用方自定义 gorilla/websocket 的升级行为。
	// 若为 nil，则使用内部默认的 Upgrader。
	Upgrader *websocket.Upgrader
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		MaxConnections: 1024,
		MaxNameBytes:   32,
		NameTimeout:    30 * time.Second,
		Connection:     connection.DefaultConfig(),
		Session:        session.DefaultConfig(),
		Path:           "/ws",
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxConnections <= 0 {
		c.MaxConnections = def.MaxConnections
	}
	if c.MaxNameBytes <= 0 {
		c.MaxNameBytes = def.MaxNameBytes
	}
	if c.Path == "" {
		c.Path = def.Path
	}
	return c
}

// Handler 由上层实现，用于在连接生命周期的各个阶段插入自定义逻辑。
//
// 说明：
//   - 所有回调均在单个连接的处理协程中被调用，应避免耗时操作阻塞该连接的读取；
//   - 同一会话上的 OnMessage 串行调用，且顺序与对端发送顺序一致。
type Handler interface {
	// OnConnected 在会话完成名字登记后被调用。
	OnConnected(sess session.Session)

	// OnMessage 在一行消息完成路由后被调用。
	//
	// result 为本次广播的投递结果。
	OnMessage(sess session.Session, body string, result router.DeliveryResult)

	// OnClosed 在会话生命周期结束、且已从 Registry 移除并关闭连接后被调用。
	//
	// 参数 err 为关闭原因，正常关闭时为 nil。
	OnClosed(sess session.Session, err error)

	// OnError 在连接处理的各个阶段发生错误时被调用。
	//
	// 名字登记之前 sess 为 nil；stage 用于标识错误发生的位置。
	OnError(sess session.Session, stage network.Stage, err error)
}

// Acceptor 抽象了服务器侧的接入层。
//
// 职责：
//   - 在监听地址上接受连接；
//   - 为每个连接完成名字握手、登记会话，并把后续消息交给 Router；
//   - 关闭时断开所有连接并等待处理协程退出。
type Acceptor interface {
	// Serve 启动接入循环，阻塞直至 ctx 取消或 Close 被调用。
	//
	// 正常关闭时返回 merr.ErrServerClosed。
	Serve(ctx context.Context) error

	// Addr 返回实际监听地址。
	Addr() net.Addr

	// Close 关闭监听器与所有连接，并等待连接处理协程退出。
	Close() error
}
