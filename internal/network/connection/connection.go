package connection

import (
	"net"
	"time"

	"github.com/lk2023060901/chat-relay-go/internal/network/framer"
)

// Connection 抽象了一条按行收发文本的双向连接。
//
// 约定：
//   - ReadLine 仅允许单个协程调用；
//   - WriteLine 内部串行化，可被多个协程调用，但同一连接上的写出顺序由调用顺序决定；
//   - Close 可多次调用，并会使阻塞中的 ReadLine 立即返回。
type Connection interface {
	// ReadLine 读取一行文本（不含行尾）。
	//
	// 返回：
	//   - 对端正常关闭时返回 io.EOF；
	//   - 行超长时返回 merr.ErrLineTooLong；
	//   - 其他读取错误包装为 merr.ErrConnectionIO。
	ReadLine() (string, error)

	// WriteLine 写出一行文本，内部会补齐行尾。
	WriteLine(line string) error

	// SetReadDeadline 设置下一次读取的截止时间，零值表示不超时。
	SetReadDeadline(t time.Time) error

	// Close 关闭连接。
	Close() error

	// Alive 返回连接是否仍可用。
	Alive() bool

	// RemoteAddr 返回远端地址。
	RemoteAddr() net.Addr

	// LocalAddr 返回本端地址。
	LocalAddr() net.Addr

	// Transport 返回底层传输类型，例如 "tcp" 或 "websocket"。
	Transport() string
}

// Config 描述单条连接的收发配置。
type Config struct {
	// MaxLineBytes 为单行文本的最大长度，为 0 时使用 framer.DefaultMaxLineBytes。
	MaxLineBytes int

	// WriteTimeout 为单次写出的超时时间，为 0 表示不设置 deadline。
	WriteTimeout time.Duration
}

// DefaultConfig 返回默认的连接配置。
func DefaultConfig() Config {
	return Config{
		MaxLineBytes: framer.DefaultMaxLineBytes,
		WriteTimeout: 10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = framer.DefaultMaxLineBytes
	}
	return c
}
