package connection

import (
	"bufio"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"

	"github.com/lk2023060901/chat-relay-go/internal/network/framer"
	"github.com/lk2023060901/chat-relay-go/pkg/metrics"
	"github.com/lk2023060901/chat-relay-go/pkg/util/merr"
)

// tcpConnection 是基于 net.Conn 字节流的 Connection 实现。
type tcpConnection struct {
	conn   net.Conn
	reader *bufio.Reader
	framer framer.Framer
	cfg    Config

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

var _ Connection = (*tcpConnection)(nil)

// NewTCP 将一条字节流连接包装为按行收发的 Connection。
// conn 可以是 TCP 连接，也可以是测试中使用的 net.Pipe。
func NewTCP(conn net.Conn, cfg Config) Connection {
	cfg = cfg.withDefaults()
	return &tcpConnection{
		conn:   conn,
		reader: bufio.NewReader(conn),
		framer: framer.NewLineFramer(cfg.MaxLineBytes),
		cfg:    cfg,
	}
}

func (c *tcpConnection) ReadLine() (string, error) {
	line, err := c.framer.ReadFrame(c.reader)
	if err == nil {
		return line, nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, merr.ErrLineTooLong) {
		return "", err
	}
	return "", merr.WrapErrConnectionIO("read", err)
}

func (c *tcpConnection) WriteLine(line string) error {
	if c.closed.Load() {
		return merr.WrapErrConnectionIO("write", net.ErrClosed)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
			return merr.WrapErrConnectionIO("write", err)
		}
	}
	if err := c.framer.WriteFrame(c.conn, line); err != nil {
		return merr.WrapErrConnectionIO("write", err)
	}
	return nil
}

func (c *tcpConnection) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *tcpConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
	})
	return err
}

func (c *tcpConnection) Alive() bool {
	return !c.closed.Load()
}

func (c *tcpConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *tcpConnection) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *tcpConnection) Transport() string {
	return metrics.TransportTCP
}
