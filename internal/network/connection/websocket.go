package connection

import (
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"github.com/lk2023060901/chat-relay-go/internal/network/framer"
	"github.com/lk2023060901/chat-relay-go/pkg/metrics"
	"github.com/lk2023060901/chat-relay-go/pkg/util/merr"
)

// closeGracePeriod 为发送 close 帧时的写超时。
const closeGracePeriod = time.Second

// wsConnection 是基于 gorilla/websocket 的 Connection 实现。
//
// 一个文本帧对应一行文本，二进制帧按 UTF-8 文本处理。
type wsConnection struct {
	conn *websocket.Conn
	cfg  Config

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

var _ Connection = (*wsConnection)(nil)

// NewWebSocket 将一条 WebSocket 连接包装为按行收发的 Connection。
func NewWebSocket(conn *websocket.Conn, cfg Config) Connection {
	cfg = cfg.withDefaults()
	// 预留 "\r\n" 的两个字节。
	conn.SetReadLimit(int64(cfg.MaxLineBytes) + 2)
	return &wsConnection{
		conn: conn,
		cfg:  cfg,
	}
}

func (c *wsConnection) ReadLine() (string, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				return "", merr.WrapErrLineTooLong(c.cfg.MaxLineBytes)
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				return "", io.EOF
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
				return "", io.EOF
			}
			return "", merr.WrapErrConnectionIO("read", err)
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		line := strings.TrimSuffix(strings.TrimSuffix(string(data), "\n"), "\r")
		if len(line) > c.cfg.MaxLineBytes {
			return "", merr.WrapErrLineTooLong(c.cfg.MaxLineBytes)
		}
		return line, nil
	}
}

func (c *wsConnection) WriteLine(line string) error {
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
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(framer.Sanitize(line))); err != nil {
		return merr.WrapErrConnectionIO("write", err)
	}
	return nil
}

func (c *wsConnection) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *wsConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		// close 帧尽力发送，失败不影响关闭底层连接。
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		err = c.conn.Close()
	})
	return err
}

func (c *wsConnection) Alive() bool {
	return !c.closed.Load()
}

func (c *wsConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *wsConnection) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *wsConnection) Transport() string {
	return metrics.TransportWebSocket
}
