package acceptor

import (
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	network "github.com/lk2023060901/chat-relay-go/internal/network"
	"github.com/lk2023060901/chat-relay-go/internal/network/connection"
	"github.com/lk2023060901/chat-relay-go/internal/network/router"
	"github.com/lk2023060901/chat-relay-go/internal/network/session"
	"github.com/lk2023060901/chat-relay-go/pkg/log"
	"github.com/lk2023060901/chat-relay-go/pkg/metrics"
	"github.com/lk2023060901/chat-relay-go/pkg/util/conc"
	"github.com/lk2023060901/chat-relay-go/pkg/util/merr"
	"github.com/lk2023060901/chat-relay-go/pkg/util/typeutil"
)

// 拒绝连接时写给客户端的提示行。
const (
	rejectPrefix      = "ERR "
	rejectServerFull  = rejectPrefix + "server full"
	rejectNameTimeout = rejectPrefix + "name timeout"
)

// connHandler 为 TCP 与 WebSocket 接入器共享的连接处理逻辑。
//
// 每条连接的状态机：AwaitingName -> Registered -> Closed。
type connHandler struct {
	log.Binder

	cfg      Config
	registry session.Registry
	router   router.Router
	handler  Handler

	// pool 限制同时处理的连接数，已满时非阻塞地拒绝新连接。
	pool *conc.Pool[struct{}]

	// conns 记录所有存活连接（包括尚未完成握手的），用于关闭时统一断开。
	conns *typeutil.ConcurrentSet[connection.Connection]
	wg    sync.WaitGroup

	// mu 保证 closing 置位之后不再有连接登记到 conns 或 wg。
	mu      sync.Mutex
	closing atomic.Bool
}

func newConnHandler(cfg Config, registry session.Registry, rt router.Router, h Handler) (*connHandler, error) {
	if registry == nil {
		return nil, merr.WrapErrParameterMissing("registry")
	}
	if rt == nil {
		return nil, merr.WrapErrParameterMissing("router")
	}
	if h == nil {
		return nil, merr.WrapErrParameterMissing("handler")
	}
	cfg = cfg.withDefaults()

	c := &connHandler{
		cfg:      cfg,
		registry: registry,
		router:   rt,
		handler:  h,
		pool: conc.NewPool[struct{}](cfg.MaxConnections,
			conc.WithNonBlocking(true),
			conc.WithConcealPanic(true),
			conc.WithExpiryDuration(cfg.WorkerExpiry),
		),
		conns: typeutil.NewConcurrentSet[connection.Connection](),
	}
	c.SetLogger(log.With(log.FieldComponent("acceptor")))
	return c, nil
}

// dispatch 将一条新连接交给协程池处理，协程池已满时拒绝该连接。
func (c *connHandler) dispatch(ctx context.Context, conn connection.Connection) {
	metrics.ConnectionsAccepted.WithLabelValues(conn.Transport()).Inc()

	c.mu.Lock()
	if c.closing.Load() {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conns.Insert(conn)
	c.wg.Add(1)
	c.mu.Unlock()

	_, err := c.pool.TrySubmit(func() (struct{}, error) {
		defer c.wg.Done()
		defer c.conns.Remove(conn)
		c.handleConnection(ctx, conn)
		return struct{}{}, nil
	})
	if err != nil {
		defer c.wg.Done()
		c.conns.Remove(conn)
		if c.closing.Load() {
			_ = conn.Close()
			return
		}
		metrics.ConnectionsRejected.WithLabelValues(metrics.ReasonServerFull).Inc()
		c.Logger().RatedWarn(1, "reject connection", log.FieldRemote(conn.RemoteAddr()), zap.Error(err))
		_ = conn.WriteLine(rejectServerFull)
		_ = conn.Close()
		c.handler.OnError(nil, network.StageAccept, err)
	}
}

// handleConnection 处理单个连接的生命周期。
//
// 流程：
//  1. 读取第一行作为名字，校验并登记到 Registry，失败时回写一行 "ERR <原因>" 并关闭；
//  2. 循环读取消息行，交给 Router 广播，并回调 Handler.OnMessage；
//  3. 读取失败、空闲超时或服务关闭时，依次执行 Unregister、关闭连接、回调 Handler.OnClosed。
func (c *connHandler) handleConnection(ctx context.Context, conn connection.Connection) {
	logger := c.Logger().With(log.FieldRemote(conn.RemoteAddr()), zap.String("transport", conn.Transport()))

	name, ok := c.readName(conn, logger)
	if !ok {
		_ = conn.Close()
		return
	}

	sess := session.NewBaseSession(ctx, name, conn, c.cfg.Session)
	if err := c.registry.Register(sess); err != nil {
		c.reject(conn, logger, name, err)
		_ = sess.Close()
		return
	}

	sess.OnConnected()
	c.handler.OnConnected(sess)

	var cause error
	defer func() {
		if r := recover(); r != nil {
			cause = merr.WrapErrServiceInternal("connection handler panicked")
			defer panic(r)
		}
		c.registry.Unregister(name)
		_ = sess.Close()
		sess.OnDisconnected(cause)
		c.handler.OnClosed(sess, cause)
	}()

	cause = c.readLoop(sess, conn)
}

// readName 读取并校验名字行。
func (c *connHandler) readName(conn connection.Connection, logger *log.MLogger) (string, bool) {
	if c.cfg.NameTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.NameTimeout))
	}
	line, err := conn.ReadLine()
	if err != nil {
		if isTimeout(err) {
			metrics.ConnectionsRejected.WithLabelValues(metrics.ReasonHandshakeTimeout).Inc()
			_ = conn.WriteLine(rejectNameTimeout)
		}
		if !errors.Is(err, io.EOF) && conn.Alive() {
			c.handler.OnError(nil, network.StageName, err)
		}
		logger.Debug("connection closed before name", zap.Error(err))
		return "", false
	}
	_ = conn.SetReadDeadline(time.Time{})

	name := strings.TrimSpace(line)
	switch {
	case name == "":
		c.reject(conn, logger, name, merr.WrapErrNameInvalid(name, "empty name"))
		return "", false
	case len(name) > c.cfg.MaxNameBytes:
		c.reject(conn, logger, name, merr.WrapErrNameInvalid(name, "name too long"))
		return "", false
	case strings.HasPrefix(name, rejectPrefix):
		// 以该名字转发的行会被客户端误认为拒绝提示。
		c.reject(conn, logger, name, merr.WrapErrNameInvalid(name, "reserved name"))
		return "", false
	}
	return name, true
}

// reject 回写一行 "ERR <原因>"，连接由调用方关闭。
func (c *connHandler) reject(conn connection.Connection, logger *log.MLogger, name string, err error) {
	reason := metrics.ReasonNameInvalid
	line := "ERR invalid name"
	switch {
	case errors.Is(err, merr.ErrNameTaken):
		reason = metrics.ReasonNameTaken
		line = "ERR name taken: " + name
	case name == "":
		line = "ERR empty name"
	case len(name) > c.cfg.MaxNameBytes:
		line = "ERR name too long"
	case strings.HasPrefix(name, rejectPrefix):
		line = "ERR reserved name"
	}
	metrics.ConnectionsRejected.WithLabelValues(reason).Inc()
	logger.Info("reject name", log.FieldName(name), zap.Error(err))
	_ = conn.WriteLine(line)
	c.handler.OnError(nil, network.StageName, err)
}

// readLoop 持续读取消息行并广播，返回结束原因；对端正常关闭时返回 nil。
func (c *connHandler) readLoop(sess session.Session, conn connection.Connection) error {
	for {
		if c.cfg.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
		}
		line, err := conn.ReadLine()
		if err != nil {
			// 写出失败时发送协程已关闭连接，读到的错误只是其结果。
			if werr := sess.Err(); werr != nil && !c.closing.Load() {
				c.handler.OnError(sess, network.StageSend, werr)
				return werr
			}
			switch {
			case errors.Is(err, io.EOF):
				return nil
			case c.closing.Load() || !conn.Alive():
				return merr.WrapErrServerClosed()
			}
			if !isTimeout(err) {
				c.handler.OnError(sess, network.StageRecv, err)
			}
			return err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		result, err := c.router.Route(sess.Context(), router.RouteRequest{
			Sender: sess.Name(),
			Body:   line,
			Target: router.TargetAll(),
		})
		if err != nil {
			c.handler.OnError(sess, network.StageRoute, err)
		}
		c.handler.OnMessage(sess, line, result)
	}
}

// closeAll 标记关闭，断开所有存活连接并等待处理协程退出。
func (c *connHandler) closeAll() {
	c.mu.Lock()
	c.closing.Store(true)
	c.mu.Unlock()
	c.conns.Range(func(conn connection.Connection) bool {
		_ = conn.Close()
		return true
	})
	c.wg.Wait()
	c.pool.Release()
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
