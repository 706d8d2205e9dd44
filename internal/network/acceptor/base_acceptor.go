package acceptor

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/chat-relay-go/internal/network/connection"
	"github.com/lk2023060901/chat-relay-go/internal/network/router"
	"github.com/lk2023060901/chat-relay-go/internal/network/session"
	"github.com/lk2023060901/chat-relay-go/pkg/util/conc"
	"github.com/lk2023060901/chat-relay-go/pkg/util/merr"
)

// maxAcceptDelay 为 Accept 临时错误时的最长退避时间。
const maxAcceptDelay = time.Second

// BaseAcceptor 是 Acceptor 接口的基础 TCP 实现。
//
// 设计目标：
//   - 对外只暴露 Acceptor 接口和 Handler 回调，不绑定具体展示逻辑；
//   - 内部负责：监听端口、接受连接、名字握手、登记会话并驱动读取；
//   - 每个连接在协程池中使用独立的协程串行处理，保证同一会话上的消息按序路由。
type BaseAcceptor struct {
	*connHandler

	ln        net.Listener
	closeOnce sync.Once
	closeErr  error
}

// 确保 BaseAcceptor 实现了 Acceptor 接口。
var _ Acceptor = (*BaseAcceptor)(nil)

// NewBaseAcceptor 使用已有的 Listener 创建一个基础接入器。
//
// 参数：
//   - ln       ：已创建好的 net.Listener；
//   - registry ：会话索引，名字握手成功后登记，连接关闭时移除；
//   - rt       ：消息路由；
//   - h        ：生命周期回调。
func NewBaseAcceptor(ln net.Listener, registry session.Registry, rt router.Router, h Handler, cfg Config) (*BaseAcceptor, error) {
	if ln == nil {
		return nil, merr.WrapErrParameterMissing("listener")
	}
	ch, err := newConnHandler(cfg, registry, rt, h)
	if err != nil {
		return nil, err
	}
	a := &BaseAcceptor{
		connHandler: ch,
		ln:          ln,
	}
	a.SetLogger(a.Logger().With(zap.Stringer("addr", ln.Addr())))
	return a, nil
}

// NewTCPAcceptor 在给定地址上监听 TCP，并创建一个基础接入器。
//
// 监听失败时返回 merr.ErrBind。
func NewTCPAcceptor(addr string, registry session.Registry, rt router.Router, h Handler, cfg Config) (*BaseAcceptor, error) {
	if addr == "" {
		return nil, merr.WrapErrParameterMissing("addr")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, merr.WrapErrBind(addr, err)
	}
	a, err := NewBaseAcceptor(ln, registry, rt, h, cfg)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	return a, nil
}

// Addr 实现 Acceptor.Addr。
func (a *BaseAcceptor) Addr() net.Addr {
	return a.ln.Addr()
}

// Serve 实现 Acceptor.Serve。
func (a *BaseAcceptor) Serve(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)

	// ctx 取消时关闭监听器，使 Accept 立即返回。
	conc.Go(func() (struct{}, error) {
		select {
		case <-ctx.Done():
			_ = a.Close()
		case <-stop:
		}
		return struct{}{}, nil
	})

	a.Logger().Info("acceptor serving")

	var delay time.Duration
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			if a.closing.Load() || errors.Is(err, net.ErrClosed) {
				return merr.WrapErrServerClosed()
			}

			// 临时错误（例如文件描述符耗尽）退避后重试。
			if isTimeout(err) || isTemporary(err) {
				if delay == 0 {
					delay = 5 * time.Millisecond
				} else {
					delay *= 2
				}
				if delay > maxAcceptDelay {
					delay = maxAcceptDelay
				}
				a.Logger().RatedWarn(1, "accept failed, retrying", zap.Error(err), zap.Duration("delay", delay))
				time.Sleep(delay)
				continue
			}

			return merr.WrapErrConnectionIO("accept", err)
		}
		delay = 0

		a.dispatch(ctx, connection.NewTCP(conn, a.cfg.Connection))
	}
}

// Close 实现 Acceptor.Close。
func (a *BaseAcceptor) Close() error {
	a.closeOnce.Do(func() {
		a.closing.Store(true)
		if err := a.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			a.closeErr = err
		}
		a.closeAll()
		a.Logger().Info("acceptor closed")
	})
	return a.closeErr
}

func isTemporary(err error) bool {
	var te interface{ Temporary() bool }
	return errors.As(err, &te) && te.Temporary()
}
