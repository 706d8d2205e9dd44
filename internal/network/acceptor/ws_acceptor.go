package acceptor

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	network "github.com/lk2023060901/chat-relay-go/internal/network"
	"github.com/lk2023060901/chat-relay-go/internal/network/connection"
	"github.com/lk2023060901/chat-relay-go/internal/network/router"
	"github.com/lk2023060901/chat-relay-go/internal/network/session"
	"github.com/lk2023060901/chat-relay-go/pkg/log"
	"github.com/lk2023060901/chat-relay-go/pkg/util/conc"
	"github.com/lk2023060901/chat-relay-go/pkg/util/merr"
)

// WSAcceptor 是基于 gorilla/websocket 的 Acceptor 实现。
//
// 在 Config.Path 上处理 WebSocket 升级，一个文本帧对应一行文本；
// 升级之后的处理流程与 BaseAcceptor 完全一致，两者可以共用同一个 Registry。
type WSAcceptor struct {
	*connHandler

	ln       net.Listener
	srv      *http.Server
	upgrader *websocket.Upgrader

	serveCtx  context.Context
	ctxMu     sync.RWMutex
	closeOnce sync.Once
	closeErr  error
}

// 确保 WSAcceptor 实现了 Acceptor 接口。
var _ Acceptor = (*WSAcceptor)(nil)

// NewWSAcceptor 在给定 listener 上创建 WebSocket 接入器。
func NewWSAcceptor(ln net.Listener, registry session.Registry, rt router.Router, h Handler, cfg Config) (*WSAcceptor, error) {
	if ln == nil {
		return nil, merr.WrapErrParameterMissing("listener")
	}
	ch, err := newConnHandler(cfg, registry, rt, h)
	if err != nil {
		return nil, err
	}

	upgrader := ch.cfg.Upgrader
	if upgrader == nil {
		upgrader = &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		}
	}

	a := &WSAcceptor{
		connHandler: ch,
		ln:          ln,
		upgrader:    upgrader,
		serveCtx:    context.Background(),
	}
	a.SetLogger(a.Logger().With(zap.Stringer("addr", ln.Addr()), zap.String("path", ch.cfg.Path)))

	mux := http.NewServeMux()
	mux.HandleFunc(ch.cfg.Path, a.handleUpgrade)
	a.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// NewWebSocketAcceptor 在给定地址上监听 TCP，并创建 WebSocket 接入器。
//
// 监听失败时返回 merr.ErrBind。
func NewWebSocketAcceptor(addr string, registry session.Registry, rt router.Router, h Handler, cfg Config) (*WSAcceptor, error) {
	if addr == "" {
		return nil, merr.WrapErrParameterMissing("addr")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, merr.WrapErrBind(addr, err)
	}
	a, err := NewWSAcceptor(ln, registry, rt, h, cfg)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	return a, nil
}

// Addr 实现 Acceptor.Addr。
func (a *WSAcceptor) Addr() net.Addr {
	return a.ln.Addr()
}

// Serve 实现 Acceptor.Serve。
func (a *WSAcceptor) Serve(ctx context.Context) error {
	a.ctxMu.Lock()
	a.serveCtx = ctx
	a.ctxMu.Unlock()

	stop := make(chan struct{})
	defer close(stop)

	conc.Go(func() (struct{}, error) {
		select {
		case <-ctx.Done():
			_ = a.Close()
		case <-stop:
		}
		return struct{}{}, nil
	})

	a.Logger().Info("websocket acceptor serving")

	err := a.srv.Serve(a.ln)
	if errors.Is(err, http.ErrServerClosed) || a.closing.Load() {
		return merr.WrapErrServerClosed()
	}
	return merr.WrapErrConnectionIO("accept", err)
}

// Close 实现 Acceptor.Close。
func (a *WSAcceptor) Close() error {
	a.closeOnce.Do(func() {
		a.closing.Store(true)
		// http.Server 不跟踪已升级（hijack）的连接，由 closeAll 统一断开。
		if err := a.srv.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			a.closeErr = err
		}
		a.closeAll()
		a.Logger().Info("websocket acceptor closed")
	})
	return a.closeErr
}

func (a *WSAcceptor) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if a.closing.Load() {
		http.Error(w, "server closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经向客户端回写了错误响应。
		a.Logger().RatedWarn(1, "websocket upgrade failed", log.FieldRemote(remoteAddr(r)), zap.Error(err))
		a.handler.OnError(nil, network.StageAccept, err)
		return
	}

	a.ctxMu.RLock()
	ctx := a.serveCtx
	a.ctxMu.RUnlock()

	a.dispatch(ctx, connection.NewWebSocket(conn, a.cfg.Connection))
}

type stringAddr string

func (s stringAddr) Network() string { return "tcp" }
func (s stringAddr) String() string  { return string(s) }

func remoteAddr(r *http.Request) net.Addr {
	return stringAddr(r.RemoteAddr)
}
