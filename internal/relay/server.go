package relay

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	network "github.com/lk2023060901/chat-relay-go/internal/network"
	"github.com/lk2023060901/chat-relay-go/internal/network/acceptor"
	"github.com/lk2023060901/chat-relay-go/internal/network/router"
	"github.com/lk2023060901/chat-relay-go/internal/network/session"
	"github.com/lk2023060901/chat-relay-go/pkg/log"
	"github.com/lk2023060901/chat-relay-go/pkg/metrics"
	"github.com/lk2023060901/chat-relay-go/pkg/util/merr"
)

// EventHandler 接收中继服务器上发生的事件，通常由展示层（例如操作员控制台）实现。
//
// 同一会话的 OnMessage 按对端发送顺序串行调用；不同会话之间的回调可能并发。
type EventHandler interface {
	// OnSessionConnected 在客户端完成名字登记后调用。
	OnSessionConnected(name string)
	// OnSessionDisconnected 在客户端断开、且名字已经释放后调用，err 为 nil 表示对端正常关闭。
	OnSessionDisconnected(name string, err error)
	// OnMessage 在一条客户端消息完成广播后调用。
	OnMessage(sender, body string)
	// OnSendFailed 在某个接收者投递失败时调用。
	OnSendFailed(name string, err error)
}

// NopEventHandler 忽略所有事件，可嵌入以只实现部分回调。
type NopEventHandler struct{}

func (NopEventHandler) OnSessionConnected(string)           {}
func (NopEventHandler) OnSessionDisconnected(string, error) {}
func (NopEventHandler) OnMessage(string, string)            {}
func (NopEventHandler) OnSendFailed(string, error)          {}

// Server 组合 TCP/WebSocket 接入点、会话索引与路由，是中继服务对外的唯一入口。
//
// 典型用法：
//
//	srv, _ := relay.NewServer(cfg, console)
//	if err := srv.Listen(); err != nil { ... }
//	go srv.Serve(ctx)
//	srv.SendBroadcast(ctx, "hello")
type Server struct {
	log.Binder

	cfg      Config
	events   EventHandler
	registry *session.BaseRegistry
	router   router.Router

	mu        sync.Mutex
	tcp       *acceptor.BaseAcceptor
	ws        *acceptor.WSAcceptor
	admin     *http.Server
	adminLn   net.Listener
	listening bool

	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

var _ acceptor.Handler = (*Server)(nil)

// NewServer 创建中继服务器，events 为 nil 时忽略所有事件。
func NewServer(cfg Config, events EventHandler) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if events == nil {
		events = NopEventHandler{}
	}
	registry := session.NewBaseRegistry()
	s := &Server{
		cfg:      cfg,
		events:   events,
		registry: registry,
		router:   router.New(registry, cfg.routerConfig()),
		done:     make(chan struct{}),
	}
	s.SetLogger(log.With(log.FieldModule("relay")))
	registry.Watch(s.trackSession)
	return s, nil
}

// trackSession 根据 Registry 的变更维护在线会话数。
func (s *Server) trackSession(event session.RegistryEvent) {
	gauge := metrics.SessionNum.WithLabelValues(event.Session.Transport())
	switch event.Kind {
	case session.EventRegistered:
		gauge.Inc()
	case session.EventUnregistered:
		gauge.Dec()
	}
}

// Listen 绑定所有已配置的监听地址，任一地址绑定失败时返回 merr.ErrBind 并释放已绑定的地址。
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return merr.WrapErrServerClosed()
	}
	if s.listening {
		return nil
	}

	acfg := s.cfg.acceptorConfig()
	tcp, err := acceptor.NewTCPAcceptor(s.cfg.Addr, s.registry, s.router, s, acfg)
	if err != nil {
		return err
	}

	var ws *acceptor.WSAcceptor
	if s.cfg.WSAddr != "" {
		ws, err = acceptor.NewWebSocketAcceptor(s.cfg.WSAddr, s.registry, s.router, s, acfg)
		if err != nil {
			_ = tcp.Close()
			return err
		}
	}

	if s.cfg.AdminAddr != "" {
		ln, err := net.Listen("tcp", s.cfg.AdminAddr)
		if err != nil {
			_ = tcp.Close()
			if ws != nil {
				_ = ws.Close()
			}
			return merr.WrapErrBind(s.cfg.AdminAddr, err)
		}
		s.adminLn = ln
		s.admin = &http.Server{
			Handler:           newAdminHandler(s),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	s.tcp, s.ws, s.listening = tcp, ws, true

	fields := []zap.Field{zap.Stringer("addr", tcp.Addr())}
	if ws != nil {
		fields = append(fields, zap.Stringer("ws-addr", ws.Addr()))
	}
	if s.adminLn != nil {
		fields = append(fields, zap.Stringer("admin-addr", s.adminLn.Addr()))
	}
	s.Logger().Info("relay listening", fields...)
	return nil
}

// Serve 运行所有接入点，阻塞直至 ctx 取消、Close 被调用或某个接入点出错。
//
// 正常关闭时返回 nil；尚未调用 Listen 时会先执行 Listen。
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	tcp, ws, admin, adminLn := s.tcp, s.ws, s.admin, s.adminLn
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreServerClosed(tcp.Serve(gctx))
	})
	if ws != nil {
		g.Go(func() error {
			return ignoreServerClosed(ws.Serve(gctx))
		})
	}
	if admin != nil {
		g.Go(func() error {
			if err := admin.Serve(adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return merr.WrapErrConnectionIO("admin serve", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-s.done:
		}
		return s.Close()
	})

	err := g.Wait()
	if err != nil {
		s.Logger().Warn("relay stopped with error", zap.Error(err))
		return err
	}
	s.Logger().Info("relay stopped")
	return nil
}

// Close 关闭所有接入点并断开所有客户端，可重复调用。
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)

		s.mu.Lock()
		tcp, ws, admin := s.tcp, s.ws, s.admin
		s.mu.Unlock()

		var errs []error
		if tcp != nil {
			errs = append(errs, tcp.Close())
		}
		if ws != nil {
			errs = append(errs, ws.Close())
		}
		if admin != nil {
			if cerr := admin.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				errs = append(errs, cerr)
			}
		}
		err = merr.Combine(errs...)
	})
	return err
}

// SendBroadcast 以操作员身份向所有在线客户端广播一行。
func (s *Server) SendBroadcast(ctx context.Context, body string) (router.DeliveryResult, error) {
	return s.send(ctx, body, router.TargetAll())
}

// SendTo 以操作员身份向指定客户端发送一行，目标不存在时返回 merr.ErrRecipientNotFound。
func (s *Server) SendTo(ctx context.Context, name, body string) (router.DeliveryResult, error) {
	return s.send(ctx, body, router.TargetName(name))
}

func (s *Server) send(ctx context.Context, body string, target router.Target) (router.DeliveryResult, error) {
	if s.closed.Load() {
		return router.DeliveryResult{}, merr.WrapErrServerClosed()
	}
	result, err := s.router.Route(ctx, router.RouteRequest{
		Sender: router.OperatorName,
		Body:   body,
		Target: target,
	})
	if err != nil {
		return result, err
	}
	s.reportFailures(result)
	return result, nil
}

// Names 返回当前在线客户端的名字，按字典序排列。
func (s *Server) Names() []string {
	return s.registry.Names()
}

// Addr 返回 TCP 接入点的实际监听地址，未监听时返回 nil。
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tcp == nil {
		return nil
	}
	return s.tcp.Addr()
}

// WSAddr 返回 WebSocket 接入点的实际监听地址，未开启时返回 nil。
func (s *Server) WSAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ws == nil {
		return nil
	}
	return s.ws.Addr()
}

// AdminAddr 返回管理接口的实际监听地址，未开启时返回 nil。
func (s *Server) AdminAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adminLn == nil {
		return nil
	}
	return s.adminLn.Addr()
}

// OnConnected 实现 acceptor.Handler。
func (s *Server) OnConnected(sess session.Session) {
	s.Logger().Info("client connected",
		log.FieldName(sess.Name()),
		log.FieldConnID(sess.ID()),
		log.FieldRemote(sess.RemoteAddr()),
		zap.String("transport", sess.Transport()))
	s.events.OnSessionConnected(sess.Name())
}

// OnMessage 实现 acceptor.Handler。
func (s *Server) OnMessage(sess session.Session, body string, result router.DeliveryResult) {
	s.events.OnMessage(sess.Name(), body)
	s.reportFailures(result)
}

// OnClosed 实现 acceptor.Handler。
func (s *Server) OnClosed(sess session.Session, err error) {
	s.Logger().Info("client disconnected",
		log.FieldName(sess.Name()),
		log.FieldConnID(sess.ID()),
		zap.Duration("online", time.Since(sess.ConnectedAt())),
		zap.Error(err))
	s.events.OnSessionDisconnected(sess.Name(), err)
}

// OnError 实现 acceptor.Handler。
func (s *Server) OnError(sess session.Session, stage network.Stage, err error) {
	fields := []zap.Field{zap.Stringer("stage", stage), zap.Error(err)}
	if sess != nil {
		fields = append(fields, log.FieldName(sess.Name()), log.FieldConnID(sess.ID()))
	}
	s.Logger().RatedWarn(1, "relay connection error", fields...)
	if stage == network.StageSend && sess != nil {
		s.events.OnSendFailed(sess.Name(), err)
	}
}

func (s *Server) reportFailures(result router.DeliveryResult) {
	for _, f := range result.Failed {
		s.Logger().RatedWarn(1, "deliver failed", log.FieldName(f.Name), zap.Error(f.Err))
		s.events.OnSendFailed(f.Name, f.Err)
	}
}

func ignoreServerClosed(err error) error {
	if errors.Is(err, merr.ErrServerClosed) {
		return nil
	}
	return err
}
