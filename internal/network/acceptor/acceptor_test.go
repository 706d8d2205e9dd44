package acceptor

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"

	network "github.com/lk2023060901/chat-relay-go/internal/network"
	"github.com/lk2023060901/chat-relay-go/internal/network/connection"
	"github.com/lk2023060901/chat-relay-go/internal/network/router"
	"github.com/lk2023060901/chat-relay-go/internal/network/session"
	"github.com/lk2023060901/chat-relay-go/pkg/util/merr"
)

// recorder 记录 Handler 回调，便于断言。
type recorder struct {
	mu        sync.Mutex
	connected []string
	closed    []string
	causes    map[string]error
	messages  []string
	errs      []network.Stage
}

func (r *recorder) OnConnected(sess session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = append(r.connected, sess.Name())
}

func (r *recorder) OnMessage(sess session.Session, body string, _ router.DeliveryResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, sess.Name()+": "+body)
}

func (r *recorder) OnClosed(sess session.Session, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, sess.Name())
	if r.causes == nil {
		r.causes = make(map[string]error)
	}
	r.causes[sess.Name()] = err
}

func (r *recorder) OnError(_ session.Session, stage network.Stage, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, stage)
}

func (r *recorder) closedNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.closed...)
}

func (r *recorder) cause(name string) (error, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	err, ok := r.causes[name]
	return err, ok
}

func (r *recorder) stages() []network.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]network.Stage(nil), r.errs...)
}

func (r *recorder) messageList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

type AcceptorSuite struct {
	suite.Suite

	registry *session.BaseRegistry
	router   router.Router
	rec      *recorder
	acceptor *BaseAcceptor
	serveErr chan error
	cancel   context.CancelFunc
}

func (s *AcceptorSuite) start(cfg Config) {
	s.registry = session.NewBaseRegistry()
	s.router = router.New(s.registry, router.Config{})
	s.rec = &recorder{}

	a, err := NewTCPAcceptor("127.0.0.1:0", s.registry, s.router, s.rec, cfg)
	s.Require().NoError(err)
	s.acceptor = a

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	serveErr := make(chan error, 1)
	s.serveErr = serveErr
	go func() {
		serveErr <- a.Serve(ctx)
	}()
}

func (s *AcceptorSuite) TearDownTest() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.acceptor != nil {
		_ = s.acceptor.Close()
	}
}

func (s *AcceptorSuite) dial() connection.Connection {
	conn, err := net.Dial("tcp", s.acceptor.Addr().String())
	s.Require().NoError(err)
	c := connection.NewTCP(conn, connection.DefaultConfig())
	s.T().Cleanup(func() { _ = c.Close() })
	return c
}

// join 连接并登记名字，等待服务端完成登记。
func (s *AcceptorSuite) join(name string) connection.Connection {
	c := s.dial()
	s.Require().NoError(c.WriteLine(name))
	s.Eventually(func() bool {
		_, ok := s.registry.Lookup(name)
		return ok
	}, time.Second, 5*time.Millisecond)
	return c
}

func (s *AcceptorSuite) readLine(c connection.Connection) (string, error) {
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	return c.ReadLine()
}

func (s *AcceptorSuite) expectLine(c connection.Connection, want string) {
	line, err := s.readLine(c)
	s.Require().NoError(err)
	s.Equal(want, line)
}

func (s *AcceptorSuite) expectEOF(c connection.Connection) {
	_, err := s.readLine(c)
	s.ErrorIs(err, io.EOF)
}

func (s *AcceptorSuite) TestAliceBob() {
	s.start(DefaultConfig())
	alice := s.join("Alice")
	bob := s.join("Bob")

	s.Require().NoError(alice.WriteLine("hi"))
	s.expectLine(bob, "Alice: hi")

	s.Require().NoError(bob.WriteLine("hello"))
	s.expectLine(alice, "Bob: hello")

	s.Eventually(func() bool { return len(s.rec.messageList()) == 2 }, time.Second, 5*time.Millisecond)
	s.ElementsMatch([]string{"Alice: hi", "Bob: hello"}, s.rec.messageList())

	// 操作员定向发送。
	_, err := s.router.Route(context.Background(), router.RouteRequest{
		Sender: router.OperatorName, Body: "only you", Target: router.TargetName("Bob"),
	})
	s.Require().NoError(err)
	s.expectLine(bob, "server: only you")
}

func (s *AcceptorSuite) TestPerSenderOrder() {
	s.start(DefaultConfig())
	alice := s.join("Alice")
	bob := s.join("Bob")

	const n = 50
	go func() {
		for i := 0; i < n; i++ {
			_ = alice.WriteLine(fmt.Sprintf("msg %d", i))
		}
	}()
	for i := 0; i < n; i++ {
		s.expectLine(bob, fmt.Sprintf("Alice: msg %d", i))
	}
}

func (s *AcceptorSuite) TestNameTaken() {
	s.start(DefaultConfig())
	alice := s.join("Alice")
	bob := s.join("Bob")

	dup := s.dial()
	s.Require().NoError(dup.WriteLine("Alice"))
	s.expectLine(dup, "ERR name taken: Alice")
	s.expectEOF(dup)

	// 原有会话不受影响。
	s.Require().NoError(alice.WriteLine("still here"))
	s.expectLine(bob, "Alice: still here")
	s.Equal(2, s.registry.Count())
}

func (s *AcceptorSuite) TestConcurrentDuplicate() {
	s.start(DefaultConfig())

	const n = 8
	clients := make([]connection.Connection, n)
	for i := range clients {
		clients[i] = s.dial()
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c connection.Connection) {
			defer wg.Done()
			_ = c.WriteLine("Alice")
		}(c)
	}
	wg.Wait()

	// 恰好 n-1 个连接被拒绝。
	rejected := 0
	for _, c := range clients {
		_ = c.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		line, err := c.ReadLine()
		if err == nil && line == "ERR name taken: Alice" {
			rejected++
		}
	}
	s.Equal(n-1, rejected)
	s.Equal(1, s.registry.Count())
}

func (s *AcceptorSuite) TestInvalidName() {
	cfg := DefaultConfig()
	cfg.MaxNameBytes = 8
	s.start(cfg)

	empty := s.dial()
	s.Require().NoError(empty.WriteLine("   "))
	s.expectLine(empty, "ERR empty name")
	s.expectEOF(empty)

	long := s.dial()
	s.Require().NoError(long.WriteLine(strings.Repeat("x", 9)))
	s.expectLine(long, "ERR name too long")
	s.expectEOF(long)

	s.Equal(0, s.registry.Count())
}

func (s *AcceptorSuite) TestReservedName() {
	s.start(DefaultConfig())

	c := s.dial()
	s.Require().NoError(c.WriteLine("ERR name taken"))
	s.expectLine(c, "ERR reserved name")
	s.expectEOF(c)
	s.Equal(0, s.registry.Count())

	// 仅以 "ERR " 开头的名字被保留。
	s.join("ERRATA")
	s.join("ERR")
	s.Equal(2, s.registry.Count())
}

func (s *AcceptorSuite) TestNameTrimmed() {
	s.start(DefaultConfig())
	c := s.dial()
	s.Require().NoError(c.WriteLine("  Alice  "))
	s.Eventually(func() bool {
		_, ok := s.registry.Lookup("Alice")
		return ok
	}, time.Second, 5*time.Millisecond)
}

func (s *AcceptorSuite) TestDisconnectCleanup() {
	s.start(DefaultConfig())
	alice := s.join("Alice")
	bob := s.join("Bob")

	s.Require().NoError(bob.Close())
	s.Eventually(func() bool {
		_, ok := s.registry.Lookup("Bob")
		return !ok
	}, time.Second, 5*time.Millisecond)
	s.Eventually(func() bool {
		return len(s.rec.closedNames()) == 1
	}, time.Second, 5*time.Millisecond)
	s.Equal([]string{"Bob"}, s.rec.closedNames())

	_, err := s.router.Route(context.Background(), router.RouteRequest{
		Sender: router.OperatorName, Body: "gone?", Target: router.TargetName("Bob"),
	})
	s.ErrorIs(err, merr.ErrRecipientNotFound)

	// 名字释放后可以被重新使用。
	bob = s.join("Bob")
	s.Require().NoError(alice.WriteLine("welcome back"))
	s.expectLine(bob, "Alice: welcome back")
}

func (s *AcceptorSuite) TestServerFull() {
	cfg := DefaultConfig()
	cfg.MaxConnections = 1
	s.start(cfg)

	// 第一个连接尚未发送名字，同样占用名额。
	first := s.dial()
	s.Eventually(func() bool { return s.acceptor.pool.Running() == 1 }, time.Second, 5*time.Millisecond)

	second := s.dial()
	s.expectLine(second, "ERR server full")
	s.expectEOF(second)

	s.Require().NoError(first.WriteLine("Alice"))
	s.Eventually(func() bool { return s.registry.Count() == 1 }, time.Second, 5*time.Millisecond)
}

func (s *AcceptorSuite) TestNameTimeout() {
	cfg := DefaultConfig()
	cfg.NameTimeout = 50 * time.Millisecond
	s.start(cfg)

	c := s.dial()
	s.expectLine(c, "ERR name timeout")
	s.expectEOF(c)
}

func (s *AcceptorSuite) TestIdleTimeout() {
	cfg := DefaultConfig()
	cfg.IdleTimeout = 50 * time.Millisecond
	s.start(cfg)

	c := s.join("Alice")
	s.expectEOF(c)
	s.Eventually(func() bool { return s.registry.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func (s *AcceptorSuite) TestBlankLinesIgnored() {
	s.start(DefaultConfig())
	alice := s.join("Alice")
	bob := s.join("Bob")

	s.Require().NoError(alice.WriteLine(""))
	s.Require().NoError(alice.WriteLine("after blank"))
	s.expectLine(bob, "Alice: after blank")
}

func (s *AcceptorSuite) TestLineTooLong() {
	cfg := DefaultConfig()
	cfg.Connection.MaxLineBytes = 16
	s.start(cfg)

	alice := s.join("Alice")
	s.Require().NoError(alice.WriteLine(strings.Repeat("y", 64)))
	_, err := s.readLine(alice)
	s.Error(err)
	s.Eventually(func() bool { return s.registry.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func (s *AcceptorSuite) TestWriteFailure() {
	cfg := DefaultConfig()
	cfg.Connection.WriteTimeout = 20 * time.Millisecond
	s.start(cfg)

	// Alice 从不读取，写出最终超时。
	s.join("Alice")

	body := strings.Repeat("z", 60*1024)
	failed := false
	for i := 0; i < 400 && !failed; i++ {
		result, err := s.router.Route(context.Background(), router.RouteRequest{
			Sender: router.OperatorName, Body: body,
		})
		s.Require().NoError(err)
		failed = len(result.Failed) > 0
	}
	s.Require().True(failed)

	var cause error
	s.Eventually(func() bool {
		var ok bool
		cause, ok = s.rec.cause("Alice")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	s.ErrorIs(cause, merr.ErrConnectionIO)
	s.NotErrorIs(cause, merr.ErrServerClosed)
	s.Contains(s.rec.stages(), network.StageSend)
	s.Equal(0, s.registry.Count())
}

func (s *AcceptorSuite) TestClose() {
	s.start(DefaultConfig())
	alice := s.join("Alice")
	pending := s.dial()

	s.Require().NoError(s.acceptor.Close())
	s.expectEOF(alice)
	s.expectEOF(pending)
	s.Equal(0, s.registry.Count())

	select {
	case err := <-s.serveErr:
		s.ErrorIs(err, merr.ErrServerClosed)
	case <-time.After(time.Second):
		s.Fail("Serve did not return after Close")
	}
	s.NoError(s.acceptor.Close())
}

func (s *AcceptorSuite) TestContextCancel() {
	s.start(DefaultConfig())
	alice := s.join("Alice")

	s.cancel()
	s.expectEOF(alice)
	select {
	case err := <-s.serveErr:
		s.ErrorIs(err, merr.ErrServerClosed)
	case <-time.After(time.Second):
		s.Fail("Serve did not return after cancel")
	}
}

func (s *AcceptorSuite) TestBindError() {
	s.start(DefaultConfig())
	_, err := NewTCPAcceptor(s.acceptor.Addr().String(), s.registry, s.router, s.rec, DefaultConfig())
	s.ErrorIs(err, merr.ErrBind)

	_, err = NewTCPAcceptor("", s.registry, s.router, s.rec, DefaultConfig())
	s.ErrorIs(err, merr.ErrParameterMissing)

	_, err = NewBaseAcceptor(nil, s.registry, s.router, s.rec, DefaultConfig())
	s.ErrorIs(err, merr.ErrParameterMissing)
}

func (s *AcceptorSuite) TestWebSocketSharesRegistry() {
	s.start(DefaultConfig())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)
	ws, err := NewWSAcceptor(ln, s.registry, s.router, s.rec, DefaultConfig())
	s.Require().NoError(err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wsErr := make(chan error, 1)
	go func() { wsErr <- ws.Serve(ctx) }()
	defer func() { _ = ws.Close() }()

	alice := s.join("Alice")

	wsConn, _, err := websocket.DefaultDialer.Dial("ws://"+ws.Addr().String()+"/ws", nil)
	s.Require().NoError(err)
	bob := connection.NewWebSocket(wsConn, connection.DefaultConfig())
	defer func() { _ = bob.Close() }()

	s.Require().NoError(bob.WriteLine("Bob"))
	s.Eventually(func() bool { return s.registry.Count() == 2 }, time.Second, 5*time.Millisecond)

	s.Require().NoError(alice.WriteLine("over tcp"))
	s.expectLine(bob, "Alice: over tcp")

	s.Require().NoError(bob.WriteLine("over websocket"))
	s.expectLine(alice, "Bob: over websocket")

	// 重名同样在两种接入方式之间生效。
	dupConn, _, err := websocket.DefaultDialer.Dial("ws://"+ws.Addr().String()+"/ws", nil)
	s.Require().NoError(err)
	dup := connection.NewWebSocket(dupConn, connection.DefaultConfig())
	defer func() { _ = dup.Close() }()
	s.Require().NoError(dup.WriteLine("Alice"))
	s.expectLine(dup, "ERR name taken: Alice")

	s.Require().NoError(ws.Close())
	select {
	case err := <-wsErr:
		s.ErrorIs(err, merr.ErrServerClosed)
	case <-time.After(time.Second):
		s.Fail("websocket Serve did not return after Close")
	}
}

func TestAcceptor(t *testing.T) {
	suite.Run(t, new(AcceptorSuite))
}
