package session

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/chat-relay-go/internal/network/connection"
	"github.com/lk2023060901/chat-relay-go/pkg/util/merr"
)

// newTestSession 创建一个基于 net.Pipe 的会话，返回对端 Connection 供断言读取。
func newTestSession(t *testing.T, name string, cfg Config) (*BaseSession, connection.Connection) {
	t.Helper()
	a, b := net.Pipe()
	sess := NewBaseSession(context.Background(), name, connection.NewTCP(a, connection.DefaultConfig()), cfg)
	peer := connection.NewTCP(b, connection.DefaultConfig())
	t.Cleanup(func() {
		_ = sess.Close()
		_ = peer.Close()
	})
	return sess, peer
}

type RegistrySuite struct {
	suite.Suite
	registry *BaseRegistry
}

func (s *RegistrySuite) SetupTest() {
	s.registry = NewBaseRegistry()
}

func (s *RegistrySuite) TestRegisterLookup() {
	alice, _ := newTestSession(s.T(), "Alice", DefaultConfig())
	s.Require().NoError(s.registry.Register(alice))

	got, ok := s.registry.Lookup("Alice")
	s.True(ok)
	s.Same(alice, got)
	s.Equal(1, s.registry.Count())

	_, ok = s.registry.Lookup("Bob")
	s.False(ok)
}

func (s *RegistrySuite) TestRegisterDuplicate() {
	first, _ := newTestSession(s.T(), "Alice", DefaultConfig())
	second, _ := newTestSession(s.T(), "Alice", DefaultConfig())

	s.Require().NoError(s.registry.Register(first))
	err := s.registry.Register(second)
	s.ErrorIs(err, merr.ErrNameTaken)

	// 旧会话保持不变。
	got, ok := s.registry.Lookup("Alice")
	s.True(ok)
	s.Same(first, got)
	s.Equal(1, s.registry.Count())
}

func (s *RegistrySuite) TestRegisterInvalid() {
	empty, _ := newTestSession(s.T(), "", DefaultConfig())
	s.ErrorIs(s.registry.Register(empty), merr.ErrNameInvalid)
	s.ErrorIs(s.registry.Register(nil), merr.ErrParameterMissing)
	s.Equal(0, s.registry.Count())
}

func (s *RegistrySuite) TestUnregister() {
	alice, _ := newTestSession(s.T(), "Alice", DefaultConfig())
	s.Require().NoError(s.registry.Register(alice))

	s.registry.Unregister("Alice")
	_, ok := s.registry.Lookup("Alice")
	s.False(ok)

	// 不存在的名字不做任何事。
	s.NotPanics(func() { s.registry.Unregister("Alice") })
	s.Equal(0, s.registry.Count())

	// 名字释放后可以再次注册。
	again, _ := newTestSession(s.T(), "Alice", DefaultConfig())
	s.NoError(s.registry.Register(again))
}

func (s *RegistrySuite) TestSnapshotNames() {
	for _, name := range []string{"Carol", "Alice", "Bob"} {
		sess, _ := newTestSession(s.T(), name, DefaultConfig())
		s.Require().NoError(s.registry.Register(sess))
	}

	snapshot := s.registry.SnapshotNames()
	s.registry.Unregister("Bob")

	// 快照不随后续变更而变化。
	s.True(snapshot.Contain("Alice", "Bob", "Carol"))
	s.Equal([]string{"Alice", "Carol"}, s.registry.Names())

	count := 0
	s.registry.Range(func(Session) bool {
		count++
		return false
	})
	s.Equal(1, count)
}

func (s *RegistrySuite) TestConcurrentRegister() {
	const n = 64
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		sess, _ := newTestSession(s.T(), fmt.Sprintf("user-%d", i), DefaultConfig())
		wg.Add(1)
		go func(i int, sess Session) {
			defer wg.Done()
			errs[i] = s.registry.Register(sess)
		}(i, sess)
	}
	wg.Wait()

	for _, err := range errs {
		s.NoError(err)
	}
	s.Equal(n, s.registry.Count())
	s.Len(s.registry.SnapshotNames(), n)
}

func (s *RegistrySuite) TestConcurrentDuplicate() {
	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		sess, _ := newTestSession(s.T(), "Alice", DefaultConfig())
		wg.Add(1)
		go func(i int, sess Session) {
			defer wg.Done()
			errs[i] = s.registry.Register(sess)
		}(i, sess)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		s.ErrorIs(err, merr.ErrNameTaken)
	}
	s.Equal(1, succeeded)
	s.Equal(1, s.registry.Count())
}

func (s *RegistrySuite) TestWatch() {
	var (
		mu     sync.Mutex
		events []RegistryEvent
	)
	s.registry.Watch(func(event RegistryEvent) {
		// 回调中访问 Registry 不会死锁。
		_ = s.registry.Count()
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	})
	s.registry.Watch(nil)

	alice, _ := newTestSession(s.T(), "Alice", DefaultConfig())
	s.Require().NoError(s.registry.Register(alice))
	s.Error(s.registry.Register(alice))
	s.registry.Unregister("Alice")
	s.registry.Unregister("Alice")

	mu.Lock()
	defer mu.Unlock()
	s.Require().Len(events, 2)
	s.Equal(EventRegistered, events[0].Kind)
	s.Equal("Alice", events[0].Name)
	s.Same(alice, events[0].Session)
	s.Equal(EventUnregistered, events[1].Kind)
	s.Equal("unregistered", events[1].Kind.String())
}

func TestRegistry(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func TestSessionSendOrder(t *testing.T) {
	sess, peer := newTestSession(t, "Alice", DefaultConfig())
	assert.NotEmpty(t, sess.ID())
	assert.Equal(t, "Alice", sess.Name())

	for i := 0; i < 20; i++ {
		require.NoError(t, sess.Send(fmt.Sprintf("line %d", i)))
	}
	for i := 0; i < 20; i++ {
		line, err := peer.ReadLine()
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("line %d", i), line)
	}
}

func TestSessionSendQueueFull(t *testing.T) {
	// 对端不读取，发送协程阻塞在第一行上，队列随后被填满。
	sess, _ := newTestSession(t, "Slow", Config{SendQueueSize: 1, SendTimeout: 10 * time.Millisecond})

	var err error
	for i := 0; i < 5 && err == nil; i++ {
		err = sess.Send("payload")
	}
	assert.ErrorIs(t, err, merr.ErrSendQueueFull)
	assert.True(t, merr.IsRetryableErr(err))
}

func TestSessionClosed(t *testing.T) {
	sess, peer := newTestSession(t, "Alice", DefaultConfig())

	require.NoError(t, sess.Close())
	assert.NoError(t, sess.Close())
	assert.ErrorIs(t, sess.Send("late"), merr.ErrSessionClosed)
	sess.Wait()

	select {
	case <-sess.Context().Done():
	default:
		t.Fatal("context not cancelled after Close")
	}

	_, err := peer.ReadLine()
	assert.Error(t, err)
}

func TestSessionWriteFailureCloses(t *testing.T) {
	sess, peer := newTestSession(t, "Alice", DefaultConfig())
	require.NoError(t, peer.Close())

	require.NoError(t, sess.Send("nobody listening"))
	sess.Wait()
	assert.Error(t, sess.Context().Err())
}
