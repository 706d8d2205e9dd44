package session

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/chat-relay-go/internal/network/connection"
	"github.com/lk2023060901/chat-relay-go/pkg/log"
	"github.com/lk2023060901/chat-relay-go/pkg/util/conc"
	"github.com/lk2023060901/chat-relay-go/pkg/util/merr"
)

// Config 描述会话的发送配置。
type Config struct {
	// SendQueueSize 为每个会话发送队列的容量。
	SendQueueSize int

	// SendTimeout 为发送队列已满时的最长等待时间，为 0 表示立即失败。
	SendTimeout time.Duration
}

// defaultSendQueueSize 为每个会话的发送队列容量。
const defaultSendQueueSize = 256

// DefaultConfig 返回默认的会话配置。
func DefaultConfig() Config {
	return Config{
		SendQueueSize: defaultSendQueueSize,
		SendTimeout:   time.Second,
	}
}

// BaseSession 提供了 Session 接口的基础实现。
//
// 设计目标：
//   - 封装最小但完整的会话能力：名字、Context、地址信息、发送与关闭；
//   - 发送队列 + 独立发送协程保证同一连接上的写出不交叉，且慢速对端不会阻塞路由方；
//   - 默认实现 OnConnected/OnDisconnected 仅输出日志，方便在自定义 Session 中嵌入并覆写。
type BaseSession struct {
	log.Binder

	id   string
	name string

	ctx    context.Context
	cancel context.CancelFunc

	conn connection.Connection

	connectedAt time.Time

	// sendQueue 为待发送行的队列。
	//   - Send 仅负责将行投递到该队列；
	//   - 独立的发送协程按 FIFO 顺序取出并写出到底层连接；
	//   - 队列永不关闭，发送协程通过 ctx 退出，避免向已关闭 channel 写入。
	sendQueue   chan string
	sendTimeout time.Duration

	sendDone *conc.Future[struct{}]

	// closeErr 为写出失败导致会话关闭时的原因。
	closeErr  atomic.Error
	closeOnce sync.Once
}

// 确保 BaseSession 实现了 Session 接口。
var _ Session = (*BaseSession)(nil)

// NewBaseSession 创建一个基于 Connection 的基础 Session 实例，并启动发送协程。
//
// 参数：
//   - parent：会话所属的上层上下文（例如 Acceptor 的 Serve ctx）；若为 nil，则使用 context.Background()；
//   - name  ：客户端声明的显示名；
//   - conn  ：底层连接，会话关闭时一并关闭；
//   - cfg   ：发送队列配置。
func NewBaseSession(parent context.Context, name string, conn connection.Connection, cfg Config) *BaseSession {
	if parent == nil {
		parent = context.Background()
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaultSendQueueSize
	}
	ctx, cancel := context.WithCancel(parent)

	s := &BaseSession{
		id:          uuid.NewString(),
		name:        name,
		ctx:         ctx,
		cancel:      cancel,
		conn:        conn,
		connectedAt: time.Now(),
		sendQueue:   make(chan string, cfg.SendQueueSize),
		sendTimeout: cfg.SendTimeout,
	}
	s.SetLogger(log.With(
		log.FieldComponent("session"),
		log.FieldConnID(s.id),
		log.FieldName(name),
		log.FieldRemote(conn.RemoteAddr()),
	))

	s.sendDone = conc.Go(func() (struct{}, error) {
		s.sendLoop()
		return struct{}{}, nil
	})

	return s
}

// ID 实现 Session.ID。
func (s *BaseSession) ID() string {
	return s.id
}

// Name 实现 Session.Name。
func (s *BaseSession) Name() string {
	return s.name
}

// Context 实现 Session.Context。
func (s *BaseSession) Context() context.Context {
	return s.ctx
}

// RemoteAddr 实现 Session.RemoteAddr。
func (s *BaseSession) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// LocalAddr 实现 Session.LocalAddr。
func (s *BaseSession) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Transport 实现 Session.Transport。
func (s *BaseSession) Transport() string {
	return s.conn.Transport()
}

// ConnectedAt 实现 Session.ConnectedAt。
func (s *BaseSession) ConnectedAt() time.Time {
	return s.connectedAt
}

// Send 实现 Session.Send。
func (s *BaseSession) Send(line string) error {
	if s.ctx.Err() != nil {
		return merr.WrapErrSessionClosed(s.name)
	}

	// 快路径：队列未满时直接入队。
	select {
	case s.sendQueue <- line:
		return nil
	default:
	}

	if s.sendTimeout <= 0 {
		return merr.WrapErrSendQueueFull(s.name, cap(s.sendQueue))
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()

	select {
	case <-s.ctx.Done():
		return merr.WrapErrSessionClosed(s.name)
	case s.sendQueue <- line:
		return nil
	case <-timer.C:
		return merr.WrapErrSendQueueFull(s.name, cap(s.sendQueue))
	}
}

// Close 实现 Session.Close。
func (s *BaseSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		// 先取消上下文，再关闭连接。
		s.cancel()
		err = s.conn.Close()
	})
	return err
}

// Err 实现 Session.Err。
func (s *BaseSession) Err() error {
	return s.closeErr.Load()
}

// OnConnected 默认实现仅输出日志，方便在自定义 Session 中覆写。
func (s *BaseSession) OnConnected() {
	s.Logger().Info("session connected", zap.String("transport", s.Transport()))
}

// OnDisconnected 默认实现仅输出日志，方便在自定义 Session 中覆写。
func (s *BaseSession) OnDisconnected(err error) {
	s.Logger().Info("session disconnected",
		zap.Duration("duration", time.Since(s.connectedAt)),
		zap.Error(err))
}

// Wait 等待发送协程退出，仅在 Close 之后调用才会返回。
func (s *BaseSession) Wait() {
	_, _ = s.sendDone.Await()
}

// sendLoop 为每个会话启动的专职发送协程。
//
// 行为：
//   - 从 sendQueue 中按顺序取出待发送行并写出；
//   - 写出失败视为会话异常，先记录原因再关闭底层连接，由读协程通过 Err 感知并触发上层清理。
func (s *BaseSession) sendLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case line := <-s.sendQueue:
			if err := s.conn.WriteLine(line); err != nil {
				s.closeErr.Store(err)
				s.Logger().RatedWarn(1, "write line failed, closing session",
					zap.Int("dropped", len(s.sendQueue)),
					zap.Error(err))
				_ = s.Close()
				return
			}
		}
	}
}
