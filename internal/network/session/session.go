package session

import (
	"context"
	"net"
	"time"
)

// Session 抽象了一个已通过名字握手的客户端会话。
//
// 约定：
//   - 每个 Session 独占一条底层 Connection；
//   - Name 在会话注册期间全局唯一，由 Registry 保证；
//   - ID 为连接级别的唯一标识（uuid），仅用于日志与运维，不参与路由。
type Session interface {
	// ID 返回该会话底层连接的唯一标识。
	ID() string

	// Name 返回客户端声明的显示名。
	Name() string

	// Context 返回与该会话关联的上下文。
	//
	// 说明：
	//   - 会话关闭时触发 Context.Done()；
	//   - 由接入层的 Serve ctx 派生，服务关闭时级联取消。
	Context() context.Context

	// RemoteAddr 返回远端地址（客户端地址）。
	RemoteAddr() net.Addr

	// LocalAddr 返回本端地址（服务器监听地址）。
	LocalAddr() net.Addr

	// Transport 返回底层传输类型。
	Transport() string

	// ConnectedAt 返回会话创建时间。
	ConnectedAt() time.Time

	// Send 将一行文本投递到会话的发送队列。
	//
	// 行为：
	//   - 仅负责入队，真正的写出由会话专属的发送协程完成；
	//   - 队列已满时最多等待 SendTimeout，超时返回 merr.ErrSendQueueFull；
	//   - 会话已关闭时返回 merr.ErrSessionClosed。
	Send(line string) error

	// Err 返回会话因写出失败而关闭的原因（merr.ErrConnectionIO）。
	// 会话仍存活或正常关闭时返回 nil。
	Err() error

	// Close 主动关闭该会话及底层连接，多次调用是幂等的。
	Close() error

	// OnConnected 在会话注册成功后被调用一次。
	OnConnected()

	// OnDisconnected 在会话结束时被调用。
	//
	// 参数：
	//   - err 为断开原因；正常关闭时可为 nil。
	OnDisconnected(err error)
}
