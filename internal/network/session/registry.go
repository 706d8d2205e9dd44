package session

import (
	"github.com/lk2023060901/chat-relay-go/pkg/util/typeutil"
)

// EventKind 表示 Registry 的变更类型。
type EventKind int

const (
	EventRegistered EventKind = iota + 1
	EventUnregistered
)

func (k EventKind) String() string {
	switch k {
	case EventRegistered:
		return "registered"
	case EventUnregistered:
		return "unregistered"
	default:
		return "unknown"
	}
}

// RegistryEvent 描述一次成功的注册或移除。
type RegistryEvent struct {
	Kind    EventKind
	Name    string
	Session Session
}

// Observer 在 Registry 发生变更后被调用。
//
// 说明：
//   - 在变更完成且释放锁之后调用，回调中可以安全地再次访问 Registry；
//   - 并发变更时，不同名字之间的通知顺序不作保证。
type Observer func(event RegistryEvent)

// Registry 维护当前所有已命名会话的索引。
//
// 职责说明：
//   - 只负责会话的注册、查询和移除，不直接创建或关闭底层连接；
//   - Session 的具体生命周期由上层的 acceptor 决定；
//   - 路由层基于 Registry 实现广播与按名定向发送。
type Registry interface {
	// Register 将一个已创建好的 Session 以其 Name 注册到索引中。
	//
	// 要求：
	//   - 名字为空时返回 merr.ErrNameInvalid；
	//   - 名字已存在时返回 merr.ErrNameTaken，且不会覆盖旧会话。
	Register(sess Session) error

	// Unregister 移除指定名字的会话，名字不存在时不做任何事。
	//
	// 说明：
	//   - 仅删除索引，不负责调用 sess.Close()。
	Unregister(name string)

	// Lookup 根据名字查找会话。
	Lookup(name string) (Session, bool)

	// SnapshotNames 返回调用时刻所有已注册名字的副本。
	SnapshotNames() typeutil.Set[string]

	// Names 返回按字典序排列的名字列表，便于展示。
	Names() []string

	// Range 遍历当前所有会话。
	//
	// 参数：
	//   - fn：回调函数，返回 false 时中断遍历。
	Range(fn func(sess Session) bool)

	// Count 返回当前已注册的会话数量。
	Count() int

	// Watch 订阅 Registry 的变更通知。
	Watch(obs Observer)
}
