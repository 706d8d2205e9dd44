package session

import (
	"sync"

	"github.com/lk2023060901/chat-relay-go/pkg/util/merr"
	"github.com/lk2023060901/chat-relay-go/pkg/util/typeutil"
)

// BaseRegistry 提供了基于内存 map 的 Registry 实现。
//
// 特性：
//   - 使用读写锁保证并发安全；
//   - Register 在遇到重复名字时返回错误，避免覆盖旧会话；
//   - Range 与观察者回调都在释放锁之后执行。
type BaseRegistry struct {
	mu       sync.RWMutex
	sessions map[string]Session

	obsMu     sync.RWMutex
	observers []Observer
}

// 确保 BaseRegistry 实现了 Registry 接口。
var _ Registry = (*BaseRegistry)(nil)

// NewBaseRegistry 创建一个空的 BaseRegistry。
func NewBaseRegistry() *BaseRegistry {
	return &BaseRegistry{
		sessions: make(map[string]Session),
	}
}

// Register 实现 Registry.Register。
func (r *BaseRegistry) Register(sess Session) error {
	if sess == nil {
		return merr.WrapErrParameterMissing("session")
	}
	name := sess.Name()
	if name == "" {
		return merr.WrapErrNameInvalid(name, "empty name")
	}

	r.mu.Lock()
	if _, exists := r.sessions[name]; exists {
		r.mu.Unlock()
		return merr.WrapErrNameTaken(name)
	}
	r.sessions[name] = sess
	r.mu.Unlock()

	r.notify(RegistryEvent{Kind: EventRegistered, Name: name, Session: sess})
	return nil
}

// Unregister 实现 Registry.Unregister。
func (r *BaseRegistry) Unregister(name string) {
	r.mu.Lock()
	sess, exists := r.sessions[name]
	if !exists {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, name)
	r.mu.Unlock()

	r.notify(RegistryEvent{Kind: EventUnregistered, Name: name, Session: sess})
}

// Lookup 实现 Registry.Lookup。
func (r *BaseRegistry) Lookup(name string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[name]
	return sess, ok
}

// SnapshotNames 实现 Registry.SnapshotNames。
func (r *BaseRegistry) SnapshotNames() typeutil.Set[string] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make(typeutil.Set[string], len(r.sessions))
	for name := range r.sessions {
		names.Insert(name)
	}
	return names
}

// Names 实现 Registry.Names。
func (r *BaseRegistry) Names() []string {
	return typeutil.Sorted(r.SnapshotNames())
}

// Range 实现 Registry.Range。
func (r *BaseRegistry) Range(fn func(sess Session) bool) {
	if fn == nil {
		return
	}

	r.mu.RLock()
	snapshot := make([]Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		snapshot = append(snapshot, sess)
	}
	r.mu.RUnlock()

	for _, sess := range snapshot {
		if !fn(sess) {
			return
		}
	}
}

// Count 实现 Registry.Count。
func (r *BaseRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Watch 实现 Registry.Watch。
func (r *BaseRegistry) Watch(obs Observer) {
	if obs == nil {
		return
	}
	r.obsMu.Lock()
	r.observers = append(r.observers, obs)
	r.obsMu.Unlock()
}

func (r *BaseRegistry) notify(event RegistryEvent) {
	r.obsMu.RLock()
	observers := make([]Observer, len(r.observers))
	copy(observers, r.observers)
	r.obsMu.RUnlock()

	for _, obs := range observers {
		obs(event)
	}
}
