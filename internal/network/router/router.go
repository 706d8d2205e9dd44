package router

import (
	"context"
	"time"

	"github.com/lk2023060901/chat-relay-go/internal/network/framer"
	"github.com/lk2023060901/chat-relay-go/internal/network/session"
	"github.com/lk2023060901/chat-relay-go/pkg/metrics"
	"github.com/lk2023060901/chat-relay-go/pkg/util/merr"
	"github.com/lk2023060901/chat-relay-go/pkg/util/typeutil"
)

// OperatorName 为服务器操作员发出消息时使用的发送者名字。
const OperatorName = "server"

// Formatter 将发送者与消息体格式化为写出到对端的一行文本。
type Formatter func(sender, body string) string

// DefaultFormatter 输出 "<sender>: <body>"。
func DefaultFormatter(sender, body string) string {
	return sender + ": " + body
}

// RouteRequest 描述一次路由请求。
type RouteRequest struct {
	// Sender 为发送者名字，操作员发送时为 OperatorName。
	Sender string
	// Body 为消息体，不含行尾。
	Body string
	// Target 为投递目标。
	Target Target
}

// DeliveryFailure 记录单个接收者的投递失败。
type DeliveryFailure struct {
	Name string
	Err  error
}

// DeliveryResult 记录一次路由的投递结果。
//
// 说明：
//   - Delivered 为已成功入队的接收者名字；
//   - Failed 为入队失败的接收者，单个接收者失败不影响其他接收者。
type DeliveryResult struct {
	Delivered []string
	Failed    []DeliveryFailure
}

// Err 将所有投递失败合并为一个错误，没有失败时返回 nil。
func (r DeliveryResult) Err() error {
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, f.Err)
	}
	return merr.Combine(errs...)
}

// Router 负责把一条消息投递给目标会话。
//
// 典型调用链（服务器侧）：
//  1. 连接处理协程读出一行消息，构造 RouteRequest{Target: TargetAll()}；
//  2. Router 在路由时刻对 Registry 取快照，逐个查找会话并调用 Session.Send；
//  3. Session.Send 只负责入队，真正的写出在各会话的发送协程中完成。
type Router interface {
	// Route 处理一次路由请求。
	//
	// 返回：
	//   - 定向发送的目标不存在时返回 merr.ErrRecipientNotFound，且不会写出任何数据；
	//   - 单个接收者的失败只记录在 DeliveryResult.Failed 中，不作为返回错误。
	Route(ctx context.Context, req RouteRequest) (DeliveryResult, error)
}

// Config 描述路由行为。
type Config struct {
	// EchoToSender 为 true 时广播也会投递给发送者自己。
	EchoToSender bool

	// Formatter 为写出格式，为 nil 时使用 DefaultFormatter。
	Formatter Formatter
}

// defaultRouter 是 Router 接口的基础实现。
type defaultRouter struct {
	registry session.Registry
	cfg      Config
}

// 编译期断言：确保 defaultRouter 实现了 Router 接口。
var _ Router = (*defaultRouter)(nil)

// New 创建一个基于给定 Registry 的 Router 实例。
func New(registry session.Registry, cfg Config) Router {
	if cfg.Formatter == nil {
		cfg.Formatter = DefaultFormatter
	}
	return &defaultRouter{
		registry: registry,
		cfg:      cfg,
	}
}

// Route 实现 Router.Route。
func (r *defaultRouter) Route(ctx context.Context, req RouteRequest) (DeliveryResult, error) {
	if err := ctx.Err(); err != nil {
		return DeliveryResult{}, err
	}

	label := metrics.TargetAll
	if !req.Target.IsAll() {
		label = metrics.TargetName
	}
	start := time.Now()
	defer func() {
		metrics.MessagesRouted.WithLabelValues(label).Inc()
		metrics.RouteLatency.WithLabelValues(label).Observe(float64(time.Since(start).Microseconds()) / 1000)
	}()

	line := framer.Sanitize(r.cfg.Formatter(req.Sender, req.Body))

	if !req.Target.IsAll() {
		name := req.Target.Name()
		sess, ok := r.registry.Lookup(name)
		if !ok {
			metrics.DeliveryFailures.WithLabelValues(metrics.ReasonRecipientMissing).Inc()
			return DeliveryResult{}, merr.WrapErrRecipientNotFound(name)
		}
		var result DeliveryResult
		r.deliver(&result, sess, line)
		return result, nil
	}

	// 路由时刻的名字快照，排序后投递以保证结果稳定。
	names := typeutil.Sorted(r.registry.SnapshotNames())
	result := DeliveryResult{Delivered: make([]string, 0, len(names))}
	for _, name := range names {
		// 操作员不是会话，同名客户端照常接收。
		if name == req.Sender && req.Sender != OperatorName && !r.cfg.EchoToSender {
			continue
		}
		sess, ok := r.registry.Lookup(name)
		if !ok {
			// 快照之后已断开。
			continue
		}
		r.deliver(&result, sess, line)
	}
	return result, nil
}

func (r *defaultRouter) deliver(result *DeliveryResult, sess session.Session, line string) {
	if err := sess.Send(line); err != nil {
		reason := metrics.ReasonSessionClosed
		if merr.Code(err) == merr.Code(merr.ErrSendQueueFull) {
			reason = metrics.ReasonQueueFull
		}
		metrics.DeliveryFailures.WithLabelValues(reason).Inc()
		result.Failed = append(result.Failed, DeliveryFailure{Name: sess.Name(), Err: err})
		return
	}
	metrics.LinesDelivered.Inc()
	result.Delivered = append(result.Delivered, sess.Name())
}
