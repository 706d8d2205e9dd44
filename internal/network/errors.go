package network

// Stage 表示连接处理链路中的阶段。
//
// 主要用于在回调中标记错误发生的位置，便于监控与排查。
type Stage string

const (
	StageAccept Stage = "accept" // 接受连接、提交协程池
	StageName   Stage = "name"   // 读取并登记显示名
	StageRecv   Stage = "recv"   // 读取消息行
	StageRoute  Stage = "route"  // 消息行 -> 路由投递
	StageSend   Stage = "send"   // 写出到对端
)

func (s Stage) String() string {
	return string(s)
}
