package router

// Target 描述一次路由的投递目标：全部会话或某个具名会话。
// 零值 Target 表示广播。
type Target struct {
	direct bool
	name   string
}

// TargetAll 返回投递给全部会话的目标。
func TargetAll() Target {
	return Target{}
}

// TargetName 返回投递给指定名字会话的目标。
func TargetName(name string) Target {
	return Target{direct: true, name: name}
}

// IsAll 判断是否为广播目标。
func (t Target) IsAll() bool {
	return !t.direct
}

// Name 返回定向目标的名字，广播目标返回空串。
func (t Target) Name() string {
	return t.name
}

func (t Target) String() string {
	if t.IsAll() {
		return "all"
	}
	return "name:" + t.name
}
