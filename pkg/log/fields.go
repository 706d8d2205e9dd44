package log

import (
	"net"

	"go.uber.org/zap"
)

const (
	FieldNameModule    = "module"
	FieldNameComponent = "component"
	FieldNameConnID    = "conn_id"
	FieldNameName      = "name"
	FieldNameRemote    = "remote"
)

// FieldModule 返回一个包含模块名的 zap 字段。
func FieldModule(module string) zap.Field {
	return zap.String(FieldNameModule, module)
}

// FieldComponent 返回一个包含组件名的 zap 字段。
func FieldComponent(component string) zap.Field {
	return zap.String(FieldNameComponent, component)
}

// FieldConnID 返回一个包含连接 ID 的 zap 字段。
func FieldConnID(id string) zap.Field {
	return zap.String(FieldNameConnID, id)
}

// FieldName 返回一个包含会话显示名的 zap 字段。
func FieldName(name string) zap.Field {
	return zap.String(FieldNameName, name)
}

// FieldRemote 返回一个包含远端地址的 zap 字段，addr 为 nil 时输出空串。
func FieldRemote(addr net.Addr) zap.Field {
	if addr == nil {
		return zap.String(FieldNameRemote, "")
	}
	return zap.String(FieldNameRemote, addr.String())
}
