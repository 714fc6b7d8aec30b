package register

import "context"

// Instance 注册到 etcd 的实例信息，Addr 是 gRPC 地址
type Instance struct {
	ID       string            `json:"id"`   // 默认 服务名-ip:port
	Name     string            `json:"name"` // 服务名称 eg:"custody-service"
	Addr     string            `json:"addr"` // ip:port
	MetaData map[string]string `json:"metadata,omitempty"`
}

type Register interface {
	Register(ctx context.Context, ins *Instance) error
	UnRegister(ctx context.Context, ins *Instance) error
}
