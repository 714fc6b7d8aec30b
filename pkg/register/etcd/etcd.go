package etcd

import (
	"context"
	"fmt"

	"github.com/segmentio/encoding/json"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"gopherex.com/custody/pkg/logger"
	"gopherex.com/custody/pkg/register"
)

type EtcdRegister struct {
	client   *clientv3.Client
	basePath string // 比如 "/custody/services"
	ttl      int64  // 租约秒数
	leaseID  clientv3.LeaseID
}

var _ register.Register = (*EtcdRegister)(nil)

func NewEtcdRegister(c *clientv3.Client, basePath string, ttl int64) *EtcdRegister {
	if ttl <= 0 {
		ttl = 10
	}
	return &EtcdRegister{
		client:   c,
		basePath: basePath,
		ttl:      ttl,
	}
}

// InstanceKey {basePath}/{name}/{id}
func InstanceKey(basePath string, ins *register.Instance) string {
	return fmt.Sprintf("%s/%s/%s", basePath, ins.Name, ins.ID)
}

func (e *EtcdRegister) Register(ctx context.Context, ins *register.Instance) error {
	lease, err := e.client.Grant(ctx, e.ttl)
	if err != nil {
		return fmt.Errorf("grant lease: %w", err)
	}
	e.leaseID = lease.ID

	val, err := json.Marshal(ins)
	if err != nil {
		return err
	}
	key := InstanceKey(e.basePath, ins)
	if _, err = e.client.Put(ctx, key, string(val), clientv3.WithLease(e.leaseID)); err != nil {
		return fmt.Errorf("put instance: %w", err)
	}

	ch, err := e.client.KeepAlive(ctx, e.leaseID)
	if err != nil {
		return fmt.Errorf("keepalive: %w", err)
	}
	go e.drain(ctx, key, ch)
	logger.Info(ctx, "instance registered", zap.String("key", key), zap.String("addr", ins.Addr))
	return nil
}

func (e *EtcdRegister) UnRegister(ctx context.Context, ins *register.Instance) error {
	if _, err := e.client.Delete(ctx, InstanceKey(e.basePath, ins)); err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	if _, err := e.client.Revoke(ctx, e.leaseID); err != nil {
		return fmt.Errorf("revoke lease: %w", err)
	}
	return nil
}

// drain 必须消费续约应答，否则 channel 堆满后客户端会打告警
func (e *EtcdRegister) drain(ctx context.Context, key string, ch <-chan *clientv3.LeaseKeepAliveResponse) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				logger.Warn(ctx, "etcd lease keepalive stopped", zap.String("key", key), zap.Int64("lease", int64(e.leaseID)))
				return
			}
		}
	}
}
