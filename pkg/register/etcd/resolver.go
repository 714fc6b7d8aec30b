package etcd

import (
	"context"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"google.golang.org/grpc/resolver"

	"gopherex.com/custody/pkg/logger"
)

// Scheme 拨号地址形如 custody:///custody-service
const Scheme = "custody"

type etcdBuilder struct {
	cli      *clientv3.Client
	basePath string
}

func NewBuilder(cli *clientv3.Client, basePath string) resolver.Builder {
	return &etcdBuilder{cli: cli, basePath: basePath}
}

func (e *etcdBuilder) Build(target resolver.Target, cc resolver.ClientConn, _ resolver.BuildOptions) (resolver.Resolver, error) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &etcdResolver{
		cli:    e.cli,
		prefix: fmt.Sprintf("%s/%s/", e.basePath, target.Endpoint()),
		cc:     cc,
		ctx:    ctx,
		cancel: cancel,
	}
	// 首次拉取失败不报错，等 watch 事件再刷新
	if err := r.update(); err != nil {
		logger.Warn(ctx, "resolve instances failed", zap.String("prefix", r.prefix), zap.Error(err))
	}
	go r.watch()
	return r, nil
}

func (e *etcdBuilder) Scheme() string { return Scheme }

type etcdResolver struct {
	cli    *clientv3.Client
	prefix string
	cc     resolver.ClientConn
	ctx    context.Context
	cancel context.CancelFunc
}

func (r *etcdResolver) ResolveNow(resolver.ResolveNowOptions) { _ = r.update() }

func (r *etcdResolver) Close() { r.cancel() }

func (r *etcdResolver) update() error {
	resp, err := r.cli.Get(r.ctx, r.prefix, clientv3.WithPrefix())
	if err != nil {
		r.cc.ReportError(err)
		return err
	}
	values := make([][]byte, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		values = append(values, kv.Value)
	}
	addrs := make([]resolver.Address, 0, len(values))
	for _, ins := range decodeInstances(values) {
		addrs = append(addrs, resolver.Address{Addr: ins.Addr, ServerName: ins.Name})
	}
	return r.cc.UpdateState(resolver.State{Addresses: addrs})
}

func (r *etcdResolver) watch() {
	ch := r.cli.Watch(r.ctx, r.prefix, clientv3.WithPrefix())
	for {
		select {
		case <-r.ctx.Done():
			return
		case resp, ok := <-ch:
			if !ok {
				return
			}
			if err := resp.Err(); err != nil {
				logger.Warn(r.ctx, "etcd watch error", zap.String("prefix", r.prefix), zap.Error(err))
				continue
			}
			_ = r.update()
		}
	}
}
