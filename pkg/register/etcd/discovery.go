package etcd

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/segmentio/encoding/json"
	clientv3 "go.etcd.io/etcd/client/v3"

	"gopherex.com/custody/pkg/register"
)

// Discovery 列出某个服务当前注册的实例
func Discovery(ctx context.Context, client *clientv3.Client, basePath string, serviceName string) ([]register.Instance, error) {
	res, err := client.Get(ctx, fmt.Sprintf("%s/%s/", basePath, serviceName), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	values := make([][]byte, 0, len(res.Kvs))
	for _, kv := range res.Kvs {
		values = append(values, kv.Value)
	}
	return decodeInstances(values), nil
}

// decodeInstances 解析失败的条目直接跳过
func decodeInstances(values [][]byte) []register.Instance {
	out := make([]register.Instance, 0, len(values))
	for _, v := range values {
		var ins register.Instance
		if err := json.Unmarshal(v, &ins); err != nil || ins.Addr == "" {
			continue
		}
		out = append(out, ins)
	}
	return out
}

func PickOne(instances []register.Instance) *register.Instance {
	if len(instances) == 0 {
		return nil
	}
	return &instances[rand.IntN(len(instances))]
}
