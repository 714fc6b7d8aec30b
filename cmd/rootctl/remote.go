package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/encoding/json"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/resolver"
	"google.golang.org/protobuf/types/known/structpb"

	"gopherex.com/custody/internal/app"
	"gopherex.com/custody/internal/transport/rpc"
	"gopherex.com/custody/pkg/interceptor"
	"gopherex.com/custody/pkg/ratelimit"
	"gopherex.com/custody/pkg/register/etcd"
)

func etcdClient(cfg *app.Config) (*clientv3.Client, error) {
	if len(cfg.Etcd.Endpoints) == 0 {
		return nil, errors.New("etcd.endpoints is not configured")
	}
	return clientv3.New(clientv3.Config{
		Endpoints:   cfg.Etcd.Endpoints,
		DialTimeout: 5 * time.Second,
	})
}

func cmdInstances(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("instances", flag.ContinueOnError)
	pick := fs.Bool("pick", false, "print one random instance only")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cli, err := etcdClient(cfg)
	if err != nil {
		return err
	}
	defer cli.Close()

	list, err := etcd.Discovery(ctx, cli, cfg.Etcd.Prefix(), cfg.Base().Name)
	if err != nil {
		return err
	}
	if *pick {
		ins := etcd.PickOne(list)
		if ins == nil {
			return errors.New("no instance registered")
		}
		_, err = fmt.Fprintf(out, "%s\t%s\t%s\n", ins.ID, ins.Addr, ins.MetaData["http"])
		return err
	}
	for _, ins := range list {
		if _, err := fmt.Fprintf(out, "%s\t%s\t%s\n", ins.ID, ins.Addr, ins.MetaData["http"]); err != nil {
			return err
		}
	}
	return nil
}

// dial addr 为空时通过 etcd 解析并在实例间轮询
func dial(addr string) (*grpc.ClientConn, string, func(), error) {
	name := app.ServiceName
	target := addr
	cleanup := func() {}
	if target == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, "", nil, err
		}
		name = cfg.Base().Name
		cli, err := etcdClient(cfg)
		if err != nil {
			return nil, "", nil, err
		}
		resolver.Register(etcd.NewBuilder(cli, cfg.Etcd.Prefix()))
		target = etcd.Scheme + ":///" + name
		cleanup = func() { _ = cli.Close() }
	}

	breakers := ratelimit.NewManager(ratelimit.Rule{TripConsecutiveFailures: 3}, nil)
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithDefaultServiceConfig(`{"loadBalancingPolicy": "round_robin"}`),
		grpc.WithChainUnaryInterceptor(
			interceptor.RequestIDUnary(),
			interceptor.TimeOutInterceptor(5*time.Second),
			interceptor.CircuitBreakerUnaryClient(breakers, name),
		),
	)
	if err != nil {
		cleanup()
		return nil, "", nil, err
	}
	return conn, name, func() { _ = conn.Close(); cleanup() }, nil
}

func cmdHealth(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	addr := fs.String("addr", "", "grpc address, empty to resolve via etcd")
	if err := fs.Parse(args); err != nil {
		return err
	}
	conn, name, closeFn, err := dial(*addr)
	if err != nil {
		return err
	}
	defer closeFn()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: name})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, resp.GetStatus().String())
	return err
}

func cmdBalances(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("balances", flag.ContinueOnError)
	addr := fs.String("addr", "", "grpc address, empty to resolve via etcd")
	userID := fs.Int64("user", 0, "user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID <= 0 {
		return errors.New("-user is required")
	}
	conn, _, closeFn, err := dial(*addr)
	if err != nil {
		return err
	}
	defer closeFn()

	in, err := structpb.NewStruct(map[string]any{"user_id": *userID})
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := conn.Invoke(ctx, rpc.MethodListBalances, in, resp); err != nil {
		return err
	}
	b, err := json.MarshalIndent(resp.AsMap(), "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(b))
	return err
}
