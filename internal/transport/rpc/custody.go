package rpc

import (
	"context"

	"github.com/segmentio/encoding/json"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"gopherex.com/custody/internal/account/model"
	"gopherex.com/custody/internal/wallet/encoder"
	"gopherex.com/custody/internal/wallet/service"
	"gopherex.com/custody/internal/watcher/domain"
	"gopherex.com/custody/internal/watcher/repo"
	"gopherex.com/custody/pkg/xerr"
)

// 内部服务间调用的接口，报文用 google.protobuf.Struct，字段和 HTTP 接口一致
const (
	ServiceName           = "custody.v1.Custody"
	MethodAllocateAddress = "/" + ServiceName + "/AllocateAddress"
	MethodListBalances    = "/" + ServiceName + "/ListBalances"
	MethodListDeposits    = "/" + ServiceName + "/ListDeposits"
)

type Allocator interface {
	Allocate(ctx context.Context, req service.AllocateRequest) (*service.AllocationResult, error)
}

type BalanceQuery interface {
	ListBalances(ctx context.Context, userID int64) ([]*model.UserBalance, error)
}

type DepositQuery interface {
	ListDeposits(ctx context.Context, f repo.DepositFilter) ([]*domain.DepositTransaction, int64, error)
}

type CustodyServer interface {
	AllocateAddress(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	ListBalances(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	ListDeposits(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type Custody struct {
	allocator Allocator
	balances  BalanceQuery
	deposits  DepositQuery
}

var _ CustodyServer = (*Custody)(nil)

func NewCustody(a Allocator, b BalanceQuery, d DepositQuery) *Custody {
	return &Custody{allocator: a, balances: b, deposits: d}
}

func RegisterCustody(s grpc.ServiceRegistrar, srv CustodyServer) {
	s.RegisterService(&custodyDesc, srv)
}

func (c *Custody) AllocateAddress(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		UserID         int64  `json:"user_id"`
		IdempotencyKey string `json:"idempotency_key"`
		Chain          string `json:"chain"`
		Network        string `json:"network"`
		Asset          string `json:"asset"`
	}
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.UserID <= 0 || req.IdempotencyKey == "" {
		return nil, xerr.New(xerr.RequestParamsError, "user_id and idempotency_key are required")
	}
	res, err := c.allocator.Allocate(ctx, service.AllocateRequest{
		UserID:         req.UserID,
		IdempotencyKey: req.IdempotencyKey,
		Chain:          req.Chain,
		Network:        req.Network,
		Asset:          req.Asset,
	})
	if err != nil {
		return nil, err
	}
	return encode(res)
}

func (c *Custody) ListBalances(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		UserID int64 `json:"user_id"`
	}
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.UserID <= 0 {
		return nil, xerr.New(xerr.RequestParamsError, "user_id is required")
	}
	rows, err := c.balances.ListBalances(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []*model.UserBalance{}
	}
	return encode(map[string]any{"user_id": req.UserID, "balances": rows})
}

func (c *Custody) ListDeposits(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		UserID int64  `json:"user_id"`
		Status string `json:"status"`
		Chain  string `json:"chain"`
		Page   int    `json:"page"`
		Limit  int    `json:"limit"`
	}
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	switch domain.DepositStatus(req.Status) {
	case "", domain.StatusPending, domain.StatusConfirmed:
	default:
		return nil, xerr.Newf(xerr.RequestParamsError, "invalid status %q", req.Status)
	}
	if req.Chain != "" {
		chain, err := encoder.ParseChain(req.Chain)
		if err != nil {
			return nil, err
		}
		req.Chain = string(chain)
	}
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.Limit <= 0 || req.Limit > 200 {
		req.Limit = 20
	}
	rows, total, err := c.deposits.ListDeposits(ctx, repo.DepositFilter{
		UserID: req.UserID, Status: req.Status, Chain: req.Chain, Page: req.Page, Limit: req.Limit,
	})
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []*domain.DepositTransaction{}
	}
	return encode(map[string]any{"items": rows, "total": total})
}

// decode Struct 里的数字都是 float64，经 JSON 转一次落到具体类型
func decode(in *structpb.Struct, out any) error {
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return xerr.Wrap(xerr.RequestParamsError, "invalid request", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return xerr.Wrap(xerr.RequestParamsError, "invalid request", err)
	}
	return nil
}

func encode(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, xerr.Wrap(xerr.ServerCommonError, "encode response", err)
	}
	m := map[string]any{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, xerr.Wrap(xerr.ServerCommonError, "encode response", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, xerr.Wrap(xerr.ServerCommonError, "encode response", err)
	}
	return s, nil
}

func unaryHandler(full string, call func(CustodyServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CustodyServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(CustodyServer), ctx, req.(*structpb.Struct))
		})
	}
}

var custodyDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CustodyServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AllocateAddress", Handler: unaryHandler(MethodAllocateAddress, CustodyServer.AllocateAddress)},
		{MethodName: "ListBalances", Handler: unaryHandler(MethodListBalances, CustodyServer.ListBalances)},
		{MethodName: "ListDeposits", Handler: unaryHandler(MethodListDeposits, CustodyServer.ListDeposits)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "custody/v1/custody.proto",
}
