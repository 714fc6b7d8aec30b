package rpc

import (
	"context"
	"net"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"gopherex.com/custody/internal/account/model"
	"gopherex.com/custody/internal/wallet/service"
	"gopherex.com/custody/internal/watcher/domain"
	"gopherex.com/custody/internal/watcher/repo"
	"gopherex.com/custody/pkg/xerr"
)

type fakeAllocator struct {
	got service.AllocateRequest
	err error
}

func (f *fakeAllocator) Allocate(_ context.Context, req service.AllocateRequest) (*service.AllocationResult, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	tag := uint32(42)
	return &service.AllocationResult{Address: "rRoot", DestinationTag: &tag}, nil
}

type fakeBalances struct{}

func (fakeBalances) ListBalances(_ context.Context, userID int64) ([]*model.UserBalance, error) {
	return []*model.UserBalance{{UserID: userID, Currency: "XRP", Available: decimal.NewFromInt(25)}}, nil
}

type fakeDeposits struct{ filter repo.DepositFilter }

func (f *fakeDeposits) ListDeposits(_ context.Context, filter repo.DepositFilter) ([]*domain.DepositTransaction, int64, error) {
	f.filter = filter
	return nil, 0, nil
}

func dial(t *testing.T, s *Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.GracefulStop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func call(t *testing.T, conn *grpc.ClientConn, method string, in map[string]any) (*structpb.Struct, error) {
	t.Helper()
	req, err := structpb.NewStruct(in)
	require.NoError(t, err)
	out := new(structpb.Struct)
	err = conn.Invoke(context.Background(), method, req, out)
	return out, err
}

func TestHealthFollowsScheduler(t *testing.T) {
	s := NewServer(Config{ServiceName: "custody-test"}, nil)
	conn := dial(t, s)
	hc := healthpb.NewHealthClient(conn)

	resp, err := hc.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)

	s.SetServing(true)
	resp, err = hc.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestAllocateAddress(t *testing.T) {
	alloc := &fakeAllocator{}
	conn := dial(t, NewServer(Config{ServiceName: "custody-test"}, NewCustody(alloc, fakeBalances{}, &fakeDeposits{})))

	out, err := call(t, conn, MethodAllocateAddress, map[string]any{
		"user_id": 9, "idempotency_key": "k", "chain": "xrp", "network": "mainnet", "asset": "XRP",
	})
	require.NoError(t, err)
	assert.Equal(t, "rRoot", out.AsMap()["address"])
	assert.EqualValues(t, 42, out.AsMap()["destination_tag"])
	assert.Equal(t, int64(9), alloc.got.UserID)
}

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		name   string
		method string
		in     map[string]any
		err    error
		want   codes.Code
	}{
		{"missing key", MethodAllocateAddress, map[string]any{"user_id": 9}, nil, codes.InvalidArgument},
		{"unsupported asset", MethodAllocateAddress, map[string]any{"user_id": 9, "idempotency_key": "k"},
			xerr.New(xerr.ConfigurationError, "asset not supported"), codes.FailedPrecondition},
		{"conflict", MethodAllocateAddress, map[string]any{"user_id": 9, "idempotency_key": "k"},
			xerr.New(xerr.StateConflict, "slot taken"), codes.Aborted},
		{"bad status", MethodListDeposits, map[string]any{"status": "credited"}, nil, codes.InvalidArgument},
		{"bad chain", MethodListDeposits, map[string]any{"chain": "doge"}, nil, codes.InvalidArgument},
		{"no user", MethodListBalances, map[string]any{}, nil, codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := dial(t, NewServer(Config{ServiceName: "custody-test"},
				NewCustody(&fakeAllocator{err: tt.err}, fakeBalances{}, &fakeDeposits{})))
			_, err := call(t, conn, tt.method, tt.in)
			require.Error(t, err)
			assert.Equal(t, tt.want, status.Code(err))
		})
	}
}

func TestListQueries(t *testing.T) {
	deposits := &fakeDeposits{}
	conn := dial(t, NewServer(Config{ServiceName: "custody-test"}, NewCustody(&fakeAllocator{}, fakeBalances{}, deposits)))

	out, err := call(t, conn, MethodListBalances, map[string]any{"user_id": 3})
	require.NoError(t, err)
	balances := out.AsMap()["balances"].([]any)
	require.Len(t, balances, 1)
	assert.Equal(t, "25", balances[0].(map[string]any)["available"])

	out, err = call(t, conn, MethodListDeposits, map[string]any{"user_id": 3, "chain": "trx", "status": "confirmed"})
	require.NoError(t, err)
	assert.Empty(t, out.AsMap()["items"])
	assert.Equal(t, repo.DepositFilter{UserID: 3, Status: "confirmed", Chain: "tron", Page: 1, Limit: 20}, deposits.filter)
}
