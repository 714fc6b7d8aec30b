package gateway

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"gopherex.com/custody/internal/account/model"
	"gopherex.com/custody/internal/wallet/encoder"
	"gopherex.com/custody/internal/wallet/service"
	"gopherex.com/custody/internal/watcher/domain"
	"gopherex.com/custody/internal/watcher/repo"
	"gopherex.com/custody/pkg/common"
	"gopherex.com/custody/pkg/xerr"
)

type Allocator interface {
	Allocate(ctx context.Context, req service.AllocateRequest) (*service.AllocationResult, error)
}

type Scanner interface {
	ScanAll(ctx context.Context, w *domain.Window) ([]*domain.DepositTransaction, error)
}

type Tracker interface {
	UpdatePending(ctx context.Context) int
}

type DepositQuery interface {
	ListDeposits(ctx context.Context, f repo.DepositFilter) ([]*domain.DepositTransaction, int64, error)
}

type BalanceQuery interface {
	ListBalances(ctx context.Context, userID int64) ([]*model.UserBalance, error)
}

// Chain 一个 (chain, network) 的扫描器和确认追踪器
type Chain struct {
	Scanner Scanner
	Tracker Tracker
}

type Handler struct {
	allocator Allocator
	chains    map[string]Chain
	deposits  DepositQuery
	balances  BalanceQuery
}

func NewHandler(a Allocator, chains map[string]Chain, d DepositQuery, b BalanceQuery) *Handler {
	return &Handler{allocator: a, chains: chains, deposits: d, balances: b}
}

// ChainKey chains 的 key，chain 和 network 需是规范名
func ChainKey(chain, network string) string {
	return chain + ":" + network
}

type allocateReq struct {
	UserID         int64  `json:"user_id" binding:"required,gt=0"`
	IdempotencyKey string `json:"idempotency_key" binding:"required,max=128"`
	Chain          string `json:"chain" binding:"required"`
	Network        string `json:"network" binding:"required"`
	Asset          string `json:"asset" binding:"required"`
}

func (h *Handler) Allocate(c *gin.Context) {
	var req allocateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailErr(c, xerr.Wrap(xerr.RequestParamsError, "invalid request body", err))
		return
	}
	res, err := h.allocator.Allocate(c.Request.Context(), service.AllocateRequest{
		UserID:         req.UserID,
		IdempotencyKey: req.IdempotencyKey,
		Chain:          req.Chain,
		Network:        req.Network,
		Asset:          req.Asset,
	})
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, res)
}

func (h *Handler) chain(c *gin.Context) (Chain, bool) {
	chain, err := encoder.ParseChain(c.Param("chain"))
	if err != nil {
		common.FailErr(c, err)
		return Chain{}, false
	}
	network, err := encoder.ParseNetwork(chain, c.Param("network"))
	if err != nil {
		common.FailErr(c, err)
		return Chain{}, false
	}
	ch, ok := h.chains[ChainKey(string(chain), string(network))]
	if !ok {
		common.FailErr(c, xerr.Newf(xerr.ConfigurationError, "chain %s/%s is not configured", chain, network))
		return Chain{}, false
	}
	return ch, true
}

// Scan 不带窗口参数时按游标扫描
func (h *Handler) Scan(c *gin.Context) {
	ch, ok := h.chain(c)
	if !ok {
		return
	}
	w, err := windowFromQuery(c)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	got, err := ch.Scanner.ScanAll(c.Request.Context(), w)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	if got == nil {
		got = []*domain.DepositTransaction{}
	}
	common.Success(c, gin.H{"recorded": got})
}

func windowFromQuery(c *gin.Context) (*domain.Window, error) {
	var w domain.Window
	set := false
	for _, p := range []struct {
		name string
		dst  *uint64
	}{{"from_block", &w.FromBlock}, {"to_block", &w.ToBlock}} {
		if v := c.Query(p.name); v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return nil, xerr.Wrap(xerr.RequestParamsError, "invalid "+p.name, err)
			}
			*p.dst, set = n, true
		}
	}
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"since", &w.Since}, {"until", &w.Until}} {
		if v := c.Query(p.name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return nil, xerr.Wrap(xerr.RequestParamsError, "invalid "+p.name, err)
			}
			*p.dst, set = t, true
		}
	}
	if !set {
		return nil, nil
	}
	if w.ToBlock > 0 && w.FromBlock > w.ToBlock {
		return nil, xerr.New(xerr.RequestParamsError, "from_block must not exceed to_block")
	}
	if !w.Since.IsZero() && !w.Until.IsZero() && w.Since.After(w.Until) {
		return nil, xerr.New(xerr.RequestParamsError, "since must not be after until")
	}
	return &w, nil
}

func (h *Handler) Confirm(c *gin.Context) {
	ch, ok := h.chain(c)
	if !ok {
		return
	}
	n := ch.Tracker.UpdatePending(c.Request.Context())
	common.Success(c, gin.H{"updated": n})
}

type depositsQuery struct {
	UserID int64  `form:"user_id" binding:"omitempty,gt=0"`
	Status string `form:"status" binding:"omitempty,oneof=pending confirmed"`
	Chain  string `form:"chain"`
	Page   int    `form:"page" binding:"omitempty,gt=0"`
	Limit  int    `form:"limit" binding:"omitempty,gt=0,lte=200"`
}

func (h *Handler) ListDeposits(c *gin.Context) {
	var q depositsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		common.FailErr(c, xerr.Wrap(xerr.RequestParamsError, "invalid query", err))
		return
	}
	if q.Chain != "" {
		chain, err := encoder.ParseChain(q.Chain)
		if err != nil {
			common.FailErr(c, err)
			return
		}
		q.Chain = string(chain)
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Limit == 0 {
		q.Limit = 20
	}
	rows, total, err := h.deposits.ListDeposits(c.Request.Context(), repo.DepositFilter{
		UserID: q.UserID, Status: q.Status, Chain: q.Chain, Page: q.Page, Limit: q.Limit,
	})
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, gin.H{"items": rows, "total": total, "page": q.Page, "limit": q.Limit})
}

func (h *Handler) Balances(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		common.FailErr(c, xerr.New(xerr.RequestParamsError, "invalid user_id"))
		return
	}
	rows, err := h.balances.ListBalances(c.Request.Context(), userID)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	if rows == nil {
		rows = []*model.UserBalance{}
	}
	common.Success(c, gin.H{"user_id": userID, "balances": rows})
}
