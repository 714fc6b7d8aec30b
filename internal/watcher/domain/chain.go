package domain

import (
	"context"
	"math/big"
	"time"
)

type OperationKind string

const (
	// KindTransfer 唯一被接受的充值类型
	KindTransfer OperationKind = "transfer"
	KindOther    OperationKind = "other"
)

// Operation 各链数据源返回的统一转账视图
type Operation struct {
	Kind           OperationKind
	TxHash         string
	LogIndex       uint32 // EVM 日志下标 / UTXO vout 下标
	From           string
	To             string
	DestinationTag *uint32
	Value          *big.Int // 最小单位
	Contract       string   // 代币合约，原生币为空
	BlockNumber    uint64
	Timestamp      time.Time
}

// Window 扫描窗口。按区块索引的数据源看 FromBlock/ToBlock，按时间索引的看 Since/Until。
type Window struct {
	FromBlock uint64
	ToBlock   uint64
	Since     time.Time
	Until     time.Time
}

// Contains 判断操作是否落在窗口内，零值边界不限制
func (w Window) Contains(op Operation) bool {
	if op.BlockNumber > 0 {
		if w.FromBlock > 0 && op.BlockNumber < w.FromBlock {
			return false
		}
		if w.ToBlock > 0 && op.BlockNumber > w.ToBlock {
			return false
		}
	}
	if !op.Timestamp.IsZero() {
		if !w.Since.IsZero() && op.Timestamp.Before(w.Since) {
			return false
		}
		if !w.Until.IsZero() && op.Timestamp.After(w.Until) {
			return false
		}
	}
	return true
}

// TxRef 查询交易上链情况需要的信息
type TxRef struct {
	TxHash      string
	BlockNumber uint64
	ToAddress   string
	Contract    string
}

// Inclusion 交易上链情况。Confirmations 非空表示数据源直接给出了确认数。
type Inclusion struct {
	Included      bool
	Success       bool
	BlockNumber   uint64
	Confirmations *uint64
}

// ChainClient 每条链一个实现，屏蔽 JSON-RPC / REST 差异
type ChainClient interface {
	Chain() string
	// Tip 当前最新高度 (XRP 为已验证 ledger)
	Tip(ctx context.Context) (uint64, error)
	NativeTransfers(ctx context.Context, addresses []string, w Window) ([]Operation, error)
	TokenTransfers(ctx context.Context, contract string, addresses []string, w Window) ([]Operation, error)
	Inclusion(ctx context.Context, ref TxRef) (Inclusion, error)
}
