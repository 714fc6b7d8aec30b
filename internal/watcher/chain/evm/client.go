package evm

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"gopherex.com/custody/internal/watcher/domain"
	"gopherex.com/custody/pkg/httpx"
	"gopherex.com/custody/pkg/logger"
	"gopherex.com/custody/pkg/xerr"
)

var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

const (
	blockBatch   = 50  // 一次 batch 拉多少个区块
	topicChunk   = 500 // eth_getLogs 单次最多带多少个 to 地址
	chainNameEVM = "evm"
)

// Client 基于 JSON-RPC 的 EVM 数据源
type Client struct {
	rpc *rpc.Client
}

var _ domain.ChainClient = (*Client)(nil)

// Dial 复用 httpx 的限流熔断
func Dial(ctx context.Context, hc *httpx.Client) (*Client, error) {
	c, err := rpc.DialOptions(ctx, hc.BaseURL(), rpc.WithHTTPClient(hc.HTTPClient()))
	if err != nil {
		return nil, xerr.Wrap(xerr.ConfigurationError, "dial evm rpc", err)
	}
	return New(c), nil
}

func New(c *rpc.Client) *Client {
	return &Client{rpc: c}
}

func (c *Client) Chain() string { return chainNameEVM }

func (c *Client) Close() { c.rpc.Close() }

func (c *Client) Tip(ctx context.Context) (uint64, error) {
	var h hexutil.Uint64
	if err := c.rpc.CallContext(ctx, &h, "eth_blockNumber"); err != nil {
		return 0, xerr.Wrap(xerr.UpstreamError, "eth_blockNumber", err)
	}
	return uint64(h), nil
}

type rpcTx struct {
	Hash  string         `json:"hash"`
	From  string         `json:"from"`
	To    *string        `json:"to"`
	Value *hexutil.Big   `json:"value"`
	Input hexutil.Bytes  `json:"input"`
	Block hexutil.Uint64 `json:"blockNumber"`
}

type rpcBlock struct {
	Number       hexutil.Uint64 `json:"number"`
	Timestamp    hexutil.Uint64 `json:"timestamp"`
	Transactions []rpcTx        `json:"transactions"`
}

type rpcLog struct {
	Address     common.Address `json:"address"`
	Topics      []common.Hash  `json:"topics"`
	Data        hexutil.Bytes  `json:"data"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
	TxHash      common.Hash    `json:"transactionHash"`
	LogIndex    hexutil.Uint   `json:"logIndex"`
	Removed     bool           `json:"removed"`
}

type rpcReceipt struct {
	Status      hexutil.Uint64 `json:"status"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
}

// resolveRange 空窗口只扫最新块
func (c *Client) resolveRange(ctx context.Context, w domain.Window) (uint64, uint64, error) {
	to := w.ToBlock
	if to == 0 {
		tip, err := c.Tip(ctx)
		if err != nil {
			return 0, 0, err
		}
		to = tip
	}
	from := w.FromBlock
	if from == 0 {
		from = to
	}
	return from, to, nil
}

// NativeTransfers 逐块拉完整交易，挑出 to 命中的原生转账
func (c *Client) NativeTransfers(ctx context.Context, addresses []string, w domain.Window) ([]domain.Operation, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	from, to, err := c.resolveRange(ctx, w)
	if err != nil {
		return nil, err
	}
	watch := make(map[string]struct{}, len(addresses))
	for _, a := range addresses {
		watch[strings.ToLower(a)] = struct{}{}
	}

	var ops []domain.Operation
	for start := from; start <= to; start += blockBatch {
		end := start + blockBatch - 1
		if end > to {
			end = to
		}
		blocks := make([]*rpcBlock, end-start+1)
		batch := make([]rpc.BatchElem, 0, len(blocks))
		for i := range blocks {
			batch = append(batch, rpc.BatchElem{
				Method: "eth_getBlockByNumber",
				Args:   []any{hexutil.EncodeUint64(start + uint64(i)), true},
				Result: &blocks[i],
			})
		}
		if err := c.rpc.BatchCallContext(ctx, batch); err != nil {
			return nil, xerr.Wrap(xerr.UpstreamError, "eth_getBlockByNumber batch", err)
		}
		for i, el := range batch {
			if el.Error != nil {
				return nil, xerr.Wrap(xerr.UpstreamError, "eth_getBlockByNumber", el.Error)
			}
			blk := blocks[i]
			if blk == nil {
				// 节点还没同步到，下一轮再扫
				return nil, xerr.Newf(xerr.UpstreamError, "block %d not available", start+uint64(i))
			}
			ops = append(ops, blockOps(blk, watch)...)
		}
	}
	logger.Debug(ctx, "evm native scan",
		zap.Uint64("from", from), zap.Uint64("to", to), zap.Int("ops", len(ops)))
	return ops, nil
}

func blockOps(blk *rpcBlock, watch map[string]struct{}) []domain.Operation {
	var ops []domain.Operation
	ts := unixTime(uint64(blk.Timestamp))
	for _, tx := range blk.Transactions {
		if tx.To == nil {
			continue
		}
		to := strings.ToLower(*tx.To)
		if _, ok := watch[to]; !ok {
			continue
		}
		kind := domain.KindTransfer
		// 带 calldata 的是合约调用，不算普通充值
		if len(tx.Input) > 0 {
			kind = domain.KindOther
		}
		value := new(big.Int)
		if tx.Value != nil {
			value = tx.Value.ToInt()
		}
		ops = append(ops, domain.Operation{
			Kind:        kind,
			TxHash:      strings.ToLower(tx.Hash),
			From:        strings.ToLower(tx.From),
			To:          to,
			Value:       value,
			BlockNumber: uint64(blk.Number),
			Timestamp:   ts,
		})
	}
	return ops
}

// TokenTransfers eth_getLogs 按 Transfer topic + 补齐 32 字节的 to 地址过滤
func (c *Client) TokenTransfers(ctx context.Context, contract string, addresses []string, w domain.Window) ([]domain.Operation, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	if !common.IsHexAddress(contract) {
		return nil, xerr.Newf(xerr.ConfigurationError, "bad token contract %q", contract)
	}
	from, to, err := c.resolveRange(ctx, w)
	if err != nil {
		return nil, err
	}

	var ops []domain.Operation
	for i := 0; i < len(addresses); i += topicChunk {
		j := i + topicChunk
		if j > len(addresses) {
			j = len(addresses)
		}
		toTopics := make([]common.Hash, 0, j-i)
		for _, a := range addresses[i:j] {
			toTopics = append(toTopics, common.BytesToHash(common.HexToAddress(a).Bytes()))
		}
		filter := map[string]any{
			"fromBlock": hexutil.EncodeUint64(from),
			"toBlock":   hexutil.EncodeUint64(to),
			"address":   common.HexToAddress(contract),
			"topics":    []any{[]common.Hash{TransferTopic}, nil, toTopics},
		}
		var logs []rpcLog
		if err := c.rpc.CallContext(ctx, &logs, "eth_getLogs", filter); err != nil {
			return nil, xerr.Wrap(xerr.UpstreamError, "eth_getLogs", err)
		}
		for _, l := range logs {
			if l.Removed {
				continue
			}
			ops = append(ops, logOp(l))
		}
	}
	return ops, nil
}

func logOp(l rpcLog) domain.Operation {
	op := domain.Operation{
		Kind:        domain.KindOther,
		TxHash:      strings.ToLower(l.TxHash.Hex()),
		LogIndex:    uint32(l.LogIndex),
		Contract:    strings.ToLower(l.Address.Hex()),
		BlockNumber: uint64(l.BlockNumber),
		Value:       new(big.Int),
	}
	// ERC721 的 Transfer 有 4 个 topic，data 为空
	if len(l.Topics) != 3 || len(l.Data) != 32 {
		return op
	}
	op.Kind = domain.KindTransfer
	op.From = strings.ToLower(common.BytesToAddress(l.Topics[1].Bytes()).Hex())
	op.To = strings.ToLower(common.BytesToAddress(l.Topics[2].Bytes()).Hex())
	op.Value = new(big.Int).SetBytes(l.Data)
	return op
}

func (c *Client) Inclusion(ctx context.Context, ref domain.TxRef) (domain.Inclusion, error) {
	var r *rpcReceipt
	if err := c.rpc.CallContext(ctx, &r, "eth_getTransactionReceipt", ref.TxHash); err != nil {
		return domain.Inclusion{}, xerr.Wrap(xerr.UpstreamError, "eth_getTransactionReceipt", err)
	}
	if r == nil {
		return domain.Inclusion{}, nil
	}
	return domain.Inclusion{
		Included:    true,
		Success:     r.Status == 1,
		BlockNumber: uint64(r.BlockNumber),
	}, nil
}

func unixTime(sec uint64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(int64(sec), 0).UTC()
}
