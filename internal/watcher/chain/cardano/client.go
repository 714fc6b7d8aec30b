// Package cardano Blockfrost REST 数据源
package cardano

import (
	"context"
	"math/big"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"gopherex.com/custody/internal/wallet/encoder"
	"gopherex.com/custody/internal/watcher/domain"
	"gopherex.com/custody/pkg/httpx"
	"gopherex.com/custody/pkg/logger"
	"gopherex.com/custody/pkg/xerr"
)

const (
	HeaderProjectID = "project_id"
	unitLovelace    = "lovelace"
	pageSize        = 100
	maxPages        = 50
)

type Client struct {
	http *httpx.Client
}

var _ domain.ChainClient = (*Client)(nil)

func New(hc *httpx.Client) *Client {
	return &Client{http: hc}
}

func (c *Client) Chain() string { return string(encoder.ChainCardano) }

func (c *Client) Tip(ctx context.Context) (uint64, error) {
	var blk struct {
		Height *uint64 `json:"height"`
	}
	if err := c.http.GetJSON(ctx, "/blocks/latest", nil, &blk); err != nil {
		return 0, err
	}
	if blk.Height == nil {
		return 0, xerr.New(xerr.UpstreamError, "blocks/latest: no height")
	}
	return *blk.Height, nil
}

type addressTx struct {
	TxHash      string `json:"tx_hash"`
	BlockHeight uint64 `json:"block_height"`
	BlockTime   int64  `json:"block_time"`
}

type amount struct {
	Unit     string `json:"unit"`
	Quantity string `json:"quantity"`
}

type utxos struct {
	Inputs []struct {
		Address string `json:"address"`
	} `json:"inputs"`
	Outputs []struct {
		Address     string   `json:"address"`
		Amount      []amount `json:"amount"`
		OutputIndex uint32   `json:"output_index"`
		Collateral  bool     `json:"collateral"`
	} `json:"outputs"`
}

func (c *Client) NativeTransfers(ctx context.Context, addresses []string, w domain.Window) ([]domain.Operation, error) {
	return c.transfers(ctx, unitLovelace, addresses, w)
}

// TokenTransfers contract 为 policy_id + asset_name 的 hex unit
func (c *Client) TokenTransfers(ctx context.Context, contract string, addresses []string, w domain.Window) ([]domain.Operation, error) {
	if contract == "" {
		return nil, xerr.New(xerr.ConfigurationError, "cardano token without unit")
	}
	return c.transfers(ctx, contract, addresses, w)
}

func (c *Client) transfers(ctx context.Context, unit string, addresses []string, w domain.Window) ([]domain.Operation, error) {
	var ops []domain.Operation
	for _, addr := range addresses {
		txs, err := c.addressTxs(ctx, addr, w)
		if err != nil {
			return nil, err
		}
		for _, tx := range txs {
			got, err := c.txOps(ctx, tx, addr, unit)
			if err != nil {
				return nil, err
			}
			for _, op := range got {
				if w.Contains(op) {
					ops = append(ops, op)
				}
			}
		}
	}
	return ops, nil
}

// addressTxs 地址从未出现过时 Blockfrost 返回 404
func (c *Client) addressTxs(ctx context.Context, addr string, w domain.Window) ([]addressTx, error) {
	q := url.Values{}
	q.Set("order", "asc")
	q.Set("count", strconv.Itoa(pageSize))
	if w.FromBlock > 0 {
		q.Set("from", strconv.FormatUint(w.FromBlock, 10))
	}
	if w.ToBlock > 0 {
		q.Set("to", strconv.FormatUint(w.ToBlock, 10))
	}

	var all []addressTx
	for page := 1; page <= maxPages; page++ {
		q.Set("page", strconv.Itoa(page))
		var txs []addressTx
		err := c.http.GetJSON(ctx, "/addresses/"+url.PathEscape(addr)+"/transactions", q, &txs)
		if httpx.IsNotFound(err) {
			return all, nil
		}
		if err != nil {
			return nil, err
		}
		all = append(all, txs...)
		if len(txs) < pageSize {
			return all, nil
		}
	}
	logger.Warn(ctx, "blockfrost paging limit reached", zap.String("address", addr))
	return all, nil
}

func (c *Client) txOps(ctx context.Context, tx addressTx, addr, unit string) ([]domain.Operation, error) {
	var u utxos
	if err := c.http.GetJSON(ctx, "/txs/"+url.PathEscape(tx.TxHash)+"/utxos", nil, &u); err != nil {
		return nil, err
	}
	from := ""
	if len(u.Inputs) > 0 {
		from = u.Inputs[0].Address
	}
	var ts time.Time
	if tx.BlockTime > 0 {
		ts = time.Unix(tx.BlockTime, 0).UTC()
	}
	contract := ""
	if unit != unitLovelace {
		contract = unit
	}

	var ops []domain.Operation
	for _, out := range u.Outputs {
		if out.Address != addr || out.Collateral {
			continue
		}
		for _, a := range out.Amount {
			if a.Unit != unit {
				continue
			}
			v, ok := new(big.Int).SetString(a.Quantity, 10)
			if !ok {
				logger.Debug(ctx, "cardano: bad quantity", zap.String("tx", tx.TxHash), zap.String("quantity", a.Quantity))
				continue
			}
			ops = append(ops, domain.Operation{
				Kind:        domain.KindTransfer,
				TxHash:      tx.TxHash,
				LogIndex:    out.OutputIndex,
				From:        from,
				To:          addr,
				Value:       v,
				Contract:    contract,
				BlockNumber: tx.BlockHeight,
				Timestamp:   ts,
			})
		}
	}
	return ops, nil
}

// Inclusion valid_contract=false 表示 phase-2 脚本校验失败，只扣了抵押
func (c *Client) Inclusion(ctx context.Context, ref domain.TxRef) (domain.Inclusion, error) {
	var tx struct {
		BlockHeight   uint64 `json:"block_height"`
		ValidContract *bool  `json:"valid_contract"`
	}
	err := c.http.GetJSON(ctx, "/txs/"+url.PathEscape(ref.TxHash), nil, &tx)
	if httpx.IsNotFound(err) {
		return domain.Inclusion{}, nil
	}
	if err != nil {
		return domain.Inclusion{}, err
	}
	success := tx.ValidContract == nil || *tx.ValidContract
	return domain.Inclusion{Included: true, Success: success, BlockNumber: tx.BlockHeight}, nil
}
