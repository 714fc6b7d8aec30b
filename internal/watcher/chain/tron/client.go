// Package tron TronGrid REST 数据源
package tron

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
	pageLimit = 200
	maxPages  = 50
	// HeaderAPIKey TronGrid 的 key 放在这个 header 里
	HeaderAPIKey = "TRON-PRO-API-KEY"
)

type Client struct {
	http *httpx.Client
}

var _ domain.ChainClient = (*Client)(nil)

func New(hc *httpx.Client) *Client {
	return &Client{http: hc}
}

func (c *Client) Chain() string { return string(encoder.ChainTron) }

func (c *Client) Tip(ctx context.Context) (uint64, error) {
	var blk struct {
		BlockHeader struct {
			RawData struct {
				Number uint64 `json:"number"`
			} `json:"raw_data"`
		} `json:"block_header"`
	}
	if err := c.http.PostJSON(ctx, "/wallet/getnowblock", map[string]any{}, &blk); err != nil {
		return 0, err
	}
	if blk.BlockHeader.RawData.Number == 0 {
		return 0, xerr.New(xerr.UpstreamError, "getnowblock: empty block")
	}
	return blk.BlockHeader.RawData.Number, nil
}

type meta struct {
	Fingerprint string `json:"fingerprint"`
}

type nativeTx struct {
	TxID           string `json:"txID"`
	BlockNumber    uint64 `json:"blockNumber"`
	BlockTimestamp int64  `json:"block_timestamp"`
	Ret            []struct {
		ContractRet string `json:"contractRet"`
	} `json:"ret"`
	RawData struct {
		Contract []struct {
			Type      string `json:"type"`
			Parameter struct {
				Value struct {
					Amount       int64  `json:"amount"`
					OwnerAddress string `json:"owner_address"`
					ToAddress    string `json:"to_address"`
				} `json:"value"`
			} `json:"parameter"`
		} `json:"contract"`
	} `json:"raw_data"`
}

type trc20Tx struct {
	TransactionID  string `json:"transaction_id"`
	BlockTimestamp int64  `json:"block_timestamp"`
	From           string `json:"from"`
	To             string `json:"to"`
	Type           string `json:"type"`
	Value          string `json:"value"`
	TokenInfo      struct {
		Address string `json:"address"`
	} `json:"token_info"`
}

// timeQuery TronGrid 账户接口按毫秒时间戳过滤
func timeQuery(w domain.Window) url.Values {
	q := url.Values{}
	q.Set("only_to", "true")
	q.Set("only_confirmed", "true")
	q.Set("order_by", "block_timestamp,asc")
	q.Set("limit", strconv.Itoa(pageLimit))
	if !w.Since.IsZero() {
		q.Set("min_timestamp", strconv.FormatInt(w.Since.UnixMilli(), 10))
	}
	if !w.Until.IsZero() {
		q.Set("max_timestamp", strconv.FormatInt(w.Until.UnixMilli(), 10))
	}
	return q
}

func (c *Client) NativeTransfers(ctx context.Context, addresses []string, w domain.Window) ([]domain.Operation, error) {
	var ops []domain.Operation
	for _, addr := range addresses {
		q := timeQuery(w)
		for page := 0; page < maxPages; page++ {
			var resp struct {
				Data []nativeTx `json:"data"`
				Meta meta       `json:"meta"`
			}
			if err := c.http.GetJSON(ctx, "/v1/accounts/"+url.PathEscape(addr)+"/transactions", q, &resp); err != nil {
				return nil, err
			}
			for _, tx := range resp.Data {
				if op, ok := nativeOp(ctx, tx); ok && w.Contains(op) {
					ops = append(ops, op)
				}
			}
			if resp.Meta.Fingerprint == "" || len(resp.Data) == 0 {
				break
			}
			q.Set("fingerprint", resp.Meta.Fingerprint)
		}
	}
	return ops, nil
}

// nativeOp 只有 TransferContract 且执行成功才算 TRX 转账
func nativeOp(ctx context.Context, tx nativeTx) (domain.Operation, bool) {
	if len(tx.RawData.Contract) == 0 {
		return domain.Operation{}, false
	}
	ct := tx.RawData.Contract[0]
	v := ct.Parameter.Value
	to, err := encoder.TronHexToBase58(v.ToAddress)
	if err != nil {
		logger.Debug(ctx, "tron: skip tx with undecodable to", zap.String("tx", tx.TxID), zap.Error(err))
		return domain.Operation{}, false
	}
	from, _ := encoder.TronHexToBase58(v.OwnerAddress)

	op := domain.Operation{
		Kind:        domain.KindOther,
		TxHash:      tx.TxID,
		From:        from,
		To:          to,
		Value:       big.NewInt(v.Amount),
		BlockNumber: tx.BlockNumber,
		Timestamp:   msTime(tx.BlockTimestamp),
	}
	success := len(tx.Ret) > 0 && tx.Ret[0].ContractRet == "SUCCESS"
	if ct.Type == "TransferContract" && success {
		op.Kind = domain.KindTransfer
	}
	return op, true
}

func (c *Client) TokenTransfers(ctx context.Context, contract string, addresses []string, w domain.Window) ([]domain.Operation, error) {
	var ops []domain.Operation
	for _, addr := range addresses {
		q := timeQuery(w)
		q.Set("contract_address", contract)
		for page := 0; page < maxPages; page++ {
			var resp struct {
				Data []trc20Tx `json:"data"`
				Meta meta      `json:"meta"`
			}
			if err := c.http.GetJSON(ctx, "/v1/accounts/"+url.PathEscape(addr)+"/transactions/trc20", q, &resp); err != nil {
				return nil, err
			}
			for _, tx := range resp.Data {
				val, ok := new(big.Int).SetString(tx.Value, 10)
				if !ok {
					logger.Debug(ctx, "tron: bad trc20 value", zap.String("tx", tx.TransactionID), zap.String("value", tx.Value))
					continue
				}
				kind := domain.KindOther
				if tx.Type == "Transfer" {
					kind = domain.KindTransfer
				}
				op := domain.Operation{
					Kind:      kind,
					TxHash:    tx.TransactionID,
					From:      tx.From,
					To:        tx.To,
					Value:     val,
					Contract:  tx.TokenInfo.Address,
					Timestamp: msTime(tx.BlockTimestamp),
				}
				if w.Contains(op) {
					ops = append(ops, op)
				}
			}
			if resp.Meta.Fingerprint == "" || len(resp.Data) == 0 {
				break
			}
			q.Set("fingerprint", resp.Meta.Fingerprint)
		}
	}
	return ops, nil
}

// Inclusion 空对象表示节点还没有这笔交易
func (c *Client) Inclusion(ctx context.Context, ref domain.TxRef) (domain.Inclusion, error) {
	var info struct {
		ID          string `json:"id"`
		BlockNumber uint64 `json:"blockNumber"`
		Result      string `json:"result"`
		Receipt     struct {
			Result string `json:"result"`
		} `json:"receipt"`
	}
	if err := c.http.PostJSON(ctx, "/wallet/gettransactioninfobyid", map[string]any{"value": ref.TxHash}, &info); err != nil {
		return domain.Inclusion{}, err
	}
	if info.ID == "" || info.BlockNumber == 0 {
		return domain.Inclusion{}, nil
	}
	// 原生 TRX 转账没有 receipt.result
	success := info.Result != "FAILED" && (info.Receipt.Result == "" || info.Receipt.Result == "SUCCESS")
	return domain.Inclusion{Included: true, Success: success, BlockNumber: info.BlockNumber}, nil
}

func msTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
