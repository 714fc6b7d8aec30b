// Package xrp rippled JSON-RPC 数据源。
// 所有用户共用 master 地址，按 DestinationTag 区分。
package xrp

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
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
	// rippleEpoch 2000-01-01T00:00:00Z
	rippleEpoch = 946684800
)

type Client struct {
	http *httpx.Client
}

var _ domain.ChainClient = (*Client)(nil)

func New(hc *httpx.Client) *Client {
	return &Client{http: hc}
}

func (c *Client) Chain() string { return string(encoder.ChainXRP) }

type request struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type rpcStatus struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params map[string]any, out any) error {
	var env struct {
		Result json.RawMessage `json:"result"`
	}
	if err := c.http.PostJSON(ctx, "/", request{Method: method, Params: []any{params}}, &env); err != nil {
		return err
	}
	var st rpcStatus
	if err := json.Unmarshal(env.Result, &st); err != nil {
		return xerr.Wrap(xerr.UpstreamError, method+" decode", err)
	}
	if st.Status == "error" {
		return &rpcError{Method: method, Code: st.Error}
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return xerr.Wrap(xerr.UpstreamError, method+" decode", err)
	}
	return nil
}

type rpcError struct {
	Method string
	Code   string
}

func (e *rpcError) Error() string { return "rippled " + e.Method + ": " + e.Code }

// Tip 最新已验证 ledger
func (c *Client) Tip(ctx context.Context) (uint64, error) {
	var res struct {
		LedgerIndex uint64 `json:"ledger_index"`
	}
	if err := c.call(ctx, "ledger", map[string]any{"ledger_index": "validated"}, &res); err != nil {
		return 0, xerr.Wrap(xerr.UpstreamError, "ledger", err)
	}
	return res.LedgerIndex, nil
}

type txBody struct {
	TransactionType string          `json:"TransactionType"`
	Account         string          `json:"Account"`
	Destination     string          `json:"Destination"`
	DestinationTag  *uint32         `json:"DestinationTag"`
	Amount          json.RawMessage `json:"Amount"`
	DeliverMax      json.RawMessage `json:"DeliverMax"`
	Hash            string          `json:"hash"`
	LedgerIndex     uint64          `json:"ledger_index"`
	Date            int64           `json:"date"`
}

type txMeta struct {
	TransactionResult string          `json:"TransactionResult"`
	DeliveredAmount   json.RawMessage `json:"delivered_amount"`
}

type accountTxEntry struct {
	Tx          *txBody `json:"tx"`
	TxJSON      *txBody `json:"tx_json"` // API v2
	Hash        string  `json:"hash"`
	LedgerIndex uint64  `json:"ledger_index"`
	Meta        txMeta  `json:"meta"`
	Validated   bool    `json:"validated"`
}

// NativeTransfers addresses 是 master 地址，窗口按 ledger 序号
func (c *Client) NativeTransfers(ctx context.Context, addresses []string, w domain.Window) ([]domain.Operation, error) {
	var ops []domain.Operation
	for _, account := range addresses {
		params := map[string]any{
			"account":          account,
			"ledger_index_min": ledgerBound(w.FromBlock),
			"ledger_index_max": ledgerBound(w.ToBlock),
			"forward":          true,
			"limit":            pageLimit,
		}
		for page := 0; page < maxPages; page++ {
			var res struct {
				Transactions []accountTxEntry `json:"transactions"`
				Marker       json.RawMessage  `json:"marker"`
			}
			if err := c.call(ctx, "account_tx", params, &res); err != nil {
				return nil, xerr.Wrap(xerr.UpstreamError, "account_tx", err)
			}
			for _, e := range res.Transactions {
				if op, ok := entryOp(ctx, e, account); ok && w.Contains(op) {
					ops = append(ops, op)
				}
			}
			if len(res.Marker) == 0 || string(res.Marker) == "null" {
				break
			}
			params["marker"] = res.Marker
		}
	}
	return ops, nil
}

func ledgerBound(v uint64) int64 {
	if v == 0 {
		return -1
	}
	return int64(v)
}

// entryOp 只接收打到 account 的入账，IOU 和失败交易记为 KindOther
func entryOp(ctx context.Context, e accountTxEntry, account string) (domain.Operation, bool) {
	tx := e.Tx
	if tx == nil {
		tx = e.TxJSON
	}
	if tx == nil || tx.Destination != account || !e.Validated {
		return domain.Operation{}, false
	}
	hash := tx.Hash
	if hash == "" {
		hash = e.Hash
	}
	ledger := tx.LedgerIndex
	if ledger == 0 {
		ledger = e.LedgerIndex
	}

	op := domain.Operation{
		Kind:           domain.KindOther,
		TxHash:         hash,
		From:           tx.Account,
		To:             tx.Destination,
		DestinationTag: tx.DestinationTag,
		Value:          new(big.Int),
		BlockNumber:    ledger,
	}
	if tx.Date > 0 {
		op.Timestamp = time.Unix(tx.Date+rippleEpoch, 0).UTC()
	}

	// 部分支付以 delivered_amount 为准
	raw := e.Meta.DeliveredAmount
	if len(raw) == 0 {
		raw = tx.Amount
	}
	if len(raw) == 0 {
		raw = tx.DeliverMax
	}
	drops, isXRP := parseDrops(raw)
	if tx.TransactionType == "Payment" && e.Meta.TransactionResult == "tesSUCCESS" && isXRP {
		op.Kind = domain.KindTransfer
		op.Value = drops
	} else {
		logger.Debug(ctx, "xrp: non-xrp or failed payment", zap.String("tx", hash), zap.String("type", tx.TransactionType))
	}
	return op, true
}

// parseDrops XRP 金额是 drops 字符串，IOU 是对象
func parseDrops(raw json.RawMessage) (*big.Int, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false
	}
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	return v, ok
}

// TokenTransfers IOU 不在支持范围
func (c *Client) TokenTransfers(context.Context, string, []string, domain.Window) ([]domain.Operation, error) {
	return nil, nil
}

// Inclusion txnNotFound 表示还没进入任何 ledger
func (c *Client) Inclusion(ctx context.Context, ref domain.TxRef) (domain.Inclusion, error) {
	var res struct {
		Validated   bool   `json:"validated"`
		LedgerIndex uint64 `json:"ledger_index"`
		Meta        txMeta `json:"meta"`
	}
	err := c.call(ctx, "tx", map[string]any{"transaction": ref.TxHash}, &res)
	if re, ok := err.(*rpcError); ok && re.Code == "txnNotFound" {
		return domain.Inclusion{}, nil
	}
	if err != nil {
		return domain.Inclusion{}, xerr.Wrap(xerr.UpstreamError, "tx "+ref.TxHash, err)
	}
	if !res.Validated {
		return domain.Inclusion{}, nil
	}
	return domain.Inclusion{
		Included:    true,
		Success:     res.Meta.TransactionResult == "tesSUCCESS",
		BlockNumber: res.LedgerIndex,
	}, nil
}

