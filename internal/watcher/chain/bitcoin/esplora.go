package bitcoin

import (
	"context"
	"math/big"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"gopherex.com/custody/internal/watcher/domain"
	"gopherex.com/custody/pkg/httpx"
	"gopherex.com/custody/pkg/logger"
	"gopherex.com/custody/pkg/xerr"
)

const (
	chainName = "bitcoin"
	// esplora 每页固定 25 条已确认交易
	esploraPageSize = 25
	maxPages        = 40
)

// Esplora 基于 blockstream / mempool.space 风格 REST 的数据源
type Esplora struct {
	http *httpx.Client
}

var _ domain.ChainClient = (*Esplora)(nil)

func NewEsplora(hc *httpx.Client) *Esplora {
	return &Esplora{http: hc}
}

func (e *Esplora) Chain() string { return chainName }

func (e *Esplora) Tip(ctx context.Context) (uint64, error) {
	s, err := e.http.GetText(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}
	h, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, xerr.Wrap(xerr.UpstreamError, "parse tip height", err)
	}
	return h, nil
}

type esploraStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight uint64 `json:"block_height"`
	BlockTime   int64  `json:"block_time"`
}

type esploraTx struct {
	TxID string `json:"txid"`
	Vin  []struct {
		Prevout *struct {
			Address string `json:"scriptpubkey_address"`
		} `json:"prevout"`
	} `json:"vin"`
	Vout []struct {
		Address string `json:"scriptpubkey_address"`
		Value   uint64 `json:"value"`
	} `json:"vout"`
	Status esploraStatus `json:"status"`
}

// NativeTransfers 按地址翻页，直到越过窗口下界。只返回已确认交易，一个 vout 一条记录。
func (e *Esplora) NativeTransfers(ctx context.Context, addresses []string, w domain.Window) ([]domain.Operation, error) {
	var ops []domain.Operation
	for _, addr := range addresses {
		got, err := e.addressOps(ctx, addr, w)
		if err != nil {
			return nil, err
		}
		ops = append(ops, got...)
	}
	return ops, nil
}

func (e *Esplora) addressOps(ctx context.Context, addr string, w domain.Window) ([]domain.Operation, error) {
	var ops []domain.Operation
	path := "/address/" + url.PathEscape(addr) + "/txs"
	for page := 0; page < maxPages; page++ {
		var txs []esploraTx
		if err := e.http.GetJSON(ctx, path, nil, &txs); err != nil {
			return nil, err
		}

		confirmed := 0
		lastID := ""
		var oldest uint64
		for _, tx := range txs {
			if !tx.Status.Confirmed {
				continue
			}
			confirmed++
			lastID = tx.TxID
			oldest = tx.Status.BlockHeight
			ops = append(ops, txOps(tx, addr, w)...)
		}
		if confirmed < esploraPageSize || (w.FromBlock > 0 && oldest < w.FromBlock) {
			return ops, nil
		}
		path = "/address/" + url.PathEscape(addr) + "/txs/chain/" + lastID
	}
	logger.Warn(ctx, "esplora paging limit reached", zap.String("address", addr), zap.Int("pages", maxPages))
	return ops, nil
}

func txOps(tx esploraTx, addr string, w domain.Window) []domain.Operation {
	from := ""
	if len(tx.Vin) > 0 && tx.Vin[0].Prevout != nil {
		from = tx.Vin[0].Prevout.Address
	}
	var ts time.Time
	if tx.Status.BlockTime > 0 {
		ts = time.Unix(tx.Status.BlockTime, 0).UTC()
	}
	var ops []domain.Operation
	for i, out := range tx.Vout {
		if out.Address != addr {
			continue
		}
		op := domain.Operation{
			Kind:        domain.KindTransfer,
			TxHash:      tx.TxID,
			LogIndex:    uint32(i),
			From:        from,
			To:          addr,
			Value:       new(big.Int).SetUint64(out.Value),
			BlockNumber: tx.Status.BlockHeight,
			Timestamp:   ts,
		}
		if w.Contains(op) {
			ops = append(ops, op)
		}
	}
	return ops
}

// TokenTransfers 比特币没有代币
func (e *Esplora) TokenTransfers(context.Context, string, []string, domain.Window) ([]domain.Operation, error) {
	return nil, nil
}

func (e *Esplora) Inclusion(ctx context.Context, ref domain.TxRef) (domain.Inclusion, error) {
	var st esploraStatus
	err := e.http.GetJSON(ctx, "/tx/"+url.PathEscape(ref.TxHash)+"/status", nil, &st)
	if httpx.IsNotFound(err) {
		return domain.Inclusion{}, nil
	}
	if err != nil {
		return domain.Inclusion{}, err
	}
	if !st.Confirmed {
		return domain.Inclusion{}, nil
	}
	// UTXO 链上已确认即成功
	return domain.Inclusion{Included: true, Success: true, BlockNumber: st.BlockHeight}, nil
}
