package bitcoin

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/txscript"
	"go.uber.org/zap"

	"gopherex.com/custody/internal/watcher/domain"
	"gopherex.com/custody/pkg/logger"
	"gopherex.com/custody/pkg/xerr"
)

// Bitcoind 直连 bitcoind JSON-RPC，逐块扫描
type Bitcoind struct {
	rpc    *rpcclient.Client
	params *chaincfg.Params
}

var _ domain.ChainClient = (*Bitcoind)(nil)

// NewBitcoind host 形如 127.0.0.1:8332
func NewBitcoind(host, user, password string, params *chaincfg.Params) (*Bitcoind, error) {
	host = strings.TrimPrefix(strings.TrimPrefix(host, "http://"), "https://")
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         host,
		User:         user,
		Pass:         password,
		HTTPPostMode: true, // bitcoind 只支持 POST 模式
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return nil, xerr.Wrap(xerr.ConfigurationError, "bitcoind client", err)
	}
	return &Bitcoind{rpc: client, params: params}, nil
}

func (b *Bitcoind) Chain() string { return chainName }

func (b *Bitcoind) Close() { b.rpc.Shutdown() }

func (b *Bitcoind) Tip(ctx context.Context) (uint64, error) {
	n, err := b.rpc.GetBlockCount()
	if err != nil {
		return 0, xerr.Wrap(xerr.UpstreamError, "getblockcount", err)
	}
	return uint64(n), nil
}

// NativeTransfers 窗口按区块高度，空窗口只扫最新块
func (b *Bitcoind) NativeTransfers(ctx context.Context, addresses []string, w domain.Window) ([]domain.Operation, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	watch := make(map[string]struct{}, len(addresses))
	for _, a := range addresses {
		watch[a] = struct{}{}
	}
	to := w.ToBlock
	if to == 0 {
		tip, err := b.Tip(ctx)
		if err != nil {
			return nil, err
		}
		to = tip
	}
	from := w.FromBlock
	if from == 0 {
		from = to
	}

	var ops []domain.Operation
	for h := from; h <= to; h++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		got, err := b.blockOps(ctx, h, watch)
		if err != nil {
			return nil, err
		}
		ops = append(ops, got...)
	}
	return ops, nil
}

func (b *Bitcoind) blockOps(ctx context.Context, height uint64, watch map[string]struct{}) ([]domain.Operation, error) {
	hash, err := b.rpc.GetBlockHash(int64(height))
	if err != nil {
		return nil, xerr.Wrap(xerr.UpstreamError, "getblockhash", err)
	}
	block, err := b.rpc.GetBlockVerboseTx(hash)
	if err != nil {
		return nil, xerr.Wrap(xerr.UpstreamError, "getblock", err)
	}
	ts := time.Unix(block.Time, 0).UTC()

	var ops []domain.Operation
	for _, tx := range block.Tx {
		for _, vout := range tx.Vout {
			script, err := hex.DecodeString(vout.ScriptPubKey.Hex)
			if err != nil {
				continue
			}
			// 自动识别 P2PKH / P2SH / P2WPKH 等
			_, addrs, _, err := txscript.ExtractPkScriptAddrs(script, b.params)
			if err != nil || len(addrs) == 0 {
				continue
			}
			addr := addrs[0].EncodeAddress()
			if _, ok := watch[addr]; !ok {
				continue
			}
			sats, err := btcutil.NewAmount(vout.Value)
			if err != nil {
				logger.Warn(ctx, "bad vout value", zap.String("tx", tx.Txid), zap.Error(err))
				continue
			}
			ops = append(ops, domain.Operation{
				Kind:        domain.KindTransfer,
				TxHash:      tx.Txid,
				LogIndex:    vout.N,
				To:          addr,
				Value:       big.NewInt(int64(sats)),
				BlockNumber: height,
				Timestamp:   ts,
			})
		}
	}
	return ops, nil
}

func (b *Bitcoind) TokenTransfers(context.Context, string, []string, domain.Window) ([]domain.Operation, error) {
	return nil, nil
}

// Inclusion getrawtransaction 直接给出确认数
func (b *Bitcoind) Inclusion(ctx context.Context, ref domain.TxRef) (domain.Inclusion, error) {
	h, err := chainhash.NewHashFromStr(ref.TxHash)
	if err != nil {
		return domain.Inclusion{}, xerr.Wrap(xerr.RequestParamsError, "bad tx hash", err)
	}
	tx, err := b.rpc.GetRawTransactionVerbose(h)
	if err != nil {
		var rpcErr *btcjson.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == btcjson.ErrRPCNoTxInfo {
			return domain.Inclusion{}, nil
		}
		return domain.Inclusion{}, xerr.Wrap(xerr.UpstreamError, "getrawtransaction", err)
	}
	if tx.Confirmations == 0 {
		return domain.Inclusion{}, nil
	}
	confs := tx.Confirmations
	return domain.Inclusion{Included: true, Success: true, Confirmations: &confs}, nil
}
