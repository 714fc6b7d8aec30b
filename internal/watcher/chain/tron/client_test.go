package tron

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherex.com/custody/internal/watcher/domain"
	"gopherex.com/custody/pkg/httpx"
)

const (
	depositB58 = "TMVQGm1qAQYVdetCeGRRkTWYYrLXuHK2HC"
	depositHex = "417e5f4552091a69125d5dfcb7b8c2659029395bdf"
	senderHex  = "41" + "1111111111111111111111111111111111111111"
	usdt       = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
)

func newClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(httpx.New(httpx.Config{
		Name: "tron:test", BaseURL: srv.URL,
		Headers: map[string]string{HeaderAPIKey: "k"},
	}, nil))
}

func trx(id, typ, ret string, amount int64, ts int64) map[string]any {
	return map[string]any{
		"txID": id, "blockNumber": 60000000, "block_timestamp": ts,
		"ret": []map[string]any{{"contractRet": ret}},
		"raw_data": map[string]any{"contract": []map[string]any{{
			"type": typ,
			"parameter": map[string]any{"value": map[string]any{
				"amount": amount, "owner_address": senderHex, "to_address": depositHex,
			}},
		}}},
	}
}

func TestClient_Tip(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/wallet/getnowblock", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get(HeaderAPIKey))
		_, _ = w.Write([]byte(`{"block_header":{"raw_data":{"number":50000000,"timestamp":1700000000000}}}`))
	})
	tip, err := c.Tip(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(50_000_000), tip)
}

func TestClient_NativeTransfers(t *testing.T) {
	since := time.UnixMilli(1_700_000_000_000)
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/accounts/"+depositB58+"/transactions", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "true", q.Get("only_to"))
		assert.Equal(t, "true", q.Get("only_confirmed"))
		assert.Equal(t, "1700000000000", q.Get("min_timestamp"))

		if q.Get("fingerprint") == "" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []any{
					trx("t1", "TransferContract", "SUCCESS", 1_000_000, 1_700_000_001_000),
					trx("t2", "TriggerSmartContract", "SUCCESS", 0, 1_700_000_002_000),
				},
				"meta": map[string]any{"fingerprint": "next"},
			})
			return
		}
		assert.Equal(t, "next", q.Get("fingerprint"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []any{trx("t3", "TransferContract", "REVERT", 5, 1_700_000_003_000)},
			"meta": map[string]any{},
		})
	})

	ops, err := c.NativeTransfers(context.Background(), []string{depositB58}, domain.Window{Since: since})
	require.NoError(t, err)
	require.Len(t, ops, 3)

	assert.Equal(t, domain.KindTransfer, ops[0].Kind)
	assert.Equal(t, "t1", ops[0].TxHash)
	assert.Equal(t, depositB58, ops[0].To)
	assert.Equal(t, "1000000", ops[0].Value.String())
	assert.Equal(t, uint64(60000000), ops[0].BlockNumber)

	assert.Equal(t, domain.KindOther, ops[1].Kind, "合约调用")
	assert.Equal(t, domain.KindOther, ops[2].Kind, "执行失败")
}

func TestClient_TokenTransfers(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/accounts/"+depositB58+"/transactions/trc20", r.URL.Path)
		assert.Equal(t, usdt, r.URL.Query().Get("contract_address"))
		_, _ = w.Write([]byte(`{"data":[
			{"transaction_id":"u1","block_timestamp":1700000001000,"from":"TSender","to":"` + depositB58 + `","type":"Transfer","value":"100000000","token_info":{"address":"` + usdt + `","decimals":6}},
			{"transaction_id":"u2","block_timestamp":1700000002000,"from":"TSender","to":"` + depositB58 + `","type":"Approval","value":"1","token_info":{"address":"` + usdt + `","decimals":6}},
			{"transaction_id":"u3","block_timestamp":1700000003000,"from":"TSender","to":"` + depositB58 + `","type":"Transfer","value":"oops","token_info":{"address":"` + usdt + `","decimals":6}}
		],"meta":{}}`))
	})

	ops, err := c.TokenTransfers(context.Background(), usdt, []string{depositB58}, domain.Window{})
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, domain.KindTransfer, ops[0].Kind)
	assert.Equal(t, "100000000", ops[0].Value.String())
	assert.Equal(t, usdt, ops[0].Contract)
	assert.Equal(t, domain.KindOther, ops[1].Kind)
}

func TestClient_Inclusion(t *testing.T) {
	infos := map[string]string{
		"ok":      `{"id":"ok","blockNumber":49999980}`,
		"trc20":   `{"id":"trc20","blockNumber":49999981,"receipt":{"result":"SUCCESS"}}`,
		"revert":  `{"id":"revert","blockNumber":49999982,"result":"FAILED","receipt":{"result":"REVERT"}}`,
		"oog":     `{"id":"oog","blockNumber":49999983,"receipt":{"result":"OUT_OF_ENERGY"}}`,
		"missing": `{}`,
	}
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Value string `json:"value"`
		}
		require.NoError(t, json.Unmarshal(body, &req))
		_, _ = w.Write([]byte(infos[req.Value]))
	})

	tests := []struct {
		tx   string
		want domain.Inclusion
	}{
		{"ok", domain.Inclusion{Included: true, Success: true, BlockNumber: 49999980}},
		{"trc20", domain.Inclusion{Included: true, Success: true, BlockNumber: 49999981}},
		{"revert", domain.Inclusion{Included: true, Success: false, BlockNumber: 49999982}},
		{"oog", domain.Inclusion{Included: true, Success: false, BlockNumber: 49999983}},
		{"missing", domain.Inclusion{}},
	}
	for _, tt := range tests {
		t.Run(tt.tx, func(t *testing.T) {
			got, err := c.Inclusion(context.Background(), domain.TxRef{TxHash: tt.tx})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
