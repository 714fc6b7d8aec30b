package cardano

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherex.com/custody/internal/watcher/domain"
	"gopherex.com/custody/pkg/httpx"
)

const (
	depositAddr = "addr1qx2fxv2umyhttkxyxp8x0dlpdt3k6cwng5pxj3jhsydzer3n0d3vllmyqwsx5wktcd8cc3sq835lu7drv2xwl2wywfgse35a3x"
	tokenUnit   = "f43a62fdc3965df486de8a0d32fe800963589c41b38946602a0dc53541474958"
)

func newClient(t *testing.T, routes map[string]string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pid", r.Header.Get(HeaderProjectID))
		body, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"status_code":404,"error":"Not Found"}`))
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return New(httpx.New(httpx.Config{
		Name: "cardano:test", BaseURL: srv.URL,
		Headers: map[string]string{HeaderProjectID: "pid"},
	}, nil))
}

func TestClient_Tip(t *testing.T) {
	c := newClient(t, map[string]string{"/blocks/latest": `{"height":10500000,"time":1700000000}`})
	tip, err := c.Tip(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(10_500_000), tip)
}

func TestClient_Transfers(t *testing.T) {
	c := newClient(t, map[string]string{
		"/addresses/" + depositAddr + "/transactions": `[{"tx_hash":"h1","block_height":100,"block_time":1700000000},{"tx_hash":"h2","block_height":120,"block_time":1700000400}]`,
		"/txs/h1/utxos": `{"inputs":[{"address":"addr1sender"}],"outputs":[
			{"address":"addr1change","amount":[{"unit":"lovelace","quantity":"5"}],"output_index":0},
			{"address":"` + depositAddr + `","amount":[{"unit":"lovelace","quantity":"2500000"},{"unit":"` + tokenUnit + `","quantity":"42"}],"output_index":1}
		]}`,
		"/txs/h2/utxos": `{"inputs":[{"address":"addr1sender"}],"outputs":[
			{"address":"` + depositAddr + `","amount":[{"unit":"lovelace","quantity":"1000000"}],"output_index":0,"collateral":true}
		]}`,
	})

	ops, err := c.NativeTransfers(context.Background(), []string{depositAddr}, domain.Window{FromBlock: 90, ToBlock: 130})
	require.NoError(t, err)
	require.Len(t, ops, 1, "抵押输出不算充值")
	assert.Equal(t, "h1", ops[0].TxHash)
	assert.Equal(t, uint32(1), ops[0].LogIndex)
	assert.Equal(t, "2500000", ops[0].Value.String())
	assert.Equal(t, "addr1sender", ops[0].From)
	assert.Empty(t, ops[0].Contract)
	assert.Equal(t, uint64(100), ops[0].BlockNumber)

	tokens, err := c.TokenTransfers(context.Background(), tokenUnit, []string{depositAddr}, domain.Window{})
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "42", tokens[0].Value.String())
	assert.Equal(t, tokenUnit, tokens[0].Contract)
}

func TestClient_UnknownAddressIsEmpty(t *testing.T) {
	c := newClient(t, map[string]string{})
	ops, err := c.NativeTransfers(context.Background(), []string{"addr1unused"}, domain.Window{})
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestClient_Inclusion(t *testing.T) {
	c := newClient(t, map[string]string{
		"/txs/good": `{"hash":"good","block_height":1000,"valid_contract":true}`,
		"/txs/bad":  `{"hash":"bad","block_height":1001,"valid_contract":false}`,
	})

	got, err := c.Inclusion(context.Background(), domain.TxRef{TxHash: "good"})
	require.NoError(t, err)
	assert.Equal(t, domain.Inclusion{Included: true, Success: true, BlockNumber: 1000}, got)

	got, err = c.Inclusion(context.Background(), domain.TxRef{TxHash: "bad"})
	require.NoError(t, err)
	assert.Equal(t, domain.Inclusion{Included: true, Success: false, BlockNumber: 1001}, got)

	got, err = c.Inclusion(context.Background(), domain.TxRef{TxHash: "pending"})
	require.NoError(t, err)
	assert.False(t, got.Included)
}
