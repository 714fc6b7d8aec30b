// Package httpx 访问链上数据源的 HTTP 客户端：限流 + 熔断 + JSON 编解码
package httpx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"gopherex.com/custody/pkg/metrics"
	"gopherex.com/custody/pkg/ratelimit"
	"gopherex.com/custody/pkg/xerr"
)

// 单次响应体上限
const maxBody = 16 << 20

type Config struct {
	Name    string // 熔断器/限流 key，例如 evm:mainnet
	BaseURL string
	Timeout time.Duration
	RPS     float64
	Burst   int
	Headers map[string]string
}

type Client struct {
	name    string
	base    string
	headers map[string]string
	hc      *http.Client
}

// StatusError 上游返回非 2xx
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256]
	}
	return fmt.Sprintf("upstream status %d: %s", e.Code, body)
}

// BreakerNeutral 4xx (429 除外) 是调用方的问题，不计入熔断
func (e *StatusError) BreakerNeutral() bool {
	return e.Code < 500 && e.Code != http.StatusTooManyRequests
}

// IsNotFound 上游 404，很多 REST 数据源用它表示"没有记录"
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// New breakers 可以多个 Client 共用，按 Name 区分
func New(cfg Config, breakers *ratelimit.Manager) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if breakers == nil {
		breakers = ratelimit.NewManager(ratelimit.Rule{}, nil)
	}
	g := &guard{
		name:    cfg.Name,
		next:    http.DefaultTransport,
		limiter: ratelimit.NewStore(limit, cfg.Burst, 0),
		cb:      breakers.Get(cfg.Name),
	}
	return &Client{
		name:    cfg.Name,
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		headers: cfg.Headers,
		hc:      &http.Client{Timeout: cfg.Timeout, Transport: g},
	}
}

// HTTPClient 给 go-ethereum rpc / btcd 之类自带协议层的客户端复用同一套限流熔断
func (c *Client) HTTPClient() *http.Client { return c.hc }

func (c *Client) BaseURL() string { return c.base }

func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	body, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return decode(c.name, path, body, out)
}

func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return xerr.Wrap(xerr.ServerCommonError, "encode request", err)
	}
	body, err := c.do(ctx, http.MethodPost, c.base+path, payload)
	if err != nil {
		return err
	}
	return decode(c.name, path, body, out)
}

// GetText 纯文本响应，例如 esplora 的 /blocks/tip/height
func (c *Client) GetText(ctx context.Context, path string) (string, error) {
	body, err := c.do(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

func (c *Client) do(ctx context.Context, method, u string, payload []byte) ([]byte, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, xerr.Wrap(xerr.ServerCommonError, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, xerr.Wrap(xerr.UpstreamError, c.name+" "+method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, xerr.Wrap(xerr.UpstreamError, c.name+" read body", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, xerr.Wrap(xerr.UpstreamError, c.name+" "+method,
			&StatusError{Code: resp.StatusCode, Body: string(body)})
	}
	return body, nil
}

func decode(name, path string, body []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return xerr.Wrap(xerr.UpstreamError, name+" decode "+path, err)
	}
	return nil
}

// guard 每个请求先过令牌桶再过熔断器。
// 5xx / 429 记为熔断失败，但响应仍然交给调用方解析。
type guard struct {
	name    string
	next    http.RoundTripper
	limiter *ratelimit.Store
	cb      *gobreaker.CircuitBreaker[struct{}]
}

func (g *guard) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := g.limiter.Wait(req.Context(), g.name); err != nil {
		metrics.RateLimitBlockTotal.WithLabelValues(g.name, req.URL.Path, "upstream_wait").Inc()
		return nil, err
	}

	var resp *http.Response
	_, err := g.cb.Execute(func() (struct{}, error) {
		r, err := g.next.RoundTrip(req)
		if err != nil {
			return struct{}{}, err
		}
		resp = r
		if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
			return struct{}{}, &StatusError{Code: r.StatusCode}
		}
		return struct{}{}, nil
	})
	if resp != nil {
		return resp, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.CBRejectTotal.WithLabelValues(g.name, req.URL.Path, "open").Inc()
		return nil, xerr.Wrap(xerr.UpstreamError, "circuit breaker open", err)
	}
	return nil, err
}
