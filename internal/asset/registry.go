package asset

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type Loader func(ctx context.Context) ([]ChainConfig, error)

// Registry DB -> 内存缓存；ttl<=0 时每次都回源
type Registry struct {
	mu     sync.RWMutex
	cache  map[string]ChainConfig
	loader Loader
	ttl    time.Duration
	sf     singleflight.Group
	lastAt time.Time
}

func NewRegistry(loader Loader, ttl time.Duration) *Registry {
	return &Registry{
		cache:  make(map[string]ChainConfig),
		loader: loader,
		ttl:    ttl,
	}
}

// Get 单个币种配置 (包含 inactive)
func (r *Registry) Get(ctx context.Context, chain, network, symbol string) (ChainConfig, bool, error) {
	if err := r.ensureFresh(ctx); err != nil {
		return ChainConfig{}, false, err
	}
	r.mu.RLock()
	c, ok := r.cache[Key(chain, network, symbol)]
	r.mu.RUnlock()
	return c, ok, nil
}

// Supported 可扫描的币种: active 且代币有合约地址，按 asset 排序保证扫描顺序稳定
func (r *Registry) Supported(ctx context.Context, chain, network string) ([]ChainConfig, error) {
	if err := r.ensureFresh(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]ChainConfig, 0, len(r.cache))
	for _, c := range r.cache {
		if c.Chain == chain && c.Network == network && c.Scannable() {
			out = append(out, c)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

// Invalidate 配置热更新后强制下次回源
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.lastAt = time.Time{}
	r.mu.Unlock()
}

func (r *Registry) ensureFresh(ctx context.Context) error {
	r.mu.RLock()
	need := r.ttl <= 0 || r.lastAt.IsZero() || time.Since(r.lastAt) > r.ttl
	r.mu.RUnlock()
	if !need {
		return nil
	}
	_, err, _ := r.sf.Do("reload", func() (any, error) {
		rows, err := r.loader(ctx)
		if err != nil {
			return nil, err
		}
		m := make(map[string]ChainConfig, len(rows))
		for _, c := range rows {
			m[Key(c.Chain, c.Network, c.Asset)] = c
		}
		r.mu.Lock()
		r.cache = m
		r.lastAt = time.Now()
		r.mu.Unlock()
		return nil, nil
	})
	return err
}

// StartAutoRefresh 定时刷新
func (r *Registry) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	tk := time.NewTicker(interval)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				r.Invalidate()
				_ = r.ensureFresh(ctx)
			}
		}
	}()
}
