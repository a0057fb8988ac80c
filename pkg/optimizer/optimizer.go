// Package optimizer periodically measures achievable bandwidth, both
// direct and through each upstream proxy, and narrows the pool's active
// set to the smallest number of proxies whose combined measured
// bandwidth saturates what a direct connection could achieve.
package optimizer

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tboy1337/multisocks/pkg/logging"
	"github.com/tboy1337/multisocks/pkg/pool"
	"github.com/tboy1337/multisocks/pkg/protocol"
	"github.com/tboy1337/multisocks/pkg/proxyspec"
)

// Optimizer owns the periodic retune loop.
type Optimizer struct {
	pool         *pool.Pool
	targetURL    string
	interval     time.Duration
	fetchTimeout time.Duration
}

// New builds an Optimizer that retunes p's active_count every interval,
// measuring bandwidth by fetching targetURL.
func New(p *pool.Pool, targetURL string, interval time.Duration) *Optimizer {
	return &Optimizer{
		pool:         p,
		targetURL:    targetURL,
		interval:     interval,
		fetchTimeout: protocol.OptimizerFetchTimeoutSeconds * time.Second,
	}
}

// Run blocks, retuning on every interval tick until ctx is canceled.
func (o *Optimizer) Run(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Retune(ctx)
		}
	}
}

// Retune measures direct bandwidth and every proxy's bandwidth
// concurrently, then sets the pool's active_count to the smallest
// number of (bandwidth-sorted, fastest first) proxies whose combined measured bandwidth
// meets or exceeds the direct measurement. If the direct measurement
// itself fails, the previous active_count is left untouched: a failed
// measurement is not evidence that fewer proxies are needed.
func (o *Optimizer) Retune(ctx context.Context) {
	measureCtx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
	directBps, err := measureDirect(measureCtx, o.targetURL)
	cancel()
	if err != nil {
		logging.Warnf("optimizer: direct bandwidth measurement unavailable, retaining active_count: %v", err)
		return
	}

	descs := o.pool.Descriptors()
	type measured struct {
		desc *proxyspec.Descriptor
		bps  float64
	}
	results := make([]measured, len(descs))

	g, gctx := errgroup.WithContext(ctx)
	for i, d := range descs {
		i, d := i, d
		g.Go(func() error {
			perProxyCtx, cancel := context.WithTimeout(gctx, o.fetchTimeout)
			defer cancel()
			bps, err := measureViaProxy(perProxyCtx, d, o.targetURL)
			if err != nil {
				logging.Debugf("optimizer: bandwidth measurement via %s unavailable: %v", d.String(), err)
				bps = 0
			}
			results[i] = measured{desc: d, bps: bps}
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		o.pool.SetMeasuredBandwidth(r.desc.ID, r.bps)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].bps > results[j].bps })

	var accumulated float64
	k := 0
	for _, r := range results {
		if accumulated >= directBps {
			break
		}
		accumulated += r.bps
		k++
	}
	if k == 0 {
		k = 1
	}

	o.pool.SetActiveCount(k)
	logging.Infof("optimizer: retuned active_count to %d of %d (direct=%.0f bps, accumulated=%.0f bps)",
		k, len(descs), directBps, accumulated)
}
