// Package pool maintains the live, weighted set of upstream proxies a
// session can pick from. A single mutex serializes every mutation of
// pool state (selection, outcome reporting, health updates, retuning);
// it is never held across network I/O, only around the bookkeeping that
// surrounds it.
package pool

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tboy1337/multisocks/pkg/logging"
	"github.com/tboy1337/multisocks/pkg/protocol"
	"github.com/tboy1337/multisocks/pkg/proxyspec"
	"github.com/tboy1337/multisocks/pkg/socksclient"
)

// ErrNoEligibleProxy is returned by Pick when every proxy is either dead
// or backed off.
var ErrNoEligibleProxy = errors.New("pool: no eligible proxy available")

// Outcome classifies the result of a completed upstream attempt, as
// reported back to the pool via ReportOutcome.
type Outcome int

const (
	Success Outcome = iota
	Failure
)

// Health tracks the live status of a single descriptor.
type Health struct {
	Alive              bool
	ConsecutiveFailures int
	LastCheck          time.Time
	BackoffUntil       time.Time
	AvgLatencyMS       float64
	MeasuredBandwidth  float64 // bits/sec, set by the optimizer
	InFlight           int
}

// eligible reports whether h currently qualifies for selection, per the
// fMax consecutive-failure ceiling and any active backoff window.
func (h *Health) eligible(now time.Time, fMax int) bool {
	if !h.Alive {
		return false
	}
	if h.ConsecutiveFailures >= fMax {
		return false
	}
	if now.Before(h.BackoffUntil) {
		return false
	}
	return true
}

// entry pairs a descriptor with its mutable health and round-robin state.
type entry struct {
	desc    *proxyspec.Descriptor
	health  *Health
	current int // smooth weighted round-robin running total
}

// Pool holds the proxy set and drives weighted selection, failure
// accounting, and background health probing.
type Pool struct {
	mu      sync.Mutex
	entries []*entry

	activeCount int // how many top proxies (by measured bandwidth, see topByMeasured) are eligible for selection; 0 means "all"

	fMax               int
	probeInterval      time.Duration
	maxAttempts        int
	probeTimeout       time.Duration

	probeCancel context.CancelFunc
	probeDone   chan struct{}
}

// Config controls the pool's eligibility and probing tunables.
type Config struct {
	FMax          int
	ProbeInterval time.Duration
	MaxAttempts   int
	ProbeTimeout  time.Duration
}

// DefaultConfig returns the tunables from pkg/protocol.
func DefaultConfig() Config {
	return Config{
		FMax:          protocol.DefaultFMax,
		ProbeInterval: protocol.DefaultProbeInterval * time.Second,
		MaxAttempts:   protocol.DefaultMaxAttempts,
		ProbeTimeout:  protocol.ProbeTimeoutSeconds * time.Second,
	}
}

// New builds a Pool over descs. Every descriptor starts alive and
// eligible; background probing must be started separately via Start.
func New(descs []*proxyspec.Descriptor, cfg Config) *Pool {
	entries := make([]*entry, len(descs))
	for i, d := range descs {
		entries[i] = &entry{
			desc: d,
			health: &Health{
				Alive:     true,
				LastCheck: time.Time{},
			},
		}
	}
	return &Pool{
		entries:       entries,
		fMax:          cfg.FMax,
		probeInterval: cfg.ProbeInterval,
		maxAttempts:   cfg.MaxAttempts,
		probeTimeout:  cfg.ProbeTimeout,
	}
}

// MaxAttempts returns the configured number of upstream acquisition
// attempts a session should make before giving up.
func (p *Pool) MaxAttempts() int { return p.maxAttempts }

// Size returns the number of proxies registered in the pool, regardless
// of current eligibility.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Pick selects the next eligible proxy using smooth weighted round-robin
// (as popularized by nginx's upstream load balancer): each entry accrues
// its weight every call, and the entry with the highest running total is
// chosen and then discounted by the sum of all eligible weights. This
// naturally interleaves heavier proxies more often without bursting them
// back-to-back. excluded lists descriptor IDs a single session attempt
// has already tried and should skip this round.
func (p *Pool) Pick(excluded map[int]bool) (*proxyspec.Descriptor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	limit := p.activeCount
	if limit <= 0 || limit > len(p.entries) {
		limit = len(p.entries)
	}

	candidates := p.topByMeasured(limit)

	total := 0
	var best *entry
	for _, e := range candidates {
		if excluded[e.desc.ID] || !e.health.eligible(now, p.fMax) {
			continue
		}
		e.current += e.desc.Weight
		total += e.desc.Weight
		if best == nil || e.current > best.current {
			best = e
		}
	}

	if best == nil {
		return nil, ErrNoEligibleProxy
	}

	best.current -= total
	best.health.InFlight++
	return best.desc, nil
}

// topByMeasured returns the n entries with the highest measured bandwidth,
// stable on ties by original order. Entries the optimizer has never
// measured (MeasuredBandwidth == 0) sort by their configured weight
// instead, so a freshly started pool still interleaves by weight until
// the first retune populates real measurements. It is the basis for the
// optimizer's active_count retuning: only the n fastest-measured proxies
// participate in selection once active_count has been narrowed.
func (p *Pool) topByMeasured(n int) []*entry {
	if n >= len(p.entries) {
		return p.entries
	}
	sorted := make([]*entry, len(p.entries))
	copy(sorted, p.entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.health.MeasuredBandwidth == 0 && b.health.MeasuredBandwidth == 0 {
			return a.desc.Weight > b.desc.Weight
		}
		return a.health.MeasuredBandwidth > b.health.MeasuredBandwidth
	})
	return sorted[:n]
}

// ReportOutcome records the result of an attempt against the proxy
// identified by id: a success resets the consecutive-failure counter and
// clears any backoff, while a failure increments it and, once it reaches
// fMax, schedules an exponential backoff window capped at
// protocol.MaxBackoffSeconds.
func (p *Pool) ReportOutcome(id int, outcome Outcome, latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.find(id)
	if e == nil {
		return
	}
	if e.health.InFlight > 0 {
		e.health.InFlight--
	}

	switch outcome {
	case Success:
		e.health.ConsecutiveFailures = 0
		e.health.BackoffUntil = time.Time{}
		e.health.Alive = true
		updateEMA(&e.health.AvgLatencyMS, float64(latency.Milliseconds()))
	case Failure:
		e.health.ConsecutiveFailures++
		if e.health.ConsecutiveFailures >= p.fMax {
			backoff := backoffDuration(e.health.ConsecutiveFailures - p.fMax)
			e.health.BackoffUntil = time.Now().Add(backoff)
			logging.Warnf("pool: proxy %s backing off for %s after %d consecutive failures",
				e.desc.String(), backoff, e.health.ConsecutiveFailures)
		}
	}
}

// backoffDuration implements min(30s * 2^k, 600s).
func backoffDuration(k int) time.Duration {
	if k < 0 {
		k = 0
	}
	backoff := time.Duration(protocol.MinBackoffSeconds) * time.Second
	for i := 0; i < k; i++ {
		backoff *= 2
		if backoff >= time.Duration(protocol.MaxBackoffSeconds)*time.Second {
			return time.Duration(protocol.MaxBackoffSeconds) * time.Second
		}
	}
	return backoff
}

func updateEMA(avg *float64, sample float64) {
	const alpha = 0.2
	if *avg == 0 {
		*avg = sample
		return
	}
	*avg = alpha*sample + (1-alpha)*(*avg)
}

func (p *Pool) find(id int) *entry {
	for _, e := range p.entries {
		if e.desc.ID == id {
			return e
		}
	}
	return nil
}

// SetActiveCount narrows (or, with 0, clears) the subset of proxies
// eligible for Pick to the top n by measured bandwidth (see
// topByMeasured), as driven by the optimizer. A value <= 0 or
// >= the pool size means "all proxies participate."
func (p *Pool) SetActiveCount(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < 0 {
		n = 0
	}
	p.activeCount = n
}

// ActiveCount returns the current active_count setting (0 meaning "all").
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeCount
}

// Snapshot describes one proxy's current state, for introspection (the
// admin console's "proxies" command, tests, and the optimizer).
type Snapshot struct {
	Descriptor          *proxyspec.Descriptor
	Alive               bool
	ConsecutiveFailures int
	BackedOff           bool
	AvgLatencyMS        float64
	MeasuredBandwidth   float64
	InFlight            int
}

// Snapshots returns a point-in-time view of every proxy in the pool.
func (p *Pool) Snapshots() []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	out := make([]Snapshot, len(p.entries))
	for i, e := range p.entries {
		out[i] = Snapshot{
			Descriptor:          e.desc,
			Alive:               e.health.Alive,
			ConsecutiveFailures: e.health.ConsecutiveFailures,
			BackedOff:           now.Before(e.health.BackoffUntil),
			AvgLatencyMS:        e.health.AvgLatencyMS,
			MeasuredBandwidth:   e.health.MeasuredBandwidth,
			InFlight:            e.health.InFlight,
		}
	}
	return out
}

// SetMeasuredBandwidth records the optimizer's most recent per-proxy
// bandwidth measurement, keyed by descriptor ID.
func (p *Pool) SetMeasuredBandwidth(id int, bps float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e := p.find(id); e != nil {
		e.health.MeasuredBandwidth = bps
	}
}

// Descriptors returns the underlying descriptor list, for components
// (like the optimizer) that need to iterate the whole pool regardless of
// current eligibility.
func (p *Pool) Descriptors() []*proxyspec.Descriptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*proxyspec.Descriptor, len(p.entries))
	for i, e := range p.entries {
		out[i] = e.desc
	}
	return out
}

// Start launches the background health-probe loop, which re-probes every
// proxy on a fixed interval and updates its Alive/failure state from the
// result. Call Stop to tear it down.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.probeCancel = cancel
	p.probeDone = make(chan struct{})

	go p.probeLoop(ctx)
}

// Stop halts the background probe loop and waits for it to exit.
func (p *Pool) Stop() {
	if p.probeCancel == nil {
		return
	}
	p.probeCancel()
	<-p.probeDone
}

func (p *Pool) probeLoop(ctx context.Context) {
	defer close(p.probeDone)

	ticker := time.NewTicker(p.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

// probeAll probes every descriptor concurrently and folds the result
// into each entry's health. It bounds each probe with probeTimeout.
func (p *Pool) probeAll(ctx context.Context) {
	descs := p.Descriptors()

	var wg sync.WaitGroup
	for _, d := range descs {
		wg.Add(1)
		go func(d *proxyspec.Descriptor) {
			defer wg.Done()
			p.probeOne(ctx, d)
		}(d)
	}
	wg.Wait()
}

func (p *Pool) probeOne(ctx context.Context, d *proxyspec.Descriptor) {
	probeCtx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()

	err := socksclient.Probe(probeCtx, d)

	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.find(d.ID)
	if e == nil {
		return
	}
	e.health.LastCheck = time.Now()
	if err != nil {
		wasAlive := e.health.Alive
		e.health.Alive = false
		if wasAlive {
			logging.Warnf("pool: health probe failed for %s: %v", d.String(), err)
		}
		return
	}
	if !e.health.Alive {
		logging.Infof("pool: proxy %s recovered", d.String())
	}
	e.health.Alive = true
	e.health.ConsecutiveFailures = 0
}

// ProbeNow triggers an immediate, ad-hoc probe sweep outside the periodic
// interval (e.g. after the listener observes a burst of failures).
func (p *Pool) ProbeNow(ctx context.Context) {
	p.probeAll(ctx)
}
