package chargegate

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// memState is the stored state of one in-process bucket, the same pair the
// Redis limiter keeps in a hash.
type memState struct {
	level float64
	ts    float64
}

// MemoryLimiter is an in-process Charger with the same admission semantics
// as the Redis-backed Limiter. Because its state is local to the process it
// does not enforce a shared limit across replicas; it is meant for unit
// tests, local development and single-instance deployments.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*memState
	settings
}

var _ Charger = (*MemoryLimiter)(nil)

// NewMemoryLimiter returns an empty in-process limiter. It accepts the same
// options as New; without WithClock it reads the local wall clock.
func NewMemoryLimiter(opts ...Option) (*MemoryLimiter, error) {
	m := &MemoryLimiter{
		buckets:  make(map[string]*memState),
		settings: defaultSettings(),
	}
	for _, opt := range opts {
		if err := opt(&m.settings); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	if m.clock == nil {
		m.clock = SystemClock()
	}
	return m, nil
}

// ReadLevel returns the current level of one bucket.
func (m *MemoryLimiter) ReadLevel(ctx context.Context, b Bucket) (float64, error) {
	levels, err := m.ReadLevels(ctx, b)
	if err != nil {
		return 0, err
	}
	return levels[b.Key], nil
}

// ReadLevels returns the current levels of several buckets, keyed by bucket
// key.
func (m *MemoryLimiter) ReadLevels(ctx context.Context, buckets ...Bucket) (map[string]float64, error) {
	reqs := make([]Request, len(buckets))
	for i, b := range buckets {
		reqs[i] = Request{Bucket: b}
	}
	_, levels, err := m.BatchCharge(ctx, reqs...)
	return levels, err
}

// Charge removes amount tokens from one bucket.
func (m *MemoryLimiter) Charge(ctx context.Context, b Bucket, amount float64, opts ...ChargeOptions) (bool, float64, error) {
	req := Request{Bucket: b, Amount: amount}
	if len(opts) > 0 {
		req.Limit = opts[0].Limit
		req.AllowChargeAdjustment = opts[0].AllowChargeAdjustment
	}

	ok, levels, err := m.BatchCharge(ctx, req)
	if err != nil {
		return false, 0, err
	}
	return ok, levels[b.Key], nil
}

// BatchCharge atomically charges every request or none of them. The whole
// batch is evaluated under one lock, mirroring the single-threaded execution
// of the Redis script.
func (m *MemoryLimiter) BatchCharge(ctx context.Context, reqs ...Request) (bool, map[string]float64, error) {
	if len(reqs) == 0 {
		return false, nil, ErrEmptyBatch
	}
	for i, r := range reqs {
		if err := r.validate(); err != nil {
			return false, nil, fmt.Errorf("request %d (%q): %w", i, r.Bucket.Key, err)
		}
	}

	start := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()

	// Phase A: plan every request against its refilled level.
	type plan struct {
		level  float64 // refilled pre-charge level
		charge float64 // effective amount after any adjustment
		ts     float64 // timestamp to store on commit
	}

	plans := make([]plan, len(reqs))
	ok := true
	for i, r := range reqs {
		level, ts := r.Bucket.Size, now
		if st, exists := m.buckets[r.Bucket.Key]; exists {
			level, ts = st.level, st.ts
			elapsed := now - ts
			if elapsed < 0 {
				elapsed = 0
			}
			level = math.Min(r.Bucket.Size, level+r.Bucket.Rate*elapsed)
		}

		charge := r.Amount
		if level-r.Amount < r.Limit {
			if r.AllowChargeAdjustment {
				charge = level - r.Limit
			} else {
				ok = false
			}
		}

		plans[i] = plan{level: level, charge: charge, ts: math.Max(ts, now)}
	}

	levels := make(map[string]float64, len(reqs))

	// Phase B: commit all or nothing.
	if !ok {
		for i, r := range reqs {
			levels[r.Bucket.Key] = plans[i].level
		}
		m.log.Debug().Int("batch_size", len(reqs)).Msg("batch denied")
		m.recorder.ObserveBatch(OutcomeDenied, len(reqs), time.Since(start))
		return false, levels, nil
	}

	for i, r := range reqs {
		level := math.Min(r.Bucket.Size, plans[i].level-plans[i].charge)
		if level >= r.Bucket.Size {
			delete(m.buckets, r.Bucket.Key)
		} else {
			m.buckets[r.Bucket.Key] = &memState{level: level, ts: plans[i].ts}
		}
		levels[r.Bucket.Key] = level
	}
	m.recorder.ObserveBatch(OutcomeCommitted, len(reqs), time.Since(start))
	return true, levels, nil
}

// Cleanup removes records whose buckets would read as full, the in-process
// counterpart of the TTL the Redis limiter puts on partially drained keys.
// It needs the bucket parameters to compute refill, so callers pass the
// buckets they want swept. Returns the number of records removed.
func (m *MemoryLimiter) Cleanup(buckets ...Bucket) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	removed := 0
	for _, b := range buckets {
		st, exists := m.buckets[b.Key]
		if !exists {
			continue
		}
		elapsed := now - st.ts
		if elapsed < 0 {
			elapsed = 0
		}
		if st.level+b.Rate*elapsed >= b.Size {
			delete(m.buckets, b.Key)
			removed++
		}
	}
	return removed
}

// Count returns the number of bucket records currently held.
func (m *MemoryLimiter) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}
