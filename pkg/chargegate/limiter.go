package chargegate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Charger is the operation set shared by the Redis-backed Limiter and the
// in-process MemoryLimiter.
//
// A false success return is not an error: it means the batch was not
// admissible and no state changed. Errors are reserved for invalid arguments
// and transport failures.
type Charger interface {
	// ReadLevel returns the current (refilled) level of one bucket.
	ReadLevel(ctx context.Context, b Bucket) (float64, error)

	// ReadLevels returns the current levels of several buckets, keyed by
	// bucket key.
	ReadLevels(ctx context.Context, buckets ...Bucket) (map[string]float64, error)

	// Charge removes amount tokens from one bucket. It reports whether the
	// charge was committed and the bucket's resulting level (on failure, the
	// unchanged refilled level).
	Charge(ctx context.Context, b Bucket, amount float64, opts ...ChargeOptions) (bool, float64, error)

	// BatchCharge atomically charges every request or none of them. The
	// returned map carries the post-charge level per bucket key on success,
	// or the unchanged refilled levels on failure.
	//
	// Each key should appear at most once per batch. Duplicates are not
	// rejected: every request is planned against the key's state from before
	// the batch, and on commit the later request's level is the one stored
	// and reported.
	BatchCharge(ctx context.Context, reqs ...Request) (bool, map[string]float64, error)
}

// Limiter charges token buckets stored in Redis. All admission decisions are
// made by a single Lua script executed under Redis's scripting guarantee, so
// a batch of charges is atomic across every key it touches, no matter how
// many clients share the buckets.
type Limiter struct {
	client redis.Scripter
	settings
}

var _ Charger = (*Limiter)(nil)

// New returns a Limiter using the provided script-capable Redis client
// (*redis.Client, *redis.ClusterClient and *redis.Ring all qualify).
//
// By default charges are timed by the Redis server's own clock, which gives
// all clients one time reference. Use WithClock to inject a caller-controlled
// clock instead.
func New(client redis.Scripter, opts ...Option) (*Limiter, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client cannot be nil", ErrInvalidConfig)
	}

	l := &Limiter{
		client:   client,
		settings: defaultSettings(),
	}
	for _, opt := range opts {
		if err := opt(&l.settings); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return l, nil
}

// ReadLevel returns the current level of one bucket. It does not change any
// state visible to other callers.
func (l *Limiter) ReadLevel(ctx context.Context, b Bucket) (float64, error) {
	levels, err := l.ReadLevels(ctx, b)
	if err != nil {
		return 0, err
	}
	return levels[b.Key], nil
}

// ReadLevels returns the current levels of several buckets, keyed by bucket
// key.
func (l *Limiter) ReadLevels(ctx context.Context, buckets ...Bucket) (map[string]float64, error) {
	reqs := make([]Request, len(buckets))
	for i, b := range buckets {
		reqs[i] = Request{Bucket: b}
	}

	// A zero-amount charge of a bucket in debt is reported as not admissible,
	// but the levels come back either way and a failed batch writes nothing,
	// which is exactly read semantics.
	_, levels, err := l.BatchCharge(ctx, reqs...)
	return levels, err
}

// Charge removes amount tokens from one bucket. A negative amount returns
// tokens, capped at the bucket's size.
func (l *Limiter) Charge(ctx context.Context, b Bucket, amount float64, opts ...ChargeOptions) (bool, float64, error) {
	req := Request{Bucket: b, Amount: amount}
	if len(opts) > 0 {
		req.Limit = opts[0].Limit
		req.AllowChargeAdjustment = opts[0].AllowChargeAdjustment
	}

	ok, levels, err := l.BatchCharge(ctx, req)
	if err != nil {
		return false, 0, err
	}
	return ok, levels[b.Key], nil
}

// BatchCharge atomically charges every request or none of them.
func (l *Limiter) BatchCharge(ctx context.Context, reqs ...Request) (bool, map[string]float64, error) {
	if len(reqs) == 0 {
		return false, nil, ErrEmptyBatch
	}

	keys := make([]string, len(reqs))
	args := make([]interface{}, 0, 2+5*len(reqs))

	var nowArg interface{} = serverTimeSentinel
	if l.clock != nil {
		nowArg = l.clock.Now()
	}
	args = append(args, nowArg, len(reqs))

	for i, r := range reqs {
		if err := r.validate(); err != nil {
			return false, nil, fmt.Errorf("request %d (%q): %w", i, r.Bucket.Key, err)
		}
		keys[i] = r.Bucket.Key
		args = append(args,
			r.Bucket.Rate,
			r.Bucket.Size,
			r.Amount,
			r.Limit,
			boolArg(r.AllowChargeAdjustment),
		)
	}

	start := time.Now()
	raw, err := chargeScript.Run(ctx, l.client, keys, args...).Result()
	if err != nil {
		l.recorder.ObserveError()
		return false, nil, err
	}

	ok, levels, err := parseChargeReply(raw, reqs)
	if err != nil {
		l.log.Warn().Err(err).Int("batch_size", len(reqs)).Msg("bad charge script reply")
		l.recorder.ObserveError()
		return false, nil, err
	}

	outcome := OutcomeCommitted
	if !ok {
		outcome = OutcomeDenied
		l.log.Debug().Int("batch_size", len(reqs)).Msg("batch denied")
	}
	l.recorder.ObserveBatch(outcome, len(reqs), time.Since(start))

	return ok, levels, nil
}

// parseChargeReply decodes the script's [success, level_1, ..., level_n]
// reply, zipping levels back with their bucket keys.
func parseChargeReply(raw interface{}, reqs []Request) (bool, map[string]float64, error) {
	vals, okType := raw.([]interface{})
	if !okType {
		return false, nil, fmt.Errorf("%w: got %T, want array", ErrBadReply, raw)
	}
	if len(vals) != len(reqs)+1 {
		return false, nil, fmt.Errorf("%w: got %d values, want %d", ErrBadReply, len(vals), len(reqs)+1)
	}

	success, okType := vals[0].(int64)
	if !okType {
		return false, nil, fmt.Errorf("%w: success flag has type %T", ErrBadReply, vals[0])
	}

	levels := make(map[string]float64, len(reqs))
	for i, r := range reqs {
		level, err := replyFloat(vals[i+1])
		if err != nil {
			return false, nil, fmt.Errorf("%w: level for %q: %v", ErrBadReply, r.Bucket.Key, err)
		}
		levels[r.Bucket.Key] = level
	}

	return success == 1, levels, nil
}

// replyFloat converts the value types Redis may hand back for a Lua string
// or number into a float64.
func replyFloat(v interface{}) (float64, error) {
	switch v := v.(type) {
	case string:
		return strconv.ParseFloat(v, 64)
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func boolArg(b bool) int {
	if b {
		return 1
	}
	return 0
}
