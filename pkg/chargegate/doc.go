// Package chargegate is a distributed token-bucket rate limiter that keeps
// its state in Redis and charges one or more buckets atomically in a single
// operation.
//
// The primary entry point is the Charger interface:
//
//	ok, levels, err := limiter.BatchCharge(ctx, reqs...)
//
// A batch either commits every charge or none of them; no other Redis client
// ever observes a partially applied batch.
//
// # Buckets
//
// A Bucket is a named token reservoir with a capacity (Size) and a continuous
// refill rate (Rate, tokens per second). Levels are float64 and refill is
// continuous: a bucket stored at level L at time T reads as
//
//	min(Size, L + Rate*(t-T))
//
// at any later time t. A bucket with no stored state is full. Buckets are
// created lazily on the first charge that moves them off full, and their keys
// expire as soon as they would have refilled completely, so idle buckets cost
// nothing.
//
// # Charges
//
// Each Request pairs a bucket with an amount and two optional policy fields:
//
//   - Limit is the minimum post-charge level still considered a successful
//     charge. The default 0 forbids going negative; a positive limit reserves
//     headroom; a negative limit permits debt down to that floor.
//   - AllowChargeAdjustment shrinks the effective amount to whatever the
//     bucket can bear (down to Limit) instead of failing.
//
// A negative amount returns tokens, never beyond capacity. A zero amount is a
// read.
//
// Admission failure is not an error: BatchCharge returns false together with
// every bucket's current level, and nothing is written. Errors are reserved
// for invalid arguments and Redis transport failures; callers own the retry
// policy, because a lost reply after a committed batch cannot be told apart
// from a failed one.
//
// # Backends
//
// Two implementations share the Charger API:
//
//   - Limiter evaluates batches in a Lua script under Redis's scripting
//     guarantee, which makes it safe across any number of application
//     instances sharing the buckets. The script is addressed by digest and
//     reloaded transparently if Redis drops its script cache.
//   - MemoryLimiter holds the same semantics in a process-local map, for unit
//     tests, local development and single-instance deployments.
//
// # Time
//
// By default the Redis server's own clock times every charge, giving all
// clients one reference and tolerating client clock drift. Tests (or callers
// with their own synchronized time) can inject a Clock with WithClock; its
// value is passed into the script verbatim. Clocks that jump backward are
// clamped: elapsed time never goes negative and stored timestamps never
// rewind.
//
// # Usage
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	limiter, err := chargegate.New(client)
//	if err != nil {
//		// ...
//	}
//
//	api := chargegate.Bucket{Key: "api:acme", Rate: 10, Size: 100}
//	jobs := chargegate.Bucket{Key: "jobs:acme", Rate: 0.5, Size: 25}
//
//	ok, levels, err := limiter.BatchCharge(ctx,
//		chargegate.Request{Bucket: api, Amount: 1},
//		chargegate.Request{Bucket: jobs, Amount: 3, Limit: 5},
//	)
//
// # Observability
//
// WithLogger attaches a zerolog.Logger (silent by default) and WithRecorder a
// MetricsRecorder; NewPrometheusRecorder provides a Prometheus-backed one.
package chargegate
