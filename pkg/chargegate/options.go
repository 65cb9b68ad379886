package chargegate

import (
	"fmt"

	"github.com/rs/zerolog"
)

// settings holds the configuration shared by the Redis-backed Limiter and
// the MemoryLimiter.
type settings struct {
	clock    Clock
	log      zerolog.Logger
	recorder MetricsRecorder
}

func defaultSettings() settings {
	return settings{
		// nil means "use the server clock" for the Redis limiter; the
		// memory limiter substitutes the system clock.
		clock:    nil,
		log:      zerolog.Nop(),
		recorder: NopRecorder{},
	}
}

// Option is a functional option for configuring a limiter.
type Option func(*settings) error

// WithClock makes the limiter time charges with the given clock instead of
// the Redis server's clock. All buckets in a batch see the same instant.
//
// This is mainly for tests; in production the server clock is the safer
// default because it is a single reference shared by every client.
func WithClock(clock Clock) Option {
	return func(s *settings) error {
		if clock == nil {
			return fmt.Errorf("%w: clock cannot be nil", ErrInvalidConfig)
		}
		s.clock = clock
		return nil
	}
}

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(log zerolog.Logger) Option {
	return func(s *settings) error {
		s.log = log
		return nil
	}
}

// WithRecorder injects a metrics backend. By default metrics are discarded.
func WithRecorder(rec MetricsRecorder) Option {
	return func(s *settings) error {
		if rec == nil {
			return fmt.Errorf("%w: recorder cannot be nil", ErrInvalidConfig)
		}
		s.recorder = rec
		return nil
	}
}
