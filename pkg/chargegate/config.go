package chargegate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config declares named buckets and the demo server's wiring in YAML.
//
// Bucket names are a config-level convenience; the limiter itself only sees
// the resolved Bucket values. Example:
//
//	redis:
//	  addr: localhost:6379
//	observability:
//	  log_level: info
//	  prometheus_path: /metrics
//	buckets:
//	  api_requests:
//	    rate: 10
//	    size: 100
//	routes:
//	  /api/search:
//	    bucket: api_requests
//	    cost: 2
type Config struct {
	Server        ServerConfig            `yaml:"server"`
	Redis         RedisConfig             `yaml:"redis"`
	Observability ObservabilityConfig     `yaml:"observability"`
	Buckets       map[string]BucketConfig `yaml:"buckets"`
	Routes        map[string]RoutePolicy  `yaml:"routes,omitempty"`
}

// ServerConfig configures the demo server's listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// RedisConfig locates the Redis backend. An empty Addr selects the
// in-process limiter.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// ObservabilityConfig configures logging and metrics exposure.
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`       // "debug", "info", "warn", "error"
	PrometheusPath string `yaml:"prometheus_path"` // e.g. "/metrics"
}

// BucketConfig defines one named bucket. Key defaults to the bucket's name
// in the Buckets map.
type BucketConfig struct {
	Key  string  `yaml:"key,omitempty"`
	Rate float64 `yaml:"rate"`
	Size float64 `yaml:"size"`
}

// RoutePolicy charges a named bucket per request on a route. Limit and
// AllowChargeAdjustment are parsed and kept here, but the demo server passes
// only the bucket and Cost to the middleware, which charges with the default
// policy (limit 0, no adjustment).
type RoutePolicy struct {
	Bucket                string  `yaml:"bucket"`
	Cost                  float64 `yaml:"cost"`
	Limit                 float64 `yaml:"limit,omitempty"`
	AllowChargeAdjustment bool    `yaml:"allow_charge_adjustment,omitempty"`
}

// NewConfig returns a Config with sensible defaults and no buckets.
func NewConfig() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			PrometheusPath: "/metrics",
		},
		Buckets: make(map[string]BucketConfig),
	}
}

// LoadConfigFromFile loads configuration from a YAML file.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrInvalidConfig, err)
	}

	config := NewConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config file: %v", ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks every bucket definition and route policy.
func (c *Config) Validate() error {
	for name, bc := range c.Buckets {
		b := Bucket{Key: bc.Key, Rate: bc.Rate, Size: bc.Size}
		if b.Key == "" {
			b.Key = name
		}
		if err := b.validate(); err != nil {
			return fmt.Errorf("%w: bucket %q: %v", ErrInvalidConfig, name, err)
		}
	}

	for route, policy := range c.Routes {
		if policy.Bucket == "" {
			return fmt.Errorf("%w: route %q has no bucket", ErrInvalidConfig, route)
		}
		if _, ok := c.Buckets[policy.Bucket]; !ok {
			return fmt.Errorf("%w: route %q references unknown bucket %q", ErrInvalidConfig, route, policy.Bucket)
		}
		if policy.Cost <= 0 {
			return fmt.Errorf("%w: route %q must have a positive cost", ErrInvalidConfig, route)
		}
	}
	return nil
}

// Bucket resolves a named bucket definition to a Bucket value. The second
// return is false when the name is unknown or the definition is invalid.
func (c *Config) Bucket(name string) (Bucket, bool) {
	bc, ok := c.Buckets[name]
	if !ok {
		return Bucket{}, false
	}
	b := Bucket{Key: bc.Key, Rate: bc.Rate, Size: bc.Size}
	if b.Key == "" {
		b.Key = name
	}
	if b.validate() != nil {
		return Bucket{}, false
	}
	return b, true
}
