package interpose

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rfratto/netfd/internal/cmdutil"
)

// Config is the environment-based configuration of an Interposer. Every
// field is read from a NETFD_-prefixed variable.
type Config struct {
	Addr        string           `envconfig:"ADDR" default:"localhost:50051"`
	Prefix      string           `envconfig:"PREFIX" default:"./test/"`
	Glob        []string         `envconfig:"GLOB"`
	Timeout     time.Duration    `envconfig:"TIMEOUT" default:"15s"`
	Placeholder string           `envconfig:"PLACEHOLDER" default:"/dev/null"`
	LogLevel    cmdutil.LogLevel `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads a Config from the environment.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("netfd", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// Options converts c into Options. Paths are remote if they match the prefix
// or any of the glob patterns.
func (c *Config) Options() (Options, error) {
	o := DefaultOptions
	o.Address = c.Addr
	o.Timeout = c.Timeout
	o.PlaceholderPath = c.Placeholder

	rule := AnyRule{PrefixRule(c.Prefix)}
	if len(c.Glob) > 0 {
		glob, err := NewGlobRule(c.Glob...)
		if err != nil {
			return Options{}, err
		}
		rule = append(rule, glob)
	}
	o.Rule = rule
	return o, nil
}
