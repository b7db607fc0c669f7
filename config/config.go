// Package config holds the process-wide kachery configuration: remote
// endpoint, channel, password, digest algorithm and remote-use flags. It is
// built in three layers, poorest to richest: compiled-in defaults,
// environment variables read at package init, and an optional ini-style
// config file.
package config

import (
	"os"
	"sync"

	"github.com/please-build/gcfg"
	"gopkg.in/op/go-logging.v1"

	"github.com/rly/kachery/digest"
)

var log = logging.MustGetLogger("config")

// Config is the process-wide kachery configuration record. Callers obtain
// a copy via Get and may layer per-call overrides atop it without ever
// mutating the process-wide singleton directly.
type Config struct {
	URL           string
	Channel       string
	Password      string
	Algorithm     digest.Algorithm
	UseRemote     bool
	UseRemoteOnly bool
}

// fileConfig mirrors Config's fields in the shape github.com/please-build/gcfg
// expects: one named section, with string-valued Algorithm and bool-valued
// remote-use flags.
type fileConfig struct {
	Kachery struct {
		URL           string
		Channel       string
		Password      string
		Algorithm     string
		UseRemote     bool
		UseRemoteOnly bool
	}
}

var (
	mu      sync.Mutex
	current = defaults()
)

func defaults() Config {
	return Config{Algorithm: digest.SHA1}
}

func init() {
	c := defaults()
	applyEnv(&c)
	applyConfigFile(&c)
	mu.Lock()
	current = c
	mu.Unlock()
}

func applyEnv(c *Config) {
	if v := os.Getenv("KACHERY_URL"); v != "" {
		c.URL = v
	}
	if v := os.Getenv("KACHERY_CHANNEL"); v != "" {
		c.Channel = v
	}
	if v := os.Getenv("KACHERY_PASSWORD"); v != "" {
		c.Password = v
	}
}

func applyConfigFile(c *Config) {
	filename := os.Getenv("KACHERY_CONFIG_FILE")
	if filename == "" {
		filename = ".kacheryconfig"
	}
	var fc fileConfig
	if err := gcfg.ReadFileInto(&fc, filename); err != nil {
		if !os.IsNotExist(err) {
			log.Debug("Not applying config file %s: %s", filename, err)
		}
		return
	}
	if fc.Kachery.URL != "" {
		c.URL = fc.Kachery.URL
	}
	if fc.Kachery.Channel != "" {
		c.Channel = fc.Kachery.Channel
	}
	if fc.Kachery.Password != "" {
		c.Password = fc.Kachery.Password
	}
	if fc.Kachery.Algorithm != "" {
		c.Algorithm = digest.Algorithm(fc.Kachery.Algorithm)
	}
	if fc.Kachery.UseRemote {
		c.UseRemote = true
	}
	if fc.Kachery.UseRemoteOnly {
		c.UseRemoteOnly = true
	}
}

// Get returns a snapshot of the process-wide config, safe to read
// concurrently with any Set.
func Get() Config {
	mu.Lock()
	defer mu.Unlock()
	return current
}

// Set replaces the process-wide config with c.
func Set(c Config) {
	mu.Lock()
	current = c
	mu.Unlock()
}

// Option layers a per-call override atop a Config snapshot without
// mutating the process-wide singleton.
type Option func(*Config)

// WithAlgorithm overrides the digest algorithm for one call.
func WithAlgorithm(a digest.Algorithm) Option {
	return func(c *Config) { c.Algorithm = a }
}

// WithUseRemote overrides whether remote fallback is attempted for one call.
func WithUseRemote(v bool) Option {
	return func(c *Config) { c.UseRemote = v }
}

// WithUseRemoteOnly overrides whether only the remote is consulted for one
// call (implies UseRemote).
func WithUseRemoteOnly(v bool) Option {
	return func(c *Config) { c.UseRemoteOnly = v }
}

// Resolve returns Get() with every opt applied, leaving the process-wide
// singleton untouched.
func Resolve(opts ...Option) Config {
	c := Get()
	for _, opt := range opts {
		opt(&c)
	}
	if c.UseRemoteOnly {
		c.UseRemote = true
	}
	return c
}
