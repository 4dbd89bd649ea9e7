package svc

import (
	"time"

	"github.com/goccy/go-yaml"
)

// Config is the YAML configuration of the service.
type Config struct {
	// Repos maps repo names to their storage. An empty path means an
	// in-memory store, useful for tests and scratch views.
	Repos map[string]*RepoConfig `yaml:"repos"`

	// DbPath is the path of the bbolt database holding view stats. When
	// empty a temporary file is used.
	DbPath string `yaml:"db_path"`

	// ListenAddress of the admin http server.
	ListenAddress string `yaml:"listen_address"`

	// RequestTimeoutSecs bounds one view resolution, shared by all callers
	// coalesced onto it.
	RequestTimeoutSecs int64 `yaml:"request_timeout_secs"`

	// RetryAttempts on transient store failures.
	RetryAttempts int `yaml:"retry_attempts"`

	ShutdownWaitSecs int64 `yaml:"shutdown_wait_secs"`
}

type RepoConfig struct {
	Path string `yaml:"path"`
}

func ParseConfigYAML(file []byte) (*Config, error) {
	result := &Config{}

	if err := yaml.Unmarshal(file, result); err != nil {
		return nil, err
	}

	return result, nil
}

func (c *Config) GetProperShutdownWaitSecs() int64 {
	if c.ShutdownWaitSecs <= 0 {
		return 5
	}

	return c.ShutdownWaitSecs
}

func (c *Config) requestTimeout() time.Duration {
	if c.RequestTimeoutSecs <= 0 {
		return 30 * time.Second
	}

	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

func (c *Config) retryAttempts() int {
	if c.RetryAttempts <= 0 {
		return 3
	}

	return c.RetryAttempts
}
