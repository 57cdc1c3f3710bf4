package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/thombles/whoisit/internal/spec"
)

// Config is the daemon's configuration file. Timeouts and intervals
// are whole seconds.
type Config struct {
	// Listen addresses; "[::]:113" binds a dual-stack socket on Linux.
	// List both "0.0.0.0:113" and "[::]:113" for split sockets.
	Listen []string `yaml:"listen"`

	// Timeout covers one connection's read+resolve+write, in seconds.
	Timeout int `yaml:"timeout"`

	// LookupTimeout bounds one lsof invocation, in seconds.
	// Must be shorter than Timeout.
	LookupTimeout int `yaml:"lookup_timeout"`

	// Concurrency is the number of lookup invocations allowed at once.
	Concurrency int `yaml:"concurrency"`

	// LsofPath locates the lsof binary.
	LsofPath string `yaml:"lsof_path"`

	// Opsys is the operating system tag reported in USERID replies.
	Opsys string `yaml:"opsys"`

	// DB enables the query audit log when set to a SQLite file path.
	DB string `yaml:"db"`

	// StatsInterval is how often the metrics snapshot is logged, in
	// seconds. Zero disables the stats service.
	StatsInterval int `yaml:"stats_interval"`

	// Web enables the operator status API when set to a bind address.
	Web string `yaml:"web"`

	// HiddenUsers are never disclosed; queries resolving to them get
	// ERROR : HIDDEN-USER.
	HiddenUsers []string `yaml:"hidden_users"`
}

func Default() Config {
	return Config{
		Listen:        []string{"[::]:113"},
		Timeout:       30,
		LookupTimeout: 10,
		Concurrency:   8,
		LsofPath:      "lsof",
		Opsys:         "UNIX",
		StatsInterval: 60,
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("cannot parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if len(c.Listen) == 0 {
		return fmt.Errorf("no listen addresses configured")
	}
	if _, err := c.BindAddrs(); err != nil {
		return err
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.LookupTimeout <= 0 || c.LookupTimeout >= c.Timeout {
		return fmt.Errorf("lookup_timeout must be positive and shorter than timeout")
	}
	if c.Concurrency < 1 || c.Concurrency > 1024 {
		return fmt.Errorf("concurrency must be in 1..1024")
	}
	if c.Web != "" {
		if _, err := spec.ParseAddress(c.Web); err != nil {
			return fmt.Errorf("bad web address %q: %w", c.Web, err)
		}
	}
	return nil
}

func (c Config) BindAddrs() ([]spec.Address, error) {
	addrs := make([]spec.Address, 0, len(c.Listen))
	for _, l := range c.Listen {
		addr, err := spec.ParseAddress(l)
		if err != nil {
			return nil, fmt.Errorf("bad listen address %q: %w", l, err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

func (c Config) ConnTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

func (c Config) ResolveTimeout() time.Duration {
	return time.Duration(c.LookupTimeout) * time.Second
}

func (c Config) StatsEvery() time.Duration {
	return time.Duration(c.StatsInterval) * time.Second
}
