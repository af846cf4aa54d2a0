package worker

import "time"

type Config struct {
	Group string `mapstructure:"group" yaml:"group"`
	// Consumer names this process in the group. Empty generates one.
	Consumer  string        `mapstructure:"consumer"   yaml:"consumer"`
	Workers   int           `mapstructure:"workers"    yaml:"workers"`
	BatchSize int           `mapstructure:"batch_size" yaml:"batch_size"`
	Block     time.Duration `mapstructure:"block"      yaml:"block"`

	// ClaimIdle is how long a delivered task may stay unacknowledged before
	// another consumer takes it over. Zero disables reclaiming.
	ClaimIdle     time.Duration `mapstructure:"claim_idle"     yaml:"claim_idle"`
	ClaimInterval time.Duration `mapstructure:"claim_interval" yaml:"claim_interval"`

	// TaskTimeout bounds one handler run.
	TaskTimeout time.Duration `mapstructure:"task_timeout" yaml:"task_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Group:         "gateway-workers",
		Workers:       4,
		BatchSize:     10,
		Block:         2 * time.Second,
		ClaimIdle:     5 * time.Minute,
		ClaimInterval: 30 * time.Second,
		TaskTimeout:   3 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Group == "" {
		c.Group = def.Group
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.Block <= 0 {
		c.Block = def.Block
	}
	if c.ClaimInterval <= 0 {
		c.ClaimInterval = def.ClaimInterval
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = def.TaskTimeout
	}
	return c
}
