package crosschain

import "time"

// Config controls how long the resolver waits for a message to be executed.
type Config struct {
	// IndexerURL is the base URL of the message indexer, e.g. https://ccip.example/api.
	IndexerURL string `mapstructure:"indexer_url" yaml:"indexer_url"`
	// Emitter restricts message extraction to logs of this contract. Empty accepts any.
	Emitter string `mapstructure:"emitter" yaml:"emitter"`

	PollInterval   time.Duration `mapstructure:"poll_interval"   yaml:"poll_interval"`
	MaxAttempts    int           `mapstructure:"max_attempts"    yaml:"max_attempts"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"` // per indexer request
}

func DefaultConfig() Config {
	return Config{
		PollInterval:   2 * time.Second,
		MaxAttempts:    30,
		RequestTimeout: 10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	return c
}
