package task

import "time"

// WaitOptions bounds a synchronous wait for a task outcome.
type WaitOptions struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Interval    time.Duration `mapstructure:"interval"     yaml:"interval"`
}

func DefaultWaitOptions() WaitOptions {
	return WaitOptions{
		MaxAttempts: 50,
		Interval:    500 * time.Millisecond,
	}
}

func (o WaitOptions) withDefaults() WaitOptions {
	def := DefaultWaitOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.Interval <= 0 {
		o.Interval = def.Interval
	}
	return o
}

// RedisConfig configures the Redis stream event log.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"     yaml:"addr"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db"       yaml:"db"`
	Stream   string `mapstructure:"stream"   yaml:"stream"`
	// MaxLen trims the stream approximately on append. Zero keeps everything.
	MaxLen int64 `mapstructure:"max_len" yaml:"max_len"`
}

// MongoConfig configures the Mongo task record store.
type MongoConfig struct {
	URI        string        `mapstructure:"uri"             yaml:"uri"`
	Database   string        `mapstructure:"database"        yaml:"database"`
	Collection string        `mapstructure:"collection"      yaml:"collection"`
	Timeout    time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// Config selects and configures the task backends.
type Config struct {
	// Backend is "redis" (Redis log + Mongo records) or "memory".
	Backend string      `mapstructure:"backend" yaml:"backend"`
	Wait    WaitOptions `mapstructure:"wait"    yaml:"wait"`
	Redis   RedisConfig `mapstructure:"redis"   yaml:"redis"`
	Mongo   MongoConfig `mapstructure:"mongo"   yaml:"mongo"`
}

func DefaultConfig() Config {
	return Config{
		Backend: "redis",
		Wait:    DefaultWaitOptions(),
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Stream: "gateway:tasks",
		},
		Mongo: MongoConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "gateway",
			Collection: "tasks",
			Timeout:    10 * time.Second,
		},
	}
}
