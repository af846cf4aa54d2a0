package chain

import "time"

// EndpointConfig names one RPC endpoint of a chain.
type EndpointConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	URL  string `mapstructure:"url"  yaml:"url"`
}

// ChainConfig holds one chain's endpoint set and fee parameters.
type ChainConfig struct {
	// ChainID of the network. Zero means auto-detect from the endpoints.
	ChainID   uint64           `mapstructure:"chain_id"  yaml:"chain_id"`
	Endpoints []EndpointConfig `mapstructure:"endpoints" yaml:"endpoints"`

	// Gas/fees configuration. EIP-1559 caps are used when UseEIP1559 is set,
	// otherwise a legacy transaction is built with GasPriceWei.
	UseEIP1559        bool   `mapstructure:"use_eip1559"          yaml:"use_eip1559"`
	GasPriceWei       string `mapstructure:"gas_price_wei"        yaml:"gas_price_wei"`
	MaxFeePerGasWei   string `mapstructure:"max_fee_per_gas_wei"  yaml:"max_fee_per_gas_wei"`
	MaxPriorityFeeWei string `mapstructure:"max_priority_fee_wei" yaml:"max_priority_fee_wei"`

	// GasLimit fixes the gas of every transaction; zero estimates per call.
	GasLimit          uint64 `mapstructure:"gas_limit"            yaml:"gas_limit"`
	GasLimitBufferPct uint64 `mapstructure:"gas_limit_buffer_pct" yaml:"gas_limit_buffer_pct"` // add buffer to estimates
}

// Config holds the broadcast engine configuration for every chain.
type Config struct {
	// DefaultChain is the tag used by single-chain operations.
	DefaultChain string                 `mapstructure:"default_chain" yaml:"default_chain"`
	Chains       map[string]ChainConfig `mapstructure:"chains"        yaml:"chains"`

	// PrivateKeyHex signs every transaction. Prefer the GATEWAY_CHAIN_PRIVATE_KEY_HEX env var.
	PrivateKeyHex string `mapstructure:"private_key_hex" yaml:"private_key_hex"`

	NonceTimeout        time.Duration `mapstructure:"nonce_timeout"         yaml:"nonce_timeout"`         // per endpoint
	SendTimeout         time.Duration `mapstructure:"send_timeout"          yaml:"send_timeout"`          // per endpoint
	ReceiptTimeout      time.Duration `mapstructure:"receipt_timeout"       yaml:"receipt_timeout"`       // whole receipt race
	ReceiptPollInterval time.Duration `mapstructure:"receipt_poll_interval" yaml:"receipt_poll_interval"` // per endpoint
	OperationTimeout    time.Duration `mapstructure:"operation_timeout"     yaml:"operation_timeout"`     // wall clock per broadcast
}

func DefaultChainConfig() ChainConfig {
	return ChainConfig{
		UseEIP1559:        true,
		GasPriceWei:       "20000000000",
		MaxFeePerGasWei:   "20000000000",
		MaxPriorityFeeWei: "1000000000",
		GasLimitBufferPct: 15,
	}
}

func DefaultConfig() Config {
	return Config{
		DefaultChain:        "home",
		Chains:              map[string]ChainConfig{},
		NonceTimeout:        2 * time.Second,
		SendTimeout:         10 * time.Second,
		ReceiptTimeout:      30 * time.Second,
		ReceiptPollInterval: 500 * time.Millisecond,
		OperationTimeout:    40 * time.Second,
	}
}

// withDefaults fills zero durations from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.NonceTimeout <= 0 {
		c.NonceTimeout = def.NonceTimeout
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = def.SendTimeout
	}
	if c.ReceiptTimeout <= 0 {
		c.ReceiptTimeout = def.ReceiptTimeout
	}
	if c.ReceiptPollInterval <= 0 {
		c.ReceiptPollInterval = def.ReceiptPollInterval
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = def.OperationTimeout
	}
	return c
}
