package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"qrtrust/internal/domain"
)

const envPrefix = "QRTRUST"

type Config struct {
	HTTP      HTTP      `mapstructure:"http"`
	Postgres  Postgres  `mapstructure:"postgres"`
	Redis     Redis     `mapstructure:"redis"`
	Ledger    Ledger    `mapstructure:"ledger"`
	Keys      Keys      `mapstructure:"keys"`
	Auth      Auth      `mapstructure:"auth"`
	Policy    Policy    `mapstructure:"policy"`
	Watermark Watermark `mapstructure:"watermark"`
	Log       Log       `mapstructure:"log"`
}

type HTTP struct {
	Addr              string        `mapstructure:"addr"`
	RateLimitRequests int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`
	RateLimitMaxKeys  int           `mapstructure:"rate_limit_max_keys"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type Postgres struct {
	DSN     string `mapstructure:"dsn"`
	Migrate bool   `mapstructure:"migrate"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Ledger struct {
	Provider string        `mapstructure:"provider"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Ethereum Ethereum      `mapstructure:"ethereum"`
	Fabric   Fabric        `mapstructure:"fabric"`
}

type Ethereum struct {
	RPCURL          string `mapstructure:"rpc_url"`
	ContractAddress string `mapstructure:"contract_address"`
	AccountKey      string `mapstructure:"account_key"`
	ChainID         int64  `mapstructure:"chain_id"`
}

type Fabric struct {
	ConnectionProfile string `mapstructure:"connection_profile"`
	WalletPath        string `mapstructure:"wallet_path"`
	Identity          string `mapstructure:"identity"`
	Channel           string `mapstructure:"channel"`
	Chaincode         string `mapstructure:"chaincode"`
	MSPID             string `mapstructure:"msp_id"`
	CertPath          string `mapstructure:"cert_path"`
	KeyPath           string `mapstructure:"key_path"`
}

type Keys struct {
	PrivateKeyPath string `mapstructure:"private_key_path"`
	PublicKeyPath  string `mapstructure:"public_key_path"`
}

type Auth struct {
	// Mode is "jwt", "oidc" or "none". "none" is for local development only.
	Mode      string `mapstructure:"mode"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	Audience  string `mapstructure:"audience"`

	OIDCIssuerURL string        `mapstructure:"oidc_issuer_url"`
	OIDCJWKSURL   string        `mapstructure:"oidc_jwks_url"`
	ClockSkew     time.Duration `mapstructure:"clock_skew"`
}

type Policy struct {
	BundlePath string `mapstructure:"bundle_path"`
}

type Watermark struct {
	Command []string      `mapstructure:"command"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads an optional YAML file and overlays QRTRUST_* environment
// variables, e.g. QRTRUST_LEDGER_ETHEREUM_RPC_URL for ledger.ethereum.rpc_url.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.rate_limit_requests", 60)
	v.SetDefault("http.rate_limit_window", time.Minute)
	v.SetDefault("http.rate_limit_max_keys", 10000)
	v.SetDefault("http.shutdown_timeout", 15*time.Second)

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("ledger.provider", domain.LedgerProviderMemory)
	v.SetDefault("ledger.timeout", 30*time.Second)
	v.SetDefault("ledger.ethereum.rpc_url", "")
	v.SetDefault("ledger.ethereum.contract_address", "")
	v.SetDefault("ledger.ethereum.account_key", "")
	v.SetDefault("ledger.ethereum.chain_id", 0)
	v.SetDefault("ledger.fabric.connection_profile", "")
	v.SetDefault("ledger.fabric.wallet_path", "wallet")
	v.SetDefault("ledger.fabric.identity", "qrtrust-issuer")
	v.SetDefault("ledger.fabric.channel", "")
	v.SetDefault("ledger.fabric.chaincode", "productregistry")
	v.SetDefault("ledger.fabric.msp_id", "")
	v.SetDefault("ledger.fabric.cert_path", "")
	v.SetDefault("ledger.fabric.key_path", "")

	v.SetDefault("keys.private_key_path", "keys/private.pem")
	v.SetDefault("keys.public_key_path", "keys/public.pem")

	v.SetDefault("auth.mode", "jwt")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.audience", "")
	v.SetDefault("auth.oidc_issuer_url", "")
	v.SetDefault("auth.oidc_jwks_url", "")
	v.SetDefault("auth.clock_skew", 60*time.Second)

	v.SetDefault("policy.bundle_path", "")

	v.SetDefault("watermark.command", []string{"python3", "watermark.py"})
	v.SetDefault("watermark.timeout", 60*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// ReservationLease outlives the ledger timeout so a slow anchor keeps its
// claim until it resolves.
func (c Config) ReservationLease() time.Duration {
	return c.Ledger.Timeout + 30*time.Second
}

func (c Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Ledger.Timeout <= 0 {
		errs = append(errs, errors.New("ledger.timeout must be positive"))
	}
	switch c.Ledger.Provider {
	case domain.LedgerProviderMemory:
	case domain.LedgerProviderEthereum:
		if c.Ledger.Ethereum.RPCURL == "" || c.Ledger.Ethereum.ContractAddress == "" || c.Ledger.Ethereum.AccountKey == "" {
			errs = append(errs, errors.New("ledger.ethereum requires rpc_url, contract_address and account_key"))
		}
	case domain.LedgerProviderFabric:
		f := c.Ledger.Fabric
		if f.ConnectionProfile == "" || f.Channel == "" || f.Chaincode == "" || f.MSPID == "" {
			errs = append(errs, errors.New("ledger.fabric requires connection_profile, channel, chaincode and msp_id"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ledger.provider %q", c.Ledger.Provider))
	}
	if c.Keys.PrivateKeyPath == "" || c.Keys.PublicKeyPath == "" {
		errs = append(errs, errors.New("keys.private_key_path and keys.public_key_path are required"))
	}
	switch c.Auth.Mode {
	case "none":
	case "jwt":
		if len(c.Auth.JWTSecret) < 32 {
			errs = append(errs, errors.New("auth.jwt_secret must be at least 32 bytes"))
		}
	case "oidc":
		if c.Auth.OIDCIssuerURL == "" {
			errs = append(errs, errors.New("auth.oidc_issuer_url is required for oidc mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown auth.mode %q", c.Auth.Mode))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
