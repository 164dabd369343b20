package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GlobalFlags mirrors the process-level cobra flags before resolution.
type GlobalFlags struct {
	ConfigPath     string
	RPCURL         string
	ListenAddr     string
	DatabasePath   string
	Timeout        string
	ConfirmTimeout string
	Retries        int
}

// Settings is the fully resolved runtime configuration.
type Settings struct {
	ChainID           int64
	RPCURL            string
	ExecutorAddress   string
	StablecoinAddress string

	ZeroExBaseURL string
	ZeroExAPIKey  string

	DatabasePath     string
	DatabaseLockPath string

	ListenAddr string

	HTTPTimeout     time.Duration
	QuoteRetries    int
	ConfirmPoll     time.Duration
	ConfirmTimeout  time.Duration
	GasMultiplier   float64
	MaxFeeGwei      string
	MaxPriorityGwei string
}

type fileConfig struct {
	Chain struct {
		ID       *int64 `yaml:"id"`
		RPCURL   string `yaml:"rpc_url"`
		Executor string `yaml:"executor_address"`
		USDC     string `yaml:"usdc_address"`
	} `yaml:"chain"`
	ZeroEx struct {
		BaseURL   string `yaml:"base_url"`
		APIKey    string `yaml:"api_key"`
		APIKeyEnv string `yaml:"api_key_env"`
	} `yaml:"zeroex"`
	Database struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"database"`
	Server struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"server"`
	Execution struct {
		HTTPTimeout     string   `yaml:"http_timeout"`
		QuoteRetries    *int     `yaml:"quote_retries"`
		ConfirmPoll     string   `yaml:"confirm_poll"`
		ConfirmTimeout  string   `yaml:"confirm_timeout"`
		GasMultiplier   *float64 `yaml:"gas_multiplier"`
		MaxFeeGwei      string   `yaml:"max_fee_gwei"`
		MaxPriorityGwei string   `yaml:"max_priority_fee_gwei"`
	} `yaml:"execution"`
}

// Default Base mainnet wiring. USDC is the only supported funding asset.
const (
	DefaultChainID     = 8453
	DefaultUSDCAddress = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	DefaultZeroExBase  = "https://api.0x.org"
	DefaultRPCURL      = "https://mainnet.base.org"
)

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}
	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.HTTPTimeout <= 0 {
		settings.HTTPTimeout = 10 * time.Second
	}
	if settings.QuoteRetries < 0 {
		settings.QuoteRetries = 0
	}
	if settings.ConfirmPoll <= 0 {
		settings.ConfirmPoll = 2 * time.Second
	}
	if settings.ConfirmTimeout <= 0 {
		settings.ConfirmTimeout = 2 * time.Minute
	}
	if settings.GasMultiplier <= 1 {
		settings.GasMultiplier = 1.2
	}

	return settings, nil
}

// Validate checks the settings an engine run cannot proceed without.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.ExecutorAddress) == "" {
		return fmt.Errorf("missing executor contract address (set DCA_EXECUTOR_ADDRESS or chain.executor_address)")
	}
	if strings.TrimSpace(s.RPCURL) == "" {
		return fmt.Errorf("missing rpc url")
	}
	if strings.TrimSpace(s.ZeroExAPIKey) == "" {
		return fmt.Errorf("missing 0x api key (set DCA_0X_API_KEY or zeroex.api_key)")
	}
	return nil
}

func defaultSettings() (Settings, error) {
	dbPath, lockPath, err := defaultDatabasePaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		ChainID:           DefaultChainID,
		RPCURL:            DefaultRPCURL,
		StablecoinAddress: DefaultUSDCAddress,
		ZeroExBaseURL:     DefaultZeroExBase,
		DatabasePath:      dbPath,
		DatabaseLockPath:  lockPath,
		ListenAddr:        ":8080",
		HTTPTimeout:       10 * time.Second,
		QuoteRetries:      2,
		ConfirmPoll:       2 * time.Second,
		ConfirmTimeout:    2 * time.Minute,
		GasMultiplier:     1.2,
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "dca", "config.yaml"), nil
}

func defaultDatabasePaths() (string, string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	dir := filepath.Join(base, "dca")
	return filepath.Join(dir, "dca.db"), filepath.Join(dir, "dca.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Chain.ID != nil {
		settings.ChainID = *cfg.Chain.ID
	}
	if cfg.Chain.RPCURL != "" {
		settings.RPCURL = cfg.Chain.RPCURL
	}
	if cfg.Chain.Executor != "" {
		settings.ExecutorAddress = cfg.Chain.Executor
	}
	if cfg.Chain.USDC != "" {
		settings.StablecoinAddress = cfg.Chain.USDC
	}
	if cfg.ZeroEx.BaseURL != "" {
		settings.ZeroExBaseURL = cfg.ZeroEx.BaseURL
	}
	if cfg.ZeroEx.APIKey != "" {
		settings.ZeroExAPIKey = cfg.ZeroEx.APIKey
	}
	if cfg.ZeroEx.APIKeyEnv != "" {
		settings.ZeroExAPIKey = os.Getenv(cfg.ZeroEx.APIKeyEnv)
	}
	if cfg.Database.Path != "" {
		settings.DatabasePath = cfg.Database.Path
	}
	if cfg.Database.LockPath != "" {
		settings.DatabaseLockPath = cfg.Database.LockPath
	}
	if cfg.Server.ListenAddr != "" {
		settings.ListenAddr = cfg.Server.ListenAddr
	}
	if cfg.Execution.HTTPTimeout != "" {
		d, err := time.ParseDuration(cfg.Execution.HTTPTimeout)
		if err != nil {
			return fmt.Errorf("config execution.http_timeout: %w", err)
		}
		settings.HTTPTimeout = d
	}
	if cfg.Execution.QuoteRetries != nil {
		settings.QuoteRetries = *cfg.Execution.QuoteRetries
	}
	if cfg.Execution.ConfirmPoll != "" {
		d, err := time.ParseDuration(cfg.Execution.ConfirmPoll)
		if err != nil {
			return fmt.Errorf("config execution.confirm_poll: %w", err)
		}
		settings.ConfirmPoll = d
	}
	if cfg.Execution.ConfirmTimeout != "" {
		d, err := time.ParseDuration(cfg.Execution.ConfirmTimeout)
		if err != nil {
			return fmt.Errorf("config execution.confirm_timeout: %w", err)
		}
		settings.ConfirmTimeout = d
	}
	if cfg.Execution.GasMultiplier != nil {
		settings.GasMultiplier = *cfg.Execution.GasMultiplier
	}
	if cfg.Execution.MaxFeeGwei != "" {
		settings.MaxFeeGwei = cfg.Execution.MaxFeeGwei
	}
	if cfg.Execution.MaxPriorityGwei != "" {
		settings.MaxPriorityGwei = cfg.Execution.MaxPriorityGwei
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("DCA_CHAIN_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			settings.ChainID = n
		}
	}
	if v := os.Getenv("DCA_RPC_URL"); v != "" {
		settings.RPCURL = v
	}
	if v := os.Getenv("DCA_EXECUTOR_ADDRESS"); v != "" {
		settings.ExecutorAddress = v
	}
	if v := os.Getenv("DCA_USDC_ADDRESS"); v != "" {
		settings.StablecoinAddress = v
	}
	if v := os.Getenv("DCA_0X_BASE_URL"); v != "" {
		settings.ZeroExBaseURL = v
	}
	if v := os.Getenv("DCA_0X_API_KEY"); v != "" {
		settings.ZeroExAPIKey = v
	}
	if v := os.Getenv("DCA_DB_PATH"); v != "" {
		settings.DatabasePath = v
	}
	if v := os.Getenv("DCA_DB_LOCK_PATH"); v != "" {
		settings.DatabaseLockPath = v
	}
	if v := os.Getenv("DCA_LISTEN_ADDR"); v != "" {
		settings.ListenAddr = v
	}
	if v := os.Getenv("DCA_HTTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.HTTPTimeout = d
		}
	}
	if v := os.Getenv("DCA_QUOTE_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.QuoteRetries = n
		}
	}
	if v := os.Getenv("DCA_CONFIRM_POLL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.ConfirmPoll = d
		}
	}
	if v := os.Getenv("DCA_CONFIRM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.ConfirmTimeout = d
		}
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if strings.TrimSpace(flags.RPCURL) != "" {
		settings.RPCURL = strings.TrimSpace(flags.RPCURL)
	}
	if strings.TrimSpace(flags.ListenAddr) != "" {
		settings.ListenAddr = strings.TrimSpace(flags.ListenAddr)
	}
	if strings.TrimSpace(flags.DatabasePath) != "" {
		settings.DatabasePath = strings.TrimSpace(flags.DatabasePath)
		settings.DatabaseLockPath = settings.DatabasePath + ".lock"
	}
	if strings.TrimSpace(flags.Timeout) != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("--timeout: %w", err)
		}
		settings.HTTPTimeout = d
	}
	if strings.TrimSpace(flags.ConfirmTimeout) != "" {
		d, err := time.ParseDuration(flags.ConfirmTimeout)
		if err != nil {
			return fmt.Errorf("--confirm-timeout: %w", err)
		}
		settings.ConfirmTimeout = d
	}
	if flags.Retries > 0 {
		settings.QuoteRetries = flags.Retries
	}
	return nil
}
