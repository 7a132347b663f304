package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/omnimart/marketplace-indexer/internal/domain"
)

// BaseConfig holds base configuration
type BaseConfig struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// NATSConfig holds NATS JetStream configuration
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	StreamName     string        `mapstructure:"stream_name"`
	ConsumerName   string        `mapstructure:"consumer_name"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectionName string        `mapstructure:"connection_name"`
	AckWait        time.Duration `mapstructure:"ack_wait"`
	MaxDeliver     int           `mapstructure:"max_deliver"`
}

// EVMChainConfig holds configuration for a single EVM chain source
type EVMChainConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	ChainID              domain.Chain  `mapstructure:"chain_id"`
	RPCURL               string        `mapstructure:"rpc_url"`
	MarketplaceAddress   string        `mapstructure:"marketplace_address"`
	BridgeAddress        string        `mapstructure:"bridge_address"`
	TokenAddress         string        `mapstructure:"token_address"`
	StartBlock           uint64        `mapstructure:"start_block"`
	MaxBlockRange        uint64        `mapstructure:"max_block_range"`
	BlockHeadTTL         time.Duration `mapstructure:"block_head_ttl"`
	BlockHeadStaleWindow time.Duration `mapstructure:"block_head_stale_window"`
}

// SolanaChainConfig holds configuration for the Solana chain source
type SolanaChainConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	ChainID           domain.Chain  `mapstructure:"chain_id"`
	RPCURL            string        `mapstructure:"rpc_url"`
	ProgramID         string        `mapstructure:"program_id"`
	StartSlot         uint64        `mapstructure:"start_slot"`
	RPCTimeout        time.Duration `mapstructure:"rpc_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	RequestBurst      int           `mapstructure:"request_burst"`
}

// PollerConfig holds chain polling configuration
type PollerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// LifecycleConfig holds listing lifecycle and auction timing configuration
type LifecycleConfig struct {
	TickInterval       time.Duration `mapstructure:"tick_interval"`
	DutchSyncInterval  time.Duration `mapstructure:"dutch_sync_interval"`
	ExtensionWindow    time.Duration `mapstructure:"extension_window"`
	ExtensionIncrement time.Duration `mapstructure:"extension_increment"`
	DefaultDuration    time.Duration `mapstructure:"default_duration"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	WorkerPoolSize  int `mapstructure:"pool_size"`
	WorkerQueueSize int `mapstructure:"queue_size"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // in seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // in seconds
	IdleTimeout  int    `mapstructure:"idle_timeout"`  // in seconds
}

// IndexerConfig holds configuration for the chain indexer binary
type IndexerConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig    `mapstructure:"database"`
	NATS       NATSConfig        `mapstructure:"nats"`
	Poller     PollerConfig      `mapstructure:"poller"`
	Ethereum   EVMChainConfig    `mapstructure:"ethereum"`
	Polygon    EVMChainConfig    `mapstructure:"polygon"`
	Arbitrum   EVMChainConfig    `mapstructure:"arbitrum"`
	Solana     SolanaChainConfig `mapstructure:"solana"`
}

// EVMChains returns the enabled EVM chain configurations
func (c *IndexerConfig) EVMChains() []EVMChainConfig {
	var chains []EVMChainConfig
	for _, chain := range []EVMChainConfig{c.Ethereum, c.Polygon, c.Arbitrum} {
		if chain.Enabled {
			chains = append(chains, chain)
		}
	}
	return chains
}

// WorkerServiceConfig holds configuration for the worker binary
type WorkerServiceConfig struct {
	BaseConfig      `mapstructure:",squash"`
	Database        DatabaseConfig  `mapstructure:"database"`
	NATS            NATSConfig      `mapstructure:"nats"`
	Lifecycle       LifecycleConfig `mapstructure:"lifecycle"`
	Worker          WorkerConfig    `mapstructure:"worker"`
	CollectionsPath string          `mapstructure:"collections_path"`
}

// APIConfig holds configuration for the API server
type APIConfig struct {
	BaseConfig `mapstructure:",squash"`
	Server     ServerConfig    `mapstructure:"server"`
	Database   DatabaseConfig  `mapstructure:"database"`
	Lifecycle  LifecycleConfig `mapstructure:"lifecycle"`
}

// LoadIndexerConfig loads configuration for the indexer binary
func LoadIndexerConfig(configFile string, envPath string) (*IndexerConfig, error) {
	v := configureViper("indexer", configFile, envPath)

	setDatabaseDefaults(v)
	setNATSDefaults(v)
	v.SetDefault("poller.interval", "15s")
	v.SetDefault("ethereum.chain_id", "eip155:1")
	v.SetDefault("polygon.chain_id", "eip155:137")
	v.SetDefault("arbitrum.chain_id", "eip155:42161")
	v.SetDefault("solana.chain_id", "solana:mainnet")
	v.SetDefault("solana.rpc_timeout", "10s")
	v.SetDefault("solana.requests_per_second", 10.0)
	v.SetDefault("solana.request_burst", 5)
	for _, chain := range []string{"ethereum", "polygon", "arbitrum"} {
		v.SetDefault(chain+".max_block_range", 1000)
		v.SetDefault(chain+".block_head_ttl", "12s")
		v.SetDefault(chain+".block_head_stale_window", "60s")
	}

	if err := readInConfig(v); err != nil {
		return nil, err
	}

	var config IndexerConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// LoadWorkerConfig loads configuration for the worker binary
func LoadWorkerConfig(configFile string, envPath string) (*WorkerServiceConfig, error) {
	v := configureViper("worker", configFile, envPath)

	setDatabaseDefaults(v)
	setNATSDefaults(v)
	setLifecycleDefaults(v)
	v.SetDefault("nats.consumer_name", "market-applier")
	v.SetDefault("worker.pool_size", 20)
	v.SetDefault("worker.queue_size", 2048)

	if err := readInConfig(v); err != nil {
		return nil, err
	}

	var config WorkerServiceConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// LoadAPIConfig loads configuration for the API server
func LoadAPIConfig(configFile string, envPath string) (*APIConfig, error) {
	v := configureViper("api", configFile, envPath)

	setDatabaseDefaults(v)
	setLifecycleDefaults(v)
	v.SetDefault("debug", false)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("server.idle_timeout", 120)

	if err := readInConfig(v); err != nil {
		return nil, err
	}

	var config APIConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDatabaseDefaults(v *viper.Viper) {
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle_time", "10m")
}

func setNATSDefaults(v *viper.Viper) {
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.stream_name", "MARKET_EVENTS")
	v.SetDefault("nats.ack_wait", "30s")
	v.SetDefault("nats.max_deliver", 3)
}

func setLifecycleDefaults(v *viper.Viper) {
	v.SetDefault("lifecycle.tick_interval", "1s")
	v.SetDefault("lifecycle.dutch_sync_interval", "60s")
	v.SetDefault("lifecycle.extension_window", "5m")
	v.SetDefault("lifecycle.extension_increment", "2m")
	v.SetDefault("lifecycle.default_duration", "168h")
}

// readInConfig reads the config file, tolerating a missing file so that
// deployments can run on environment variables alone
func readInConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// configureViper returns a viper instance with the config file and environment variables set
func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	// Load environment variables
	loadEnv(envPath, service)

	// Set config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		// Search for config.yaml in multiple locations:
		// 1. Current directory
		v.AddConfigPath(".")
		// 2. Service-specific directory (e.g., cmd/worker/, cmd/api/)
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		// 3. Config directory
		v.AddConfigPath("config/")
	}

	// Set environment variables
	v.SetEnvPrefix("MKT_INDEXER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind all environment variables
	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds all possible environment variables
// This is required for viper to map env vars to config struct fields when no config file exists
func bindAllEnvVars(v *viper.Viper) {
	commonKeys := []string{
		"debug",
		"sentry_dsn",
		"collections_path",
		// Database
		"database.host",
		"database.port",
		"database.user",
		"database.password",
		"database.dbname",
		"database.sslmode",
		"database.max_open_conns",
		"database.max_idle_conns",
		"database.conn_max_lifetime",
		"database.conn_max_idle_time",
		// NATS
		"nats.url",
		"nats.stream_name",
		"nats.consumer_name",
		"nats.max_reconnects",
		"nats.reconnect_wait",
		"nats.connection_name",
		"nats.ack_wait",
		"nats.max_deliver",
		// Poller
		"poller.interval",
		// Solana
		"solana.enabled",
		"solana.chain_id",
		"solana.rpc_url",
		"solana.program_id",
		"solana.start_slot",
		"solana.rpc_timeout",
		"solana.requests_per_second",
		"solana.request_burst",
		// Lifecycle
		"lifecycle.tick_interval",
		"lifecycle.dutch_sync_interval",
		"lifecycle.extension_window",
		"lifecycle.extension_increment",
		"lifecycle.default_duration",
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.idle_timeout",
		// Worker pool
		"worker.pool_size",
		"worker.queue_size",
	}

	for _, chain := range []string{"ethereum", "polygon", "arbitrum"} {
		commonKeys = append(commonKeys,
			chain+".enabled",
			chain+".chain_id",
			chain+".rpc_url",
			chain+".marketplace_address",
			chain+".bridge_address",
			chain+".token_address",
			chain+".start_block",
			chain+".max_block_range",
			chain+".block_head_ttl",
			chain+".block_head_stale_window",
		)
	}

	for _, key := range commonKeys {
		_ = v.BindEnv(key)
	}
}

// loadEnv loads environment variables from the config directory
func loadEnv(envPath string, service string) {
	// Always try shared base first, then local, then optional per-service local.
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	// Default to config directory
	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate) // Overload lets later files override earlier ones
	}
}

// ChdirRepoRoot changes the current working directory to the repository root
func ChdirRepoRoot() {
	cwd, _ := os.Getwd()
	for range 5 {
		if _, err := os.Stat(filepath.Join(cwd, "config")); err == nil {
			_ = os.Chdir(cwd)
			return
		}
		cwd = filepath.Dir(cwd)
	}
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
