package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"settlement-service/internal/domain"

	"go.uber.org/zap"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverKafka    = "kafka"

	WorkerChain     = "chainworker"
	WorkerSimulated = "simulated"
)

type Config struct {
	Environment      string
	Server           ServerConfig
	Database         DatabaseConfig
	Redis            RedisConfig
	Kafka            KafkaConfig
	Worker           WorkerConfig
	SettlementWorker SettlementWorkerConfig
	Auth             AuthConfig
	ServiceWallets   ServiceWalletsConfig
}

type ServerConfig struct {
	HTTPAddr        string
	GRPCAddr        string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Driver   string // "postgres", "memory"
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int
	MinConns int
}

// URL builds the pgx connection string.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Enabled    bool
	Addrs      []string
	Password   string
	UseCluster bool
	CacheTTL   time.Duration
}

type KafkaConfig struct {
	Brokers        []string
	ExecutionTopic string
	GroupID        string
}

type WorkerConfig struct {
	QueueDriver     string // "kafka", "memory"
	Concurrency     int
	QueueBuffer     int
	Lease           time.Duration
	Backoff         []time.Duration
	MonitorInterval time.Duration
	MonitorBatch    int
}

type SettlementWorkerConfig struct {
	Kind      string // "chainworker", "simulated"
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
}

type ServiceWalletsConfig struct {
	Currency  string
	Addresses map[domain.ServiceWalletKind]string
}

// Load reads the configuration from the environment. Call Validate before
// using it.
func Load(logger *zap.Logger) (*Config, error) {
	backoff, err := getEnvDurationSlice("EXECUTION_BACKOFF", []time.Duration{5 * time.Second, 30 * time.Second, 120 * time.Second})
	if err != nil {
		return nil, err
	}

	// ============================================================================
	// Service wallets: SERVICE_WALLET_<KIND>=<address>
	// ============================================================================
	addresses := make(map[domain.ServiceWalletKind]string)
	for _, kind := range domain.AllServiceWalletKinds() {
		key := "SERVICE_WALLET_" + strings.ToUpper(string(kind))
		if addr := strings.TrimSpace(os.Getenv(key)); addr != "" {
			addresses[kind] = addr
		}
	}
	if len(addresses) == 0 {
		logger.Warn("no service wallets configured, service:<kind> destinations will be rejected")
	}

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "production"),
		Server: ServerConfig{
			HTTPAddr:        getEnv("HTTP_ADDR", ":8030"),
			GRPCAddr:        getEnv("GRPC_ADDR", ":8031"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", DriverPostgres),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     getEnv("DB_NAME", "settlement"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 50),
			MinConns: getEnvAsInt("DB_MIN_CONNS", 10),
		},
		Redis: RedisConfig{
			Enabled:    getEnvAsBool("REDIS_ENABLED", true),
			Addrs:      getEnvSlice("REDIS_ADDR", []string{"redis:6379"}),
			Password:   getEnv("REDIS_PASS", ""),
			UseCluster: getEnvAsBool("REDIS_CLUSTER", false),
			CacheTTL:   getEnvAsDuration("INTENT_CACHE_TTL", 30*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:        getEnvSlice("KAFKA_BROKERS", []string{"kafka:9092"}),
			ExecutionTopic: getEnv("KAFKA_EXECUTION_TOPIC", "payment.intent.execute"),
			GroupID:        getEnv("KAFKA_GROUP_ID", "settlement-executors"),
		},
		Worker: WorkerConfig{
			QueueDriver:     getEnv("QUEUE_DRIVER", DriverKafka),
			Concurrency:     getEnvAsInt("WORKER_CONCURRENCY", 8),
			QueueBuffer:     getEnvAsInt("QUEUE_BUFFER", 1024),
			Lease:           getEnvAsDuration("EXECUTION_LEASE", 2*time.Minute),
			Backoff:         backoff,
			MonitorInterval: getEnvAsDuration("STUCK_MONITOR_INTERVAL", time.Minute),
			MonitorBatch:    getEnvAsInt("STUCK_MONITOR_BATCH", 100),
		},
		SettlementWorker: SettlementWorkerConfig{
			Kind:      getEnv("SETTLEMENT_WORKER", WorkerChain),
			BaseURL:   getEnv("SETTLEMENT_WORKER_URL", "http://chain-worker:8080"),
			APIKey:    os.Getenv("SETTLEMENT_WORKER_API_KEY"),
			APISecret: os.Getenv("SETTLEMENT_WORKER_API_SECRET"),
			Timeout:   getEnvAsDuration("SETTLEMENT_WORKER_TIMEOUT", 20*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
			Issuer:    getEnv("JWT_ISSUER", ""),
			Audience:  getEnv("JWT_AUDIENCE", ""),
		},
		ServiceWallets: ServiceWalletsConfig{
			Currency:  strings.ToUpper(getEnv("SERVICE_WALLET_CURRENCY", "USDT")),
			Addresses: addresses,
		},
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Database.Driver))
	}
	switch c.Worker.QueueDriver {
	case DriverKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.ExecutionTopic == "" {
			errs = append(errs, errors.New("kafka queue needs KAFKA_BROKERS and KAFKA_EXECUTION_TOPIC"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("QUEUE_DRIVER must be %q or %q, got %q", DriverKafka, DriverMemory, c.Worker.QueueDriver))
	}
	switch c.SettlementWorker.Kind {
	case WorkerChain:
		if c.SettlementWorker.BaseURL == "" || c.SettlementWorker.APIKey == "" || c.SettlementWorker.APISecret == "" {
			errs = append(errs, errors.New("chainworker needs SETTLEMENT_WORKER_URL, SETTLEMENT_WORKER_API_KEY and SETTLEMENT_WORKER_API_SECRET"))
		}
	case WorkerSimulated:
		if c.Environment == "production" {
			errs = append(errs, errors.New("simulated settlement worker is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SETTLEMENT_WORKER %q", c.SettlementWorker.Kind))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.SettlementWorker.Timeout <= 0 {
		errs = append(errs, errors.New("SETTLEMENT_WORKER_TIMEOUT must be positive"))
	}
	if c.Worker.Lease <= c.SettlementWorker.Timeout {
		errs = append(errs, fmt.Errorf("EXECUTION_LEASE (%s) must exceed SETTLEMENT_WORKER_TIMEOUT (%s)",
			c.Worker.Lease, c.SettlementWorker.Timeout))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, errors.New("WORKER_CONCURRENCY must be positive"))
	}
	if c.Worker.MonitorInterval <= 0 {
		errs = append(errs, errors.New("STUCK_MONITOR_INTERVAL must be positive"))
	}
	if len(c.ServiceWallets.Addresses) > 0 && c.ServiceWallets.Currency == "" {
		errs = append(errs, errors.New("SERVICE_WALLET_CURRENCY is required when service wallets are configured"))
	}
	if _, err := domain.NewServiceWalletRegistry(c.ServiceWallets.Addresses); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ============================================================================
// Helper Functions
// ============================================================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnvDurationSlice parses a comma separated list such as "5s,30s,2m".
// Unlike the scalar helpers a malformed value is an error.
func getEnvDurationSlice(key string, defaultValue []time.Duration) ([]time.Duration, error) {
	raw := getEnvSlice(key, nil)
	if len(raw) == 0 {
		return defaultValue, nil
	}
	out := make([]time.Duration, 0, len(raw))
	for _, s := range raw {
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("%s: invalid duration %q", key, s)
		}
		out = append(out, d)
	}
	return out, nil
}
