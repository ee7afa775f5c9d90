/**
 * @description
 * This file handles the configuration management for the openbanking-service.
 * It uses the Viper library to read settings from environment variables or a .env file.
 * Credentials and gateway paths are supplied here once at process start and injected
 * into the gateway client and the store at construction time.
 *
 * @dependencies
 * - github.com/spf13/viper: For configuration management.
 */
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/transfa/openbanking-service/internal/domain"
	"github.com/transfa/openbanking-service/pkg/gatewayclient"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config stores all configuration for the application.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	StoreDriver string `mapstructure:"STORE_DRIVER"`

	RedisURL                string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix    string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	FetchRateLimitPerMinute int    `mapstructure:"FETCH_RATE_LIMIT_PER_MINUTE"`
	HTTPRateLimitPerMinute  int    `mapstructure:"HTTP_RATE_LIMIT_PER_MINUTE"`

	RabbitMQURL            string `mapstructure:"RABBITMQ_URL"`
	AccountEventsExchange  string `mapstructure:"ACCOUNT_EVENTS_EXCHANGE"`
	CustomerEventsExchange string `mapstructure:"CUSTOMER_EVENTS_EXCHANGE"`
	SyncRequestQueue       string `mapstructure:"SYNC_REQUEST_QUEUE"`

	GatewayBaseURL           string `mapstructure:"GATEWAY_BASE_URL"`
	GatewayAccountsPath      string `mapstructure:"GATEWAY_ACCOUNTS_PATH"`
	GatewayOffersPath        string `mapstructure:"GATEWAY_OFFERS_PATH"`
	GatewayPISPath           string `mapstructure:"GATEWAY_PIS_PATH"`
	GatewayAuthorization     string `mapstructure:"GATEWAY_AUTHORIZATION"`
	GatewayFinancialID       string `mapstructure:"GATEWAY_FINANCIAL_ID"`
	GatewayJWSSignature      string `mapstructure:"GATEWAY_JWS_SIGNATURE"`
	GatewayCustomerUserAgent string `mapstructure:"GATEWAY_CUSTOMER_USER_AGENT"`
	GatewayCustomerIPAddress string `mapstructure:"GATEWAY_CUSTOMER_IP_ADDRESS"`
	GatewayTimeoutSeconds    int    `mapstructure:"GATEWAY_TIMEOUT_SECONDS"`
	GatewayStubMode          bool   `mapstructure:"GATEWAY_STUB_MODE"`
	PaymentTemplatesFile     string `mapstructure:"PAYMENT_TEMPLATES_FILE"`
	OffersCacheTTLSeconds    int    `mapstructure:"OFFERS_CACHE_TTL_SECONDS"`

	SyncJobSchedule    string `mapstructure:"SYNC_JOB_SCHEDULE"`
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	APIKey             string `mapstructure:"API_KEY"`
}

// ConfigurationError is returned when required settings are missing at startup.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", strings.Join(e.Missing, ", "))
}

// LoadConfig reads configuration from the optional .env file in path and from
// environment variables. It does not validate; call Validate before use.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8090")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "openbanking:rate_limit")
	viper.SetDefault("FETCH_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("HTTP_RATE_LIMIT_PER_MINUTE", 600)
	viper.SetDefault("ACCOUNT_EVENTS_EXCHANGE", "account_events")
	viper.SetDefault("CUSTOMER_EVENTS_EXCHANGE", "customer_events")
	viper.SetDefault("SYNC_REQUEST_QUEUE", "openbanking_service_customer_sync")
	viper.SetDefault("GATEWAY_BASE_URL", "https://jpcjofsdev.apigw-az-eu.webmethods.io/gateway")
	viper.SetDefault("GATEWAY_ACCOUNTS_PATH", "/Accounts/v0.4.3/accounts")
	viper.SetDefault("GATEWAY_OFFERS_PATH", "/Offers/v0.4.3/institution/offers")
	viper.SetDefault("GATEWAY_PIS_PATH", "/RFC%20-%20Payment%20Initiation%20Services%20%28PIS%29/v0.4.3")
	viper.SetDefault("GATEWAY_TIMEOUT_SECONDS", 30)
	viper.SetDefault("GATEWAY_STUB_MODE", false)
	viper.SetDefault("OFFERS_CACHE_TTL_SECONDS", 900)
	viper.SetDefault("SYNC_JOB_SCHEDULE", "0 */6 * * *") // Every six hours.

	// Bind envs explicitly so containers pick them up reliably
	for _, key := range []string{
		"SERVER_PORT", "PORT", "LOG_LEVEL", "DATABASE_URL", "STORE_DRIVER",
		"REDIS_URL", "REDIS_RATE_LIMIT_PREFIX", "FETCH_RATE_LIMIT_PER_MINUTE", "HTTP_RATE_LIMIT_PER_MINUTE",
		"RABBITMQ_URL", "ACCOUNT_EVENTS_EXCHANGE", "CUSTOMER_EVENTS_EXCHANGE", "SYNC_REQUEST_QUEUE",
		"GATEWAY_BASE_URL", "GATEWAY_ACCOUNTS_PATH", "GATEWAY_OFFERS_PATH", "GATEWAY_PIS_PATH",
		"GATEWAY_AUTHORIZATION", "GATEWAY_FINANCIAL_ID", "GATEWAY_JWS_SIGNATURE",
		"GATEWAY_CUSTOMER_USER_AGENT", "GATEWAY_CUSTOMER_IP_ADDRESS", "GATEWAY_TIMEOUT_SECONDS",
		"GATEWAY_STUB_MODE", "PAYMENT_TEMPLATES_FILE", "OFFERS_CACHE_TTL_SECONDS", "SYNC_JOB_SCHEDULE", "CORS_ALLOWED_ORIGINS", "API_KEY",
	} {
		_ = viper.BindEnv(key)
	}

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("failed to read config file; using environment values", "component", "config", "error", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.StoreDriver = strings.ToLower(strings.TrimSpace(config.StoreDriver))
	config.GatewayBaseURL = strings.TrimSuffix(strings.TrimSpace(config.GatewayBaseURL), "/")
	config.GatewayAuthorization = strings.TrimSpace(config.GatewayAuthorization)
	config.GatewayFinancialID = strings.TrimSpace(config.GatewayFinancialID)
	config.SyncJobSchedule = strings.TrimSpace(config.SyncJobSchedule)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "openbanking:rate_limit"
	}

	if config.GatewayTimeoutSeconds <= 0 {
		slog.Warn("non-positive gateway timeout configured; using default", "component", "config", "timeout_seconds", config.GatewayTimeoutSeconds)
		config.GatewayTimeoutSeconds = 30
	}
	if config.FetchRateLimitPerMinute < 0 {
		config.FetchRateLimitPerMinute = 0
	}
	if config.HTTPRateLimitPerMinute < 0 {
		config.HTTPRateLimitPerMinute = 0
	}
	if config.OffersCacheTTLSeconds < 0 {
		config.OffersCacheTTLSeconds = 0
	}

	return
}

// Validate checks that every required credential and connection string is present.
func (c Config) Validate() error {
	var missing []string
	if c.GatewayBaseURL == "" {
		missing = append(missing, "GATEWAY_BASE_URL")
	}
	if c.GatewayAuthorization == "" {
		missing = append(missing, "GATEWAY_AUTHORIZATION")
	}
	if c.GatewayFinancialID == "" {
		missing = append(missing, "GATEWAY_FINANCIAL_ID")
	}
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case StoreDriverMemory:
	default:
		missing = append(missing, fmt.Sprintf("STORE_DRIVER (unsupported value %q)", c.StoreDriver))
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}

// GatewayTimeout returns the per-request timeout for gateway calls.
func (c Config) GatewayTimeout() time.Duration {
	return time.Duration(c.GatewayTimeoutSeconds) * time.Second
}

// Gateway returns the gateway client settings with templates attached.
func (c Config) Gateway(templates domain.PaymentTemplates) gatewayclient.Config {
	return gatewayclient.Config{
		BaseURL:           c.GatewayBaseURL,
		AccountsPath:      c.GatewayAccountsPath,
		OffersPath:        c.GatewayOffersPath,
		PISPath:           c.GatewayPISPath,
		Authorization:     c.GatewayAuthorization,
		FinancialID:       c.GatewayFinancialID,
		JWSSignature:      c.GatewayJWSSignature,
		CustomerUserAgent: c.GatewayCustomerUserAgent,
		CustomerIPAddress: c.GatewayCustomerIPAddress,
		Timeout:           c.GatewayTimeout(),
		StubMode:          c.GatewayStubMode,
		Templates:         templates,
	}
}

// OffersCacheTTL returns how long fetched offers are served from cache.
func (c Config) OffersCacheTTL() time.Duration {
	return time.Duration(c.OffersCacheTTLSeconds) * time.Second
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
