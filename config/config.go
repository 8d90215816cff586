/*
Copyright 2025 Caterly Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"STOREFRONT_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"STOREFRONT_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"STOREFRONT_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"STOREFRONT_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"STOREFRONT_REDIS_DNS"`
}

type QueueConfig struct {
	WebhookQueue     string `json:"webhook_queue" envconfig:"STOREFRONT_QUEUE_WEBHOOK"`
	LabelQueue       string `json:"label_queue" envconfig:"STOREFRONT_QUEUE_LABEL"`
	StaleSweepQueue  string `json:"stale_sweep_queue" envconfig:"STOREFRONT_QUEUE_STALE_SWEEP"`
	MaxRetryAttempts int    `json:"max_retry_attempts" envconfig:"STOREFRONT_QUEUE_MAX_RETRY_ATTEMPTS"`
}

type LeaseConfig struct {
	// Default TTL applied to label leases when the caller does not specify one.
	DefaultTTLSeconds int `json:"default_ttl_seconds" envconfig:"STOREFRONT_LEASE_DEFAULT_TTL_SEC"`
}

type CircuitBreakerConfig struct {
	FailureThreshold   int `json:"failure_threshold" envconfig:"STOREFRONT_BREAKER_FAILURE_THRESHOLD"`
	FailureWindowSec   int `json:"failure_window_sec" envconfig:"STOREFRONT_BREAKER_FAILURE_WINDOW_SEC"`
	RecoveryTimeoutSec int `json:"recovery_timeout_sec" envconfig:"STOREFRONT_BREAKER_RECOVERY_TIMEOUT_SEC"`
	SuccessThreshold   int `json:"success_threshold" envconfig:"STOREFRONT_BREAKER_SUCCESS_THRESHOLD"`
}

type OrdersConfig struct {
	// Lookback window for the duplicate-order check.
	DuplicateWindowHours int `json:"duplicate_window_hours" envconfig:"STOREFRONT_ORDERS_DUPLICATE_WINDOW_HOURS"`
	// Pending/failed orders older than this are auto-cancelled by the sweep.
	StaleAfterDays int `json:"stale_after_days" envconfig:"STOREFRONT_ORDERS_STALE_AFTER_DAYS"`
}

type ShippingConfig struct {
	Url     string `json:"url" envconfig:"STOREFRONT_SHIPPING_URL"`
	Timeout int    `json:"timeout" envconfig:"STOREFRONT_SHIPPING_TIMEOUT"`
}

type PaymentConfig struct {
	Url     string `json:"url" envconfig:"STOREFRONT_PAYMENT_URL"`
	Timeout int    `json:"timeout" envconfig:"STOREFRONT_PAYMENT_TIMEOUT"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"STOREFRONT_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"STOREFRONT_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"STOREFRONT_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName    string               `json:"project_name" envconfig:"STOREFRONT_PROJECT_NAME"`
	Server         ServerConfig         `json:"server"`
	DataSource     DataSourceConfig     `json:"data_source"`
	Redis          RedisConfig          `json:"redis"`
	Queue          QueueConfig          `json:"queue"`
	Lease          LeaseConfig          `json:"lease"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
	Orders         OrdersConfig         `json:"orders"`
	Shipping       ShippingConfig       `json:"shipping"`
	Payment        PaymentConfig        `json:"payment"`
	Notification   Notification         `json:"notification"`
	RateLimit      RateLimitConfig      `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("storefront", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called storefront.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	cnf.addDefaults()

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}
	return nil
}

func (cnf *Configuration) addDefaults() {
	if cnf.ProjectName == "" {
		cnf.ProjectName = "Storefront Server"
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "new:webhook"
	}
	if cnf.Queue.LabelQueue == "" {
		cnf.Queue.LabelQueue = "new:label"
	}
	if cnf.Queue.StaleSweepQueue == "" {
		cnf.Queue.StaleSweepQueue = "new:stale-sweep"
	}
	if cnf.Queue.MaxRetryAttempts <= 0 {
		cnf.Queue.MaxRetryAttempts = 5
	}

	if cnf.Lease.DefaultTTLSeconds <= 0 {
		cnf.Lease.DefaultTTLSeconds = 120
	}

	if cnf.CircuitBreaker.FailureThreshold <= 0 {
		cnf.CircuitBreaker.FailureThreshold = 5
	}
	if cnf.CircuitBreaker.FailureWindowSec <= 0 {
		cnf.CircuitBreaker.FailureWindowSec = 60
	}
	if cnf.CircuitBreaker.RecoveryTimeoutSec <= 0 {
		cnf.CircuitBreaker.RecoveryTimeoutSec = 30
	}
	if cnf.CircuitBreaker.SuccessThreshold <= 0 {
		cnf.CircuitBreaker.SuccessThreshold = 2
	}

	if cnf.Orders.DuplicateWindowHours <= 0 {
		cnf.Orders.DuplicateWindowHours = 24
	}
	if cnf.Orders.StaleAfterDays <= 0 {
		cnf.Orders.StaleAfterDays = 7
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}
}

// MockConfig sets a mock configuration for testing purposes. Defaults are
// applied but required-field validation is skipped so tests can pass minimal
// configurations.
func MockConfig(mockConfig *Configuration) {
	mockConfig.addDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
