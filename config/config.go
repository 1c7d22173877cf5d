/*
Copyright 2025 Saldo Authors.

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
	DEFAULT_PORT = "5401"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"SALDO_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"SALDO_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"SALDO_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"SALDO_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"SALDO_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"SALDO_REDIS_SKIP_TLS_VERIFY"`
}

// ProviderConfig describes the upstream wallet provider API.
type ProviderConfig struct {
	BaseURL    string            `json:"base_url" envconfig:"SALDO_PROVIDER_BASE_URL"`
	APIKey     string            `json:"api_key" envconfig:"SALDO_PROVIDER_API_KEY"`
	TimeoutSec int               `json:"timeout_sec" envconfig:"SALDO_PROVIDER_TIMEOUT_SEC"`
	MaxRetries int               `json:"max_retries" envconfig:"SALDO_PROVIDER_MAX_RETRIES"`
	Headers    map[string]string `json:"headers"`
}

// QueueConfig controls the provider request queue and its batch scheduler.
type QueueConfig struct {
	BatchSize              int    `json:"batch_size" envconfig:"SALDO_QUEUE_BATCH_SIZE"`
	MaxWorkers             int    `json:"max_workers" envconfig:"SALDO_QUEUE_MAX_WORKERS"`
	MaxRetries             int    `json:"max_retries" envconfig:"SALDO_QUEUE_MAX_RETRIES"`
	LeaseTTLSec            int    `json:"lease_ttl_sec" envconfig:"SALDO_QUEUE_LEASE_TTL_SEC"`
	StuckProcessingSec     int    `json:"stuck_processing_sec" envconfig:"SALDO_QUEUE_STUCK_PROCESSING_SEC"`
	WebhookIngestionQueue  string `json:"webhook_ingestion_queue"`
	EventQueue             string `json:"event_queue"`
	NumberOfWebhookWorkers int    `json:"number_of_webhook_workers"`
}

// DedupConfig controls the duplicate-request guard.
type DedupConfig struct {
	// FailOpen treats a storage error while checking for duplicates as
	// "allow". Availability over strictness; every bypass is logged.
	FailOpen            *bool `json:"fail_open" envconfig:"SALDO_DEDUP_FAIL_OPEN"`
	LockTTLSec          int   `json:"lock_ttl_sec" envconfig:"SALDO_DEDUP_LOCK_TTL_SEC"`
	CompletedWindowSec  int   `json:"completed_window_sec" envconfig:"SALDO_DEDUP_COMPLETED_WINDOW_SEC"`
	AbandonedSweepLimit int   `json:"abandoned_sweep_limit"`
}

// WebhookConfig controls inbound provider webhook authentication.
type WebhookConfig struct {
	Secret string `json:"secret" envconfig:"SALDO_WEBHOOK_SECRET"`
	// RequireSignature hard-fails deliveries without a valid signature.
	// Off by default: with no secret configured events are processed but
	// flagged unverified.
	RequireSignature bool `json:"require_signature" envconfig:"SALDO_WEBHOOK_REQUIRE_SIGNATURE"`
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

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"SALDO_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"SALDO_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"SALDO_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type Configuration struct {
	ProjectName  string           `json:"project_name" envconfig:"SALDO_PROJECT_NAME"`
	Server       ServerConfig     `json:"server"`
	DataSource   DataSourceConfig `json:"data_source"`
	Redis        RedisConfig      `json:"redis"`
	Provider     ProviderConfig   `json:"provider"`
	Queue        QueueConfig      `json:"queue"`
	Dedup        DedupConfig      `json:"dedup"`
	Webhook      WebhookConfig    `json:"webhook"`
	Notification Notification     `json:"notification"`
	RateLimit    RateLimitConfig  `json:"rate_limit"`
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
	err = envconfig.Process("saldo", &cnf)
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
		return nil, errors.New("config not loaded from file. Create a json file called saldo.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Saldo Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Provider.BaseURL = strings.TrimSpace(cnf.Provider.BaseURL)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Provider.TimeoutSec <= 0 {
		cnf.Provider.TimeoutSec = 30
	}
	if cnf.Provider.MaxRetries <= 0 {
		cnf.Provider.MaxRetries = 3
	}

	if cnf.Queue.BatchSize <= 0 {
		cnf.Queue.BatchSize = 50
	}
	if cnf.Queue.MaxWorkers <= 0 {
		cnf.Queue.MaxWorkers = 5
	}
	if cnf.Queue.MaxRetries <= 0 {
		cnf.Queue.MaxRetries = 5
	}
	if cnf.Queue.LeaseTTLSec <= 0 {
		cnf.Queue.LeaseTTLSec = 120
	}
	if cnf.Queue.StuckProcessingSec <= 0 {
		cnf.Queue.StuckProcessingSec = 3600
	}
	if cnf.Queue.WebhookIngestionQueue == "" {
		cnf.Queue.WebhookIngestionQueue = "new:webhook"
	}
	if cnf.Queue.EventQueue == "" {
		cnf.Queue.EventQueue = "new:event"
	}
	if cnf.Queue.NumberOfWebhookWorkers <= 0 {
		cnf.Queue.NumberOfWebhookWorkers = 10
	}

	if cnf.Dedup.FailOpen == nil {
		failOpen := true
		cnf.Dedup.FailOpen = &failOpen
	}
	if cnf.Dedup.LockTTLSec <= 0 {
		cnf.Dedup.LockTTLSec = 300
	}
	if cnf.Dedup.CompletedWindowSec <= 0 {
		cnf.Dedup.CompletedWindowSec = 60
	}
	if cnf.Dedup.AbandonedSweepLimit <= 0 {
		cnf.Dedup.AbandonedSweepLimit = 500
	}

	if cnf.Webhook.Secret == "" {
		log.Println("Warning: No webhook secret configured. Inbound events will be processed unverified.")
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

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	_ = mockConfig.validateAndAddDefaultsForTests()
	ConfigStore.Store(mockConfig)
}

// validateAndAddDefaultsForTests fills defaults without failing on the
// required connection strings, which tests rarely set.
func (cnf *Configuration) validateAndAddDefaultsForTests() error {
	if cnf.DataSource.Dns == "" {
		cnf.DataSource.Dns = "mock"
	}
	if cnf.Redis.Dns == "" {
		cnf.Redis.Dns = "localhost:6379"
	}
	return cnf.validateAndAddDefaults()
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
