/*
Copyright 2024 Fundi Authors.

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
	DEFAULT_PORT = "5101"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"FUNDI_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"FUNDI_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"FUNDI_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"FUNDI_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"FUNDI_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"FUNDI_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"FUNDI_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"FUNDI_REDIS_DNS"`
}

// GatewayConfig configures the external payment provider. WebhookSecret signs
// inbound webhook bodies (HMAC-SHA512 over the raw bytes); SecretKey
// authorizes outbound verify/transfer calls. TimeoutSec bounds every outbound
// call so webhook processing never hangs on the provider.
type GatewayConfig struct {
	BaseUrl       string `json:"base_url" envconfig:"FUNDI_GATEWAY_BASE_URL"`
	SecretKey     string `json:"secret_key" envconfig:"FUNDI_GATEWAY_SECRET_KEY"`
	WebhookSecret string `json:"webhook_secret" envconfig:"FUNDI_GATEWAY_WEBHOOK_SECRET"`
	TimeoutSec    int    `json:"timeout_sec" envconfig:"FUNDI_GATEWAY_TIMEOUT_SEC"`
	MaxRetries    int    `json:"max_retries" envconfig:"FUNDI_GATEWAY_MAX_RETRIES"`
}

// LedgerConfig holds wallet settlement policy. Locked credits mature after
// MaturationHours before they move into available balance.
type LedgerConfig struct {
	Currency        string `json:"currency" envconfig:"FUNDI_LEDGER_CURRENCY"`
	MaturationHours int    `json:"maturation_hours" envconfig:"FUNDI_LEDGER_MATURATION_HOURS"`
}

// ReconciliationConfig controls the stuck-payment sweep: payments sitting in
// processing longer than StuckAfterMin get re-verified against the gateway.
type ReconciliationConfig struct {
	StuckAfterMin int `json:"stuck_after_min" envconfig:"FUNDI_RECONCILIATION_STUCK_AFTER_MIN"`
}

type ConversationConfig struct {
	CancellationChances int `json:"cancellation_chances" envconfig:"FUNDI_CONVERSATION_CANCELLATION_CHANCES"`
}

type PushConfig struct {
	Url     string            `json:"url" envconfig:"FUNDI_PUSH_URL"`
	Headers map[string]string `json:"headers"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
	Push  PushConfig   `json:"push"`
}

type QueueConfig struct {
	NotificationQueue string `json:"notification_queue" envconfig:"FUNDI_QUEUE_NOTIFICATION"`
	SettlementQueue   string `json:"settlement_queue" envconfig:"FUNDI_QUEUE_SETTLEMENT"`
	PaymentSweepQueue string `json:"payment_sweep_queue" envconfig:"FUNDI_QUEUE_PAYMENT_SWEEP"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"FUNDI_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"FUNDI_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"FUNDI_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type Configuration struct {
	ProjectName    string               `json:"project_name" envconfig:"FUNDI_PROJECT_NAME"`
	Server         ServerConfig         `json:"server"`
	DataSource     DataSourceConfig     `json:"data_source"`
	Redis          RedisConfig          `json:"redis"`
	Gateway        GatewayConfig        `json:"gateway"`
	Ledger         LedgerConfig         `json:"ledger"`
	Reconciliation ReconciliationConfig `json:"reconciliation"`
	Conversation   ConversationConfig   `json:"conversation"`
	Notification   Notification         `json:"notification"`
	Queue          QueueConfig          `json:"queue"`
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
	err = envconfig.Process("fundi", &cnf)
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
		return nil, errors.New("config not loaded from file. Create a json file called fundi.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Fundi Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Gateway.BaseUrl == "" {
		cnf.Gateway.BaseUrl = "https://api.paystack.co"
	}
	if cnf.Gateway.TimeoutSec <= 0 {
		cnf.Gateway.TimeoutSec = 15
	}
	if cnf.Gateway.MaxRetries <= 0 {
		cnf.Gateway.MaxRetries = 3
	}

	if cnf.Ledger.Currency == "" {
		cnf.Ledger.Currency = "NGN"
	}
	if cnf.Ledger.MaturationHours <= 0 {
		cnf.Ledger.MaturationHours = 24
	}

	if cnf.Reconciliation.StuckAfterMin <= 0 {
		cnf.Reconciliation.StuckAfterMin = 30
	}

	if cnf.Conversation.CancellationChances <= 0 {
		cnf.Conversation.CancellationChances = 3
	}

	if cnf.Queue.NotificationQueue == "" {
		cnf.Queue.NotificationQueue = "notification_queue"
	}
	if cnf.Queue.SettlementQueue == "" {
		cnf.Queue.SettlementQueue = "settlement_queue"
	}
	if cnf.Queue.PaymentSweepQueue == "" {
		cnf.Queue.PaymentSweepQueue = "payment_sweep_queue"
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
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
