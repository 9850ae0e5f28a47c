package config

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port             string `envconfig:"PORT" default:"8080"`
	AWSRegion        string `envconfig:"AWS_REGION" default:"eu-west-1"`
	LedgerTableName  string `envconfig:"LEDGER_TABLE_NAME" default:"payment-ledger"`
	DynamoDBEndpoint string `envconfig:"DYNAMODB_ENDPOINT" default:""` // DynamoDB Local endpoint for dev
	KafkaBrokers     string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	PaymentTopic     string `envconfig:"PAYMENT_TOPIC" default:"payment-events"`
	LogLevel         string `envconfig:"LOG_LEVEL" default:"info"`

	// MTN MoMo collection API.
	MomoBaseURL         string `envconfig:"MOMO_BASE_URL" default:"https://sandbox.momodeveloper.mtn.com"`
	MomoAPIUser         string `envconfig:"MOMO_API_USER"`
	MomoAPIKey          string `envconfig:"MOMO_API_KEY"`
	MomoSubscriptionKey string `envconfig:"MOMO_SUBSCRIPTION_KEY"`
	MomoTargetEnv       string `envconfig:"MOMO_TARGET_ENVIRONMENT" default:"sandbox"`
	Currency            string `envconfig:"PAYMENT_CURRENCY" default:"GHS"`

	// Webhook signature policy. Unsigned webhooks are rejected unless the
	// sandbox override is set.
	WebhookSecret        string `envconfig:"WEBHOOK_SECRET"`
	WebhookAllowUnsigned bool   `envconfig:"WEBHOOK_ALLOW_UNSIGNED" default:"false"`

	// Reconciliation.
	PaymentTimeoutMinutes    int `envconfig:"PAYMENT_TIMEOUT_MINUTES" default:"10"`
	ReconcileIntervalMinutes int `envconfig:"RECONCILE_INTERVAL_MINUTES" default:"15"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
