package service

import (
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	DatabaseUri             string  `envconfig:"DATABASE_URI" required:"true"`
	DatabaseMaxConns        int     `envconfig:"DATABASE_MAX_CONNS" default:"10"`
	DatabaseMaxIdleConns    int     `envconfig:"DATABASE_MAX_IDLE_CONNS" default:"5"`
	DatabaseConnMaxLifetime int     `envconfig:"DATABASE_CONN_MAX_LIFETIME" default:"1800"` // 30 minutes
	DatabaseTimeout         int     `envconfig:"DATABASE_TIMEOUT" default:"60"`             // 60 seconds
	SentryDSN               string  `envconfig:"SENTRY_DSN"`
	SentryTracesSampleRate  float64 `envconfig:"SENTRY_TRACES_SAMPLE_RATE"`
	DatadogAgentUrl         string  `envconfig:"DATADOG_AGENT_URL"`
	LogFilePath             string  `envconfig:"LOG_FILE_PATH"`
	LogLevel                string  `envconfig:"LOG_LEVEL" default:"info"`
	JWTSecret               []byte  `envconfig:"JWT_SECRET" required:"true"`
	AdminToken              string  `envconfig:"ADMIN_TOKEN"`
	Port                    int     `envconfig:"PORT" default:"3000"`
	DefaultRateLimit        int     `envconfig:"DEFAULT_RATE_LIMIT" default:"10"`
	StrictRateLimit         int     `envconfig:"STRICT_RATE_LIMIT" default:"10"`
	BurstRateLimit          int     `envconfig:"BURST_RATE_LIMIT" default:"1"`
	EnablePrometheus        bool    `envconfig:"ENABLE_PROMETHEUS" default:"false"`
	PrometheusPort          int     `envconfig:"PROMETHEUS_PORT" default:"9092"`
	WebhookUrl              string  `envconfig:"WEBHOOK_URL"`
	GatewayCallbackSecret   string  `envconfig:"GATEWAY_CALLBACK_SECRET"`
	RedisUrl                string  `envconfig:"REDIS_URL"`

	Currency       string          `envconfig:"CURRENCY" default:"KGS"`
	TopUpMinAmount decimal.Decimal `envconfig:"TOPUP_MIN_AMOUNT" default:"10"`
	TopUpMaxAmount decimal.Decimal `envconfig:"TOPUP_MAX_AMOUNT" default:"100000"`

	PollInitialDelay time.Duration `envconfig:"POLL_INITIAL_DELAY" default:"3s"`
	PollInterval     time.Duration `envconfig:"POLL_INTERVAL" default:"15s"`
	PollMaxWait      time.Duration `envconfig:"POLL_MAX_WAIT" default:"10m"`
	PollMaxAttempts  int           `envconfig:"POLL_MAX_ATTEMPTS" default:"40"`

	BalanceCacheTTL           time.Duration `envconfig:"BALANCE_CACHE_TTL" default:"30s"`
	ReconcileRetryMaxElapsed  time.Duration `envconfig:"RECONCILE_RETRY_MAX_ELAPSED" default:"2m"`
	PendingReconcileAge       time.Duration `envconfig:"PENDING_RECONCILE_AGE" default:"15m"`
	PendingReconcileInterval  time.Duration `envconfig:"PENDING_RECONCILE_INTERVAL" default:"5m"`
	InflightLockTTL           time.Duration `envconfig:"INFLIGHT_LOCK_TTL" default:"30s"`
	TransactionHistoryLimit   int           `envconfig:"TRANSACTION_HISTORY_LIMIT" default:"20"`
	TransactionHistoryMaxPage int           `envconfig:"TRANSACTION_HISTORY_MAX_PAGE" default:"100"`

	RabbitMQUri                    string `envconfig:"RABBITMQ_URI"`
	RabbitMQTopUpExchange          string `envconfig:"RABBITMQ_TOPUP_EXCHANGE" default:"balancehub_topup"`
	RabbitMQTopUpConsumerQueueName string `envconfig:"RABBITMQ_TOPUP_CONSUMER_QUEUE_NAME"`
}
