package config

import (
	"time"

	"github.com/spf13/viper"
)

// All knobs come from environment variables so the same binary runs on a
// field device, in a container, or under LocalStack for local drills.

type Config struct {
	IsLocalDev bool `mapstructure:"IS_LOCAL_DEV"`

	// Device agent
	AgentPort      string        `mapstructure:"AGENT_PORT"`
	QueuePath      string        `mapstructure:"QUEUE_PATH"`
	AttachmentDir  string        `mapstructure:"ATTACHMENT_DIR"`
	ReconcilerURL  string        `mapstructure:"RECONCILER_URL"`
	SyncInterval   time.Duration `mapstructure:"SYNC_INTERVAL"`
	SyncBatchSize  int           `mapstructure:"SYNC_BATCH_SIZE"`
	SubmitTimeout  time.Duration `mapstructure:"SUBMIT_TIMEOUT"`
	ProbeInterval  time.Duration `mapstructure:"PROBE_INTERVAL"`
	ProbeTimeout   time.Duration `mapstructure:"PROBE_TIMEOUT"`
	RetryBaseDelay time.Duration `mapstructure:"RETRY_BASE_DELAY"`
	RetryMaxDelay  time.Duration `mapstructure:"RETRY_MAX_DELAY"`

	// Reconciliation server
	ServerPort string `mapstructure:"SERVER_PORT"`
	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`

	// Downstream messaging / notifications
	AWSRegion         string `mapstructure:"AWS_REGION"`
	AWSEndpoint       string `mapstructure:"AWS_ENDPOINT"`
	NotifySQSQueueURL string `mapstructure:"NOTIFY_SQS_QUEUE_URL"`
	EmailSender       string `mapstructure:"EMAIL_SENDER"`

	// Telemetry
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
}

// LoadConfig reads configuration from environment variables, falling back
// to defaults suitable for a local docker-compose setup.
func LoadConfig() (config Config, err error) {
	viper.SetDefault("IS_LOCAL_DEV", false)

	viper.SetDefault("AGENT_PORT", "8090")
	viper.SetDefault("QUEUE_PATH", "attendance-queue.db")
	viper.SetDefault("ATTACHMENT_DIR", "attachments")
	viper.SetDefault("RECONCILER_URL", "http://localhost:8080")
	viper.SetDefault("SYNC_INTERVAL", "30s")
	viper.SetDefault("SYNC_BATCH_SIZE", 50)
	viper.SetDefault("SUBMIT_TIMEOUT", "10s")
	viper.SetDefault("PROBE_INTERVAL", "15s")
	viper.SetDefault("PROBE_TIMEOUT", "3s")
	viper.SetDefault("RETRY_BASE_DELAY", "5s")
	viper.SetDefault("RETRY_MAX_DELAY", "5m")

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("DB_HOST", "db")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "attendance_db")

	viper.SetDefault("AWS_REGION", "us-east-1")
	viper.SetDefault("AWS_ENDPOINT", "")
	viper.SetDefault("NOTIFY_SQS_QUEUE_URL", "http://localstack:4566/000000000000/notify-queue")
	viper.SetDefault("EMAIL_SENDER", "attendance@workforce.example.com")

	viper.SetDefault("OTLP_ENDPOINT", "jaeger:4317")

	// Read in environment variables that match the keys.
	viper.AutomaticEnv()

	err = viper.Unmarshal(&config)
	return
}
