package config

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Database struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"ssl-mode"`
}

type Gateway struct {
	BaseURL           string `mapstructure:"base-url"`
	APIKey            string `mapstructure:"api-key"`
	TimeoutMs         int    `mapstructure:"timeout-ms"`
	ExpirationSeconds int    `mapstructure:"expiration-seconds"`
}

type Webhook struct {
	Secret string `mapstructure:"secret"`
}

type Reconciler struct {
	PollIntervalMs int `mapstructure:"poll-interval-ms"`
	HardTimeoutMs  int `mapstructure:"hard-timeout-ms"`
}

type Donation struct {
	DefaultDescription string `mapstructure:"default-description"`
	AllowFallback      bool   `mapstructure:"allow-fallback"`
}

type KafkaWriter struct {
	BatchSize      int `mapstructure:"batch-size"`
	BatchTimeoutMs int `mapstructure:"batch-timeout-ms"`
}

type KafkaBroker struct {
	URL string `mapstructure:"url"`
}

type KafkaTopic struct {
	DonationEvents string `mapstructure:"donation-events"`
}

type KafkaReader struct {
	GroupID string `mapstructure:"group-id"`
}

type Kafka struct {
	Writer KafkaWriter `mapstructure:"writer"`
	Broker KafkaBroker `mapstructure:"broker"`
	Topic  KafkaTopic  `mapstructure:"topic"`
	Reader KafkaReader `mapstructure:"reader"`
}

type Notify struct {
	BridgeURL   string `mapstructure:"bridge-url"`
	TimeoutMs   int    `mapstructure:"timeout-ms"`
	Parallelism int    `mapstructure:"parallelism"`
}

type Server struct {
	Port string `mapstructure:"port"`
}

type Metrics struct {
	URL          string `mapstructure:"url"`
	IntervalMs   int    `mapstructure:"interval-ms"`
	CommonLabels string `mapstructure:"common-labels"`
}

type Logs struct {
	URL string `mapstructure:"url"`
}

type Config struct {
	Database   Database   `mapstructure:"database"`
	Gateway    Gateway    `mapstructure:"gateway"`
	Webhook    Webhook    `mapstructure:"webhook"`
	Reconciler Reconciler `mapstructure:"reconciler"`
	Donation   Donation   `mapstructure:"donation"`
	Kafka      Kafka      `mapstructure:"kafka"`
	Notify     Notify     `mapstructure:"notify"`
	Server     Server     `mapstructure:"server"`
	Metrics    Metrics    `mapstructure:"metrics"`
	Logs       Logs       `mapstructure:"logs"`
}

func LoadConfig(path string) (*Config, error) {
	// .env is optional, real deployments set the environment directly
	_ = godotenv.Load()

	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()

	// secrets come from the environment, never from the yaml file
	_ = viper.BindEnv("gateway.api-key", "PAGOU_API_KEY")
	_ = viper.BindEnv("webhook.secret", "PAGOU_WEBHOOK_SECRET")
	_ = viper.BindEnv("database.password", "DB_PASSWORD")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func MustLoadConfig(path string) *Config {
	config, err := LoadConfig(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return config
}
