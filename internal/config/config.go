package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultHTTPAddr      = ":8143"
	DefaultInboxSchedule = "*/5 * * * *"
	DefaultInboxDir      = "./inbox"
	DefaultArchivePrefix = "ledger-uploads/"
	DefaultEventsTopic   = "ledger.batch_decided"
	DefaultActor         = "system"
	DefaultServicesFile  = "services.yaml"
	MaxUploadBytes       = 32 << 20
)

// Config is everything read from the environment at start-up.
type Config struct {
	DB      DBConfig
	HTTP    HTTPConfig
	Inbox   InboxConfig
	Archive ArchiveConfig
	Kafka   KafkaConfig
	// ServicesFile is the services.yaml listing what to start, in order.
	ServicesFile string
}

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
	SSLMode  string
}

// DSN is the keyword/value connection string both pgx and lib/pq accept.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("user=%s password=%s host=%s port=%s dbname=%s sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type HTTPConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type InboxConfig struct {
	Dir      string
	Schedule string
	Actor    string
}

type ArchiveConfig struct {
	Enabled bool
	Bucket  string
	Region  string
	Prefix  string
	BaseURL string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Load reads the .env files given (missing files are ignored) and then the
// process environment.
func Load(envFiles ...string) Config {
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}
	region := getenv("ARCHIVE_S3_REGION", "us-east-1")
	bucket := os.Getenv("ARCHIVE_S3_BUCKET")
	return Config{
		DB: DBConfig{
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Host:     getenv("DB_HOST", "localhost"),
			Port:     getenv("DB_PORT", "5432"),
			Name:     os.Getenv("DB_NAME"),
			SSLMode:  getenv("DB_SSLMODE", "disable"),
		},
		HTTP: HTTPConfig{
			Addr:         getenv("LEDGER_HTTP_ADDR", DefaultHTTPAddr),
			ReadTimeout:  duration("LEDGER_HTTP_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: duration("LEDGER_HTTP_WRITE_TIMEOUT", 5*time.Minute),
		},
		Inbox: InboxConfig{
			Dir:      getenv("LEDGER_INBOX_DIR", DefaultInboxDir),
			Schedule: getenv("LEDGER_INBOX_SCHEDULE", DefaultInboxSchedule),
			Actor:    getenv("LEDGER_INBOX_ACTOR", DefaultActor),
		},
		Archive: ArchiveConfig{
			Enabled: flag("ARCHIVE_S3_ENABLED"),
			Bucket:  bucket,
			Region:  region,
			Prefix:  getenv("ARCHIVE_S3_PREFIX", DefaultArchivePrefix),
			BaseURL: getenv("ARCHIVE_S3_BASE_URL", fmt.Sprintf("https://%s.s3.%s.amazonaws.com/", bucket, region)),
		},
		Kafka: KafkaConfig{
			Brokers: list(os.Getenv("KAFKA_BROKERS")),
			Topic:   getenv("KAFKA_TOPIC", DefaultEventsTopic),
		},
		ServicesFile: getenv("LEDGER_SERVICES_FILE", DefaultServicesFile),
	}
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func flag(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes"
}

func duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

func list(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
