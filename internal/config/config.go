package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DefaultVerifier is the designated verifier identity used when a tracked
// commitment does not name one.
const DefaultVerifier = "FBuJ9xHqG4tATW5wKJAn1uRKpM4WujNtKfA25CzXNBhy"

type Config struct {
	Addr string

	// Exactly one store backend is active: Postgres when DatabaseURL is set,
	// otherwise the JSON file at StorePath, otherwise in-memory.
	DatabaseURL string
	StorePath   string

	DefaultVerifier string
	AppURL          string

	IndexerURL     string
	IndexerTimeout time.Duration
	MetadataGW     string

	EscrowURL string

	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	MailFrom string

	KafkaBrokers string
	KafkaTopic   string

	ArchiveBucket string
	ArchivePrefix string

	ReminderInterval time.Duration
	ReminderEnabled  bool

	// VerifierJWTSecret, when set, requires an HS256 bearer token with a
	// matching sub claim on verifier routes.
	VerifierJWTSecret string
}

const (
	defaultAddr           = ":3001"
	defaultIndexerTimeout = 8 * time.Second
	defaultInterval       = time.Minute
	defaultMetadataGW     = "https://ipfs.io/ipfs/"
)

func Load() (Config, error) {
	cfg := Config{
		Addr:              getEnv("COMMITD_ADDR", defaultAddr),
		DatabaseURL:       firstNonEmpty(os.Getenv("COMMITD_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		StorePath:         getEnv("COMMITD_DB_FILE", "db.json"),
		DefaultVerifier:   getEnv("COMMITD_VERIFIER", DefaultVerifier),
		AppURL:            os.Getenv("COMMITD_APP_URL"),
		IndexerURL:        os.Getenv("COMMITD_INDEXER_URL"),
		IndexerTimeout:    getDuration("COMMITD_INDEXER_TIMEOUT", defaultIndexerTimeout),
		MetadataGW:        getEnv("COMMITD_METADATA_GATEWAY", defaultMetadataGW),
		EscrowURL:         os.Getenv("COMMITD_ESCROW_URL"),
		SMTPHost:          firstNonEmpty(os.Getenv("COMMITD_SMTP_HOST"), os.Getenv("EMAIL_HOST")),
		SMTPPort:          getInt("COMMITD_SMTP_PORT", getInt("EMAIL_PORT", 587)),
		SMTPUser:          firstNonEmpty(os.Getenv("COMMITD_SMTP_USER"), os.Getenv("EMAIL_USER")),
		SMTPPass:          firstNonEmpty(os.Getenv("COMMITD_SMTP_PASS"), os.Getenv("EMAIL_PASS")),
		MailFrom:          firstNonEmpty(os.Getenv("COMMITD_MAIL_FROM"), os.Getenv("EMAIL_FROM")),
		KafkaBrokers:      os.Getenv("COMMITD_KAFKA_BROKERS"),
		KafkaTopic:        getEnv("COMMITD_KAFKA_TOPIC", "commitment-events"),
		ArchiveBucket:     os.Getenv("COMMITD_ARCHIVE_BUCKET"),
		ArchivePrefix:     os.Getenv("COMMITD_ARCHIVE_PREFIX"),
		ReminderInterval:  getDuration("COMMITD_REMINDER_INTERVAL", defaultInterval),
		ReminderEnabled:   getBool("COMMITD_REMINDERS", true),
		VerifierJWTSecret: os.Getenv("COMMITD_VERIFIER_JWT_SECRET"),
	}
	if cfg.SMTPHost != "" && cfg.MailFrom == "" {
		return Config{}, fmt.Errorf("COMMITD_MAIL_FROM (or EMAIL_FROM) required when SMTP host is set")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
