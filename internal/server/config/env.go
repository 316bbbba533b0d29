package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/dmitrijs2005/snapvault/internal/flagx"
)

// loadDotEnv copies variables from path into the process environment.
// Variables already set win; a missing file is not an error.
func loadDotEnv(path string) {
	_ = godotenv.Load(path)
}

// parseEnv overlays cfg with environment variables. Names follow the
// existing deployment (B2_* for the S3-compatible bucket).
func parseEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	str("DATABASE_URL", &cfg.DatabaseDSN)
	str("TELEGRAM_BOT_TOKEN", &cfg.TelegramBotToken)
	str("ENCRYPTION_KEY", &cfg.EncryptionKey)
	str("ENCRYPTION_PASSPHRASE", &cfg.EncryptionPassphrase)
	str("ENCRYPTION_SALT", &cfg.EncryptionSalt)
	str("STORAGE_PROVIDER", &cfg.StorageProvider)
	str("B2_BUCKET_NAME", &cfg.StorageBucket)
	str("B2_BUCKET_ID", &cfg.StorageBucketID)
	str("B2_APPLICATION_KEY_ID", &cfg.S3AccessKeyID)
	str("B2_APPLICATION_KEY", &cfg.S3SecretKey)
	str("S3_ENDPOINT", &cfg.S3Endpoint)
	str("S3_REGION", &cfg.S3Region)
	str("STORAGE_PUBLIC_URL", &cfg.StoragePublicURL)
	str("AZURE_STORAGE_ACCOUNT", &cfg.AzureAccount)
	str("AZURE_STORAGE_KEY", &cfg.AzureKey)
	str("AZURE_STORAGE_CONTAINER", &cfg.StorageBucket)
	str("AZURE_SERVICE_URL", &cfg.AzureServiceURL)
	str("REDIS_ADDR", &cfg.RedisAddr)
	str("LOG_BACKEND", &cfg.LogBackend)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("OPS_ADDR", &cfg.OpsAddr)

	if v, ok := lookup("PORT"); ok && v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		cfg.OpsAddr = ":" + v
	}

	if v, ok := lookup("TELEGRAM_ADMIN_IDS"); ok && v != "" {
		ids, err := flagx.ParseInt64List(v)
		if err != nil {
			return fmt.Errorf("TELEGRAM_ADMIN_IDS: %w", err)
		}
		cfg.TelegramAdminIDs = ids
	}

	durations := map[string]*time.Duration{
		"HTTP_TIMEOUT":              &cfg.HTTPTimeout,
		"UPLOAD_BACKOFF_BASE":       &cfg.UploadBackoffBase,
		"CONVERSATION_IDLE_TIMEOUT": &cfg.ConversationIdleTimeout,
		"LOCKOUT_DURATION":          &cfg.LockoutDuration,
	}
	for name, dst := range durations {
		if v, ok := lookup(name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = d
		}
	}

	ints := map[string]*int{
		"UPLOAD_MAX_ATTEMPTS": &cfg.UploadMaxAttempts,
		"LOCKOUT_THRESHOLD":   &cfg.LockoutThreshold,
		"DELETE_PARALLELISM":  &cfg.DeleteParallelism,
	}
	for name, dst := range ints {
		if v, ok := lookup(name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = n
		}
	}

	return nil
}
