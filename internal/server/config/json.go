package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/snapvault/internal/flagx"
	"github.com/dmitrijs2005/snapvault/internal/timex"
)

// JsonConfig is the on-disk shape of the JSON config file. Durations accept
// both "15m" style strings and integer nanoseconds. Zero values leave the
// current setting alone.
type JsonConfig struct {
	DatabaseDSN      string  `json:"database_dsn"`
	TelegramBotToken string  `json:"telegram_bot_token"`
	TelegramAdminIDs []int64 `json:"telegram_admin_ids"`
	EncryptionKey    string  `json:"encryption_key"`

	EncryptionPassphrase string `json:"encryption_passphrase"`
	EncryptionSalt       string `json:"encryption_salt"`

	StorageProvider  string `json:"storage_provider"`
	StorageBucket    string `json:"storage_bucket"`
	StorageBucketID  string `json:"storage_bucket_id"`
	StoragePublicURL string `json:"storage_public_url"`
	S3Endpoint       string `json:"s3_endpoint"`
	S3Region         string `json:"s3_region"`
	S3AccessKeyID    string `json:"s3_access_key_id"`
	S3SecretKey      string `json:"s3_secret_key"`
	AzureAccount     string `json:"azure_account"`
	AzureKey         string `json:"azure_key"`
	AzureServiceURL  string `json:"azure_service_url"`

	OpsAddr    string `json:"ops_addr"`
	RedisAddr  string `json:"redis_addr"`
	LogBackend string `json:"log_backend"`
	LogLevel   string `json:"log_level"`

	HTTPTimeout             timex.Duration `json:"http_timeout"`
	AuthRefreshMargin       timex.Duration `json:"auth_refresh_margin"`
	UploadMaxAttempts       int            `json:"upload_max_attempts"`
	UploadBackoffBase       timex.Duration `json:"upload_backoff_base"`
	DeleteParallelism       int            `json:"delete_parallelism"`
	ConversationIdleTimeout timex.Duration `json:"conversation_idle_timeout"`
	LockoutThreshold        int            `json:"lockout_threshold"`
	LockoutDuration         timex.Duration `json:"lockout_duration"`
}

// parseJson overlays cfg with the file named by -c or -config, if any.
func parseJson(cfg *Config, args []string) error {
	path := flagx.ConfigFileFlag(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	c := &JsonConfig{}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&cfg.DatabaseDSN, c.DatabaseDSN)
	setString(&cfg.TelegramBotToken, c.TelegramBotToken)
	setString(&cfg.EncryptionKey, c.EncryptionKey)
	setString(&cfg.EncryptionPassphrase, c.EncryptionPassphrase)
	setString(&cfg.EncryptionSalt, c.EncryptionSalt)
	setString(&cfg.StorageProvider, c.StorageProvider)
	setString(&cfg.StorageBucket, c.StorageBucket)
	setString(&cfg.StorageBucketID, c.StorageBucketID)
	setString(&cfg.StoragePublicURL, c.StoragePublicURL)
	setString(&cfg.S3Endpoint, c.S3Endpoint)
	setString(&cfg.S3Region, c.S3Region)
	setString(&cfg.S3AccessKeyID, c.S3AccessKeyID)
	setString(&cfg.S3SecretKey, c.S3SecretKey)
	setString(&cfg.AzureAccount, c.AzureAccount)
	setString(&cfg.AzureKey, c.AzureKey)
	setString(&cfg.AzureServiceURL, c.AzureServiceURL)
	setString(&cfg.OpsAddr, c.OpsAddr)
	setString(&cfg.RedisAddr, c.RedisAddr)
	setString(&cfg.LogBackend, c.LogBackend)
	setString(&cfg.LogLevel, c.LogLevel)

	if len(c.TelegramAdminIDs) > 0 {
		cfg.TelegramAdminIDs = c.TelegramAdminIDs
	}

	setDuration(&cfg.HTTPTimeout, c.HTTPTimeout)
	setDuration(&cfg.AuthRefreshMargin, c.AuthRefreshMargin)
	setDuration(&cfg.UploadBackoffBase, c.UploadBackoffBase)
	setDuration(&cfg.ConversationIdleTimeout, c.ConversationIdleTimeout)
	setDuration(&cfg.LockoutDuration, c.LockoutDuration)

	setInt(&cfg.UploadMaxAttempts, c.UploadMaxAttempts)
	setInt(&cfg.DeleteParallelism, c.DeleteParallelism)
	setInt(&cfg.LockoutThreshold, c.LockoutThreshold)

	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
