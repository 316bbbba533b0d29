package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnv(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()

	env := map[string]string{
		"DATABASE_URL":          "postgres://prod",
		"TELEGRAM_BOT_TOKEN":    "123:abc",
		"TELEGRAM_ADMIN_IDS":    " 11, 22 ,",
		"B2_APPLICATION_KEY_ID": "kid",
		"B2_APPLICATION_KEY":    "ksecret",
		"B2_BUCKET_ID":          "bid",
		"B2_BUCKET_NAME":        "bname",
		"ENCRYPTION_KEY":        "ff",
		"ENCRYPTION_PASSPHRASE": "pass phrase",
		"ENCRYPTION_SALT":       "salt-salt-salt-salt",
		"PORT":                  "8081",
		"LOCKOUT_THRESHOLD":     "5",
		"LOCKOUT_DURATION":      "30m",
		"S3_ENDPOINT":           "",
	}
	require.NoError(t, parseEnv(cfg, mapLookup(env)))

	assert.Equal(t, "postgres://prod", cfg.DatabaseDSN)
	assert.Equal(t, "123:abc", cfg.TelegramBotToken)
	assert.Equal(t, []int64{11, 22}, cfg.TelegramAdminIDs)
	assert.Equal(t, "kid", cfg.S3AccessKeyID)
	assert.Equal(t, "ksecret", cfg.S3SecretKey)
	assert.Equal(t, "bid", cfg.StorageBucketID)
	assert.Equal(t, "bname", cfg.StorageBucket)
	assert.Equal(t, "pass phrase", cfg.EncryptionPassphrase)
	assert.Equal(t, "salt-salt-salt-salt", cfg.EncryptionSalt)
	assert.Equal(t, ":8081", cfg.OpsAddr)
	assert.Equal(t, 5, cfg.LockoutThreshold)
	assert.Equal(t, 30*time.Minute, cfg.LockoutDuration)
	assert.Empty(t, cfg.S3Endpoint)
}

func TestParseEnv_Errors(t *testing.T) {
	tests := map[string]string{
		"PORT":                "http",
		"TELEGRAM_ADMIN_IDS":  "1,x",
		"HTTP_TIMEOUT":        "soon",
		"UPLOAD_MAX_ATTEMPTS": "three",
	}
	for name, value := range tests {
		t.Run(name, func(t *testing.T) {
			err := parseEnv(&Config{}, mapLookup(map[string]string{name: value}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), name)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	const key = "SNAPVAULT_TEST_DOTENV"
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(key+"=from-file\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	loadDotEnv(path)
	assert.Equal(t, "from-file", os.Getenv(key))

	loadDotEnv(filepath.Join(t.TempDir(), "missing.env"))
}
