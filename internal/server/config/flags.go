package config

import (
	"flag"
	"fmt"
	"io"

	"github.com/dmitrijs2005/snapvault/internal/flagx"
)

// parseFlags applies the short command-line flags, which win over every
// other source.
//
//	-d string   PostgreSQL DSN
//	-t string   Telegram bot token
//	-i string   comma separated admin user ids
//	-k string   64-hex-char encryption key
//	-p string   storage provider: s3 or azure
//	-b string   bucket (S3) or container (Azure) name
//	-e string   S3 endpoint
//	-g string   S3 region
//	-a string   ops HTTP address
//	-r string   Redis address; empty keeps conversations in memory
//	-l string   log backend: slog or zerolog
func parseFlags(cfg *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{"-d", "-t", "-i", "-k", "-p", "-b", "-e", "-g", "-a", "-r", "-l"})

	fs := flag.NewFlagSet("snapvault", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	admins := flagx.Int64List(cfg.TelegramAdminIDs)

	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "database DSN")
	fs.StringVar(&cfg.TelegramBotToken, "t", cfg.TelegramBotToken, "telegram bot token")
	fs.Var(&admins, "i", "admin user ids")
	fs.StringVar(&cfg.EncryptionKey, "k", cfg.EncryptionKey, "encryption key (hex)")
	fs.StringVar(&cfg.StorageProvider, "p", cfg.StorageProvider, "storage provider")
	fs.StringVar(&cfg.StorageBucket, "b", cfg.StorageBucket, "storage bucket")
	fs.StringVar(&cfg.S3Endpoint, "e", cfg.S3Endpoint, "S3 endpoint")
	fs.StringVar(&cfg.S3Region, "g", cfg.S3Region, "S3 region")
	fs.StringVar(&cfg.OpsAddr, "a", cfg.OpsAddr, "ops HTTP address")
	fs.StringVar(&cfg.RedisAddr, "r", cfg.RedisAddr, "redis address")
	fs.StringVar(&cfg.LogBackend, "l", cfg.LogBackend, "log backend")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	cfg.TelegramAdminIDs = admins
	return nil
}
