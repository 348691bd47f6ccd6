package config

import (
	"encoding/base64"
	"errors"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/kestrelchat/kestrel/internal/crypto"
)

type Config struct {
	DBURL      string
	ServiceURL string
	Username   string
	Password   string
	LogLevel   string
	MasterKey  []byte
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		DBURL:      os.Getenv("KESTREL_DB_URL"),
		ServiceURL: os.Getenv("KESTREL_SERVICE_URL"),
		Username:   os.Getenv("KESTREL_USERNAME"),
		Password:   os.Getenv("KESTREL_PASSWORD"),
		LogLevel:   "info",
	}

	if v := os.Getenv("KESTREL_MASTER_KEY"); v != "" {
		key, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return Config{}, errors.New("master key must be base64")
		}
		cfg.MasterKey = key
	}

	if v := os.Getenv("KESTREL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if c.DBURL == "" {
		return errors.New("db url is required")
	}
	if c.ServiceURL == "" {
		return errors.New("service url is required")
	}
	if len(c.MasterKey) != 0 && len(c.MasterKey) != crypto.MasterKeySize {
		return errors.New("master key must be 32 bytes (base64-encoded)")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.New("unknown log level")
	}
	return nil
}
