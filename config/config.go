package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr string

	StorageType      string
	LocalStoragePath string
	DataSourceName   string
	S3BucketName     string

	JWTSecret string

	AutosaveDelay   time.Duration
	AutosaveTimeout time.Duration

	// SessionIdleTimeout closes editor sessions that were not used for this long.
	SessionIdleTimeout time.Duration

	CORSAllowedOrigins []string
}

func Load() Config {
	return Config{
		ListenAddr:         getenv("LISTEN_ADDR", ":3002"),
		StorageType:        getenv("STORAGE_TYPE", "memory"),
		LocalStoragePath:   getenv("LOCAL_STORAGE_PATH", "./data"),
		DataSourceName:     getenv("DATA_SOURCE_NAME", "processmaps.db"),
		S3BucketName:       getenv("S3_BUCKET_NAME", ""),
		JWTSecret:          getenv("JWT_SECRET", ""),
		AutosaveDelay:      time.Duration(getenvInt("AUTOSAVE_DELAY_MS", 600)) * time.Millisecond,
		AutosaveTimeout:    time.Duration(getenvInt("AUTOSAVE_TIMEOUT_MS", 10000)) * time.Millisecond,
		SessionIdleTimeout: time.Duration(getenvInt("SESSION_IDLE_TIMEOUT_S", 900)) * time.Second,
		CORSAllowedOrigins: getenvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// getenvList splits a comma separated value, dropping empty entries.
func getenvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
