package config

import (
	"net"
	"os"
	"strconv"
)

// StorageConfig holds the on-disk layout of the content store.
type StorageConfig struct {
	Root                string
	PostsDir            string
	MetadataDir         string
	PreambleLen         int
	MaxCollisionRetries int
	PreviewBytes        int
}

// MinIOConfig holds object storage settings for the optional post mirror.
// The mirror is disabled when Endpoint is empty.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Enabled reports whether a mirror endpoint was configured.
func (c MinIOConfig) Enabled() bool {
	return c.Endpoint != ""
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables.
type AppConfig struct {
	// AppHost is the interface the server binds to; empty means all interfaces.
	AppHost        string
	Port           string
	Timezone       string
	BodyLimitBytes int
	Storage        StorageConfig
	MinIO          MinIOConfig
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		AppHost:        getEnv("APP_HOST", ""),
		Port:           getEnv("PORT", "3000"),
		Timezone:       getEnv("APP_TIMEZONE", "UTC"),
		BodyLimitBytes: getEnvInt("BODY_LIMIT_BYTES", 8*1024*1024),
		Storage: StorageConfig{
			Root:                getEnv("STORAGE_ROOT", "."),
			PostsDir:            getEnv("STORAGE_POSTS_DIR", "posts"),
			MetadataDir:         getEnv("STORAGE_METADATA_DIR", "metadata"),
			PreambleLen:         getEnvInt("STORAGE_PREAMBLE_LEN", 8),
			MaxCollisionRetries: getEnvInt("STORAGE_MAX_COLLISION_RETRIES", 32),
			PreviewBytes:        getEnvInt("PREVIEW_BYTES", 2048),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", ""),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
	}
}

// ListenAddr is the host:port the HTTP server listens on.
func (c *AppConfig) ListenAddr() string {
	return net.JoinHostPort(c.AppHost, c.Port)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}
