package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds process settings read from the environment. Optional services
// are disabled while their address is empty.
type Config struct {
	LogLevel    string
	LogEncoding string
	LogFile     string

	WorkflowPath  string
	WorkDir       string
	SubmitHost    string
	StatusAddr    string
	ShutdownGrace int // seconds the status server stays up after a run

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisAddr   string
	RedisStream string

	EtcdEndpoints []string
	EtcdLockTTL   int

	LogDir      string
	S3Bucket    string
	S3Prefix    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	TracingEnabled  bool
	TracingEndpoint string
	TracingSampling float64
}

func LoadConfig() *Config {
	return &Config{
		LogLevel:    getEnv("STAGERUN_LOG_LEVEL", "info"),
		LogEncoding: getEnv("STAGERUN_LOG_ENCODING", "console"),
		LogFile:     getEnv("STAGERUN_LOG_FILE", "stderr"),

		WorkflowPath:  getEnv("STAGERUN_WORKFLOW", "workflow.toml"),
		WorkDir:       getEnv("STAGERUN_WORKDIR", ""),
		SubmitHost:    getEnv("STAGERUN_SUBMIT_HOST", "usercontainer"),
		StatusAddr:    getEnv("STAGERUN_STATUS_ADDR", ""),
		ShutdownGrace: getEnvAsInt("STAGERUN_STATUS_GRACE", 0),

		DBHost:     getEnv("DB_HOST", ""),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "stagerun"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "stagerun"),

		RedisAddr:   getEnv("REDIS_ADDR", ""),
		RedisStream: getEnv("REDIS_STREAM", "stagerun:tasks:events"),

		EtcdEndpoints: getEnvAsList("ETCD_ENDPOINTS"),
		EtcdLockTTL:   getEnvAsInt("ETCD_LOCK_TTL", 15),

		LogDir:      getEnv("STAGERUN_LOG_DIR", ""),
		S3Bucket:    getEnv("S3_BUCKET", ""),
		S3Prefix:    getEnv("S3_PREFIX", "stagerun/logs/"),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3AccessKey: getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretKey: getEnv("S3_SECRET_ACCESS_KEY", ""),

		TracingEnabled:  getEnvAsBool("OTEL_ENABLED", false),
		TracingEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		TracingSampling: getEnvAsFloat("OTEL_SAMPLING_RATE", 1.0),
	}
}

// DatabaseDSN returns the Postgres DSN, or "" when no database is configured.
func (c *Config) DatabaseDSN() string {
	if c.DBHost == "" {
		return ""
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsList(key string) []string {
	var out []string
	for _, v := range strings.Split(getEnv(key, ""), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
