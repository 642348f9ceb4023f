package config_test

import (
	"testing"

	config "stagerun/configs"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{"DB_HOST", "REDIS_ADDR", "ETCD_ENDPOINTS", "STAGERUN_STATUS_ADDR", "OTEL_ENABLED"} {
		t.Setenv(k, "")
	}
	cfg := config.LoadConfig()

	if cfg.SubmitHost != "usercontainer" {
		t.Errorf("SubmitHost = %q", cfg.SubmitHost)
	}
	if cfg.DatabaseDSN() != "" {
		t.Errorf("expected no DSN without DB_HOST, got %q", cfg.DatabaseDSN())
	}
	if len(cfg.EtcdEndpoints) != 0 {
		t.Errorf("expected no etcd endpoints, got %v", cfg.EtcdEndpoints)
	}
	if cfg.TracingEnabled {
		t.Error("tracing should default to disabled")
	}
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("ETCD_ENDPOINTS", "e1:2379, e2:2379,")
	t.Setenv("ETCD_LOCK_TTL", "notanint")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_SAMPLING_RATE", "0.25")

	cfg := config.LoadConfig()

	want := "host=db port=5432 user=stagerun password=secret dbname=stagerun sslmode=disable"
	if got := cfg.DatabaseDSN(); got != want {
		t.Errorf("DatabaseDSN() = %q, want %q", got, want)
	}
	if len(cfg.EtcdEndpoints) != 2 || cfg.EtcdEndpoints[1] != "e2:2379" {
		t.Errorf("EtcdEndpoints = %v", cfg.EtcdEndpoints)
	}
	if cfg.EtcdLockTTL != 15 {
		t.Errorf("EtcdLockTTL fallback = %d", cfg.EtcdLockTTL)
	}
	if !cfg.TracingEnabled || cfg.TracingSampling != 0.25 {
		t.Errorf("tracing = %v/%v", cfg.TracingEnabled, cfg.TracingSampling)
	}
}
