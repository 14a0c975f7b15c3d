package config

import (
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/dispatch")

		cfg, err := Load(Overrides{EnvFile: "/nonexistent/.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.TranscribeConcurrency != 4 {
			t.Errorf("TranscribeConcurrency = %d, want 4", cfg.TranscribeConcurrency)
		}
		if cfg.TranscribeQueueSize != 1000 {
			t.Errorf("TranscribeQueueSize = %d, want 1000", cfg.TranscribeQueueSize)
		}
		if cfg.HospitalWindow != 600*time.Second {
			t.Errorf("HospitalWindow = %v, want 10m", cfg.HospitalWindow)
		}
		if cfg.HospitalCloseIdle != 420*time.Second {
			t.Errorf("HospitalCloseIdle = %v, want 7m", cfg.HospitalCloseIdle)
		}
		if cfg.LinkerWindow != 300*time.Second {
			t.Errorf("LinkerWindow = %v, want 5m", cfg.LinkerWindow)
		}
		if cfg.HubHeartbeat != 25*time.Second {
			t.Errorf("HubHeartbeat = %v, want 25s", cfg.HubHeartbeat)
		}
		if cfg.HubQueueSize != 256 {
			t.Errorf("HubQueueSize = %d, want 256", cfg.HubQueueSize)
		}
	})

	t.Run("missing_database_url_fails", func(t *testing.T) {
		// env.Parse requires DATABASE_URL
		t.Setenv("DATABASE_URL", "")
		if _, err := Load(Overrides{EnvFile: "/nonexistent/.env"}); err == nil {
			t.Error("expected error for missing DATABASE_URL")
		}
	})

	t.Run("overrides_win", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://env/db")
		t.Setenv("HTTP_ADDR", ":9999")

		cfg, err := Load(Overrides{
			EnvFile:     "/nonexistent/.env",
			HTTPAddr:    ":7777",
			DatabaseURL: "postgres://flag/db",
		})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":7777" {
			t.Errorf("HTTPAddr = %q, want flag override", cfg.HTTPAddr)
		}
		if cfg.DatabaseURL != "postgres://flag/db" {
			t.Errorf("DatabaseURL = %q, want flag override", cfg.DatabaseURL)
		}
	})

	t.Run("talkgroup_lists", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/dispatch")
		t.Setenv("HOSPITAL_TALKGROUPS", "10255,10256")

		cfg, err := Load(Overrides{EnvFile: "/nonexistent/.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if !cfg.IsHospitalTalkgroup(10255) || !cfg.IsHospitalTalkgroup(10256) {
			t.Error("configured hospital talkgroups not recognized")
		}
		if cfg.IsHospitalTalkgroup(10202) {
			t.Error("unconfigured talkgroup reported as hospital")
		}
	})
}
