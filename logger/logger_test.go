package logger

import (
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := newLogger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestWithFieldsKeepsComponent(t *testing.T) {
	log := newLogger()
	entry := log.WithComponent("cache").WithFields(Fields{"key": "abc"})
	if entry.Entry.Data["component"] != "cache" || entry.Entry.Data["key"] != "abc" {
		t.Fatalf("fields not chained: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := newLogger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestConfigureInvalidFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := newLogger()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestConfigureReportLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := newLogger()
	if err := log.Configure("report", "json", "stdout", 0); err != nil {
		t.Fatalf("report level should be accepted: %v", err)
	}
}
