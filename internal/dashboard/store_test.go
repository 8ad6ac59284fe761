package dashboard

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func fireEntry(t *testing.T, store *logStore, msg string, fields logrus.Fields) {
	t.Helper()
	entry := &logrus.Entry{
		Time:    time.Now(),
		Level:   logrus.InfoLevel,
		Message: msg,
		Data:    fields,
	}
	if err := store.Fire(entry); err != nil {
		t.Fatalf("Fire(%q) returned error: %v", msg, err)
	}
}

func TestLogStoreKeepsMostRecent(t *testing.T) {
	store := newLogStore(3)
	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		fireEntry(t, store, msg, nil)
	}

	got := store.snapshot()
	if len(got) != 3 {
		t.Fatalf("snapshot length = %d, want 3", len(got))
	}
	if got[0].Message != "c" || got[2].Message != "e" {
		t.Errorf("snapshot kept %q..%q, want c..e", got[0].Message, got[2].Message)
	}
}

func TestLogStoreExtractsComponentAndErrors(t *testing.T) {
	store := newLogStore(10)
	fireEntry(t, store, "fetch failed", logrus.Fields{
		"component": "unified",
		"error":     errors.New("boom"),
		"symbol":    "BTC-USDT-SWAP",
	})

	got := store.snapshot()
	if len(got) != 1 {
		t.Fatalf("snapshot length = %d, want 1", len(got))
	}
	rec := got[0]
	if rec.Component != "unified" {
		t.Errorf("Component = %q, want unified", rec.Component)
	}
	if _, ok := rec.Fields["component"]; ok {
		t.Error("component should not be duplicated into Fields")
	}
	if rec.Fields["error"] != "boom" {
		t.Errorf("error field = %v, want boom", rec.Fields["error"])
	}
	if rec.Fields["symbol"] != "BTC-USDT-SWAP" {
		t.Errorf("symbol field = %v", rec.Fields["symbol"])
	}
}

func TestLogStoreStopsAfterClose(t *testing.T) {
	store := newLogStore(10)
	fireEntry(t, store, "before", nil)
	store.close()
	fireEntry(t, store, "after", nil)

	got := store.snapshot()
	if len(got) != 1 || got[0].Message != "before" {
		t.Fatalf("snapshot = %+v, want only the pre-close entry", got)
	}
}

func TestHistoryDefaultsLimit(t *testing.T) {
	h := newHistory[int](0)
	if h.limit != 200 {
		t.Fatalf("limit = %d, want 200", h.limit)
	}
}
