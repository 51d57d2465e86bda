package config

import (
	"os"
	"testing"
	"time"
)

func TestWatch_Reload(t *testing.T) {
	path := writeConfig(t, "[log]\nlevel = \"info\"\n")

	changes := make(chan *Config, 4)
	errs := make(chan error, 4)
	w, err := Watch(path, func(c *Config) { changes <- c }, func(err error) { errs <- err })
	if err != nil {
		t.Fatalf("Watch error: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("[log]\nlevel = \"debug\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.Log.Level == "debug" {
				return
			}
		case <-errs:
			// A write can be observed half-done; the next event completes it.
		case <-deadline:
			t.Fatal("reload not observed")
		}
	}
}

func TestWatch_InvalidEditReported(t *testing.T) {
	path := writeConfig(t, "[log]\nlevel = \"info\"\n")

	errs := make(chan error, 4)
	w, err := Watch(path, func(*Config) {}, func(err error) { errs <- err })
	if err != nil {
		t.Fatalf("Watch error: %v", err)
	}
	defer w.Close()

	os.WriteFile(path, []byte("[bridge]\nchannel = \"smoke-signal\"\n"), 0600)

	select {
	case <-errs:
	case <-time.After(2 * time.Second):
		t.Fatal("invalid config was not reported")
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	if _, err := Watch("/nonexistent-dir/mcpbridge.toml", func(*Config) {}, nil); err == nil {
		t.Error("expected error watching a missing directory")
	}
}
