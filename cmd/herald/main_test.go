package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/foxzi/herald/internal/dkim"
)

func TestLogsFilter(t *testing.T) {
	logsStatus, logsCampaignID, logsLimit = "failed", "c-1", 10
	logsSince = time.Hour
	t.Cleanup(func() {
		logsStatus, logsCampaignID, logsLimit, logsSince = "", "", 50, 0
	})

	f := logsFilter()
	if f.Status != "failed" || f.CampaignID != "c-1" || f.Limit != 10 {
		t.Errorf("filter = %+v", f)
	}
	if f.FromDate == nil || time.Since(*f.FromDate) < time.Hour {
		t.Errorf("FromDate = %v, want about one hour ago", f.FromDate)
	}
}

func TestDKIMGenerate(t *testing.T) {
	dir := t.TempDir()
	dkimDomain, dkimSelector, dkimOutDir, dkimBits = "example.com", "herald", dir, 1024

	if err := runDKIMGenerate(dkimGenerateCmd, nil); err != nil {
		t.Fatalf("runDKIMGenerate() error = %v", err)
	}

	keyPath := filepath.Join(dir, "example.com.key")
	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("key file not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key mode = %v, want 0600", info.Mode().Perm())
	}
	if _, err := dkim.LoadPrivateKey(keyPath); err != nil {
		t.Errorf("generated key does not load: %v", err)
	}
}

func TestConfigValidateCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("database:\n  path: " + filepath.Join(dir, "herald.db") + "\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfgFile = path
	t.Cleanup(func() { cfgFile = "" })

	if err := runConfigValidate(configValidateCmd, nil); err != nil {
		t.Errorf("runConfigValidate() error = %v", err)
	}

	cfgFile = filepath.Join(dir, "missing.yaml")
	if err := runConfigValidate(configValidateCmd, nil); err == nil {
		t.Error("expected error for missing config file")
	}
}
