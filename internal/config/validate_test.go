package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestValidateTieredTimeoutClampingIsWarning(t *testing.T) {
	cfg := Default()
	cfg.ControlTimeoutSeconds = 0
	result := cfg.ValidateTiered()

	if result.HasFatals() {
		t.Fatalf("clamped timeout should be warning, not fatal: %v", result.Fatals)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for clamped timeout")
	}
	if cfg.ControlTimeoutSeconds != 1 {
		t.Fatalf("ControlTimeoutSeconds = %d, want 1 (clamped)", cfg.ControlTimeoutSeconds)
	}
}

func TestValidateTieredHighTimeoutClamping(t *testing.T) {
	cfg := Default()
	cfg.ControlTimeoutSeconds = 9999
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped timeout should be warning: %v", result.Fatals)
	}
	if cfg.ControlTimeoutSeconds != 600 {
		t.Fatalf("ControlTimeoutSeconds = %d, want 600", cfg.ControlTimeoutSeconds)
	}
	if cfg.ControlTimeout() != 600*time.Second {
		t.Fatalf("ControlTimeout() = %v", cfg.ControlTimeout())
	}
}

func TestValidateTieredPoolClamping(t *testing.T) {
	cfg := Default()
	cfg.MaxWorkers = 0
	cfg.QueueSize = 0
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped pool settings should be warning: %v", result.Fatals)
	}
	if cfg.MaxWorkers != 1 {
		t.Fatalf("MaxWorkers = %d, want 1", cfg.MaxWorkers)
	}
	if cfg.QueueSize != 1 {
		t.Fatalf("QueueSize = %d, want 1", cfg.QueueSize)
	}
}

func TestValidateTieredUnknownCategoryIsWarning(t *testing.T) {
	cfg := Default()
	cfg.EnabledCategories = []string{"Services", "drivers"}
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown category should not be fatal while another is valid")
	}
	found := false
	for _, err := range result.Warnings {
		if strings.Contains(err.Error(), "drivers") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected warning about unknown category")
	}
	if len(cfg.EnabledCategories) != 1 || cfg.EnabledCategories[0] != "services" {
		t.Fatalf("EnabledCategories = %v, want [services]", cfg.EnabledCategories)
	}
}

func TestValidateTieredNoKnownCategoryIsFatal(t *testing.T) {
	cfg := Default()
	cfg.EnabledCategories = []string{"drivers"}
	if !cfg.ValidateTiered().HasFatals() {
		t.Fatal("a config with no usable category should be fatal")
	}
}

func TestValidateTieredBadOutputFormatIsFatal(t *testing.T) {
	cfg := Default()
	cfg.OutputFormat = "xml"
	if !cfg.ValidateTiered().HasFatals() {
		t.Fatal("unknown output format should be fatal")
	}
}

func TestValidateTieredTaskRootFolderReset(t *testing.T) {
	cfg := Default()
	cfg.TaskRootFolder = "Microsoft"
	result := cfg.ValidateTiered()
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for relative task root folder")
	}
	if cfg.TaskRootFolder != `\` {
		t.Fatalf("TaskRootFolder = %q, want root", cfg.TaskRootFolder)
	}
}

func TestValidateTieredUnknownLogLevelIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown log level should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for unknown log level")
	}
}

func TestHasFatals(t *testing.T) {
	r := ValidationResult{}
	if r.HasFatals() {
		t.Fatal("HasFatals() on empty result should be false")
	}
	r.Fatals = append(r.Fatals, fmt.Errorf("test error"))
	if !r.HasFatals() {
		t.Fatal("HasFatals() should be true with a fatal error")
	}
}

func TestAllErrorsReturnsBoth(t *testing.T) {
	cfg := Default()
	cfg.OutputFormat = "xml"                             // fatal
	cfg.EnabledCategories = []string{"services", "fake"} // warning
	all := cfg.ValidateTiered().AllErrors()
	if len(all) < 2 {
		t.Fatalf("AllErrors() returned %d errors, expected at least 2", len(all))
	}
}

func TestDefaultConfigHasNoErrors(t *testing.T) {
	result := Default().ValidateTiered()
	if result.HasFatals() || len(result.Warnings) > 0 {
		t.Fatalf("default config has problems: %v", result.AllErrors())
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "sysmgr.yaml")
	cfg := Default()
	cfg.ControlTimeoutSeconds = 45
	cfg.EnabledCategories = []string{"services", "processes"}
	if err := SaveTo(cfg, path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	loader := NewLoader(path, nil)
	got, err := loader.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ControlTimeoutSeconds != 45 {
		t.Fatalf("ControlTimeoutSeconds = %d, want 45", got.ControlTimeoutSeconds)
	}
	if !got.CategoryEnabled("processes") || got.CategoryEnabled("tasks") {
		t.Fatalf("EnabledCategories = %v", got.EnabledCategories)
	}
	if loader.FileUsed() != path {
		t.Fatalf("FileUsed() = %q, want %q", loader.FileUsed(), path)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sysmgr.yaml")
	if err := os.WriteFile(path, []byte("control_timeout_seconds: 20\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SYSMGR_CONTROL_TIMEOUT_SECONDS", "12")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ControlTimeoutSeconds != 12 {
		t.Fatalf("ControlTimeoutSeconds = %d, want env override 12", cfg.ControlTimeoutSeconds)
	}
	if cfg.DescriptionMaxLength != 100 {
		t.Fatalf("DescriptionMaxLength = %d, want default 100", cfg.DescriptionMaxLength)
	}
}

func TestValidateTieredAuditClamping(t *testing.T) {
	cfg := Default()
	cfg.AuditFile = filepath.Join(t.TempDir(), "audit.jsonl")
	cfg.AuditMaxSizeMB = 0
	cfg.AuditMaxBackups = 500
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("audit clamping should be warning: %v", result.Fatals)
	}
	if cfg.AuditMaxSizeMB != 1 || cfg.AuditMaxBackups != 50 {
		t.Fatalf("audit limits = %d/%d, want 1/50", cfg.AuditMaxSizeMB, cfg.AuditMaxBackups)
	}
}
