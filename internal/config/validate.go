package config

import (
	"fmt"
	"strings"
)

var knownCategories = map[string]bool{
	"services":  true,
	"tasks":     true,
	"processes": true,
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validOutputFormats = map[string]bool{
	"table": true,
	"yaml":  true,
	"json":  true,
}

// ValidationResult separates problems that must stop startup from ones
// that were corrected in place.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	return append(all, r.Warnings...)
}

// Validate checks the config and returns every problem found.
// Out-of-range numbers are clamped so the caller can keep going.
func (c *Config) Validate() []error {
	result := c.ValidateTiered()
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	return result.AllErrors()
}

func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	c.ControlTimeoutSeconds = clamp(&r, "control_timeout_seconds", c.ControlTimeoutSeconds, 1, 600)
	c.MaxWorkers = clamp(&r, "max_workers", c.MaxWorkers, 1, 64)
	c.QueueSize = clamp(&r, "queue_size", c.QueueSize, 1, 1024)
	c.DescriptionMaxLength = clamp(&r, "description_max_length", c.DescriptionMaxLength, 10, 1000)
	c.LogMaxSizeMB = clamp(&r, "log_max_size_mb", c.LogMaxSizeMB, 1, 1024)
	c.LogMaxBackups = clamp(&r, "log_max_backups", c.LogMaxBackups, 1, 50)
	c.AuditMaxSizeMB = clamp(&r, "audit_max_size_mb", c.AuditMaxSizeMB, 1, 1024)
	c.AuditMaxBackups = clamp(&r, "audit_max_backups", c.AuditMaxBackups, 1, 50)

	if !strings.HasPrefix(c.TaskRootFolder, `\`) {
		r.Warnings = append(r.Warnings, fmt.Errorf("task_root_folder %q must start with a backslash, using root", c.TaskRootFolder))
		c.TaskRootFolder = `\`
	}

	normalized := c.EnabledCategories[:0]
	for _, name := range c.EnabledCategories {
		lower := strings.ToLower(strings.TrimSpace(name))
		if !knownCategories[lower] {
			r.Warnings = append(r.Warnings, fmt.Errorf("unknown category %q", name))
			continue
		}
		normalized = append(normalized, lower)
	}
	c.EnabledCategories = normalized
	if len(c.EnabledCategories) == 0 {
		r.Fatals = append(r.Fatals, fmt.Errorf("enabled_categories names no known category"))
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	if !validOutputFormats[strings.ToLower(c.OutputFormat)] {
		r.Fatals = append(r.Fatals, fmt.Errorf("output_format %q is not valid (use table, yaml or json)", c.OutputFormat))
	}

	return r
}

func clamp(r *ValidationResult, key string, v, lo, hi int) int {
	switch {
	case v < lo:
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d is below minimum %d, clamping", key, v, lo))
		return lo
	case v > hi:
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d exceeds maximum %d, clamping", key, v, hi))
		return hi
	}
	return v
}
