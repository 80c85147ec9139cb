package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/sysmgr/internal/logging"
)

var log = logging.L("config")

type Config struct {
	LogLevel      string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat     string `mapstructure:"log_format" yaml:"log_format"`
	LogFile       string `mapstructure:"log_file" yaml:"log_file,omitempty"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups" yaml:"log_max_backups"`

	// ControlTimeoutSeconds bounds each service state transition during a batch.
	ControlTimeoutSeconds int `mapstructure:"control_timeout_seconds" yaml:"control_timeout_seconds"`
	MaxWorkers            int `mapstructure:"max_workers" yaml:"max_workers"`
	QueueSize             int `mapstructure:"queue_size" yaml:"queue_size"`

	TaskRootFolder       string   `mapstructure:"task_root_folder" yaml:"task_root_folder"`
	DescriptionMaxLength int      `mapstructure:"description_max_length" yaml:"description_max_length"`
	EnabledCategories    []string `mapstructure:"enabled_categories" yaml:"enabled_categories"`

	// AuditFile enables the hash-chained batch audit trail when set.
	AuditFile       string `mapstructure:"audit_file" yaml:"audit_file,omitempty"`
	AuditMaxSizeMB  int    `mapstructure:"audit_max_size_mb" yaml:"audit_max_size_mb"`
	AuditMaxBackups int    `mapstructure:"audit_max_backups" yaml:"audit_max_backups"`

	AssumeYes    bool   `mapstructure:"assume_yes" yaml:"assume_yes"`
	OutputFormat string `mapstructure:"output_format" yaml:"output_format"`
}

func Default() *Config {
	return &Config{
		LogLevel:              "warn",
		LogFormat:             "text",
		LogMaxSizeMB:          10,
		LogMaxBackups:         3,
		ControlTimeoutSeconds: 30,
		MaxWorkers:            4,
		QueueSize:             32,
		TaskRootFolder:        `\`,
		DescriptionMaxLength:  100,
		EnabledCategories:     []string{"services", "tasks", "processes"},
		AuditMaxSizeMB:        10,
		AuditMaxBackups:       3,
		OutputFormat:          "table",
	}
}

// ControlTimeout returns the per-transition service control timeout.
func (c *Config) ControlTimeout() time.Duration {
	return time.Duration(c.ControlTimeoutSeconds) * time.Second
}

// CategoryEnabled reports whether name is listed in EnabledCategories.
func (c *Config) CategoryEnabled(name string) bool {
	for _, n := range c.EnabledCategories {
		if n == name {
			return true
		}
	}
	return false
}

// Loader reads the config file, the optional .env overlay and SYSMGR_*
// environment variables into a Config. It owns its viper instance so the
// same sources can be re-read when the file changes.
type Loader struct {
	v       *viper.Viper
	cfgFile string
}

// NewLoader prepares a loader. cfgFile may be empty to search the default
// locations. flags, when non-nil, override file and env values.
func NewLoader(cfgFile string, flags *pflag.FlagSet) *Loader {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("sysmgr")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	def := Default()
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_format", def.LogFormat)
	v.SetDefault("log_file", def.LogFile)
	v.SetDefault("log_max_size_mb", def.LogMaxSizeMB)
	v.SetDefault("log_max_backups", def.LogMaxBackups)
	v.SetDefault("control_timeout_seconds", def.ControlTimeoutSeconds)
	v.SetDefault("max_workers", def.MaxWorkers)
	v.SetDefault("queue_size", def.QueueSize)
	v.SetDefault("task_root_folder", def.TaskRootFolder)
	v.SetDefault("description_max_length", def.DescriptionMaxLength)
	v.SetDefault("enabled_categories", def.EnabledCategories)
	v.SetDefault("audit_file", def.AuditFile)
	v.SetDefault("audit_max_size_mb", def.AuditMaxSizeMB)
	v.SetDefault("audit_max_backups", def.AuditMaxBackups)
	v.SetDefault("assume_yes", def.AssumeYes)
	v.SetDefault("output_format", def.OutputFormat)

	v.SetEnvPrefix("SYSMGR")
	v.AutomaticEnv()

	if flags != nil {
		bindFlags(v, flags)
	}

	return &Loader{v: v, cfgFile: cfgFile}
}

// flagKeys maps CLI flag names onto config keys.
var flagKeys = map[string]string{
	"log-level":  "log_level",
	"log-file":   "log_file",
	"yes":        "assume_yes",
	"output":     "output_format",
	"timeout":    "control_timeout_seconds",
	"audit-file": "audit_file",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			log.Warn("bind flag", "flag", f.Name, logging.KeyError, err)
		}
	})
}

// Load reads every source. A missing config file is not an error.
func (l *Loader) Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("ignoring unreadable .env file", logging.KeyError, err)
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	cfg := Default()
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// FileUsed returns the path of the config file that was read, if any.
func (l *Loader) FileUsed() string {
	return l.v.ConfigFileUsed()
}

// Watch re-decodes the config whenever the file changes on disk and passes
// the result to onChange. It returns false when no file was loaded.
func (l *Loader) Watch(onChange func(*Config, error)) bool {
	if l.v.ConfigFileUsed() == "" {
		return false
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write | fsnotify.Create) {
			return
		}
		log.Info("config file changed", "file", e.Name)
		onChange(l.decode())
	})
	l.v.WatchConfig()
	return true
}

// Load is shorthand for NewLoader(cfgFile, nil).Load().
func Load(cfgFile string) (*Config, error) {
	return NewLoader(cfgFile, nil).Load()
}

// Save writes cfg to the default location.
func Save(cfg *Config) (string, error) {
	path := DefaultPath()
	return path, SaveTo(cfg, path)
}

// SaveTo atomically replaces cfgFile with cfg rendered as YAML.
func SaveTo(cfg *Config, cfgFile string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if dir := filepath.Dir(cfgFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	return renameio.WriteFile(cfgFile, data, 0o644)
}

// DefaultPath is where Save writes and where Load looks first.
func DefaultPath() string {
	return filepath.Join(configDir(), "sysmgr.yaml")
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "SysMgr")
	case "darwin":
		return "/Library/Application Support/SysMgr"
	default:
		return "/etc/sysmgr"
	}
}
