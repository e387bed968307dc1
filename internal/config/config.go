package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	Env      string `yaml:"env"` // "dev" | "prod"
	LogLevel string `yaml:"log_level"`

	// Storage
	Store        string `yaml:"store"`   // "memory" | "sqlite"
	DBPath       string `yaml:"db_path"` // e.g. "./data/janus.db"
	SnapshotPath string `yaml:"snapshot_path"`

	// Protocol
	CommandSeparator string        `yaml:"command_separator"`
	StaleAfter       time.Duration `yaml:"stale_after"`
	DeviceTimeZone   string        `yaml:"device_time_zone"` // IANA name; device wall clock
	PollDelaySeconds int           `yaml:"poll_delay_seconds"`

	// Work
	BackupStep       time.Duration `yaml:"backup_step"`
	ReconcileWorkers int           `yaml:"reconcile_workers"`
	FollowUpWorkers  int           `yaml:"follow_up_workers"`
	FollowUpQueue    int           `yaml:"follow_up_queue"`
	FollowUpTimeout  time.Duration `yaml:"follow_up_timeout"`

	// Ledger retention
	LedgerRetention time.Duration `yaml:"ledger_retention"` // 0 = keep forever
	PruneInterval   time.Duration `yaml:"prune_interval"`

	// Dev only: external id -> name seeded into the employee directory.
	DevEmployees map[string]string `yaml:"dev_employees"`
}

// FromEnv reads JANUS_* variables.  A .env file in the working directory
// is loaded first if present; real environment variables win over it.
func FromEnv() Config {
	_ = godotenv.Load()

	env := strings.ToLower(getenvDefault("JANUS_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	return Config{
		HTTPAddr: getenvDefault("JANUS_HTTP_ADDR", ":8080"),
		Env:      env,
		LogLevel: getenvDefault("JANUS_LOG_LEVEL", "info"),

		Store:        strings.ToLower(getenvDefault("JANUS_STORE", "memory")),
		DBPath:       getenvDefault("JANUS_DB_PATH", "./data/janus.db"),
		SnapshotPath: os.Getenv("JANUS_SNAPSHOT_PATH"),

		CommandSeparator: unescape(getenvDefault("JANUS_COMMAND_SEPARATOR", `\n`)),
		StaleAfter:       getenvDuration("JANUS_STALE_AFTER", 90*time.Second),
		DeviceTimeZone:   getenvDefault("JANUS_DEVICE_TZ", "Local"),
		PollDelaySeconds: getenvInt("JANUS_POLL_DELAY_SECONDS", 10),

		BackupStep:       getenvDuration("JANUS_BACKUP_STEP", 30*time.Second),
		ReconcileWorkers: getenvInt("JANUS_RECONCILE_WORKERS", 4),
		FollowUpWorkers:  getenvInt("JANUS_FOLLOWUP_WORKERS", 4),
		FollowUpQueue:    getenvInt("JANUS_FOLLOWUP_QUEUE", 256),
		FollowUpTimeout:  getenvDuration("JANUS_FOLLOWUP_TIMEOUT", time.Minute),

		LedgerRetention: getenvDuration("JANUS_LEDGER_RETENTION", 24*time.Hour),
		PruneInterval:   getenvDuration("JANUS_PRUNE_INTERVAL", 10*time.Minute),

		DevEmployees: splitPairs(os.Getenv("JANUS_DEV_EMPLOYEES")),
	}
}

// ApplyFile overlays the YAML file at path.  Keys absent from the file
// keep their current value.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return c.Validate()
}

func (c *Config) Validate() error {
	switch c.Store {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("store must be memory or sqlite, got %q", c.Store)
	}
	if c.Env != "dev" && c.Env != "prod" {
		return fmt.Errorf("env must be dev or prod, got %q", c.Env)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves DeviceTimeZone.
func (c *Config) Location() (*time.Location, error) {
	if c.DeviceTimeZone == "" || c.DeviceTimeZone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.DeviceTimeZone)
	if err != nil {
		return nil, fmt.Errorf("device time zone: %w", err)
	}
	return loc, nil
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

// splitPairs parses "1001:Bob,7:Alice".
func splitPairs(v string) map[string]string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	out := make(map[string]string)
	for _, p := range strings.Split(v, ",") {
		k, name, ok := strings.Cut(p, ":")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}
		out[k] = strings.TrimSpace(name)
	}
	return out
}

// unescape turns the literal sequences \r, \n and \t into control
// characters so separators can be set from a shell.
func unescape(s string) string {
	return strings.NewReplacer(`\r`, "\r", `\n`, "\n", `\t`, "\t").Replace(s)
}
