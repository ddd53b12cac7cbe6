package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// SysConfig system configuration
type SysConfig struct {
	Appid    string `yaml:"appid"`
	Location string `yaml:"location"`
	Workdir  string `yaml:"workdir"`
	Debug    bool   `yaml:"debug"`
}

// WebConfig web server configuration
type WebConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	WebhookSecret string `yaml:"webhook_secret"` // API key expected on inbound device events
}

// DBConfig database configuration
type DBConfig struct {
	Type     string `yaml:"type"` // postgres or sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Passwd   string `yaml:"passwd"`
	MaxConn  int    `yaml:"max_conn"`
	IdleConn int    `yaml:"idle_conn"`
	Debug    bool   `yaml:"debug"`
}

// RedisConfig redis connection used for the job queue and target leases
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LogConfig logging configuration
type LogConfig struct {
	Mode       string `yaml:"mode"`
	FileEnable bool   `yaml:"file_enable"`
	Filename   string `yaml:"filename"`
}

// DiagnosticConfig tunes the diagnostic engine
type DiagnosticConfig struct {
	Workers          int           `yaml:"workers"`
	QueueBackend     string        `yaml:"queue_backend"` // memory or redis
	RunTimeout       time.Duration `yaml:"run_timeout"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	NeighborPoolSize int           `yaml:"neighbor_pool_size"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay    time.Duration `yaml:"retry_max_delay"`
	LeaseGrace       time.Duration `yaml:"lease_grace"`
	StatusSweep      string        `yaml:"status_sweep"`   // cron spec for the device status sweep, empty disables it
	RetentionDays    int           `yaml:"retention_days"` // 0 keeps logs forever
	NodeID           int64         `yaml:"node_id"`        // snowflake node of this instance
}

// LeaseTTL covers the worst-case pipeline duration.
func (d DiagnosticConfig) LeaseTTL() time.Duration {
	return d.RunTimeout + d.LeaseGrace
}

type AppConfig struct {
	System     SysConfig        `yaml:"system"`
	Web        WebConfig        `yaml:"web"`
	Database   DBConfig         `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Logger     LogConfig        `yaml:"logger"`
	Diagnostic DiagnosticConfig `yaml:"diagnostic"`
}

func (c *AppConfig) GetLogDir() string {
	return path.Join(c.System.Workdir, "logs")
}

func (c *AppConfig) GetDataDir() string {
	return path.Join(c.System.Workdir, "data")
}

// Validate checks the values the engine cannot run without.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Web.WebhookSecret) == "" {
		return errors.New("web.webhook_secret is required")
	}
	d := c.Diagnostic
	if d.Workers <= 0 {
		return fmt.Errorf("diagnostic.workers must be positive, got %d", d.Workers)
	}
	if d.RunTimeout <= 0 || d.ProbeTimeout <= 0 {
		return errors.New("diagnostic.run_timeout and diagnostic.probe_timeout must be positive")
	}
	if d.NeighborPoolSize <= 0 {
		return fmt.Errorf("diagnostic.neighbor_pool_size must be positive, got %d", d.NeighborPoolSize)
	}
	if d.NodeID < 0 || d.NodeID > 1023 {
		return fmt.Errorf("diagnostic.node_id must be within 0..1023, got %d", d.NodeID)
	}
	if d.MaxRetries < 0 {
		return fmt.Errorf("diagnostic.max_retries cannot be negative, got %d", d.MaxRetries)
	}
	switch d.QueueBackend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return errors.New("diagnostic.queue_backend=redis requires redis.enabled")
		}
	default:
		return fmt.Errorf("unsupported diagnostic.queue_backend %q", d.QueueBackend)
	}
	return nil
}

var DefaultAppConfig = &AppConfig{
	System: SysConfig{
		Appid:    "NetDoctor",
		Location: "Africa/Nairobi",
		Workdir:  "/var/netdoctor",
		Debug:    true,
	},
	Web: WebConfig{
		Host: "0.0.0.0",
		Port: 1816,
	},
	Database: DBConfig{
		Type:     "postgres",
		Host:     "127.0.0.1",
		Port:     5432,
		Name:     "netdoctor",
		User:     "postgres",
		Passwd:   "myroot",
		MaxConn:  100,
		IdleConn: 10,
		Debug:    false,
	},
	Redis: RedisConfig{
		Enabled: false,
		Addr:    "127.0.0.1:6379",
	},
	Logger: LogConfig{
		Mode:       "development",
		FileEnable: true,
		Filename:   "/var/netdoctor/netdoctor.log",
	},
	Diagnostic: DiagnosticConfig{
		Workers:          8,
		QueueBackend:     "memory",
		RunTimeout:       2 * time.Minute,
		ProbeTimeout:     5 * time.Second,
		NeighborPoolSize: 10,
		MaxRetries:       3,
		RetryBaseDelay:   5 * time.Second,
		RetryMaxDelay:    2 * time.Minute,
		LeaseGrace:       30 * time.Second,
		RetentionDays:    180,
	},
}

// LoadConfig reads the yaml file (if any) over the defaults, then applies
// NETDOCTOR_* environment overrides.
func LoadConfig(cfile string) (*AppConfig, error) {
	cfg := *DefaultAppConfig
	if cfile == "" {
		cfile = "netdoctor.yml"
	}
	if _, err := os.Stat(cfile); err == nil {
		data, err := os.ReadFile(cfile)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfile, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", cfile, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	applyEnv(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *AppConfig) {
	setEnvString("NETDOCTOR_SYSTEM_WORKER_DIR", &cfg.System.Workdir)
	setEnvString("NETDOCTOR_SYSTEM_LOCATION", &cfg.System.Location)
	setEnvBool("NETDOCTOR_SYSTEM_DEBUG", &cfg.System.Debug)

	setEnvString("NETDOCTOR_WEB_HOST", &cfg.Web.Host)
	setEnvInt("NETDOCTOR_WEB_PORT", &cfg.Web.Port)
	setEnvString("NETDOCTOR_WEBHOOK_SECRET", &cfg.Web.WebhookSecret)

	setEnvString("NETDOCTOR_DB_TYPE", &cfg.Database.Type)
	setEnvString("NETDOCTOR_DB_HOST", &cfg.Database.Host)
	setEnvInt("NETDOCTOR_DB_PORT", &cfg.Database.Port)
	setEnvString("NETDOCTOR_DB_NAME", &cfg.Database.Name)
	setEnvString("NETDOCTOR_DB_USER", &cfg.Database.User)
	setEnvString("NETDOCTOR_DB_PWD", &cfg.Database.Passwd)
	setEnvBool("NETDOCTOR_DB_DEBUG", &cfg.Database.Debug)

	setEnvBool("NETDOCTOR_REDIS_ENABLED", &cfg.Redis.Enabled)
	setEnvString("NETDOCTOR_REDIS_ADDR", &cfg.Redis.Addr)
	setEnvString("NETDOCTOR_REDIS_PASSWORD", &cfg.Redis.Password)
	setEnvInt("NETDOCTOR_REDIS_DB", &cfg.Redis.DB)

	setEnvString("NETDOCTOR_LOGGER_MODE", &cfg.Logger.Mode)
	setEnvBool("NETDOCTOR_LOGGER_FILE_ENABLE", &cfg.Logger.FileEnable)

	setEnvInt("NETDOCTOR_DIAG_WORKERS", &cfg.Diagnostic.Workers)
	setEnvString("NETDOCTOR_DIAG_QUEUE", &cfg.Diagnostic.QueueBackend)
	setEnvDuration("NETDOCTOR_DIAG_RUN_TIMEOUT", &cfg.Diagnostic.RunTimeout)
	setEnvDuration("NETDOCTOR_DIAG_PROBE_TIMEOUT", &cfg.Diagnostic.ProbeTimeout)
	setEnvInt("NETDOCTOR_DIAG_NEIGHBOR_POOL", &cfg.Diagnostic.NeighborPoolSize)
	setEnvInt("NETDOCTOR_DIAG_MAX_RETRIES", &cfg.Diagnostic.MaxRetries)
	setEnvString("NETDOCTOR_DIAG_STATUS_SWEEP", &cfg.Diagnostic.StatusSweep)
	setEnvInt("NETDOCTOR_DIAG_RETENTION_DAYS", &cfg.Diagnostic.RetentionDays)
	setEnvInt64("NETDOCTOR_DIAG_NODE_ID", &cfg.Diagnostic.NodeID)
}

func setEnvString(name string, val *string) {
	if v := os.Getenv(name); v != "" {
		*val = v
	}
}

func setEnvBool(name string, val *bool) {
	if v := os.Getenv(name); v != "" {
		*val = cast.ToBool(v)
	}
}

func setEnvInt(name string, val *int) {
	if v := os.Getenv(name); v != "" {
		if i, err := cast.ToIntE(v); err == nil {
			*val = i
		}
	}
}

func setEnvInt64(name string, val *int64) {
	if v := os.Getenv(name); v != "" {
		if i, err := cast.ToInt64E(v); err == nil {
			*val = i
		}
	}
}

func setEnvDuration(name string, val *time.Duration) {
	if v := os.Getenv(name); v != "" {
		if d, err := cast.ToDurationE(v); err == nil {
			*val = d
		}
	}
}
