package config

import (
	"os"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v2"
)

type SystemConfig struct {
	Appid    string `yaml:"appid"`
	Location string `yaml:"location"`
	Workdir  string `yaml:"workdir"`
}

type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Type    string `yaml:"type"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Name    string `yaml:"name"`
	User    string `yaml:"user"`
	Passwd  string `yaml:"passwd"`
	MaxConn int    `yaml:"max_conn"`
	Debug   bool   `yaml:"debug"`
}

type LoggerConfig struct {
	Mode       string `yaml:"mode"`
	FileEnable bool   `yaml:"file_enable"`
	Filename   string `yaml:"filename"`
}

type EngineConfig struct {
	// PollInterval is the dispatcher tick in seconds.
	PollInterval int `yaml:"poll_interval"`
	// PoolSize bounds concurrent browser sessions.
	PoolSize int `yaml:"pool_size"`
	// QueueDepth bounds requests waiting for a free pool slot.
	QueueDepth int `yaml:"queue_depth"`
	// OrphanGraceMinutes before a stale running log is force-finalized.
	OrphanGraceMinutes int `yaml:"orphan_grace_minutes"`
	// RetentionDays of execution logs kept by the daily sweep.
	RetentionDays int `yaml:"retention_days"`
	// BrowserExec optionally points at a Chrome/Chromium binary.
	BrowserExec string `yaml:"browser_exec"`
}

type AppConfig struct {
	System   SystemConfig   `yaml:"system"`
	Web      WebConfig      `yaml:"web"`
	Database DatabaseConfig `yaml:"database"`
	Logger   LoggerConfig   `yaml:"logger"`
	Engine   EngineConfig   `yaml:"engine"`
}

var DefaultAppConfig = AppConfig{
	System: SystemConfig{
		Appid:    "synthmon",
		Location: "UTC",
		Workdir:  "/var/synthmon",
	},
	Web: WebConfig{
		Host: "0.0.0.0",
		Port: 8106,
	},
	Database: DatabaseConfig{
		Type:    "postgres",
		Host:    "127.0.0.1",
		Port:    5432,
		Name:    "synthmon",
		User:    "postgres",
		Passwd:  "postgres",
		MaxConn: 50,
	},
	Logger: LoggerConfig{
		Mode:       "development",
		FileEnable: true,
		Filename:   "/var/synthmon/synthmon.log",
	},
	Engine: EngineConfig{
		PollInterval:       15,
		PoolSize:           5,
		QueueDepth:         50,
		OrphanGraceMinutes: 10,
		RetentionDays:      90,
	},
}

// LoadConfig reads the YAML config file when it exists and applies
// environment overrides on top of the defaults.
func LoadConfig(cfile string) *AppConfig {
	cfg := DefaultAppConfig
	if cfile != "" {
		if data, err := os.ReadFile(cfile); err == nil {
			_ = yaml.Unmarshal(data, &cfg)
		}
	}
	setEnvString("SYNTHMON_SYSTEM_WORKDIR", &cfg.System.Workdir)
	setEnvString("SYNTHMON_WEB_HOST", &cfg.Web.Host)
	setEnvInt("SYNTHMON_WEB_PORT", &cfg.Web.Port)
	setEnvString("SYNTHMON_DB_HOST", &cfg.Database.Host)
	setEnvInt("SYNTHMON_DB_PORT", &cfg.Database.Port)
	setEnvString("SYNTHMON_DB_NAME", &cfg.Database.Name)
	setEnvString("SYNTHMON_DB_USER", &cfg.Database.User)
	setEnvString("SYNTHMON_DB_PASSWD", &cfg.Database.Passwd)
	setEnvBool("SYNTHMON_DB_DEBUG", &cfg.Database.Debug)
	setEnvString("SYNTHMON_LOGGER_MODE", &cfg.Logger.Mode)
	setEnvInt("SYNTHMON_ENGINE_POLL_INTERVAL", &cfg.Engine.PollInterval)
	setEnvInt("SYNTHMON_ENGINE_POOL_SIZE", &cfg.Engine.PoolSize)
	setEnvInt("SYNTHMON_ENGINE_QUEUE_DEPTH", &cfg.Engine.QueueDepth)
	setEnvString("SYNTHMON_BROWSER_EXEC", &cfg.Engine.BrowserExec)
	return &cfg
}

func setEnvString(name string, val *string) {
	if evalue := os.Getenv(name); evalue != "" {
		*val = evalue
	}
}

func setEnvInt(name string, val *int) {
	if evalue := os.Getenv(name); evalue != "" {
		*val = cast.ToInt(evalue)
	}
}

func setEnvBool(name string, val *bool) {
	if evalue := os.Getenv(name); evalue != "" {
		*val = cast.ToBool(evalue)
	}
}
