package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Features FeaturesConfig `mapstructure:"features"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Stream   StreamConfig   `mapstructure:"stream"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type LoggerConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

type FeaturesConfig struct {
	RequestIDHeader      string `mapstructure:"request_id_header"`
	EnableRequestLogging bool   `mapstructure:"enable_request_logging"`
}

type AuthConfig struct {
	AdminAPIKey    string   `mapstructure:"admin_api_key"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type AnalysisConfig struct {
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	Workers         int64         `mapstructure:"workers"`
	RetentionDays   int           `mapstructure:"retention_days"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	TopPatterns     int           `mapstructure:"top_patterns"`
}

// StorageConfig selects where uploaded datasets live until analysed.
type StorageConfig struct {
	Driver string     `mapstructure:"driver"`
	SFTP   SFTPConfig `mapstructure:"sftp"`
}

type SFTPConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	Directory      string        `mapstructure:"directory"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// StreamConfig holds the defaults advertised to stream clients.
type StreamConfig struct {
	PingInterval  time.Duration   `mapstructure:"ping_interval"`
	RetryInterval []time.Duration `mapstructure:"retry_intervals"`
	MaxRetries    int             `mapstructure:"max_retries"`
}

const (
	StorageDriverDB   = "db"
	StorageDriverSFTP = "sftp"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "processlens")
	v.SetDefault("database.name", "processlens")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", "1h")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "console")
	v.SetDefault("logger.output_paths", []string{"stdout"})
	v.SetDefault("logger.error_output_paths", []string{"stderr"})

	v.SetDefault("features.request_id_header", "X-Request-ID")
	v.SetDefault("features.enable_request_logging", true)

	v.SetDefault("auth.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("analysis.max_upload_bytes", 10*1024*1024)
	v.SetDefault("analysis.workers", 4)
	v.SetDefault("analysis.retention_days", 30)
	v.SetDefault("analysis.cleanup_interval", "24h")
	v.SetDefault("analysis.top_patterns", 5)

	v.SetDefault("storage.driver", StorageDriverDB)
	v.SetDefault("storage.sftp.port", 22)
	v.SetDefault("storage.sftp.directory", "/var/lib/processlens/uploads")
	v.SetDefault("storage.sftp.timeout", "10s")

	v.SetDefault("stream.ping_interval", "30s")
	v.SetDefault("stream.retry_intervals", []string{"1s", "2s", "3s", "5s", "8s"})
	v.SetDefault("stream.max_retries", 5)
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix("PROCESSLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func Load(path string) (*Config, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return decode(v)
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageDriverDB:
	case StorageDriverSFTP:
		if c.Storage.SFTP.Host == "" || c.Storage.SFTP.User == "" {
			return fmt.Errorf("storage.sftp requires host and user")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Analysis.MaxUploadBytes <= 0 {
		return fmt.Errorf("analysis.max_upload_bytes must be positive")
	}
	if c.Analysis.Workers <= 0 {
		return fmt.Errorf("analysis.workers must be positive")
	}
	return nil
}

// Watch loads the config and invokes onChange with the re-read config every time
// the file changes on disk. Invalid edits are reported through onError and skipped.
func Watch(path string, onChange func(*Config), onError func(error)) (*Config, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		onChange(next)
	})
	v.WatchConfig()

	return cfg, nil
}
