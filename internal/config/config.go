package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"

	MailLog = "log"
	MailSES = "ses"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr       string
		CORSOrigin string
	}
	Log struct {
		Level  string
		Format string
	}
	Database struct {
		Driver string
		Path   string
		DSN    string
	}
	Mongo struct {
		URI      string
		Database string
	}
	Auth struct {
		AccessSecret  string
		RefreshSecret string
		AdminKey      string
		OTPTTL        time.Duration
		AccessTTL     time.Duration
		RefreshTTL    time.Duration
		BcryptCost    int
	}
	Mail struct {
		Provider   string
		Sender     string
		SenderName string
		Region     string
	}
	AWS struct {
		Profile string
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("AUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("server.corsorigin", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "data/auth.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "auth")
	v.SetDefault("auth.accesssecret", "")
	v.SetDefault("auth.refreshsecret", "")
	v.SetDefault("auth.adminkey", "")
	v.SetDefault("auth.otpttl", 10*time.Minute)
	v.SetDefault("auth.accessttl", 15*time.Minute)
	v.SetDefault("auth.refreshttl", 7*24*time.Hour)
	v.SetDefault("auth.bcryptcost", 12)
	v.SetDefault("mail.provider", MailLog)
	v.SetDefault("mail.sender", "")
	v.SetDefault("mail.sendername", "")
	v.SetDefault("mail.region", "us-east-1")
	v.SetDefault("aws.profile", "")
}

func (c *Config) normalize() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.Mail.Provider = strings.ToLower(strings.TrimSpace(c.Mail.Provider))
	c.Auth.AccessSecret = strings.TrimSpace(c.Auth.AccessSecret)
	c.Auth.RefreshSecret = strings.TrimSpace(c.Auth.RefreshSecret)
}

// Validate reports the first setting that would keep the server from starting safely.
func (c Config) Validate() error {
	if c.Auth.AccessSecret == "" || c.Auth.RefreshSecret == "" {
		return errors.New("auth access and refresh secrets are required")
	}
	if c.Auth.AccessSecret == c.Auth.RefreshSecret {
		return errors.New("auth access and refresh secrets must differ")
	}
	if c.Auth.OTPTTL <= 0 || c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		return errors.New("auth ttls must be positive")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("auth bcrypt cost %d out of range", c.Auth.BcryptCost)
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database path is required for sqlite")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database dsn is required for postgres")
		}
	case DriverMongo:
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			return errors.New("mongo uri and database are required")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	switch c.Mail.Provider {
	case MailLog:
	case MailSES:
		if c.Mail.Sender == "" {
			return errors.New("mail sender is required for ses")
		}
	default:
		return fmt.Errorf("unknown mail provider %q", c.Mail.Provider)
	}
	return nil
}
