package internal

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/guidedimage/guidedimage_server/internal/database"
	"github.com/guidedimage/guidedimage_server/internal/dispenser"
	"github.com/guidedimage/guidedimage_server/internal/images"
	"github.com/guidedimage/guidedimage_server/internal/storage"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const (
	DefaultConfigFile = "files/config.yaml"
	envPrefix         = "GUIDEDIMAGE"
)

type Config struct {
	AllowedExtensions []string          `mapstructure:"allowed_extensions"`
	UploadDir         string            `mapstructure:"upload_dir"`
	Rules             string            `mapstructure:"rules"`
	Routes            RoutesConfig      `mapstructure:"routes"`
	Storage           StorageConfig     `mapstructure:"storage"`
	Headers           HeadersConfig     `mapstructure:"headers"`
	Dispenser         DispenserSettings `mapstructure:"dispenser"`
	Database          database.Config   `mapstructure:"database"`
	Server            ServerConfig      `mapstructure:"server"`
	Auth              AuthConfig        `mapstructure:"auth"`
	AllowedOrigins    []string          `mapstructure:"allowed_origins"`
	Log               LogConfig         `mapstructure:"log"`
}

type RoutesConfig struct {
	Prefix string `mapstructure:"prefix"`
}

type StorageConfig struct {
	storage.BackendConfig `mapstructure:",squash"`
	SkimDir               string `mapstructure:"skim_dir"`
	SkimThumbs            string `mapstructure:"skim_thumbs"`
	SkimResized           string `mapstructure:"skim_resized"`
	SkimRetentionDays     int    `mapstructure:"skim_retention_days"`
}

type HeadersConfig struct {
	CacheDays  int               `mapstructure:"cache_days"`
	Additional map[string]string `mapstructure:"additional"`
}

type DispenserSettings struct {
	MaxDimension int `mapstructure:"max_dimension"`
}

type ServerConfig struct {
	Address            string `mapstructure:"address"`
	MaxRequestBodySize int    `mapstructure:"max_request_body_size"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("allowed_extensions", images.DefaultAllowedExtensions)
	v.SetDefault("upload_dir", images.DefaultUploadDirectory)
	v.SetDefault("rules", images.DefaultRules)
	v.SetDefault("routes.prefix", "image")

	v.SetDefault("storage.type", string(storage.BackendTypeLocal))
	v.SetDefault("storage.local_path", "./storage")
	v.SetDefault("storage.s3_endpoint", "")
	v.SetDefault("storage.s3_bucket", "")
	v.SetDefault("storage.s3_access_key", "")
	v.SetDefault("storage.s3_secret_key", "")
	v.SetDefault("storage.s3_region", "")
	v.SetDefault("storage.s3_use_ssl", true)
	v.SetDefault("storage.external_url", "")
	v.SetDefault("storage.skim_dir", "images")
	v.SetDefault("storage.skim_thumbs", ".thumbs")
	v.SetDefault("storage.skim_resized", ".resized")
	v.SetDefault("storage.skim_retention_days", 30)

	v.SetDefault("headers.cache_days", 2)
	v.SetDefault("headers.additional", map[string]string{})
	v.SetDefault("dispenser.max_dimension", dispenser.DefaultMaxDimension)

	v.SetDefault("database.driver", database.DriverSQLite3)
	v.SetDefault("database.dsn", "files/guidedimage.db")

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.max_request_body_size", 32*1024*1024)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("log.level", "info")
}

// LoadConfig reads the YAML file at path when it exists, then applies GUIDEDIMAGE_*
// environment overrides, e.g. GUIDEDIMAGE_STORAGE_TYPE=s3.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Type {
	case storage.BackendTypeLocal, storage.BackendTypeS3:
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}

	switch c.Database.Driver {
	case database.DriverSQLite3, database.DriverPostgres:
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if strings.Trim(c.Routes.Prefix, "/") == "" {
		return fmt.Errorf("routes.prefix must not be empty")
	}
	if c.Headers.CacheDays < 0 {
		return fmt.Errorf("headers.cache_days must not be negative")
	}
	if c.Dispenser.MaxDimension <= 0 {
		return fmt.Errorf("dispenser.max_dimension must be positive")
	}

	if _, err := images.ParseRules(c.Rules); err != nil {
		return fmt.Errorf("invalid rules: %w", err)
	}
	return nil
}

func (c *Config) UploaderConfig() images.UploaderConfig {
	extensions := make([]string, 0, len(c.AllowedExtensions))
	for _, ext := range c.AllowedExtensions {
		extensions = append(extensions, strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), ".")))
	}

	return images.UploaderConfig{
		AllowedExtensions: extensions,
		UploadDirectory:   c.UploadDir,
		Rules:             c.Rules,
	}
}

// SkimThumbsDir and SkimResizedDir are always on local disk, whatever backend holds the originals.
func (c *Config) SkimThumbsDir() string {
	return filepath.Join(c.Storage.LocalPath, c.Storage.SkimDir, c.Storage.SkimThumbs)
}

func (c *Config) SkimResizedDir() string {
	return filepath.Join(c.Storage.LocalPath, c.Storage.SkimDir, c.Storage.SkimResized)
}

func (c *Config) DispenserConfig() dispenser.Config {
	return dispenser.Config{
		ThumbsDir:         c.SkimThumbsDir(),
		ResizedDir:        c.SkimResizedDir(),
		CacheDays:         c.Headers.CacheDays,
		AdditionalHeaders: c.Headers.Additional,
		MaxDimension:      c.Dispenser.MaxDimension,
	}
}

func (c *Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level))
	if err != nil || c.Log.Level == "" {
		return zerolog.InfoLevel
	}
	return level
}
