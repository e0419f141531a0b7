package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "MARGINALIA"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "marginalia.db"
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
	defaultIssuer          = "marginalia"
	defaultCookieName      = "marginalia_session"
	defaultTokenTTLMinutes = 60
	defaultDiffCacheSize   = 256
)

// Keys shared by the CLI flag bindings.
const (
	KeyHTTPAddress     = "http.address"
	KeyDatabasePath    = "database.path"
	KeyLogLevel        = "log.level"
	KeyLogFormat       = "log.format"
	KeySigningSecret   = "auth.signing_secret"
	KeyIssuer          = "auth.issuer"
	KeyCookieName      = "auth.cookie_name"
	KeyTokenTTLMinutes = "auth.token_ttl_minutes"
	KeyDiffCacheSize   = "diff.cache_size"
	KeyAllowedOrigins  = "http.allowed_origins"
)

// AppConfig captures runtime configuration for the API server and CLI.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	LogLevel       string
	LogFormat      string
	SigningSecret  string
	Issuer         string
	CookieName     string
	TokenTTL       time.Duration
	DiffCacheSize  int
	// AllowedOrigins lists CORS origins; empty allows any origin without credentials.
	AllowedOrigins []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault(KeyHTTPAddress, defaultHTTPAddress)
	configViper.SetDefault(KeyDatabasePath, defaultDatabasePath)
	configViper.SetDefault(KeyLogLevel, defaultLogLevel)
	configViper.SetDefault(KeyLogFormat, defaultLogFormat)
	configViper.SetDefault(KeyIssuer, defaultIssuer)
	configViper.SetDefault(KeyCookieName, defaultCookieName)
	configViper.SetDefault(KeyTokenTTLMinutes, defaultTokenTTLMinutes)
	configViper.SetDefault(KeyDiffCacheSize, defaultDiffCacheSize)
}

// Load parses the configuration needed to serve HTTP traffic.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := read(configViper)
	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	if strings.TrimSpace(cfg.SigningSecret) == "" {
		return AppConfig{}, fmt.Errorf("%s is required", KeySigningSecret)
	}
	return cfg, nil
}

// LoadStorage parses the configuration needed by commands that only touch the database.
func LoadStorage(configViper *viper.Viper) (AppConfig, error) {
	cfg := read(configViper)
	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func read(configViper *viper.Viper) AppConfig {
	return AppConfig{
		HTTPAddress:    configViper.GetString(KeyHTTPAddress),
		DatabasePath:   configViper.GetString(KeyDatabasePath),
		LogLevel:       configViper.GetString(KeyLogLevel),
		LogFormat:      configViper.GetString(KeyLogFormat),
		SigningSecret:  configViper.GetString(KeySigningSecret),
		Issuer:         configViper.GetString(KeyIssuer),
		CookieName:     configViper.GetString(KeyCookieName),
		TokenTTL:       time.Duration(configViper.GetInt(KeyTokenTTLMinutes)) * time.Minute,
		DiffCacheSize:  configViper.GetInt(KeyDiffCacheSize),
		AllowedOrigins: configViper.GetStringSlice(KeyAllowedOrigins),
	}
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("%s is required", KeyDatabasePath)
	}
	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("%s is required", KeyCookieName)
	}
	if strings.TrimSpace(c.Issuer) == "" {
		return fmt.Errorf("%s is required", KeyIssuer)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("%s must be positive", KeyTokenTTLMinutes)
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "json", "console":
	default:
		return fmt.Errorf("%s must be json or console, got %q", KeyLogFormat, c.LogFormat)
	}
	return nil
}
