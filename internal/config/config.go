package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"athena-chat/internal/chat"
)

// EnvPrefix prefixes every environment variable read by LoadEnv
const EnvPrefix = "ATHENA_"

// ErrTokenExpired is returned by Validate for a JWT whose exp is in the past
var ErrTokenExpired = errors.New("API token has expired")

var validate = validator.New()

// fieldNames names struct fields in validation errors
var fieldNames = map[string]string{
	"RequestTimeout":    "request timeout",
	"Pace":              "pace",
	"FinalClearDelay":   "final clear delay",
	"TimeoutClearDelay": "timeout clear delay",
	"HighlightDuration": "highlight duration",
	"TypingDelay":       "typing delay",
	"MaxSearchAttempts": "max search attempts",
	"MaxHistory":        "max history",
}

// Config holds all application configuration
type Config struct {
	// Backend settings
	Host           string        `yaml:"host" env:"HOST" validate:"required"`
	Token          string        `yaml:"token" env:"TOKEN" validate:"required"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT" validate:"gte=0"`

	// Stream pacing
	Pace              time.Duration `yaml:"pace" env:"PACE" validate:"gte=0"`
	FinalClearDelay   time.Duration `yaml:"final_clear_delay" env:"FINAL_CLEAR_DELAY" validate:"gte=0"`
	TimeoutClearDelay time.Duration `yaml:"timeout_clear_delay" env:"TIMEOUT_CLEAR_DELAY" validate:"gte=0"`
	HighlightDuration time.Duration `yaml:"highlight_duration" env:"HIGHLIGHT_DURATION" validate:"gte=0"`
	MaxSearchAttempts int           `yaml:"max_search_attempts" env:"MAX_SEARCH_ATTEMPTS" validate:"min=1"`

	// Display settings
	TypingDelay time.Duration `yaml:"typing_delay" env:"TYPING_DELAY" validate:"gte=0"`
	Plain       bool          `yaml:"plain" env:"PLAIN"`

	// Default filters
	DocumentTypes []string `yaml:"document_types" env:"DOCUMENT_TYPES" envSeparator:","`

	// Files
	LogFile     string `yaml:"log_file" env:"LOG_FILE"`
	HistoryPath string `yaml:"history_path" env:"HISTORY_PATH"`
	MaxHistory  int    `yaml:"max_history" env:"MAX_HISTORY" validate:"min=1"`

	Verbose bool `yaml:"verbose" env:"VERBOSE"`
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	defaults := chat.DefaultOptions()
	return &Config{
		// Backend defaults
		Host:           "http://localhost:8000",
		RequestTimeout: 30 * time.Second,

		// Pacing defaults match the web client
		Pace:              defaults.Pace,
		FinalClearDelay:   defaults.FinalClearDelay,
		TimeoutClearDelay: defaults.TimeoutClearDelay,
		HighlightDuration: defaults.HighlightDuration,
		MaxSearchAttempts: defaults.MaxSearchAttempts,

		// Display defaults
		TypingDelay: 8 * time.Millisecond,

		// File defaults
		LogFile:     expandHome("~/.athena-chat/athena-chat.log"),
		HistoryPath: expandHome("~/.athena-chat/recent.json"),
		MaxHistory:  20,
	}
}

// DefaultPath is the config file read when none is given
func DefaultPath() string {
	return expandHome("~/.athena-chat/config.yaml")
}

// LoadFile overlays the YAML file at path. A missing file is not an error.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.expandPaths()
	return nil
}

// LoadEnv overlays ATHENA_* environment variables. Values from the given
// dotenv files fill in what the process environment leaves unset; earlier
// files win over later ones and missing files are skipped.
func (c *Config) LoadEnv(dotenvFiles ...string) error {
	environment := env.ToMap(os.Environ())
	for _, path := range dotenvFiles {
		values, err := godotenv.Read(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to read env file %s: %w", path, err)
		}
		for k, v := range values {
			if _, set := environment[k]; !set {
				environment[k] = v
			}
		}
	}
	return c.loadEnv(environment)
}

// DotEnvFiles are the dotenv files read by LoadEnv, nearest first
func DotEnvFiles() []string {
	return []string{".env", expandHome("~/.athena-chat/.env")}
}

func (c *Config) loadEnv(environment map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix, Environment: environment}
	if err := env.ParseWithOptions(c, opts); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	c.expandPaths()
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return describe(err)
	}
	u, err := url.Parse(c.Host)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("host must be an http(s) URL, got %q", c.Host)
	}
	return checkTokenExpiry(c.Token, time.Now())
}

// describe turns the first validation failure into a readable error
func describe(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return err
	}
	fe := errs[0]
	switch fe.StructField() {
	case "Host":
		return errors.New("host cannot be empty")
	case "Token":
		return fmt.Errorf("API token cannot be empty (set %sTOKEN or --token)", EnvPrefix)
	}
	name, ok := fieldNames[fe.StructField()]
	if !ok {
		name = fe.Field()
	}
	switch fe.Tag() {
	case "gte":
		return fmt.Errorf("%s cannot be negative", name)
	case "min":
		return fmt.Errorf("%s must be at least %s", name, fe.Param())
	}
	return fmt.Errorf("invalid %s", name)
}

// Options returns the session tuning carried by the configuration
func (c *Config) Options() chat.Options {
	return chat.Options{
		Pace:              c.Pace,
		FinalClearDelay:   c.FinalClearDelay,
		TimeoutClearDelay: c.TimeoutClearDelay,
		HighlightDuration: c.HighlightDuration,
		MaxSearchAttempts: c.MaxSearchAttempts,
	}
}

// Filters returns the default filters for new questions
func (c *Config) Filters() chat.Filters {
	return chat.Filters{DocumentTypes: append([]string(nil), c.DocumentTypes...)}
}

// checkTokenExpiry rejects a JWT that has already expired. The signature
// is the server's business; opaque tokens pass through.
func checkTokenExpiry(token string, now time.Time) error {
	if strings.Count(token, ".") != 2 {
		return nil
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if !exp.After(now) {
		return fmt.Errorf("%w at %s", ErrTokenExpired, exp.Format(time.RFC3339))
	}
	return nil
}

func (c *Config) expandPaths() {
	c.LogFile = expandHome(c.LogFile)
	c.HistoryPath = expandHome(c.HistoryPath)
}

// expandHome expands the ~ in file paths to the user's home directory
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
