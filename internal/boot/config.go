package boot

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/labstack/gommon/log"
	"github.com/sethvargo/go-envconfig"
)

const (
	OverflowReject   = "reject"
	OverflowTruncate = "truncate"
)

type LinkedInConfig struct {
	AccessToken    string `env:"LINKEDIN_ACCESS_TOKEN"`
	APIURL         string `env:"LINKEDIN_API_URL,default=https://api.linkedin.com/v2" validate:"url"`
	AuthorURN      string `env:"LINKEDIN_AUTHOR_URN" validate:"omitempty,startswith=urn:li:"`
	OverflowPolicy string `env:"LINKEDIN_OVERFLOW_POLICY,default=reject" validate:"oneof=reject truncate"`
}

func (c *LinkedInConfig) IsConfigured() bool {
	return c.AccessToken != ""
}

type WordPressConfig struct {
	URL      string `env:"WORDPRESS_URL" validate:"omitempty,url"`
	Username string `env:"WORDPRESS_USERNAME"`
	Password string `env:"WORDPRESS_PASSWORD"`
	BlogID   int    `env:"WORDPRESS_BLOG_ID,default=1" validate:"min=0"`
}

func (c *WordPressConfig) IsConfigured() bool {
	return c.URL != "" && c.Username != "" && c.Password != ""
}

func (c *WordPressConfig) isPartial() bool {
	return !c.IsConfigured() && (c.URL != "" || c.Username != "" || c.Password != "")
}

type SMTPConfig struct {
	Host          string        `env:"SMTP_HOST"`
	Port          int           `env:"SMTP_PORT,default=587" validate:"min=1,max=65535"`
	Username      string        `env:"SMTP_USERNAME"`
	Password      string        `env:"SMTP_PASSWORD"`
	FromEmail     string        `env:"SMTP_FROM_EMAIL" validate:"omitempty,email"`
	FromName      string        `env:"SMTP_FROM_NAME,default=Marketing Automation"`
	BatchSize     int           `env:"EMAIL_BATCH_SIZE,default=50" validate:"min=1"`
	BatchInterval time.Duration `env:"EMAIL_BATCH_INTERVAL,default=0s" validate:"min=0"`
}

func (c *SMTPConfig) IsConfigured() bool {
	return c.Host != "" && c.Username != "" && c.Password != ""
}

func (c *SMTPConfig) isPartial() bool {
	return !c.IsConfigured() && (c.Host != "" || c.Username != "" || c.Password != "")
}

// Sender is the From address, falling back to the SMTP username.
func (c *SMTPConfig) Sender() string {
	if c.FromEmail != "" {
		return c.FromEmail
	}
	return c.Username
}

type Config struct {
	Env          string `env:"ENV,default=dev" validate:"oneof=dev prod test"`
	DataDir      string `env:"DATA_DIR,default=."`
	DatabasePath string `env:"DATABASE_PATH"`
	Server       struct {
		Port        int      `env:"PORT,default=8080" validate:"min=1,max=65535"`
		MetricsPort int      `env:"METRICS_PORT,default=8081" validate:"min=1,max=65535"`
		Origins     []string `env:"ALLOWED_ORIGINS,default=*"`
		RateLimit   float64  `env:"RATE_LIMIT_RPS,default=0" validate:"min=0"`
		JWTSecret   string   `env:"WEBHOOK_JWT_SECRET"`
		APIKeyHash  string   `env:"WEBHOOK_API_KEY_HASH"`
		PublicKey   string   `env:"WEBHOOK_PUBLIC_KEY"`
	}
	Log struct {
		Level      string `env:"LOG_LEVEL,default=info" validate:"oneof=debug info warn error off"`
		File       string `env:"LOG_FILE"`
		MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB,default=100"`
		MaxBackups int    `env:"LOG_MAX_BACKUPS,default=5"`
		MaxAgeDays int    `env:"LOG_MAX_AGE_DAYS,default=30"`
	}
	Dispatch struct {
		ChannelTimeout time.Duration `env:"CHANNEL_TIMEOUT,default=60s" validate:"gt=0"`
		MaxConcurrency int           `env:"DISPATCH_MAX_CONCURRENCY,default=0" validate:"min=0"`
	}
	Media struct {
		FetchTimeout time.Duration `env:"MEDIA_FETCH_TIMEOUT,default=30s" validate:"gt=0"`
		MaxBytes     int64         `env:"MEDIA_MAX_BYTES,default=104857600" validate:"gt=0"`
	}
	NewsletterTemplate string `env:"NEWSLETTER_TEMPLATE"`

	LinkedIn  LinkedInConfig
	WordPress WordPressConfig
	SMTP      SMTPConfig
}

// Load reads .env when present and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return LoadFrom(envconfig.OsLookuper())
}

func LoadFrom(lookuper envconfig.Lookuper) (*Config, error) {
	config := &Config{}
	if err := envconfig.ProcessWith(context.Background(), config, lookuper); err != nil {
		return nil, fmt.Errorf("parsing env vars: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return config, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.WordPress.isPartial() {
		return errors.New("wordpress is partly configured: WORDPRESS_URL, WORDPRESS_USERNAME and WORDPRESS_PASSWORD are all required")
	}
	if c.WordPress.URL != "" {
		u, err := url.Parse(c.WordPress.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid WORDPRESS_URL %q", c.WordPress.URL)
		}
	}
	if c.SMTP.isPartial() {
		return errors.New("smtp is partly configured: SMTP_HOST, SMTP_USERNAME and SMTP_PASSWORD are all required")
	}
	if !c.LinkedIn.IsConfigured() && c.LinkedIn.AuthorURN != "" {
		return errors.New("linkedin is partly configured: LINKEDIN_AUTHOR_URN set without LINKEDIN_ACCESS_TOKEN")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "prod"
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "dev"
}

func (c *Config) DatabaseFile() string {
	if c.DatabasePath != "" {
		return c.DatabasePath
	}
	return path.Join(c.DataDir, "herald.db")
}

func (c *Config) ServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func (c *Config) MetricsAddress() string {
	return fmt.Sprintf(":%d", c.Server.MetricsPort)
}

func (c *Config) AuthEnabled() bool {
	return c.Server.JWTSecret != "" || c.Server.APIKeyHash != "" || c.Server.PublicKey != ""
}

// Summary describes the configuration for the startup log. Credentials are
// never included.
func (c *Config) Summary() log.JSON {
	return log.JSON{
		"env":                 c.Env,
		"port":                c.Server.Port,
		"metrics_port":        c.Server.MetricsPort,
		"origins":             strings.Join(c.Server.Origins, ","),
		"database":            c.DatabaseFile(),
		"auth":                c.AuthEnabled(),
		"channel_timeout":     c.Dispatch.ChannelTimeout.String(),
		"linkedin":            c.LinkedIn.IsConfigured(),
		"linkedin_overflow":   c.LinkedIn.OverflowPolicy,
		"wordpress":           c.WordPress.IsConfigured(),
		"wordpress_url":       c.WordPress.URL,
		"email":               c.SMTP.IsConfigured(),
		"smtp_host":           c.SMTP.Host,
		"email_batch_size":    c.SMTP.BatchSize,
		"newsletter_template": c.NewsletterTemplate,
	}
}
