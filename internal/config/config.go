// Package config provides application configuration management.
// Configuration is loaded from environment variables, with an optional
// .env file for operator convenience.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Tenant application credentials, shared by both backend surfaces.
	TenantID     string `env:"TENANT_ID,required"`
	ClientID     string `env:"CLIENT_ID,required"`
	ClientSecret string `env:"CLIENT_SECRET,required"`

	// Authority issuing client-credentials tokens.
	AuthorityURL string `env:"AUTHORITY_URL" envDefault:"https://login.microsoftonline.com"`

	// Directory (identity) surface
	DirectoryBaseURL string `env:"DIRECTORY_BASE_URL" envDefault:"https://graph.microsoft.com/v1.0"`
	DirectoryScope   string `env:"DIRECTORY_SCOPE" envDefault:"https://graph.microsoft.com/.default"`

	// Mailbox surface
	MailboxBaseURL string `env:"MAILBOX_BASE_URL" envDefault:"https://outlook.office365.com/adminapi/v1.0"`
	MailboxScope   string `env:"MAILBOX_SCOPE" envDefault:"https://outlook.office365.com/.default"`

	// Input and output files
	InputPath         string `env:"INPUT_PATH" envDefault:"users.csv"`
	ReportPath        string `env:"REPORT_PATH" envDefault:"provisioning-report.csv"`
	SkippedReportPath string `env:"SKIPPED_REPORT_PATH" envDefault:"skipped-report.csv"`
	LogDir            string `env:"LOG_DIR" envDefault:"."`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	// Usage location set on every row before license assignment.
	UsageLocation string `env:"USAGE_LOCATION" envDefault:"US"`

	// Mailbox readiness polling
	MailboxPollTimeout  time.Duration `env:"MAILBOX_POLL_TIMEOUT" envDefault:"8m"`
	MailboxPollInterval time.Duration `env:"MAILBOX_POLL_INTERVAL" envDefault:"30s"`
	ArchiveSettleDelay  time.Duration `env:"ARCHIVE_SETTLE_DELAY" envDefault:"2m"`

	// Client-side pacing of backend calls.
	BackendRequestsPerSecond float64 `env:"BACKEND_RPS" envDefault:"4"`
}

// TokenURL returns the client-credentials token endpoint for the tenant.
func (c *Config) TokenURL() string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.AuthorityURL, c.TenantID)
}

// Load reads an optional .env file, parses environment variables and
// returns a Config. Returns an error if required variables are missing.
func Load() (*Config, error) {
	// A missing .env is fine; explicit environment always wins.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
