package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

const (
	ProviderMemory          = "memory"
	ProviderIdentityToolkit = "identitytoolkit"
)

// Config is the process configuration read from ACEBOOK_* variables.
type Config struct {
	Addr      string `env:"ACEBOOK_ADDR" envDefault:":3000"`
	PublicURL string `env:"ACEBOOK_PUBLIC_URL" envDefault:"http://localhost:3000"`
	Provider  string `env:"ACEBOOK_PROVIDER" envDefault:"memory"`
	Debug     bool   `env:"ACEBOOK_DEBUG"`

	// ConfigURL serves the remote identity parameters. The memory provider
	// falls back to local values when it is empty.
	ConfigURL    string        `env:"ACEBOOK_CONFIG_URL"`
	FetchTimeout time.Duration `env:"ACEBOOK_CONFIG_TIMEOUT" envDefault:"10s"`
	TenantID     string        `env:"ACEBOOK_TENANT_ID" envDefault:"local"`

	GoogleClientID     string `env:"ACEBOOK_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"ACEBOOK_GOOGLE_CLIENT_SECRET"`

	DBDSN string `env:"ACEBOOK_DB_DSN" envDefault:"file:acebook.db?cache=shared"`

	// APIURL is the backend that /api/call proxies to; empty disables it.
	APIURL string `env:"ACEBOOK_API_URL"`

	PopupTimeout    time.Duration `env:"ACEBOOK_POPUP_TIMEOUT" envDefault:"2m"`
	ShutdownTimeout time.Duration `env:"ACEBOOK_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// LoadConfig parses the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var remote []validation.Rule
	if c.Provider == ProviderIdentityToolkit {
		remote = append(remote, validation.Required)
	}

	return validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.Required),
		validation.Field(&c.PublicURL, validation.Required),
		validation.Field(&c.Provider, validation.Required, validation.In(ProviderMemory, ProviderIdentityToolkit)),
		validation.Field(&c.ConfigURL, remote...),
		validation.Field(&c.GoogleClientID, remote...),
		validation.Field(&c.DBDSN, validation.Required),
		validation.Field(&c.APIURL, is.URL),
	)
}

// CallbackURL is where the provider redirects the sign in popup.
func (c Config) CallbackURL(path string) string {
	return strings.TrimSuffix(c.PublicURL, "/") + path
}
