package auth

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
)

const (
	ConfigKeyAPIKey     = "apiKey"
	ConfigKeyAuthDomain = "authDomain"
	ConfigKeyTenantID   = "tenantId"
)

// ConfigKeys lists the remote config keys requested during initialization.
var ConfigKeys = []string{ConfigKeyAPIKey, ConfigKeyAuthDomain, ConfigKeyTenantID}

// Validate will run validation rules
func (c ProviderConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.APIKey, validation.Required),
		validation.Field(&c.AuthDomain, validation.Required),
		validation.Field(&c.TenantID, validation.Required),
	)
}

// ProviderConfigFromValues builds a ProviderConfig from a fetched key/value
// mapping and rejects incomplete mappings.
func ProviderConfigFromValues(values map[string]string) (ProviderConfig, error) {
	cfg := ProviderConfig{
		APIKey:     values[ConfigKeyAPIKey],
		AuthDomain: values[ConfigKeyAuthDomain],
		TenantID:   values[ConfigKeyTenantID],
	}
	if err := cfg.Validate(); err != nil {
		return ProviderConfig{}, fmt.Errorf("incomplete provider config: %w", err)
	}
	return cfg, nil
}
