package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Struct tag validation is declarative via go-playground/validator;
// additional custom rules cover what tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	// Account IDs must be unique and at most one account may be active.
	ids := make(map[string]bool)
	active := 0
	for i, account := range cfg.Accounts {
		if ids[account.ID] {
			return fmt.Errorf("accounts[%d]: duplicate account id %q", i, account.ID)
		}
		ids[account.ID] = true
		if account.Active {
			active++
		}
	}
	if active > 1 {
		return fmt.Errorf("accounts: at most one account may be active, got %d", active)
	}

	// The selected metadata backend must carry a usable configuration.
	switch cfg.Metadata.Type {
	case "badger":
		if path, _ := cfg.Metadata.Badger["path"].(string); path == "" {
			inMemory, _ := cfg.Metadata.Badger["in_memory"].(bool)
			if !inMemory {
				return fmt.Errorf("metadata.badger: path is required unless in_memory is set")
			}
		}
	case "sqlite":
		if path, _ := cfg.Metadata.SQLite["path"].(string); path == "" {
			return fmt.Errorf("metadata.sqlite: path is required")
		}
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Address == "" {
		return fmt.Errorf("metrics: address is required when metrics are enabled")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly
// messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
