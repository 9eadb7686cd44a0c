package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("filemode", func(fl validator.FieldLevel) bool {
		_, err := ParseFileMode(fl.Field().String())
		return err == nil
	})
}

// ParseFileMode parses an octal permission string such as "0644".
func ParseFileMode(s string) (fs.FileMode, error) {
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid file mode %q: %w", s, err)
	}
	if n > 0o7777 {
		return 0, fmt.Errorf("invalid file mode %q: out of range", s)
	}
	return fs.FileMode(n), nil
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults; validation accepts
// both cases.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs validation that struct tags cannot express.
func validateCustomRules(cfg *Config) error {
	if cfg.Auth.Token == "" && cfg.Auth.TokenFile == "" {
		return errors.New("auth: one of token or token_file must be set")
	}

	if _, err := decodeLedgerOptions(&cfg.Ledger); err != nil {
		return fmt.Errorf("ledger.%s: %w", cfg.Ledger.Type, err)
	}

	if cfg.Archive.Enabled {
		if _, err := decodeS3Options(cfg.Archive.S3); err != nil {
			return fmt.Errorf("archive.s3: %w", err)
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
