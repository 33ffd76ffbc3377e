package config

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errs []error

	if err := validateServer(cfg.Server); err != nil {
		errs = append(errs, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errs = append(errs, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errs = append(errs, err)
	}

	if err := validateVerification(cfg.Verification); err != nil {
		errs = append(errs, err)
	}

	errs = append(errs, validateTemplates(cfg.Templates)...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}
	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.Type == "" {
		return &ValidationError{
			Field:   "broker.type",
			Message: "broker type is required",
		}
	}

	switch cfg.Type {
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 {
			return &ValidationError{
				Field:   "broker.kafka.brokers",
				Message: "at least one broker address is required",
			}
		}
		if cfg.Kafka.GroupID == "" {
			return &ValidationError{
				Field:   "broker.kafka.group_id",
				Message: "consumer group id is required",
			}
		}
		return nil
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s", cfg.Type),
		}
	}
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.MongoDB.URI == "" {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "lease store URI is required",
		}
	}
	return nil
}

// validateVerification enforces the mandatory address policy. An empty
// allow-list would let any recipient domain through, so it fails startup.
func validateVerification(cfg VerificationConfig) error {
	if len(cfg.AllowedDomainSuffixes) == 0 {
		return &ValidationError{
			Field:   "verification.allowed_domain_suffixes",
			Message: "at least one allowed recipient domain suffix is required",
		}
	}

	for _, suffix := range cfg.AllowedDomainSuffixes {
		if strings.TrimSpace(suffix) == "" {
			return &ValidationError{
				Field:   "verification.allowed_domain_suffixes",
				Message: "domain suffix must not be blank",
			}
		}
	}

	return nil
}

func validateTemplates(cfg TemplatesConfig) []error {
	var errs []error

	if len(cfg.Contracts) == 0 {
		errs = append(errs, &ValidationError{
			Field:   "templates.contracts",
			Message: "at least one template contract is required",
		})
		return errs
	}

	for kind, contract := range cfg.Contracts {
		if contract.TemplateID == "" {
			errs = append(errs, &ValidationError{
				Field:   fmt.Sprintf("templates.contracts.%s.template_id", kind),
				Message: "remote template id is required",
			})
		}

		required := make(map[string]struct{}, len(contract.Required))
		for _, f := range contract.Required {
			required[f] = struct{}{}
		}
		for _, f := range contract.Optional {
			if _, ok := required[f]; ok {
				errs = append(errs, &ValidationError{
					Field:   fmt.Sprintf("templates.contracts.%s", kind),
					Message: fmt.Sprintf("field %q is both required and optional", f),
				})
			}
		}
	}

	return errs
}
