package runtimeexec

import (
	"errors"
	"time"

	"github.com/animus-labs/animus-inspect/internal/platform/env"
)

type Config struct {
	InspectionNamespace string
	InfraNamespace      string
	Template            string
	HardwareTemplate    string
	TemplateCacheTTL    time.Duration
	ServiceAccount      string
}

func ConfigFromEnv() (Config, error) {
	ttl, err := env.Duration("INSPECTOR_TEMPLATE_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		InspectionNamespace: env.String("INSPECTOR_INSPECTION_NAMESPACE", ""),
		InfraNamespace:      env.String("INSPECTOR_INFRA_NAMESPACE", ""),
		Template:            env.String("INSPECTOR_WORKFLOW_TEMPLATE", "inspection"),
		HardwareTemplate:    env.String("INSPECTOR_WORKFLOW_TEMPLATE_HW", "inspection-hw"),
		TemplateCacheTTL:    ttl,
		ServiceAccount:      env.String("INSPECTOR_WORKFLOW_SERVICE_ACCOUNT", ""),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.InspectionNamespace == "" {
		return errors.New("INSPECTOR_INSPECTION_NAMESPACE is required")
	}
	if c.InfraNamespace == "" {
		return errors.New("INSPECTOR_INFRA_NAMESPACE is required")
	}
	if c.Template == "" || c.HardwareTemplate == "" {
		return errors.New("workflow template names are required")
	}
	if c.TemplateCacheTTL < 0 {
		return errors.New("INSPECTOR_TEMPLATE_CACHE_TTL must be >= 0")
	}
	return nil
}
